package ledger

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"
	"testing"
)

func TestKeccakCommitmentMatchesPackedEncoding(t *testing.T) {
	// keccak256(abi.encodePacked(uint256(0), uint256(0)))
	const want = "0xad3228b676f7d3cd4284a5443f17f1962b36e491b30a40b2405849e597ba5fb5"

	got, err := Commit(big.NewInt(0), big.NewInt(0))
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if got.Hex() != want {
		t.Errorf("Expected %s, got %s", want, got.Hex())
	}
}

func TestCommitmentBinding(t *testing.T) {
	schemes := []CommitmentScheme{Keccak256Scheme{}, SHA256Scheme{}, MiMCScheme{}}
	for _, s := range schemes {
		t.Run(s.Name(), func(t *testing.T) {
			value, nonce := big.NewInt(42), big.NewInt(7)
			h, err := CommitValue(s, value, nonce)
			if err != nil {
				t.Fatalf("CommitValue failed: %v", err)
			}
			if !VerifyCommitment(s, value, nonce, h) {
				t.Error("Expected commitment to verify")
			}
			if VerifyCommitment(s, big.NewInt(43), nonce, h) {
				t.Error("Expected altered value to fail verification")
			}
			if VerifyCommitment(s, value, big.NewInt(8), h) {
				t.Error("Expected altered nonce to fail verification")
			}

			again, _ := CommitValue(s, value, nonce)
			if again != h {
				t.Error("Expected commitment to be deterministic")
			}
			other, _ := CommitValue(s, value, big.NewInt(9))
			if other == h {
				t.Error("Expected different nonces to produce unlinkable commitments")
			}
		})
	}
}

func TestSchemesDiffer(t *testing.T) {
	v, n := big.NewInt(1), big.NewInt(2)
	k, _ := CommitValue(Keccak256Scheme{}, v, n)
	s, _ := CommitValue(SHA256Scheme{}, v, n)
	m, _ := CommitValue(MiMCScheme{}, v, n)
	if k == s || k == m || s == m {
		t.Errorf("Expected distinct digests per scheme, got %s %s %s", k, s, m)
	}
}

func TestMiMCSeparatesParts(t *testing.T) {
	var s MiMCScheme
	a := s.Sum([]byte("ab"), []byte("c"))
	b := s.Sum([]byte("a"), []byte("bc"))
	if a == b {
		t.Error("Expected part boundaries to affect the MiMC digest")
	}
	long := s.Sum([]byte(strings.Repeat("x", 100)))
	if long.IsZero() {
		t.Error("Expected non-zero digest for multi-chunk input")
	}
}

func TestTextCommitment(t *testing.T) {
	nonce := big.NewInt(99)
	h, err := CommitText(DefaultScheme, "Warehouse 7, Rotterdam", nonce)
	if err != nil {
		t.Fatalf("CommitText failed: %v", err)
	}
	if !VerifyTextCommitment(DefaultScheme, "Warehouse 7, Rotterdam", nonce, h) {
		t.Error("Expected text commitment to verify")
	}
	if VerifyTextCommitment(DefaultScheme, "Warehouse 8, Rotterdam", nonce, h) {
		t.Error("Expected altered text to fail verification")
	}
}

func TestCommitRejectsOutOfRange(t *testing.T) {
	tooWide := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := Commit(tooWide, big.NewInt(1)); !isInvalidInput(err) {
		t.Errorf("Expected InvalidInput for 2^256, got %v", err)
	}
	if _, err := Commit(big.NewInt(-1), big.NewInt(1)); !isInvalidInput(err) {
		t.Errorf("Expected InvalidInput for negative value, got %v", err)
	}
	if _, err := Commit(big.NewInt(1), nil); !isInvalidInput(err) {
		t.Errorf("Expected InvalidInput for nil nonce, got %v", err)
	}
	if VerifyCommitment(DefaultScheme, tooWide, big.NewInt(1), Digest{}) {
		t.Error("Expected verification of out-of-range value to fail")
	}
}

func isInvalidInput(err error) bool {
	return KindOf(err) == "InvalidInput"
}

func TestParseUint256(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"42", "42", false},
		{" 0x2a ", "42", false},
		{"0X2A", "42", false},
		{"0", "0", false},
		{"-1", "", true},
		{"abc", "", true},
		{"", "", true},
		{"0x1" + strings.Repeat("0", 64), "", true},
		{"115792089237316195423570985008687907853269984665640564039457584007913129639935", "115792089237316195423570985008687907853269984665640564039457584007913129639935", false},
	}
	for _, tt := range tests {
		got, err := ParseUint256(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseUint256(%q): expected error, got %s", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseUint256(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseUint256(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestDigestText(t *testing.T) {
	d := CommitUint64(1, 2)
	parsed, err := ParseDigest(d.Hex())
	if err != nil {
		t.Fatalf("ParseDigest failed: %v", err)
	}
	if parsed != d {
		t.Errorf("Expected %s, got %s", d, parsed)
	}
	bare, err := ParseDigest(hex.EncodeToString(d[:]))
	if err != nil || bare != d {
		t.Errorf("Expected unprefixed hex to parse, got %s, %v", bare, err)
	}
	if _, err := ParseDigest("0x1234"); err == nil {
		t.Error("Expected short digest to be rejected")
	}

	var wrapped struct {
		H Digest `json:"h"`
	}
	if err := json.Unmarshal([]byte(`{"h":"`+d.Hex()+`"}`), &wrapped); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if wrapped.H != d {
		t.Errorf("Expected %s after JSON decode, got %s", d, wrapped.H)
	}
}

func TestNewNonce(t *testing.T) {
	a, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce failed: %v", err)
	}
	b, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce failed: %v", err)
	}
	if a.Cmp(b) == 0 {
		t.Error("Expected two random nonces to differ")
	}
	if err := checkUint256(a); err != nil {
		t.Errorf("Expected nonce within uint256 range: %v", err)
	}
}

func TestSchemeByName(t *testing.T) {
	for name, want := range map[string]string{
		"":          SchemeKeccak256,
		"keccak256": SchemeKeccak256,
		"sha256":    SchemeSHA256,
		"mimc":      SchemeMiMC,
	} {
		s, err := SchemeByName(name)
		if err != nil {
			t.Errorf("SchemeByName(%q) failed: %v", name, err)
			continue
		}
		if s.Name() != want {
			t.Errorf("SchemeByName(%q): expected %s, got %s", name, want, s.Name())
		}
	}
	if _, err := SchemeByName("md5"); err == nil {
		t.Error("Expected unknown scheme to be rejected")
	}
}
