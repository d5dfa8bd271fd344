package ledger

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr/mimc"
	"golang.org/x/crypto/sha3"
)

// Digest is a 32-byte commitment hash.
type Digest [32]byte

func (d Digest) Hex() string {
	return "0x" + hex.EncodeToString(d[:])
}

func (d Digest) String() string {
	return d.Hex()
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest parses 64 hex characters with an optional 0x prefix.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(s) != 64 {
		return d, fmt.Errorf("%w: digest must be 32 bytes of hex", ErrInvalidInput)
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("%w: digest is not hex: %v", ErrInvalidInput, err)
	}
	return d, nil
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ParseUint256 parses a decimal or 0x-prefixed hex unsigned 256-bit integer.
func ParseUint256(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	var v *big.Int
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, ok = new(big.Int).SetString(s[2:], 16)
	} else {
		v, ok = new(big.Int).SetString(s, 10)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an unsigned integer", ErrInvalidInput, s)
	}
	if err := checkUint256(v); err != nil {
		return nil, err
	}
	return v, nil
}

func checkUint256(v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%w: missing value", ErrInvalidInput)
	}
	if v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
		return fmt.Errorf("%w: value outside uint256 range", ErrInvalidInput)
	}
	return nil
}

// word is the 32-byte big-endian encoding of a uint256.
func word(v *big.Int) ([]byte, error) {
	if err := checkUint256(v); err != nil {
		return nil, err
	}
	return v.FillBytes(make([]byte, 32)), nil
}

// CommitmentScheme is a deterministic hash over an ordered list of byte
// strings. Implementations must be safe for concurrent use.
type CommitmentScheme interface {
	Name() string
	Sum(parts ...[]byte) Digest
}

const (
	SchemeKeccak256 = "keccak256"
	SchemeSHA256    = "sha256"
	SchemeMiMC      = "mimc"
)

// DefaultScheme matches the packed keccak256(value, nonce) encoding used by
// EVM deployments of the supply-chain contract.
var DefaultScheme CommitmentScheme = Keccak256Scheme{}

// SchemeByName returns the commitment scheme registered under name.
func SchemeByName(name string) (CommitmentScheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", SchemeKeccak256, "keccak":
		return Keccak256Scheme{}, nil
	case SchemeSHA256, "sha-256":
		return SHA256Scheme{}, nil
	case SchemeMiMC:
		return MiMCScheme{}, nil
	}
	return nil, fmt.Errorf("%w: unknown commitment scheme %q", ErrInvalidInput, name)
}

// Keccak256Scheme hashes the plain concatenation of its parts.
type Keccak256Scheme struct{}

func (Keccak256Scheme) Name() string { return SchemeKeccak256 }

func (Keccak256Scheme) Sum(parts ...[]byte) Digest {
	return sumConcat(sha3.NewLegacyKeccak256(), parts)
}

// SHA256Scheme hashes the plain concatenation of its parts.
type SHA256Scheme struct{}

func (SHA256Scheme) Name() string { return SchemeSHA256 }

func (SHA256Scheme) Sum(parts ...[]byte) Digest {
	return sumConcat(sha256.New(), parts)
}

func sumConcat(h hash.Hash, parts [][]byte) Digest {
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// MiMCScheme absorbs each part as a length element followed by 31-byte
// chunks over the BLS12-377 scalar field, so every chunk is a canonical field
// element and the encoding stays injective.
type MiMCScheme struct{}

func (MiMCScheme) Name() string { return SchemeMiMC }

const mimcChunkSize = fr.Bytes - 1

func (MiMCScheme) Sum(parts ...[]byte) Digest {
	h := mimc.NewMiMC()
	var length [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(length[:], uint64(len(p)))
		writeFieldElement(h, length[:])
		for len(p) > 0 {
			n := min(mimcChunkSize, len(p))
			writeFieldElement(h, p[:n])
			p = p[n:]
		}
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

func writeFieldElement(h hash.Hash, chunk []byte) {
	var e fr.Element
	e.SetBytes(chunk)
	b := e.Bytes()
	h.Write(b[:])
}

// CommitValue computes the commitment to a uint256 value under nonce.
func CommitValue(s CommitmentScheme, value, nonce *big.Int) (Digest, error) {
	v, err := word(value)
	if err != nil {
		return Digest{}, err
	}
	n, err := word(nonce)
	if err != nil {
		return Digest{}, err
	}
	return s.Sum(v, n), nil
}

// CommitText computes the commitment to a UTF-8 string (locations, notes)
// under nonce.
func CommitText(s CommitmentScheme, text string, nonce *big.Int) (Digest, error) {
	n, err := word(nonce)
	if err != nil {
		return Digest{}, err
	}
	return s.Sum([]byte(text), n), nil
}

// Commit is CommitValue under DefaultScheme.
func Commit(value, nonce *big.Int) (Digest, error) {
	return CommitValue(DefaultScheme, value, nonce)
}

// CommitUint64 is Commit for small values; it cannot fail.
func CommitUint64(value, nonce uint64) Digest {
	d, _ := Commit(new(big.Int).SetUint64(value), new(big.Int).SetUint64(nonce))
	return d
}

// VerifyCommitment reports whether expected commits to value under nonce.
func VerifyCommitment(s CommitmentScheme, value, nonce *big.Int, expected Digest) bool {
	got, err := CommitValue(s, value, nonce)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got[:], expected[:]) == 1
}

// VerifyTextCommitment is VerifyCommitment for string values.
func VerifyTextCommitment(s CommitmentScheme, text string, nonce *big.Int, expected Digest) bool {
	got, err := CommitText(s, text, nonce)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got[:], expected[:]) == 1
}

// NewNonce returns a uniformly random 256-bit nonce. Callers should use it
// instead of clock-derived values, which are guessable and let an observer
// brute-force small committed values.
func NewNonce() (*big.Int, error) {
	n, err := rand.Int(rand.Reader, new(big.Int).Add(maxUint256, big.NewInt(1)))
	if err != nil {
		return nil, fmt.Errorf("failed to read random nonce: %w", err)
	}
	return n, nil
}
