package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/sealtrace/sealtrace/src/ledger"
)

// SnapshotAttestation binds a ledger snapshot to the node that produced it.
type SnapshotAttestation struct {
	NodeID    string    `json:"nodeId"`
	PublicKey string    `json:"publicKey"`
	Digest    string    `json:"digest"`
	Signature string    `json:"signature"`
	CreatedAt time.Time `json:"createdAt"`
}

// SignedSnapshot is the on-disk and API form of a ledger snapshot.
type SignedSnapshot struct {
	State       *ledger.State       `json:"state"`
	Attestation SnapshotAttestation `json:"attestation"`
}

var ErrSnapshotTampered = errors.New("snapshot digest or signature mismatch")

// nodeIDFromKey derives the short node id from a public key.
func nodeIDFromKey(pub *ecdsa.PublicKey) string {
	publicKeyBytes := elliptic.Marshal(pub.Curve, pub.X, pub.Y)
	return fmt.Sprintf("%x", sha256.Sum256(publicKeyBytes))[:16]
}

// stateDigest hashes the JSON encoding of a snapshot. Snapshots are sorted, so
// equal states give equal digests.
func stateDigest(st *ledger.State) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// SignData signs data with the node's private key
func (node *SealNode) SignData(data []byte) ([]byte, error) {
	hash := sha256.Sum256(data)

	r, s, err := ecdsa.Sign(rand.Reader, node.PrivateKey, hash[:])
	if err != nil {
		return nil, err
	}

	// r || s, each left-padded to 32 bytes
	signature := make([]byte, 64)
	r.FillBytes(signature[:32])
	s.FillBytes(signature[32:])
	return signature, nil
}

// GetPublicKeyHex returns the hex-encoded public key in uncompressed format
func (node *SealNode) GetPublicKeyHex() string {
	publicKeyBytes := elliptic.Marshal(node.PublicKey.Curve, node.PublicKey.X, node.PublicKey.Y)
	return hex.EncodeToString(publicKeyBytes)
}

// SignSnapshot attests st with the node key.
func (node *SealNode) SignSnapshot(st *ledger.State) (*SignedSnapshot, error) {
	digest, err := stateDigest(st)
	if err != nil {
		return nil, err
	}
	sig, err := node.SignData(digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign snapshot: %w", err)
	}
	return &SignedSnapshot{
		State: st,
		Attestation: SnapshotAttestation{
			NodeID:    node.NodeID,
			PublicKey: node.GetPublicKeyHex(),
			Digest:    hex.EncodeToString(digest),
			Signature: hex.EncodeToString(sig),
			CreatedAt: time.Now().UTC(),
		},
	}, nil
}

// VerifySnapshot checks that the attestation matches the state it carries.
// A non-empty expectedKey additionally pins the signer.
func VerifySnapshot(ss *SignedSnapshot, expectedKey string) error {
	if ss == nil || ss.State == nil {
		return fmt.Errorf("%w: empty snapshot", ErrSnapshotTampered)
	}
	if expectedKey != "" && ss.Attestation.PublicKey != expectedKey {
		return fmt.Errorf("%w: signed by %s", ErrSnapshotTampered, ss.Attestation.NodeID)
	}
	digest, err := stateDigest(ss.State)
	if err != nil {
		return err
	}
	if hex.EncodeToString(digest) != ss.Attestation.Digest {
		return fmt.Errorf("%w: digest", ErrSnapshotTampered)
	}
	if !VerifySignature(ss.Attestation.PublicKey, digest, ss.Attestation.Signature) {
		return fmt.Errorf("%w: signature", ErrSnapshotTampered)
	}
	return nil
}

// VerifySignature verifies an ECDSA P-256 signature.
// publicKeyHex is the uncompressed point (0x04 || X || Y), signatureHex is
// r || s with each half padded to 32 bytes.
func VerifySignature(publicKeyHex string, data []byte, signatureHex string) bool {
	if publicKeyHex == "" || signatureHex == "" {
		return false
	}

	publicKeyBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false
	}
	x, y := elliptic.Unmarshal(elliptic.P256(), publicKeyBytes)
	if x == nil {
		return false
	}
	publicKey := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}

	signatureBytes, err := hex.DecodeString(signatureHex)
	if err != nil || len(signatureBytes) != 64 {
		return false
	}
	r := new(big.Int).SetBytes(signatureBytes[:32])
	s := new(big.Int).SetBytes(signatureBytes[32:])

	hash := sha256.Sum256(data)
	return ecdsa.Verify(publicKey, hash[:], r, s)
}
