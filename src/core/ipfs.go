package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

var (
	ErrArchiveNotConfigured = errors.New("snapshot archive not configured")
	ErrInvalidCID           = errors.New("invalid CID format")
	ErrArchiveUnavailable   = errors.New("snapshot archive unavailable")
)

// maxArchivedSnapshotBytes bounds what Get will buffer.
const maxArchivedSnapshotBytes = 64 << 20

// SnapshotArchive is content-addressed storage for signed snapshots.
type SnapshotArchive interface {
	Pin(ctx context.Context, data []byte) (cid string, err error)
	Get(ctx context.Context, cid string) (data []byte, err error)
	IsAvailable(ctx context.Context) bool
}

// ArchiveSnapshot pins the JSON encoding of ss and returns its CID.
func ArchiveSnapshot(ctx context.Context, archive SnapshotArchive, ss *SignedSnapshot) (string, error) {
	data, err := json.Marshal(ss)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return archive.Pin(ctx, data)
}

// FetchSnapshot retrieves and decodes an archived snapshot. The caller is
// responsible for verifying its attestation.
func FetchSnapshot(ctx context.Context, archive SnapshotArchive, cid string) (*SignedSnapshot, error) {
	data, err := archive.Get(ctx, cid)
	if err != nil {
		return nil, err
	}
	var ss SignedSnapshot
	if err := json.Unmarshal(data, &ss); err != nil {
		return nil, fmt.Errorf("archived object %s is not a snapshot: %w", cid, err)
	}
	if ss.State == nil {
		return nil, fmt.Errorf("archived object %s has no ledger state", cid)
	}
	return &ss, nil
}

// KuboArchive talks to a Kubo-compatible IPFS HTTP API.
type KuboArchive struct {
	apiURL     string
	httpClient *http.Client
}

func NewKuboArchive(apiURL string, httpClient *http.Client) *KuboArchive {
	return &KuboArchive{
		apiURL:     strings.TrimSuffix(apiURL, "/"),
		httpClient: httpClient,
	}
}

type kuboAddResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Pin adds data through /api/v0/add with pinning enabled.
func (c *KuboArchive) Pin(ctx context.Context, data []byte) (string, error) {
	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	part, err := mw.CreateFormFile("file", stateFilename)
	if err == nil {
		_, err = part.Write(data)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return "", fmt.Errorf("failed to build add request: %w", err)
	}

	resp, err := c.post(ctx, "/api/v0/add?pin=true&cid-version=1", &form, mw.FormDataContentType())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var added kuboAddResponse
	if err := json.NewDecoder(resp.Body).Decode(&added); err != nil {
		return "", fmt.Errorf("malformed add response: %w", err)
	}
	if !IsValidCID(added.Hash) {
		return "", fmt.Errorf("%w: node returned %q", ErrInvalidCID, added.Hash)
	}
	return added.Hash, nil
}

// Get reads content through /api/v0/cat.
func (c *KuboArchive) Get(ctx context.Context, cid string) ([]byte, error) {
	if !IsValidCID(cid) {
		return nil, ErrInvalidCID
	}
	resp, err := c.post(ctx, "/api/v0/cat?arg="+url.QueryEscape(cid), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArchivedSnapshotBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	if len(data) > maxArchivedSnapshotBytes {
		return nil, fmt.Errorf("archived object %s exceeds %d bytes", cid, maxArchivedSnapshotBytes)
	}
	return data, nil
}

// IsAvailable checks /api/v0/id.
func (c *KuboArchive) IsAvailable(ctx context.Context) bool {
	if c.httpClient == nil || c.apiURL == "" {
		return false
	}
	resp, err := c.post(ctx, "/api/v0/id", nil, "")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// post issues a Kubo RPC call. Kubo accepts only POST on /api/v0.
func (c *KuboArchive) post(ctx context.Context, path string, body io.Reader, contentType string) (*http.Response, error) {
	if c.httpClient == nil {
		return nil, ErrArchiveNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d: %s", ErrArchiveUnavailable, resp.StatusCode, string(msg))
	}
	return resp, nil
}

// DisabledArchive is used when no archive is configured.
type DisabledArchive struct{}

func NewDisabledArchive() *DisabledArchive {
	return &DisabledArchive{}
}

func (c *DisabledArchive) Pin(ctx context.Context, data []byte) (string, error) {
	return "", ErrArchiveNotConfigured
}

func (c *DisabledArchive) Get(ctx context.Context, cid string) ([]byte, error) {
	return nil, ErrArchiveNotConfigured
}

func (c *DisabledArchive) IsAvailable(ctx context.Context) bool {
	return false
}

var (
	// CIDv0: "Qm" + 44 base58btc characters
	cidV0Regex = regexp.MustCompile(`^Qm[1-9A-HJ-NP-Za-km-z]{44}$`)
	// CIDv1: "b" multibase prefix + lowercase base32
	cidV1Regex = regexp.MustCompile(`^b[a-z2-7]{58,}$`)
)

// IsValidCID accepts CIDv0 and base32 CIDv1 strings.
func IsValidCID(cid string) bool {
	switch {
	case strings.HasPrefix(cid, "Qm"):
		return cidV0Regex.MatchString(cid)
	case strings.HasPrefix(cid, "b"):
		return cidV1Regex.MatchString(cid)
	}
	return false
}
