package client

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"time"

	"github.com/sealtrace/sealtrace/src/ledger"
)

// Request bodies

type RegisterParticipantRequest struct {
	Address          ledger.Address `json:"address"`
	Role             ledger.Role    `json:"role"`
	RatingCommitment ledger.Digest  `json:"ratingCommitment"`
}

type CreateBatchRequest struct {
	HashedQuantity     ledger.Digest `json:"hashedQuantity"`
	HashedQualityScore ledger.Digest `json:"hashedQualityScore"`
	HashedPrice        ledger.Digest `json:"hashedPrice"`
	PublicMetadata     string        `json:"publicMetadata"`
	Nonce              string        `json:"nonce,omitempty"`
}

type AddCheckpointRequest struct {
	HashedTimestamp ledger.Digest `json:"hashedTimestamp"`
	HashedLocation  ledger.Digest `json:"hashedLocation"`
	PublicNote      string        `json:"publicNote"`
	NewStatus       ledger.Status `json:"newStatus"`
	Nonce           string        `json:"nonce,omitempty"`
}

type IntegrityRequest struct {
	Data         string        `json:"data,omitempty"`
	Text         *string       `json:"text,omitempty"`
	Nonce        string        `json:"nonce"`
	ExpectedHash ledger.Digest `json:"expectedHash"`
}

type AddComponentRequest struct {
	ComponentCode ledger.Digest `json:"componentCode"`
	Percentage    ledger.Digest `json:"percentage"`
	Description   string        `json:"description"`
	Nonce         string        `json:"nonce,omitempty"`
}

type UpdateQualityMetricsRequest struct {
	Temperature ledger.Digest `json:"temperature"`
	Humidity    ledger.Digest `json:"humidity"`
	ShelfLife   ledger.Digest `json:"shelfLife"`
	TestResults ledger.Digest `json:"testResults"`
	Nonce       string        `json:"nonce,omitempty"`
}

type AddCertificationRequest struct {
	CertType   string        `json:"certType"`
	CertNumber ledger.Digest `json:"certNumber"`
	ExpiryDate ledger.Digest `json:"expiryDate"`
	Nonce      string        `json:"nonce,omitempty"`
}

type VerifyQualityDataRequest struct {
	Temperature string `json:"temperature"`
	Humidity    string `json:"humidity"`
	ShelfLife   string `json:"shelfLife"`
	Nonce       string `json:"nonce"`
}

type RegisterSupplierRequest struct {
	Supplier        ledger.Address `json:"supplier"`
	DeliveryScore   ledger.Digest  `json:"deliveryScore"`
	QualityScore    ledger.Digest  `json:"qualityScore"`
	ComplianceScore ledger.Digest  `json:"complianceScore"`
}

type CreateAgreementRequest struct {
	Supplier    ledger.Address `json:"supplier"`
	MinQuantity ledger.Digest  `json:"minQuantity"`
	MaxQuantity ledger.Digest  `json:"maxQuantity"`
	Price       ledger.Digest  `json:"price"`
	Discount    ledger.Digest  `json:"discount"`
	ValidDays   int            `json:"validDays"`
}

// Response bodies

type NodeInfo struct {
	NodeID           string         `json:"nodeId"`
	PublicKey        string         `json:"publicKey"`
	Version          string         `json:"version"`
	Admin            ledger.Address `json:"admin"`
	CommitmentScheme string         `json:"commitmentScheme"`
	NextBatchID      uint64         `json:"nextBatchId"`
	ParticipantCount int            `json:"participantCount"`
	LastEventSeq     uint64         `json:"lastEventSeq"`
	JournalEnabled   bool           `json:"journalEnabled"`
}

type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

type Page[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

type AccessResult struct {
	BatchID     uint64         `json:"batchId"`
	Participant ledger.Address `json:"participant"`
	HasAccess   bool           `json:"hasAccess"`
}

type AgreementView struct {
	Agreement ledger.Agreement `json:"agreement"`
	Valid     bool             `json:"valid"`
}

type TrackingView struct {
	Batch        ledger.BatchInfo    `json:"batch"`
	Checkpoints  []ledger.Checkpoint `json:"checkpoints"`
	Grantees     []ledger.Address    `json:"grantees"`
	Commitments  []ledger.Commitment `json:"commitments"`
	Disclosures  []ledger.Disclosure `json:"disclosures"`
	Traceability ledger.Traceability `json:"traceability"`
	VerifiedBy   ledger.Address      `json:"verifiedBy,omitempty"`
	History      []ledger.Event      `json:"history"`
}

type EventPage struct {
	Events       []ledger.Event `json:"events"`
	LastEventSeq uint64         `json:"lastEventSeq"`
}

type SnapshotAttestation struct {
	NodeID    string    `json:"nodeId"`
	PublicKey string    `json:"publicKey"`
	Digest    string    `json:"digest"`
	Signature string    `json:"signature"`
	CreatedAt time.Time `json:"createdAt"`
}

type SignedSnapshot struct {
	State       *ledger.State       `json:"state"`
	Attestation SnapshotAttestation `json:"attestation"`
}

func batchPath(id uint64, suffix string) string {
	return "/api/v1/batches/" + strconv.FormatUint(id, 10) + suffix
}

func nonceString(n *big.Int) string {
	if n == nil {
		return ""
	}
	return n.String()
}

// Node

func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.get(ctx, "/api/v1/health", &out)
	return out, err
}

func (c *Client) Info(ctx context.Context) (*NodeInfo, error) {
	var out NodeInfo
	if err := c.get(ctx, "/api/v1/info", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Participants

func (c *Client) RegisterParticipant(ctx context.Context, req RegisterParticipantRequest) (*ledger.Participant, error) {
	var out ledger.Participant
	if err := c.post(ctx, "/api/v1/participants", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetParticipant(ctx context.Context, addr ledger.Address) (*ledger.Participant, error) {
	var out ledger.Participant
	if err := c.get(ctx, "/api/v1/participants/"+url.PathEscape(string(addr)), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Batches

// CreateBatch returns the new batch id.
func (c *Client) CreateBatch(ctx context.Context, req CreateBatchRequest) (uint64, error) {
	var out struct {
		BatchID uint64 `json:"batchId"`
	}
	if err := c.post(ctx, "/api/v1/batches", req, &out); err != nil {
		return 0, err
	}
	return out.BatchID, nil
}

func (c *Client) GetBatch(ctx context.Context, id uint64) (*ledger.BatchInfo, error) {
	var out ledger.BatchInfo
	if err := c.get(ctx, batchPath(id, ""), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBatches lists batches, optionally only those of one manufacturer.
func (c *Client) ListBatches(ctx context.Context, manufacturer ledger.Address, limit, offset int) (*Page[ledger.BatchInfo], error) {
	q := url.Values{}
	if manufacturer != "" {
		q.Set("manufacturer", string(manufacturer))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/batches"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out Page[ledger.BatchInfo]
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddCheckpoint returns the index of the new checkpoint.
func (c *Client) AddCheckpoint(ctx context.Context, id uint64, req AddCheckpointRequest) (int, error) {
	var out struct {
		Index int `json:"index"`
	}
	if err := c.post(ctx, batchPath(id, "/checkpoints"), req, &out); err != nil {
		return 0, err
	}
	return out.Index, nil
}

func (c *Client) ListCheckpoints(ctx context.Context, id uint64) ([]ledger.Checkpoint, error) {
	var out Page[ledger.Checkpoint]
	if err := c.get(ctx, batchPath(id, "/checkpoints?limit=500"), &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) GetCheckpoint(ctx context.Context, id uint64, index int) (*ledger.Checkpoint, error) {
	var out ledger.Checkpoint
	if err := c.get(ctx, batchPath(id, "/checkpoints/"+strconv.Itoa(index)), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GrantAccess(ctx context.Context, id uint64, participant ledger.Address) error {
	return c.post(ctx, batchPath(id, "/access"), map[string]string{"participant": string(participant)}, nil)
}

func (c *Client) HasAccess(ctx context.Context, id uint64, participant ledger.Address) (bool, error) {
	var out AccessResult
	if err := c.get(ctx, batchPath(id, "/access/"+url.PathEscape(string(participant))), &out); err != nil {
		return false, err
	}
	return out.HasAccess, nil
}

func (c *Client) VerifyQuality(ctx context.Context, id uint64, newQualityScore ledger.Digest, nonce *big.Int) error {
	return c.post(ctx, batchPath(id, "/quality"), map[string]interface{}{
		"newQualityScore": newQualityScore,
		"nonce":           nonceString(nonce),
	}, nil)
}

func (c *Client) Track(ctx context.Context, id uint64) (*TrackingView, error) {
	var out TrackingView
	if err := c.get(ctx, batchPath(id, "/track"), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Commit-reveal

func (c *Client) CommitData(ctx context.Context, id uint64, commitment ledger.Digest) (*ledger.Commitment, error) {
	var out ledger.Commitment
	if err := c.post(ctx, batchPath(id, "/commitments"), map[string]ledger.Digest{"commitmentHash": commitment}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCommitment(ctx context.Context, id uint64, committer ledger.Address) (*ledger.Commitment, error) {
	var out ledger.Commitment
	if err := c.get(ctx, batchPath(id, "/commitments/"+url.PathEscape(string(committer))), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RevealData(ctx context.Context, id uint64, data, nonce *big.Int) error {
	if data == nil || nonce == nil {
		return fmt.Errorf("%w: data and nonce are required", ledger.ErrInvalidInput)
	}
	return c.post(ctx, batchPath(id, "/reveal"), map[string]string{
		"data":  data.String(),
		"nonce": nonce.String(),
	}, nil)
}

// VerifyIntegrity asks the node to recompute a commitment. It records
// nothing.
func (c *Client) VerifyIntegrity(ctx context.Context, id uint64, req IntegrityRequest) (bool, error) {
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := c.post(ctx, batchPath(id, "/integrity"), req, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

func (c *Client) ListDisclosures(ctx context.Context, id uint64) ([]ledger.Disclosure, error) {
	var out []ledger.Disclosure
	err := c.get(ctx, batchPath(id, "/disclosures"), &out)
	return out, err
}

// Traceability

func (c *Client) AddComponent(ctx context.Context, id uint64, req AddComponentRequest) (int, error) {
	var out struct {
		Index int `json:"index"`
	}
	if err := c.post(ctx, batchPath(id, "/components"), req, &out); err != nil {
		return 0, err
	}
	return out.Index, nil
}

func (c *Client) UpdateQualityMetrics(ctx context.Context, id uint64, req UpdateQualityMetricsRequest) error {
	return c.post(ctx, batchPath(id, "/quality-metrics"), req, nil)
}

func (c *Client) VerifyQualityData(ctx context.Context, id uint64, req VerifyQualityDataRequest) (*ledger.QualityCheck, error) {
	var out ledger.QualityCheck
	if err := c.post(ctx, batchPath(id, "/quality-metrics/verify"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddCertification(ctx context.Context, id uint64, req AddCertificationRequest) error {
	return c.post(ctx, batchPath(id, "/certifications"), req, nil)
}

func (c *Client) SubmitFeedback(ctx context.Context, id uint64, rating ledger.Digest, nonce *big.Int) error {
	return c.post(ctx, batchPath(id, "/feedback"), map[string]interface{}{
		"rating": rating,
		"nonce":  nonceString(nonce),
	}, nil)
}

func (c *Client) GetTraceability(ctx context.Context, id uint64) (*ledger.Traceability, error) {
	var out ledger.Traceability
	if err := c.get(ctx, batchPath(id, "/traceability"), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Suppliers

func (c *Client) RegisterSupplier(ctx context.Context, req RegisterSupplierRequest) (*ledger.SupplierProfile, error) {
	var out ledger.SupplierProfile
	if err := c.post(ctx, "/api/v1/suppliers", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetSupplier(ctx context.Context, supplier ledger.Address) (*ledger.SupplierProfile, error) {
	var out ledger.SupplierProfile
	if err := c.get(ctx, "/api/v1/suppliers/"+url.PathEscape(string(supplier)), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateAgreement(ctx context.Context, req CreateAgreementRequest) (*AgreementView, error) {
	var out AgreementView
	if err := c.post(ctx, "/api/v1/agreements", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetAgreement(ctx context.Context, supplier, manufacturer ledger.Address) (*AgreementView, error) {
	var out AgreementView
	path := "/api/v1/agreements/" + url.PathEscape(string(supplier)) + "/" + url.PathEscape(string(manufacturer))
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events and snapshots

// Events returns up to limit events with sequence numbers above since.
func (c *Client) Events(ctx context.Context, since uint64, limit int) (*EventPage, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatUint(since, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out EventPage
	if err := c.get(ctx, "/api/v1/events?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Snapshot(ctx context.Context) (*SignedSnapshot, error) {
	var out SignedSnapshot
	if err := c.get(ctx, "/api/v1/snapshot", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
