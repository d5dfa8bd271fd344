package main

import (
	"time"

	"github.com/sealtrace/sealtrace/src/ledger"
)

// Request bodies. Digests travel as 0x-prefixed hex, values and nonces as
// decimal strings so they keep full uint256 range. An empty nonce disables
// the operation replay guard.

type RegisterParticipantRequest struct {
	Address          string        `json:"address"`
	Role             ledger.Role   `json:"role"`
	RatingCommitment ledger.Digest `json:"ratingCommitment"`
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

type GrantAccessRequest struct {
	Participant string `json:"participant"`
}

type VerifyQualityRequest struct {
	NewQualityScore ledger.Digest `json:"newQualityScore"`
	Nonce           string        `json:"nonce,omitempty"`
}

type CommitDataRequest struct {
	CommitmentHash ledger.Digest `json:"commitmentHash"`
}

type RevealDataRequest struct {
	Data  string `json:"data"`
	Nonce string `json:"nonce"`
}

// IntegrityRequest checks a claimed (value, nonce) pair against a hash. Text
// selects the text encoding used for locations.
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

type SubmitFeedbackRequest struct {
	Rating ledger.Digest `json:"rating"`
	Nonce  string        `json:"nonce,omitempty"`
}

type VerifyQualityDataRequest struct {
	Temperature string `json:"temperature"`
	Humidity    string `json:"humidity"`
	ShelfLife   string `json:"shelfLife"`
	Nonce       string `json:"nonce"`
}

type RegisterSupplierRequest struct {
	Supplier        string        `json:"supplier"`
	DeliveryScore   ledger.Digest `json:"deliveryScore"`
	QualityScore    ledger.Digest `json:"qualityScore"`
	ComplianceScore ledger.Digest `json:"complianceScore"`
}

type CreateAgreementRequest struct {
	Supplier    string        `json:"supplier"`
	MinQuantity ledger.Digest `json:"minQuantity"`
	MaxQuantity ledger.Digest `json:"maxQuantity"`
	Price       ledger.Digest `json:"price"`
	Discount    ledger.Digest `json:"discount"`
	ValidDays   int           `json:"validDays"`
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
	LastSnapshot     SnapshotStatus `json:"lastSnapshot"`
}

// SnapshotStatus describes the most recent snapshot attempt.
type SnapshotStatus struct {
	At         time.Time `json:"at,omitempty"`
	Digest     string    `json:"digest,omitempty"`
	ArchiveCID string    `json:"archiveCid,omitempty"`
	Error      string    `json:"error,omitempty"`
}

type AgreementView struct {
	Agreement ledger.Agreement `json:"agreement"`
	Valid     bool             `json:"valid"`
}

type IntegrityResult struct {
	Valid bool `json:"valid"`
}

type AccessResult struct {
	BatchID     uint64         `json:"batchId"`
	Participant ledger.Address `json:"participant"`
	HasAccess   bool           `json:"hasAccess"`
}

// TrackingView is everything public about one batch, assembled for
// consumers following a product through the chain.
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

// PaginatedResponse wraps list results.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

type PaginationMeta struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}
