package ledger

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Address identifies a participant. Ethereum-style 0x addresses are
// lowercased; any other form (for example a Fabric client identity) is kept
// verbatim after trimming.
type Address string

const MaxAddressLength = 256

var hexAddressRegex = regexp.MustCompile(`^0[xX][0-9a-fA-F]{40}$`)

// ParseAddress validates and normalizes a participant identifier.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidInput)
	}
	if len(s) > MaxAddressLength {
		return "", fmt.Errorf("%w: address longer than %d bytes", ErrInvalidInput, MaxAddressLength)
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: address contains control characters", ErrInvalidInput)
		}
	}
	if hexAddressRegex.MatchString(s) {
		return Address("0x" + strings.ToLower(s[2:])), nil
	}
	return Address(s), nil
}

// Role is a participant capability class.
type Role uint8

const (
	RoleNone Role = iota
	RoleManufacturer
	RoleSupplier
	RoleDistributor
	RoleRetailer
	RoleInspector
)

var roleNames = [...]string{"None", "Manufacturer", "Supplier", "Distributor", "Retailer", "Inspector"}

func (r Role) Valid() bool {
	return r > RoleNone && r <= RoleInspector
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// ParseRole accepts a role name (case-insensitive) or its numeric value.
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(s)
	for i, name := range roleNames {
		if strings.EqualFold(s, name) || s == fmt.Sprint(i) {
			return Role(i), nil
		}
	}
	return RoleNone, fmt.Errorf("%w: unknown role %q", ErrInvalidRole, s)
}

func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var n uint8
	if err := json.Unmarshal(data, &n); err == nil {
		*r = Role(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: role must be a name or number", ErrInvalidInput)
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Status is the position of a batch in its custody lifecycle.
type Status uint8

const (
	StatusCreated Status = iota
	StatusInTransit
	StatusDelivered
	StatusVerified
	StatusRecalled
)

var statusNames = [...]string{"Created", "InTransit", "Delivered", "Verified", "Recalled"}

func (s Status) Valid() bool {
	return s <= StatusRecalled
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// ParseStatus accepts a status name (case-insensitive, "In Transit" allowed)
// or its numeric value.
func ParseStatus(s string) (Status, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	for i, name := range statusNames {
		if strings.EqualFold(s, name) || s == fmt.Sprint(i) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var n uint8
	if err := json.Unmarshal(data, &n); err == nil {
		if !Status(n).Valid() {
			return fmt.Errorf("%w: unknown status %d", ErrInvalidInput, n)
		}
		*s = Status(n)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("%w: status must be a name or number", ErrInvalidInput)
	}
	parsed, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Participant is a registry record. The zero value means "unregistered".
type Participant struct {
	Address      Address   `json:"address"`
	Role         Role      `json:"role"`
	HashedRating Digest    `json:"hashedRating"`
	IsActive     bool      `json:"isActive"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Checkpoint is one append-only custody record of a batch.
type Checkpoint struct {
	Handler         Address   `json:"handler"`
	HashedTimestamp Digest    `json:"hashedTimestamp"`
	HashedLocation  Digest    `json:"hashedLocation"`
	PublicNote      string    `json:"publicNote"`
	NewStatus       Status    `json:"newStatus"`
	RecordedAt      time.Time `json:"recordedAt"`
}

// ProductBatch is the full ledger record of a batch.
type ProductBatch struct {
	BatchID            uint64       `json:"batchId"`
	Manufacturer       Address      `json:"manufacturer"`
	HashedQuantity     Digest       `json:"hashedQuantity"`
	HashedQualityScore Digest       `json:"hashedQualityScore"`
	HashedPrice        Digest       `json:"hashedPrice"`
	Status             Status       `json:"status"`
	CreatedAt          time.Time    `json:"createdAt"`
	PublicMetadata     string       `json:"publicMetadata"`
	Checkpoints        []Checkpoint `json:"checkpoints"`
	VerifiedBy         Address      `json:"verifiedBy,omitempty"`
}

// BatchInfo is the public projection returned by GetBatchInfo.
type BatchInfo struct {
	BatchID         uint64    `json:"batchId"`
	Manufacturer    Address   `json:"manufacturer"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	PublicMetadata  string    `json:"publicMetadata"`
	CheckpointCount int       `json:"checkpointCount"`
}

// Commitment is the current commit-reveal slot of one committer on one batch.
type Commitment struct {
	BatchID        uint64    `json:"batchId"`
	Committer      Address   `json:"committer"`
	CommitmentHash Digest    `json:"commitmentHash"`
	Revealed       bool      `json:"revealed"`
	CommittedAt    time.Time `json:"committedAt"`
}

// Disclosure archives a successful reveal.
type Disclosure struct {
	Committer      Address   `json:"committer"`
	CommitmentHash Digest    `json:"commitmentHash"`
	Data           string    `json:"data"`
	Nonce          string    `json:"nonce"`
	RevealedAt     time.Time `json:"revealedAt"`
}

// BatchCommitments groups the private fields submitted at batch creation.
type BatchCommitments struct {
	HashedQuantity     Digest `json:"hashedQuantity"`
	HashedQualityScore Digest `json:"hashedQualityScore"`
	HashedPrice        Digest `json:"hashedPrice"`
}

// CheckpointInput is the payload of AddCheckpoint.
type CheckpointInput struct {
	HashedTimestamp Digest `json:"hashedTimestamp"`
	HashedLocation  Digest `json:"hashedLocation"`
	PublicNote      string `json:"publicNote"`
	NewStatus       Status `json:"newStatus"`
}

// Field length limits
const (
	MaxMetadataLength = 4096
	MaxNoteLength     = 1024
	MaxCertTypeLength = 128
)

func validateText(field, s string, maxLength int) error {
	if len(s) > maxLength {
		return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidInput, field, maxLength)
	}
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return fmt.Errorf("%w: %s contains control characters", ErrInvalidInput, field)
		}
	}
	return nil
}
