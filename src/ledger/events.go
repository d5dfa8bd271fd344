package ledger

import "time"

// EventKind names an observable state change.
type EventKind string

const (
	EventParticipantRegistered EventKind = "ParticipantRegistered"
	EventProductBatchCreated   EventKind = "ProductBatchCreated"
	EventCheckpointAdded       EventKind = "CheckpointAdded"
	EventAccessGranted         EventKind = "AccessGranted"
	EventQualityVerified       EventKind = "QualityVerified"
	EventDataCommitted         EventKind = "DataCommitted"
	EventDataRevealed          EventKind = "DataRevealed"
	EventComponentAdded        EventKind = "ComponentAdded"
	EventQualityUpdated        EventKind = "QualityUpdated"
	EventCertificationAdded    EventKind = "CertificationAdded"
	EventFeedbackSubmitted     EventKind = "FeedbackSubmitted"
	EventSupplierVerified      EventKind = "SupplierVerified"
	EventAgreementCreated      EventKind = "AgreementCreated"
)

// Event is emitted once per successful mutating operation. Only
// DataRevealed events carry plaintext, in Data.
type Event struct {
	Seq          uint64    `json:"seq"`
	Kind         EventKind `json:"kind"`
	BatchID      uint64    `json:"batchId,omitempty"`
	Participant  Address   `json:"participant,omitempty"`
	Counterparty Address   `json:"counterparty,omitempty"`
	Role         *Role     `json:"role,omitempty"`
	Status       *Status   `json:"status,omitempty"`
	Index        *int      `json:"index,omitempty"`
	Label        string    `json:"label,omitempty"`
	Data         string    `json:"data,omitempty"`
	At           time.Time `json:"at"`
}

// EventSink receives events after the emitting operation has committed.
// Publish must not block for long; sinks that do I/O should buffer.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Publish(e Event) { f(e) }
