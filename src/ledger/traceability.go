package ledger

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Component is one ingredient or part of a batch. Code and share are
// committed; the description is public.
type Component struct {
	Supplier      Address   `json:"supplier"`
	ComponentCode Digest    `json:"componentCode"`
	Percentage    Digest    `json:"percentage"`
	Description   string    `json:"description"`
	AddedAt       time.Time `json:"addedAt"`
}

// QualityMetrics holds the latest committed environmental readings of a
// batch.
type QualityMetrics struct {
	Temperature Digest    `json:"temperature"`
	Humidity    Digest    `json:"humidity"`
	ShelfLife   Digest    `json:"shelfLife"`
	TestResults Digest    `json:"testResults"`
	UpdatedBy   Address   `json:"updatedBy"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Certification is a certificate attached to a batch. The type is public,
// number and expiry are committed.
type Certification struct {
	CertType   string    `json:"certType"`
	CertNumber Digest    `json:"certNumber"`
	ExpiryDate Digest    `json:"expiryDate"`
	Certifier  Address   `json:"certifier"`
	AddedAt    time.Time `json:"addedAt"`
}

// Feedback is a committed rating, at most one per participant and batch.
type Feedback struct {
	Submitter   Address   `json:"submitter"`
	Rating      Digest    `json:"rating"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Traceability is the provenance data owned by a batch.
type Traceability struct {
	Components     []Component     `json:"components"`
	Metrics        *QualityMetrics `json:"metrics,omitempty"`
	Certifications []Certification `json:"certifications"`
	Feedback       []Feedback      `json:"feedback"`
}

func (t Traceability) clone() Traceability {
	out := Traceability{
		Components:     append([]Component{}, t.Components...),
		Certifications: append([]Certification{}, t.Certifications...),
		Feedback:       append([]Feedback{}, t.Feedback...),
	}
	if t.Metrics != nil {
		m := *t.Metrics
		out.Metrics = &m
	}
	return out
}

// ComponentInput is the payload of AddComponent.
type ComponentInput struct {
	ComponentCode Digest `json:"componentCode"`
	Percentage    Digest `json:"percentage"`
	Description   string `json:"description"`
}

// QualityMetricsInput is the payload of UpdateQualityMetrics.
type QualityMetricsInput struct {
	Temperature Digest `json:"temperature"`
	Humidity    Digest `json:"humidity"`
	ShelfLife   Digest `json:"shelfLife"`
	TestResults Digest `json:"testResults"`
}

// CertificationInput is the payload of AddCertification.
type CertificationInput struct {
	CertType   string `json:"certType"`
	CertNumber Digest `json:"certNumber"`
	ExpiryDate Digest `json:"expiryDate"`
}

// traceWrite runs the shared prologue of every traceability write: batch
// lookup, caller registration, access check under the batch lock, the
// operation-specific rule, and the nonce claim. apply runs only when all of
// them pass, with rec.mu held.
func (e *Engine) traceWrite(op string, caller Address, batchID uint64, nonce *big.Int,
	authorize func(rec *batchRecord, p Participant) error,
	rule func(rec *batchRecord) error,
	apply func(rec *batchRecord)) error {

	rec, err := e.lookupBatch(batchID)
	if err != nil {
		return e.reject(op, caller, batchID, err)
	}
	p, err := e.requireActive(caller)
	if err != nil {
		return e.reject(op, caller, batchID, err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := authorize(rec, p); err != nil {
		return e.reject(op, caller, batchID, err)
	}
	if rule != nil {
		if err := rule(rec); err != nil {
			return e.reject(op, caller, batchID, err)
		}
	}
	fp, guarded, err := e.checkNonce(caller, nonce)
	if err != nil {
		return e.reject(op, caller, batchID, err)
	}
	if err := e.claimNonce(fp, guarded); err != nil {
		return e.reject(op, caller, batchID, err)
	}
	apply(rec)
	return nil
}

func (e *Engine) requireAccess(caller Address) func(*batchRecord, Participant) error {
	return func(rec *batchRecord, _ Participant) error {
		if !e.hasAccessLocked(rec, caller) {
			return fmt.Errorf("%w: %s has no access to batch %d", ErrNotAuthorized, caller, rec.batch.BatchID)
		}
		return nil
	}
}

// AddComponent appends a component to the batch and returns its index.
func (e *Engine) AddComponent(caller Address, batchID uint64, in ComponentInput, nonce *big.Int) (int, error) {
	defer e.mutation()()
	caller = canon(caller)
	if err := validateText("description", in.Description, MaxNoteLength); err != nil {
		return 0, e.reject("addComponent", caller, batchID, err)
	}
	index := -1
	err := e.traceWrite("addComponent", caller, batchID, nonce, e.requireAccess(caller), nil,
		func(rec *batchRecord) {
			c := Component{
				Supplier:      caller,
				ComponentCode: in.ComponentCode,
				Percentage:    in.Percentage,
				Description:   in.Description,
				AddedAt:       e.now(),
			}
			rec.trace.Components = append(rec.trace.Components, c)
			index = len(rec.trace.Components) - 1
			e.emit(Event{
				Kind:        EventComponentAdded,
				BatchID:     batchID,
				Participant: caller,
				Index:       ptr(index),
				At:          c.AddedAt,
			})
		})
	if err != nil {
		return 0, err
	}
	return index, nil
}

// UpdateQualityMetrics replaces the batch's committed quality metrics.
func (e *Engine) UpdateQualityMetrics(caller Address, batchID uint64, in QualityMetricsInput, nonce *big.Int) error {
	defer e.mutation()()
	caller = canon(caller)
	return e.traceWrite("updateQualityMetrics", caller, batchID, nonce, e.requireAccess(caller), nil,
		func(rec *batchRecord) {
			rec.trace.Metrics = &QualityMetrics{
				Temperature: in.Temperature,
				Humidity:    in.Humidity,
				ShelfLife:   in.ShelfLife,
				TestResults: in.TestResults,
				UpdatedBy:   caller,
				LastUpdated: e.now(),
			}
			e.emit(Event{
				Kind:        EventQualityUpdated,
				BatchID:     batchID,
				Participant: caller,
				At:          rec.trace.Metrics.LastUpdated,
			})
		})
}

// AddCertification attaches a certificate. Only an Inspector or the batch's
// manufacturer may certify.
func (e *Engine) AddCertification(caller Address, batchID uint64, in CertificationInput, nonce *big.Int) error {
	defer e.mutation()()
	caller = canon(caller)
	in.CertType = strings.TrimSpace(in.CertType)
	if in.CertType == "" {
		return e.reject("addCertification", caller, batchID, fmt.Errorf("%w: certType is required", ErrInvalidInput))
	}
	if err := validateText("certType", in.CertType, MaxCertTypeLength); err != nil {
		return e.reject("addCertification", caller, batchID, err)
	}
	authorize := func(rec *batchRecord, p Participant) error {
		if p.Role != RoleInspector && caller != rec.batch.Manufacturer {
			return fmt.Errorf("%w: only an inspector or the manufacturer can certify batch %d", ErrNotAuthorized, batchID)
		}
		return nil
	}
	return e.traceWrite("addCertification", caller, batchID, nonce, authorize, nil,
		func(rec *batchRecord) {
			c := Certification{
				CertType:   in.CertType,
				CertNumber: in.CertNumber,
				ExpiryDate: in.ExpiryDate,
				Certifier:  caller,
				AddedAt:    e.now(),
			}
			rec.trace.Certifications = append(rec.trace.Certifications, c)
			e.emit(Event{
				Kind:        EventCertificationAdded,
				BatchID:     batchID,
				Participant: caller,
				Label:       c.CertType,
				At:          c.AddedAt,
			})
		})
}

// SubmitFeedback records the caller's committed rating of a batch.
func (e *Engine) SubmitFeedback(caller Address, batchID uint64, rating Digest, nonce *big.Int) error {
	defer e.mutation()()
	caller = canon(caller)
	once := func(rec *batchRecord) error {
		for _, f := range rec.trace.Feedback {
			if f.Submitter == caller {
				return fmt.Errorf("%w: %s already rated batch %d", ErrAlreadySubmitted, caller, batchID)
			}
		}
		return nil
	}
	return e.traceWrite("submitFeedback", caller, batchID, nonce, e.requireAccess(caller), once,
		func(rec *batchRecord) {
			f := Feedback{Submitter: caller, Rating: rating, SubmittedAt: e.now()}
			rec.trace.Feedback = append(rec.trace.Feedback, f)
			e.emit(Event{
				Kind:        EventFeedbackSubmitted,
				BatchID:     batchID,
				Participant: caller,
				At:          f.SubmittedAt,
			})
		})
}

// GetTraceability returns a copy of the batch's provenance data.
func (e *Engine) GetTraceability(batchID uint64) (Traceability, error) {
	rec, err := e.lookupBatch(batchID)
	if err != nil {
		return Traceability{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.trace.clone(), nil
}

func (e *Engine) GetComponentCount(batchID uint64) (int, error) {
	t, err := e.GetTraceability(batchID)
	return len(t.Components), err
}

func (e *Engine) GetCertificationCount(batchID uint64) (int, error) {
	t, err := e.GetTraceability(batchID)
	return len(t.Certifications), err
}

// GetQualityUpdateTime returns when the metrics were last updated, or the
// zero time if they never were.
func (e *Engine) GetQualityUpdateTime(batchID uint64) (time.Time, error) {
	t, err := e.GetTraceability(batchID)
	if err != nil || t.Metrics == nil {
		return time.Time{}, err
	}
	return t.Metrics.LastUpdated, nil
}

// QualityCheck is the result of VerifyQualityData.
type QualityCheck struct {
	Temperature bool `json:"temperature"`
	Humidity    bool `json:"humidity"`
	ShelfLife   bool `json:"shelfLife"`
}

// VerifyQualityData recomputes the metric commitments for the claimed
// readings, all under the same nonce, and compares each with the stored
// one. A batch without metrics reports all false.
func (e *Engine) VerifyQualityData(batchID uint64, temperature, humidity, shelfLife, nonce *big.Int) (QualityCheck, error) {
	t, err := e.GetTraceability(batchID)
	if err != nil {
		return QualityCheck{}, err
	}
	if t.Metrics == nil {
		return QualityCheck{}, nil
	}
	return QualityCheck{
		Temperature: VerifyCommitment(e.scheme, temperature, nonce, t.Metrics.Temperature),
		Humidity:    VerifyCommitment(e.scheme, humidity, nonce, t.Metrics.Humidity),
		ShelfLife:   VerifyCommitment(e.scheme, shelfLife, nonce, t.Metrics.ShelfLife),
	}, nil
}
