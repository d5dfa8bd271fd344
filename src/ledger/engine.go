// Package ledger implements the privacy-preserving supply-chain ledger:
// a participant registry, product batches whose sensitive fields are kept
// only as hash commitments, per-batch access grants, a checkpoint status
// machine, a commit-reveal protocol and an inspector-driven quality workflow.
//
// Every mutating operation is all-or-nothing. It validates first, then
// applies its mutations and appends exactly one Event, all inside the
// critical section of the batch it touches. Operations on different batches
// run in parallel. Snapshot excludes every operation while it copies state,
// so a snapshot is always a consistent cut at its LastEventSeq.
package ledger

import (
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"
)

// DefaultEventRetention is the number of events kept in memory for
// EventsSince.
const DefaultEventRetention = 10000

// Engine owns all ledger state. The zero value is not usable; call NewEngine.
type Engine struct {
	admin  Address
	scheme CommitmentScheme
	clock  func() time.Time
	logger *slog.Logger

	// cutMu is held shared by mutating operations and exclusively by
	// Snapshot. It is always taken before any other lock.
	cutMu sync.RWMutex

	participantsMu sync.RWMutex
	participants   map[Address]Participant
	suppliers      map[Address]SupplierProfile
	agreements     map[agreementKey]Agreement

	batchesMu   sync.RWMutex
	batches     map[uint64]*batchRecord
	nextBatchID uint64

	noncesMu   sync.Mutex
	usedNonces map[Digest]struct{}

	eventsMu       sync.Mutex
	events         []Event
	lastSeq        uint64
	eventRetention int
	sinks          []EventSink
}

// batchRecord is a batch together with everything owned by it. mu is the
// per-batch critical section.
type batchRecord struct {
	mu          sync.Mutex
	batch       ProductBatch
	grants      map[Address]struct{}
	commitments map[Address]*Commitment
	disclosures []Disclosure
	trace       Traceability
}

// Option configures an Engine.
type Option func(*Engine)

// WithScheme selects the commitment scheme used for reveal verification and
// nonce fingerprints.
func WithScheme(s CommitmentScheme) Option {
	return func(e *Engine) {
		if s != nil {
			e.scheme = s
		}
	}
}

// WithClock replaces the wall clock, for example with a host transaction
// timestamp.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEventSink registers a sink that receives every committed event.
func WithEventSink(s EventSink) Option {
	return func(e *Engine) {
		if s != nil {
			e.sinks = append(e.sinks, s)
		}
	}
}

// WithEventRetention bounds the in-memory event log. n <= 0 keeps every event.
func WithEventRetention(n int) Option {
	return func(e *Engine) {
		e.eventRetention = n
	}
}

// NewEngine creates an empty ledger administered by admin.
func NewEngine(admin Address, opts ...Option) (*Engine, error) {
	admin, err := ParseAddress(string(admin))
	if err != nil {
		return nil, fmt.Errorf("admin: %w", err)
	}

	e := &Engine{
		admin:          admin,
		scheme:         DefaultScheme,
		clock:          func() time.Time { return time.Now().UTC() },
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		participants:   make(map[Address]Participant),
		suppliers:      make(map[Address]SupplierProfile),
		agreements:     make(map[agreementKey]Agreement),
		batches:        make(map[uint64]*batchRecord),
		nextBatchID:    1,
		usedNonces:     make(map[Digest]struct{}),
		eventRetention: DefaultEventRetention,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Admin returns the administrator identity.
func (e *Engine) Admin() Address {
	return e.admin
}

// Scheme returns the active commitment scheme.
func (e *Engine) Scheme() CommitmentScheme {
	return e.scheme
}

// NextBatchID returns the id the next created batch will receive.
func (e *Engine) NextBatchID() uint64 {
	e.batchesMu.RLock()
	defer e.batchesMu.RUnlock()
	return e.nextBatchID
}

// BatchCount returns the number of batches ever created.
func (e *Engine) BatchCount() int {
	e.batchesMu.RLock()
	defer e.batchesMu.RUnlock()
	return len(e.batches)
}

// mutation enters the shared side of cutMu and returns its release.
// Mutating operations must not call each other while holding it.
func (e *Engine) mutation() func() {
	e.cutMu.RLock()
	return e.cutMu.RUnlock
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// canon normalizes an address where possible; invalid addresses are left
// as-is and fail later lookups.
func canon(a Address) Address {
	if parsed, err := ParseAddress(string(a)); err == nil {
		return parsed
	}
	return a
}

func (e *Engine) lookupBatch(batchID uint64) (*batchRecord, error) {
	e.batchesMu.RLock()
	rec, ok := e.batches[batchID]
	e.batchesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrBatchNotFound, batchID)
	}
	return rec, nil
}

// requireActive returns the caller's record or ErrNotRegistered.
func (e *Engine) requireActive(caller Address) (Participant, error) {
	p := e.GetParticipant(caller)
	if !p.IsActive {
		return p, fmt.Errorf("%w: %s", ErrNotRegistered, caller)
	}
	return p, nil
}

// nonceFingerprint binds an operation nonce to its caller without storing
// the nonce itself.
func (e *Engine) nonceFingerprint(caller Address, nonce *big.Int) (Digest, error) {
	w, err := word(nonce)
	if err != nil {
		return Digest{}, err
	}
	return e.scheme.Sum([]byte("op-nonce"), []byte(caller), w), nil
}

// checkNonce validates an operation nonce without consuming it. A nil or
// zero nonce disables the replay guard.
func (e *Engine) checkNonce(caller Address, nonce *big.Int) (Digest, bool, error) {
	if nonce == nil || nonce.Sign() == 0 {
		return Digest{}, false, nil
	}
	fp, err := e.nonceFingerprint(caller, nonce)
	if err != nil {
		return Digest{}, false, err
	}
	e.noncesMu.Lock()
	_, used := e.usedNonces[fp]
	e.noncesMu.Unlock()
	if used {
		return Digest{}, false, fmt.Errorf("%w: caller %s", ErrNonceReused, caller)
	}
	return fp, true, nil
}

// claimNonce consumes a fingerprint returned by checkNonce. It is the last
// fallible step of an operation, so a failed claim leaves state unchanged.
func (e *Engine) claimNonce(fp Digest, guarded bool) error {
	if !guarded {
		return nil
	}
	e.noncesMu.Lock()
	defer e.noncesMu.Unlock()
	if _, used := e.usedNonces[fp]; used {
		return ErrNonceReused
	}
	e.usedNonces[fp] = struct{}{}
	return nil
}

// emit appends ev to the event log and forwards it to every sink.
func (e *Engine) emit(ev Event) Event {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()

	e.lastSeq++
	ev.Seq = e.lastSeq
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.events = append(e.events, ev)
	if e.eventRetention > 0 && len(e.events) > e.eventRetention {
		drop := len(e.events) - e.eventRetention
		e.events = append(e.events[:0:0], e.events[drop:]...)
	}
	for _, s := range e.sinks {
		s.Publish(ev)
	}
	return ev
}

// EventsSince returns up to limit retained events with Seq > seq, oldest
// first. limit <= 0 means no limit.
func (e *Engine) EventsSince(seq uint64, limit int) []Event {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()

	var out []Event
	for _, ev := range e.events {
		if ev.Seq <= seq {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// LastEventSeq returns the sequence number of the most recent event.
func (e *Engine) LastEventSeq() uint64 {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()
	return e.lastSeq
}

func (e *Engine) reject(op string, caller Address, batchID uint64, err error) error {
	e.logger.Debug("Rejected ledger operation",
		"op", op,
		"caller", caller,
		"batchId", batchID,
		"kind", KindOf(err),
		"error", err)
	return err
}

func ptr[T any](v T) *T {
	return &v
}
