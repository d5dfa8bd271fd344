package ledger

import (
	"fmt"
	"sort"
)

// StateVersion is the current snapshot format.
const StateVersion = 1

// State is the serializable form of an Engine.
type State struct {
	Version      int               `json:"version"`
	Admin        Address           `json:"admin"`
	Scheme       string            `json:"scheme"`
	NextBatchID  uint64            `json:"nextBatchId"`
	LastEventSeq uint64            `json:"lastEventSeq"`
	Participants []Participant     `json:"participants"`
	Suppliers    []SupplierProfile `json:"suppliers"`
	Agreements   []Agreement       `json:"agreements"`
	Batches      []BatchState      `json:"batches"`
	UsedNonces   []Digest          `json:"usedNonces"`
}

// BatchState is a batch with everything it owns.
type BatchState struct {
	Batch        ProductBatch `json:"batch"`
	Grants       []Address    `json:"grants"`
	Commitments  []Commitment `json:"commitments"`
	Disclosures  []Disclosure `json:"disclosures"`
	Traceability Traceability `json:"traceability"`
}

// Snapshot captures the engine state. Mutating operations wait while the
// copy is taken, so the result reflects exactly the events up to
// LastEventSeq.
func (e *Engine) Snapshot() *State {
	e.cutMu.Lock()
	defer e.cutMu.Unlock()

	s := &State{
		Version:      StateVersion,
		Admin:        e.admin,
		Scheme:       e.scheme.Name(),
		LastEventSeq: e.LastEventSeq(),
		Participants: e.Participants(),
	}

	e.participantsMu.RLock()
	for _, p := range e.suppliers {
		s.Suppliers = append(s.Suppliers, p)
	}
	for _, a := range e.agreements {
		s.Agreements = append(s.Agreements, a)
	}
	e.participantsMu.RUnlock()
	sort.Slice(s.Suppliers, func(i, j int) bool { return s.Suppliers[i].Supplier < s.Suppliers[j].Supplier })
	sort.Slice(s.Agreements, func(i, j int) bool {
		if s.Agreements[i].Supplier != s.Agreements[j].Supplier {
			return s.Agreements[i].Supplier < s.Agreements[j].Supplier
		}
		return s.Agreements[i].Manufacturer < s.Agreements[j].Manufacturer
	})

	e.batchesMu.RLock()
	s.NextBatchID = e.nextBatchID
	recs := make([]*batchRecord, 0, len(e.batches))
	for _, rec := range e.batches {
		recs = append(recs, rec)
	}
	e.batchesMu.RUnlock()

	for _, rec := range recs {
		rec.mu.Lock()
		bs := BatchState{
			Batch:        rec.batch,
			Grants:       make([]Address, 0, len(rec.grants)),
			Commitments:  make([]Commitment, 0, len(rec.commitments)),
			Disclosures:  append([]Disclosure{}, rec.disclosures...),
			Traceability: rec.trace.clone(),
		}
		bs.Batch.Checkpoints = append([]Checkpoint{}, rec.batch.Checkpoints...)
		for a := range rec.grants {
			bs.Grants = append(bs.Grants, a)
		}
		for _, c := range rec.commitments {
			bs.Commitments = append(bs.Commitments, *c)
		}
		rec.mu.Unlock()

		sortAddresses(bs.Grants)
		sort.Slice(bs.Commitments, func(i, j int) bool { return bs.Commitments[i].Committer < bs.Commitments[j].Committer })
		s.Batches = append(s.Batches, bs)
	}
	sort.Slice(s.Batches, func(i, j int) bool { return s.Batches[i].Batch.BatchID < s.Batches[j].Batch.BatchID })

	e.noncesMu.Lock()
	s.UsedNonces = make([]Digest, 0, len(e.usedNonces))
	for fp := range e.usedNonces {
		s.UsedNonces = append(s.UsedNonces, fp)
	}
	e.noncesMu.Unlock()
	sort.Slice(s.UsedNonces, func(i, j int) bool { return s.UsedNonces[i].Hex() < s.UsedNonces[j].Hex() })

	return s
}

// Restore rebuilds an engine from a snapshot. The snapshot's commitment
// scheme is used unless opts select one; selecting a different scheme is an
// error because stored nonce fingerprints would no longer match.
func Restore(s *State, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil state", ErrInvalidInput)
	}
	if s.Version != StateVersion {
		return nil, fmt.Errorf("%w: unsupported state version %d", ErrInvalidInput, s.Version)
	}
	scheme, err := SchemeByName(s.Scheme)
	if err != nil {
		return nil, err
	}
	e, err := NewEngine(s.Admin, append([]Option{WithScheme(scheme)}, opts...)...)
	if err != nil {
		return nil, err
	}
	if e.scheme.Name() != scheme.Name() {
		return nil, fmt.Errorf("%w: state uses scheme %s, engine configured with %s",
			ErrInvalidInput, scheme.Name(), e.scheme.Name())
	}

	for _, p := range s.Participants {
		e.participants[p.Address] = p
	}
	for _, sp := range s.Suppliers {
		e.suppliers[sp.Supplier] = sp
	}
	for _, a := range s.Agreements {
		e.agreements[agreementKey{supplier: a.Supplier, manufacturer: a.Manufacturer}] = a
	}

	e.nextBatchID = s.NextBatchID
	if e.nextBatchID == 0 {
		e.nextBatchID = 1
	}
	for _, bs := range s.Batches {
		id := bs.Batch.BatchID
		if id == 0 || id >= e.nextBatchID {
			return nil, fmt.Errorf("%w: batch id %d outside allocated range", ErrInvalidInput, id)
		}
		if _, dup := e.batches[id]; dup {
			return nil, fmt.Errorf("%w: duplicate batch id %d", ErrInvalidInput, id)
		}
		rec := &batchRecord{
			batch:       bs.Batch,
			grants:      make(map[Address]struct{}, len(bs.Grants)),
			commitments: make(map[Address]*Commitment, len(bs.Commitments)),
			disclosures: append([]Disclosure{}, bs.Disclosures...),
			trace:       bs.Traceability.clone(),
		}
		if rec.batch.Checkpoints == nil {
			rec.batch.Checkpoints = []Checkpoint{}
		}
		for _, a := range bs.Grants {
			rec.grants[a] = struct{}{}
		}
		for i := range bs.Commitments {
			c := bs.Commitments[i]
			rec.commitments[c.Committer] = &c
		}
		e.batches[id] = rec
	}
	for _, fp := range s.UsedNonces {
		e.usedNonces[fp] = struct{}{}
	}
	e.lastSeq = s.LastEventSeq
	return e, nil
}
