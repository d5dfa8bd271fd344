package ledger

import (
	"fmt"
	"math/big"
	"sort"
)

// transitions lists the legal status moves. Verified is only entered through
// VerifyQuality; AddCheckpoint consults checkpointTargets as well.
var transitions = map[Status][]Status{
	StatusCreated:   {StatusInTransit, StatusRecalled},
	StatusInTransit: {StatusInTransit, StatusDelivered, StatusVerified, StatusRecalled},
	StatusDelivered: {StatusVerified, StatusRecalled},
}

var checkpointTargets = map[Status]bool{
	StatusInTransit: true,
	StatusDelivered: true,
	StatusRecalled:  true,
}

// CanTransition reports whether a batch in status from may move to status to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CreateProductBatch stores a new batch with status Created and returns its
// id. The caller must be an active Manufacturer. nonce is an operation
// nonce; zero disables replay protection.
func (e *Engine) CreateProductBatch(caller Address, fields BatchCommitments, publicMetadata string, nonce *big.Int) (uint64, error) {
	defer e.mutation()()
	caller = canon(caller)
	if err := validateText("publicMetadata", publicMetadata, MaxMetadataLength); err != nil {
		return 0, e.reject("createProductBatch", caller, 0, err)
	}
	p, err := e.requireActive(caller)
	if err != nil {
		return 0, e.reject("createProductBatch", caller, 0, err)
	}
	if p.Role != RoleManufacturer {
		return 0, e.reject("createProductBatch", caller, 0,
			fmt.Errorf("%w: %s is a %s, not an active Manufacturer", ErrNotRegistered, caller, p.Role))
	}
	fp, guarded, err := e.checkNonce(caller, nonce)
	if err != nil {
		return 0, e.reject("createProductBatch", caller, 0, err)
	}

	e.batchesMu.Lock()
	defer e.batchesMu.Unlock()

	if err := e.claimNonce(fp, guarded); err != nil {
		return 0, e.reject("createProductBatch", caller, 0, err)
	}

	id := e.nextBatchID
	e.nextBatchID++
	rec := &batchRecord{
		batch: ProductBatch{
			BatchID:            id,
			Manufacturer:       caller,
			HashedQuantity:     fields.HashedQuantity,
			HashedQualityScore: fields.HashedQualityScore,
			HashedPrice:        fields.HashedPrice,
			Status:             StatusCreated,
			CreatedAt:          e.now(),
			PublicMetadata:     publicMetadata,
			Checkpoints:        []Checkpoint{},
		},
		grants:      make(map[Address]struct{}),
		commitments: make(map[Address]*Commitment),
	}
	e.batches[id] = rec

	e.emit(Event{
		Kind:        EventProductBatchCreated,
		BatchID:     id,
		Participant: caller,
		Status:      ptr(StatusCreated),
		At:          rec.batch.CreatedAt,
	})
	e.logger.Info("Created product batch", "batchId", id, "manufacturer", caller)
	return id, nil
}

// AddCheckpoint appends a custody checkpoint and moves the batch to
// in.NewStatus. The caller must be active and have access to the batch.
func (e *Engine) AddCheckpoint(caller Address, batchID uint64, in CheckpointInput, nonce *big.Int) error {
	defer e.mutation()()
	caller = canon(caller)
	if err := validateText("publicNote", in.PublicNote, MaxNoteLength); err != nil {
		return e.reject("addCheckpoint", caller, batchID, err)
	}
	if !in.NewStatus.Valid() {
		return e.reject("addCheckpoint", caller, batchID, fmt.Errorf("%w: unknown status %d", ErrInvalidInput, in.NewStatus))
	}
	rec, err := e.lookupBatch(batchID)
	if err != nil {
		return e.reject("addCheckpoint", caller, batchID, err)
	}
	if _, err := e.requireActive(caller); err != nil {
		return e.reject("addCheckpoint", caller, batchID, err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !e.hasAccessLocked(rec, caller) {
		return e.reject("addCheckpoint", caller, batchID,
			fmt.Errorf("%w: %s has no access to batch %d", ErrNotAuthorized, caller, batchID))
	}
	from := rec.batch.Status
	if !checkpointTargets[in.NewStatus] || !CanTransition(from, in.NewStatus) {
		return e.reject("addCheckpoint", caller, batchID,
			fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, in.NewStatus))
	}
	fp, guarded, err := e.checkNonce(caller, nonce)
	if err != nil {
		return e.reject("addCheckpoint", caller, batchID, err)
	}
	if err := e.claimNonce(fp, guarded); err != nil {
		return e.reject("addCheckpoint", caller, batchID, err)
	}

	cp := Checkpoint{
		Handler:         caller,
		HashedTimestamp: in.HashedTimestamp,
		HashedLocation:  in.HashedLocation,
		PublicNote:      in.PublicNote,
		NewStatus:       in.NewStatus,
		RecordedAt:      e.now(),
	}
	rec.batch.Checkpoints = append(rec.batch.Checkpoints, cp)
	rec.batch.Status = in.NewStatus

	e.emit(Event{
		Kind:        EventCheckpointAdded,
		BatchID:     batchID,
		Participant: caller,
		Status:      ptr(in.NewStatus),
		Index:       ptr(len(rec.batch.Checkpoints) - 1),
		At:          cp.RecordedAt,
	})
	e.logger.Info("Added checkpoint",
		"batchId", batchID,
		"handler", caller,
		"from", from.String(),
		"to", in.NewStatus.String())
	return nil
}

// GetBatchInfo returns the public projection of a batch.
func (e *Engine) GetBatchInfo(batchID uint64) (BatchInfo, error) {
	rec, err := e.lookupBatch(batchID)
	if err != nil {
		return BatchInfo{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return infoOf(&rec.batch), nil
}

func infoOf(b *ProductBatch) BatchInfo {
	return BatchInfo{
		BatchID:         b.BatchID,
		Manufacturer:    b.Manufacturer,
		Status:          b.Status,
		CreatedAt:       b.CreatedAt,
		PublicMetadata:  b.PublicMetadata,
		CheckpointCount: len(b.Checkpoints),
	}
}

// GetProductBatch returns a copy of the full batch record, commitments
// included.
func (e *Engine) GetProductBatch(batchID uint64) (ProductBatch, error) {
	rec, err := e.lookupBatch(batchID)
	if err != nil {
		return ProductBatch{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	b := rec.batch
	b.Checkpoints = append([]Checkpoint{}, rec.batch.Checkpoints...)
	return b, nil
}

// GetCheckpointCount returns the number of checkpoints of a batch.
func (e *Engine) GetCheckpointCount(batchID uint64) (int, error) {
	rec, err := e.lookupBatch(batchID)
	if err != nil {
		return 0, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.batch.Checkpoints), nil
}

// GetCheckpoint returns the checkpoint at index.
func (e *Engine) GetCheckpoint(batchID uint64, index int) (Checkpoint, error) {
	rec, err := e.lookupBatch(batchID)
	if err != nil {
		return Checkpoint{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if index < 0 || index >= len(rec.batch.Checkpoints) {
		return Checkpoint{}, fmt.Errorf("%w: checkpoint %d of batch %d (count %d)",
			ErrIndexOutOfRange, index, batchID, len(rec.batch.Checkpoints))
	}
	return rec.batch.Checkpoints[index], nil
}

// ListBatches returns the public projections of all batches, optionally
// restricted to one manufacturer, ordered by id.
func (e *Engine) ListBatches(manufacturer Address) []BatchInfo {
	if manufacturer != "" {
		manufacturer = canon(manufacturer)
	}
	e.batchesMu.RLock()
	recs := make([]*batchRecord, 0, len(e.batches))
	for _, rec := range e.batches {
		recs = append(recs, rec)
	}
	e.batchesMu.RUnlock()

	out := make([]BatchInfo, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		if manufacturer == "" || rec.batch.Manufacturer == manufacturer {
			out = append(out, infoOf(&rec.batch))
		}
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchID < out[j].BatchID })
	return out
}

func sortAddresses(a []Address) {
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
}
