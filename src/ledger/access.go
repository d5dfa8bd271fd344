package ledger

import "fmt"

// HasAccessToBatch reports whether participant may read and act on the
// batch: its manufacturer, any active Inspector, or an explicit grantee.
// Unknown batches report false.
func (e *Engine) HasAccessToBatch(participant Address, batchID uint64) bool {
	participant = canon(participant)
	rec, err := e.lookupBatch(batchID)
	if err != nil {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return e.hasAccessLocked(rec, participant)
}

// hasAccessLocked requires rec.mu to be held.
func (e *Engine) hasAccessLocked(rec *batchRecord, participant Address) bool {
	if participant == rec.batch.Manufacturer {
		return true
	}
	if _, ok := rec.grants[participant]; ok {
		return true
	}
	p := e.GetParticipant(participant)
	return p.IsActive && p.Role == RoleInspector
}

// GrantAccess lets participant read and act on the batch. Only the batch's
// manufacturer or the admin may grant; granting twice is a no-op. Grants are
// never revoked.
func (e *Engine) GrantAccess(caller, participant Address, batchID uint64) error {
	defer e.mutation()()
	caller = canon(caller)
	grantee, err := ParseAddress(string(participant))
	if err != nil {
		return e.reject("grantAccess", caller, batchID, err)
	}
	rec, err := e.lookupBatch(batchID)
	if err != nil {
		return e.reject("grantAccess", caller, batchID, err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if caller != rec.batch.Manufacturer && caller != e.admin {
		return e.reject("grantAccess", caller, batchID,
			fmt.Errorf("%w: only the manufacturer or admin can grant access to batch %d", ErrNotAuthorized, batchID))
	}
	if !e.GetParticipant(grantee).IsActive {
		return e.reject("grantAccess", caller, batchID, fmt.Errorf("%w: grantee %s", ErrNotRegistered, grantee))
	}
	if _, ok := rec.grants[grantee]; ok {
		return nil
	}

	rec.grants[grantee] = struct{}{}
	e.emit(Event{
		Kind:         EventAccessGranted,
		BatchID:      batchID,
		Participant:  grantee,
		Counterparty: caller,
	})
	return nil
}

// Grantees returns the explicit grantees of a batch.
func (e *Engine) Grantees(batchID uint64) ([]Address, error) {
	rec, err := e.lookupBatch(batchID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	out := make([]Address, 0, len(rec.grants))
	for a := range rec.grants {
		out = append(out, a)
	}
	sortAddresses(out)
	return out, nil
}
