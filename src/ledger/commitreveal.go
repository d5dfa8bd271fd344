package ledger

import (
	"fmt"
	"math/big"
	"sort"
)

// CommitData stores commitmentHash as the caller's pending commitment on the
// batch. A pending commitment that was never revealed is overwritten; a
// revealed one stays archived in the batch's disclosures.
func (e *Engine) CommitData(caller Address, batchID uint64, commitmentHash Digest) error {
	defer e.mutation()()
	caller = canon(caller)
	if commitmentHash.IsZero() {
		return e.reject("commitData", caller, batchID, fmt.Errorf("%w: empty commitment", ErrInvalidInput))
	}
	rec, err := e.lookupBatch(batchID)
	if err != nil {
		return e.reject("commitData", caller, batchID, err)
	}
	if _, err := e.requireActive(caller); err != nil {
		return e.reject("commitData", caller, batchID, err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !e.hasAccessLocked(rec, caller) {
		return e.reject("commitData", caller, batchID,
			fmt.Errorf("%w: %s has no access to batch %d", ErrNotAuthorized, caller, batchID))
	}

	c := &Commitment{
		BatchID:        batchID,
		Committer:      caller,
		CommitmentHash: commitmentHash,
		CommittedAt:    e.now(),
	}
	rec.commitments[caller] = c

	e.emit(Event{
		Kind:        EventDataCommitted,
		BatchID:     batchID,
		Participant: caller,
		At:          c.CommittedAt,
	})
	return nil
}

// RevealData opens the caller's pending commitment. It succeeds at most once
// per commitment and publishes data in the DataRevealed event.
func (e *Engine) RevealData(caller Address, batchID uint64, data, nonce *big.Int) error {
	defer e.mutation()()
	caller = canon(caller)
	digest, err := CommitValue(e.scheme, data, nonce)
	if err != nil {
		return e.reject("revealData", caller, batchID, err)
	}
	rec, err := e.lookupBatch(batchID)
	if err != nil {
		return e.reject("revealData", caller, batchID, err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	c, ok := rec.commitments[caller]
	if !ok {
		return e.reject("revealData", caller, batchID,
			fmt.Errorf("%w: %s has not committed on batch %d", ErrNoSuchCommitment, caller, batchID))
	}
	if c.Revealed {
		if digest == c.CommitmentHash {
			return e.reject("revealData", caller, batchID, fmt.Errorf("%w: %s", ErrAlreadyRevealed, c.CommitmentHash))
		}
		return e.reject("revealData", caller, batchID,
			fmt.Errorf("%w: no pending commitment for %s on batch %d", ErrNoSuchCommitment, caller, batchID))
	}
	if digest != c.CommitmentHash {
		return e.reject("revealData", caller, batchID, fmt.Errorf("%w: batch %d", ErrRevealMismatch, batchID))
	}

	c.Revealed = true
	d := Disclosure{
		Committer:      caller,
		CommitmentHash: c.CommitmentHash,
		Data:           data.String(),
		Nonce:          nonce.String(),
		RevealedAt:     e.now(),
	}
	rec.disclosures = append(rec.disclosures, d)

	e.emit(Event{
		Kind:        EventDataRevealed,
		BatchID:     batchID,
		Participant: caller,
		Data:        d.Data,
		At:          d.RevealedAt,
	})
	e.logger.Info("Revealed commitment", "batchId", batchID, "committer", caller)
	return nil
}

// VerifyDataIntegrity reports whether expectedHash commits to data under
// nonce. It reads no ledger state; batchID only scopes the call for callers
// mirroring the contract interface.
func (e *Engine) VerifyDataIntegrity(batchID uint64, data, nonce *big.Int, expectedHash Digest) bool {
	return VerifyCommitment(e.scheme, data, nonce, expectedHash)
}

// VerifyTextIntegrity is VerifyDataIntegrity for string values such as
// checkpoint locations.
func (e *Engine) VerifyTextIntegrity(batchID uint64, text string, nonce *big.Int, expectedHash Digest) bool {
	return VerifyTextCommitment(e.scheme, text, nonce, expectedHash)
}

// GetCommitment returns the current commitment slot of committer on a batch.
func (e *Engine) GetCommitment(batchID uint64, committer Address) (Commitment, error) {
	committer = canon(committer)
	rec, err := e.lookupBatch(batchID)
	if err != nil {
		return Commitment{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	c, ok := rec.commitments[committer]
	if !ok {
		return Commitment{}, fmt.Errorf("%w: %s on batch %d", ErrNoSuchCommitment, committer, batchID)
	}
	return *c, nil
}

// GetCommitments returns every commitment slot of a batch ordered by
// committer.
func (e *Engine) GetCommitments(batchID uint64) ([]Commitment, error) {
	rec, err := e.lookupBatch(batchID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	out := make([]Commitment, 0, len(rec.commitments))
	for _, c := range rec.commitments {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Committer < out[j].Committer })
	return out, nil
}

// GetDisclosures returns all successful reveals on a batch in reveal order.
func (e *Engine) GetDisclosures(batchID uint64) ([]Disclosure, error) {
	rec, err := e.lookupBatch(batchID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]Disclosure{}, rec.disclosures...), nil
}
