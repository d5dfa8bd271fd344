package ledger

import (
	"fmt"
	"math/big"
)

// VerifyQuality records an inspector's quality verdict: it replaces the
// batch's quality-score commitment and moves the batch to Verified. The batch
// must be InTransit or Delivered.
func (e *Engine) VerifyQuality(caller Address, batchID uint64, newQualityScore Digest, nonce *big.Int) error {
	defer e.mutation()()
	caller = canon(caller)
	rec, err := e.lookupBatch(batchID)
	if err != nil {
		return e.reject("verifyQuality", caller, batchID, err)
	}
	p, err := e.requireActive(caller)
	if err != nil {
		return e.reject("verifyQuality", caller, batchID, err)
	}
	if p.Role != RoleInspector {
		return e.reject("verifyQuality", caller, batchID,
			fmt.Errorf("%w: %s is a %s, not an Inspector", ErrNotAuthorized, caller, p.Role))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	from := rec.batch.Status
	if !CanTransition(from, StatusVerified) {
		return e.reject("verifyQuality", caller, batchID,
			fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, StatusVerified))
	}
	fp, guarded, err := e.checkNonce(caller, nonce)
	if err != nil {
		return e.reject("verifyQuality", caller, batchID, err)
	}
	if err := e.claimNonce(fp, guarded); err != nil {
		return e.reject("verifyQuality", caller, batchID, err)
	}

	rec.batch.HashedQualityScore = newQualityScore
	rec.batch.Status = StatusVerified
	rec.batch.VerifiedBy = caller

	e.emit(Event{
		Kind:        EventQualityVerified,
		BatchID:     batchID,
		Participant: caller,
		Status:      ptr(StatusVerified),
	})
	e.logger.Info("Verified batch quality", "batchId", batchID, "inspector", caller, "from", from.String())
	return nil
}
