package main

import (
	"github.com/sealtrace/sealtrace/src/ledger"
)

// BuildTrackingView gathers everything public about a batch. history may be
// nil when no event source is available.
func BuildTrackingView(e *ledger.Engine, batchID uint64, history []ledger.Event) (TrackingView, error) {
	batch, err := e.GetProductBatch(batchID)
	if err != nil {
		return TrackingView{}, err
	}
	info, err := e.GetBatchInfo(batchID)
	if err != nil {
		return TrackingView{}, err
	}
	grantees, err := e.Grantees(batchID)
	if err != nil {
		return TrackingView{}, err
	}
	commitments, err := e.GetCommitments(batchID)
	if err != nil {
		return TrackingView{}, err
	}
	disclosures, err := e.GetDisclosures(batchID)
	if err != nil {
		return TrackingView{}, err
	}
	trace, err := e.GetTraceability(batchID)
	if err != nil {
		return TrackingView{}, err
	}

	if history == nil {
		history = []ledger.Event{}
	}
	return TrackingView{
		Batch:        info,
		Checkpoints:  batch.Checkpoints,
		Grantees:     grantees,
		Commitments:  commitments,
		Disclosures:  disclosures,
		Traceability: trace,
		VerifiedBy:   batch.VerifiedBy,
		History:      history,
	}, nil
}
