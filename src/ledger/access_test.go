package ledger

import "testing"

func TestManufacturerHasImplicitAccess(t *testing.T) {
	e, _ := newPopulatedEngine(t)
	id := createTestBatch(t, e, manufacturerA)

	if !e.HasAccessToBatch(manufacturerA, id) {
		t.Error("Expected manufacturer to have access without a grant")
	}
	if !e.HasAccessToBatch(inspectorAddr, id) {
		t.Error("Expected inspector to have standing access")
	}
	if e.HasAccessToBatch(manufacturerB, id) {
		t.Error("Expected other manufacturer to lack access")
	}
	if e.HasAccessToBatch(manufacturerA, 99) {
		t.Error("Expected no access to unknown batch")
	}
}

func TestGrantAccessIsPermanentAndIdempotent(t *testing.T) {
	e, _ := newPopulatedEngine(t)
	id := createTestBatch(t, e, manufacturerA)

	if e.HasAccessToBatch(retailerAddr, id) {
		t.Fatal("Expected retailer to lack access before grant")
	}
	if err := e.GrantAccess(manufacturerA, retailerAddr, id); err != nil {
		t.Fatalf("GrantAccess failed: %v", err)
	}
	if !e.HasAccessToBatch(retailerAddr, id) {
		t.Error("Expected retailer to have access after grant")
	}

	seq := e.LastEventSeq()
	if err := e.GrantAccess(manufacturerA, retailerAddr, id); err != nil {
		t.Errorf("Expected repeated grant to succeed, got %v", err)
	}
	if e.LastEventSeq() != seq {
		t.Error("Expected repeated grant to emit no event")
	}

	// Later activity on the batch does not drop the grant.
	if err := e.AddCheckpoint(manufacturerA, id, checkpoint(StatusRecalled, "contaminated"), nil); err != nil {
		t.Fatalf("AddCheckpoint failed: %v", err)
	}
	if !e.HasAccessToBatch(retailerAddr, id) {
		t.Error("Expected grant to remain after status change")
	}

	grantees, err := e.Grantees(id)
	if err != nil || len(grantees) != 1 || grantees[0] != retailerAddr {
		t.Errorf("Expected [%s], got %v (%v)", retailerAddr, grantees, err)
	}
}

func TestGrantAccessByAdmin(t *testing.T) {
	e, _ := newPopulatedEngine(t)
	id := createTestBatch(t, e, manufacturerA)
	if err := e.GrantAccess(adminAddr, distributorAddr, id); err != nil {
		t.Fatalf("Expected admin to grant access, got %v", err)
	}
	events := e.EventsSince(0, 0)
	last := events[len(events)-1]
	if last.Kind != EventAccessGranted || last.Participant != distributorAddr || last.Counterparty != adminAddr {
		t.Errorf("Unexpected event %+v", last)
	}
}

func TestGrantAccessFailures(t *testing.T) {
	e, _ := newPopulatedEngine(t)
	id := createTestBatch(t, e, manufacturerA)

	expectErr(t, e.GrantAccess(manufacturerA, retailerAddr, 42), ErrBatchNotFound)
	expectErr(t, e.GrantAccess(manufacturerB, retailerAddr, id), ErrNotAuthorized)
	expectErr(t, e.GrantAccess(distributorAddr, retailerAddr, id), ErrNotAuthorized)
	expectErr(t, e.GrantAccess(manufacturerA, outsiderAddr, id), ErrNotRegistered)
	expectErr(t, e.GrantAccess(manufacturerA, "", id), ErrInvalidInput)

	if e.HasAccessToBatch(retailerAddr, id) {
		t.Error("Expected failed grants to leave access unchanged")
	}
}
