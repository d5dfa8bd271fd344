package ledger

import (
	"math/big"
	"testing"
	"time"
)

func TestAddComponent(t *testing.T) {
	e, _ := newPopulatedEngine(t)
	id := createTestBatch(t, e, manufacturerA)

	in := ComponentInput{
		ComponentCode: CommitUint64(98765, 1),
		Percentage:    CommitUint64(75, 2),
		Description:   "Premium Raw Material",
	}
	index, err := e.AddComponent(manufacturerA, id, in, nil)
	if err != nil {
		t.Fatalf("AddComponent failed: %v", err)
	}
	if index != 0 {
		t.Errorf("Expected index 0, got %d", index)
	}
	if n, _ := e.GetComponentCount(id); n != 1 {
		t.Errorf("Expected 1 component, got %d", n)
	}

	expectErr(t, func() error { _, err := e.AddComponent(supplierAddr, id, in, nil); return err }(), ErrNotAuthorized)
	if err := e.GrantAccess(manufacturerA, supplierAddr, id); err != nil {
		t.Fatalf("GrantAccess failed: %v", err)
	}
	if index, err = e.AddComponent(supplierAddr, id, in, nil); err != nil || index != 1 {
		t.Errorf("Expected supplier component at index 1, got %d (%v)", index, err)
	}

	tr, _ := e.GetTraceability(id)
	if tr.Components[1].Supplier != supplierAddr {
		t.Errorf("Expected supplier %s, got %s", supplierAddr, tr.Components[1].Supplier)
	}
}

func TestUpdateAndVerifyQualityData(t *testing.T) {
	e, clock := newPopulatedEngine(t)
	id := createTestBatch(t, e, manufacturerA)
	nonce := big.NewInt(2024)

	check, err := e.VerifyQualityData(id, big.NewInt(22), big.NewInt(45), big.NewInt(365), nonce)
	if err != nil {
		t.Fatalf("VerifyQualityData failed: %v", err)
	}
	if check.Temperature || check.Humidity || check.ShelfLife {
		t.Error("Expected all false before metrics are recorded")
	}
	if ts, _ := e.GetQualityUpdateTime(id); !ts.IsZero() {
		t.Errorf("Expected zero update time, got %v", ts)
	}

	commit := func(v int64) Digest {
		d, _ := Commit(big.NewInt(v), nonce)
		return d
	}
	clock.Advance(time.Hour)
	in := QualityMetricsInput{
		Temperature: commit(22),
		Humidity:    commit(45),
		ShelfLife:   commit(365),
		TestResults: commit(999),
	}
	if err := e.UpdateQualityMetrics(manufacturerA, id, in, nil); err != nil {
		t.Fatalf("UpdateQualityMetrics failed: %v", err)
	}
	if ts, _ := e.GetQualityUpdateTime(id); !ts.Equal(clock.Now()) {
		t.Errorf("Expected update time %v, got %v", clock.Now(), ts)
	}

	check, _ = e.VerifyQualityData(id, big.NewInt(22), big.NewInt(45), big.NewInt(365), nonce)
	if !check.Temperature || !check.Humidity || !check.ShelfLife {
		t.Errorf("Expected all true, got %+v", check)
	}
	check, _ = e.VerifyQualityData(id, big.NewInt(30), big.NewInt(45), big.NewInt(100), nonce)
	if check.Temperature || !check.Humidity || check.ShelfLife {
		t.Errorf("Expected only humidity to match, got %+v", check)
	}

	_, err = e.VerifyQualityData(99, big.NewInt(1), big.NewInt(1), big.NewInt(1), nonce)
	expectErr(t, err, ErrBatchNotFound)
}

func TestAddCertification(t *testing.T) {
	sink := &recordingSink{}
	e, _ := newPopulatedEngine(t, WithEventSink(sink))
	id := createTestBatch(t, e, manufacturerA)
	cert := CertificationInput{CertType: "Organic", CertNumber: CommitUint64(555, 1), ExpiryDate: CommitUint64(1893456000, 2)}
	if err := e.GrantAccess(manufacturerA, distributorAddr, id); err != nil {
		t.Fatalf("GrantAccess failed: %v", err)
	}

	if err := e.AddCertification(inspectorAddr, id, cert, nil); err != nil {
		t.Fatalf("Inspector AddCertification failed: %v", err)
	}
	if err := e.AddCertification(manufacturerA, id, cert, nil); err != nil {
		t.Fatalf("Manufacturer AddCertification failed: %v", err)
	}
	expectErr(t, e.AddCertification(distributorAddr, id, cert, nil), ErrNotAuthorized)
	expectErr(t, e.AddCertification(manufacturerA, id, CertificationInput{CertType: "  "}, nil), ErrInvalidInput)

	if n, _ := e.GetCertificationCount(id); n != 2 {
		t.Errorf("Expected 2 certifications, got %d", n)
	}
	events := sink.Events()
	if last := events[len(events)-1]; last.Kind != EventCertificationAdded || last.Label != "Organic" {
		t.Errorf("Unexpected event %+v", last)
	}
}

func TestSubmitFeedbackOncePerParticipant(t *testing.T) {
	e, _ := newPopulatedEngine(t)
	id := createTestBatch(t, e, manufacturerA)
	if err := e.GrantAccess(manufacturerA, retailerAddr, id); err != nil {
		t.Fatalf("GrantAccess failed: %v", err)
	}

	if err := e.SubmitFeedback(retailerAddr, id, CommitUint64(5, 1), big64(10)); err != nil {
		t.Fatalf("SubmitFeedback failed: %v", err)
	}
	expectErr(t, e.SubmitFeedback(retailerAddr, id, CommitUint64(4, 2), big64(11)), ErrAlreadySubmitted)
	expectErr(t, e.SubmitFeedback(distributorAddr, id, CommitUint64(4, 2), nil), ErrNotAuthorized)

	if err := e.SubmitFeedback(inspectorAddr, id, CommitUint64(3, 3), nil); err != nil {
		t.Errorf("Expected inspector feedback to succeed, got %v", err)
	}

	// The rejected call did not consume its nonce.
	id2 := createTestBatch(t, e, manufacturerA)
	if err := e.GrantAccess(manufacturerA, retailerAddr, id2); err != nil {
		t.Fatalf("GrantAccess failed: %v", err)
	}
	if err := e.SubmitFeedback(retailerAddr, id2, CommitUint64(4, 2), big64(11)); err != nil {
		t.Errorf("Expected nonce 11 to be unused, got %v", err)
	}

	tr, _ := e.GetTraceability(id)
	if len(tr.Feedback) != 2 {
		t.Errorf("Expected 2 feedback entries, got %d", len(tr.Feedback))
	}
}

func TestTraceabilityUnknownBatch(t *testing.T) {
	e, _ := newPopulatedEngine(t)
	_, err := e.GetComponentCount(5)
	expectErr(t, err, ErrBatchNotFound)
	expectErr(t, e.UpdateQualityMetrics(manufacturerA, 5, QualityMetricsInput{}, nil), ErrBatchNotFound)
}
