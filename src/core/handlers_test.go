package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sealtrace/sealtrace/src/ledger"
)

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

func setupTestRouter(node *SealNode) http.Handler {
	return node.buildRouter()
}

// doRequest sends body as JSON with the given caller and decodes the
// envelope.
func doRequest(t *testing.T, h http.Handler, method, path, caller string, body interface{}) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != "" {
		req.Header.Set(CallerAddressHeader, caller)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env testEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: failed to parse response %q: %v", method, path, w.Body.String(), err)
	}
	return w, env
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, env testEnvelope, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("Expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
	if code == "" {
		if !env.Success {
			t.Fatalf("Expected success, got %+v", env.Error)
		}
		return
	}
	if env.Error == nil || env.Error.Code != code {
		t.Fatalf("Expected error code '%s', got %+v", code, env.Error)
	}
}

func decodeData(t *testing.T, env testEnvelope, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("Failed to decode data %s: %v", env.Data, err)
	}
}

func createBatchOverHTTP(t *testing.T, h http.Handler, caller string, metadata string) uint64 {
	t.Helper()
	w, env := doRequest(t, h, "POST", "/api/batches", caller, CreateBatchRequest{
		HashedQuantity:     ledger.CommitUint64(1000, 11),
		HashedQualityScore: ledger.CommitUint64(95, 12),
		HashedPrice:        ledger.CommitUint64(5000, 13),
		PublicMetadata:     metadata,
	})
	expectStatus(t, w, env, http.StatusCreated, "")
	var created struct {
		BatchID uint64 `json:"batchId"`
	}
	decodeData(t, env, &created)
	return created.BatchID
}

func TestHealthCheckHandler(t *testing.T) {
	node := newTestNode(t)
	router := setupTestRouter(node)

	w, env := doRequest(t, router, "GET", "/api/health", "", nil)
	expectStatus(t, w, env, http.StatusOK, "")

	var data map[string]interface{}
	decodeData(t, env, &data)
	if data["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", data["status"])
	}
	if data["nodeId"] != node.NodeID {
		t.Errorf("Expected nodeId '%s', got '%v'", node.NodeID, data["nodeId"])
	}
	if w.Header().Get("X-API-Version") != "1.0" {
		t.Errorf("Expected X-API-Version '1.0', got '%s'", w.Header().Get("X-API-Version"))
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header")
	}
}

func TestInfoHandler(t *testing.T) {
	node := newPopulatedNode(t)
	router := setupTestRouter(node)

	w, env := doRequest(t, router, "GET", "/api/info", "", nil)
	expectStatus(t, w, env, http.StatusOK, "")

	var info NodeInfo
	decodeData(t, env, &info)
	if info.Admin != testAdmin {
		t.Errorf("Expected admin '%s', got '%s'", testAdmin, info.Admin)
	}
	if info.CommitmentScheme != "keccak256" {
		t.Errorf("Expected scheme 'keccak256', got '%s'", info.CommitmentScheme)
	}
	if info.NextBatchID != 1 {
		t.Errorf("Expected nextBatchId 1, got %d", info.NextBatchID)
	}
	if info.ParticipantCount != 5 {
		t.Errorf("Expected 5 participants, got %d", info.ParticipantCount)
	}
	if info.PublicKey != node.GetPublicKeyHex() {
		t.Error("Expected node public key in info")
	}
}

func TestVersionedRoutes(t *testing.T) {
	router := setupTestRouter(newTestNode(t))

	for _, path := range []string{"/api/v1/health", "/api/health"} {
		t.Run(path, func(t *testing.T) {
			w, env := doRequest(t, router, "GET", path, "", nil)
			expectStatus(t, w, env, http.StatusOK, "")
		})
	}
}

func TestSupplyChainScenario(t *testing.T) {
	node := newTestNode(t)
	router := setupTestRouter(node)

	// Admin onboards the chain.
	for addr, role := range map[string]ledger.Role{
		testManufacturer: ledger.RoleManufacturer,
		testDistributor:  ledger.RoleDistributor,
		testInspector:    ledger.RoleInspector,
	} {
		w, env := doRequest(t, router, "POST", "/api/participants", testAdmin, RegisterParticipantRequest{
			Address:          addr,
			Role:             role,
			RatingCommitment: ledger.CommitUint64(90, 5),
		})
		expectStatus(t, w, env, http.StatusCreated, "")
	}

	w, env := doRequest(t, router, "GET", "/api/participants/"+testDistributor, "", nil)
	expectStatus(t, w, env, http.StatusOK, "")
	var distributor ledger.Participant
	decodeData(t, env, &distributor)
	if distributor.Role != ledger.RoleDistributor || !distributor.IsActive {
		t.Errorf("Expected active distributor, got %+v", distributor)
	}

	id := createBatchOverHTTP(t, router, testManufacturer, "Arabica, lot 7")
	if id != 1 {
		t.Fatalf("Expected first batch id 1, got %d", id)
	}
	batchPath := fmt.Sprintf("/api/batches/%d", id)

	transit := AddCheckpointRequest{
		HashedTimestamp: ledger.CommitUint64(1700000000, 21),
		HashedLocation:  ledger.CommitUint64(4242, 22),
		PublicNote:      "Left warehouse",
		NewStatus:       ledger.StatusInTransit,
	}

	// The distributor cannot act before being granted access.
	w, env = doRequest(t, router, "POST", batchPath+"/checkpoints", testDistributor, transit)
	expectStatus(t, w, env, http.StatusForbidden, "NOT_AUTHORIZED")

	w, env = doRequest(t, router, "POST", batchPath+"/access", testManufacturer, GrantAccessRequest{Participant: testDistributor})
	expectStatus(t, w, env, http.StatusOK, "")

	w, env = doRequest(t, router, "GET", batchPath+"/access/"+testDistributor, "", nil)
	expectStatus(t, w, env, http.StatusOK, "")
	var access AccessResult
	decodeData(t, env, &access)
	if !access.HasAccess {
		t.Error("Expected distributor to have access after grant")
	}

	w, env = doRequest(t, router, "POST", batchPath+"/checkpoints", testDistributor, transit)
	expectStatus(t, w, env, http.StatusCreated, "")

	w, env = doRequest(t, router, "GET", batchPath+"/checkpoints/0", "", nil)
	expectStatus(t, w, env, http.StatusOK, "")
	var cp ledger.Checkpoint
	decodeData(t, env, &cp)
	if cp.Handler != testDistributor || cp.NewStatus != ledger.StatusInTransit {
		t.Errorf("Unexpected checkpoint %+v", cp)
	}

	w, env = doRequest(t, router, "GET", batchPath+"/checkpoints/1", "", nil)
	expectStatus(t, w, env, http.StatusNotFound, "INDEX_OUT_OF_RANGE")

	// Inspector verifies.
	w, env = doRequest(t, router, "POST", batchPath+"/quality", testInspector, VerifyQualityRequest{
		NewQualityScore: ledger.CommitUint64(97, 31),
	})
	expectStatus(t, w, env, http.StatusOK, "")

	w, env = doRequest(t, router, "GET", batchPath, "", nil)
	expectStatus(t, w, env, http.StatusOK, "")
	var info ledger.BatchInfo
	decodeData(t, env, &info)
	if info.Status != ledger.StatusVerified || info.CheckpointCount != 1 {
		t.Errorf("Expected Verified with 1 checkpoint, got %s with %d", info.Status, info.CheckpointCount)
	}

	// Verified is terminal.
	recall := transit
	recall.NewStatus = ledger.StatusRecalled
	w, env = doRequest(t, router, "POST", batchPath+"/checkpoints", testManufacturer, recall)
	expectStatus(t, w, env, http.StatusUnprocessableEntity, "INVALID_TRANSITION")

	// Commit, then reveal the quantity.
	w, env = doRequest(t, router, "POST", batchPath+"/commitments", testDistributor, CommitDataRequest{
		CommitmentHash: ledger.CommitUint64(1000, 77),
	})
	expectStatus(t, w, env, http.StatusCreated, "")

	w, env = doRequest(t, router, "POST", batchPath+"/reveal", testDistributor, RevealDataRequest{Data: "999", Nonce: "77"})
	expectStatus(t, w, env, http.StatusUnprocessableEntity, "REVEAL_MISMATCH")

	w, env = doRequest(t, router, "POST", batchPath+"/reveal", testDistributor, RevealDataRequest{Data: "1000", Nonce: "77"})
	expectStatus(t, w, env, http.StatusOK, "")

	w, env = doRequest(t, router, "POST", batchPath+"/reveal", testDistributor, RevealDataRequest{Data: "1000", Nonce: "77"})
	expectStatus(t, w, env, http.StatusConflict, "ALREADY_REVEALED")

	w, env = doRequest(t, router, "GET", batchPath+"/commitments/"+testDistributor, "", nil)
	expectStatus(t, w, env, http.StatusOK, "")
	var commitment ledger.Commitment
	decodeData(t, env, &commitment)
	if !commitment.Revealed {
		t.Error("Expected commitment to be revealed")
	}

	w, env = doRequest(t, router, "GET", batchPath+"/disclosures", "", nil)
	expectStatus(t, w, env, http.StatusOK, "")
	var disclosures []ledger.Disclosure
	decodeData(t, env, &disclosures)
	if len(disclosures) != 1 || disclosures[0].Data != "1000" {
		t.Errorf("Expected one disclosure of 1000, got %+v", disclosures)
	}

	// Anyone can check a claimed value against the public commitment.
	w, env = doRequest(t, router, "POST", batchPath+"/integrity", "", IntegrityRequest{
		Data:         "1000",
		Nonce:        "11",
		ExpectedHash: ledger.CommitUint64(1000, 11),
	})
	expectStatus(t, w, env, http.StatusOK, "")
	var result IntegrityResult
	decodeData(t, env, &result)
	if !result.Valid {
		t.Error("Expected integrity check to pass")
	}

	w, env = doRequest(t, router, "POST", batchPath+"/integrity", "", IntegrityRequest{
		Data:         "1001",
		Nonce:        "11",
		ExpectedHash: ledger.CommitUint64(1000, 11),
	})
	expectStatus(t, w, env, http.StatusOK, "")
	decodeData(t, env, &result)
	if result.Valid {
		t.Error("Expected integrity check to fail for the wrong value")
	}

	// The tracking view assembles all of it.
	w, env = doRequest(t, router, "GET", batchPath+"/track", "", nil)
	expectStatus(t, w, env, http.StatusOK, "")
	var view TrackingView
	decodeData(t, env, &view)
	if view.Batch.BatchID != id || view.VerifiedBy != testInspector {
		t.Errorf("Unexpected tracking header %+v verified by %s", view.Batch, view.VerifiedBy)
	}
	if len(view.Checkpoints) != 1 || len(view.Grantees) != 1 || len(view.Disclosures) != 1 {
		t.Errorf("Expected 1 checkpoint, grantee and disclosure, got %d, %d, %d",
			len(view.Checkpoints), len(view.Grantees), len(view.Disclosures))
	}
	kinds := make(map[ledger.EventKind]bool)
	for _, ev := range view.History {
		if ev.BatchID != id {
			t.Errorf("Expected only batch %d events in history, got %+v", id, ev)
		}
		kinds[ev.Kind] = true
	}
	for _, k := range []ledger.EventKind{
		ledger.EventProductBatchCreated,
		ledger.EventAccessGranted,
		ledger.EventCheckpointAdded,
		ledger.EventQualityVerified,
		ledger.EventDataCommitted,
		ledger.EventDataRevealed,
	} {
		if !kinds[k] {
			t.Errorf("Expected %s in batch history", k)
		}
	}
}

func TestParticipantErrors(t *testing.T) {
	router := setupTestRouter(newPopulatedNode(t))

	tests := []struct {
		name   string
		caller string
		body   RegisterParticipantRequest
		status int
		code   string
	}{
		{"non-admin", testManufacturer, RegisterParticipantRequest{Address: testOutsider, Role: ledger.RoleRetailer}, http.StatusForbidden, "NOT_AUTHORIZED"},
		{"already registered", testAdmin, RegisterParticipantRequest{Address: testRetailer, Role: ledger.RoleRetailer}, http.StatusConflict, "ALREADY_REGISTERED"},
		{"role none", testAdmin, RegisterParticipantRequest{Address: testOutsider, Role: ledger.RoleNone}, http.StatusBadRequest, "INVALID_ROLE"},
		{"empty address", testAdmin, RegisterParticipantRequest{Address: "", Role: ledger.RoleRetailer}, http.StatusBadRequest, "INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := doRequest(t, router, "POST", "/api/participants", tt.caller, tt.body)
			expectStatus(t, w, env, tt.status, tt.code)
		})
	}

	t.Run("unknown participant is role None", func(t *testing.T) {
		w, env := doRequest(t, router, "GET", "/api/participants/"+testOutsider, "", nil)
		expectStatus(t, w, env, http.StatusOK, "")
		var p ledger.Participant
		decodeData(t, env, &p)
		if p.Role != ledger.RoleNone || p.IsActive {
			t.Errorf("Expected inactive None record, got %+v", p)
		}
	})
}

func TestWriteRequiresCaller(t *testing.T) {
	router := setupTestRouter(newPopulatedNode(t))

	w, env := doRequest(t, router, "POST", "/api/batches", "", CreateBatchRequest{PublicMetadata: "x"})
	expectStatus(t, w, env, http.StatusUnauthorized, "MISSING_CALLER")

	w, env = doRequest(t, router, "POST", "/api/batches", "bad\x01caller", CreateBatchRequest{PublicMetadata: "x"})
	expectStatus(t, w, env, http.StatusBadRequest, "INVALID_CALLER")
}

func TestBatchLookupErrors(t *testing.T) {
	router := setupTestRouter(newPopulatedNode(t))

	tests := []struct {
		path   string
		status int
		code   string
	}{
		{"/api/batches/99", http.StatusNotFound, "BATCH_NOT_FOUND"},
		{"/api/batches/0", http.StatusBadRequest, "INVALID_INPUT"},
		{"/api/batches/abc", http.StatusBadRequest, "INVALID_INPUT"},
		{"/api/batches/99/checkpoints", http.StatusNotFound, "BATCH_NOT_FOUND"},
		{"/api/batches/99/traceability", http.StatusNotFound, "BATCH_NOT_FOUND"},
		{"/api/batches/99/access/" + testRetailer, http.StatusNotFound, "BATCH_NOT_FOUND"},
		{"/api/batches/99/commitments/" + testRetailer, http.StatusNotFound, "BATCH_NOT_FOUND"},
		{"/api/batches/99/track", http.StatusNotFound, "BATCH_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w, env := doRequest(t, router, "GET", tt.path, "", nil)
			expectStatus(t, w, env, tt.status, tt.code)
		})
	}
}

func TestCreateBatchValidation(t *testing.T) {
	router := setupTestRouter(newPopulatedNode(t))

	t.Run("only manufacturers create batches", func(t *testing.T) {
		w, env := doRequest(t, router, "POST", "/api/batches", testRetailer, CreateBatchRequest{PublicMetadata: "x"})
		expectStatus(t, w, env, http.StatusForbidden, "NOT_REGISTERED")
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/batches", bytes.NewReader([]byte(`{"publicMetadata":"x","hashedQuantty":"0x00"}`)))
		req.Header.Set(CallerAddressHeader, testManufacturer)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Code)
		}
	})

	t.Run("malformed nonce", func(t *testing.T) {
		w, env := doRequest(t, router, "POST", "/api/batches", testManufacturer, CreateBatchRequest{PublicMetadata: "x", Nonce: "-1"})
		expectStatus(t, w, env, http.StatusBadRequest, "INVALID_INPUT")
	})
}

func TestOperationNonceReplayOverHTTP(t *testing.T) {
	router := setupTestRouter(newPopulatedNode(t))

	body := CreateBatchRequest{
		HashedQuantity: ledger.CommitUint64(10, 1),
		PublicMetadata: "Honey",
		Nonce:          "424242",
	}
	w, env := doRequest(t, router, "POST", "/api/batches", testManufacturer, body)
	expectStatus(t, w, env, http.StatusCreated, "")

	w, env = doRequest(t, router, "POST", "/api/batches", testManufacturer, body)
	expectStatus(t, w, env, http.StatusConflict, "NONCE_REUSED")
}

func TestTraceabilityHandlers(t *testing.T) {
	node := newPopulatedNode(t)
	router := setupTestRouter(node)

	id := createBatchOverHTTP(t, router, testManufacturer, "Chocolate")
	batchPath := fmt.Sprintf("/api/batches/%d", id)

	w, env := doRequest(t, router, "POST", batchPath+"/access", testManufacturer, GrantAccessRequest{Participant: testSupplier})
	expectStatus(t, w, env, http.StatusOK, "")

	w, env = doRequest(t, router, "POST", batchPath+"/components", testSupplier, AddComponentRequest{
		ComponentCode: ledger.CommitUint64(7001, 1),
		Percentage:    ledger.CommitUint64(70, 2),
		Description:   "Cocoa mass",
	})
	expectStatus(t, w, env, http.StatusCreated, "")
	var added struct {
		Index int `json:"index"`
	}
	decodeData(t, env, &added)
	if added.Index != 0 {
		t.Errorf("Expected component index 0, got %d", added.Index)
	}

	w, env = doRequest(t, router, "POST", batchPath+"/components", testRetailer, AddComponentRequest{Description: "Sugar"})
	expectStatus(t, w, env, http.StatusForbidden, "NOT_AUTHORIZED")

	const metricsNonce = 555
	w, env = doRequest(t, router, "POST", batchPath+"/quality-metrics", testManufacturer, UpdateQualityMetricsRequest{
		Temperature: ledger.CommitUint64(18, metricsNonce),
		Humidity:    ledger.CommitUint64(45, metricsNonce),
		ShelfLife:   ledger.CommitUint64(365, metricsNonce),
		TestResults: ledger.CommitUint64(1, metricsNonce),
	})
	expectStatus(t, w, env, http.StatusOK, "")

	w, env = doRequest(t, router, "POST", batchPath+"/quality-metrics/verify", "", VerifyQualityDataRequest{
		Temperature: "18",
		Humidity:    "46",
		ShelfLife:   "365",
		Nonce:       "555",
	})
	expectStatus(t, w, env, http.StatusOK, "")
	var check ledger.QualityCheck
	decodeData(t, env, &check)
	if !check.Temperature || check.Humidity || !check.ShelfLife {
		t.Errorf("Expected temperature and shelf life to match only, got %+v", check)
	}

	w, env = doRequest(t, router, "POST", batchPath+"/certifications", testInspector, AddCertificationRequest{
		CertType:   "Organic",
		CertNumber: ledger.CommitUint64(123456, 3),
		ExpiryDate: ledger.CommitUint64(20301231, 4),
	})
	expectStatus(t, w, env, http.StatusCreated, "")

	w, env = doRequest(t, router, "POST", batchPath+"/certifications", testSupplier, AddCertificationRequest{CertType: "Fairtrade"})
	expectStatus(t, w, env, http.StatusForbidden, "NOT_AUTHORIZED")

	rating := SubmitFeedbackRequest{Rating: ledger.CommitUint64(5, 9)}
	w, env = doRequest(t, router, "POST", batchPath+"/feedback", testSupplier, rating)
	expectStatus(t, w, env, http.StatusCreated, "")
	w, env = doRequest(t, router, "POST", batchPath+"/feedback", testSupplier, rating)
	expectStatus(t, w, env, http.StatusConflict, "ALREADY_SUBMITTED")

	w, env = doRequest(t, router, "GET", batchPath+"/traceability", "", nil)
	expectStatus(t, w, env, http.StatusOK, "")
	var trace ledger.Traceability
	decodeData(t, env, &trace)
	if len(trace.Components) != 1 || len(trace.Certifications) != 1 || len(trace.Feedback) != 1 {
		t.Errorf("Expected one component, certification and rating, got %+v", trace)
	}
	if trace.Metrics == nil || trace.Metrics.UpdatedBy != testManufacturer {
		t.Errorf("Expected metrics updated by manufacturer, got %+v", trace.Metrics)
	}
}

func TestSupplierHandlers(t *testing.T) {
	router := setupTestRouter(newPopulatedNode(t))

	scores := RegisterSupplierRequest{
		Supplier:        testSupplier,
		DeliveryScore:   ledger.CommitUint64(90, 1),
		QualityScore:    ledger.CommitUint64(85, 2),
		ComplianceScore: ledger.CommitUint64(99, 3),
	}

	w, env := doRequest(t, router, "GET", "/api/suppliers/"+testSupplier, "", nil)
	expectStatus(t, w, env, http.StatusNotFound, "SUPPLIER_NOT_FOUND")

	w, env = doRequest(t, router, "POST", "/api/agreements", testManufacturer, CreateAgreementRequest{Supplier: testSupplier, ValidDays: 30})
	expectStatus(t, w, env, http.StatusForbidden, "NOT_REGISTERED")

	w, env = doRequest(t, router, "POST", "/api/suppliers", testManufacturer, scores)
	expectStatus(t, w, env, http.StatusForbidden, "NOT_AUTHORIZED")

	notSupplier := scores
	notSupplier.Supplier = testRetailer
	w, env = doRequest(t, router, "POST", "/api/suppliers", testAdmin, notSupplier)
	expectStatus(t, w, env, http.StatusBadRequest, "INVALID_ROLE")

	w, env = doRequest(t, router, "POST", "/api/suppliers", testAdmin, scores)
	expectStatus(t, w, env, http.StatusCreated, "")

	w, env = doRequest(t, router, "GET", "/api/suppliers/"+testSupplier, "", nil)
	expectStatus(t, w, env, http.StatusOK, "")

	w, env = doRequest(t, router, "POST", "/api/agreements", testManufacturer, CreateAgreementRequest{
		Supplier:    testSupplier,
		MinQuantity: ledger.CommitUint64(100, 5),
		MaxQuantity: ledger.CommitUint64(1000, 6),
		Price:       ledger.CommitUint64(42, 7),
		Discount:    ledger.CommitUint64(5, 8),
		ValidDays:   30,
	})
	expectStatus(t, w, env, http.StatusCreated, "")

	w, env = doRequest(t, router, "POST", "/api/agreements", testManufacturer, CreateAgreementRequest{Supplier: testSupplier, ValidDays: 0})
	expectStatus(t, w, env, http.StatusBadRequest, "INVALID_INPUT")

	w, env = doRequest(t, router, "GET", "/api/agreements/"+testSupplier+"/"+testManufacturer, "", nil)
	expectStatus(t, w, env, http.StatusOK, "")
	var view AgreementView
	decodeData(t, env, &view)
	if !view.Valid {
		t.Error("Expected fresh agreement to be valid")
	}
	if got := view.Agreement.ValidUntil.Sub(view.Agreement.CreatedAt); got != 30*24*time.Hour {
		t.Errorf("Expected 30 day validity, got %v", got)
	}

	w, env = doRequest(t, router, "GET", "/api/agreements/"+testSupplier+"/"+testDistributor, "", nil)
	expectStatus(t, w, env, http.StatusNotFound, "AGREEMENT_NOT_FOUND")
}

func TestGetEventsHandler(t *testing.T) {
	node := newPopulatedNode(t)
	router := setupTestRouter(node)
	createBatchOverHTTP(t, router, testManufacturer, "Tea")

	last := node.Engine.LastEventSeq()
	if last != 6 {
		t.Fatalf("Expected 6 events (5 registrations and a batch), got %d", last)
	}

	type eventsPage struct {
		Events       []ledger.Event `json:"events"`
		LastEventSeq uint64         `json:"lastEventSeq"`
	}

	w, env := doRequest(t, router, "GET", "/api/events?since=4", "", nil)
	expectStatus(t, w, env, http.StatusOK, "")
	var page eventsPage
	decodeData(t, env, &page)
	if len(page.Events) != 2 || page.Events[0].Seq != 5 || page.LastEventSeq != last {
		t.Errorf("Expected events 5 and 6, got %+v", page)
	}
	if page.Events[1].Kind != ledger.EventProductBatchCreated {
		t.Errorf("Expected batch creation event last, got %s", page.Events[1].Kind)
	}

	w, env = doRequest(t, router, "GET", "/api/events?since=0&limit=2", "", nil)
	expectStatus(t, w, env, http.StatusOK, "")
	decodeData(t, env, &page)
	if len(page.Events) != 2 || page.Events[0].Seq != 1 {
		t.Errorf("Expected first two events, got %+v", page.Events)
	}

	w, env = doRequest(t, router, "GET", "/api/events?since=-1", "", nil)
	expectStatus(t, w, env, http.StatusBadRequest, "INVALID_INPUT")

	w, env = doRequest(t, router, "GET", "/api/events?since=100", "", nil)
	expectStatus(t, w, env, http.StatusOK, "")
	decodeData(t, env, &page)
	if len(page.Events) != 0 {
		t.Errorf("Expected no events past the head, got %d", len(page.Events))
	}
}

func TestListBatchesPagination(t *testing.T) {
	node := newPopulatedNode(t)
	if err := node.Engine.Register(testAdmin, testOutsider, ledger.RoleManufacturer, ledger.Digest{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	router := setupTestRouter(node)

	for i := 0; i < 5; i++ {
		createBatchOverHTTP(t, router, testManufacturer, fmt.Sprintf("lot %d", i))
	}
	createBatchOverHTTP(t, router, testOutsider, "other")

	type batchPage struct {
		Data       []ledger.BatchInfo `json:"data"`
		Pagination PaginationMeta     `json:"pagination"`
	}

	w, env := doRequest(t, router, "GET", "/api/batches?limit=2&offset=1", "", nil)
	expectStatus(t, w, env, http.StatusOK, "")
	var page batchPage
	decodeData(t, env, &page)
	if len(page.Data) != 2 || page.Data[0].BatchID != 2 {
		t.Errorf("Expected batches 2 and 3, got %+v", page.Data)
	}
	if page.Pagination.Total != 6 || !page.Pagination.HasMore {
		t.Errorf("Expected total 6 with more, got %+v", page.Pagination)
	}

	w, env = doRequest(t, router, "GET", "/api/batches?manufacturer="+testOutsider, "", nil)
	expectStatus(t, w, env, http.StatusOK, "")
	decodeData(t, env, &page)
	if len(page.Data) != 1 || page.Data[0].Manufacturer != testOutsider {
		t.Errorf("Expected one batch for the second manufacturer, got %+v", page.Data)
	}

	w, env = doRequest(t, router, "GET", "/api/participants?limit=3", "", nil)
	expectStatus(t, w, env, http.StatusOK, "")
	var participants struct {
		Data       []ledger.Participant `json:"data"`
		Pagination PaginationMeta       `json:"pagination"`
	}
	decodeData(t, env, &participants)
	if len(participants.Data) != 3 || participants.Pagination.Total != 6 {
		t.Errorf("Expected 3 of 6 participants, got %d of %d", len(participants.Data), participants.Pagination.Total)
	}
}

func TestGetSnapshotHandler(t *testing.T) {
	node := newPopulatedNode(t)
	router := setupTestRouter(node)

	w, env := doRequest(t, router, "GET", "/api/snapshot", "", nil)
	expectStatus(t, w, env, http.StatusOK, "")

	var ss SignedSnapshot
	decodeData(t, env, &ss)
	if err := VerifySnapshot(&ss, node.GetPublicKeyHex()); err != nil {
		t.Errorf("Expected served snapshot to verify, got %v", err)
	}
	if len(ss.State.Participants) != 5 {
		t.Errorf("Expected 5 participants in snapshot, got %d", len(ss.State.Participants))
	}

	w, env = doRequest(t, router, "GET", "/api/snapshot/archive/not-a-cid", "", nil)
	expectStatus(t, w, env, http.StatusBadRequest, "INVALID_CID")

	w, env = doRequest(t, router, "GET", "/api/snapshot/archive/QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", "", nil)
	expectStatus(t, w, env, http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE")
}

func TestRequiredCallerAuth(t *testing.T) {
	cfg := testConfig(t)
	cfg.RequireCallerAuth = true
	cfg.CallerAuthSecret = "master-secret"
	node := newTestNodeWithConfig(t, cfg)
	router := setupTestRouter(node)

	body, _ := json.Marshal(RegisterParticipantRequest{Address: testRetailer, Role: ledger.RoleRetailer})

	w, env := doRequest(t, router, "POST", "/api/participants", testAdmin, RegisterParticipantRequest{Address: testRetailer, Role: ledger.RoleRetailer})
	expectStatus(t, w, env, http.StatusUnauthorized, "UNAUTHORIZED")

	key := DeriveCallerKey(cfg.CallerAuthSecret, testAdmin)
	req := signedRequest("POST", "/api/participants", testAdmin, key, body, time.Now().Unix())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected signed request to succeed, got %d: %s", rec.Code, rec.Body.String())
	}

	// Reads stay open.
	w, env = doRequest(t, router, "GET", "/api/participants/"+testRetailer, "", nil)
	expectStatus(t, w, env, http.StatusOK, "")
}

func TestDefaultConfigRejectsUnsignedMutations(t *testing.T) {
	cfg := testConfig(t)
	cfg.RequireCallerAuth = defaultConfig().RequireCallerAuth
	cfg.CallerAuthSecret = "master-secret"
	router := setupTestRouter(newTestNodeWithConfig(t, cfg))

	w, env := doRequest(t, router, "POST", "/api/participants", testAdmin, RegisterParticipantRequest{Address: testRetailer, Role: ledger.RoleRetailer})
	expectStatus(t, w, env, http.StatusUnauthorized, "UNAUTHORIZED")

	w, env = doRequest(t, router, "GET", "/api/participants/"+testRetailer, "", nil)
	expectStatus(t, w, env, http.StatusOK, "")
	var p ledger.Participant
	decodeData(t, env, &p)
	if p.IsActive {
		t.Error("Expected unsigned registration to have no effect")
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		kind   string
		status int
		code   string
	}{
		{"InvalidInput", http.StatusBadRequest, "INVALID_INPUT"},
		{"InvalidRole", http.StatusBadRequest, "INVALID_ROLE"},
		{"InvalidTransition", http.StatusUnprocessableEntity, "INVALID_TRANSITION"},
		{"RevealMismatch", http.StatusUnprocessableEntity, "REVEAL_MISMATCH"},
		{"NotRegistered", http.StatusForbidden, "NOT_REGISTERED"},
		{"NotAuthorized", http.StatusForbidden, "NOT_AUTHORIZED"},
		{"BatchNotFound", http.StatusNotFound, "BATCH_NOT_FOUND"},
		{"NoSuchCommitment", http.StatusNotFound, "NO_SUCH_COMMITMENT"},
		{"IndexOutOfRange", http.StatusNotFound, "INDEX_OUT_OF_RANGE"},
		{"AlreadyRegistered", http.StatusConflict, "ALREADY_REGISTERED"},
		{"AlreadyRevealed", http.StatusConflict, "ALREADY_REVEALED"},
		{"NonceReused", http.StatusConflict, "NONCE_REUSED"},
		{"AlreadySubmitted", http.StatusConflict, "ALREADY_SUBMITTED"},
		{"Internal", http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			if got := statusForKind(tt.kind); got != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, got)
			}
			if got := errorCode(tt.kind); got != tt.code {
				t.Errorf("Expected code '%s', got '%s'", tt.code, got)
			}
		})
	}

	t.Run("foreign errors are masked", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeLedgerError(w, fmt.Errorf("disk on fire"))
		if w.Code != http.StatusInternalServerError {
			t.Errorf("Expected status 500, got %d", w.Code)
		}
		if bytes.Contains(w.Body.Bytes(), []byte("disk on fire")) {
			t.Error("Expected internal error detail to be hidden")
		}
	})
}
