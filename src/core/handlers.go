package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sealtrace/sealtrace/src/ledger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// buildRouter assembles the node's HTTP surface. Versioned routes live under
// /api/v1 and are mirrored under /api.
func (node *SealNode) buildRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestIDMiddleware)
	router.Use(APIVersionMiddleware)
	router.Use(MetricsMiddleware)

	for _, prefix := range []string{"/api/v1", "/api"} {
		api := router.PathPrefix(prefix).Subrouter()
		api.Use(RateLimitMiddleware(node.limiter, node.config.TrustProxyHeaders))
		api.Use(BodySizeLimitMiddleware(node.config.MaxBodySizeBytes))
		api.Use(CallerMiddleware(node.config.CallerAuthSecret, node.config.RequireCallerAuth))
		node.registerAPIRoutes(api)
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return router
}

func (node *SealNode) registerAPIRoutes(r *mux.Router) {
	r.HandleFunc("/health", node.HealthCheckHandler).Methods("GET")
	r.HandleFunc("/info", node.InfoHandler).Methods("GET")

	// Participants
	r.HandleFunc("/participants", node.RegisterParticipantHandler).Methods("POST")
	r.HandleFunc("/participants", node.ListParticipantsHandler).Methods("GET")
	r.HandleFunc("/participants/{address}", node.GetParticipantHandler).Methods("GET")

	// Batches and custody
	r.HandleFunc("/batches", node.CreateBatchHandler).Methods("POST")
	r.HandleFunc("/batches", node.ListBatchesHandler).Methods("GET")
	r.HandleFunc("/batches/{id}", node.GetBatchHandler).Methods("GET")
	r.HandleFunc("/batches/{id}/checkpoints", node.AddCheckpointHandler).Methods("POST")
	r.HandleFunc("/batches/{id}/checkpoints", node.ListCheckpointsHandler).Methods("GET")
	r.HandleFunc("/batches/{id}/checkpoints/{index}", node.GetCheckpointHandler).Methods("GET")
	r.HandleFunc("/batches/{id}/access", node.GrantAccessHandler).Methods("POST")
	r.HandleFunc("/batches/{id}/access", node.ListGranteesHandler).Methods("GET")
	r.HandleFunc("/batches/{id}/access/{address}", node.CheckAccessHandler).Methods("GET")
	r.HandleFunc("/batches/{id}/quality", node.VerifyQualityHandler).Methods("POST")
	r.HandleFunc("/batches/{id}/track", node.TrackBatchHandler).Methods("GET")
	r.HandleFunc("/batches/{id}/events", node.BatchEventsHandler).Methods("GET")

	// Commit-reveal
	r.HandleFunc("/batches/{id}/commitments", node.CommitDataHandler).Methods("POST")
	r.HandleFunc("/batches/{id}/commitments", node.ListCommitmentsHandler).Methods("GET")
	r.HandleFunc("/batches/{id}/commitments/{address}", node.GetCommitmentHandler).Methods("GET")
	r.HandleFunc("/batches/{id}/reveal", node.RevealDataHandler).Methods("POST")
	r.HandleFunc("/batches/{id}/integrity", node.IntegrityHandler).Methods("POST")
	r.HandleFunc("/batches/{id}/disclosures", node.ListDisclosuresHandler).Methods("GET")

	// Traceability
	r.HandleFunc("/batches/{id}/components", node.AddComponentHandler).Methods("POST")
	r.HandleFunc("/batches/{id}/quality-metrics", node.UpdateQualityMetricsHandler).Methods("POST")
	r.HandleFunc("/batches/{id}/quality-metrics/verify", node.VerifyQualityDataHandler).Methods("POST")
	r.HandleFunc("/batches/{id}/certifications", node.AddCertificationHandler).Methods("POST")
	r.HandleFunc("/batches/{id}/feedback", node.SubmitFeedbackHandler).Methods("POST")
	r.HandleFunc("/batches/{id}/traceability", node.GetTraceabilityHandler).Methods("GET")

	// Suppliers
	r.HandleFunc("/suppliers", node.RegisterSupplierHandler).Methods("POST")
	r.HandleFunc("/suppliers/{address}", node.GetSupplierHandler).Methods("GET")
	r.HandleFunc("/agreements", node.CreateAgreementHandler).Methods("POST")
	r.HandleFunc("/agreements/{supplier}/{manufacturer}", node.GetAgreementHandler).Methods("GET")

	// Events
	r.HandleFunc("/events", node.GetEventsHandler).Methods("GET")
	r.HandleFunc("/events/stream", node.EventStreamHandler).Methods("GET")

	// Snapshots
	r.HandleFunc("/snapshot", node.GetSnapshotHandler).Methods("GET")
	r.HandleFunc("/snapshot/archive/{cid}", node.GetArchivedSnapshotHandler).Methods("GET")
}

// StartServer serves the API on port until ctx is cancelled, then shuts the
// listener down gracefully.
func (node *SealNode) StartServer(ctx context.Context, port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           withTracing(node.buildRouter(), node.tracing),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting sealtrace node server", "port", port, "nodeId", node.NodeID)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), node.config.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Response envelope

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteSuccess writes data in the success envelope.
func WriteSuccess(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
}

// WriteError writes the error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Error: &apiError{Code: code, Message: message}})
}

// statusForKind maps a ledger error kind to an HTTP status.
func statusForKind(kind string) int {
	switch kind {
	case "InvalidInput", "InvalidRole":
		return http.StatusBadRequest
	case "InvalidTransition", "RevealMismatch":
		return http.StatusUnprocessableEntity
	case "NotRegistered", "NotAuthorized":
		return http.StatusForbidden
	case "BatchNotFound", "NoSuchCommitment", "IndexOutOfRange":
		return http.StatusNotFound
	case "AlreadyRegistered", "AlreadyRevealed", "NonceReused", "AlreadySubmitted":
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// errorCode turns a kind name such as BatchNotFound into BATCH_NOT_FOUND.
func errorCode(kind string) string {
	var b strings.Builder
	for i, c := range kind {
		if i > 0 && unicode.IsUpper(c) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(c))
	}
	return b.String()
}

func writeLedgerError(w http.ResponseWriter, err error) {
	kind := ledger.KindOf(err)
	status := statusForKind(kind)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Unexpected ledger error", "error", err)
		message = "Internal error"
	}
	WriteError(w, status, errorCode(kind), message)
}

// finish records the outcome of a ledger operation and writes the response.
func finish(w http.ResponseWriter, r *http.Request, op string, caller ledger.Address, batchID uint64, err error, status int, data interface{}) {
	RecordOperation(op, err)
	annotateOperation(r.Context(), op, caller, batchID, err)
	if err != nil {
		logger.Debug("Rejected ledger operation", "op", op, "caller", caller, "batchId", batchID, "error", err, "requestId", GetRequestID(r.Context()))
		writeLedgerError(w, err)
		return
	}
	WriteSuccess(w, status, data)
}

// requireCaller returns the authenticated caller or writes 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (ledger.Address, bool) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "MISSING_CALLER", CallerAddressHeader+" header is required")
		return "", false
	}
	return caller, true
}

// batchWrite runs the common prologue of a batch-scoped write: caller, batch
// id and body.
func batchWrite(w http.ResponseWriter, r *http.Request, dst interface{}) (ledger.Address, uint64, bool) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return "", 0, false
	}
	id, err := parseBatchID(r)
	if err != nil {
		writeLedgerError(w, err)
		return "", 0, false
	}
	if dst != nil {
		if err := DecodeJSONBody(w, r, dst); err != nil {
			return "", 0, false
		}
	}
	return caller, id, true
}

// HealthCheckHandler handles health check requests
func (node *SealNode) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"nodeId":  node.NodeID,
		"uptime":  int64(time.Since(node.StartedAt).Seconds()),
		"version": NodeVersion,
	})
}

// InfoHandler reports ledger-wide facts.
func (node *SealNode) InfoHandler(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, http.StatusOK, NodeInfo{
		NodeID:           node.NodeID,
		PublicKey:        node.GetPublicKeyHex(),
		Version:          NodeVersion,
		Admin:            node.Engine.Admin(),
		CommitmentScheme: node.Engine.Scheme().Name(),
		NextBatchID:      node.Engine.NextBatchID(),
		ParticipantCount: node.Engine.ParticipantCount(),
		LastEventSeq:     node.Engine.LastEventSeq(),
		JournalEnabled:   node.history != nil,
		LastSnapshot:     node.LastSnapshot(),
	})
}

// Participants

func (node *SealNode) RegisterParticipantHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req RegisterParticipantRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	addr, err := parseAddressField("address", req.Address)
	if err == nil {
		err = node.Engine.Register(caller, addr, req.Role, req.RatingCommitment)
	}
	finish(w, r, "register", caller, 0, err, http.StatusCreated, node.Engine.GetParticipant(addr))
}

func (node *SealNode) ListParticipantsHandler(w http.ResponseWriter, r *http.Request) {
	params := ParsePaginationParams(r, defaultPageSize, maxPageSize)
	page, meta := paginate(node.Engine.Participants(), params)
	WriteSuccess(w, http.StatusOK, PaginatedResponse{Data: page, Pagination: meta})
}

// GetParticipantHandler returns the registry record; unregistered addresses
// get the zero record with role None.
func (node *SealNode) GetParticipantHandler(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddressVar(r, "address")
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	p := node.Engine.GetParticipant(addr)
	if p.Address == "" {
		p.Address = addr
	}
	WriteSuccess(w, http.StatusOK, p)
}

// Batches

func (node *SealNode) CreateBatchHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req CreateBatchRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	var batchID uint64
	nonce, err := parseOptionalNonce(req.Nonce)
	if err == nil {
		batchID, err = node.Engine.CreateProductBatch(caller, ledger.BatchCommitments{
			HashedQuantity:     req.HashedQuantity,
			HashedQualityScore: req.HashedQualityScore,
			HashedPrice:        req.HashedPrice,
		}, req.PublicMetadata, nonce)
	}
	finish(w, r, "createProductBatch", caller, batchID, err, http.StatusCreated, map[string]uint64{"batchId": batchID})
}

func (node *SealNode) ListBatchesHandler(w http.ResponseWriter, r *http.Request) {
	var manufacturer ledger.Address
	if raw := r.URL.Query().Get("manufacturer"); raw != "" {
		addr, err := parseAddressField("manufacturer", raw)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		manufacturer = addr
	}
	params := ParsePaginationParams(r, defaultPageSize, maxPageSize)
	page, meta := paginate(node.Engine.ListBatches(manufacturer), params)
	WriteSuccess(w, http.StatusOK, PaginatedResponse{Data: page, Pagination: meta})
}

func (node *SealNode) GetBatchHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	info, err := node.Engine.GetBatchInfo(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, info)
}

func (node *SealNode) AddCheckpointHandler(w http.ResponseWriter, r *http.Request) {
	var req AddCheckpointRequest
	caller, id, ok := batchWrite(w, r, &req)
	if !ok {
		return
	}
	nonce, err := parseOptionalNonce(req.Nonce)
	if err == nil {
		err = node.Engine.AddCheckpoint(caller, id, ledger.CheckpointInput{
			HashedTimestamp: req.HashedTimestamp,
			HashedLocation:  req.HashedLocation,
			PublicNote:      req.PublicNote,
			NewStatus:       req.NewStatus,
		}, nonce)
	}
	var count int
	if err == nil {
		count, _ = node.Engine.GetCheckpointCount(id)
	}
	finish(w, r, "addCheckpoint", caller, id, err, http.StatusCreated, map[string]interface{}{
		"batchId": id,
		"index":   count - 1,
		"status":  req.NewStatus,
	})
}

func (node *SealNode) ListCheckpointsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	batch, err := node.Engine.GetProductBatch(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	params := ParsePaginationParams(r, defaultPageSize, maxPageSize)
	page, meta := paginate(batch.Checkpoints, params)
	WriteSuccess(w, http.StatusOK, PaginatedResponse{Data: page, Pagination: meta})
}

func (node *SealNode) GetCheckpointHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeLedgerError(w, fmt.Errorf("%w: checkpoint index must be an integer", ledger.ErrInvalidInput))
		return
	}
	cp, err := node.Engine.GetCheckpoint(id, index)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, cp)
}

// Access

func (node *SealNode) GrantAccessHandler(w http.ResponseWriter, r *http.Request) {
	var req GrantAccessRequest
	caller, id, ok := batchWrite(w, r, &req)
	if !ok {
		return
	}
	participant, err := parseAddressField("participant", req.Participant)
	if err == nil {
		err = node.Engine.GrantAccess(caller, participant, id)
	}
	finish(w, r, "grantAccess", caller, id, err, http.StatusOK, AccessResult{
		BatchID:     id,
		Participant: participant,
		HasAccess:   err == nil,
	})
}

func (node *SealNode) ListGranteesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	grantees, err := node.Engine.Grantees(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, grantees)
}

func (node *SealNode) CheckAccessHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	addr, err := parseAddressVar(r, "address")
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if _, err := node.Engine.GetBatchInfo(id); err != nil {
		writeLedgerError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, AccessResult{
		BatchID:     id,
		Participant: addr,
		HasAccess:   node.Engine.HasAccessToBatch(addr, id),
	})
}

func (node *SealNode) VerifyQualityHandler(w http.ResponseWriter, r *http.Request) {
	var req VerifyQualityRequest
	caller, id, ok := batchWrite(w, r, &req)
	if !ok {
		return
	}
	nonce, err := parseOptionalNonce(req.Nonce)
	if err == nil {
		err = node.Engine.VerifyQuality(caller, id, req.NewQualityScore, nonce)
	}
	finish(w, r, "verifyQuality", caller, id, err, http.StatusOK, map[string]interface{}{
		"batchId":  id,
		"status":   ledger.StatusVerified,
		"verifier": caller,
	})
}

// Commit-reveal

func (node *SealNode) CommitDataHandler(w http.ResponseWriter, r *http.Request) {
	var req CommitDataRequest
	caller, id, ok := batchWrite(w, r, &req)
	if !ok {
		return
	}
	err := node.Engine.CommitData(caller, id, req.CommitmentHash)
	var c ledger.Commitment
	if err == nil {
		c, err = node.Engine.GetCommitment(id, caller)
	}
	finish(w, r, "commitData", caller, id, err, http.StatusCreated, c)
}

func (node *SealNode) ListCommitmentsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	commitments, err := node.Engine.GetCommitments(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, commitments)
}

func (node *SealNode) GetCommitmentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	committer, err := parseAddressVar(r, "address")
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	c, err := node.Engine.GetCommitment(id, committer)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, c)
}

func (node *SealNode) RevealDataHandler(w http.ResponseWriter, r *http.Request) {
	var req RevealDataRequest
	caller, id, ok := batchWrite(w, r, &req)
	if !ok {
		return
	}
	data, err := parseValue("data", req.Data)
	if err == nil {
		nonce, nerr := parseValue("nonce", req.Nonce)
		if nerr != nil {
			err = nerr
		} else {
			err = node.Engine.RevealData(caller, id, data, nonce)
		}
	}
	finish(w, r, "revealData", caller, id, err, http.StatusOK, map[string]interface{}{
		"batchId":  id,
		"revealer": caller,
		"data":     req.Data,
	})
}

// IntegrityHandler recomputes a commitment for a claimed value. It records
// nothing on the ledger.
func (node *SealNode) IntegrityHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	var req IntegrityRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	nonce, err := parseValue("nonce", req.Nonce)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	var valid bool
	if req.Text != nil {
		valid = node.Engine.VerifyTextIntegrity(id, *req.Text, nonce, req.ExpectedHash)
	} else {
		data, err := parseValue("data", req.Data)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		valid = node.Engine.VerifyDataIntegrity(id, data, nonce, req.ExpectedHash)
	}
	WriteSuccess(w, http.StatusOK, IntegrityResult{Valid: valid})
}

func (node *SealNode) ListDisclosuresHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	disclosures, err := node.Engine.GetDisclosures(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, disclosures)
}

// Traceability

func (node *SealNode) AddComponentHandler(w http.ResponseWriter, r *http.Request) {
	var req AddComponentRequest
	caller, id, ok := batchWrite(w, r, &req)
	if !ok {
		return
	}
	var index int
	nonce, err := parseOptionalNonce(req.Nonce)
	if err == nil {
		index, err = node.Engine.AddComponent(caller, id, ledger.ComponentInput{
			ComponentCode: req.ComponentCode,
			Percentage:    req.Percentage,
			Description:   req.Description,
		}, nonce)
	}
	finish(w, r, "addComponent", caller, id, err, http.StatusCreated, map[string]int{"index": index})
}

func (node *SealNode) UpdateQualityMetricsHandler(w http.ResponseWriter, r *http.Request) {
	var req UpdateQualityMetricsRequest
	caller, id, ok := batchWrite(w, r, &req)
	if !ok {
		return
	}
	nonce, err := parseOptionalNonce(req.Nonce)
	if err == nil {
		err = node.Engine.UpdateQualityMetrics(caller, id, ledger.QualityMetricsInput{
			Temperature: req.Temperature,
			Humidity:    req.Humidity,
			ShelfLife:   req.ShelfLife,
			TestResults: req.TestResults,
		}, nonce)
	}
	var updated time.Time
	if err == nil {
		updated, _ = node.Engine.GetQualityUpdateTime(id)
	}
	finish(w, r, "updateQualityMetrics", caller, id, err, http.StatusOK, map[string]interface{}{
		"batchId":     id,
		"lastUpdated": updated,
	})
}

func (node *SealNode) AddCertificationHandler(w http.ResponseWriter, r *http.Request) {
	var req AddCertificationRequest
	caller, id, ok := batchWrite(w, r, &req)
	if !ok {
		return
	}
	nonce, err := parseOptionalNonce(req.Nonce)
	if err == nil {
		err = node.Engine.AddCertification(caller, id, ledger.CertificationInput{
			CertType:   req.CertType,
			CertNumber: req.CertNumber,
			ExpiryDate: req.ExpiryDate,
		}, nonce)
	}
	var count int
	if err == nil {
		count, _ = node.Engine.GetCertificationCount(id)
	}
	finish(w, r, "addCertification", caller, id, err, http.StatusCreated, map[string]int{"certificationCount": count})
}

func (node *SealNode) SubmitFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	var req SubmitFeedbackRequest
	caller, id, ok := batchWrite(w, r, &req)
	if !ok {
		return
	}
	nonce, err := parseOptionalNonce(req.Nonce)
	if err == nil {
		err = node.Engine.SubmitFeedback(caller, id, req.Rating, nonce)
	}
	finish(w, r, "submitFeedback", caller, id, err, http.StatusCreated, map[string]interface{}{
		"batchId":   id,
		"submitter": caller,
	})
}

func (node *SealNode) GetTraceabilityHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	t, err := node.Engine.GetTraceability(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, t)
}

func (node *SealNode) VerifyQualityDataHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	var req VerifyQualityDataRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	temperature, err := parseValue("temperature", req.Temperature)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	humidity, err := parseValue("humidity", req.Humidity)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	shelfLife, err := parseValue("shelfLife", req.ShelfLife)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	nonce, err := parseValue("nonce", req.Nonce)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	check, err := node.Engine.VerifyQualityData(id, temperature, humidity, shelfLife, nonce)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, check)
}

// Suppliers

func (node *SealNode) RegisterSupplierHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req RegisterSupplierRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	supplier, err := parseAddressField("supplier", req.Supplier)
	if err == nil {
		err = node.Engine.RegisterSupplier(caller, supplier, ledger.SupplierScores{
			DeliveryScore:   req.DeliveryScore,
			QualityScore:    req.QualityScore,
			ComplianceScore: req.ComplianceScore,
		})
	}
	profile, _ := node.Engine.GetSupplier(supplier)
	finish(w, r, "registerSupplier", caller, 0, err, http.StatusCreated, profile)
}

func (node *SealNode) GetSupplierHandler(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddressVar(r, "address")
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	profile, ok := node.Engine.GetSupplier(addr)
	if !ok {
		WriteError(w, http.StatusNotFound, "SUPPLIER_NOT_FOUND", "supplier is not verified")
		return
	}
	WriteSuccess(w, http.StatusOK, profile)
}

func (node *SealNode) CreateAgreementHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req CreateAgreementRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	supplier, err := parseAddressField("supplier", req.Supplier)
	if err == nil {
		err = node.Engine.CreateAgreement(caller, supplier, ledger.AgreementTerms{
			MinQuantity: req.MinQuantity,
			MaxQuantity: req.MaxQuantity,
			Price:       req.Price,
			Discount:    req.Discount,
		}, req.ValidDays)
	}
	agreement, _ := node.Engine.GetAgreement(supplier, caller)
	finish(w, r, "createAgreement", caller, 0, err, http.StatusCreated, AgreementView{
		Agreement: agreement,
		Valid:     err == nil,
	})
}

func (node *SealNode) GetAgreementHandler(w http.ResponseWriter, r *http.Request) {
	supplier, err := parseAddressVar(r, "supplier")
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	manufacturer, err := parseAddressVar(r, "manufacturer")
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	agreement, ok := node.Engine.GetAgreement(supplier, manufacturer)
	if !ok {
		WriteError(w, http.StatusNotFound, "AGREEMENT_NOT_FOUND", "no agreement between supplier and manufacturer")
		return
	}
	WriteSuccess(w, http.StatusOK, AgreementView{
		Agreement: agreement,
		Valid:     node.Engine.IsAgreementValid(supplier, manufacturer),
	})
}

// Events

// GetEventsHandler returns events after ?since. The in-memory window is
// consulted first; older ranges come from the journal when one is configured.
func (node *SealNode) GetEventsHandler(w http.ResponseWriter, r *http.Request) {
	since, err := parseUintQuery(r, "since")
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	limit := ParsePaginationParams(r, 100, 1000).Limit

	events, err := node.eventsSince(r.Context(), since, limit)
	if err != nil {
		logger.Error("Failed to read event journal", "error", err, "since", since)
		WriteError(w, http.StatusServiceUnavailable, "JOURNAL_UNAVAILABLE", "event journal is unavailable")
		return
	}
	if events == nil {
		events = []ledger.Event{}
	}
	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"events":       events,
		"lastEventSeq": node.Engine.LastEventSeq(),
	})
}

func (node *SealNode) eventsSince(ctx context.Context, since uint64, limit int) ([]ledger.Event, error) {
	events := node.Engine.EventsSince(since, limit)
	if node.history == nil || since >= node.Engine.LastEventSeq() {
		return events, nil
	}
	if len(events) > 0 && events[0].Seq == since+1 {
		return events, nil
	}
	journaled, err := node.history.Since(ctx, since, limit)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(journaled) >= limit {
		return journaled, nil
	}

	// The journal is written asynchronously and may trail the engine; the
	// retained window supplies what it has not stored yet.
	last := since
	if n := len(journaled); n > 0 {
		last = journaled[n-1].Seq
	}
	rest := 0
	if limit > 0 {
		rest = limit - len(journaled)
	}
	tail := node.Engine.EventsSince(last, rest)
	if len(tail) == 0 || tail[0].Seq != last+1 {
		return journaled, nil
	}
	return append(journaled, tail...), nil
}

// batchHistory returns every known event of one batch.
func (node *SealNode) batchHistory(ctx context.Context, id uint64) ([]ledger.Event, error) {
	if node.history != nil {
		return node.history.ForBatch(ctx, id)
	}
	var out []ledger.Event
	for _, ev := range node.Engine.EventsSince(0, 0) {
		if ev.BatchID == id {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (node *SealNode) BatchEventsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if _, err := node.Engine.GetBatchInfo(id); err != nil {
		writeLedgerError(w, err)
		return
	}
	events, err := node.batchHistory(r.Context(), id)
	if err != nil {
		logger.Error("Failed to read batch history", "error", err, "batchId", id)
		WriteError(w, http.StatusServiceUnavailable, "JOURNAL_UNAVAILABLE", "event journal is unavailable")
		return
	}
	params := ParsePaginationParams(r, defaultPageSize, maxPageSize)
	page, meta := paginate(events, params)
	WriteSuccess(w, http.StatusOK, PaginatedResponse{Data: page, Pagination: meta})
}

func (node *SealNode) TrackBatchHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	history, err := node.batchHistory(r.Context(), id)
	if err != nil {
		logger.Warn("Tracking view without history", "error", err, "batchId", id)
		history = nil
	}
	view, err := BuildTrackingView(node.Engine, id, history)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, view)
}

// Snapshots

// GetSnapshotHandler returns a freshly signed snapshot of the ledger.
func (node *SealNode) GetSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	signed, err := node.SignSnapshot(node.Engine.Snapshot())
	if err != nil {
		logger.Error("Failed to sign snapshot", "error", err)
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "failed to sign snapshot")
		return
	}
	WriteSuccess(w, http.StatusOK, signed)
}

// GetArchivedSnapshotHandler fetches an archived snapshot and checks that it
// was signed by this node.
func (node *SealNode) GetArchivedSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	cid := mux.Vars(r)["cid"]
	if !IsValidCID(cid) {
		WriteError(w, http.StatusBadRequest, "INVALID_CID", "malformed content identifier")
		return
	}
	if !node.archive.IsAvailable(r.Context()) {
		WriteError(w, http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE", "snapshot archive is not configured")
		return
	}
	signed, err := FetchSnapshot(r.Context(), node.archive, cid)
	if err != nil {
		WriteError(w, http.StatusBadGateway, "ARCHIVE_ERROR", err.Error())
		return
	}
	if err := VerifySnapshot(signed, node.GetPublicKeyHex()); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "SNAPSHOT_TAMPERED", err.Error())
		return
	}
	WriteSuccess(w, http.StatusOK, signed)
}
