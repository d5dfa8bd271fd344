package main

import (
	"context"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordingNode(t *testing.T) (*SealNode, *tracetest.SpanRecorder) {
	t.Helper()
	node := newPopulatedNode(t)
	sr := tracetest.NewSpanRecorder()
	node.tracing = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { node.tracing.Shutdown(context.Background()) })
	return node, sr
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestRequestSpanCarriesLedgerOperation(t *testing.T) {
	node, sr := recordingNode(t)
	handler := withTracing(node.buildRouter(), node.tracing)

	w, env := doRequest(t, handler, "POST", "/api/batches/999/access", testManufacturer, GrantAccessRequest{Participant: testDistributor})
	expectStatus(t, w, env, http.StatusNotFound, "BATCH_NOT_FOUND")

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 ended span, got %d", len(spans))
	}
	span := spans[0]
	attrs := spanAttrs(span)

	if got := attrs["ledger.operation"].AsString(); got != "grantAccess" {
		t.Errorf("Expected ledger.operation 'grantAccess', got '%s'", got)
	}
	if got := attrs["ledger.error_kind"].AsString(); got != "BatchNotFound" {
		t.Errorf("Expected ledger.error_kind 'BatchNotFound', got '%s'", got)
	}
	if got := attrs["ledger.batch_id"].AsInt64(); got != 999 {
		t.Errorf("Expected ledger.batch_id 999, got %d", got)
	}
	if got := attrs["ledger.caller"].AsString(); got != testManufacturer {
		t.Errorf("Expected ledger.caller '%s', got '%s'", testManufacturer, got)
	}
	if span.Status().Code != codes.Error {
		t.Errorf("Expected error status, got %v", span.Status().Code)
	}
}

func TestRequestSpanWithoutError(t *testing.T) {
	node, sr := recordingNode(t)
	handler := withTracing(node.buildRouter(), node.tracing)

	id := createBatchOverHTTP(t, handler, testManufacturer, "lot-7")

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 ended span, got %d", len(spans))
	}
	attrs := spanAttrs(spans[0])
	if _, ok := attrs["ledger.error_kind"]; ok {
		t.Error("Expected no ledger.error_kind on a successful operation")
	}
	if got := attrs["ledger.operation"].AsString(); got != "createProductBatch" {
		t.Errorf("Expected ledger.operation 'createProductBatch', got '%s'", got)
	}
	if got := attrs["ledger.batch_id"].AsInt64(); got != int64(id) {
		t.Errorf("Expected ledger.batch_id %d, got %d", id, got)
	}
}

func TestSnapshotSpan(t *testing.T) {
	node, sr := recordingNode(t)
	if _, err := node.SaveSnapshot(context.Background()); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	spans := sr.Ended()
	if len(spans) != 1 || spans[0].Name() != "ledger.snapshot" {
		t.Fatalf("Expected one 'ledger.snapshot' span, got %d", len(spans))
	}
}

func TestNewSpanExporter(t *testing.T) {
	tests := []struct {
		name     string
		exporter string
		wantNil  bool
		wantErr  bool
	}{
		{"default", "", true, false},
		{"none", "none", true, false},
		{"stdout", "stdout", false, false},
		{"otlp", "OTLP", false, false},
		{"unknown", "zipkin", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.TracingExporter = tt.exporter
			cfg.OTLPEndpoint = "http://127.0.0.1:4318"
			exp, err := newSpanExporter(context.Background(), cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if (exp == nil) != tt.wantNil {
				t.Errorf("Expected nil exporter %v, got %v", tt.wantNil, exp)
			}
			if exp != nil {
				exp.Shutdown(context.Background())
			}
		})
	}
}
