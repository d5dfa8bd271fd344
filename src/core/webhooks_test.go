package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sealtrace/sealtrace/src/ledger"
)

type webhookReceiver struct {
	mu       sync.Mutex
	secret   string
	events   []ledger.Event
	verified []bool
	status   int
}

func (rcv *webhookReceiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var ev ledger.Event
	json.Unmarshal(body, &ev)

	rcv.mu.Lock()
	defer rcv.mu.Unlock()
	rcv.events = append(rcv.events, ev)
	rcv.verified = append(rcv.verified, VerifyWebhook(r, body, rcv.secret))
	if rcv.status != 0 {
		w.WriteHeader(rcv.status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rcv *webhookReceiver) received() ([]ledger.Event, []bool) {
	rcv.mu.Lock()
	defer rcv.mu.Unlock()
	return append([]ledger.Event(nil), rcv.events...), append([]bool(nil), rcv.verified...)
}

func TestWebhookDispatcherAppend(t *testing.T) {
	rcv := &webhookReceiver{secret: "hook-secret"}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	d := NewWebhookDispatcher([]string{srv.URL + "/hooks/ledger"}, "hook-secret", "node-1", srv.Client())
	ev := ledger.Event{Seq: 7, Kind: ledger.EventCheckpointAdded, BatchID: 3, At: time.Now().UTC()}
	if err := d.Append(context.Background(), ev); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	events, verified := rcv.received()
	if len(events) != 1 || events[0].Seq != 7 || events[0].BatchID != 3 {
		t.Fatalf("Expected event 7 for batch 3, got %+v", events)
	}
	if !verified[0] {
		t.Error("Expected webhook signature to verify")
	}
}

func TestWebhookSignatureRejectsWrongSecret(t *testing.T) {
	rcv := &webhookReceiver{secret: "other-secret"}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	d := NewWebhookDispatcher([]string{srv.URL}, "hook-secret", "node-1", srv.Client())
	if err := d.Append(context.Background(), ledger.Event{Seq: 1}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, verified := rcv.received(); verified[0] {
		t.Error("Expected signature check with the wrong secret to fail")
	}
}

func TestWebhookDispatcherReportsFailures(t *testing.T) {
	good := &webhookReceiver{}
	bad := &webhookReceiver{status: http.StatusInternalServerError}
	goodSrv := httptest.NewServer(good)
	defer goodSrv.Close()
	badSrv := httptest.NewServer(bad)
	defer badSrv.Close()

	d := NewWebhookDispatcher([]string{badSrv.URL, goodSrv.URL}, "", "node-1", &http.Client{Timeout: 2 * time.Second})
	if err := d.Append(context.Background(), ledger.Event{Seq: 1}); err == nil {
		t.Error("Expected error from failing subscriber")
	}
	if events, _ := good.received(); len(events) != 1 {
		t.Errorf("Expected healthy subscriber to still receive the event, got %d", len(events))
	}
}

func TestNodeDeliversEventsToWebhooks(t *testing.T) {
	rcv := &webhookReceiver{secret: "s3cret"}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	cfg := testConfig(t)
	cfg.WebhookURLs = []string{srv.URL + "/events"}
	cfg.WebhookSecret = "s3cret"
	node := newTestNodeWithConfig(t, cfg)

	if err := node.Engine.Register(testAdmin, testRetailer, ledger.RoleRetailer, ledger.Digest{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := node.closeSinks(context.Background()); err != nil {
		t.Fatalf("closeSinks failed: %v", err)
	}

	events, verified := rcv.received()
	if len(events) != 1 || events[0].Kind != ledger.EventParticipantRegistered {
		t.Fatalf("Expected one registration event, got %+v", events)
	}
	if !verified[0] {
		t.Error("Expected delivered event to be signed")
	}
}
