package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sealtrace/sealtrace/src/ledger"
)

// Webhook request headers
const (
	WebhookNodeHeader      = "X-Sealtrace-Node"
	WebhookTimestampHeader = "X-Sealtrace-Timestamp"
	WebhookSignatureHeader = "X-Sealtrace-Signature"
	WebhookEventHeader     = "X-Sealtrace-Event"
)

// WebhookDispatcher pushes ledger events to subscriber URLs. It is an
// Appender, so the node wraps it in a journal.Sink to get buffering off the
// ledger's hot path.
type WebhookDispatcher struct {
	urls       []string
	secret     string
	nodeID     string
	httpClient *http.Client
}

func NewWebhookDispatcher(urls []string, secret, nodeID string, httpClient *http.Client) *WebhookDispatcher {
	return &WebhookDispatcher{
		urls:       urls,
		secret:     secret,
		nodeID:     nodeID,
		httpClient: httpClient,
	}
}

// Append delivers ev to every URL. A failing subscriber does not stop
// delivery to the others; all failures are returned joined.
func (d *WebhookDispatcher) Append(ctx context.Context, ev ledger.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	var errs []error
	for _, target := range d.urls {
		if err := d.deliver(ctx, target, ev, body); err != nil {
			webhookDeliveriesTotal.WithLabelValues("failed").Inc()
			if logger != nil {
				logger.Warn("Webhook delivery failed", "url", target, "seq", ev.Seq, "error", err)
			}
			errs = append(errs, err)
			continue
		}
		webhookDeliveriesTotal.WithLabelValues("delivered").Inc()
	}
	return errors.Join(errs...)
}

func (d *WebhookDispatcher) deliver(ctx context.Context, target string, ev ledger.Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	ts := time.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(WebhookNodeHeader, d.nodeID)
	req.Header.Set(WebhookEventHeader, string(ev.Kind))
	req.Header.Set(WebhookTimestampHeader, strconv.FormatInt(ts, 10))
	if d.secret != "" {
		path := "/"
		if u, err := url.Parse(target); err == nil && u.Path != "" {
			path = u.Path
		}
		req.Header.Set(WebhookSignatureHeader, SignRequest(http.MethodPost, path, d.nodeID, body, d.secret, ts))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", target, resp.StatusCode)
	}
	return nil
}

// VerifyWebhook checks a delivery received from a node configured with
// secret.
func VerifyWebhook(r *http.Request, body []byte, secret string) bool {
	ts, err := strconv.ParseInt(r.Header.Get(WebhookTimestampHeader), 10, 64)
	if err != nil {
		return false
	}
	return VerifyRequest(r.Method, r.URL.Path, r.Header.Get(WebhookNodeHeader), body, secret, ts, r.Header.Get(WebhookSignatureHeader))
}
