// Package client is a Go client for the sealtrace node HTTP API.
package client

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sealtrace/sealtrace/src/ledger"
)

// Version is reported in the User-Agent header.
const Version = "1.0.0"

// Caller authentication header names
const (
	CallerAddressHeader   = "X-Caller-Address"
	CallerTimestampHeader = "X-Caller-Timestamp"
	CallerSignatureHeader = "X-Caller-Signature"
)

// Error is a non-2xx response from the node.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("sealtrace: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

// IsCode reports whether err is an API error with the given code.
func IsCode(err error, code string) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	caller     ledger.Address
	key        string
	retry      RetryConfig
	now        func() time.Time
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithCaller sets the identity sent in X-Caller-Address. A non-empty key
// signs mutating requests.
func WithCaller(caller ledger.Address, key string) Option {
	return func(c *Client) {
		c.caller = caller
		c.key = key
	}
}

func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retry:      RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	if c.retry.BaseDelay <= 0 {
		c.retry.BaseDelay = 200 * time.Millisecond
	}
	if c.retry.MaxDelay <= 0 {
		c.retry.MaxDelay = 5 * time.Second
	}
	return c
}

// Caller returns the configured caller address.
func (c *Client) Caller() ledger.Address {
	return c.caller
}

// DeriveCallerKey returns the signing key a node with masterSecret issues to
// caller.
func DeriveCallerKey(masterSecret string, caller ledger.Address) string {
	mac := hmac.New(sha256.New, []byte(masterSecret))
	mac.Write([]byte(caller))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignRequest signs method, path, caller, body and timestamp with key.
func SignRequest(method, path, caller string, body []byte, key string, timestamp int64) string {
	message := fmt.Sprintf("%s\n%s\n%s\n%s\n%d", method, path, caller, string(body), timestamp)
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out, true)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out, false)
}

// do sends one request and decodes the data field of the response envelope
// into out. Only idempotent requests are retried.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, retryable bool) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		if bodyBytes, err = json.Marshal(body); err != nil {
			return err
		}
	}
	attempts := 1
	if retryable {
		attempts = c.retry.MaxAttempts
	}

	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "sealtrace-go-client/"+Version)
		if len(bodyBytes) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		c.authorize(req, bodyBytes)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < attempts {
				if err := sleepWithBackoff(ctx, c.retry, attempt); err != nil {
					return err
				}
				continue
			}
			return err
		}
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if shouldRetryStatus(resp.StatusCode) && attempt < attempts {
			if err := sleepWithBackoff(ctx, c.retry, attempt); err != nil {
				return err
			}
			continue
		}
		return decodeResponse(resp, respBody, out)
	}
}

func (c *Client) authorize(req *http.Request, body []byte) {
	if c.caller == "" {
		return
	}
	req.Header.Set(CallerAddressHeader, string(c.caller))
	if c.key == "" || req.Method == http.MethodGet {
		return
	}
	ts := c.now().Unix()
	req.Header.Set(CallerTimestampHeader, strconv.FormatInt(ts, 10))
	req.Header.Set(CallerSignatureHeader, SignRequest(req.Method, req.URL.Path, string(c.caller), body, c.key, ts))
}

func decodeResponse(resp *http.Response, body []byte, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &Error{StatusCode: resp.StatusCode, Code: "HTTP_ERROR", Message: strings.TrimSpace(string(body)), RequestID: resp.Header.Get("X-Request-ID")}
		}
		return fmt.Errorf("sealtrace: malformed response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		apiErr := &Error{StatusCode: resp.StatusCode, RequestID: resp.Header.Get("X-Request-ID")}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func shouldRetryStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout
}

func sleepWithBackoff(ctx context.Context, cfg RetryConfig, attempt int) error {
	max := cfg.BaseDelay << (attempt - 1)
	if max > cfg.MaxDelay || max <= 0 {
		max = cfg.MaxDelay
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		n = big.NewInt(int64(max))
	}
	t := time.NewTimer(time.Duration(n.Int64()))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
