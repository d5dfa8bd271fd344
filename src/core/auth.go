package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sealtrace/sealtrace/src/ledger"
)

// Caller authentication header names
const (
	CallerAddressHeader   = "X-Caller-Address"
	CallerTimestampHeader = "X-Caller-Timestamp"
	CallerSignatureHeader = "X-Caller-Signature"
)

// CallerAuthTimestampTolerance is the maximum age of a signed request (5 minutes)
const CallerAuthTimestampTolerance = 5 * time.Minute

const callerContextKey contextKey = "caller"

// DeriveCallerKey returns the signing key issued to caller under the node's
// master secret. Keys are derived, so the node stores only the master.
func DeriveCallerKey(masterSecret string, caller ledger.Address) string {
	mac := hmac.New(sha256.New, []byte(masterSecret))
	mac.Write([]byte(caller))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignRequest creates an HMAC-SHA256 signature for a request.
// The signature covers: method + path + caller + body + timestamp
func SignRequest(method, path, caller string, body []byte, key string, timestamp int64) string {
	message := fmt.Sprintf("%s\n%s\n%s\n%s\n%d", method, path, caller, string(body), timestamp)
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyRequest verifies the HMAC-SHA256 signature of a request.
// Returns false if the timestamp is stale or the signature doesn't match.
func VerifyRequest(method, path, caller string, body []byte, key string, timestamp int64, signature string) bool {
	now := time.Now().Unix()
	toleranceSec := int64(CallerAuthTimestampTolerance.Seconds())
	if timestamp < now-toleranceSec || timestamp > now+toleranceSec {
		return false
	}

	expectedSig := SignRequest(method, path, caller, body, key, timestamp)
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expectedSig)) == 1
}

// CallerFromContext returns the caller identity attached by CallerMiddleware.
func CallerFromContext(ctx context.Context) (ledger.Address, bool) {
	caller, ok := ctx.Value(callerContextKey).(ledger.Address)
	return caller, ok && caller != ""
}

// CallerMiddleware resolves the caller of every request from
// X-Caller-Address. When required is true, mutating requests must also carry
// a valid signature made with the caller's derived key.
func CallerMiddleware(masterSecret string, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(CallerAddressHeader))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			caller, err := ledger.ParseAddress(raw)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "INVALID_CALLER", err.Error())
				return
			}

			if required && isMutating(r.Method) {
				if masterSecret == "" {
					WriteError(w, http.StatusInternalServerError, "AUTH_MISCONFIGURED", "Caller authentication required but no secret configured")
					return
				}
				tsHeader := r.Header.Get(CallerTimestampHeader)
				signature := r.Header.Get(CallerSignatureHeader)
				if tsHeader == "" || signature == "" {
					WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing caller signature")
					return
				}
				timestamp, err := strconv.ParseInt(tsHeader, 10, 64)
				if err != nil {
					WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid caller timestamp")
					return
				}

				body, err := io.ReadAll(r.Body)
				if err != nil {
					WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Failed to read request body")
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))

				key := DeriveCallerKey(masterSecret, caller)
				if !VerifyRequest(r.Method, r.URL.Path, string(caller), body, key, timestamp, signature) {
					if logger != nil {
						logger.Warn("Rejected caller signature", "caller", caller, "path", r.URL.Path, "requestId", GetRequestID(r.Context()))
					}
					WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid caller signature")
					return
				}
			}

			ctx := context.WithValue(r.Context(), callerContextKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
