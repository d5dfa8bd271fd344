package main

import (
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/sealtrace/sealtrace/src/ledger"
)

// parseBatchID reads the {id} route variable.
func parseBatchID(r *http.Request) (uint64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: batch id %q", ledger.ErrInvalidInput, raw)
	}
	return id, nil
}

// parseAddressVar reads and normalizes an address route variable.
func parseAddressVar(r *http.Request, name string) (ledger.Address, error) {
	addr, err := ledger.ParseAddress(mux.Vars(r)[name])
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return addr, nil
}

// parseAddressField validates an address from a request body.
func parseAddressField(field, value string) (ledger.Address, error) {
	addr, err := ledger.ParseAddress(value)
	if err != nil {
		return "", fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

// parseValue parses a required decimal uint256 field.
func parseValue(field, value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("%w: %s is required", ledger.ErrInvalidInput, field)
	}
	v, err := ledger.ParseUint256(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

// parseOptionalNonce parses an operation nonce. Empty means no replay guard.
func parseOptionalNonce(value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return parseValue("nonce", value)
}

// parseUintQuery reads an optional non-negative integer query parameter.
func parseUintQuery(r *http.Request, name string) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ledger.ErrInvalidInput, name)
	}
	return v, nil
}

// PaginationParams holds limit and offset for list endpoints.
type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePaginationParams reads limit and offset, falling back to
// defaultLimit and capping at maxLimit.
func ParsePaginationParams(r *http.Request, defaultLimit, maxLimit int) PaginationParams {
	params := PaginationParams{Limit: defaultLimit}

	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		params.Limit = limit
	}
	if params.Limit > maxLimit {
		params.Limit = maxLimit
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && offset > 0 {
		params.Offset = offset
	}
	return params
}

// paginate slices items according to params.
func paginate[T any](items []T, params PaginationParams) ([]T, PaginationMeta) {
	total := len(items)
	start := params.Offset
	if start > total {
		start = total
	}
	end := start + params.Limit
	if end > total {
		end = total
	}
	return items[start:end], PaginationMeta{
		Limit:   params.Limit,
		Offset:  params.Offset,
		Total:   total,
		HasMore: end < total,
	}
}
