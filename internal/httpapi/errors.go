package httpapi

import (
	"context"
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"shardd/internal/engine"
	"shardd/internal/executor"
	"shardd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// Error kinds reported in types.ErrorResponse.
const (
	kindShardUnavailable = "shard_unavailable"
	kindShardLoad        = "shard_load"
	kindTokenization     = "tokenization"
	kindInference        = "inference"
	kindSampling         = "sampling"
	kindBadRequest       = "bad_request"
	kindTooBusy          = "too_busy"
	kindTimeout          = "timeout"
	kindInternal         = "internal"
)

// statusFor maps an engine error to an HTTP status and error kind.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, executor.ErrClosed):
		return http.StatusServiceUnavailable, kindInternal
	case engine.IsTooBusy(err):
		return http.StatusTooManyRequests, kindTooBusy
	case engine.IsBadRequest(err):
		return http.StatusBadRequest, kindBadRequest
	case engine.IsShardUnavailable(err):
		return http.StatusServiceUnavailable, kindShardUnavailable
	case engine.IsShardLoadFailure(err):
		return http.StatusInternalServerError, kindShardLoad
	case engine.IsTokenizationFailure(err):
		return http.StatusUnprocessableEntity, kindTokenization
	case engine.IsInferenceFailure(err):
		return http.StatusUnprocessableEntity, kindInference
	case engine.IsSamplingFailure(err):
		return http.StatusBadRequest, kindSampling
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, kindTimeout
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), kindInternal
	}
	return http.StatusInternalServerError, kindInternal
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status, Kind: kind})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusBadRequest, kindBadRequest, msg)
}
