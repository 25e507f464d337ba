package engine

import (
	"errors"
	"fmt"

	"shardd/pkg/types"
)

// Stage names the shard loading step that failed.
type Stage string

const (
	StageConfig    Stage = "config"
	StageTokenizer Stage = "tokenizer"
	StageBuild     Stage = "build"
	StageWeights   Stage = "weights"
)

// shardUnavailableError signals the downloader could not provide the shard.
type shardUnavailableError struct {
	shard types.Shard
	err   error
}

func (e shardUnavailableError) Error() string {
	return fmt.Sprintf("shard unavailable: %s: %v", e.shard, e.err)
}
func (e shardUnavailableError) Unwrap() error { return e.err }

func ErrShardUnavailable(shard types.Shard, err error) error {
	return shardUnavailableError{shard: shard, err: err}
}

// IsShardUnavailable reports whether err means the shard could not be
// fetched or resolved. Callers may retry later.
func IsShardUnavailable(err error) bool {
	var e shardUnavailableError
	return errors.As(err, &e)
}

// shardLoadError signals a config, tokenizer, build or weight failure.
type shardLoadError struct {
	shard types.Shard
	stage Stage
	err   error
}

func (e shardLoadError) Error() string {
	return fmt.Sprintf("load %s: %s: %v", e.shard, e.stage, e.err)
}
func (e shardLoadError) Unwrap() error { return e.err }

func ErrShardLoad(shard types.Shard, stage Stage, err error) error {
	return shardLoadError{shard: shard, stage: stage, err: err}
}

func IsShardLoadFailure(err error) bool {
	var e shardLoadError
	return errors.As(err, &e)
}

// LoadStage returns the failing stage of a shard load error.
func LoadStage(err error) (Stage, bool) {
	var e shardLoadError
	if errors.As(err, &e) {
		return e.stage, true
	}
	return "", false
}

type tokenizationError struct {
	op  string
	err error
}

func (e tokenizationError) Error() string { return e.op + ": " + e.err.Error() }
func (e tokenizationError) Unwrap() error { return e.err }

func ErrTokenization(op string, err error) error { return tokenizationError{op: op, err: err} }

func IsTokenizationFailure(err error) bool {
	var e tokenizationError
	return errors.As(err, &e)
}

// inferenceError covers forward-pass failures, including inputs whose mode
// does not fit the shard.
type inferenceError struct{ err error }

func (e inferenceError) Error() string { return "inference: " + e.err.Error() }
func (e inferenceError) Unwrap() error { return e.err }

func ErrInference(err error) error { return inferenceError{err: err} }

func IsInferenceFailure(err error) bool {
	var e inferenceError
	return errors.As(err, &e)
}

type samplingError struct{ err error }

func (e samplingError) Error() string { return "sampling: " + e.err.Error() }
func (e samplingError) Unwrap() error { return e.err }

func ErrSampling(err error) error { return samplingError{err: err} }

func IsSamplingFailure(err error) bool {
	var e samplingError
	return errors.As(err, &e)
}

// badRequestError signals a malformed request, such as an invalid shard
// descriptor. It is never retried.
type badRequestError struct{ err error }

func (e badRequestError) Error() string { return "bad request: " + e.err.Error() }
func (e badRequestError) Unwrap() error { return e.err }

func ErrBadRequest(err error) error { return badRequestError{err: err} }

func IsBadRequest(err error) bool {
	var e badRequestError
	return errors.As(err, &e)
}

// tooBusyError signals the executor queue stayed full for MaxWait.
type tooBusyError struct{ op string }

func (e tooBusyError) Error() string { return "too busy: " + e.op }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}
