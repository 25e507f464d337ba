package engine

import (
	"time"

	"shardd/internal/model"
	"shardd/internal/tensor"
	"shardd/internal/tokenizer"
	"shardd/pkg/types"
)

// State is the engine's shard lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// loaded is an immutable record of a committed shard. Model and tokenizer
// are always replaced together.
type loaded struct {
	shard    types.Shard
	dir      string
	cfg      model.Config
	model    model.Model
	tok      tokenizer.Tokenizer
	loadedAt time.Time
}

// Snapshot is a read-only projection of the engine state.
type Snapshot struct {
	State    State
	Shard    *types.Shard
	Dir      string
	LoadedAt time.Time
	Err      string
}

// StepResult is the outcome of one inference step: a hidden state for the
// next shard, or a token sampled on the terminal shard.
type StepResult struct {
	RequestID string
	Hidden    *tensor.Tensor
	Token     int
}

// IsHidden reports whether the step produced a hidden state.
func (r StepResult) IsHidden() bool { return r.Hidden != nil }
