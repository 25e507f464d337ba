package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"shardd/internal/download"
	"shardd/internal/executor"
	"shardd/internal/model"
	"shardd/internal/sample"
	"shardd/internal/tokenizer"
	"shardd/pkg/types"
)

// Engine orchestrates shard loading, sessions and inference steps.
type Engine struct {
	downloader download.Downloader
	tokenizers tokenizer.Resolver
	builder    model.Builder
	weights    model.WeightLoader
	exec       *executor.Executor
	ownsExec   bool
	sampler    *sample.Sampler

	temperature float64
	topK        int
	device      string
	name        string
	registry    []types.Model
	publisher   EventPublisher
	metrics     *metrics

	// admission
	queueCh chan struct{}
	maxWait time.Duration

	mu       sync.RWMutex
	cur      *loaded
	inflight int
	err      string
	loadsOK  uint64
	loadsBad uint64

	loads    singleflight.Group
	sessions *sessionTable

	closed    atomic.Bool
	startTime time.Time
}

// Ready reports whether a shard is loaded.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cur != nil
}

// Device returns the compute device handed to model builders.
func (e *Engine) Device() string { return e.device }

// Defaults returns the sampling parameters used by InferStep.
func (e *Engine) Defaults() (temperature float64, topK int) { return e.temperature, e.topK }

func (e *Engine) ListModels() []types.Model {
	out := make([]types.Model, len(e.registry))
	copy(out, e.registry)
	return out
}

// SetEventPublisher replaces the event publisher. Nil restores the no-op.
func (e *Engine) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	e.mu.Lock()
	e.publisher = p
	e.mu.Unlock()
}

func (e *Engine) publish(ev Event) {
	e.mu.RLock()
	p := e.publisher
	e.mu.RUnlock()
	p.Publish(ev)
}

// Close stops the engine's executor if the engine created it. Operations
// already accepted finish first.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	if e.ownsExec {
		e.exec.Close()
	}
	return nil
}
