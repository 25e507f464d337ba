package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"shardd/internal/download"
	"shardd/internal/executor"
	"shardd/internal/model"
	"shardd/internal/sample"
	"shardd/internal/tokenizer"
	"shardd/pkg/types"
)

// Defaults applied when the corresponding Config fields are unset.
const (
	defaultEngineName    = "shardd"
	defaultDevice        = "cpu"
	defaultMaxSessions   = 1024
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
)

// Config holds the collaborators and tunables of an Engine.
type Config struct {
	// Downloader resolves a shard to a local model directory.
	Downloader download.Downloader
	// Tokenizers builds the tokenizer for a model directory.
	Tokenizers tokenizer.Resolver
	// Builder and Weights construct shard-local models. Both default to
	// model.Registry.
	Builder model.Builder
	Weights model.WeightLoader
	// Executor runs blocking work. When nil the engine starts and owns one.
	Executor *executor.Executor
	// Sampler draws tokens on the terminal shard. When nil one is created
	// from Seed.
	Sampler *sample.Sampler
	Seed    int64

	Temperature float64
	TopK        int

	Device     string
	EngineName string

	// MaxSessions bounds the session table; the least recently used
	// session is evicted beyond it.
	MaxSessions int
	// MaxQueueDepth and MaxWait bound how many operations may wait for the
	// executor and for how long before TooBusy is returned.
	MaxQueueDepth int
	MaxWait       time.Duration

	// Registry lists the models available to this node, for /models.
	Registry []types.Model

	Publisher EventPublisher
	// Registerer receives the engine's collectors. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer
}

// NewWithConfig constructs an Engine from cfg, applying defaults.
func NewWithConfig(cfg Config) *Engine {
	if cfg.Builder == nil {
		cfg.Builder = model.Registry{}
	}
	if cfg.Weights == nil {
		cfg.Weights = model.Registry{}
	}
	if cfg.Tokenizers == nil {
		cfg.Tokenizers = tokenizer.FileResolver{}
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = sample.DefaultTemperature
	}
	if cfg.TopK <= 0 {
		cfg.TopK = sample.DefaultTopK
	}
	if cfg.Device == "" {
		cfg.Device = defaultDevice
	}
	if cfg.EngineName == "" {
		cfg.EngineName = defaultEngineName
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = defaultMaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}

	e := &Engine{
		downloader:  cfg.Downloader,
		tokenizers:  cfg.Tokenizers,
		builder:     cfg.Builder,
		weights:     cfg.Weights,
		exec:        cfg.Executor,
		sampler:     cfg.Sampler,
		temperature: cfg.Temperature,
		topK:        cfg.TopK,
		device:      cfg.Device,
		name:        cfg.EngineName,
		registry:    cfg.Registry,
		publisher:   cfg.Publisher,
		queueCh:     make(chan struct{}, cfg.MaxQueueDepth),
		maxWait:     cfg.MaxWait,
		sessions:    newSessionTable(cfg.MaxSessions),
		startTime:   time.Now(),
	}
	if e.exec == nil {
		e.exec = executor.New(cfg.MaxQueueDepth)
		e.ownsExec = true
	}
	if e.sampler == nil {
		e.sampler = sample.New(cfg.Seed)
	}
	e.metrics = newMetrics(e, cfg.Registerer)
	return e
}
