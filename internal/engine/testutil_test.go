package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"shardd/internal/model"
	"shardd/internal/tensor"
	"shardd/internal/tokenizer"
	"shardd/pkg/types"
)

const (
	testLayers = 4
	testVocab  = 1000
	testHidden = 3
)

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func shardOf(id string, start, end int) types.Shard {
	return types.Shard{ModelID: id, Start: start, End: end, NLayers: testLayers}
}

// writeModelDir creates a directory holding a config.json for the fake
// model family.
func writeModelDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := model.Config{ModelType: "fake", HiddenSize: testHidden, VocabSize: testVocab, NumHiddenLayers: testLayers}
	if err := cfg.Write(filepath.Join(dir, "config.json")); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

// fakeDownloader maps model ids to directories and counts calls.
type fakeDownloader struct {
	mu    sync.Mutex
	dirs  map[string]string
	err   error
	gate  chan struct{}
	calls int
}

func (d *fakeDownloader) EnsureShard(ctx context.Context, shard types.Shard, engine string) (string, error) {
	d.mu.Lock()
	d.calls++
	gate, err, dir := d.gate, d.err, d.dirs[shard.ModelID]
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return "", err
	}
	if dir == "" {
		return "", fmt.Errorf("model %q not found", shard.ModelID)
	}
	return dir, nil
}

func (d *fakeDownloader) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// fakeFamily builds fakeModels and counts builds and weight loads.
type fakeFamily struct {
	mu          sync.Mutex
	builds      int
	weightLoads int
	buildErr    error
	weightErr   error
	forwardErr  error
	panicOnce   bool
	histories   [][]int
	opts        []model.BuildOptions
}

func (f *fakeFamily) Build(cfg model.Config, shard types.Shard, opts model.BuildOptions) (model.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds++
	f.opts = append(f.opts, opts)
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return &fakeModel{f: f, cfg: cfg, shard: shard}, nil
}

func (f *fakeFamily) LoadWeights(dir string, shard types.Shard, m model.Model) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weightLoads++
	return f.weightErr
}

func (f *fakeFamily) counts() (builds, weightLoads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds, f.weightLoads
}

func (f *fakeFamily) lastHistory() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.histories) == 0 {
		return nil
	}
	return f.histories[len(f.histories)-1]
}

func (f *fakeFamily) set(fn func(f *fakeFamily)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

// fakeModel is deterministic: the terminal shard puts all probability on
// (sum of tokens) mod vocab in token mode, or on int(hidden[0]) mod vocab
// in hidden mode. Interior shards emit a [1, S, H] hidden state whose
// first element carries the same value.
type fakeModel struct {
	f     *fakeFamily
	cfg   model.Config
	shard types.Shard
}

func (m *fakeModel) Forward(tokens []int, hidden *tensor.Tensor) (tensor.Output, error) {
	m.f.mu.Lock()
	err := m.f.forwardErr
	panicNow := m.f.panicOnce
	m.f.panicOnce = false
	if tokens != nil {
		m.f.histories = append(m.f.histories, append([]int(nil), tokens...))
	}
	m.f.mu.Unlock()
	if panicNow {
		panic("forward exploded")
	}
	if err != nil {
		return tensor.Output{}, err
	}

	var seq, val int
	if tokens != nil {
		seq = len(tokens)
		for _, t := range tokens {
			val += t
		}
	} else {
		seq = hidden.Shape[1]
		val = int(hidden.Data[0])
	}
	if m.shard.IsLast() {
		logits := tensor.New(1, seq, m.cfg.VocabSize)
		off := (seq - 1) * m.cfg.VocabSize
		logits.Data[off+val%m.cfg.VocabSize] = 10
		return tensor.Output{Logits: logits}, nil
	}
	h := tensor.New(1, seq, m.cfg.HiddenSize)
	h.Data[0] = float32(val)
	return tensor.Output{Hidden: h}, nil
}

// runeTokenizer maps each rune to its code point.
type runeTokenizer struct{}

func (runeTokenizer) Encode(text string) ([]int, error) {
	var ids []int
	for _, r := range text {
		ids = append(ids, int(r))
	}
	return ids, nil
}

func (runeTokenizer) Decode(ids []int) (string, error) {
	rs := make([]rune, len(ids))
	for i, id := range ids {
		if id < 0 {
			return "", errors.New("negative id")
		}
		rs[i] = rune(id)
	}
	return string(rs), nil
}

type fakeResolver struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *fakeResolver) Resolve(dir string) (tokenizer.Tokenizer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return runeTokenizer{}, nil
}

func (r *fakeResolver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type harness struct {
	e   *Engine
	dl  *fakeDownloader
	fam *fakeFamily
	tok *fakeResolver
	pub *MemoryPublisher
}

// newHarness builds an engine over fakes with deterministic sampling. The
// model ids "a" and "b" resolve to valid model directories.
func newHarness(t *testing.T, tweak func(*Config)) *harness {
	t.Helper()
	h := &harness{
		dl:  &fakeDownloader{dirs: map[string]string{"a": writeModelDir(t), "b": writeModelDir(t)}},
		fam: &fakeFamily{},
		tok: &fakeResolver{},
		pub: NewMemoryPublisher(),
	}
	cfg := Config{
		Downloader:  h.dl,
		Tokenizers:  h.tok,
		Builder:     h.fam,
		Weights:     h.fam,
		Temperature: 1e-6,
		TopK:        1,
		Seed:        1,
		Publisher:   h.pub,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	h.e = NewWithConfig(cfg)
	t.Cleanup(func() { _ = h.e.Close() })
	return h
}

func nan() float64 { return math.NaN() }
