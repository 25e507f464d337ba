package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shardd/internal/executor"
	"shardd/internal/tensor"
)

func TestEnsureShard_IdempotentForSameDescriptor(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testCtx(t)
	d1 := shardOf("a", 0, 4)
	for i := 0; i < 3; i++ {
		if err := h.e.EnsureShard(ctx, d1); err != nil {
			t.Fatalf("EnsureShard #%d: %v", i, err)
		}
	}
	builds, weights := h.fam.counts()
	if h.dl.count() != 1 || h.tok.count() != 1 || builds != 1 || weights != 1 {
		t.Fatalf("want one load; downloads=%d tokenizers=%d builds=%d weights=%d",
			h.dl.count(), h.tok.count(), builds, weights)
	}
	snap := h.e.Snapshot()
	if snap.State != StateReady || snap.Shard == nil || *snap.Shard != d1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestEnsureShard_DifferentDescriptorReloadsOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testCtx(t)
	if err := h.e.EnsureShard(ctx, shardOf("a", 0, 4)); err != nil {
		t.Fatalf("EnsureShard D1: %v", err)
	}
	d2 := shardOf("a", 0, 2)
	for i := 0; i < 2; i++ {
		if err := h.e.EnsureShard(ctx, d2); err != nil {
			t.Fatalf("EnsureShard D2: %v", err)
		}
	}
	builds, weights := h.fam.counts()
	if h.dl.count() != 2 || builds != 2 || weights != 2 || h.tok.count() != 2 {
		t.Fatalf("want two loads; downloads=%d builds=%d weights=%d tokenizers=%d", h.dl.count(), builds, weights, h.tok.count())
	}
	if got := h.e.Snapshot().Shard; got == nil || *got != d2 {
		t.Fatalf("current shard = %v, want %v", got, d2)
	}
}

func TestEnsureShard_BuildOptions(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Device = "cpu" })
	if err := h.e.EnsureShard(testCtx(t), shardOf("a", 0, 4)); err != nil {
		t.Fatalf("EnsureShard: %v", err)
	}
	h.fam.mu.Lock()
	defer h.fam.mu.Unlock()
	if len(h.fam.opts) != 1 || h.fam.opts[0].Device != "cpu" || h.fam.opts[0].UseCache {
		t.Fatalf("unexpected build options: %+v", h.fam.opts)
	}
}

func TestEnsureShard_DownloaderFailureIsShardUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.dl.err = errors.New("network down")
	_, err := h.e.InferStep(testCtx(t), "r1", shardOf("a", 0, 4), tensor.Tokens(7))
	if !IsShardUnavailable(err) {
		t.Fatalf("want ShardUnavailable, got %v", err)
	}
	if IsShardLoadFailure(err) {
		t.Fatalf("ShardUnavailable must be distinguishable from load failures: %v", err)
	}
	snap := h.e.Snapshot()
	if snap.Shard != nil {
		t.Fatalf("no shard should be committed, got %v", snap.Shard)
	}
	if snap.State != StateError || snap.Err == "" {
		t.Fatalf("unexpected snapshot after failure: %+v", snap)
	}
	builds, _ := h.fam.counts()
	if builds != 0 {
		t.Fatalf("model built despite download failure")
	}
}

func TestEnsureShard_LoadFailureKeepsPreviousShard(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testCtx(t)
	d1 := shardOf("a", 0, 4)
	if err := h.e.EnsureShard(ctx, d1); err != nil {
		t.Fatalf("EnsureShard D1: %v", err)
	}

	cases := []struct {
		stage Stage
		setup func()
		reset func()
	}{
		{StageTokenizer, func() { h.tok.mu.Lock(); h.tok.err = errors.New("bad vocab"); h.tok.mu.Unlock() },
			func() { h.tok.mu.Lock(); h.tok.err = nil; h.tok.mu.Unlock() }},
		{StageBuild, func() { h.fam.set(func(f *fakeFamily) { f.buildErr = errors.New("oom") }) },
			func() { h.fam.set(func(f *fakeFamily) { f.buildErr = nil }) }},
		{StageWeights, func() { h.fam.set(func(f *fakeFamily) { f.weightErr = errors.New("truncated") }) },
			func() { h.fam.set(func(f *fakeFamily) { f.weightErr = nil }) }},
	}
	for _, tc := range cases {
		tc.setup()
		err := h.e.EnsureShard(ctx, shardOf("b", 0, 4))
		tc.reset()
		if !IsShardLoadFailure(err) {
			t.Fatalf("%s: want ShardLoadFailure, got %v", tc.stage, err)
		}
		if stage, _ := LoadStage(err); stage != tc.stage {
			t.Fatalf("stage = %q, want %q", stage, tc.stage)
		}
		if got := h.e.Snapshot().Shard; got == nil || *got != d1 {
			t.Fatalf("%s: previous shard replaced: %v", tc.stage, got)
		}
	}

	// the previous shard still serves steps
	res, err := h.e.InferStep(ctx, "r1", d1, tensor.Tokens(7))
	if err != nil || res.Token != 7 {
		t.Fatalf("step on previous shard: res=%+v err=%v", res, err)
	}
}

func TestEnsureShard_ConfigMismatchIsLoadFailure(t *testing.T) {
	h := newHarness(t, nil)
	bad := shardOf("a", 0, 2)
	bad.NLayers = 2
	err := h.e.EnsureShard(testCtx(t), bad)
	if stage, ok := LoadStage(err); !ok || stage != StageConfig {
		t.Fatalf("want config stage failure, got %v", err)
	}
}

func TestEnsureShard_InvalidDescriptorIsBadRequest(t *testing.T) {
	h := newHarness(t, nil)
	err := h.e.EnsureShard(testCtx(t), shardOf("a", 3, 2))
	if !IsBadRequest(err) {
		t.Fatalf("want BadRequest, got %v", err)
	}
	if h.dl.count() != 0 {
		t.Fatalf("downloader called for an invalid descriptor")
	}
}

func TestEnsureShard_ConcurrentCallsShareOneLoad(t *testing.T) {
	h := newHarness(t, nil)
	gate := make(chan struct{})
	h.dl.gate = gate
	ctx := testCtx(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.e.EnsureShard(ctx, shardOf("a", 0, 4))
		}()
	}
	// let every goroutine join the flight before the download finishes
	deadline := time.Now().Add(2 * time.Second)
	for h.dl.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("EnsureShard: %v", err)
		}
	}
	builds, _ := h.fam.counts()
	if h.dl.count() != 1 || builds != 1 {
		t.Fatalf("want one shared load; downloads=%d builds=%d", h.dl.count(), builds)
	}
}

func TestEnsureShard_AbandonedWaitStillCommits(t *testing.T) {
	h := newHarness(t, nil)
	gate := make(chan struct{})
	h.dl.gate = gate

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.e.EnsureShard(ctx, shardOf("a", 0, 4)) }()
	for h.dl.count() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	close(gate)

	deadline := time.Now().Add(2 * time.Second)
	for !h.e.Ready() {
		if time.Now().After(deadline) {
			t.Fatalf("load did not commit after the caller gave up")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEnsureShard_PublishesEvents(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testCtx(t)
	if err := h.e.EnsureShard(ctx, shardOf("a", 0, 4)); err != nil {
		t.Fatalf("EnsureShard: %v", err)
	}
	h.dl.mu.Lock()
	h.dl.err = errors.New("gone")
	h.dl.mu.Unlock()
	_ = h.e.EnsureShard(ctx, shardOf("b", 0, 4))

	want := map[string]bool{"ensure_start": false, "ensure_ready": false, "ensure_failed": false}
	for _, name := range h.pub.Names() {
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for k, v := range want {
		if !v {
			t.Fatalf("expected event %q; got %v", k, h.pub.Names())
		}
	}
}

func TestEnsureShard_ClosedExecutorIsNotLoadFailure(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := h.e.EnsureShard(testCtx(t), shardOf("a", 0, 4))
	if !errors.Is(err, executor.ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	if IsShardLoadFailure(err) {
		t.Fatalf("shutdown reported as a load failure: %v", err)
	}
	if snap := h.e.Snapshot(); snap.Shard != nil {
		t.Fatalf("nothing should be committed: %+v", snap)
	}
}
