package model

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"shardd/internal/tensor"
	"shardd/pkg/types"
)

func testConfig() Config {
	return Config{HiddenSize: 8, VocabSize: 16, NumHiddenLayers: 4}
}

func writeRef(t *testing.T) (string, Config) {
	t.Helper()
	dir := t.TempDir()
	if err := WriteReference(dir, testConfig(), 7); err != nil {
		t.Fatalf("WriteReference: %v", err)
	}
	cfg, err := LoadConfig(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	return dir, cfg
}

func load(t *testing.T, dir string, cfg Config, shard types.Shard) Model {
	t.Helper()
	var reg Registry
	m, err := reg.Build(cfg, shard, BuildOptions{Device: "cpu"})
	if err != nil {
		t.Fatalf("Build %s: %v", shard, err)
	}
	if err := reg.LoadWeights(dir, shard, m); err != nil {
		t.Fatalf("LoadWeights %s: %v", shard, err)
	}
	return m
}

func TestSplitShardsMatchWholeModel(t *testing.T) {
	dir, cfg := writeRef(t)
	tokens := []int{3, 1, 4, 1, 5}

	whole := load(t, dir, cfg, types.Shard{ModelID: "ref", Start: 0, End: 4, NLayers: 4})
	want, err := whole.Forward(tokens, nil)
	if err != nil {
		t.Fatalf("whole forward: %v", err)
	}
	if want.Logits == nil || want.Hidden != nil {
		t.Fatalf("whole model should produce logits only: %+v", want)
	}

	first := load(t, dir, cfg, types.Shard{ModelID: "ref", Start: 0, End: 1, NLayers: 4})
	middle := load(t, dir, cfg, types.Shard{ModelID: "ref", Start: 1, End: 3, NLayers: 4})
	last := load(t, dir, cfg, types.Shard{ModelID: "ref", Start: 3, End: 4, NLayers: 4})

	out, err := first.Forward(tokens, nil)
	if err != nil || out.Hidden == nil {
		t.Fatalf("first forward: out=%+v err=%v", out, err)
	}
	if got := out.Hidden.Shape; got[0] != 1 || got[1] != len(tokens) || got[2] != cfg.HiddenSize {
		t.Fatalf("hidden shape %v", got)
	}
	out, err = middle.Forward(nil, out.Hidden)
	if err != nil || out.Hidden == nil {
		t.Fatalf("middle forward: out=%+v err=%v", out, err)
	}
	out, err = last.Forward(nil, out.Hidden)
	if err != nil || out.Logits == nil {
		t.Fatalf("last forward: out=%+v err=%v", out, err)
	}
	if len(out.Logits.Data) != len(want.Logits.Data) {
		t.Fatalf("logits size %d, want %d", len(out.Logits.Data), len(want.Logits.Data))
	}
	for i := range out.Logits.Data {
		if d := math.Abs(float64(out.Logits.Data[i] - want.Logits.Data[i])); d > 1e-4 {
			t.Fatalf("logit %d differs by %g", i, d)
		}
	}
}

func TestFinalPositionDependsOnHistory(t *testing.T) {
	dir, cfg := writeRef(t)
	m := load(t, dir, cfg, types.Shard{ModelID: "ref", Start: 0, End: 4, NLayers: 4})
	a, err := m.Forward([]int{2, 9}, nil)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	b, err := m.Forward([]int{5, 9}, nil)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	la, _ := a.Logits.LastPositions()
	lb, _ := b.Logits.LastPositions()
	same := true
	for i := range la[0] {
		if la[0][i] != lb[0][i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("last-position logits ignore earlier tokens")
	}
}

func TestForwardRoleChecks(t *testing.T) {
	dir, cfg := writeRef(t)
	first := load(t, dir, cfg, types.Shard{ModelID: "ref", Start: 0, End: 2, NLayers: 4})
	last := load(t, dir, cfg, types.Shard{ModelID: "ref", Start: 2, End: 4, NLayers: 4})

	if _, err := last.Forward([]int{1}, nil); !errors.Is(err, tensor.ErrShape) {
		t.Fatalf("tokens on non-first shard: %v", err)
	}
	if _, err := first.Forward(nil, tensor.New(1, 1, cfg.HiddenSize)); !errors.Is(err, tensor.ErrShape) {
		t.Fatalf("hidden on first shard: %v", err)
	}
	if _, err := last.Forward(nil, tensor.New(1, 1, cfg.HiddenSize+1)); !errors.Is(err, tensor.ErrShape) {
		t.Fatalf("wrong hidden width: %v", err)
	}
	if _, err := first.Forward([]int{cfg.VocabSize}, nil); !errors.Is(err, tensor.ErrShape) {
		t.Fatalf("out of vocab token: %v", err)
	}
}

func TestBuildRejects(t *testing.T) {
	cfg := testConfig()
	cfg.ModelType = ReferenceType
	shard := types.Shard{ModelID: "ref", Start: 0, End: 4, NLayers: 4}
	var reg Registry
	if _, err := reg.Build(cfg, shard, BuildOptions{UseCache: true}); err == nil {
		t.Fatalf("expected error for UseCache")
	}
	if _, err := reg.Build(cfg, shard, BuildOptions{Device: "cuda"}); err == nil {
		t.Fatalf("expected error for cuda device")
	}
	if _, err := reg.Build(cfg, types.Shard{ModelID: "ref", Start: 0, End: 2, NLayers: 2}, BuildOptions{}); err == nil {
		t.Fatalf("expected error for layer count mismatch")
	}
	cfg.ModelType = "llama"
	if _, err := reg.Build(cfg, shard, BuildOptions{}); err == nil {
		t.Fatalf("expected error for unsupported model_type")
	}
}

func TestForwardBeforeLoad(t *testing.T) {
	cfg := testConfig()
	cfg.ModelType = ReferenceType
	m, err := Registry{}.Build(cfg, types.Shard{ModelID: "ref", Start: 0, End: 4, NLayers: 4}, BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := m.Forward([]int{1}, nil); err == nil {
		t.Fatalf("expected error before weights are loaded")
	}
}

func TestLoadWeightsMissingFile(t *testing.T) {
	cfg := testConfig()
	cfg.ModelType = ReferenceType
	shard := types.Shard{ModelID: "ref", Start: 0, End: 4, NLayers: 4}
	m, err := Registry{}.Build(cfg, shard, BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := (Registry{}).LoadWeights(t.TempDir(), shard, m); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}
