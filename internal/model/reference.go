package model

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/mat"

	"shardd/internal/safetensors"
	"shardd/internal/tensor"
	"shardd/pkg/types"
)

// ReferenceType is the config.json model_type of the reference model.
const ReferenceType = "reference"

// Reference is a residual MLP language model. Each layer mixes every
// position with the causal mean of the positions before it, so the output
// at the final position depends on the whole history:
//
//	x_t += tanh(W (x_t + mean(x_0..x_t)) + b)
type Reference struct {
	cfg    Config
	shard  types.Shard
	embed  *mat.Dense // [vocab x hidden], first shard only
	layers []refLayer
	norm   []float64  // [hidden], last shard only
	head   *mat.Dense // [vocab x hidden], last shard only
	loaded bool
}

type refLayer struct {
	w *mat.Dense // [hidden x hidden]
	b []float64
}

func embedName() string { return "model.embed_tokens.weight" }
func layerWeight(i int) string { return fmt.Sprintf("model.layers.%d.mlp.weight", i) }
func layerBias(i int) string { return fmt.Sprintf("model.layers.%d.mlp.bias", i) }
func normName() string { return "model.norm.weight" }
func headName() string { return "lm_head.weight" }

// ReferenceBuilder builds and loads Reference models.
type ReferenceBuilder struct{}

func (ReferenceBuilder) Build(cfg Config, shard types.Shard, opts BuildOptions) (Model, error) {
	if cfg.ModelType != ReferenceType {
		return nil, fmt.Errorf("reference builder: model_type %q", cfg.ModelType)
	}
	if opts.UseCache {
		return nil, fmt.Errorf("reference builder: model keeps no cache")
	}
	if opts.Device != "" && opts.Device != "cpu" {
		return nil, fmt.Errorf("reference builder: unsupported device %q", opts.Device)
	}
	if err := shard.Validate(); err != nil {
		return nil, err
	}
	if shard.NLayers != cfg.NumHiddenLayers {
		return nil, fmt.Errorf("reference builder: shard has %d layers, config has %d", shard.NLayers, cfg.NumHiddenLayers)
	}
	h, v := cfg.HiddenSize, cfg.VocabSize
	r := &Reference{cfg: cfg, shard: shard, layers: make([]refLayer, shard.Len())}
	if shard.IsFirst() {
		r.embed = mat.NewDense(v, h, nil)
	}
	for i := range r.layers {
		r.layers[i] = refLayer{w: mat.NewDense(h, h, nil), b: make([]float64, h)}
	}
	if shard.IsLast() {
		r.norm = make([]float64, h)
		r.head = mat.NewDense(v, h, nil)
	}
	return r, nil
}

func (ReferenceBuilder) LoadWeights(dir string, shard types.Shard, m Model) error {
	r, ok := m.(*Reference)
	if !ok {
		return fmt.Errorf("reference loader: unexpected model %T", m)
	}
	if r.shard != shard {
		return fmt.Errorf("reference loader: model built for %s, weights requested for %s", r.shard, shard)
	}
	idx, err := indexSafetensors(dir)
	if err != nil {
		return err
	}
	h, v := r.cfg.HiddenSize, r.cfg.VocabSize
	if r.embed != nil {
		data, err := idx.read(embedName(), v, h)
		if err != nil {
			return err
		}
		r.embed = mat.NewDense(v, h, data)
	}
	for i := range r.layers {
		layer := shard.Start + i
		w, err := idx.read(layerWeight(layer), h, h)
		if err != nil {
			return err
		}
		b, err := idx.read(layerBias(layer), h)
		if err != nil {
			return err
		}
		r.layers[i] = refLayer{w: mat.NewDense(h, h, w), b: b}
	}
	if r.head != nil {
		norm, err := idx.read(normName(), h)
		if err != nil {
			return err
		}
		head, err := idx.read(headName(), v, h)
		if err != nil {
			return err
		}
		r.norm = norm
		r.head = mat.NewDense(v, h, head)
	}
	r.loaded = true
	return nil
}

type tensorIndex map[string]*safetensors.File

func indexSafetensors(dir string) (tensorIndex, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.safetensors"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no safetensors files in %s", dir)
	}
	sort.Strings(paths)
	idx := tensorIndex{}
	for _, p := range paths {
		f, err := safetensors.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", filepath.Base(p), err)
		}
		for name := range f.Tensors {
			idx[name] = f
		}
	}
	return idx, nil
}

func (idx tensorIndex) read(name string, shape ...int) ([]float64, error) {
	f, ok := idx[name]
	if !ok {
		return nil, fmt.Errorf("missing tensor %s", name)
	}
	data, info, err := f.ReadTensorF32(name)
	if err != nil {
		return nil, err
	}
	if !equalShape(info.Shape, shape) {
		return nil, fmt.Errorf("tensor %s: shape %v, want %v", name, info.Shape, shape)
	}
	out := make([]float64, len(data))
	for i, x := range data {
		out[i] = float64(x)
	}
	return out, nil
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (r *Reference) Forward(tokens []int, hidden *tensor.Tensor) (tensor.Output, error) {
	if !r.loaded {
		return tensor.Output{}, fmt.Errorf("reference %s: weights not loaded", r.shard)
	}
	h := r.cfg.HiddenSize
	var x *mat.Dense
	switch {
	case tokens != nil && hidden != nil:
		return tensor.Output{}, fmt.Errorf("%w: both tokens and hidden state given", tensor.ErrShape)
	case tokens != nil:
		if !r.shard.IsFirst() {
			return tensor.Output{}, fmt.Errorf("%w: shard %s does not embed tokens", tensor.ErrShape, r.shard)
		}
		if len(tokens) == 0 {
			return tensor.Output{}, fmt.Errorf("%w: empty token sequence", tensor.ErrShape)
		}
		x = mat.NewDense(len(tokens), h, nil)
		for i, id := range tokens {
			if id < 0 || id >= r.cfg.VocabSize {
				return tensor.Output{}, fmt.Errorf("%w: token id %d outside vocab of %d", tensor.ErrShape, id, r.cfg.VocabSize)
			}
			x.SetRow(i, r.embed.RawRowView(id))
		}
	case hidden != nil:
		if r.shard.IsFirst() {
			return tensor.Output{}, fmt.Errorf("%w: shard %s expects tokens, got hidden state", tensor.ErrShape, r.shard)
		}
		if err := hidden.Validate(); err != nil {
			return tensor.Output{}, err
		}
		if hidden.Rank() != 3 || hidden.Shape[0] != 1 || hidden.Shape[2] != h {
			return tensor.Output{}, fmt.Errorf("%w: hidden state %v, want [1, seq, %d]", tensor.ErrShape, hidden.Shape, h)
		}
		seq := hidden.Shape[1]
		data := make([]float64, len(hidden.Data))
		for i, v := range hidden.Data {
			data[i] = float64(v)
		}
		x = mat.NewDense(seq, h, data)
	default:
		return tensor.Output{}, fmt.Errorf("%w: no input", tensor.ErrShape)
	}

	for _, l := range r.layers {
		l.apply(x)
	}

	seq, _ := x.Dims()
	if !r.shard.IsLast() {
		return tensor.Output{Hidden: toTensor(x, seq, h)}, nil
	}
	r.rmsNorm(x)
	var logits mat.Dense
	logits.Mul(x, r.head.T())
	return tensor.Output{Logits: toTensor(&logits, seq, r.cfg.VocabSize)}, nil
}

func (l refLayer) apply(x *mat.Dense) {
	seq, h := x.Dims()
	mixed := mat.NewDense(seq, h, nil)
	sum := make([]float64, h)
	for t := 0; t < seq; t++ {
		row := x.RawRowView(t)
		out := mixed.RawRowView(t)
		n := float64(t + 1)
		for j, v := range row {
			sum[j] += v
			out[j] = v + sum[j]/n
		}
	}
	var y mat.Dense
	y.Mul(mixed, l.w.T())
	for t := 0; t < seq; t++ {
		row := x.RawRowView(t)
		yr := y.RawRowView(t)
		for j := range row {
			row[j] += math.Tanh(yr[j] + l.b[j])
		}
	}
}

func (r *Reference) rmsNorm(x *mat.Dense) {
	seq, h := x.Dims()
	for t := 0; t < seq; t++ {
		row := x.RawRowView(t)
		ss := mat.Dot(mat.NewVecDense(h, row), mat.NewVecDense(h, row))
		scale := 1 / math.Sqrt(ss/float64(h)+r.cfg.RMSNormEps)
		for j := range row {
			row[j] *= scale * r.norm[j]
		}
	}
}

func toTensor(m *mat.Dense, rows, cols int) *tensor.Tensor {
	out := tensor.New(1, rows, cols)
	for i := 0; i < rows; i++ {
		for j, v := range m.RawRowView(i) {
			out.Data[i*cols+j] = float32(v)
		}
	}
	return out
}

// WriteReference writes config.json and model.safetensors for a randomly
// initialised reference model into dir.
func WriteReference(dir string, cfg Config, seed uint64) error {
	cfg.ModelType = ReferenceType
	if cfg.RMSNormEps == 0 {
		cfg.RMSNormEps = 1e-5
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9E3779B9))
	h, v := cfg.HiddenSize, cfg.VocabSize
	scale := 1 / math.Sqrt(float64(h))
	randn := func(n int, s float64) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(rng.NormFloat64() * s)
		}
		return out
	}
	ones := make([]float32, h)
	for i := range ones {
		ones[i] = 1
	}
	tensors := map[string]safetensors.Tensor{
		embedName(): {Shape: []int{v, h}, Data: randn(v*h, 1)},
		normName():  {Shape: []int{h}, Data: ones},
		headName():  {Shape: []int{v, h}, Data: randn(v*h, scale)},
	}
	for i := 0; i < cfg.NumHiddenLayers; i++ {
		tensors[layerWeight(i)] = safetensors.Tensor{Shape: []int{h, h}, Data: randn(h*h, scale)}
		tensors[layerBias(i)] = safetensors.Tensor{Shape: []int{h}, Data: randn(h, 0.1)}
	}
	if err := safetensors.Write(filepath.Join(dir, "model.safetensors"), "F32", tensors); err != nil {
		return err
	}
	return cfg.Write(filepath.Join(dir, "config.json"))
}
