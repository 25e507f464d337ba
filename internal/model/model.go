// Package model defines the model construction and weight-loading
// collaborator used by the engine, and ships a small reference
// architecture that can be split into pipeline shards.
//
// A Model owns only the layers of its shard. The first shard embeds token
// ids; the last shard owns the final norm and LM head and produces logits.
// Every other shard maps a hidden state to a hidden state.
package model

import (
	"fmt"

	"shardd/internal/tensor"
	"shardd/pkg/types"
)

// Model runs a forward pass over the layers of one shard. Exactly one of
// tokens and hidden is set. Models keep no state between calls, so token
// mode is always handed the full decode history.
type Model interface {
	Forward(tokens []int, hidden *tensor.Tensor) (tensor.Output, error)
}

// BuildOptions are the construction parameters besides config and shard.
type BuildOptions struct {
	Device   string
	UseCache bool
}

// Builder constructs a model instance bound to a shard's layer range.
type Builder interface {
	Build(cfg Config, shard types.Shard, opts BuildOptions) (Model, error)
}

// WeightLoader populates a built model with the shard's weights from dir.
type WeightLoader interface {
	LoadWeights(dir string, shard types.Shard, m Model) error
}

// Family pairs a Builder with the WeightLoader for its models.
type Family struct {
	Builder
	WeightLoader
}

var families = map[string]Family{
	ReferenceType: {Builder: ReferenceBuilder{}, WeightLoader: ReferenceBuilder{}},
}

// Lookup returns the family registered for a config.json model_type.
func Lookup(modelType string) (Family, error) {
	f, ok := families[modelType]
	if !ok {
		return Family{}, fmt.Errorf("unsupported model_type %q", modelType)
	}
	return f, nil
}

// Registry dispatches Build and LoadWeights on the config's model_type.
type Registry struct{}

func (Registry) Build(cfg Config, shard types.Shard, opts BuildOptions) (Model, error) {
	f, err := Lookup(cfg.ModelType)
	if err != nil {
		return nil, err
	}
	return f.Build(cfg, shard, opts)
}

func (Registry) LoadWeights(dir string, shard types.Shard, m Model) error {
	switch m.(type) {
	case *Reference:
		return ReferenceBuilder{}.LoadWeights(dir, shard, m)
	default:
		return fmt.Errorf("no weight loader for %T", m)
	}
}
