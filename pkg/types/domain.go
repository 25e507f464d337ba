package types

import (
	"fmt"
	"strings"
)

// Shard identifies the contiguous, half-open layer range [Start, End) of a
// model that one pipeline node owns. Shards compare by value.
type Shard struct {
	// Model identifier, resolved to a local directory by the downloader.
	// example: llama-3.2-1b
	ModelID string `json:"model_id" example:"llama-3.2-1b"`
	// First layer owned by this shard (inclusive).
	// example: 0
	Start int `json:"start_layer" example:"0"`
	// Layer after the last one owned by this shard (exclusive).
	// example: 8
	End int `json:"end_layer" example:"8"`
	// Total number of layers in the model.
	// example: 16
	NLayers int `json:"n_layers" example:"16"`
}

// IsFirst reports whether the shard owns the embedding (layer 0).
func (s Shard) IsFirst() bool { return s.Start == 0 }

// IsLast reports whether the shard owns the final layer and the LM head.
func (s Shard) IsLast() bool { return s.End == s.NLayers }

// Len returns the number of layers in the shard.
func (s Shard) Len() int { return s.End - s.Start }

// IsZero reports whether s is the zero descriptor ("no shard").
func (s Shard) IsZero() bool { return s == Shard{} }

func (s Shard) String() string {
	return fmt.Sprintf("%s[%d:%d)/%d", s.ModelID, s.Start, s.End, s.NLayers)
}

// Validate checks the descriptor is self-consistent.
func (s Shard) Validate() error {
	if strings.TrimSpace(s.ModelID) == "" {
		return fmt.Errorf("invalid shard: empty model id")
	}
	if s.NLayers <= 0 {
		return fmt.Errorf("invalid shard %s: n_layers must be positive", s)
	}
	if s.Start < 0 || s.End > s.NLayers || s.Start >= s.End {
		return fmt.Errorf("invalid shard %s: need 0 <= start < end <= n_layers", s)
	}
	return nil
}

// Model is a model directory discovered under the models dir.
type Model struct {
	// Model identifier (directory name relative to the models dir).
	// example: llama-3.2-1b
	ID string `json:"id" example:"llama-3.2-1b"`
	// Absolute path to the model directory.
	// example: /home/user/models/llama-3.2-1b
	Path string `json:"path" example:"/home/user/models/llama-3.2-1b"`
	// Architecture name from config.json.
	// example: reference
	ModelType string `json:"model_type,omitempty" example:"reference"`
	// Total number of layers from config.json.
	// example: 16
	NLayers int `json:"n_layers,omitempty" example:"16"`
}
