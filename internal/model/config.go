package model

import (
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"
)

// Config is the subset of a model's config.json the engine and the model
// builders need.
type Config struct {
	ModelType        string  `json:"model_type"`
	HiddenSize       int     `json:"hidden_size"`
	IntermediateSize int     `json:"intermediate_size,omitempty"`
	VocabSize        int     `json:"vocab_size"`
	NumHiddenLayers  int     `json:"num_hidden_layers"`
	RMSNormEps       float64 `json:"rms_norm_eps,omitempty"`
	TorchDtype       string  `json:"torch_dtype,omitempty"`
}

// LoadConfig reads and validates a config.json file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.RMSNormEps == 0 {
		cfg.RMSNormEps = 1e-5
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ModelType) == "" {
		return fmt.Errorf("invalid model_type: empty")
	}
	if c.HiddenSize <= 0 {
		return fmt.Errorf("invalid hidden_size: %d (must be positive)", c.HiddenSize)
	}
	if c.VocabSize <= 0 {
		return fmt.Errorf("invalid vocab_size: %d (must be positive)", c.VocabSize)
	}
	if c.NumHiddenLayers <= 0 {
		return fmt.Errorf("invalid num_hidden_layers: %d (must be positive)", c.NumHiddenLayers)
	}
	if c.RMSNormEps < 0 {
		return fmt.Errorf("invalid rms_norm_eps: %f (must be non-negative)", c.RMSNormEps)
	}
	return nil
}

// Write stores cfg as config.json-style JSON at path.
func (c Config) Write(path string) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
