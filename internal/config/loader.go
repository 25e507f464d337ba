// Package config loads the daemon configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"shardd/internal/sample"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified"; Defaults fills them in.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	Temperature float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopK        int     `json:"top_k" yaml:"top_k" toml:"top_k"`
	// Seed seeds the sampler; negative draws a random seed.
	Seed int64 `json:"seed" yaml:"seed" toml:"seed"`

	// FixedTokenizer selects original/tokenizer.model over tokenizer.json.
	FixedTokenizer bool   `json:"fixed_tokenizer" yaml:"fixed_tokenizer" toml:"fixed_tokenizer"`
	Device         string `json:"device" yaml:"device" toml:"device"`
	// EngineName is passed to the shard downloader.
	EngineName     string `json:"engine_name" yaml:"engine_name" toml:"engine_name"`

	MaxSessions      int `json:"max_sessions" yaml:"max_sessions" toml:"max_sessions"`
	MaxQueueDepth    int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitSeconds   int `json:"max_wait_seconds" yaml:"max_wait_seconds" toml:"max_wait_seconds"`
	OpTimeoutSeconds int `json:"op_timeout_seconds" yaml:"op_timeout_seconds" toml:"op_timeout_seconds"`

	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	CORSEnabled        bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
	CORSAllowedMethods []string `json:"cors_allowed_methods" yaml:"cors_allowed_methods" toml:"cors_allowed_methods"`
	CORSAllowedHeaders []string `json:"cors_allowed_headers" yaml:"cors_allowed_headers" toml:"cors_allowed_headers"`

	DisableSwagger bool `json:"disable_swagger" yaml:"disable_swagger" toml:"disable_swagger"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Defaults returns the built-in configuration, with SHARDD_ADDR,
// SHARDD_LOG_LEVEL, SHARDD_FIXED_TOKENIZER and SHARDD_DEVICE applied.
func Defaults() Config {
	cfg := Config{
		Addr:               ":8080",
		ModelsDir:          "~/models/shardd",
		LogLevel:           "info",
		LogFormat:          "console",
		Temperature:        sample.DefaultTemperature,
		TopK:               sample.DefaultTopK,
		Seed:               -1,
		Device:             "cpu",
		MaxSessions:        1024,
		MaxQueueDepth:      32,
		MaxWaitSeconds:     30,
		MaxBodyBytes:       8 << 20,
		CORSAllowedOrigins: []string{"*"},
		CORSAllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "Accept", "X-Log-Level"},
	}
	if v := os.Getenv("SHARDD_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("SHARDD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SHARDD_FIXED_TOKENIZER"); v != "" {
		cfg.FixedTokenizer, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("SHARDD_DEVICE"); v != "" {
		cfg.Device = v
	}
	return cfg
}

// Merge overlays the non-zero fields of file onto c.
func (c Config) Merge(file Config) Config {
	if file.Addr != "" {
		c.Addr = file.Addr
	}
	if file.ModelsDir != "" {
		c.ModelsDir = file.ModelsDir
	}
	if file.LogLevel != "" {
		c.LogLevel = file.LogLevel
	}
	if file.LogFormat != "" {
		c.LogFormat = file.LogFormat
	}
	if file.Temperature != 0 {
		c.Temperature = file.Temperature
	}
	if file.TopK != 0 {
		c.TopK = file.TopK
	}
	if file.Seed != 0 {
		c.Seed = file.Seed
	}
	if file.FixedTokenizer {
		c.FixedTokenizer = true
	}
	if file.Device != "" {
		c.Device = file.Device
	}
	if file.EngineName != "" {
		c.EngineName = file.EngineName
	}
	if file.MaxSessions != 0 {
		c.MaxSessions = file.MaxSessions
	}
	if file.MaxQueueDepth != 0 {
		c.MaxQueueDepth = file.MaxQueueDepth
	}
	if file.MaxWaitSeconds != 0 {
		c.MaxWaitSeconds = file.MaxWaitSeconds
	}
	if file.OpTimeoutSeconds != 0 {
		c.OpTimeoutSeconds = file.OpTimeoutSeconds
	}
	if file.MaxBodyBytes != 0 {
		c.MaxBodyBytes = file.MaxBodyBytes
	}
	if file.CORSEnabled {
		c.CORSEnabled = true
	}
	if len(file.CORSAllowedOrigins) > 0 {
		c.CORSAllowedOrigins = file.CORSAllowedOrigins
	}
	if len(file.CORSAllowedMethods) > 0 {
		c.CORSAllowedMethods = file.CORSAllowedMethods
	}
	if len(file.CORSAllowedHeaders) > 0 {
		c.CORSAllowedHeaders = file.CORSAllowedHeaders
	}
	if file.DisableSwagger {
		c.DisableSwagger = true
	}
	return c
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("invalid addr: empty")
	}
	if c.ModelsDir == "" {
		return fmt.Errorf("invalid models_dir: empty")
	}
	if c.Temperature <= 0 || math.IsNaN(c.Temperature) || math.IsInf(c.Temperature, 0) {
		return fmt.Errorf("invalid temperature: %v (must be positive and finite)", c.Temperature)
	}
	if c.TopK < 1 {
		return fmt.Errorf("invalid top_k: %d (must be >= 1)", c.TopK)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("invalid max_sessions: %d (must be positive)", c.MaxSessions)
	}
	if c.MaxQueueDepth < 1 {
		return fmt.Errorf("invalid max_queue_depth: %d (must be positive)", c.MaxQueueDepth)
	}
	if c.MaxWaitSeconds < 1 {
		return fmt.Errorf("invalid max_wait_seconds: %d (must be positive)", c.MaxWaitSeconds)
	}
	if c.OpTimeoutSeconds < 0 {
		return fmt.Errorf("invalid op_timeout_seconds: %d (must be >= 0)", c.OpTimeoutSeconds)
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("invalid max_body_bytes: %d (must be >= 0)", c.MaxBodyBytes)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %q (must be console or json)", c.LogFormat)
	}
	return nil
}
