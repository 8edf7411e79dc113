// Package config loads gemini-mcp configuration from TOML, JSON or YAML files,
// layers environment and command-line overrides on top, and validates the result.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roelfdiedericks/gemini-mcp/internal/logging"
	"github.com/roelfdiedericks/gemini-mcp/internal/paths"
)

// Environment variables that override file settings.
const (
	EnvBinary  = "GEMINI_MCP_BINARY"
	EnvModels  = "GEMINI_MCP_MODELS"
	EnvTimeout = "GEMINI_MCP_TIMEOUT"
)

// Config represents the merged gemini-mcp configuration
type Config struct {
	Gemini GeminiConfig `json:"gemini" toml:"gemini" yaml:"gemini"`
	Files  FilesConfig  `json:"files" toml:"files" yaml:"files"`
	Log    LogConfig    `json:"log" toml:"log" yaml:"log"`
}

// GeminiConfig controls how the gemini CLI is invoked.
type GeminiConfig struct {
	Binary            string   `json:"binary" toml:"binary" yaml:"binary"`                                  // executable name or path
	Models            []string `json:"models" toml:"models" yaml:"models"`                                  // fallback chain, first = primary
	TimeoutSeconds    int      `json:"timeoutSeconds" toml:"timeoutSeconds" yaml:"timeoutSeconds"`          // per-attempt timeout
	MaxRetries        int      `json:"maxRetries" toml:"maxRetries" yaml:"maxRetries"`                      // retries per model on transient errors
	RetryDelaySeconds int      `json:"retryDelaySeconds" toml:"retryDelaySeconds" yaml:"retryDelaySeconds"` // fixed delay between retries
}

// FilesConfig bounds how much file context is gathered per query.
type FilesConfig struct {
	MaxFiles   int  `json:"maxFiles" toml:"maxFiles" yaml:"maxFiles"`
	MaxBytes   int  `json:"maxBytes" toml:"maxBytes" yaml:"maxBytes"`
	SkipBinary bool `json:"skipBinary" toml:"skipBinary" yaml:"skipBinary"`
}

// LogConfig holds the log level name (trace, debug, info, warn, error).
type LogConfig struct {
	Level string `json:"level" toml:"level" yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Gemini: GeminiConfig{
			Binary:            "gemini",
			TimeoutSeconds:    120,
			MaxRetries:        2,
			RetryDelaySeconds: 3,
		},
		Files: FilesConfig{
			MaxFiles:   500,
			MaxBytes:   10_000_000,
			SkipBinary: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Timeout returns the per-attempt timeout as a duration.
func (g GeminiConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// RetryDelay returns the inter-retry delay as a duration.
func (g GeminiConfig) RetryDelay() time.Duration {
	return time.Duration(g.RetryDelaySeconds) * time.Second
}

// Load reads the config file at path on top of the defaults, then applies
// environment overrides. An empty path triggers the standard lookup
// (see paths.ConfigPath); finding no file at all is not an error.
// Returns the config and the path actually loaded ("" if none).
func Load(path string) (*Config, string, error) {
	if path == "" {
		found, err := paths.ConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = found
	} else {
		expanded, err := paths.ExpandTilde(path)
		if err != nil {
			return nil, "", err
		}
		path = expanded
	}

	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, path, err
		}
		logging.L_debug("config: loaded file", "path", path)
	} else {
		logging.L_debug("config: no config file found, using defaults")
	}

	env, err := fromEnv()
	if err != nil {
		return nil, path, err
	}
	if err := cfg.Merge(env); err != nil {
		return nil, path, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// decodeFile decodes a TOML, JSON or YAML file into cfg. Keys absent from the file
// keep the values already present in cfg.
func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		for _, key := range md.Undecoded() {
			logging.L_warn("config: unknown key ignored", "path", path, "key", key.String())
		}
		return nil
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return nil
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported config format %q (want .toml, .json or .yaml)", filepath.Ext(path))
	}
}

// fromEnv builds an override layer from GEMINI_MCP_* variables.
func fromEnv() (*Config, error) {
	o := &Config{}
	o.Gemini.Binary = strings.TrimSpace(os.Getenv(EnvBinary))
	o.Gemini.Models = SplitList(os.Getenv(EnvModels))
	if v := strings.TrimSpace(os.Getenv(EnvTimeout)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		o.Gemini.TimeoutSeconds = n
	}
	return o, nil
}

// Merge layers the non-zero fields of override on top of c.
func (c *Config) Merge(override *Config) error {
	if override == nil {
		return nil
	}
	if err := mergo.Merge(c, override, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Gemini.Binary) == "" {
		errs = append(errs, errors.New("gemini.binary must not be empty"))
	}
	if c.Gemini.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("gemini.timeoutSeconds must be positive, got %d", c.Gemini.TimeoutSeconds))
	}
	if c.Gemini.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("gemini.maxRetries must not be negative, got %d", c.Gemini.MaxRetries))
	}
	if c.Gemini.RetryDelaySeconds < 0 {
		errs = append(errs, fmt.Errorf("gemini.retryDelaySeconds must not be negative, got %d", c.Gemini.RetryDelaySeconds))
	}
	for i, m := range c.Gemini.Models {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, fmt.Errorf("gemini.models[%d] is empty", i))
		}
	}
	if c.Files.MaxFiles <= 0 {
		errs = append(errs, fmt.Errorf("files.maxFiles must be positive, got %d", c.Files.MaxFiles))
	}
	if c.Files.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("files.maxBytes must be positive, got %d", c.Files.MaxBytes))
	}
	return errors.Join(errs...)
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
