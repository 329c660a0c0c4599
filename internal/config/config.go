// Package config provides configuration management for the jsdap adapter.
//
// Configuration controls:
//   - Source map behavior: enablement, resolution timeouts, path overrides
//   - Breakpoint prediction: workspace roots, persisted cache location
//   - Exception and skip-file defaults
//   - Runtime limits: async stack depth, pause timeouts
//
// Configuration can be loaded from a JSON file or use sensible defaults.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds the adapter configuration
type Config struct {
	// SourceMaps controls source map resolution
	SourceMaps SourceMapConfig `json:"sourceMaps"`

	// Prediction controls the breakpoint predictor
	Prediction PredictionConfig `json:"prediction"`

	// SkipFiles is the initial set of skip-file glob patterns
	SkipFiles []string `json:"skipFiles,omitempty"`

	// AsyncStackDepth is passed to Debugger.setAsyncCallStackDepth
	AsyncStackDepth int `json:"asyncStackDepth"`

	// ScriptPausedTimeout bounds waits for scripts while building a
	// paused stack trace
	ScriptPausedTimeout time.Duration `json:"scriptPausedTimeout"`
}

// SourceMapConfig holds source-map-specific configuration
type SourceMapConfig struct {
	// Enabled turns source map resolution on or off entirely
	Enabled bool `json:"enabled"`

	// ResolveTimeout bounds the wait for one map to load while
	// resolving a preferred UI location
	ResolveTimeout time.Duration `json:"resolveTimeout"`

	// PathOverrides rewrites source URLs before resolving them to disk
	// (bundler-style "webpack:///./src/*" patterns)
	PathOverrides map[string]string `json:"pathOverrides,omitempty"`
}

// PredictionConfig holds breakpoint predictor configuration
type PredictionConfig struct {
	// Enabled turns ahead-of-load breakpoint prediction on or off
	Enabled bool `json:"enabled"`

	// WorkspaceRoot is the directory scanned for compiled scripts
	WorkspaceRoot string `json:"workspaceRoot,omitempty"`

	// CacheDir holds the persisted scan index; empty disables persistence
	CacheDir string `json:"cacheDir,omitempty"`

	// LongScanWarning fires the long-prediction notification after this
	// much scan time
	LongScanWarning time.Duration `json:"longScanWarning"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	cacheDir := ""
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(dir, "jsdap")
	}

	return &Config{
		SourceMaps: SourceMapConfig{
			Enabled:        true,
			ResolveTimeout: 2 * time.Second,
		},
		Prediction: PredictionConfig{
			Enabled:         true,
			CacheDir:        cacheDir,
			LongScanWarning: 10 * time.Second,
		},
		AsyncStackDepth:     32,
		ScriptPausedTimeout: 5 * time.Second,
	}
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
