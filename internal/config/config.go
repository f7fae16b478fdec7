// Package config loads CADcore's process-wide configuration: one value,
// loaded once at startup, never mutated afterward (spec.md §9).
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// CoreConfig holds all configuration for the CADcore server.
// Precedence: environment variables > config file > defaults.
type CoreConfig struct {
	Store     StoreConfig     `toml:"store"`
	Transport TransportConfig `toml:"transport"`
	Log       LogConfig       `toml:"log"`
	Limits    LimitsConfig    `toml:"limits"`
	Solver    SolverConfig    `toml:"solver"`
	Kernel    KernelConfig    `toml:"kernel"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// StoreConfig holds the sqlite persistence layer's settings.
type StoreConfig struct {
	RootDir     string `toml:"root_dir"`     // directory holding cadcore.db
	BusyTimeout int    `toml:"busy_timeout"` // milliseconds; store.Open does not read it and always sets busy_timeout to 5000
}

// TransportConfig holds transport-related settings. CADcore only speaks
// newline-delimited JSON-RPC over stdio (spec.md §6); Mode is carried for
// parity with the teacher's config shape but "stdio" is presently the only
// supported value.
type TransportConfig struct {
	Mode string `toml:"mode"`
	Port string `toml:"port"`
	Host string `toml:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// LimitsConfig holds the resource caps spec.md §8 treats as invariants.
type LimitsConfig struct {
	MaxEntitiesPerWorkspace int `toml:"max_entities_per_workspace"`
	MaxFaceCount            int `toml:"max_face_count"`
}

// SolverConfig tunes the constraint solver's default behaviour.
type SolverConfig struct {
	DefaultTolerance float64 `toml:"default_tolerance"`
	MaxIterations    int     `toml:"max_iterations"`
}

// KernelConfig selects the geometry kernel backend. "analytic" is the
// default closed-form backend; "sdfx" swaps in the signed-distance-field
// backend built on github.com/deadsy/sdfx, whose booleans are exact for
// arbitrary solids.
type KernelConfig struct {
	Backend string `toml:"backend"`
}

// MetricsConfig controls whether agent.metrics reports live collector
// values or a "metrics are not enabled" error.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"` // reserved for a future out-of-band exposition endpoint; unused by the stdio dispatcher
}

// Load creates a CoreConfig by reading from a TOML config file and
// environment variables. Precedence: environment variables > config file >
// defaults.
//
// Config file search order (first found wins):
//  1. Path passed via configPath parameter (from --config flag)
//  2. CADCORE_CONFIG environment variable
//  3. ./cadcore.toml (current directory)
//  4. ~/.config/cadcore/cadcore.toml (XDG-style)
//
// All fields are optional in the config file. Environment variables always
// override file values.
func Load(configPath string) (*CoreConfig, error) {
	cfg := &CoreConfig{
		Store: StoreConfig{
			RootDir:     ".",
			BusyTimeout: 5000,
		},
		Transport: TransportConfig{
			Mode: "stdio",
			Port: "21452",
			Host: "0.0.0.0",
		},
		Log: LogConfig{
			Level: "info",
		},
		Limits: LimitsConfig{
			MaxEntitiesPerWorkspace: 10000,
			MaxFaceCount:            10000,
		},
		Solver: SolverConfig{
			DefaultTolerance: 1e-6,
			MaxIterations:    50,
		},
		Kernel: KernelConfig{
			Backend: "analytic",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}

	if err := cfg.loadFile(configPath); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile finds and parses the TOML config file. If no file is found,
// this is a no-op (config file is optional).
func (c *CoreConfig) loadFile(configPath string) error {
	path := resolveConfigPath(configPath)
	if path == "" {
		return nil // no config file found; rely on defaults + env
	}

	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	return nil
}

// resolveConfigPath determines which config file to use. Returns empty
// string if no config file is found (config file is optional).
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit // caller wants this file; let DecodeFile report if missing
	}

	if p := os.Getenv("CADCORE_CONFIG"); p != "" {
		return p
	}

	if _, err := os.Stat("cadcore.toml"); err == nil {
		return "cadcore.toml"
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := home + "/.config/cadcore/cadcore.toml"
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// applyEnv overlays environment variables on top of existing config
// values. An env var only takes effect if it is non-empty.
func (c *CoreConfig) applyEnv() {
	envOverride("CADCORE_STORE_ROOT_DIR", &c.Store.RootDir)
	envOverride("CADCORE_TRANSPORT_MODE", &c.Transport.Mode)
	envOverride("CADCORE_TRANSPORT_PORT", &c.Transport.Port)
	envOverride("CADCORE_TRANSPORT_HOST", &c.Transport.Host)
	envOverride("CADCORE_LOG_LEVEL", &c.Log.Level)
	envOverride("CADCORE_KERNEL_BACKEND", &c.Kernel.Backend)

	if v := os.Getenv("CADCORE_STORE_BUSY_TIMEOUT_MS"); v != "" {
		var ms int
		if _, err := fmt.Sscanf(v, "%d", &ms); err == nil && ms > 0 {
			c.Store.BusyTimeout = ms
		}
	}
	if v := os.Getenv("CADCORE_MAX_ENTITIES_PER_WORKSPACE"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.Limits.MaxEntitiesPerWorkspace = n
		}
	}
	if v := os.Getenv("CADCORE_MAX_FACE_COUNT"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.Limits.MaxFaceCount = n
		}
	}
	if v := os.Getenv("CADCORE_SOLVER_MAX_ITERATIONS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.Solver.MaxIterations = n
		}
	}
	if v := os.Getenv("CADCORE_METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = v == "true" || v == "1"
	}
}

// Validate checks that required fields are present and internally
// consistent.
func (c *CoreConfig) Validate() error {
	switch c.Transport.Mode {
	case "stdio":
		// no additional requirements; stdio needs no network configuration.
	default:
		return fmt.Errorf("invalid transport mode: %q (only \"stdio\" is supported)", c.Transport.Mode)
	}
	if c.Store.RootDir == "" {
		return fmt.Errorf("store.root_dir must not be empty")
	}
	if c.Limits.MaxEntitiesPerWorkspace <= 0 {
		return fmt.Errorf("limits.max_entities_per_workspace must be positive")
	}
	if c.Solver.MaxIterations <= 0 {
		return fmt.Errorf("solver.max_iterations must be positive")
	}
	switch c.Kernel.Backend {
	case "analytic", "sdfx":
	default:
		return fmt.Errorf("invalid kernel backend: %q (supported: \"analytic\", \"sdfx\")", c.Kernel.Backend)
	}
	return nil
}

// envOverride sets *dst to the value of the named env var, if it is
// non-empty.
func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
