// Package config loads inklet configuration from YAML files and
// validates it against an embedded CUE schema. The schema supplies
// defaults, rejects unknown fields, and checks value formats (duration
// strings, listen addresses, threshold bounds) before any component
// sees the values.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/inklet/inklet/internal/engine"
)

//go:embed schema.cue
var schemaCUE string

// Config is the root of an inklet configuration file.
type Config struct {
	Server ServerConfig `json:"server" yaml:"server"`
	Remote RemoteConfig `json:"remote" yaml:"remote"`
	Engine EngineConfig `json:"engine" yaml:"engine"`
}

// ServerConfig configures the reference sync service.
type ServerConfig struct {
	// Addr is the listen address, host optional ("127.0.0.1:8787", ":8787").
	Addr string `json:"addr" yaml:"addr"`

	// Store selects the document backend: memory, sqlite or postgres.
	Store string `json:"store" yaml:"store"`

	// DB is the database file path when Store is sqlite.
	DB string `json:"db,omitempty" yaml:"db,omitempty"`

	// DSN is the connection string when Store is postgres.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// RemoteConfig configures the client-side transport.
type RemoteConfig struct {
	// BaseURL is the root of the sync service the engine talks to.
	BaseURL string `json:"base_url" yaml:"base_url"`
}

// EngineConfig overrides engine scheduling. Durations are Go duration
// strings ("3s", "1m30s"); zero values keep the engine defaults.
type EngineConfig struct {
	Debounce            string  `json:"debounce,omitempty" yaml:"debounce,omitempty"`
	MaxInterval         string  `json:"max_interval,omitempty" yaml:"max_interval,omitempty"`
	MinSaveInterval     string  `json:"min_save_interval,omitempty" yaml:"min_save_interval,omitempty"`
	SaveTimeout         string  `json:"save_timeout,omitempty" yaml:"save_timeout,omitempty"`
	SmallPatchThreshold int     `json:"small_patch_threshold,omitempty" yaml:"small_patch_threshold,omitempty"`
	SnapshotRatio       float64 `json:"snapshot_ratio,omitempty" yaml:"snapshot_ratio,omitempty"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates YAML configuration bytes against the schema and
// returns the resulting config with schema defaults applied. Empty
// input yields the defaults.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}

	merged := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(raw))
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var cfg Config
	if err := merged.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration produced by the schema alone.
func Default() *Config {
	cfg, err := Parse(nil)
	if err != nil {
		panic("config: embedded schema does not validate: " + err.Error())
	}
	return cfg
}

// Timings converts the engine section to engine.Timings. Unset fields
// stay zero so the engine substitutes its own defaults.
func (e EngineConfig) Timings() (engine.Timings, error) {
	var t engine.Timings
	for _, f := range []struct {
		name string
		val  string
		dst  *time.Duration
	}{
		{"debounce", e.Debounce, &t.DebounceDelay},
		{"max_interval", e.MaxInterval, &t.MaxSaveInterval},
		{"min_save_interval", e.MinSaveInterval, &t.MinSaveInterval},
		{"save_timeout", e.SaveTimeout, &t.SaveTimeout},
	} {
		if f.val == "" {
			continue
		}
		d, err := time.ParseDuration(f.val)
		if err != nil {
			return engine.Timings{}, fmt.Errorf("engine.%s: %w", f.name, err)
		}
		*f.dst = d
	}
	t.SmallPatchThreshold = e.SmallPatchThreshold
	t.SnapshotRatio = e.SnapshotRatio
	return t, nil
}
