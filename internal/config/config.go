// Package config loads the default harness policy a demonstration
// deployment starts from: autonomy level, checkpoint cadence, tool-call
// budget/timeout/retry schedule, sub-agent depth cap, and which store/
// engine backends to wire up.
//
// Modeled on goa-ai's yaml.v3 struct-tag loading convention
// (integration_tests/framework/runner.go's Scenario/Defaults/Step
// decoding), adapted from a test-scenario file to a policy file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kestrel-systems/harness/internal/manager"
	"github.com/kestrel-systems/harness/internal/toolcall"
)

// Config is the top-level shape of a harness policy file.
type Config struct {
	Harness HarnessPolicy `yaml:"harness"`
	Store   StoreConfig   `yaml:"store"`
	Engine  EngineConfig  `yaml:"engine"`
}

// HarnessPolicy carries the defaults every new harness is created with
// absent a per-call override.
type HarnessPolicy struct {
	AutonomyLevel      int        `yaml:"autonomyLevel"`
	CheckpointInterval Duration   `yaml:"checkpointInterval"`
	DepthCap           int        `yaml:"depthCap"`
	ToolBudget         ToolPolicy `yaml:"toolBudget"`
}

// ToolPolicy mirrors toolcall.Options' wire-configurable fields.
type ToolPolicy struct {
	MaxTotalCalls int      `yaml:"maxTotalCalls"`
	CallTimeout   Duration `yaml:"callTimeout"`
	MaxRetries    int      `yaml:"maxRetries"`
	BaseBackoff   Duration `yaml:"baseBackoff"`
}

// ToOptions converts a ToolPolicy into toolcall.Options.
func (p ToolPolicy) ToOptions() toolcall.Options {
	return toolcall.Options{
		MaxTotalCalls: p.MaxTotalCalls,
		CallTimeout:   time.Duration(p.CallTimeout),
		MaxRetries:    p.MaxRetries,
		BaseBackoff:   time.Duration(p.BaseBackoff),
	}
}

// Duration wraps time.Duration so a policy file can write human-readable
// values ("5m", "30s") instead of raw nanosecond counts; yaml.v3 has no
// built-in support for parsing time.Duration directly.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or a plain integer
// nanosecond count.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("config: invalid duration: %v", value.Value)
	}
	*d = Duration(ns)
	return nil
}

// StoreConfig selects the durable-store bridge's primary and fallback
// backends. Backend is one of "memory", "mongo", "redis"; an empty primary
// selects "memory" and an empty fallback disables the fallback.
type StoreConfig struct {
	Primary  BackendConfig `yaml:"primary"`
	Fallback BackendConfig `yaml:"fallback"`
}

// BackendConfig names a store backend and its connection string. The
// connection string's shape is backend-specific (a Mongo URI, a Redis
// address); internal/cli is responsible for dialing it.
type BackendConfig struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

// EngineConfig selects the workflow engine backend: "inmem" or "temporal".
type EngineConfig struct {
	Backend   string `yaml:"backend"`
	HostPort  string `yaml:"hostPort"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"taskQueue"`
}

// Default returns the built-in policy a deployment starts from absent a
// config file: autonomy level 3, a 5 minute checkpoint cadence, depth cap
// 3, the toolcall package's own defaults, and in-memory store/engine
// backends.
func Default() Config {
	return Config{
		Harness: HarnessPolicy{
			AutonomyLevel:      3,
			CheckpointInterval: Duration(5 * time.Minute),
			DepthCap:           3,
			ToolBudget: ToolPolicy{
				MaxTotalCalls: 100,
				CallTimeout:   Duration(30 * time.Second),
				MaxRetries:    3,
				BaseBackoff:   Duration(time.Second),
			},
		},
		Store:  StoreConfig{Primary: BackendConfig{Backend: "memory"}},
		Engine: EngineConfig{Backend: "inmem", TaskQueue: "harness"},
	}
}

// Load reads and parses a policy file at path; any field the file does
// not mention keeps Default()'s value.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ManagerOptions returns the per-harness manager.CreateOptions this config
// governs: autonomy level, checkpoint cadence, and tool-call budget. The
// depth cap and the engine/store backends are not part of it.
func (c Config) ManagerOptions() manager.CreateOptions {
	return manager.CreateOptions{
		AutonomyLevel:      c.Harness.AutonomyLevel,
		CheckpointInterval: time.Duration(c.Harness.CheckpointInterval),
		ToolOptions:        c.Harness.ToolBudget.ToOptions(),
	}
}
