package vcgen

import (
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultRLimit = 10_000_000
)

// Config holds the settings of a verification run.
type Config struct {
	// Checks recommendations (preconditions of spec functions and ranges of
	// casts) instead of proof obligations.
	CheckingRecommends bool `yaml:"checking_recommends"`

	// Re-verifies failing functions with compound assertions split into
	// separately reported conjuncts.
	Split bool `yaml:"split"`

	// Solver resource limit per query. Zero disables the limit.
	RLimit uint64 `yaml:"rlimit"`

	// Number of functions verified in parallel.
	Workers int `yaml:"workers"`

	Solver   SolverConfig `yaml:"solver"`
	LogLevel string       `yaml:"log_level"`
}

// SolverConfig selects the solver backend.
type SolverConfig struct {
	Backend string   `yaml:"backend"` // "z3" (embedded) or "process"
	Path    string   `yaml:"path"`
	Args    []string `yaml:"args"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		RLimit:   DefaultRLimit,
		Workers:  runtime.NumCPU(),
		Solver:   SolverConfig{Backend: "z3", Path: "z3", Args: []string{"-in", "-smt2"}},
		LogLevel: "info",
	}
}

// ReadConfigFile reads a YAML configuration file over the defaults.
func ReadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return cfg, nil
}
