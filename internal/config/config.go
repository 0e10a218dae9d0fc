// Package config loads the orchestrator's runtime knobs from environment
// variables (spec §6). Parsing lives here, in the adapter layer, not in
// the orchestrator core — the core only ever consumes an already-validated
// Config value.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every environment-tunable knob the orchestrator and its
// adapters need.
type Config struct {
	Port                  string
	MaxConcurrent         int
	CORSOrigin            string
	BatchTimeout          time.Duration
	BatchTimeoutWithStdin time.Duration
	InteractiveTimeout    time.Duration
	WorkRoot              string
	ImagePrefix           string
}

// Default mirrors spec §5/§6's documented defaults.
func Default() Config {
	return Config{
		Port:                  "3000",
		MaxConcurrent:         5,
		CORSOrigin:            "*",
		BatchTimeout:          10 * time.Second,
		BatchTimeoutWithStdin: 15 * time.Second,
		InteractiveTimeout:    5 * time.Minute,
		WorkRoot:              os.TempDir(),
		ImagePrefix:           "",
	}
}

// FromEnv overlays environment variables onto Default(), leaving any unset
// variable at its default.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("MAX_CONCURRENT_EXECUTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			cfg.MaxConcurrent = n
		}
	}
	if v := os.Getenv("CORS_ORIGIN"); v != "" {
		cfg.CORSOrigin = v
	}
	if v := os.Getenv("BATCH_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("INTERACTIVE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.InteractiveTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("SANDBOX_WORK_ROOT"); v != "" {
		cfg.WorkRoot = v
	}
	if v := os.Getenv("SANDBOX_IMAGE_PREFIX"); v != "" {
		cfg.ImagePrefix = v
	}

	return cfg
}
