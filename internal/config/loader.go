package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, overlays it onto
// [Default], and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found; soft issues are
// logged as warnings rather than rejected.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Identity.DistanceThreshold < 0 || cfg.Identity.DistanceThreshold > 2 {
		errs = append(errs, fmt.Errorf("identity.distance_threshold %.3f is out of range [0,2]", cfg.Identity.DistanceThreshold))
	}

	if cfg.Keystore.Dir == "" {
		errs = append(errs, errors.New("keystore.dir is required"))
	}
	if cfg.Audit.Dir == "" {
		errs = append(errs, errors.New("audit.dir is required"))
	}
	if cfg.Audit.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("audit.retention_days %d must be non-negative", cfg.Audit.RetentionDays))
	}

	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; the vector index will fail to connect at startup")
	}

	if cfg.Speech.SilenceEnergyThreshold <= 0 {
		errs = append(errs, fmt.Errorf("speech.silence_energy_threshold %.1f must be positive", cfg.Speech.SilenceEnergyThreshold))
	}
	if len(cfg.Speech.WakeWords) == 0 {
		slog.Warn("speech.wake_words is empty; the voice process will never open a session")
	}

	if cfg.MCP.Command == "" {
		slog.Warn("mcp.command is empty; the voice process has no tool server to launch")
	}

	return errors.Join(errs...)
}
