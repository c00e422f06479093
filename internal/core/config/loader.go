package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file. Environment variables in the
// file are expanded before parsing, so secrets can stay out of the file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8085
	}
	if cfg.State.CheckpointInterval == 0 {
		cfg.State.CheckpointInterval = 10
	}
	if cfg.State.RetentionDays == 0 {
		cfg.State.RetentionDays = 30
	}
	if cfg.Recovery.Mode == "" {
		cfg.Recovery.Mode = "auto"
	}
	if cfg.Recovery.MaxRetries == 0 {
		cfg.Recovery.MaxRetries = 3
	}
	if len(cfg.Scan.Modules) == 0 {
		cfg.Scan.Modules = []string{"secrets", "injection", "xss"}
	}
}

// Validate checks the pieces a scan run cannot proceed without.
func (cfg *AppConfig) Validate() error {
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("no providers configured")
	}
	for _, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if len(p.Credentials) == 0 {
			return fmt.Errorf("provider %s has no credentials", p.Name)
		}
		for _, c := range p.Credentials {
			if c.Secret == "" {
				return fmt.Errorf("provider %s has an empty credential", p.Name)
			}
		}
	}
	switch cfg.Recovery.Mode {
	case "cli", "gui", "auto":
	default:
		return fmt.Errorf("unknown recovery mode %q", cfg.Recovery.Mode)
	}
	return nil
}
