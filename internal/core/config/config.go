package config

import (
	archive "github.com/lamnq/durascan/internal/archive/postgres"
	"github.com/lamnq/durascan/internal/credential/ledger"
	"github.com/lamnq/durascan/internal/provider"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	State     StateConfig      `yaml:"state"`
	Recovery  RecoveryConfig   `yaml:"recovery"`
	Redis     ledger.Config    `yaml:"redis"`
	Archive   archive.Config   `yaml:"archive"`
	Providers []ProviderConfig `yaml:"providers"`
	Scan      ScanConfig       `yaml:"scan"`
}

// ServerConfig holds the ops HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// StateConfig holds scan-state persistence settings.
type StateConfig struct {
	Dir                string `yaml:"dir"`                 // empty = per-user default
	CheckpointInterval int    `yaml:"checkpoint_interval"` // completed files per checkpoint
	RetentionDays      int    `yaml:"retention_days"`      // cleanup cutoff
	CleanupSchedule    string `yaml:"cleanup_schedule"`    // cron spec, empty = no janitor
}

// RecoveryConfig holds credential recovery settings.
type RecoveryConfig struct {
	Mode       string `yaml:"mode"` // cli, gui, auto
	MaxRetries int    `yaml:"max_retries"`
}

// ProviderConfig holds one remote provider plus its credential list.
type ProviderConfig struct {
	provider.Config `yaml:",inline"`
	Credentials     []CredentialConfig `yaml:"credentials"`
}

// CredentialConfig holds one configured API key.
type CredentialConfig struct {
	Secret  string `yaml:"secret"`
	Primary bool   `yaml:"primary"`
}

// ScanConfig holds scan pipeline settings.
type ScanConfig struct {
	Modules []string `yaml:"modules"`
}
