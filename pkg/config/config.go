// Package config loads convoy configuration from YAML with validated
// defaults for every tunable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stackmesh/convoy/pkg/contextlog"
)

// Default configuration values exported for documentation and validation
const (
	DefaultTokenCapacity       = 200_000
	DefaultWarningPct          = contextlog.DefaultWarningPct
	DefaultCriticalPct         = contextlog.DefaultCriticalPct
	DefaultEmergencyPct        = contextlog.DefaultEmergencyPct
	DefaultSessionRatio        = contextlog.SessionCompressionRatio
	DefaultProjectRatio        = contextlog.ProjectCompressionRatio
	DefaultEmergencyKeep       = contextlog.DefaultEmergencyKeep
	DefaultBackoffBase         = 50 * time.Millisecond
	DefaultBackoffMax          = 2 * time.Second
	DefaultResourceWaitTimeout = 30 * time.Second
	DefaultDependencyGrace     = 30 * time.Second
	DefaultMaxRetries          = 3
	DefaultBusURL              = "nats://localhost:4222"
	DefaultStoragePath         = "convoy.db"
	DefaultLogDir              = "logs"
)

// Config is the complete convoy configuration.
type Config struct {
	Context ContextConfig `yaml:"context"`
	Workers WorkersConfig `yaml:"workers"`
	Bus     BusConfig     `yaml:"bus"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// ContextConfig tunes the context log budget and compaction.
type ContextConfig struct {
	// TokenCapacity is the hard context window size in tokens
	TokenCapacity int `yaml:"token_capacity"`

	// WarningPct, CriticalPct, EmergencyPct are usage thresholds (percent,
	// strictly increasing)
	WarningPct   float64 `yaml:"warning_pct"`
	CriticalPct  float64 `yaml:"critical_pct"`
	EmergencyPct float64 `yaml:"emergency_pct"`

	// SessionRatio and ProjectRatio are the compression ratios per scope
	SessionRatio float64 `yaml:"session_ratio"`
	ProjectRatio float64 `yaml:"project_ratio"`

	// EmergencyKeep is how many recent events survive an emergency compaction
	EmergencyKeep int `yaml:"emergency_keep"`
}

// WorkersConfig tunes worker scheduling and retries.
type WorkersConfig struct {
	BackoffBase         time.Duration `yaml:"backoff_base"`
	BackoffMax          time.Duration `yaml:"backoff_max"`
	ResourceWaitTimeout time.Duration `yaml:"resource_wait_timeout"`
	DependencyGrace     time.Duration `yaml:"dependency_grace"`
	MaxRetries          int           `yaml:"max_retries"`
}

// BusConfig selects the message transport.
type BusConfig struct {
	// URL is the NATS server address; empty selects the in-process bus
	URL string `yaml:"url"`

	// Embedded forces the in-process bus even when URL is set
	Embedded bool `yaml:"embedded"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Path is the SQLite DSN; empty disables persistence
	Path string `yaml:"path"`
}

// LoggingConfig tunes structured logging.
type LoggingConfig struct {
	Dir      string `yaml:"dir"`
	MinLevel string `yaml:"min_level"`
}

// NotifyConfig configures operator notification channels.
type NotifyConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	SlackChannel    string `yaml:"slack_channel"`

	// BusSubjects publishes notifications on the message bus as well
	BusSubjects bool `yaml:"bus_subjects"`
}

// Default returns a configuration with every field at its default.
func Default() *Config {
	return &Config{
		Context: ContextConfig{
			TokenCapacity: DefaultTokenCapacity,
			WarningPct:    DefaultWarningPct,
			CriticalPct:   DefaultCriticalPct,
			EmergencyPct:  DefaultEmergencyPct,
			SessionRatio:  DefaultSessionRatio,
			ProjectRatio:  DefaultProjectRatio,
			EmergencyKeep: DefaultEmergencyKeep,
		},
		Workers: WorkersConfig{
			BackoffBase:         DefaultBackoffBase,
			BackoffMax:          DefaultBackoffMax,
			ResourceWaitTimeout: DefaultResourceWaitTimeout,
			DependencyGrace:     DefaultDependencyGrace,
			MaxRetries:          DefaultMaxRetries,
		},
		Bus: BusConfig{
			URL:      DefaultBusURL,
			Embedded: true,
		},
		Storage: StorageConfig{
			Path: DefaultStoragePath,
		},
		Logging: LoggingConfig{
			Dir:      DefaultLogDir,
			MinLevel: "info",
		},
	}
}

// Load reads the config file at path, layering it over the defaults. A
// missing path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a sparse YAML file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Context.TokenCapacity == 0 {
		c.Context.TokenCapacity = d.Context.TokenCapacity
	}
	if c.Context.WarningPct == 0 {
		c.Context.WarningPct = d.Context.WarningPct
	}
	if c.Context.CriticalPct == 0 {
		c.Context.CriticalPct = d.Context.CriticalPct
	}
	if c.Context.EmergencyPct == 0 {
		c.Context.EmergencyPct = d.Context.EmergencyPct
	}
	if c.Context.SessionRatio == 0 {
		c.Context.SessionRatio = d.Context.SessionRatio
	}
	if c.Context.ProjectRatio == 0 {
		c.Context.ProjectRatio = d.Context.ProjectRatio
	}
	if c.Context.EmergencyKeep == 0 {
		c.Context.EmergencyKeep = d.Context.EmergencyKeep
	}
	if c.Workers.BackoffBase == 0 {
		c.Workers.BackoffBase = d.Workers.BackoffBase
	}
	if c.Workers.BackoffMax == 0 {
		c.Workers.BackoffMax = d.Workers.BackoffMax
	}
	if c.Workers.ResourceWaitTimeout == 0 {
		c.Workers.ResourceWaitTimeout = d.Workers.ResourceWaitTimeout
	}
	if c.Workers.DependencyGrace == 0 {
		c.Workers.DependencyGrace = d.Workers.DependencyGrace
	}
	if c.Workers.MaxRetries == 0 {
		c.Workers.MaxRetries = d.Workers.MaxRetries
	}
	if c.Bus.URL == "" {
		c.Bus.URL = d.Bus.URL
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = d.Logging.Dir
	}
	if c.Logging.MinLevel == "" {
		c.Logging.MinLevel = d.Logging.MinLevel
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Context.TokenCapacity <= 0 {
		return fmt.Errorf("context.token_capacity must be positive, got %d", c.Context.TokenCapacity)
	}
	w, cr, e := c.Context.WarningPct, c.Context.CriticalPct, c.Context.EmergencyPct
	if w <= 0 || w >= cr || cr >= e || e > 100 {
		return fmt.Errorf("context thresholds must be strictly increasing within (0, 100]: warning=%.1f critical=%.1f emergency=%.1f", w, cr, e)
	}
	for name, ratio := range map[string]float64{
		"session_ratio": c.Context.SessionRatio,
		"project_ratio": c.Context.ProjectRatio,
	} {
		if ratio <= 0 || ratio >= 1 {
			return fmt.Errorf("context.%s must be in (0, 1), got %.2f", name, ratio)
		}
	}
	if c.Context.EmergencyKeep < 1 {
		return fmt.Errorf("context.emergency_keep must be at least 1, got %d", c.Context.EmergencyKeep)
	}
	if c.Workers.BackoffBase <= 0 || c.Workers.BackoffMax < c.Workers.BackoffBase {
		return fmt.Errorf("workers backoff range invalid: base=%s max=%s", c.Workers.BackoffBase, c.Workers.BackoffMax)
	}
	if c.Workers.MaxRetries < 0 {
		return fmt.Errorf("workers.max_retries cannot be negative, got %d", c.Workers.MaxRetries)
	}
	switch c.Logging.MinLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.min_level must be one of debug, info, warn, error; got %q", c.Logging.MinLevel)
	}
	return nil
}
