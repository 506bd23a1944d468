// Package config loads the supervisor configuration from .ai/config/supervisor.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the config file name without extension.
	ConfigFileName = "supervisor"
	// EnvPrefix is the prefix for environment overrides (PIPESUP_LOOP_BACKOFF etc).
	EnvPrefix = "PIPESUP"
)

// Config is the full supervisor configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Loop       LoopConfig       `mapstructure:"loop"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Heartbeat  HeartbeatConfig  `mapstructure:"heartbeat"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Reclaim    ReclaimConfig    `mapstructure:"reclaim"`
	Control    ControlConfig    `mapstructure:"control"`
	Phases     PhasesConfig     `mapstructure:"phases"`
}

// LogConfig controls the supervisor's own log output.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
}

// LoopConfig holds iteration loop settings.
type LoopConfig struct {
	Backoff       time.Duration `mapstructure:"backoff"`
	MaxIterations int           `mapstructure:"max_iterations"` // 0 = unlimited
}

// SupervisorConfig holds per-phase process supervision settings.
type SupervisorConfig struct {
	RuntimeBudget time.Duration `mapstructure:"runtime_budget"`
	GracePeriod   time.Duration `mapstructure:"grace_period"`
	TailLines     int           `mapstructure:"tail_lines"`
	PTY           bool          `mapstructure:"pty"`
}

// HeartbeatConfig holds liveness detection settings.
type HeartbeatConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxStaleness time.Duration `mapstructure:"max_staleness"`
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	WarningThreshold int `mapstructure:"warning_threshold"`
	StopThreshold    int `mapstructure:"stop_threshold"`
}

// SchedulerConfig holds phase selection settings.
type SchedulerConfig struct {
	StrategistEvery int `mapstructure:"strategist_every"`
}

// QueueConfig selects and configures the work queue.
type QueueConfig struct {
	Kind                     string `mapstructure:"kind"` // github, static
	Repo                     string `mapstructure:"repo"`
	PendingVerificationLabel string `mapstructure:"pending_verification_label"`
	OpenLabel                string `mapstructure:"open_label"`
	StaticPending            int    `mapstructure:"static_pending"`
	StaticOpen               int    `mapstructure:"static_open"`
}

// SyncConfig controls how workspace changes are published.
type SyncConfig struct {
	Push          bool          `mapstructure:"push"`
	Remote        string        `mapstructure:"remote"`
	CommitMessage string        `mapstructure:"commit_message"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// ReclaimConfig lists resources that must not outlive a worker.
type ReclaimConfig struct {
	ProcessPatterns []string `mapstructure:"process_patterns"`
	Ports           []int    `mapstructure:"ports"`
}

// ControlConfig configures the optional HTTP control endpoint.
type ControlConfig struct {
	Listen string `mapstructure:"listen"` // empty = disabled
}

// PhaseConfig holds the command for one phase.
type PhaseConfig struct {
	Command string `mapstructure:"command"`
}

// PhasesConfig holds the command of every phase.
type PhasesConfig struct {
	Implementer PhaseConfig `mapstructure:"implementer"`
	Verifier    PhaseConfig `mapstructure:"verifier"`
	Strategist  PhaseConfig `mapstructure:"strategist"`
}

// Command returns the configured command for a phase name.
func (p PhasesConfig) Command(name string) string {
	switch name {
	case "implementer":
		return p.Implementer.Command
	case "verifier":
		return p.Verifier.Command
	case "strategist":
		return p.Strategist.Command
	}
	return ""
}

// defaults holds every key with its default value. Durations are strings so the
// rendered config file stays human-readable.
var defaults = map[string]interface{}{
	"log.level":                        "info",
	"loop.backoff":                     "10s",
	"loop.max_iterations":              0,
	"supervisor.runtime_budget":        "45m",
	"supervisor.grace_period":          "5s",
	"supervisor.tail_lines":            50,
	"supervisor.pty":                   false,
	"heartbeat.poll_interval":          "60s",
	"heartbeat.max_staleness":          "15m",
	"breaker.warning_threshold":        3,
	"breaker.stop_threshold":           5,
	"scheduler.strategist_every":       5,
	"queue.kind":                       "github",
	"queue.repo":                       "",
	"queue.pending_verification_label": "needs-verification",
	"queue.open_label":                 "task",
	"queue.static_pending":             0,
	"queue.static_open":                0,
	"sync.push":                        true,
	"sync.remote":                      "origin",
	"sync.commit_message":              "[chore] pipeline {{phase}} iteration {{iteration}}",
	"sync.timeout":                     "2m",
	"reclaim.process_patterns":         []string{},
	"reclaim.ports":                    []int{},
	"control.listen":                   "",
	"phases.implementer.command":       "claude --print --dangerously-skip-permissions < .ai/prompts/implementer.md",
	"phases.verifier.command":          "claude --print --dangerously-skip-permissions < .ai/prompts/verifier.md",
	"phases.strategist.command":        "claude --print --dangerously-skip-permissions < .ai/prompts/strategist.md",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// Default returns the configuration with every default applied.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		// defaults are static; a decode failure is a programming error
		panic(err)
	}
	return cfg
}

// Load reads the config file under root. A missing file is not an error:
// defaults and PIPESUP_* environment overrides still apply.
func Load(root string) (*Config, error) {
	v := newViper()
	v.AddConfigPath(NewPaths(root).ConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return decode(v)
}

// LoadFile reads an explicit config file path.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// WriteDefault renders the default configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	header := []byte("# pipesup supervisor configuration\n# Durations use Go syntax (10s, 5m, 1h).\n")
	return os.WriteFile(path, append(header, data...), 0644)
}
