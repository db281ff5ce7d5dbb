// Package config holds the resolved configuration consumed by the batch
// engine. Acquisition (flags, env, config file) happens at the CLI edge via
// viper; the engine only ever sees the validated Config value.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"artistbatch/internal/sentinel"
)

// Config represents the complete artistbatch configuration.
type Config struct {
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Service   LaunchConfig    `mapstructure:"service"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Sentinel  SentinelConfig  `mapstructure:"sentinel"`
	Timing    TimingConfig    `mapstructure:"timing"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// WorkspaceConfig locates the two roots everything else derives from.
// It is resolved externally; the engine never discovers paths itself.
type WorkspaceConfig struct {
	// WorkRoot is the directory the worker scripts live under.
	WorkRoot string `mapstructure:"work_root"`
	// DataRoot is the directory holding the SQLite stores and logs.
	DataRoot string `mapstructure:"data_root"`
	// WorkerSubdir is the subdirectory of WorkRoot holding the handoff file.
	WorkerSubdir string `mapstructure:"worker_subdir"`
}

// HandoffPath is the file the next task id is written to before each
// attempt; the worker script reads it on startup.
func (w WorkspaceConfig) HandoffPath() string {
	return filepath.Join(w.WorkRoot, w.WorkerSubdir, "artists.txt")
}

// SourceDBPath is the candidate source store (all known task ids).
func (w WorkspaceConfig) SourceDBPath() string {
	return filepath.Join(w.DataRoot, "artistNames.db")
}

// ProgressDBPath is the durable progress store (completed task ids).
func (w WorkspaceConfig) ProgressDBPath() string {
	return filepath.Join(w.DataRoot, "process_artists.db")
}

// MetadataDBPath is the optional read-only enrichment store.
func (w WorkspaceConfig) MetadataDBPath() string {
	return filepath.Join(w.DataRoot, "am_metadata.sqlite")
}

// LaunchConfig describes how to start an external process.
type LaunchConfig struct {
	Path string   `mapstructure:"path"`
	Args []string `mapstructure:"args"`
	Dir  string   `mapstructure:"dir"`
}

// WorkerConfig describes the per-task worker process.
type WorkerConfig struct {
	LaunchConfig `mapstructure:",squash"`
	// SuccessExitCode is the canonical exit code meaning success when the
	// worker exits without having emitted an outcome signal.
	SuccessExitCode int `mapstructure:"success_exit_code"`
}

// RuleConfig is one sentinel rule as written in the config file.
type RuleConfig struct {
	Substring string `mapstructure:"substring"`
	Signal    string `mapstructure:"signal"`
}

// SentinelConfig optionally replaces the built-in signal rule tables.
// An empty list keeps the defaults for that role.
type SentinelConfig struct {
	ServiceRules []RuleConfig `mapstructure:"service_rules"`
	WorkerRules  []RuleConfig `mapstructure:"worker_rules"`
}

// ServiceMatcher builds the matcher for service output.
func (s SentinelConfig) ServiceMatcher() (*sentinel.Matcher, error) {
	return buildMatcher(s.ServiceRules, sentinel.DefaultServiceRules)
}

// WorkerMatcher builds the matcher for worker output.
func (s SentinelConfig) WorkerMatcher() (*sentinel.Matcher, error) {
	return buildMatcher(s.WorkerRules, sentinel.DefaultWorkerRules)
}

func buildMatcher(overrides []RuleConfig, defaults []sentinel.Rule) (*sentinel.Matcher, error) {
	if len(overrides) == 0 {
		return sentinel.NewMatcher(defaults), nil
	}
	rules := make([]sentinel.Rule, 0, len(overrides))
	for _, rc := range overrides {
		if rc.Substring == "" {
			return nil, fmt.Errorf("sentinel rule with empty substring")
		}
		sig, err := parseSignal(rc.Signal)
		if err != nil {
			return nil, err
		}
		rules = append(rules, sentinel.Rule{Substring: rc.Substring, Signal: sig})
	}
	return sentinel.NewMatcher(rules), nil
}

func parseSignal(name string) (sentinel.Signal, error) {
	switch strings.ToLower(name) {
	case "service_ready":
		return sentinel.SignalServiceReady, nil
	case "service_down":
		return sentinel.SignalServiceDown, nil
	case "task_success":
		return sentinel.SignalTaskSuccess, nil
	case "task_failure":
		return sentinel.SignalTaskFailure, nil
	default:
		return sentinel.SignalNone, fmt.Errorf("unknown sentinel signal %q", name)
	}
}

// TimingConfig holds the three independent delays of the session loop.
type TimingConfig struct {
	// InterItemDelaySec is the pause between successful items.
	InterItemDelaySec int `mapstructure:"inter_item_delay_sec"`
	// FailureBackoffSec is the pause before retrying a failed item.
	FailureBackoffSec int `mapstructure:"failure_backoff_sec"`
	// RestartDelaySec is the pause before a drained session reloads the
	// backlog and starts over.
	RestartDelaySec int `mapstructure:"restart_delay_sec"`
}

// InterItemDelay returns the inter-item pause as a Duration.
func (t TimingConfig) InterItemDelay() time.Duration {
	return time.Duration(t.InterItemDelaySec) * time.Second
}

// FailureBackoff returns the failure backoff as a Duration.
func (t TimingConfig) FailureBackoff() time.Duration {
	return time.Duration(t.FailureBackoffSec) * time.Second
}

// RestartDelay returns the session restart pause as a Duration.
func (t TimingConfig) RestartDelay() time.Duration {
	return time.Duration(t.RestartDelaySec) * time.Second
}

// BudgetConfig is the session-wide circuit breaker.
type BudgetConfig struct {
	// UnitCap is the maximum cumulative unit count per session; once
	// exceeded the session drains and restarts with a fresh backlog.
	// Zero disables the cap.
	UnitCap int `mapstructure:"unit_cap"`
}

// RetryConfig bounds per-item retries within one session.
type RetryConfig struct {
	// MaxAttemptsPerItem caps attempts for a single item before the whole
	// session is marked failed and drained. Zero means unbounded: the item
	// is retried until the session-restart loop resets everything.
	MaxAttemptsPerItem int `mapstructure:"max_attempts_per_item"`
}

// CleanupConfig lists external cleanup commands run after every attempt.
// Each entry is a full command line, split on whitespace.
type CleanupConfig struct {
	// WorkerCommands run after every attempt.
	WorkerCommands []string `mapstructure:"worker_commands"`
	// ServiceCommands additionally run when a full cleanup is needed.
	ServiceCommands []string `mapstructure:"service_commands"`
}

// LoggingConfig controls the engine's own log output.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			WorkerSubdir: "worker",
		},
		Worker: WorkerConfig{
			SuccessExitCode: 0,
		},
		Timing: TimingConfig{
			InterItemDelaySec: 10,
			FailureBackoffSec: 60,
			RestartDelaySec:   120,
		},
		Budget: BudgetConfig{
			UnitCap: 0,
		},
		Retry: RetryConfig{
			MaxAttemptsPerItem: 0,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	defaults := DefaultConfig()

	viper.SetDefault("workspace.worker_subdir", defaults.Workspace.WorkerSubdir)
	viper.SetDefault("worker.success_exit_code", defaults.Worker.SuccessExitCode)
	viper.SetDefault("timing.inter_item_delay_sec", defaults.Timing.InterItemDelaySec)
	viper.SetDefault("timing.failure_backoff_sec", defaults.Timing.FailureBackoffSec)
	viper.SetDefault("timing.restart_delay_sec", defaults.Timing.RestartDelaySec)
	viper.SetDefault("budget.unit_cap", defaults.Budget.UnitCap)
	viper.SetDefault("retry.max_attempts_per_item", defaults.Retry.MaxAttemptsPerItem)
	viper.SetDefault("logging.level", defaults.Logging.Level)
}

// Load unmarshals the current viper state into a Config and validates it.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable, returning the first
// problem found with an actionable message.
func (c *Config) Validate() error {
	if c.Workspace.WorkRoot == "" {
		return fmt.Errorf("workspace.work_root is required")
	}
	if c.Workspace.DataRoot == "" {
		return fmt.Errorf("workspace.data_root is required")
	}
	if info, err := os.Stat(c.Workspace.DataRoot); err != nil || !info.IsDir() {
		return fmt.Errorf("workspace.data_root %q is not an existing directory", c.Workspace.DataRoot)
	}
	if c.Service.Path == "" {
		return fmt.Errorf("service.path is required")
	}
	if c.Worker.Path == "" {
		return fmt.Errorf("worker.path is required")
	}
	if c.Timing.InterItemDelaySec < 0 || c.Timing.FailureBackoffSec < 0 || c.Timing.RestartDelaySec < 0 {
		return fmt.Errorf("timing delays must not be negative")
	}
	if c.Budget.UnitCap < 0 {
		return fmt.Errorf("budget.unit_cap must not be negative")
	}
	if c.Retry.MaxAttemptsPerItem < 0 {
		return fmt.Errorf("retry.max_attempts_per_item must not be negative")
	}
	if _, err := c.Sentinel.ServiceMatcher(); err != nil {
		return fmt.Errorf("sentinel.service_rules: %w", err)
	}
	if _, err := c.Sentinel.WorkerMatcher(); err != nil {
		return fmt.Errorf("sentinel.worker_rules: %w", err)
	}
	return nil
}
