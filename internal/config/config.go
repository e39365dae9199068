// Package config loads the scheduler's typed configuration: viper reads a
// YAML file plus FTE_-prefixed environment overrides into a single struct.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/assadsharif/fte/internal/persistence"
)

// PriorityWeights mirrors priority.Weights for config-file purposes.
type PriorityWeights struct {
	Urgency float64 `mapstructure:"urgency" yaml:"urgency"`
	Deadline float64 `mapstructure:"deadline" yaml:"deadline"`
	Sender  float64 `mapstructure:"sender" yaml:"sender"`
}

// RetryPolicy mirrors persistence.RetryPolicy for config-file purposes.
type RetryPolicy struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Jitter      float64       `mapstructure:"jitter" yaml:"jitter"`
}

// WebhookConfig describes the optional outbound notification target.
type WebhookConfig struct {
	URL    string   `mapstructure:"url" yaml:"url"`
	Events []string `mapstructure:"events" yaml:"events"`
}

// MCPServerConfig describes one outbound MCP capability server reachable
// over stdio, matched against a task's mcp_server metadata field.
type MCPServerConfig struct {
	Name    string            `mapstructure:"name" yaml:"name"`
	Command string            `mapstructure:"command" yaml:"command"`
	Args    []string          `mapstructure:"args" yaml:"args"`
	Env     map[string]string `mapstructure:"env" yaml:"env"`
}

// SecurityConfig tunes the per-server circuit breaker the MCP security
// gate (C13) wraps around every outbound capability call.
type SecurityConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout" yaml:"recovery_timeout"`
}

// Config is the full set of values the scheduler and its collaborators
// consume, per the scheduler config contract.
type Config struct {
	VaultPath          string          `mapstructure:"vault_path" yaml:"vault_path"`
	PollInterval       time.Duration   `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxConcurrentTasks int             `mapstructure:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	AgentTimeout       time.Duration   `mapstructure:"agent_timeout" yaml:"agent_timeout"`
	AgentBinary        string          `mapstructure:"agent_binary" yaml:"agent_binary"`
	StopHookFile       string          `mapstructure:"stop_hook_file" yaml:"stop_hook_file"`
	MaxIterations      int             `mapstructure:"max_iterations" yaml:"max_iterations"`
	PriorityWeights    PriorityWeights `mapstructure:"priority_weights" yaml:"priority_weights"`
	VIPSenders         []string        `mapstructure:"vip_senders" yaml:"vip_senders"`
	ApprovalKeywords   []string        `mapstructure:"approval_keywords" yaml:"approval_keywords"`
	ApprovalTimeout    time.Duration   `mapstructure:"approval_timeout" yaml:"approval_timeout"`
	RetryPolicy        RetryPolicy     `mapstructure:"retry_policy" yaml:"retry_policy"`
	Webhook            WebhookConfig   `mapstructure:"webhook" yaml:"webhook"`
	MCPServers         []MCPServerConfig `mapstructure:"mcp_servers" yaml:"mcp_servers"`
	Security           SecurityConfig  `mapstructure:"security" yaml:"security"`

	// DryRun, when true, runs the agent invoker in dry-run mode.
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`

	// LegacyApprovalFallback enables the weak hand-written-approval-file
	// scan gate.IsApproved falls back to. Defaults to false; higher
	// assurance deployments must leave it off.
	LegacyApprovalFallback bool `mapstructure:"legacy_approval_fallback" yaml:"legacy_approval_fallback"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("vault_path", ".")
	v.SetDefault("poll_interval", 30*time.Second)
	v.SetDefault("max_concurrent_tasks", 3)
	v.SetDefault("agent_timeout", 10*time.Minute)
	v.SetDefault("agent_binary", "claude")
	v.SetDefault("stop_hook_file", ".claude_stop")
	v.SetDefault("max_iterations", 10)
	v.SetDefault("priority_weights.urgency", 0.4)
	v.SetDefault("priority_weights.deadline", 0.3)
	v.SetDefault("priority_weights.sender", 0.3)
	v.SetDefault("approval_keywords", []string{
		"deploy", "production", "delete", "payment", "wire", "send email", "execute", "remove",
	})
	v.SetDefault("approval_timeout", 12*time.Hour)
	v.SetDefault("retry_policy.max_attempts", 3)
	v.SetDefault("retry_policy.base_delay", time.Second)
	v.SetDefault("retry_policy.max_delay", 16*time.Second)
	v.SetDefault("retry_policy.jitter", 0.2)
	v.SetDefault("dry_run", false)
	v.SetDefault("legacy_approval_fallback", false)
	v.SetDefault("security.failure_threshold", 3)
	v.SetDefault("security.recovery_timeout", time.Minute)
}

// Load reads fte.yaml from configPath (searching "./.fte", ".", "$HOME/.fte"
// in that order when empty) plus FTE_-prefixed environment overrides, into a validated
// Config.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".fte")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.fte")
		v.SetConfigType("yaml")
		v.SetConfigName("fte")
	}

	v.SetEnvPrefix("FTE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.VaultPath == "" {
		return fmt.Errorf("vault_path must not be empty")
	}
	if cfg.MaxConcurrentTasks < 1 {
		return fmt.Errorf("max_concurrent_tasks must be >= 1")
	}
	if cfg.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1")
	}
	return nil
}

// RetryPolicyForGenericTransient adapts the configured retry policy to persistence's
// generic-transient default, used when no per-class override is needed.
func (c *Config) RetryPolicyForGenericTransient() persistence.RetryPolicy {
	return persistence.RetryPolicy{
		MaxAttempts: c.RetryPolicy.MaxAttempts,
		BaseDelay:   c.RetryPolicy.BaseDelay,
		MaxDelay:    c.RetryPolicy.MaxDelay,
		Jitter:      c.RetryPolicy.Jitter,
	}
}
