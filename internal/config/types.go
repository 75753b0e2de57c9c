package config

import (
	"github.com/kemerova/argus/internal/gateway"
	"github.com/kemerova/argus/internal/provider"
	"github.com/kemerova/argus/internal/scheduler"
)

// Provider types.
const (
	ProviderCommand = "command"
	ProviderStatic  = "static"
)

// LoggingConfig selects the zap level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"` // json or console
}

// ResilienceConfig wraps a provider in retries and a circuit breaker.
type ResilienceConfig struct {
	Enabled          bool     `koanf:"enabled" yaml:"enabled"`
	InitialInterval  Duration `koanf:"initial_interval" yaml:"initial_interval"`
	MaxInterval      Duration `koanf:"max_interval" yaml:"max_interval"`
	MaxRetryTime     Duration `koanf:"max_retry_time" yaml:"max_retry_time"`
	FailureThreshold uint32   `koanf:"failure_threshold" yaml:"failure_threshold"`
	OpenTimeout      Duration `koanf:"open_timeout" yaml:"open_timeout"`
	HalfOpenRequests uint32   `koanf:"half_open_requests" yaml:"half_open_requests"`
}

// Retry returns the backoff settings, falling back to provider defaults.
func (r ResilienceConfig) Retry() provider.RetryConfig {
	rc := provider.DefaultRetryConfig()
	if r.InitialInterval > 0 {
		rc.InitialInterval = r.InitialInterval.Std()
	}
	if r.MaxInterval > 0 {
		rc.MaxInterval = r.MaxInterval.Std()
	}
	if r.MaxRetryTime > 0 {
		rc.MaxElapsedTime = r.MaxRetryTime.Std()
	}
	return rc
}

// Breaker returns the circuit breaker settings, falling back to provider defaults.
func (r ResilienceConfig) Breaker() provider.BreakerConfig {
	bc := provider.DefaultBreakerConfig()
	if r.FailureThreshold > 0 {
		bc.ConsecutiveFailures = r.FailureThreshold
	}
	if r.OpenTimeout > 0 {
		bc.OpenTimeout = r.OpenTimeout.Std()
	}
	if r.HalfOpenRequests > 0 {
		bc.HalfOpenRequests = r.HalfOpenRequests
	}
	return bc
}

// StaticConfig configures a canned-response provider.
type StaticConfig struct {
	Responses map[string]string `koanf:"responses" yaml:"responses,omitempty"`
	Default   string            `koanf:"default" yaml:"default,omitempty"`
	Delay     Duration          `koanf:"delay" yaml:"delay,omitempty"`
}

// ProviderConfig defines a transport. Agents reference providers by key, so
// several agents can share one provider.
type ProviderConfig struct {
	Type       string                 `koanf:"type" yaml:"type"`
	Command    provider.CommandConfig `koanf:"command" yaml:"command,omitempty"`
	Static     StaticConfig           `koanf:"static" yaml:"static,omitempty"`
	Resilience ResilienceConfig       `koanf:"resilience" yaml:"resilience,omitempty"`
}

// AgentConfig defines a role that uses a specific provider and model.
type AgentConfig struct {
	Role              gateway.Role `koanf:"role" yaml:"role"`
	Provider          string       `koanf:"provider" yaml:"provider"`
	Model             string       `koanf:"model" yaml:"model,omitempty"`
	MaxTokens         int          `koanf:"max_tokens" yaml:"max_tokens,omitempty"`
	Temperature       float64      `koanf:"temperature" yaml:"temperature,omitempty"`
	Timeout           Duration     `koanf:"timeout" yaml:"timeout,omitempty"`
	RateLimit         int          `koanf:"rate_limit" yaml:"rate_limit,omitempty"`
	RequestsPerMinute int          `koanf:"requests_per_minute" yaml:"requests_per_minute,omitempty"`
}

// Gateway converts the entry to the gateway's form under the given name.
func (a AgentConfig) Gateway(name string) gateway.AgentConfig {
	return gateway.AgentConfig{
		Name:              name,
		Role:              a.Role,
		Provider:          a.Provider,
		Model:             a.Model,
		MaxTokens:         a.MaxTokens,
		Temperature:       a.Temperature,
		Timeout:           a.Timeout.Std(),
		RateLimit:         a.RateLimit,
		RequestsPerMinute: a.RequestsPerMinute,
	}
}

// PhaseConfig defines one phase of a workflow. After lists the phases that
// must run before it.
type PhaseConfig struct {
	Name               string   `koanf:"name" yaml:"name"`
	Type               string   `koanf:"type" yaml:"type"`
	After              []string `koanf:"after" yaml:"after,omitempty"`
	Timeout            Duration `koanf:"timeout" yaml:"timeout,omitempty"`
	Parallel           bool     `koanf:"parallel" yaml:"parallel,omitempty"`
	ConsensusThreshold *float64 `koanf:"consensus_threshold" yaml:"consensus_threshold,omitempty"`
	RequiredAgents     []string `koanf:"required_agents" yaml:"required_agents,omitempty"`
	QualityGates       []string `koanf:"quality_gates" yaml:"quality_gates,omitempty"`
}

// WorkflowConfig is a named set of phases run as one orchestration.
type WorkflowConfig struct {
	Description  string        `koanf:"description" yaml:"description,omitempty"`
	MaxTotalTime Duration      `koanf:"max_total_time" yaml:"max_total_time,omitempty"`
	Phases       []PhaseConfig `koanf:"phases" yaml:"phases"`
}

// StorageConfig locates the SQLite database. An empty path disables
// persistence.
type StorageConfig struct {
	Path string `koanf:"path" yaml:"path"`
}

// MetricsConfig controls the Prometheus endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// Config is the top-level configuration.
type Config struct {
	Logging   LoggingConfig             `koanf:"logging" yaml:"logging"`
	Scheduler scheduler.Limits          `koanf:"scheduler" yaml:"scheduler"`
	Providers map[string]ProviderConfig `koanf:"providers" yaml:"providers"`
	Agents    map[string]AgentConfig    `koanf:"agents" yaml:"agents"`
	Workflows map[string]WorkflowConfig `koanf:"workflows" yaml:"workflows"`
	Storage   StorageConfig             `koanf:"storage" yaml:"storage"`
	Metrics   MetricsConfig             `koanf:"metrics" yaml:"metrics"`
}
