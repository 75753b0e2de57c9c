package gateway

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAgentNotRegistered is returned for calls naming an unknown agent.
	ErrAgentNotRegistered = errors.New("agent not registered")
	// ErrProviderUnavailable is returned when an agent's provider has no
	// registered capability.
	ErrProviderUnavailable = errors.New("provider not available")
)

// Role tags what an agent is asked to focus on.
type Role string

const (
	RoleLeadArchitect       Role = "lead_architect"
	RoleSecurityAnalyst     Role = "security_analyst"
	RoleCodeReviewer        Role = "code_reviewer"
	RolePerformanceEngineer Role = "performance_engineer"
)

const (
	DefaultMaxTokens        = 4000
	DefaultTemperature      = 0.7
	DefaultTimeout          = 30 * time.Second
	DefaultRateLimit        = 60
	DefaultContributionType = "analysis"
)

// AgentConfig is the registered identity of one agent.
type AgentConfig struct {
	Name        string
	Role        Role
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	// RateLimit is the number of calls admitted concurrently.
	RateLimit int
	// RequestsPerMinute adds a token-bucket throttle when positive.
	RequestsPerMinute int
}

func (c AgentConfig) withDefaults() AgentConfig {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	return c
}

// Request is one call to one agent. Zero MaxTokens and Temperature fall back
// to the agent's defaults.
type Request struct {
	Prompt           string
	Context          map[string]any
	AgentName        string
	Phase            string
	MaxTokens        int
	Temperature      float64
	SessionID        string
	ContributionType string
}

// Response is what an agent produced for a Request.
type Response struct {
	Content      string
	AgentName    string
	Provider     string
	TokensUsed   int
	ResponseTime time.Duration
	Metadata     map[string]any
}

// Failed reports whether the response is a failure marker produced by CallParallel.
func (r Response) Failed() bool {
	_, ok := r.Metadata["error"]
	return ok
}

// Provider is a remote capability able to answer requests.
type Provider interface {
	Call(ctx context.Context, req Request, cfg AgentConfig) (Response, error)
	// HealthCheck reports liveness. Panics are treated as unhealthy.
	HealthCheck(ctx context.Context) bool
}

// Optimization is the outcome of consulting an Optimizer. At most one field
// is set: Response for a cache hit, Request for a rewritten request.
type Optimization struct {
	Response *Response
	Request  *Request
}

// Optimizer serves cached responses and rewrites requests.
type Optimizer interface {
	Optimize(ctx context.Context, req Request) (Optimization, error)
	Store(ctx context.Context, req Request, resp Response, relevance float64) error
}

// Contribution is the record of one successful agent call within a session.
type Contribution struct {
	SessionID    string
	Phase        string
	AgentName    string
	Role         Role
	Type         string
	Prompt       string
	Content      string
	Quality      float64
	TokensUsed   int
	ResponseTime time.Duration
	Timestamp    time.Time
}

// ContributionLogger records contributions.
type ContributionLogger interface {
	LogContribution(ctx context.Context, c Contribution) error
}

// AgentContribution totals one agent's contributions within a session.
type AgentContribution struct {
	Agent           string
	Role            Role
	Calls           int
	Tokens          int
	AvgResponseTime time.Duration
}

// ContributionSummary totals a session's contributions.
type ContributionSummary struct {
	SessionID          string
	TotalContributions int
	TotalTokens        int
	Agents             []AgentContribution
	Phases             map[string]int // contributions per phase
}
