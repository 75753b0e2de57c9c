package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kemerova/argus/internal/gateway"
)

// RetryConfig configures exponential backoff between attempts.
type RetryConfig struct {
	InitialInterval     time.Duration `koanf:"initial_interval" yaml:"initial_interval"`
	MaxInterval         time.Duration `koanf:"max_interval" yaml:"max_interval"`
	MaxElapsedTime      time.Duration `koanf:"max_elapsed_time" yaml:"max_elapsed_time"`
	Multiplier          float64       `koanf:"multiplier" yaml:"multiplier"`
	RandomizationFactor float64       `koanf:"randomization_factor" yaml:"randomization_factor"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerConfig configures the circuit breaker guarding a provider.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32        `koanf:"consecutive_failures" yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `koanf:"open_timeout" yaml:"open_timeout"`
	HalfOpenRequests    uint32        `koanf:"half_open_requests" yaml:"half_open_requests"`
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    3,
	}
}

// Resilient wraps a provider with a circuit breaker and retries. The
// gateway itself never retries; wrap a provider in Resilient to opt in.
type Resilient struct {
	inner   gateway.Provider
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
	logger  *zap.Logger
}

// NewResilient wraps inner. logger may be nil.
func NewResilient(name string, inner gateway.Provider, retry RetryConfig, brk BreakerConfig, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("provider").With(zap.String("provider", name))

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: brk.HalfOpenRequests,
		Timeout:     brk.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= brk.ConsecutiveFailures
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// Caller cancellation says nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	return &Resilient{inner: inner, breaker: cb, retry: retry, logger: logger}
}

// State returns the breaker state.
func (r *Resilient) State() gobreaker.State { return r.breaker.State() }

func (r *Resilient) Call(ctx context.Context, req gateway.Request, cfg gateway.AgentConfig) (gateway.Response, error) {
	var resp gateway.Response

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		out, err := r.breaker.Execute(func() (interface{}, error) {
			return r.inner.Call(ctx, req, cfg)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			r.logger.Debug("Provider call failed, retrying", zap.String("agent", req.AgentName), zap.Error(err))
			return err
		}
		resp = out.(gateway.Response)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retry.InitialInterval
	policy.MaxInterval = r.retry.MaxInterval
	policy.MaxElapsedTime = r.retry.MaxElapsedTime
	policy.Multiplier = r.retry.Multiplier
	policy.RandomizationFactor = r.retry.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	return resp, err
}

// HealthCheck is false while the breaker is open.
func (r *Resilient) HealthCheck(ctx context.Context) bool {
	if r.breaker.State() == gobreaker.StateOpen {
		return false
	}
	return r.inner.HealthCheck(ctx)
}
