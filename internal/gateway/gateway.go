package gateway

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/kemerova/argus/internal/monitor"
)

// cachedQuality is the relevance recorded with every stored response.
const cachedQuality = 1.0

type limiter struct {
	slots *semaphore.Weighted
	rpm   *rate.Limiter // nil when RequestsPerMinute is off
}

func (l *limiter) acquire(ctx context.Context) error {
	if l.rpm != nil {
		if err := l.rpm.Wait(ctx); err != nil {
			return err
		}
	}
	return l.slots.Acquire(ctx, 1)
}

func (l *limiter) release() { l.slots.Release(1) }

// Gateway routes agent calls to registered providers.
type Gateway struct {
	mu        sync.RWMutex
	agents    map[string]AgentConfig
	order     []string
	providers map[string]Provider
	limiters  map[string]*limiter

	optimizer     Optimizer
	contributions ContributionLogger
	sink          monitor.Sink
	logger        *zap.Logger
}

// Option customises a Gateway.
type Option func(*Gateway)

func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithOptimizer(o Optimizer) Option {
	return func(g *Gateway) { g.optimizer = o }
}

func WithContributionLogger(c ContributionLogger) Option {
	return func(g *Gateway) { g.contributions = c }
}

func WithSink(s monitor.Sink) Option {
	return func(g *Gateway) { g.sink = monitor.OrNop(s) }
}

// New creates a Gateway with no agents or providers.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		agents:    make(map[string]AgentConfig),
		providers: make(map[string]Provider),
		limiters:  make(map[string]*limiter),
		sink:      monitor.Nop{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("gateway")
	return g
}

// RegisterProvider binds a capability to a provider tag, replacing any
// previous binding.
func (g *Gateway) RegisterProvider(tag string, p Provider) {
	g.mu.Lock()
	g.providers[tag] = p
	g.mu.Unlock()
	g.logger.Info("Registered LLM provider", zap.String("provider", tag))
}

// RegisterAgent adds or replaces an agent and allocates its admission limits.
func (g *Gateway) RegisterAgent(cfg AgentConfig) {
	cfg = cfg.withDefaults()

	l := &limiter{slots: semaphore.NewWeighted(int64(cfg.RateLimit))}
	if cfg.RequestsPerMinute > 0 {
		l.rpm = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.RequestsPerMinute)
	}

	g.mu.Lock()
	if _, exists := g.agents[cfg.Name]; !exists {
		g.order = append(g.order, cfg.Name)
	}
	g.agents[cfg.Name] = cfg
	g.limiters[cfg.Name] = l
	g.mu.Unlock()

	g.logger.Info("Registered agent",
		zap.String("name", cfg.Name),
		zap.String("role", string(cfg.Role)),
		zap.String("provider", cfg.Provider),
	)
}

// Agent returns the configuration of a registered agent.
func (g *Gateway) Agent(name string) (AgentConfig, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cfg, ok := g.agents[name]
	return cfg, ok
}

// AgentConfigs returns every registered agent in registration order.
func (g *Gateway) AgentConfigs() []AgentConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]AgentConfig, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.agents[name])
	}
	return out
}

func (g *Gateway) resolve(name string) (AgentConfig, Provider, *limiter, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cfg, ok := g.agents[name]
	if !ok {
		return AgentConfig{}, nil, nil, fmt.Errorf("%w: %q", ErrAgentNotRegistered, name)
	}
	p, ok := g.providers[cfg.Provider]
	if !ok {
		return AgentConfig{}, nil, nil, fmt.Errorf("%w: %q", ErrProviderUnavailable, cfg.Provider)
	}
	return cfg, p, g.limiters[name], nil
}

// CallAgent sends req to its agent's provider. A cached response is returned
// without consuming rate-limit capacity. Provider errors are returned to the
// caller unchanged in meaning; side-channel failures are only logged.
func (g *Gateway) CallAgent(ctx context.Context, req Request) (Response, error) {
	cfg, p, lim, err := g.resolve(req.AgentName)
	if err != nil {
		return Response{}, err
	}

	if g.optimizer != nil {
		opt, err := g.optimizer.Optimize(ctx, req)
		switch {
		case err != nil:
			g.logger.Warn("Optimizer lookup failed", zap.String("agent", req.AgentName), zap.Error(err))
		case opt.Response != nil:
			g.logger.Info("Agent call served from cache",
				zap.String("agent", req.AgentName),
				zap.String("phase", req.Phase),
			)
			g.sink.CacheHit(req.AgentName, req.Phase)
			return *opt.Response, nil
		case opt.Request != nil:
			req = *opt.Request
		}
	}

	if err := lim.acquire(ctx); err != nil {
		return Response{}, fmt.Errorf("agent %q: waiting for rate limit: %w", req.AgentName, err)
	}
	defer lim.release()

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.Call(callCtx, req, cfg)
	if err != nil {
		g.sink.AgentCalled(req.AgentName, cfg.Provider, 0, 0, false)
		g.logger.Error("Agent call failed",
			zap.String("agent", req.AgentName),
			zap.String("provider", cfg.Provider),
			zap.Error(err),
		)
		return Response{}, fmt.Errorf("agent %q: %w", req.AgentName, err)
	}

	if resp.AgentName == "" {
		resp.AgentName = req.AgentName
	}
	if resp.Provider == "" {
		resp.Provider = cfg.Provider
	}
	if resp.ResponseTime == 0 {
		resp.ResponseTime = time.Since(start)
	}

	g.sink.AgentCalled(req.AgentName, cfg.Provider, resp.ResponseTime, resp.TokensUsed, true)

	if g.optimizer != nil {
		if err := g.optimizer.Store(ctx, req, resp, cachedQuality); err != nil {
			g.logger.Warn("Failed to cache agent response", zap.String("agent", req.AgentName), zap.Error(err))
		}
	}
	g.logContribution(ctx, req, resp, cfg)

	g.logger.Info("Agent call successful",
		zap.String("agent", req.AgentName),
		zap.String("phase", req.Phase),
		zap.Int64("response_time_ms", resp.ResponseTime.Milliseconds()),
		zap.Int("tokens", resp.TokensUsed),
	)
	return resp, nil
}

func (g *Gateway) logContribution(ctx context.Context, req Request, resp Response, cfg AgentConfig) {
	if g.contributions == nil || req.SessionID == "" {
		return
	}
	kind := req.ContributionType
	if kind == "" {
		kind = DefaultContributionType
	}
	err := g.contributions.LogContribution(ctx, Contribution{
		SessionID:    req.SessionID,
		Phase:        req.Phase,
		AgentName:    req.AgentName,
		Role:         cfg.Role,
		Type:         kind,
		Prompt:       req.Prompt,
		Content:      resp.Content,
		Quality:      cachedQuality,
		TokensUsed:   resp.TokensUsed,
		ResponseTime: resp.ResponseTime,
		Timestamp:    time.Now(),
	})
	if err != nil {
		g.logger.Warn("Failed to log contribution",
			zap.String("session_id", req.SessionID),
			zap.String("agent", req.AgentName),
			zap.Error(err),
		)
	}
}

// CallParallel calls every request concurrently. The result has one entry
// per request, in request order; a failed or panicking call yields a failure
// marker whose metadata carries the error.
func (g *Gateway) CallParallel(ctx context.Context, reqs []Request) []Response {
	out := make([]Response, len(reqs))

	var eg errgroup.Group
	for i, req := range reqs {
		eg.Go(func() error {
			resp, err := g.callIsolated(ctx, req)
			if err != nil {
				g.logger.Error("Parallel agent call failed",
					zap.String("agent", req.AgentName),
					zap.Error(err),
				)
				resp = g.failure(req, err)
			}
			out[i] = resp
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

// callIsolated is CallAgent with a provider panic turned into an error.
func (g *Gateway) callIsolated(ctx context.Context, req Request) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = Response{}, fmt.Errorf("agent %q: provider panicked: %v", req.AgentName, r)
		}
	}()
	return g.CallAgent(ctx, req)
}

func (g *Gateway) failure(req Request, err error) Response {
	var provider string
	if cfg, ok := g.Agent(req.AgentName); ok {
		provider = cfg.Provider
	}
	return Response{
		Content:   "Error: " + err.Error(),
		AgentName: req.AgentName,
		Provider:  provider,
		Metadata:  map[string]any{"error": err.Error()},
	}
}

// HealthCheck probes every registered provider concurrently. A probe that
// panics counts as unhealthy.
func (g *Gateway) HealthCheck(ctx context.Context) map[string]bool {
	g.mu.RLock()
	providers := maps.Clone(g.providers)
	g.mu.RUnlock()

	var (
		mu  sync.Mutex
		eg  errgroup.Group
		out = make(map[string]bool, len(providers))
	)
	for tag, p := range providers {
		eg.Go(func() error {
			healthy := g.probe(ctx, tag, p)
			mu.Lock()
			out[tag] = healthy
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

func (g *Gateway) probe(ctx context.Context, tag string, p Provider) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("Provider health check panicked", zap.String("provider", tag), zap.Any("panic", r))
			healthy = false
		}
	}()
	return p.HealthCheck(ctx)
}
