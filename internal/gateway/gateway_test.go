package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kemerova/argus/internal/monitor"
)

type fakeProvider struct {
	delay    time.Duration
	failFor  map[string]error
	healthy  bool
	panics   bool
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	lastCfg  atomic.Value
}

func (f *fakeProvider) Call(ctx context.Context, req Request, cfg AgentConfig) (Response, error) {
	f.calls.Add(1)
	f.lastCfg.Store(cfg)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	if err := f.failFor[req.AgentName]; err != nil {
		return Response{}, err
	}
	return Response{Content: "answer from " + req.AgentName + ": " + req.Prompt, TokensUsed: 7}, nil
}

func (f *fakeProvider) HealthCheck(context.Context) bool {
	if f.panics {
		panic("probe exploded")
	}
	return f.healthy
}

type recordingSink struct {
	monitor.Nop
	mu        sync.Mutex
	calls     []bool
	cacheHits int
}

func (r *recordingSink) AgentCalled(_, _ string, _ time.Duration, _ int, success bool) {
	r.mu.Lock()
	r.calls = append(r.calls, success)
	r.mu.Unlock()
}

func (r *recordingSink) CacheHit(string, string) {
	r.mu.Lock()
	r.cacheHits++
	r.mu.Unlock()
}

type fakeOptimizer struct {
	outcome  Optimization
	storeErr error
	stored   atomic.Int32
}

func (f *fakeOptimizer) Optimize(context.Context, Request) (Optimization, error) {
	return f.outcome, nil
}

func (f *fakeOptimizer) Store(context.Context, Request, Response, float64) error {
	f.stored.Add(1)
	return f.storeErr
}

type fakeContributions struct {
	mu   sync.Mutex
	seen []Contribution
	err  error
}

func (f *fakeContributions) LogContribution(_ context.Context, c Contribution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, c)
	return f.err
}

func newTestGateway(p Provider, opts ...Option) *Gateway {
	g := New(opts...)
	g.RegisterProvider("fake", p)
	g.RegisterAgent(AgentConfig{Name: "architect", Role: RoleLeadArchitect, Provider: "fake", Model: "m1"})
	g.RegisterAgent(AgentConfig{Name: "reviewer", Role: RoleCodeReviewer, Provider: "fake", Model: "m2"})
	return g
}

func TestCallAgent_Success(t *testing.T) {
	p := &fakeProvider{}
	sink := &recordingSink{}
	g := newTestGateway(p, WithSink(sink))

	resp, err := g.CallAgent(context.Background(), Request{AgentName: "architect", Prompt: "design", Phase: "plan"})
	require.NoError(t, err)

	assert.Equal(t, "answer from architect: design", resp.Content)
	assert.Equal(t, "architect", resp.AgentName)
	assert.Equal(t, "fake", resp.Provider)
	assert.Equal(t, 7, resp.TokensUsed)
	assert.False(t, resp.Failed())
	assert.Equal(t, []bool{true}, sink.calls)

	cfg := p.lastCfg.Load().(AgentConfig)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimit)
	assert.Equal(t, DefaultMaxTokens, cfg.MaxTokens)
}

func TestCallAgent_ConfigurationErrors(t *testing.T) {
	g := newTestGateway(&fakeProvider{})
	g.RegisterAgent(AgentConfig{Name: "orphan", Provider: "missing"})

	_, err := g.CallAgent(context.Background(), Request{AgentName: "nobody"})
	assert.ErrorIs(t, err, ErrAgentNotRegistered)

	_, err = g.CallAgent(context.Background(), Request{AgentName: "orphan"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestCallAgent_ProviderErrorPropagates(t *testing.T) {
	boom := errors.New("upstream 500")
	sink := &recordingSink{}
	g := newTestGateway(&fakeProvider{failFor: map[string]error{"architect": boom}}, WithSink(sink))

	_, err := g.CallAgent(context.Background(), Request{AgentName: "architect"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []bool{false}, sink.calls)
}

func TestCallAgent_Timeout(t *testing.T) {
	g := New()
	g.RegisterProvider("slow", &fakeProvider{delay: time.Second})
	g.RegisterAgent(AgentConfig{Name: "sloth", Provider: "slow", Timeout: 20 * time.Millisecond})

	_, err := g.CallAgent(context.Background(), Request{AgentName: "sloth"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallAgent_CacheHitSkipsProvider(t *testing.T) {
	p := &fakeProvider{}
	sink := &recordingSink{}
	cached := Response{Content: "cached", AgentName: "architect"}
	g := newTestGateway(p, WithSink(sink), WithOptimizer(&fakeOptimizer{outcome: Optimization{Response: &cached}}))

	resp, err := g.CallAgent(context.Background(), Request{AgentName: "architect", Prompt: "x"})
	require.NoError(t, err)

	assert.Equal(t, "cached", resp.Content)
	assert.Equal(t, int32(0), p.calls.Load())
	assert.Equal(t, 1, sink.cacheHits)
	assert.Empty(t, sink.calls)
}

func TestCallAgent_OptimizedRequestReplacesOriginal(t *testing.T) {
	rewritten := Request{AgentName: "architect", Prompt: "shorter"}
	opt := &fakeOptimizer{outcome: Optimization{Request: &rewritten}, storeErr: errors.New("disk full")}
	g := newTestGateway(&fakeProvider{}, WithOptimizer(opt))

	resp, err := g.CallAgent(context.Background(), Request{AgentName: "architect", Prompt: "a much longer prompt"})
	require.NoError(t, err, "cache store failures must not fail the call")

	assert.Equal(t, "answer from architect: shorter", resp.Content)
	assert.Equal(t, int32(1), opt.stored.Load())
}

func TestCallAgent_ContributionsOnlyWithSession(t *testing.T) {
	contrib := &fakeContributions{err: errors.New("db locked")}
	g := newTestGateway(&fakeProvider{}, WithContributionLogger(contrib))

	_, err := g.CallAgent(context.Background(), Request{AgentName: "reviewer", Prompt: "p"})
	require.NoError(t, err)
	assert.Empty(t, contrib.seen)

	_, err = g.CallAgent(context.Background(), Request{AgentName: "reviewer", Prompt: "p", Phase: "validate", SessionID: "s-1"})
	require.NoError(t, err, "contribution failures must not fail the call")

	require.Len(t, contrib.seen, 1)
	c := contrib.seen[0]
	assert.Equal(t, "s-1", c.SessionID)
	assert.Equal(t, "validate", c.Phase)
	assert.Equal(t, RoleCodeReviewer, c.Role)
	assert.Equal(t, DefaultContributionType, c.Type)
}

func TestCallAgent_RateLimitBoundsConcurrency(t *testing.T) {
	p := &fakeProvider{delay: 20 * time.Millisecond}
	g := New()
	g.RegisterProvider("fake", p)
	g.RegisterAgent(AgentConfig{Name: "narrow", Provider: "fake", RateLimit: 2})

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.CallAgent(context.Background(), Request{AgentName: "narrow"})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(6), p.calls.Load())
	assert.LessOrEqual(t, p.peak.Load(), int32(2))
}

func TestCallAgent_RateLimitWaitHonoursContext(t *testing.T) {
	g := New()
	g.RegisterProvider("fake", &fakeProvider{delay: 200 * time.Millisecond})
	g.RegisterAgent(AgentConfig{Name: "single", Provider: "fake", RateLimit: 1})

	go func() { _, _ = g.CallAgent(context.Background(), Request{AgentName: "single"}) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.CallAgent(ctx, Request{AgentName: "single"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallParallel_PreservesOrderAndIsolatesFailures(t *testing.T) {
	p := &fakeProvider{failFor: map[string]error{"reviewer": errors.New("quota exceeded")}}
	g := newTestGateway(p)

	reqs := []Request{
		{AgentName: "reviewer", Prompt: "0"},
		{AgentName: "architect", Prompt: "1"},
		{AgentName: "ghost", Prompt: "2"},
		{AgentName: "architect", Prompt: "3"},
	}
	out := g.CallParallel(context.Background(), reqs)

	require.Len(t, out, len(reqs))
	for i, resp := range out {
		assert.Equal(t, reqs[i].AgentName, resp.AgentName, "index %d", i)
	}

	assert.True(t, out[0].Failed())
	assert.True(t, strings.HasPrefix(out[0].Content, "Error: "))
	assert.Contains(t, out[0].Metadata["error"], "quota exceeded")
	assert.Equal(t, "fake", out[0].Provider)
	assert.Zero(t, out[0].TokensUsed)

	assert.Equal(t, "answer from architect: 1", out[1].Content)
	assert.True(t, out[2].Failed())
	assert.Empty(t, out[2].Provider)
	assert.Equal(t, "answer from architect: 3", out[3].Content)
}

type panickingProvider struct{}

func (panickingProvider) Call(context.Context, Request, AgentConfig) (Response, error) {
	panic("provider bug")
}

func (panickingProvider) HealthCheck(context.Context) bool { return true }

func TestCallParallel_IsolatesProviderPanic(t *testing.T) {
	g := New()
	g.RegisterProvider("fake", &fakeProvider{})
	g.RegisterProvider("buggy", panickingProvider{})
	g.RegisterAgent(AgentConfig{Name: "a", Provider: "fake", RateLimit: 1})
	g.RegisterAgent(AgentConfig{Name: "b", Provider: "buggy", RateLimit: 1})

	out := g.CallParallel(context.Background(), []Request{
		{AgentName: "a", Prompt: "p"},
		{AgentName: "b", Prompt: "p"},
	})

	require.Len(t, out, 2)
	assert.False(t, out[0].Failed())
	assert.Equal(t, "answer from a: p", out[0].Content)
	assert.True(t, out[1].Failed())
	assert.Contains(t, out[1].Metadata["error"], "provider panicked: provider bug")
	assert.Equal(t, "buggy", out[1].Provider)

	// The permit taken before the panic was returned.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out = g.CallParallel(ctx, []Request{{AgentName: "b"}})
	assert.Contains(t, out[0].Metadata["error"], "provider panicked")
}

func TestCallParallel_Empty(t *testing.T) {
	g := newTestGateway(&fakeProvider{})
	assert.Empty(t, g.CallParallel(context.Background(), nil))
}

func TestHealthCheck(t *testing.T) {
	g := New()
	g.RegisterProvider("up", &fakeProvider{healthy: true})
	g.RegisterProvider("down", &fakeProvider{healthy: false})
	g.RegisterProvider("broken", &fakeProvider{panics: true})

	assert.Equal(t, map[string]bool{"up": true, "down": false, "broken": false}, g.HealthCheck(context.Background()))
}

func TestAgentConfigsRegistrationOrder(t *testing.T) {
	g := New()
	for i := range 5 {
		g.RegisterAgent(AgentConfig{Name: fmt.Sprintf("agent-%d", 4-i), Provider: "x"})
	}
	g.RegisterAgent(AgentConfig{Name: "agent-2", Provider: "y"})

	var names []string
	for _, cfg := range g.AgentConfigs() {
		names = append(names, cfg.Name)
	}
	assert.Equal(t, []string{"agent-4", "agent-3", "agent-2", "agent-1", "agent-0"}, names)

	cfg, ok := g.Agent("agent-2")
	require.True(t, ok)
	assert.Equal(t, "y", cfg.Provider)
}

func TestRequestsPerMinuteThrottle(t *testing.T) {
	p := &fakeProvider{}
	g := New()
	g.RegisterProvider("fake", p)
	g.RegisterAgent(AgentConfig{Name: "metered", Provider: "fake", RequestsPerMinute: 1})

	_, err := g.CallAgent(context.Background(), Request{AgentName: "metered"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = g.CallAgent(ctx, Request{AgentName: "metered"})
	assert.Error(t, err, "second call within the minute must wait past the deadline")
	assert.Equal(t, int32(1), p.calls.Load())
}
