package persistence

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kemerova/argus/internal/gateway"
	"github.com/kemerova/argus/internal/hooks"
	"github.com/kemerova/argus/internal/orchestrator"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCacheKey(t *testing.T) {
	base := gateway.Request{AgentName: "architect", Prompt: "p", Context: map[string]any{"a": 1, "b": "x"}}
	same := gateway.Request{AgentName: "architect", Prompt: "p", Context: map[string]any{"b": "x", "a": 1}}

	assert.Equal(t, CacheKey(base), CacheKey(same), "context key order must not matter")

	other := base
	other.AgentName = "reviewer"
	assert.NotEqual(t, CacheKey(base), CacheKey(other))

	other = base
	other.Prompt = "q"
	assert.NotEqual(t, CacheKey(base), CacheKey(other))

	other = base
	other.Context = map[string]any{"a": 2}
	assert.NotEqual(t, CacheKey(base), CacheKey(other))
}

func TestCache_HitWhenFreshAndRelevant(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := testStore(t, WithClock(clock.Now))
	ctx := context.Background()
	req := gateway.Request{AgentName: "architect", Prompt: "design it"}

	opt, err := store.Optimize(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, opt.Response, "empty cache must miss")
	assert.Nil(t, opt.Request)

	require.NoError(t, store.Store(ctx, req, gateway.Response{
		Content:      "cached answer",
		Provider:     "claude",
		TokensUsed:   12,
		ResponseTime: 1500 * time.Millisecond,
	}, 0.9))

	clock.Advance(time.Hour)
	opt, err = store.Optimize(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, opt.Response)
	assert.Equal(t, "cached answer", opt.Response.Content)
	assert.Equal(t, "architect", opt.Response.AgentName)
	assert.Equal(t, "claude", opt.Response.Provider)
	assert.Equal(t, 12, opt.Response.TokensUsed)
	assert.Equal(t, 1500*time.Millisecond, opt.Response.ResponseTime)
	assert.Equal(t, true, opt.Response.Metadata["cached"])

	_, err = store.Optimize(ctx, req)
	require.NoError(t, err)
	n, err := store.CacheAccessCount(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCache_MissWhenStaleOrIrrelevant(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := testStore(t, WithClock(clock.Now))
	ctx := context.Background()

	stale := gateway.Request{AgentName: "a", Prompt: "stale"}
	require.NoError(t, store.Store(ctx, stale, gateway.Response{Content: "old"}, 1.0))

	weak := gateway.Request{AgentName: "a", Prompt: "weak"}
	require.NoError(t, store.Store(ctx, weak, gateway.Response{Content: "meh"}, MinRelevance))

	opt, err := store.Optimize(ctx, weak)
	require.NoError(t, err)
	assert.Nil(t, opt.Response, "relevance must exceed the threshold")

	clock.Advance(CacheTTL)
	opt, err = store.Optimize(ctx, stale)
	require.NoError(t, err)
	assert.Nil(t, opt.Response, "an entry exactly CacheTTL old is stale")

	pruned, err := store.PruneCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)
}

func TestCache_StoreReplacesEntry(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	req := gateway.Request{AgentName: "a", Prompt: "p"}

	require.NoError(t, store.Store(ctx, req, gateway.Response{Content: "first"}, 1.0))
	_, err := store.Optimize(ctx, req)
	require.NoError(t, err)
	require.NoError(t, store.Store(ctx, req, gateway.Response{Content: "second"}, 1.0))

	opt, err := store.Optimize(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, opt.Response)
	assert.Equal(t, "second", opt.Response.Content)

	n, err := store.CacheAccessCount(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "replacing an entry resets its access count")
}

func TestContributions_Summary(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	logs := []gateway.Contribution{
		{SessionID: "s1", Phase: "plan", AgentName: "architect", Role: gateway.RoleLeadArchitect, Type: "analysis", TokensUsed: 100, ResponseTime: 200 * time.Millisecond},
		{SessionID: "s1", Phase: "plan", AgentName: "security", Role: gateway.RoleSecurityAnalyst, Type: "analysis", TokensUsed: 50, ResponseTime: 100 * time.Millisecond},
		{SessionID: "s1", Phase: "validate", AgentName: "architect", Role: gateway.RoleLeadArchitect, Type: "analysis", TokensUsed: 30, ResponseTime: 400 * time.Millisecond},
		{SessionID: "s2", Phase: "plan", AgentName: "architect", Role: gateway.RoleLeadArchitect, Type: "analysis", TokensUsed: 999},
	}
	for _, c := range logs {
		require.NoError(t, store.LogContribution(ctx, c))
	}

	summary, err := store.GenerateSessionSummary(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, "s1", summary.SessionID)
	assert.Equal(t, 3, summary.TotalContributions)
	assert.Equal(t, 180, summary.TotalTokens)
	assert.Equal(t, map[string]int{"plan": 2, "validate": 1}, summary.Phases)

	require.Len(t, summary.Agents, 2)
	assert.Equal(t, gateway.AgentContribution{
		Agent:           "architect",
		Role:            gateway.RoleLeadArchitect,
		Calls:           2,
		Tokens:          130,
		AvgResponseTime: 300 * time.Millisecond,
	}, summary.Agents[0])
	assert.Equal(t, "security", summary.Agents[1].Agent)
	assert.Equal(t, 1, summary.Agents[1].Calls)
}

func TestContributions_EmptySession(t *testing.T) {
	store := testStore(t)

	summary, err := store.GenerateSessionSummary(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, summary.TotalContributions)
	assert.Empty(t, summary.Agents)
	assert.Empty(t, summary.Phases)
}

func sampleResult(id string, started time.Time) orchestrator.Result {
	return orchestrator.Result{
		SessionID:         id,
		Project:           "billing",
		Status:            orchestrator.StatusFailed,
		StartedAt:         started,
		TotalTime:         90 * time.Second,
		ConsensusAchieved: false,
		FinalOutput:       "",
		Metadata:          map[string]any{"error": "phase validate failed"},
		Phases: []orchestrator.PhaseResult{
			{
				Phase:         "plan",
				Status:        orchestrator.StatusCompleted,
				Responses:     []gateway.Response{{Content: "a"}, {Content: "b"}},
				Consensus:     1,
				ExecutionTime: 2 * time.Second,
				QualityGates:  map[string]hooks.GateResult{},
			},
			{
				Phase:         "validate",
				Status:        orchestrator.StatusFailed,
				Responses:     []gateway.Response{{Content: "c"}},
				Consensus:     0.5,
				ExecutionTime: time.Second,
				QualityGates: map[string]hooks.GateResult{
					"tests": {Status: hooks.GateFailed, Reason: "red"},
					"lint":  {Status: hooks.GateNotRun},
				},
			},
		},
	}
}

func TestArchive_RoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.ArchiveSession(ctx, sampleResult("s1", started)))

	rec, err := store.GetSessionRecord(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, "billing", rec.Project)
	assert.Equal(t, orchestrator.StatusFailed, rec.Status)
	assert.True(t, rec.StartedAt.Equal(started))
	assert.Equal(t, 90*time.Second, rec.TotalTime)
	assert.False(t, rec.ConsensusAchieved)
	assert.Equal(t, "phase validate failed", rec.Metadata["error"])

	require.Len(t, rec.Phases, 2)
	assert.Equal(t, "plan", rec.Phases[0].Phase)
	assert.Equal(t, 2, rec.Phases[0].AgentCount)
	assert.Equal(t, "validate", rec.Phases[1].Phase)
	assert.Equal(t, 0.5, rec.Phases[1].Consensus)
	assert.Equal(t, map[string]string{"tests": "failed", "lint": "not_run"}, rec.Phases[1].QualityGates)
}

func TestArchive_ReplacesAndLists(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.ArchiveSession(ctx, sampleResult("old", t0)))
	require.NoError(t, store.ArchiveSession(ctx, sampleResult("new", t0.Add(time.Hour))))

	again := sampleResult("old", t0)
	again.Status = orchestrator.StatusCompleted
	again.Phases = again.Phases[:1]
	require.NoError(t, store.ArchiveSession(ctx, again))

	rec, err := store.GetSessionRecord(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusCompleted, rec.Status)
	assert.Len(t, rec.Phases, 1)

	all, err := store.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].SessionID)
	assert.Empty(t, all[0].Phases)

	one, err := store.ListSessions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestArchive_UnknownSession(t *testing.T) {
	store := testStore(t)

	_, err := store.GetSessionRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestNewSQLiteStore_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "argus.db")
	store, err := NewSQLiteStore(context.Background(), path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.LogContribution(context.Background(), gateway.Contribution{SessionID: "s", AgentName: "a"}))
	assert.FileExists(t, path)
}

func TestStore_ServesGatewayCache(t *testing.T) {
	store := testStore(t)
	calls := 0
	gw := gateway.New(gateway.WithOptimizer(store), gateway.WithContributionLogger(store))
	gw.RegisterProvider("p", providerFunc(func(req gateway.Request) gateway.Response {
		calls++
		return gateway.Response{Content: "fresh " + req.Prompt}
	}))
	gw.RegisterAgent(gateway.AgentConfig{Name: "architect", Provider: "p"})

	ctx := context.Background()
	req := gateway.Request{AgentName: "architect", Prompt: "x", SessionID: "s1", Phase: "plan"}

	first, err := gw.CallAgent(ctx, req)
	require.NoError(t, err)
	second, err := gw.CallAgent(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "second call must be served from cache")
	assert.Equal(t, first.Content, second.Content)

	summary, err := store.GenerateSessionSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalContributions, "cache hits are not contributions")
}

type providerFunc func(gateway.Request) gateway.Response

func (f providerFunc) Call(_ context.Context, req gateway.Request, _ gateway.AgentConfig) (gateway.Response, error) {
	return f(req), nil
}

func (f providerFunc) HealthCheck(context.Context) bool { return true }
