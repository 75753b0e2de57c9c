package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kemerova/argus/internal/gateway"
)

const (
	// CacheTTL bounds the age of a servable cached response.
	CacheTTL = 24 * time.Hour
	// MinRelevance is the exclusive lower bound for a servable cached response.
	MinRelevance = 0.8
)

// CacheKey identifies a request by agent, prompt and context. Context maps
// are encoded with sorted keys, so equal contexts give equal keys.
func CacheKey(req gateway.Request) string {
	h := sha256.New()
	h.Write([]byte(req.Prompt))
	ctxJSON, err := json.Marshal(req.Context)
	if err != nil {
		ctxJSON = fmt.Appendf(nil, "%v", req.Context)
	}
	h.Write(ctxJSON)
	return req.AgentName + ":" + hex.EncodeToString(h.Sum(nil))
}

// Optimize serves a cached response for req when one is fresh and relevant
// enough. Requests are never rewritten.
func (s *SQLiteStore) Optimize(ctx context.Context, req gateway.Request) (gateway.Optimization, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	key := CacheKey(req)
	var (
		resp      gateway.Response
		respMS    int64
		relevance float64
		created   int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT content, provider, tokens_used, response_time_ms, relevance, created_at
		FROM response_cache
		WHERE cache_key = ?
	`, key).Scan(&resp.Content, &resp.Provider, &resp.TokensUsed, &respMS, &relevance, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.Optimization{}, nil
	}
	if err != nil {
		return gateway.Optimization{}, fmt.Errorf("failed to query cache: %w", err)
	}

	now := s.now()
	age := now.Sub(time.UnixMilli(created))
	if age >= CacheTTL || relevance <= MinRelevance {
		return gateway.Optimization{}, nil
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE response_cache
		SET access_count = access_count + 1, last_accessed = ?
		WHERE cache_key = ?
	`, now.UnixMilli(), key); err != nil {
		s.logger.Warn("Failed to record cache access", zap.String("agent", req.AgentName), zap.Error(err))
	}

	resp.AgentName = req.AgentName
	resp.ResponseTime = time.Duration(respMS) * time.Millisecond
	resp.Metadata = map[string]any{"cached": true, "relevance": relevance}
	return gateway.Optimization{Response: &resp}, nil
}

// Store caches resp for req, replacing any previous entry.
func (s *SQLiteStore) Store(ctx context.Context, req gateway.Request, resp gateway.Response, relevance float64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO response_cache
			(cache_key, agent_name, content, provider, tokens_used, response_time_ms, relevance, access_count, created_at, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			content = excluded.content,
			provider = excluded.provider,
			tokens_used = excluded.tokens_used,
			response_time_ms = excluded.response_time_ms,
			relevance = excluded.relevance,
			access_count = 0,
			created_at = excluded.created_at,
			last_accessed = excluded.last_accessed
	`, CacheKey(req), req.AgentName, resp.Content, resp.Provider, resp.TokensUsed,
		resp.ResponseTime.Milliseconds(), relevance, now, now)
	if err != nil {
		return fmt.Errorf("failed to cache response: %w", err)
	}
	return nil
}

// CacheAccessCount returns how often the entry for req has been served.
func (s *SQLiteStore) CacheAccessCount(ctx context.Context, req gateway.Request) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT access_count FROM response_cache WHERE cache_key = ?`, CacheKey(req)).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query cache: %w", err)
	}
	return n, nil
}

// PruneCache deletes entries older than CacheTTL and returns how many went.
func (s *SQLiteStore) PruneCache(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	cutoff := s.now().Add(-CacheTTL).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE created_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache: %w", err)
	}
	return res.RowsAffected()
}
