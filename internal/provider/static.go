package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/kemerova/argus/internal/gateway"
)

// Static answers from canned text. Useful for demos and dry runs.
type Static struct {
	Name string
	// Responses maps agent name to its answer. Agents without an entry get
	// Default, or an echo of the phase when Default is empty.
	Responses map[string]string
	Default   string
	Delay     time.Duration
}

func (s *Static) Call(ctx context.Context, req gateway.Request, cfg gateway.AgentConfig) (gateway.Response, error) {
	start := time.Now()
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return gateway.Response{}, ctx.Err()
		}
	}

	content, ok := s.Responses[req.AgentName]
	if !ok {
		content = s.Default
	}
	if content == "" {
		content = fmt.Sprintf("%s (%s) reviewed phase %q.", req.AgentName, cfg.Role, req.Phase)
	}

	return gateway.Response{
		Content:      content,
		AgentName:    req.AgentName,
		Provider:     s.Name,
		TokensUsed:   estimateTokens(content),
		ResponseTime: time.Since(start),
		Metadata:     map[string]any{"model": cfg.Model},
	}, nil
}

func (s *Static) HealthCheck(context.Context) bool { return true }
