package orchestrator

import (
	"fmt"
	"strings"

	"github.com/kemerova/argus/internal/gateway"
)

func buildPrompt(sessionID string, req Request, phase PhaseConfig, agent gateway.AgentConfig, previous []PhaseResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "ARGUS Orchestration Session: %s\n", sessionID)
	fmt.Fprintf(&b, "Project: %s\n", req.Project)
	fmt.Fprintf(&b, "Phase: %s (%s)\n", phase.Name, phase.Type)
	fmt.Fprintf(&b, "Your Role: %s\n\n", agent.Role)

	fmt.Fprintf(&b, "TASK:\n%s\n\n", req.Prompt)
	fmt.Fprintf(&b, "CONTEXT:\n%v\n\n", req.Context)
	fmt.Fprintf(&b, "PREVIOUS PHASES:\n%s\n\n", previousPhases(previous))

	fmt.Fprintf(&b, "INSTRUCTIONS:\n")
	fmt.Fprintf(&b, "Please provide your analysis and recommendations for this %s phase.\n", phase.Type)
	fmt.Fprintf(&b, "Focus on your expertise as %s.\n", agent.Role)
	fmt.Fprintf(&b, "Be specific, actionable, and collaborative.\n\n")

	b.WriteString("EXPECTED OUTPUT:\n")
	b.WriteString("- Clear analysis based on your role\n")
	b.WriteString("- Specific recommendations\n")
	b.WriteString("- Any concerns or risks identified\n")
	b.WriteString("- Collaboration points with other agents")

	return b.String()
}

func previousPhases(results []PhaseResult) string {
	if len(results) == 0 {
		return "No previous phases."
	}
	var lines []string
	for _, pr := range results {
		lines = append(lines, fmt.Sprintf("Phase %s: %s", pr.Phase, pr.Status))
		if len(pr.Responses) > 0 {
			lines = append(lines,
				fmt.Sprintf("  Consensus: %.2f", pr.Consensus),
				fmt.Sprintf("  Agents: %d", len(pr.Responses)),
			)
		}
	}
	return strings.Join(lines, "\n")
}
