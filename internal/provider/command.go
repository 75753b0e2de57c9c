package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kemerova/argus/internal/gateway"
)

// OutputFormat selects how a CLI's stdout is turned into response content.
type OutputFormat string

const (
	OutputText       OutputFormat = "text"
	OutputClaudeJSON OutputFormat = "claude_json"
)

// CommandConfig describes how to invoke an agent CLI.
type CommandConfig struct {
	Binary     string       `koanf:"binary" yaml:"binary"`
	Args       []string     `koanf:"args" yaml:"args,omitempty"`
	// PromptFlag precedes the prompt. When empty the prompt is the last
	// positional argument.
	PromptFlag string       `koanf:"prompt_flag" yaml:"prompt_flag,omitempty"`
	ModelFlag  string       `koanf:"model_flag" yaml:"model_flag,omitempty"`
	Stdin      bool         `koanf:"stdin" yaml:"stdin,omitempty"`
	Output     OutputFormat `koanf:"output" yaml:"output,omitempty"`
	WorkDir    string       `koanf:"work_dir" yaml:"work_dir,omitempty"`
	Env        []string     `koanf:"env" yaml:"env,omitempty"`
}

// ClaudeCLI invokes the claude CLI in print mode with JSON output.
func ClaudeCLI() CommandConfig {
	return CommandConfig{
		Binary:     "claude",
		Args:       []string{"--output-format", "json"},
		PromptFlag: "-p",
		ModelFlag:  "--model",
		Output:     OutputClaudeJSON,
	}
}

// GooseCLI invokes goose for a single non-interactive run.
func GooseCLI() CommandConfig {
	return CommandConfig{
		Binary:     "goose",
		Args:       []string{"run", "--no-session"},
		PromptFlag: "--text",
		ModelFlag:  "--model",
		Output:     OutputText,
	}
}

// CodexCLI invokes codex exec.
func CodexCLI() CommandConfig {
	return CommandConfig{
		Binary:    "codex",
		Args:      []string{"exec"},
		ModelFlag: "--model",
		Output:    OutputText,
	}
}

// Command is a provider that answers by running a CLI once per request.
type Command struct {
	name   string
	cfg    CommandConfig
	procs  *ProcessManager
	logger *zap.Logger
}

// NewCommand creates a Command provider. pm and logger may be nil.
func NewCommand(name string, cfg CommandConfig, pm *ProcessManager, logger *zap.Logger) *Command {
	if cfg.Output == "" {
		cfg.Output = OutputText
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Command{
		name:   name,
		cfg:    cfg,
		procs:  pm,
		logger: logger.Named("provider").With(zap.String("provider", name)),
	}
}

func (c *Command) buildArgs(prompt, model string) []string {
	args := append([]string(nil), c.cfg.Args...)
	if c.cfg.ModelFlag != "" && model != "" {
		args = append(args, c.cfg.ModelFlag, model)
	}
	if c.cfg.Stdin {
		return args
	}
	if c.cfg.PromptFlag != "" {
		return append(args, c.cfg.PromptFlag, prompt)
	}
	return append(args, prompt)
}

// Call runs the CLI with the request prompt. The subprocess is killed when
// ctx ends.
func (c *Command) Call(ctx context.Context, req gateway.Request, cfg gateway.AgentConfig) (gateway.Response, error) {
	cmd := newCommand(ctx, c.cfg.Binary, c.buildArgs(req.Prompt, cfg.Model)...)
	cmd.Dir = c.cfg.WorkDir
	if len(c.cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.cfg.Env...)
	}

	var stdin string
	if c.cfg.Stdin {
		stdin = req.Prompt
	}

	start := time.Now()
	stdout, _, err := runCommand(cmd, stdin, c.procs)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return gateway.Response{}, fmt.Errorf("%s: %w", c.name, ctxErr)
		}
		return gateway.Response{}, fmt.Errorf("%s: %w", c.name, err)
	}

	content, err := c.parse(stdout)
	if err != nil {
		return gateway.Response{}, fmt.Errorf("%s: %w", c.name, err)
	}

	c.logger.Debug("Command provider answered",
		zap.String("agent", req.AgentName),
		zap.Int("bytes", len(content)),
	)
	return gateway.Response{
		Content:      content,
		AgentName:    req.AgentName,
		Provider:     c.name,
		TokensUsed:   estimateTokens(content),
		ResponseTime: time.Since(start),
		Metadata:     map[string]any{"model": cfg.Model, "binary": c.cfg.Binary},
	}, nil
}

// HealthCheck reports whether the binary can be found.
func (c *Command) HealthCheck(context.Context) bool {
	_, err := exec.LookPath(c.cfg.Binary)
	if err != nil {
		c.logger.Warn("Provider health check failed", zap.Error(err))
	}
	return err == nil
}

func (c *Command) parse(stdout []byte) (string, error) {
	switch c.cfg.Output {
	case OutputClaudeJSON:
		return parseClaudeJSON(stdout)
	default:
		return strings.TrimSpace(string(stdout)), nil
	}
}

// claudeOutput covers both shapes the claude CLI prints: a plain result
// string and a content-block list.
type claudeOutput struct {
	Result  json.RawMessage `json:"result"`
	IsError bool            `json:"is_error"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func parseClaudeJSON(data []byte) (string, error) {
	var out claudeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode claude output: %w", err)
	}

	var text string
	if err := json.Unmarshal(out.Result, &text); err != nil {
		var blocks struct {
			Content []contentBlock `json:"content"`
		}
		if err := json.Unmarshal(out.Result, &blocks); err != nil {
			return "", fmt.Errorf("decode claude result: %w", err)
		}
		var b strings.Builder
		for _, blk := range blocks.Content {
			if blk.Type == "text" {
				b.WriteString(blk.Text)
			}
		}
		text = b.String()
	}

	if out.IsError {
		return "", fmt.Errorf("claude reported an error: %s", text)
	}
	return text, nil
}

// estimateTokens approximates a token count for CLIs that do not report one.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
