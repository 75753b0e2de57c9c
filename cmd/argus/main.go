// Package main implements the argus CLI: run a multi-agent orchestration
// workflow and check provider health.
package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var version = "dev"

// rootOptions are the flags shared by every command.
type rootOptions struct {
	globalConfig  string
	projectConfig string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "argus",
		Short: "Multi-agent orchestration across LLM CLIs",
		Long: `argus runs a workflow of phases. Each phase asks a set of agents,
scores their agreement, checks quality gates, and stops the run at the
first failed phase.

Configuration is layered: built-in defaults, ~/.argus/config.yaml,
.argus/config.yaml, then ARGUS_* environment variables.`,
		Version:      version,
		SilenceUsage: true,
	}

	globalDefault := ""
	if home, err := os.UserHomeDir(); err == nil {
		globalDefault = filepath.Join(home, ".argus", "config.yaml")
	}
	root.PersistentFlags().StringVar(&opts.globalConfig, "global-config", globalDefault, "global config file")
	root.PersistentFlags().StringVar(&opts.projectConfig, "config", filepath.Join(".argus", "config.yaml"), "project config file")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newHealthCmd(opts))
	return root
}
