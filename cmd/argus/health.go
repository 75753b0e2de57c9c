package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newHealthCmd(root *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that every configured provider is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return checkHealth(ctx, root, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall timeout")
	return cmd
}

func checkHealth(ctx context.Context, root *rootOptions, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	// Health checks never touch storage.
	cfg.Storage.Path = ""

	a, err := newApp(ctx, cfg, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	status := a.gateway.HealthCheck(ctx)
	unhealthy := 0
	for _, name := range sortedNames(status) {
		state := "ok"
		if !status[name] {
			state = "unavailable"
			unhealthy++
		}
		fmt.Fprintf(stdout, "%-12s %s\n", name, state)
	}
	if unhealthy > 0 {
		return fmt.Errorf("%d of %d providers unavailable", unhealthy, len(status))
	}
	return nil
}
