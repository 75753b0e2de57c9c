package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kemerova/argus/internal/config"
	"github.com/kemerova/argus/internal/orchestrator"
	"github.com/kemerova/argus/internal/tui"
)

type runOptions struct {
	workflow    string
	project     string
	prompt      string
	context     map[string]string
	tui         bool
	metricsAddr string
	logFile     string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run an orchestration workflow",
		Long: `Run a workflow against the configured agents and print the result.

Examples:
  # Run the standard workflow
  argus run --project billing "Add invoice export"

  # Watch the run in the terminal monitor and expose metrics
  argus run --tui --metrics-addr :9090 --project billing "Add invoice export"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.prompt = args[0]
			}
			return runWorkflow(cmd.Context(), root, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.workflow, "workflow", "w", config.DefaultWorkflow, "workflow name")
	f.StringVarP(&opts.project, "project", "p", "", "project name (default: current directory name)")
	f.StringVar(&opts.prompt, "prompt", "", "task prompt")
	f.StringToStringVar(&opts.context, "context", nil, "extra context passed to every agent (key=value)")
	f.BoolVar(&opts.tui, "tui", false, "show the terminal monitor while running")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")
	f.StringVar(&opts.logFile, "log-file", filepath.Join(".argus", "argus.log"), "log file used while the terminal monitor is shown")
	return cmd
}

func runWorkflow(ctx context.Context, root *rootOptions, opts *runOptions, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if strings.TrimSpace(opts.prompt) == "" {
		return errors.New("a prompt is required")
	}

	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	wf, err := cfg.Workflow(opts.workflow)
	if err != nil {
		return err
	}
	if opts.project == "" {
		wd, _ := os.Getwd()
		opts.project = filepath.Base(wd)
	}

	ctxMap := make(map[string]any, len(opts.context))
	for k, v := range opts.context {
		ctxMap[k] = v
	}
	req, err := wf.Request(opts.project, opts.prompt, ctxMap)
	if err != nil {
		return fmt.Errorf("workflow %q: %w", opts.workflow, err)
	}

	logOut := stderr
	if opts.tui {
		f, err := openLogFile(opts.logFile)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}

	a, err := newApp(ctx, cfg, logOut)
	if err != nil {
		return err
	}
	defer a.Close()

	metricsAddr := cfg.Metrics.Addr
	if opts.metricsAddr != "" {
		metricsAddr = opts.metricsAddr
	}
	if metricsAddr != "" {
		srv := serveMetrics(a, metricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var program *tea.Program
	tuiDone := make(chan error, 1)
	if opts.tui {
		model := tui.New(a.bus, cfg, root.globalConfig, root.projectConfig)
		program = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
		go func() {
			_, err := program.Run()
			tuiDone <- err
		}()
	}

	a.scheduler.Start()
	taskID, err := a.orchestrator.Submit(req)
	if err != nil {
		return err
	}
	a.logger.Info("Submitted orchestration",
		zap.String("task_id", taskID),
		zap.String("project", req.Project),
		zap.String("workflow", opts.workflow),
	)

	task, _ := a.scheduler.WaitForTask(ctx, taskID)
	if ctx.Err() != nil {
		a.logger.Warn("Shutdown signal received, cleaning up")
		a.scheduler.CancelTask(taskID)
		task, _ = a.scheduler.WaitForTask(context.Background(), taskID)
	}

	if program != nil {
		// Leave the monitor up until the user quits, unless we are shutting down.
		if ctx.Err() != nil {
			program.Quit()
		}
		if err := <-tuiDone; err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			a.logger.Warn("Terminal monitor exited with error", zap.Error(err))
		}
	}

	result, ok := task.Result.(orchestrator.Result)
	if !ok {
		return fmt.Errorf("orchestration task ended %s without a result: %v", task.Status, task.Err)
	}
	printResult(stdout, result)
	if result.Status != orchestrator.StatusCompleted {
		return fmt.Errorf("orchestration %s", result.Status)
	}
	return nil
}

func serveMetrics(a *app, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	return srv
}

func printResult(w io.Writer, r orchestrator.Result) {
	fmt.Fprintf(w, "Session:   %s\n", r.SessionID)
	fmt.Fprintf(w, "Project:   %s\n", r.Project)
	fmt.Fprintf(w, "Status:    %s\n", r.Status)
	fmt.Fprintf(w, "Consensus: %t\n", r.ConsensusAchieved)
	fmt.Fprintf(w, "Duration:  %s\n", r.TotalTime.Round(time.Millisecond))
	for _, p := range r.Phases {
		fmt.Fprintf(w, "  %-10s %-9s consensus=%.2f agents=%d", p.Phase, p.Status, p.Consensus, len(p.Responses))
		for _, name := range sortedNames(p.QualityGates) {
			fmt.Fprintf(w, " %s=%s", name, p.QualityGates[name].Status)
		}
		fmt.Fprintln(w)
	}
	if msg, ok := r.Metadata["error"]; ok {
		fmt.Fprintf(w, "Error:     %v\n", msg)
	}
	if r.FinalOutput != "" {
		fmt.Fprintf(w, "\n%s\n", r.FinalOutput)
	}
}
