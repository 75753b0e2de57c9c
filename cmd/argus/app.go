package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/kemerova/argus/internal/config"
	"github.com/kemerova/argus/internal/events"
	"github.com/kemerova/argus/internal/gateway"
	"github.com/kemerova/argus/internal/hooks"
	"github.com/kemerova/argus/internal/logging"
	"github.com/kemerova/argus/internal/monitor"
	"github.com/kemerova/argus/internal/orchestrator"
	"github.com/kemerova/argus/internal/persistence"
	"github.com/kemerova/argus/internal/provider"
	"github.com/kemerova/argus/internal/scheduler"
)

// app holds every long-lived component of one process.
type app struct {
	cfg          *config.Config
	logger       *zap.Logger
	bus          *events.Bus
	registry     *prometheus.Registry
	procs        *provider.ProcessManager
	store        *persistence.SQLiteStore // nil when storage is disabled
	scheduler    *scheduler.Scheduler
	gateway      *gateway.Gateway
	orchestrator *orchestrator.Orchestrator
}

// loadConfig loads and validates the layered configuration.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.globalConfig, opts.projectConfig)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp wires the components described by cfg. Logs go to logOut.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	logger, err := logging.New(cfg.Logging, logOut)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		bus:      events.NewBus(),
		registry: prometheus.NewRegistry(),
		procs:    provider.NewProcessManager(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sink := monitor.Multi{monitor.NewPrometheusSink(a.registry), monitor.NewBusSink(a.bus)}

	gwOpts := []gateway.Option{gateway.WithLogger(logger), gateway.WithSink(sink)}
	var (
		reporter orchestrator.Reporter
		archive  orchestrator.SessionArchive
	)
	if cfg.Storage.Path != "" {
		store, err := persistence.NewSQLiteStore(ctx, cfg.Storage.Path, persistence.WithLogger(logger))
		if err != nil {
			a.bus.Close()
			return nil, fmt.Errorf("opening store: %w", err)
		}
		a.store = store
		gwOpts = append(gwOpts, gateway.WithOptimizer(store), gateway.WithContributionLogger(store))
		reporter, archive = store, store
	}

	a.gateway = gateway.New(gwOpts...)
	if err := registerProviders(a.gateway, cfg, a.procs, logger); err != nil {
		a.Close()
		return nil, err
	}
	for _, name := range sortedNames(cfg.Agents) {
		a.gateway.RegisterAgent(cfg.Agents[name].Gateway(name))
	}

	a.scheduler = scheduler.New(cfg.Scheduler, scheduler.WithLogger(logger))

	hm := hooks.NewManager(logger)
	hm.RegisterAll(builtinHooks(logger))

	a.orchestrator = orchestrator.New(orchestrator.Config{
		Gateway:   a.gateway,
		Scheduler: a.scheduler,
		Hooks:     hm,
		Sink:      sink,
		Reporter:  reporter,
		Archive:   archive,
		Logger:    logger,
	})
	return a, nil
}

// registerProviders builds one provider per configured entry.
func registerProviders(gw *gateway.Gateway, cfg *config.Config, pm *provider.ProcessManager, logger *zap.Logger) error {
	for _, name := range sortedNames(cfg.Providers) {
		pc := cfg.Providers[name]

		var p gateway.Provider
		switch pc.Type {
		case config.ProviderCommand:
			p = provider.NewCommand(name, pc.Command, pm, logger)
		case config.ProviderStatic:
			p = &provider.Static{
				Name:      name,
				Responses: pc.Static.Responses,
				Default:   pc.Static.Default,
				Delay:     pc.Static.Delay.Std(),
			}
		default:
			return fmt.Errorf("provider %q: unknown type %q", name, pc.Type)
		}

		if pc.Resilience.Enabled {
			p = provider.NewResilient(name, p, pc.Resilience.Retry(), pc.Resilience.Breaker(), logger)
		}
		gw.RegisterProvider(name, p)
	}
	return nil
}

// Close stops the scheduler, kills provider subprocesses and releases storage.
func (a *app) Close() error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	var errs []error
	if err := a.procs.KillAll(); err != nil {
		errs = append(errs, fmt.Errorf("killing subprocesses: %w", err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store: %w", err))
		}
	}
	a.bus.Close()
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// openLogFile is used while the terminal belongs to the TUI.
func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func sortedNames[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
