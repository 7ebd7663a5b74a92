// Package main is the headless Nolan control plane: one binary owning
// sessions, schedules, event-driven runs and the REST+WebSocket surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nolan-sh/nolan/internal/agent"
	"github.com/nolan-sh/nolan/internal/auth"
	"github.com/nolan-sh/nolan/internal/common/config"
	"github.com/nolan-sh/nolan/internal/common/logger"
	"github.com/nolan-sh/nolan/internal/common/paths"
	"github.com/nolan-sh/nolan/internal/common/tracing"
	"github.com/nolan-sh/nolan/internal/cronos"
	"github.com/nolan-sh/nolan/internal/events"
	"github.com/nolan-sh/nolan/internal/gateway/httpapi"
	"github.com/nolan-sh/nolan/internal/gateway/websocket"
	"github.com/nolan-sh/nolan/internal/provider"
	"github.com/nolan-sh/nolan/internal/session"
)

var version = "dev"

const (
	exitBindFailure = 1
	exitDataRoot    = 2
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(exitBindFailure)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(exitBindFailure)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting nolan", zap.String("version", version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer tracing.Shutdown(context.Background())

	// 3. Resolve the data root; a broken root is unrecoverable.
	p, err := paths.Resolve(cfg.Data.Root, cfg.Data.AppRoot, cfg.Data.WorkRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "data root misconfigured: %v\n", err)
		os.Exit(exitDataRoot)
	}

	// 4. Event bus: in-process by default, NATS when configured.
	var bus events.Bus
	if cfg.NATS.URL != "" {
		log.Info("connecting to NATS", zap.String("url", cfg.NATS.URL))
		natsBus, err := events.NewNATSBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		bus = natsBus
	} else {
		bus = events.NewMemoryBus(log)
	}
	defer bus.Close()

	// 5. Domain components.
	agents := agent.NewStore(p, log)
	tmux := session.NewTmux()
	supervisor := session.NewSupervisor(tmux, log)
	selector := provider.NewSelector(cfg.Provider.FallbackEnabled, log)
	resolver := func(a *agent.Agent) (provider.Provider, error) {
		name := a.CLIProvider
		if name == "" {
			name = cfg.Provider.Name
		}
		return selector.Get(name)
	}

	runs, err := cronos.NewRunStore(p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening run store: %v\n", err)
		os.Exit(exitDataRoot)
	}
	defer runs.Close()

	defaultTimeout := time.Duration(cfg.Scheduler.DefaultTimeout) * time.Second
	executor := cronos.NewExecutor(p, agents, resolver, tmux, bus, runs, defaultTimeout, log)
	scheduler := cronos.NewScheduler(p, agents, executor, runs, true, log)

	// 6. Recovery runs before anything is armed or served.
	recovery := cronos.NewRecovery(tmux, runs, log)
	if _, err := recovery.Run(ctx, os.Stderr); err != nil {
		log.Error("recovery pass failed", zap.Error(err))
	}

	if err := scheduler.Start(ctx); err != nil {
		log.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	// 7. Event-driven agents: dispatcher plus the optional file watcher.
	dispatcher := events.NewDispatcher(bus, agents, func(ctx context.Context, name string) error {
		return scheduler.TriggerAgent(ctx, name, cronos.TriggerEvent, "")
	}, log)
	if err := dispatcher.Start(); err != nil {
		log.Fatal("failed to start event dispatcher", zap.Error(err))
	}
	defer dispatcher.Stop()

	if len(cfg.Events.WatchDirs) > 0 {
		watcher, err := events.NewWatcher(bus, cfg.Events.WatchDirs, log)
		if err != nil {
			log.Error("file watcher unavailable", zap.Error(err))
		} else {
			watcher.Start(ctx)
			defer watcher.Stop()
		}
	}

	// 8. HTTP + WebSocket surface.
	authSvc := auth.NewService(p, cfg.API.Loopback(), log)
	terminal := websocket.NewTerminalHandler(supervisor, log)
	server := httpapi.NewServer(log, authSvc, agents, scheduler, supervisor, terminal, version)
	if err := server.Start(cfg.API.Addr()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to bind %s: %v\n", cfg.API.Addr(), err)
		os.Exit(exitBindFailure)
	}

	// 9. Wait for shutdown.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	cancel()
	recovery.Wait()
}
