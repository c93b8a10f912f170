package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tenetgraph/tenet/config"
	"github.com/tenetgraph/tenet/engine"
	"github.com/tenetgraph/tenet/entity"
	"github.com/tenetgraph/tenet/export"
	"github.com/tenetgraph/tenet/gate"
	kbapi "github.com/tenetgraph/tenet/processor/kb-api"
	"github.com/tenetgraph/tenet/propagate"
	"github.com/tenetgraph/tenet/resolve"
	"github.com/tenetgraph/tenet/staleness"
	"github.com/tenetgraph/tenet/store"
)

// standaloneCmd runs the engine embedded over BadgerDB: no NATS, no
// semstreams runtime. Cascades run in-process through the dispatcher
// and the HTTP surface binds directly.
func standaloneCmd() *cobra.Command {
	var (
		configPath string
		listenAddr string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "standalone",
		Short: "Run embedded over BadgerDB without NATS",
		Long: `Standalone mode runs the whole engine in one process: records in a
local BadgerDB, cascades through in-process partition workers, and the
HTTP API on a local listener. Useful for single-node deployments and
local experimentation; the service mode (the bare "tenet" command) is
the clustered path.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStandalone(configPath, listenAddr, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return cmd
}

func runStandalone(configPath, listenAddr, logLevel string) error {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadEngineConfig(configPath, logger)
	if err != nil {
		return err
	}
	if cfg.Storage.Backend != config.BackendBadger {
		return fmt.Errorf("standalone mode requires the badger backend, config has %q", cfg.Storage.Backend)
	}

	badgerCfg := store.DefaultBadgerConfig(cfg.Storage.Path)
	if cfg.Storage.InMemory {
		badgerCfg = store.InMemoryBadgerConfig()
	}
	kv, err := store.OpenBadger(badgerCfg)
	if err != nil {
		return fmt.Errorf("open badger at %s: %w", cfg.Storage.Path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The dispatcher is built after the store but consumes its events,
	// so the emitter closes over the variable assigned below.
	var dispatcher *engine.Dispatcher
	emitter := entity.EmitterFunc(func(ev entity.ChangeEvent) error {
		return dispatcher.Emit(ev)
	})

	st, err := store.New(ctx, kv,
		store.WithEmitter(emitter),
		store.WithLogger(logger))
	if err != nil {
		kv.Close()
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rules := staleness.NewRuleSet(staleness.DefaultRules())
	if cfg.Staleness.RulesPath != "" {
		loaded, err := staleness.LoadRules(cfg.Staleness.RulesPath)
		if err != nil {
			return fmt.Errorf("load staleness rules: %w", err)
		}
		rules = staleness.NewRuleSet(loaded)
	}
	if cfg.Staleness.Watch {
		watcher, err := staleness.NewRulesWatcher(cfg.Staleness.RulesPath, rules, logger)
		if err != nil {
			return fmt.Errorf("watch staleness rules: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start rules watcher: %w", err)
		}
		defer watcher.Stop()
	}

	resolver, err := resolve.DefaultRegistry.Get("consensus")
	if err != nil {
		return fmt.Errorf("get resolver: %w", err)
	}

	queue := gate.NewKVQueue(kv)
	prop, err := propagate.NewEngine(propagate.Config{
		Store:    st,
		Detector: staleness.NewDetector(rules, st, logger),
		Resolver: resolver,
		Queue:    queue,
		MaxHops:  cfg.Propagation.MaxHops,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("build propagation engine: %w", err)
	}

	dispatcher = engine.NewDispatcher(prop, cfg.Propagation.Partitions, logger)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	eng := engine.New(st, prop, queue, logger)
	api := kbapi.NewLocal(eng, export.NewSnapshotter(st), logger)

	mux := http.NewServeMux()
	api.RegisterHTTPHandlers("api/kb", mux)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Standalone HTTP server listening", "addr", listenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-signalCtx.Done():
	}

	logger.Info("Received shutdown signal")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Propagation.DrainTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}

	logger.Info("Standalone shutdown complete")
	return nil
}

// loadEngineConfig loads the engine YAML config: an explicit file when
// given, otherwise the layered user/project lookup.
func loadEngineConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}
	return config.NewLoader(logger).Load()
}
