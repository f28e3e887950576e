// Package main runs one demo stream topology described by a configuration
// file until it is interrupted or a task fails for good.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/semtopo/config"
	"github.com/c360/semtopo/engine"
	"github.com/c360/semtopo/health"
	"github.com/c360/semtopo/metric"
	"github.com/c360/semtopo/natsclient"
	"github.com/c360/semtopo/pkg/tlsutil"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semtopo"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, logger, shouldExit, err := initializeCLI(args)
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPaths...)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid", "topology", cfg.Topology.Name, "kind", cfg.Topology.Kind)
		return nil
	}
	logger.Debug("Loaded configuration", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	deps := dependencies{registry: registry}

	if cfg.Topology.Kind == config.KindJetStreamWordSplit {
		client, err := connectToNATS(ctx, cfg, logger, registry)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Close(closeCtx)
		}()
		deps.nats = client
	}

	g, placement, err := buildTopology(cfg, deps)
	if err != nil {
		return fmt.Errorf("build topology: %w", err)
	}

	monitor := health.NewMonitor()
	opts := append(deps.healthOptions(),
		engine.WithName(cfg.Topology.Name),
		engine.WithLogger(logger),
		engine.WithMetricsRegistry(registry),
		engine.WithDelivery(cfg.DeliveryConfig()),
		engine.WithErrorPolicy(cfg.Policy()),
		engine.WithQueueSize(cfg.QueueSize),
		engine.WithGracePeriod(cfg.Shutdown.GracePeriod.D()),
		engine.WithForceTimeout(cfg.Shutdown.ForceTimeout.D()),
		engine.WithHealthMonitor(monitor),
		engine.WithAlertHandler(engine.AlertFunc(func(a engine.Alert) {
			logger.Error("Task alert", "alert", a.String(), "stage", a.Stage, "instance", a.Instance, "kind", a.Kind)
		})),
	)
	running, err := engine.Schedule(ctx, g, placement, opts...)
	if err != nil {
		return fmt.Errorf("schedule topology: %w", err)
	}

	if cfg.Metrics.Enabled {
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		server.SetHealthSource(running.Health)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() { _ = server.Stop() }()
		logger.Info("Metrics server listening", "address", server.Address())
	}

	logger.Info("Topology started",
		"topology", cfg.Topology.Name,
		"kind", cfg.Topology.Kind,
		"workers", placement.Workers,
		"delivery", cfg.DeliveryConfig().Enabled)

	return runUntilDone(ctx, running, cfg.Shutdown.GracePeriod.D(), cliCfg.StatsEvery, logger)
}

// initializeCLI parses flags and sets up logging
func initializeCLI(args []string) (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}
	if cliCfg.ShowHelp {
		return nil, nil, true, nil
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("Starting semtopo",
		"version", Version,
		"build_time", BuildTime,
		"config_paths", cliCfg.ConfigPaths)

	return cliCfg, logger, false, nil
}

// loadConfig merges the given files in order and validates the result.
func loadConfig(paths ...string) (*config.Config, error) {
	loader := config.NewLoader()
	for _, path := range paths {
		loader.AddLayer(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// connectToNATS creates the shared client used by JetStream sources.
func connectToNATS(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.Topology.Name),
		natsclient.WithLogger(logger),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithMetrics(registry, 10*time.Second),
	}
	if d := cfg.NATS.ReconnectWait.D(); d > 0 {
		opts = append(opts, natsclient.WithReconnectWait(d))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	tlsCfg, err := tlsutil.Load(cfg.NATS.TLS)
	if err != nil {
		return nil, fmt.Errorf("load NATS TLS config: %w", err)
	}
	opts = append(opts, natsclient.WithTLSConfig(tlsCfg))

	client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "url", cfg.NATS.URL)
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Connect(connCtx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return client, nil
}

// runUntilDone waits for a signal or for the topology to stop on its own,
// logging stage counters every statsEvery.
func runUntilDone(
	ctx context.Context,
	running *engine.Running,
	grace, statsEvery time.Duration,
	logger *slog.Logger,
) error {
	var tick <-chan time.Time
	if statsEvery > 0 {
		ticker := time.NewTicker(statsEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Received shutdown signal", "grace_period", grace)
			if err := running.Shutdown(grace); err != nil {
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			logStats(logger, running)
			logger.Info("semtopo shutdown complete")
			return nil
		case <-running.Done():
			logStats(logger, running)
			return running.Wait()
		case <-tick:
			logStats(logger, running)
		}
	}
}

func logStats(logger *slog.Logger, running *engine.Running) {
	s := running.Stats()
	for name, st := range s.Stages {
		logger.Info("Stage stats",
			"stage", name,
			"tasks", st.Tasks,
			"emitted", st.Emitted,
			"processed", st.Processed,
			"failed", st.Failed,
			"replayed", st.Replayed)
	}
	if s.Delivery != nil {
		logger.Info("Delivery stats", "completed", s.Delivery.Completed, "pending", s.Delivery.Pending)
	}
}
