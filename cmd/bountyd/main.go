package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"zkbounty/config"
	"zkbounty/core"
	"zkbounty/core/state"
	"zkbounty/native/bounty"
	"zkbounty/observability"
	"zkbounty/observability/logging"
	telemetry "zkbounty/observability/otel"
	"zkbounty/rpc"
	"zkbounty/storage"
	"zkbounty/storage/eventlog"
)

const serviceName = "bountyd"

func main() {
	configFile := flag.String("config", "./bountyd.toml", "Path to the configuration file (.toml or .yaml)")
	allowMigrate := flag.Bool("allow-migrate", false, "Allow starting with a mismatched state schema (manual migrations only)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *allowMigrate {
		cfg.AllowMigrate = true
	}

	logger := setupLogger(cfg)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}.ApplyEnv(os.LookupEnv))
	if err != nil {
		logger.Error("failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bountyd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func setupLogger(cfg *config.Config) *slog.Logger {
	opts := []logging.Option{}
	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		opts = append(opts, logging.WithLevel(level))
	}
	if cfg.Logging.File != "" {
		opts = append(opts, logging.WithFile(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.MaxAgeDays))
	}
	return logging.Setup(serviceName, cfg.Environment, opts...)
}

// node bundles the long-lived resources behind the API.
type node struct {
	db         *storage.LevelDB
	journal    *eventlog.Journal
	broker     *eventlog.Broker
	dispatcher *core.Dispatcher
}

func (n *node) Close() {
	if n.journal != nil {
		_ = n.journal.Close()
	}
	if n.db != nil {
		n.db.Close()
	}
}

// openNode opens the state database and event journal, verifies the schema
// version and seeds genesis into an empty ledger.
func openNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	hasher, err := bounty.HasherByName(cfg.Hasher)
	if err != nil {
		return nil, err
	}
	genesis, err := cfg.Genesis.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolve genesis: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare data directory: %w", err)
	}

	n := &node{}
	n.db, err = storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	mgr := state.NewManager(n.db)
	if err := mgr.EnsureStateVersion(cfg.AllowMigrate); err != nil {
		n.Close()
		return nil, err
	}

	n.journal, err = eventlog.Open(cfg.EventLogPath)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("open event journal: %w", err)
	}
	n.broker = eventlog.NewBroker(n.journal, eventlog.WithLogger(logger))

	n.dispatcher, err = core.NewDispatcher(mgr,
		core.WithEmitter(n.broker),
		core.WithHasher(hasher),
		core.WithLogger(logger),
		core.WithMetrics(observability.Bounty()),
		core.WithTracer(telemetry.Tracer("zkbounty/core")),
	)
	if err != nil {
		n.Close()
		return nil, err
	}
	if !genesis.Empty() {
		applied, err := n.dispatcher.ApplyGenesis(ctx, genesis)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("apply genesis: %w", err)
		}
		if !applied {
			logger.Info("genesis already applied; configured allocations ignored")
		}
	}
	return n, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	n, err := openNode(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	logger.Info("starting bountyd",
		slog.String("listen", cfg.ListenAddress),
		slog.String("data_dir", cfg.DataDir),
		slog.String("hasher", cfg.Hasher),
		logging.MaskField("auth_secret", cfg.Auth.HMACSecret),
		slog.String("auth_issuer", cfg.Auth.Issuer))
	if cfg.Auth.HMACSecret == "" {
		logger.Warn("auth secret not configured; mutating endpoints will reject every request")
	}
	server := rpc.NewServer(n.dispatcher, n.broker, rpc.ServerConfig{
		ServiceName:  serviceName,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		Auth: rpc.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
	}, logger)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe(cfg.ListenAddress)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return <-serveErr
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout.Duration > 0 {
		return cfg.Server.ShutdownTimeout.Duration
	}
	return 10 * time.Second
}
