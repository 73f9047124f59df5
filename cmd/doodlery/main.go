package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/doodlery/doodlery/internal/host"
	"github.com/doodlery/doodlery/internal/maintenance"
	"github.com/doodlery/doodlery/internal/migrate"
	"github.com/doodlery/doodlery/internal/observability"
	"github.com/doodlery/doodlery/internal/server"
	"github.com/doodlery/doodlery/internal/store"
)

var logLevel string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "doodlery",
	Short: "Doodlery — drawing-post store with lazy schema migration",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the store and the migration admin server",
	RunE:  runServer,
}

var (
	bindAddr        string
	dataDir         string
	backend         string
	scope           string
	syncWrites      bool
	lockTTL         time.Duration
	ledgerCap       int64
	maintInterval   time.Duration
	shutdownTimeout time.Duration
	otelEnabled     bool
	otelEndpoint    string
	otelSampleRatio float64
)

// envOr lets deployments set string options via DOODLERY_* environment
// variables; explicit flags still win.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("DOODLERY_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	serverCmd.Flags().StringVar(&bindAddr, "bind", envOr("DOODLERY_BIND", ":8080"), "Admin HTTP bind address")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", envOr("DOODLERY_DATA_DIR", "data"), "Directory for store files")
	serverCmd.Flags().StringVar(&backend, "backend", envOr("DOODLERY_BACKEND", "badger"), "Store backend: badger or pebble")
	serverCmd.Flags().StringVar(&scope, "scope", envOr("DOODLERY_SCOPE", string(store.ScopeGlobal)), "Key namespace to operate in")
	serverCmd.Flags().BoolVar(&syncWrites, "sync-writes", false, "Fsync every write (durability over throughput)")
	serverCmd.Flags().DurationVar(&lockTTL, "lock-ttl", migrate.DefaultLockTTL, "Per-record migration lock TTL")
	serverCmd.Flags().Int64Var(&ledgerCap, "ledger-cap", 10000, "Max entries kept per outcome ledger set")
	serverCmd.Flags().DurationVar(&maintInterval, "maintenance-interval", 30*time.Second, "Housekeeping tick cadence")
	serverCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 2*time.Second, "Graceful HTTP shutdown timeout")
	serverCmd.Flags().BoolVar(&otelEnabled, "otel-enabled", false, "Enable OpenTelemetry tracing")
	serverCmd.Flags().StringVar(&otelEndpoint, "otel-endpoint", envOr("DOODLERY_OTEL_ENDPOINT", ""), "OTLP HTTP endpoint (host:port) for traces; if empty uses stdout exporter")
	serverCmd.Flags().Float64Var(&otelSampleRatio, "otel-sample-ratio", 1, "Fraction of traces to sample")

	rootCmd.AddCommand(serverCmd)
}

func setupLogging() {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func openStore() (store.Store, maintenance.Sweeper, error) {
	switch backend {
	case "badger":
		s, err := store.OpenBadger(dataDir+"/badger", syncWrites)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "pebble":
		s, err := store.OpenPebble(dataDir+"/pebble", syncWrites)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q (want badger or pebble)", backend)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	slog.Info("starting doodlery server",
		"bind", bindAddr,
		"data_dir", dataDir,
		"backend", backend,
		"scope", scope,
		"sync_writes", syncWrites,
		"lock_ttl", lockTTL,
	)

	shutdownTracer, err := observability.InitTracer(observability.Config{
		Enabled:     otelEnabled,
		Endpoint:    otelEndpoint,
		Scope:       scope,
		Backend:     backend,
		SampleRatio: otelSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}

	st, sweeper, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("store close failed", "error", err)
		}
	}()

	sc := store.Scope(scope)
	platform := host.NewStorePlatform(st, sc)
	engine := migrate.New(migrate.Config{
		Store:   st,
		Scope:   sc,
		Host:    platform,
		LockTTL: lockTTL,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := maintenance.New(engine.Ledger(), sweeper, maintenance.Config{
		Interval:  maintInterval,
		LedgerCap: ledgerCap,
	})
	go loop.Run(ctx)

	srv := server.New(engine, bindAddr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		slog.Warn("tracer shutdown failed", "error", err)
	}
	return nil
}
