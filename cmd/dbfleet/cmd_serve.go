package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/oklog/run"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dbfleet/dbfleet/broker"
	"github.com/dbfleet/dbfleet/cache"
	"github.com/dbfleet/dbfleet/config"
	"github.com/dbfleet/dbfleet/discovery"
	"github.com/dbfleet/dbfleet/dispatch"
	"github.com/dbfleet/dbfleet/fallback"
	"github.com/dbfleet/dbfleet/internal/daemon"
	"github.com/dbfleet/dbfleet/resolver"
	"github.com/dbfleet/dbfleet/scanner"
	"github.com/dbfleet/dbfleet/server"
	"github.com/dbfleet/dbfleet/telemetry"
	"github.com/dbfleet/dbfleet/wal"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the discovery and dispatch engine",
	Long: `Run dbfleet as a long-lived service.

The service keeps the inventory cache refreshed on the discovery
interval, health-checks downstream endpoints, and serves the HTTP API
for discovery triggers, operation dispatch and the service directory.`,
	Example: `  dbfleet serve                      # Run with dbfleet.yaml
  dbfleet serve --config /etc/dbfleet/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Telemetry.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx := cmd.Context()
	otelShutdown, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceVersion: version,
		OTELEndpoint:   cfg.Telemetry.OTELEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.HubRegion))
	if err != nil {
		return fmt.Errorf("failed to load aws config: %w", err)
	}

	creds := broker.New(sts.NewFromConfig(awsCfg), "dbfleet-discovery")
	coordinator := discovery.NewCoordinator(creds, scanner.New(cfg.Classification), cfg.Discovery).
		WithMetrics(metrics)

	cacheOpts := []cache.Option{cache.WithMetrics(metrics)}
	if cfg.Cache.StorageDir != "" {
		store, err := cache.NewStore(cfg.Cache.StorageDir)
		if err != nil {
			return fmt.Errorf("failed to open cache store: %w", err)
		}
		defer func() { _ = store.Close() }()
		cacheOpts = append(cacheOpts, cache.WithStore(store))
	}
	if cfg.Cache.DynamoTable != "" {
		cacheOpts = append(cacheOpts, cache.WithMirror(
			cache.NewMirror(dynamodb.NewFromConfig(awsCfg), cfg.Cache.DynamoTable)))
	}
	inventory := cache.New(cfg.Cache.TTL, cacheOpts...)

	directory := resolver.New(cfg.Resolver)
	checker := resolver.NewHealthChecker(directory, resolver.NewHTTPProber(5*time.Second), cfg.Resolver.HealthInterval).
		WithMetrics(metrics)

	journal, err := wal.Open(cfg.Dispatch.WALDir)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer func() { _ = journal.Close() }()

	var executor dispatch.Executor
	if cfg.Dispatch.ExecutorFunction != "" {
		executor = dispatch.NewLambdaExecutor(lambda.NewFromConfig(awsCfg), cfg.Dispatch.ExecutorFunction)
	} else {
		executor = dispatch.NewHTTPExecutor(cfg.Dispatch.Timeout)
	}

	responder := fallback.NewResponder().WithMetrics(metrics)
	dispatcher := dispatch.New(inventory, directory, executor, responder, journal,
		cfg.Dispatch.ExecutorService, cfg.Dispatch.IdempotencyWindow).
		WithMetrics(metrics)
	if err := dispatcher.RestoreWindow(); err != nil {
		return fmt.Errorf("failed to restore idempotency window: %w", err)
	}

	engine := daemon.New(coordinator, inventory, cfg.Accounts, cfg.Discovery.Interval)
	srv := server.New(cfg.Server, cfg.CrossAccountEnabled, engine, dispatcher, directory)

	var g run.Group
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	{
		loopCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return engine.Run(loopCtx)
		}, func(error) {
			cancel()
		})
	}
	{
		healthCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return checker.Run(healthCtx)
		}, func(error) {
			cancel()
		})
	}
	g.Add(func() error {
		return srv.ListenAndServe()
	}, func(error) {
		_ = srv.Shutdown()
	})

	err = g.Run()

	var sigErr run.SignalError
	if errors.As(err, &sigErr) || errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
