package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"recycler/cmd/internal/passphrase"
	"recycler/config"
	"recycler/observability/logging"
	telemetry "recycler/observability/otel"
	"recycler/services/recyclerd"
	"recycler/services/recyclerd/archive"
	"recycler/services/recyclerd/server"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "recyclerd.toml", "path to recyclerd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("recyclerd: load config: %v", err)
	}

	env := strings.TrimSpace(cfg.Telemetry.Environment)
	if env == "" {
		env = strings.TrimSpace(os.Getenv("RECYCLER_ENV"))
	}
	sink, closeLog := logging.Output(os.Stdout, logging.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer closeLog.Close()
	logger := logging.SetupWriter(sink, "recyclerd", env, logging.ParseLevel(cfg.Logging.Level))

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "recyclerd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("recyclerd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	pass := passphrase.NewSource(cfg.KeystorePassEnv, "engine keystore")
	appOpts := []recyclerd.Option{recyclerd.WithPassphrase(pass.Get)}
	var serverOpts []server.Option
	if cfg.Stream.Enabled {
		notifier := server.NewNotifier()
		appOpts = append(appOpts, recyclerd.WithEmitter(notifier))
		serverOpts = append(serverOpts, server.WithEventStream(notifier))
	}
	app, err := recyclerd.Open(cfg, logger, appOpts...)
	if err != nil {
		log.Fatalf("recyclerd: %v", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Archive.Enabled() {
		db, err := archive.Open(cfg.Archive.Driver, cfg.Archive.DSN)
		if err != nil {
			log.Fatalf("recyclerd: open archive: %v", err)
		}
		arch, err := archive.New(db, app.Processor, logger)
		if err != nil {
			log.Fatalf("recyclerd: archive: %v", err)
		}
		go arch.Run(ctx, cfg.Archive.Interval.Duration)
		serverOpts = append(serverOpts, server.WithArchive(arch))
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		Auth: server.AuthConfig{
			HMACSecret: cfg.HMACSecret(),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RateLimit: server.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
		ShutdownGrace: cfg.ShutdownGracePeriod.Duration,
	}, app.Processor, logger, serverOpts...)
	if err != nil {
		log.Fatalf("recyclerd: server: %v", err)
	}

	go app.RunJanitor(ctx)

	logger.Info("recyclerd: starting",
		"listen", cfg.ListenAddress,
		"engine_account", app.Account.Hex(),
		"storage", cfg.Storage.Backend,
		"data_dir", cfg.DataDir)
	if err := srv.Run(ctx); err != nil {
		logger.Error("recyclerd: server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("recyclerd: stopped")
}
