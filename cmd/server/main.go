package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamkit/backend/internal/relay"
	"streamkit/backend/internal/repository"
	"streamkit/backend/pkg/config"
	"streamkit/backend/pkg/di"
	"streamkit/backend/pkg/health"
	"streamkit/backend/pkg/logger"
	"streamkit/backend/pkg/router"
	"streamkit/backend/pkg/secrets"
	"streamkit/backend/shared/observability"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"
	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting application", "version", os.Getenv("APP_VERSION"), "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := secrets.Init(secrets.VaultConfig{
		Enabled:     cfg.Vault.Enabled,
		Address:     cfg.Vault.Address,
		Token:       cfg.Vault.Token,
		Namespace:   cfg.Vault.Namespace,
		SecretsPath: cfg.Vault.SecretsPath,
	}, log); err != nil {
		log.LogError(err, "Failed to initialize secrets manager")
		os.Exit(1)
	}
	cfg.Database.Password = secrets.GetSecretWithDefault(ctx, secrets.KeyDBPassword, cfg.Database.Password)

	telemetry, err := observability.Setup(ctx, observability.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		StdoutTraces: cfg.Telemetry.StdoutTraces,
	})
	if err != nil {
		log.LogError(err, "Failed to initialize telemetry")
		os.Exit(1)
	}

	db, err := config.NewDB(cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}
	if err := repository.Migrate(db); err != nil {
		log.LogError(err, "Failed to migrate database")
		os.Exit(1)
	}

	container, err := di.New(ctx, db, cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}

	r := router.New(container, router.WithMetrics(telemetry.MetricsHandler()))
	if cfg.OpenAPI.SchemaPath != "" {
		r.AddOpenAPIValidation(cfg.OpenAPI.SchemaPath)
	}
	r.SetupRoutes()

	hubDone := make(chan struct{})
	go func() {
		container.Run(ctx)
		close(hubDone)
	}()
	r.RateLimiter.Start(ctx)

	if cfg.Server.GRPCPort != "" {
		grpcHealth := health.NewGRPCServer(container.Checker, log)
		go func() {
			if err := grpcHealth.Serve(ctx, ":"+cfg.Server.GRPCPort); err != nil {
				log.LogError(err, "gRPC health server failed")
			}
		}()
	}

	relayCfg := relay.TwitchConfig{
		Channel:  cfg.Relay.TwitchChannel,
		StreamID: cfg.Relay.TwitchStreamID,
		Username: cfg.Relay.TwitchUsername,
		Token:    secrets.GetSecretWithDefault(ctx, secrets.KeyTwitchToken, cfg.Relay.TwitchToken),
	}
	if relayCfg.Enabled() {
		twitchRelay := relay.NewTwitchRelay(relayCfg, container.ChatService, log)
		go func() {
			if err := twitchRelay.Run(ctx); err != nil {
				log.LogError(err, "Twitch relay stopped")
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}

	// websocket connections are hijacked, so Shutdown does not wait for them
	select {
	case <-hubDone:
	case <-shutdownCtx.Done():
	}

	container.Close()
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Failed to flush telemetry")
	}

	log.Info("Server exited gracefully")
}
