// Package main provides the entrypoint for the RoamWise field guardian daemon.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/GalSened/RoamWise-sub002/internal/bridge"
	"github.com/GalSened/RoamWise-sub002/internal/devauth"
	"github.com/GalSened/RoamWise-sub002/internal/fsm"
	"github.com/GalSened/RoamWise-sub002/internal/guardian"
	"github.com/GalSened/RoamWise-sub002/internal/hikelog"
	"github.com/GalSened/RoamWise-sub002/internal/offtrail"
	"github.com/GalSened/RoamWise-sub002/internal/pack"
	"github.com/GalSened/RoamWise-sub002/internal/sunset"
	"github.com/GalSened/RoamWise-sub002/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "roamwise-guardian"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		level, err := zerolog.ParseLevel(raw)
		if err != nil {
			log.Warn().Str("level", raw).Msg("unknown LOG_LEVEL, staying on info")
		} else {
			log = log.Level(level)
		}
	}

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting field guardian")

	// Get configuration from environment
	listenAddr := getEnv("GUARDIAN_LISTEN_ADDR", bridge.DefaultAddr)
	dbPath := getEnv("GUARDIAN_DB_PATH", "guardian.db")
	packBaseURL := getEnv("PACK_API_BASE_URL", "https://packs.roamwise.app")
	otlpEndpoint := getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	env := getEnv("ENVIRONMENT", "device")

	deviceID := os.Getenv("GUARDIAN_DEVICE_ID")
	if deviceID == "" {
		deviceID = uuid.New().String()
		log.Warn().
			Str("device_id", deviceID).
			Msg("GUARDIAN_DEVICE_ID not set - generated an id for this run")
	}

	quotaBytes := getEnvInt64("PACK_STORAGE_QUOTA_BYTES", pack.DefaultQuotaBytes)
	if quotaBytes <= 0 {
		log.Warn().Int64("value", quotaBytes).Msg("invalid PACK_STORAGE_QUOTA_BYTES, using default")
		quotaBytes = pack.DefaultQuotaBytes
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	telemetryEnabled := os.Getenv("OTEL_ENABLED") == "true"

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		DeviceID:       deviceID,
		OTLPEndpoint:   otlpEndpoint,
		Enabled:        telemetryEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if telemetryEnabled {
		log.Info().
			Str("otlp_endpoint", otlpEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Open on-device storage. Packages and hike logs share one database
	// file; both layers hold a single WAL connection.
	storage, err := pack.NewSQLiteStorage(dbPath, quotaBytes)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open package storage")
	}
	defer storage.Close()
	log.Info().
		Str("path", dbPath).
		Int64("quota_bytes", quotaBytes).
		Msg("package storage opened")

	recorder, err := hikelog.NewRecorder(dbPath, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to open hike log")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	defer recorder.Close()
	log.Info().Msg("hike log opened")

	// Initialize device auth for the package API
	signingKey := os.Getenv("PACK_API_SIGNING_KEY")
	if signingKey == "" {
		signingKey = "local-dev-signing-key-change-in-production"
		log.Warn().Msg("using default pack API signing key - not secure for production")
	}

	issuer, err := devauth.NewIssuer(devauth.Config{
		SigningKey: signingKey,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize device auth")
	}
	tokens := devauth.NewTokenSource(issuer, deviceID)
	log.Info().Msg("device auth initialized")

	// Initialize the package manager over the resilient downloader
	downloader := pack.NewHTTPDownloader(pack.DownloaderConfig{
		BaseURL: packBaseURL,
		Tokens:  tokens,
		Logger:  log,
	})
	packs := pack.NewManager(pack.ManagerConfig{Logger: log}, storage, downloader)
	log.Info().
		Str("base_url", packBaseURL).
		Msg("package manager initialized")

	// Assemble the guardian: engines, state machine, orchestrator
	g, err := guardian.New(guardian.Config{
		Logger:   log,
		Sunset:   sunset.New(sunset.Config{Logger: log}),
		OffTrail: offtrail.New(offtrail.Config{Logger: log}),
		Packs:    packs,
		Machine:  fsm.New(fsm.Config{Logger: log}),
		Recorder: recorder,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble guardian")
	}
	if err := g.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start guardian")
	}
	log.Info().Msg("guardian started")

	// Create the loopback bridge for the app shell
	server, err := bridge.New(bridge.Config{
		Addr:     listenAddr,
		Version:  Version,
		Logger:   log,
		Guardian: g,
		Packs:    packs,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create bridge")
	}

	// Start server in goroutine
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("bridge error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	// Graceful shutdown: bridge first so no new commands arrive, then the
	// guardian loop; the deferred closes handle the stores and telemetry.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("bridge forced to shutdown")
	}
	if err := g.Close(); err != nil {
		log.Error().Err(err).Msg("guardian close failed")
	}

	log.Info().Msg("guardian stopped")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return value
}
