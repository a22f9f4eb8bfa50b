package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"intruder-sentry-go/internal/config"
	"intruder-sentry-go/internal/logging"
	"intruder-sentry-go/internal/pipeline"
	"intruder-sentry-go/internal/services/detection"
	"intruder-sentry-go/internal/services/dispatch"
	"intruder-sentry-go/internal/services/messaging"
	"intruder-sentry-go/internal/services/postprocessing"
	"intruder-sentry-go/internal/services/streamcapture"
	"intruder-sentry-go/internal/store"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration once; collaborators receive it explicitly
	cfg := config.Load()

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogdyEnabled {
		if w, err := logging.StartLogdy(cfg); err == nil {
			log.Logger = log.Output(io.MultiWriter(zerolog.ConsoleWriter{Out: os.Stderr}, w))
		} else {
			log.Warn().Err(err).Msg("Failed to start Logdy, continuing without it")
		}
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Str("video_url", cfg.VideoURL).
		Str("category", cfg.AlertCategory).
		Float64("threshold", cfg.ConfidenceThreshold).
		Msg("Starting intruder sentry")

	// Detection weights are loaded exactly once, here
	detector, err := detection.NewAdapter(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize detection adapter")
	}
	defer detector.Close()

	eventStore, err := store.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect durable store")
	}
	defer eventStore.Close()

	// The NATS mirror is best effort; the mail channel works without it
	var bus dispatch.BusPublisher
	if cfg.NatsEnabled {
		msgSvc, err := messaging.NewService(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, alerts will not be mirrored")
		} else {
			bus = msgSvc
			defer msgSvc.Shutdown(context.Background())
		}
	}

	controller := pipeline.New(
		cfg,
		streamcapture.NewSource(cfg),
		detector,
		postprocessing.NewFilter(cfg.AlertCategory, cfg.ConfidenceThreshold, cfg.Location()),
		postprocessing.NewGate(cfg.AlertCooldown),
		dispatch.NewService(cfg, bus),
		eventStore,
	)

	// Cancel the pipeline on SIGINT/SIGTERM; it observes cancellation at the
	// top of each iteration
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := controller.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Pipeline terminated")
	}

	log.Info().Msg("Shutdown complete")
}
