// Package main provides the entry point for the popularity worker.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"
	"gorm.io/gorm/logger"

	"github.com/thebtf/lesson-popularity/internal/config"
	"github.com/thebtf/lesson-popularity/internal/db/gorm"
	"github.com/thebtf/lesson-popularity/internal/scheduler"
	"github.com/thebtf/lesson-popularity/internal/scoring"
	"github.com/thebtf/lesson-popularity/internal/worker"
)

var Version = "dev"

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogging(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	log.Info().
		Str("version", Version).
		Str("schedule", cfg.ScheduleTime).
		Str("timezone", cfg.Timezone).
		Msg("Starting popularity worker")

	store, err := gorm.NewStore(gorm.Config{
		DSN:      cfg.DatabaseDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: gormLogLevel(cfg.DBLogLevel),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	popularity := gorm.NewPopularityStore(store, cfg.StagingBatchSize)
	pipeline := scoring.NewPipeline(popularity, scoring.NewCalculator(cfg.Scoring), log.Logger, scoring.PipelineOptions{
		PhaseTimeout: cfg.PhaseTimeout,
	})

	sched, err := scheduler.New(pipeline, scheduler.Config{
		Location:     cfg.Location(),
		TimeOfDay:    cfg.ScheduleTime,
		RunOnStartup: cfg.RunOnStartup,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}

	api := worker.NewService(worker.Options{
		Pipeline: pipeline,
		Lessons:  popularity,
		Database: store,
		Schedule: sched,
		Logger:   log.Logger,
		Version:  Version,
		Port:     cfg.HTTPPort,
	})

	root := suture.New("popularity-worker", suture.Spec{
		EventHook: func(e suture.Event) {
			log.Warn().Fields(e.Map()).Msg(e.String())
		},
		Timeout: 30 * time.Second,
	})
	root.Add(sched)
	root.Add(api)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Supervisor stopped with error")
	}

	log.Info().Msg("Worker shutdown complete")
}

// setupLogging configures the global zerolog logger from config.
func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

// gormLogLevel maps the configured database log level to GORM's.
func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
