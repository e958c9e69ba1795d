package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/api"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/app"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/config"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/ingest"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/jobs"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/observability"
)

func main() {
	cfgPath, err := config.GetConfigPath()
	if err != nil {
		log.Warn().Err(err).Msg("Using default configuration")
		cfgPath = ""
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialise services")
	}

	if cfg.Startup.SourceURL != "" {
		job := a.Service.Submit(ctx, ingest.Request{
			Collection: cfg.Startup.Collection,
			SourceURL:  cfg.Startup.SourceURL,
			Branch:     cfg.Startup.Branch,
		}, jobs.TriggerStartup)
		logger.Info().
			Str("job_id", job.ID).
			Str("collection", job.Collection).
			Str("source", job.Source).
			Msg("Startup ingestion submitted")
	}

	server := api.NewServer(a.Service, a.Engine, a.Tracker,
		api.WithLogger(logger),
		api.WithPing(a.Store.Backend().Ping),
		api.WithDefaultCollection(cfg.Retrieval.DefaultCollection),
	)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to release resources")
	}
	logger.Info().Msg("Server exiting")
}
