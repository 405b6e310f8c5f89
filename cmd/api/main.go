package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"dubber/internal/adapter/repo"
	"dubber/internal/events"
	"dubber/internal/http/handlers"
	httpapi "dubber/internal/http/httpapi"
	"dubber/internal/infra"
	"dubber/internal/pipeline"
	"dubber/internal/storage"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg, "dubber-api")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare storage")
	}

	runner := infra.NewSQLRunner(dbpool, logger)
	store := repo.NewPipelineStore(runner)
	bus := events.NewBus(0)

	// The API never runs stages; it only records intent for the worker.
	orch := pipeline.New(pipeline.Options{
		Jobs:      store,
		Artifacts: store,
		Files:     files,
		Events:    bus,
		WorkDir:   cfg.WorkDir,
		Logger:    &logger,
	})

	if cfg.RedisURL != "" {
		client, err := events.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure redis")
		}
		defer client.Close()
		go func() {
			if err := events.Relay(ctx, client, events.DefaultChannel, bus, &logger); err != nil {
				logger.Error().Err(err).Msg("event relay stopped")
			}
		}()
	} else {
		logger.Warn().Msg("REDIS_URL not set; job events only cover API-side transitions")
	}

	app := handlers.NewApp(orch, bus, logger)
	app.Ready = runner.Ping
	router := httpapi.NewRouter(app, logger, httpapi.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit:      cfg.APIRateLimit,
	})
	server := infra.NewHTTPServer(cfg, router)

	logger.Info().Msgf("API listening on %s", server.Addr())
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("http server failed")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}
