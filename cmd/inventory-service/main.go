package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"inventory-service/internal/config"
	handler "inventory-service/internal/http"
	"inventory-service/pkg/appraiser"
	"inventory-service/pkg/client"
	"inventory-service/pkg/locator"
	"inventory-service/pkg/ollama"
	"inventory-service/pkg/openai"
	"inventory-service/pkg/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := newLogger(cfg.Log)

	var visionClient client.VisionClient
	switch cfg.Appraiser.Backend {
	case "ollama":
		visionClient, err = ollama.NewClient(cfg.Appraiser.URL)
	default:
		visionClient, err = openai.NewClient(cfg.Appraiser.URL, cfg.Appraiser.APIKey, cfg.Appraiser.Timeout)
	}
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Appraiser.Backend).Msg("failed to create vision client")
	}

	locatorClient := locator.NewClient(
		cfg.Locator.Endpoint,
		cfg.Locator.APIKey,
		cfg.Locator.Provider,
		cfg.Locator.Timeout,
		log,
	)
	itemAppraiser := appraiser.New(visionClient, cfg.Appraiser.Model)
	pipe := pipeline.New(locatorClient, itemAppraiser, cfg.Pipeline.Workers, log)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(log))
	engine.Use(cors.Default())

	h := handler.NewHandler(pipe, log)
	h.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("request")
	}
}
