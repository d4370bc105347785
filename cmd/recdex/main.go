package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recdex/internal/app"
	"github.com/kailas-cloud/recdex/internal/config"
	logpkg "github.com/kailas-cloud/recdex/internal/logger"
	"github.com/kailas-cloud/recdex/internal/repository/source"
	chiTransport "github.com/kailas-cloud/recdex/internal/transport/chi"
	healthuc "github.com/kailas-cloud/recdex/internal/usecase/health"
	recommenduc "github.com/kailas-cloud/recdex/internal/usecase/recommend"
	suggestuc "github.com/kailas-cloud/recdex/internal/usecase/suggest"
	"github.com/kailas-cloud/recdex/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting recdex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("collection", cfg.Index.Collection),
	)

	deps, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer deps.Close()

	// Listings are read once; a missing file serves an empty list
	listings := source.New(cfg.Ingest.DataDir, logger).Listings()

	recommendSvc := recommenduc.New(deps.Catalog, deps.QueryEmbedder, recommenduc.Config{
		TopK:       cfg.Recommend.TopK,
		CandidateK: cfg.Recommend.CandidateK,
		PageSize:   cfg.Recommend.PageSize,
	}, logger)
	suggestSvc := suggestuc.New(deps.Catalog, cfg.Suggest.Keywords, logger)
	healthSvc := healthuc.New(deps.Store, deps.Catalog, deps.Provider)

	server := chiTransport.NewServer(recommendSvc, suggestSvc, healthSvc, listings, chiTransport.Config{
		RecommendTimeout: cfg.HTTP.RecommendTimeout(),
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      chiTransport.NewRouter(server, logger),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}
