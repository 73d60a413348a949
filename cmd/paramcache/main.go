package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/agatticelli/ssm-parameter-cache/internal/app"
	"github.com/agatticelli/ssm-parameter-cache/internal/platform/config"
	"github.com/agatticelli/ssm-parameter-cache/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./config/config.yaml or ./config.yaml)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Println("Loading configuration...")
	cfg := config.MustLoad(*configPath)

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start parameter cache: %v", err)
	}
	logger := application.Logger

	if _, err := application.Warmup(ctx); err != nil {
		logger.LogError(ctx, "warmup failed", err)
		_ = application.Close(context.Background())
		os.Exit(1)
	}

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: server.NewHandler(server.Config{
			Cache:   application.Cache,
			Logger:  logger,
			Metrics: application.Metrics,
			Ready:   application.Ready,
		}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, gracefully stopping...")
	case err := <-errCh:
		logger.LogError(ctx, "HTTP server error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, "HTTP server shutdown failed", err)
	}
	if err := application.Close(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, "failed to release resources", err)
	}
	logger.Info("parameter cache stopped")
}
