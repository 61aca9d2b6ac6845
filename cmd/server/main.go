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

	"github.com/gin-gonic/gin"

	"sitemap-ingestor/internal/bootstrap"
	"sitemap-ingestor/internal/config"
	"sitemap-ingestor/internal/server"
	"sitemap-ingestor/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runs := server.NewRuns()
	app, err := bootstrap.New(ctx, cfg, bootstrap.WithProgress(runs.Progress))
	if err != nil {
		return err
	}
	defer app.Close()
	l := app.Logger

	deps := server.Deps{
		Ingester:          app.Service,
		Searcher:          app.Collection,
		Runs:              runs,
		Gatherer:          app.Registry,
		Logger:            l,
		DefaultSitemapURL: cfg.Server.SitemapURL,
		DefaultMaxURLs:    cfg.Server.MaxURLs,
	}
	if article, err := app.Article(); err != nil {
		l.Warn("Article generation disabled", logger.Error(err))
	} else {
		deps.Articles = article
	}
	svc := server.New(ctx, deps)

	if cfg.Server.Schedule != "" {
		if cfg.Server.SitemapURL == "" {
			return errors.New("server.schedule requires server.sitemap_url")
		}
		c, err := svc.Schedule(cfg.Server.Schedule, cfg.Server.SitemapURL, cfg.Server.MaxURLs)
		if err != nil {
			return err
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		l.Info("Scheduled ingestion enabled", logger.String("schedule", cfg.Server.Schedule))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      svc.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("Server listening", logger.String("addr", cfg.Server.Address))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		l.Info("Shutdown signal received", logger.String("signal", sig.String()))
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error("Failed to stop server", logger.Error(err))
	}
	cancel()
	svc.Wait()
	l.Info("Server stopped")
	return nil
}
