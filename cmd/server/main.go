package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/dataclean/cleanctl/internal/api"
	"github.com/dataclean/cleanctl/internal/config"
	"github.com/dataclean/cleanctl/internal/history"
	"github.com/dataclean/cleanctl/internal/log"
	"github.com/dataclean/cleanctl/internal/processing"
	"github.com/dataclean/cleanctl/internal/storage"
	"github.com/dataclean/cleanctl/internal/web"
	"github.com/dataclean/cleanctl/internal/workflow"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cleanctl-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", defaultConfigPath(), "path to the XML or YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log.SetLevel(cfg.Advanced.LogLevel)
	logger := log.GetLogger()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	downloads, err := storage.NewLocalStore(cfg.Storage.DownloadsDirectory, cfg.Storage.EnablePersistence)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	client := processing.NewClient(cfg.Service.BaseURL,
		processing.WithTimeout(cfg.RequestTimeout()),
		processing.WithStatusRateLimit(cfg.Service.StatusRequestsPerSecond, cfg.Service.StatusBurst),
		processing.WithLogger(logger),
	)

	opts := []workflow.Option{workflow.WithLogger(logger)}
	var hist api.HistoryReader
	if cfg.Storage.EnablePersistence {
		store, err := history.Open(cfg.Storage.HistoryDatabase)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer store.Close()
		opts = append(opts, workflow.WithRecorder(store))
		hist = store
	}

	ctrl := workflow.NewController(client, opts...)
	defer ctrl.Close()

	e := echo.New()
	e.HideBanner = true
	api.ShowErrorDetails = cfg.Advanced.LogLevel == "debug"
	api.SetupMiddleware(e, api.MiddlewareConfig{
		RequestLogging: cfg.Advanced.EnableRequestLogging,
		BodyLimit:      cfg.Server.BodyLimit,
		EnableCORS:     cfg.Server.EnableCORS,
		AllowOrigins:   cfg.Server.AllowOrigins,
	})
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Workflow:   ctrl,
		Downloader: client,
		Store:      downloads,
		History:    hist,
		Version:    Version,
		ServiceURL: cfg.Service.BaseURL,
	}))
	if web.HasEmbeddedFiles() {
		if err := web.RegisterStaticRoutes(e); err != nil {
			return fmt.Errorf("failed to register web page: %w", err)
		}
	}

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"config":  *configPath,
		"listen":  cfg.GetServerAddr(),
		"service": cfg.Service.BaseURL,
	}).Info("starting cleanctl server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// defaultConfigPath places the config next to the executable.
func defaultConfigPath() string {
	exePath, err := os.Executable()
	if err != nil {
		return "cleanctl.config.xml"
	}
	return filepath.Join(filepath.Dir(exePath), "cleanctl.config.xml")
}
