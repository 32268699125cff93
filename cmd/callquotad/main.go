// Command callquotad serves the per-visitor call quota tracker over HTTP: the
// availability and recording endpoints used by the call-initiation flow, plus
// the secret-gated administrative surface.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ajiwo/callquota"
	"github.com/ajiwo/callquota/backends"
	"github.com/ajiwo/callquota/backends/memory"
	"github.com/ajiwo/callquota/backends/postgres"
	"github.com/ajiwo/callquota/backends/redis"
	"github.com/ajiwo/callquota/exemption"
	"github.com/ajiwo/callquota/httpapi"
	"github.com/ajiwo/callquota/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err, "path", *configPath)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	backend, err := newBackend(cfg)
	if err != nil {
		logger.Error("failed to create storage backend", "type", cfg.Storage.Type, "error", err)
		os.Exit(1)
	}

	tracker, err := callquota.New(
		callquota.WithBackend(backend),
		callquota.WithBaseKey(cfg.BaseKey),
		callquota.WithPolicy(callquota.Policy{
			Unit: callquota.Unit(cfg.Policy.Unit),
			Max:  cfg.Policy.Max,
		}),
		callquota.WithOpTimeout(cfg.OpTimeout),
		callquota.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to create quota tracker", "error", err)
		os.Exit(1)
	}

	registry := exemption.New(backend, cfg.BaseKey,
		exemption.WithTTL(cfg.Exemption.TTL),
		exemption.WithLogger(logger),
	)
	registry.Start()

	if cfg.AdminSecret == "" {
		logger.Warn("no administrative secret configured, admin endpoints will refuse all calls")
	}

	mux := http.NewServeMux()
	handler := httpapi.NewHandler(tracker, registry, cfg.AdminSecret, logger)
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening",
			"address", cfg.ListenAddress,
			"storage", cfg.Storage.Type,
			"policy_unit", cfg.Policy.Unit,
			"policy_max", cfg.Policy.Max,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	registry.Stop()
	if err := tracker.Close(); err != nil {
		logger.Error("tracker close failed", "error", err)
	}

	logger.Info("stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func newBackend(cfg *config.Config) (backends.Backend, error) {
	switch cfg.Storage.Type {
	case "redis":
		return backends.Create("redis", redis.Config{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			PoolSize: cfg.Storage.Redis.PoolSize,
		})
	case "postgres":
		return backends.Create("postgres", postgres.Config{
			ConnString: cfg.Storage.Postgres.ConnString,
			MaxConns:   cfg.Storage.Postgres.MaxConns,
			MinConns:   cfg.Storage.Postgres.MinConns,
		})
	default:
		return memory.New(), nil
	}
}
