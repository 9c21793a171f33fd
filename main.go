package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dataplane-io/dataplane-engine/pkg/adapters/datasource"
	_ "github.com/dataplane-io/dataplane-engine/pkg/adapters/datasource/mssql"
	_ "github.com/dataplane-io/dataplane-engine/pkg/adapters/datasource/postgres"
	"github.com/dataplane-io/dataplane-engine/pkg/config"
	"github.com/dataplane-io/dataplane-engine/pkg/logging"
	"github.com/dataplane-io/dataplane-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("datasource_type", cfg.Datasource.Type),
		zap.String("datasource", fmt.Sprintf("%s@%s:%d/%s",
			cfg.Datasource.User, cfg.Datasource.Host, cfg.Datasource.Port, cfg.Datasource.Database)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	executor, err := datasource.NewExecutor(ctx, cfg.Datasource)
	if err != nil {
		logger.Fatal("failed to connect datasource",
			zap.String("type", cfg.Datasource.Type),
			zap.String("error", logging.SanitizeError(err)))
	}
	defer executor.Close()

	store := services.NewPermissionStore()
	registry := services.NewMetadataRegistry(cfg.Query.DefaultPageSize, logger)
	cache := services.NewQueryCache(cfg.Cache, logger)

	if cfg.SeedPath != "" {
		if err := services.LoadSeed(cfg.SeedPath, store, registry, logger); err != nil {
			logger.Fatal("failed to load seed data", zap.String("path", cfg.SeedPath), zap.Error(err))
		}
	}

	perms := services.NewPermissionService(store, logger)
	engine := services.NewQueryEngine(executor, perms, cache, registry, cfg.Query, cfg.Cache, logger)
	asyncSvc := services.NewAsyncQueryService(engine, perms, cache, registry, cfg.Query.WorkerCount, logger)
	defer asyncSvc.Shutdown()

	if interval := cfg.Cache.CleanupIntervalMinutes; interval > 0 {
		cache.StartCleanup(ctx, time.Duration(interval)*time.Minute)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":%q}`, cfg.Version)
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		logger.Info("starting dataplane-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
