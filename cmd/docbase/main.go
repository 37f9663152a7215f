package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docbase"
	"github.com/kailas-cloud/docbase/internal/config"
	logpkg "github.com/kailas-cloud/docbase/internal/logger"
	"github.com/kailas-cloud/docbase/internal/metrics"
	chiTransport "github.com/kailas-cloud/docbase/internal/transport/chi"
	healthuc "github.com/kailas-cloud/docbase/internal/usecase/health"
	"github.com/kailas-cloud/docbase/internal/version"
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

	logger.Info("Starting docbase admin server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("database", cfg.Database.Database),
		zap.String("namespace", cfg.Database.Namespace),
		zap.String("cache_driver", cfg.Cache.Driver),
	)

	ctx := context.Background()
	client, err := docbase.Open(ctx, clientOptions(cfg, logger)...)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer client.Close()
	logger.Info("Connected to database")

	// Register HTTP metrics explicitly (no init())
	httpMetrics := metrics.NewHTTP()
	if err := httpMetrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Fatal("Failed to register HTTP metrics", zap.Error(err))
	}

	healthSvc := healthuc.New(client, client, client.CachePinger()).
		WithTimeout(cfg.Database.Timeout())

	server := chiTransport.NewServer(client, healthSvc, prometheus.DefaultGatherer, logger)

	r := chi.NewRouter()
	r.Use(chiTransport.JSONRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiTransport.WideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(httpMetrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

// clientOptions translates the file configuration into client options.
func clientOptions(cfg config.Config, logger *zap.Logger) []docbase.Option {
	db := cfg.Database
	opts := []docbase.Option{
		docbase.WithLogger(logger),
		docbase.WithMetrics(prometheus.DefaultRegisterer),
		docbase.WithDatabase(db.Database),
		docbase.WithNamespace(db.Namespace),
		docbase.WithReadinessTimeout(time.Duration(db.ReadinessTimeout) * time.Second),
		docbase.WithTimeout(db.Timeout()),
	}

	switch db.Driver {
	case config.DriverMemory:
		opts = append(opts, docbase.WithMemory())
	default:
		opts = append(opts,
			docbase.WithPostgres(db.DSN),
			docbase.WithPool(db.MaxOpenConns, db.MaxIdleConns, db.ConnMaxLifetime()),
		)
	}
	if db.SharedTables {
		opts = append(opts, docbase.WithSharedTables())
	}
	if db.Tenant != nil {
		opts = append(opts, docbase.WithTenant(*db.Tenant))
	}

	switch cfg.Cache.Driver {
	case config.DriverMemory:
		opts = append(opts, docbase.WithMemoryCache(cfg.Cache.TTL()))
	case config.DriverRedis:
		opts = append(opts, docbase.WithRedisCache(cfg.Cache.Addrs, cfg.Cache.Password, cfg.Cache.TTL()))
	}

	if cfg.Security.EncryptionKey != "" {
		opts = append(opts, docbase.WithEncryptionKey(cfg.Security.EncryptionKey))
	}
	return opts
}
