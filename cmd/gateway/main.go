// Package main runs the finance-layer gateway: the HTTP control plane for
// payment settlement, approval authorization and ledger verification.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/liftdao/finance-layer/internal/app"
	"github.com/liftdao/finance-layer/internal/app/httpapi"
	"github.com/liftdao/finance-layer/internal/app/metrics"
	authzsvc "github.com/liftdao/finance-layer/internal/app/services/authz"
	"github.com/liftdao/finance-layer/internal/app/storage/postgres"
	"github.com/liftdao/finance-layer/internal/config"
	"github.com/liftdao/finance-layer/internal/escrow"
	"github.com/liftdao/finance-layer/internal/platform/migrations"
	"github.com/liftdao/finance-layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	flag.Parse()

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	}).WithField("service", "gateway")

	if err := run(cfg, log); err != nil {
		log.Fatalf("gateway exited: %v", err)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var stores app.Stores
	if cfg.Database.DSN != "" {
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		if err := migrations.Apply(ctx, db); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		log.WithField("migrations", migrations.Count()).Info("database ready")

		store := postgres.New(db)
		stores = app.Stores{Payments: store, Roles: store, Ledger: store}
	} else {
		log.Warn("no database configured; using in-memory stores")
	}

	var roleCache authzsvc.RoleCache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		roleCache = authzsvc.NewRedisCache(client, authzsvc.DefaultCacheTTL, log)
		log.WithField("addr", cfg.Redis.Addr).Info("redis role cache enabled")
	}

	var gateway escrow.Gateway
	if cfg.Escrow.RPCURL != "" {
		client, err := escrow.NewClient(escrow.Config{
			RPCURL:            cfg.Escrow.RPCURL,
			Timeout:           cfg.Escrow.Timeout,
			RequestsPerSecond: cfg.Escrow.RequestsPerSecond,
		})
		if err != nil {
			return fmt.Errorf("escrow gateway: %w", err)
		}
		gateway = client
	}

	application, err := app.New(stores, gateway, app.Options{
		SupportedChains: cfg.Payments.SupportedChains,
		RoleCache:       roleCache,
		SweepSchedule:   cfg.Ledger.SweepSchedule,
	}, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if application.Sweeper != nil {
		for _, projectID := range cfg.Ledger.SweepProjects {
			application.Sweeper.Watch(projectID)
		}
	}

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Stop(shutdownCtx); err != nil {
			log.WithError(err).Error("stop application")
		}
	}()

	var sink httpapi.AuditSink
	if cfg.Logging.FilePrefix != "" {
		fileSink, err := httpapi.NewFileAuditSink(cfg.Logging.FilePrefix + "-audit.jsonl")
		if err != nil {
			return fmt.Errorf("open audit sink: %w", err)
		}
		sink = fileSink
	}
	audit := httpapi.NewAuditLog(200, sink)
	api := httpapi.WrapWithAuth(httpapi.NewHandler(application), cfg.Auth.Tokens, audit)

	mux := http.NewServeMux()
	mux.Handle("/", api)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      metrics.InstrumentHandler(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("gateway listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}
