// Package main is the entry point of the LearnSphere progress service.
//
// It wires the progress store (PostgreSQL, or an in-memory store for local
// development), the optional Redis cache and event forwarder, the event bus
// with its email and cache handlers, and the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/learnsphere/learnsphere-core/config"
	"github.com/learnsphere/learnsphere-core/internal/application/command"
	"github.com/learnsphere/learnsphere-core/internal/application/eventhandler"
	"github.com/learnsphere/learnsphere-core/internal/application/query"
	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
	"github.com/learnsphere/learnsphere-core/internal/infrastructure/messaging"
	"github.com/learnsphere/learnsphere-core/internal/infrastructure/notify"
	"github.com/learnsphere/learnsphere-core/internal/infrastructure/persistence/memory"
	"github.com/learnsphere/learnsphere-core/internal/infrastructure/persistence/postgres"
	"github.com/learnsphere/learnsphere-core/internal/infrastructure/persistence/redis"
	httpserver "github.com/learnsphere/learnsphere-core/internal/interface/http"
	"github.com/learnsphere/learnsphere-core/internal/interface/http/handlers"
	"github.com/learnsphere/learnsphere-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		Format:    cfg.Observability.LogFormat,
		AddCaller: true,
	})
	defer log.Sync()

	log.Info("starting LearnSphere progress service",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. PROGRESS STORE
	// ─────────────────────────────────────────────────────────────────────────
	var store progress.Store
	if cfg.Database.URL == "" {
		if !cfg.IsDevelopment() {
			return errors.New("DATABASE_URL is required outside development")
		}
		log.Warn("DATABASE_URL not set, using in-memory store")
		store = memory.NewStore()
	} else {
		conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, postgres.PoolConfig{
			MaxConns:          int32(cfg.Database.MaxOpenConns),
			MinConns:          int32(cfg.Database.MaxIdleConns),
			MaxConnLifetime:   cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime:   cfg.Database.ConnMaxIdleTime,
			HealthCheckPeriod: time.Minute,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() {
			log.Info("closing database connection")
			conn.Close()
		}()

		if cfg.Database.AutoMigrate {
			migrator := postgres.NewMigrator(conn)
			if err := migrator.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			if status, err := migrator.Status(ctx); err != nil {
				log.Warn("failed to get migration status", logger.Err(err))
			} else {
				applied := 0
				for _, m := range status {
					if m.IsApplied {
						applied++
					}
				}
				log.Info("migrations completed", logger.Int("applied", applied), logger.Int("total", len(status)))
			}
		}

		store = postgres.NewProgressStore(conn, postgres.StoreOptions{
			TxRetryAttempts: cfg.Database.TxRetryAttempts,
			TxTimeout:       cfg.Database.QueryTimeout,
			Logger:          log,
		})
		health.AddCheck("postgres", handlers.NewPingCheck(conn))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: cfg.Events.WorkerPoolSize,
		Logger:         log,
	})
	bus.Use(messaging.LoggingMiddleware(log))
	defer func() {
		log.Info("closing event bus")
		_ = bus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		progressCache query.ProgressCache
		invalidator   command.CacheInvalidator
	)
	if !cfg.Redis.Disabled {
		cache, err := redis.NewCache(redis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   3,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		switch {
		case err != nil && cfg.Events.Forward:
			return fmt.Errorf("failed to connect to Redis: %w", err)
		case err != nil:
			log.Warn("failed to connect to Redis, caching disabled", logger.Err(err))
		default:
			defer func() { _ = cache.Close() }()

			pc := redis.NewProgressCache(cache, cfg.Redis.ProgressTTL)
			progressCache = pc
			invalidator = pc
			health.AddOptionalCheck("redis", handlers.NewPingCheck(cache))

			if cfg.Events.Forward {
				fwd, err := messaging.NewRedisForwarder(cache.Client(), messaging.RedisForwarderConfig{
					Channel: cfg.Events.Channel,
					Logger:  log,
				})
				if err != nil {
					return fmt.Errorf("failed to create event forwarder: %w", err)
				}
				if err := fwd.Attach(bus); err != nil {
					return fmt.Errorf("failed to attach event forwarder: %w", err)
				}
				defer func() { _ = fwd.Close() }()
			}
			log.Info("Redis connection established", logger.String("address", cfg.Redis.Addr()))
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. NOTIFICATIONS
	// ─────────────────────────────────────────────────────────────────────────
	var notifier notify.Notifier = notify.NewLogNotifier(log)
	if !cfg.Email.Disabled {
		sg, err := notify.NewSendGridNotifier(notify.SendGridConfig{
			APIKey:    cfg.Email.SendGridAPIKey,
			FromEmail: cfg.Email.FromEmail,
			FromName:  cfg.Email.FromName,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create email notifier: %w", err)
		}
		notifier = sg
	}
	if err := eventhandler.NewNotificationHandler(notifier, cfg.Features, log, eventhandler.DefaultNotificationConfig()).Register(bus); err != nil {
		return fmt.Errorf("failed to register notifications: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	services := command.NewServices(progress.ParseEmptyTopicPolicy(cfg.Progress.EmptyTopicPolicy), nil)
	services.Cache = invalidator

	deps := httpserver.Dependencies{
		MarkMaterialCompleted: command.NewMarkMaterialCompletedHandler(store, services, bus, log),
		Enroll:                command.NewEnrollHandler(store, services, bus, log),
		Unenroll:              command.NewUnenrollHandler(store, services, bus, log),
		BulkEnroll: command.NewBulkEnrollHandler(store, services, bus, log, command.BulkEnrollConfig{
			MaxItems:    cfg.Bulk.MaxItems,
			Concurrency: cfg.Bulk.Concurrency,
		}),
		RecordTopicTime:  command.NewRecordTopicTimeHandler(store, services, bus, log),
		RecordSkillScore: command.NewRecordSkillScoreHandler(store, services, bus, log),
		Recompute:        command.NewRecomputeHandler(store, services, bus, log),
		ContactAttendees: command.NewContactAttendeesHandler(store, notifier, log, cfg.Bulk.Concurrency),

		CourseProgress:  query.NewGetCourseProgressHandler(store, progressCache, cfg.Features, log),
		Enrollments:     query.NewEnrollmentQueries(store, progressCache, cfg.Features, log),
		ProgressListing: query.NewProgressListing(store),

		HealthChecker: health,
		Logger:        log,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	httpConfig.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	httpConfig.APIKeys = cfg.HTTP.APIKeys
	httpConfig.Version = cfg.App.Version

	server := httpserver.NewServer(httpConfig, deps)
	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err, ok := <-errCh:
		if ok && err != nil {
			log.Error("http server error", logger.Err(err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
	}

	// Drain in-flight handlers while the cache and database are still open.
	_ = bus.Close()

	log.Info("shutdown completed")
	return nil
}
