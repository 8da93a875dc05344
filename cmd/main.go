/**
 * @description
 * This is the main entry point for the ledger-service. It loads configuration, opens
 * the journal and replays it into the in-memory ledger, connects the optional Redis
 * rate limiter and RabbitMQ producer, wires the application services and serves the
 * HTTP API until it receives SIGINT or SIGTERM.
 *
 * @dependencies
 * - github.com/joho/godotenv: Local .env loading.
 * - github.com/jackc/pgx/v5: PostgreSQL journal driver.
 * - github.com/redis/go-redis/v9: Posting rate limiter backend.
 * - github.com/prometheus/client_golang: Metrics registry and /metrics handler.
 * - github.com/robfig/cron/v3 (via internal/app): Background reconciliation.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/logger, pkg/rabbitmq: Logging and event publishing.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/ledger-service/internal/api"
	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/config"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/logger"
	rmrabbit "github.com/transfa/ledger-service/pkg/rabbitmq"
	"go.uber.org/zap"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "level=fatal component=bootstrap msg=\"config load failed\" err=%v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.AppEnv, cfg.LogLevel)
	defer log.Sync()
	boot := log.With(zap.String("component", "bootstrap"))
	boot.Info("starting ledger-service", zap.String("port", cfg.ServerPort), zap.String("journal_driver", cfg.JournalDriver))

	journal, closeJournalDeps := openJournal(cfg, boot)
	defer closeJournalDeps()

	ledger, err := store.Open(context.Background(), journal, store.Options{
		Logger:      log,
		LockTimeout: cfg.LockTimeout(),
	})
	if err != nil {
		boot.Fatal("ledger replay failed", zap.Error(err))
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			boot.Error("journal close failed", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := app.NewMetrics(registry)

	var rateLimiter app.RateLimiter
	if redisClient := connectRedis(cfg, boot); redisClient != nil {
		defer redisClient.Close()
		rateLimiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	var producer rmrabbit.Publisher = &rmrabbit.EventProducerFallback{Logger: log}
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		boot.Warn("rabbitmq url missing; ledger events disabled", zap.String("env", "RABBITMQ_URL"))
	} else if rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, log); err != nil {
		boot.Warn("rabbitmq producer unavailable; using fallback", zap.Error(err))
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		boot.Info("rabbitmq producer connected")
	}

	poster := app.NewPoster(ledger, producer, log, app.PosterConfig{
		EventsExchange:     cfg.LedgerEventsExchange,
		RateLimiter:        rateLimiter,
		RateLimitPerMinute: cfg.PostingRateLimitPerMinute,
		Metrics:            metrics,
	})
	tellers := app.NewTellerAuth(ledger, cfg.TellerJWTSecret, cfg.TellerTokenTTL(), metrics, log)

	aggregator := app.NewAggregator(ledger, metrics, log)
	scheduler := app.NewScheduler(aggregator, cfg.ReconcileSchedule, log)
	if err := scheduler.Start(); err != nil {
		boot.Fatal("reconciliation schedule invalid", zap.String("schedule", cfg.ReconcileSchedule), zap.Error(err))
	}

	handlers := api.NewHandlers(
		poster,
		app.NewQuery(ledger, metrics, log),
		aggregator,
		app.NewProvisioner(ledger, log),
		tellers,
		log,
	)
	router := api.NewRouter(handlers, api.RouterConfig{
		InternalAPIKey: cfg.InternalAPIKey,
		AllowedOrigins: cfg.AllowedOrigins(),
		Tokens:         tellers,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Logger:         log,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("component", "http"), zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server stopped unexpectedly", zap.String("component", "http"), zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutdown started", zap.String("component", "http"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("shutdown failed", zap.String("component", "http"), zap.Error(err))
	}
	<-scheduler.Stop().Done()

	log.Info("shutdown complete", zap.String("component", "http"))
}

// openJournal selects the journal backend. The returned func releases anything the
// journal borrowed, such as the database pool.
func openJournal(cfg config.Config, boot *zap.Logger) (store.Journal, func()) {
	switch cfg.JournalDriver {
	case config.JournalDriverMemory:
		boot.Warn("memory journal selected; ledger will not survive a restart")
		return store.NewMemoryJournal(), func() {}

	case config.JournalDriverPostgres:
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			boot.Fatal("database url parse failed", zap.Error(err))
		}
		poolConfig.MaxConns = 20
		poolConfig.MinConns = 2
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			boot.Fatal("database connection failed", zap.Error(err))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		journal := store.NewPostgresJournal(dbpool)
		if err := journal.EnsureSchema(ctx); err != nil {
			dbpool.Close()
			boot.Fatal("journal schema setup failed", zap.Error(err))
		}
		boot.Info("database connected")
		return journal, dbpool.Close

	default:
		journal, err := store.OpenFileJournal(cfg.JournalPath)
		if err != nil {
			boot.Fatal("journal open failed", zap.String("path", cfg.JournalPath), zap.Error(err))
		}
		boot.Info("file journal opened", zap.String("path", journal.Path()))
		return journal, func() {}
	}
}

// connectRedis returns nil when rate limiting is disabled or Redis is unreachable.
func connectRedis(cfg config.Config, boot *zap.Logger) *redis.Client {
	if cfg.PostingRateLimitPerMinute <= 0 {
		return nil
	}
	if strings.TrimSpace(cfg.RedisURL) == "" {
		boot.Warn("redis url missing; posting rate limiting disabled", zap.String("env", "REDIS_URL"))
		return nil
	}

	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		boot.Warn("redis url parse failed; posting rate limiting disabled", zap.Error(err))
		return nil
	}
	client := redis.NewClient(redisOptions)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		boot.Warn("redis ping failed; posting rate limiting disabled", zap.Error(err))
		client.Close()
		return nil
	}
	boot.Info("redis connected")
	return client
}
