/**
 * @description
 * This is the main entry point for the wallet-service. It loads configuration, connects
 * the store, the message broker and Redis, builds the application services, and starts
 * the HTTP server, the outbox dispatcher, the credit consumer and the cron scheduler. It
 * stops all of them on SIGINT/SIGTERM.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: rate limiter backend.
 * - github.com/joho/godotenv: local .env loading.
 * - github.com/sirupsen/logrus: structured logging.
 * - internal/*, pkg/rabbitmq: the service packages.
 */

package main

import (
	"context"
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
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/transfa/wallet-service/internal/api"
	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/config"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/logging"
	"github.com/transfa/wallet-service/internal/metrics"
	"github.com/transfa/wallet-service/internal/store"
	rmrabbit "github.com/transfa/wallet-service/pkg/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).WithField("component", "bootstrap").Warn("failed to load .env file")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logrus.WithError(err).WithField("component", "bootstrap").Fatal("config load failed")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	bootLog := logging.Component(logger, "bootstrap")
	metrics.Init()

	bootLog.WithFields(logrus.Fields{"port": cfg.ServerPort, "storage_driver": cfg.StorageDriver}).Info("starting wallet-service")

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	var repository store.Repository
	switch cfg.StorageDriver {
	case "memory":
		bootLog.Warn("using in-memory storage; data is lost on restart")
		repository = store.NewMemoryRepository()
	default:
		dbpool := connectPostgres(rootCtx, cfg, bootLog)
		defer dbpool.Close()
		pgRepo := store.NewPostgresRepository(dbpool)
		pgRepo.SetLockTimeout(time.Duration(cfg.StoreLockTimeoutMS) * time.Millisecond)
		repository = pgRepo
	}

	var publisher rmrabbit.Publisher = &rmrabbit.EventProducerFallback{Log: logging.Component(logger, "rabbitmq")}
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		bootLog.Warn("rabbitmq url missing; notifications will be logged only")
	} else if producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, logger); err != nil {
		bootLog.WithError(err).Warn("rabbitmq producer unavailable; using fallback")
	} else {
		publisher = producer
		bootLog.Info("rabbitmq producer connected")
	}
	defer publisher.Close()

	redisClient := connectRedis(rootCtx, cfg, bootLog)
	if redisClient != nil {
		defer redisClient.Close()
	}

	walletService := app.NewWalletService(repository, logger)
	walletService.SetMaxAttempts(cfg.StoreMaxAttempts)
	withdrawalService := app.NewWithdrawalService(repository, walletService, logger)
	withdrawalService.SetMaxAttempts(cfg.StoreMaxAttempts)
	if redisClient != nil {
		withdrawalService.SetRateLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix, cfg.WithdrawalCreateRateLimitPerMinute))
	}
	bankProfileService := app.NewBankProfileService(repository, logger)
	bankProfileService.SetMaxAttempts(cfg.StoreMaxAttempts)

	notifier := app.NewBrokerNotifier(publisher, cfg.NotificationExchange, cfg.AdminHolderIDs, logger)
	dispatcher := app.NewOutboxDispatcher(repository, notifier, logger)
	dispatcher.Configure(cfg.OutboxBatchSize, time.Duration(cfg.OutboxPollIntervalMS)*time.Millisecond)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(rootCtx)
	}()

	var rabbitConsumer *rmrabbit.Consumer
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		rabbitConsumer, err = rmrabbit.NewConsumer(cfg.RabbitMQURL, logger)
		if err != nil {
			bootLog.WithError(err).Fatal("rabbitmq consumer init failed")
		}

		creditConsumer := app.NewCreditConsumer(walletService, logger)
		bindings := map[string]rmrabbit.Handler{
			domain.EventWalletCreditRequested: creditConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(cfg.CreditEventExchange, cfg.CreditEventQueue, bindings); err != nil {
			bootLog.WithError(err).Fatal("credit consumer start failed")
		}
	}

	jobs := app.NewJobs(repository, time.Duration(cfg.OutboxRetentionHours)*time.Hour, logger)
	scheduler := app.NewScheduler(jobs, logger, cfg.ReconcileSchedule, cfg.OutboxPurgeSchedule)
	bootLog.WithField("jobs", scheduler.Start()).Info("scheduler started")

	if cfg.JWTSecret == "" && cfg.JWKSURL == "" {
		bootLog.Warn("neither JWT_SECRET nor JWKS_URL is set; every bearer token will be rejected")
	}
	if cfg.InternalAPIKey == "" {
		bootLog.Warn("INTERNAL_API_KEY is not set; internal wallet routes are disabled")
	}
	authenticator := api.NewAuthenticator(api.AuthConfig{
		JWTSecret: cfg.JWTSecret,
		JWKSURL:   cfg.JWKSURL,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
	})
	handlers := api.NewHandlers(walletService, withdrawalService, bankProfileService, logger)
	router := api.Routes(handlers, api.RouterConfig{
		Auth:           authenticator.Middleware,
		InternalAPIKey: cfg.InternalAPIKey,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpLog := logging.Component(logger, "http")
	go func() {
		httpLog.WithField("addr", serverAddr).Info("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpLog.WithError(err).Fatal("server stopped unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	httpLog.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		httpLog.WithError(err).Error("shutdown failed")
	}

	cancelRoot()
	<-dispatcherDone
	if rabbitConsumer != nil {
		rabbitConsumer.Close()
		select {
		case <-rabbitConsumer.Done():
		case <-ctx.Done():
			bootLog.Warn("credit consumer still draining at shutdown")
		}
	}
	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		bootLog.Warn("scheduler jobs still running at shutdown")
	}

	httpLog.Info("shutdown complete")
}

func connectPostgres(ctx context.Context, cfg config.Config, log logrus.FieldLogger) *pgxpool.Pool {
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL must be set for the postgres storage driver")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database url parse failed")
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		log.WithError(err).Fatal("database ping failed")
	}
	log.Info("database connected")

	if cfg.AutoMigrate {
		if err := store.ApplySchema(ctx, dbpool); err != nil {
			log.WithError(err).Fatal("schema migration failed")
		}
		log.Info("schema applied")
	}
	return dbpool
}

// connectRedis returns nil when rate limiting is disabled or Redis is unreachable.
func connectRedis(ctx context.Context, cfg config.Config, log logrus.FieldLogger) *redis.Client {
	if cfg.WithdrawalCreateRateLimitPerMinute <= 0 {
		return nil
	}
	if cfg.RedisURL == "" {
		log.Warn("redis url missing; withdrawal rate limiting disabled")
		return nil
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Warn("redis url parse failed; withdrawal rate limiting disabled")
		return nil
	}

	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("redis ping failed; withdrawal rate limiting disabled")
		client.Close()
		return nil
	}
	log.Info("redis connected")
	return client
}
