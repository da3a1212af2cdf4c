/**
 * @description
 * This package handles the configuration management for the wallet service. It uses the
 * Viper library to read configuration from environment variables and an optional .env
 * file, then normalises and clamps the values the rest of the service relies on.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - github.com/sirupsen/logrus: warnings for coerced values.
 */

package config

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the wallet-service.
type Config struct {
	ServerPort                         string `mapstructure:"SERVER_PORT"`
	DatabaseURL                        string `mapstructure:"DATABASE_URL"`
	StorageDriver                      string `mapstructure:"STORAGE_DRIVER"`
	AutoMigrate                        bool   `mapstructure:"AUTO_MIGRATE"`
	StoreLockTimeoutMS                 int    `mapstructure:"STORE_LOCK_TIMEOUT_MS"`
	StoreMaxAttempts                   int    `mapstructure:"STORE_MAX_ATTEMPTS"`
	RedisURL                           string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix               string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	WithdrawalCreateRateLimitPerMinute int    `mapstructure:"WITHDRAWAL_CREATE_RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL                        string `mapstructure:"RABBITMQ_URL"`
	NotificationExchange               string `mapstructure:"NOTIFICATION_EXCHANGE"`
	CreditEventExchange                string `mapstructure:"CREDIT_EVENT_EXCHANGE"`
	CreditEventQueue                   string `mapstructure:"CREDIT_EVENT_QUEUE"`
	JWTSecret                          string `mapstructure:"JWT_SECRET"`
	JWKSURL                            string `mapstructure:"JWKS_URL"`
	JWTIssuer                          string `mapstructure:"JWT_ISSUER"`
	JWTAudience                        string `mapstructure:"JWT_AUDIENCE"`
	InternalAPIKey                     string `mapstructure:"INTERNAL_API_KEY"`
	AdminHolderIDsRaw                  string `mapstructure:"ADMIN_HOLDER_IDS"`
	CORSAllowedOriginsRaw              string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel                           string `mapstructure:"LOG_LEVEL"`
	LogFormat                          string `mapstructure:"LOG_FORMAT"`
	OutboxPollIntervalMS               int    `mapstructure:"OUTBOX_POLL_INTERVAL_MS"`
	OutboxBatchSize                    int    `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxRetentionHours               int    `mapstructure:"OUTBOX_RETENTION_HOURS"`
	ReconcileSchedule                  string `mapstructure:"RECONCILE_SCHEDULE"`
	OutboxPurgeSchedule                string `mapstructure:"OUTBOX_PURGE_SCHEDULE"`

	AdminHolderIDs     []string `mapstructure:"-"`
	CORSAllowedOrigins []string `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables and an optional .env file
// under path.
func LoadConfig(path string) (config Config, err error) {
	log := logrus.WithField("component", "config")

	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORAGE_DRIVER", "postgres")
	viper.SetDefault("AUTO_MIGRATE", false)
	viper.SetDefault("STORE_LOCK_TIMEOUT_MS", 5000)
	viper.SetDefault("STORE_MAX_ATTEMPTS", 3)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "wallet:rate_limit")
	viper.SetDefault("WITHDRAWAL_CREATE_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("NOTIFICATION_EXCHANGE", "wallet_notifications")
	viper.SetDefault("CREDIT_EVENT_EXCHANGE", "wallet_events")
	viper.SetDefault("CREDIT_EVENT_QUEUE", "wallet_service.credit_requests")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("OUTBOX_POLL_INTERVAL_MS", 1200)
	viper.SetDefault("OUTBOX_BATCH_SIZE", 50)
	viper.SetDefault("OUTBOX_RETENTION_HOURS", 168)
	viper.SetDefault("RECONCILE_SCHEDULE", "@every 15m")
	viper.SetDefault("OUTBOX_PURGE_SCHEDULE", "@daily")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL", "DATABASE_URL", "WALLET_DATABASE_URL")
	_ = viper.BindEnv("STORAGE_DRIVER")
	_ = viper.BindEnv("AUTO_MIGRATE")
	_ = viper.BindEnv("STORE_LOCK_TIMEOUT_MS")
	_ = viper.BindEnv("STORE_MAX_ATTEMPTS")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "WALLET_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("WITHDRAWAL_CREATE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("NOTIFICATION_EXCHANGE")
	_ = viper.BindEnv("CREDIT_EVENT_EXCHANGE")
	_ = viper.BindEnv("CREDIT_EVENT_QUEUE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("JWT_AUDIENCE")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "WALLET_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("ADMIN_HOLDER_IDS")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("LOG_FORMAT")
	_ = viper.BindEnv("OUTBOX_POLL_INTERVAL_MS")
	_ = viper.BindEnv("OUTBOX_BATCH_SIZE")
	_ = viper.BindEnv("OUTBOX_RETENTION_HOURS")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("OUTBOX_PURGE_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.WithError(err).Warn("failed to read config file; using environment values")
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "wallet:rate_limit"
	}

	config.StorageDriver = strings.ToLower(strings.TrimSpace(config.StorageDriver))
	switch config.StorageDriver {
	case "postgres", "memory":
	default:
		log.WithField("storage_driver", config.StorageDriver).Warn("unknown storage driver; falling back to postgres")
		config.StorageDriver = "postgres"
	}

	if config.StoreLockTimeoutMS < 0 {
		log.WithField("lock_timeout_ms", config.StoreLockTimeoutMS).Warn("negative lock timeout configured; disabling")
		config.StoreLockTimeoutMS = 0
	}
	if config.StoreMaxAttempts <= 0 {
		config.StoreMaxAttempts = 3
	}
	if config.StoreMaxAttempts > 10 {
		log.WithField("max_attempts", config.StoreMaxAttempts).Warn("store max attempts too high; capping at 10")
		config.StoreMaxAttempts = 10
	}
	if config.WithdrawalCreateRateLimitPerMinute < 0 {
		config.WithdrawalCreateRateLimitPerMinute = 0
	}
	if config.OutboxPollIntervalMS < 100 {
		config.OutboxPollIntervalMS = 1200
	}
	if config.OutboxBatchSize <= 0 {
		config.OutboxBatchSize = 50
	}
	if config.OutboxBatchSize > 500 {
		log.WithField("batch_size", config.OutboxBatchSize).Warn("outbox batch size too high; capping at 500")
		config.OutboxBatchSize = 500
	}
	if config.OutboxRetentionHours <= 0 {
		config.OutboxRetentionHours = 168
	}

	config.AdminHolderIDs = splitList(config.AdminHolderIDsRaw)
	config.CORSAllowedOrigins = splitList(config.CORSAllowedOriginsRaw)
	if len(config.CORSAllowedOrigins) == 0 {
		config.CORSAllowedOrigins = []string{"*"}
	}

	return
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
