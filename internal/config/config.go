// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config is the full application configuration.
type Config struct {
	App         AppConfig
	MySQL       MySQLConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	JWT         JWTConfig
	Jaeger      JaegerConfig
	GRPC        GRPCConfig
	Metrics     MetricsConfig
	PSP         PSPConfig
	Fraud       FraudConfig
	Breaker     BreakerConfig
	Retry       RetryConfig
	Idempotency IdempotencyConfig
	TLS         TLSConfig
	Vault       VaultConfig
	Webhook     WebhookConfig
	Settlement  SettlementConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"acquiring-gateway"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr  string `env:"APP_HTTP_ADDR" envDefault:":8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// MySQLConfig holds MySQL connection settings.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"root"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"acquiring_gateway"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN returns the MySQL connection string.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr returns the Redis server address.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig holds Kafka connection settings.
type KafkaConfig struct {
	Brokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	ConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"acquiring-gateway"`
}

// JWTConfig holds merchant-session JWT settings (RS256).
// PrivateKeyPath is only needed by the process that mints sessions.
// PublicKeyPath is required everywhere tokens are validated.
type JWTConfig struct {
	PrivateKeyPath  string        `env:"JWT_PRIVATE_KEY_PATH"`
	PublicKeyPath   string        `env:"JWT_PUBLIC_KEY_PATH,required"`
	Issuer          string        `env:"JWT_ISSUER" envDefault:"acquiring-gateway"`
	AccessTokenTTL  time.Duration `env:"JWT_ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"JWT_REFRESH_TOKEN_TTL" envDefault:"168h"`
}

// JaegerConfig holds distributed tracing export settings.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"true"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"`
}

// OTLPEndpoint returns the OTLP gRPC endpoint.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// GRPCConfig holds the internal authorization-worker gRPC transport settings.
type GRPCConfig struct {
	Addr string `env:"GRPC_ADDR" envDefault:":9091"`
}

// MetricsConfig holds Prometheus metrics server settings.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

// Addr returns the metrics HTTP listen address.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// PSPConfig holds acquirer/PSP routing credentials and priority order.
// Each entry in Names is a sandbox PSP target key; priority is left-to-right.
type PSPConfig struct {
	Names          []string `env:"PSP_NAMES" envDefault:"sandbox-primary,sandbox-secondary" envSeparator:","`
	APIKeys        []string `env:"PSP_API_KEYS" envSeparator:","`
	TimeoutPerCall time.Duration `env:"PSP_CALL_TIMEOUT" envDefault:"8s"`
}

// FraudConfig holds rule-based fraud scoring thresholds and the degraded
// fallback behavior used when the scoring collaborator is unavailable.
type FraudConfig struct {
	DeclineScoreThreshold   int           `env:"FRAUD_DECLINE_SCORE" envDefault:"80"`
	ReviewScoreThreshold    int           `env:"FRAUD_REVIEW_SCORE" envDefault:"50"`
	HighScoreThreshold      int           `env:"FRAUD_HIGH_SCORE" envDefault:"50"`
	VelocityWindow          time.Duration `env:"FRAUD_VELOCITY_WINDOW" envDefault:"1m"`
	VelocityMaxAttempts     int           `env:"FRAUD_VELOCITY_MAX_ATTEMPTS" envDefault:"5"`
	CollaboratorCallTimeout time.Duration `env:"FRAUD_CALL_TIMEOUT" envDefault:"3s"`
	BlockedIPs              []string      `env:"FRAUD_BLOCKED_IPS" envSeparator:","`
}

// BreakerConfig holds the default circuit-breaker thresholds applied to
// every PSP/collaborator target registered with internal/circuitbreaker.
type BreakerConfig struct {
	FailureThreshold uint32        `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	OpenTimeout      time.Duration `env:"BREAKER_OPEN_TIMEOUT" envDefault:"30s"`
	HalfOpenMaxCalls uint32        `env:"BREAKER_HALF_OPEN_MAX_CALLS" envDefault:"2"`
}

// RetryConfig holds the default backoff schedule used by the retry engine
// and the outbox/webhook/settlement workers.
type RetryConfig struct {
	MaxAttempts  int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
	BaseDelay    time.Duration `env:"RETRY_BASE_DELAY" envDefault:"100ms"`
	MaxDelay     time.Duration `env:"RETRY_MAX_DELAY" envDefault:"30s"`
}

// IdempotencyConfig holds idempotency-key storage retention.
type IdempotencyConfig struct {
	LockTTL      time.Duration `env:"IDEMPOTENCY_LOCK_TTL" envDefault:"30s"`
	ResultTTL    time.Duration `env:"IDEMPOTENCY_RESULT_TTL" envDefault:"24h"`
}

// TLSConfig holds the minimum TLS version accepted on the merchant-facing API.
type TLSConfig struct {
	MinVersion string `env:"TLS_MIN_VERSION" envDefault:"1.2"`
}

// VaultConfig holds the keyed-hash secret the tokenization collaborator
// uses to compute each PAN's uniqueness digest. This is a HMAC key, not
// an encryption key: the gateway never needs to recover a PAN from its
// hash, only to detect that two tokenization calls referred to the same
// card.
type VaultConfig struct {
	PANHashKey string `env:"VAULT_PAN_HASH_KEY,required"`
}

// WebhookConfig holds the merchant webhook signing secret and delivery
// retry bounds.
type WebhookConfig struct {
	SigningKey string        `env:"WEBHOOK_SIGNING_KEY,required"`
	MaxAttempts int          `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"10"`
	Timeout     time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"5s"`
}

// SettlementConfig holds the settlement worker's batching schedule and
// the currencies it sweeps across every active merchant.
type SettlementConfig struct {
	Interval     time.Duration `env:"SETTLEMENT_INTERVAL" envDefault:"1h"`
	Currencies   []string      `env:"SETTLEMENT_CURRENCIES" envDefault:"USD,EUR,GBP" envSeparator:","`
	MaxBatchSize int           `env:"SETTLEMENT_MAX_BATCH_SIZE" envDefault:"500"`
}

// Load reads configuration from the environment, optionally seeded from a
// .env file in the working directory (ignored if absent).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from the given .env file.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("loading .env file %s: %w", path, err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	return cfg, nil
}

// IsDevelopment reports whether the app is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction reports whether the app is running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
