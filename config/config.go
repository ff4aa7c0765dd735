package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

type Config struct {
	Env          string
	ServerPort   int
	LogLevel     string
	StoreTimeout time.Duration
	CORSOrigins  []string
	Database     DatabaseConfig
	Auth         AuthConfig
	MQ           MQConfig
	Storage      StorageConfig
	RateLimit    RateLimitConfig
	Reconcile    ReconcileConfig
}

// IsDev reports whether the process runs in a development-like mode, where
// internal error detail may be returned to admin callers.
func (c Config) IsDev() bool {
	return c.Env == EnvDev
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

type AuthConfig struct {
	Provider      string
	JWTSecret     string
	TokenTTL      time.Duration
	OIDCIssuerURL string
	OIDCClientID  string
}

type MQConfig struct {
	Backend      string
	AuditChannel string
	RabbitMQ     RabbitMQConfig
	PubSub       PubSubConfig
}

type RabbitMQConfig struct {
	URL           string
	Durable       bool
	AutoDelete    bool
	PrefetchCount int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

type StorageConfig struct {
	Backend string
	Minio   MinioConfig
	GCS     GCSConfig
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

type RateLimitConfig struct {
	RedisURL  string
	PerSecond int
	Burst     int
}

type ReconcileConfig struct {
	Schedule string
}

func LoadConfig() Config {
	if os.Getenv("ENV") == EnvDev {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "folio"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "folio_db"),
		UseSSL:   getEnvBool("DB_SSL", false),
	}

	authConfig := AuthConfig{
		Provider:      strings.ToLower(getEnv("AUTH_PROVIDER", "local")),
		JWTSecret:     strings.TrimSpace(getEnv("JWT_SECRET", "")),
		TokenTTL:      getEnvDuration("JWT_TTL", 24*time.Hour),
		OIDCIssuerURL: getEnv("OIDC_ISSUER_URL", ""),
		OIDCClientID:  getEnv("OIDC_CLIENT_ID", ""),
	}

	mqConfig := MQConfig{
		Backend:      strings.ToLower(getEnv("MQ_BACKEND", "none")),
		AuditChannel: getEnv("AUDIT_CHANNEL", "audit.events"),
		RabbitMQ: RabbitMQConfig{
			URL:           getEnv("RABBITMQ_URL", ""),
			Durable:       getEnvBool("RABBITMQ_DURABLE", true),
			AutoDelete:    getEnvBool("RABBITMQ_AUTO_DELETE", false),
			PrefetchCount: getEnvInt("RABBITMQ_PREFETCH", 0),
		},
		PubSub: PubSubConfig{
			ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
			CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
			SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
		},
	}

	storageConfig := StorageConfig{
		Backend: strings.ToLower(getEnv("STORAGE_BACKEND", "none")),
		Minio: MinioConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "folio-audit"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		GCS: GCSConfig{
			Bucket:          getEnv("GCS_BUCKET", ""),
			ProjectID:       getEnv("GCS_PROJECT_ID", ""),
			CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
		},
	}

	return Config{
		Env:          getEnv("ENV", EnvProd),
		ServerPort:   getEnvInt("SERVER_PORT", 8080),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		StoreTimeout: getEnvDuration("STORE_TIMEOUT", 5*time.Second),
		CORSOrigins:  splitList(getEnv("CORS_ORIGINS", "")),
		Database:     dbConfig,
		Auth:         authConfig,
		MQ:           mqConfig,
		Storage:      storageConfig,
		RateLimit: RateLimitConfig{
			RedisURL:  getEnv("REDIS_URL", ""),
			PerSecond: getEnvInt("LOGIN_RATE_PER_SEC", 1),
			Burst:     getEnvInt("LOGIN_RATE_BURST", 5),
		},
		Reconcile: ReconcileConfig{
			Schedule: getEnv("RECONCILE_SCHEDULE", "@every 5m"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := time.ParseDuration(strings.TrimSpace(valueStr))
		if err != nil || value <= 0 {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
