package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures process level configuration. Empty connection URLs select
// the in-memory implementation of the matching component.
type Server struct {
	Addr     string
	LogLevel string

	DatabaseURL string
	Redis       RedisConfig
	Kafka       KafkaConfig
	RabbitMQ    RabbitMQConfig
	MinIO       MinIOConfig
	JWT         JWTConfig
	Limits      Limits
}

// RedisConfig configures the API key usage counter backend.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit outbox relay.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// RabbitMQConfig configures dataset event notifications.
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// MinIOConfig configures the CSV export sink.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// JWTConfig configures bearer token validation.
type JWTConfig struct {
	SigningKey string
	Issuer     string
}

// Limits bounds request sizes the dataset service accepts.
type Limits struct {
	MaxBatchSize         int
	MaxPageSize          int
	AuditPerRecordImport bool
}

// FromEnv builds a Server config from environment variables so main stays lean.
// A .env file in the working directory is loaded first when present; variables
// already set in the environment win.
func FromEnv() (Server, error) {
	_ = godotenv.Load()

	cfg := Server{
		Addr:        getEnv("DATAPLANE_ADDR", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Kafka: KafkaConfig{
			Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: getEnv("AUDIT_TOPIC", "dataplane.audit"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      os.Getenv("RABBITMQ_URL"),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "dataplane.events"),
		},
		MinIO: MinIOConfig{
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    getEnv("MINIO_BUCKET", "dataplane-exports"),
		},
		JWT: JWTConfig{
			SigningKey: os.Getenv("JWT_SIGNING_KEY"),
			Issuer:     getEnv("JWT_ISSUER", "dataplane"),
		},
	}
	if cfg.JWT.SigningKey == "" {
		// Development default; production deployments must override it.
		cfg.JWT.SigningKey = "dev-secret-key-change-in-production"
	}

	var err error
	if cfg.MinIO.UseSSL, err = getBool("MINIO_USE_SSL", false); err != nil {
		return Server{}, err
	}
	if cfg.Limits.MaxBatchSize, err = getInt("MAX_BATCH_SIZE", 1000); err != nil {
		return Server{}, err
	}
	if cfg.Limits.MaxPageSize, err = getInt("MAX_PAGE_SIZE", 200); err != nil {
		return Server{}, err
	}
	if cfg.Limits.AuditPerRecordImport, err = getBool("AUDIT_PER_RECORD_IMPORT", false); err != nil {
		return Server{}, err
	}
	if cfg.Redis, err = redisFromEnv(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func redisFromEnv() (RedisConfig, error) {
	cfg := RedisConfig{URL: os.Getenv("REDIS_URL")}
	var err error
	if cfg.PoolSize, err = getInt("REDIS_POOL_SIZE", 10); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = getInt("REDIS_MIN_IDLE_CONNS", 2); err != nil {
		return cfg, err
	}
	if cfg.DialTimeout, err = getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = getDuration("REDIS_READ_TIMEOUT", 3*time.Second); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for part := range strings.SplitSeq(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
