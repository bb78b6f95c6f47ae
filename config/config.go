package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	AppName                       string        `env:"APP_NAME" env-default:"fern-api"`
	Version                       string        `env:"APP_VERSION" env-default:"dev"`
	Port                          int           `env:"PORT" env-default:"3000"`
	LogLevel                      string        `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool          `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int           `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int           `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int           `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int           `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int           `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string      `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string      `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int           `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`
	ShutdownTimeout               time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"15s"`

	// Storage backend: postgres or memory
	StorageDriver string `env:"STORAGE_DRIVER" env-default:"postgres"`

	// Database driver
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:"localhost"`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"fern"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion uint `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Auth Enabled - when false, X-User-ID and X-User-Email identify the operator
	AuthEnabled bool `env:"AUTH_ENABLED" env-default:"false"`
	// Auth Issuer URL
	AuthIssuerURL string `env:"AUTH_ISSUER_URL" env-default:""`
	// Auth Client ID
	AuthClientID string `env:"AUTH_CLIENT_ID" env-default:""`

	// Use redis for the movement lock
	RedisEnabled bool `env:"REDIS_ENABLED" env-default:"false"`
	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`

	// How long a redis movement lock lives if its holder dies
	MovementLockTTL time.Duration `env:"MOVEMENT_LOCK_TTL" env-default:"30s"`
	// How long a mutation waits for the movement lock
	MovementLockTimeout time.Duration `env:"MOVEMENT_LOCK_TIMEOUT" env-default:"5s"`

	// Publish audit events to kafka
	KafkaEnabled bool `env:"KAFKA_ENABLED" env-default:"false"`
	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic for movement audit events
	KafkaEventsTopic string `env:"KAFKA_EVENTS_TOPIC" env-default:"fern.movement-events"`

	// OTLP collector endpoint; empty keeps spans in-process
	TracingEndpoint string `env:"TRACING_ENDPOINT" env-default:""`
	// OTLP protocol (grpc or http)
	TracingProtocol string `env:"TRACING_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	TracingInsecure bool `env:"TRACING_INSECURE" env-default:"true"`
}

// Load reads envFile when it exists, then the environment. Unset values
// take their env-default.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v, reflect.TypeOf(Config{}))

	var cfg Config
	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "env"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every env key so AutomaticEnv can see it on Unmarshal.
func setDefaults(v *viper.Viper, t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("env")
		if key == "" {
			continue
		}
		v.SetDefault(key, field.Tag.Get("env-default"))
	}
}

func (c *Config) Validate() error {
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	switch c.StorageDriver {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StoragePostgres, StorageMemory, c.StorageDriver)
	}
	if c.AuthEnabled && (c.AuthIssuerURL == "" || c.AuthClientID == "") {
		return errors.New("AUTH_ISSUER_URL and AUTH_CLIENT_ID are required when AUTH_ENABLED is true")
	}
	if c.Port <= 0 {
		return fmt.Errorf("PORT must be positive, got %d", c.Port)
	}
	return nil
}
