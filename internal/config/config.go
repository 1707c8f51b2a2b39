// Package config builds the runtime configuration from tier defaults,
// an optional .env file and SCAMSCORE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/scamscore/internal/domain"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "SCAMSCORE_"

// Load reads .env (if present) and returns the configuration for the
// selected tier with environment overrides applied.
func Load() (*domain.Config, error) {
	_ = godotenv.Load()

	cfg := domain.DefaultConfig()
	if strings.EqualFold(getEnv("TIER", ""), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	cfg.Server.Host = getEnv("HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("PORT", cfg.Server.Port)

	cfg.Model.Source = getEnv("MODEL_SOURCE", cfg.Model.Source)
	cfg.Model.Path = getEnv("MODEL_PATH", cfg.Model.Path)
	cfg.Model.ColumnsPath = getEnv("COLUMNS_PATH", cfg.Model.ColumnsPath)
	cfg.Model.Name = getEnv("MODEL_NAME", cfg.Model.Name)
	cfg.Model.ReferenceAvg = getEnvFloat("REFERENCE_AVG", cfg.Model.ReferenceAvg)

	cfg.Repository.Driver = getEnv("DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnv("SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = getEnv("POSTGRES_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = getEnvInt("POSTGRES_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = getEnv("POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getEnv("POSTGRES_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getEnv("POSTGRES_SSLMODE", cfg.Repository.PostgresSSLMode)

	cfg.Cache.Type = getEnv("CACHE_TYPE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = getEnv("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.ReplayTTL = time.Duration(getEnvInt("REPLAY_TTL_SECS", int(cfg.Cache.ReplayTTL/time.Second))) * time.Second

	cfg.EventBus.Type = getEnv("BUS_TYPE", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = getEnv("NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("NATS_TOKEN", cfg.EventBus.NATSToken)
	cfg.EventBus.NATSQueueGroup = getEnv("NATS_QUEUE_GROUP", cfg.EventBus.NATSQueueGroup)

	cfg.History.Enabled = getEnvBool("HISTORY_ENABLED", cfg.History.Enabled)
	cfg.History.WindowSecs = getEnvInt("HISTORY_WINDOW_SECS", cfg.History.WindowSecs)

	cfg.Worker.Enabled = getEnvBool("ASYNC_WORKER", cfg.Worker.Enabled)
	cfg.Worker.Concurrency = getEnvInt("WORKER_CONCURRENCY", cfg.Worker.Concurrency)
	if tenants := splitList(getEnv("TENANTS", "")); len(tenants) > 0 {
		cfg.Worker.Tenants = tenants
	}

	cfg.Tracing.Enabled = getEnvBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnv("OTLP_ENDPOINT", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	cfg.Tracing.Insecure = getEnvBool("OTLP_INSECURE", cfg.Tracing.Insecure)
	cfg.Tracing.SampleRatio = getEnvFloat("TRACE_SAMPLE_RATIO", cfg.Tracing.SampleRatio)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	if getEnvBool("DEBUG", false) {
		cfg.Logging.Level = "debug"
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail late at startup.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Server.Port)
	}
	switch cfg.Model.Source {
	case "file":
		if cfg.Model.Path == "" || cfg.Model.ColumnsPath == "" {
			return fmt.Errorf("model and columns paths are required for file source")
		}
	case "repository":
		if cfg.Model.Name == "" {
			return fmt.Errorf("model name is required for repository source")
		}
	default:
		return fmt.Errorf("unsupported model source: %s", cfg.Model.Source)
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return fmt.Errorf("trace sample ratio must be within [0, 1], got %v", cfg.Tracing.SampleRatio)
	}
	if cfg.Model.ReferenceAvg <= 0 {
		return fmt.Errorf("reference average must be positive, got %v", cfg.Model.ReferenceAvg)
	}
	if cfg.Worker.Enabled && cfg.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1, got %d", cfg.Worker.Concurrency)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
