package domain

import "time"

// Config holds the complete scamscore configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Model artifacts and feature extraction
	Model ModelConfig `json:"model"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// History enables cache-backed velocity and first-seen enrichment.
	History HistoryConfig `json:"history"`

	Worker WorkerConfig `json:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// ModelConfig describes where the classifier comes from.
type ModelConfig struct {
	// Source is "file" (two JSON artifacts on disk) or "repository".
	Source      string `json:"source"`
	Path        string `json:"path"`
	ColumnsPath string `json:"columnsPath"`

	// Name of the registered model when Source is "repository".
	Name string `json:"name"`

	// ReferenceAvg stands in for the actor's historical average amount.
	ReferenceAvg float64 `json:"referenceAvg"`
}

// HistoryConfig controls actor history enrichment.
type HistoryConfig struct {
	Enabled    bool `json:"enabled"`
	WindowSecs int  `json:"windowSecs"`
	SeenTTLHrs int  `json:"seenTtlHours"`
}

// WorkerConfig controls the bus-driven assessment worker. An empty
// Tenants list serves every tenant.
type WorkerConfig struct {
	Enabled     bool     `json:"enabled"`
	Tenants     []string `json:"tenants"`
	Concurrency int      `json:"concurrency"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`

	// Endpoint is the OTLP/gRPC collector address; empty disables export.
	Endpoint    string  `json:"endpoint"`
	Insecure    bool    `json:"insecure"`
	SampleRatio float64 `json:"sampleRatio"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// Defaults shared by the server and the offline tools.
const (
	DefaultReferenceAvg = 4000.0
	DefaultModelName    = "scam-gbdt"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Model: ModelConfig{
			Source:       "file",
			Path:         "./artifacts/model.json",
			ColumnsPath:  "./artifacts/columns.json",
			Name:         DefaultModelName,
			ReferenceAvg: DefaultReferenceAvg,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./scamscore.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ReplayTTL:    10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		History: HistoryConfig{
			Enabled:    true,
			WindowSecs: 3600,
			SeenTTLHrs: 24 * 90,
		},
		Worker: WorkerConfig{
			Concurrency: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "scamscore",
			Insecure:    true,
			SampleRatio: 1,
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "scamscore",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		ReplayTTL:      time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "scamscore-workers",
	}
	cfg.Worker.Enabled = true
	cfg.Worker.Concurrency = 16
	cfg.Tracing.Enabled = true
	return cfg
}
