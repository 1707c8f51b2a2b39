// Package domain defines the core interfaces and types for scamscore.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// Assessment methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Assessment results
	SaveAssessment(ctx context.Context, tenantID string, a *Assessment) error
	GetAssessment(ctx context.Context, tenantID string, id string) (*Assessment, error)
	ListAssessments(ctx context.Context, tenantID string, tier RiskTier, limit int) ([]*Assessment, error)

	// Model registry (global, not tenant scoped)
	SaveModelRecord(ctx context.Context, rec *ModelRecord) error
	GetLatestModelRecord(ctx context.Context, name string) (*ModelRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
