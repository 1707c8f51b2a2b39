// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/scamscore/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// List limits for ListAssessments.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens the database selected by cfg.Driver, applies pool settings and
// runs migrations.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var dsn string
	switch cfg.Driver {
	case "sqlite":
		var err error
		if dsn, err = sqliteDSN(cfg); err != nil {
			return nil, err
		}
	case "postgres":
		dsn = postgresDSN(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	switch {
	case cfg.Driver == "sqlite" && cfg.SQLitePath == ":memory:":
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach %s database: %w", cfg.Driver, err)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the connection pool for stats collection.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

// SaveAssessment stores an assessment with tenant isolation.
func (r *SQLRepository) SaveAssessment(ctx context.Context, tenantID string, a *domain.Assessment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: assessment id is required", ErrInvalidInput)
	}

	features, err := json.Marshal(a.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}

	query := `
		INSERT INTO assessments (
			id, tenant_id, scam_probability, tier, label, color,
			probability_text, fill, features, model_version, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, tenantID, a.ScamProbability, string(a.Tier), a.Label, a.Color,
		a.ProbabilityText, a.Fill, string(features), a.ModelVersion, a.CreatedAt,
	)
	return err
}

const assessmentColumns = `
	id, tenant_id, scam_probability, tier, label, color,
	probability_text, fill, features, model_version, created_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (*domain.Assessment, error) {
	var a domain.Assessment
	var tier, features string

	if err := row.Scan(
		&a.ID, &a.TenantID, &a.ScamProbability, &tier, &a.Label, &a.Color,
		&a.ProbabilityText, &a.Fill, &features, &a.ModelVersion, &a.CreatedAt,
	); err != nil {
		return nil, err
	}

	a.Tier = domain.RiskTier(tier)
	if err := json.Unmarshal([]byte(features), &a.Features); err != nil {
		return nil, fmt.Errorf("failed to decode features: %w", err)
	}
	return &a, nil
}

// GetAssessment retrieves an assessment by ID with tenant isolation.
func (r *SQLRepository) GetAssessment(ctx context.Context, tenantID string, id string) (*domain.Assessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + assessmentColumns + ` FROM assessments WHERE tenant_id = ? AND id = ?`

	a, err := scanAssessment(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAssessments returns the newest assessments for a tenant, optionally
// filtered by tier. A non-positive limit means DefaultListLimit.
func (r *SQLRepository) ListAssessments(ctx context.Context, tenantID string, tier domain.RiskTier, limit int) ([]*domain.Assessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `SELECT ` + assessmentColumns + ` FROM assessments WHERE tenant_id = ?`
	args := []any{tenantID}
	if tier != "" {
		query += ` AND tier = ?`
		args = append(args, string(tier))
	}
	query += ` ORDER BY created_at DESC LIMIT ` + strconv.Itoa(limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveModelRecord registers a model artifact. Saving the same name and
// version again replaces the stored artifact.
func (r *SQLRepository) SaveModelRecord(ctx context.Context, rec *domain.ModelRecord) error {
	if rec == nil || rec.Name == "" || rec.Version == "" {
		return fmt.Errorf("%w: model name and version are required", ErrInvalidInput)
	}

	columns, err := json.Marshal(rec.Columns)
	if err != nil {
		return fmt.Errorf("failed to encode columns: %w", err)
	}

	query := `
		INSERT INTO model_artifacts (name, version, kind, columns, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (name, version) DO UPDATE SET
			kind = excluded.kind,
			columns = excluded.columns,
			payload = excluded.payload,
			created_at = excluded.created_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rec.Name, rec.Version, rec.Kind, string(columns), string(rec.Payload), rec.CreatedAt,
	)
	return err
}

// GetLatestModelRecord returns the most recently registered version of name.
func (r *SQLRepository) GetLatestModelRecord(ctx context.Context, name string) (*domain.ModelRecord, error) {
	query := `
		SELECT name, version, kind, columns, payload, created_at
		FROM model_artifacts
		WHERE name = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	var rec domain.ModelRecord
	var columns, payload string

	err := r.db.QueryRowContext(ctx, r.rebind(query), name).Scan(
		&rec.Name, &rec.Version, &rec.Kind, &columns, &payload, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(columns), &rec.Columns); err != nil {
		return nil, fmt.Errorf("failed to decode columns: %w", err)
	}
	rec.Payload = []byte(payload)
	return &rec, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind rewrites ? placeholders as $n for Postgres. Queries here never
// contain a literal question mark.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c != '?' {
			b.WriteRune(c)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
