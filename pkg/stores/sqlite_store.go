package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the HistoryStore interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// The _pragma parameters apply to every pooled connection, which matters
	// for foreign_keys: cascades silently stop working on connections that
	// miss the pragma.
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateBuild records the start of a build run.
func (s *SQLiteStore) CreateBuild(ctx context.Context, build *Build) error {
	query := `
		INSERT INTO builds (
			id, manifest, targets, workers, placement, dry_run, status,
			total, updated, skipped, failed, discarded,
			error, started_at, finished_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		build.ID,
		build.Manifest,
		build.Targets,
		build.Workers,
		build.Placement,
		build.DryRun,
		build.Status,
		build.Total,
		build.Updated,
		build.Skipped,
		build.Failed,
		build.Discarded,
		build.Error,
		build.StartedAt,
		build.FinishedAt,
		build.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create build: %w", err)
	}

	return nil
}

// FinishBuild writes the final status and summary tallies for a build.
func (s *SQLiteStore) FinishBuild(ctx context.Context, id string, status BuildStatus, summary BuildSummary, errMsg *string) error {
	query := `
		UPDATE builds
		SET status = ?, total = ?, updated = ?, skipped = ?, failed = ?, discarded = ?, error = ?, finished_at = ?
		WHERE id = ?
	`

	now := time.Now()
	result, err := s.db.ExecContext(ctx, query,
		status,
		summary.Total,
		summary.Updated,
		summary.Skipped,
		summary.Failed,
		summary.Discarded,
		errMsg,
		&now,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish build: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("build not found: %s", id)
	}

	return nil
}

// GetBuild retrieves a build by ID
func (s *SQLiteStore) GetBuild(ctx context.Context, id string) (*Build, error) {
	query := `
		SELECT id, manifest, targets, workers, placement, dry_run, status,
			total, updated, skipped, failed, discarded,
			error, started_at, finished_at, created_at
		FROM builds
		WHERE id = ?
	`

	build := &Build{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&build.ID,
		&build.Manifest,
		&build.Targets,
		&build.Workers,
		&build.Placement,
		&build.DryRun,
		&build.Status,
		&build.Total,
		&build.Updated,
		&build.Skipped,
		&build.Failed,
		&build.Discarded,
		&build.Error,
		&build.StartedAt,
		&build.FinishedAt,
		&build.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("build not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build: %w", err)
	}

	return build, nil
}

// ListBuilds lists builds with pagination, most recent first.
func (s *SQLiteStore) ListBuilds(ctx context.Context, limit, offset int) ([]*Build, error) {
	query := `
		SELECT id, manifest, targets, workers, placement, dry_run, status,
			total, updated, skipped, failed, discarded,
			error, started_at, finished_at, created_at
		FROM builds
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	builds := []*Build{}
	for rows.Next() {
		build := &Build{}
		err := rows.Scan(
			&build.ID,
			&build.Manifest,
			&build.Targets,
			&build.Workers,
			&build.Placement,
			&build.DryRun,
			&build.Status,
			&build.Total,
			&build.Updated,
			&build.Skipped,
			&build.Failed,
			&build.Discarded,
			&build.Error,
			&build.StartedAt,
			&build.FinishedAt,
			&build.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		builds = append(builds, build)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating builds: %w", err)
	}

	return builds, nil
}

// PruneBuilds deletes all but the most recent keep builds. Outcomes cascade.
func (s *SQLiteStore) PruneBuilds(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must be non-negative")
	}

	query := `
		DELETE FROM builds
		WHERE id NOT IN (
			SELECT id FROM builds ORDER BY started_at DESC LIMIT ?
		)
	`

	result, err := s.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune builds: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// AppendRuleOutcome records one rule's terminal event for a build.
func (s *SQLiteStore) AppendRuleOutcome(ctx context.Context, outcome *RuleOutcome) error {
	query := `
		INSERT INTO rule_outcomes (build_id, rule_id, rule_name, event, reason, error, duration_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		outcome.BuildID,
		outcome.RuleID,
		outcome.RuleName,
		outcome.Event,
		outcome.Reason,
		outcome.Error,
		outcome.DurationMS,
		outcome.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append rule outcome: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get outcome ID: %w", err)
	}
	outcome.ID = id

	return nil
}

// ListRuleOutcomes lists the recorded outcomes for one build in insertion
// order.
func (s *SQLiteStore) ListRuleOutcomes(ctx context.Context, buildID string) ([]*RuleOutcome, error) {
	query := `
		SELECT id, build_id, rule_id, rule_name, event, reason, error, duration_ms, timestamp
		FROM rule_outcomes
		WHERE build_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []*RuleOutcome{}
	for rows.Next() {
		outcome := &RuleOutcome{}
		err := rows.Scan(
			&outcome.ID,
			&outcome.BuildID,
			&outcome.RuleID,
			&outcome.RuleName,
			&outcome.Event,
			&outcome.Reason,
			&outcome.Error,
			&outcome.DurationMS,
			&outcome.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule outcome: %w", err)
		}
		outcomes = append(outcomes, outcome)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule outcomes: %w", err)
	}

	return outcomes, nil
}

// HealthCheck verifies the database connection
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
