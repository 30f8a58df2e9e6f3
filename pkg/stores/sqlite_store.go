package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/section6nz/3scale-sync/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
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

	// Set defaults
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
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection and set PRAGMAs
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
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

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordRun persists a terminal run with its documents and entity outcomes
// in one transaction. A run that is not terminal yet is rejected: history
// only ever holds finished runs.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *engine.Run) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	if !run.Status.IsTerminal() {
		return fmt.Errorf("cannot record non-terminal run %s (status %s)", run.ID, run.Status)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	summary := run.Summary
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, status, dry_run, user, total, created, updated, unchanged, deleted, failed, skipped, started_at, completed_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		string(run.Status),
		run.DryRun,
		run.User,
		summary.Total,
		summary.Created,
		summary.Updated,
		summary.Unchanged,
		summary.Deleted,
		summary.Failed,
		summary.Skipped,
		run.StartedAt,
		run.CompletedAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for pos := range run.Documents {
		doc := &run.Documents[pos]

		var docErr *string
		if doc.Err != nil {
			msg := doc.Err.Error()
			docErr = &msg
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO run_documents (run_id, position, source, environment, product, error, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.ID,
			pos,
			doc.Source,
			doc.Environment,
			doc.Product,
			docErr,
			doc.StartedAt,
			doc.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert document result: %w", err)
		}
		docID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get document id: %w", err)
		}

		for i, e := range doc.Entities {
			var entityErr *string
			if e.Error != nil {
				msg := e.Error.Error()
				entityErr = &msg
			}

			_, err := tx.ExecContext(ctx, `
				INSERT INTO entity_outcomes (document_id, run_id, position, kind, key, outcome, remote_id, error, duration_ms)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				docID,
				run.ID,
				i,
				string(e.Kind),
				e.Key,
				string(e.Outcome),
				e.RemoteID,
				entityErr,
				e.Duration.Milliseconds(),
			)
			if err != nil {
				return fmt.Errorf("failed to insert entity outcome: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run record: %w", err)
	}
	return nil
}

// GetRun retrieves a recorded run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `
		SELECT id, status, dry_run, user, total, created, updated, unchanged, deleted, failed, skipped, started_at, completed_at, recorded_at
		FROM runs
		WHERE id = ?
	`

	run := &RunRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Status,
		&run.DryRun,
		&run.User,
		&run.Total,
		&run.Created,
		&run.Updated,
		&run.Unchanged,
		&run.Deleted,
		&run.Failed,
		&run.Skipped,
		&run.StartedAt,
		&run.CompletedAt,
		&run.RecordedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists recorded runs with pagination, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	query := `
		SELECT id, status, dry_run, user, total, created, updated, unchanged, deleted, failed, skipped, started_at, completed_at, recorded_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		run := &RunRecord{}
		err := rows.Scan(
			&run.ID,
			&run.Status,
			&run.DryRun,
			&run.User,
			&run.Total,
			&run.Created,
			&run.Updated,
			&run.Unchanged,
			&run.Deleted,
			&run.Failed,
			&run.Skipped,
			&run.StartedAt,
			&run.CompletedAt,
			&run.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// ListDocuments lists the document results of a run in run order
func (s *SQLiteStore) ListDocuments(ctx context.Context, runID string) ([]*DocumentRecord, error) {
	query := `
		SELECT id, run_id, position, source, environment, product, error, started_at, completed_at
		FROM run_documents
		WHERE run_id = ?
		ORDER BY position
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []*DocumentRecord{}
	for rows.Next() {
		doc := &DocumentRecord{}
		err := rows.Scan(
			&doc.ID,
			&doc.RunID,
			&doc.Position,
			&doc.Source,
			&doc.Environment,
			&doc.Product,
			&doc.Error,
			&doc.StartedAt,
			&doc.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return docs, nil
}

// ListOutcomes lists the entity outcomes of a run in reconciliation order
func (s *SQLiteStore) ListOutcomes(ctx context.Context, runID string) ([]*OutcomeRecord, error) {
	query := `
		SELECT id, document_id, run_id, position, kind, key, outcome, remote_id, error, duration_ms
		FROM entity_outcomes
		WHERE run_id = ?
		ORDER BY document_id, position
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []*OutcomeRecord{}
	for rows.Next() {
		o := &OutcomeRecord{}
		err := rows.Scan(
			&o.ID,
			&o.DocumentID,
			&o.RunID,
			&o.Position,
			&o.Kind,
			&o.Key,
			&o.Outcome,
			&o.RemoteID,
			&o.Error,
			&o.DurationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcomes: %w", err)
	}

	return outcomes, nil
}

// AppendEvent persists one timeline event
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *engine.Event) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}

	query := `
		INSERT INTO run_events (event_id, run_id, type, source, entity, level, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.RunID,
		string(event.Type),
		event.Source,
		event.Entity,
		event.Level,
		event.Message,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents lists the events of a run in timestamp order
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, limit, offset int) ([]*EventRecord, error) {
	query := `
		SELECT id, event_id, run_id, type, source, entity, level, message, timestamp
		FROM run_events
		WHERE run_id = ?
		ORDER BY timestamp, id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*EventRecord{}
	for rows.Next() {
		e := &EventRecord{}
		err := rows.Scan(
			&e.ID,
			&e.EventID,
			&e.RunID,
			&e.Type,
			&e.Source,
			&e.Entity,
			&e.Level,
			&e.Message,
			&e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// PruneRuns deletes all but the newest keep runs. Documents and outcomes
// cascade through foreign keys; events are cleaned explicitly since they
// reference runs without a constraint (they may arrive before the run row).
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM run_events WHERE run_id NOT IN (SELECT id FROM runs)
	`); err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return pruned, nil
}

// HealthCheck verifies database connectivity
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}

	return nil
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)
