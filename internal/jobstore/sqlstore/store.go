// Package sqlstore is the durable JobStore backend (spec.md §7 supplemented
// feature): jobs and their transition logs persisted to Postgres instead of
// held only in process memory, so a restart doesn't lose in-flight job
// state. Grounded on the teacher's pkg/storage/postgres.BaseStore
// (context-scoped querier, transaction-in-context idiom) adapted from
// database/sql to jmoiron/sqlx for scan-into-struct convenience, with
// golang-migrate/migrate/v4 driving schema setup the way the teacher's
// migrations directory does.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/vibeorch/engine/internal/model"
	"github.com/vibeorch/engine/internal/orcherr"
)

// jobRow mirrors the jobs table layout.
type jobRow struct {
	ID             string         `db:"id"`
	Status         string         `db:"status"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	StartedAt      sql.NullTime   `db:"started_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
	Progress       int            `db:"progress"`
	AncestorJobID  sql.NullString `db:"ancestor_job_id"`
	RetryCount     int            `db:"retry_count"`
	ErrorKind      sql.NullString `db:"error_kind"`
	ErrorMessage   sql.NullString `db:"error_message"`
}

// transitionRow mirrors the job_transitions table layout.
type transitionRow struct {
	JobID   string    `db:"job_id"`
	From    string    `db:"from_status"`
	To      string    `db:"to_status"`
	At      time.Time `db:"at"`
	Message string    `db:"message"`
}

// Store is a Postgres-backed JobStore.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn and wraps it in a Store. Schema migrations are
// applied separately via Migrate.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to job store database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ready reports whether the database connection is reachable, satisfying
// the transport package's readiness check for the durable backend.
func (s *Store) Ready() bool {
	return s.db.Ping() == nil
}

// Migrate applies pending schema migrations from migrationsPath (a
// file://-style directory of .up.sql/.down.sql pairs).
func (s *Store) Migrate(migrationsPath string) error {
	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("build migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Create inserts a new pending job row.
func (s *Store) Create(ctx context.Context, id, ancestorJobID string) (model.Job, error) {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, created_at, updated_at, progress, ancestor_job_id, retry_count)
		 VALUES ($1, $2, $3, $3, 0, NULLIF($4, ''), 0)`,
		id, string(model.JobPending), now, ancestorJobID,
	)
	if err != nil {
		return model.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return s.Get(ctx, id)
}

// Get loads a job by ID.
func (s *Store) Get(ctx context.Context, id string) (model.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM jobs WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return model.Job{}, orcherr.New(orcherr.KindState, "unknown job "+id)
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("load job: %w", err)
	}
	return rowToJob(row), nil
}

// Transition moves a job's status, writing both the jobs row and an
// append-only job_transitions row inside a single transaction so a crash
// can't desynchronize the two.
func (s *Store) Transition(ctx context.Context, id string, to model.JobStatus, message string) (model.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Job{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row jobRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM jobs WHERE id = $1 FOR UPDATE`, id); err != nil {
		if err == sql.ErrNoRows {
			return model.Job{}, orcherr.New(orcherr.KindState, "unknown job "+id)
		}
		return model.Job{}, fmt.Errorf("load job for update: %w", err)
	}

	from := model.JobStatus(row.Status)
	if from.Terminal() || !model.CanTransition(from, to) {
		return model.Job{}, orcherr.StateError(string(from), string(to))
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2,
		   started_at = CASE WHEN $1 = 'running' AND started_at IS NULL THEN $2 ELSE started_at END,
		   completed_at = CASE WHEN $1 IN ('completed','failed','cancelled') THEN $2 ELSE completed_at END
		 WHERE id = $3`,
		string(to), now, id,
	)
	if err != nil {
		return model.Job{}, fmt.Errorf("update job status: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO job_transitions (job_id, from_status, to_status, at, message) VALUES ($1, $2, $3, $4, $5)`,
		id, string(from), string(to), now, message,
	)
	if err != nil {
		return model.Job{}, fmt.Errorf("insert transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Job{}, fmt.Errorf("commit transition: %w", err)
	}
	return s.Get(ctx, id)
}

// ListTransitions returns the ordered transition history for a job.
func (s *Store) ListTransitions(ctx context.Context, id string) ([]transitionRow, error) {
	var rows []transitionRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM job_transitions WHERE job_id = $1 ORDER BY at ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	return rows, nil
}

// Prune deletes terminal jobs completed before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE completed_at IS NOT NULL AND completed_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func rowToJob(row jobRow) model.Job {
	j := model.Job{
		ID:         row.ID,
		Status:     model.JobStatus(row.Status),
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
		Progress:   row.Progress,
		RetryCount: row.RetryCount,
	}
	if row.StartedAt.Valid {
		t := row.StartedAt.Time
		j.StartedAt = &t
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		j.CompletedAt = &t
	}
	if row.AncestorJobID.Valid {
		j.AncestorJobID = row.AncestorJobID.String
	}
	if row.ErrorKind.Valid {
		j.Error = &model.JobError{Kind: row.ErrorKind.String, Message: row.ErrorMessage.String}
	}
	return j
}
