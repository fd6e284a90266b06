package dispatch

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Status of a background task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Task is the durable record of one dispatched unit of work.
type Task struct {
	ID         uuid.UUID      `db:"id" json:"id"`
	Name       string         `db:"name" json:"name"`
	RefID      string         `db:"ref_id" json:"refId"`
	Status     Status         `db:"status" json:"status"`
	Attempts   int            `db:"attempts" json:"attempts"`
	LastError  sql.NullString `db:"last_error" json:"-"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
	FinishedAt sql.NullTime   `db:"finished_at" json:"-"`
}

func (t *Task) succeed() {
	t.Status = StatusSucceeded
	t.LastError = sql.NullString{}
	t.FinishedAt = sql.NullTime{Time: time.Now(), Valid: true}
}

func (t *Task) fail(err error) {
	t.Status = StatusFailed
	t.LastError = sql.NullString{String: err.Error(), Valid: true}
	t.FinishedAt = sql.NullTime{Time: time.Now(), Valid: true}
}

// Recorder persists task outcomes. Errors are logged and otherwise ignored.
type Recorder interface {
	Start(ctx context.Context, task *Task) error
	Finish(ctx context.Context, task *Task) error
}

// PostgresRecorder stores tasks in background_tasks.
type PostgresRecorder struct {
	db *sqlx.DB
}

// NewPostgresRecorder creates a recorder backed by db.
func NewPostgresRecorder(db *sqlx.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

func (r *PostgresRecorder) Start(ctx context.Context, task *Task) error {
	query := `
		INSERT INTO background_tasks (id, name, ref_id, status, attempts, created_at)
		VALUES (:id, :name, :ref_id, :status, :attempts, :created_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, task)
	return err
}

// Finish upserts so that tasks rejected before Start are still recorded.
func (r *PostgresRecorder) Finish(ctx context.Context, task *Task) error {
	query := `
		INSERT INTO background_tasks (id, name, ref_id, status, attempts, last_error, created_at, finished_at)
		VALUES (:id, :name, :ref_id, :status, :attempts, :last_error, :created_at, :finished_at)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			finished_at = EXCLUDED.finished_at
	`
	_, err := r.db.NamedExecContext(ctx, query, task)
	return err
}

// DeleteFinishedBefore removes finished tasks older than cutoff.
func (r *PostgresRecorder) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM background_tasks
		WHERE status <> 'running' AND finished_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
