package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "github.com/go-sql-driver/mysql"

	"github.com/oychao1988/content-pipeline/internal/errkind"
)

// MySQLStore is the production relational backend. Grounded on
// graph/store/mysql.go, retargeted at the task schema and tuned per
// spec.md §5's connection-pool numbers (max 25, min idle 2, idle TTL 30s)
// rather than the teacher's untuned defaults.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool against dsn and ensures the schema
// exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(30 * time.Second)

	s := &MySQLStore{db: db}
	if err := s.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id VARCHAR(64) PRIMARY KEY,
	workflow_type VARCHAR(128) NOT NULL,
	mode VARCHAR(16) NOT NULL,
	status VARCHAR(16) NOT NULL,
	priority INT NOT NULL DEFAULT 0,
	current_step VARCHAR(128) NOT NULL DEFAULT '',
	worker_id VARCHAR(128) NOT NULL DEFAULT '',
	version INT NOT NULL DEFAULT 1,
	retry_counts JSON NOT NULL,
	state_snapshot JSON NULL,
	error_message TEXT NOT NULL,
	idempotency_key VARCHAR(256) NULL,
	callback_url VARCHAR(2048) NOT NULL DEFAULT '',
	callback_enabled TINYINT(1) NOT NULL DEFAULT 0,
	callback_events JSON NOT NULL,
	typed_inputs JSON NULL,
	created_at DATETIME(3) NOT NULL,
	started_at DATETIME(3) NULL,
	completed_at DATETIME(3) NULL,
	updated_at DATETIME(3) NOT NULL,
	deleted_at DATETIME(3) NULL,
	UNIQUE KEY uq_tasks_idempotency_key (idempotency_key),
	KEY idx_tasks_status (status),
	KEY idx_tasks_pending (status, priority, created_at),
	KEY idx_tasks_created_at (created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close implements Store.
func (s *MySQLStore) Close() error { return s.db.Close() }

// Create implements Store.
func (s *MySQLStore) Create(ctx context.Context, input CreateInput) (*Task, error) {
	if input.IdempotencyKey != "" {
		if existing, err := s.FindByIdempotencyKey(ctx, input.IdempotencyKey); err == nil {
			return existing, nil
		}
	}

	taskID := input.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	now := time.Now().UTC()
	retryCounts, _ := marshalJSON(map[string]int{})
	events, _ := marshalJSON(input.CallbackEvents)
	var idemKey any
	if input.IdempotencyKey != "" {
		idemKey = input.IdempotencyKey
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (task_id, workflow_type, mode, status, priority, current_step, worker_id, version,
	retry_counts, error_message, idempotency_key, callback_url, callback_enabled, callback_events,
	typed_inputs, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, '', '', 1, ?, '', ?, ?, ?, ?, ?, ?, ?)`,
		taskID, input.WorkflowType, string(input.Mode), string(StatusPending), input.Priority,
		retryCounts, idemKey, input.CallbackURL, boolToInt(input.CallbackEnabled), events,
		nullableString(input.TypedInputs), now, now)
	if err != nil {
		if input.IdempotencyKey != "" {
			if existing, ferr := s.FindByIdempotencyKey(ctx, input.IdempotencyKey); ferr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return s.FindByID(ctx, taskID)
}

// FindByID implements Store.
func (s *MySQLStore) FindByID(ctx context.Context, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM tasks WHERE task_id = ? AND deleted_at IS NULL`, taskID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errkind.New(errkind.NotFound, "task not found").WithDetails(map[string]any{"taskId": taskID})
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// FindByIdempotencyKey implements Store.
func (s *MySQLStore) FindByIdempotencyKey(ctx context.Context, key string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM tasks WHERE idempotency_key = ? AND deleted_at IS NULL`, key)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errkind.New(errkind.NotFound, "task not found")
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// List implements Store.
func (s *MySQLStore) List(ctx context.Context, filter Filter, page Pagination) ([]*Task, int, error) {
	page = page.normalize()
	where := `WHERE deleted_at IS NULL`
	args := []any{}
	if filter.Status != "" {
		where += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.WorkflowType != "" {
		where += ` AND workflow_type = ?`
		args = append(args, filter.WorkflowType)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM tasks `+where+` ORDER BY created_at DESC, task_id ASC LIMIT ? OFFSET ?`,
		append(args, page.Limit, page.offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]*Task, 0, page.Limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (s *MySQLStore) casUpdate(ctx context.Context, taskID string, version int, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, append(args, taskID, version)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, ferr := s.FindByID(ctx, taskID); ferr != nil {
			return ferr
		}
		return errkind.New(errkind.VersionConflict, "stale version").WithDetails(map[string]any{"taskId": taskID})
	}
	return nil
}

// UpdateStatus implements Store.
func (s *MySQLStore) UpdateStatus(ctx context.Context, taskID string, status Status, version int) (*Task, error) {
	now := time.Now().UTC()
	query := `UPDATE tasks SET status = ?, version = version + 1, updated_at = ?`
	args := []any{string(status), now}
	if status == StatusRunning {
		query += `, started_at = COALESCE(started_at, ?)`
		args = append(args, now)
	}
	if status.Terminal() {
		query += `, completed_at = ?`
		args = append(args, now)
	}
	query += ` WHERE task_id = ? AND version = ? AND deleted_at IS NULL`
	if err := s.casUpdate(ctx, taskID, version, query, args...); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, taskID)
}

// UpdateCurrentStep implements Store.
func (s *MySQLStore) UpdateCurrentStep(ctx context.Context, taskID, step string, version int) (*Task, error) {
	now := time.Now().UTC()
	query := `UPDATE tasks SET current_step = ?, version = version + 1, updated_at = ? WHERE task_id = ? AND version = ? AND deleted_at IS NULL`
	if err := s.casUpdate(ctx, taskID, version, query, step, now); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, taskID)
}

// ClaimTask implements Store.
func (s *MySQLStore) ClaimTask(ctx context.Context, taskID, workerID string, version int) (*Task, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET worker_id = ?, status = ?, started_at = ?, current_step = 'claimed',
	version = version + 1, updated_at = ?
WHERE task_id = ? AND version = ? AND status = ? AND deleted_at IS NULL`,
		workerID, string(StatusRunning), now, now, taskID, version, string(StatusPending))
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, ferr := s.FindByID(ctx, taskID); ferr != nil {
			return nil, ferr
		}
		return nil, errkind.New(errkind.VersionConflict, "task not claimable at supplied version").
			WithDetails(map[string]any{"taskId": taskID})
	}
	return s.FindByID(ctx, taskID)
}

// ReleaseWorker implements Store.
func (s *MySQLStore) ReleaseWorker(ctx context.Context, taskID, workerID string, version int) (*Task, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET worker_id = '', status = ?, version = version + 1, updated_at = ?
WHERE task_id = ? AND version = ? AND worker_id = ? AND deleted_at IS NULL`,
		string(StatusPending), time.Now().UTC(), taskID, version, workerID)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, ferr := s.FindByID(ctx, taskID); ferr != nil {
			return nil, ferr
		}
		return nil, errkind.New(errkind.VersionConflict, "caller does not hold the lease").
			WithDetails(map[string]any{"taskId": taskID})
	}
	return s.FindByID(ctx, taskID)
}

// SaveStateSnapshot implements Store.
func (s *MySQLStore) SaveStateSnapshot(ctx context.Context, taskID string, snapshot []byte, version int) (*Task, error) {
	query := `UPDATE tasks SET state_snapshot = ?, version = version + 1, updated_at = ? WHERE task_id = ? AND version = ? AND deleted_at IS NULL`
	if err := s.casUpdate(ctx, taskID, version, query, string(snapshot), time.Now().UTC()); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, taskID)
}

// IncrementRetryCount implements Store.
func (s *MySQLStore) IncrementRetryCount(ctx context.Context, taskID, class string, version int) (*Task, error) {
	current, err := s.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if current.Version != version {
		return nil, errkind.New(errkind.VersionConflict, "stale version").WithDetails(map[string]any{"taskId": taskID})
	}
	counts := current.RetryCounts
	if counts == nil {
		counts = make(map[string]int)
	}
	counts[class]++
	encoded, err := marshalJSON(counts)
	if err != nil {
		return nil, err
	}
	query := `UPDATE tasks SET retry_counts = ?, version = version + 1, updated_at = ? WHERE task_id = ? AND version = ? AND deleted_at IS NULL`
	if err := s.casUpdate(ctx, taskID, version, query, encoded, time.Now().UTC()); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, taskID)
}

// MarkAsCompleted implements Store.
func (s *MySQLStore) MarkAsCompleted(ctx context.Context, taskID string, version int) (*Task, error) {
	return s.UpdateStatus(ctx, taskID, StatusCompleted, version)
}

// MarkAsFailed implements Store.
func (s *MySQLStore) MarkAsFailed(ctx context.Context, taskID, message string, version int) (*Task, error) {
	now := time.Now().UTC()
	query := `UPDATE tasks SET status = ?, error_message = ?, completed_at = ?, version = version + 1, updated_at = ?
WHERE task_id = ? AND version = ? AND deleted_at IS NULL`
	if err := s.casUpdate(ctx, taskID, version, query, string(StatusFailed), message, now, now); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, taskID)
}

// GetPendingTasks implements Store.
func (s *MySQLStore) GetPendingTasks(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM tasks WHERE status = ? AND deleted_at IS NULL ORDER BY priority DESC, created_at ASC LIMIT ?`,
		string(StatusPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Task, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetStaleRunning implements Store.
func (s *MySQLStore) GetStaleRunning(ctx context.Context, cutoff time.Time) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM tasks WHERE status = ? AND updated_at < ? AND deleted_at IS NULL`,
		string(StatusRunning), cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SoftDelete implements Store.
func (s *MySQLStore) SoftDelete(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET deleted_at = ? WHERE task_id = ? AND deleted_at IS NULL`, time.Now().UTC(), taskID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errkind.New(errkind.NotFound, "task not found")
	}
	return nil
}

// Delete implements Store.
func (s *MySQLStore) Delete(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, taskID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errkind.New(errkind.NotFound, "task not found")
	}
	return nil
}

var _ Store = (*MySQLStore)(nil)
