package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/oychao1988/content-pipeline/internal/errkind"
)

// SQLiteStore is the embedded, single-file backend: zero external
// dependencies, suitable for the example server and local development.
// Grounded on graph/store/sqlite.go — same WAL/busy_timeout pragma
// sequence and single-writer connection-pool sizing, applied to the
// task-shaped schema instead of the teacher's generic workflow_steps.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if absent) a SQLite-backed Store at path.
// path may be ":memory:" for a process-local ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id TEXT PRIMARY KEY,
	workflow_type TEXT NOT NULL,
	mode TEXT NOT NULL,
	status TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	current_step TEXT NOT NULL DEFAULT '',
	worker_id TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL DEFAULT 1,
	retry_counts TEXT NOT NULL DEFAULT '{}',
	state_snapshot TEXT,
	error_message TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT,
	callback_url TEXT NOT NULL DEFAULT '',
	callback_enabled INTEGER NOT NULL DEFAULT 0,
	callback_events TEXT NOT NULL DEFAULT '[]',
	typed_inputs TEXT,
	created_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	updated_at TIMESTAMP NOT NULL,
	deleted_at TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_idempotency_key ON tasks(idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_pending ON tasks(status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, input CreateInput) (*Task, error) {
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
		// Unique-constraint violation on idempotency_key: another writer
		// won the race between our lookup and insert. Re-read and return
		// the winner's row rather than failing (spec.md §8 property 2).
		if input.IdempotencyKey != "" {
			if existing, ferr := s.FindByIdempotencyKey(ctx, input.IdempotencyKey); ferr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return s.FindByID(ctx, taskID)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

const selectColumns = `task_id, workflow_type, mode, status, priority, current_step, worker_id, version,
	retry_counts, state_snapshot, error_message, idempotency_key, callback_url, callback_enabled,
	callback_events, typed_inputs, created_at, started_at, completed_at, updated_at, deleted_at`

func scanTask(row interface {
	Scan(dest ...any) error
}) (*Task, error) {
	var (
		t                                          Task
		mode, status, idemKey                      sql.NullString
		retryCountsJSON, eventsJSON                 string
		stateSnapshot, typedInputs                  sql.NullString
		callbackEnabled                             int
		startedAt, completedAt, deletedAt           sql.NullTime
	)
	err := row.Scan(
		&t.TaskID, &t.WorkflowType, &mode, &status, &t.Priority, &t.CurrentStep, &t.WorkerID, &t.Version,
		&retryCountsJSON, &stateSnapshot, &t.ErrorMessage, &idemKey, &t.CallbackURL, &callbackEnabled,
		&eventsJSON, &typedInputs, &t.CreatedAt, &startedAt, &completedAt, &t.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Mode = Mode(mode.String)
	t.Status = Status(status.String)
	t.IdempotencyKey = idemKey.String
	t.CallbackEnabled = callbackEnabled != 0
	if stateSnapshot.Valid {
		t.StateSnapshot = json.RawMessage(stateSnapshot.String)
	}
	if typedInputs.Valid {
		t.TypedInputs = json.RawMessage(typedInputs.String)
	}
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	if deletedAt.Valid {
		v := deletedAt.Time
		t.DeletedAt = &v
	}
	_ = json.Unmarshal([]byte(retryCountsJSON), &t.RetryCounts)
	if t.RetryCounts == nil {
		t.RetryCounts = make(map[string]int)
	}
	_ = json.Unmarshal([]byte(eventsJSON), &t.CallbackEvents)
	return &t, nil
}

// FindByID implements Store.
func (s *SQLiteStore) FindByID(ctx context.Context, taskID string) (*Task, error) {
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
func (s *SQLiteStore) FindByIdempotencyKey(ctx context.Context, key string) (*Task, error) {
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
func (s *SQLiteStore) List(ctx context.Context, filter Filter, page Pagination) ([]*Task, int, error) {
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

// casUpdate runs an UPDATE fenced by the supplied version, returning
// errkind.VersionConflict when rows-affected is zero (spec.md §4.1's
// optimistic-locking protocol).
func (s *SQLiteStore) casUpdate(ctx context.Context, taskID string, version int, query string, args ...any) error {
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
func (s *SQLiteStore) UpdateStatus(ctx context.Context, taskID string, status Status, version int) (*Task, error) {
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
func (s *SQLiteStore) UpdateCurrentStep(ctx context.Context, taskID, step string, version int) (*Task, error) {
	now := time.Now().UTC()
	query := `UPDATE tasks SET current_step = ?, version = version + 1, updated_at = ? WHERE task_id = ? AND version = ? AND deleted_at IS NULL`
	if err := s.casUpdate(ctx, taskID, version, query, step, now); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, taskID)
}

// ClaimTask implements Store.
func (s *SQLiteStore) ClaimTask(ctx context.Context, taskID, workerID string, version int) (*Task, error) {
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
func (s *SQLiteStore) ReleaseWorker(ctx context.Context, taskID, workerID string, version int) (*Task, error) {
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
func (s *SQLiteStore) SaveStateSnapshot(ctx context.Context, taskID string, snapshot []byte, version int) (*Task, error) {
	query := `UPDATE tasks SET state_snapshot = ?, version = version + 1, updated_at = ? WHERE task_id = ? AND version = ? AND deleted_at IS NULL`
	if err := s.casUpdate(ctx, taskID, version, query, string(snapshot), time.Now().UTC()); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, taskID)
}

// IncrementRetryCount implements Store.
func (s *SQLiteStore) IncrementRetryCount(ctx context.Context, taskID, class string, version int) (*Task, error) {
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
func (s *SQLiteStore) MarkAsCompleted(ctx context.Context, taskID string, version int) (*Task, error) {
	return s.UpdateStatus(ctx, taskID, StatusCompleted, version)
}

// MarkAsFailed implements Store.
func (s *SQLiteStore) MarkAsFailed(ctx context.Context, taskID, message string, version int) (*Task, error) {
	now := time.Now().UTC()
	query := `UPDATE tasks SET status = ?, error_message = ?, completed_at = ?, version = version + 1, updated_at = ?
WHERE task_id = ? AND version = ? AND deleted_at IS NULL`
	if err := s.casUpdate(ctx, taskID, version, query, string(StatusFailed), message, now, now); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, taskID)
}

// GetPendingTasks implements Store.
func (s *SQLiteStore) GetPendingTasks(ctx context.Context, limit int) ([]*Task, error) {
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
func (s *SQLiteStore) GetStaleRunning(ctx context.Context, cutoff time.Time) ([]*Task, error) {
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
func (s *SQLiteStore) SoftDelete(ctx context.Context, taskID string) error {
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
func (s *SQLiteStore) Delete(ctx context.Context, taskID string) error {
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

var _ Store = (*SQLiteStore)(nil)
