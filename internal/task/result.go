package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result is a single produced artifact for a task (spec.md §3). Content is
// either inline text or an external reference.
type Result struct {
	ID         string         `json:"id"`
	TaskID     string         `json:"taskId"`
	ResultType string         `json:"resultType"`
	Content    string         `json:"content,omitempty"`
	Reference  string         `json:"reference,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// ResultRepository is append-only: results are never updated, only created
// and listed newest-first (spec.md §4.1, "Sibling stores").
type ResultRepository interface {
	Create(ctx context.Context, r *Result) (*Result, error)
	FindByTaskID(ctx context.Context, taskID string) ([]*Result, error)
	DeleteByTaskID(ctx context.Context, taskID string) error
}

// MemoryResultRepository is the in-memory ResultRepository backend.
type MemoryResultRepository struct {
	mu      sync.RWMutex
	results map[string][]*Result
}

// NewMemoryResultRepository constructs an empty repository.
func NewMemoryResultRepository() *MemoryResultRepository {
	return &MemoryResultRepository{results: make(map[string][]*Result)}
}

// Create implements ResultRepository.
func (m *MemoryResultRepository) Create(_ context.Context, r *Result) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.results[r.TaskID] = append(m.results[r.TaskID], &cp)
	out := cp
	return &out, nil
}

// FindByTaskID implements ResultRepository, newest first.
func (m *MemoryResultRepository) FindByTaskID(_ context.Context, taskID string) ([]*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.results[taskID]
	out := make([]*Result, len(rows))
	copy(out, rows)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteByTaskID implements ResultRepository.
func (m *MemoryResultRepository) DeleteByTaskID(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.results, taskID)
	return nil
}

var _ ResultRepository = (*MemoryResultRepository)(nil)

// SQLResultRepository backs ResultRepository with any database/sql driver
// (SQLite or MySQL), sharing the connection pool of the corresponding
// Store. Grounded on the same append-only table pattern the teacher uses
// for workflow_steps (graph/store/sqlite.go).
type SQLResultRepository struct {
	db *sql.DB
}

// NewSQLResultRepository wraps an existing *sql.DB. The caller is
// responsible for having created the results table (see EnsureResultsTable).
func NewSQLResultRepository(db *sql.DB) *SQLResultRepository {
	return &SQLResultRepository{db: db}
}

// EnsureResultsTable creates the results table if absent. dialect selects
// the JSON column type ("sqlite" uses TEXT, "mysql" uses JSON).
func EnsureResultsTable(ctx context.Context, db *sql.DB, dialect string) error {
	metadataType := "TEXT"
	engineSuffix := ""
	if dialect == "mysql" {
		metadataType = "JSON"
		engineSuffix = " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
	}
	schema := `
CREATE TABLE IF NOT EXISTS results (
	id VARCHAR(64) PRIMARY KEY,
	task_id VARCHAR(64) NOT NULL,
	result_type VARCHAR(64) NOT NULL,
	content TEXT,
	reference VARCHAR(2048),
	metadata ` + metadataType + `,
	created_at DATETIME NOT NULL
)` + engineSuffix
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_results_task_id ON results(task_id)`)
	return err
}

// Create implements ResultRepository.
func (r *SQLResultRepository) Create(ctx context.Context, res *Result) (*Result, error) {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	metadata, err := marshalJSON(res.Metadata)
	if err != nil {
		return nil, err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO results (id, task_id, result_type, content, reference, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.TaskID, res.ResultType, res.Content, res.Reference, metadata, res.CreatedAt)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// FindByTaskID implements ResultRepository, newest first.
func (r *SQLResultRepository) FindByTaskID(ctx context.Context, taskID string) ([]*Result, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, task_id, result_type, content, reference, metadata, created_at FROM results WHERE task_id = ? ORDER BY created_at DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Result, 0)
	for rows.Next() {
		var res Result
		var metadataJSON sql.NullString
		var reference sql.NullString
		if err := rows.Scan(&res.ID, &res.TaskID, &res.ResultType, &res.Content, &reference, &metadataJSON, &res.CreatedAt); err != nil {
			return nil, err
		}
		res.Reference = reference.String
		if metadataJSON.Valid && metadataJSON.String != "" {
			_ = json.Unmarshal([]byte(metadataJSON.String), &res.Metadata)
		}
		out = append(out, &res)
	}
	return out, rows.Err()
}

// DeleteByTaskID implements ResultRepository.
func (r *SQLResultRepository) DeleteByTaskID(ctx context.Context, taskID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM results WHERE task_id = ?`, taskID)
	return err
}

var _ ResultRepository = (*SQLResultRepository)(nil)
