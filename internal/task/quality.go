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

// QualityReport is a single quality-gate verdict for one task/phase
// (spec.md §3). History is unbounded; the most recent row is authoritative.
type QualityReport struct {
	ID                    string         `json:"id"`
	TaskID                string         `json:"taskId"`
	Phase                 string         `json:"phase"`
	Score                 float64        `json:"score"`
	Passed                bool           `json:"passed"`
	HardConstraintsPassed bool           `json:"hardConstraintsPassed"`
	Details               map[string]any `json:"details,omitempty"`
	FixSuggestions        []string       `json:"fixSuggestions,omitempty"`
	RubricVersion         string         `json:"rubricVersion,omitempty"`
	ModelName             string         `json:"modelName,omitempty"`
	CheckedAt             time.Time      `json:"checkedAt"`
}

// QualityCheckRepository is append-only, mirroring ResultRepository.
type QualityCheckRepository interface {
	Create(ctx context.Context, r *QualityReport) (*QualityReport, error)
	FindByTaskID(ctx context.Context, taskID string) ([]*QualityReport, error)
	FindLatest(ctx context.Context, taskID, phase string) (*QualityReport, error)
	DeleteByTaskID(ctx context.Context, taskID string) error
}

// MemoryQualityCheckRepository is the in-memory backend.
type MemoryQualityCheckRepository struct {
	mu      sync.RWMutex
	reports map[string][]*QualityReport
}

// NewMemoryQualityCheckRepository constructs an empty repository.
func NewMemoryQualityCheckRepository() *MemoryQualityCheckRepository {
	return &MemoryQualityCheckRepository{reports: make(map[string][]*QualityReport)}
}

// Create implements QualityCheckRepository.
func (m *MemoryQualityCheckRepository) Create(_ context.Context, r *QualityReport) (*QualityReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CheckedAt.IsZero() {
		cp.CheckedAt = time.Now()
	}
	m.reports[r.TaskID] = append(m.reports[r.TaskID], &cp)
	out := cp
	return &out, nil
}

// FindByTaskID implements QualityCheckRepository, newest first.
func (m *MemoryQualityCheckRepository) FindByTaskID(_ context.Context, taskID string) ([]*QualityReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.reports[taskID]
	out := make([]*QualityReport, len(rows))
	copy(out, rows)
	sort.Slice(out, func(i, j int) bool { return out[i].CheckedAt.After(out[j].CheckedAt) })
	return out, nil
}

// FindLatest returns the most recent report for taskID/phase, or nil.
func (m *MemoryQualityCheckRepository) FindLatest(_ context.Context, taskID, phase string) (*QualityReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *QualityReport
	for _, r := range m.reports[taskID] {
		if r.Phase != phase {
			continue
		}
		if latest == nil || r.CheckedAt.After(latest.CheckedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

// DeleteByTaskID implements QualityCheckRepository.
func (m *MemoryQualityCheckRepository) DeleteByTaskID(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reports, taskID)
	return nil
}

var _ QualityCheckRepository = (*MemoryQualityCheckRepository)(nil)

// SQLQualityCheckRepository backs QualityCheckRepository with database/sql.
type SQLQualityCheckRepository struct {
	db *sql.DB
}

// NewSQLQualityCheckRepository wraps an existing *sql.DB.
func NewSQLQualityCheckRepository(db *sql.DB) *SQLQualityCheckRepository {
	return &SQLQualityCheckRepository{db: db}
}

// EnsureQualityReportsTable creates the quality_reports table if absent.
func EnsureQualityReportsTable(ctx context.Context, db *sql.DB, dialect string) error {
	jsonType := "TEXT"
	engineSuffix := ""
	if dialect == "mysql" {
		jsonType = "JSON"
		engineSuffix = " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
	}
	schema := `
CREATE TABLE IF NOT EXISTS quality_reports (
	id VARCHAR(64) PRIMARY KEY,
	task_id VARCHAR(64) NOT NULL,
	phase VARCHAR(32) NOT NULL,
	score DOUBLE NOT NULL,
	passed TINYINT(1) NOT NULL,
	hard_constraints_passed TINYINT(1) NOT NULL,
	details ` + jsonType + `,
	fix_suggestions ` + jsonType + `,
	rubric_version VARCHAR(32),
	model_name VARCHAR(128),
	checked_at DATETIME NOT NULL
)` + engineSuffix
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_quality_reports_task_id ON quality_reports(task_id)`)
	return err
}

// Create implements QualityCheckRepository.
func (r *SQLQualityCheckRepository) Create(ctx context.Context, rep *QualityReport) (*QualityReport, error) {
	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}
	if rep.CheckedAt.IsZero() {
		rep.CheckedAt = time.Now().UTC()
	}
	details, err := marshalJSON(rep.Details)
	if err != nil {
		return nil, err
	}
	suggestions, err := marshalJSON(rep.FixSuggestions)
	if err != nil {
		return nil, err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO quality_reports (id, task_id, phase, score, passed, hard_constraints_passed, details,
	fix_suggestions, rubric_version, model_name, checked_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.ID, rep.TaskID, rep.Phase, rep.Score, boolToInt(rep.Passed), boolToInt(rep.HardConstraintsPassed),
		details, suggestions, rep.RubricVersion, rep.ModelName, rep.CheckedAt)
	if err != nil {
		return nil, err
	}
	return rep, nil
}

func scanQualityReport(row interface {
	Scan(dest ...any) error
}) (*QualityReport, error) {
	var r QualityReport
	var passed, hardPassed int
	var details, suggestions sql.NullString
	var rubricVersion, modelName sql.NullString
	err := row.Scan(&r.ID, &r.TaskID, &r.Phase, &r.Score, &passed, &hardPassed, &details, &suggestions,
		&rubricVersion, &modelName, &r.CheckedAt)
	if err != nil {
		return nil, err
	}
	r.Passed = passed != 0
	r.HardConstraintsPassed = hardPassed != 0
	r.RubricVersion = rubricVersion.String
	r.ModelName = modelName.String
	if details.Valid && details.String != "" {
		_ = json.Unmarshal([]byte(details.String), &r.Details)
	}
	if suggestions.Valid && suggestions.String != "" {
		_ = json.Unmarshal([]byte(suggestions.String), &r.FixSuggestions)
	}
	return &r, nil
}

// FindByTaskID implements QualityCheckRepository, newest first.
func (r *SQLQualityCheckRepository) FindByTaskID(ctx context.Context, taskID string) ([]*QualityReport, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, task_id, phase, score, passed, hard_constraints_passed, details, fix_suggestions,
	rubric_version, model_name, checked_at
FROM quality_reports WHERE task_id = ? ORDER BY checked_at DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*QualityReport, 0)
	for rows.Next() {
		rep, err := scanQualityReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// FindLatest implements QualityCheckRepository.
func (r *SQLQualityCheckRepository) FindLatest(ctx context.Context, taskID, phase string) (*QualityReport, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, task_id, phase, score, passed, hard_constraints_passed, details, fix_suggestions,
	rubric_version, model_name, checked_at
FROM quality_reports WHERE task_id = ? AND phase = ? ORDER BY checked_at DESC LIMIT 1`, taskID, phase)
	rep, err := scanQualityReport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// DeleteByTaskID implements QualityCheckRepository.
func (r *SQLQualityCheckRepository) DeleteByTaskID(ctx context.Context, taskID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM quality_reports WHERE task_id = ?`, taskID)
	return err
}

var _ QualityCheckRepository = (*SQLQualityCheckRepository)(nil)
