// Package postgres implements pkg/storage.Store on top of jmoiron/sqlx and
// lib/pq, generalizing internal/storage/postgres.go's DBInterface/Begin/
// Commit/Rollback shape from GoFlow's single workflow/task/dependency schema
// to the orchestrator's four entities (agents, tasks, workflows, schedules).
//
// Fields that don't map to scalar SQL columns (Agent.Capabilities,
// Agent.Config, Task.Payload, Workflow.Steps, Schedule.TargetPayload, ...)
// are stored as jsonb/text[] and encoded/decoded explicitly around each
// query, the way GoFlow's dependencies map was assembled by hand from rows
// rather than scanned directly into the struct.
package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignatij/orchestrator/pkg/models"
	"github.com/ignatij/orchestrator/pkg/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// DBInterface is the slice of *sqlx.DB / *sqlx.Tx the store needs, letting
// Begin hand back a Store wrapping a transaction.
type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// Store is the Postgres-backed pkg/storage.Store.
type Store struct {
	db DBInterface
}

func New(connStr string) (*Store, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Begin starts a transaction, returning a Store scoped to it.
func (s *Store) Begin() (*Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &Store{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *Store) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *Store) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *Store) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // no-op for *sqlx.Tx
}

// --- Agents ---

func (s *Store) SaveAgent(a models.Agent) error {
	config, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("marshal agent config: %w", err)
	}
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal agent metadata: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO agents (id, name, type, status, capabilities, config, last_seen, created_at, updated_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, status = EXCLUDED.status,
			capabilities = EXCLUDED.capabilities, config = EXCLUDED.config,
			last_seen = EXCLUDED.last_seen, updated_at = EXCLUDED.updated_at, metadata = EXCLUDED.metadata`,
		a.ID, a.Name, a.Type, a.Status, pq.Array(a.Capabilities), config, a.LastSeen, a.CreatedAt, a.UpdatedAt, metadata)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(id string) (models.Agent, error) {
	var row agentRow
	err := s.db.Get(&row, "SELECT * FROM agents WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Agent{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Agent{}, err
	}
	return row.toModel()
}

func (s *Store) ListAgents() ([]models.Agent, error) {
	var rows []agentRow
	if err := s.db.Select(&rows, "SELECT * FROM agents ORDER BY created_at"); err != nil {
		return nil, err
	}
	out := make([]models.Agent, 0, len(rows))
	for _, r := range rows {
		a, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) DeleteAgent(id string) error {
	_, err := s.db.Exec("DELETE FROM agents WHERE id = $1", id)
	return err
}

type agentRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Type         string         `db:"type"`
	Status       string         `db:"status"`
	Capabilities pq.StringArray `db:"capabilities"`
	Config       []byte         `db:"config"`
	LastSeen     sql.NullTime   `db:"last_seen"`
	CreatedAt    sql.NullTime   `db:"created_at"`
	UpdatedAt    sql.NullTime   `db:"updated_at"`
	Metadata     []byte         `db:"metadata"`
}

func (r agentRow) toModel() (models.Agent, error) {
	a := models.Agent{
		ID:           r.ID,
		Name:         r.Name,
		Type:         r.Type,
		Status:       models.AgentStatus(r.Status),
		Capabilities: []string(r.Capabilities),
		LastSeen:     r.LastSeen.Time,
		CreatedAt:    r.CreatedAt.Time,
		UpdatedAt:    r.UpdatedAt.Time,
	}
	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &a.Config); err != nil {
			return models.Agent{}, fmt.Errorf("unmarshal agent config: %w", err)
		}
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &a.Metadata); err != nil {
			return models.Agent{}, fmt.Errorf("unmarshal agent metadata: %w", err)
		}
	}
	return a, nil
}

// --- Tasks ---

func (s *Store) SaveTask(t models.Task) error {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}
	result, err := json.Marshal(t.Result)
	if err != nil {
		return fmt.Errorf("marshal task result: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO tasks (id, agent_id, type, priority, status, payload, result, error, created_at, started_at, completed_at, timeout_ms, workflow_id, step_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			agent_id = EXCLUDED.agent_id, status = EXCLUDED.status, payload = EXCLUDED.payload,
			result = EXCLUDED.result, error = EXCLUDED.error, started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`,
		t.ID, nullString(t.AgentID), t.Type, t.Priority, t.Status, payload, result, t.Error,
		t.CreatedAt, t.StartedAt, t.CompletedAt, t.Timeout.Milliseconds(), nullString(t.WorkflowID), nullString(t.StepID))
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(id string) (models.Task, error) {
	var row taskRow
	err := s.db.Get(&row, "SELECT * FROM tasks WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Task{}, err
	}
	return row.toModel()
}

func (s *Store) ListTasks() ([]models.Task, error) {
	var rows []taskRow
	if err := s.db.Select(&rows, "SELECT * FROM tasks ORDER BY created_at"); err != nil {
		return nil, err
	}
	out := make([]models.Task, 0, len(rows))
	for _, r := range rows {
		t, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

type taskRow struct {
	ID          string         `db:"id"`
	AgentID     sql.NullString `db:"agent_id"`
	Type        string         `db:"type"`
	Priority    int            `db:"priority"`
	Status      string         `db:"status"`
	Payload     []byte         `db:"payload"`
	Result      []byte         `db:"result"`
	Error       string         `db:"error"`
	CreatedAt   sql.NullTime   `db:"created_at"`
	StartedAt   sql.NullTime   `db:"started_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
	TimeoutMs   int64          `db:"timeout_ms"`
	WorkflowID  sql.NullString `db:"workflow_id"`
	StepID      sql.NullString `db:"step_id"`
}

func (r taskRow) toModel() (models.Task, error) {
	t := models.Task{
		ID:         r.ID,
		AgentID:    r.AgentID.String,
		Type:       r.Type,
		Priority:   r.Priority,
		Status:     models.TaskStatus(r.Status),
		Error:      r.Error,
		CreatedAt:  r.CreatedAt.Time,
		Timeout:    millisToDuration(r.TimeoutMs),
		WorkflowID: r.WorkflowID.String,
		StepID:     r.StepID.String,
	}
	if r.StartedAt.Valid {
		t.StartedAt = &r.StartedAt.Time
	}
	if r.CompletedAt.Valid {
		t.CompletedAt = &r.CompletedAt.Time
	}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &t.Payload); err != nil {
			return models.Task{}, fmt.Errorf("unmarshal task payload: %w", err)
		}
	}
	if len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, &t.Result); err != nil {
			return models.Task{}, fmt.Errorf("unmarshal task result: %w", err)
		}
	}
	return t, nil
}

// --- Workflows ---

func (s *Store) SaveWorkflow(w models.Workflow) error {
	steps, err := json.Marshal(w.Steps)
	if err != nil {
		return fmt.Errorf("marshal workflow steps: %w", err)
	}
	config, err := json.Marshal(w.Config)
	if err != nil {
		return fmt.Errorf("marshal workflow config: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO workflows (id, name, description, steps, status, created_at, updated_at, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description, steps = EXCLUDED.steps,
			status = EXCLUDED.status, updated_at = EXCLUDED.updated_at, config = EXCLUDED.config`,
		w.ID, w.Name, w.Description, steps, w.Status, w.CreatedAt, w.UpdatedAt, config)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

func (s *Store) GetWorkflow(id string) (models.Workflow, error) {
	var row workflowRow
	err := s.db.Get(&row, "SELECT * FROM workflows WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Workflow{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Workflow{}, err
	}
	return row.toModel()
}

func (s *Store) ListWorkflows() ([]models.Workflow, error) {
	var rows []workflowRow
	if err := s.db.Select(&rows, "SELECT * FROM workflows ORDER BY created_at DESC"); err != nil {
		return nil, err
	}
	out := make([]models.Workflow, 0, len(rows))
	for _, r := range rows {
		wf, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

type workflowRow struct {
	ID          string       `db:"id"`
	Name        string       `db:"name"`
	Description string       `db:"description"`
	Steps       []byte       `db:"steps"`
	Status      string       `db:"status"`
	CreatedAt   sql.NullTime `db:"created_at"`
	UpdatedAt   sql.NullTime `db:"updated_at"`
	Config      []byte       `db:"config"`
}

func (r workflowRow) toModel() (models.Workflow, error) {
	wf := models.Workflow{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Status:      models.WorkflowStatus(r.Status),
		CreatedAt:   r.CreatedAt.Time,
		UpdatedAt:   r.UpdatedAt.Time,
	}
	if len(r.Steps) > 0 {
		if err := json.Unmarshal(r.Steps, &wf.Steps); err != nil {
			return models.Workflow{}, fmt.Errorf("unmarshal workflow steps: %w", err)
		}
	}
	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &wf.Config); err != nil {
			return models.Workflow{}, fmt.Errorf("unmarshal workflow config: %w", err)
		}
	}
	return wf, nil
}

// --- Schedules ---

func (s *Store) SaveSchedule(sched models.Schedule) error {
	payload, err := json.Marshal(sched.TargetPayload)
	if err != nil {
		return fmt.Errorf("marshal schedule target payload: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO schedules (id, name, target_type, target_payload, cron, enabled, last_run, next_run, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, target_type = EXCLUDED.target_type, target_payload = EXCLUDED.target_payload,
			cron = EXCLUDED.cron, enabled = EXCLUDED.enabled, last_run = EXCLUDED.last_run,
			next_run = EXCLUDED.next_run, updated_at = EXCLUDED.updated_at`,
		sched.ID, sched.Name, sched.TargetType, payload, sched.Cron, sched.Enabled,
		sched.LastRun, sched.NextRun, sched.CreatedAt, sched.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(id string) (models.Schedule, error) {
	var row scheduleRow
	err := s.db.Get(&row, "SELECT * FROM schedules WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Schedule{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Schedule{}, err
	}
	return row.toModel()
}

func (s *Store) ListSchedules() ([]models.Schedule, error) {
	var rows []scheduleRow
	if err := s.db.Select(&rows, "SELECT * FROM schedules ORDER BY created_at"); err != nil {
		return nil, err
	}
	out := make([]models.Schedule, 0, len(rows))
	for _, r := range rows {
		sched, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, nil
}

func (s *Store) DeleteSchedule(id string) error {
	_, err := s.db.Exec("DELETE FROM schedules WHERE id = $1", id)
	return err
}

type scheduleRow struct {
	ID            string       `db:"id"`
	Name          string       `db:"name"`
	TargetType    string       `db:"target_type"`
	TargetPayload []byte       `db:"target_payload"`
	Cron          string       `db:"cron"`
	Enabled       bool         `db:"enabled"`
	LastRun       sql.NullTime `db:"last_run"`
	NextRun       sql.NullTime `db:"next_run"`
	CreatedAt     sql.NullTime `db:"created_at"`
	UpdatedAt     sql.NullTime `db:"updated_at"`
}

func (r scheduleRow) toModel() (models.Schedule, error) {
	sched := models.Schedule{
		ID:         r.ID,
		Name:       r.Name,
		TargetType: models.ScheduleTargetType(r.TargetType),
		Cron:       r.Cron,
		Enabled:    r.Enabled,
		CreatedAt:  r.CreatedAt.Time,
		UpdatedAt:  r.UpdatedAt.Time,
	}
	if r.LastRun.Valid {
		sched.LastRun = &r.LastRun.Time
	}
	if r.NextRun.Valid {
		sched.NextRun = &r.NextRun.Time
	}
	if len(r.TargetPayload) > 0 {
		if err := json.Unmarshal(r.TargetPayload, &sched.TargetPayload); err != nil {
			return models.Schedule{}, fmt.Errorf("unmarshal schedule target payload: %w", err)
		}
	}
	return sched, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func millisToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

