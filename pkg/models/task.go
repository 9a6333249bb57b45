package models

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCancelled TaskStatus = "CANCELLED"
	TaskTimedOut  TaskStatus = "TIMED_OUT"
)

// IsTerminal reports whether s is one of the terminal statuses.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled, TaskTimedOut:
		return true
	default:
		return false
	}
}

// Task is a single unit of dispatchable work with a type, payload, priority and timeout.
type Task struct {
	ID          string         `json:"id" db:"id"`
	AgentID     string         `json:"agent_id,omitempty" db:"agent_id"`
	Type        string         `json:"type" db:"type"`
	Priority    int            `json:"priority" db:"priority"`
	Status      TaskStatus     `json:"status" db:"status"`
	Payload     map[string]any `json:"payload,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	Timeout     time.Duration  `json:"timeout" db:"timeout"`
	WorkflowID  string         `json:"workflow_id,omitempty" db:"workflow_id"`
	StepID      string         `json:"step_id,omitempty" db:"step_id"` // id of the WorkflowStep this task was synthesized from
}
