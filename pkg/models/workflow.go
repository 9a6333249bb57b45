package models

import "time"

// WorkflowStatus is the lifecycle state of a Workflow.
type WorkflowStatus string

const (
	WorkflowDraft     WorkflowStatus = "DRAFT"
	WorkflowActive    WorkflowStatus = "ACTIVE"
	WorkflowPaused    WorkflowStatus = "PAUSED"
	WorkflowCompleted WorkflowStatus = "COMPLETED"
	WorkflowFailed    WorkflowStatus = "FAILED"
	WorkflowCancelled WorkflowStatus = "CANCELLED"
)

// ErrorPolicy is the workflow-level behavior on a failed step, carried in Workflow.Config.
type ErrorPolicy string

const (
	// FailFast aborts the workflow on the first Failed/TimedOut/Cancelled step.
	FailFast ErrorPolicy = "fail_fast"
	// ContinueOnError skips only the dependents of a failed step; independent branches proceed.
	ContinueOnError ErrorPolicy = "continue_on_error"
)

// WorkflowStep is one node of a workflow's dependency DAG. Immutable once the
// workflow is Active.
type WorkflowStep struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`            // task type to dispatch
	Agent      string         `json:"agent,omitempty"` // capability hint, or empty
	Payload    map[string]any `json:"payload,omitempty"`
	Parallel   bool           `json:"parallel"`
	Timeout    time.Duration  `json:"timeout"`
	DependsOn  []string       `json:"depends_on,omitempty"`
}

// Workflow is a declarative, DAG-shaped collection of steps; each step, when
// eligible, produces a Task.
type Workflow struct {
	ID          string         `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	Description string         `json:"description" db:"description"`
	Steps       []WorkflowStep `json:"steps"`
	Status      WorkflowStatus `json:"status" db:"status"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
	Config      map[string]any `json:"config,omitempty"`
}

// ErrorPolicy reads the fail_fast/continue_on_error key from Config, defaulting to FailFast.
func (w *Workflow) ErrorPolicy() ErrorPolicy {
	if w.Config == nil {
		return FailFast
	}
	if v, ok := w.Config["error_policy"].(string); ok && ErrorPolicy(v) == ContinueOnError {
		return ContinueOnError
	}
	return FailFast
}

// StepByID returns the step with the given id, or false if none matches.
func (w *Workflow) StepByID(id string) (WorkflowStep, bool) {
	for _, s := range w.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return WorkflowStep{}, false
}
