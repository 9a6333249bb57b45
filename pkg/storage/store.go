// Package storage defines the pluggable persistence boundary for the
// orchestrator. The core keeps agents, tasks, workflows and schedules in
// memory (see the Coordinator, Workflow Engine and Scheduler); Store is an
// optional durability hook components may call on state transitions. A nil
// Store is a valid configuration — every property test runs the engine
// without one.
package storage

import "github.com/ignatij/orchestrator/pkg/models"

// ErrNotFound is returned by Get-style operations when the id is unknown.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "storage: not found" }

// Store persists snapshots of the four mutable entities. Implementations are
// not required to be transactional across entities; each save call is a
// single best-effort upsert.
type Store interface {
	SaveAgent(models.Agent) error
	GetAgent(id string) (models.Agent, error)
	ListAgents() ([]models.Agent, error)
	DeleteAgent(id string) error

	SaveTask(models.Task) error
	GetTask(id string) (models.Task, error)
	ListTasks() ([]models.Task, error)

	SaveWorkflow(models.Workflow) error
	GetWorkflow(id string) (models.Workflow, error)
	ListWorkflows() ([]models.Workflow, error)

	SaveSchedule(models.Schedule) error
	GetSchedule(id string) (models.Schedule, error)
	ListSchedules() ([]models.Schedule, error)
	DeleteSchedule(id string) error

	Close() error
}
