package models

import "time"

// ScheduleTargetType is what kind of entity a Schedule synthesizes on fire.
type ScheduleTargetType string

const (
	ScheduleTargetTask     ScheduleTargetType = "TASK"
	ScheduleTargetWorkflow ScheduleTargetType = "WORKFLOW"
)

// Schedule is a cron-driven rule that periodically synthesizes a task or
// workflow submission.
type Schedule struct {
	ID            string             `json:"id" db:"id"`
	Name          string             `json:"name" db:"name"`
	TargetType    ScheduleTargetType `json:"target_type" db:"target_type"`
	TargetPayload map[string]any     `json:"target_payload"` // the task/workflow template to synthesize
	Cron          string             `json:"cron" db:"cron"`
	Enabled       bool               `json:"enabled" db:"enabled"`
	LastRun       *time.Time         `json:"last_run,omitempty" db:"last_run"`
	NextRun       *time.Time         `json:"next_run,omitempty" db:"next_run"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" db:"updated_at"`
}
