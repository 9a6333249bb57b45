// Package scheduler turns cron expressions into synthesized Task or
// Workflow submissions (spec §4.4), using robfig/cron/v3's second-precision
// parser.
//
// Grounded on original_source/services/orchestrator/internal/scheduler/
// scheduler.go for the AddSchedule/RemoveSchedule/executeSchedule shape.
// That source keys cron.Remove by the schedule's own string ID, which
// cron.Remove silently ignores since it expects the cron.EntryID int
// returned by AddFunc; this version tracks that mapping so removal actually
// takes effect. There is no update operation: changing a schedule means
// removing it and adding it again.
package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/orchestrator/internal/log"
	"github.com/ignatij/orchestrator/internal/orcherrors"
	"github.com/ignatij/orchestrator/pkg/models"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Coordinator is the narrow slice of internal/coordinator.Coordinator the
// Scheduler needs to synthesize work.
type Coordinator interface {
	SubmitTask(task models.Task) (models.Task, error)
	SubmitWorkflow(wf models.Workflow) (models.Workflow, error)
	ExecuteWorkflow(id string) error
}

// parser matches cron.WithSeconds()'s six-field layout (seconds included);
// used to validate expressions before AddFunc ever sees them, since
// cron.ParseStandard's five-field grammar would reject every schedule this
// Scheduler actually registers.
var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler is the Scheduler component (spec §4.4).
type Scheduler struct {
	coord Coordinator
	cron  *cron.Cron

	mu        sync.RWMutex
	schedules map[string]*models.Schedule
	entries   map[string]cron.EntryID

	log *logrus.Entry
}

func New(coord Coordinator) *Scheduler {
	return &Scheduler{
		coord:     coord,
		cron:      cron.New(cron.WithSeconds()),
		schedules: make(map[string]*models.Schedule),
		entries:   make(map[string]cron.EntryID),
		log:       log.Component("scheduler"),
	}
}

func (s *Scheduler) Start() { s.cron.Start() }

func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

// AddSchedule validates the cron expression and registers the schedule.
func (s *Scheduler) AddSchedule(sched models.Schedule) (models.Schedule, error) {
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	if _, err := parser.Parse(sched.Cron); err != nil {
		return models.Schedule{}, errors.Wrapf(orcherrors.Invalid, "invalid cron expression %q: %v", sched.Cron, err)
	}

	now := time.Now()
	sched.CreatedAt = now
	sched.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if !sched.Enabled {
		s.schedules[sched.ID] = &sched
		return sched, nil
	}
	id := sched.ID
	entryID, err := s.cron.AddFunc(sched.Cron, func() { s.fire(id) })
	if err != nil {
		return models.Schedule{}, errors.Wrap(err, "failed to register cron job")
	}
	s.entries[sched.ID] = entryID
	s.schedules[sched.ID] = &sched
	s.log.WithField("schedule_id", sched.ID).WithField("cron", sched.Cron).Info("schedule added")
	return sched, nil
}

// RemoveSchedule unregisters the cron job and forgets the schedule.
func (s *Scheduler) RemoveSchedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	delete(s.schedules, id)
	s.log.WithField("schedule_id", id).Info("schedule removed")
	return nil
}

func (s *Scheduler) GetSchedule(id string) (models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[id]
	if !ok {
		return models.Schedule{}, orcherrors.NotFound
	}
	return *sched, nil
}

func (s *Scheduler) ListSchedules() []models.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, *sched)
	}
	return out
}

// fire runs at the scheduled time, synthesizing a Task or Workflow submission
// depending on the schedule's target type (spec §4.4).
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	sched, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	sched.LastRun = &now
	if entry, ok := s.entries[id]; ok {
		next := s.cron.Entry(entry).Next
		sched.NextRun = &next
	}
	snapshot := *sched
	s.mu.Unlock()

	s.log.WithField("schedule_id", id).WithField("target_type", snapshot.TargetType).Info("firing schedule")

	switch snapshot.TargetType {
	case models.ScheduleTargetTask:
		s.fireTask(snapshot)
	case models.ScheduleTargetWorkflow:
		s.fireWorkflow(snapshot)
	default:
		s.log.WithField("schedule_id", id).Error("unknown schedule target type")
	}
}

func (s *Scheduler) fireTask(sched models.Schedule) {
	taskType, _ := sched.TargetPayload["type"].(string)
	agentID, _ := sched.TargetPayload["agent_id"].(string)
	payload, _ := sched.TargetPayload["payload"].(map[string]any)

	var priority int
	if p, ok := sched.TargetPayload["priority"].(float64); ok {
		priority = int(p)
	}

	task := models.Task{Type: taskType, AgentID: agentID, Priority: priority, Payload: payload}
	if _, err := s.coord.SubmitTask(task); err != nil {
		s.log.WithField("schedule_id", sched.ID).WithError(err).Error("failed to submit scheduled task")
	}
}

func (s *Scheduler) fireWorkflow(sched models.Schedule) {
	name, _ := sched.TargetPayload["name"].(string)
	description, _ := sched.TargetPayload["description"].(string)
	config, _ := sched.TargetPayload["config"].(map[string]any)

	var steps []models.WorkflowStep
	if raw, ok := sched.TargetPayload["steps"].([]any); ok {
		for _, item := range raw {
			stepMap, ok := item.(map[string]any)
			if !ok {
				continue
			}
			steps = append(steps, parseStep(stepMap))
		}
	}

	wf := models.Workflow{Name: name, Description: description, Steps: steps, Config: config}
	created, err := s.coord.SubmitWorkflow(wf)
	if err != nil {
		s.log.WithField("schedule_id", sched.ID).WithError(err).Error("failed to submit scheduled workflow")
		return
	}
	if err := s.coord.ExecuteWorkflow(created.ID); err != nil {
		s.log.WithField("workflow_id", created.ID).WithError(err).Error("failed to execute scheduled workflow")
	}
}

func parseStep(m map[string]any) models.WorkflowStep {
	step := models.WorkflowStep{}
	step.ID, _ = m["id"].(string)
	step.Type, _ = m["type"].(string)
	step.Agent, _ = m["agent"].(string)
	step.Payload, _ = m["payload"].(map[string]any)
	step.Parallel, _ = m["parallel"].(bool)
	if timeoutSec, ok := m["timeout"].(float64); ok {
		step.Timeout = time.Duration(timeoutSec) * time.Second
	}
	if deps, ok := m["depends_on"].([]any); ok {
		for _, d := range deps {
			if ds, ok := d.(string); ok {
				step.DependsOn = append(step.DependsOn, ds)
			}
		}
	}
	return step
}
