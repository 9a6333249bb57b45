package scheduler_test

import (
	"sync"
	"testing"
	"time"

	"github.com/ignatij/orchestrator/internal/orcherrors"
	"github.com/ignatij/orchestrator/internal/scheduler"
	"github.com/ignatij/orchestrator/pkg/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCoordinator struct {
	mu        sync.Mutex
	tasks     []models.Task
	workflows []models.Workflow
	executed  []string
}

func (f *fakeCoordinator) SubmitTask(task models.Task) (models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task.ID = "task-" + task.Type
	f.tasks = append(f.tasks, task)
	return task, nil
}

func (f *fakeCoordinator) SubmitWorkflow(wf models.Workflow) (models.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf.ID = "wf-" + wf.Name
	f.workflows = append(f.workflows, wf)
	return wf, nil
}

func (f *fakeCoordinator) ExecuteWorkflow(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, id)
	return nil
}

func TestAddScheduleRejectsInvalidCron(t *testing.T) {
	s := scheduler.New(&fakeCoordinator{})
	_, err := s.AddSchedule(models.Schedule{Name: "bad", Cron: "not a cron expression", Enabled: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, orcherrors.Invalid))
}

func TestAddScheduleAssignsIDAndFires(t *testing.T) {
	coord := &fakeCoordinator{}
	s := scheduler.New(coord)
	s.Start()
	defer s.Stop()

	sched, err := s.AddSchedule(models.Schedule{
		Name:       "every-second",
		Cron:       "* * * * * *",
		Enabled:    true,
		TargetType: models.ScheduleTargetTask,
		TargetPayload: map[string]any{
			"type": "ping",
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sched.ID)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		coord.mu.Lock()
		n := len(coord.tasks)
		coord.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	coord.mu.Lock()
	defer coord.mu.Unlock()
	require.GreaterOrEqual(t, len(coord.tasks), 1)
	assert.Equal(t, "ping", coord.tasks[0].Type)
}

func TestRemoveScheduleStopsFiring(t *testing.T) {
	coord := &fakeCoordinator{}
	s := scheduler.New(coord)
	s.Start()
	defer s.Stop()

	sched, err := s.AddSchedule(models.Schedule{
		Name:          "disabled-soon",
		Cron:          "* * * * * *",
		Enabled:       true,
		TargetType:    models.ScheduleTargetTask,
		TargetPayload: map[string]any{"type": "ping"},
	})
	require.NoError(t, err)

	require.NoError(t, s.RemoveSchedule(sched.ID))

	_, err = s.GetSchedule(sched.ID)
	assert.True(t, errors.Is(err, orcherrors.NotFound))

	time.Sleep(50 * time.Millisecond)
	coord.mu.Lock()
	before := len(coord.tasks)
	coord.mu.Unlock()

	time.Sleep(1500 * time.Millisecond)

	coord.mu.Lock()
	defer coord.mu.Unlock()
	assert.Equal(t, before, len(coord.tasks), "a removed schedule must not fire again")
}

func TestDisabledScheduleIsStoredButNeverFires(t *testing.T) {
	coord := &fakeCoordinator{}
	s := scheduler.New(coord)
	s.Start()
	defer s.Stop()

	sched, err := s.AddSchedule(models.Schedule{
		Name:    "disabled",
		Cron:    "* * * * * *",
		Enabled: false,
	})
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)

	coord.mu.Lock()
	defer coord.mu.Unlock()
	assert.Empty(t, coord.tasks)

	got, err := s.GetSchedule(sched.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestListSchedulesReturnsAll(t *testing.T) {
	coord := &fakeCoordinator{}
	s := scheduler.New(coord)

	_, err := s.AddSchedule(models.Schedule{Name: "one", Cron: "0 0 * * * *"})
	require.NoError(t, err)
	_, err = s.AddSchedule(models.Schedule{Name: "two", Cron: "0 0 * * * *"})
	require.NoError(t, err)

	assert.Len(t, s.ListSchedules(), 2)
}
