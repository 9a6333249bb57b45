package workflow_test

import (
	"sync"
	"testing"

	"github.com/ignatij/orchestrator/internal/orcherrors"
	"github.com/ignatij/orchestrator/internal/workflow"
	"github.com/ignatij/orchestrator/pkg/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCoordinator struct {
	mu        sync.Mutex
	nextID    int
	submitted []models.Task
	statuses  map[string]models.WorkflowStatus
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{statuses: make(map[string]models.WorkflowStatus)}
}

func (f *fakeCoordinator) SubmitTask(task models.Task) (models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	task.ID = task.StepID + "-task"
	f.submitted = append(f.submitted, task)
	return task, nil
}

func (f *fakeCoordinator) UpdateWorkflowStatus(id string, status models.WorkflowStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	return nil
}

func (f *fakeCoordinator) statusOf(id string) models.WorkflowStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

func linearWorkflow() models.Workflow {
	return models.Workflow{
		ID: "wf-1",
		Steps: []models.WorkflowStep{
			{ID: "a", Type: "fetch"},
			{ID: "b", Type: "transform", DependsOn: []string{"a"}},
			{ID: "c", Type: "publish", DependsOn: []string{"b"}},
		},
	}
}

func TestExecuteSubmitsOnlyRootSteps(t *testing.T) {
	coord := newFakeCoordinator()
	e := workflow.New(coord)

	require.NoError(t, e.Execute(linearWorkflow()))

	coord.mu.Lock()
	defer coord.mu.Unlock()
	require.Len(t, coord.submitted, 1)
	assert.Equal(t, "a", coord.submitted[0].StepID)
}

func TestCompletingStepUnblocksDependent(t *testing.T) {
	coord := newFakeCoordinator()
	e := workflow.New(coord)
	wf := linearWorkflow()
	require.NoError(t, e.Execute(wf))

	e.OnTaskTerminal(models.Task{ID: "a-task", WorkflowID: "wf-1", Status: models.TaskCompleted})

	coord.mu.Lock()
	require.Len(t, coord.submitted, 2)
	assert.Equal(t, "b", coord.submitted[1].StepID)
	coord.mu.Unlock()

	e.OnTaskTerminal(models.Task{ID: "b-task", WorkflowID: "wf-1", Status: models.TaskCompleted})
	coord.mu.Lock()
	require.Len(t, coord.submitted, 3)
	assert.Equal(t, "c", coord.submitted[2].StepID)
	coord.mu.Unlock()

	e.OnTaskTerminal(models.Task{ID: "c-task", WorkflowID: "wf-1", Status: models.TaskCompleted})
	assert.Equal(t, models.WorkflowCompleted, coord.statusOf("wf-1"))
}

func TestFailFastStopsWorkflowButLeavesRunningTasks(t *testing.T) {
	coord := newFakeCoordinator()
	e := workflow.New(coord)
	wf := models.Workflow{
		ID: "wf-2",
		Steps: []models.WorkflowStep{
			{ID: "a", Type: "fetch"},
			{ID: "b", Type: "other"},
			{ID: "c", Type: "join", DependsOn: []string{"a", "b"}},
		},
	}
	require.NoError(t, e.Execute(wf))

	e.OnTaskTerminal(models.Task{ID: "a-task", WorkflowID: "wf-2", Status: models.TaskFailed})
	assert.Equal(t, models.WorkflowStatus(""), coord.statusOf("wf-2"), "workflow not done until b resolves too")

	e.OnTaskTerminal(models.Task{ID: "b-task", WorkflowID: "wf-2", Status: models.TaskCompleted})
	assert.Equal(t, models.WorkflowFailed, coord.statusOf("wf-2"))

	coord.mu.Lock()
	defer coord.mu.Unlock()
	for _, task := range coord.submitted {
		assert.NotEqual(t, "c", task.StepID, "fail_fast must not submit c even though b completed")
	}
}

func TestContinueOnErrorSkipsOnlyDependentBranch(t *testing.T) {
	coord := newFakeCoordinator()
	e := workflow.New(coord)
	wf := models.Workflow{
		ID:     "wf-3",
		Config: map[string]any{"error_policy": "continue_on_error"},
		Steps: []models.WorkflowStep{
			{ID: "a", Type: "fetch"},
			{ID: "b", Type: "independent"},
			{ID: "c", Type: "depends_on_a", DependsOn: []string{"a"}},
		},
	}
	require.NoError(t, e.Execute(wf))

	e.OnTaskTerminal(models.Task{ID: "a-task", WorkflowID: "wf-3", Status: models.TaskFailed})
	e.OnTaskTerminal(models.Task{ID: "b-task", WorkflowID: "wf-3", Status: models.TaskCompleted})

	assert.Equal(t, models.WorkflowFailed, coord.statusOf("wf-3"))

	coord.mu.Lock()
	defer coord.mu.Unlock()
	for _, task := range coord.submitted {
		assert.NotEqual(t, "c", task.StepID, "continue_on_error must skip c, a dependent of the failed step")
	}
}

func TestExecuteRejectsCycles(t *testing.T) {
	coord := newFakeCoordinator()
	e := workflow.New(coord)
	wf := models.Workflow{
		ID: "wf-cycle",
		Steps: []models.WorkflowStep{
			{ID: "a", DependsOn: []string{"b"}},
			{ID: "b", DependsOn: []string{"a"}},
		},
	}
	err := e.Execute(wf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, orcherrors.Invalid))
	assert.Equal(t, models.WorkflowFailed, coord.statusOf("wf-cycle"))
}

func TestExecuteRejectsDanglingDependency(t *testing.T) {
	coord := newFakeCoordinator()
	e := workflow.New(coord)
	wf := models.Workflow{
		ID: "wf-dangling",
		Steps: []models.WorkflowStep{
			{ID: "a", DependsOn: []string{"nonexistent"}},
		},
	}
	err := e.Execute(wf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, orcherrors.Invalid))
}
