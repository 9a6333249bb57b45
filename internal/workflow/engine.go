// Package workflow implements the DAG dependency resolution and step
// dispatch described in spec §4.3. It is driven entirely by task-completion
// events from the Coordinator rather than a single up-front execution order,
// since steps run concurrently and results arrive asynchronously.
//
// The Kahn's-algorithm cycle check and in-degree bookkeeping are grounded on
// pkg/service/service.go's topologicalSort; the per-execution lifecycle
// (pending count, recorded errors, one-shot cleanup) is grounded on
// pkg/service/worker_pool.go's executionState. original_source's
// ExecuteWorkflow submits every step at once with no dependency ordering at
// all; this engine is the real DAG scheduler the spec calls for.
package workflow

import (
	"sync"

	"github.com/ignatij/orchestrator/internal/log"
	"github.com/ignatij/orchestrator/internal/orcherrors"
	"github.com/ignatij/orchestrator/pkg/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Coordinator is the narrow slice of internal/coordinator.Coordinator the
// Workflow Engine needs. Defined here, satisfied structurally, to avoid a
// package import cycle with internal/coordinator.
type Coordinator interface {
	SubmitTask(task models.Task) (models.Task, error)
	UpdateWorkflowStatus(id string, status models.WorkflowStatus) error
}

// execution tracks one in-flight workflow's DAG state.
type execution struct {
	mu         sync.Mutex
	workflow   models.Workflow
	policy     models.ErrorPolicy
	dependents map[string][]string // stepID -> steps that depend on it
	remaining  map[string]int      // stepID -> unmet dependency count
	stepStatus map[string]models.TaskStatus
	taskToStep map[string]string
	skipped    map[string]bool
	failed     bool
	doneCount  int
	total      int
	cleanup    sync.Once
}

// Engine is the Workflow Engine component (spec §4.3).
type Engine struct {
	coord Coordinator

	mu         sync.RWMutex
	executions map[string]*execution

	log *logrus.Entry
}

func New(coord Coordinator) *Engine {
	return &Engine{
		coord:      coord,
		executions: make(map[string]*execution),
		log:        log.Component("workflow"),
	}
}

// Execute validates the workflow's DAG and submits its initially-ready steps
// (those with no DependsOn, or whose dependencies are already satisfied).
func (e *Engine) Execute(wf models.Workflow) error {
	dependents, remaining, err := buildGraph(wf.Steps)
	if err != nil {
		_ = e.coord.UpdateWorkflowStatus(wf.ID, models.WorkflowFailed)
		return err
	}

	exec := &execution{
		workflow:   wf,
		policy:     wf.ErrorPolicy(),
		dependents: dependents,
		remaining:  remaining,
		stepStatus: make(map[string]models.TaskStatus),
		taskToStep: make(map[string]string),
		skipped:    make(map[string]bool),
		total:      len(wf.Steps),
	}

	e.mu.Lock()
	e.executions[wf.ID] = exec
	e.mu.Unlock()

	var ready []models.WorkflowStep
	for _, step := range wf.Steps {
		if remaining[step.ID] == 0 {
			ready = append(ready, step)
		}
	}
	if len(ready) == 0 && len(wf.Steps) > 0 {
		return errors.Wrap(orcherrors.Invalid, "workflow has no ready steps")
	}

	for _, step := range ready {
		e.submitStep(exec, step)
	}
	return nil
}

func (e *Engine) submitStep(exec *execution, step models.WorkflowStep) {
	task := models.Task{
		Type:       step.Type,
		Priority:   0,
		Payload:    step.Payload,
		Timeout:    step.Timeout,
		WorkflowID: exec.workflow.ID,
		StepID:     step.ID,
	}
	if step.Agent != "" {
		task.AgentID = step.Agent
	}
	submitted, err := e.coord.SubmitTask(task)
	if err != nil {
		e.log.WithField("workflow_id", exec.workflow.ID).WithField("step_id", step.ID).
			Warn("failed to submit step, marking failed")
		e.onStepResolved(exec, step.ID, models.TaskFailed)
		return
	}
	exec.mu.Lock()
	exec.taskToStep[submitted.ID] = step.ID
	exec.mu.Unlock()
}

// OnTaskTerminal advances the DAG for a workflow-bound task that just
// reached a terminal state (spec §4.1/§4.3 wiring from the Coordinator).
func (e *Engine) OnTaskTerminal(task models.Task) {
	e.mu.RLock()
	exec, ok := e.executions[task.WorkflowID]
	e.mu.RUnlock()
	if !ok {
		return
	}

	exec.mu.Lock()
	stepID, ok := exec.taskToStep[task.ID]
	exec.mu.Unlock()
	if !ok {
		return
	}

	e.onStepResolved(exec, stepID, task.Status)
}

func (e *Engine) onStepResolved(exec *execution, stepID string, status models.TaskStatus) {
	exec.mu.Lock()
	exec.stepStatus[stepID] = status
	exec.doneCount++
	failed := status != models.TaskCompleted

	var toSubmit []models.WorkflowStep
	if failed {
		switch exec.policy {
		case models.ContinueOnError:
			e.skipDependentsLocked(exec, stepID)
		default: // fail_fast
			exec.failed = true
			e.skipUnsubmittedLocked(exec)
		}
	} else if !exec.failed {
		for _, depID := range exec.dependents[stepID] {
			if exec.skipped[depID] {
				continue
			}
			exec.remaining[depID]--
			if exec.remaining[depID] == 0 {
				if step, ok := exec.workflow.StepByID(depID); ok {
					toSubmit = append(toSubmit, step)
				}
			}
		}
	}

	done := exec.doneCount >= exec.total
	wfFailed := exec.failed
	exec.mu.Unlock()

	for _, step := range toSubmit {
		e.submitStep(exec, step)
	}

	if done {
		exec.cleanup.Do(func() {
			status := models.WorkflowCompleted
			if wfFailed || exec.anySkippedOrFailed() {
				status = models.WorkflowFailed
			}
			_ = e.coord.UpdateWorkflowStatus(exec.workflow.ID, status)
			e.mu.Lock()
			delete(e.executions, exec.workflow.ID)
			e.mu.Unlock()
		})
	}
}

// skipDependentsLocked marks every transitive dependent of a failed step as
// skipped (continue_on_error: only the failed branch is abandoned). Caller
// holds exec.mu.
func (e *Engine) skipDependentsLocked(exec *execution, stepID string) {
	var walk func(string)
	walk = func(id string) {
		for _, dep := range exec.dependents[id] {
			if exec.skipped[dep] {
				continue
			}
			exec.skipped[dep] = true
			if _, already := exec.stepStatus[dep]; !already {
				exec.stepStatus[dep] = models.TaskCancelled
				exec.doneCount++
			}
			walk(dep)
		}
	}
	walk(stepID)
}

// skipUnsubmittedLocked marks every step that has not yet been submitted as
// a task (and will now never be, since fail_fast halts new submissions) as
// skipped, so doneCount can still reach total once in-flight tasks resolve.
// Caller holds exec.mu.
func (e *Engine) skipUnsubmittedLocked(exec *execution) {
	submitted := make(map[string]bool, len(exec.taskToStep))
	for _, stepID := range exec.taskToStep {
		submitted[stepID] = true
	}
	for _, step := range exec.workflow.Steps {
		if _, resolved := exec.stepStatus[step.ID]; resolved {
			continue
		}
		if submitted[step.ID] {
			continue // already dispatched, will resolve via OnTaskTerminal
		}
		exec.skipped[step.ID] = true
		exec.stepStatus[step.ID] = models.TaskCancelled
		exec.doneCount++
	}
}

func (exec *execution) anySkippedOrFailed() bool {
	exec.mu.Lock()
	defer exec.mu.Unlock()
	for _, s := range exec.stepStatus {
		if s != models.TaskCompleted {
			return true
		}
	}
	return false
}

// buildGraph computes, for every step, the set of steps that depend on it
// and its unmet-dependency count, detecting cycles and dangling references
// via Kahn's algorithm (grounded on service.WorkflowService.topologicalSort).
func buildGraph(steps []models.WorkflowStep) (map[string][]string, map[string]int, error) {
	byID := make(map[string]models.WorkflowStep, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}

	dependents := make(map[string][]string)
	remaining := make(map[string]int)
	for _, s := range steps {
		remaining[s.ID] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, nil, errors.Wrapf(orcherrors.Invalid, "step %q depends on unknown step %q", s.ID, dep)
			}
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	// Kahn's algorithm purely to detect cycles; the actual traversal order
	// during execution is event-driven, not this static sort.
	inDegree := make(map[string]int, len(remaining))
	for id, n := range remaining {
		inDegree[id] = n
	}
	var queue []string
	for id, n := range inDegree {
		if n == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if visited != len(steps) {
		return nil, nil, errors.Wrap(orcherrors.Invalid, "workflow dependency graph has a cycle")
	}

	return dependents, remaining, nil
}
