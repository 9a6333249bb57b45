// Package coordinator implements the single authoritative arbiter of
// Agent/Task/Workflow state (spec §4.1). It owns the three registries behind
// one read-write lock, runs the capability-matching pass and the timeout
// sweeper, and fans out state-transition events to subscribers.
//
// Grounded on original_source/internal/coordinator/coordinator.go for the
// algorithm shapes (findAvailableAgent, checkTaskTimeouts, emitEvent) and on
// the teacher's pkg/service/worker_pool.go for the execution-state /
// completion-channel concurrency idiom.
package coordinator

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/orchestrator/internal/log"
	"github.com/ignatij/orchestrator/internal/metrics"
	"github.com/ignatij/orchestrator/internal/orcherrors"
	"github.com/ignatij/orchestrator/pkg/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AgentDispatcher is the Agent Manager's half of task admission (spec §4.2):
// a non-blocking push to the target agent's inbox. Satisfied structurally by
// *agentmanager.Manager; the coordinator package never imports agentmanager.
type AgentDispatcher interface {
	// Dispatch attempts to admit task to agentID's inbox. false means the
	// inbox was full and the task must stay Pending.
	Dispatch(agentID string, task models.Task) bool
	// Cancel sends a best-effort task.cancel signal to the agent.
	Cancel(agentID string, taskID string)
}

// WorkflowEngine advances a workflow's DAG as its tasks complete (spec §4.3).
type WorkflowEngine interface {
	// Execute computes the initially-ready steps and submits them as tasks.
	Execute(workflow models.Workflow) error
	// OnTaskTerminal is called by the Coordinator whenever a workflow-bound
	// task reaches a terminal state, so the engine can advance the DAG.
	OnTaskTerminal(task models.Task)
}

const (
	defaultAdmissionQueueSize = 1000
	defaultTaskTimeout        = 30 * time.Second
	defaultSweepInterval      = 30 * time.Second
	eventSubscriberBuffer     = 64
)

// Config tunes the Coordinator's backpressure and sweep behavior (spec §6).
type Config struct {
	AdmissionQueueSize int
	DefaultTaskTimeout time.Duration
	SweepInterval      time.Duration
}

func (c Config) withDefaults() Config {
	if c.AdmissionQueueSize <= 0 {
		c.AdmissionQueueSize = defaultAdmissionQueueSize
	}
	if c.DefaultTaskTimeout <= 0 {
		c.DefaultTaskTimeout = defaultTaskTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	return c
}

// Coordinator is the single long-lived object owning the Agent/Task/Workflow
// registries. Per spec §9 there is no global mutable state: every dependent
// component holds a reference to one Coordinator constructed at startup.
type Coordinator struct {
	cfg Config

	mu         sync.RWMutex
	agents     map[string]*models.Agent
	agentOrder []string // registration order, for deterministic capability matching
	tasks      map[string]*models.Task
	workflows  map[string]*models.Workflow

	pending pendingQueue // guarded by mu; SubmitTask pushes, the matching pass drains and re-pushes

	dispatcher AgentDispatcher
	engine     WorkflowEngine
	bus        *eventBus

	matchSignal chan struct{}
	stopCh      chan struct{}
	wg          sync.WaitGroup

	log *logrus.Entry
}

// New constructs a Coordinator. Start must be called to run its background
// loops; it does no work at construction time.
func New(cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		cfg:         cfg,
		agents:      make(map[string]*models.Agent),
		tasks:       make(map[string]*models.Task),
		workflows:   make(map[string]*models.Workflow),
		bus:         newEventBus(),
		matchSignal: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		log:         log.Component("coordinator"),
	}
}

// SetDispatcher wires the Agent Manager after both have been constructed,
// breaking the natural constructor cycle between the two components.
func (c *Coordinator) SetDispatcher(d AgentDispatcher) { c.dispatcher = d }

// SetWorkflowEngine wires the Workflow Engine after construction, for the
// same reason as SetDispatcher.
func (c *Coordinator) SetWorkflowEngine(e WorkflowEngine) { c.engine = e }

// Subscribe returns an event channel per spec §9's typed fan-out.
func (c *Coordinator) Subscribe() (<-chan models.Event, func()) {
	return c.bus.subscribe(eventSubscriberBuffer)
}

// Start launches the matching pass, the timeout sweeper, and emits the
// coordinator.started event (spec §12 supplemented feature).
func (c *Coordinator) Start() {
	c.bus.emit(models.EventCoordinatorStarted, map[string]any{"timestamp": time.Now()})
	c.wg.Add(2)
	go c.matchLoop()
	go c.sweepLoop()
}

// Stop signals both background loops to exit and waits for them.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
	c.log.Info("coordinator stopped")
}

func (c *Coordinator) wakeMatcher() {
	select {
	case c.matchSignal <- struct{}{}:
	default:
	}
}

// matchLoop drains the pending queue in priority order on every wake,
// attempting each task once per pass and re-queuing whatever could not be
// matched. A coarse ticker is a safety net only, not the primary trigger —
// real wakes come from SubmitTask, RegisterAgent, UpdateAgentStatus and
// CompleteTask (spec §9: "do not rely on polling").
func (c *Coordinator) matchLoop() {
	defer c.wg.Done()
	safetyNet := time.NewTicker(time.Second)
	defer safetyNet.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.matchSignal:
			c.runMatchingPass()
		case <-safetyNet.C:
			c.runMatchingPass()
		}
	}
}

func (c *Coordinator) runMatchingPass() {
	c.mu.Lock()
	batch := drainOrdered(&c.pending)
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	for _, t := range batch {
		if c.tryDispatch(t) {
			continue
		}
		c.mu.Lock()
		pushTask(&c.pending, t)
		c.mu.Unlock()
	}

	c.updateTaskGauges()
}

// updateTaskGauges recomputes the pending/running counts and publishes them
// (spec §metrics orchestrator_tasks_pending / orchestrator_tasks_running).
func (c *Coordinator) updateTaskGauges() {
	c.mu.RLock()
	var pending, running int
	for _, t := range c.tasks {
		switch t.Status {
		case models.TaskPending:
			pending++
		case models.TaskRunning:
			running++
		}
	}
	c.mu.RUnlock()
	metrics.TasksPending.Set(float64(pending))
	metrics.TasksRunning.Set(float64(running))
}

// tryDispatch implements the capability-matching rule (spec §4.1). Returns
// true if the task was assigned to an agent and handed to the dispatcher.
func (c *Coordinator) tryDispatch(t *models.Task) bool {
	c.mu.Lock()
	// The task may have been cancelled or removed while parked.
	current, ok := c.tasks[t.ID]
	if !ok || current.Status != models.TaskPending {
		c.mu.Unlock()
		return true // drop from the pending set; nothing to retry
	}

	var agent *models.Agent
	if t.AgentID != "" {
		if a, ok := c.agents[t.AgentID]; ok && a.Status == models.AgentIdle {
			agent = a
		}
		// pinned-agent task stays parked until that exact agent is Idle —
		// head-of-line blocking scoped to this agent only (spec §4.1.1).
	} else {
		for _, id := range c.agentOrder {
			a, ok := c.agents[id]
			if !ok || a.Status != models.AgentIdle {
				continue
			}
			if a.HasCapability(t.Type) {
				agent = a
				break
			}
		}
	}

	if agent == nil {
		c.mu.Unlock()
		return false
	}

	now := time.Now()
	pinned := current.AgentID
	current.AgentID = agent.ID
	current.Status = models.TaskRunning
	current.StartedAt = &now
	agent.Status = models.AgentBusy
	agent.LastSeen = now
	taskCopy := *current
	c.mu.Unlock()

	if c.dispatcher == nil || !c.dispatcher.Dispatch(agent.ID, taskCopy) {
		// Inbox full or no dispatcher wired: roll back the assignment and
		// let the task stay Pending (spec §4.2 Admission).
		c.mu.Lock()
		if current, ok := c.tasks[t.ID]; ok && current.Status == models.TaskRunning {
			current.AgentID = pinned
			current.Status = models.TaskPending
			current.StartedAt = nil
		}
		if a, ok := c.agents[agent.ID]; ok && a.Status == models.AgentBusy {
			a.Status = models.AgentIdle
		}
		c.mu.Unlock()
		return false
	}

	metrics.TaskDispatchLatency.Observe(now.Sub(t.CreatedAt).Seconds())
	c.log.WithField("task_id", t.ID).WithField("agent_id", agent.ID).Info("task assigned to agent")
	c.bus.emit(models.EventTaskAssigned, map[string]any{"task_id": t.ID, "agent_id": agent.ID})
	return true
}

// sweepLoop enforces task timeouts at the configured interval (spec §4.1
// Timeout sweeping).
func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweepTimeouts()
		}
	}
}

func (c *Coordinator) sweepTimeouts() {
	now := time.Now()
	var timedOut []models.Task

	c.mu.Lock()
	for _, t := range c.tasks {
		if t.Status == models.TaskRunning && staleBefore(now, t) {
			t.Status = models.TaskTimedOut
			t.Error = "task execution timed out"
			t.CompletedAt = &now
			if a, ok := c.agents[t.AgentID]; ok {
				a.Status = models.AgentIdle
			}
			timedOut = append(timedOut, *t)
		}
	}
	c.mu.Unlock()

	for _, t := range timedOut {
		metrics.TasksTimedOut.WithLabelValues(t.Type).Inc()
		c.log.WithField("task_id", t.ID).Warn("task timed out")
		if c.dispatcher != nil {
			c.dispatcher.Cancel(t.AgentID, t.ID)
		}
		c.bus.emit(models.EventTaskTimeout, map[string]any{"task_id": t.ID, "agent_id": t.AgentID})
		c.notifyTerminal(t)
	}
	if len(timedOut) > 0 {
		c.updateTaskGauges()
		c.wakeMatcher()
	}
}

func (c *Coordinator) notifyTerminal(t models.Task) {
	if t.WorkflowID != "" && c.engine != nil {
		c.engine.OnTaskTerminal(t)
	}
}

// --- Agent operations ---

// RegisterAgent stores the agent with status Idle (spec §4.1). Re-registering
// an existing id upserts rather than failing.
func (c *Coordinator) RegisterAgent(a models.Agent) (models.Agent, error) {
	now := time.Now()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Status = models.AgentIdle
	a.LastSeen = now
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	c.mu.Lock()
	_, existed := c.agents[a.ID]
	if !existed {
		c.agentOrder = append(c.agentOrder, a.ID)
	}
	stored := a
	c.agents[a.ID] = &stored
	c.mu.Unlock()

	if !existed {
		metrics.AgentsRegistered.Inc()
	}
	c.log.WithField("agent_id", a.ID).Info("agent registered")
	c.bus.emit(models.EventAgentRegistered, map[string]any{"agent_id": a.ID})
	c.wakeMatcher()
	return a, nil
}

// UnregisterAgent removes the agent. Its Running tasks fail with
// agent_lost (spec §9 Open Question: no reassignment).
func (c *Coordinator) UnregisterAgent(agentID string) error {
	c.mu.Lock()
	_, ok := c.agents[agentID]
	if !ok {
		c.mu.Unlock()
		return nil // NotFound is silently ignored per spec
	}
	delete(c.agents, agentID)
	for i, id := range c.agentOrder {
		if id == agentID {
			c.agentOrder = append(c.agentOrder[:i], c.agentOrder[i+1:]...)
			break
		}
	}
	var lost []models.Task
	for _, t := range c.tasks {
		if t.AgentID == agentID && t.Status == models.TaskRunning {
			now := time.Now()
			t.Status = models.TaskFailed
			t.Error = "agent_lost"
			t.CompletedAt = &now
			lost = append(lost, *t)
		}
	}
	c.mu.Unlock()

	metrics.AgentsUnregistered.Inc()
	c.log.WithField("agent_id", agentID).Info("agent unregistered")
	c.bus.emit(models.EventAgentUnregistered, map[string]any{"agent_id": agentID})
	for _, t := range lost {
		metrics.TasksFailed.WithLabelValues(t.Type).Inc()
		c.bus.emit(models.EventTaskFailed, map[string]any{"task_id": t.ID, "error": t.Error})
		c.notifyTerminal(t)
	}
	if len(lost) > 0 {
		c.updateTaskGauges()
	}
	return nil
}

// UpdateAgentStatus applies a new status and refreshes last_seen.
func (c *Coordinator) UpdateAgentStatus(agentID string, status models.AgentStatus) error {
	c.mu.Lock()
	a, ok := c.agents[agentID]
	if !ok {
		c.mu.Unlock()
		return nil // NotFound silently ignored per spec
	}
	wasIdle := a.Status == models.AgentIdle
	a.Status = status
	a.LastSeen = time.Now()
	a.UpdatedAt = a.LastSeen
	becameIdle := !wasIdle && status == models.AgentIdle
	c.mu.Unlock()
	if becameIdle {
		c.wakeMatcher()
	}
	return nil
}

// UpdateAgentMetadata merges the given key/values into the agent's metadata
// (REST PUT /api/v1/agents/:id, spec §6), leaving existing keys not present
// in the update untouched.
func (c *Coordinator) UpdateAgentMetadata(agentID string, metadata map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.agents[agentID]
	if !ok {
		return orcherrors.NotFound
	}
	if len(metadata) == 0 {
		return nil
	}
	if a.Metadata == nil {
		a.Metadata = make(map[string]string, len(metadata))
	}
	for k, v := range metadata {
		a.Metadata[k] = v
	}
	a.UpdatedAt = time.Now()
	return nil
}

// MarkAgentLost forces the agent Offline and fails its Running tasks with
// agent_lost (spec §4.2 Global health check, §7 AgentLost kind).
func (c *Coordinator) MarkAgentLost(agentID string) error {
	c.mu.Lock()
	a, ok := c.agents[agentID]
	if ok {
		a.Status = models.AgentOffline
		a.UpdatedAt = time.Now()
	}
	var lost []models.Task
	for _, t := range c.tasks {
		if t.AgentID == agentID && t.Status == models.TaskRunning {
			now := time.Now()
			t.Status = models.TaskFailed
			t.Error = "agent_lost"
			t.CompletedAt = &now
			lost = append(lost, *t)
		}
	}
	c.mu.Unlock()
	c.bus.emit(models.EventAgentOffline, map[string]any{"agent_id": agentID})
	for _, t := range lost {
		c.bus.emit(models.EventTaskFailed, map[string]any{"task_id": t.ID, "error": t.Error})
		c.notifyTerminal(t)
	}
	return nil
}

func (c *Coordinator) GetAgent(id string) (models.Agent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[id]
	if !ok {
		return models.Agent{}, orcherrors.NotFound
	}
	return *a, nil
}

func (c *Coordinator) ListAgents() []models.Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Agent, 0, len(c.agents))
	for _, id := range c.agentOrder {
		out = append(out, *c.agents[id])
	}
	return out
}

// --- Task operations ---

// SubmitTask accepts a task into the admission queue (spec §4.1).
func (c *Coordinator) SubmitTask(t models.Task) (models.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timeout <= 0 {
		t.Timeout = c.cfg.DefaultTaskTimeout
	}
	t.Status = models.TaskPending
	t.CreatedAt = time.Now()

	c.mu.Lock()
	if len(c.tasks) >= c.cfg.AdmissionQueueSize {
		pendingCount := 0
		for _, existing := range c.tasks {
			if existing.Status == models.TaskPending {
				pendingCount++
			}
		}
		if pendingCount >= c.cfg.AdmissionQueueSize {
			c.mu.Unlock()
			return models.Task{}, errors.Wrap(orcherrors.QueueFull, "admission queue full")
		}
	}
	stored := t
	c.tasks[t.ID] = &stored
	pushTask(&c.pending, &stored)
	c.mu.Unlock()

	metrics.TasksSubmitted.WithLabelValues(t.Type).Inc()
	c.updateTaskGauges()
	c.wakeMatcher()
	return t, nil
}

func (c *Coordinator) GetTask(id string) (models.Task, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[id]
	if !ok {
		return models.Task{}, orcherrors.NotFound
	}
	return *t, nil
}

// TaskFilter narrows ListTasks by status/agent/workflow; zero value means "all".
type TaskFilter struct {
	Status     models.TaskStatus
	AgentID    string
	WorkflowID string
}

func (c *Coordinator) ListTasks(filter TaskFilter) []models.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.AgentID != "" && t.AgentID != filter.AgentID {
			continue
		}
		if filter.WorkflowID != "" && t.WorkflowID != filter.WorkflowID {
			continue
		}
		out = append(out, *t)
	}
	return out
}

// CompleteTask transitions a Running task to a terminal state (spec §4.1).
// A duplicate completion for an already-terminal task is logged and ignored
// (spec §9 Open Question: first completion wins).
func (c *Coordinator) CompleteTask(taskID string, result map[string]any, success bool, errMsg string) error {
	c.mu.Lock()
	t, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return orcherrors.NotFound
	}
	if t.Status.IsTerminal() {
		c.mu.Unlock()
		c.log.WithField("task_id", taskID).Info("duplicate completion for terminal task ignored")
		return nil
	}
	if t.Status != models.TaskRunning {
		c.mu.Unlock()
		return errors.Wrapf(orcherrors.InvalidState, "task %s is %s, not running", taskID, t.Status)
	}

	now := time.Now()
	t.CompletedAt = &now
	t.Result = result
	if success {
		t.Status = models.TaskCompleted
	} else {
		t.Status = models.TaskFailed
		t.Error = errMsg
	}
	agentID := t.AgentID
	if a, ok := c.agents[agentID]; ok {
		a.Status = models.AgentIdle
		a.LastSeen = now
	}
	done := *t
	c.mu.Unlock()

	if success {
		metrics.TasksCompleted.WithLabelValues(done.Type).Inc()
	} else {
		metrics.TasksFailed.WithLabelValues(done.Type).Inc()
	}
	c.log.WithField("task_id", taskID).WithField("status", done.Status).Info("task completed")
	if success {
		c.bus.emit(models.EventTaskCompleted, map[string]any{"task_id": taskID, "agent_id": agentID, "result": result})
	} else {
		c.bus.emit(models.EventTaskFailed, map[string]any{"task_id": taskID, "agent_id": agentID, "error": errMsg})
	}
	c.notifyTerminal(done)
	c.updateTaskGauges()
	c.wakeMatcher()
	return nil
}

// CancelTask cancels a Pending task immediately, or sends a best-effort
// cancellation signal for a Running one (spec §5 Cancellation is cooperative).
func (c *Coordinator) CancelTask(taskID string) error {
	c.mu.Lock()
	t, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return orcherrors.NotFound
	}
	if t.Status.IsTerminal() {
		c.mu.Unlock()
		return errors.Wrapf(orcherrors.InvalidState, "task %s already terminal (%s)", taskID, t.Status)
	}

	now := time.Now()
	wasRunning := t.Status == models.TaskRunning
	agentID := t.AgentID
	t.Status = models.TaskCancelled
	t.CompletedAt = &now
	if wasRunning {
		if a, ok := c.agents[agentID]; ok {
			a.Status = models.AgentIdle
		}
	}
	done := *t
	c.mu.Unlock()

	c.bus.emit(models.EventTaskCancelled, map[string]any{"task_id": taskID})
	if wasRunning && c.dispatcher != nil {
		c.dispatcher.Cancel(agentID, taskID)
	}
	c.notifyTerminal(done)
	c.updateTaskGauges()
	if wasRunning {
		c.wakeMatcher()
	}
	return nil
}

// --- Workflow operations ---

// SubmitWorkflow stores the workflow in Draft status. It does not validate
// the step dependency graph: a cyclic or dangling depends_on is accepted here
// and only rejected when ExecuteWorkflow hands the workflow to the Workflow
// Engine, which then returns an Invalid error and marks the workflow Failed.
func (c *Coordinator) SubmitWorkflow(wf models.Workflow) (models.Workflow, error) {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	now := time.Now()
	wf.Status = models.WorkflowDraft
	wf.CreatedAt = now
	wf.UpdatedAt = now

	c.mu.Lock()
	stored := wf
	c.workflows[wf.ID] = &stored
	c.mu.Unlock()
	return wf, nil
}

func (c *Coordinator) GetWorkflow(id string) (models.Workflow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.workflows[id]
	if !ok {
		return models.Workflow{}, orcherrors.NotFound
	}
	return *w, nil
}

func (c *Coordinator) ListWorkflows() []models.Workflow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Workflow, 0, len(c.workflows))
	for _, w := range c.workflows {
		out = append(out, *w)
	}
	return out
}

// ExecuteWorkflow transitions a Draft workflow to Active and asks the
// Workflow Engine to submit its initially-ready steps (spec §4.1, §4.3).
func (c *Coordinator) ExecuteWorkflow(id string) error {
	c.mu.Lock()
	w, ok := c.workflows[id]
	if !ok {
		c.mu.Unlock()
		return orcherrors.NotFound
	}
	if w.Status != models.WorkflowDraft {
		c.mu.Unlock()
		return errors.Wrapf(orcherrors.InvalidState, "workflow %s is %s, not draft", id, w.Status)
	}
	w.Status = models.WorkflowActive
	w.UpdatedAt = time.Now()
	snapshot := *w
	c.mu.Unlock()

	if c.engine == nil {
		return errors.New("no workflow engine attached")
	}
	metrics.WorkflowsStarted.Inc()
	c.bus.emit(models.EventWorkflowStarted, map[string]any{"workflow_id": id})
	return c.engine.Execute(snapshot)
}

// UpdateWorkflowStatus is used by the Workflow Engine to mark a workflow
// Completed/Failed/Cancelled as its steps resolve.
func (c *Coordinator) UpdateWorkflowStatus(id string, status models.WorkflowStatus) error {
	c.mu.Lock()
	w, ok := c.workflows[id]
	if !ok {
		c.mu.Unlock()
		return orcherrors.NotFound
	}
	w.Status = status
	w.UpdatedAt = time.Now()
	c.mu.Unlock()

	switch status {
	case models.WorkflowCompleted:
		metrics.WorkflowsCompleted.Inc()
		c.bus.emit(models.EventWorkflowCompleted, map[string]any{"workflow_id": id})
	case models.WorkflowFailed:
		metrics.WorkflowsFailed.Inc()
		c.bus.emit(models.EventWorkflowFailed, map[string]any{"workflow_id": id})
	}
	return nil
}
