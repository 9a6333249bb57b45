// Package orchestrator wires the Coordinator, Agent Manager, Workflow
// Engine, Scheduler, Gateway and REST surface into one long-lived object,
// mirroring original_source/services/orchestrator/main.go's independent-
// construction-then-wiring sequence: each component is built on its own,
// then cross-wired via the setter methods the circular dependency between
// Coordinator and Agent Manager/Workflow Engine requires, instead of that
// source's package-level globals.
package orchestrator

import (
	"context"
	"net/http"

	"github.com/ignatij/orchestrator/internal/agentmanager"
	"github.com/ignatij/orchestrator/internal/config"
	"github.com/ignatij/orchestrator/internal/coordinator"
	"github.com/ignatij/orchestrator/internal/gateway"
	"github.com/ignatij/orchestrator/internal/log"
	"github.com/ignatij/orchestrator/internal/restapi"
	"github.com/ignatij/orchestrator/internal/scheduler"
	"github.com/ignatij/orchestrator/internal/workflow"
	"github.com/ignatij/orchestrator/pkg/models"
	"github.com/ignatij/orchestrator/pkg/storage"
	"github.com/sirupsen/logrus"
)

// Orchestrator owns every long-lived component and its background
// goroutines. Construct with New, then Start/Stop together.
type Orchestrator struct {
	Coordinator *coordinator.Coordinator
	AgentMgr    *agentmanager.Manager
	Engine      *workflow.Engine
	Scheduler   *scheduler.Scheduler
	Gateway     *gateway.Gateway
	API         *restapi.Server

	store    storage.Store
	stopSync func()
}

func New(cfg config.Config, store storage.Store) *Orchestrator {
	coord := coordinator.New(coordinator.Config{
		AdmissionQueueSize: cfg.AdmissionQueueSize,
		DefaultTaskTimeout: cfg.TaskTimeoutDefault,
		SweepInterval:      cfg.TimeoutSweepInterval,
	})

	agentMgr := agentmanager.New(agentmanager.Config{
		InboxSize:      cfg.AgentInboxSize,
		InactiveThresh: cfg.AgentInactiveThresh,
		DeadThresh:     cfg.AgentDeadThresh,
	}, coord)

	engine := workflow.New(coord)

	coord.SetDispatcher(agentMgr)
	coord.SetWorkflowEngine(engine)

	gw := gateway.New(coord, agentMgr, cfg.GatewaySendBuffer)
	agentMgr.SetSender(gw)

	sched := scheduler.New(coord)
	api := restapi.New(coord, sched, gw)

	o := &Orchestrator{
		Coordinator: coord,
		AgentMgr:    agentMgr,
		Engine:      engine,
		Scheduler:   sched,
		Gateway:     gw,
		API:         api,
		store:       store,
	}
	if store != nil {
		o.stopSync = o.startSync()
	}
	return o
}

// Start launches every component's background loops.
func (o *Orchestrator) Start() {
	o.Coordinator.Start()
	o.AgentMgr.Start()
	o.Scheduler.Start()
}

// Stop tears every component down, in the reverse order Start brought them
// up, then stops the persistence sync loop if one is running.
func (o *Orchestrator) Stop() {
	o.Scheduler.Stop()
	o.AgentMgr.Stop()
	o.Coordinator.Stop()
	if o.stopSync != nil {
		o.stopSync()
	}
}

// Handler returns the REST/WebSocket HTTP handler.
func (o *Orchestrator) Handler() http.Handler { return o.API.Handler() }

// startSync subscribes to the Coordinator's event bus and persists the
// affected entity's current snapshot through the Store on every terminal or
// registration event (spec's optional durability hook, pkg/storage.Store).
// Best-effort: a write failure is logged and does not block the bus.
func (o *Orchestrator) startSync() func() {
	events, unsubscribe := o.Coordinator.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.Component("orchestrator")

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				o.persist(evt, logger)
			}
		}
	}()

	return func() {
		cancel()
		unsubscribe()
	}
}

func (o *Orchestrator) persist(evt models.Event, logger *logrus.Entry) {
	switch evt.Type {
	case models.EventAgentRegistered, models.EventAgentUnregistered, models.EventAgentOffline:
		id, _ := evt.Data["agent_id"].(string)
		if id == "" {
			return
		}
		agent, err := o.Coordinator.GetAgent(id)
		if err != nil {
			return // already gone (unregistered); nothing to persist
		}
		if err := o.store.SaveAgent(agent); err != nil {
			logger.WithError(err).WithField("agent_id", id).Warn("failed to persist agent")
		}

	case models.EventTaskAssigned, models.EventTaskCompleted, models.EventTaskFailed,
		models.EventTaskTimeout, models.EventTaskCancelled:
		id, _ := evt.Data["task_id"].(string)
		if id == "" {
			return
		}
		task, err := o.Coordinator.GetTask(id)
		if err != nil {
			return
		}
		if err := o.store.SaveTask(task); err != nil {
			logger.WithError(err).WithField("task_id", id).Warn("failed to persist task")
		}

	case models.EventWorkflowStarted, models.EventWorkflowCompleted, models.EventWorkflowFailed:
		id, _ := evt.Data["workflow_id"].(string)
		if id == "" {
			return
		}
		wf, err := o.Coordinator.GetWorkflow(id)
		if err != nil {
			return
		}
		if err := o.store.SaveWorkflow(wf); err != nil {
			logger.WithError(err).WithField("workflow_id", id).Warn("failed to persist workflow")
		}
	}
}
