// Package agentmanager owns per-agent task inboxes and the two-timer health
// check (spec §4.2). It implements coordinator.AgentDispatcher by accepting a
// task into a bounded per-agent channel and draining it through a connection
// abstraction supplied by the Gateway.
//
// Grounded on original_source/services/orchestrator/internal/agent/manager.go
// for the Manager/AgentConnection/HealthChecker shapes and the 30s/60s,
// 2min/5min timer values; the simulated executeTask is replaced with a real
// Sender hand-off to whatever transport registered the connection.
package agentmanager

import (
	"sync"
	"time"

	"github.com/ignatij/orchestrator/internal/log"
	"github.com/ignatij/orchestrator/internal/metrics"
	"github.com/ignatij/orchestrator/pkg/models"
	"github.com/sirupsen/logrus"
)

// Coordinator is the narrow slice of internal/coordinator.Coordinator that
// the Agent Manager needs. Defined here, not imported, so the two packages
// depend on each other only through this interface (satisfied structurally).
type Coordinator interface {
	UpdateAgentStatus(agentID string, status models.AgentStatus) error
	MarkAgentLost(agentID string) error
}

// Sender delivers a task to a connected agent and relays cancellation, e.g.
// the Gateway writing a websocket frame. Send returning false means the
// connection is gone; the Manager then treats the agent as lost.
type Sender interface {
	Send(agentID string, task models.Task) bool
	SendCancel(agentID string, taskID string)
}

const (
	defaultInboxSize      = 100
	connectionCheckPeriod = 30 * time.Second
	globalHealthPeriod    = 60 * time.Second
	defaultInactiveThresh = 2 * time.Minute
	defaultDeadThresh     = 5 * time.Minute
)

// Config tunes inbox sizing and the two health-check thresholds (spec §6).
type Config struct {
	InboxSize      int
	InactiveThresh time.Duration
	DeadThresh     time.Duration
}

func (c Config) withDefaults() Config {
	if c.InboxSize <= 0 {
		c.InboxSize = defaultInboxSize
	}
	if c.InactiveThresh <= 0 {
		c.InactiveThresh = defaultInactiveThresh
	}
	if c.DeadThresh <= 0 {
		c.DeadThresh = defaultDeadThresh
	}
	return c
}

// connection tracks one registered agent's inbox and liveness.
type connection struct {
	agentID  string
	inbox    chan models.Task
	lastSeen time.Time
}

// Manager is the Agent Manager component (spec §4.2).
type Manager struct {
	cfg   Config
	coord Coordinator

	mu     sync.RWMutex
	conns  map[string]*connection
	sender Sender

	stopCh chan struct{}
	wg     sync.WaitGroup

	log *logrus.Entry
}

// New constructs a Manager. SetSender must be called before Start so
// dispatched tasks have somewhere to go.
func New(cfg Config, coord Coordinator) *Manager {
	return &Manager{
		cfg:    cfg.withDefaults(),
		coord:  coord,
		conns:  make(map[string]*connection),
		stopCh: make(chan struct{}),
		log:    log.Component("agentmanager"),
	}
}

// SetSender wires the transport (Gateway) after construction, mirroring the
// Coordinator/WorkflowEngine wiring pattern used to break constructor cycles.
func (m *Manager) SetSender(s Sender) { m.sender = s }

// Start launches the connection-liveness ticker and the global health
// checker (spec §4.2: two independent timers).
func (m *Manager) Start() {
	m.wg.Add(2)
	go m.connectionLoop()
	go m.healthLoop()
}

func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// RegisterConnection opens an inbox for agentID and starts its dispatch
// loop. Called by the Gateway when a websocket connection authenticates.
func (m *Manager) RegisterConnection(agentID string) {
	m.mu.Lock()
	if _, exists := m.conns[agentID]; exists {
		m.mu.Unlock()
		return
	}
	conn := &connection{
		agentID:  agentID,
		inbox:    make(chan models.Task, m.cfg.InboxSize),
		lastSeen: time.Now(),
	}
	m.conns[agentID] = conn
	m.mu.Unlock()

	m.wg.Add(1)
	go m.dispatchLoop(conn)
}

// RemoveConnection closes the agent's inbox and stops its dispatch loop.
func (m *Manager) RemoveConnection(agentID string) {
	m.mu.Lock()
	conn, exists := m.conns[agentID]
	if exists {
		delete(m.conns, agentID)
		close(conn.inbox)
	}
	m.mu.Unlock()
	metrics.AgentInboxDepth.DeleteLabelValues(agentID)
}

// Heartbeat refreshes last-seen for the two liveness timers. Called on every
// inbound Gateway frame (spec §4.5), not just explicit heartbeat messages.
func (m *Manager) Heartbeat(agentID string) {
	m.mu.Lock()
	if conn, ok := m.conns[agentID]; ok {
		conn.lastSeen = time.Now()
	}
	m.mu.Unlock()
}

// Dispatch implements coordinator.AgentDispatcher: a non-blocking push into
// the agent's inbox. The dispatch goroutine hands it to the Sender.
func (m *Manager) Dispatch(agentID string, task models.Task) bool {
	m.mu.RLock()
	conn, ok := m.conns[agentID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case conn.inbox <- task:
		metrics.AgentInboxDepth.WithLabelValues(agentID).Set(float64(len(conn.inbox)))
		return true
	default:
		return false
	}
}

// Cancel implements coordinator.AgentDispatcher's best-effort cancellation.
func (m *Manager) Cancel(agentID string, taskID string) {
	if m.sender == nil {
		return
	}
	m.sender.SendCancel(agentID, taskID)
}

// dispatchLoop drains one agent's inbox, handing each task to the Sender.
// A send failure means the connection is gone; the connection is removed and
// the Coordinator's MarkAgentLost marks the agent Offline and fails its
// Running tasks (the agent itself stays registered).
func (m *Manager) dispatchLoop(conn *connection) {
	defer m.wg.Done()
	for task := range conn.inbox {
		metrics.AgentInboxDepth.WithLabelValues(conn.agentID).Set(float64(len(conn.inbox)))
		if m.sender == nil || !m.sender.Send(conn.agentID, task) {
			m.log.WithField("agent_id", conn.agentID).Warn("send failed, marking agent lost")
			m.RemoveConnection(conn.agentID)
			if m.coord != nil {
				_ = m.coord.MarkAgentLost(conn.agentID)
			}
			return
		}
	}
}

// connectionLoop is the 30s timer marking agents Offline after
// InactiveThresh of silence — a softer signal than the global health check.
func (m *Manager) connectionLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(connectionCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkConnections()
		}
	}
}

func (m *Manager) checkConnections() {
	now := time.Now()
	m.mu.RLock()
	var stale []string
	for id, conn := range m.conns {
		if now.Sub(conn.lastSeen) > m.cfg.InactiveThresh {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.log.WithField("agent_id", id).Warn("agent inactive, marking offline")
		if m.coord != nil {
			_ = m.coord.UpdateAgentStatus(id, models.AgentOffline)
		}
	}
}

// healthLoop is the 60s timer that declares an agent lost after DeadThresh
// of silence, failing its in-flight work (spec §4.2 Global health check).
func (m *Manager) healthLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(globalHealthPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkDead()
		}
	}
}

func (m *Manager) checkDead() {
	now := time.Now()
	m.mu.Lock()
	var dead []string
	for id, conn := range m.conns {
		if now.Sub(conn.lastSeen) > m.cfg.DeadThresh {
			dead = append(dead, id)
			delete(m.conns, id)
			close(conn.inbox)
		}
	}
	m.mu.Unlock()

	for _, id := range dead {
		metrics.AgentInboxDepth.DeleteLabelValues(id)
		m.log.WithField("agent_id", id).Warn("agent dead, failing in-flight tasks")
		if m.coord != nil {
			_ = m.coord.MarkAgentLost(id)
		}
	}
}
