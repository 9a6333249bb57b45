// Package gateway implements the bidirectional WebSocket multiplexing
// described in spec §4.5: one goroutine pair (reader/writer) per connection,
// a dispatch table keyed by message type, and a bounded per-connection send
// buffer.
//
// Grounded on original_source/services/orchestrator/internal/websocket/
// gateway.go for the Client/readPump/writePump/handleMessage shape and the
// 54s ping / 60s read-deadline timing. That source's sendMessage closes the
// client's Send channel when it's full — which races every other send on
// that client and panics on "send on closed channel". This version drops
// the frame and logs instead, per the fan-out/backpressure design used for
// the Coordinator's event bus.
package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ignatij/orchestrator/internal/log"
	"github.com/ignatij/orchestrator/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1 << 20
)

// Coordinator is the narrow slice of internal/coordinator.Coordinator the
// Gateway needs to satisfy inbound agent and user-facing messages.
type Coordinator interface {
	RegisterAgent(a models.Agent) (models.Agent, error)
	UnregisterAgent(agentID string) error
	UpdateAgentStatus(agentID string, status models.AgentStatus) error
	CompleteTask(taskID string, result map[string]any, success bool, errMsg string) error
	CancelTask(taskID string) error
	ListAgents() []models.Agent
	SubmitTask(task models.Task) (models.Task, error)
	SubmitWorkflow(wf models.Workflow) (models.Workflow, error)
}

// AgentRouter is the narrow slice of internal/agentmanager.Manager the
// Gateway needs to wire a connection into the inbox/dispatch machinery.
type AgentRouter interface {
	RegisterConnection(agentID string)
	RemoveConnection(agentID string)
	Heartbeat(agentID string)
}

// Message is the wire envelope for every frame exchanged over the socket.
type Message struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

type clientKind string

const (
	kindAgent clientKind = "agent"
	kindUser  clientKind = "user"
)

type client struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	kind     clientKind
	agentID  string
	lastSeen time.Time
	mu       sync.Mutex
}

// Gateway is the Gateway component (spec §4.5).
type Gateway struct {
	coord  Coordinator
	router AgentRouter

	sendBuffer int
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	byAgent map[string]*client

	log *logrus.Entry
}

func New(coord Coordinator, router AgentRouter, sendBuffer int) *Gateway {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Gateway{
		coord:      coord,
		router:     router,
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
		byAgent: make(map[string]*client),
		log:     log.Component("gateway"),
	}
}

// HandleWebSocket upgrades the HTTP connection and launches the reader and
// writer pumps for it (spec §4.5).
func (g *Gateway) HandleWebSocket(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.WithError(err).Error("websocket upgrade failed")
		return
	}

	cl := &client{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, g.sendBuffer),
		kind:     kindUser,
		lastSeen: time.Now(),
	}

	g.mu.Lock()
	g.clients[cl.id] = cl
	g.mu.Unlock()

	go g.writePump(cl)
	go g.readPump(cl)

	g.sendMessage(cl, Message{Type: "welcome", Timestamp: time.Now(), Data: map[string]any{
		"client_id": cl.id,
		"server":    "orchestrator",
	}})
}

// Send implements agentmanager.Sender: delivers a task to a connected agent.
func (g *Gateway) Send(agentID string, task models.Task) bool {
	g.mu.RLock()
	cl, ok := g.byAgent[agentID]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	return g.sendMessage(cl, Message{Type: "task.dispatch", Timestamp: time.Now(), Data: map[string]any{"task": task}})
}

// SendCancel implements agentmanager.Sender's cancellation signal.
func (g *Gateway) SendCancel(agentID string, taskID string) {
	g.mu.RLock()
	cl, ok := g.byAgent[agentID]
	g.mu.RUnlock()
	if !ok {
		return
	}
	g.sendMessage(cl, Message{Type: "task.cancel", Timestamp: time.Now(), Data: map[string]any{"task_id": taskID}})
}

func (g *Gateway) readPump(cl *client) {
	defer g.unregister(cl)
	cl.conn.SetReadLimit(maxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := cl.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.log.WithError(err).Warn("websocket read error")
			}
			return
		}
		cl.mu.Lock()
		cl.lastSeen = time.Now()
		cl.mu.Unlock()
		if cl.kind == kindAgent && cl.agentID != "" {
			g.router.Heartbeat(cl.agentID)
		}
		g.dispatch(cl, msg)
	}
}

func (g *Gateway) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case data, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch is the message-type lookup table (spec §4.5).
func (g *Gateway) dispatch(cl *client, msg Message) {
	switch msg.Type {
	case "agent.register":
		g.handleAgentRegister(cl, msg)
	case "agent.unregister":
		g.handleAgentUnregister(cl)
	case "agent.heartbeat":
		g.handleAgentHeartbeat(cl)
	case "agent.task_result":
		g.handleTaskResult(cl, msg)
	case "user.command":
		g.handleUserCommand(cl, msg)
	default:
		g.log.WithField("type", msg.Type).Warn("unknown message type")
	}
}

func (g *Gateway) handleAgentRegister(cl *client, msg Message) {
	agentData, ok := msg.Data["agent"].(map[string]any)
	if !ok {
		g.log.Error("invalid agent registration payload")
		return
	}
	name, _ := agentData["name"].(string)
	agentType, _ := agentData["type"].(string)
	var capabilities []string
	if raw, ok := agentData["capabilities"].([]any); ok {
		for _, c := range raw {
			if s, ok := c.(string); ok {
				capabilities = append(capabilities, s)
			}
		}
	}

	agent, err := g.coord.RegisterAgent(models.Agent{Name: name, Type: agentType, Capabilities: capabilities})
	if err != nil {
		g.log.WithError(err).Error("failed to register agent")
		return
	}

	cl.mu.Lock()
	cl.kind = kindAgent
	cl.agentID = agent.ID
	cl.mu.Unlock()

	g.mu.Lock()
	g.byAgent[agent.ID] = cl
	g.mu.Unlock()
	g.router.RegisterConnection(agent.ID)

	g.sendMessage(cl, Message{Type: "agent.registered", Timestamp: time.Now(), Data: map[string]any{"agent_id": agent.ID}})
}

func (g *Gateway) handleAgentUnregister(cl *client) {
	if cl.kind != kindAgent || cl.agentID == "" {
		return
	}
	_ = g.coord.UnregisterAgent(cl.agentID)
	g.router.RemoveConnection(cl.agentID)
}

func (g *Gateway) handleAgentHeartbeat(cl *client) {
	if cl.kind != kindAgent || cl.agentID == "" {
		return
	}
	_ = g.coord.UpdateAgentStatus(cl.agentID, models.AgentActive)
	g.sendMessage(cl, Message{Type: "agent.heartbeat_ack", Timestamp: time.Now()})
}

func (g *Gateway) handleTaskResult(cl *client, msg Message) {
	if cl.kind != kindAgent {
		return
	}
	taskData, ok := msg.Data["task"].(map[string]any)
	if !ok {
		g.log.Error("invalid task result payload")
		return
	}
	taskID, _ := taskData["id"].(string)
	status, _ := taskData["status"].(string)
	result, _ := taskData["result"].(map[string]any)
	errMsg, _ := taskData["error"].(string)

	success := status == string(models.TaskCompleted)
	if err := g.coord.CompleteTask(taskID, result, success, errMsg); err != nil {
		g.log.WithField("task_id", taskID).WithError(err).Warn("failed to record task result")
	}
}

// handleUserCommand dispatches the user.command envelope's subcommands
// (spec §4.5): list_agents, create_task, create_workflow.
func (g *Gateway) handleUserCommand(cl *client, msg Message) {
	command, _ := msg.Data["command"].(string)
	switch command {
	case "list_agents":
		g.handleListAgents(cl)
	case "create_task":
		g.handleCreateTask(cl, msg)
	case "create_workflow":
		g.handleCreateWorkflow(cl, msg)
	case "cancel_task":
		g.handleCancelTask(cl, msg)
	default:
		g.log.WithField("command", command).Warn("unknown user command")
	}
}

func (g *Gateway) handleListAgents(cl *client) {
	agents := g.coord.ListAgents()
	g.sendMessage(cl, Message{Type: "user.agents", Timestamp: time.Now(), Data: map[string]any{"agents": agents}})
}

func (g *Gateway) handleCreateTask(cl *client, msg Message) {
	raw, ok := msg.Data["task"].(map[string]any)
	if !ok {
		g.log.Error("invalid create_task payload")
		return
	}
	var task models.Task
	if err := decodeInto(raw, &task); err != nil {
		g.log.WithError(err).Error("failed to decode create_task payload")
		return
	}
	created, err := g.coord.SubmitTask(task)
	if err != nil {
		g.log.WithError(err).Error("failed to submit task")
		g.sendMessage(cl, Message{Type: "user.command_error", Timestamp: time.Now(), Data: map[string]any{"error": err.Error()}})
		return
	}
	g.sendMessage(cl, Message{Type: "user.task_created", Timestamp: time.Now(), Data: map[string]any{"task": created}})
}

func (g *Gateway) handleCreateWorkflow(cl *client, msg Message) {
	raw, ok := msg.Data["workflow"].(map[string]any)
	if !ok {
		g.log.Error("invalid create_workflow payload")
		return
	}
	var wf models.Workflow
	if err := decodeInto(raw, &wf); err != nil {
		g.log.WithError(err).Error("failed to decode create_workflow payload")
		return
	}
	created, err := g.coord.SubmitWorkflow(wf)
	if err != nil {
		g.log.WithError(err).Error("failed to submit workflow")
		g.sendMessage(cl, Message{Type: "user.command_error", Timestamp: time.Now(), Data: map[string]any{"error": err.Error()}})
		return
	}
	g.sendMessage(cl, Message{Type: "user.workflow_created", Timestamp: time.Now(), Data: map[string]any{"workflow": created}})
}

func (g *Gateway) handleCancelTask(cl *client, msg Message) {
	taskID, _ := msg.Data["task_id"].(string)
	if taskID == "" {
		return
	}
	if err := g.coord.CancelTask(taskID); err != nil {
		g.log.WithField("task_id", taskID).WithError(err).Warn("failed to cancel task")
	}
}

// decodeInto round-trips a decoded JSON map back into a typed struct,
// avoiding a field-by-field any-assertion parser for every request shape.
func decodeInto(raw map[string]any, dest any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// sendMessage marshals and enqueues a frame. A full send buffer drops the
// frame and logs rather than tearing down the connection.
func (g *Gateway) sendMessage(cl *client, msg Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		g.log.WithError(err).Error("failed to marshal message")
		return false
	}
	select {
	case cl.send <- data:
		return true
	default:
		g.log.WithField("client_id", cl.id).Warn("send buffer full, dropping frame")
		return false
	}
}

func (g *Gateway) unregister(cl *client) {
	g.mu.Lock()
	delete(g.clients, cl.id)
	if cl.agentID != "" {
		delete(g.byAgent, cl.agentID)
	}
	g.mu.Unlock()

	close(cl.send)
	cl.conn.Close()

	if cl.kind == kindAgent && cl.agentID != "" {
		_ = g.coord.UnregisterAgent(cl.agentID)
		g.router.RemoveConnection(cl.agentID)
	}
}
