package gateway_test

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ignatij/orchestrator/internal/gateway"
	"github.com/ignatij/orchestrator/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCoordinator struct {
	mu        sync.Mutex
	agents    map[string]models.Agent
	results   []string
	tasks     []models.Task
	workflows []models.Workflow
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{agents: make(map[string]models.Agent)}
}

func (f *fakeCoordinator) SubmitTask(task models.Task) (models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task.ID = "task-1"
	f.tasks = append(f.tasks, task)
	return task, nil
}

func (f *fakeCoordinator) SubmitWorkflow(wf models.Workflow) (models.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf.ID = "workflow-1"
	f.workflows = append(f.workflows, wf)
	return wf, nil
}

func (f *fakeCoordinator) RegisterAgent(a models.Agent) (models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.ID = "agent-1"
	f.agents[a.ID] = a
	return a, nil
}

func (f *fakeCoordinator) UnregisterAgent(agentID string) error { return nil }

func (f *fakeCoordinator) UpdateAgentStatus(agentID string, status models.AgentStatus) error {
	return nil
}

func (f *fakeCoordinator) CompleteTask(taskID string, result map[string]any, success bool, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, taskID)
	return nil
}

func (f *fakeCoordinator) CancelTask(taskID string) error { return nil }

func (f *fakeCoordinator) ListAgents() []models.Agent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Agent, 0, len(f.agents))
	for _, a := range f.agents {
		out = append(out, a)
	}
	return out
}

type fakeRouter struct {
	mu         sync.Mutex
	registered []string
	heartbeats []string
}

func (f *fakeRouter) RegisterConnection(agentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, agentID)
}

func (f *fakeRouter) RemoveConnection(agentID string) {}

func (f *fakeRouter) Heartbeat(agentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, agentID)
}

func newTestServer(coord *fakeCoordinator, router *fakeRouter) *httptest.Server {
	gin.SetMode(gin.TestMode)
	gw := gateway.New(coord, router, 16)
	r := gin.New()
	r.GET("/ws", gw.HandleWebSocket)
	return httptest.NewServer(r)
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

// readUntilType drains frames until one of the given type arrives, skipping
// unrelated frames (the welcome frame sent on every connect).
func readUntilType(t *testing.T, conn *websocket.Conn, msgType string) gateway.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var msg gateway.Message
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("did not receive message of type %q before deadline", msgType)
	return gateway.Message{}
}

func TestAgentRegisterRoundTrip(t *testing.T) {
	coord := newFakeCoordinator()
	router := &fakeRouter{}
	server := newTestServer(coord, router)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(gateway.Message{
		Type: "agent.register",
		Data: map[string]any{"agent": map[string]any{
			"name":         "worker-1",
			"type":         "echo",
			"capabilities": []any{"echo"},
		}},
	}))

	reply := readUntilType(t, conn, "agent.registered")
	assert.Equal(t, "agent-1", reply.Data["agent_id"])

	router.mu.Lock()
	defer router.mu.Unlock()
	assert.Contains(t, router.registered, "agent-1")
}

func TestAgentHeartbeatForwardsToRouter(t *testing.T) {
	coord := newFakeCoordinator()
	router := &fakeRouter{}
	server := newTestServer(coord, router)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(gateway.Message{
		Type: "agent.register",
		Data: map[string]any{"agent": map[string]any{"name": "worker-1", "type": "echo"}},
	}))
	readUntilType(t, conn, "agent.registered")

	require.NoError(t, conn.WriteJSON(gateway.Message{Type: "agent.heartbeat"}))
	readUntilType(t, conn, "agent.heartbeat_ack")

	router.mu.Lock()
	defer router.mu.Unlock()
	assert.Contains(t, router.heartbeats, "agent-1")
}

func TestTaskResultReportsCompletion(t *testing.T) {
	coord := newFakeCoordinator()
	router := &fakeRouter{}
	server := newTestServer(coord, router)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(gateway.Message{
		Type: "agent.register",
		Data: map[string]any{"agent": map[string]any{"name": "worker-1"}},
	}))
	readUntilType(t, conn, "agent.registered")

	require.NoError(t, conn.WriteJSON(gateway.Message{
		Type: "agent.task_result",
		Data: map[string]any{"task": map[string]any{"id": "t1", "status": "COMPLETED"}},
	}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		coord.mu.Lock()
		n := len(coord.results)
		coord.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	coord.mu.Lock()
	defer coord.mu.Unlock()
	require.Len(t, coord.results, 1)
	assert.Equal(t, "t1", coord.results[0])
}

func TestConnectSendsWelcomeFrame(t *testing.T) {
	coord := newFakeCoordinator()
	router := &fakeRouter{}
	server := newTestServer(coord, router)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	welcome := readUntilType(t, conn, "welcome")
	assert.NotEmpty(t, welcome.Data["client_id"])
}

func TestUserCommandCreateTask(t *testing.T) {
	coord := newFakeCoordinator()
	router := &fakeRouter{}
	server := newTestServer(coord, router)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(gateway.Message{
		Type: "user.command",
		Data: map[string]any{
			"command": "create_task",
			"task":    map[string]any{"type": "echo"},
		},
	}))

	reply := readUntilType(t, conn, "user.task_created")
	taskData, ok := reply.Data["task"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "task-1", taskData["id"])
}

func TestUserCommandCreateWorkflow(t *testing.T) {
	coord := newFakeCoordinator()
	router := &fakeRouter{}
	server := newTestServer(coord, router)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(gateway.Message{
		Type: "user.command",
		Data: map[string]any{
			"command":  "create_workflow",
			"workflow": map[string]any{"name": "pipeline"},
		},
	}))

	reply := readUntilType(t, conn, "user.workflow_created")
	wfData, ok := reply.Data["workflow"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "workflow-1", wfData["id"])
}

func TestUserCommandListAgents(t *testing.T) {
	coord := newFakeCoordinator()
	router := &fakeRouter{}
	server := newTestServer(coord, router)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(gateway.Message{
		Type: "user.command",
		Data: map[string]any{"command": "list_agents"},
	}))

	readUntilType(t, conn, "user.agents")
}
