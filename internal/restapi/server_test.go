package restapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ignatij/orchestrator/internal/agentmanager"
	"github.com/ignatij/orchestrator/internal/coordinator"
	"github.com/ignatij/orchestrator/internal/gateway"
	"github.com/ignatij/orchestrator/internal/restapi"
	"github.com/ignatij/orchestrator/internal/scheduler"
	"github.com/ignatij/orchestrator/internal/workflow"
	"github.com/ignatij/orchestrator/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *coordinator.Coordinator) {
	gin.SetMode(gin.TestMode)

	coord := coordinator.New(coordinator.Config{SweepInterval: time.Hour})
	agentMgr := agentmanager.New(agentmanager.Config{}, coord)
	engine := workflow.New(coord)
	coord.SetDispatcher(agentMgr)
	coord.SetWorkflowEngine(engine)
	gw := gateway.New(coord, agentMgr, 16)
	agentMgr.SetSender(gw)
	sched := scheduler.New(coord)
	coord.Start()
	t.Cleanup(coord.Stop)

	srv := restapi.New(coord, sched, gw)
	return httptest.NewServer(srv.Handler()), coord
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateAndGetAgent(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/agents", map[string]any{
		"name": "worker-1", "type": "echo", "capabilities": []string{"echo"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Agent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created.ID)

	getResp, err := http.Get(server.URL + "/api/v1/agents/" + created.ID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
}

func TestUpdateAgentStatusAndMetadata(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	created := doJSON(t, http.MethodPost, server.URL+"/api/v1/agents", map[string]any{
		"name": "worker-1", "type": "echo",
	})
	defer created.Body.Close()
	var agent models.Agent
	require.NoError(t, json.NewDecoder(created.Body).Decode(&agent))

	resp := doJSON(t, http.MethodPut, server.URL+"/api/v1/agents/"+agent.ID, map[string]any{
		"status":   "OFFLINE",
		"metadata": map[string]string{"region": "us-east"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated models.Agent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	assert.Equal(t, models.AgentOffline, updated.Status)
	assert.Equal(t, "us-east", updated.Metadata["region"])
}

func TestGetUnknownAgentReturns404(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/agents/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitTaskAndCancel(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/tasks", map[string]any{"type": "noop"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var task models.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&task))

	cancelResp, err := http.Post(server.URL+"/api/v1/tasks/"+task.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	defer cancelResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, cancelResp.StatusCode)

	getResp, err := http.Get(server.URL + "/api/v1/tasks/" + task.ID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	var got models.Task
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&got))
	assert.Equal(t, models.TaskCancelled, got.Status)
}

func TestExecuteWorkflowTwiceConflicts(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/workflows", map[string]any{
		"name": "wf", "steps": []map[string]any{{"id": "a", "type": "noop"}},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var wf models.Workflow
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&wf))

	execResp, err := http.Post(server.URL+"/api/v1/workflows/"+wf.ID+"/execute", "application/json", nil)
	require.NoError(t, err)
	execResp.Body.Close()
	assert.Equal(t, http.StatusOK, execResp.StatusCode)

	execResp2, err := http.Post(server.URL+"/api/v1/workflows/"+wf.ID+"/execute", "application/json", nil)
	require.NoError(t, err)
	defer execResp2.Body.Close()
	assert.Equal(t, http.StatusConflict, execResp2.StatusCode)
}

func TestScheduleCRUD(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/schedules", map[string]any{
		"name": "hourly", "cron": "0 0 * * * *", "target_type": "TASK", "enabled": false,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sched models.Schedule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sched))

	delResp, err := http.NewRequest(http.MethodDelete, server.URL+"/api/v1/schedules/"+sched.ID, nil)
	require.NoError(t, err)
	dResp, err := http.DefaultClient.Do(delResp)
	require.NoError(t, err)
	defer dResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, dResp.StatusCode)
}
