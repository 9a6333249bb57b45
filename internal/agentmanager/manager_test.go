package agentmanager_test

import (
	"sync"
	"testing"
	"time"

	"github.com/ignatij/orchestrator/internal/agentmanager"
	"github.com/ignatij/orchestrator/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCoordinator struct {
	mu       sync.Mutex
	statuses map[string]models.AgentStatus
	lost     []string
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{statuses: make(map[string]models.AgentStatus)}
}

func (f *fakeCoordinator) UpdateAgentStatus(agentID string, status models.AgentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[agentID] = status
	return nil
}

func (f *fakeCoordinator) MarkAgentLost(agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lost = append(f.lost, agentID)
	return nil
}

type fakeSender struct {
	mu        sync.Mutex
	sendOK    bool
	sent      []models.Task
	cancelled []string
}

func (f *fakeSender) Send(agentID string, task models.Task) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, task)
	return f.sendOK
}

func (f *fakeSender) SendCancel(agentID, taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, taskID)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition never became true")
}

func TestDispatchDeliversToRegisteredConnection(t *testing.T) {
	coord := newFakeCoordinator()
	sender := &fakeSender{sendOK: true}
	m := agentmanager.New(agentmanager.Config{InboxSize: 4}, coord)
	m.SetSender(sender)

	m.RegisterConnection("agent-1")
	ok := m.Dispatch("agent-1", models.Task{ID: "t1"})
	assert.True(t, ok)

	waitFor(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1
	})
}

func TestDispatchToUnknownAgentFails(t *testing.T) {
	coord := newFakeCoordinator()
	m := agentmanager.New(agentmanager.Config{}, coord)
	assert.False(t, m.Dispatch("nobody", models.Task{ID: "t1"}))
}

func TestSendFailureMarksAgentLost(t *testing.T) {
	coord := newFakeCoordinator()
	sender := &fakeSender{sendOK: false}
	m := agentmanager.New(agentmanager.Config{InboxSize: 4}, coord)
	m.SetSender(sender)

	m.RegisterConnection("agent-1")
	m.Dispatch("agent-1", models.Task{ID: "t1"})

	waitFor(t, func() bool {
		coord.mu.Lock()
		defer coord.mu.Unlock()
		return len(coord.lost) == 1 && coord.lost[0] == "agent-1"
	})

	assert.False(t, m.Dispatch("agent-1", models.Task{ID: "t2"}), "connection should have been removed")
}

func TestCancelForwardsToSender(t *testing.T) {
	coord := newFakeCoordinator()
	sender := &fakeSender{sendOK: true}
	m := agentmanager.New(agentmanager.Config{}, coord)
	m.SetSender(sender)

	m.Cancel("agent-1", "t1")

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, []string{"t1"}, sender.cancelled)
}

func TestRemoveConnectionStopsDispatch(t *testing.T) {
	coord := newFakeCoordinator()
	sender := &fakeSender{sendOK: true}
	m := agentmanager.New(agentmanager.Config{InboxSize: 4}, coord)
	m.SetSender(sender)

	m.RegisterConnection("agent-1")
	m.RemoveConnection("agent-1")

	assert.False(t, m.Dispatch("agent-1", models.Task{ID: "t1"}))
}
