package storage

import (
	"sync"

	"github.com/ignatij/orchestrator/pkg/models"
)

// memoryStore is an in-memory Store: a snapshot table per entity,
// grounded on the teacher's mockStore (pkg/storage/mock_storage.go) but
// generalized from workflow/task/dependency rows to all four entities and
// stripped of the transaction simulation the teacher needed to exercise its
// Postgres-backed Begin/Commit/Rollback contract — the orchestrator's
// in-memory path has no transactions to simulate.
type memoryStore struct {
	mu        sync.RWMutex
	agents    map[string]models.Agent
	tasks     map[string]models.Task
	workflows map[string]models.Workflow
	schedules map[string]models.Schedule
}

// NewMemoryStore returns a Store backed by plain maps.
func NewMemoryStore() Store {
	return &memoryStore{
		agents:    make(map[string]models.Agent),
		tasks:     make(map[string]models.Task),
		workflows: make(map[string]models.Workflow),
		schedules: make(map[string]models.Schedule),
	}
}

func (m *memoryStore) SaveAgent(a models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = a
	return nil
}

func (m *memoryStore) GetAgent(id string) (models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return models.Agent{}, ErrNotFound
	}
	return a, nil
}

func (m *memoryStore) ListAgents() ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	return out, nil
}

func (m *memoryStore) DeleteAgent(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, id)
	return nil
}

func (m *memoryStore) SaveTask(t models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *memoryStore) GetTask(id string) (models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	return t, nil
}

func (m *memoryStore) ListTasks() ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (m *memoryStore) SaveWorkflow(w models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[w.ID] = w
	return nil
}

func (m *memoryStore) GetWorkflow(id string) (models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workflows[id]
	if !ok {
		return models.Workflow{}, ErrNotFound
	}
	return w, nil
}

func (m *memoryStore) ListWorkflows() ([]models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Workflow, 0, len(m.workflows))
	for _, w := range m.workflows {
		out = append(out, w)
	}
	return out, nil
}

func (m *memoryStore) SaveSchedule(s models.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = s
	return nil
}

func (m *memoryStore) GetSchedule(id string) (models.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return models.Schedule{}, ErrNotFound
	}
	return s, nil
}

func (m *memoryStore) ListSchedules() ([]models.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s)
	}
	return out, nil
}

func (m *memoryStore) DeleteSchedule(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, id)
	return nil
}

func (m *memoryStore) Close() error { return nil }
