package metrics_test

import (
	"testing"

	"github.com/ignatij/orchestrator/internal/metrics"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTasksSubmittedIncrementsPerType(t *testing.T) {
	metrics.TasksSubmitted.WithLabelValues("echo").Inc()
	metrics.TasksSubmitted.WithLabelValues("echo").Inc()

	m := &dto.Metric{}
	require.NoError(t, metrics.TasksSubmitted.WithLabelValues("echo").Write(m))
	assert.GreaterOrEqual(t, m.GetCounter().GetValue(), float64(2))
}

func TestAgentsRegisteredCounterTracksRegistrations(t *testing.T) {
	before := &dto.Metric{}
	require.NoError(t, metrics.AgentsRegistered.Write(before))

	metrics.AgentsRegistered.Inc()

	after := &dto.Metric{}
	require.NoError(t, metrics.AgentsRegistered.Write(after))
	assert.Equal(t, before.GetCounter().GetValue()+1, after.GetCounter().GetValue())
}

func TestTasksPendingGaugeTracksSetValue(t *testing.T) {
	metrics.TasksPending.Set(3)
	m := &dto.Metric{}
	require.NoError(t, metrics.TasksPending.Write(m))
	assert.Equal(t, float64(3), m.GetGauge().GetValue())
}

func TestAgentInboxDepthTracksPerAgent(t *testing.T) {
	metrics.AgentInboxDepth.WithLabelValues("agent-x").Set(5)
	m := &dto.Metric{}
	require.NoError(t, metrics.AgentInboxDepth.WithLabelValues("agent-x").Write(m))
	assert.Equal(t, float64(5), m.GetGauge().GetValue())
}
