package models

import "time"

// AgentStatus is the lifecycle state of a registered Agent.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "IDLE"
	AgentActive     AgentStatus = "ACTIVE"
	AgentBusy       AgentStatus = "BUSY"
	AgentOffline    AgentStatus = "OFFLINE"
	AgentError      AgentStatus = "ERROR"
	AgentTerminated AgentStatus = "TERMINATED"
)

// Agent is a long-lived worker connected to the orchestrator via the Gateway,
// advertising a set of capabilities and accepting dispatched tasks.
type Agent struct {
	ID           string            `json:"id" db:"id"`
	Name         string            `json:"name" db:"name"`
	Type         string            `json:"type" db:"type"`
	Status       AgentStatus       `json:"status" db:"status"`
	Capabilities []string          `json:"capabilities" db:"capabilities"`
	Config       map[string]any    `json:"config,omitempty"`
	LastSeen     time.Time         `json:"last_seen" db:"last_seen"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// HasCapability reports whether the agent advertises the given capability.
func (a *Agent) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
