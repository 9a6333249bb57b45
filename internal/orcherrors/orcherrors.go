// Package orcherrors defines the orchestrator's error taxonomy (spec §7).
// Sentinel values are matched with errors.Is; call sites wrap them with
// github.com/pkg/errors for a Cause() chain at service boundaries.
package orcherrors

import "errors"

var (
	// NotFound: referenced entity does not exist.
	NotFound = errors.New("not found")
	// InvalidState: operation illegal for the entity's current status.
	InvalidState = errors.New("invalid state")
	// Invalid: structural error in input (cyclic workflow, malformed cron).
	Invalid = errors.New("invalid")
	// QueueFull: backpressure trip; caller must retry with backoff.
	QueueFull = errors.New("queue full")
	// Transport: Gateway delivery failure.
	Transport = errors.New("transport lost")
	// AgentLost: agent passed the dead threshold.
	AgentLost = errors.New("agent lost")
)
