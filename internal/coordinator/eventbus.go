package coordinator

import (
	"sync"
	"time"

	"github.com/ignatij/orchestrator/internal/log"
	"github.com/ignatij/orchestrator/pkg/models"
)

// eventBus is the typed fan-out described in spec §9: each subscriber owns
// its own bounded channel, so a slow subscriber never stalls another or the
// emitting goroutine; an event that does not fit a subscriber's buffer is
// dropped for that subscriber. Contrast with original_source's single shared
// eventChan drained by one consumer goroutine. The Workflow Engine is not a
// subscriber (the Coordinator calls its OnTaskTerminal directly), and the
// Gateway does not subscribe either.
type eventBus struct {
	mu   sync.RWMutex
	subs map[int]chan models.Event
	next int
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]chan models.Event)}
}

// subscribe returns a channel of the given buffer size and a cancel func.
func (b *eventBus) subscribe(buffer int) (<-chan models.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan models.Event, buffer)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			close(ch)
			delete(b.subs, id)
		}
	}
}

func (b *eventBus) emit(eventType string, data map[string]any) {
	ev := models.Event{Type: eventType, Timestamp: time.Now(), Data: data}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Component("coordinator").WithField("event", eventType).Warn("subscriber channel full, dropping event")
		}
	}
}
