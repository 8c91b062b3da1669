package worker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/coachpipe/coachpipe/internal/models"
)

// DefaultEventBuffer is the per-subscriber channel capacity. Slow
// subscribers drop events instead of blocking turn processing.
const DefaultEventBuffer = 64

// Emitter is a typed pub/sub channel for worker lifecycle events.
type Emitter struct {
	mu   sync.RWMutex
	subs map[int]chan models.Event
	next int
}

func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[int]chan models.Event)}
}

// Subscribe returns a channel of events and an unsubscribe func. The
// channel is closed on unsubscribe.
func (e *Emitter) Subscribe() (<-chan models.Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	ch := make(chan models.Event, DefaultEventBuffer)
	e.subs[id] = ch
	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
}

// Emit delivers an event to all subscribers without blocking.
func (e *Emitter) Emit(eventType models.EventType, threadID string, payload interface{}) {
	e.emit(models.Event{
		Type:      eventType,
		ThreadID:  threadID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

// EmitError delivers an error event, flagging whether a retry may help.
func (e *Emitter) EmitError(threadID string, err error, retryable bool) {
	e.emit(models.Event{
		Type:      models.EventError,
		ThreadID:  threadID,
		Payload:   err.Error(),
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	})
}

func (e *Emitter) emit(ev models.Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("Emitter.emit: subscriber buffer full, event dropped", "type", ev.Type, "threadID", ev.ThreadID)
		}
	}
}
