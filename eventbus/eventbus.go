// Package eventbus provides in-process pub/sub of session events, keyed by
// session ID. The HTTP API and channels subscribe to stream live updates.
package eventbus

import (
	"sync"

	"github.com/crucible-edu/crucible/model"
)

// Bus distributes session events to subscribers.
type Bus interface {
	Publish(sessionID string, event *model.Event)
	Subscribe(sessionID string) chan *model.Event
	Unsubscribe(sessionID string, ch chan *model.Event)
}

// InMemoryBus is a process-local Bus.
type InMemoryBus struct {
	mu   sync.Mutex
	subs map[string][]chan *model.Event
}

// NewInMemoryBus creates an empty in-memory bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]chan *model.Event)}
}

// Publish delivers an event to every subscriber of the session. Slow
// subscribers with a full buffer miss the event rather than block the engine;
// they can recover history from the store.
func (b *InMemoryBus) Publish(sessionID string, event *model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[sessionID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a new subscriber for a session's events.
func (b *InMemoryBus) Subscribe(sessionID string) chan *model.Event {
	ch := make(chan *model.Event, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sessionID] = append(b.subs[sessionID], ch)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *InMemoryBus) Unsubscribe(sessionID string, ch chan *model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[sessionID]
	for i, c := range subs {
		if c == ch {
			b.subs[sessionID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(b.subs[sessionID]) == 0 {
		delete(b.subs, sessionID)
	}
}
