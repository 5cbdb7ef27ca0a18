package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Broadcaster fans events out to stream subscribers. Slow subscribers lose
// events instead of blocking the emitter.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]*subscription
	next   int
	buffer int
	logger *slog.Logger
}

type subscription struct {
	ch     chan *Event
	listID uuid.UUID
}

// NewBroadcaster creates a Broadcaster whose subscriber channels hold up to
// buffer events.
func NewBroadcaster(buffer int, logger *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster{
		subs:   make(map[int]*subscription),
		buffer: buffer,
		logger: logger.With("component", "event_broadcaster"),
	}
}

// Subscribe registers a subscriber. A nil listID receives events of every
// list. The returned function unsubscribes and closes the channel; it is
// safe to call more than once.
func (b *Broadcaster) Subscribe(listID uuid.UUID) (<-chan *Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	sub := &subscription{ch: make(chan *Event, b.buffer), listID: listID}
	b.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(sub.ch)
		})
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// HandleEvent implements EventHandler.
func (b *Broadcaster) HandleEvent(ctx context.Context, event *Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		if sub.listID != uuid.Nil && sub.listID != event.ListID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("subscriber too slow, dropping event",
				"subscriber", id,
				"event_type", event.Type)
		}
	}
	return nil
}
