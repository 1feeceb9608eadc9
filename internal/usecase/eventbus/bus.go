// Package eventbus provides the in-process pub/sub fabric for run, tool and
// stream events. Delivery is asynchronous and best-effort: a slow or
// panicking handler never stalls the publisher.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"agentkit/internal/domain"
)

// wildcard is the internal topic that receives every event type.
const wildcard domain.EventType = "*"

type handlerEntry struct {
	id uint64
	fn domain.EventHandler
}

// Bus fans events out to subscribers, each on its own goroutine.
type Bus struct {
	mu     sync.RWMutex
	topics map[domain.EventType][]handlerEntry
	nextID atomic.Uint64
	closed atomic.Bool

	inflight sync.WaitGroup
	logger   *slog.Logger
}

func New(logger *slog.Logger) *Bus {
	return &Bus{
		topics: make(map[domain.EventType][]handlerEntry),
		logger: logger,
	}
}

// Publish delivers event to subscribers of its type and to wildcard
// subscribers. Returns immediately; handlers run concurrently and panics
// are recovered and logged.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	entries := make([]handlerEntry, 0, len(b.topics[event.Type])+len(b.topics[wildcard]))
	entries = append(entries, b.topics[event.Type]...)
	entries = append(entries, b.topics[wildcard]...)
	b.mu.RUnlock()

	for _, entry := range entries {
		b.inflight.Add(1)
		go b.deliver(ctx, event, entry.fn)
	}
}

func (b *Bus) deliver(ctx context.Context, event domain.Event, fn domain.EventHandler) {
	defer b.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", string(event.Type), "panic", r)
		}
	}()
	fn(ctx, event)
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler for every event type and returns its
// unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add(wildcard, handler)
}

func (b *Bus) add(topic domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], handlerEntry{id: id, fn: handler})
	b.mu.Unlock()

	return func() { b.remove(topic, id) }
}

func (b *Bus) remove(topic domain.EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.topics[topic]
	for i, entry := range entries {
		if entry.id == id {
			b.topics[topic] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Close stops accepting publishes and waits for in-flight handlers.
// Idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.inflight.Wait()
}
