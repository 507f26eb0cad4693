// Package event provides a small in-memory topic bus used to fan client
// state changes out to observers such as the terminal renderer and metrics.
package event

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one published occurrence.
type Event struct {
	Topic     string
	Timestamp time.Time
	Payload   any
}

// Handler receives events. Handlers run in the publisher's goroutine and
// must not block.
type Handler func(ctx context.Context, ev Event)

// Bus dispatches events synchronously, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry
	allSubs  []handlerEntry
	nextID   uint64
	logger   *zap.Logger
}

type handlerEntry struct {
	id      uint64
	handler Handler
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]handlerEntry),
		logger:   logger,
	}
}

// Publish stamps the event and calls every matching handler before
// returning. A panicking handler is logged and skipped.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) {
	ev := Event{Topic: topic, Timestamp: time.Now(), Payload: payload}

	b.mu.RLock()
	targets := make([]handlerEntry, 0, len(b.handlers[topic])+len(b.allSubs))
	targets = append(targets, b.handlers[topic]...)
	targets = append(targets, b.allSubs...)
	b.mu.RUnlock()

	for _, h := range targets {
		b.safeCall(ctx, h.handler, ev)
	}
}

// Subscribe registers a handler for one topic and returns its unsubscribe func.
func (b *Bus) Subscribe(topic string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[topic] = append(b.handlers[topic], handlerEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[topic] = remove(b.handlers[topic], id)
	}
}

// SubscribeAll registers a handler for every topic.
func (b *Bus) SubscribeAll(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.allSubs = append(b.allSubs, handlerEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = remove(b.allSubs, id)
	}
}

func remove(entries []handlerEntry, id uint64) []handlerEntry {
	for i, e := range entries {
		if e.id == id {
			out := make([]handlerEntry, 0, len(entries)-1)
			out = append(out, entries[:i]...)
			return append(out, entries[i+1:]...)
		}
	}
	return entries
}

func (b *Bus) safeCall(ctx context.Context, handler Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", ev.Topic),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, ev)
}
