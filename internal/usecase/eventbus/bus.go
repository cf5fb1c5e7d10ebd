package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"nousim/internal/domain"
)

// DefaultQueueSize is the per-subscriber buffer used when none is configured.
const DefaultQueueSize = 256

type queued struct {
	ctx   context.Context
	event domain.Event
}

type subscription struct {
	id        uint64
	eventType domain.EventType // empty for SubscribeAll
	handler   domain.EventHandler
	queue     chan queued
	stopOnce  sync.Once
}

func (s *subscription) stop() {
	s.stopOnce.Do(func() { close(s.queue) })
}

// Bus is an in-process, goroutine-safe event bus. Every subscriber owns a
// buffered queue drained by a single goroutine, so a subscriber sees events
// in publish order. A subscriber whose queue is full misses the event.
type Bus struct {
	mu        sync.RWMutex
	subs      []*subscription
	nextID    atomic.Uint64
	dropped   atomic.Uint64
	queueSize int
	logger    *slog.Logger
	wg        sync.WaitGroup
	closed    bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize sets the per-subscriber queue length.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// New creates an event bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{queueSize: DefaultQueueSize, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish enqueues an event for every matching subscriber. It never blocks
// on a slow subscriber.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.eventType != "" && sub.eventType != event.Type {
			continue
		}
		select {
		case sub.queue <- queued{ctx: ctx, event: event}:
		default:
			b.dropped.Add(1)
			b.logger.Warn("event dropped for slow subscriber",
				"event", string(event.Type),
				"subscriber", sub.id,
			)
		}
	}
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add("", handler)
}

func (b *Bus) add(eventType domain.EventType, handler domain.EventHandler) func() {
	sub := &subscription{
		id:        b.nextID.Add(1),
		eventType: eventType,
		handler:   handler,
		queue:     make(chan queued, b.queueSize),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subs = append(b.subs, sub)
	b.wg.Add(1)
	b.mu.Unlock()

	go b.drain(sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == sub.id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		sub.stop()
	}
}

func (b *Bus) drain(sub *subscription) {
	defer b.wg.Done()
	for q := range sub.queue {
		b.invoke(sub, q)
	}
}

func (b *Bus) invoke(sub *subscription, q queued) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(q.event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(q.ctx, q.event)
}

// Dropped returns how many deliveries were skipped because a queue was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close prevents new publishes and waits until every queued event has been
// handled. Close is idempotent and safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.stop()
	}
	b.subs = nil
	b.mu.Unlock()

	b.wg.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
