package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nolan-sh/nolan/internal/common/logger"
)

// subscriberCapacity bounds each subscriber's undelivered-event queue.
const subscriberCapacity = 1000

// MemoryBus is the in-process Bus. Each subscriber drains its own
// bounded queue on a dedicated goroutine; a full queue drops the oldest
// event and surfaces the lag in the log.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[int64]*memorySubscription
	nextID atomic.Int64
	closed bool
	log    *logger.Logger
}

type memorySubscription struct {
	id      int64
	kind    Kind // empty matches every kind
	handler Handler
	queue   chan Event
	done    chan struct{}
	dropped atomic.Int64
	bus     *MemoryBus
	valid   atomic.Bool
}

// NewMemoryBus creates an in-process event bus.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	if log == nil {
		log = logger.Default()
	}
	return &MemoryBus{
		subs: make(map[int64]*memorySubscription),
		log:  log.WithFields(zap.String("component", "event-bus")),
	}
}

// Publish broadcasts event to all matching subscribers without blocking.
func (b *MemoryBus) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, sub := range b.subs {
		if sub.kind != "" && sub.kind != event.Kind {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			// Queue full: drop the oldest undelivered event, then retry.
			select {
			case dropped := <-sub.queue:
				n := sub.dropped.Add(1)
				b.log.Warn("subscriber lagging, dropped oldest event",
					zap.Int64("subscription", sub.id),
					zap.String("dropped_event", dropped.ID),
					zap.String("dropped_kind", string(dropped.Kind)),
					zap.Int64("total_dropped", n),
				)
			default:
			}
			select {
			case sub.queue <- event:
			default:
			}
		}
	}
	return nil
}

// Subscribe registers a handler for one event kind.
func (b *MemoryBus) Subscribe(kind Kind, handler Handler) (Subscription, error) {
	return b.subscribe(kind, handler)
}

// SubscribeAll registers a handler for every event kind.
func (b *MemoryBus) SubscribeAll(handler Handler) (Subscription, error) {
	return b.subscribe("", handler)
}

func (b *MemoryBus) subscribe(kind Kind, handler Handler) (Subscription, error) {
	sub := &memorySubscription{
		id:      b.nextID.Add(1),
		kind:    kind,
		handler: handler,
		queue:   make(chan Event, subscriberCapacity),
		done:    make(chan struct{}),
		bus:     b,
	}
	sub.valid.Store(true)

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go sub.drain()
	return sub, nil
}

func (s *memorySubscription) drain() {
	for {
		select {
		case <-s.done:
			return
		case event := <-s.queue:
			if err := s.handler(context.Background(), &event); err != nil {
				s.bus.log.Error("event handler failed",
					zap.Int64("subscription", s.id),
					zap.String("event_id", event.ID),
					zap.String("kind", string(event.Kind)),
					zap.Error(err),
				)
			}
		}
	}
}

func (s *memorySubscription) Unsubscribe() error {
	if !s.valid.CompareAndSwap(true, false) {
		return nil
	}
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	close(s.done)
	return nil
}

func (s *memorySubscription) IsValid() bool {
	return s.valid.Load()
}

// Close stops all subscriptions.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	subs := make([]*memorySubscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.closed = true
	b.mu.Unlock()
	for _, s := range subs {
		_ = s.Unsubscribe()
	}
}

// IsConnected always reports true for the in-process bus.
func (b *MemoryBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}
