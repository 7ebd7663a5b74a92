package events

import "context"

// Handler processes a delivered event. Errors are logged by the bus,
// never propagated to the publisher.
type Handler func(ctx context.Context, event *Event) error

// Subscription represents an active event subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// Bus delivers events to subscribers. Delivery is bounded: a lagging
// subscriber loses its oldest undelivered events rather than blocking
// publishers.
type Bus interface {
	// Publish broadcasts an event to all matching subscribers.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for one event kind.
	Subscribe(kind Kind, handler Handler) (Subscription, error)

	// SubscribeAll registers a handler for every event kind.
	SubscribeAll(handler Handler) (Subscription, error)

	// Close shuts the bus down, stopping all deliveries.
	Close()

	// IsConnected reports whether the bus can accept publishes.
	IsConnected() bool
}
