// Package ports define the EventBus interface for event-driven communication.
// The event bus is the outbound half of the host-application boundary.
package ports

import (
	"github.com/tejashwikalptaru/pomelo/internal/domain"
)

// EventBus is the interface for publishing and subscribing to events.
//
// The core publishes state changes, job progress and errors; a host application
// (CLI, UI, logging) subscribes. Publishers never know who is listening.
//
// Thread-safety: Implementations must be thread-safe as download jobs publish
// from their own goroutines while the session publishes from its control loop.
//
// Example usage:
//
//	subID := bus.Subscribe(domain.EventStateChanged, func(event domain.Event) {
//	    e := event.(domain.StateChangedEvent)
//	    fmt.Println(e.Previous, "->", e.Current)
//	})
//	defer bus.Unsubscribe(subID)
type EventBus interface {
	// Publish publishes an event to all subscribers of that event type.
	//
	// This method must not block for long periods. Handlers should process events quickly
	// or dispatch to a background goroutine if long processing is needed.
	Publish(event domain.Event)

	// Subscribe registers a handler for events of the specified type.
	// Returns a SubscriptionID that can be used to unsubscribe later.
	Subscribe(eventType domain.EventType, handler domain.EventHandler) domain.SubscriptionID

	// Unsubscribe removes a previously registered event handler.
	// If the subscription ID is invalid or already unsubscribed, this is a no-op.
	Unsubscribe(id domain.SubscriptionID)

	// SubscribeAll registers a handler that receives all events regardless of type.
	// This is useful for logging, debugging, or analytics.
	SubscribeAll(handler domain.EventHandler) domain.SubscriptionID

	// HasSubscribers returns true if there are any active subscriptions for the given event type.
	// This can be used to avoid expensive event construction if no one is listening.
	HasSubscribers(eventType domain.EventType) bool

	// Close shuts down the event bus and cleans up resources.
	Close() error
}
