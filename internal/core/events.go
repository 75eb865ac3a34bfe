package core

import "sync"

// EventType identifies the kind of event fired on the bus.
type EventType int

const (
	EventSessionStateChanged EventType = iota
	EventTrafficSnapshot
	EventValidationPass
	EventNetworkSwitched
	EventSessionRevoked
	EventConfigReloaded
)

// Event carries data about something that happened in the system.
type Event struct {
	Type    EventType
	Payload any
}

// SessionStatePayload is the payload for EventSessionStateChanged.
type SessionStatePayload struct {
	OldState SessionState
	NewState SessionState
}

// SnapshotPayload is the payload for EventTrafficSnapshot.
type SnapshotPayload struct {
	Snapshot TrafficSnapshot
}

// ValidationPayload is the payload for EventValidationPass.
type ValidationPayload struct {
	Valid bool
}

// NetworkSwitchPayload is the payload for EventNetworkSwitched.
type NetworkSwitchPayload struct {
	From string
	To   string
}

// Handler is a callback for bus subscribers.
type Handler func(Event)

// EventBus provides pub/sub between system components.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventBus creates a ready-to-use event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a given event type.
func (eb *EventBus) Subscribe(t EventType, h Handler) {
	eb.mu.Lock()
	eb.handlers[t] = append(eb.handlers[t], h)
	eb.mu.Unlock()
}

// Publish fires an event to all subscribed handlers synchronously.
// A nil bus is a valid no-op publisher.
func (eb *EventBus) Publish(e Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	handlers := eb.handlers[e.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
