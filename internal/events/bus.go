// Package events provides the in-process pub/sub bus that feeds the
// dashboard channel and decouples monitoring from alerting.
package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventHealthUpdate     EventType = "health_update"
	EventErrorDetected    EventType = "error_detected"
	EventHealingStarted   EventType = "healing_started"
	EventHealingSucceeded EventType = "healing_succeeded"
	EventHealingFailed    EventType = "healing_failed"
	EventAlertRaised      EventType = "alert"
	EventAlertResolved    EventType = "alert_resolved"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Each subscriber runs in its
// own goroutine so a slow consumer never stalls a poll cycle.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishHealthUpdate publishes endpoint health snapshots. Dashboard
// frames always carry a list under "endpoints", even for a single
// endpoint's change.
func (b *Bus) PublishHealthUpdate(snapshots ...interface{}) {
	b.Publish(Event{
		Type: EventHealthUpdate,
		Data: map[string]interface{}{"endpoints": snapshots},
	})
}

// PublishAlert publishes a raised alert
func (b *Bus) PublishAlert(alert interface{}) {
	b.Publish(Event{
		Type: EventAlertRaised,
		Data: map[string]interface{}{"alert": alert},
	})
}

// PublishAlertResolved announces an incident closed
func (b *Bus) PublishAlertResolved(alertID string) {
	b.Publish(Event{
		Type: EventAlertResolved,
		Data: map[string]interface{}{"alert_id": alertID},
	})
}
