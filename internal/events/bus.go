// Package events carries flight lifecycle and telemetry events between the
// runner, the feed daemon, and the observability sinks, and records run
// history to an append-only audit log.
package events

import (
	"sync"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventRunStarted is published when a flight program passes its battery
	// gate and begins executing.
	EventRunStarted EventType = "run_started"
	// EventRunStep is published once per program step, before the command
	// is issued to the vehicle.
	EventRunStep EventType = "run_step"
	// EventRunCompleted is published when every step of a program finished.
	EventRunCompleted EventType = "run_completed"
	// EventRunFailed is published when a run aborts, with the reason.
	EventRunFailed EventType = "run_failed"
	// EventTelemetryUpdate is published when a fresh state packet arrives.
	EventTelemetryUpdate EventType = "telemetry_update"
	// EventProgramsReloaded is published after the program library is
	// rebuilt from the workspace.
	EventProgramsReloaded EventType = "programs_reloaded"
)

// Event represents a system event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking event bus using Publish/Subscribe pattern.
// Events are delivered asynchronously via buffered channels.
// If a subscriber's channel is full, the event is dropped silently.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

// NewBus creates a new event bus with the specified buffer size per subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber for a specific event type.
// The subscriber function is called asynchronously in a goroutine.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			// A panicking subscriber must not take the bus down.
			func() {
				defer func() {
					_ = recover()
				}()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// SubscribeRunEvents registers one subscriber for every run lifecycle event
// type. The returned function removes all four subscriptions.
func (b *Bus) SubscribeRunEvents(fn Subscriber) func() {
	unsubs := []func(){
		b.Subscribe(EventRunStarted, fn),
		b.Subscribe(EventRunStep, fn),
		b.Subscribe(EventRunCompleted, fn),
		b.Subscribe(EventRunFailed, fn),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Publish sends an event to all subscribers of the given type.
// Uses select with default to ensure non-blocking behavior.
// If a subscriber's channel is full, the event is dropped for that subscriber.
func (b *Bus) Publish(eventType EventType, data map[string]interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	subscribers := b.subscribers[eventType]
	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			// Channel full, drop event to keep the publisher from blocking
			// mid-flight.
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
