package events

import (
	"sync"
	"time"
)

const (
	RoundStartedEventType  = "RoundStarted"
	RoundFinishedEventType = "RoundFinished"
	RoundFailedEventType   = "RoundFailed"
	FlFinishedEventType    = "FlFinished"
)

// Event represents a generic event structure
type Event struct {
	Type      string
	Timestamp time.Time
	Data      interface{}
}

// RoundStartedEvent is published once the global weights have been broadcast
type RoundStartedEvent struct {
	Round   int
	Clients int
}

// RoundFinishedEvent is published after aggregation produced the next global state
type RoundFinishedEvent struct {
	Round    int
	Clients  int
	Duration time.Duration
}

// RoundFailedEvent is published when a round is aborted without a state transition
type RoundFailedEvent struct {
	Round    int
	ClientID string
	Phase    string
	Kind     string
	Err      error
}

// FlFinishedEvent represents the event structure for finishing FL
type FlFinishedEvent struct {
	Rounds      int
	ExitCode    int32
	ExitMessage string
}

// EventBus represents the event bus that handles event subscription and dispatching
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan<- Event
}

// NewEventBus creates a new instance of the event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan<- Event),
	}
}

// Subscribe adds a new subscriber for a given event type
func (eb *EventBus) Subscribe(eventType string, subscriber chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// Unsubscribe removes subscriber from eventType; unknown subscribers are ignored
func (eb *EventBus) Unsubscribe(eventType string, subscriber chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	subscribers := eb.subscribers[eventType]
	for i, s := range subscribers {
		if s == subscriber {
			eb.subscribers[eventType] = append(subscribers[:i:i], subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all subscribers of a given event type.
// A subscriber whose channel is full misses the event.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, subscriber := range eb.subscribers[event.Type] {
		select {
		case subscriber <- event:
		default:
		}
	}
}

// New stamps data with the current time.
func New(eventType string, data interface{}) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}
