package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a resolution lifecycle event.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// PassID is the resolution pass the event belongs to.
	PassID string `json:"pass_id"`

	// Resolver is set for resolver events.
	Resolver string `json:"resolver,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypePassStarted       = "pass.started"
	EventTypePassCompleted     = "pass.completed"
	EventTypeResolverCompleted = "resolver.completed"
	EventTypeResolverSkipped   = "resolver.skipped"
	EventTypeResolverFailed    = "resolver.failed"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events. It runs on the
// publishing goroutine and must not block.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers and keeps the most recent
// ones for inspection.
type EventPublisher struct {
	config      EventsConfig
	mu          sync.RWMutex
	subscribers []subscriberEntry
	recent      []Event
	next        int
	full        bool
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	ep := &EventPublisher{config: cfg}
	if cfg.Enabled && cfg.BufferSize > 0 {
		ep.recent = make([]Event, cfg.BufferSize)
	}
	return ep
}

// Publish stamps the event and delivers it to all subscribers.
func (ep *EventPublisher) Publish(event Event) {
	if !ep.config.Enabled {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.Lock()
	if len(ep.recent) > 0 {
		ep.recent[ep.next] = event
		ep.next = (ep.next + 1) % len(ep.recent)
		if ep.next == 0 {
			ep.full = true
		}
	}
	subs := append([]subscriberEntry(nil), ep.subscribers...)
	ep.mu.Unlock()

	for _, entry := range subs {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// PublishPassStarted publishes a pass started event.
func (ep *EventPublisher) PublishPassStarted(passID string) {
	ep.Publish(Event{
		Type:    EventTypePassStarted,
		PassID:  passID,
		Message: fmt.Sprintf("Resolution pass %s started", passID),
		Level:   EventLevelInfo,
	})
}

// PublishPassCompleted publishes a pass completed event.
func (ep *EventPublisher) PublishPassCompleted(passID, status string, factCount int, duration time.Duration) {
	level := EventLevelInfo
	if status != "completed" {
		level = EventLevelWarning
	}
	ep.Publish(Event{
		Type:    EventTypePassCompleted,
		PassID:  passID,
		Message: fmt.Sprintf("Resolution pass %s %s with %d facts", passID, status, factCount),
		Level:   level,
		Data: map[string]interface{}{
			"status":   status,
			"facts":    factCount,
			"duration": duration.Seconds(),
		},
	})
}

// PublishResolver publishes the event matching a resolver outcome.
func (ep *EventPublisher) PublishResolver(passID, resolver, status, reason string, duration time.Duration) {
	event := Event{
		PassID:   passID,
		Resolver: resolver,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	}
	switch status {
	case "failed":
		event.Type = EventTypeResolverFailed
		event.Level = EventLevelError
		event.Message = fmt.Sprintf("Resolver %s failed: %s", resolver, reason)
	case "skipped", "blocked":
		event.Type = EventTypeResolverSkipped
		event.Level = EventLevelInfo
		event.Message = fmt.Sprintf("Resolver %s %s: %s", resolver, status, reason)
	default:
		event.Type = EventTypeResolverCompleted
		event.Level = EventLevelInfo
		event.Message = fmt.Sprintf("Resolver %s %s", resolver, status)
	}
	ep.Publish(event)
}

// Subscribe adds a new event subscriber. A nil filter accepts everything.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// Recent returns the retained events, oldest first.
func (ep *EventPublisher) Recent() []Event {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	if !ep.full {
		return append([]Event(nil), ep.recent[:ep.next]...)
	}
	out := make([]Event, 0, len(ep.recent))
	out = append(out, ep.recent[ep.next:]...)
	return append(out, ep.recent[:ep.next]...)
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByPassID creates a filter that only allows events of one pass.
func FilterByPassID(passID string) EventFilter {
	return func(event Event) bool {
		return event.PassID == passID
	}
}
