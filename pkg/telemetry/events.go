package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event describing something that
// happened to a target, a batch, or a submission (§2.1 ambient stack).
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// TargetID is the associated target id, if applicable.
	TargetID string `json:"target_id,omitempty"`

	// Host is the associated executor host, if applicable.
	Host string `json:"host,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeTargetActivated  = "target.activated"
	EventTypeTargetSuccessful = "target.successful"
	EventTypeTargetDead       = "target.dead"
	EventTypeTargetKilled     = "target.killed"
	EventTypeOrphanReaped     = "target.orphan_reaped"
	EventTypeSubmissionRejected = "submission.rejected"
	EventTypeExecutorCall     = "executor.call"
	EventTypeError            = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	if cfg.FlushInterval > 0 {
		ep.wg.Add(1)
		go ep.periodicFlush()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishTargetActivated publishes a target activation event.
func (ep *EventPublisher) PublishTargetActivated(targetID, cause string) error {
	return ep.Publish(Event{
		Type:     EventTypeTargetActivated,
		Source:   "driver",
		TargetID: targetID,
		Message:  fmt.Sprintf("target %s activated: %s", targetID, cause),
		Level:    EventLevelInfo,
		Data:     map[string]interface{}{"cause": cause},
	})
}

// PublishTargetSuccessful publishes a target reaching Successful.
func (ep *EventPublisher) PublishTargetSuccessful(targetID string, attempts int) error {
	return ep.Publish(Event{
		Type:     EventTypeTargetSuccessful,
		Source:   "driver",
		TargetID: targetID,
		Message:  fmt.Sprintf("target %s successful", targetID),
		Level:    EventLevelInfo,
		Data:     map[string]interface{}{"attempts": attempts},
	})
}

// PublishTargetDead publishes a target reaching Dead.
func (ep *EventPublisher) PublishTargetDead(targetID, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeTargetDead,
		Source:   "driver",
		TargetID: targetID,
		Message:  fmt.Sprintf("target %s died: %s", targetID, reason),
		Level:    EventLevelError,
		Data:     map[string]interface{}{"reason": reason},
	})
}

// PublishTargetKilled publishes a target reaching Killed via a user or
// orphan-sweep kill request.
func (ep *EventPublisher) PublishTargetKilled(targetID, cause string) error {
	return ep.Publish(Event{
		Type:     EventTypeTargetKilled,
		Source:   "driver",
		TargetID: targetID,
		Message:  fmt.Sprintf("target %s killed: %s", targetID, cause),
		Level:    EventLevelWarning,
		Data:     map[string]interface{}{"cause": cause},
	})
}

// PublishOrphanReaped publishes an orphan-sweep reap event (§4.5, §9).
func (ep *EventPublisher) PublishOrphanReaped(targetID string) error {
	return ep.Publish(Event{
		Type:     EventTypeOrphanReaped,
		Source:   "driver.orphan_sweep",
		TargetID: targetID,
		Message:  fmt.Sprintf("target %s reaped as an orphan", targetID),
		Level:    EventLevelWarning,
	})
}

// PublishSubmissionRejected publishes a submit_targets admission-policy
// rejection (§4.3).
func (ep *EventPublisher) PublishSubmissionRejected(targetID, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeSubmissionRejected,
		Source:   "protocol.submit_targets",
		TargetID: targetID,
		Message:  fmt.Sprintf("submission of %s rejected: %s", targetID, reason),
		Level:    EventLevelWarning,
		Data:     map[string]interface{}{"reason": reason},
	})
}

// PublishExecutorCall publishes an executor dispatch event.
func (ep *EventPublisher) PublishExecutorCall(targetID, host, action string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:     EventTypeExecutorCall,
		Source:   "executor",
		TargetID: targetID,
		Host:     host,
		Message:  fmt.Sprintf("executor %s on %s for %s", action, host, targetID),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"action":       action,
			"duration_sec": duration.Seconds(),
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	var tick <-chan time.Time
	if ep.config.FlushInterval > 0 {
		ticker := time.NewTicker(ep.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-tick:
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			for len(ep.buffer) > 0 {
				batch = append(batch, <-ep.buffer)
			}
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// periodicFlush runs a ticker until shutdown; the periodic flush of
// the pending batch itself happens in processEvents.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Draining and the periodic flush are handled by
			// processEvents on its own ticker.
		case <-ep.ctx.Done():
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

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

// FilterByTargetID creates a filter that only allows events for a specific target.
func FilterByTargetID(targetID string) EventFilter {
	return func(event Event) bool {
		return event.TargetID == targetID
	}
}
