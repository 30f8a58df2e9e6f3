package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/section6nz/3scale-sync/pkg/engine"
)

// EventSubscriber is a function that handles run events. Subscribers run on
// the publisher's delivery goroutine and must not block or modify the event.
type EventSubscriber func(event *engine.Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event *engine.Event) bool

// EventPublisher buffers and delivers run events to subscribers. It
// implements the engine's event publishing interface.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan *engine.Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

var _ engine.EventPublisher = (*EventPublisher)(nil)

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given
// configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan *engine.Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers. With async publishing the
// event is buffered and delivered by a background goroutine; a full buffer
// drops the event with an error rather than blocking the run.
func (ep *EventPublisher) Publish(ctx context.Context, event *engine.Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise deliver immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		case <-ctx.Done():
			return ctx.Err()
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// Subscribe adds a new event subscriber. The filter may be nil to receive
// all events.
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

// processEvents drains the buffer, delivering events in batches. A partial
// batch is flushed on every FlushInterval tick and on shutdown.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	var flush <-chan time.Time
	if ep.config.FlushInterval > 0 {
		ticker := time.NewTicker(ep.config.FlushInterval)
		defer ticker.Stop()
		flush = ticker.C
	}

	batch := make([]*engine.Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]*engine.Event, 0, ep.config.MaxBatchSize)
			}

		case <-flush:
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = make([]*engine.Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					if len(batch) > 0 {
						ep.flushBatch(batch)
					}
					return
				}
			}
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []*engine.Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers whose filter matches.
func (ep *EventPublisher) deliverEvent(event *engine.Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher, flushing buffered
// events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled || ep.cancel == nil {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
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

// FilterByLevel creates a filter that only allows events of a specific
// level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		"info":    0,
		"warning": 1,
		"error":   2,
	}

	minLevelValue := levels[minLevel]

	return func(event *engine.Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...engine.EventType) EventFilter {
	typeSet := make(map[engine.EventType]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event *engine.Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event *engine.Event) bool {
		return event.RunID == runID
	}
}

// FilterBySource creates a filter that only allows events for a specific
// configuration document.
func FilterBySource(source string) EventFilter {
	return func(event *engine.Event) bool {
		return event.Source == source
	}
}

// LogSubscriber returns a subscriber that writes events to the logger at
// the event's own level. The CLI uses it to surface the run timeline.
func LogSubscriber(logger *Logger) EventSubscriber {
	return func(event *engine.Event) {
		l := logger.WithRunID(event.RunID).WithField("event", string(event.Type))
		if event.Source != "" {
			l = l.WithSource(event.Source)
		}
		if event.Entity != "" {
			l = l.WithField("entity", event.Entity)
		}

		switch event.Level {
		case "error":
			l.Error(event.Message)
		case "warning":
			l.Warn(event.Message)
		default:
			l.Info(event.Message)
		}
	}
}
