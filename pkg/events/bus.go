package events

import (
	"sync"
	"time"

	"github.com/killallgit/relay/pkg/logger"
)

// Event represents a generic event in the system
type Event struct {
	Type      string
	Payload   interface{}
	Source    string
	Timestamp time.Time
}

// Handler is a function that handles events
type Handler func(event Event)

// Subscription identifies one registered handler
type Subscription struct {
	eventType string
	id        uint64
}

type entry struct {
	id      uint64
	handler Handler
}

// EventBus provides decoupled communication between components. Handlers for
// asynchronously published events run on one dispatcher goroutine, so every
// handler sees events in publish order.
type EventBus struct {
	handlers map[string][]entry
	nextID   uint64
	mutex    sync.RWMutex
	log      *logger.Logger
	buffer   chan Event
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	bus := &EventBus{
		handlers: make(map[string][]entry),
		log:      logger.WithComponent("event_bus"),
		buffer:   make(chan Event, 100),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	go bus.processEvents()

	return bus
}

// Subscribe adds a handler for a specific event type. "*" receives every event.
func (eb *EventBus) Subscribe(eventType string, handler Handler) Subscription {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	eb.nextID++
	eb.handlers[eventType] = append(eb.handlers[eventType], entry{id: eb.nextID, handler: handler})
	eb.log.Debug("Handler subscribed to %s", eventType)
	return Subscription{eventType: eventType, id: eb.nextID}
}

// Unsubscribe removes exactly the handler registered by sub
func (eb *EventBus) Unsubscribe(sub Subscription) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	handlers := eb.handlers[sub.eventType]
	for i, e := range handlers {
		if e.id == sub.id {
			eb.handlers[sub.eventType] = append(handlers[:i:i], handlers[i+1:]...)
			eb.log.Debug("Handler unsubscribed from %s", sub.eventType)
			return
		}
	}
}

// Publish queues an event for ordered asynchronous delivery. It blocks while
// the buffer is full and drops the event once the bus is closed.
func (eb *EventBus) Publish(eventType string, payload interface{}, source string) {
	event := Event{
		Type:      eventType,
		Payload:   payload,
		Source:    source,
		Timestamp: time.Now(),
	}

	select {
	case <-eb.done:
		eb.log.Warn("Event bus closed, dropping %s from %s", eventType, source)
		return
	default:
	}

	select {
	case <-eb.done:
		eb.log.Warn("Event bus closed, dropping %s from %s", eventType, source)
	case eb.buffer <- event:
	}
}

// PublishSync delivers an event on the caller's goroutine
func (eb *EventBus) PublishSync(eventType string, payload interface{}, source string) {
	eb.deliverEvent(Event{
		Type:      eventType,
		Payload:   payload,
		Source:    source,
		Timestamp: time.Now(),
	})
}

func (eb *EventBus) processEvents() {
	defer close(eb.stopped)
	for {
		select {
		case event := <-eb.buffer:
			eb.deliverEvent(event)
		case <-eb.done:
			// deliver whatever was queued before Close
			for {
				select {
				case event := <-eb.buffer:
					eb.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (eb *EventBus) deliverEvent(event Event) {
	if event.Type == eventFlush {
		close(event.Payload.(chan struct{}))
		return
	}

	eb.mutex.RLock()
	handlers := append([]entry(nil), eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mutex.RUnlock()

	for _, e := range handlers {
		eb.call(e.handler, event)
	}
}

func (eb *EventBus) call(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.log.Error("Event handler panicked on %s: %v", event.Type, r)
		}
	}()
	h(event)
}

// Flush blocks until every event published before the call was delivered
func (eb *EventBus) Flush() {
	delivered := make(chan struct{})
	select {
	case <-eb.done:
		<-eb.stopped
		return
	case eb.buffer <- Event{Type: eventFlush, Payload: delivered, Timestamp: time.Now()}:
	}
	select {
	case <-delivered:
	case <-eb.stopped:
	}
}

// Close stops the dispatcher after flushing queued events
func (eb *EventBus) Close() {
	eb.once.Do(func() {
		close(eb.done)
	})
	<-eb.stopped
}

// eventFlush marks a Flush barrier; it never reaches handlers
const eventFlush = "_flush"

// Event type constants
const (
	EventUpdate            = "update"
	EventTurnStarted       = "turn_started"
	EventTurnFinished      = "turn_finished"
	EventMessageQueued     = "message_queued"
	EventApprovalRequested = "approval_requested"
	EventApprovalResolved  = "approval_resolved"
	EventSessionSaved      = "session_saved"
	EventError             = "error"
)

// Event payload structures

type TurnPayload struct {
	TurnID string
	Reason string
}

type QueuePayload struct {
	Text    string
	Pending int
}

type SessionPayload struct {
	SessionID string
	Title     string
	Tokens    int
}

type ErrorPayload struct {
	Error   string
	Source  string
	Context map[string]interface{}
}
