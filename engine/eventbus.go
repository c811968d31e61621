package engine

import (
	"log"
	"sync"
	"time"
)

type EventType int

// SubscriberID identifies a listener for Unsubscribe.
type SubscriberID int

type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

type listener struct {
	id    SubscriberID
	fn    func(Event)
	types map[EventType]struct{} // nil means every type
}

func (l listener) wants(t EventType) bool {
	if l.types == nil {
		return true
	}
	_, ok := l.types[t]
	return ok
}

// EventBus fans engine events out to in-process listeners. Emit calls the
// listeners on the emitting goroutine in subscription order, so a
// scheduler pass has persisted its task before it completes the plan.
type EventBus struct {
	mu        sync.RWMutex
	listeners []listener
	nextID    SubscriberID
	logFn     LogFunc
}

func NewEventBus() *EventBus {
	return &EventBus{logFn: log.Printf}
}

// Subscribe registers fn for every event type.
func (eb *EventBus) Subscribe(fn func(Event)) SubscriberID {
	return eb.add(listener{fn: fn})
}

// SubscribeTypes registers fn for the given event types only.
func (eb *EventBus) SubscribeTypes(fn func(Event), types ...EventType) SubscriberID {
	set := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return eb.add(listener{fn: fn, types: set})
}

func (eb *EventBus) add(l listener) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	l.id = eb.nextID
	eb.listeners = append(eb.listeners, l)
	return l.id
}

// Unsubscribe removes a listener. It reports false for an unknown id.
func (eb *EventBus) Unsubscribe(id SubscriberID) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, l := range eb.listeners {
		if l.id == id {
			eb.listeners = append(eb.listeners[:i:i], eb.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered listeners.
func (eb *EventBus) Len() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.listeners)
}

// Emit delivers evt to every interested listener. A panicking listener is
// logged and skipped; the rest still run.
func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	eb.mu.RLock()
	snapshot := make([]listener, len(eb.listeners))
	copy(snapshot, eb.listeners)
	eb.mu.RUnlock()

	for _, l := range snapshot {
		if l.wants(evt.Type) {
			eb.deliver(l, evt)
		}
	}
}

func (eb *EventBus) deliver(l listener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logFn("engine: %s listener %d panicked: %v", evt.Type, l.id, r)
		}
	}()
	l.fn(evt)
}
