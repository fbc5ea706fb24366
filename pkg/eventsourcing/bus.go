package eventsourcing

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Subscriber handles one notification. A fresh instance is built for every
// dispatch so handlers never share state across events.
type Subscriber interface {
	Handle(ev Event) error
}

// SubscriberFactory builds a subscriber instance for a single dispatch.
type SubscriberFactory func() Subscriber

// EventName is the key subscribers register under: the aggregate type and
// the event kind joined by a dot, e.g. "wine_lot.VOLUME_RECEIVED".
func EventName(ev Event) string {
	return ev.AggregateType() + "." + ev.Type()
}

// NotificationBus routes committed events to in-process subscribers. The
// unit of work dispatches on it strictly after a successful commit, so
// subscribers only ever observe durable facts.
type NotificationBus struct {
	mu          sync.RWMutex
	factories   map[string]SubscriberFactory
	subscribers map[string][]SubscriberFactory
	booted      bool

	log *zap.Logger
}

// NewNotificationBus returns an empty bus. log may be nil.
func NewNotificationBus(log *zap.Logger) *NotificationBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &NotificationBus{
		factories:   make(map[string]SubscriberFactory),
		subscribers: make(map[string][]SubscriberFactory),
		log:         log,
	}
}

// RegisterSubscriber makes a subscriber constructor available under a name
// that Boot's configuration map can reference.
func (b *NotificationBus) RegisterSubscriber(name string, factory SubscriberFactory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.factories[name] = factory
}

// Boot binds event names to registered subscriber names. It is idempotent:
// the first call wins and later calls are no-ops, so request paths may call
// it freely. An unknown subscriber name fails with ErrImproperlyConfigured.
func (b *NotificationBus) Boot(routes map[string][]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.booted {
		return nil
	}

	// Stage the routing table so a failed boot leaves the bus untouched
	// and a corrected retry does not duplicate routes.
	staged := make(map[string][]SubscriberFactory, len(routes))
	for eventName, names := range routes {
		for _, name := range names {
			factory, ok := b.factories[name]
			if !ok {
				return fmt.Errorf("%w: unknown subscriber %q for %s", ErrImproperlyConfigured, name, eventName)
			}
			staged[eventName] = append(staged[eventName], factory)
		}
	}
	b.subscribers = staged
	b.booted = true
	return nil
}

// Dispatch hands the event to every subscriber bound to its name. Each
// subscriber gets a fresh instance; the first error aborts the dispatch.
func (b *NotificationBus) Dispatch(ev Event) error {
	b.mu.RLock()
	factories := b.subscribers[EventName(ev)]
	b.mu.RUnlock()

	for _, factory := range factories {
		if err := factory().Handle(ev); err != nil {
			return fmt.Errorf("notify %s: %w", EventName(ev), err)
		}
	}
	return nil
}

// DispatchAll dispatches the events in order, stopping at the first error.
func (b *NotificationBus) DispatchAll(events []Event) error {
	for _, ev := range events {
		if err := b.Dispatch(ev); err != nil {
			return err
		}
	}
	return nil
}
