package eventsourcing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event is an immutable record of a domain fact. Events are the sole writer
// of aggregate state: editing a recorded fact is modeled as retracting the
// stored event and applying a replacement, never as mutating the payload.
type Event interface {
	// AggregateID identifies the aggregate the event belongs to.
	AggregateID() string

	// AggregateType names the aggregate kind, e.g. "wine_lot".
	AggregateType() string

	// Type is the event kind discriminator, e.g. "VOLUME_BLENDED".
	Type() string

	// EventVersion is the monotonic payload schema version.
	EventVersion() int
}

// Meta is the embeddable base for every event payload.
type Meta struct {
	Aggregate string `json:"aggregate_id"`
	Kind      string `json:"event_type"`
	Schema    int    `json:"event_version"`
}

// NewMeta builds event metadata at schema version 1.
func NewMeta(kind, aggregateID string) Meta {
	return Meta{Aggregate: aggregateID, Kind: kind, Schema: 1}
}

func (m Meta) AggregateID() string { return m.Aggregate }
func (m Meta) Type() string        { return m.Kind }
func (m Meta) EventVersion() int   { return m.Schema }

// Timestamped is embedded by event kinds that carry a domain time. The
// occurred_at value, not the write time, drives canonical replay order.
type Timestamped struct {
	OccurredAt time.Time `json:"occurred_at"`
}

func (t Timestamped) EventOccurredAt() time.Time { return t.OccurredAt }

// TimestampedEvent is implemented by events embedding Timestamped.
type TimestampedEvent interface {
	EventOccurredAt() time.Time
}

// ActionSequenced is embedded by event kinds caused by a recorded action.
// The action's id doubles as the event's sequence number, correlating every
// downstream event with the action that produced it.
type ActionSequenced struct {
	ActionID string `json:"action_id"`
}

func (a ActionSequenced) EventSequenceNumber() string { return a.ActionID }

// SequencedEvent is implemented by events embedding ActionSequenced.
type SequencedEvent interface {
	EventSequenceNumber() string
}

// ValueChange records a field transition inside an edit event.
type ValueChange[V any] struct {
	Before V `json:"before"`
	After  V `json:"after"`
}

// DecodeFunc unmarshals a stored payload into its concrete event type.
type DecodeFunc func(data []byte) (Event, error)

// JSONDecoder returns a DecodeFunc for a concrete JSON event type.
func JSONDecoder[E any, PE interface {
	*E
	Event
}]() DecodeFunc {
	return func(data []byte) (Event, error) {
		e := new(E)
		if err := json.Unmarshal(data, e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		return PE(e), nil
	}
}

// Registry maps event kind discriminators to payload decoders.
type Registry struct {
	decoders map[string]DecodeFunc
}

// NewRegistry builds a registry from a kind-to-decoder mapping.
func NewRegistry(decoders map[string]DecodeFunc) *Registry {
	return &Registry{decoders: decoders}
}

// Decode unmarshals data using the decoder registered for kind.
func (r *Registry) Decode(kind string, data []byte) (Event, error) {
	if r == nil || r.decoders == nil {
		return nil, fmt.Errorf("%w: no event types registered", ErrImproperlyConfigured)
	}
	fn, ok := r.decoders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no event type registered for %q", ErrImproperlyConfigured, kind)
	}
	return fn(data)
}

// EventModel describes one event-store table and the payload types stored
// in it. Each aggregate type owns exactly one event model.
type EventModel struct {
	// Name is the aggregate type, used to qualify event names on the bus.
	Name string

	// Table is the event-store table backing this model.
	Table string

	// Types decodes stored payloads back into domain events.
	Types *Registry
}

// StoredEvent is one persisted event-store row.
type StoredEvent struct {
	ID             int64
	AggregateID    string
	Type           string
	Data           []byte
	CreatedAt      time.Time
	OccurredAt     time.Time
	SequenceNumber *string
}

// Decode unmarshals the row's payload via the model's registry.
func (s StoredEvent) Decode(model *EventModel) (Event, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: stored event has no event model", ErrImproperlyConfigured)
	}
	return model.Types.Decode(s.Type, s.Data)
}

// Cutoff is a point on the canonical event timeline. A cutoff with a
// sequence number splits events sharing the same occurred_at second: used
// as an upper bound it keeps events strictly before At plus those at At
// whose sequence number compares at-or-before Sequence; used as a lower
// bound it keeps events strictly after that point.
//
// This is the single definition of the temporal cutoff semantics shared by
// temporal replay and the composition projection.
type Cutoff struct {
	At       time.Time
	Sequence string // empty when the cutoff is purely temporal
	Strict   bool   // exclude the boundary itself
}

// Filter selects event rows. Zero-value fields are ignored. Results are
// always returned in canonical order (occurred_at, sequence_number with
// NULLs first, id), reversed when Reverse is set.
type Filter struct {
	AggregateIDs []string
	Types        []string

	// Until bounds the window from above (inclusive unless Strict).
	Until *Cutoff

	// Since bounds the window from below (always exclusive).
	Since *Cutoff

	// ExcludeSequence drops rows carrying this sequence number.
	ExcludeSequence string

	Reverse bool
}

// EventStore is the append-only per-aggregate event log.
type EventStore interface {
	// Append bulk-inserts events preserving input order, atomically with
	// the transaction bound to ctx.
	Append(ctx context.Context, model *EventModel, events []Event) error

	// Fetch returns matching rows in canonical order, consistent with the
	// current transaction's writes.
	Fetch(ctx context.Context, model *EventModel, filter Filter) ([]StoredEvent, error)

	// Delete bulk-removes retracted rows by surrogate id.
	Delete(ctx context.Context, model *EventModel, ids []int64) error
}
