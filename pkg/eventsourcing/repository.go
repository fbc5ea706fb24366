package eventsourcing

import (
	"context"
	"fmt"
)

// Repository is the per-transaction unit-of-work state: it batches
// aggregate persists, event appends, event retractions and post-commit
// notifications. One Repository lives exactly as long as one unit-of-work
// scope and must be empty at its boundaries.
//
// A Repository is never shared across units of work. It travels on the
// context (see WithRepository), not in a package-level variable, so
// concurrent units of work in different goroutines each see their own.
type Repository struct {
	aggregates []Aggregate
	newEvents  map[Aggregate][]Event

	appendOrder []*EventModel
	appends     map[*EventModel][]Event

	deleteOrder []*EventModel
	deletions   map[*EventModel][]StoredEvent

	notifications []Event
}

// NewRepository returns an empty unit-of-work state.
func NewRepository() *Repository {
	return &Repository{
		newEvents: make(map[Aggregate][]Event),
		appends:   make(map[*EventModel][]Event),
		deletions: make(map[*EventModel][]StoredEvent),
	}
}

// Add registers the aggregate and pulls the tail of its recorded events
// beyond what is already buffered. Calling Add after every Apply is
// idempotent per event: each recorded event is buffered exactly once, in
// the order it was applied.
func (r *Repository) Add(agg Aggregate) {
	buffered, seen := r.newEvents[agg]
	if !seen {
		r.aggregates = append(r.aggregates, agg)
	}
	tail := agg.Root().RecordedEvents()[len(buffered):]

	r.newEvents[agg] = append(buffered, tail...)
	if len(tail) > 0 {
		r.bufferAppends(agg.Model(), tail)
		r.notifications = append(r.notifications, tail...)
	}
	for _, stored := range agg.Root().takeRetracted() {
		r.bufferDeletion(agg.Model(), stored)
	}
}

// MarkEventEdited registers the aggregate for persistence even if it emits
// no new events, and queues the stored event for deletion at commit time.
func (r *Repository) MarkEventEdited(agg Aggregate, stored StoredEvent) {
	if _, seen := r.newEvents[agg]; !seen {
		r.aggregates = append(r.aggregates, agg)
		r.newEvents[agg] = nil
	}
	r.bufferDeletion(agg.Model(), stored)
}

func (r *Repository) bufferAppends(model *EventModel, events []Event) {
	if _, ok := r.appends[model]; !ok {
		r.appendOrder = append(r.appendOrder, model)
	}
	r.appends[model] = append(r.appends[model], events...)
}

func (r *Repository) bufferDeletion(model *EventModel, stored StoredEvent) {
	if _, ok := r.deletions[model]; !ok {
		r.deleteOrder = append(r.deleteOrder, model)
	}
	r.deletions[model] = append(r.deletions[model], stored)
}

// retractionCount returns how many stored events are queued for deletion.
func (r *Repository) retractionCount() int {
	n := 0
	for _, stored := range r.deletions {
		n += len(stored)
	}
	return n
}

// Notifications returns every buffered event in the order it was applied.
func (r *Repository) Notifications() []Event {
	return r.notifications
}

// Clear resets all state. It is invoked on rollback and after commit.
func (r *Repository) Clear() {
	r.aggregates = nil
	r.newEvents = make(map[Aggregate][]Event)
	r.appendOrder = nil
	r.appends = make(map[*EventModel][]Event)
	r.deleteOrder = nil
	r.deletions = make(map[*EventModel][]StoredEvent)
	r.notifications = nil
}

// persist runs the in-transaction steps of the unit of work: aggregate rows
// first (optimistic version bump), then event appends per store, then
// retracted-event deletions. Notification dispatch happens after commit and
// is the unit of work's responsibility, not the repository's.
func (r *Repository) persist(ctx context.Context, store EventStore) error {
	tx, ok := TxFrom(ctx)
	if !ok {
		return fmt.Errorf("%w: persist requires an open transaction", ErrNoUnitOfWork)
	}

	for _, agg := range r.aggregates {
		if err := PersistAggregate(ctx, tx, agg); err != nil {
			return err
		}
	}

	for _, model := range r.appendOrder {
		if err := store.Append(ctx, model, r.appends[model]); err != nil {
			return fmt.Errorf("append %s events: %w", model.Name, err)
		}
	}

	for _, model := range r.deleteOrder {
		ids := make([]int64, 0, len(r.deletions[model]))
		for _, stored := range r.deletions[model] {
			ids = append(ids, stored.ID)
		}
		if err := store.Delete(ctx, model, ids); err != nil {
			return fmt.Errorf("delete %s events: %w", model.Name, err)
		}
	}

	return nil
}
