package eventsourcing

import (
	"context"
	"database/sql"
	"fmt"
)

// AggregateRoot carries the event-sourcing state shared by every aggregate.
// Embed it by value and the promoted Root method satisfies the Aggregate
// interface.
type AggregateRoot struct {
	ID      string
	Version int

	persisted bool
	viewOnly  bool
	backdated bool

	recorded  []Event
	retracted []StoredEvent
}

// IdentityRoot returns the blank root of an already-persisted aggregate,
// carrying only id and version. It is the replay seed for existing rows.
func IdentityRoot(id string, version int) AggregateRoot {
	return AggregateRoot{ID: id, Version: version, persisted: true}
}

// PersistedRoot marks a root loaded from an existing database row.
func PersistedRoot(id string, version int) AggregateRoot {
	return AggregateRoot{ID: id, Version: version, persisted: true}
}

// Root returns itself so embedding types satisfy Aggregate.
func (r *AggregateRoot) Root() *AggregateRoot { return r }

// IsNew reports whether the aggregate has never been persisted.
func (r *AggregateRoot) IsNew() bool { return !r.persisted }

// IsPersistable reports whether the aggregate may be persisted at all.
// View snapshots returned by LoadStatesBefore are not.
func (r *AggregateRoot) IsPersistable() bool { return !r.viewOnly }

// MarkViewOnly turns the aggregate into a non-persistable snapshot.
func (r *AggregateRoot) MarkViewOnly() { r.viewOnly = true }

// MarkForBackdating flags that the aggregate's creation is being treated as
// occurring earlier than the event about to be inserted. Replay policies
// consult this when seeding aggregates that did not yet exist at the target
// time.
func (r *AggregateRoot) MarkForBackdating() { r.backdated = true }

// IsBackdated reports whether the aggregate was marked for backdating.
func (r *AggregateRoot) IsBackdated() bool { return r.backdated }

// RecordedEvents returns the uncommitted event buffer in apply order.
func (r *AggregateRoot) RecordedEvents() []Event { return r.recorded }

// Retract queues a previously stored event for deletion at commit time.
func (r *AggregateRoot) Retract(ev StoredEvent) { r.retracted = append(r.retracted, ev) }

// takeRetracted drains the retraction buffer.
func (r *AggregateRoot) takeRetracted() []StoredEvent {
	out := r.retracted
	r.retracted = nil
	return out
}

// ConfirmVersion raises an out-of-date error unless the aggregate is at the
// expected version. Callers use it to fail fast before emitting events.
func (r *AggregateRoot) ConfirmVersion(version int, model string) error {
	if r.Version != version {
		return &OutOfDateVersionError{Model: model}
	}
	return nil
}

// Aggregate is a consistency-bounded cluster of state reconstructable from
// its event history.
type Aggregate interface {
	// Root exposes the shared event-sourcing state.
	Root() *AggregateRoot

	// Model names the event store backing this aggregate type.
	Model() *EventModel

	// ModelName is the human-readable type name used in error messages.
	ModelName() string

	// ApplyEvent mutates in-memory state for one event kind. An unhandled
	// kind must return ErrNotImplementedForKind: that is a programmer
	// error, not a recoverable condition.
	ApplyEvent(ev Event) error

	// Identity returns a blank instance carrying only id and version,
	// used as the seed when replaying the aggregate from its events.
	Identity() Aggregate

	// InsertRow inserts the aggregate row at its current version.
	InsertRow(ctx context.Context, tx *sql.Tx) error

	// UpdateRow issues the compare-and-update
	// `UPDATE ... WHERE id=? AND version=?` against fromVersion and
	// returns the number of rows affected.
	UpdateRow(ctx context.Context, tx *sql.Tx, fromVersion int) (int64, error)
}

// ContextValidator is implemented by aggregates with event-context checks.
// Validators must be pure functions of (current state, event): they run
// again on every replay, so any external read would corrupt rebuilds.
type ContextValidator interface {
	ValidateEventContext(ev Event) error
}

// Load replays one event onto the aggregate: context validation followed by
// state mutation. It never touches the uncommitted buffer or the
// repository, which makes it the path used by temporal replay, rebuilds and
// read-side projections.
func Load(agg Aggregate, ev Event) error {
	if v, ok := agg.(ContextValidator); ok {
		if err := v.ValidateEventContext(ev); err != nil {
			return err
		}
	}
	return agg.ApplyEvent(ev)
}

// Apply records a new domain fact: it loads the event onto the aggregate,
// appends it to the uncommitted buffer and registers the aggregate with the
// unit of work bound to ctx.
func Apply(ctx context.Context, agg Aggregate, ev Event) error {
	if err := Load(agg, ev); err != nil {
		return err
	}

	root := agg.Root()
	root.recorded = append(root.recorded, ev)

	if !root.IsPersistable() {
		return nil
	}
	repo, ok := RepositoryFrom(ctx)
	if !ok {
		return fmt.Errorf("%w: cannot record %s", ErrNoUnitOfWork, ev.Type())
	}
	repo.Add(agg)
	return nil
}

// PersistAggregate writes the aggregate row. New aggregates are inserted at
// version 1; existing ones are bumped with an optimistic compare-and-update
// where zero affected rows signals a concurrent writer won.
func PersistAggregate(ctx context.Context, tx *sql.Tx, agg Aggregate) error {
	root := agg.Root()
	if !root.IsPersistable() {
		return &CannotPersistViewError{Model: agg.ModelName()}
	}

	if root.IsNew() {
		root.Version = 1
		if err := agg.InsertRow(ctx, tx); err != nil {
			return fmt.Errorf("insert %s %s: %w", agg.ModelName(), root.ID, err)
		}
		root.persisted = true
		return nil
	}

	fromVersion := root.Version
	root.Version = fromVersion + 1
	affected, err := agg.UpdateRow(ctx, tx, fromVersion)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", agg.ModelName(), root.ID, err)
	}
	if affected == 0 {
		return &OutOfDateVersionError{Model: agg.ModelName()}
	}
	return nil
}
