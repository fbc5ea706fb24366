package eventsourcing

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LoadEditableAtTime loads editable versions of the aggregates as of the
// end of occurredAt: persistable representations including any events that
// occurred at exactly that time.
//
// Unpersisted aggregates are kept as-is (not copied, so instances already
// tracked by the repository are not duplicated) and marked for backdating.
// Persisted aggregates are rebuilt from their identity by folding every
// event with occurred_at at or before the target time, in canonical order.
// Aggregates with no events in that window did not exist yet: they are
// seeded with their earliest event and marked for backdating so the
// backdated mutation has something to land on.
func LoadEditableAtTime(ctx context.Context, store EventStore, aggregates []Aggregate, occurredAt time.Time) (map[string]Aggregate, error) {
	byID, model := editableSeeds(aggregates)
	if len(byID) == 0 {
		return byID, nil
	}

	events, err := store.Fetch(ctx, model, Filter{
		AggregateIDs: ids(byID),
		Until:        &Cutoff{At: occurredAt},
	})
	if err != nil {
		return nil, err
	}

	rebuilt := make(map[string]bool)
	for _, stored := range events {
		ev, err := stored.Decode(model)
		if err != nil {
			return nil, err
		}
		rebuilt[stored.AggregateID] = true
		if err := Load(byID[stored.AggregateID], ev); err != nil {
			return nil, err
		}
	}

	if err := seedBackdated(ctx, store, model, byID, rebuilt, ""); err != nil {
		return nil, err
	}
	return byID, nil
}

// LoadEditableAtTimeAndPoint loads editable versions of the aggregates at a
// specific point in time, for editing the event recorded at
// (occurredAt, sequenceNumber).
//
// The fold window includes events strictly before occurredAt plus those at
// occurredAt whose sequence number is at or before sequenceNumber. Events
// carrying exactly sequenceNumber are not folded: they are registered with
// the unit of work for deletion at commit time, since the edit replaces
// them. Aggregates with no events in the window are seeded with their
// earliest event excluding the edited sequence, and marked for backdating.
func LoadEditableAtTimeAndPoint(ctx context.Context, store EventStore, aggregates []Aggregate, occurredAt time.Time, sequenceNumber string) (map[string]Aggregate, error) {
	repo, ok := RepositoryFrom(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: editing events requires a unit of work", ErrNoUnitOfWork)
	}

	byID, model := editableSeeds(aggregates)
	if len(byID) == 0 {
		return byID, nil
	}

	events, err := store.Fetch(ctx, model, Filter{
		AggregateIDs: ids(byID),
		Until:        &Cutoff{At: occurredAt, Sequence: sequenceNumber},
	})
	if err != nil {
		return nil, err
	}

	rebuilt := make(map[string]bool)
	for _, stored := range events {
		if stored.SequenceNumber != nil && *stored.SequenceNumber == sequenceNumber {
			// The exact event being reverted: retract it instead of folding.
			repo.MarkEventEdited(byID[stored.AggregateID], stored)
			continue
		}
		ev, err := stored.Decode(model)
		if err != nil {
			return nil, err
		}
		rebuilt[stored.AggregateID] = true
		if err := Load(byID[stored.AggregateID], ev); err != nil {
			return nil, err
		}
	}

	if err := seedBackdated(ctx, store, model, byID, rebuilt, sequenceNumber); err != nil {
		return nil, err
	}
	return byID, nil
}

// LoadStatesBefore returns read-only snapshots of the aggregates strictly
// before (occurredAt, sequenceNumber); pass an empty sequence number for a
// purely temporal bound. The returned instances cannot be persisted:
// attempting to do so fails with ErrCannotPersistView.
//
// All referenced aggregates must already exist in the event store; thin
// representations carrying only id and version are acceptable input.
func LoadStatesBefore(ctx context.Context, store EventStore, aggregates []Aggregate, occurredAt time.Time, sequenceNumber string) (map[string]Aggregate, error) {
	byID := make(map[string]Aggregate, len(aggregates))
	var model *EventModel
	for _, agg := range aggregates {
		if model == nil {
			model = agg.Model()
		}
		view := agg.Identity()
		view.Root().MarkViewOnly()
		byID[agg.Root().ID] = view
	}
	if len(byID) == 0 {
		return byID, nil
	}

	cutoff := &Cutoff{At: occurredAt, Strict: true}
	if sequenceNumber != "" {
		cutoff.Sequence = sequenceNumber
	}

	events, err := store.Fetch(ctx, model, Filter{AggregateIDs: ids(byID), Until: cutoff})
	if err != nil {
		return nil, err
	}

	rebuilt := make(map[string]bool)
	for _, stored := range events {
		ev, err := stored.Decode(model)
		if err != nil {
			return nil, err
		}
		rebuilt[stored.AggregateID] = true
		if err := Load(byID[stored.AggregateID], ev); err != nil {
			return nil, err
		}
	}

	if err := seedBackdated(ctx, store, model, byID, rebuilt, ""); err != nil {
		return nil, err
	}
	return byID, nil
}

// ReapplyDownstreamFrom folds every event on the aggregate that comes after
// (occurredAt, sequenceNumber) in canonical order, re-deriving the current
// state from the revised history. The unit of work persists the result.
func ReapplyDownstreamFrom(ctx context.Context, store EventStore, agg Aggregate, occurredAt time.Time, sequenceNumber string) error {
	model := agg.Model()
	events, err := store.Fetch(ctx, model, Filter{
		AggregateIDs: []string{agg.Root().ID},
		Since:        &Cutoff{At: occurredAt, Sequence: sequenceNumber},
	})
	if err != nil {
		return err
	}
	for _, stored := range events {
		ev, err := stored.Decode(model)
		if err != nil {
			return err
		}
		if err := Load(agg, ev); err != nil {
			return err
		}
	}
	return nil
}

// RebuildSource enumerates the persisted identities of one aggregate type
// for offline rebuilds.
type RebuildSource interface {
	// Model is the event store backing the aggregate type.
	Model() *EventModel

	// Count returns how many instances will be rebuilt.
	Count(ctx context.Context, onlyID string) (int, error)

	// Identities streams identity seeds (id and version only) in a stable
	// order, restricted to onlyID when non-empty.
	Identities(ctx context.Context, onlyID string, fn func(agg Aggregate) error) error
}

// RebuildAggregates restores aggregate rows from the event log: for each
// chunk of identities it folds the complete event history onto fresh seeds
// and persists them inside one transaction per chunk. Used to recover the
// snapshot rows after migrations or bugs.
func RebuildAggregates(ctx context.Context, db *sql.DB, store EventStore, source RebuildSource, onlyID string, chunkSize int, chunkDone func(index int)) error {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	model := source.Model()

	chunk := make([]Aggregate, 0, chunkSize)
	index := 1

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		byID := make(map[string]Aggregate, len(chunk))
		chunkIDs := make([]string, 0, len(chunk))
		for _, agg := range chunk {
			byID[agg.Root().ID] = agg
			chunkIDs = append(chunkIDs, agg.Root().ID)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin rebuild chunk: %w", err)
		}
		txCtx := WithTx(ctx, tx)

		events, err := store.Fetch(txCtx, model, Filter{AggregateIDs: chunkIDs})
		if err != nil {
			tx.Rollback()
			return err
		}
		for _, stored := range events {
			ev, err := stored.Decode(model)
			if err != nil {
				tx.Rollback()
				return err
			}
			if err := Load(byID[stored.AggregateID], ev); err != nil {
				tx.Rollback()
				return err
			}
		}

		for _, agg := range chunk {
			if err := PersistAggregate(txCtx, tx, agg); err != nil {
				tx.Rollback()
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit rebuild chunk: %w", err)
		}

		if chunkDone != nil {
			chunkDone(index)
		}
		index++
		chunk = chunk[:0]
		return nil
	}

	err := source.Identities(ctx, onlyID, func(agg Aggregate) error {
		chunk = append(chunk, agg)
		if len(chunk) == chunkSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

// editableSeeds prepares the working map for the editable-load functions:
// unpersisted aggregates are kept and marked for backdating, persisted ones
// are replaced by their blank identity.
func editableSeeds(aggregates []Aggregate) (map[string]Aggregate, *EventModel) {
	byID := make(map[string]Aggregate, len(aggregates))
	var model *EventModel
	for _, agg := range aggregates {
		if model == nil {
			model = agg.Model()
		}
		if agg.Root().IsNew() {
			// Not yet persisted: the creation will be recorded at insertion
			// time, which is later than the time being acted on.
			agg.Root().MarkForBackdating()
			byID[agg.Root().ID] = agg
		} else {
			byID[agg.Root().ID] = agg.Identity()
		}
	}
	return byID, model
}

// seedBackdated folds the single earliest event (in canonical order) onto
// every aggregate that received no events in the fold window, and marks it
// for backdating. These aggregates did not exist at the target time but are
// about to gain a reference in the backdated past.
func seedBackdated(ctx context.Context, store EventStore, model *EventModel, byID map[string]Aggregate, rebuilt map[string]bool, excludeSequence string) error {
	var missing []string
	for id := range byID {
		if !rebuilt[id] && !byID[id].Root().IsNew() {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	events, err := store.Fetch(ctx, model, Filter{
		AggregateIDs:    missing,
		ExcludeSequence: excludeSequence,
	})
	if err != nil {
		return err
	}

	seeded := make(map[string]bool, len(missing))
	for _, stored := range events {
		if seeded[stored.AggregateID] {
			continue
		}
		seeded[stored.AggregateID] = true
		ev, err := stored.Decode(model)
		if err != nil {
			return err
		}
		agg := byID[stored.AggregateID]
		if err := Load(agg, ev); err != nil {
			return err
		}
		agg.Root().MarkForBackdating()
	}
	return nil
}

func ids(byID map[string]Aggregate) []string {
	out := make([]string, 0, len(byID))
	for id := range byID {
		out = append(out, id)
	}
	return out
}
