package winery

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vinoma/cellar/pkg/clock"
	"github.com/vinoma/cellar/pkg/eventsourcing"
	"github.com/vinoma/cellar/pkg/observability"
	"github.com/vinoma/cellar/pkg/store/sqlite"
)

// Cellar is the application service for recording and revising cellar work.
// Every mutating method runs inside a unit of work: all row changes commit
// atomically and notifications fire only after commit.
type Cellar struct {
	db      *sql.DB
	events  eventsourcing.EventStore
	uow     *eventsourcing.UnitOfWork
	lots    *LotStore
	actions *ActionStore
	log     *zap.Logger

	cursorChunkSize int
}

// CellarOption configures New.
type CellarOption func(*Cellar)

// WithLogger sets the service logger.
func WithLogger(log *zap.Logger) CellarOption {
	return func(c *Cellar) { c.log = log }
}

// WithCursorChunkSize sets the keyset pagination page size.
func WithCursorChunkSize(n int) CellarOption {
	return func(c *Cellar) {
		if n > 0 {
			c.cursorChunkSize = n
		}
	}
}

// New wires a Cellar over an opened store. bus and metrics may be nil.
func New(store *sqlite.Store, bus *eventsourcing.NotificationBus, metrics *observability.Metrics, opts ...CellarOption) *Cellar {
	c := &Cellar{
		db:              store.DB(),
		events:          store,
		lots:            NewLotStore(store.DB()),
		actions:         NewActionStore(store.DB()),
		log:             zap.NewNop(),
		cursorChunkSize: 1000,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.uow = eventsourcing.NewUnitOfWork(store.DB(), store, bus, c.log, metrics)
	return c
}

// Lots exposes the lot reader.
func (c *Cellar) Lots() *LotStore { return c.lots }

// Actions exposes the action reader.
func (c *Cellar) Actions() *ActionStore { return c.actions }

// UnitOfWork exposes the unit-of-work runner for callers composing several
// operations into one transaction.
func (c *Cellar) UnitOfWork() *eventsourcing.UnitOfWork { return c.uow }

// CreateLot records a new lot with its declared composition.
func (c *Cellar) CreateLot(ctx context.Context, code string, composition Composition) (*WineLot, error) {
	var lot *WineLot
	err := c.uow.Run(ctx, func(ctx context.Context) error {
		var err error
		lot, err = CreateWineLot(ctx, code, composition)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lot, nil
}

// UpdateLot renames a lot.
func (c *Cellar) UpdateLot(ctx context.Context, lotID, code string) (*WineLot, error) {
	var lot *WineLot
	err := c.uow.Run(ctx, func(ctx context.Context) error {
		var err error
		lot, err = c.lots.Get(ctx, lotID)
		if err != nil {
			return err
		}
		return lot.Update(ctx, code)
	})
	if err != nil {
		return nil, err
	}
	return lot, nil
}

// DestroyLot soft-deletes a lot, freeing its code for reuse.
func (c *Cellar) DestroyLot(ctx context.Context, lotID string) error {
	return c.uow.Run(ctx, func(ctx context.Context) error {
		lot, err := c.lots.Get(ctx, lotID)
		if err != nil {
			return err
		}
		return lot.Destroy(ctx)
	})
}

// DestroyAction soft-deletes an action. The lot events it produced remain:
// deleting work is an audit marker, not a retraction.
func (c *Cellar) DestroyAction(ctx context.Context, actionID string) error {
	return c.uow.Run(ctx, func(ctx context.Context) error {
		action, err := c.actions.Get(ctx, actionID)
		if err != nil {
			return err
		}
		return action.Destroy(ctx)
	})
}

// RebuildWineLots restores lot snapshot rows from the event log.
func (c *Cellar) RebuildWineLots(ctx context.Context, onlyID string, chunkSize int, chunkDone func(index int)) error {
	source := c.lots.Rebuilder(c.cursorChunkSize)
	return eventsourcing.RebuildAggregates(ctx, c.db, c.events, source, onlyID, chunkSize, chunkDone)
}

// RebuildActions restores action snapshot rows from the event log.
func (c *Cellar) RebuildActions(ctx context.Context, onlyID string, chunkSize int, chunkDone func(index int)) error {
	source := c.actions.Rebuilder(c.cursorChunkSize)
	return eventsourcing.RebuildAggregates(ctx, c.db, c.events, source, onlyID, chunkSize, chunkDone)
}

// normalizeEffectiveAt applies the backdating policy: sub-second precision
// is truncated to the store's resolution, and a provided effective date must
// be at least two seconds in the past so it cannot race the current write.
func normalizeEffectiveAt(effectiveAt *time.Time) (at time.Time, backdated bool, err error) {
	if effectiveAt == nil {
		return clock.Now(), false, nil
	}
	at = effectiveAt.UTC().Truncate(time.Second)
	if at.After(clock.Now().Add(-2 * time.Second)) {
		return time.Time{}, false, fmt.Errorf("effective date must be functionally in the past if provided")
	}
	return at, true, nil
}

// editableAtTime rewinds the lots to the end of the backdated instant, so
// the new event applies against the state that was current at that time.
func (c *Cellar) editableAtTime(ctx context.Context, lots []*WineLot, at time.Time) (map[string]*WineLot, error) {
	byID, err := eventsourcing.LoadEditableAtTime(ctx, c.events, lotAggregates(lots), at)
	if err != nil {
		return nil, err
	}
	return lotsByID(byID)
}

// editableAtPoint rewinds the lots to just before the event recorded at
// (at, actionID), registering the event itself for retraction.
func (c *Cellar) editableAtPoint(ctx context.Context, lots []*WineLot, at time.Time, actionID string) (map[string]*WineLot, error) {
	byID, err := eventsourcing.LoadEditableAtTimeAndPoint(ctx, c.events, lotAggregates(lots), at, actionID)
	if err != nil {
		return nil, err
	}
	return lotsByID(byID)
}

func (c *Cellar) reapplyDownstream(ctx context.Context, lots map[string]*WineLot, at time.Time, actionID string) error {
	for _, lot := range lots {
		if err := eventsourcing.ReapplyDownstreamFrom(ctx, c.events, lot, at, actionID); err != nil {
			return err
		}
	}
	return nil
}

func lotAggregates(lots []*WineLot) []eventsourcing.Aggregate {
	out := make([]eventsourcing.Aggregate, len(lots))
	for i, lot := range lots {
		out[i] = lot
	}
	return out
}

func lotsByID(aggs map[string]eventsourcing.Aggregate) (map[string]*WineLot, error) {
	out := make(map[string]*WineLot, len(aggs))
	for id, agg := range aggs {
		lot, ok := agg.(*WineLot)
		if !ok {
			return nil, fmt.Errorf("expected wine lot aggregate for %s", id)
		}
		out[id] = lot
	}
	return out, nil
}
