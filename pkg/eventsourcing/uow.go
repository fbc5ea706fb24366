package eventsourcing

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/vinoma/cellar/pkg/observability"
)

type ctxKey int

const (
	repositoryKey ctxKey = iota
	txKey
)

// WithRepository binds a unit-of-work repository to the context.
func WithRepository(ctx context.Context, repo *Repository) context.Context {
	return context.WithValue(ctx, repositoryKey, repo)
}

// RepositoryFrom returns the repository bound to the context, if any.
func RepositoryFrom(ctx context.Context) (*Repository, bool) {
	repo, ok := ctx.Value(repositoryKey).(*Repository)
	return repo, ok
}

// WithTx binds the unit of work's open transaction to the context.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// TxFrom returns the transaction bound to the context, if any. Stores use
// it so reads and writes inside a unit of work see uncommitted state.
func TxFrom(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// UnitOfWork runs scoped mutations against the datastore: a single database
// transaction wraps all aggregate persists, event appends and retractions,
// and notifications are dispatched only after a successful commit.
type UnitOfWork struct {
	db      *sql.DB
	store   EventStore
	bus     *NotificationBus
	log     *zap.Logger
	metrics *observability.Metrics
}

// NewUnitOfWork wires a unit-of-work runner. log may be nil; metrics may be
// nil to disable instrumentation.
func NewUnitOfWork(db *sql.DB, store EventStore, bus *NotificationBus, log *zap.Logger, metrics *observability.Metrics) *UnitOfWork {
	if log == nil {
		log = zap.NewNop()
	}
	return &UnitOfWork{db: db, store: store, bus: bus, log: log, metrics: metrics}
}

// Run executes fn inside a unit-of-work scope.
//
// If the context already carries a scope, fn joins it: buffered changes
// commit with the outer scope. Otherwise Run opens a transaction, binds a
// fresh repository and the transaction to the context, and on success
// persists buffered changes, commits, and dispatches notifications in the
// order events were applied. Any error clears the repository and rolls the
// transaction back; the bus is never invoked on a failed scope.
func (u *UnitOfWork) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := RepositoryFrom(ctx); ok {
		return fn(ctx)
	}

	repo := NewRepository()
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}

	ctx = WithTx(WithRepository(ctx, repo), tx)

	if err := fn(ctx); err != nil {
		u.rollback(ctx, repo, tx)
		return err
	}

	appended := len(repo.Notifications())
	retracted := repo.retractionCount()
	if err := repo.persist(ctx, u.store); err != nil {
		u.rollback(ctx, repo, tx)
		return err
	}

	if err := tx.Commit(); err != nil {
		repo.Clear()
		u.count(ctx, u.metricOrNil().UnitOfWorkRollbacks, 1)
		return fmt.Errorf("commit unit of work: %w", err)
	}

	notifications := repo.Notifications()
	repo.Clear()

	u.count(ctx, u.metricOrNil().UnitOfWorkCommits, 1)
	u.count(ctx, u.metricOrNil().EventsAppended, int64(appended))
	u.count(ctx, u.metricOrNil().EventsRetracted, int64(retracted))

	if u.bus == nil {
		return nil
	}
	if err := u.bus.DispatchAll(notifications); err != nil {
		return fmt.Errorf("dispatch notifications: %w", err)
	}
	u.count(ctx, u.metricOrNil().NotificationsDispatched, int64(len(notifications)))
	return nil
}

func (u *UnitOfWork) rollback(ctx context.Context, repo *Repository, tx *sql.Tx) {
	repo.Clear()
	if err := tx.Rollback(); err != nil {
		u.log.Error("rolling back unit of work", zap.Error(err))
	}
	u.count(ctx, u.metricOrNil().UnitOfWorkRollbacks, 1)
}

// metricOrNil lets callers read instrument fields off a nil Metrics.
func (u *UnitOfWork) metricOrNil() *observability.Metrics {
	if u.metrics == nil {
		return &observability.Metrics{}
	}
	return u.metrics
}

func (u *UnitOfWork) count(ctx context.Context, counter metric.Int64Counter, n int64) {
	if counter != nil {
		counter.Add(ctx, n)
	}
}
