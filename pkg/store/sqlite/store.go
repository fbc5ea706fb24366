// Package sqlite persists aggregates and their event logs in SQLite using
// the pure Go driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vinoma/cellar/pkg/clock"
	"github.com/vinoma/cellar/pkg/eventsourcing"
)

type config struct {
	maxOpenConns int
	maxIdleConns int
	walMode      bool
	autoMigrate  bool
}

func defaultConfig() config {
	return config{
		maxOpenConns: 25,
		maxIdleConns: 5,
		walMode:      true,
		autoMigrate:  true,
	}
}

// Option configures Open.
type Option func(*config)

// WithMaxOpenConns sets the maximum number of open connections.
func WithMaxOpenConns(n int) Option {
	return func(c *config) { c.maxOpenConns = n }
}

// WithMaxIdleConns sets the maximum number of idle connections.
func WithMaxIdleConns(n int) Option {
	return func(c *config) { c.maxIdleConns = n }
}

// WithWALMode toggles write-ahead logging. Not applicable to :memory:
// databases.
func WithWALMode(enabled bool) Option {
	return func(c *config) { c.walMode = enabled }
}

// WithAutoMigrate toggles running pending migrations on open.
func WithAutoMigrate(enabled bool) Option {
	return func(c *config) { c.autoMigrate = enabled }
}

// Store is the SQLite event store. It reads and writes through the
// transaction bound to the context when one is present, so fetches inside a
// unit of work observe that scope's uncommitted appends and deletions.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the database at dsn. Use ":memory:" for an
// in-memory database; it is pinned to a single connection since each SQLite
// connection otherwise gets its own empty in-memory database.
func Open(dsn string, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.maxOpenConns)
		db.SetMaxIdleConns(cfg.maxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	if cfg.walMode && dsn != ":memory:" {
		if _, err := db.Exec(`
			PRAGMA journal_mode = WAL;
			PRAGMA synchronous = NORMAL;
			PRAGMA foreign_keys = ON;
		`); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	if cfg.autoMigrate {
		if err := runMigrations(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying pool for transaction management and direct
// aggregate-row queries.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := eventsourcing.TxFrom(ctx); ok {
		return tx
	}
	return s.db
}

// Append bulk-inserts the events in input order. occurred_at comes from the
// event when it carries a domain time, otherwise the write time is used;
// sequence_number is NULL for events not caused by an action.
func (s *Store) Append(ctx context.Context, model *eventsourcing.EventModel, events []eventsourcing.Event) error {
	if len(events) == 0 {
		return nil
	}
	conn := s.conn(ctx)
	now := clock.Now()

	query := fmt.Sprintf(`
		INSERT INTO %s (aggregate_id, event_type, event_data, created_at, occurred_at, sequence_number)
		VALUES (?, ?, ?, ?, ?, ?)
	`, model.Table)

	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode %s event: %w", ev.Type(), err)
		}

		occurredAt := now
		if te, ok := ev.(eventsourcing.TimestampedEvent); ok {
			occurredAt = te.EventOccurredAt()
		}

		var sequence sql.NullString
		if se, ok := ev.(eventsourcing.SequencedEvent); ok {
			sequence = sql.NullString{String: se.EventSequenceNumber(), Valid: true}
		}

		_, err = conn.ExecContext(ctx, query,
			ev.AggregateID(), ev.Type(), string(data),
			now.Unix(), occurredAt.Unix(), sequence,
		)
		if err != nil {
			return mapError(err)
		}
	}
	return nil
}

// Fetch returns the matching rows in canonical order: occurred_at, then
// sequence_number with NULLs first, then insertion id. Reverse flips all
// three, putting NULL sequence numbers last.
func (s *Store) Fetch(ctx context.Context, model *eventsourcing.EventModel, filter eventsourcing.Filter) ([]eventsourcing.StoredEvent, error) {
	var (
		where []string
		args  []any
	)

	if len(filter.AggregateIDs) > 0 {
		where = append(where, "aggregate_id IN ("+placeholders(len(filter.AggregateIDs))+")")
		for _, id := range filter.AggregateIDs {
			args = append(args, id)
		}
	}
	if len(filter.Types) > 0 {
		where = append(where, "event_type IN ("+placeholders(len(filter.Types))+")")
		for _, t := range filter.Types {
			args = append(args, t)
		}
	}

	if c := filter.Until; c != nil {
		at := c.At.Unix()
		switch {
		case c.Sequence == "" && !c.Strict:
			where = append(where, "occurred_at <= ?")
			args = append(args, at)
		case c.Sequence == "" && c.Strict:
			where = append(where, "occurred_at < ?")
			args = append(args, at)
		case !c.Strict:
			where = append(where, "(occurred_at < ? OR (occurred_at = ? AND sequence_number <= ?))")
			args = append(args, at, at, c.Sequence)
		default:
			where = append(where, "(occurred_at < ? OR (occurred_at = ? AND sequence_number < ?))")
			args = append(args, at, at, c.Sequence)
		}
	}

	if c := filter.Since; c != nil {
		at := c.At.Unix()
		if c.Sequence == "" {
			where = append(where, "occurred_at > ?")
			args = append(args, at)
		} else {
			where = append(where, "(occurred_at > ? OR (occurred_at = ? AND sequence_number > ?))")
			args = append(args, at, at, c.Sequence)
		}
	}

	if filter.ExcludeSequence != "" {
		where = append(where, "(sequence_number IS NULL OR sequence_number <> ?)")
		args = append(args, filter.ExcludeSequence)
	}

	query := fmt.Sprintf(`
		SELECT id, aggregate_id, event_type, event_data, created_at, occurred_at, sequence_number
		FROM %s
	`, model.Table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.Reverse {
		query += " ORDER BY occurred_at DESC, sequence_number DESC, id DESC"
	} else {
		// SQLite sorts NULLs first on ASC, which is the canonical tie-break
		// for events that carry no sequence number.
		query += " ORDER BY occurred_at ASC, sequence_number ASC, id ASC"
	}

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s events: %w", model.Name, err)
	}
	defer rows.Close()

	var out []eventsourcing.StoredEvent
	for rows.Next() {
		var (
			stored     eventsourcing.StoredEvent
			data       string
			createdAt  int64
			occurredAt int64
			sequence   sql.NullString
		)
		if err := rows.Scan(&stored.ID, &stored.AggregateID, &stored.Type, &data, &createdAt, &occurredAt, &sequence); err != nil {
			return nil, fmt.Errorf("scan %s event: %w", model.Name, err)
		}
		stored.Data = []byte(data)
		stored.CreatedAt = time.Unix(createdAt, 0).UTC()
		stored.OccurredAt = time.Unix(occurredAt, 0).UTC()
		if sequence.Valid {
			seq := sequence.String
			stored.SequenceNumber = &seq
		}
		out = append(out, stored)
	}
	return out, rows.Err()
}

// Delete removes retracted rows by surrogate id.
func (s *Store) Delete(ctx context.Context, model *eventsourcing.EventModel, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", model.Table, placeholders(len(ids)))
	if _, err := s.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete %s events: %w", model.Name, err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

var _ eventsourcing.EventStore = (*Store)(nil)
