package winery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vinoma/cellar/pkg/eventsourcing"
	"github.com/vinoma/cellar/pkg/store/sqlite"
)

type rowQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func conn(ctx context.Context, db *sql.DB) rowQuerier {
	if tx, ok := eventsourcing.TxFrom(ctx); ok {
		return tx
	}
	return db
}

// LotStore reads wine lot snapshot rows. Reads inside a unit of work go
// through its transaction and observe uncommitted writes.
type LotStore struct {
	db *sql.DB
}

// NewLotStore returns a lot reader over db.
func NewLotStore(db *sql.DB) *LotStore { return &LotStore{db: db} }

const lotColumns = "id, version, code, volume, deleted_at"

// Get returns the lot by id, or an error naming the missing id.
func (s *LotStore) Get(ctx context.Context, id string) (*WineLot, error) {
	row := conn(ctx, s.db).QueryRowContext(ctx, "SELECT "+lotColumns+" FROM wine_lots WHERE id = ?", id)
	lot, err := scanLot(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("wine lot with ID %s does not exist", id)
	}
	return lot, err
}

// GetAll returns the named lots keyed by id, erroring if any are missing.
func (s *LotStore) GetAll(ctx context.Context, ids []string) (map[string]*WineLot, error) {
	out := make(map[string]*WineLot, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		lot, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = lot
	}
	return out, nil
}

// Rebuilder enumerates lot identities for offline rebuilds.
func (s *LotStore) Rebuilder(pageSize int) eventsourcing.RebuildSource {
	return &lotRebuildSource{store: s, pageSize: pageSize}
}

func scanLot(scan func(dest ...any) error) (*WineLot, error) {
	var (
		id        string
		version   int
		code      string
		volume    string
		deletedAt sql.NullInt64
	)
	if err := scan(&id, &version, &code, &volume, &deletedAt); err != nil {
		return nil, err
	}
	vol, err := decimal.NewFromString(volume)
	if err != nil {
		return nil, fmt.Errorf("decode wine lot %s volume: %w", id, err)
	}
	lot := &WineLot{
		AggregateRoot: eventsourcing.PersistedRoot(id, version),
		Code:          code,
		Volume:        vol,
	}
	if deletedAt.Valid {
		at := time.Unix(deletedAt.Int64, 0).UTC()
		lot.DeletedAt = &at
	}
	return lot, nil
}

type lotRebuildSource struct {
	store    *LotStore
	pageSize int
}

func (r *lotRebuildSource) Model() *eventsourcing.EventModel { return LotEvents }

func (r *lotRebuildSource) Count(ctx context.Context, onlyID string) (int, error) {
	return countRows(ctx, r.store.db, "wine_lots", onlyID)
}

func (r *lotRebuildSource) Identities(ctx context.Context, onlyID string, fn func(agg eventsourcing.Aggregate) error) error {
	page := identityPage(r.store.db, "wine_lots", onlyID)
	return sqlite.ForEachCursor(ctx, r.pageSize, page, func(seed identitySeed) error {
		return fn(&WineLot{AggregateRoot: eventsourcing.IdentityRoot(seed.id, seed.version)})
	})
}

// ActionStore reads action snapshot rows.
type ActionStore struct {
	db *sql.DB
}

// NewActionStore returns an action reader over db.
func NewActionStore(db *sql.DB) *ActionStore { return &ActionStore{db: db} }

const actionColumns = "id, version, action_type, effective_at, recorded_at, updated_at, deleted_at, revision_number, involved_lot_ids, details"

// Get returns the action by id, or an error naming the missing id.
func (s *ActionStore) Get(ctx context.Context, id string) (*Action, error) {
	row := conn(ctx, s.db).QueryRowContext(ctx, "SELECT "+actionColumns+" FROM actions WHERE id = ?", id)
	action, err := scanAction(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("action with ID %s does not exist", id)
	}
	return action, err
}

// CountByType reports how many actions of the given type exist.
func (s *ActionStore) CountByType(ctx context.Context, actionType ActionType) (int, error) {
	var n int
	err := conn(ctx, s.db).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM actions WHERE action_type = ?", string(actionType),
	).Scan(&n)
	return n, err
}

// Rebuilder enumerates action identities for offline rebuilds.
func (s *ActionStore) Rebuilder(pageSize int) eventsourcing.RebuildSource {
	return &actionRebuildSource{store: s, pageSize: pageSize}
}

func scanAction(scan func(dest ...any) error) (*Action, error) {
	var (
		id          string
		version     int
		actionType  string
		effectiveAt int64
		recordedAt  int64
		updatedAt   sql.NullInt64
		deletedAt   sql.NullInt64
		revision    int
		involved    string
		details     string
	)
	if err := scan(&id, &version, &actionType, &effectiveAt, &recordedAt, &updatedAt, &deletedAt, &revision, &involved, &details); err != nil {
		return nil, err
	}

	action := &Action{
		AggregateRoot:  eventsourcing.PersistedRoot(id, version),
		ActionType:     ActionType(actionType),
		EffectiveAt:    time.Unix(effectiveAt, 0).UTC(),
		RecordedAt:     time.Unix(recordedAt, 0).UTC(),
		RevisionNumber: revision,
	}
	if updatedAt.Valid {
		at := time.Unix(updatedAt.Int64, 0).UTC()
		action.UpdatedAt = &at
	}
	if deletedAt.Valid {
		at := time.Unix(deletedAt.Int64, 0).UTC()
		action.DeletedAt = &at
	}
	if err := json.Unmarshal([]byte(involved), &action.InvolvedLotIDs); err != nil {
		return nil, fmt.Errorf("decode action %s involved lot ids: %w", id, err)
	}
	if err := json.Unmarshal([]byte(details), &action.Details); err != nil {
		return nil, fmt.Errorf("decode action %s details: %w", id, err)
	}
	return action, nil
}

type actionRebuildSource struct {
	store    *ActionStore
	pageSize int
}

func (r *actionRebuildSource) Model() *eventsourcing.EventModel { return ActionEvents }

func (r *actionRebuildSource) Count(ctx context.Context, onlyID string) (int, error) {
	return countRows(ctx, r.store.db, "actions", onlyID)
}

func (r *actionRebuildSource) Identities(ctx context.Context, onlyID string, fn func(agg eventsourcing.Aggregate) error) error {
	page := identityPage(r.store.db, "actions", onlyID)
	return sqlite.ForEachCursor(ctx, r.pageSize, page, func(seed identitySeed) error {
		return fn(&Action{AggregateRoot: eventsourcing.IdentityRoot(seed.id, seed.version)})
	})
}

type identitySeed struct {
	id      string
	version int
}

func identityPage(db *sql.DB, table, onlyID string) sqlite.Page[identitySeed] {
	return func(ctx context.Context, after string, limit int) ([]identitySeed, string, error) {
		query := fmt.Sprintf("SELECT id, version FROM %s WHERE id > ?", table)
		args := []any{after}
		if onlyID != "" {
			query += " AND id = ?"
			args = append(args, onlyID)
		}
		query += " ORDER BY id LIMIT ?"
		args = append(args, limit)

		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, "", err
		}
		defer rows.Close()

		var (
			out  []identitySeed
			last string
		)
		for rows.Next() {
			var seed identitySeed
			if err := rows.Scan(&seed.id, &seed.version); err != nil {
				return nil, "", err
			}
			out = append(out, seed)
			last = seed.id
		}
		return out, last, rows.Err()
	}
}

func countRows(ctx context.Context, db *sql.DB, table, onlyID string) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	args := []any{}
	if onlyID != "" {
		query += " WHERE id = ?"
		args = append(args, onlyID)
	}
	var n int
	err := db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}
