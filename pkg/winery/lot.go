package winery

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vinoma/cellar/pkg/clock"
	"github.com/vinoma/cellar/pkg/eventsourcing"
	"github.com/vinoma/cellar/pkg/idgen"
	"github.com/vinoma/cellar/pkg/store/sqlite"
)

// Lot codes: 2-50 uppercase alphanumerics with optional interior hyphens or
// underscores.
var lotCodePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{0,48}[A-Z0-9]$`)

// WineLot is a quantity of wine tracked through receipts, blends,
// measurements and bottlings. Volume is derived entirely from its events.
type WineLot struct {
	eventsourcing.AggregateRoot

	Code      string
	Volume    decimal.Decimal
	DeletedAt *time.Time
}

// CreateWineLot records a new lot with its declared composition. The
// creation event's occurred_at is pinned to the Unix epoch so it sorts ahead
// of any backdated event later inserted into the stream.
func CreateWineLot(ctx context.Context, code string, composition Composition) (*WineLot, error) {
	if err := validateLotCode(code); err != nil {
		return nil, err
	}
	if err := composition.Validate(); err != nil {
		return nil, err
	}

	lot := &WineLot{}
	ev := &WineLotCreated{
		Meta:        eventsourcing.NewMeta(KindWineLotCreated, idgen.NewID()),
		Timestamped: eventsourcing.Timestamped{OccurredAt: time.Unix(0, 0).UTC()},
		Code:        code,
		Components:  composition.Amounts(),
	}
	if err := eventsourcing.Apply(ctx, lot, ev); err != nil {
		return nil, err
	}
	return lot, nil
}

// Update renames the lot.
func (l *WineLot) Update(ctx context.Context, code string) error {
	if l.DeletedAt != nil {
		return fmt.Errorf("cannot update a deleted wine lot")
	}
	if err := validateLotCode(code); err != nil {
		return err
	}

	ev := &WineLotUpdated{
		Meta: eventsourcing.NewMeta(KindWineLotUpdated, l.ID),
		Code: eventsourcing.ValueChange[string]{Before: l.Code, After: code},
	}
	return eventsourcing.Apply(ctx, l, ev)
}

// Destroy soft-deletes the lot. The code is replaced with a unique marker so
// the original code can be reused; the replacement is carried in the event
// payload, keeping replay deterministic.
func (l *WineLot) Destroy(ctx context.Context) error {
	if l.DeletedAt != nil {
		return fmt.Errorf("wine lot has already been deleted")
	}

	ev := &WineLotDeleted{
		Meta:        eventsourcing.NewMeta(KindWineLotDeleted, l.ID),
		Timestamped: eventsourcing.Timestamped{OccurredAt: clock.Now()},
		Code:        eventsourcing.ValueChange[string]{Before: l.Code, After: l.Code + "!" + idgen.NewID()},
	}
	return eventsourcing.Apply(ctx, l, ev)
}

// ReceiveVolume adds volume from outside the cellar.
func (l *WineLot) ReceiveVolume(ctx context.Context, actionID string, effectiveAt time.Time, volume decimal.Decimal) error {
	if l.DeletedAt != nil {
		return fmt.Errorf("cannot adjust volume of a deleted wine lot")
	}

	ev := &VolumeReceived{
		Meta:            eventsourcing.NewMeta(KindVolumeReceived, l.ID),
		Timestamped:     eventsourcing.Timestamped{OccurredAt: effectiveAt},
		ActionSequenced: eventsourcing.ActionSequenced{ActionID: actionID},
		Volume:          volume,
	}
	return eventsourcing.Apply(ctx, l, ev)
}

// Remeasure replaces the lot's volume with a fresh measurement.
func (l *WineLot) Remeasure(ctx context.Context, actionID string, effectiveAt time.Time, volume decimal.Decimal) error {
	if l.DeletedAt != nil {
		return fmt.Errorf("cannot re-measure a deleted wine lot")
	}
	if volume.IsNegative() {
		return fmt.Errorf("volume must be non-negative")
	}

	ev := &VolumeRemeasured{
		Meta:            eventsourcing.NewMeta(KindVolumeRemeasured, l.ID),
		Timestamped:     eventsourcing.Timestamped{OccurredAt: effectiveAt},
		ActionSequenced: eventsourcing.ActionSequenced{ActionID: actionID},
		Volume:          volume,
	}
	return eventsourcing.Apply(ctx, l, ev)
}

// BlendInVolume adds blended volume arriving from other lots.
func (l *WineLot) BlendInVolume(ctx context.Context, actionID string, effectiveAt time.Time, volumeReceived decimal.Decimal, volumes map[string]decimal.Decimal) error {
	if l.DeletedAt != nil {
		return fmt.Errorf("cannot blend into a deleted wine lot")
	}
	if !volumeReceived.IsPositive() {
		return fmt.Errorf("volume must be greater than zero")
	}

	ev := &VolumeBlended{
		Meta:            eventsourcing.NewMeta(KindVolumeBlended, l.ID),
		Timestamped:     eventsourcing.Timestamped{OccurredAt: effectiveAt},
		ActionSequenced: eventsourcing.ActionSequenced{ActionID: actionID},
		Volumes:         volumes,
		VolumeReceived:  volumeReceived,
	}
	return eventsourcing.Apply(ctx, l, ev)
}

// MoveVolume subtracts volume given to another lot.
func (l *WineLot) MoveVolume(ctx context.Context, actionID string, effectiveAt time.Time, volume decimal.Decimal, toWineLotID string) error {
	if l.DeletedAt != nil {
		return fmt.Errorf("cannot move volume from a deleted wine lot")
	}
	if volume.IsNegative() {
		return fmt.Errorf("volume must be non-negative")
	}

	ev := &VolumeMoved{
		Meta:            eventsourcing.NewMeta(KindVolumeMoved, l.ID),
		Timestamped:     eventsourcing.Timestamped{OccurredAt: effectiveAt},
		ActionSequenced: eventsourcing.ActionSequenced{ActionID: actionID},
		Volume:          volume,
		ToWineLotID:     toWineLotID,
	}
	return eventsourcing.Apply(ctx, l, ev)
}

// Bottle subtracts volume taken into bottles.
func (l *WineLot) Bottle(ctx context.Context, actionID string, effectiveAt time.Time, volume decimal.Decimal) error {
	if l.DeletedAt != nil {
		return fmt.Errorf("cannot bottle a deleted wine lot")
	}
	if !volume.IsPositive() {
		return fmt.Errorf("volume must be greater than zero")
	}

	ev := &VolumeBottled{
		Meta:            eventsourcing.NewMeta(KindVolumeBottled, l.ID),
		Timestamped:     eventsourcing.Timestamped{OccurredAt: effectiveAt},
		ActionSequenced: eventsourcing.ActionSequenced{ActionID: actionID},
		Volume:          volume,
	}
	return eventsourcing.Apply(ctx, l, ev)
}

// ValidateEventContext guards subtraction events against driving the lot's
// volume negative. It is a pure function of (state, event): it runs again on
// every replay.
func (l *WineLot) ValidateEventContext(ev eventsourcing.Event) error {
	switch e := ev.(type) {
	case *VolumeMoved:
		if l.Volume.Sub(e.Volume).IsNegative() {
			return fmt.Errorf("moved volume cannot exceed current volume. Current volume: %s, moved: %s", l.Volume, e.Volume)
		}
	case *VolumeBottled:
		if l.Volume.Sub(e.Volume).IsNegative() {
			return fmt.Errorf("bottled volume cannot exceed current volume. Current volume: %s, bottled: %s", l.Volume, e.Volume)
		}
	}
	return nil
}

// ApplyEvent mutates in-memory state for one event kind.
func (l *WineLot) ApplyEvent(ev eventsourcing.Event) error {
	switch e := ev.(type) {
	case *WineLotCreated:
		l.AggregateRoot.ID = e.AggregateID()
		l.Code = e.Code
	case *WineLotUpdated:
		l.Code = e.Code.After
	case *WineLotDeleted:
		l.Code = e.Code.After
		at := e.OccurredAt
		l.DeletedAt = &at
	case *VolumeReceived:
		l.Volume = l.Volume.Add(e.Volume)
	case *VolumeRemeasured:
		l.Volume = e.Volume
	case *VolumeBottled:
		l.Volume = l.Volume.Sub(e.Volume)
	case *VolumeBlended:
		l.Volume = l.Volume.Add(e.VolumeReceived)
	case *VolumeMoved:
		l.Volume = l.Volume.Sub(e.Volume)
	default:
		return fmt.Errorf("%w: wine lot cannot apply %s", eventsourcing.ErrNotImplementedForKind, ev.Type())
	}
	return nil
}

// Model names the event store backing wine lots.
func (l *WineLot) Model() *eventsourcing.EventModel { return LotEvents }

// ModelName is used in user-facing error messages.
func (l *WineLot) ModelName() string { return "WineLot" }

// Identity returns the blank replay seed for this lot.
func (l *WineLot) Identity() eventsourcing.Aggregate {
	return &WineLot{AggregateRoot: eventsourcing.IdentityRoot(l.ID, l.Version)}
}

// InsertRow writes the initial snapshot row.
func (l *WineLot) InsertRow(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wine_lots (id, version, code, volume, deleted_at)
		VALUES (?, ?, ?, ?, ?)
	`, l.ID, l.Version, l.Code, l.Volume.StringFixed(2), unixOrNil(l.DeletedAt))
	return sqlite.MapError(err)
}

// UpdateRow issues the optimistic compare-and-update against fromVersion.
func (l *WineLot) UpdateRow(ctx context.Context, tx *sql.Tx, fromVersion int) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE wine_lots SET version = ?, code = ?, volume = ?, deleted_at = ?
		WHERE id = ? AND version = ?
	`, l.Version, l.Code, l.Volume.StringFixed(2), unixOrNil(l.DeletedAt), l.ID, fromVersion)
	if err != nil {
		return 0, sqlite.MapError(err)
	}
	return res.RowsAffected()
}

func validateLotCode(code string) error {
	if len(code) < 2 || len(code) > 50 {
		return fmt.Errorf("code must be between 2 and 50 characters long")
	}
	if !lotCodePattern.MatchString(code) {
		return fmt.Errorf("code must consist of uppercase alphanumeric characters, hyphens, or underscores")
	}
	return nil
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
