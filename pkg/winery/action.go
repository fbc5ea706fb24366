package winery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vinoma/cellar/pkg/clock"
	"github.com/vinoma/cellar/pkg/eventsourcing"
	"github.com/vinoma/cellar/pkg/idgen"
	"github.com/vinoma/cellar/pkg/store/sqlite"
)

// Action is the audit record of one piece of cellar work. Its id doubles as
// the sequence number on every wine lot event the work produced, which is
// how edits find the events to retract.
type Action struct {
	eventsourcing.AggregateRoot

	ActionType     ActionType
	EffectiveAt    time.Time
	RecordedAt     time.Time
	UpdatedAt      *time.Time
	DeletedAt      *time.Time
	RevisionNumber int
	InvolvedLotIDs []string
	Details        ActionDetails
}

// RecordReceiveVolume records a receipt of volume into a lot.
func RecordReceiveVolume(ctx context.Context, lot *WineLot, volume decimal.Decimal, effectiveAt time.Time) (*Action, error) {
	return record(ctx, effectiveAt, ActionDetails{
		Type:          ActionReceiveVolume,
		ReceiveVolume: &ReceiveVolumeDetails{WineLotID: lot.ID, Volume: volume},
	})
}

// RecordRemeasure records a re-measurement of a lot.
func RecordRemeasure(ctx context.Context, lot *WineLot, volume decimal.Decimal, effectiveAt time.Time) (*Action, error) {
	return record(ctx, effectiveAt, ActionDetails{
		Type:      ActionRemeasure,
		Remeasure: &RemeasureDetails{WineLotID: lot.ID, Volume: volume},
	})
}

// RecordBlend records a blend of several lots into a receiving lot.
func RecordBlend(ctx context.Context, blendVolumes map[string]decimal.Decimal, receivingLot *WineLot, blendedVolume decimal.Decimal, effectiveAt time.Time) (*Action, error) {
	if err := validateBlendVolumes(blendVolumes, blendedVolume); err != nil {
		return nil, err
	}
	return record(ctx, effectiveAt, ActionDetails{
		Type: ActionBlend,
		Blend: &BlendDetails{
			BlendVolumes:       blendVolumes,
			ReceivingWineLotID: receivingLot.ID,
			BlendedVolume:      blendedVolume,
		},
	})
}

// RecordBottle records a bottling run from a lot.
func RecordBottle(ctx context.Context, lot *WineLot, volumeBottled decimal.Decimal, bottles int, effectiveAt time.Time) (*Action, error) {
	return record(ctx, effectiveAt, ActionDetails{
		Type:   ActionBottle,
		Bottle: &BottleDetails{WineLotID: lot.ID, VolumeBottled: volumeBottled, Bottles: bottles},
	})
}

func record(ctx context.Context, effectiveAt time.Time, details ActionDetails) (*Action, error) {
	ev := &ActionRecorded{
		Meta:        eventsourcing.NewMeta(KindActionRecorded, idgen.NewID()),
		EffectiveAt: effectiveAt,
		RecordedAt:  clock.Now(),
		Details:     details,
	}
	action := &Action{}
	if err := eventsourcing.Apply(ctx, action, ev); err != nil {
		return nil, err
	}
	return action, nil
}

// Destroy soft-deletes the action.
func (a *Action) Destroy(ctx context.Context) error {
	if a.DeletedAt != nil {
		return fmt.Errorf("action has already been deleted")
	}
	ev := &ActionDeleted{
		Meta:      eventsourcing.NewMeta(KindActionDeleted, a.ID),
		DeletedAt: clock.Now(),
	}
	return eventsourcing.Apply(ctx, a, ev)
}

// EditReceiveVolume revises a receipt's lot and volume.
func (a *Action) EditReceiveVolume(ctx context.Context, lot *WineLot, volume decimal.Decimal) error {
	if err := a.editable(ActionReceiveVolume, "a volume receipt"); err != nil {
		return err
	}
	current := a.Details.ReceiveVolume
	return a.edit(ctx, EditedDetails{
		Type: ActionReceiveVolume,
		ReceiveVolume: &ReceiveVolumeEdit{
			WineLotID: eventsourcing.ValueChange[string]{Before: current.WineLotID, After: lot.ID},
			Volume:    eventsourcing.ValueChange[decimal.Decimal]{Before: current.Volume, After: volume},
		},
	})
}

// EditRemeasure revises a re-measurement's lot and volume.
func (a *Action) EditRemeasure(ctx context.Context, lot *WineLot, volume decimal.Decimal) error {
	if err := a.editable(ActionRemeasure, "a volume remeasurement"); err != nil {
		return err
	}
	current := a.Details.Remeasure
	return a.edit(ctx, EditedDetails{
		Type: ActionRemeasure,
		Remeasure: &RemeasureEdit{
			WineLotID: eventsourcing.ValueChange[string]{Before: current.WineLotID, After: lot.ID},
			Volume:    eventsourcing.ValueChange[decimal.Decimal]{Before: current.Volume, After: volume},
		},
	})
}

// EditBlend revises a blend's contributors, receiving lot and volume.
func (a *Action) EditBlend(ctx context.Context, blendVolumes map[string]decimal.Decimal, receivingLot *WineLot, blendedVolume decimal.Decimal) error {
	if err := a.editable(ActionBlend, "a blend"); err != nil {
		return err
	}
	if err := validateBlendVolumes(blendVolumes, blendedVolume); err != nil {
		return err
	}
	current := a.Details.Blend
	return a.edit(ctx, EditedDetails{
		Type: ActionBlend,
		Blend: &BlendEdit{
			BlendVolumes:       eventsourcing.ValueChange[map[string]decimal.Decimal]{Before: current.BlendVolumes, After: blendVolumes},
			ReceivingWineLotID: eventsourcing.ValueChange[string]{Before: current.ReceivingWineLotID, After: receivingLot.ID},
			BlendedVolume:      eventsourcing.ValueChange[decimal.Decimal]{Before: current.BlendedVolume, After: blendedVolume},
		},
	})
}

// EditBottle revises a bottling's lot, volume and bottle count.
func (a *Action) EditBottle(ctx context.Context, lot *WineLot, volumeBottled decimal.Decimal, bottles int) error {
	if err := a.editable(ActionBottle, "a bottling"); err != nil {
		return err
	}
	current := a.Details.Bottle
	return a.edit(ctx, EditedDetails{
		Type: ActionBottle,
		Bottle: &BottleEdit{
			WineLotID:     eventsourcing.ValueChange[string]{Before: current.WineLotID, After: lot.ID},
			VolumeBottled: eventsourcing.ValueChange[decimal.Decimal]{Before: current.VolumeBottled, After: volumeBottled},
			Bottles:       eventsourcing.ValueChange[int]{Before: current.Bottles, After: bottles},
		},
	})
}

func (a *Action) editable(want ActionType, as string) error {
	if a.ActionType != want {
		return fmt.Errorf("cannot edit a %s action as %s", a.ActionType, as)
	}
	if a.DeletedAt != nil {
		return fmt.Errorf("cannot edit a deleted action")
	}
	return nil
}

func (a *Action) edit(ctx context.Context, details EditedDetails) error {
	ev := &ActionEdited{
		Meta:     eventsourcing.NewMeta(KindActionEdited, a.ID),
		EditedAt: clock.Now(),
		Details:  details,
	}
	return eventsourcing.Apply(ctx, a, ev)
}

func validateBlendVolumes(blendVolumes map[string]decimal.Decimal, blendedVolume decimal.Decimal) error {
	if !blendedVolume.IsPositive() {
		return fmt.Errorf("blended volume must be greater than zero")
	}
	total := decimal.Zero
	for _, v := range blendVolumes {
		total = total.Add(v)
	}
	if total.IsZero() {
		return fmt.Errorf("total blended volume cannot be zero")
	}
	return nil
}

// ApplyEvent mutates in-memory state for one event kind.
func (a *Action) ApplyEvent(ev eventsourcing.Event) error {
	switch e := ev.(type) {
	case *ActionRecorded:
		a.AggregateRoot.ID = e.AggregateID()
		a.EffectiveAt = e.EffectiveAt
		a.RecordedAt = e.RecordedAt
		a.DeletedAt = nil
		a.RevisionNumber = 0
		a.ActionType = e.Details.Type
		a.Details = e.Details
		a.InvolvedLotIDs = involvedLotIDs(e.Details)
	case *ActionEdited:
		a.RevisionNumber++
		at := e.EditedAt
		a.UpdatedAt = &at
		a.Details = appliedEdit(e.Details)
		a.InvolvedLotIDs = involvedLotIDs(a.Details)
	case *ActionDeleted:
		at := e.DeletedAt
		a.DeletedAt = &at
	default:
		return fmt.Errorf("%w: action cannot apply %s", eventsourcing.ErrNotImplementedForKind, ev.Type())
	}
	return nil
}

func involvedLotIDs(details ActionDetails) []string {
	switch details.Type {
	case ActionReceiveVolume:
		return []string{details.ReceiveVolume.WineLotID}
	case ActionRemeasure:
		return []string{details.Remeasure.WineLotID}
	case ActionBottle:
		return []string{details.Bottle.WineLotID}
	case ActionBlend:
		sources := make([]string, 0, len(details.Blend.BlendVolumes))
		for id := range details.Blend.BlendVolumes {
			sources = append(sources, id)
		}
		sort.Strings(sources)
		return append([]string{details.Blend.ReceivingWineLotID}, sources...)
	}
	return nil
}

// appliedEdit projects an edit's after-values into current details.
func appliedEdit(edit EditedDetails) ActionDetails {
	switch edit.Type {
	case ActionReceiveVolume:
		return ActionDetails{
			Type:          ActionReceiveVolume,
			ReceiveVolume: &ReceiveVolumeDetails{WineLotID: edit.ReceiveVolume.WineLotID.After, Volume: edit.ReceiveVolume.Volume.After},
		}
	case ActionRemeasure:
		return ActionDetails{
			Type:      ActionRemeasure,
			Remeasure: &RemeasureDetails{WineLotID: edit.Remeasure.WineLotID.After, Volume: edit.Remeasure.Volume.After},
		}
	case ActionBlend:
		return ActionDetails{
			Type: ActionBlend,
			Blend: &BlendDetails{
				BlendVolumes:       edit.Blend.BlendVolumes.After,
				ReceivingWineLotID: edit.Blend.ReceivingWineLotID.After,
				BlendedVolume:      edit.Blend.BlendedVolume.After,
			},
		}
	case ActionBottle:
		return ActionDetails{
			Type:   ActionBottle,
			Bottle: &BottleDetails{WineLotID: edit.Bottle.WineLotID.After, VolumeBottled: edit.Bottle.VolumeBottled.After, Bottles: edit.Bottle.Bottles.After},
		}
	}
	return ActionDetails{}
}

// Model names the event store backing actions.
func (a *Action) Model() *eventsourcing.EventModel { return ActionEvents }

// ModelName is used in user-facing error messages.
func (a *Action) ModelName() string { return "Action" }

// Identity returns the blank replay seed for this action.
func (a *Action) Identity() eventsourcing.Aggregate {
	return &Action{AggregateRoot: eventsourcing.IdentityRoot(a.ID, a.Version)}
}

// InsertRow writes the initial snapshot row.
func (a *Action) InsertRow(ctx context.Context, tx *sql.Tx) error {
	involved, details, err := a.encodeRow()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO actions (id, version, action_type, effective_at, recorded_at, updated_at, deleted_at, revision_number, involved_lot_ids, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Version, string(a.ActionType), a.EffectiveAt.Unix(), a.RecordedAt.Unix(),
		unixOrNil(a.UpdatedAt), unixOrNil(a.DeletedAt), a.RevisionNumber, involved, details)
	return sqlite.MapError(err)
}

// UpdateRow issues the optimistic compare-and-update against fromVersion.
func (a *Action) UpdateRow(ctx context.Context, tx *sql.Tx, fromVersion int) (int64, error) {
	involved, details, err := a.encodeRow()
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE actions SET version = ?, action_type = ?, effective_at = ?, recorded_at = ?, updated_at = ?, deleted_at = ?, revision_number = ?, involved_lot_ids = ?, details = ?
		WHERE id = ? AND version = ?
	`, a.Version, string(a.ActionType), a.EffectiveAt.Unix(), a.RecordedAt.Unix(),
		unixOrNil(a.UpdatedAt), unixOrNil(a.DeletedAt), a.RevisionNumber, involved, details,
		a.ID, fromVersion)
	if err != nil {
		return 0, sqlite.MapError(err)
	}
	return res.RowsAffected()
}

func (a *Action) encodeRow() (involved string, details string, err error) {
	ids, err := json.Marshal(a.InvolvedLotIDs)
	if err != nil {
		return "", "", fmt.Errorf("encode involved lot ids: %w", err)
	}
	data, err := json.Marshal(a.Details)
	if err != nil {
		return "", "", fmt.Errorf("encode action details: %w", err)
	}
	return string(ids), string(data), nil
}
