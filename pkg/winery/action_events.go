package winery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vinoma/cellar/pkg/eventsourcing"
)

// ActionAggregateType qualifies action event names on the bus.
const ActionAggregateType = "action"

const (
	KindActionRecorded = "ACTION_RECORDED"
	KindActionEdited   = "ACTION_EDITED"
	KindActionDeleted  = "ACTION_DELETED"
)

type actionEvent struct{}

func (actionEvent) AggregateType() string { return ActionAggregateType }

// ReceiveVolumeDetails describes a volume receipt into one lot.
type ReceiveVolumeDetails struct {
	WineLotID string          `json:"wine_lot_id"`
	Volume    decimal.Decimal `json:"volume"`
}

// RemeasureDetails describes a re-measurement of one lot.
type RemeasureDetails struct {
	WineLotID string          `json:"wine_lot_id"`
	Volume    decimal.Decimal `json:"volume"`
}

// BlendDetails describes a blend of several lots into a receiving lot.
// BlendedVolume is what the receiving lot gained, which may be less than
// the sum of BlendVolumes due to losses.
type BlendDetails struct {
	BlendVolumes       map[string]decimal.Decimal `json:"blend_volumes"`
	ReceivingWineLotID string                     `json:"receiving_wine_lot_id"`
	BlendedVolume      decimal.Decimal            `json:"blended_volume"`
}

// BottleDetails describes a bottling run from one lot.
type BottleDetails struct {
	WineLotID     string          `json:"wine_lot_id"`
	VolumeBottled decimal.Decimal `json:"volume_bottled"`
	Bottles       int             `json:"bottles"`
}

// ActionDetails is the tagged union of per-action-type payloads. Exactly one
// variant matching Type is set. The action_type discriminant is serialized
// inside the payload object.
type ActionDetails struct {
	Type          ActionType
	ReceiveVolume *ReceiveVolumeDetails
	Remeasure     *RemeasureDetails
	Blend         *BlendDetails
	Bottle        *BottleDetails
}

func (d ActionDetails) MarshalJSON() ([]byte, error) {
	switch d.Type {
	case ActionReceiveVolume:
		return json.Marshal(struct {
			ActionType ActionType `json:"action_type"`
			*ReceiveVolumeDetails
		}{d.Type, d.ReceiveVolume})
	case ActionRemeasure:
		return json.Marshal(struct {
			ActionType ActionType `json:"action_type"`
			*RemeasureDetails
		}{d.Type, d.Remeasure})
	case ActionBlend:
		return json.Marshal(struct {
			ActionType ActionType `json:"action_type"`
			*BlendDetails
		}{d.Type, d.Blend})
	case ActionBottle:
		return json.Marshal(struct {
			ActionType ActionType `json:"action_type"`
			*BottleDetails
		}{d.Type, d.Bottle})
	}
	return nil, fmt.Errorf("unknown action type %q", d.Type)
}

func (d *ActionDetails) UnmarshalJSON(data []byte) error {
	var tag struct {
		ActionType ActionType `json:"action_type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	*d = ActionDetails{Type: tag.ActionType}

	switch tag.ActionType {
	case ActionReceiveVolume:
		d.ReceiveVolume = &ReceiveVolumeDetails{}
		return json.Unmarshal(data, d.ReceiveVolume)
	case ActionRemeasure:
		d.Remeasure = &RemeasureDetails{}
		return json.Unmarshal(data, d.Remeasure)
	case ActionBlend:
		d.Blend = &BlendDetails{}
		return json.Unmarshal(data, d.Blend)
	case ActionBottle:
		d.Bottle = &BottleDetails{}
		return json.Unmarshal(data, d.Bottle)
	}
	return fmt.Errorf("unknown action type %q", tag.ActionType)
}

// ReceiveVolumeEdit carries the field transitions of an edited receipt.
type ReceiveVolumeEdit struct {
	WineLotID eventsourcing.ValueChange[string]          `json:"wine_lot_id"`
	Volume    eventsourcing.ValueChange[decimal.Decimal] `json:"volume"`
}

// RemeasureEdit carries the field transitions of an edited re-measurement.
type RemeasureEdit struct {
	WineLotID eventsourcing.ValueChange[string]          `json:"wine_lot_id"`
	Volume    eventsourcing.ValueChange[decimal.Decimal] `json:"volume"`
}

// BlendEdit carries the field transitions of an edited blend.
type BlendEdit struct {
	BlendVolumes       eventsourcing.ValueChange[map[string]decimal.Decimal] `json:"blend_volumes"`
	ReceivingWineLotID eventsourcing.ValueChange[string]                     `json:"receiving_wine_lot_id"`
	BlendedVolume      eventsourcing.ValueChange[decimal.Decimal]            `json:"blended_volume"`
}

// BottleEdit carries the field transitions of an edited bottling.
type BottleEdit struct {
	WineLotID     eventsourcing.ValueChange[string]          `json:"wine_lot_id"`
	VolumeBottled eventsourcing.ValueChange[decimal.Decimal] `json:"volume_bottled"`
	Bottles       eventsourcing.ValueChange[int]             `json:"bottles"`
}

// EditedDetails is the tagged union of per-action-type edit payloads.
type EditedDetails struct {
	Type          ActionType
	ReceiveVolume *ReceiveVolumeEdit
	Remeasure     *RemeasureEdit
	Blend         *BlendEdit
	Bottle        *BottleEdit
}

func (d EditedDetails) MarshalJSON() ([]byte, error) {
	switch d.Type {
	case ActionReceiveVolume:
		return json.Marshal(struct {
			ActionType ActionType `json:"action_type"`
			*ReceiveVolumeEdit
		}{d.Type, d.ReceiveVolume})
	case ActionRemeasure:
		return json.Marshal(struct {
			ActionType ActionType `json:"action_type"`
			*RemeasureEdit
		}{d.Type, d.Remeasure})
	case ActionBlend:
		return json.Marshal(struct {
			ActionType ActionType `json:"action_type"`
			*BlendEdit
		}{d.Type, d.Blend})
	case ActionBottle:
		return json.Marshal(struct {
			ActionType ActionType `json:"action_type"`
			*BottleEdit
		}{d.Type, d.Bottle})
	}
	return nil, fmt.Errorf("unknown action type %q", d.Type)
}

func (d *EditedDetails) UnmarshalJSON(data []byte) error {
	var tag struct {
		ActionType ActionType `json:"action_type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	*d = EditedDetails{Type: tag.ActionType}

	switch tag.ActionType {
	case ActionReceiveVolume:
		d.ReceiveVolume = &ReceiveVolumeEdit{}
		return json.Unmarshal(data, d.ReceiveVolume)
	case ActionRemeasure:
		d.Remeasure = &RemeasureEdit{}
		return json.Unmarshal(data, d.Remeasure)
	case ActionBlend:
		d.Blend = &BlendEdit{}
		return json.Unmarshal(data, d.Blend)
	case ActionBottle:
		d.Bottle = &BottleEdit{}
		return json.Unmarshal(data, d.Bottle)
	}
	return fmt.Errorf("unknown action type %q", tag.ActionType)
}

// ActionRecorded captures a new piece of cellar work. Its effective_at is
// the domain time the work happened; the event itself is stored at write
// time, like every action event.
type ActionRecorded struct {
	eventsourcing.Meta
	actionEvent
	EffectiveAt time.Time     `json:"effective_at"`
	RecordedAt  time.Time     `json:"recorded_at"`
	Details     ActionDetails `json:"details"`
}

// ActionEdited revises a previously recorded action.
type ActionEdited struct {
	eventsourcing.Meta
	actionEvent
	EditedAt time.Time     `json:"edited_at"`
	Details  EditedDetails `json:"details"`
}

// ActionDeleted soft-deletes the action.
type ActionDeleted struct {
	eventsourcing.Meta
	actionEvent
	DeletedAt time.Time `json:"deleted_at"`
}

// ActionEvents is the event model backing actions.
var ActionEvents = &eventsourcing.EventModel{
	Name:  ActionAggregateType,
	Table: "action_events",
	Types: eventsourcing.NewRegistry(map[string]eventsourcing.DecodeFunc{
		KindActionRecorded: eventsourcing.JSONDecoder[ActionRecorded](),
		KindActionEdited:   eventsourcing.JSONDecoder[ActionEdited](),
		KindActionDeleted:  eventsourcing.JSONDecoder[ActionDeleted](),
	}),
}
