package winery

import (
	"github.com/shopspring/decimal"

	"github.com/vinoma/cellar/pkg/eventsourcing"
)

// WineLotAggregateType qualifies wine lot event names on the bus.
const WineLotAggregateType = "wine_lot"

const (
	KindWineLotCreated   = "WINE_LOT_CREATED"
	KindWineLotUpdated   = "WINE_LOT_UPDATED"
	KindWineLotDeleted   = "WINE_LOT_DELETED"
	KindVolumeBlended    = "VOLUME_BLENDED"
	KindVolumeReceived   = "VOLUME_RECEIVED"
	KindVolumeRemeasured = "VOLUME_REMEASURED"
	KindVolumeBottled    = "VOLUME_BOTTLED"
	KindVolumeMoved      = "VOLUME_MOVED"
)

type lotEvent struct{}

func (lotEvent) AggregateType() string { return WineLotAggregateType }

// WineLotCreated establishes a lot with its code and declared composition.
// Its occurred_at is pinned to the Unix epoch so creation sorts before every
// other event in the lot's stream, including backdated ones.
type WineLotCreated struct {
	eventsourcing.Meta
	eventsourcing.Timestamped
	lotEvent
	Code       string            `json:"code"`
	Components []ComponentAmount `json:"components"`
}

// Composition is the declared makeup carried by the creation event.
func (e *WineLotCreated) Composition() Composition {
	return CompositionFromAmounts(e.Components)
}

// WineLotUpdated renames the lot.
type WineLotUpdated struct {
	eventsourcing.Meta
	lotEvent
	Code eventsourcing.ValueChange[string] `json:"code"`
}

// WineLotDeleted soft-deletes the lot. The replacement code frees the
// original for reuse; it is recorded in the payload so replay stays
// deterministic.
type WineLotDeleted struct {
	eventsourcing.Meta
	eventsourcing.Timestamped
	lotEvent
	Code eventsourcing.ValueChange[string] `json:"code"`
}

// VolumeBlended adds blended volume to the receiving lot. Volumes maps each
// contributing lot id to the amount it gave up; VolumeReceived is what
// actually arrived, which may be less due to losses.
type VolumeBlended struct {
	eventsourcing.Meta
	eventsourcing.Timestamped
	eventsourcing.ActionSequenced
	lotEvent
	Volumes        map[string]decimal.Decimal `json:"volumes"`
	VolumeReceived decimal.Decimal            `json:"volume_received"`
}

// VolumeReceived adds volume from outside the cellar.
type VolumeReceived struct {
	eventsourcing.Meta
	eventsourcing.Timestamped
	eventsourcing.ActionSequenced
	lotEvent
	Volume decimal.Decimal `json:"volume"`
}

// VolumeRemeasured replaces the lot's volume with a fresh measurement.
type VolumeRemeasured struct {
	eventsourcing.Meta
	eventsourcing.Timestamped
	eventsourcing.ActionSequenced
	lotEvent
	Volume decimal.Decimal `json:"volume"`
}

// VolumeBottled subtracts volume taken into bottles.
type VolumeBottled struct {
	eventsourcing.Meta
	eventsourcing.Timestamped
	eventsourcing.ActionSequenced
	lotEvent
	Volume decimal.Decimal `json:"volume"`
}

// VolumeMoved subtracts volume given to another lot during a blend.
type VolumeMoved struct {
	eventsourcing.Meta
	eventsourcing.Timestamped
	eventsourcing.ActionSequenced
	lotEvent
	Volume      decimal.Decimal `json:"volume"`
	ToWineLotID string          `json:"to_wine_lot_id"`
}

// LotEvents is the event model backing wine lots.
var LotEvents = &eventsourcing.EventModel{
	Name:  WineLotAggregateType,
	Table: "wine_lot_events",
	Types: eventsourcing.NewRegistry(map[string]eventsourcing.DecodeFunc{
		KindWineLotCreated:   eventsourcing.JSONDecoder[WineLotCreated](),
		KindWineLotUpdated:   eventsourcing.JSONDecoder[WineLotUpdated](),
		KindWineLotDeleted:   eventsourcing.JSONDecoder[WineLotDeleted](),
		KindVolumeBlended:    eventsourcing.JSONDecoder[VolumeBlended](),
		KindVolumeReceived:   eventsourcing.JSONDecoder[VolumeReceived](),
		KindVolumeRemeasured: eventsourcing.JSONDecoder[VolumeRemeasured](),
		KindVolumeBottled:    eventsourcing.JSONDecoder[VolumeBottled](),
		KindVolumeMoved:      eventsourcing.JSONDecoder[VolumeMoved](),
	}),
}
