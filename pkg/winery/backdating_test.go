package winery_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinoma/cellar/pkg/eventsourcing"
	"github.com/vinoma/cellar/pkg/winery"
)

func TestBackdatedBottleValidatesAgainstPastState(t *testing.T) {
	now := freeze(t)
	cellar, store := newCellar(t, nil)
	ctx := context.Background()

	lot := createLot(t, cellar, "LOT-A", 2022)
	_, err := cellar.RecordReceiveVolume(ctx, lot.ID, dec("5.00"), nil)
	require.NoError(t, err)

	*now = base.Add(2 * time.Hour)
	_, err = cellar.RecordBottleVolume(ctx, lot.ID, dec("2.00"), 24, nil)
	require.NoError(t, err)
	require.Equal(t, "3.00", lotVolume(t, cellar, lot.ID))

	// A bottling discovered late: it happened an hour after the receipt, when
	// the lot still held 5.00. Later events replay on top of it.
	*now = base.Add(4 * time.Hour)
	backdated, err := cellar.RecordBottleVolume(ctx, lot.ID, dec("1.50"), 18, ptr(base.Add(time.Hour)))
	require.NoError(t, err)

	assert.Equal(t, "1.50", lotVolume(t, cellar, lot.ID))
	assert.Equal(t, base.Add(time.Hour), backdated.EffectiveAt)
	assert.Equal(t, base.Add(4*time.Hour), backdated.RecordedAt)

	bottles, err := cellar.Actions().CountByType(ctx, winery.ActionBottle)
	require.NoError(t, err)
	assert.Equal(t, 2, bottles)

	// Canonical order slots the backdated bottling between the receipt and
	// the one recorded first.
	events := lotEvents(t, store, eventsourcing.Filter{AggregateIDs: []string{lot.ID}})
	require.Len(t, events, 4)
	assert.Equal(t, winery.KindWineLotCreated, events[0].Type)
	assert.Equal(t, winery.KindVolumeReceived, events[1].Type)
	assert.Equal(t, winery.KindVolumeBottled, events[2].Type)
	assert.Equal(t, base.Add(time.Hour), events[2].OccurredAt)
	assert.Equal(t, winery.KindVolumeBottled, events[3].Type)
	assert.Equal(t, base.Add(2*time.Hour), events[3].OccurredAt)
}

func TestBackdatedBottleRejectedWhenLaterEventsBreak(t *testing.T) {
	now := freeze(t)
	cellar, _ := newCellar(t, nil)
	ctx := context.Background()

	lot := createLot(t, cellar, "LOT-A", 2022)
	_, err := cellar.RecordReceiveVolume(ctx, lot.ID, dec("5.00"), nil)
	require.NoError(t, err)

	*now = base.Add(2 * time.Hour)
	_, err = cellar.RecordBottleVolume(ctx, lot.ID, dec("4.00"), 48, nil)
	require.NoError(t, err)

	// Inserting this bottling into the past would drive the later bottling
	// negative during replay, so the whole unit of work fails.
	*now = base.Add(4 * time.Hour)
	_, err = cellar.RecordBottleVolume(ctx, lot.ID, dec("2.00"), 24, ptr(base.Add(time.Hour)))
	require.ErrorContains(t, err, "bottled volume cannot exceed current volume")

	assert.Equal(t, "1.00", lotVolume(t, cellar, lot.ID))
}

func TestEditReceiveVolumeReappliesDownstream(t *testing.T) {
	now := freeze(t)
	cellar, store := newCellar(t, nil)
	ctx := context.Background()

	lot := createLot(t, cellar, "LOT-A", 2022)
	receipt, err := cellar.RecordReceiveVolume(ctx, lot.ID, dec("5.00"), nil)
	require.NoError(t, err)

	*now = base.Add(time.Hour)
	_, err = cellar.RecordBottleVolume(ctx, lot.ID, dec("1.50"), 18, nil)
	require.NoError(t, err)
	require.Equal(t, "3.50", lotVolume(t, cellar, lot.ID))

	*now = base.Add(2 * time.Hour)
	edited, err := cellar.EditReceiveVolume(ctx, receipt.ID, lot.ID, dec("10.00"))
	require.NoError(t, err)

	assert.Equal(t, "8.50", lotVolume(t, cellar, lot.ID))
	assert.Equal(t, 1, edited.RevisionNumber)
	require.NotNil(t, edited.UpdatedAt)
	assert.Equal(t, base.Add(2*time.Hour), *edited.UpdatedAt)
	assert.True(t, edited.Details.ReceiveVolume.Volume.Equal(dec("10.00")))

	// The original receipt event was replaced in place: same instant, same
	// sequence number, new volume.
	events := lotEvents(t, store, eventsourcing.Filter{
		AggregateIDs: []string{lot.ID},
		Types:        []string{winery.KindVolumeReceived},
	})
	require.Len(t, events, 1)
	require.NotNil(t, events[0].SequenceNumber)
	assert.Equal(t, receipt.ID, *events[0].SequenceNumber)
	assert.Equal(t, base, events[0].OccurredAt)

	ev, err := events[0].Decode(winery.LotEvents)
	require.NoError(t, err)
	assert.True(t, ev.(*winery.VolumeReceived).Volume.Equal(dec("10.00")))
}

func TestEditReceiveVolumeMovesToAnotherLot(t *testing.T) {
	now := freeze(t)
	cellar, store := newCellar(t, nil)
	ctx := context.Background()

	lotA := createLot(t, cellar, "LOT-A", 2022)
	receipt, err := cellar.RecordReceiveVolume(ctx, lotA.ID, dec("4.00"), nil)
	require.NoError(t, err)

	lotB := createLot(t, cellar, "LOT-B", 2023)
	_, err = cellar.RecordReceiveVolume(ctx, lotB.ID, dec("1.00"), nil)
	require.NoError(t, err)

	*now = base.Add(time.Hour)
	edited, err := cellar.EditReceiveVolume(ctx, receipt.ID, lotB.ID, dec("2.50"))
	require.NoError(t, err)

	// The receipt left LOT-A entirely and landed on LOT-B at the original
	// instant; LOT-B's own receipt replayed on top.
	assert.Equal(t, "0.00", lotVolume(t, cellar, lotA.ID))
	assert.Equal(t, "3.50", lotVolume(t, cellar, lotB.ID))
	assert.Equal(t, []string{lotB.ID}, edited.InvolvedLotIDs)

	eventsA := lotEvents(t, store, eventsourcing.Filter{
		AggregateIDs: []string{lotA.ID},
		Types:        []string{winery.KindVolumeReceived},
	})
	assert.Empty(t, eventsA)

	eventsB := lotEvents(t, store, eventsourcing.Filter{
		AggregateIDs: []string{lotB.ID},
		Types:        []string{winery.KindVolumeReceived},
	})
	assert.Len(t, eventsB, 2)
}

func TestEditBottleVolume(t *testing.T) {
	now := freeze(t)
	cellar, _ := newCellar(t, nil)
	ctx := context.Background()

	lot := createLot(t, cellar, "LOT-A", 2022)
	_, err := cellar.RecordReceiveVolume(ctx, lot.ID, dec("5.00"), nil)
	require.NoError(t, err)

	*now = base.Add(time.Hour)
	bottling, err := cellar.RecordBottleVolume(ctx, lot.ID, dec("2.00"), 24, nil)
	require.NoError(t, err)
	require.Equal(t, "3.00", lotVolume(t, cellar, lot.ID))

	*now = base.Add(2 * time.Hour)
	edited, err := cellar.EditBottleVolume(ctx, bottling.ID, lot.ID, dec("1.50"), 18)
	require.NoError(t, err)

	assert.Equal(t, "3.50", lotVolume(t, cellar, lot.ID))
	assert.Equal(t, 1, edited.RevisionNumber)
	require.NotNil(t, edited.Details.Bottle)
	assert.True(t, edited.Details.Bottle.VolumeBottled.Equal(dec("1.50")))
	assert.Equal(t, 18, edited.Details.Bottle.Bottles)
}

func TestEditActionTypeMismatch(t *testing.T) {
	freeze(t)
	cellar, _ := newCellar(t, nil)
	ctx := context.Background()

	lot := createLot(t, cellar, "LOT-A", 2022)
	receipt, err := cellar.RecordReceiveVolume(ctx, lot.ID, dec("5.00"), nil)
	require.NoError(t, err)

	_, err = cellar.EditBottleVolume(ctx, receipt.ID, lot.ID, dec("1.00"), 12)
	assert.ErrorContains(t, err, "is not of type BOTTLE")
}

func TestEditBlendRebalancesAllLots(t *testing.T) {
	now := freeze(t)
	cellar, _ := newCellar(t, nil)
	ctx := context.Background()

	lotA := createLot(t, cellar, "LOT-A", 2022)
	lotB := createLot(t, cellar, "LOT-B", 2023)
	lotC := createLot(t, cellar, "LOT-C", 2021)
	_, err := cellar.RecordReceiveVolume(ctx, lotA.ID, dec("4.00"), nil)
	require.NoError(t, err)
	_, err = cellar.RecordReceiveVolume(ctx, lotB.ID, dec("4.00"), nil)
	require.NoError(t, err)

	*now = base.Add(time.Hour)
	blend, err := cellar.RecordBlend(ctx, lotC.ID, map[string]decimal.Decimal{
		lotA.ID: dec("1.00"),
		lotB.ID: dec("1.00"),
	}, dec("2.00"), nil)
	require.NoError(t, err)
	require.Equal(t, "3.00", lotVolume(t, cellar, lotA.ID))
	require.Equal(t, "2.00", lotVolume(t, cellar, lotC.ID))

	*now = base.Add(2 * time.Hour)
	edited, err := cellar.EditBlend(ctx, blend.ID, lotC.ID, map[string]decimal.Decimal{
		lotA.ID: dec("2.00"),
		lotB.ID: dec("1.00"),
	}, dec("2.50"))
	require.NoError(t, err)

	assert.Equal(t, "2.00", lotVolume(t, cellar, lotA.ID))
	assert.Equal(t, "3.00", lotVolume(t, cellar, lotB.ID))
	assert.Equal(t, "2.50", lotVolume(t, cellar, lotC.ID))

	assert.Equal(t, 1, edited.RevisionNumber)
	require.NotNil(t, edited.Details.Blend)
	assert.True(t, edited.Details.Blend.BlendedVolume.Equal(dec("2.50")))
	assert.Equal(t, lotC.ID, edited.InvolvedLotIDs[0])
}
