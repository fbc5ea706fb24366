package winery

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vinoma/cellar/pkg/eventsourcing"
)

// CalculateComposition computes the fractional makeup of a lot by replaying
// its blending history up to an optional cutoff. It is read-only.
//
// With only effectiveAt set, events with occurred_at at or before the cutoff
// are considered. With actionID also set, events strictly before the cutoff
// are included plus those at exactly the cutoff up to that action — the same
// cutoff rule temporal replay uses. actionID requires effectiveAt.
func (c *Cellar) CalculateComposition(ctx context.Context, lotID string, effectiveAt *time.Time, actionID string) (Composition, error) {
	if actionID != "" && effectiveAt == nil {
		return Composition{}, fmt.Errorf("effective_at must be provided when action_id is specified")
	}

	var cutoff *eventsourcing.Cutoff
	if effectiveAt != nil {
		// The store holds timestamps at second resolution.
		cutoff = &eventsourcing.Cutoff{At: effectiveAt.UTC().Truncate(time.Second), Sequence: actionID}
	}

	if _, err := c.lots.Get(ctx, lotID); err != nil {
		return Composition{}, err
	}

	lotIDs, err := c.discoverSourceLots(ctx, lotID, cutoff)
	if err != nil {
		return Composition{}, err
	}

	compositions, err := c.buildLotCompositions(ctx, lotIDs, cutoff)
	if err != nil {
		return Composition{}, err
	}
	return compositions[lotID], nil
}

// discoverSourceLots walks the blend graph breadth-first: every lot that
// contributed volume to the target (directly or through intermediate
// blends) within the cutoff participates in the composition.
func (c *Cellar) discoverSourceLots(ctx context.Context, lotID string, cutoff *eventsourcing.Cutoff) ([]string, error) {
	discovered := map[string]bool{lotID: true}
	order := []string{lotID}
	queue := []string{lotID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		events, err := c.events.Fetch(ctx, LotEvents, eventsourcing.Filter{
			AggregateIDs: []string{current},
			Types:        []string{KindVolumeBlended},
			Until:        cutoff,
		})
		if err != nil {
			return nil, err
		}

		for _, stored := range events {
			ev, err := stored.Decode(LotEvents)
			if err != nil {
				return nil, err
			}
			blended, ok := ev.(*VolumeBlended)
			if !ok {
				continue
			}
			for sourceID := range blended.Volumes {
				if !discovered[sourceID] {
					discovered[sourceID] = true
					order = append(order, sourceID)
					queue = append(queue, sourceID)
				}
			}
		}
	}
	return order, nil
}

// buildLotCompositions folds the event history of every discovered lot in
// canonical order, volume-weighting each blend's contributions.
func (c *Cellar) buildLotCompositions(ctx context.Context, lotIDs []string, cutoff *eventsourcing.Cutoff) (map[string]Composition, error) {
	events, err := c.events.Fetch(ctx, LotEvents, eventsourcing.Filter{
		AggregateIDs: lotIDs,
		Until:        cutoff,
	})
	if err != nil {
		return nil, err
	}

	compositions := make(map[string]Composition)
	snapshots := make(map[string]*WineLot)

	for _, stored := range events {
		ev, err := stored.Decode(LotEvents)
		if err != nil {
			return nil, err
		}

		if created, ok := ev.(*WineLotCreated); ok {
			compositions[stored.AggregateID] = created.Composition()
			lot := &WineLot{}
			if err := eventsourcing.Load(lot, ev); err != nil {
				return nil, err
			}
			snapshots[stored.AggregateID] = lot
			continue
		}

		lot, ok := snapshots[stored.AggregateID]
		if !ok {
			return nil, fmt.Errorf("wine lot %s has events before its creation event", stored.AggregateID)
		}

		if blended, ok := ev.(*VolumeBlended); ok {
			next, err := blendComposition(compositions, compositions[stored.AggregateID], lot.Volume, blended)
			if err != nil {
				return nil, err
			}
			compositions[stored.AggregateID] = next
		}

		// Keep the snapshot's volume current for the next blend's weights.
		if err := eventsourcing.Load(lot, ev); err != nil {
			return nil, err
		}
	}
	return compositions, nil
}

// blendComposition re-weights a lot's composition after a blend: the
// existing contents scale by oldVolume/newTotal and each positive source
// contribution scales by its volume/newTotal.
func blendComposition(all map[string]Composition, current Composition, lotVolume decimal.Decimal, blended *VolumeBlended) (Composition, error) {
	blendedTotal := decimal.Zero
	for _, v := range blended.Volumes {
		blendedTotal = blendedTotal.Add(v)
	}
	newTotal := lotVolume.Add(blendedTotal)

	components := make(map[LotComponent]decimal.Decimal)

	if lotVolume.IsPositive() {
		weight := lotVolume.Div(newTotal)
		for comp, pct := range current.Components {
			components[comp] = components[comp].Add(pct.Mul(weight))
		}
	}

	for sourceID, volume := range blended.Volumes {
		if !volume.IsPositive() {
			continue
		}
		weight := volume.Div(newTotal)
		for comp, pct := range all[sourceID].Components {
			components[comp] = components[comp].Add(pct.Mul(weight))
		}
	}

	return NewComposition(components)
}
