package winery

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RecordBlend records a blend of several source lots into a receiving lot.
// Each source gives up its mapped volume; the receiving lot gains
// blendedVolume, which may be less due to losses. A non-nil effectiveAt
// backdates the blend.
func (c *Cellar) RecordBlend(ctx context.Context, receivingLotID string, blendVolumes map[string]decimal.Decimal, blendedVolume decimal.Decimal, effectiveAt *time.Time) (*Action, error) {
	var action *Action
	err := c.uow.Run(ctx, func(ctx context.Context) error {
		at, backdated, err := normalizeEffectiveAt(effectiveAt)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(blendVolumes)+1)
		ids = append(ids, receivingLotID)
		for id := range blendVolumes {
			ids = append(ids, id)
		}
		lots, err := c.lots.GetAll(ctx, ids)
		if err != nil {
			return err
		}

		if backdated {
			all := make([]*WineLot, 0, len(lots))
			for _, lot := range lots {
				all = append(all, lot)
			}
			lots, err = c.editableAtTime(ctx, all, at)
			if err != nil {
				return err
			}
		}

		action, err = RecordBlend(ctx, blendVolumes, lots[receivingLotID], blendedVolume, at)
		if err != nil {
			return err
		}
		if err := processBlend(ctx, action, lots); err != nil {
			return err
		}

		if backdated {
			return c.reapplyDownstream(ctx, lots, action.EffectiveAt, action.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}

// EditBlend revises a recorded blend: its wine lot events are retracted,
// replacements are applied at the same instant, and downstream events on
// every involved lot are replayed.
func (c *Cellar) EditBlend(ctx context.Context, actionID, receivingLotID string, blendVolumes map[string]decimal.Decimal, blendedVolume decimal.Decimal) (*Action, error) {
	var action *Action
	err := c.uow.Run(ctx, func(ctx context.Context) error {
		var err error
		action, err = c.actions.Get(ctx, actionID)
		if err != nil {
			return err
		}
		if action.ActionType != ActionBlend {
			return fmt.Errorf("action with ID %s is not of type %s", actionID, ActionBlend)
		}

		ids := make([]string, 0, len(blendVolumes)+1)
		ids = append(ids, receivingLotID)
		for id := range blendVolumes {
			ids = append(ids, id)
		}
		lots, err := c.lots.GetAll(ctx, ids)
		if err != nil {
			return err
		}

		all := make([]*WineLot, 0, len(lots))
		for _, lot := range lots {
			all = append(all, lot)
		}
		byID, err := c.editableAtPoint(ctx, all, action.EffectiveAt, action.ID)
		if err != nil {
			return err
		}

		if err := action.EditBlend(ctx, blendVolumes, byID[receivingLotID], blendedVolume); err != nil {
			return err
		}
		if err := processBlend(ctx, action, byID); err != nil {
			return err
		}

		return c.reapplyDownstream(ctx, byID, action.EffectiveAt, action.ID)
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}

// processBlend applies the blend's wine lot events: each source moves its
// contribution to the receiving lot, then the receiving lot takes in the
// blended volume.
func processBlend(ctx context.Context, action *Action, lots map[string]*WineLot) error {
	details := action.Details.Blend

	for sourceID, volume := range details.BlendVolumes {
		source, ok := lots[sourceID]
		if !ok {
			return fmt.Errorf("wine lot with ID %s does not exist", sourceID)
		}
		if err := source.MoveVolume(ctx, action.ID, action.EffectiveAt, volume, details.ReceivingWineLotID); err != nil {
			return err
		}
	}

	receiving, ok := lots[details.ReceivingWineLotID]
	if !ok {
		return fmt.Errorf("wine lot with ID %s does not exist", details.ReceivingWineLotID)
	}
	return receiving.BlendInVolume(ctx, action.ID, action.EffectiveAt, details.BlendedVolume, details.BlendVolumes)
}
