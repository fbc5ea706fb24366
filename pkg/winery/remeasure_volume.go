package winery

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RecordRemeasure records a re-measurement of a lot, replacing its volume.
// A non-nil effectiveAt backdates the measurement.
func (c *Cellar) RecordRemeasure(ctx context.Context, lotID string, volume decimal.Decimal, effectiveAt *time.Time) (*Action, error) {
	var action *Action
	err := c.uow.Run(ctx, func(ctx context.Context) error {
		at, backdated, err := normalizeEffectiveAt(effectiveAt)
		if err != nil {
			return err
		}

		lot, err := c.lots.Get(ctx, lotID)
		if err != nil {
			return err
		}

		if backdated {
			lots, err := c.editableAtTime(ctx, []*WineLot{lot}, at)
			if err != nil {
				return err
			}
			lot = lots[lotID]
		}

		action, err = RecordRemeasure(ctx, lot, volume, at)
		if err != nil {
			return err
		}
		if err := lot.Remeasure(ctx, action.ID, action.EffectiveAt, action.Details.Remeasure.Volume); err != nil {
			return err
		}

		if backdated {
			return c.reapplyDownstream(ctx, map[string]*WineLot{lotID: lot}, action.EffectiveAt, action.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}

// EditRemeasure revises a recorded re-measurement.
func (c *Cellar) EditRemeasure(ctx context.Context, actionID, lotID string, volume decimal.Decimal) (*Action, error) {
	var action *Action
	err := c.uow.Run(ctx, func(ctx context.Context) error {
		var err error
		action, err = c.actions.Get(ctx, actionID)
		if err != nil {
			return err
		}
		if action.ActionType != ActionRemeasure {
			return fmt.Errorf("action with ID %s is not of type %s", actionID, ActionRemeasure)
		}

		lot, err := c.lots.Get(ctx, lotID)
		if err != nil {
			return err
		}

		lots := []*WineLot{lot}
		if previousID := action.Details.Remeasure.WineLotID; previousID != lot.ID {
			previous, err := c.lots.Get(ctx, previousID)
			if err != nil {
				return err
			}
			lots = append(lots, previous)
		}

		byID, err := c.editableAtPoint(ctx, lots, action.EffectiveAt, action.ID)
		if err != nil {
			return err
		}

		if err := action.EditRemeasure(ctx, byID[lotID], volume); err != nil {
			return err
		}
		if err := byID[lotID].Remeasure(ctx, action.ID, action.EffectiveAt, volume); err != nil {
			return err
		}

		return c.reapplyDownstream(ctx, byID, action.EffectiveAt, action.ID)
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}
