package winery

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RecordReceiveVolume records a receipt of volume into a lot. A non-nil
// effectiveAt backdates the receipt: the lot is rewound to that instant, the
// receipt is applied, and every later event is replayed on top.
func (c *Cellar) RecordReceiveVolume(ctx context.Context, lotID string, volume decimal.Decimal, effectiveAt *time.Time) (*Action, error) {
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

		action, err = RecordReceiveVolume(ctx, lot, volume, at)
		if err != nil {
			return err
		}
		if err := lot.ReceiveVolume(ctx, action.ID, action.EffectiveAt, action.Details.ReceiveVolume.Volume); err != nil {
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

// EditReceiveVolume revises a recorded receipt: its wine lot events are
// retracted, replacements are applied at the same instant, and downstream
// events on every touched lot are replayed.
func (c *Cellar) EditReceiveVolume(ctx context.Context, actionID, lotID string, volume decimal.Decimal) (*Action, error) {
	var action *Action
	err := c.uow.Run(ctx, func(ctx context.Context) error {
		var err error
		action, err = c.actions.Get(ctx, actionID)
		if err != nil {
			return err
		}
		if action.ActionType != ActionReceiveVolume {
			return fmt.Errorf("action with ID %s is not of type %s", actionID, ActionReceiveVolume)
		}

		lot, err := c.lots.Get(ctx, lotID)
		if err != nil {
			return err
		}

		// When the receipt moves to a different lot, the original lot must
		// be rewound and replayed as well.
		lots := []*WineLot{lot}
		if previousID := action.Details.ReceiveVolume.WineLotID; previousID != lot.ID {
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

		if err := action.EditReceiveVolume(ctx, byID[lotID], volume); err != nil {
			return err
		}
		if err := byID[lotID].ReceiveVolume(ctx, action.ID, action.EffectiveAt, volume); err != nil {
			return err
		}

		return c.reapplyDownstream(ctx, byID, action.EffectiveAt, action.ID)
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}
