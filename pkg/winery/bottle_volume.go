package winery

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RecordBottleVolume records a bottling run from a lot. A non-nil
// effectiveAt backdates the bottling.
func (c *Cellar) RecordBottleVolume(ctx context.Context, lotID string, volumeBottled decimal.Decimal, bottles int, effectiveAt *time.Time) (*Action, error) {
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

		action, err = RecordBottle(ctx, lot, volumeBottled, bottles, at)
		if err != nil {
			return err
		}
		if err := lot.Bottle(ctx, action.ID, action.EffectiveAt, action.Details.Bottle.VolumeBottled); err != nil {
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

// EditBottleVolume revises a recorded bottling, possibly moving it to a
// different lot.
func (c *Cellar) EditBottleVolume(ctx context.Context, actionID, lotID string, volumeBottled decimal.Decimal, bottles int) (*Action, error) {
	var action *Action
	err := c.uow.Run(ctx, func(ctx context.Context) error {
		var err error
		action, err = c.actions.Get(ctx, actionID)
		if err != nil {
			return err
		}
		if action.ActionType != ActionBottle {
			return fmt.Errorf("action with ID %s is not of type %s", actionID, ActionBottle)
		}

		lot, err := c.lots.Get(ctx, lotID)
		if err != nil {
			return err
		}

		lots := []*WineLot{lot}
		if previousID := action.Details.Bottle.WineLotID; previousID != lot.ID {
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

		if err := action.EditBottle(ctx, byID[lotID], volumeBottled, bottles); err != nil {
			return err
		}
		if err := byID[lotID].Bottle(ctx, action.ID, action.EffectiveAt, volumeBottled); err != nil {
			return err
		}

		return c.reapplyDownstream(ctx, byID, action.EffectiveAt, action.ID)
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}
