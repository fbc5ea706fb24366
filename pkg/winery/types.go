// Package winery models wine lots and the cellar actions recorded against
// them as event-sourced aggregates.
package winery

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ActionType discriminates the kinds of cellar work an Action records.
type ActionType string

const (
	ActionReceiveVolume ActionType = "RECEIVE_VOLUME"
	ActionBlend         ActionType = "BLEND"
	ActionRemeasure     ActionType = "REMEASURE"
	ActionBottle        ActionType = "BOTTLE"
)

// LotComponent identifies one constituent of a lot's contents. The struct
// is comparable and used as a composition map key.
type LotComponent struct {
	Variety     string `json:"variety"`
	Appellation string `json:"appellation"`
	Vintage     int    `json:"vintage"`
}

// Validate checks the vintage is within a plausible range.
func (c LotComponent) Validate() error {
	if c.Vintage < 1900 || c.Vintage > 2100 {
		return fmt.Errorf("vintage must be between 1900 and 2100, got %d", c.Vintage)
	}
	return nil
}

var (
	compositionMin = decimal.RequireFromString("0.9999")
	compositionMax = decimal.RequireFromString("1.0001")
)

// Composition is the fractional makeup of a lot by component. Fractions are
// volume-weighted and must sum to 1 within tolerance.
type Composition struct {
	Components map[LotComponent]decimal.Decimal
}

// NewComposition builds and validates a composition.
func NewComposition(components map[LotComponent]decimal.Decimal) (Composition, error) {
	c := Composition{Components: components}
	if err := c.Validate(); err != nil {
		return Composition{}, err
	}
	return c, nil
}

// Validate checks each component and that the fractions sum to 1 within the
// decimal-precision tolerance.
func (c Composition) Validate() error {
	total := decimal.Zero
	for comp, percent := range c.Components {
		if err := comp.Validate(); err != nil {
			return err
		}
		total = total.Add(percent)
	}
	if total.LessThanOrEqual(compositionMin) || total.GreaterThanOrEqual(compositionMax) {
		return fmt.Errorf("total percentage must be 100 but got %s%%", total.Mul(decimal.NewFromInt(100)).StringFixed(2))
	}
	return nil
}

// Amounts flattens the composition into a serializable list, ordered by
// component so encodings are deterministic.
func (c Composition) Amounts() []ComponentAmount {
	out := make([]ComponentAmount, 0, len(c.Components))
	for comp, percent := range c.Components {
		out = append(out, ComponentAmount{Component: comp, Percent: percent})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Component, out[j].Component
		if a.Variety != b.Variety {
			return a.Variety < b.Variety
		}
		if a.Appellation != b.Appellation {
			return a.Appellation < b.Appellation
		}
		return a.Vintage < b.Vintage
	})
	return out
}

// CompositionFromAmounts rebuilds the map form from its serialized list.
func CompositionFromAmounts(amounts []ComponentAmount) Composition {
	components := make(map[LotComponent]decimal.Decimal, len(amounts))
	for _, a := range amounts {
		components[a.Component] = components[a.Component].Add(a.Percent)
	}
	return Composition{Components: components}
}

// ComponentAmount is the JSON-friendly form of one composition entry.
type ComponentAmount struct {
	Component LotComponent    `json:"component"`
	Percent   decimal.Decimal `json:"percent"`
}
