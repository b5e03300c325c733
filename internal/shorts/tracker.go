// Package shorts maintains the pool-wide short aggregate per index asset.
package shorts

import (
	"fmt"

	"github.com/holiman/uint256"

	fpmath "github.com/omxlabs/amx-sub001/internal/math"
	"github.com/omxlabs/amx-sub001/internal/state"
)

// GlobalShort is the aggregate of every open short on one index asset.
type GlobalShort struct {
	Size         uint256.Int // USD, 1e30
	AveragePrice uint256.Int // 1e30
}

// Tracker is the ShortsTracker. The average price is maintained so that
// size * |price - average| / average equals the sum of the open shorts'
// deltas: it is blended PnL-neutrally, never arithmetically.
type Tracker struct {
	shorts *state.Table[string, GlobalShort]
}

func NewTracker() *Tracker {
	return &Tracker{shorts: state.NewTable[string, GlobalShort]("global_shorts")}
}

func (t *Tracker) Get(index string) GlobalShort { return t.shorts.GetOrZero(index) }

// GetGlobalShortDelta returns the aggregate short PnL at price from the
// traders' side: hasProfit is true when shorts are in profit.
func (t *Tracker) GetGlobalShortDelta(index string, price uint256.Int) (bool, uint256.Int, error) {
	gs := t.shorts.GetOrZero(index)
	if gs.Size.IsZero() || gs.AveragePrice.IsZero() {
		return false, uint256.Int{}, nil
	}
	priceDelta := fpmath.AbsDiff(gs.AveragePrice, price)
	delta, err := fpmath.MulDiv(gs.Size, priceDelta, gs.AveragePrice)
	if err != nil {
		return false, uint256.Int{}, fmt.Errorf("global short delta %s: %w", index, err)
	}
	return gs.AveragePrice.Gt(&price), delta, nil
}

// GetNextGlobalShortData previews the aggregate after a short of sizeDelta
// changes at nextPrice. realisedPnl is the PnL the closing portion of a
// decrease realises (zero for increases), positive when the trader profits.
func (t *Tracker) GetNextGlobalShortData(index string, nextPrice, sizeDelta uint256.Int, realisedPnl fpmath.Signed, isIncrease bool) (GlobalShort, error) {
	gs := t.shorts.GetOrZero(index)

	var nextSize uint256.Int
	var err error
	if isIncrease {
		nextSize, err = fpmath.Add(gs.Size, sizeDelta)
	} else {
		nextSize, err = fpmath.Sub(gs.Size, sizeDelta)
	}
	if err != nil {
		return GlobalShort{}, fmt.Errorf("global short size %s: %w", index, err)
	}
	if nextSize.IsZero() {
		return GlobalShort{}, nil
	}
	if gs.AveragePrice.IsZero() {
		return GlobalShort{Size: nextSize, AveragePrice: nextPrice}, nil
	}

	priceDelta := fpmath.AbsDiff(gs.AveragePrice, nextPrice)
	delta, err := fpmath.MulDiv(gs.Size, priceDelta, gs.AveragePrice)
	if err != nil {
		return GlobalShort{}, err
	}

	hasProfit, nextDelta := nextDelta(delta, gs.AveragePrice, nextPrice, realisedPnl)
	var divisor uint256.Int
	if hasProfit {
		divisor, err = fpmath.Sub(nextSize, nextDelta)
	} else {
		divisor, err = fpmath.Add(nextSize, nextDelta)
	}
	if err != nil {
		return GlobalShort{}, fmt.Errorf("global short average %s: %w", index, err)
	}
	avg, err := fpmath.MulDiv(nextPrice, nextSize, divisor)
	if err != nil {
		return GlobalShort{}, fmt.Errorf("global short average %s: %w", index, err)
	}
	return GlobalShort{Size: nextSize, AveragePrice: avg}, nil
}

// nextDelta removes the realised part from the aggregate delta. hasProfit is
// from the shorts' side.
func nextDelta(delta, avg, nextPrice uint256.Int, realisedPnl fpmath.Signed) (bool, uint256.Int) {
	hasProfit := avg.Gt(&nextPrice)
	r := realisedPnl.Abs

	if hasProfit {
		if !realisedPnl.Neg {
			if r.Gt(&delta) {
				d, _ := fpmath.Sub(r, delta)
				return false, d
			}
			d, _ := fpmath.Sub(delta, r)
			return true, d
		}
		d, _ := fpmath.Add(delta, r)
		return true, d
	}

	if !realisedPnl.Neg {
		d, _ := fpmath.Add(delta, r)
		return false, d
	}
	if r.Gt(&delta) {
		d, _ := fpmath.Sub(r, delta)
		return true, d
	}
	d, _ := fpmath.Sub(delta, r)
	return false, d
}

// UpdateGlobalShortData applies GetNextGlobalShortData.
func (t *Tracker) UpdateGlobalShortData(index string, nextPrice, sizeDelta uint256.Int, realisedPnl fpmath.Signed, isIncrease bool) error {
	next, err := t.GetNextGlobalShortData(index, nextPrice, sizeDelta, realisedPnl, isIncrease)
	if err != nil {
		return err
	}
	if next.Size.IsZero() {
		t.shorts.Delete(index)
		return nil
	}
	t.shorts.Put(index, next)
	return nil
}

// Indexes returns every index asset with open shorts, sorted.
func (t *Tracker) Indexes() []string { return state.StringKeys(t.shorts) }

func (t *Tracker) Touched() []string { return t.shorts.Touched() }

func (t *Tracker) Begin()    { t.shorts.Begin() }
func (t *Tracker) Commit()   { t.shorts.Commit() }
func (t *Tracker) Rollback() { t.shorts.Rollback() }

// Restore loads an aggregate outside any transaction.
func (t *Tracker) Restore(index string, gs GlobalShort) { t.shorts.Put(index, gs) }

// CanonicalBytes encodes an aggregate for state digests.
func (gs GlobalShort) CanonicalBytes(index string) []byte {
	buf := make([]byte, 0, 80)
	buf = state.AppendString(buf, index)
	buf = state.AppendU256(buf, gs.Size)
	return state.AppendU256(buf, gs.AveragePrice)
}
