// Package funding accrues the cumulative funding rate per collateral asset.
package funding

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/errs"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
	"github.com/omxlabs/amx-sub001/internal/state"
)

// MaxFundingRateFactor caps both factors at 1% per interval (1e6 precision).
const MaxFundingRateFactor = 10_000

// PoolState exposes the utilization inputs of an asset.
type PoolState interface {
	PoolState(asset string) (pool, reserved uint256.Int, isStable bool, err error)
}

// Params configure accrual.
type Params struct {
	Interval         int64  // seconds
	RateFactor       uint64 // 1e6 precision, non-stable assets
	StableRateFactor uint64 // 1e6 precision, stable assets
}

func DefaultParams() Params {
	return Params{Interval: 8 * 3600, RateFactor: 100, StableRateFactor: 100}
}

// State is the accrual state of one asset.
type State struct {
	CumulativeRate  uint256.Int
	LastFundingTime int64
}

// Accrual records one applied funding update.
type Accrual struct {
	Asset          string
	Intervals      uint64
	Increment      uint256.Int
	CumulativeRate uint256.Int
	FundingTime    int64
	PoolAmount     uint256.Int
	ReservedAmount uint256.Int
}

// Engine is the FundingRateEngine.
type Engine struct {
	pools    PoolState
	states   *state.Table[string, State]
	params   *state.Cell[Params]
	accruals []Accrual
}

func NewEngine(pools PoolState, params Params) *Engine {
	return &Engine{
		pools:  pools,
		states: state.NewTable[string, State]("funding"),
		params: state.NewCell(params),
	}
}

func (e *Engine) Params() Params { return e.params.Get() }

// SetParams replaces the accrual parameters.
func (e *Engine) SetParams(p Params) error {
	if p.Interval <= 0 {
		return fmt.Errorf("funding interval %d: %w", p.Interval, errs.ErrInvalidParameter)
	}
	if p.RateFactor > MaxFundingRateFactor || p.StableRateFactor > MaxFundingRateFactor {
		return fmt.Errorf("funding factor above %d: %w", MaxFundingRateFactor, errs.ErrInvalidParameter)
	}
	e.params.Set(p)
	return nil
}

// State returns the accrual state of asset.
func (e *Engine) State(asset string) State { return e.states.GetOrZero(asset) }

// CumulativeFundingRate returns the stored cumulative rate of asset.
func (e *Engine) CumulativeFundingRate(asset string) uint256.Int {
	return e.states.GetOrZero(asset).CumulativeRate
}

// UpdateCumulativeFundingRate accrues whole elapsed intervals. The first call
// for an asset only aligns its marker to the interval grid; calling twice
// within one interval is a no-op.
func (e *Engine) UpdateCumulativeFundingRate(asset string, now int64) error {
	params := e.params.Get()
	st := e.states.GetOrZero(asset)

	if st.LastFundingTime == 0 {
		st.LastFundingTime = alignDown(now, params.Interval)
		e.states.Put(asset, st)
		return nil
	}
	if st.LastFundingTime+params.Interval > now {
		return nil
	}

	intervals := uint64((now - st.LastFundingTime) / params.Interval)
	pool, reserved, isStable, err := e.pools.PoolState(asset)
	if err != nil {
		return err
	}
	inc, err := fpmath.FundingRateIncrement(factorFor(params, isStable), reserved, pool, intervals)
	if err != nil {
		return fmt.Errorf("funding increment for %s: %w", asset, err)
	}
	next, err := fpmath.Add(st.CumulativeRate, inc)
	if err != nil {
		return fmt.Errorf("cumulative funding for %s: %w", asset, err)
	}

	st.CumulativeRate = next
	st.LastFundingTime = alignDown(now, params.Interval)
	e.states.Put(asset, st)

	e.accruals = append(e.accruals, Accrual{
		Asset:          asset,
		Intervals:      intervals,
		Increment:      inc,
		CumulativeRate: next,
		FundingTime:    st.LastFundingTime,
		PoolAmount:     pool,
		ReservedAmount: reserved,
	})
	return nil
}

// GetNextFundingRate previews the increment the next update would apply.
func (e *Engine) GetNextFundingRate(asset string, now int64) (uint256.Int, error) {
	params := e.params.Get()
	st := e.states.GetOrZero(asset)
	if st.LastFundingTime == 0 || st.LastFundingTime+params.Interval > now {
		return uint256.Int{}, nil
	}
	intervals := uint64((now - st.LastFundingTime) / params.Interval)
	pool, reserved, isStable, err := e.pools.PoolState(asset)
	if err != nil {
		return uint256.Int{}, err
	}
	return fpmath.FundingRateIncrement(factorFor(params, isStable), reserved, pool, intervals)
}

func factorFor(p Params, isStable bool) uint64 {
	if isStable {
		return p.StableRateFactor
	}
	return p.RateFactor
}

func alignDown(t, interval int64) int64 {
	return t / interval * interval
}

// Accruals returns the updates applied in the open transaction.
func (e *Engine) Accruals() []Accrual {
	out := make([]Accrual, len(e.accruals))
	copy(out, e.accruals)
	return out
}

// Assets returns every asset with accrual state, sorted.
func (e *Engine) Assets() []string { return state.StringKeys(e.states) }

func (e *Engine) Touched() []string { return e.states.Touched() }

func (e *Engine) Begin() {
	e.states.Begin()
	e.params.Begin()
	e.accruals = e.accruals[:0]
}

func (e *Engine) Commit() {
	e.states.Commit()
	e.params.Commit()
	e.accruals = e.accruals[:0]
}

func (e *Engine) Rollback() {
	e.states.Rollback()
	e.params.Rollback()
	e.accruals = e.accruals[:0]
}

// Restore loads an asset's accrual state outside any transaction.
func (e *Engine) Restore(asset string, st State) { e.states.Put(asset, st) }

// RestoreParams loads parameters outside any transaction.
func (e *Engine) RestoreParams(p Params) { e.params.Set(p) }

// CanonicalBytes encodes an accrual state for state digests.
func (s State) CanonicalBytes(asset string) []byte {
	buf := make([]byte, 0, 64)
	buf = state.AppendString(buf, asset)
	buf = state.AppendU256(buf, s.CumulativeRate)
	return state.AppendInt64LE(buf, s.LastFundingTime)
}
