package position

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/funding"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
	"github.com/omxlabs/amx-sub001/internal/state"
	"github.com/omxlabs/amx-sub001/internal/vault"
)

// Params bound leverage and profit recognition.
type Params struct {
	MaxLeverage   uint64 // basis points, 500_000 = 50x
	MinProfitTime int64  // seconds
}

const (
	MinLeverage       = fpmath.BasisPointsDivisor // 1x
	MaxLeverageCap    = 100 * fpmath.BasisPointsDivisor
	MaxMinProfitTime  = 24 * 3600
	DefaultLeverage   = 50 * fpmath.BasisPointsDivisor
	DefaultProfitTime = 0
)

func DefaultParams() Params {
	return Params{MaxLeverage: DefaultLeverage, MinProfitTime: DefaultProfitTime}
}

func (p Params) Validate() error {
	if p.MaxLeverage <= MinLeverage || p.MaxLeverage > MaxLeverageCap {
		return fmt.Errorf("max leverage %d bps: %w", p.MaxLeverage, errs.ErrInvalidParameter)
	}
	if p.MinProfitTime < 0 || p.MinProfitTime > MaxMinProfitTime {
		return fmt.Errorf("min profit time %d: %w", p.MinProfitTime, errs.ErrInvalidParameter)
	}
	return nil
}

// LiquidationState is the outcome of ValidateLiquidation.
type LiquidationState uint8

const (
	Healthy LiquidationState = iota
	// InsufficientMargin: losses exceed collateral, margin does not cover
	// fees, or leverage is above the maximum.
	InsufficientMargin
	// BelowLiquidationFee: margin covers fees and leverage is acceptable but
	// not the fixed liquidation fee on top.
	BelowLiquidationFee
)

func (s LiquidationState) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case InsufficientMargin:
		return "insufficient_margin"
	case BelowLiquidationFee:
		return "below_liquidation_fee"
	default:
		return "unknown"
	}
}

// Utils is PositionsManagerUtils: computations shared by the engines.
// Nothing here writes state.
type Utils struct {
	vault   *vault.Vault
	funding *funding.Engine
	params  *state.Cell[Params]
}

func (u *Utils) Params() Params { return u.params.Get() }

// markPrice is the side's exit price: min for longs, max for shorts.
func (u *Utils) markPrice(index string, isLong bool, now int64) (uint256.Int, error) {
	if isLong {
		return u.vault.GetMinPrice(index, now)
	}
	return u.vault.GetMaxPrice(index, now)
}

// entryPrice is the side's entry price: max for longs, min for shorts.
func (u *Utils) entryPrice(index string, isLong bool, now int64) (uint256.Int, error) {
	if isLong {
		return u.vault.GetMaxPrice(index, now)
	}
	return u.vault.GetMinPrice(index, now)
}

// GetDelta returns the unrealised PnL of a position: whether it is in profit
// and by how much USD. Within MinProfitTime of the last increase a profit
// of at most min_profit_bps of size is not recognised.
func (u *Utils) GetDelta(index string, size, averagePrice uint256.Int, isLong bool, lastIncreasedTime, now int64) (bool, uint256.Int, error) {
	return u.getDelta(index, size, averagePrice, isLong, lastIncreasedTime, now, true)
}

func (u *Utils) getDelta(index string, size, averagePrice uint256.Int, isLong bool, lastIncreasedTime, now int64, applyMinProfit bool) (bool, uint256.Int, error) {
	if averagePrice.IsZero() {
		return false, uint256.Int{}, fmt.Errorf("average price is zero: %w", errs.ErrInvalidParameter)
	}
	price, err := u.markPrice(index, isLong, now)
	if err != nil {
		return false, uint256.Int{}, err
	}
	return u.deltaAt(index, size, averagePrice, price, isLong, lastIncreasedTime, now, applyMinProfit)
}

func (u *Utils) deltaAt(index string, size, averagePrice, price uint256.Int, isLong bool, lastIncreasedTime, now int64, applyMinProfit bool) (bool, uint256.Int, error) {
	priceDelta := fpmath.AbsDiff(averagePrice, price)
	delta, err := fpmath.MulDiv(size, priceDelta, averagePrice)
	if err != nil {
		return false, uint256.Int{}, err
	}

	var hasProfit bool
	if isLong {
		hasProfit = price.Gt(&averagePrice)
	} else {
		hasProfit = averagePrice.Gt(&price)
	}

	if hasProfit && applyMinProfit && now <= lastIncreasedTime+u.params.Get().MinProfitTime {
		asset, err := u.vault.Asset(index)
		if err != nil {
			return false, uint256.Int{}, err
		}
		// delta * 10_000 <= size * min_profit_bps
		lhs, err := fpmath.Mul(delta, fpmath.BasisPoints)
		if err != nil {
			return false, uint256.Int{}, err
		}
		rhs, err := fpmath.Mul(size, fpmath.U64(asset.MinProfitBps))
		if err != nil {
			return false, uint256.Int{}, err
		}
		if !lhs.Gt(&rhs) {
			delta = uint256.Int{}
		}
	}
	return hasProfit, delta, nil
}

// GetNextAveragePrice blends the entry price of an increase so that the
// position's unrealised PnL is unchanged:
// next = price * nextSize / (nextSize ± delta).
func (u *Utils) GetNextAveragePrice(index string, size, averagePrice uint256.Int, isLong bool, nextPrice, sizeDelta uint256.Int, lastIncreasedTime, now int64) (uint256.Int, error) {
	hasProfit, delta, err := u.deltaAt(index, size, averagePrice, nextPrice, isLong, lastIncreasedTime, now, true)
	if err != nil {
		return uint256.Int{}, err
	}
	nextSize, err := fpmath.Add(size, sizeDelta)
	if err != nil {
		return uint256.Int{}, err
	}

	// longs in profit and shorts in loss push the average away from price
	var divisor uint256.Int
	if isLong == hasProfit {
		divisor, err = fpmath.Add(nextSize, delta)
	} else {
		divisor, err = fpmath.Sub(nextSize, delta)
	}
	if err != nil {
		return uint256.Int{}, fmt.Errorf("next average price: %w", err)
	}
	return fpmath.MulDiv(nextPrice, nextSize, divisor)
}

// MarginFees is the position fee on the full size plus accrued funding.
func (u *Utils) MarginFees(collateralToken string, p Position) (uint256.Int, error) {
	return u.vault.Fees().MarginFees(p.Size, p.Size, p.EntryFundingRate, u.funding.CumulativeFundingRate(collateralToken))
}

// ValidatePosition checks the size/collateral relation.
func ValidatePosition(size, collateral uint256.Int) error {
	if size.IsZero() {
		if !collateral.IsZero() {
			return fmt.Errorf("collateral %s on empty position: %w", collateral.Dec(), errs.ErrCollateralNotZero)
		}
		return nil
	}
	if size.Lt(&collateral) {
		return fmt.Errorf("size %s below collateral %s: %w",
			fpmath.FormatUSD(size), fpmath.FormatUSD(collateral), errs.ErrSizeLessThenCollateral)
	}
	return nil
}

// ValidateLiquidation classifies a position's margin. The remaining margin is
// collateral plus unrealised PnL. With raise set, any non-healthy state is
// returned as ErrLiquidatable.
func (u *Utils) ValidateLiquidation(key Key, p Position, raise bool, now int64) (LiquidationState, uint256.Int, error) {
	hasProfit, delta, err := u.GetDelta(key.IndexToken, p.Size, p.AveragePrice, key.IsLong, p.LastIncreasedTime, now)
	if err != nil {
		return Healthy, uint256.Int{}, err
	}
	marginFees, err := u.MarginFees(key.CollateralToken, p)
	if err != nil {
		return Healthy, uint256.Int{}, err
	}

	fail := func(s LiquidationState, reason string) (LiquidationState, uint256.Int, error) {
		if raise {
			return s, marginFees, fmt.Errorf("position %s: %s: %w", key, reason, errs.ErrLiquidatable)
		}
		return s, marginFees, nil
	}

	if !hasProfit && p.Collateral.Lt(&delta) {
		return fail(InsufficientMargin, "losses exceed collateral")
	}

	var remaining uint256.Int
	if hasProfit {
		remaining, err = fpmath.Add(p.Collateral, delta)
	} else {
		remaining, err = fpmath.Sub(p.Collateral, delta)
	}
	if err != nil {
		return Healthy, marginFees, err
	}

	if remaining.Lt(&marginFees) {
		return fail(InsufficientMargin, "fees exceed collateral")
	}

	// remaining * max_leverage < size * 10_000
	lhs, err := fpmath.Mul(remaining, fpmath.U64(u.params.Get().MaxLeverage))
	if err != nil {
		return Healthy, marginFees, err
	}
	rhs, err := fpmath.Mul(p.Size, fpmath.BasisPoints)
	if err != nil {
		return Healthy, marginFees, err
	}
	if lhs.Lt(&rhs) {
		return fail(InsufficientMargin, "max leverage exceeded")
	}

	floor, err := fpmath.Add(marginFees, u.vault.FeeParams().LiquidationFeeUsd)
	if err != nil {
		return Healthy, marginFees, err
	}
	if remaining.Lt(&floor) {
		return fail(BelowLiquidationFee, "liquidation fee exceeds margin")
	}

	return Healthy, marginFees, nil
}

// ValidateTokens checks the collateral/index pairing of a new position.
func (u *Utils) ValidateTokens(collateralToken, indexToken string, isLong bool) error {
	collateral, err := u.vault.Asset(collateralToken)
	if err != nil {
		return err
	}
	index, err := u.vault.Asset(indexToken)
	if err != nil {
		return err
	}

	if isLong {
		if collateralToken != indexToken {
			return fmt.Errorf("long collateral %s must equal index %s: %w", collateralToken, indexToken, errs.ErrInvalidTokenPair)
		}
		if collateral.IsStable {
			return fmt.Errorf("long collateral %s is a stable token: %w", collateralToken, errs.ErrInvalidTokenPair)
		}
		return nil
	}

	if !collateral.IsStable {
		return fmt.Errorf("short collateral %s must be a stable token: %w", collateralToken, errs.ErrInvalidTokenPair)
	}
	if index.IsStable {
		return fmt.Errorf("short index %s is a stable token: %w", indexToken, errs.ErrInvalidTokenPair)
	}
	if !index.IsShortable {
		return fmt.Errorf("index %s: %w", indexToken, errs.ErrTokenNotShortable)
	}
	return nil
}
