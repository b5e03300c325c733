// internal/math/funding.go
package math

import "github.com/holiman/uint256"

// FundingRateIncrement computes factor * reserved * intervals / pool.
// The result is in funding-rate precision (1e6) when factor is.
// A zero pool accrues nothing.
func FundingRateIncrement(factor uint64, reserved, pool uint256.Int, intervals uint64) (uint256.Int, error) {
	if pool.IsZero() || intervals == 0 {
		return uint256.Int{}, nil
	}
	scaled, err := Mul(U64(factor), U64(intervals))
	if err != nil {
		return uint256.Int{}, err
	}
	return MulDiv(scaled, reserved, pool)
}

// FundingFee is size * (cumulativeRate - entryRate) / 1e6.
func FundingFee(size, entryRate, cumulativeRate uint256.Int) (uint256.Int, error) {
	if size.IsZero() {
		return uint256.Int{}, nil
	}
	delta, err := Sub(cumulativeRate, entryRate)
	if err != nil {
		return uint256.Int{}, err
	}
	return MulDiv(size, delta, FundingRatePrecision)
}

// PositionFee is sizeDelta - sizeDelta * (10_000 - feeBps) / 10_000, so rounding
// favours the fee collector.
func PositionFee(sizeDelta uint256.Int, feeBps uint64) (uint256.Int, error) {
	if sizeDelta.IsZero() {
		return uint256.Int{}, nil
	}
	afterFee, err := ApplyBps(sizeDelta, feeBps, false)
	if err != nil {
		return uint256.Int{}, err
	}
	return Sub(sizeDelta, afterFee)
}

// TokenToUsd converts a token amount with the given decimals at a 1e30 price.
func TokenToUsd(amount, price uint256.Int, decimals uint8) (uint256.Int, error) {
	if amount.IsZero() {
		return uint256.Int{}, nil
	}
	return MulDiv(amount, price, Pow10(uint(decimals)))
}

// UsdToToken converts a 1e30 USD amount into token units at a 1e30 price.
func UsdToToken(usd, price uint256.Int, decimals uint8) (uint256.Int, error) {
	if usd.IsZero() {
		return uint256.Int{}, nil
	}
	return MulDiv(usd, Pow10(uint(decimals)), price)
}
