// Package errs defines the engine's error taxonomy. Every rejected operation
// surfaces one of these sentinels, possibly wrapped with context.
package errs

import (
	"errors"

	fpmath "github.com/omxlabs/amx-sub001/internal/math"
)

// Kind groups errors for metrics labels and transport status codes.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindLifecycle     Kind = "lifecycle"
	KindConfiguration Kind = "configuration"
	KindOracle        Kind = "oracle"
	KindSolvency      Kind = "solvency"
	KindPosition      Kind = "position"
	KindArithmetic    Kind = "arithmetic"
	KindInternal      Kind = "internal"
)

var (
	// Authorization
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidSender = errors.New("invalid sender")

	// Lifecycle
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrNotInitialized     = errors.New("not initialized")
	ErrReentrantCall      = errors.New("reentrant call")
	ErrCooldownActive     = errors.New("cooldown active")
	ErrOutOfOrder         = errors.New("out-of-order command")
	ErrSequenceGap        = errors.New("sequence gap")

	// Configuration
	ErrInvalidAdjustmentBps     = errors.New("invalid adjustment bps")
	ErrInvalidSpreadBasisPoints = errors.New("invalid spread basis points")
	ErrInvalidPriceFeed         = errors.New("invalid price feed")
	ErrTokenNotWhitelisted      = errors.New("token not whitelisted")
	ErrTokenNotShortable        = errors.New("token not shortable")
	ErrInvalidTokenPair         = errors.New("invalid token pair")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidParameter         = errors.New("invalid parameter")

	// Oracle
	ErrInvalidPrice       = errors.New("invalid price")
	ErrPriceTooOld        = errors.New("price too old")
	ErrCouldNotFetchPrice = errors.New("could not fetch price")
	ErrPriceOverflow      = errors.New("price overflow")

	// Solvency
	ErrPoolAmountExceeded  = errors.New("pool amount exceeded")
	ErrReserveExceedsPool  = errors.New("reserve exceeds pool")
	ErrInsufficientOutput  = errors.New("insufficient output")
	ErrInsufficientBalance = errors.New("insufficient balance")

	// Position
	ErrCollateralNotZero      = errors.New("collateral not zero")
	ErrSizeLessThenCollateral = errors.New("size less than collateral")
	ErrInvalidPositionSize    = errors.New("invalid position size")
	ErrLiquidatable           = errors.New("position liquidatable")
	ErrLiquidationRequired    = errors.New("liquidation required")
	ErrNotLiquidatable        = errors.New("position not liquidatable")
	ErrPositionNotFound       = errors.New("position not found")

	// Internal
	ErrInvariantViolation = errors.New("invariant violation")
)

type entry struct {
	err  error
	code string
	kind Kind
}

// Ordered so that a wrapped chain reports its most specific cause first.
var table = []entry{
	{ErrForbidden, "Forbidden", KindAuthorization},
	{ErrInvalidSender, "InvalidSender", KindAuthorization},
	{ErrAlreadyInitialized, "AlreadyInitialized", KindLifecycle},
	{ErrNotInitialized, "NotInitialized", KindLifecycle},
	{ErrReentrantCall, "ReentrantCall", KindLifecycle},
	{ErrCooldownActive, "CooldownActive", KindLifecycle},
	{ErrOutOfOrder, "OutOfOrder", KindLifecycle},
	{ErrSequenceGap, "SequenceGap", KindLifecycle},
	{ErrInvalidAdjustmentBps, "InvalidAdjustmentBps", KindConfiguration},
	{ErrInvalidSpreadBasisPoints, "InvalidSpreadBasisPoints", KindConfiguration},
	{ErrInvalidPriceFeed, "InvalidPriceFeed", KindConfiguration},
	{ErrTokenNotWhitelisted, "TokenNotWhitelisted", KindConfiguration},
	{ErrTokenNotShortable, "TokenNotShortable", KindConfiguration},
	{ErrInvalidTokenPair, "InvalidTokenPair", KindConfiguration},
	{ErrInvalidAmount, "InvalidAmount", KindConfiguration},
	{ErrInvalidParameter, "InvalidParameter", KindConfiguration},
	{ErrInvalidPrice, "InvalidPrice", KindOracle},
	{ErrPriceTooOld, "PriceTooOld", KindOracle},
	{ErrCouldNotFetchPrice, "CouldNotFetchPrice", KindOracle},
	{ErrPriceOverflow, "PriceOverflow", KindOracle},
	{ErrPoolAmountExceeded, "PoolAmountExceeded", KindSolvency},
	{ErrReserveExceedsPool, "ReserveExceedsPool", KindSolvency},
	{ErrInsufficientOutput, "InsufficientOutput", KindSolvency},
	{ErrInsufficientBalance, "InsufficientBalance", KindSolvency},
	{ErrCollateralNotZero, "CollateralNotZero", KindPosition},
	{ErrSizeLessThenCollateral, "SizeLessThenCollateral", KindPosition},
	{ErrInvalidPositionSize, "InvalidPositionSize", KindPosition},
	{ErrLiquidatable, "Liquidatable", KindPosition},
	{ErrLiquidationRequired, "LiquidationRequired", KindPosition},
	{ErrNotLiquidatable, "NotLiquidatable", KindPosition},
	{ErrPositionNotFound, "PositionNotFound", KindPosition},
	{ErrInvariantViolation, "InvariantViolation", KindInternal},
	{fpmath.ErrOverflow, "ArithmeticOverflow", KindArithmetic},
	{fpmath.ErrUnderflow, "ArithmeticUnderflow", KindArithmetic},
	{fpmath.ErrDivideByZero, "DivideByZero", KindArithmetic},
}

func lookup(err error) (entry, bool) {
	if err == nil {
		return entry{}, false
	}
	for _, e := range table {
		if errors.Is(err, e.err) {
			return e, true
		}
	}
	return entry{}, false
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	if e, ok := lookup(err); ok {
		return e.kind
	}
	return KindInternal
}

// Code returns the stable error name exposed to API clients, e.g. "PriceTooOld".
func Code(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := lookup(err); ok {
		return e.code
	}
	return "Internal"
}
