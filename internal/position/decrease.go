package position

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/ledger"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
)

// DecreaseEngine removes size or collateral and settles PnL.
type DecreaseEngine struct {
	*engineDeps
}

// DecreaseResult describes an applied decrease.
type DecreaseResult struct {
	Key         Key
	Position    Position
	Price       uint256.Int
	SizeDelta   uint256.Int
	RealisedPnl fpmath.Signed // realised by this decrease
	FeeUsd      uint256.Int
	UsdOut      uint256.Int // before fees taken from proceeds
	AmountOut   uint256.Int // collateral tokens sent to the receiver
	Closed      bool
}

// DecreasePosition reduces size by sizeDelta and withdraws collateralDelta
// USD of collateral, paying proceeds in collateral tokens to receiver.
func (e *DecreaseEngine) DecreasePosition(caller string, key Key, collateralDelta, sizeDelta uint256.Int, receiver string, now int64) (DecreaseResult, error) {
	if err := e.access.ValidateSender(caller, key.Account); err != nil {
		return DecreaseResult{}, err
	}
	if err := e.funding.UpdateCumulativeFundingRate(key.CollateralToken, now); err != nil {
		return DecreaseResult{}, err
	}

	pos := e.ledger.Get(key)
	if pos.Size.IsZero() {
		return DecreaseResult{}, fmt.Errorf("position %s: %w", key, errs.ErrPositionNotFound)
	}
	if sizeDelta.Gt(&pos.Size) {
		return DecreaseResult{}, fmt.Errorf("size delta %s exceeds size %s: %w",
			fpmath.FormatUSD(sizeDelta), fpmath.FormatUSD(pos.Size), errs.ErrInvalidPositionSize)
	}
	if collateralDelta.Gt(&pos.Collateral) {
		return DecreaseResult{}, fmt.Errorf("collateral delta %s exceeds collateral %s: %w",
			fpmath.FormatUSD(collateralDelta), fpmath.FormatUSD(pos.Collateral), errs.ErrInvalidAmount)
	}
	if sizeDelta.IsZero() && collateralDelta.IsZero() {
		return DecreaseResult{}, fmt.Errorf("empty decrease: %w", errs.ErrInvalidAmount)
	}
	// a position that is already liquidatable only leaves through liquidation,
	// full closes included
	state, _, err := e.utils.ValidateLiquidation(key, pos, false, now)
	if err != nil {
		return DecreaseResult{}, err
	}
	if state != Healthy {
		return DecreaseResult{}, fmt.Errorf("position %s is %s: %w", key, state, errs.ErrLiquidationRequired)
	}

	collateralBefore := pos.Collateral

	reserveDelta, err := fpmath.MulDiv(pos.ReserveAmount, sizeDelta, pos.Size)
	if err != nil {
		return DecreaseResult{}, err
	}
	if pos.ReserveAmount, err = fpmath.Sub(pos.ReserveAmount, reserveDelta); err != nil {
		return DecreaseResult{}, err
	}
	if err := e.vault.DecreaseReservedAmount(key.CollateralToken, reserveDelta); err != nil {
		return DecreaseResult{}, err
	}

	price, err := e.utils.markPrice(key.IndexToken, key.IsLong, now)
	if err != nil {
		return DecreaseResult{}, err
	}
	s, err := e.settle(key, &pos, collateralDelta, sizeDelta, price, now)
	if err != nil {
		return DecreaseResult{}, err
	}

	closed := sizeDelta.Eq(&pos.Size)
	if closed {
		pos = pos.closed()
	} else {
		pos.EntryFundingRate = e.funding.CumulativeFundingRate(key.CollateralToken)
		pos.Size, _ = fpmath.Sub(pos.Size, sizeDelta)
		if err := ValidatePosition(pos.Size, pos.Collateral); err != nil {
			return DecreaseResult{}, err
		}
		if _, _, err := e.utils.ValidateLiquidation(key, pos, true, now); err != nil {
			return DecreaseResult{}, err
		}
	}

	if key.IsLong {
		released, _ := fpmath.Sub(collateralBefore, pos.Collateral)
		if err := e.vault.IncreaseGuaranteedUsd(key.CollateralToken, released); err != nil {
			return DecreaseResult{}, err
		}
		if err := e.vault.DecreaseGuaranteedUsd(key.CollateralToken, sizeDelta); err != nil {
			return DecreaseResult{}, err
		}
	} else if !sizeDelta.IsZero() {
		if err := e.shorts.UpdateGlobalShortData(key.IndexToken, price, sizeDelta, s.rawPnl, false); err != nil {
			return DecreaseResult{}, err
		}
	}

	var amountOut uint256.Int
	if !s.usdOut.IsZero() {
		if key.IsLong {
			tokens, err := e.vault.UsdToTokenMin(key.CollateralToken, s.usdOut, now)
			if err != nil {
				return DecreaseResult{}, err
			}
			if err := e.vault.DecreasePoolAmount(key.CollateralToken, tokens); err != nil {
				return DecreaseResult{}, err
			}
		}
		payout, _ := fpmath.Sub(s.usdOut, s.feeShortfall)
		if amountOut, err = e.vault.UsdToTokenMin(key.CollateralToken, payout, now); err != nil {
			return DecreaseResult{}, err
		}
		if err := e.vault.TransferOut(key.CollateralToken, amountOut, receiver, ledger.JournalTypeCollateralOut); err != nil {
			return DecreaseResult{}, err
		}
	}

	e.ledger.put(key, pos)
	return DecreaseResult{
		Key:         key,
		Position:    pos,
		Price:       price,
		SizeDelta:   sizeDelta,
		RealisedPnl: s.realised,
		FeeUsd:      s.fee,
		UsdOut:      s.usdOut,
		AmountOut:   amountOut,
		Closed:      closed,
	}, nil
}

type settlement struct {
	fee          uint256.Int
	feeShortfall uint256.Int   // part of fee taken from usdOut
	usdOut       uint256.Int   // profit plus released collateral
	realised     fpmath.Signed // recognised PnL of the closing portion
	rawPnl       fpmath.Signed // closing portion PnL before the min-profit rule
}

// settle collects fees, realises PnL of the closing portion and releases
// collateral. It mutates pos.Collateral and pos.RealisedPnl.
func (e *DecreaseEngine) settle(key Key, pos *Position, collateralDelta, sizeDelta, price uint256.Int, now int64) (settlement, error) {
	var s settlement
	var err error

	cumulative := e.funding.CumulativeFundingRate(key.CollateralToken)
	s.fee, _, err = e.vault.Fees().CollectMarginFees(key.CollateralToken, sizeDelta, pos.Size, pos.EntryFundingRate, cumulative, now)
	if err != nil {
		return s, err
	}

	hasProfit, delta, err := e.utils.deltaAt(key.IndexToken, pos.Size, pos.AveragePrice, price, key.IsLong, pos.LastIncreasedTime, now, true)
	if err != nil {
		return s, err
	}
	adjustedDelta, err := fpmath.MulDiv(sizeDelta, delta, pos.Size)
	if err != nil {
		return s, err
	}
	rawProfit, rawDelta, err := e.utils.deltaAt(key.IndexToken, pos.Size, pos.AveragePrice, price, key.IsLong, pos.LastIncreasedTime, now, false)
	if err != nil {
		return s, err
	}
	rawAdjusted, err := fpmath.MulDiv(sizeDelta, rawDelta, pos.Size)
	if err != nil {
		return s, err
	}
	s.rawPnl = fpmath.NewSigned(rawAdjusted, !rawProfit)

	if !adjustedDelta.IsZero() {
		if hasProfit {
			s.usdOut = adjustedDelta
			s.realised = fpmath.NewSigned(adjustedDelta, false)
			if !key.IsLong {
				// short profits are paid out of the stable pool
				tokens, err := e.vault.UsdToTokenMin(key.CollateralToken, adjustedDelta, now)
				if err != nil {
					return s, err
				}
				if err := e.vault.DecreasePoolAmount(key.CollateralToken, tokens); err != nil {
					return s, err
				}
			}
		} else {
			if pos.Collateral.Lt(&adjustedDelta) {
				return s, fmt.Errorf("position %s: loss %s exceeds collateral %s: %w", key,
					fpmath.FormatUSD(adjustedDelta), fpmath.FormatUSD(pos.Collateral), errs.ErrLiquidationRequired)
			}
			pos.Collateral, _ = fpmath.Sub(pos.Collateral, adjustedDelta)
			s.realised = fpmath.NewSigned(adjustedDelta, true)
			if !key.IsLong {
				tokens, err := e.vault.UsdToTokenMin(key.CollateralToken, adjustedDelta, now)
				if err != nil {
					return s, err
				}
				if err := e.vault.IncreasePoolAmount(key.CollateralToken, tokens); err != nil {
					return s, err
				}
			}
		}
		if pos.RealisedPnl, err = pos.RealisedPnl.Add(s.realised); err != nil {
			return s, err
		}
	}

	feeFromCollateral := fpmath.Min(s.fee, pos.Collateral)
	pos.Collateral, _ = fpmath.Sub(pos.Collateral, feeFromCollateral)
	s.feeShortfall, _ = fpmath.Sub(s.fee, feeFromCollateral)
	if key.IsLong && !feeFromCollateral.IsZero() {
		tokens, err := e.vault.UsdToTokenMin(key.CollateralToken, feeFromCollateral, now)
		if err != nil {
			return s, err
		}
		if err := e.vault.DecreasePoolAmount(key.CollateralToken, tokens); err != nil {
			return s, err
		}
	}

	if !collateralDelta.IsZero() {
		if pos.Collateral.Lt(&collateralDelta) {
			return s, fmt.Errorf("collateral delta %s exceeds collateral after fees %s: %w",
				fpmath.FormatUSD(collateralDelta), fpmath.FormatUSD(pos.Collateral), errs.ErrInvalidAmount)
		}
		pos.Collateral, _ = fpmath.Sub(pos.Collateral, collateralDelta)
		if s.usdOut, err = fpmath.Add(s.usdOut, collateralDelta); err != nil {
			return s, err
		}
	}

	if sizeDelta.Eq(&pos.Size) {
		if s.usdOut, err = fpmath.Add(s.usdOut, pos.Collateral); err != nil {
			return s, err
		}
		pos.Collateral = uint256.Int{}
	}

	if s.usdOut.Lt(&s.feeShortfall) {
		return s, fmt.Errorf("position %s: fees %s exceed collateral and proceeds: %w",
			key, fpmath.FormatUSD(s.fee), errs.ErrLiquidationRequired)
	}
	return s, nil
}
