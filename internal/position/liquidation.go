package position

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/ledger"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
)

// LiquidationEngine force-closes positions whose margin has run out.
type LiquidationEngine struct {
	*engineDeps
}

// LiquidationResult describes an applied liquidation.
type LiquidationResult struct {
	Key               Key
	Position          Position // record after the close
	State             LiquidationState
	Price             uint256.Int
	Size              uint256.Int
	Collateral        uint256.Int
	MarginFeesUsd     uint256.Int
	LiquidationFeeOut uint256.Int // collateral tokens sent to the fee receiver
}

// LiquidatePosition closes key on behalf of a registered liquidator and pays
// the fixed liquidation fee to feeReceiver.
func (e *LiquidationEngine) LiquidatePosition(caller string, key Key, feeReceiver string, now int64) (LiquidationResult, error) {
	if !e.access.IsLiquidator(caller) {
		return LiquidationResult{}, fmt.Errorf("%s is not a liquidator: %w", caller, errs.ErrForbidden)
	}
	if err := e.funding.UpdateCumulativeFundingRate(key.CollateralToken, now); err != nil {
		return LiquidationResult{}, err
	}

	pos := e.ledger.Get(key)
	if pos.Size.IsZero() {
		return LiquidationResult{}, fmt.Errorf("position %s: %w", key, errs.ErrPositionNotFound)
	}

	st, marginFees, err := e.utils.ValidateLiquidation(key, pos, false, now)
	if err != nil {
		return LiquidationResult{}, err
	}
	if st == Healthy {
		return LiquidationResult{}, fmt.Errorf("position %s: %w", key, errs.ErrNotLiquidatable)
	}

	price, err := e.utils.markPrice(key.IndexToken, key.IsLong, now)
	if err != nil {
		return LiquidationResult{}, err
	}

	feeTokens, err := e.vault.Fees().BankUsd(key.CollateralToken, marginFees, now)
	if err != nil {
		return LiquidationResult{}, err
	}
	if err := e.vault.DecreaseReservedAmount(key.CollateralToken, pos.ReserveAmount); err != nil {
		return LiquidationResult{}, err
	}

	if key.IsLong {
		exposure, err := fpmath.Sub(pos.Size, pos.Collateral)
		if err != nil {
			return LiquidationResult{}, fmt.Errorf("position %s: %w", key, errs.ErrInvariantViolation)
		}
		if err := e.vault.DecreaseGuaranteedUsd(key.CollateralToken, exposure); err != nil {
			return LiquidationResult{}, err
		}
		if err := e.vault.DecreasePoolAmount(key.CollateralToken, feeTokens); err != nil {
			return LiquidationResult{}, err
		}
	} else {
		// the seized collateral, less fees, joins the pool
		if marginFees.Lt(&pos.Collateral) {
			remaining, _ := fpmath.Sub(pos.Collateral, marginFees)
			tokens, err := e.vault.UsdToTokenMin(key.CollateralToken, remaining, now)
			if err != nil {
				return LiquidationResult{}, err
			}
			if err := e.vault.IncreasePoolAmount(key.CollateralToken, tokens); err != nil {
				return LiquidationResult{}, err
			}
		}
		rawProfit, rawDelta, err := e.utils.deltaAt(key.IndexToken, pos.Size, pos.AveragePrice, price,
			false, pos.LastIncreasedTime, now, false)
		if err != nil {
			return LiquidationResult{}, err
		}
		if err := e.shorts.UpdateGlobalShortData(key.IndexToken, price, pos.Size,
			fpmath.NewSigned(rawDelta, !rawProfit), false); err != nil {
			return LiquidationResult{}, err
		}
	}

	res := LiquidationResult{
		Key:           key,
		State:         st,
		Price:         price,
		Size:          pos.Size,
		Collateral:    pos.Collateral,
		MarginFeesUsd: marginFees,
	}

	if pos.RealisedPnl, err = pos.RealisedPnl.SubUnsigned(pos.Collateral); err != nil {
		return LiquidationResult{}, err
	}
	pos = pos.closed()
	e.ledger.put(key, pos)
	res.Position = pos

	liqFee := e.vault.FeeParams().LiquidationFeeUsd
	if res.LiquidationFeeOut, err = e.vault.UsdToTokenMin(key.CollateralToken, liqFee, now); err != nil {
		return LiquidationResult{}, err
	}
	if err := e.vault.DecreasePoolAmount(key.CollateralToken, res.LiquidationFeeOut); err != nil {
		return LiquidationResult{}, err
	}
	if err := e.vault.TransferOut(key.CollateralToken, res.LiquidationFeeOut, feeReceiver, ledger.JournalTypeLiquidationFee); err != nil {
		return LiquidationResult{}, err
	}
	return res, nil
}
