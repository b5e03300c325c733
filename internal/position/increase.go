package position

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/errs"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
)

// IncreaseEngine opens positions and adds size or collateral.
type IncreaseEngine struct {
	*engineDeps
}

// IncreaseResult describes an applied increase.
type IncreaseResult struct {
	Key                Key
	Position           Position
	Price              uint256.Int
	SizeDelta          uint256.Int
	CollateralDeltaUsd uint256.Int
	FeeUsd             uint256.Int
	FeeTokens          uint256.Int
}

// IncreasePosition adds sizeDelta USD of exposure, collateralised by whatever
// collateral tokens reached the vault since its last reconciliation.
func (e *IncreaseEngine) IncreasePosition(caller string, key Key, sizeDelta uint256.Int, now int64) (IncreaseResult, error) {
	if err := e.access.ValidateSender(caller, key.Account); err != nil {
		return IncreaseResult{}, err
	}
	if err := e.utils.ValidateTokens(key.CollateralToken, key.IndexToken, key.IsLong); err != nil {
		return IncreaseResult{}, err
	}
	if err := e.funding.UpdateCumulativeFundingRate(key.CollateralToken, now); err != nil {
		return IncreaseResult{}, err
	}

	pos := e.ledger.Get(key)
	price, err := e.utils.entryPrice(key.IndexToken, key.IsLong, now)
	if err != nil {
		return IncreaseResult{}, err
	}

	if pos.Size.IsZero() {
		pos.AveragePrice = price
	} else if !sizeDelta.IsZero() {
		pos.AveragePrice, err = e.utils.GetNextAveragePrice(key.IndexToken, pos.Size, pos.AveragePrice,
			key.IsLong, price, sizeDelta, pos.LastIncreasedTime, now)
		if err != nil {
			return IncreaseResult{}, err
		}
	}

	cumulative := e.funding.CumulativeFundingRate(key.CollateralToken)
	fee, feeTokens, err := e.vault.Fees().CollectMarginFees(key.CollateralToken, sizeDelta, pos.Size,
		pos.EntryFundingRate, cumulative, now)
	if err != nil {
		return IncreaseResult{}, err
	}

	collateralDelta, err := e.vault.TransferIn(key.CollateralToken)
	if err != nil {
		return IncreaseResult{}, err
	}
	collateralDeltaUsd, err := e.vault.TokenToUsdMin(key.CollateralToken, collateralDelta, now)
	if err != nil {
		return IncreaseResult{}, err
	}

	if pos.Collateral, err = fpmath.Add(pos.Collateral, collateralDeltaUsd); err != nil {
		return IncreaseResult{}, err
	}
	if pos.Collateral.Lt(&fee) {
		return IncreaseResult{}, fmt.Errorf("position %s: collateral %s cannot cover fees %s: %w",
			key, fpmath.FormatUSD(pos.Collateral), fpmath.FormatUSD(fee), errs.ErrLiquidatable)
	}
	pos.Collateral, _ = fpmath.Sub(pos.Collateral, fee)
	pos.EntryFundingRate = cumulative
	if pos.Size, err = fpmath.Add(pos.Size, sizeDelta); err != nil {
		return IncreaseResult{}, err
	}
	pos.LastIncreasedTime = now

	if pos.Size.IsZero() {
		return IncreaseResult{}, fmt.Errorf("position %s: %w", key, errs.ErrInvalidPositionSize)
	}
	if err := ValidatePosition(pos.Size, pos.Collateral); err != nil {
		return IncreaseResult{}, err
	}
	if _, _, err := e.utils.ValidateLiquidation(key, pos, true, now); err != nil {
		return IncreaseResult{}, err
	}

	if key.IsLong {
		// guaranteed_usd tracks size - collateral of every long
		added, err := fpmath.Add(sizeDelta, fee)
		if err != nil {
			return IncreaseResult{}, err
		}
		if err := e.vault.IncreaseGuaranteedUsd(key.CollateralToken, added); err != nil {
			return IncreaseResult{}, err
		}
		if err := e.vault.DecreaseGuaranteedUsd(key.CollateralToken, collateralDeltaUsd); err != nil {
			return IncreaseResult{}, err
		}
		// collateral joins the pool, less the fee moved to the fee reserve
		if err := e.vault.IncreasePoolAmount(key.CollateralToken, collateralDelta); err != nil {
			return IncreaseResult{}, err
		}
		if err := e.vault.DecreasePoolAmount(key.CollateralToken, feeTokens); err != nil {
			return IncreaseResult{}, err
		}
	} else if !sizeDelta.IsZero() {
		if err := e.shorts.UpdateGlobalShortData(key.IndexToken, price, sizeDelta, fpmath.Signed{}, true); err != nil {
			return IncreaseResult{}, err
		}
	}

	// reserved after the pool moves so fresh long collateral can back it
	reserveDelta, err := e.vault.UsdToTokenMax(key.CollateralToken, sizeDelta, now)
	if err != nil {
		return IncreaseResult{}, err
	}
	if pos.ReserveAmount, err = fpmath.Add(pos.ReserveAmount, reserveDelta); err != nil {
		return IncreaseResult{}, err
	}
	if err := e.vault.IncreaseReservedAmount(key.CollateralToken, reserveDelta); err != nil {
		return IncreaseResult{}, err
	}

	e.ledger.put(key, pos)
	return IncreaseResult{
		Key:                key,
		Position:           pos,
		Price:              price,
		SizeDelta:          sizeDelta,
		CollateralDeltaUsd: collateralDeltaUsd,
		FeeUsd:             fee,
		FeeTokens:          feeTokens,
	}, nil
}
