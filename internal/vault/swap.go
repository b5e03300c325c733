package vault

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/ledger"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
)

// SwapResult describes an executed swap.
type SwapResult struct {
	AmountIn  uint256.Int
	AmountOut uint256.Int // after fees
	FeeTokens uint256.Int // banked in tokenOut
}

// Swap exchanges whatever tokenIn was sent to custody since the last
// reconciliation for tokenOut. tokenIn is valued at its min price and
// tokenOut at its max price.
func (v *Vault) Swap(tokenIn, tokenOut, receiver string, now int64) (SwapResult, error) {
	if tokenIn == tokenOut {
		return SwapResult{}, fmt.Errorf("swap %s for itself: %w", tokenIn, errs.ErrInvalidTokenPair)
	}
	in, err := v.Asset(tokenIn)
	if err != nil {
		return SwapResult{}, err
	}
	out, err := v.Asset(tokenOut)
	if err != nil {
		return SwapResult{}, err
	}

	amountIn, err := v.TransferIn(tokenIn)
	if err != nil {
		return SwapResult{}, err
	}
	if amountIn.IsZero() {
		return SwapResult{}, fmt.Errorf("swap %s: nothing received: %w", tokenIn, errs.ErrInvalidAmount)
	}

	priceIn, err := v.GetMinPrice(tokenIn, now)
	if err != nil {
		return SwapResult{}, err
	}
	priceOut, err := v.GetMaxPrice(tokenOut, now)
	if err != nil {
		return SwapResult{}, err
	}
	usd, err := fpmath.TokenToUsd(amountIn, priceIn, in.Decimals)
	if err != nil {
		return SwapResult{}, err
	}
	amountOut, err := fpmath.UsdToToken(usd, priceOut, out.Decimals)
	if err != nil {
		return SwapResult{}, err
	}

	fees := v.fees.Get()
	feeBps := fees.SwapFeeBps
	if in.IsStable && out.IsStable {
		feeBps = fees.StableSwapFeeBps
	}
	afterFee, err := v.Fees().CollectSwapFees(tokenOut, amountOut, feeBps)
	if err != nil {
		return SwapResult{}, err
	}

	if err := v.IncreasePoolAmount(tokenIn, amountIn); err != nil {
		return SwapResult{}, err
	}
	if err := v.DecreasePoolAmount(tokenOut, amountOut); err != nil {
		return SwapResult{}, err
	}
	if err := v.TransferOut(tokenOut, afterFee, receiver, ledger.JournalTypeSwapOut); err != nil {
		return SwapResult{}, err
	}

	fee, _ := fpmath.Sub(amountOut, afterFee)
	return SwapResult{AmountIn: amountIn, AmountOut: afterFee, FeeTokens: fee}, nil
}

// Deposit prices the tokens received since the last reconciliation at the
// min price, banks the mint fee and adds the rest to the pool. Returns the
// USD value credited and the token amount received.
func (v *Vault) Deposit(token string, now int64) (uint256.Int, uint256.Int, error) {
	a, err := v.Asset(token)
	if err != nil {
		return uint256.Int{}, uint256.Int{}, err
	}
	amount, err := v.TransferIn(token)
	if err != nil {
		return uint256.Int{}, uint256.Int{}, err
	}
	if amount.IsZero() {
		return uint256.Int{}, uint256.Int{}, fmt.Errorf("deposit %s: nothing received: %w", token, errs.ErrInvalidAmount)
	}
	price, err := v.GetMinPrice(token, now)
	if err != nil {
		return uint256.Int{}, uint256.Int{}, err
	}

	afterFee, err := v.Fees().CollectSwapFees(token, amount, v.fees.Get().MintBurnFeeBps)
	if err != nil {
		return uint256.Int{}, uint256.Int{}, err
	}
	if err := v.IncreasePoolAmount(token, afterFee); err != nil {
		return uint256.Int{}, uint256.Int{}, err
	}

	if !a.MaxUsdAmount.IsZero() {
		pooled, _ := v.Asset(token)
		poolUsd, err := fpmath.TokenToUsd(pooled.PoolAmount, price, a.Decimals)
		if err != nil {
			return uint256.Int{}, uint256.Int{}, err
		}
		if poolUsd.Gt(&a.MaxUsdAmount) {
			return uint256.Int{}, uint256.Int{}, fmt.Errorf("pool %s worth %s USD above cap %s: %w",
				token, fpmath.FormatUSD(poolUsd), fpmath.FormatUSD(a.MaxUsdAmount), errs.ErrPoolAmountExceeded)
		}
	}

	usd, err := fpmath.TokenToUsd(afterFee, price, a.Decimals)
	if err != nil {
		return uint256.Int{}, uint256.Int{}, err
	}
	return usd, amount, nil
}

// Redeem pays out usd worth of token, valued at the max price, minus the
// burn fee.
func (v *Vault) Redeem(token string, usd uint256.Int, receiver string, now int64) (uint256.Int, error) {
	redemption, err := v.UsdToTokenMin(token, usd, now)
	if err != nil {
		return uint256.Int{}, err
	}
	if redemption.IsZero() {
		return uint256.Int{}, fmt.Errorf("redeem %s: zero amount: %w", token, errs.ErrInvalidAmount)
	}
	if err := v.DecreasePoolAmount(token, redemption); err != nil {
		return uint256.Int{}, err
	}
	out, err := v.Fees().CollectSwapFees(token, redemption, v.fees.Get().MintBurnFeeBps)
	if err != nil {
		return uint256.Int{}, err
	}
	if err := v.TransferOut(token, out, receiver, ledger.JournalTypeLiquidityOut); err != nil {
		return uint256.Int{}, err
	}
	return out, nil
}
