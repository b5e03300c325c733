package vault

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/ledger"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
)

// FeeLedger computes position, funding, swap and mint/burn fees and banks
// them into the per-asset fee reserve.
type FeeLedger struct {
	v *Vault
}

func (v *Vault) Fees() *FeeLedger { return &FeeLedger{v: v} }

// PositionFee is size_delta * margin_fee_bps / 10_000.
func (f *FeeLedger) PositionFee(sizeDelta uint256.Int) (uint256.Int, error) {
	return fpmath.PositionFee(sizeDelta, f.v.fees.Get().MarginFeeBps)
}

// FundingFee is size * (cumulative - entry) / 1e6.
func (f *FeeLedger) FundingFee(size, entryRate, cumulativeRate uint256.Int) (uint256.Int, error) {
	return fpmath.FundingFee(size, entryRate, cumulativeRate)
}

// MarginFees is the position fee on sizeDelta plus the funding fee owed on size.
func (f *FeeLedger) MarginFees(sizeDelta, size, entryRate, cumulativeRate uint256.Int) (uint256.Int, error) {
	posFee, err := f.PositionFee(sizeDelta)
	if err != nil {
		return uint256.Int{}, err
	}
	fundingFee, err := f.FundingFee(size, entryRate, cumulativeRate)
	if err != nil {
		return uint256.Int{}, err
	}
	return fpmath.Add(posFee, fundingFee)
}

// CollectMarginFees computes the margin fees and banks their token value.
// Returns the fee in USD and the banked token amount.
func (f *FeeLedger) CollectMarginFees(token string, sizeDelta, size, entryRate, cumulativeRate uint256.Int, now int64) (uint256.Int, uint256.Int, error) {
	feeUsd, err := f.MarginFees(sizeDelta, size, entryRate, cumulativeRate)
	if err != nil {
		return uint256.Int{}, uint256.Int{}, err
	}
	feeTokens, err := f.BankUsd(token, feeUsd, now)
	if err != nil {
		return uint256.Int{}, uint256.Int{}, err
	}
	return feeUsd, feeTokens, nil
}

// BankUsd converts usd to tokens at the max price and adds them to the fee reserve.
func (f *FeeLedger) BankUsd(token string, usd uint256.Int, now int64) (uint256.Int, error) {
	feeTokens, err := f.v.UsdToTokenMin(token, usd, now)
	if err != nil {
		return uint256.Int{}, err
	}
	return feeTokens, f.bank(token, feeTokens)
}

// CollectSwapFees takes feeBps of amount into the fee reserve and returns
// the remainder.
func (f *FeeLedger) CollectSwapFees(token string, amount uint256.Int, feeBps uint64) (uint256.Int, error) {
	afterFee, err := fpmath.ApplyBps(amount, feeBps, false)
	if err != nil {
		return uint256.Int{}, err
	}
	fee, _ := fpmath.Sub(amount, afterFee)
	return afterFee, f.bank(token, fee)
}

func (f *FeeLedger) bank(token string, amount uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	return f.v.update(token, func(a *Asset) error {
		next, err := fpmath.Add(a.FeeReserve, amount)
		if err != nil {
			return fmt.Errorf("fee reserve %s: %w", token, err)
		}
		a.FeeReserve = next
		return nil
	})
}

// Reserve returns the banked fees of token.
func (f *FeeLedger) Reserve(token string) (uint256.Int, error) {
	a, err := f.v.Asset(token)
	if err != nil {
		return uint256.Int{}, err
	}
	return a.FeeReserve, nil
}

// WithdrawFees sends the whole fee reserve of token to receiver.
func (f *FeeLedger) WithdrawFees(token, receiver string) (uint256.Int, error) {
	a, err := f.v.Asset(token)
	if err != nil {
		return uint256.Int{}, err
	}
	amount := a.FeeReserve
	if amount.IsZero() {
		return amount, nil
	}
	if err := f.v.update(token, func(a *Asset) error {
		a.FeeReserve = uint256.Int{}
		return nil
	}); err != nil {
		return uint256.Int{}, err
	}
	if err := f.v.TransferOut(token, amount, receiver, ledger.JournalTypeFeeWithdrawal); err != nil {
		return uint256.Int{}, err
	}
	return amount, nil
}
