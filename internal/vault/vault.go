// Package vault holds the pooled liquidity ledger: per-asset pool, reserved
// and guaranteed-USD accounting, fee reserves and token custody.
package vault

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/ledger"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
	"github.com/omxlabs/amx-sub001/internal/state"
)

// PriceFeed is the subset of the oracle the vault prices with.
type PriceFeed interface {
	GetPrice(asset string, maximize bool, now int64) (uint256.Int, error)
}

// AssetConfig is the governance-controlled part of an asset record.
type AssetConfig struct {
	Decimals     uint8
	Weight       uint64
	MinProfitBps uint64
	MaxUsdAmount uint256.Int // 0 = uncapped
	IsStable     bool
	IsShortable  bool
}

// Asset is one whitelisted asset: its configuration plus pool state.
type Asset struct {
	AssetConfig
	PoolAmount     uint256.Int // token units available to back positions
	ReservedAmount uint256.Int // token units reserved for open positions
	GuaranteedUsd  uint256.Int // long size minus collateral, 1e30
	FeeReserve     uint256.Int // token units of collected fees
	TokenBalance   uint256.Int // last reconciled custody balance
}

// FeeParams are the fee schedule.
type FeeParams struct {
	MarginFeeBps      uint64
	SwapFeeBps        uint64
	StableSwapFeeBps  uint64
	MintBurnFeeBps    uint64
	LiquidationFeeUsd uint256.Int
}

const MaxFeeBasisPoints = 500 // 5%

func DefaultFeeParams() FeeParams {
	return FeeParams{
		MarginFeeBps:      10,
		SwapFeeBps:        30,
		StableSwapFeeBps:  4,
		MintBurnFeeBps:    30,
		LiquidationFeeUsd: fpmath.USD(5),
	}
}

// Vault is the pool ledger.
type Vault struct {
	assets *state.Table[string, Asset]
	fees   *state.Cell[FeeParams]
	prices PriceFeed
	tokens *ledger.BalanceTracker
}

func New(prices PriceFeed, tokens *ledger.BalanceTracker, fees FeeParams) *Vault {
	return &Vault{
		assets: state.NewTable[string, Asset]("vault_assets"),
		fees:   state.NewCell(fees),
		prices: prices,
		tokens: tokens,
	}
}

// Custody returns the vault's token account for asset.
func Custody(token string) ledger.AccountKey {
	return ledger.SystemAccount(ledger.SystemVault, token)
}

// ============================================================================
// Asset records
// ============================================================================

// SetAssetConfig whitelists token or updates its configuration. Pool state is
// kept.
func (v *Vault) SetAssetConfig(token string, cfg AssetConfig) error {
	if token == "" {
		return fmt.Errorf("empty token: %w", errs.ErrInvalidParameter)
	}
	if cfg.Decimals > 30 {
		return fmt.Errorf("token %s decimals %d: %w", token, cfg.Decimals, errs.ErrInvalidParameter)
	}
	if cfg.IsStable && cfg.IsShortable {
		return fmt.Errorf("stable token %s cannot be shortable: %w", token, errs.ErrInvalidParameter)
	}
	a := v.assets.GetOrZero(token)
	a.AssetConfig = cfg
	v.assets.Put(token, a)
	return nil
}

// Asset returns the record of a whitelisted token.
func (v *Vault) Asset(token string) (Asset, error) {
	a, ok := v.assets.Get(token)
	if !ok {
		return Asset{}, fmt.Errorf("token %s: %w", token, errs.ErrTokenNotWhitelisted)
	}
	return a, nil
}

func (v *Vault) IsWhitelisted(token string) bool { return v.assets.Has(token) }

// Tokens returns every whitelisted token, sorted.
func (v *Vault) Tokens() []string { return state.StringKeys(v.assets) }

// PoolState implements funding.PoolState.
func (v *Vault) PoolState(token string) (uint256.Int, uint256.Int, bool, error) {
	a, err := v.Asset(token)
	if err != nil {
		return uint256.Int{}, uint256.Int{}, false, err
	}
	return a.PoolAmount, a.ReservedAmount, a.IsStable, nil
}

func (v *Vault) update(token string, fn func(*Asset) error) error {
	a, err := v.Asset(token)
	if err != nil {
		return err
	}
	if err := fn(&a); err != nil {
		return err
	}
	v.assets.Put(token, a)
	return nil
}

// ============================================================================
// Pool accounting
// ============================================================================

func (v *Vault) IncreasePoolAmount(token string, amount uint256.Int) error {
	return v.update(token, func(a *Asset) error {
		next, err := fpmath.Add(a.PoolAmount, amount)
		if err != nil {
			return fmt.Errorf("pool %s: %w", token, err)
		}
		custody := v.tokens.GetBalance(Custody(token))
		if next.Gt(&custody) {
			return fmt.Errorf("pool %s would be %s with custody %s: %w",
				token, next.Dec(), custody.Dec(), errs.ErrPoolAmountExceeded)
		}
		a.PoolAmount = next
		return nil
	})
}

func (v *Vault) DecreasePoolAmount(token string, amount uint256.Int) error {
	return v.update(token, func(a *Asset) error {
		next, err := fpmath.Sub(a.PoolAmount, amount)
		if err != nil {
			return fmt.Errorf("pool %s has %s, decrease %s: %w",
				token, a.PoolAmount.Dec(), amount.Dec(), errs.ErrPoolAmountExceeded)
		}
		if a.ReservedAmount.Gt(&next) {
			return fmt.Errorf("pool %s would be %s below reserved %s: %w",
				token, next.Dec(), a.ReservedAmount.Dec(), errs.ErrReserveExceedsPool)
		}
		a.PoolAmount = next
		return nil
	})
}

func (v *Vault) IncreaseReservedAmount(token string, amount uint256.Int) error {
	return v.update(token, func(a *Asset) error {
		next, err := fpmath.Add(a.ReservedAmount, amount)
		if err != nil {
			return fmt.Errorf("reserved %s: %w", token, err)
		}
		if next.Gt(&a.PoolAmount) {
			return fmt.Errorf("reserved %s would be %s above pool %s: %w",
				token, next.Dec(), a.PoolAmount.Dec(), errs.ErrReserveExceedsPool)
		}
		a.ReservedAmount = next
		return nil
	})
}

func (v *Vault) DecreaseReservedAmount(token string, amount uint256.Int) error {
	return v.update(token, func(a *Asset) error {
		next, err := fpmath.Sub(a.ReservedAmount, amount)
		if err != nil {
			return fmt.Errorf("reserved %s: %w", token, err)
		}
		a.ReservedAmount = next
		return nil
	})
}

func (v *Vault) IncreaseGuaranteedUsd(token string, usd uint256.Int) error {
	return v.update(token, func(a *Asset) error {
		next, err := fpmath.Add(a.GuaranteedUsd, usd)
		if err != nil {
			return fmt.Errorf("guaranteed usd %s: %w", token, err)
		}
		a.GuaranteedUsd = next
		return nil
	})
}

func (v *Vault) DecreaseGuaranteedUsd(token string, usd uint256.Int) error {
	return v.update(token, func(a *Asset) error {
		next, err := fpmath.Sub(a.GuaranteedUsd, usd)
		if err != nil {
			return fmt.Errorf("guaranteed usd %s: %w", token, err)
		}
		a.GuaranteedUsd = next
		return nil
	})
}

// ============================================================================
// Custody
// ============================================================================

// TransferIn reconciles the custody balance of token against the recorded
// balance and returns the amount received since the last reconciliation.
func (v *Vault) TransferIn(token string) (uint256.Int, error) {
	var received uint256.Int
	err := v.update(token, func(a *Asset) error {
		custody := v.tokens.GetBalance(Custody(token))
		delta, err := fpmath.Sub(custody, a.TokenBalance)
		if err != nil {
			return fmt.Errorf("%w: custody of %s below recorded balance", errs.ErrInvariantViolation, token)
		}
		a.TokenBalance = custody
		received = delta
		return nil
	})
	return received, err
}

// TransferOut sends amount of token from custody to receiver.
func (v *Vault) TransferOut(token string, amount uint256.Int, receiver string, jt ledger.JournalType) error {
	if amount.IsZero() {
		return nil
	}
	if err := v.tokens.Transfer(Custody(token), ledger.UserAccount(receiver, token), amount, jt); err != nil {
		return err
	}
	return v.update(token, func(a *Asset) error {
		next, err := fpmath.Sub(a.TokenBalance, amount)
		if err != nil {
			return fmt.Errorf("token balance %s: %w", token, err)
		}
		a.TokenBalance = next
		return nil
	})
}

// ============================================================================
// Conversions
// ============================================================================

func (v *Vault) GetMaxPrice(token string, now int64) (uint256.Int, error) {
	return v.prices.GetPrice(token, true, now)
}

func (v *Vault) GetMinPrice(token string, now int64) (uint256.Int, error) {
	return v.prices.GetPrice(token, false, now)
}

// TokenToUsdMin values amount at the minimum price.
func (v *Vault) TokenToUsdMin(token string, amount uint256.Int, now int64) (uint256.Int, error) {
	if amount.IsZero() {
		return uint256.Int{}, nil
	}
	price, err := v.GetMinPrice(token, now)
	if err != nil {
		return uint256.Int{}, err
	}
	return v.TokenToUsd(token, amount, price)
}

// UsdToTokenMin converts at the maximum price, yielding the fewest tokens.
func (v *Vault) UsdToTokenMin(token string, usd uint256.Int, now int64) (uint256.Int, error) {
	if usd.IsZero() {
		return uint256.Int{}, nil
	}
	price, err := v.GetMaxPrice(token, now)
	if err != nil {
		return uint256.Int{}, err
	}
	return v.UsdToToken(token, usd, price)
}

// UsdToTokenMax converts at the minimum price, yielding the most tokens.
func (v *Vault) UsdToTokenMax(token string, usd uint256.Int, now int64) (uint256.Int, error) {
	if usd.IsZero() {
		return uint256.Int{}, nil
	}
	price, err := v.GetMinPrice(token, now)
	if err != nil {
		return uint256.Int{}, err
	}
	return v.UsdToToken(token, usd, price)
}

func (v *Vault) TokenToUsd(token string, amount, price uint256.Int) (uint256.Int, error) {
	a, err := v.Asset(token)
	if err != nil {
		return uint256.Int{}, err
	}
	return fpmath.TokenToUsd(amount, price, a.Decimals)
}

func (v *Vault) UsdToToken(token string, usd, price uint256.Int) (uint256.Int, error) {
	a, err := v.Asset(token)
	if err != nil {
		return uint256.Int{}, err
	}
	return fpmath.UsdToToken(usd, price, a.Decimals)
}

// ============================================================================
// Transactions
// ============================================================================

func (v *Vault) FeeParams() FeeParams { return v.fees.Get() }

func (v *Vault) SetFeeParams(p FeeParams) error {
	for _, bps := range []uint64{p.MarginFeeBps, p.SwapFeeBps, p.StableSwapFeeBps, p.MintBurnFeeBps} {
		if bps > MaxFeeBasisPoints {
			return fmt.Errorf("fee %d bps above %d: %w", bps, MaxFeeBasisPoints, errs.ErrInvalidParameter)
		}
	}
	if p.LiquidationFeeUsd.Gt(ptr(fpmath.USD(100))) {
		return fmt.Errorf("liquidation fee above 100 USD: %w", errs.ErrInvalidParameter)
	}
	v.fees.Set(p)
	return nil
}

func ptr(v uint256.Int) *uint256.Int { return &v }

func (v *Vault) Touched() []string { return v.assets.Touched() }

func (v *Vault) Begin() {
	v.assets.Begin()
	v.fees.Begin()
}

func (v *Vault) Commit() {
	v.assets.Commit()
	v.fees.Commit()
}

func (v *Vault) Rollback() {
	v.assets.Rollback()
	v.fees.Rollback()
}

// Restore loads an asset record outside any transaction.
func (v *Vault) Restore(token string, a Asset) { v.assets.Put(token, a) }

// RestoreFeeParams loads the fee schedule outside any transaction.
func (v *Vault) RestoreFeeParams(p FeeParams) { v.fees.Set(p) }

// CanonicalBytes encodes an asset record for state digests.
func (a Asset) CanonicalBytes(token string) []byte {
	buf := make([]byte, 0, 256)
	buf = state.AppendString(buf, token)
	buf = append(buf, a.Decimals)
	buf = state.AppendUint64LE(buf, a.Weight)
	buf = state.AppendUint64LE(buf, a.MinProfitBps)
	buf = state.AppendU256(buf, a.MaxUsdAmount)
	buf = state.AppendBool(buf, a.IsStable)
	buf = state.AppendBool(buf, a.IsShortable)
	buf = state.AppendU256(buf, a.PoolAmount)
	buf = state.AppendU256(buf, a.ReservedAmount)
	buf = state.AppendU256(buf, a.GuaranteedUsd)
	buf = state.AppendU256(buf, a.FeeReserve)
	return state.AppendU256(buf, a.TokenBalance)
}
