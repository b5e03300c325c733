package vault

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/ledger"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
)

type fixedPrices map[string]uint256.Int

func (p fixedPrices) GetPrice(asset string, _ bool, _ int64) (uint256.Int, error) {
	v, ok := p[asset]
	if !ok {
		return uint256.Int{}, errs.ErrInvalidPriceFeed
	}
	return v, nil
}

func ether(n uint64) uint256.Int {
	v, _ := fpmath.Mul(fpmath.U64(n), fpmath.Pow10(18))
	return v
}

func usdc(n uint64) uint256.Int {
	v, _ := fpmath.Mul(fpmath.U64(n), fpmath.Pow10(6))
	return v
}

func newVault(t *testing.T) (*Vault, *ledger.BalanceTracker) {
	t.Helper()
	tokens := ledger.NewBalanceTracker()
	v := New(fixedPrices{"ETH": fpmath.USD(2000), "USDC": fpmath.OneUSD, "DAI": fpmath.OneUSD}, tokens, DefaultFeeParams())
	require.NoError(t, v.SetAssetConfig("ETH", AssetConfig{Decimals: 18, Weight: 10_000, IsShortable: true}))
	require.NoError(t, v.SetAssetConfig("USDC", AssetConfig{Decimals: 6, Weight: 10_000, IsStable: true}))
	require.NoError(t, v.SetAssetConfig("DAI", AssetConfig{Decimals: 18, Weight: 10_000, IsStable: true}))
	return v, tokens
}

func fund(t *testing.T, v *Vault, tokens *ledger.BalanceTracker, token string, amount uint256.Int) {
	t.Helper()
	require.NoError(t, tokens.Mint(Custody(token), amount, ledger.JournalTypeDeposit))
	received, err := v.TransferIn(token)
	require.NoError(t, err)
	require.NoError(t, v.IncreasePoolAmount(token, received))
}

func TestSetAssetConfigValidation(t *testing.T) {
	v, _ := newVault(t)
	assert.ErrorIs(t, v.SetAssetConfig("X", AssetConfig{Decimals: 31}), errs.ErrInvalidParameter)
	assert.ErrorIs(t, v.SetAssetConfig("X", AssetConfig{IsStable: true, IsShortable: true}), errs.ErrInvalidParameter)

	_, err := v.Asset("BTC")
	assert.ErrorIs(t, err, errs.ErrTokenNotWhitelisted)
}

func TestPoolAndReserveInvariants(t *testing.T) {
	v, tokens := newVault(t)
	fund(t, v, tokens, "ETH", ether(10))

	assert.ErrorIs(t, v.IncreasePoolAmount("ETH", ether(1)), errs.ErrPoolAmountExceeded,
		"pool cannot exceed custody")
	assert.ErrorIs(t, v.DecreasePoolAmount("ETH", ether(11)), errs.ErrPoolAmountExceeded)

	require.NoError(t, v.IncreaseReservedAmount("ETH", ether(6)))
	assert.ErrorIs(t, v.IncreaseReservedAmount("ETH", ether(5)), errs.ErrReserveExceedsPool)
	assert.ErrorIs(t, v.DecreasePoolAmount("ETH", ether(5)), errs.ErrReserveExceedsPool)
	require.NoError(t, v.DecreasePoolAmount("ETH", ether(4)))

	a, err := v.Asset("ETH")
	require.NoError(t, err)
	assert.Equal(t, ether(6), a.PoolAmount)
	assert.Equal(t, ether(6), a.ReservedAmount)
}

func TestTransferInReturnsDelta(t *testing.T) {
	v, tokens := newVault(t)
	require.NoError(t, tokens.Mint(Custody("USDC"), usdc(100), ledger.JournalTypeDeposit))

	got, err := v.TransferIn("USDC")
	require.NoError(t, err)
	assert.Equal(t, usdc(100), got)

	got, err = v.TransferIn("USDC")
	require.NoError(t, err)
	assert.True(t, got.IsZero(), "second reconciliation sees nothing new")
}

func TestConversions(t *testing.T) {
	v, _ := newVault(t)
	usd, err := v.TokenToUsdMin("ETH", ether(2), 0)
	require.NoError(t, err)
	assert.Equal(t, fpmath.USD(4000), usd)

	amount, err := v.UsdToTokenMin("USDC", fpmath.USD(25), 0)
	require.NoError(t, err)
	assert.Equal(t, usdc(25), amount)
}

func TestSwap(t *testing.T) {
	v, tokens := newVault(t)
	fund(t, v, tokens, "USDC", usdc(10_000))

	require.NoError(t, tokens.Mint(ledger.UserAccount("alice", "ETH"), ether(1), ledger.JournalTypeDeposit))
	require.NoError(t, tokens.Transfer(ledger.UserAccount("alice", "ETH"), Custody("ETH"), ether(1), ledger.JournalTypeSwapIn))

	res, err := v.Swap("ETH", "USDC", "alice", 0)
	require.NoError(t, err)
	// 2000 USDC less 30 bps
	assert.Equal(t, usdc(1994), res.AmountOut)
	assert.Equal(t, usdc(6), res.FeeTokens)
	assert.Equal(t, usdc(1994), tokens.GetBalance(ledger.UserAccount("alice", "USDC")))

	eth, _ := v.Asset("ETH")
	usdcAsset, _ := v.Asset("USDC")
	assert.Equal(t, ether(1), eth.PoolAmount)
	assert.Equal(t, usdc(8000), usdcAsset.PoolAmount)
	assert.Equal(t, usdc(6), usdcAsset.FeeReserve)

	_, err = v.Swap("USDC", "USDC", "alice", 0)
	assert.ErrorIs(t, err, errs.ErrInvalidTokenPair)
	_, err = v.Swap("ETH", "USDC", "alice", 0)
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
}

func TestStableSwapFee(t *testing.T) {
	v, tokens := newVault(t)
	fund(t, v, tokens, "USDC", usdc(1_000))
	require.NoError(t, tokens.Mint(Custody("DAI"), ether(100), ledger.JournalTypeDeposit))

	res, err := v.Swap("DAI", "USDC", "bob", 0)
	require.NoError(t, err)
	// 4 bps on 100
	want, _ := fpmath.Sub(usdc(100), fpmath.U64(40_000))
	assert.Equal(t, want, res.AmountOut)
}

func TestDepositRedeem(t *testing.T) {
	v, tokens := newVault(t)
	require.NoError(t, tokens.Mint(Custody("USDC"), usdc(1_000), ledger.JournalTypeDeposit))

	usd, received, err := v.Deposit("USDC", 0)
	require.NoError(t, err)
	assert.Equal(t, usdc(1_000), received)
	assert.Equal(t, fpmath.USD(997), usd)

	out, err := v.Redeem("USDC", fpmath.USD(100), "carol", 0)
	require.NoError(t, err)
	want, _ := fpmath.Sub(usdc(100), fpmath.U64(300_000))
	assert.Equal(t, want, out)

	a, _ := v.Asset("USDC")
	assert.Equal(t, usdc(897), a.PoolAmount)
}

func TestDepositRespectsCap(t *testing.T) {
	v, tokens := newVault(t)
	require.NoError(t, v.SetAssetConfig("USDC", AssetConfig{Decimals: 6, IsStable: true, MaxUsdAmount: fpmath.USD(500)}))
	require.NoError(t, tokens.Mint(Custody("USDC"), usdc(1_000), ledger.JournalTypeDeposit))

	_, _, err := v.Deposit("USDC", 0)
	assert.ErrorIs(t, err, errs.ErrPoolAmountExceeded)
}

func TestWithdrawFees(t *testing.T) {
	v, tokens := newVault(t)
	require.NoError(t, tokens.Mint(Custody("USDC"), usdc(1_000), ledger.JournalTypeDeposit))
	_, _, err := v.Deposit("USDC", 0)
	require.NoError(t, err)

	amount, err := v.Fees().WithdrawFees("USDC", "treasury")
	require.NoError(t, err)
	assert.Equal(t, usdc(3), amount)
	assert.Equal(t, usdc(3), tokens.GetBalance(ledger.UserAccount("treasury", "USDC")))

	reserve, err := v.Fees().Reserve("USDC")
	require.NoError(t, err)
	assert.True(t, reserve.IsZero())
}

func TestMarginFees(t *testing.T) {
	v, _ := newVault(t)
	fee, err := v.Fees().MarginFees(fpmath.USD(1_000), fpmath.USD(10_000), fpmath.U64(100), fpmath.U64(200))
	require.NoError(t, err)
	// 1 USD position fee + 1 USD funding
	assert.Equal(t, fpmath.USD(2), fee)
}

func TestRollbackRestoresAssets(t *testing.T) {
	v, tokens := newVault(t)
	fund(t, v, tokens, "ETH", ether(3))

	v.Begin()
	require.NoError(t, v.IncreaseReservedAmount("ETH", ether(1)))
	require.NoError(t, v.IncreaseGuaranteedUsd("ETH", fpmath.USD(10)))
	v.Rollback()

	a, _ := v.Asset("ETH")
	assert.True(t, a.ReservedAmount.IsZero())
	assert.True(t, a.GuaranteedUsd.IsZero())
}
