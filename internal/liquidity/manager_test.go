package liquidity

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/ledger"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
	"github.com/omxlabs/amx-sub001/internal/shorts"
	"github.com/omxlabs/amx-sub001/internal/vault"
)

const t0 = int64(1_700_000_000)

type prices map[string]uint256.Int

func (p prices) GetPrice(asset string, _ bool, _ int64) (uint256.Int, error) {
	v, ok := p[asset]
	if !ok {
		return uint256.Int{}, errs.ErrInvalidPriceFeed
	}
	return v, nil
}

type selfOnly struct{}

func (selfOnly) ValidateSender(caller, account string) error {
	if caller != account {
		return errs.ErrInvalidSender
	}
	return nil
}

func usdc(n uint64) uint256.Int {
	v, _ := fpmath.Mul(fpmath.U64(n), fpmath.Pow10(6))
	return v
}

func ether(n uint64) uint256.Int {
	v, _ := fpmath.Mul(fpmath.U64(n), fpmath.Pow10(18))
	return v
}

func shares(n uint64) uint256.Int {
	v, _ := fpmath.Mul(fpmath.U64(n), fpmath.Pow10(fpmath.ShareDecimals))
	return v
}

type fixture struct {
	prices prices
	tokens *ledger.BalanceTracker
	vault  *vault.Vault
	shorts *shorts.Tracker
	m      *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		prices: prices{"ETH": fpmath.USD(2000), "USDC": fpmath.OneUSD},
		tokens: ledger.NewBalanceTracker(),
		shorts: shorts.NewTracker(),
	}
	f.vault = vault.New(f.prices, f.tokens, vault.DefaultFeeParams())
	require.NoError(t, f.vault.SetAssetConfig("ETH", vault.AssetConfig{Decimals: 18, IsShortable: true}))
	require.NoError(t, f.vault.SetAssetConfig("USDC", vault.AssetConfig{Decimals: 6, IsStable: true}))
	f.m = NewManager(f.vault, f.shorts, f.tokens, selfOnly{}, DefaultCooldown)
	return f
}

func (f *fixture) seedPool(t *testing.T, token string, amount uint256.Int) {
	t.Helper()
	require.NoError(t, f.tokens.Mint(vault.Custody(token), amount, ledger.JournalTypeLiquidityIn))
	got, err := f.vault.TransferIn(token)
	require.NoError(t, err)
	require.NoError(t, f.vault.IncreasePoolAmount(token, got))
}

func TestGetAum(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, "USDC", usdc(10_000))
	f.seedPool(t, "ETH", ether(10))

	aum, err := f.m.GetAum(true, t0)
	require.NoError(t, err)
	assert.Equal(t, fpmath.USD(30_000), aum)

	require.NoError(t, f.shorts.UpdateGlobalShortData("ETH", fpmath.USD(2000), fpmath.USD(10_000), fpmath.Signed{}, true))

	// shorts up 1,000 at 1,800
	f.prices["ETH"] = fpmath.USD(1800)
	aum, err = f.m.GetAum(true, t0)
	require.NoError(t, err)
	assert.Equal(t, fpmath.USD(27_000), aum)

	// shorts down 1,000 at 2,200
	f.prices["ETH"] = fpmath.USD(2200)
	aum, err = f.m.GetAum(true, t0)
	require.NoError(t, err)
	assert.Equal(t, fpmath.USD(33_000), aum)

	// reserved tokens count through guaranteed USD instead
	require.NoError(t, f.vault.IncreaseReservedAmount("ETH", ether(2)))
	require.NoError(t, f.vault.IncreaseGuaranteedUsd("ETH", fpmath.USD(3_000)))
	aum, err = f.m.GetAum(true, t0)
	require.NoError(t, err)
	// 10,000 + 8 * 2,200 + 3,000 + 1,000
	assert.Equal(t, fpmath.USD(31_600), aum)
}

func TestGetAumClampsAtZero(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, "ETH", ether(1))
	require.NoError(t, f.shorts.UpdateGlobalShortData("ETH", fpmath.USD(2000), fpmath.USD(1_000_000), fpmath.Signed{}, true))

	f.prices["ETH"] = fpmath.USD(1000)
	aum, err := f.m.GetAum(false, t0)
	require.NoError(t, err)
	assert.True(t, aum.IsZero())
}

func TestAddRemoveRoundTrip(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tokens.Mint(ledger.UserAccount("alice", "USDC"), usdc(1_000), ledger.JournalTypeDeposit))

	add, err := f.m.AddLiquidity("alice", "alice", "USDC", usdc(1_000), uint256.Int{}, uint256.Int{}, t0)
	require.NoError(t, err)
	assert.Equal(t, fpmath.USD(997), add.UsdIn, "30 bps mint fee")
	assert.Equal(t, shares(997), add.Shares)
	assert.Equal(t, shares(997), f.tokens.GetBalance(ledger.UserAccount("alice", ledger.ShareAsset)))

	_, err = f.m.RemoveLiquidity("alice", "alice", "USDC", add.Shares, uint256.Int{}, "alice", t0+DefaultCooldown-1)
	assert.ErrorIs(t, err, errs.ErrCooldownActive)

	rm, err := f.m.RemoveLiquidity("alice", "alice", "USDC", add.Shares, uint256.Int{}, "alice", t0+DefaultCooldown)
	require.NoError(t, err)
	assert.Equal(t, fpmath.USD(997), rm.UsdOut)
	// 997 less 30 bps burn fee
	assert.Equal(t, fpmath.U64(994_009_000), rm.AmountOut)
	assert.Equal(t, fpmath.U64(994_009_000), f.tokens.GetBalance(ledger.UserAccount("alice", "USDC")))
	assert.Equal(t, uint256.Int{}, f.m.Supply())

	a, err := f.vault.Asset("USDC")
	require.NoError(t, err)
	assert.True(t, a.PoolAmount.IsZero())
	assert.Equal(t, fpmath.U64(5_991_000), a.FeeReserve)
}

func TestSharesProportionalToAum(t *testing.T) {
	f := newFixture(t)
	for _, who := range []string{"alice", "bob"} {
		require.NoError(t, f.tokens.Mint(ledger.UserAccount(who, "USDC"), usdc(1_000), ledger.JournalTypeDeposit))
	}
	_, err := f.m.AddLiquidity("alice", "alice", "USDC", usdc(1_000), uint256.Int{}, uint256.Int{}, t0)
	require.NoError(t, err)

	res, err := f.m.AddLiquidity("bob", "bob", "USDC", usdc(1_000), uint256.Int{}, uint256.Int{}, t0+1)
	require.NoError(t, err)
	assert.Equal(t, shares(997), res.Shares)
	assert.Equal(t, shares(1_994), f.m.Supply())

	price, err := f.m.SharePrice(true, t0+1)
	require.NoError(t, err)
	assert.Equal(t, fpmath.OneUSD, price)
}

func TestAddLiquiditySlippage(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tokens.Mint(ledger.UserAccount("alice", "USDC"), usdc(2_000), ledger.JournalTypeDeposit))

	_, err := f.m.AddLiquidity("alice", "alice", "USDC", usdc(1_000), fpmath.USD(998), uint256.Int{}, t0)
	assert.ErrorIs(t, err, errs.ErrInsufficientOutput)
	_, err = f.m.AddLiquidity("alice", "alice", "USDC", usdc(1_000), uint256.Int{}, shares(998), t0)
	assert.ErrorIs(t, err, errs.ErrInsufficientOutput)
}

func TestLiquidityAuthorization(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.AddLiquidity("mallory", "alice", "USDC", usdc(1), uint256.Int{}, uint256.Int{}, t0)
	assert.ErrorIs(t, err, errs.ErrInvalidSender)
	_, err = f.m.RemoveLiquidity("mallory", "alice", "USDC", shares(1), uint256.Int{}, "mallory", t0)
	assert.ErrorIs(t, err, errs.ErrInvalidSender)
}

func TestSetCooldown(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.m.SetCooldown(MaxCooldown+1), errs.ErrInvalidParameter)
	assert.ErrorIs(t, f.m.SetCooldown(-1), errs.ErrInvalidParameter)

	f.m.Begin()
	require.NoError(t, f.m.SetCooldown(0))
	f.m.Rollback()
	assert.Equal(t, int64(DefaultCooldown), f.m.Cooldown())
}
