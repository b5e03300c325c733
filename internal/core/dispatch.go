package core

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/event"
	"github.com/omxlabs/amx-sub001/internal/funding"
	"github.com/omxlabs/amx-sub001/internal/ledger"
	"github.com/omxlabs/amx-sub001/internal/oracle"
	"github.com/omxlabs/amx-sub001/internal/position"
	"github.com/omxlabs/amx-sub001/internal/vault"
)

// Results of the commands whose engines return none of their own.

type TransferResult struct {
	Account string
	Token   string
	Amount  uint256.Int
	Balance uint256.Int
}

type FundingResult struct {
	Asset          string
	CumulativeRate uint256.Int
	Accrued        []funding.Accrual
}

type FeeWithdrawalResult struct {
	Token    string
	Receiver string
	Amount   uint256.Int
}

func (c *DeterministicCore) dispatch(evt event.Event, now int64) (any, error) {
	switch e := evt.(type) {
	case *event.PriceQuote:
		return c.handlePriceQuote(e)
	case *event.Initialize:
		return nil, c.handleInitialize(e)
	}

	if c.gov.Get() == "" {
		return nil, errs.ErrNotInitialized
	}

	switch e := evt.(type) {
	case *event.TokenDeposit:
		return c.handleTokenDeposit(e)
	case *event.TokenWithdrawal:
		return c.handleTokenWithdrawal(e)
	case *event.IncreasePosition:
		return c.handleIncreasePosition(e, now)
	case *event.DecreasePosition:
		return c.handleDecreasePosition(e, now)
	case *event.LiquidatePosition:
		return c.handleLiquidatePosition(e, now)
	case *event.AddLiquidity:
		return c.liquidity.AddLiquidity(e.Caller, e.Account, e.Token, e.Amount, e.MinUsd, e.MinShares, now)
	case *event.RemoveLiquidity:
		receiver := e.Receiver
		if receiver == "" {
			receiver = e.Account
		}
		return c.liquidity.RemoveLiquidity(e.Caller, e.Account, e.TokenOut, e.Shares, e.MinOut, receiver, now)
	case *event.Swap:
		return c.handleSwap(e, now)
	case *event.UpdateFunding:
		return c.handleUpdateFunding(e, now)
	case *event.ApproveRouter:
		if e.Router == "" || e.Router == e.Caller {
			return nil, fmt.Errorf("router %q: %w", e.Router, errs.ErrInvalidParameter)
		}
		c.positions.Access.SetRouter(e.Caller, e.Router, e.Approved)
		return nil, nil
	}

	// Everything below is governance.
	if err := c.requireGov(evt.Sender()); err != nil {
		return nil, err
	}

	switch e := evt.(type) {
	case *event.SetAssetConfig:
		if e.Token == ledger.ShareAsset {
			return nil, fmt.Errorf("%s is the share token: %w", e.Token, errs.ErrInvalidParameter)
		}
		return nil, c.vault.SetAssetConfig(e.Token, vault.AssetConfig{
			Decimals:     e.Decimals,
			Weight:       e.Weight,
			MinProfitBps: e.MinProfitBps,
			MaxUsdAmount: e.MaxUsdAmount,
			IsStable:     e.IsStable,
			IsShortable:  e.IsShortable,
		})
	case *event.SetPriceFeed:
		return nil, c.handleSetPriceFeed(e)
	case *event.SetAdjustment:
		return nil, c.oracle.SetAdjustment(e.Asset, e.IsAdditive, e.Bps, now)
	case *event.SetFeeParams:
		return nil, c.vault.SetFeeParams(vault.FeeParams{
			MarginFeeBps:      e.MarginFeeBps,
			SwapFeeBps:        e.SwapFeeBps,
			StableSwapFeeBps:  e.StableSwapFeeBps,
			MintBurnFeeBps:    e.MintBurnFeeBps,
			LiquidationFeeUsd: e.LiquidationFeeUsd,
		})
	case *event.SetFundingParams:
		return nil, c.funding.SetParams(funding.Params{
			Interval:         e.Interval,
			RateFactor:       e.RateFactor,
			StableRateFactor: e.StableRateFactor,
		})
	case *event.SetPositionParams:
		if err := c.positions.SetParams(position.Params{MaxLeverage: e.MaxLeverage, MinProfitTime: e.MinProfitTime}); err != nil {
			return nil, err
		}
		return nil, c.liquidity.SetCooldown(e.Cooldown)
	case *event.SetOracleParams:
		return nil, c.handleSetOracleParams(e)
	case *event.SetLiquidator:
		if e.Liquidator == "" {
			return nil, fmt.Errorf("empty liquidator: %w", errs.ErrInvalidParameter)
		}
		c.positions.Access.SetLiquidator(e.Liquidator, e.Active)
		return nil, nil
	case *event.WithdrawFees:
		return c.handleWithdrawFees(e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

func (c *DeterministicCore) requireGov(caller string) error {
	gov := c.gov.Get()
	if gov == "" {
		return errs.ErrNotInitialized
	}
	if caller != gov {
		return fmt.Errorf("%s is not gov: %w", caller, errs.ErrForbidden)
	}
	return nil
}

func (c *DeterministicCore) handleInitialize(e *event.Initialize) error {
	if c.gov.Get() != "" {
		return errs.ErrAlreadyInitialized
	}
	if e.Gov == "" {
		return fmt.Errorf("empty gov: %w", errs.ErrInvalidParameter)
	}
	c.gov.Set(e.Gov)
	return nil
}

func (c *DeterministicCore) handlePriceQuote(e *event.PriceQuote) (any, error) {
	if e.FeedID == "" {
		return nil, fmt.Errorf("empty feed id: %w", errs.ErrInvalidPriceFeed)
	}
	q := oracle.Quote{
		Price:       e.Price,
		Confidence:  e.Confidence,
		Exponent:    e.Exponent,
		PublishTime: e.PublishTime,
	}
	if _, err := oracle.Normalize(q); err != nil {
		return nil, err
	}
	c.quotes.Update(e.FeedID, q)
	if c.metrics != nil {
		c.metrics.OracleQuotes.WithLabelValues(e.FeedID).Inc()
	}
	return nil, nil
}

func (c *DeterministicCore) handleSetOracleParams(e *event.SetOracleParams) error {
	if err := c.oracle.SetMaxPriceAge(e.MaxPriceAge); err != nil {
		return err
	}
	if err := c.oracle.SetMaxConfidenceBps(e.MaxConfidenceBps); err != nil {
		return err
	}
	c.oracle.SetMaxStrictPriceDeviation(e.MaxStrictPriceDeviation)
	return nil
}

func (c *DeterministicCore) handleSetPriceFeed(e *event.SetPriceFeed) error {
	if err := c.oracle.SetPriceFeed(e.Asset, e.FeedID); err != nil {
		return err
	}
	if err := c.oracle.SetSpreadBasisPoints(e.Asset, e.SpreadBps); err != nil {
		return err
	}
	return c.oracle.SetStrictStable(e.Asset, e.StrictStable)
}

// handleTokenDeposit credits tokens bridged in. Only gov, acting as the
// bridge operator, may mint.
func (c *DeterministicCore) handleTokenDeposit(e *event.TokenDeposit) (any, error) {
	if err := c.requireGov(e.Caller); err != nil {
		return nil, err
	}
	if !c.vault.IsWhitelisted(e.Token) {
		return nil, fmt.Errorf("deposit %s: %w", e.Token, errs.ErrTokenNotWhitelisted)
	}
	if e.Amount.IsZero() || e.Account == "" {
		return nil, fmt.Errorf("deposit %s to %q: %w", e.Amount.Dec(), e.Account, errs.ErrInvalidAmount)
	}
	acct := ledger.UserAccount(e.Account, e.Token)
	if err := c.tokens.Mint(acct, e.Amount, ledger.JournalTypeDeposit); err != nil {
		return nil, err
	}
	return TransferResult{Account: e.Account, Token: e.Token, Amount: e.Amount, Balance: c.tokens.GetBalance(acct)}, nil
}

func (c *DeterministicCore) handleTokenWithdrawal(e *event.TokenWithdrawal) (any, error) {
	if err := c.positions.Access.ValidateSender(e.Caller, e.Account); err != nil {
		return nil, err
	}
	if e.Token == ledger.ShareAsset {
		return nil, fmt.Errorf("%s cannot leave the pool: %w", e.Token, errs.ErrInvalidParameter)
	}
	if e.Amount.IsZero() {
		return nil, errs.ErrInvalidAmount
	}
	acct := ledger.UserAccount(e.Account, e.Token)
	if err := c.tokens.Burn(acct, e.Amount, ledger.JournalTypeWithdrawal); err != nil {
		return nil, err
	}
	return TransferResult{Account: e.Account, Token: e.Token, Amount: e.Amount, Balance: c.tokens.GetBalance(acct)}, nil
}

func (c *DeterministicCore) handleIncreasePosition(e *event.IncreasePosition, now int64) (any, error) {
	if err := c.positions.Access.ValidateSender(e.Caller, e.Account); err != nil {
		return nil, err
	}
	if !e.CollateralAmount.IsZero() {
		if err := c.tokens.Transfer(
			ledger.UserAccount(e.Account, e.CollateralToken),
			vault.Custody(e.CollateralToken),
			e.CollateralAmount,
			ledger.JournalTypeCollateralIn,
		); err != nil {
			return nil, err
		}
	}
	key := position.Key{
		Account:         e.Account,
		CollateralToken: e.CollateralToken,
		IndexToken:      e.IndexToken,
		IsLong:          e.IsLong,
	}
	return c.positions.Increase.IncreasePosition(e.Caller, key, e.SizeDelta, now)
}

func (c *DeterministicCore) handleDecreasePosition(e *event.DecreasePosition, now int64) (any, error) {
	receiver := e.Receiver
	if receiver == "" {
		receiver = e.Account
	}
	key := position.Key{
		Account:         e.Account,
		CollateralToken: e.CollateralToken,
		IndexToken:      e.IndexToken,
		IsLong:          e.IsLong,
	}
	return c.positions.Decrease.DecreasePosition(e.Caller, key, e.CollateralDelta, e.SizeDelta, receiver, now)
}

func (c *DeterministicCore) handleLiquidatePosition(e *event.LiquidatePosition, now int64) (any, error) {
	feeReceiver := e.FeeReceiver
	if feeReceiver == "" {
		feeReceiver = e.Caller
	}
	key := position.Key{
		Account:         e.Account,
		CollateralToken: e.CollateralToken,
		IndexToken:      e.IndexToken,
		IsLong:          e.IsLong,
	}
	res, err := c.positions.Liquidation.LiquidatePosition(e.Caller, key, feeReceiver, now)
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.Liquidations.WithLabelValues(key.IndexToken, key.Side(), res.State.String()).Inc()
	}
	return res, nil
}

func (c *DeterministicCore) handleSwap(e *event.Swap, now int64) (any, error) {
	if err := c.positions.Access.ValidateSender(e.Caller, e.Account); err != nil {
		return nil, err
	}
	if e.AmountIn.IsZero() {
		return nil, errs.ErrInvalidAmount
	}
	receiver := e.Receiver
	if receiver == "" {
		receiver = e.Account
	}
	if err := c.tokens.Transfer(
		ledger.UserAccount(e.Account, e.TokenIn),
		vault.Custody(e.TokenIn),
		e.AmountIn,
		ledger.JournalTypeSwapIn,
	); err != nil {
		return nil, err
	}
	res, err := c.vault.Swap(e.TokenIn, e.TokenOut, receiver, now)
	if err != nil {
		return nil, err
	}
	if res.AmountOut.Lt(&e.MinOut) {
		return nil, fmt.Errorf("swap out %s < min %s: %w", res.AmountOut.Dec(), e.MinOut.Dec(), errs.ErrInsufficientOutput)
	}
	return res, nil
}

func (c *DeterministicCore) handleUpdateFunding(e *event.UpdateFunding, now int64) (any, error) {
	if !c.vault.IsWhitelisted(e.Asset) {
		return nil, fmt.Errorf("funding %s: %w", e.Asset, errs.ErrTokenNotWhitelisted)
	}
	if err := c.funding.UpdateCumulativeFundingRate(e.Asset, now); err != nil {
		return nil, err
	}
	accrued := c.funding.Accruals()
	if c.metrics != nil {
		for _, a := range accrued {
			c.metrics.FundingAccruals.WithLabelValues(a.Asset).Add(float64(a.Intervals))
		}
	}
	return FundingResult{
		Asset:          e.Asset,
		CumulativeRate: c.funding.CumulativeFundingRate(e.Asset),
		Accrued:        accrued,
	}, nil
}

func (c *DeterministicCore) handleWithdrawFees(e *event.WithdrawFees) (any, error) {
	if e.Receiver == "" {
		return nil, fmt.Errorf("empty receiver: %w", errs.ErrInvalidParameter)
	}
	amount, err := c.vault.Fees().WithdrawFees(e.Token, e.Receiver)
	if err != nil {
		return nil, err
	}
	return FeeWithdrawalResult{Token: e.Token, Receiver: e.Receiver, Amount: amount}, nil
}
