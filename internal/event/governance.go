package event

import "github.com/holiman/uint256"

// Initialize names the governance account. Accepted once.
type Initialize struct {
	Header
	Gov string
}

func (c *Initialize) EventType() EventType { return EventTypeInitialize }
func (c *Initialize) AssetID() *string     { return nil }

type SetAssetConfig struct {
	Header
	Token        string
	Decimals     uint8
	Weight       uint64
	MinProfitBps uint64
	MaxUsdAmount uint256.Int
	IsStable     bool
	IsShortable  bool
}

func (c *SetAssetConfig) EventType() EventType { return EventTypeSetAssetConfig }
func (c *SetAssetConfig) AssetID() *string     { return strPtr(c.Token) }

type SetPriceFeed struct {
	Header
	Asset        string
	FeedID       string
	SpreadBps    uint64
	StrictStable bool
}

func (c *SetPriceFeed) EventType() EventType { return EventTypeSetPriceFeed }
func (c *SetPriceFeed) AssetID() *string     { return strPtr(c.Asset) }

type SetAdjustment struct {
	Header
	Asset      string
	IsAdditive bool
	Bps        uint64
}

func (c *SetAdjustment) EventType() EventType { return EventTypeSetAdjustment }
func (c *SetAdjustment) AssetID() *string     { return strPtr(c.Asset) }

type SetFeeParams struct {
	Header
	MarginFeeBps      uint64
	SwapFeeBps        uint64
	StableSwapFeeBps  uint64
	MintBurnFeeBps    uint64
	LiquidationFeeUsd uint256.Int
}

func (c *SetFeeParams) EventType() EventType { return EventTypeSetFeeParams }
func (c *SetFeeParams) AssetID() *string     { return nil }

type SetFundingParams struct {
	Header
	Interval         int64
	RateFactor       uint64
	StableRateFactor uint64
}

func (c *SetFundingParams) EventType() EventType { return EventTypeSetFundingParams }
func (c *SetFundingParams) AssetID() *string     { return nil }

// SetPositionParams also carries the liquidity cooldown.
type SetPositionParams struct {
	Header
	MaxLeverage   uint64
	MinProfitTime int64
	Cooldown      int64
}

func (c *SetPositionParams) EventType() EventType { return EventTypeSetPositionParams }
func (c *SetPositionParams) AssetID() *string     { return nil }

// SetOracleParams replaces the oracle-wide price limits.
type SetOracleParams struct {
	Header
	MaxPriceAge             int64
	MaxConfidenceBps        uint64
	MaxStrictPriceDeviation uint256.Int
}

func (c *SetOracleParams) EventType() EventType { return EventTypeSetOracleParams }
func (c *SetOracleParams) AssetID() *string     { return nil }

type SetLiquidator struct {
	Header
	Liquidator string
	Active     bool
}

func (c *SetLiquidator) EventType() EventType { return EventTypeSetLiquidator }
func (c *SetLiquidator) AssetID() *string     { return nil }

// ApproveRouter is signed by the account granting the approval.
type ApproveRouter struct {
	Header
	Router   string
	Approved bool
}

func (c *ApproveRouter) EventType() EventType { return EventTypeApproveRouter }
func (c *ApproveRouter) AssetID() *string     { return nil }

type WithdrawFees struct {
	Header
	Token    string
	Receiver string
}

func (c *WithdrawFees) EventType() EventType { return EventTypeWithdrawFees }
func (c *WithdrawFees) AssetID() *string     { return strPtr(c.Token) }
