package event

import "github.com/holiman/uint256"

// IncreasePosition moves CollateralAmount of the collateral token from the
// account into the vault and adds SizeDelta USD of exposure.
type IncreasePosition struct {
	Header
	Account          string
	CollateralToken  string
	IndexToken       string
	IsLong           bool
	CollateralAmount uint256.Int // token units, may be zero
	SizeDelta        uint256.Int // USD, 1e30
}

func (c *IncreasePosition) EventType() EventType { return EventTypeIncreasePosition }
func (c *IncreasePosition) AssetID() *string     { return strPtr(c.IndexToken) }

// DecreasePosition removes SizeDelta USD of exposure and CollateralDelta USD
// of collateral, paying proceeds to Receiver.
type DecreasePosition struct {
	Header
	Account         string
	CollateralToken string
	IndexToken      string
	IsLong          bool
	CollateralDelta uint256.Int // USD, 1e30
	SizeDelta       uint256.Int // USD, 1e30
	Receiver        string
}

func (c *DecreasePosition) EventType() EventType { return EventTypeDecreasePosition }
func (c *DecreasePosition) AssetID() *string     { return strPtr(c.IndexToken) }

// LiquidatePosition is submitted by a registered liquidator.
type LiquidatePosition struct {
	Header
	Account         string
	CollateralToken string
	IndexToken      string
	IsLong          bool
	FeeReceiver     string
}

func (c *LiquidatePosition) EventType() EventType { return EventTypeLiquidatePosition }
func (c *LiquidatePosition) AssetID() *string     { return strPtr(c.IndexToken) }
