package event

import "github.com/holiman/uint256"

type AddLiquidity struct {
	Header
	Account   string
	Token     string
	Amount    uint256.Int // token units
	MinUsd    uint256.Int
	MinShares uint256.Int
}

func (c *AddLiquidity) EventType() EventType { return EventTypeAddLiquidity }
func (c *AddLiquidity) AssetID() *string     { return strPtr(c.Token) }

type RemoveLiquidity struct {
	Header
	Account  string
	TokenOut string
	Shares   uint256.Int
	MinOut   uint256.Int // token units
	Receiver string
}

func (c *RemoveLiquidity) EventType() EventType { return EventTypeRemoveLiquidity }
func (c *RemoveLiquidity) AssetID() *string     { return strPtr(c.TokenOut) }

type Swap struct {
	Header
	Account  string
	TokenIn  string
	TokenOut string
	AmountIn uint256.Int
	MinOut   uint256.Int
	Receiver string
}

func (c *Swap) EventType() EventType { return EventTypeSwap }
func (c *Swap) AssetID() *string     { return strPtr(c.TokenIn) }

// UpdateFunding accrues funding for Asset without touching positions.
type UpdateFunding struct {
	Header
	Asset string
}

func (c *UpdateFunding) EventType() EventType { return EventTypeUpdateFunding }
func (c *UpdateFunding) AssetID() *string     { return strPtr(c.Asset) }
