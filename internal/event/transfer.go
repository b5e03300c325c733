package event

import "github.com/holiman/uint256"

// TokenDeposit credits tokens bridged in from outside the engine.
type TokenDeposit struct {
	Header
	Account string
	Token   string
	Amount  uint256.Int // token units
}

func (d *TokenDeposit) EventType() EventType { return EventTypeTokenDeposit }
func (d *TokenDeposit) AssetID() *string     { return nil }

// TokenWithdrawal debits tokens leaving the engine.
type TokenWithdrawal struct {
	Header
	Account string
	Token   string
	Amount  uint256.Int
}

func (w *TokenWithdrawal) EventType() EventType { return EventTypeTokenWithdrawal }
func (w *TokenWithdrawal) AssetID() *string     { return nil }
