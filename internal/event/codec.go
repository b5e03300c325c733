package event

import (
	"encoding/json"
	"fmt"
)

// New returns an empty command of type et.
func New(et EventType) (Event, error) {
	switch et {
	case EventTypePriceQuote:
		return &PriceQuote{}, nil
	case EventTypeTokenDeposit:
		return &TokenDeposit{}, nil
	case EventTypeTokenWithdrawal:
		return &TokenWithdrawal{}, nil
	case EventTypeIncreasePosition:
		return &IncreasePosition{}, nil
	case EventTypeDecreasePosition:
		return &DecreasePosition{}, nil
	case EventTypeLiquidatePosition:
		return &LiquidatePosition{}, nil
	case EventTypeAddLiquidity:
		return &AddLiquidity{}, nil
	case EventTypeRemoveLiquidity:
		return &RemoveLiquidity{}, nil
	case EventTypeSwap:
		return &Swap{}, nil
	case EventTypeUpdateFunding:
		return &UpdateFunding{}, nil
	case EventTypeInitialize:
		return &Initialize{}, nil
	case EventTypeSetAssetConfig:
		return &SetAssetConfig{}, nil
	case EventTypeSetPriceFeed:
		return &SetPriceFeed{}, nil
	case EventTypeSetAdjustment:
		return &SetAdjustment{}, nil
	case EventTypeSetFeeParams:
		return &SetFeeParams{}, nil
	case EventTypeSetFundingParams:
		return &SetFundingParams{}, nil
	case EventTypeSetPositionParams:
		return &SetPositionParams{}, nil
	case EventTypeSetLiquidator:
		return &SetLiquidator{}, nil
	case EventTypeApproveRouter:
		return &ApproveRouter{}, nil
	case EventTypeWithdrawFees:
		return &WithdrawFees{}, nil
	case EventTypeSetOracleParams:
		return &SetOracleParams{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %d", et)
	}
}

// Encode serializes a command for the event log payload.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// Decode rebuilds a command from its event log payload.
func Decode(et EventType, payload []byte) (Event, error) {
	evt, err := New(et)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}
