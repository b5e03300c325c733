package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePriceQuote
	EventTypeTokenDeposit
	EventTypeTokenWithdrawal
	EventTypeIncreasePosition
	EventTypeDecreasePosition
	EventTypeLiquidatePosition
	EventTypeAddLiquidity
	EventTypeRemoveLiquidity
	EventTypeSwap
	EventTypeUpdateFunding
	EventTypeInitialize
	EventTypeSetAssetConfig
	EventTypeSetPriceFeed
	EventTypeSetAdjustment
	EventTypeSetFeeParams
	EventTypeSetFundingParams
	EventTypeSetPositionParams
	EventTypeSetLiquidator
	EventTypeApproveRouter
	EventTypeWithdrawFees
	EventTypeSetOracleParams
)

var eventTypeNames = map[EventType]string{
	EventTypePriceQuote:        "PriceQuote",
	EventTypeTokenDeposit:      "TokenDeposit",
	EventTypeTokenWithdrawal:   "TokenWithdrawal",
	EventTypeIncreasePosition:  "IncreasePosition",
	EventTypeDecreasePosition:  "DecreasePosition",
	EventTypeLiquidatePosition: "LiquidatePosition",
	EventTypeAddLiquidity:      "AddLiquidity",
	EventTypeRemoveLiquidity:   "RemoveLiquidity",
	EventTypeSwap:              "Swap",
	EventTypeUpdateFunding:     "UpdateFunding",
	EventTypeInitialize:        "Initialize",
	EventTypeSetAssetConfig:    "SetAssetConfig",
	EventTypeSetPriceFeed:      "SetPriceFeed",
	EventTypeSetAdjustment:     "SetAdjustment",
	EventTypeSetFeeParams:      "SetFeeParams",
	EventTypeSetFundingParams:  "SetFundingParams",
	EventTypeSetPositionParams: "SetPositionParams",
	EventTypeSetLiquidator:     "SetLiquidator",
	EventTypeApproveRouter:     "ApproveRouter",
	EventTypeWithdrawFees:      "WithdrawFees",
	EventTypeSetOracleParams:   "SetOracleParams",
}

// EventEnvelope wraps every applied command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	// Asset context (nil for global commands)
	AssetID *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded command
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all commands implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// AssetID returns the asset context (nil for global commands)
	AssetID() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// OccurredAt is the command's versioned timestamp in unix seconds.
	// The core never reads the wall clock.
	OccurredAt() int64

	// Sender is the authenticated caller.
	Sender() string
}

// Header carries the fields every user and governance command shares.
type Header struct {
	CommandID uuid.UUID // Idempotency key
	Caller    string
	Sequence  int64 // Source sequence from the submitting gateway
	Timestamp int64 // unix seconds
}

func (h *Header) IdempotencyKey() string { return h.CommandID.String() }
func (h *Header) SourceSequence() int64  { return h.Sequence }
func (h *Header) OccurredAt() int64      { return h.Timestamp }
func (h *Header) Sender() string         { return h.Caller }

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of String.
func ParseEventType(name string) EventType {
	for et, n := range eventTypeNames {
		if n == name {
			return et
		}
	}
	return EventTypeUnknown
}

func strPtr(s string) *string { return &s }
