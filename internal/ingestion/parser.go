package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/event"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
)

// Wire names of the commands, used as the NATS subject token and in the
// HTTP command route.
var commandNames = map[event.EventType]string{
	event.EventTypePriceQuote:        "price_quote",
	event.EventTypeTokenDeposit:      "token_deposit",
	event.EventTypeTokenWithdrawal:   "token_withdrawal",
	event.EventTypeIncreasePosition:  "increase_position",
	event.EventTypeDecreasePosition:  "decrease_position",
	event.EventTypeLiquidatePosition: "liquidate_position",
	event.EventTypeAddLiquidity:      "add_liquidity",
	event.EventTypeRemoveLiquidity:   "remove_liquidity",
	event.EventTypeSwap:              "swap",
	event.EventTypeUpdateFunding:     "update_funding",
	event.EventTypeInitialize:        "initialize",
	event.EventTypeSetAssetConfig:    "set_asset_config",
	event.EventTypeSetPriceFeed:      "set_price_feed",
	event.EventTypeSetAdjustment:     "set_adjustment",
	event.EventTypeSetFeeParams:      "set_fee_params",
	event.EventTypeSetFundingParams:  "set_funding_params",
	event.EventTypeSetPositionParams: "set_position_params",
	event.EventTypeSetLiquidator:     "set_liquidator",
	event.EventTypeApproveRouter:     "approve_router",
	event.EventTypeWithdrawFees:      "withdraw_fees",
	event.EventTypeSetOracleParams:   "set_oracle_params",
}

// CommandName returns the wire name of et.
func CommandName(et event.EventType) string {
	return commandNames[et]
}

// ParseCommandName is the inverse of CommandName.
func ParseCommandName(name string) (event.EventType, error) {
	for et, n := range commandNames {
		if n == name {
			return et, nil
		}
	}
	return event.EventTypeUnknown, fmt.Errorf("unknown command %q", name)
}

// CommandFromSubject extracts the command type from a subject of the form
// amx.commands.{command}[.anything].
func CommandFromSubject(subject string) (event.EventType, error) {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 || parts[0] != "amx" || parts[1] != "commands" {
		return event.EventTypeUnknown, fmt.Errorf("not a command subject: %s", subject)
	}
	return ParseCommandName(parts[2])
}

// ParseRawEvent converts a message into a typed command. Price subjects carry
// quotes; command subjects name the command type in their third token.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	if strings.HasPrefix(raw.Subject, PriceSubjectPrefix) {
		return ParseCommand(event.EventTypePriceQuote, raw.Data)
	}
	et, err := CommandFromSubject(raw.Subject)
	if err != nil {
		return nil, err
	}
	return ParseCommand(et, raw.Data)
}

// ParseCommand decodes the snake_case JSON wire format of a command.
//
// Token amounts are base-unit integers and USD amounts are decimal dollars,
// both as strings: JSON numbers cannot carry 256-bit values.
func ParseCommand(et event.EventType, data []byte) (event.Event, error) {
	switch et {
	case event.EventTypePriceQuote:
		return parsePriceQuote(data)
	case event.EventTypeTokenDeposit:
		return parseTokenDeposit(data)
	case event.EventTypeTokenWithdrawal:
		return parseTokenWithdrawal(data)
	case event.EventTypeIncreasePosition:
		return parseIncreasePosition(data)
	case event.EventTypeDecreasePosition:
		return parseDecreasePosition(data)
	case event.EventTypeLiquidatePosition:
		return parseLiquidatePosition(data)
	case event.EventTypeAddLiquidity:
		return parseAddLiquidity(data)
	case event.EventTypeRemoveLiquidity:
		return parseRemoveLiquidity(data)
	case event.EventTypeSwap:
		return parseSwap(data)
	case event.EventTypeUpdateFunding:
		return parseUpdateFunding(data)
	case event.EventTypeInitialize:
		return parseInitialize(data)
	case event.EventTypeSetAssetConfig:
		return parseSetAssetConfig(data)
	case event.EventTypeSetPriceFeed:
		return parseSetPriceFeed(data)
	case event.EventTypeSetAdjustment:
		return parseSetAdjustment(data)
	case event.EventTypeSetFeeParams:
		return parseSetFeeParams(data)
	case event.EventTypeSetFundingParams:
		return parseSetFundingParams(data)
	case event.EventTypeSetPositionParams:
		return parseSetPositionParams(data)
	case event.EventTypeSetLiquidator:
		return parseSetLiquidator(data)
	case event.EventTypeApproveRouter:
		return parseApproveRouter(data)
	case event.EventTypeWithdrawFees:
		return parseWithdrawFees(data)
	case event.EventTypeSetOracleParams:
		return parseSetOracleParams(data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", et)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type headerJSON struct {
	CommandID string `json:"command_id"`
	Caller    string `json:"caller"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

func (h headerJSON) header() (event.Header, error) {
	id, err := uuid.Parse(h.CommandID)
	if err != nil {
		return event.Header{}, fmt.Errorf("parse command_id: %w", err)
	}
	if h.Caller == "" {
		return event.Header{}, fmt.Errorf("missing caller")
	}
	return event.Header{CommandID: id, Caller: h.Caller, Sequence: h.Sequence, Timestamp: h.Timestamp}, nil
}

// fieldParser collects the first parse error of a command's fields.
type fieldParser struct {
	err error
}

func (p *fieldParser) tokens(field, s string) uint256.Int {
	if p.err != nil {
		return uint256.Int{}
	}
	v, err := fpmath.ParseUint(s)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", field, err)
	}
	return v
}

func (p *fieldParser) usd(field, s string) uint256.Int {
	if p.err != nil || s == "" {
		return uint256.Int{}
	}
	v, err := fpmath.FromDecimal(s, fpmath.PriceDecimals)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", field, err)
	}
	return v
}

func decode[T any](name string, data []byte) (T, event.Header, error) {
	var body T
	var hdr headerJSON
	if err := json.Unmarshal(data, &hdr); err != nil {
		return body, event.Header{}, fmt.Errorf("parse %s: %w", name, err)
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return body, event.Header{}, fmt.Errorf("parse %s: %w", name, err)
	}
	h, err := hdr.header()
	if err != nil {
		return body, event.Header{}, fmt.Errorf("parse %s: %w", name, err)
	}
	return body, h, nil
}

type priceQuoteJSON struct {
	FeedID      string `json:"feed_id"`
	Price       int64  `json:"price"`
	Confidence  uint64 `json:"conf"`
	Exponent    int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

func parsePriceQuote(data []byte) (*event.PriceQuote, error) {
	var j priceQuoteJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceQuote: %w", err)
	}
	if j.FeedID == "" {
		return nil, fmt.Errorf("parse PriceQuote: missing feed_id")
	}
	return &event.PriceQuote{
		FeedID:      j.FeedID,
		Price:       j.Price,
		Confidence:  j.Confidence,
		Exponent:    j.Exponent,
		PublishTime: j.PublishTime,
	}, nil
}

type transferJSON struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

func parseTokenDeposit(data []byte) (*event.TokenDeposit, error) {
	j, h, err := decode[transferJSON]("TokenDeposit", data)
	if err != nil {
		return nil, err
	}
	var p fieldParser
	evt := &event.TokenDeposit{Header: h, Account: j.Account, Token: j.Token, Amount: p.tokens("amount", j.Amount)}
	return evt, p.err
}

func parseTokenWithdrawal(data []byte) (*event.TokenWithdrawal, error) {
	j, h, err := decode[transferJSON]("TokenWithdrawal", data)
	if err != nil {
		return nil, err
	}
	var p fieldParser
	evt := &event.TokenWithdrawal{Header: h, Account: j.Account, Token: j.Token, Amount: p.tokens("amount", j.Amount)}
	return evt, p.err
}

type positionJSON struct {
	Account          string `json:"account"`
	CollateralToken  string `json:"collateral_token"`
	IndexToken       string `json:"index_token"`
	IsLong           bool   `json:"is_long"`
	CollateralAmount string `json:"collateral_amount"`
	CollateralDelta  string `json:"collateral_delta_usd"`
	SizeDelta        string `json:"size_delta_usd"`
	Receiver         string `json:"receiver"`
	FeeReceiver      string `json:"fee_receiver"`
}

func parseIncreasePosition(data []byte) (*event.IncreasePosition, error) {
	j, h, err := decode[positionJSON]("IncreasePosition", data)
	if err != nil {
		return nil, err
	}
	var p fieldParser
	evt := &event.IncreasePosition{
		Header:           h,
		Account:          j.Account,
		CollateralToken:  j.CollateralToken,
		IndexToken:       j.IndexToken,
		IsLong:           j.IsLong,
		CollateralAmount: p.tokens("collateral_amount", j.CollateralAmount),
		SizeDelta:        p.usd("size_delta_usd", j.SizeDelta),
	}
	return evt, p.err
}

func parseDecreasePosition(data []byte) (*event.DecreasePosition, error) {
	j, h, err := decode[positionJSON]("DecreasePosition", data)
	if err != nil {
		return nil, err
	}
	var p fieldParser
	evt := &event.DecreasePosition{
		Header:          h,
		Account:         j.Account,
		CollateralToken: j.CollateralToken,
		IndexToken:      j.IndexToken,
		IsLong:          j.IsLong,
		CollateralDelta: p.usd("collateral_delta_usd", j.CollateralDelta),
		SizeDelta:       p.usd("size_delta_usd", j.SizeDelta),
		Receiver:        j.Receiver,
	}
	return evt, p.err
}

func parseLiquidatePosition(data []byte) (*event.LiquidatePosition, error) {
	j, h, err := decode[positionJSON]("LiquidatePosition", data)
	if err != nil {
		return nil, err
	}
	return &event.LiquidatePosition{
		Header:          h,
		Account:         j.Account,
		CollateralToken: j.CollateralToken,
		IndexToken:      j.IndexToken,
		IsLong:          j.IsLong,
		FeeReceiver:     j.FeeReceiver,
	}, nil
}

type liquidityJSON struct {
	Account   string `json:"account"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	MinUsd    string `json:"min_usd"`
	MinShares string `json:"min_shares"`
	Shares    string `json:"shares"`
	MinOut    string `json:"min_out"`
	Receiver  string `json:"receiver"`
}

func parseAddLiquidity(data []byte) (*event.AddLiquidity, error) {
	j, h, err := decode[liquidityJSON]("AddLiquidity", data)
	if err != nil {
		return nil, err
	}
	var p fieldParser
	evt := &event.AddLiquidity{
		Header:    h,
		Account:   j.Account,
		Token:     j.Token,
		Amount:    p.tokens("amount", j.Amount),
		MinUsd:    p.usd("min_usd", j.MinUsd),
		MinShares: p.tokens("min_shares", j.MinShares),
	}
	return evt, p.err
}

func parseRemoveLiquidity(data []byte) (*event.RemoveLiquidity, error) {
	j, h, err := decode[liquidityJSON]("RemoveLiquidity", data)
	if err != nil {
		return nil, err
	}
	var p fieldParser
	evt := &event.RemoveLiquidity{
		Header:   h,
		Account:  j.Account,
		TokenOut: j.Token,
		Shares:   p.tokens("shares", j.Shares),
		MinOut:   p.tokens("min_out", j.MinOut),
		Receiver: j.Receiver,
	}
	return evt, p.err
}

type swapJSON struct {
	Account  string `json:"account"`
	TokenIn  string `json:"token_in"`
	TokenOut string `json:"token_out"`
	AmountIn string `json:"amount_in"`
	MinOut   string `json:"min_out"`
	Receiver string `json:"receiver"`
}

func parseSwap(data []byte) (*event.Swap, error) {
	j, h, err := decode[swapJSON]("Swap", data)
	if err != nil {
		return nil, err
	}
	var p fieldParser
	evt := &event.Swap{
		Header:   h,
		Account:  j.Account,
		TokenIn:  j.TokenIn,
		TokenOut: j.TokenOut,
		AmountIn: p.tokens("amount_in", j.AmountIn),
		MinOut:   p.tokens("min_out", j.MinOut),
		Receiver: j.Receiver,
	}
	return evt, p.err
}

type assetJSON struct {
	Asset string `json:"asset"`
}

func parseUpdateFunding(data []byte) (*event.UpdateFunding, error) {
	j, h, err := decode[assetJSON]("UpdateFunding", data)
	if err != nil {
		return nil, err
	}
	return &event.UpdateFunding{Header: h, Asset: j.Asset}, nil
}

type initializeJSON struct {
	Gov string `json:"gov"`
}

func parseInitialize(data []byte) (*event.Initialize, error) {
	j, h, err := decode[initializeJSON]("Initialize", data)
	if err != nil {
		return nil, err
	}
	return &event.Initialize{Header: h, Gov: j.Gov}, nil
}

type assetConfigJSON struct {
	Token        string `json:"token"`
	Decimals     uint8  `json:"decimals"`
	Weight       uint64 `json:"weight"`
	MinProfitBps uint64 `json:"min_profit_bps"`
	MaxUsdAmount string `json:"max_usd_amount"`
	IsStable     bool   `json:"is_stable"`
	IsShortable  bool   `json:"is_shortable"`
}

func parseSetAssetConfig(data []byte) (*event.SetAssetConfig, error) {
	j, h, err := decode[assetConfigJSON]("SetAssetConfig", data)
	if err != nil {
		return nil, err
	}
	var p fieldParser
	evt := &event.SetAssetConfig{
		Header:       h,
		Token:        j.Token,
		Decimals:     j.Decimals,
		Weight:       j.Weight,
		MinProfitBps: j.MinProfitBps,
		MaxUsdAmount: p.usd("max_usd_amount", j.MaxUsdAmount),
		IsStable:     j.IsStable,
		IsShortable:  j.IsShortable,
	}
	return evt, p.err
}

type priceFeedJSON struct {
	Asset        string `json:"asset"`
	FeedID       string `json:"feed_id"`
	SpreadBps    uint64 `json:"spread_bps"`
	StrictStable bool   `json:"strict_stable"`
}

func parseSetPriceFeed(data []byte) (*event.SetPriceFeed, error) {
	j, h, err := decode[priceFeedJSON]("SetPriceFeed", data)
	if err != nil {
		return nil, err
	}
	return &event.SetPriceFeed{Header: h, Asset: j.Asset, FeedID: j.FeedID, SpreadBps: j.SpreadBps, StrictStable: j.StrictStable}, nil
}

type adjustmentJSON struct {
	Asset      string `json:"asset"`
	IsAdditive bool   `json:"is_additive"`
	Bps        uint64 `json:"bps"`
}

func parseSetAdjustment(data []byte) (*event.SetAdjustment, error) {
	j, h, err := decode[adjustmentJSON]("SetAdjustment", data)
	if err != nil {
		return nil, err
	}
	return &event.SetAdjustment{Header: h, Asset: j.Asset, IsAdditive: j.IsAdditive, Bps: j.Bps}, nil
}

type feeParamsJSON struct {
	MarginFeeBps      uint64 `json:"margin_fee_bps"`
	SwapFeeBps        uint64 `json:"swap_fee_bps"`
	StableSwapFeeBps  uint64 `json:"stable_swap_fee_bps"`
	MintBurnFeeBps    uint64 `json:"mint_burn_fee_bps"`
	LiquidationFeeUsd string `json:"liquidation_fee_usd"`
}

func parseSetFeeParams(data []byte) (*event.SetFeeParams, error) {
	j, h, err := decode[feeParamsJSON]("SetFeeParams", data)
	if err != nil {
		return nil, err
	}
	var p fieldParser
	evt := &event.SetFeeParams{
		Header:            h,
		MarginFeeBps:      j.MarginFeeBps,
		SwapFeeBps:        j.SwapFeeBps,
		StableSwapFeeBps:  j.StableSwapFeeBps,
		MintBurnFeeBps:    j.MintBurnFeeBps,
		LiquidationFeeUsd: p.usd("liquidation_fee_usd", j.LiquidationFeeUsd),
	}
	return evt, p.err
}

type fundingParamsJSON struct {
	Interval         int64  `json:"interval"`
	RateFactor       uint64 `json:"rate_factor"`
	StableRateFactor uint64 `json:"stable_rate_factor"`
}

func parseSetFundingParams(data []byte) (*event.SetFundingParams, error) {
	j, h, err := decode[fundingParamsJSON]("SetFundingParams", data)
	if err != nil {
		return nil, err
	}
	return &event.SetFundingParams{Header: h, Interval: j.Interval, RateFactor: j.RateFactor, StableRateFactor: j.StableRateFactor}, nil
}

type oracleParamsJSON struct {
	MaxPriceAge             int64  `json:"max_price_age"`
	MaxConfidenceBps        uint64 `json:"max_confidence_bps"`
	MaxStrictPriceDeviation string `json:"max_strict_price_deviation"`
}

func parseSetOracleParams(data []byte) (*event.SetOracleParams, error) {
	j, h, err := decode[oracleParamsJSON]("SetOracleParams", data)
	if err != nil {
		return nil, err
	}
	var p fieldParser
	evt := &event.SetOracleParams{
		Header:                  h,
		MaxPriceAge:             j.MaxPriceAge,
		MaxConfidenceBps:        j.MaxConfidenceBps,
		MaxStrictPriceDeviation: p.usd("max_strict_price_deviation", j.MaxStrictPriceDeviation),
	}
	return evt, p.err
}

type positionParamsJSON struct {
	MaxLeverage   uint64 `json:"max_leverage_bps"`
	MinProfitTime int64  `json:"min_profit_time"`
	Cooldown      int64  `json:"cooldown"`
}

func parseSetPositionParams(data []byte) (*event.SetPositionParams, error) {
	j, h, err := decode[positionParamsJSON]("SetPositionParams", data)
	if err != nil {
		return nil, err
	}
	return &event.SetPositionParams{Header: h, MaxLeverage: j.MaxLeverage, MinProfitTime: j.MinProfitTime, Cooldown: j.Cooldown}, nil
}

type liquidatorJSON struct {
	Liquidator string `json:"liquidator"`
	Active     bool   `json:"active"`
}

func parseSetLiquidator(data []byte) (*event.SetLiquidator, error) {
	j, h, err := decode[liquidatorJSON]("SetLiquidator", data)
	if err != nil {
		return nil, err
	}
	return &event.SetLiquidator{Header: h, Liquidator: j.Liquidator, Active: j.Active}, nil
}

type routerJSON struct {
	Router   string `json:"router"`
	Approved bool   `json:"approved"`
}

func parseApproveRouter(data []byte) (*event.ApproveRouter, error) {
	j, h, err := decode[routerJSON]("ApproveRouter", data)
	if err != nil {
		return nil, err
	}
	return &event.ApproveRouter{Header: h, Router: j.Router, Approved: j.Approved}, nil
}

type withdrawFeesJSON struct {
	Token    string `json:"token"`
	Receiver string `json:"receiver"`
}

func parseWithdrawFees(data []byte) (*event.WithdrawFees, error) {
	j, h, err := decode[withdrawFeesJSON]("WithdrawFees", data)
	if err != nil {
		return nil, err
	}
	return &event.WithdrawFees{Header: h, Token: j.Token, Receiver: j.Receiver}, nil
}
