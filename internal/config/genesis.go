package config

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/event"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
)

// Genesis is the initial market configuration. It is applied as ordinary
// governance commands so that it lands in the event log and replays like
// any other command.
type Genesis struct {
	Gov         string          `toml:"gov"`
	Assets      []AssetConfig   `toml:"assets"`
	Fees        *FeeConfig      `toml:"fees"`
	Funding     *FundingConfig  `toml:"funding"`
	Position    *PositionConfig `toml:"position"`
	Liquidators []string        `toml:"liquidators"`
}

type AssetConfig struct {
	Token        string `toml:"token"`
	Decimals     uint8  `toml:"decimals"`
	Weight       uint64 `toml:"weight"`
	MinProfitBps uint64 `toml:"min_profit_bps"`
	MaxUsdAmount string `toml:"max_usd_amount"` // dollars; empty is unlimited
	IsStable     bool   `toml:"is_stable"`
	IsShortable  bool   `toml:"is_shortable"`
	FeedID       string `toml:"feed_id"`
	SpreadBps    uint64 `toml:"spread_bps"`
	StrictStable bool   `toml:"strict_stable"`
}

type FeeConfig struct {
	MarginFeeBps      uint64 `toml:"margin_fee_bps"`
	SwapFeeBps        uint64 `toml:"swap_fee_bps"`
	StableSwapFeeBps  uint64 `toml:"stable_swap_fee_bps"`
	MintBurnFeeBps    uint64 `toml:"mint_burn_fee_bps"`
	LiquidationFeeUsd string `toml:"liquidation_fee_usd"`
}

type FundingConfig struct {
	IntervalSeconds  int64  `toml:"interval_seconds"`
	RateFactor       uint64 `toml:"rate_factor"`
	StableRateFactor uint64 `toml:"stable_rate_factor"`
}

type PositionConfig struct {
	MaxLeverageBps  uint64 `toml:"max_leverage_bps"`
	MinProfitTime   int64  `toml:"min_profit_time"`
	CooldownSeconds int64  `toml:"cooldown_seconds"`
}

// genesisNamespace derives stable command IDs, so resubmitting genesis after
// a restart is deduplicated by the pipeline.
var genesisNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("amx.genesis"))

func (g Genesis) validate() error {
	if g.Gov == "" {
		if len(g.Assets) > 0 || g.Fees != nil || g.Funding != nil || g.Position != nil || len(g.Liquidators) > 0 {
			return errors.New("genesis.gov is required when genesis configures the market")
		}
		return nil
	}
	seen := make(map[string]bool, len(g.Assets))
	for i, a := range g.Assets {
		if a.Token == "" {
			return fmt.Errorf("genesis.assets[%d]: token is empty", i)
		}
		if seen[a.Token] {
			return fmt.Errorf("genesis.assets[%d]: duplicate token %s", i, a.Token)
		}
		seen[a.Token] = true
		if a.Decimals > 30 {
			return fmt.Errorf("genesis.assets[%d]: decimals %d out of range", i, a.Decimals)
		}
		if a.MaxUsdAmount != "" {
			if _, err := fpmath.FromDecimal(a.MaxUsdAmount, fpmath.PriceDecimals); err != nil {
				return fmt.Errorf("genesis.assets[%d].max_usd_amount: %w", i, err)
			}
		}
	}
	if g.Fees != nil && g.Fees.LiquidationFeeUsd != "" {
		if _, err := fpmath.FromDecimal(g.Fees.LiquidationFeeUsd, fpmath.PriceDecimals); err != nil {
			return fmt.Errorf("genesis.fees.liquidation_fee_usd: %w", err)
		}
	}
	return nil
}

// FeedIDs lists the price feeds named by genesis assets.
func (g Genesis) FeedIDs() []string {
	var ids []string
	for _, a := range g.Assets {
		if a.FeedID != "" {
			ids = append(ids, a.FeedID)
		}
	}
	return ids
}

// Commands renders genesis as gov-signed commands with source sequences
// 0..n-1 and deterministic command IDs, stamped with timestamp now. An
// empty gov yields no commands.
func (g Genesis) Commands(now int64) ([]event.Event, error) {
	if g.Gov == "" {
		return nil, nil
	}
	var cmds []event.Event
	header := func() event.Header {
		seq := int64(len(cmds))
		return event.Header{
			CommandID: uuid.NewSHA1(genesisNamespace, []byte(strconv.FormatInt(seq, 10))),
			Caller:    g.Gov,
			Sequence:  seq,
			Timestamp: now,
		}
	}

	cmds = append(cmds, &event.Initialize{Header: header(), Gov: g.Gov})
	for _, a := range g.Assets {
		maxUsd, err := optionalUSD(a.MaxUsdAmount)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", a.Token, err)
		}
		cmds = append(cmds, &event.SetAssetConfig{
			Header:       header(),
			Token:        a.Token,
			Decimals:     a.Decimals,
			Weight:       a.Weight,
			MinProfitBps: a.MinProfitBps,
			MaxUsdAmount: maxUsd,
			IsStable:     a.IsStable,
			IsShortable:  a.IsShortable,
		})
		if a.FeedID != "" {
			cmds = append(cmds, &event.SetPriceFeed{
				Header:       header(),
				Asset:        a.Token,
				FeedID:       a.FeedID,
				SpreadBps:    a.SpreadBps,
				StrictStable: a.StrictStable,
			})
		}
	}
	if f := g.Fees; f != nil {
		liqFee, err := optionalUSD(f.LiquidationFeeUsd)
		if err != nil {
			return nil, fmt.Errorf("fees: %w", err)
		}
		cmds = append(cmds, &event.SetFeeParams{
			Header:            header(),
			MarginFeeBps:      f.MarginFeeBps,
			SwapFeeBps:        f.SwapFeeBps,
			StableSwapFeeBps:  f.StableSwapFeeBps,
			MintBurnFeeBps:    f.MintBurnFeeBps,
			LiquidationFeeUsd: liqFee,
		})
	}
	if f := g.Funding; f != nil {
		cmds = append(cmds, &event.SetFundingParams{
			Header:           header(),
			Interval:         f.IntervalSeconds,
			RateFactor:       f.RateFactor,
			StableRateFactor: f.StableRateFactor,
		})
	}
	if p := g.Position; p != nil {
		cmds = append(cmds, &event.SetPositionParams{
			Header:        header(),
			MaxLeverage:   p.MaxLeverageBps,
			MinProfitTime: p.MinProfitTime,
			Cooldown:      p.CooldownSeconds,
		})
	}
	for _, l := range g.Liquidators {
		cmds = append(cmds, &event.SetLiquidator{Header: header(), Liquidator: l, Active: true})
	}
	return cmds, nil
}

func optionalUSD(s string) (uint256.Int, error) {
	if s == "" {
		return uint256.Int{}, nil
	}
	return fpmath.FromDecimal(s, fpmath.PriceDecimals)
}
