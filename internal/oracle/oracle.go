// Package oracle turns raw feed quotes into 1e30 USD prices with bounded
// adjustment, spread and strict-stable pinning.
package oracle

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/errs"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
	"github.com/omxlabs/amx-sub001/internal/state"
)

const (
	MaxSpreadBasisPoints     = 50
	MaxAdjustmentBasisPoints = 20
	DefaultMaxPriceAge       = 60 // seconds
	DefaultMaxConfidenceBps  = 100
)

// FeedConfig is the per-asset pricing configuration.
type FeedConfig struct {
	FeedID           string
	SpreadBps        uint64
	AdjustmentBps    uint64
	IsAdditive       bool
	LastAdjustmentAt int64
	StrictStable     bool
}

// Params are the oracle-wide limits.
type Params struct {
	MaxPriceAge             int64  // seconds
	MaxConfidenceBps        uint64 // 0 disables the confidence check
	MaxStrictPriceDeviation uint256.Int
	AdjustmentInterval      int64 // seconds between SetAdjustment calls per asset
}

func DefaultParams() Params {
	dev, _ := fpmath.Div(fpmath.OneUSD, fpmath.U64(100)) // 1 cent
	return Params{
		MaxPriceAge:             DefaultMaxPriceAge,
		MaxConfidenceBps:        DefaultMaxConfidenceBps,
		MaxStrictPriceDeviation: dev,
		AdjustmentInterval:      3600,
	}
}

// Oracle is the PriceOracle.
type Oracle struct {
	source Source
	feeds  *state.Table[string, FeedConfig]
	params *state.Cell[Params]
}

func New(source Source, params Params) *Oracle {
	return &Oracle{
		source: source,
		feeds:  state.NewTable[string, FeedConfig]("price_feeds"),
		params: state.NewCell(params),
	}
}

func (o *Oracle) Params() Params { return o.params.Get() }

// Feed returns the configuration for asset.
func (o *Oracle) Feed(asset string) (FeedConfig, bool) {
	return o.feeds.Get(asset)
}

// GetMaxPrice is GetPrice(asset, true, now).
func (o *Oracle) GetMaxPrice(asset string, now int64) (uint256.Int, error) {
	return o.GetPrice(asset, true, now)
}

// GetMinPrice is GetPrice(asset, false, now).
func (o *Oracle) GetMinPrice(asset string, now int64) (uint256.Int, error) {
	return o.GetPrice(asset, false, now)
}

// GetPrice returns the 1e30 USD price of asset. maximize selects the upper
// side of the spread.
func (o *Oracle) GetPrice(asset string, maximize bool, now int64) (uint256.Int, error) {
	cfg, ok := o.feeds.Get(asset)
	if !ok || cfg.FeedID == "" {
		return uint256.Int{}, fmt.Errorf("asset %s: %w", asset, errs.ErrInvalidPriceFeed)
	}

	price, err := o.primaryPrice(asset, cfg, now)
	if err != nil {
		return uint256.Int{}, err
	}

	if cfg.StrictStable {
		diff := fpmath.AbsDiff(price, fpmath.OneUSD)
		maxDev := o.params.Get().MaxStrictPriceDeviation
		if !diff.Gt(&maxDev) {
			return fpmath.OneUSD, nil
		}
		return price, nil
	}

	if cfg.SpreadBps == 0 {
		return price, nil
	}
	return fpmath.ApplyBps(price, cfg.SpreadBps, maximize)
}

// GetPrimaryPrice returns the normalized, adjusted price without spread.
func (o *Oracle) GetPrimaryPrice(asset string, now int64) (uint256.Int, error) {
	cfg, ok := o.feeds.Get(asset)
	if !ok || cfg.FeedID == "" {
		return uint256.Int{}, fmt.Errorf("asset %s: %w", asset, errs.ErrInvalidPriceFeed)
	}
	return o.primaryPrice(asset, cfg, now)
}

func (o *Oracle) primaryPrice(asset string, cfg FeedConfig, now int64) (uint256.Int, error) {
	q, err := o.source.Query(cfg.FeedID)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("asset %s: %w", asset, err)
	}

	params := o.params.Get()
	if q.PublishTime > now {
		return uint256.Int{}, fmt.Errorf("asset %s published at %d, after now %d: %w",
			asset, q.PublishTime, now, errs.ErrInvalidPrice)
	}
	if now-q.PublishTime > params.MaxPriceAge {
		return uint256.Int{}, fmt.Errorf("asset %s published at %d, now %d: %w",
			asset, q.PublishTime, now, errs.ErrPriceTooOld)
	}
	if err := validateQuote(q, params.MaxConfidenceBps); err != nil {
		return uint256.Int{}, fmt.Errorf("asset %s: %w", asset, err)
	}

	price, err := Normalize(q)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("asset %s: %w", asset, err)
	}

	if cfg.AdjustmentBps > 0 {
		price, err = fpmath.ApplyBps(price, cfg.AdjustmentBps, cfg.IsAdditive)
		if err != nil {
			return uint256.Int{}, fmt.Errorf("asset %s adjustment: %w", asset, err)
		}
	}
	return price, nil
}

func validateQuote(q Quote, maxConfidenceBps uint64) error {
	if q.Price <= 0 {
		return fmt.Errorf("price %d: %w", q.Price, errs.ErrInvalidPrice)
	}
	if maxConfidenceBps == 0 {
		return nil
	}
	// conf * 10_000 > price * maxConfidenceBps
	confScaled, _ := fpmath.Mul(fpmath.U64(q.Confidence), fpmath.BasisPoints)
	bound, _ := fpmath.Mul(fpmath.U64(uint64(q.Price)), fpmath.U64(maxConfidenceBps))
	if confScaled.Gt(&bound) {
		return fmt.Errorf("confidence %d too wide for price %d: %w", q.Confidence, q.Price, errs.ErrInvalidPrice)
	}
	return nil
}

// Normalize converts Price * 10^Exponent into a 1e30 USD value.
func Normalize(q Quote) (uint256.Int, error) {
	if q.Price <= 0 {
		return uint256.Int{}, errs.ErrInvalidPrice
	}
	raw := fpmath.U64(uint64(q.Price))
	shift := int64(fpmath.PriceDecimals) + int64(q.Exponent)

	switch {
	case shift >= 0:
		if shift > 77 {
			return uint256.Int{}, fmt.Errorf("exponent %d: %w", q.Exponent, errs.ErrPriceOverflow)
		}
		v, err := fpmath.Mul(raw, fpmath.Pow10(uint(shift)))
		if err != nil {
			return uint256.Int{}, fmt.Errorf("exponent %d: %w", q.Exponent, errs.ErrPriceOverflow)
		}
		return v, nil
	default:
		if -shift > 77 {
			return uint256.Int{}, fmt.Errorf("exponent %d: %w", q.Exponent, errs.ErrInvalidPrice)
		}
		v, _ := fpmath.Div(raw, fpmath.Pow10(uint(-shift)))
		if v.IsZero() {
			return uint256.Int{}, fmt.Errorf("price rounds to zero at exponent %d: %w", q.Exponent, errs.ErrInvalidPrice)
		}
		return v, nil
	}
}

// ============================================================================
// Configuration setters. Authorization is enforced by the caller.
// ============================================================================

// SetPriceFeed binds asset to a feed, creating its configuration if needed.
func (o *Oracle) SetPriceFeed(asset, feedID string) error {
	if feedID == "" {
		return fmt.Errorf("asset %s: empty feed id: %w", asset, errs.ErrInvalidPriceFeed)
	}
	cfg, _ := o.feeds.Get(asset)
	cfg.FeedID = feedID
	o.feeds.Put(asset, cfg)
	return nil
}

func (o *Oracle) SetSpreadBasisPoints(asset string, bps uint64) error {
	if bps > MaxSpreadBasisPoints {
		return fmt.Errorf("spread %d > %d: %w", bps, MaxSpreadBasisPoints, errs.ErrInvalidSpreadBasisPoints)
	}
	cfg, ok := o.feeds.Get(asset)
	if !ok {
		return fmt.Errorf("asset %s: %w", asset, errs.ErrInvalidPriceFeed)
	}
	cfg.SpreadBps = bps
	o.feeds.Put(asset, cfg)
	return nil
}

// SetAdjustment sets an additive or subtractive price adjustment. Each asset
// may be adjusted at most once per adjustment interval.
func (o *Oracle) SetAdjustment(asset string, isAdditive bool, bps uint64, now int64) error {
	if bps > MaxAdjustmentBasisPoints {
		return fmt.Errorf("adjustment %d > %d: %w", bps, MaxAdjustmentBasisPoints, errs.ErrInvalidAdjustmentBps)
	}
	cfg, ok := o.feeds.Get(asset)
	if !ok {
		return fmt.Errorf("asset %s: %w", asset, errs.ErrInvalidPriceFeed)
	}
	interval := o.params.Get().AdjustmentInterval
	if cfg.LastAdjustmentAt != 0 && now < cfg.LastAdjustmentAt+interval {
		return fmt.Errorf("asset %s adjusted at %d, next allowed at %d: %w",
			asset, cfg.LastAdjustmentAt, cfg.LastAdjustmentAt+interval, errs.ErrInvalidAdjustmentBps)
	}
	cfg.IsAdditive = isAdditive
	cfg.AdjustmentBps = bps
	cfg.LastAdjustmentAt = now
	o.feeds.Put(asset, cfg)
	return nil
}

func (o *Oracle) SetStrictStable(asset string, strict bool) error {
	cfg, ok := o.feeds.Get(asset)
	if !ok {
		return fmt.Errorf("asset %s: %w", asset, errs.ErrInvalidPriceFeed)
	}
	cfg.StrictStable = strict
	o.feeds.Put(asset, cfg)
	return nil
}

func (o *Oracle) SetMaxStrictPriceDeviation(dev uint256.Int) {
	p := o.params.Get()
	p.MaxStrictPriceDeviation = dev
	o.params.Set(p)
}

func (o *Oracle) SetMaxConfidenceBps(bps uint64) error {
	if bps > fpmath.BasisPointsDivisor {
		return fmt.Errorf("confidence bound %d bps: %w", bps, errs.ErrInvalidParameter)
	}
	p := o.params.Get()
	p.MaxConfidenceBps = bps
	o.params.Set(p)
	return nil
}

func (o *Oracle) SetMaxPriceAge(seconds int64) error {
	if seconds <= 0 {
		return fmt.Errorf("max price age %d: %w", seconds, errs.ErrInvalidParameter)
	}
	p := o.params.Get()
	p.MaxPriceAge = seconds
	o.params.Set(p)
	return nil
}

// Assets returns every configured asset in sorted order.
func (o *Oracle) Assets() []string { return state.StringKeys(o.feeds) }

func (o *Oracle) Touched() []string { return o.feeds.Touched() }

func (o *Oracle) Begin() {
	o.feeds.Begin()
	o.params.Begin()
}

func (o *Oracle) Commit() {
	o.feeds.Commit()
	o.params.Commit()
}

func (o *Oracle) Rollback() {
	o.feeds.Rollback()
	o.params.Rollback()
}

// RestoreFeed loads a feed configuration outside any transaction.
func (o *Oracle) RestoreFeed(asset string, cfg FeedConfig) { o.feeds.Put(asset, cfg) }

// RestoreParams loads oracle-wide limits outside any transaction.
func (o *Oracle) RestoreParams(p Params) { o.params.Set(p) }

// CanonicalBytes encodes a feed configuration for state digests.
func (c FeedConfig) CanonicalBytes(asset string) []byte {
	buf := make([]byte, 0, 96)
	buf = state.AppendString(buf, asset)
	buf = state.AppendString(buf, c.FeedID)
	buf = state.AppendUint64LE(buf, c.SpreadBps)
	buf = state.AppendUint64LE(buf, c.AdjustmentBps)
	buf = state.AppendBool(buf, c.IsAdditive)
	buf = state.AppendInt64LE(buf, c.LastAdjustmentAt)
	return state.AppendBool(buf, c.StrictStable)
}
