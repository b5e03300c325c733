package core

import (
	"cmp"
	"slices"

	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/funding"
	"github.com/omxlabs/amx-sub001/internal/ledger"
	"github.com/omxlabs/amx-sub001/internal/liquidity"
	"github.com/omxlabs/amx-sub001/internal/oracle"
	"github.com/omxlabs/amx-sub001/internal/position"
	"github.com/omxlabs/amx-sub001/internal/shorts"
	"github.com/omxlabs/amx-sub001/internal/state"
	"github.com/omxlabs/amx-sub001/internal/vault"
)

// Record tags of the state digest.
const (
	tagBalance    byte = 'b'
	tagQuote      byte = 'q'
	tagFeed       byte = 'f'
	tagAsset      byte = 'a'
	tagFunding    byte = 'r'
	tagShort      byte = 's'
	tagPosition   byte = 'p'
	tagLastAdded  byte = 'l'
	tagRouter     byte = 'x'
	tagLiquidator byte = 'k'
	tagParams     byte = 'g'
)

// computeStateDigest serializes every record the open transaction wrote,
// sorted per table, followed by the governance parameters. Deleted rows are
// written as tombstones so that deleting and zeroing hash differently.
func (c *DeterministicCore) computeStateDigest() []byte {
	digest := make([]byte, 0, 1024)

	accounts := c.tokens.Touched()
	slices.SortFunc(accounts, ledger.Compare)
	for _, key := range accounts {
		digest = appendRecord(digest, tagBalance, ledger.CanonicalBytes(key, c.tokens.GetBalance(key)))
	}

	for _, feed := range sortedStrings(c.quotes.Touched()) {
		if q, err := c.quotes.Query(feed); err == nil {
			digest = appendRecord(digest, tagQuote, q.CanonicalBytes(feed))
		} else {
			digest = appendTombstone(digest, tagQuote, feed)
		}
	}

	for _, asset := range sortedStrings(c.oracle.Touched()) {
		if cfg, ok := c.oracle.Feed(asset); ok {
			digest = appendRecord(digest, tagFeed, cfg.CanonicalBytes(asset))
		} else {
			digest = appendTombstone(digest, tagFeed, asset)
		}
	}

	for _, token := range sortedStrings(c.vault.Touched()) {
		if a, err := c.vault.Asset(token); err == nil {
			digest = appendRecord(digest, tagAsset, a.CanonicalBytes(token))
		} else {
			digest = appendTombstone(digest, tagAsset, token)
		}
	}

	for _, asset := range sortedStrings(c.funding.Touched()) {
		digest = appendRecord(digest, tagFunding, c.funding.State(asset).CanonicalBytes(asset))
	}

	for _, index := range sortedStrings(c.shorts.Touched()) {
		gs := c.shorts.Get(index)
		if gs.Size.IsZero() {
			digest = appendTombstone(digest, tagShort, index)
			continue
		}
		digest = appendRecord(digest, tagShort, gs.CanonicalBytes(index))
	}

	keys := c.positions.Ledger.Touched()
	slices.SortFunc(keys, position.CompareKeys)
	for _, key := range keys {
		digest = appendRecord(digest, tagPosition, c.positions.Ledger.Get(key).CanonicalBytes(key))
	}

	for _, account := range sortedStrings(c.liquidity.Touched()) {
		at, _ := c.liquidity.LastAddedAt(account)
		digest = appendRecord(digest, tagLastAdded, liquidity.CanonicalBytes(account, at))
	}

	routers, liquidators := c.positions.Access.Touched()
	slices.SortFunc(routers, func(a, b position.RouterKey) int {
		if r := cmp.Compare(a.Account, b.Account); r != 0 {
			return r
		}
		return cmp.Compare(a.Router, b.Router)
	})
	for _, k := range routers {
		digest = appendRecord(digest, tagRouter, k.CanonicalBytes(c.positions.Access.IsApproved(k.Account, k.Router)))
	}
	for _, l := range sortedStrings(liquidators) {
		digest = appendRecord(digest, tagLiquidator,
			state.AppendBool(state.AppendString(nil, l), c.positions.Access.IsLiquidator(l)))
	}

	return appendRecord(digest, tagParams, c.paramsBytes())
}

// paramsBytes encodes gov and every parameter set. They are few and small,
// so they are committed on every command instead of tracking changes.
func (c *DeterministicCore) paramsBytes() []byte {
	buf := make([]byte, 0, 256)
	buf = state.AppendString(buf, c.gov.Get())

	op := c.oracle.Params()
	buf = state.AppendInt64LE(buf, op.MaxPriceAge)
	buf = state.AppendUint64LE(buf, op.MaxConfidenceBps)
	buf = state.AppendU256(buf, op.MaxStrictPriceDeviation)
	buf = state.AppendInt64LE(buf, op.AdjustmentInterval)

	fp := c.vault.FeeParams()
	buf = state.AppendUint64LE(buf, fp.MarginFeeBps)
	buf = state.AppendUint64LE(buf, fp.SwapFeeBps)
	buf = state.AppendUint64LE(buf, fp.StableSwapFeeBps)
	buf = state.AppendUint64LE(buf, fp.MintBurnFeeBps)
	buf = state.AppendU256(buf, fp.LiquidationFeeUsd)

	rp := c.funding.Params()
	buf = state.AppendInt64LE(buf, rp.Interval)
	buf = state.AppendUint64LE(buf, rp.RateFactor)
	buf = state.AppendUint64LE(buf, rp.StableRateFactor)

	pp := c.positions.Params()
	buf = state.AppendUint64LE(buf, pp.MaxLeverage)
	buf = state.AppendInt64LE(buf, pp.MinProfitTime)

	return state.AppendInt64LE(buf, c.liquidity.Cooldown())
}

func appendRecord(digest []byte, tag byte, rec []byte) []byte {
	digest = append(digest, tag)
	digest = state.AppendUint64LE(digest, uint64(len(rec)))
	return append(digest, rec...)
}

func appendTombstone(digest []byte, tag byte, key string) []byte {
	return appendRecord(digest, tag|0x80, state.AppendString(nil, key))
}

func sortedStrings(s []string) []string {
	slices.Sort(s)
	return s
}

// Changes carries typed copies of the records a command wrote, for the
// projection worker and the outbound event stream.
type Changes struct {
	Positions []PositionChange
	Assets    []AssetChange
	Shorts    []ShortChange
	Quotes    []QuoteChange
	Accruals  []funding.Accrual
	Aum       *AumSnapshot // nil when the pool was untouched or could not be valued
}

type PositionChange struct {
	Key      position.Key
	Position position.Position
}

type AssetChange struct {
	Token string
	Asset vault.Asset
	// CumulativeFundingRate is carried along so that asset projections show
	// the whole per-asset record.
	CumulativeFundingRate uint256.Int
	LastFundingTime       int64
}

type ShortChange struct {
	Index string
	Short shorts.GlobalShort
}

type QuoteChange struct {
	FeedID string
	Quote  oracle.Quote
}

// AumSnapshot values the pool right after a command.
type AumSnapshot struct {
	Max         uint256.Int
	Min         uint256.Int
	ShareSupply uint256.Int
	At          int64
}

// IsEmpty reports whether the command wrote nothing worth projecting.
func (ch *Changes) IsEmpty() bool {
	return len(ch.Positions) == 0 && len(ch.Assets) == 0 && len(ch.Shorts) == 0 &&
		len(ch.Quotes) == 0 && len(ch.Accruals) == 0 && ch.Aum == nil
}

func (c *DeterministicCore) collectChanges(now int64) *Changes {
	ch := &Changes{Accruals: c.funding.Accruals()}

	keys := c.positions.Ledger.Touched()
	slices.SortFunc(keys, position.CompareKeys)
	for _, key := range keys {
		ch.Positions = append(ch.Positions, PositionChange{Key: key, Position: c.positions.Ledger.Get(key)})
	}

	assets := sortedStrings(append(c.vault.Touched(), c.funding.Touched()...))
	assets = slices.Compact(assets)
	for _, token := range assets {
		a, err := c.vault.Asset(token)
		if err != nil {
			continue
		}
		st := c.funding.State(token)
		ch.Assets = append(ch.Assets, AssetChange{
			Token:                 token,
			Asset:                 a,
			CumulativeFundingRate: st.CumulativeRate,
			LastFundingTime:       st.LastFundingTime,
		})
	}

	for _, index := range sortedStrings(c.shorts.Touched()) {
		ch.Shorts = append(ch.Shorts, ShortChange{Index: index, Short: c.shorts.Get(index)})
	}

	for _, feed := range sortedStrings(c.quotes.Touched()) {
		if q, err := c.quotes.Query(feed); err == nil {
			ch.Quotes = append(ch.Quotes, QuoteChange{FeedID: feed, Quote: q})
		}
	}

	if len(ch.Assets) > 0 || len(ch.Quotes) > 0 || len(ch.Shorts) > 0 {
		ch.Aum = c.aumSnapshot(now)
	}
	return ch
}

func (c *DeterministicCore) aumSnapshot(now int64) *AumSnapshot {
	if len(c.vault.Tokens()) == 0 {
		return nil
	}
	maxAum, err := c.liquidity.GetAum(true, now)
	if err != nil {
		return nil
	}
	minAum, err := c.liquidity.GetAum(false, now)
	if err != nil {
		return nil
	}
	return &AumSnapshot{Max: maxAum, Min: minAum, ShareSupply: c.liquidity.Supply(), At: now}
}
