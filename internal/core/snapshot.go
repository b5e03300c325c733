package core

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/funding"
	"github.com/omxlabs/amx-sub001/internal/ledger"
	"github.com/omxlabs/amx-sub001/internal/oracle"
	"github.com/omxlabs/amx-sub001/internal/position"
	"github.com/omxlabs/amx-sub001/internal/vault"
)

// SnapshotState holds the whole in-memory state. It is JSON-serializable:
// uint256 values encode as decimal strings.
type SnapshotState struct {
	Sequence      int64 // last applied sequence, -1 when nothing was applied
	StateHash     [32]byte
	LastTimestamp int64
	Gov           string

	Balances       []BalanceEntry
	Quotes         map[string]oracle.Quote
	Feeds          map[string]oracle.FeedConfig
	OracleParams   oracle.Params
	Assets         []AssetEntry
	FeeParams      vault.FeeParams
	Funding        []FundingEntry
	FundingParams  funding.Params
	Shorts         []ShortChange
	Positions      []PositionChange
	PositionParams position.Params
	Routers        []position.RouterKey
	Liquidators    []string
	LastAdded      map[string]int64
	Cooldown       int64

	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// Rows holding uint256 values are kept in slices, not maps: map values are
// not addressable and would bypass uint256's JSON methods.

type BalanceEntry struct {
	Account ledger.AccountKey
	Balance uint256.Int
}

type AssetEntry struct {
	Token string
	Asset vault.Asset
}

type FundingEntry struct {
	Asset string
	State funding.State
}

// CreateSnapshotState captures the current state. It must run on the
// sequencer goroutine, between commands.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	snap := &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		LastTimestamp:   c.lastTimestamp,
		Gov:             c.gov.Get(),
		Quotes:          c.quotes.All(),
		Feeds:           make(map[string]oracle.FeedConfig),
		OracleParams:    c.oracle.Params(),
		FeeParams:       c.vault.FeeParams(),
		FundingParams:   c.funding.Params(),
		PositionParams:  c.positions.Params(),
		Routers:         c.positions.Access.Routers(),
		Liquidators:     c.positions.Access.Liquidators(),
		LastAdded:       make(map[string]int64),
		Cooldown:        c.liquidity.Cooldown(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}

	for key, bal := range c.tokens.Snapshot() {
		snap.Balances = append(snap.Balances, BalanceEntry{Account: key, Balance: bal})
	}
	for _, asset := range c.oracle.Assets() {
		cfg, _ := c.oracle.Feed(asset)
		snap.Feeds[asset] = cfg
	}
	for _, token := range c.vault.Tokens() {
		a, _ := c.vault.Asset(token)
		snap.Assets = append(snap.Assets, AssetEntry{Token: token, Asset: a})
	}
	for _, asset := range c.funding.Assets() {
		snap.Funding = append(snap.Funding, FundingEntry{Asset: asset, State: c.funding.State(asset)})
	}
	for _, index := range c.shorts.Indexes() {
		snap.Shorts = append(snap.Shorts, ShortChange{Index: index, Short: c.shorts.Get(index)})
	}
	for _, key := range c.positions.Ledger.Keys() {
		snap.Positions = append(snap.Positions, PositionChange{Key: key, Position: c.positions.Ledger.Get(key)})
	}
	for _, account := range c.liquidity.Accounts() {
		at, _ := c.liquidity.LastAddedAt(account)
		snap.LastAdded[account] = at
	}
	return snap
}

// RestoreFromSnapshot loads snap into a freshly constructed core. Commands
// after snap.Sequence are then replayed from the event log.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	if c.gov.Get() != "" || len(c.tokens.Snapshot()) > 0 {
		return fmt.Errorf("restore into a used core at sequence %d", c.sequence)
	}

	c.sequence = snap.Sequence + 1
	c.lastTimestamp = snap.LastTimestamp
	c.hasher.SetPrevHash(snap.StateHash)
	c.gov.Set(snap.Gov)

	for _, b := range snap.Balances {
		if err := c.tokens.Restore(b.Account, b.Balance); err != nil {
			return fmt.Errorf("restore balance %s: %w", b.Account.AccountPath(), err)
		}
	}
	for feed, q := range snap.Quotes {
		c.quotes.Update(feed, q)
	}
	for asset, cfg := range snap.Feeds {
		c.oracle.RestoreFeed(asset, cfg)
	}
	c.oracle.RestoreParams(snap.OracleParams)
	for _, a := range snap.Assets {
		c.vault.Restore(a.Token, a.Asset)
	}
	c.vault.RestoreFeeParams(snap.FeeParams)
	for _, f := range snap.Funding {
		c.funding.Restore(f.Asset, f.State)
	}
	c.funding.RestoreParams(snap.FundingParams)
	for _, s := range snap.Shorts {
		c.shorts.Restore(s.Index, s.Short)
	}
	for _, p := range snap.Positions {
		c.positions.Ledger.Restore(p.Key, p.Position)
	}
	c.positions.RestoreParams(snap.PositionParams)
	for _, r := range snap.Routers {
		c.positions.Access.SetRouter(r.Account, r.Router, true)
	}
	for _, l := range snap.Liquidators {
		c.positions.Access.SetLiquidator(l, true)
	}
	for account, at := range snap.LastAdded {
		c.liquidity.Restore(account, at)
	}
	c.liquidity.RestoreCooldown(snap.Cooldown)

	for partition, next := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, next)
	}
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)

	if err := c.validator.ValidateSupply(); err != nil {
		return fmt.Errorf("restored ledger: %w", err)
	}
	return nil
}
