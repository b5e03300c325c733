package core_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omxlabs/amx-sub001/internal/core"
	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/event"
	"github.com/omxlabs/amx-sub001/internal/ledger"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
	"github.com/omxlabs/amx-sub001/internal/observability"
	"github.com/omxlabs/amx-sub001/internal/position"
)

const (
	t0    = int64(1_700_000_000)
	gov   = "gov"
	alice = "alice"
	bob   = "bob"
)

// --- Test helpers ---

type harness struct {
	t         *testing.T
	core      *core.DeterministicCore
	persist   chan core.CoreOutput
	project   chan core.CoreOutput
	callerSeq map[string]int64
	now       int64
}

// newHarness creates a core with buffered channels, no DB checker and a
// private metrics registry.
func newHarness(t *testing.T) *harness {
	t.Helper()
	persist := make(chan core.CoreOutput, 1024)
	project := make(chan core.CoreOutput, 1024)
	c := core.NewDeterministicCore(core.DefaultParams(), persist, project, nil,
		observability.NewMetrics(prometheus.NewRegistry()), zerolog.Nop())
	return &harness{t: t, core: c, persist: persist, project: project, callerSeq: map[string]int64{}, now: t0}
}

// header stamps the next source sequence for caller.
func (h *harness) header(caller string) event.Header {
	seq := h.callerSeq[caller]
	h.callerSeq[caller] = seq + 1
	return event.Header{CommandID: uuid.New(), Caller: caller, Sequence: seq, Timestamp: h.now}
}

func (h *harness) apply(evt event.Event) {
	h.t.Helper()
	require.NoError(h.t, h.core.ProcessEvent(evt))
}

func (h *harness) quote(feed string, dollars int64) *event.PriceQuote {
	return &event.PriceQuote{FeedID: feed, Price: dollars * 100_000_000, Exponent: -8, PublishTime: h.now}
}

// bootstrap initializes gov, lists ETH and USDC with feeds and prices, and
// funds alice.
func (h *harness) bootstrap() {
	h.t.Helper()
	h.apply(&event.Initialize{Header: h.header(gov), Gov: gov})
	h.apply(&event.SetAssetConfig{Header: h.header(gov), Token: "ETH", Decimals: 18, Weight: 10_000, IsShortable: true})
	h.apply(&event.SetAssetConfig{Header: h.header(gov), Token: "USDC", Decimals: 6, Weight: 10_000, IsStable: true})
	h.apply(&event.SetPriceFeed{Header: h.header(gov), Asset: "ETH", FeedID: "eth-usd"})
	h.apply(&event.SetPriceFeed{Header: h.header(gov), Asset: "USDC", FeedID: "usdc-usd", StrictStable: true})
	h.apply(h.quote("eth-usd", 2000))
	h.apply(h.quote("usdc-usd", 1))
	h.apply(&event.TokenDeposit{Header: h.header(gov), Account: alice, Token: "ETH", Amount: ether(10)})
	h.apply(&event.TokenDeposit{Header: h.header(gov), Account: alice, Token: "USDC", Amount: usdc(100_000)})
}

func (h *harness) read(fn func(v *core.View)) {
	h.t.Helper()
	require.NoError(h.t, h.core.Read(func(v *core.View) error {
		fn(v)
		return nil
	}))
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func ether(n uint64) uint256.Int {
	v, _ := fpmath.Mul(fpmath.U64(n), fpmath.Pow10(18))
	return v
}

func usdc(n uint64) uint256.Int {
	v, _ := fpmath.Mul(fpmath.U64(n), fpmath.Pow10(6))
	return v
}

// ============================================================================
// Test: Lifecycle and governance
// ============================================================================

func TestCommandsBeforeInitializeAreRejected(t *testing.T) {
	h := newHarness(t)

	err := h.core.ProcessEvent(&event.SetAssetConfig{Header: h.header(gov), Token: "ETH", Decimals: 18})
	require.ErrorIs(t, err, errs.ErrNotInitialized)
	assert.Equal(t, int64(0), h.core.GetSequence())
	assert.Empty(t, drainOutputs(h.persist))

	// quotes are accepted before governance exists
	h.apply(h.quote("eth-usd", 2000))
	assert.Equal(t, int64(1), h.core.GetSequence())
}

func TestInitializeOnce(t *testing.T) {
	h := newHarness(t)
	h.apply(&event.Initialize{Header: h.header(gov), Gov: gov})

	err := h.core.ProcessEvent(&event.Initialize{Header: h.header(gov), Gov: bob})
	require.ErrorIs(t, err, errs.ErrAlreadyInitialized)
	h.read(func(v *core.View) { assert.Equal(t, gov, v.Gov()) })
}

func TestGovernanceCommandsRequireGov(t *testing.T) {
	h := newHarness(t)
	h.apply(&event.Initialize{Header: h.header(gov), Gov: gov})

	err := h.core.ProcessEvent(&event.SetAssetConfig{Header: h.header(bob), Token: "ETH", Decimals: 18})
	require.ErrorIs(t, err, errs.ErrForbidden)

	err = h.core.ProcessEvent(&event.TokenDeposit{Header: h.header(alice), Account: alice, Token: "ETH", Amount: ether(1)})
	require.ErrorIs(t, err, errs.ErrForbidden)
}

func TestSetOracleParams(t *testing.T) {
	h := newHarness(t)
	h.apply(&event.Initialize{Header: h.header(gov), Gov: gov})
	before := h.core.GetStateHash()

	err := h.core.ProcessEvent(&event.SetOracleParams{Header: h.header(gov), MaxPriceAge: 60, MaxConfidenceBps: 20_000})
	require.ErrorIs(t, err, errs.ErrInvalidParameter)
	assert.Equal(t, before, h.core.GetStateHash())
	h.callerSeq[gov]-- // rejected, so the sequence is still free

	err = h.core.ProcessEvent(&event.SetOracleParams{Header: h.header(bob), MaxPriceAge: 60})
	require.ErrorIs(t, err, errs.ErrForbidden)

	h.apply(&event.SetOracleParams{Header: h.header(gov), MaxPriceAge: 60, MaxConfidenceBps: 50})
	assert.NotEqual(t, before, h.core.GetStateHash())
}

func TestShareTokenCannotBeListed(t *testing.T) {
	h := newHarness(t)
	h.apply(&event.Initialize{Header: h.header(gov), Gov: gov})

	err := h.core.ProcessEvent(&event.SetAssetConfig{Header: h.header(gov), Token: ledger.ShareAsset, Decimals: 18})
	require.ErrorIs(t, err, errs.ErrInvalidParameter)
}

// ============================================================================
// Test: Deposit and position flow
// ============================================================================

func TestTokenDepositMintsUserBalance(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()

	outputs := drainOutputs(h.persist)
	last := outputs[len(outputs)-1]
	require.NotNil(t, last.Batch)
	require.Len(t, last.Batch.Journals, 1)
	assert.Equal(t, ledger.JournalTypeDeposit, last.Batch.Journals[0].JournalType)

	res, ok := last.Result.(core.TransferResult)
	require.True(t, ok)
	assert.Equal(t, usdc(100_000), res.Balance)

	h.read(func(v *core.View) {
		assert.Equal(t, ether(10), v.Balance(ledger.UserAccount(alice, "ETH")))
	})
}

func TestTokenDepositRejectsUnlistedToken(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()

	err := h.core.ProcessEvent(&event.TokenDeposit{Header: h.header(gov), Account: alice, Token: "DOGE", Amount: ether(1)})
	require.ErrorIs(t, err, errs.ErrTokenNotWhitelisted)
}

func TestAddLiquidityAndOpenLong(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.now += 5

	h.apply(&event.AddLiquidity{Header: h.header(alice), Account: alice, Token: "ETH", Amount: ether(5)})
	h.apply(&event.IncreasePosition{
		Header:           h.header(alice),
		Account:          alice,
		CollateralToken:  "ETH",
		IndexToken:       "ETH",
		IsLong:           true,
		CollateralAmount: ether(1),
		SizeDelta:        fpmath.USD(4000),
	})

	outputs := drainOutputs(h.persist)
	last := outputs[len(outputs)-1]
	res, ok := last.Result.(position.IncreaseResult)
	require.True(t, ok)
	assert.Equal(t, fpmath.USD(4), res.FeeUsd) // 10 bps of 4,000

	require.NotNil(t, last.Changes)
	require.Len(t, last.Changes.Positions, 1)
	assert.NotNil(t, last.Changes.Aum)

	key := position.Key{Account: alice, CollateralToken: "ETH", IndexToken: "ETH", IsLong: true}
	h.read(func(v *core.View) {
		p, open := v.Position(key)
		require.True(t, open)
		assert.Equal(t, fpmath.USD(4000), p.Size)
		assert.Equal(t, fpmath.USD(1996), p.Collateral)
		assert.Equal(t, fpmath.USD(2000), p.AveragePrice)
		assert.Equal(t, ether(2), p.ReserveAmount)

		asset, err := v.Asset("ETH")
		require.NoError(t, err)
		assert.Equal(t, ether(2), asset.ReservedAmount)
		assert.True(t, asset.ReservedAmount.Lt(&asset.PoolAmount))

		assert.Equal(t, ether(4), v.Balance(ledger.UserAccount(alice, "ETH")))
	})
}

func TestSwapRespectsMinOut(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.apply(&event.AddLiquidity{Header: h.header(alice), Account: alice, Token: "ETH", Amount: ether(5)})
	hashBefore := h.core.GetStateHash()

	err := h.core.ProcessEvent(&event.Swap{
		Header:   h.header(alice),
		Account:  alice,
		TokenIn:  "USDC",
		TokenOut: "ETH",
		AmountIn: usdc(2000),
		MinOut:   ether(1), // fees make this unreachable
	})
	require.ErrorIs(t, err, errs.ErrInsufficientOutput)
	assert.Equal(t, hashBefore, h.core.GetStateHash())
	h.read(func(v *core.View) {
		assert.Equal(t, usdc(100_000), v.Balance(ledger.UserAccount(alice, "USDC")))
	})
}

// ============================================================================
// Test: Idempotency and ordering
// ============================================================================

func TestDuplicateCommandIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	drainOutputs(h.persist)

	deposit := &event.TokenDeposit{Header: h.header(gov), Account: bob, Token: "ETH", Amount: ether(1)}
	h.apply(deposit)
	seq := h.core.GetSequence()

	h.apply(deposit)
	assert.Equal(t, seq, h.core.GetSequence())
	assert.Len(t, drainOutputs(h.persist), 1)
	h.read(func(v *core.View) {
		assert.Equal(t, ether(1), v.Balance(ledger.UserAccount(bob, "ETH")))
	})
}

func TestSourceSequenceGapAndReplay(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()

	gap := h.header(gov)
	gap.Sequence += 5
	err := h.core.ProcessEvent(&event.SetLiquidator{Header: gap, Liquidator: bob, Active: true})
	require.ErrorIs(t, err, errs.ErrSequenceGap)

	old := h.header(gov)
	old.Sequence = 0
	err = h.core.ProcessEvent(&event.SetLiquidator{Header: old, Liquidator: bob, Active: true})
	require.ErrorIs(t, err, errs.ErrOutOfOrder)
}

func TestRejectedCommandDoesNotConsumeSourceSequence(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()

	hdr := h.header(alice)
	err := h.core.ProcessEvent(&event.TokenWithdrawal{Header: hdr, Account: alice, Token: "ETH", Amount: ether(11)})
	require.ErrorIs(t, err, errs.ErrInsufficientBalance)

	// the same source sequence is still expected
	retry := hdr
	retry.CommandID = uuid.New()
	h.apply(&event.TokenWithdrawal{Header: retry, Account: alice, Token: "ETH", Amount: ether(1)})
}

func TestStaleQuoteIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	seq := h.core.GetSequence()

	stale := h.quote("eth-usd", 1000)
	stale.PublishTime = h.now - 10
	require.NoError(t, h.core.ProcessEvent(stale))
	assert.Equal(t, seq, h.core.GetSequence())

	h.read(func(v *core.View) {
		p, err := v.Price("ETH", true)
		require.NoError(t, err)
		assert.Equal(t, fpmath.USD(2000), p)
	})
}

// ============================================================================
// Test: Hash chain and rollback
// ============================================================================

func TestHashChainLinks(t *testing.T) {
	h := newHarness(t)
	genesis := h.core.GetStateHash()
	h.bootstrap()

	outputs := drainOutputs(h.persist)
	require.NotEmpty(t, outputs)
	assert.Equal(t, genesis, outputs[0].Envelope.PrevHash)
	for i := 1; i < len(outputs); i++ {
		assert.Equal(t, int64(i), outputs[i].Envelope.Sequence)
		assert.Equal(t, outputs[i-1].Envelope.StateHash, outputs[i].Envelope.PrevHash)
		assert.NotEqual(t, outputs[i].Envelope.PrevHash, outputs[i].Envelope.StateHash)
	}
	assert.Equal(t, outputs[len(outputs)-1].Envelope.StateHash, h.core.GetStateHash())
}

func TestIdenticalHistoriesHashIdentically(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)
	initID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	configID := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	for _, h := range []*harness{a, b} {
		h.apply(&event.Initialize{Header: event.Header{CommandID: initID, Caller: gov, Timestamp: t0}, Gov: gov})
		h.apply(&event.SetAssetConfig{Header: event.Header{CommandID: configID, Caller: gov, Sequence: 1, Timestamp: t0}, Token: "ETH", Decimals: 18})
	}
	assert.NotEqual(t, core.GenesisHash(), a.core.GetStateHash())
	assert.Equal(t, a.core.GetStateHash(), b.core.GetStateHash())
}

func TestFailedCommandRollsBackEverything(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	drainOutputs(h.persist)
	hashBefore := h.core.GetStateHash()
	seqBefore := h.core.GetSequence()

	// collateral moves into custody before the engine rejects the leverage
	err := h.core.ProcessEvent(&event.IncreasePosition{
		Header:           h.header(alice),
		Account:          alice,
		CollateralToken:  "ETH",
		IndexToken:       "ETH",
		IsLong:           true,
		CollateralAmount: ether(1),
		SizeDelta:        fpmath.USD(1_000_000),
	})
	require.Error(t, err)

	assert.Equal(t, hashBefore, h.core.GetStateHash())
	assert.Equal(t, seqBefore, h.core.GetSequence())
	assert.Empty(t, drainOutputs(h.persist))
	h.read(func(v *core.View) {
		assert.Equal(t, ether(10), v.Balance(ledger.UserAccount(alice, "ETH")))
		_, open := v.Position(position.Key{Account: alice, CollateralToken: "ETH", IndexToken: "ETH", IsLong: true})
		assert.False(t, open)
	})
}

func TestViewCannotReenter(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()

	var inner error
	h.read(func(v *core.View) {
		inner = v.Process(&event.TokenDeposit{Header: h.header(gov), Account: bob, Token: "ETH", Amount: ether(1)})
	})
	require.ErrorIs(t, inner, errs.ErrReentrantCall)
}

// ============================================================================
// Test: Snapshot and restore
// ============================================================================

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.apply(&event.AddLiquidity{Header: h.header(alice), Account: alice, Token: "ETH", Amount: ether(5)})
	h.apply(&event.IncreasePosition{
		Header:           h.header(alice),
		Account:          alice,
		CollateralToken:  "ETH",
		IndexToken:       "ETH",
		IsLong:           true,
		CollateralAmount: ether(1),
		SizeDelta:        fpmath.USD(4000),
	})

	snap := h.core.CreateSnapshotState()
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded core.SnapshotState
	require.NoError(t, json.Unmarshal(raw, &decoded))

	restored := newHarness(t)
	require.NoError(t, restored.core.RestoreFromSnapshot(&decoded))
	assert.Equal(t, h.core.GetSequence(), restored.core.GetSequence())
	assert.Equal(t, h.core.GetStateHash(), restored.core.GetStateHash())

	// both continue identically
	restored.callerSeq = h.callerSeq
	restored.now = h.now
	next := &event.TokenDeposit{Header: h.header(gov), Account: bob, Token: "USDC", Amount: usdc(50)}
	h.apply(next)
	restored.apply(next)
	assert.Equal(t, h.core.GetStateHash(), restored.core.GetStateHash())

	// restored duplicates are still recognised
	seq := restored.core.GetSequence()
	restored.apply(next)
	assert.Equal(t, seq, restored.core.GetSequence())
}

func TestRestoreIntoUsedCoreFails(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	snap := h.core.CreateSnapshotState()
	require.Error(t, h.core.RestoreFromSnapshot(snap))
}

func TestReplayReproducesLoggedHashes(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.apply(&event.AddLiquidity{Header: h.header(alice), Account: alice, Token: "ETH", Amount: ether(5)})
	h.apply(&event.IncreasePosition{
		Header:           h.header(alice),
		Account:          alice,
		CollateralToken:  "ETH",
		IndexToken:       "ETH",
		IsLong:           true,
		CollateralAmount: ether(1),
		SizeDelta:        fpmath.USD(4000),
	})
	logged := drainOutputs(h.persist)
	require.NotEmpty(t, logged)

	replayed := newHarness(t)
	for _, out := range logged {
		env := out.Envelope
		evt, err := event.Decode(env.EventType, env.Payload)
		require.NoError(t, err)
		require.NoError(t, replayed.core.Replay(evt, env.Sequence, env.StateHash))
	}
	assert.Equal(t, h.core.GetStateHash(), replayed.core.GetStateHash())
	assert.Empty(t, drainOutputs(replayed.persist), "replayed commands are not logged again")
	assert.Len(t, drainOutputs(replayed.project), len(logged))

	// a tampered hash is caught
	tampered := newHarness(t)
	env := logged[0].Envelope
	evt, err := event.Decode(env.EventType, env.Payload)
	require.NoError(t, err)
	require.Error(t, tampered.core.Replay(evt, env.Sequence, [32]byte{0xff}))

	// so is a gap
	fresh := newHarness(t)
	require.Error(t, fresh.core.Replay(evt, 5, env.StateHash))
}

// ============================================================================
// Test: Sequencer
// ============================================================================

func TestSequencerSerializesSubmissionsAndReads(t *testing.T) {
	h := newHarness(t)
	seqr := core.NewSequencer(h.core, 16)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- seqr.Run(ctx) }()

	require.NoError(t, seqr.Submit(ctx, &event.Initialize{Header: h.header(gov), Gov: gov}))
	err := seqr.Submit(ctx, &event.Initialize{Header: h.header(gov), Gov: bob})
	require.ErrorIs(t, err, errs.ErrAlreadyInitialized)

	var got string
	require.NoError(t, seqr.Read(ctx, func(v *core.View) error {
		got = v.Gov()
		return nil
	}))
	assert.Equal(t, gov, got)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.ErrorIs(t, seqr.Submit(context.Background(), h.quote("eth-usd", 1)), core.ErrSequencerStopped)
}
