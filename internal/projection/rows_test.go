package projection_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omxlabs/amx-sub001/internal/core"
	"github.com/omxlabs/amx-sub001/internal/event"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
	"github.com/omxlabs/amx-sub001/internal/observability"
	"github.com/omxlabs/amx-sub001/internal/projection"
)

const t0 = int64(1_700_000_000)

type pipeline struct {
	t    *testing.T
	core *core.DeterministicCore
	out  chan core.CoreOutput
	seq  map[string]int64
}

func newPipeline(t *testing.T) *pipeline {
	out := make(chan core.CoreOutput, 256)
	c := core.NewDeterministicCore(core.DefaultParams(), nil, out, nil,
		observability.NewMetrics(prometheus.NewRegistry()), zerolog.Nop())
	return &pipeline{t: t, core: c, out: out, seq: map[string]int64{}}
}

func (p *pipeline) header(caller string) event.Header {
	s := p.seq[caller]
	p.seq[caller] = s + 1
	return event.Header{CommandID: uuid.New(), Caller: caller, Sequence: s, Timestamp: t0}
}

// apply runs evt and returns the rows it projects.
func (p *pipeline) apply(evt event.Event) projection.Rows {
	p.t.Helper()
	require.NoError(p.t, p.core.ProcessEvent(evt))
	return projection.RowsFromOutput(<-p.out)
}

func ether(n uint64) uint256.Int {
	v, _ := fpmath.Mul(fpmath.U64(n), fpmath.Pow10(18))
	return v
}

func (p *pipeline) bootstrap() {
	p.apply(&event.Initialize{Header: p.header("gov"), Gov: "gov"})
	p.apply(&event.SetAssetConfig{Header: p.header("gov"), Token: "ETH", Decimals: 18, Weight: 10_000, IsShortable: true})
	p.apply(&event.SetPriceFeed{Header: p.header("gov"), Asset: "ETH", FeedID: "eth-usd"})
	p.apply(&event.PriceQuote{FeedID: "eth-usd", Price: 2000_00000000, Exponent: -8, PublishTime: t0})
	p.apply(&event.TokenDeposit{Header: p.header("gov"), Account: "alice", Token: "ETH", Amount: ether(10)})
}

func TestRowsFromPriceQuote(t *testing.T) {
	p := newPipeline(t)
	p.apply(&event.Initialize{Header: p.header("gov"), Gov: "gov"})

	rows := p.apply(&event.PriceQuote{FeedID: "eth-usd", Price: 2000_00000000, Confidence: 7, Exponent: -8, PublishTime: t0})
	require.Len(t, rows.Prices, 1)
	assert.Equal(t, "PriceQuote", rows.EventType)
	assert.Equal(t, projection.PriceRow{
		FeedID: "eth-usd", Price: 2000_00000000, Confidence: 7, Exponent: -8, PublishTime: t0,
	}, rows.Prices[0])
	assert.Empty(t, rows.Positions)
}

func TestRowsFromLiquidityAndPosition(t *testing.T) {
	p := newPipeline(t)
	p.bootstrap()

	rows := p.apply(&event.AddLiquidity{Header: p.header("alice"), Account: "alice", Token: "ETH", Amount: ether(5)})
	require.Len(t, rows.Assets, 1)
	assert.Equal(t, "ETH", rows.Assets[0].Token)
	assert.NotEqual(t, "0", rows.Assets[0].PoolAmount)
	require.NotNil(t, rows.Aum)
	assert.NotEqual(t, "0", rows.Aum.ShareSupply)
	assert.Equal(t, t0, rows.Aum.At)

	rows = p.apply(&event.IncreasePosition{
		Header:           p.header("alice"),
		Account:          "alice",
		CollateralToken:  "ETH",
		IndexToken:       "ETH",
		IsLong:           true,
		CollateralAmount: ether(1),
		SizeDelta:        fpmath.USD(4000),
	})
	require.Len(t, rows.Positions, 1)
	pos := rows.Positions[0]
	assert.Equal(t, "alice", pos.Account)
	assert.True(t, pos.IsLong)
	assert.True(t, pos.IsOpen)
	size := fpmath.USD(4000)
	assert.Equal(t, size.Dec(), pos.Size)
	assert.Equal(t, "0", pos.RealisedPnl)
	assert.False(t, rows.Empty())
}

func TestRowsWithoutChanges(t *testing.T) {
	rows := projection.RowsFromOutput(core.CoreOutput{Envelope: &event.EventEnvelope{Sequence: 3, EventType: event.EventTypeApproveRouter}})
	assert.True(t, rows.Empty())
	assert.Equal(t, int64(3), rows.Sequence)
}
