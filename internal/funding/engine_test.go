package funding

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omxlabs/amx-sub001/internal/errs"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
)

type fakePools struct {
	pool, reserved uint256.Int
	stable         bool
}

func (f *fakePools) PoolState(string) (uint256.Int, uint256.Int, bool, error) {
	return f.pool, f.reserved, f.stable, nil
}

const hour = int64(3600)

func newEngine(pools *fakePools) *Engine {
	return NewEngine(pools, Params{Interval: hour, RateFactor: 100, StableRateFactor: 40})
}

func TestFirstUpdateAlignsOnly(t *testing.T) {
	e := newEngine(&fakePools{pool: fpmath.U64(1_000_000), reserved: fpmath.U64(500_000)})

	require.NoError(t, e.UpdateCumulativeFundingRate("ETH", 10*hour+123))
	st := e.State("ETH")
	assert.Equal(t, 10*hour, st.LastFundingTime)
	assert.True(t, st.CumulativeRate.IsZero())
}

// pool 1,000,000, reserved 500,000, factor 100, one interval => +50
func TestOneIntervalAccrual(t *testing.T) {
	e := newEngine(&fakePools{pool: fpmath.U64(1_000_000), reserved: fpmath.U64(500_000)})

	require.NoError(t, e.UpdateCumulativeFundingRate("ETH", 10*hour))
	require.NoError(t, e.UpdateCumulativeFundingRate("ETH", 11*hour+5))

	assert.Equal(t, fpmath.U64(50), e.CumulativeFundingRate("ETH"))
	assert.Equal(t, 11*hour, e.State("ETH").LastFundingTime)
	require.Len(t, e.Accruals(), 1)
	assert.Equal(t, uint64(1), e.Accruals()[0].Intervals)
}

func TestUpdateIsIdempotentWithinInterval(t *testing.T) {
	e := newEngine(&fakePools{pool: fpmath.U64(1_000_000), reserved: fpmath.U64(500_000)})

	require.NoError(t, e.UpdateCumulativeFundingRate("ETH", 10*hour))
	require.NoError(t, e.UpdateCumulativeFundingRate("ETH", 12*hour))
	before := e.State("ETH")
	require.NoError(t, e.UpdateCumulativeFundingRate("ETH", 12*hour+hour-1))
	assert.Equal(t, before, e.State("ETH"))
	assert.Equal(t, fpmath.U64(100), before.CumulativeRate)
}

func TestZeroPoolAdvancesMarker(t *testing.T) {
	e := newEngine(&fakePools{})

	require.NoError(t, e.UpdateCumulativeFundingRate("ETH", hour))
	require.NoError(t, e.UpdateCumulativeFundingRate("ETH", 4*hour))
	st := e.State("ETH")
	assert.True(t, st.CumulativeRate.IsZero())
	assert.Equal(t, 4*hour, st.LastFundingTime)
}

func TestStableFactor(t *testing.T) {
	e := newEngine(&fakePools{pool: fpmath.U64(1_000), reserved: fpmath.U64(500), stable: true})

	require.NoError(t, e.UpdateCumulativeFundingRate("USDC", hour))
	next, err := e.GetNextFundingRate("USDC", 2*hour)
	require.NoError(t, err)
	assert.Equal(t, fpmath.U64(20), next)
	assert.Equal(t, uint256.Int{}, e.CumulativeFundingRate("USDC"), "preview must not mutate")
}

func TestRollbackRestoresTimestamp(t *testing.T) {
	e := newEngine(&fakePools{pool: fpmath.U64(10), reserved: fpmath.U64(5)})
	require.NoError(t, e.UpdateCumulativeFundingRate("ETH", hour))

	e.Begin()
	require.NoError(t, e.UpdateCumulativeFundingRate("ETH", 3*hour))
	e.Rollback()

	assert.Equal(t, hour, e.State("ETH").LastFundingTime)
	assert.Equal(t, uint256.Int{}, e.CumulativeFundingRate("ETH"))
	assert.Empty(t, e.Accruals())
}

func TestSetParamsValidation(t *testing.T) {
	e := newEngine(&fakePools{})
	assert.ErrorIs(t, e.SetParams(Params{Interval: 0}), errs.ErrInvalidParameter)
	assert.ErrorIs(t, e.SetParams(Params{Interval: hour, RateFactor: MaxFundingRateFactor + 1}), errs.ErrInvalidParameter)
	assert.NoError(t, e.SetParams(Params{Interval: 2 * hour, RateFactor: 1}))
}
