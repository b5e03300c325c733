package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omxlabs/amx-sub001/internal/errs"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
)

const now = int64(1_700_000_000)

func newOracle(t *testing.T) (*Oracle, *QuoteStore) {
	t.Helper()
	store := NewQuoteStore()
	o := New(store, DefaultParams())
	require.NoError(t, o.SetPriceFeed("ETH", "0xeth"))
	require.NoError(t, o.SetPriceFeed("USDC", "0xusdc"))
	require.NoError(t, o.SetStrictStable("USDC", true))
	// 2000.00000000 USD, exponent -8
	store.Update("0xeth", Quote{Price: 200_000_000_000, Confidence: 1000, Exponent: -8, PublishTime: now})
	store.Update("0xusdc", Quote{Price: 100_000_000, Confidence: 10, Exponent: -8, PublishTime: now})
	return o, store
}

func TestNormalize(t *testing.T) {
	v, err := Normalize(Quote{Price: 123, Exponent: -2})
	require.NoError(t, err)
	want, _ := fpmath.MulDiv(fpmath.USD(123), fpmath.U64(1), fpmath.U64(100))
	assert.Equal(t, want, v)

	v, err = Normalize(Quote{Price: 5, Exponent: 3})
	require.NoError(t, err)
	assert.Equal(t, fpmath.USD(5000), v)

	_, err = Normalize(Quote{Price: 1, Exponent: 50})
	assert.ErrorIs(t, err, errs.ErrPriceOverflow)

	_, err = Normalize(Quote{Price: 1, Exponent: -31})
	assert.ErrorIs(t, err, errs.ErrInvalidPrice)
}

func TestGetPrice_SpreadAndAdjustment(t *testing.T) {
	o, _ := newOracle(t)

	p, err := o.GetPrice("ETH", true, now)
	require.NoError(t, err)
	assert.Equal(t, fpmath.USD(2000), p)

	require.NoError(t, o.SetSpreadBasisPoints("ETH", 50))
	maxP, err := o.GetMaxPrice("ETH", now)
	require.NoError(t, err)
	minP, err := o.GetMinPrice("ETH", now)
	require.NoError(t, err)
	assert.Equal(t, fpmath.USD(2010), maxP)
	assert.Equal(t, fpmath.USD(1990), minP)

	require.NoError(t, o.SetSpreadBasisPoints("ETH", 0))
	require.NoError(t, o.SetAdjustment("ETH", false, 20, now))
	p, err = o.GetPrice("ETH", true, now)
	require.NoError(t, err)
	assert.Equal(t, fpmath.USD(1996), p)
}

func TestSetters_Caps(t *testing.T) {
	o, _ := newOracle(t)

	assert.ErrorIs(t, o.SetSpreadBasisPoints("ETH", 51), errs.ErrInvalidSpreadBasisPoints)
	assert.ErrorIs(t, o.SetAdjustment("ETH", true, 21, now), errs.ErrInvalidAdjustmentBps)

	require.NoError(t, o.SetAdjustment("ETH", true, 10, now))
	assert.ErrorIs(t, o.SetAdjustment("ETH", true, 5, now+10), errs.ErrInvalidAdjustmentBps,
		"second adjustment within the interval")
	assert.NoError(t, o.SetAdjustment("ETH", true, 5, now+o.Params().AdjustmentInterval))
}

func TestGetPrice_Staleness(t *testing.T) {
	o, _ := newOracle(t)

	_, err := o.GetPrice("ETH", true, now+60)
	assert.NoError(t, err)
	_, err = o.GetPrice("ETH", true, now+61)
	assert.ErrorIs(t, err, errs.ErrPriceTooOld)

	// a quote from the future is not fresh
	_, err = o.GetPrice("ETH", true, now-1)
	assert.ErrorIs(t, err, errs.ErrInvalidPrice)
	_, err = o.GetPrimaryPrice("ETH", now-3600)
	assert.ErrorIs(t, err, errs.ErrInvalidPrice)
}

func TestGetPrice_InvalidQuotes(t *testing.T) {
	o, store := newOracle(t)

	store.Update("0xeth", Quote{Price: 0, Exponent: -8, PublishTime: now + 1})
	_, err := o.GetPrice("ETH", true, now+1)
	assert.ErrorIs(t, err, errs.ErrInvalidPrice)

	// confidence of 2% against a 1% bound
	store.Update("0xeth", Quote{Price: 100_000, Confidence: 2_000, Exponent: -2, PublishTime: now + 2})
	_, err = o.GetPrice("ETH", true, now+2)
	assert.ErrorIs(t, err, errs.ErrInvalidPrice)

	_, err = o.GetPrice("BTC", true, now)
	assert.ErrorIs(t, err, errs.ErrInvalidPriceFeed)

	require.NoError(t, o.SetPriceFeed("BTC", "0xbtc"))
	_, err = o.GetPrice("BTC", true, now)
	assert.ErrorIs(t, err, errs.ErrCouldNotFetchPrice)
}

func TestGetPrice_StrictStable(t *testing.T) {
	o, store := newOracle(t)

	// 0.995 is within the 1 cent deviation
	store.Update("0xusdc", Quote{Price: 99_500_000, Exponent: -8, PublishTime: now})
	p, err := o.GetPrice("USDC", false, now)
	require.NoError(t, err)
	assert.Equal(t, fpmath.OneUSD, p)

	// 0.98 is outside: the primary quote governs, no spread
	require.NoError(t, o.SetSpreadBasisPoints("USDC", 50))
	store.Update("0xusdc", Quote{Price: 98_000_000, Exponent: -8, PublishTime: now + 1})
	p, err = o.GetPrice("USDC", true, now+1)
	require.NoError(t, err)
	want, _ := fpmath.FromDecimal("0.98", fpmath.PriceDecimals)
	assert.Equal(t, want, p)
}

func TestQuoteStore_IgnoresOlderQuotes(t *testing.T) {
	s := NewQuoteStore()
	assert.True(t, s.Update("f", Quote{Price: 2, PublishTime: 10}))
	assert.False(t, s.Update("f", Quote{Price: 1, PublishTime: 9}))
	q, err := s.Query("f")
	require.NoError(t, err)
	assert.Equal(t, int64(2), q.Price)
}

func TestOracle_RollbackRestoresConfig(t *testing.T) {
	o, _ := newOracle(t)
	o.Begin()
	require.NoError(t, o.SetSpreadBasisPoints("ETH", 30))
	o.Rollback()
	cfg, ok := o.Feed("ETH")
	require.True(t, ok)
	assert.Zero(t, cfg.SpreadBps)
}

func TestPythStream_ForwardsQuotes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub pythSubscribe
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"price_update","price_feed":{"id":"ABCD","price":{"price":"250000000000","conf":"12","expo":-8,"publish_time":1700000000}}}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	got := make(chan Quote, 1)
	var gotID string
	stream := NewPythStream("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"abcd"},
		func(feedID string, q Quote) {
			gotID = feedID
			got <- q
		}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stream.Run(ctx)

	select {
	case q := <-got:
		assert.Equal(t, "0xabcd", gotID)
		assert.Equal(t, int64(250_000_000_000), q.Price)
		assert.Equal(t, int32(-8), q.Exponent)
	case <-time.After(3 * time.Second):
		t.Fatal("no quote received")
	}
}

func TestDecodeUpdate(t *testing.T) {
	id, q, err := DecodeUpdate([]byte(`{"type":"price_update","price_feed":{"id":"0xEF","price":{"price":"100","conf":"1","expo":-2,"publish_time":5}}}`))
	require.NoError(t, err)
	assert.Equal(t, "0xef", id)
	assert.Equal(t, Quote{Price: 100, Confidence: 1, Exponent: -2, PublishTime: 5}, q)

	_, _, err = DecodeUpdate([]byte(`{"type":"heartbeat"}`))
	assert.Error(t, err)
}
