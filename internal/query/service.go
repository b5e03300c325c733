package query

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/core"
	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/ledger"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
	"github.com/omxlabs/amx-sub001/internal/observability"
	"github.com/omxlabs/amx-sub001/internal/position"
	"github.com/omxlabs/amx-sub001/internal/projection"
)

// Reader runs a read against the live core; core.Sequencer implements it.
type Reader interface {
	Read(ctx context.Context, fn func(*core.View) error) error
}

// QueryService answers reads. Live state comes from the core through the
// sequencer so every response is consistent with one sequence; history
// comes from Postgres.
type QueryService struct {
	reader  Reader
	db      *sql.DB
	metrics *observability.Metrics
}

// NewQueryService creates the service. db may be nil, in which case the
// history endpoints report an error.
func NewQueryService(reader Reader, db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{reader: reader, db: db, metrics: metrics}
}

// ErrNoHistoryStore is returned by history reads on a service without a database.
var ErrNoHistoryStore = errors.New("history store not configured")

func (qs *QueryService) read(ctx context.Context, endpoint string, fn func(*core.View) error) error {
	start := time.Now()
	err := qs.reader.Read(ctx, fn)
	qs.observe(endpoint, start, err)
	return err
}

func (qs *QueryService) observe(endpoint string, start time.Time, err error) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		qs.metrics.QueryErrors.WithLabelValues(endpoint, errs.Code(err)).Inc()
	}
}

func freshness(v *core.View) Freshness {
	return Freshness{
		AsOfSequence:  v.Sequence() - 1,
		AsOfTimestamp: v.Now(),
		StateHash:     fmt.Sprintf("%x", v.StateHash()),
	}
}

func usd(v uint256.Int) string { return fpmath.FormatUSD(v) }

func rate(v uint256.Int) string { return fpmath.ToDecimal(v, 6).String() }

// GetPrice returns the max and min oracle price of asset.
func (qs *QueryService) GetPrice(ctx context.Context, asset string) (*PriceResponse, error) {
	var resp *PriceResponse
	err := qs.read(ctx, "price", func(v *core.View) error {
		hi, err := v.Price(asset, true)
		if err != nil {
			return err
		}
		lo, err := v.Price(asset, false)
		if err != nil {
			return err
		}
		resp = &PriceResponse{Asset: asset, Max: usd(hi), Min: usd(lo), Freshness: freshness(v)}
		return nil
	})
	return resp, err
}

// GetAum values the pool and its shares.
func (qs *QueryService) GetAum(ctx context.Context) (*AumResponse, error) {
	var resp *AumResponse
	err := qs.read(ctx, "aum", func(v *core.View) error {
		hi, err := v.Aum(true)
		if err != nil {
			return err
		}
		lo, err := v.Aum(false)
		if err != nil {
			return err
		}
		spHi, err := v.SharePrice(true)
		if err != nil {
			return err
		}
		spLo, err := v.SharePrice(false)
		if err != nil {
			return err
		}
		resp = &AumResponse{
			AumMax:        usd(hi),
			AumMin:        usd(lo),
			ShareSupply:   fpmath.ToDecimal(v.ShareSupply(), fpmath.ShareDecimals).String(),
			SharePriceMax: usd(spHi),
			SharePriceMin: usd(spLo),
			Freshness:     freshness(v),
		}
		return nil
	})
	return resp, err
}

// GetFunding returns the funding state of asset.
func (qs *QueryService) GetFunding(ctx context.Context, asset string) (*FundingResponse, error) {
	var resp *FundingResponse
	err := qs.read(ctx, "funding", func(v *core.View) error {
		if _, err := v.Asset(asset); err != nil {
			return err
		}
		next, err := v.NextFundingRate(asset)
		if err != nil {
			return err
		}
		resp = &FundingResponse{
			Asset:                 asset,
			CumulativeFundingRate: rate(v.CumulativeFundingRate(asset)),
			NextFundingRate:       rate(next),
			Freshness:             freshness(v),
		}
		return nil
	})
	return resp, err
}

// GetAsset returns the configuration and pool state of token.
func (qs *QueryService) GetAsset(ctx context.Context, token string) (*AssetResponse, error) {
	var resp *AssetResponse
	err := qs.read(ctx, "asset", func(v *core.View) error {
		a, err := v.Asset(token)
		if err != nil {
			return err
		}
		resp = assetResponse(v, token, a.Decimals)
		return nil
	})
	return resp, err
}

// ListAssets returns every whitelisted asset.
func (qs *QueryService) ListAssets(ctx context.Context) ([]AssetResponse, error) {
	var resp []AssetResponse
	err := qs.read(ctx, "assets", func(v *core.View) error {
		for _, token := range v.Tokens() {
			a, err := v.Asset(token)
			if err != nil {
				return err
			}
			resp = append(resp, *assetResponse(v, token, a.Decimals))
		}
		return nil
	})
	return resp, err
}

func assetResponse(v *core.View, token string, decimals uint8) *AssetResponse {
	a, _ := v.Asset(token)
	tok := func(x uint256.Int) string { return fpmath.ToDecimal(x, int32(decimals)).String() }
	gs := v.GlobalShort(token)
	return &AssetResponse{
		Token:          token,
		Decimals:       a.Decimals,
		Weight:         a.Weight,
		IsStable:       a.IsStable,
		IsShortable:    a.IsShortable,
		MaxUsdAmount:   usd(a.MaxUsdAmount),
		PoolAmount:     tok(a.PoolAmount),
		ReservedAmount: tok(a.ReservedAmount),
		GuaranteedUsd:  usd(a.GuaranteedUsd),
		FeeReserve:     tok(a.FeeReserve),
		GlobalShort:    usd(gs.Size),
		GlobalShortAvg: usd(gs.AveragePrice),
		Freshness:      freshness(v),
	}
}

// GetPosition returns one position. Open positions carry their unrealised
// PnL and liquidation state at the last applied timestamp.
func (qs *QueryService) GetPosition(ctx context.Context, key position.Key) (*PositionResponse, error) {
	var resp *PositionResponse
	err := qs.read(ctx, "position", func(v *core.View) error {
		p, _ := v.Position(key)
		if p.IsOpen() || !p.RealisedPnl.IsZero() {
			r, err := positionResponse(v, key, p)
			resp = r
			return err
		}
		return errs.ErrPositionNotFound
	})
	return resp, err
}

// GetPositions returns every position account has held, open first.
func (qs *QueryService) GetPositions(ctx context.Context, account string) ([]PositionResponse, error) {
	var resp []PositionResponse
	err := qs.read(ctx, "positions", func(v *core.View) error {
		byKey := v.Positions(account)
		keys := make([]position.Key, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		sortKeys(keys, byKey)
		for _, k := range keys {
			r, err := positionResponse(v, k, byKey[k])
			if err != nil {
				return err
			}
			resp = append(resp, *r)
		}
		return nil
	})
	return resp, err
}

func positionResponse(v *core.View, key position.Key, p position.Position) (*PositionResponse, error) {
	r := &PositionResponse{
		Account:          key.Account,
		CollateralToken:  key.CollateralToken,
		IndexToken:       key.IndexToken,
		Side:             key.Side(),
		Open:             p.IsOpen(),
		Size:             usd(p.Size),
		Collateral:       usd(p.Collateral),
		AveragePrice:     usd(p.AveragePrice),
		EntryFundingRate: rate(p.EntryFundingRate),
		RealisedPnl:      signedUsd(p.RealisedPnl),
		LastIncreased:    p.LastIncreasedTime,
		Freshness:        freshness(v),
	}
	if !p.IsOpen() {
		return r, nil
	}

	if a, err := v.Asset(key.CollateralToken); err == nil {
		r.ReserveAmount = fpmath.ToDecimal(p.ReserveAmount, int32(a.Decimals)).String()
	}
	// derived fields stay empty while the index price is unavailable
	if hasProfit, delta, err := v.PositionDelta(key); err == nil {
		r.UnrealisedPnl = signedUsd(fpmath.NewSigned(delta, !hasProfit && !delta.IsZero()))
	}
	if state, _, err := v.LiquidationState(key); err == nil {
		r.LiquidationState = state.String()
	}
	return r, nil
}

// sortKeys orders open positions before closed ones, then by key.
func sortKeys(keys []position.Key, byKey map[position.Key]position.Position) {
	slices.SortFunc(keys, func(a, b position.Key) int {
		oa, ob := byKey[a].IsOpen(), byKey[b].IsOpen()
		if oa != ob {
			if oa {
				return -1
			}
			return 1
		}
		return position.CompareKeys(a, b)
	})
}

func signedUsd(s fpmath.Signed) string {
	d := fpmath.ToDecimal(s.Abs, fpmath.PriceDecimals)
	if s.Neg {
		d = d.Neg()
	}
	return d.String()
}

// GetFundingHistory returns the latest funding accruals of asset.
func (qs *QueryService) GetFundingHistory(ctx context.Context, asset string, limit int) ([]FundingHistoryEntry, error) {
	start := time.Now()
	if qs.db == nil {
		qs.observe("funding_history", start, ErrNoHistoryStore)
		return nil, ErrNoHistoryStore
	}
	rows, err := projection.FundingHistory(ctx, qs.db, asset, limit)
	qs.observe("funding_history", start, err)
	if err != nil {
		return nil, err
	}
	out := make([]FundingHistoryEntry, 0, len(rows))
	for _, r := range rows {
		inc, _ := fpmath.ParseUint(r.Increment)
		cum, _ := fpmath.ParseUint(r.CumulativeRate)
		out = append(out, FundingHistoryEntry{
			Asset:          r.Asset,
			FundingTime:    r.FundingTime,
			Intervals:      r.Intervals,
			Increment:      rate(inc),
			CumulativeRate: rate(cum),
		})
	}
	return out, nil
}

// GetJournalHistory returns the journal entries touching account, newest
// first. afterSequence pages backwards.
func (qs *QueryService) GetJournalHistory(ctx context.Context, account string, limit int, afterSequence *int64) ([]JournalHistoryEntry, error) {
	start := time.Now()
	if qs.db == nil {
		qs.observe("journal_history", start, ErrNoHistoryStore)
		return nil, ErrNoHistoryStore
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	prefix := "user:" + account + ":%"
	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset, amount::text, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []any{prefix}
	if afterSequence != nil {
		query += " AND sequence < $2"
		args = append(args, *afterSequence)
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC, journal_id LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		qs.observe("journal_history", start, err)
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var (
			e  JournalHistoryEntry
			jt int32
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &e.Amount,
			&jt, &e.Timestamp,
		); err != nil {
			qs.observe("journal_history", start, err)
			return nil, err
		}
		e.JournalType = ledger.JournalType(jt).String()
		entries = append(entries, e)
	}
	err = rows.Err()
	qs.observe("journal_history", start, err)
	return entries, err
}

// --- Admin APIs ---

// VerifyIntegrity checks that the persisted hash chain is unbroken and
// that its head is on the live core's chain.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	if qs.db == nil {
		return nil, ErrNoHistoryStore
	}
	report := &IntegrityReport{LoggedSequence: -1}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var logged []byte
	err = qs.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash FROM event_log.events ORDER BY sequence DESC LIMIT 1
	`).Scan(&report.LoggedSequence, &logged)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	report.LoggedHead = fmt.Sprintf("%x", logged)

	var live [32]byte
	err = qs.read(ctx, "integrity", func(v *core.View) error {
		report.LiveSequence = v.Sequence() - 1
		live = v.StateHash()
		return nil
	})
	if err != nil {
		return nil, err
	}
	report.LiveHead = fmt.Sprintf("%x", live)

	headMatches := report.LoggedSequence < report.LiveSequence ||
		(report.LoggedSequence == report.LiveSequence && bytes.Equal(logged, live[:]))
	report.IsHealthy = len(report.HashChainBreaks) == 0 && headMatches
	return report, nil
}
