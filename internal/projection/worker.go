package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/omxlabs/amx-sub001/internal/core"
	"github.com/omxlabs/amx-sub001/internal/observability"
)

// Cache mirrors hot read data outside Postgres.
type Cache interface {
	Apply(ctx context.Context, rows Rows) error
}

// ProjectionWorker updates the projection tables from applied commands.
// The core feeds it with a non-blocking send, so a slow worker loses
// updates rather than stalling the core; RebuildProjections recovers.
type ProjectionWorker struct {
	db        *sql.DB
	cache     Cache
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

// NewProjectionWorker creates a worker. cache may be nil.
func NewProjectionWorker(db *sql.DB, cache Cache, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		cache:     cache,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger.With().Str("component", "projection").Logger(),
		lastSeq:   -1,
	}
}

// LastSequence is the sequence of the last output handled.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// Run applies outputs until ctx is cancelled or the input closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			rows := RowsFromOutput(output)

			if err := pw.apply(ctx, rows); err != nil {
				// eventually consistent; a rebuild restores the tables
				pw.logger.Warn().Err(err).Int64("sequence", rows.Sequence).Msg("projection update failed")
			}
			if pw.cache != nil && !rows.Empty() {
				if err := pw.cache.Apply(ctx, rows); err != nil {
					pw.logger.Warn().Err(err).Int64("sequence", rows.Sequence).Msg("cache update failed")
				}
			}
			pw.lastSeq = rows.Sequence
		}
	}
}

func (pw *ProjectionWorker) apply(ctx context.Context, rows Rows) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ApplyRows(ctx, tx, rows); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, rows.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("all").Observe(time.Since(start).Seconds())
	}
	return nil
}

// ApplyRows upserts rows. Every statement is keyed so re-applying a
// sequence is harmless.
func ApplyRows(ctx context.Context, tx *sql.Tx, rows Rows) error {
	seq := rows.Sequence

	for _, p := range rows.Positions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.positions
				(account, collateral_token, index_token, is_long, size, collateral, average_price,
				 entry_funding_rate, reserve_amount, realised_pnl, last_increased_time, is_open,
				 last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
			ON CONFLICT (account, collateral_token, index_token, is_long) DO UPDATE SET
				size = $5, collateral = $6, average_price = $7, entry_funding_rate = $8,
				reserve_amount = $9, realised_pnl = $10, last_increased_time = $11,
				is_open = $12, last_sequence = $13, updated_at = NOW()
		`, p.Account, p.CollateralToken, p.IndexToken, p.IsLong, p.Size, p.Collateral, p.AveragePrice,
			p.EntryFundingRate, p.ReserveAmount, p.RealisedPnl, p.LastIncreasedTime, p.IsOpen, seq); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}

	for _, a := range rows.Assets {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.assets
				(token, decimals, weight, is_stable, is_shortable, pool_amount, reserved_amount,
				 guaranteed_usd, fee_reserve, cumulative_funding_rate, last_funding_time,
				 last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
			ON CONFLICT (token) DO UPDATE SET
				decimals = $2, weight = $3, is_stable = $4, is_shortable = $5, pool_amount = $6,
				reserved_amount = $7, guaranteed_usd = $8, fee_reserve = $9,
				cumulative_funding_rate = $10, last_funding_time = $11,
				last_sequence = $12, updated_at = NOW()
		`, a.Token, int16(a.Decimals), int64(a.Weight), a.IsStable, a.IsShortable, a.PoolAmount,
			a.ReservedAmount, a.GuaranteedUsd, a.FeeReserve, a.CumulativeFundingRate,
			a.LastFundingTime, seq); err != nil {
			return fmt.Errorf("asset projection: %w", err)
		}
	}

	for _, s := range rows.Shorts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.global_shorts (index_token, size, average_price, last_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (index_token) DO UPDATE SET size = $2, average_price = $3, last_sequence = $4
		`, s.IndexToken, s.Size, s.AveragePrice, seq); err != nil {
			return fmt.Errorf("short projection: %w", err)
		}
	}

	for _, f := range rows.Funding {
		if err := insertFunding(ctx, tx, f, seq); err != nil {
			return err
		}
	}

	for _, q := range rows.Prices {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.prices (feed_id, price, confidence, exponent, publish_time, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (feed_id) DO UPDATE SET
				price = $2, confidence = $3, exponent = $4, publish_time = $5, last_sequence = $6
		`, q.FeedID, q.Price, int64(q.Confidence), q.Exponent, q.PublishTime, seq); err != nil {
			return fmt.Errorf("price projection: %w", err)
		}
	}

	if rows.Aum != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.aum_history (sequence, aum_max, aum_min, share_supply, at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (sequence) DO NOTHING
		`, seq, rows.Aum.Max, rows.Aum.Min, rows.Aum.ShareSupply, rows.Aum.At); err != nil {
			return fmt.Errorf("aum projection: %w", err)
		}
	}
	return nil
}

// RebuildProjections truncates the projection tables and re-derives them by
// reading outputs from replay, a channel fed by replaying the event log
// through a fresh core.
func RebuildProjections(ctx context.Context, db *sql.DB, replay <-chan core.CoreOutput, logger zerolog.Logger) error {
	for _, stmt := range []string{
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.assets`,
		`TRUNCATE projections.global_shorts`,
		`TRUNCATE projections.funding_history`,
		`TRUNCATE projections.prices`,
		`TRUNCATE projections.aum_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
	}

	var applied int
	for out := range replay {
		rows := RowsFromOutput(out)
		if rows.Empty() {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := ApplyRows(ctx, tx, rows); err != nil {
			tx.Rollback()
			return fmt.Errorf("sequence %d: %w", rows.Sequence, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		applied++
	}

	logger.Info().Int("commands", applied).Msg("projection rebuild complete")
	return nil
}
