package projection

import (
	"context"
	"database/sql"
	"fmt"
)

func insertFunding(ctx context.Context, tx *sql.Tx, f FundingRow, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.funding_history
			(asset, funding_time, intervals, increment, cumulative_rate, pool_amount, reserved_amount, sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (asset, funding_time) DO NOTHING
	`, f.Asset, f.FundingTime, int64(f.Intervals), f.Increment, f.CumulativeRate, f.PoolAmount, f.ReservedAmount, seq)
	if err != nil {
		return fmt.Errorf("funding history: %w", err)
	}
	return nil
}

// FundingHistory returns the latest accruals of asset, newest first.
func FundingHistory(ctx context.Context, db *sql.DB, asset string, limit int) ([]FundingRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT asset, funding_time, intervals, increment::text, cumulative_rate::text,
		       pool_amount::text, reserved_amount::text
		FROM projections.funding_history
		WHERE asset = $1
		ORDER BY funding_time DESC
		LIMIT $2
	`, asset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FundingRow
	for rows.Next() {
		var (
			f         FundingRow
			intervals int64
		)
		if err := rows.Scan(&f.Asset, &f.FundingTime, &intervals, &f.Increment, &f.CumulativeRate,
			&f.PoolAmount, &f.ReservedAmount); err != nil {
			return nil, err
		}
		f.Intervals = uint64(intervals)
		out = append(out, f)
	}
	return out, rows.Err()
}
