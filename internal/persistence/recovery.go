package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/omxlabs/amx-sub001/internal/core"
	"github.com/omxlabs/amx-sub001/internal/observability"
)

const replayPageSize = 1000

// Recover brings a fresh core up to the tip of the event log: it restores
// the newest verified snapshot, if any, then replays every later event and
// checks each logged state hash. It returns the number of replayed events.
func Recover(ctx context.Context, c *core.DeterministicCore, sm *SnapshotManager, metrics *observability.Metrics, logger zerolog.Logger) (int, error) {
	start := time.Now()

	stored, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	from := int64(0)
	if stored != nil {
		if err := c.RestoreFromSnapshot(stored.State); err != nil {
			return 0, fmt.Errorf("restore snapshot %d: %w", stored.Sequence, err)
		}
		from = stored.Sequence + 1
		logger.Info().Int64("sequence", stored.Sequence).Msg("restored snapshot")
	}

	replayed := 0
	for {
		rows, err := sm.LoadEventsFrom(ctx, from, replayPageSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from %d: %w", from, err)
		}
		for _, row := range rows {
			evt, err := DecodeEvent(row)
			if err != nil {
				return replayed, err
			}
			var hash [32]byte
			copy(hash[:], row.StateHash)
			if err := c.Replay(evt, row.Sequence, hash); err != nil {
				return replayed, err
			}
			replayed++
		}
		if len(rows) < replayPageSize {
			break
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	if metrics != nil {
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	logger.Info().
		Int("replayed", replayed).
		Int64("next_sequence", c.GetSequence()).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return replayed, nil
}
