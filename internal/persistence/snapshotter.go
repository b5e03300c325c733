package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/omxlabs/amx-sub001/internal/core"
	"github.com/omxlabs/amx-sub001/internal/observability"
)

// Reader runs fn against the live core; core.Sequencer implements it.
type Reader interface {
	Read(ctx context.Context, fn func(*core.View) error) error
}

// Snapshotter takes snapshots of the live core on a timer and on demand.
// A snapshot is verified once the persistence worker has written its
// sequence, and only verified snapshots are used for recovery.
type Snapshotter struct {
	reader   Reader
	sm       *SnapshotManager
	interval time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger

	// verifyWait bounds how long a snapshot waits for the log to catch up.
	verifyWait time.Duration
	lastSeq    int64
}

func NewSnapshotter(reader Reader, sm *SnapshotManager, interval time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *Snapshotter {
	return &Snapshotter{
		reader:     reader,
		sm:         sm,
		interval:   interval,
		metrics:    metrics,
		logger:     logger.With().Str("component", "snapshotter").Logger(),
		verifyWait: 30 * time.Second,
		lastSeq:    -1,
	}
}

// Run snapshots every interval until ctx is cancelled, then takes a last
// snapshot for the next warm start.
func (s *Snapshotter) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.verifyWait)
			if _, err := s.TakeSnapshot(shutdownCtx); err != nil {
				s.logger.Warn().Err(err).Msg("shutdown snapshot failed")
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.TakeSnapshot(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("snapshot failed")
			}
		}
	}
}

// TakeSnapshot captures, stores and verifies one snapshot and returns its
// sequence. Nothing is written when no command was applied since the last
// snapshot.
func (s *Snapshotter) TakeSnapshot(ctx context.Context) (int64, error) {
	start := time.Now()

	var snap *core.SnapshotState
	err := s.reader.Read(ctx, func(v *core.View) error {
		snap = v.Snapshot()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("capture: %w", err)
	}
	if snap.Sequence < 0 || snap.Sequence == s.lastSeq {
		return snap.Sequence, nil
	}

	size, err := s.sm.SaveSnapshot(ctx, snap)
	if err != nil {
		return 0, fmt.Errorf("save: %w", err)
	}
	if err := s.awaitPersisted(ctx, snap.Sequence); err != nil {
		return 0, err
	}
	if err := s.sm.VerifySnapshot(ctx, snap); err != nil {
		return 0, fmt.Errorf("verify: %w", err)
	}
	s.lastSeq = snap.Sequence

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	s.logger.Info().Int64("sequence", snap.Sequence).Int("bytes", size).Msg("snapshot verified")
	return snap.Sequence, nil
}

func (s *Snapshotter) awaitPersisted(ctx context.Context, sequence int64) error {
	deadline := time.Now().Add(s.verifyWait)
	for {
		latest, err := s.sm.GetLatestSequence(ctx)
		if err != nil {
			return err
		}
		if latest >= sequence {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("event log at %d, snapshot at %d", latest, sequence)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
