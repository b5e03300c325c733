package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/omxlabs/amx-sub001/internal/core"
	"github.com/omxlabs/amx-sub001/internal/event"
)

// snapshotFormat is bumped whenever core.SnapshotState changes shape.
const snapshotFormat = 1

// SnapshotManager stores core snapshots and reads the event log back for
// replay. A restart loads the newest verified snapshot and replays every
// event after it.
type SnapshotManager struct {
	db *sql.DB
}

// StoredSnapshot is a snapshot row.
type StoredSnapshot struct {
	SnapshotID string
	Sequence   int64
	State      *core.SnapshotState
	Verified   bool
	CreatedAt  time.Time
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists snap, unverified. Saving the same sequence twice
// replaces the data.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE
			SET data = $3, state_hash = $4, size_bytes = $6, verified = FALSE
	`, uuid.New(), snap.Sequence, data, snap.StateHash[:], snapshotFormat, len(data), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil when
// there is none.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*StoredSnapshot, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT snapshot_id, sequence, data, format_version, verified, created_at
		FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var (
		stored StoredSnapshot
		data   []byte
		format int
	)
	if err := row.Scan(&stored.SnapshotID, &stored.Sequence, &data, &format, &stored.Verified, &stored.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if format != snapshotFormat {
		return nil, fmt.Errorf("snapshot %d has format %d, want %d", stored.Sequence, format, snapshotFormat)
	}

	stored.State = new(core.SnapshotState)
	if err := json.Unmarshal(data, stored.State); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &stored, nil
}

// MarkVerified marks a snapshot as verified after its integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// VerifySnapshot checks a freshly saved snapshot against the event log: the
// state hash must equal the one recorded for its sequence. On success the
// snapshot is marked verified.
func (sm *SnapshotManager) VerifySnapshot(ctx context.Context, snap *core.SnapshotState) error {
	if snap.Sequence < 0 {
		return fmt.Errorf("snapshot of empty history")
	}
	var logged []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT state_hash FROM event_log.events WHERE sequence = $1
	`, snap.Sequence).Scan(&logged)
	if err != nil {
		return fmt.Errorf("load event %d: %w", snap.Sequence, err)
	}
	if !bytes.Equal(logged, snap.StateHash[:]) {
		return fmt.Errorf("snapshot %d: state hash %x, event log has %x", snap.Sequence, snap.StateHash, logged)
	}
	return sm.MarkVerified(ctx, snap.Sequence)
}

// LoadEventsFrom loads up to limit events starting at fromSequence.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, asset_id, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var (
			e     EventRow
			asset sql.NullString
		)
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &asset,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		if asset.Valid {
			e.AssetID = &asset.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DecodeEvent rebuilds the command stored in e.
func DecodeEvent(e EventRow) (event.Event, error) {
	et := event.ParseEventType(e.EventType)
	if et == event.EventTypeUnknown {
		return nil, fmt.Errorf("event %d: unknown type %q", e.Sequence, e.EventType)
	}
	return event.Decode(et, e.Payload)
}

// GetLatestSequence returns the highest sequence in the event log, or -1
// when it is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
