package persistence

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omxlabs/amx-sub001/internal/core"
	"github.com/omxlabs/amx-sub001/internal/event"
	"github.com/omxlabs/amx-sub001/internal/ledger"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
)

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "($1, $2, $3)", placeholders(0, 3))
	assert.Equal(t, "($10, $11)", placeholders(9, 2))
}

func TestRecordFromOutput(t *testing.T) {
	asset := "ETH"
	batchID := uuid.New()
	journalID := uuid.New()
	ts := time.Unix(1_700_000_000, 0).UTC()

	out := core.CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       42,
			IdempotencyKey: "k",
			EventType:      event.EventTypeTokenDeposit,
			AssetID:        &asset,
			Timestamp:      ts,
			SourceSequence: 3,
			Payload:        []byte(`{"x":1}`),
			StateHash:      [32]byte{1},
			PrevHash:       [32]byte{2},
		},
		Batch: &ledger.Batch{
			BatchID: batchID,
			Journals: []ledger.Journal{{
				JournalID:     journalID,
				BatchID:       batchID,
				EventRef:      "k",
				Sequence:      42,
				DebitAccount:  ledger.AccountKey{Scope: ledger.AccountScopeExternal, Asset: "ETH"},
				CreditAccount: ledger.AccountKey{Scope: ledger.AccountScopeUser, Owner: "alice", Asset: "ETH"},
				Asset:         "ETH",
				Amount:        fpmath.Pow10(18),
				JournalType:   ledger.JournalTypeDeposit,
				Timestamp:     ts.UnixMicro(),
			}},
		},
	}

	rec := RecordFromOutput(out)
	assert.Equal(t, int64(42), rec.Event.Sequence)
	assert.Equal(t, "TokenDeposit", rec.Event.EventType)
	assert.Equal(t, &asset, rec.Event.AssetID)
	assert.Equal(t, byte(1), rec.Event.StateHash[0])
	assert.Len(t, rec.Event.StateHash, 32)
	assert.Equal(t, int64(3), rec.Event.SourceSequence)

	require.Len(t, rec.Journals, 1)
	j := rec.Journals[0]
	assert.Equal(t, journalID.String(), j.JournalID)
	assert.Equal(t, "external:ETH", j.DebitAccount)
	assert.Equal(t, "user:alice:ETH", j.CreditAccount)
	assert.Equal(t, "1000000000000000000", j.Amount)
	assert.Equal(t, int32(ledger.JournalTypeDeposit), j.JournalType)
}

func TestRecordWithoutBatch(t *testing.T) {
	rec := RecordFromOutput(core.CoreOutput{Envelope: &event.EventEnvelope{Sequence: 1, EventType: event.EventTypePriceQuote}})
	assert.Empty(t, rec.Journals)
	assert.Equal(t, "PriceQuote", rec.Event.EventType)
}

func TestDecodeEventRejectsUnknownType(t *testing.T) {
	_, err := DecodeEvent(EventRow{Sequence: 1, EventType: "Teleport", Payload: []byte(`{}`)})
	assert.Error(t, err)
}
