package ingestion_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/event"
	"github.com/omxlabs/amx-sub001/internal/ingestion"
)

// scriptedEnqueuer settles every command immediately with the next result.
type scriptedEnqueuer struct {
	results []error
	got     []event.Event
}

func (s *scriptedEnqueuer) Enqueue(_ context.Context, evt event.Event, done func(error)) error {
	s.got = append(s.got, evt)
	err := s.results[0]
	s.results = s.results[1:]
	done(err)
	return nil
}

type acks struct{ ack, nak int }

func (a *acks) raw(t *testing.T, subject string, v any) ingestion.RawEvent {
	raw := rawFromJSON(t, subject, v)
	raw.AckFunc = func() { a.ack++ }
	raw.NakFunc = func() { a.nak++ }
	return raw
}

func TestPumpSettlesMessages(t *testing.T) {
	var a acks
	deposit := header(map[string]any{"account": "alice", "token": "ETH", "amount": "1"})
	in := make(chan ingestion.RawEvent, 4)
	in <- a.raw(t, "amx.commands.token_deposit", deposit)
	in <- a.raw(t, "amx.commands.token_deposit", deposit)
	in <- a.raw(t, "amx.commands.token_deposit", deposit)
	in <- a.raw(t, "amx.commands.nonsense", deposit)
	close(in)

	enq := &scriptedEnqueuer{results: []error{
		nil,
		fmt.Errorf("wrapped: %w", errs.ErrInsufficientBalance),
		fmt.Errorf("wrapped: %w", errs.ErrSequenceGap),
	}}
	require.NoError(t, ingestion.Pump(context.Background(), in, enq, zerolog.Nop()))

	assert.Len(t, enq.got, 3)
	assert.Equal(t, 3, a.ack, "applied, rejected and unparseable messages are acked")
	assert.Equal(t, 1, a.nak, "a sequence gap is redelivered")
}

func TestPumpStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ingestion.Pump(ctx, make(chan ingestion.RawEvent), &scriptedEnqueuer{}, zerolog.Nop())
	assert.ErrorIs(t, err, context.Canceled)
}
