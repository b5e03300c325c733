package ingestion

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/omxlabs/amx-sub001/internal/core"
	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/event"
)

// Enqueuer queues a command and reports its outcome later; core.Sequencer
// implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, evt event.Event, done func(error)) error
}

// Pump parses raw messages and queues them on the sequencer. A message is
// acked once its command was applied or rejected for good, and nakked when
// a redelivery could still succeed. Unparseable messages are acked and
// dropped so they do not loop.
func Pump(ctx context.Context, in <-chan RawEvent, seq Enqueuer, logger zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			evt, err := ParseRawEvent(raw)
			if err != nil {
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("drop unparseable message")
				raw.AckFunc()
				continue
			}
			settle := func(err error) {
				switch {
				case Retryable(err):
					logger.Debug().Err(err).
						Str("subject", raw.Subject).
						Uint64("stream_seq", raw.StreamSeq).
						Uint64("delivered", raw.Delivered).
						Msg("redeliver")
					raw.NakFunc()
				default:
					if err != nil {
						logger.Debug().Err(err).Str("subject", raw.Subject).Str("key", evt.IdempotencyKey()).Msg("command rejected")
					}
					raw.AckFunc()
				}
			}
			if err := seq.Enqueue(ctx, evt, settle); err != nil {
				raw.NakFunc()
				return err
			}
		}
	}
}

// Retryable reports whether a rejected command may apply on redelivery: a
// sequence gap closes once the missing command arrives.
func Retryable(err error) bool {
	return errors.Is(err, errs.ErrSequenceGap) || errors.Is(err, core.ErrSequencerStopped)
}
