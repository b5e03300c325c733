package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/omxlabs/amx-sub001/internal/event"
	"github.com/omxlabs/amx-sub001/internal/observability"
)

// OutboundPublisher publishes applied commands to NATS once they are
// persisted. Subjects follow amx.events.{command}[.{asset}].
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableEvent is an applied command ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	AssetID        *string         `json:"asset_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"` // hex
	Timestamp      time.Time       `json:"timestamp"`
}

// NewPublishableEvent converts an envelope for the outbound stream.
func NewPublishableEvent(env *event.EventEnvelope) PublishableEvent {
	return PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      CommandName(env.EventType),
		IdempotencyKey: env.IdempotencyKey,
		AssetID:        env.AssetID,
		Payload:        env.Payload,
		StateHash:      fmt.Sprintf("%x", env.StateHash),
		Timestamp:      env.Timestamp,
	}
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run publishes until ctx is cancelled or the input closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// downstream consumers can read the event log directly
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

// EventSubject returns the outbound subject of evt.
func EventSubject(evt PublishableEvent) string {
	subject := EventSubjectPrefix + evt.EventType
	if evt.AssetID != nil && *evt.AssetID != "" {
		subject += "." + subjectToken(*evt.AssetID)
	}
	return subject
}

// subjectToken strips characters NATS treats as separators or wildcards.
func subjectToken(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// the sequence doubles as the JetStream dedup id
	_, err = op.js.Publish(ctx, EventSubject(evt), data, jetstream.WithMsgID(fmt.Sprintf("amx-%d", evt.Sequence)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       "AMX_EVENTS",
		Subjects:   []string{EventSubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Replicas:   1,
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", "AMX_EVENTS").Msg("ensured outbound stream")
	return nil
}
