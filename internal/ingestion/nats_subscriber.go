package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandSubjectPrefix = "amx.commands."
	PriceSubjectPrefix   = "amx.prices."
	EventSubjectPrefix   = "amx.events."
)

// NATSSubscriber consumes JetStream subjects and hands raw messages to the
// pump, which parses them and queues them on the sequencer.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	opts      ConsumerOptions
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is a message not yet parsed into a typed command.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	Delivered uint64 // 1 on first delivery
	StreamSeq uint64
	AckFunc   func() // ACK once the command was applied or rejected for good
	NakFunc   func() // NAK to have it redelivered
}

// SubjectConfig binds a subject filter to a durable consumer.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// ConsumerOptions tune the durable consumers. Zero fields take the
// defaults of DefaultConsumerOptions.
type ConsumerOptions struct {
	AckWait       time.Duration
	MaxDeliver    int
	MaxAckPending int
}

func DefaultConsumerOptions() ConsumerOptions {
	return ConsumerOptions{AckWait: 30 * time.Second, MaxDeliver: 5, MaxAckPending: 1024}
}

func (o ConsumerOptions) withDefaults() ConsumerOptions {
	d := DefaultConsumerOptions()
	if o.AckWait <= 0 {
		o.AckWait = d.AckWait
	}
	if o.MaxDeliver <= 0 {
		o.MaxDeliver = d.MaxDeliver
	}
	if o.MaxAckPending <= 0 {
		o.MaxAckPending = d.MaxAckPending
	}
	return o
}

// StreamRetention is how long each inbound stream keeps messages.
type StreamRetention struct {
	Commands time.Duration
	Prices   time.Duration
}

// DefaultSubjects returns one consumer for commands and one for prices. The
// command type is read from the subject, so one consumer keeps every
// command in a single total order.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: CommandSubjectPrefix + ">", ConsumerName: "amx-commands", StreamName: commandStream},
		{Subject: PriceSubjectPrefix + ">", ConsumerName: "amx-prices", StreamName: priceStream},
	}
}

const (
	commandStream = "AMX_COMMANDS"
	priceStream   = "AMX_PRICES"
)

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, opts ConsumerOptions, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
}

// Subscribe creates an explicit-ack durable consumer per subject and
// starts delivering into the event channel.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       ns.opts.AckWait,
			MaxDeliver:    ns.opts.MaxDeliver,
			DeliverPolicy: jetstream.DeliverAllPolicy,
			MaxAckPending: ns.opts.MaxAckPending,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := toRawEvent(msg)
			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, cc)
		ns.logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Int("max_deliver", ns.opts.MaxDeliver).
			Msg("subscribed")
	}
	return nil
}

func toRawEvent(msg jetstream.Msg) RawEvent {
	raw := RawEvent{
		Subject:   msg.Subject(),
		Data:      msg.Data(),
		Timestamp: time.Now(),
		Delivered: 1,
		AckFunc:   func() { _ = msg.Ack() },
		NakFunc:   func() { _ = msg.Nak() },
	}
	if md, err := msg.Metadata(); err == nil {
		raw.Delivered = md.NumDelivered
		raw.StreamSeq = md.Sequence.Stream
		raw.Timestamp = md.Timestamp
	}
	return raw
}

// EnsureStreams creates or updates the inbound streams.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, retention StreamRetention, logger zerolog.Logger) error {
	if retention.Commands <= 0 {
		retention.Commands = 72 * time.Hour
	}
	if retention.Prices <= 0 {
		retention.Prices = time.Hour
	}
	streams := []jetstream.StreamConfig{
		{
			Name:      commandStream,
			Subjects:  []string{CommandSubjectPrefix + ">"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    retention.Commands,
			Replicas:  1,
		},
		{
			// quotes go stale within a minute; keep little
			Name:      priceStream,
			Subjects:  []string{PriceSubjectPrefix + ">"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    retention.Prices,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Dur("max_age", cfg.MaxAge).Msg("ensured stream")
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("amxd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
