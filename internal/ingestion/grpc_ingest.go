package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/omxlabs/amx-sub001/internal/event"
)

// ErrMalformedCommand wraps every parse failure of a submitted command.
var ErrMalformedCommand = errors.New("malformed command")

// Submitter applies one command and returns its result.
type Submitter interface {
	Submit(ctx context.Context, evt event.Event) error
}

// GRPCIngestService injects commands synchronously, for admin tooling and
// the HTTP gateway. High-throughput producers go through NATS.
type GRPCIngestService struct {
	submitter Submitter
}

func NewGRPCIngestService(submitter Submitter) *GRPCIngestService {
	return &GRPCIngestService{submitter: submitter}
}

// SubmitCommand parses a wire-format command named by its wire name and
// waits for the core to apply or reject it.
func (s *GRPCIngestService) SubmitCommand(ctx context.Context, name string, data []byte) (event.Event, error) {
	et, err := ParseCommandName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	evt, err := ParseCommand(et, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	if err := s.submitter.Submit(ctx, evt); err != nil {
		return evt, err
	}
	return evt, nil
}

// InjectPrice submits a quote directly, bypassing the price stream.
func (s *GRPCIngestService) InjectPrice(ctx context.Context, feedID string, price int64, conf uint64, expo int32, publishTime int64) error {
	if feedID == "" {
		return fmt.Errorf("%w: feed id required", ErrMalformedCommand)
	}
	if price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrMalformedCommand)
	}
	return s.submitter.Submit(ctx, &event.PriceQuote{
		FeedID:      feedID,
		Price:       price,
		Confidence:  conf,
		Exponent:    expo,
		PublishTime: publishTime,
	})
}
