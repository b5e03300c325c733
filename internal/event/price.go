package event

import "fmt"

// PriceQuoteSender is the caller recorded for oracle quotes.
const PriceQuoteSender = "oracle"

// PriceQuote is a raw feed quote, normally relayed from the Pyth stream.
// Publish time doubles as the per-feed sequence: gaps are expected and stale
// quotes are ignored.
type PriceQuote struct {
	FeedID      string
	Price       int64
	Confidence  uint64
	Exponent    int32
	PublishTime int64 // unix seconds
}

func (p *PriceQuote) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.FeedID, p.PublishTime)
}

func (p *PriceQuote) EventType() EventType  { return EventTypePriceQuote }
func (p *PriceQuote) AssetID() *string      { return strPtr(p.FeedID) }
func (p *PriceQuote) SourceSequence() int64 { return p.PublishTime }
func (p *PriceQuote) OccurredAt() int64     { return p.PublishTime }
func (p *PriceQuote) Sender() string        { return PriceQuoteSender }
