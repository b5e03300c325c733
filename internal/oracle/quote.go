package oracle

import (
	"fmt"

	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/state"
)

// Quote is a raw price observation as published by the feed:
// the value is Price * 10^Exponent USD.
type Quote struct {
	Price       int64
	Confidence  uint64
	Exponent    int32
	PublishTime int64 // unix seconds
}

// Source supplies the latest quote for a feed.
type Source interface {
	Query(feedID string) (Quote, error)
}

// QuoteStore holds the latest quote per feed. It is fed exclusively by
// PriceQuote commands, so it takes part in engine transactions and snapshots
// like any other state.
type QuoteStore struct {
	quotes *state.Table[string, Quote]
}

func NewQuoteStore() *QuoteStore {
	return &QuoteStore{quotes: state.NewTable[string, Quote]("quotes")}
}

// Query implements Source.
func (s *QuoteStore) Query(feedID string) (Quote, error) {
	q, ok := s.quotes.Get(feedID)
	if !ok {
		return Quote{}, fmt.Errorf("feed %s: %w", feedID, errs.ErrCouldNotFetchPrice)
	}
	return q, nil
}

// Update stores q unless a newer quote is already held. Reports whether the
// quote was accepted.
func (s *QuoteStore) Update(feedID string, q Quote) bool {
	if cur, ok := s.quotes.Get(feedID); ok && cur.PublishTime > q.PublishTime {
		return false
	}
	s.quotes.Put(feedID, q)
	return true
}

// All returns a copy of every stored quote keyed by feed.
func (s *QuoteStore) All() map[string]Quote {
	out := make(map[string]Quote, s.quotes.Len())
	s.quotes.Range(func(k string, v Quote) bool {
		out[k] = v
		return true
	})
	return out
}

func (s *QuoteStore) Touched() []string { return s.quotes.Touched() }

func (s *QuoteStore) Begin()    { s.quotes.Begin() }
func (s *QuoteStore) Commit()   { s.quotes.Commit() }
func (s *QuoteStore) Rollback() { s.quotes.Rollback() }

// CanonicalBytes encodes a quote for state digests.
func (q Quote) CanonicalBytes(feedID string) []byte {
	buf := make([]byte, 0, 64)
	buf = state.AppendString(buf, feedID)
	buf = state.AppendInt64LE(buf, q.Price)
	buf = state.AppendUint64LE(buf, q.Confidence)
	buf = state.AppendInt64LE(buf, int64(q.Exponent))
	return state.AppendInt64LE(buf, q.PublishTime)
}
