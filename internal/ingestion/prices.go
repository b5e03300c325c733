package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/omxlabs/amx-sub001/internal/observability"
	"github.com/omxlabs/amx-sub001/internal/oracle"
)

// PriceRelay republishes streamed quotes on amx.prices.{feed}, where the
// price consumer picks them up as PriceQuote commands. Routing quotes
// through JetStream puts them in the same replayable order as commands.
type PriceRelay struct {
	js      jetstream.JetStream
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewPriceRelay(js jetstream.JetStream, metrics *observability.Metrics, logger zerolog.Logger) *PriceRelay {
	return &PriceRelay{js: js, metrics: metrics, logger: logger}
}

// PriceSubject returns the subject quotes of feedID are published on.
func PriceSubject(feedID string) string {
	return PriceSubjectPrefix + subjectToken(feedID)
}

// EncodeQuote renders q in the price wire format.
func EncodeQuote(feedID string, q oracle.Quote) ([]byte, error) {
	return json.Marshal(priceQuoteJSON{
		FeedID:      feedID,
		Price:       q.Price,
		Confidence:  q.Confidence,
		Exponent:    q.Exponent,
		PublishTime: q.PublishTime,
	})
}

// Handle is an oracle.QuoteHandler. It publishes asynchronously so the
// stream reader never waits on NATS.
func (r *PriceRelay) Handle(feedID string, q oracle.Quote) {
	data, err := EncodeQuote(feedID, q)
	if err != nil {
		r.logger.Warn().Err(err).Str("feed", feedID).Msg("encode quote")
		return
	}
	msgID := fmt.Sprintf("%s:%d", feedID, q.PublishTime)
	if _, err := r.js.PublishAsync(PriceSubject(feedID), data, jetstream.WithMsgID(msgID)); err != nil {
		r.logger.Warn().Err(err).Str("feed", feedID).Msg("publish quote")
		if r.metrics != nil {
			r.metrics.PublishDrops.Inc()
		}
	}
}
