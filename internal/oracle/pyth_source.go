package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// QuoteHandler receives every decoded quote from a streaming source.
type QuoteHandler func(feedID string, q Quote)

// PythStream subscribes to a Pyth Hermes websocket endpoint and forwards
// price updates to a handler. It never mutates engine state itself: the
// handler is expected to turn quotes into PriceQuote commands.
type PythStream struct {
	wsURL   string
	feedIDs []string
	handler QuoteHandler
	logger  zerolog.Logger

	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration

	mu            sync.RWMutex
	connected     bool
	lastHeartbeat time.Time
}

func NewPythStream(wsURL string, feedIDs []string, handler QuoteHandler, logger zerolog.Logger) *PythStream {
	return &PythStream{
		wsURL:             wsURL,
		feedIDs:           feedIDs,
		handler:           handler,
		logger:            logger,
		reconnectDelay:    time.Second,
		maxReconnectDelay: 30 * time.Second,
	}
}

type pythSubscribe struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

type pythMessage struct {
	Type      string         `json:"type"`
	PriceFeed *pythPriceFeed `json:"price_feed,omitempty"`
}

type pythPriceFeed struct {
	ID    string    `json:"id"`
	Price pythPrice `json:"price"`
}

// Hermes encodes price and conf as decimal strings.
type pythPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

// Run connects and streams until ctx is cancelled, reconnecting with
// exponential backoff.
func (p *PythStream) Run(ctx context.Context) error {
	delay := p.reconnectDelay
	for {
		err := p.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		p.logger.Warn().Err(err).Dur("retry_in", delay).Msg("pyth stream disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.maxReconnectDelay {
			delay = p.maxReconnectDelay
		}
	}
}

// Healthy reports whether the stream is connected.
func (p *PythStream) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// LastHeartbeat returns when the server last sent a heartbeat frame.
func (p *PythStream) LastHeartbeat() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastHeartbeat
}

func (p *PythStream) session(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, p.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial pyth: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(pythSubscribe{Type: "subscribe", IDs: p.feedIDs}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	p.setConnected(true)
	defer p.setConnected(false)
	p.logger.Info().Str("url", p.wsURL).Int("feeds", len(p.feedIDs)).Msg("pyth stream connected")

	// Unblock ReadJSON on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg pythMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		p.handleMessage(msg)
	}
}

func (p *PythStream) handleMessage(msg pythMessage) {
	switch msg.Type {
	case "price_update":
		if msg.PriceFeed == nil {
			return
		}
		q, err := decodePythPrice(msg.PriceFeed.Price)
		if err != nil {
			p.logger.Warn().Err(err).Str("feed", msg.PriceFeed.ID).Msg("dropping malformed quote")
			return
		}
		p.handler(normalizeFeedID(msg.PriceFeed.ID), q)
	case "heartbeat":
		p.mu.Lock()
		p.lastHeartbeat = time.Now()
		p.mu.Unlock()
	case "response":
		// subscription ack
	}
}

func (p *PythStream) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func decodePythPrice(pp pythPrice) (Quote, error) {
	price, err := strconv.ParseInt(pp.Price, 10, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("price %q: %w", pp.Price, err)
	}
	conf, err := strconv.ParseUint(pp.Conf, 10, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("conf %q: %w", pp.Conf, err)
	}
	return Quote{
		Price:       price,
		Confidence:  conf,
		Exponent:    pp.Expo,
		PublishTime: pp.PublishTime,
	}, nil
}

// Hermes reports ids without the 0x prefix.
func normalizeFeedID(id string) string {
	return "0x" + strings.TrimPrefix(strings.ToLower(id), "0x")
}

// DecodeUpdate parses a single Hermes price_update frame. Exposed for the
// NATS price relay which carries the same payload.
func DecodeUpdate(data []byte) (string, Quote, error) {
	var msg pythMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", Quote{}, err
	}
	if msg.Type != "price_update" || msg.PriceFeed == nil {
		return "", Quote{}, fmt.Errorf("unexpected frame type %q", msg.Type)
	}
	q, err := decodePythPrice(msg.PriceFeed.Price)
	if err != nil {
		return "", Quote{}, err
	}
	return normalizeFeedID(msg.PriceFeed.ID), q, nil
}
