package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/event"
	"github.com/omxlabs/amx-sub001/internal/funding"
	"github.com/omxlabs/amx-sub001/internal/ledger"
	"github.com/omxlabs/amx-sub001/internal/liquidity"
	"github.com/omxlabs/amx-sub001/internal/observability"
	"github.com/omxlabs/amx-sub001/internal/oracle"
	"github.com/omxlabs/amx-sub001/internal/position"
	"github.com/omxlabs/amx-sub001/internal/shorts"
	"github.com/omxlabs/amx-sub001/internal/state"
	"github.com/omxlabs/amx-sub001/internal/vault"
)

// Params configure a new core. Market parameters are only the starting
// values: governance commands change them afterwards.
type Params struct {
	StartSequence       int64
	IdempotencyCapacity int
	// SupplyCheckInterval runs the full ledger supply check every N
	// sequences; 0 disables it.
	SupplyCheckInterval int64

	Oracle   oracle.Params
	Fees     vault.FeeParams
	Funding  funding.Params
	Position position.Params
	Cooldown int64 // seconds
}

func DefaultParams() Params {
	return Params{
		IdempotencyCapacity: 1_000_000,
		SupplyCheckInterval: 1000,
		Oracle:              oracle.DefaultParams(),
		Fees:                vault.DefaultFeeParams(),
		Funding:             funding.DefaultParams(),
		Position:            position.DefaultParams(),
		Cooldown:            liquidity.DefaultCooldown,
	}
}

// DeterministicCore is the single-threaded command processor. Every command
// runs inside one transaction over all engine state: it either applies
// completely, advancing the sequence and the state hash chain, or leaves no
// trace.
type DeterministicCore struct {
	sequence      int64
	lastTimestamp int64
	hasher        *StateHasher

	tokens    *ledger.BalanceTracker
	validator *ledger.InvariantValidator
	quotes    *oracle.QuoteStore
	oracle    *oracle.Oracle
	vault     *vault.Vault
	funding   *funding.Engine
	shorts    *shorts.Tracker
	positions *position.Positions
	liquidity *liquidity.Manager
	gov       *state.Cell[string]
	tx        state.Group

	inCall              bool
	replaying           bool
	supplyCheckInterval int64

	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers learn about one applied
// command.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch // nil when no tokens moved
	StateDelta []byte        // canonical digest the state hash commits to
	Changes    *Changes
	Result     any // engine result, e.g. position.IncreaseResult
}

func NewDeterministicCore(
	params Params,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *DeterministicCore {
	tokens := ledger.NewBalanceTracker()
	quotes := oracle.NewQuoteStore()
	orc := oracle.New(quotes, params.Oracle)
	v := vault.New(orc, tokens, params.Fees)
	f := funding.NewEngine(v, params.Funding)
	s := shorts.NewTracker()
	p := position.New(v, f, s, params.Position)
	lm := liquidity.NewManager(v, s, tokens, p.Access, params.Cooldown)
	gov := state.NewCell("")

	return &DeterministicCore{
		sequence:            params.StartSequence,
		hasher:              NewStateHasher(),
		tokens:              tokens,
		validator:           ledger.NewInvariantValidator(tokens),
		quotes:              quotes,
		oracle:              orc,
		vault:               v,
		funding:             f,
		shorts:              s,
		positions:           p,
		liquidity:           lm,
		gov:                 gov,
		tx:                  state.Group{tokens, quotes, orc, v, f, s, p, lm, gov},
		supplyCheckInterval: params.SupplyCheckInterval,
		idempotency:         NewIdempotencyChecker(params.IdempotencyCapacity, dbChecker, metrics),
		sequenceValidator:   NewSequenceValidator(metrics),
		metrics:             metrics,
		logger:              logger,
		persistChan:         persistChan,
		projectionChan:      projectionChan,
	}
}

// ProcessEvent is the main processing pipeline. Duplicates and stale price
// quotes are skipped without error; any other failure leaves the state
// exactly as it was.
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	if c.inCall {
		return errs.ErrReentrantCall
	}
	c.inCall = true
	defer func() { c.inCall = false }()

	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: idempotency (LRU, then Postgres)
	if c.idempotency.IsDuplicate(eventType, idempotencyKey) {
		c.countRejected(eventType, "duplicate")
		return nil
	}

	// Step 2: source ordering
	partition := c.partitionOf(evt)
	sourceSequence := evt.SourceSequence()
	if q, ok := evt.(*event.PriceQuote); ok {
		if !c.sequenceValidator.ValidatePriceSequence(q.FeedID, q.PublishTime) {
			c.countRejected(eventType, "stale")
			if c.metrics != nil {
				c.metrics.OracleStaleQuotes.WithLabelValues(q.FeedID).Inc()
			}
			return nil
		}
	} else if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence); err != nil {
		c.reject(evt, err)
		return err
	}

	// Step 3: execute inside one transaction
	now := evt.OccurredAt()
	seq := c.sequence

	c.tx.Begin()
	result, err := c.dispatch(evt, now)
	if err == nil {
		err = c.postCheckInvariants(seq)
	}
	var batch *ledger.Batch
	if err == nil {
		batch, err = c.buildBatch(idempotencyKey, seq, now)
	}
	var payload []byte
	if err == nil {
		payload, err = event.Encode(evt)
	}
	if err != nil {
		c.tx.Rollback()
		c.reject(evt, err)
		return fmt.Errorf("%s %s: %w", eventType, idempotencyKey, err)
	}

	// Step 4: digest and change set are read from the open transaction
	hashStart := time.Now()
	stateDigest := c.computeStateDigest()
	changes := c.collectChanges(now)
	c.tx.Commit()

	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(seq, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		AssetID:        evt.AssetID(),
		Timestamp:      time.Unix(now, 0).UTC(),
		SourceSequence: sourceSequence,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	c.sequence++
	c.lastTimestamp = now
	c.sequenceValidator.Advance(partition, sourceSequence)

	// Step 5: emit. Persistence blocks (no event is ever lost), projections
	// drop when full and catch up from the event log.
	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: stateDigest,
		Changes:    changes,
		Result:     result,
	}
	// replayed commands are already in the event log
	if c.persistChan != nil && !c.replaying {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}

	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		if batch != nil {
			for _, j := range batch.Journals {
				c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}
	c.logger.Debug().
		Int64("sequence", seq).
		Str("event_type", eventType).
		Str("idempotency_key", idempotencyKey).
		Hex("state_hash", stateHash[:]).
		Msg("applied")

	return nil
}

// partitionOf returns the ordering partition: one per feed for quotes, one
// per signing caller for everything else.
func (c *DeterministicCore) partitionOf(evt event.Event) string {
	if q, ok := evt.(*event.PriceQuote); ok {
		return PricePartition(q.FeedID)
	}
	return CallerPartition(evt.Sender())
}

func (c *DeterministicCore) buildBatch(eventRef string, seq, now int64) (*ledger.Batch, error) {
	journals := c.tokens.Journals()
	if len(journals) == 0 {
		return nil, nil
	}
	batch := ledger.NewBatch(eventRef, seq, time.Unix(now, 0).UnixMicro(), journals)
	if err := c.validator.ValidateBatchBalance(batch); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvariantViolation, err)
	}
	return batch, nil
}

// postCheckInvariants validates the records the command touched.
func (c *DeterministicCore) postCheckInvariants(seq int64) error {
	for _, token := range c.vault.Touched() {
		a, err := c.vault.Asset(token)
		if err != nil {
			return err
		}
		if a.ReservedAmount.Gt(&a.PoolAmount) {
			return fmt.Errorf("%w: %s reserved %s exceeds pool %s",
				errs.ErrInvariantViolation, token, a.ReservedAmount.Dec(), a.PoolAmount.Dec())
		}
		if a.PoolAmount.Gt(&a.TokenBalance) {
			return fmt.Errorf("%w: %s pool %s exceeds custody %s",
				errs.ErrInvariantViolation, token, a.PoolAmount.Dec(), a.TokenBalance.Dec())
		}
	}

	for _, key := range c.tokens.Touched() {
		if key != vault.Custody(key.Asset) || !c.vault.IsWhitelisted(key.Asset) {
			continue
		}
		a, err := c.vault.Asset(key.Asset)
		if err != nil {
			return err
		}
		held := c.tokens.GetBalance(key)
		if !held.Eq(&a.TokenBalance) {
			return fmt.Errorf("%w: %s custody holds %s, vault recorded %s",
				errs.ErrInvariantViolation, key.Asset, held.Dec(), a.TokenBalance.Dec())
		}
	}

	for _, key := range c.positions.Ledger.Touched() {
		p := c.positions.Ledger.Get(key)
		if err := position.ValidatePosition(p.Size, p.Collateral); err != nil {
			return fmt.Errorf("%w: position %s: %v", errs.ErrInvariantViolation, key, err)
		}
	}

	if c.supplyCheckInterval > 0 && seq > 0 && seq%c.supplyCheckInterval == 0 {
		if err := c.validator.ValidateSupply(); err != nil {
			return err
		}
	}
	return nil
}

func (c *DeterministicCore) countRejected(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *DeterministicCore) reject(evt event.Event, err error) {
	kind := errs.KindOf(err)
	c.countRejected(evt.EventType().String(), errs.Code(err))
	if c.metrics != nil {
		c.metrics.CoreRollbacks.WithLabelValues(string(kind)).Inc()
	}

	ev := c.logger.Warn()
	if errors.Is(err, errs.ErrInvariantViolation) {
		ev = c.logger.Error()
	}
	ev.Err(err).
		Str("event_type", evt.EventType().String()).
		Str("idempotency_key", evt.IdempotencyKey()).
		Str("caller", evt.Sender()).
		Str("error_kind", string(kind)).
		Str("error_code", errs.Code(err)).
		Msg("command rejected")
}

// GetSequence returns the next global sequence to assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// LastTimestamp is the versioned timestamp of the last applied command.
func (c *DeterministicCore) LastTimestamp() int64 {
	return c.lastTimestamp
}

// Replay re-applies a command read back from the event log at sequence and
// checks that it reproduces the logged state hash. The Postgres dedup tier
// and the persist channel are skipped: every logged command is already
// there.
func (c *DeterministicCore) Replay(evt event.Event, sequence int64, stateHash [32]byte) error {
	if sequence != c.sequence {
		return fmt.Errorf("replay: event %d, core expects %d", sequence, c.sequence)
	}
	c.idempotency.skipTier2 = true
	c.replaying = true
	defer func() {
		c.idempotency.skipTier2 = false
		c.replaying = false
	}()

	if err := c.ProcessEvent(evt); err != nil {
		return fmt.Errorf("replay %d: %w", sequence, err)
	}
	if c.sequence != sequence+1 {
		return fmt.Errorf("replay %d: command was skipped", sequence)
	}
	if got := c.hasher.GetPrevHash(); got != stateHash {
		return fmt.Errorf("replay %d: state hash %x, logged %x", sequence, got, stateHash)
	}
	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}
