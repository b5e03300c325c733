package core

import (
	"context"
	"errors"

	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/event"
	"github.com/omxlabs/amx-sub001/internal/ledger"
	"github.com/omxlabs/amx-sub001/internal/position"
	"github.com/omxlabs/amx-sub001/internal/shorts"
	"github.com/omxlabs/amx-sub001/internal/vault"
)

// ErrSequencerStopped is returned to submissions and reads that arrive
// after Run has returned.
var ErrSequencerStopped = errors.New("sequencer stopped")

// Submission is one command queued for the core. Done, when set, receives
// the ProcessEvent result on the sequencer goroutine and must not block.
type Submission struct {
	Event event.Event
	Done  func(error)
}

type readRequest struct {
	fn   func(*View) error
	done chan error
}

// Sequencer owns the core and serializes every access to it: commands from
// all ingestion sources and reads from the query side run one at a time on
// the Run goroutine.
type Sequencer struct {
	core        *DeterministicCore
	submissions chan Submission
	reads       chan readRequest
	stopped     chan struct{}
}

func NewSequencer(core *DeterministicCore, buffer int) *Sequencer {
	return &Sequencer{
		core:        core,
		submissions: make(chan Submission, buffer),
		reads:       make(chan readRequest),
		stopped:     make(chan struct{}),
	}
}

// Run processes submissions and reads until ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context) error {
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub := <-s.submissions:
			err := s.core.ProcessEvent(sub.Event)
			if sub.Done != nil {
				sub.Done(err)
			}
		case req := <-s.reads:
			req.done <- s.core.read(req.fn)
		}
	}
}

// Enqueue queues evt without waiting for it to apply.
func (s *Sequencer) Enqueue(ctx context.Context, evt event.Event, done func(error)) error {
	select {
	case s.submissions <- Submission{Event: evt, Done: done}:
		return nil
	case <-s.stopped:
		return ErrSequencerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues evt and waits for its result.
func (s *Sequencer) Submit(ctx context.Context, evt event.Event) error {
	result := make(chan error, 1)
	if err := s.Enqueue(ctx, evt, func(err error) { result <- err }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-s.stopped:
		return ErrSequencerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read runs fn on the sequencer goroutine between two commands.
func (s *Sequencer) Read(ctx context.Context, fn func(*View) error) error {
	req := readRequest{fn: fn, done: make(chan error, 1)}
	select {
	case s.reads <- req:
	case <-s.stopped:
		return ErrSequencerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-s.stopped:
		return ErrSequencerStopped
	}
}

// QueueDepth reports how many submissions are waiting.
func (s *Sequencer) QueueDepth() (int, int) {
	return len(s.submissions), cap(s.submissions)
}

// read runs fn with the call guard held, so a view can never re-enter
// ProcessEvent.
func (c *DeterministicCore) read(fn func(*View) error) error {
	if c.inCall {
		return errs.ErrReentrantCall
	}
	c.inCall = true
	defer func() { c.inCall = false }()
	return fn(&View{c: c})
}

// Read runs fn against the core directly. Only for callers that already own
// the core, such as replay at startup and tests.
func (c *DeterministicCore) Read(fn func(*View) error) error {
	return c.read(fn)
}

// View is a read-only window on the core. Prices are evaluated at the
// timestamp of the last applied command, never the wall clock.
type View struct {
	c *DeterministicCore
}

// Process tries to apply a command from inside a view. It always fails:
// the core is busy serving the view.
func (v *View) Process(evt event.Event) error {
	return v.c.ProcessEvent(evt)
}

func (v *View) Now() int64          { return v.c.lastTimestamp }
func (v *View) Sequence() int64     { return v.c.sequence }
func (v *View) StateHash() [32]byte { return v.c.hasher.GetPrevHash() }
func (v *View) Gov() string         { return v.c.gov.Get() }

func (v *View) Price(asset string, maximize bool) (uint256.Int, error) {
	return v.c.oracle.GetPrice(asset, maximize, v.c.lastTimestamp)
}

func (v *View) Aum(maximize bool) (uint256.Int, error) {
	return v.c.liquidity.GetAum(maximize, v.c.lastTimestamp)
}

func (v *View) SharePrice(maximize bool) (uint256.Int, error) {
	return v.c.liquidity.SharePrice(maximize, v.c.lastTimestamp)
}

func (v *View) ShareSupply() uint256.Int { return v.c.liquidity.Supply() }

func (v *View) CumulativeFundingRate(asset string) uint256.Int {
	return v.c.funding.CumulativeFundingRate(asset)
}

func (v *View) NextFundingRate(asset string) (uint256.Int, error) {
	return v.c.funding.GetNextFundingRate(asset, v.c.lastTimestamp)
}

func (v *View) Asset(token string) (vault.Asset, error) { return v.c.vault.Asset(token) }

func (v *View) Tokens() []string { return v.c.vault.Tokens() }

func (v *View) FeeReserve(token string) (uint256.Int, error) {
	return v.c.vault.Fees().Reserve(token)
}

func (v *View) GlobalShort(index string) shorts.GlobalShort { return v.c.shorts.Get(index) }

func (v *View) Balance(key ledger.AccountKey) uint256.Int { return v.c.tokens.GetBalance(key) }

// Position returns the stored position and whether it is open.
func (v *View) Position(key position.Key) (position.Position, bool) {
	p := v.c.positions.Ledger.Get(key)
	return p, p.IsOpen()
}

// Positions returns every position of account, closed ones included.
func (v *View) Positions(account string) map[position.Key]position.Position {
	return v.c.positions.Ledger.ByAccount(account)
}

// PositionDelta is the unrealised PnL of an open position.
func (v *View) PositionDelta(key position.Key) (bool, uint256.Int, error) {
	p, ok := v.Position(key)
	if !ok {
		return false, uint256.Int{}, errs.ErrPositionNotFound
	}
	return v.c.positions.Utils.GetDelta(key.IndexToken, p.Size, p.AveragePrice, key.IsLong, p.LastIncreasedTime, v.c.lastTimestamp)
}

// LiquidationState evaluates an open position without raising.
func (v *View) LiquidationState(key position.Key) (position.LiquidationState, uint256.Int, error) {
	p, ok := v.Position(key)
	if !ok {
		return position.Healthy, uint256.Int{}, errs.ErrPositionNotFound
	}
	return v.c.positions.Utils.ValidateLiquidation(key, p, false, v.c.lastTimestamp)
}

// Snapshot captures the full state for persistence.
func (v *View) Snapshot() *SnapshotState { return v.c.CreateSnapshotState() }
