// Package position holds the position ledger and the three engines that
// mutate it: increase, decrease and liquidation.
package position

import (
	"cmp"
	"fmt"

	"github.com/holiman/uint256"

	fpmath "github.com/omxlabs/amx-sub001/internal/math"
	"github.com/omxlabs/amx-sub001/internal/state"
)

// Key identifies a position.
type Key struct {
	Account         string
	CollateralToken string
	IndexToken      string
	IsLong          bool
}

func (k Key) Side() string {
	if k.IsLong {
		return "long"
	}
	return "short"
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Account, k.CollateralToken, k.IndexToken, k.Side())
}

// CompareKeys orders keys by account, collateral, index, then longs first.
func CompareKeys(a, b Key) int {
	if c := cmp.Compare(a.Account, b.Account); c != 0 {
		return c
	}
	if c := cmp.Compare(a.CollateralToken, b.CollateralToken); c != 0 {
		return c
	}
	if c := cmp.Compare(a.IndexToken, b.IndexToken); c != 0 {
		return c
	}
	switch {
	case a.IsLong == b.IsLong:
		return 0
	case a.IsLong:
		return -1
	default:
		return 1
	}
}

// Position is a leveraged exposure. USD values are 1e30, the funding rate is
// 1e6 and the reserve is in collateral-token units.
type Position struct {
	Size              uint256.Int
	Collateral        uint256.Int
	AveragePrice      uint256.Int
	EntryFundingRate  uint256.Int
	ReserveAmount     uint256.Int
	RealisedPnl       fpmath.Signed
	LastIncreasedTime int64
}

// IsOpen reports whether the position has size.
func (p Position) IsOpen() bool { return !p.Size.IsZero() }

// closed zeroes every exposure field and keeps the lifetime realised PnL.
func (p Position) closed() Position {
	return Position{RealisedPnl: p.RealisedPnl, LastIncreasedTime: p.LastIncreasedTime}
}

// CanonicalBytes returns deterministic serialization for hashing
func (p Position) CanonicalBytes(k Key) []byte {
	buf := make([]byte, 0, 256)
	buf = state.AppendString(buf, k.Account)
	buf = state.AppendString(buf, k.CollateralToken)
	buf = state.AppendString(buf, k.IndexToken)
	buf = state.AppendBool(buf, k.IsLong)
	buf = state.AppendU256(buf, p.Size)
	buf = state.AppendU256(buf, p.Collateral)
	buf = state.AppendU256(buf, p.AveragePrice)
	buf = state.AppendU256(buf, p.EntryFundingRate)
	buf = state.AppendU256(buf, p.ReserveAmount)
	buf = state.AppendSigned(buf, p.RealisedPnl)
	return state.AppendInt64LE(buf, p.LastIncreasedTime)
}

// Ledger is the PositionLedger. Only the engines in this package write to it.
type Ledger struct {
	positions *state.Table[Key, Position]
}

func NewLedger() *Ledger {
	return &Ledger{positions: state.NewTable[Key, Position]("positions")}
}

// Get returns the position for key, or the zero position.
func (l *Ledger) Get(key Key) Position { return l.positions.GetOrZero(key) }

func (l *Ledger) put(key Key, p Position) { l.positions.Put(key, p) }

// Keys returns every position key ever opened, sorted.
func (l *Ledger) Keys() []Key { return state.SortedKeys(l.positions, CompareKeys) }

// ByAccount returns the positions of one account.
func (l *Ledger) ByAccount(account string) map[Key]Position {
	out := make(map[Key]Position)
	l.positions.Range(func(k Key, p Position) bool {
		if k.Account == account {
			out[k] = p
		}
		return true
	})
	return out
}

// Range visits every position in unspecified order.
func (l *Ledger) Range(fn func(Key, Position) bool) { l.positions.Range(fn) }

func (l *Ledger) Touched() []Key { return l.positions.Touched() }

func (l *Ledger) Begin()    { l.positions.Begin() }
func (l *Ledger) Commit()   { l.positions.Commit() }
func (l *Ledger) Rollback() { l.positions.Rollback() }

// Restore loads a position outside any transaction.
func (l *Ledger) Restore(key Key, p Position) { l.positions.Put(key, p) }
