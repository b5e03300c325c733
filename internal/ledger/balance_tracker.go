package ledger

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/errs"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
	"github.com/omxlabs/amx-sub001/internal/state"
)

// BalanceTracker is the fungible-token ledger: account balances, per-asset
// supply and the journal of every transfer in the open transaction.
type BalanceTracker struct {
	balances *state.Table[AccountKey, uint256.Int]
	supply   *state.Table[string, uint256.Int]
	pending  []Journal
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: state.NewTable[AccountKey, uint256.Int]("balances"),
		supply:   state.NewTable[string, uint256.Int]("supply"),
	}
}

// Transfer moves amount of asset from one account to another and records a
// journal. A zero amount is a no-op.
func (bt *BalanceTracker) Transfer(from, to AccountKey, amount uint256.Int, jt JournalType) error {
	if amount.IsZero() {
		return nil
	}
	if from.Asset != to.Asset {
		return fmt.Errorf("transfer %s -> %s: %w", from.AccountPath(), to.AccountPath(), errs.ErrInvalidTokenPair)
	}
	if from == to {
		return fmt.Errorf("transfer to self %s: %w", from.AccountPath(), errs.ErrInvalidSender)
	}

	if from.IsExternal() {
		minted, err := fpmath.Add(bt.supply.GetOrZero(from.Asset), amount)
		if err != nil {
			return fmt.Errorf("mint %s: %w", from.Asset, err)
		}
		bt.supply.Put(from.Asset, minted)
	} else {
		bal := bt.balances.GetOrZero(from)
		if bal.Lt(&amount) {
			return fmt.Errorf("%s has %s, needs %s: %w",
				from.AccountPath(), bal.Dec(), amount.Dec(), errs.ErrInsufficientBalance)
		}
		next, _ := fpmath.Sub(bal, amount)
		bt.put(from, next)
	}

	if to.IsExternal() {
		burned, err := fpmath.Sub(bt.supply.GetOrZero(to.Asset), amount)
		if err != nil {
			return fmt.Errorf("burn %s: %w", to.Asset, err)
		}
		bt.supply.Put(to.Asset, burned)
	} else {
		next, err := fpmath.Add(bt.balances.GetOrZero(to), amount)
		if err != nil {
			return fmt.Errorf("credit %s: %w", to.AccountPath(), err)
		}
		bt.put(to, next)
	}

	bt.pending = append(bt.pending, Journal{
		DebitAccount:  to,
		CreditAccount: from,
		Asset:         from.Asset,
		Amount:        amount,
		JournalType:   jt,
	})
	return nil
}

// Mint credits newly created units of asset to an account.
func (bt *BalanceTracker) Mint(to AccountKey, amount uint256.Int, jt JournalType) error {
	return bt.Transfer(ExternalAccount(to.Asset), to, amount, jt)
}

// Burn destroys units of asset held by an account.
func (bt *BalanceTracker) Burn(from AccountKey, amount uint256.Int, jt JournalType) error {
	return bt.Transfer(from, ExternalAccount(from.Asset), amount, jt)
}

func (bt *BalanceTracker) put(key AccountKey, v uint256.Int) {
	if v.IsZero() {
		bt.balances.Delete(key)
		return
	}
	bt.balances.Put(key, v)
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) uint256.Int {
	return bt.balances.GetOrZero(key)
}

// Supply returns the units of asset held inside the system.
func (bt *BalanceTracker) Supply(asset string) uint256.Int {
	return bt.supply.GetOrZero(asset)
}

// Journals returns the transfers recorded in the open transaction.
func (bt *BalanceTracker) Journals() []Journal {
	out := make([]Journal, len(bt.pending))
	copy(out, bt.pending)
	return out
}

// Touched returns the accounts written in the open transaction.
func (bt *BalanceTracker) Touched() []AccountKey {
	return bt.balances.Touched()
}

func (bt *BalanceTracker) Begin() {
	bt.balances.Begin()
	bt.supply.Begin()
	bt.pending = bt.pending[:0]
}

func (bt *BalanceTracker) Commit() {
	bt.balances.Commit()
	bt.supply.Commit()
	bt.pending = bt.pending[:0]
}

func (bt *BalanceTracker) Rollback() {
	bt.balances.Rollback()
	bt.supply.Rollback()
	bt.pending = bt.pending[:0]
}

// Snapshot returns a copy of all balances (for state hashing and snapshots)
func (bt *BalanceTracker) Snapshot() map[AccountKey]uint256.Int {
	snapshot := make(map[AccountKey]uint256.Int, bt.balances.Len())
	bt.balances.Range(func(k AccountKey, v uint256.Int) bool {
		snapshot[k] = v
		return true
	})
	return snapshot
}

// Restore loads a balance outside any transaction. Used by snapshot recovery.
func (bt *BalanceTracker) Restore(key AccountKey, balance uint256.Int) error {
	if key.IsExternal() {
		return fmt.Errorf("restore external account %s", key.AccountPath())
	}
	bt.put(key, balance)
	supply, err := fpmath.Add(bt.supply.GetOrZero(key.Asset), balance)
	if err != nil {
		return err
	}
	bt.supply.Put(key.Asset, supply)
	return nil
}

// CanonicalBytes encodes one account balance for state digests.
func CanonicalBytes(key AccountKey, balance uint256.Int) []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, byte(key.Scope))
	buf = state.AppendString(buf, key.Owner)
	buf = state.AppendString(buf, key.Asset)
	return state.AppendU256(buf, balance)
}
