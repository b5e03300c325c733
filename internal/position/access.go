package position

import (
	"fmt"

	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/state"
)

// RouterKey is an account's approval of a router.
type RouterKey struct {
	Account string
	Router  string
}

// Access holds router approvals and the liquidator registry.
type Access struct {
	routers     *state.Table[RouterKey, bool]
	liquidators *state.Table[string, bool]
}

func NewAccess() *Access {
	return &Access{
		routers:     state.NewTable[RouterKey, bool]("routers"),
		liquidators: state.NewTable[string, bool]("liquidators"),
	}
}

// SetRouter approves or revokes router for account.
func (a *Access) SetRouter(account, router string, approved bool) {
	k := RouterKey{Account: account, Router: router}
	if approved {
		a.routers.Put(k, true)
		return
	}
	a.routers.Delete(k)
}

func (a *Access) SetLiquidator(liquidator string, active bool) {
	if active {
		a.liquidators.Put(liquidator, true)
		return
	}
	a.liquidators.Delete(liquidator)
}

func (a *Access) IsLiquidator(caller string) bool { return a.liquidators.Has(caller) }

// ValidateSender allows the account itself or a router it approved.
func (a *Access) ValidateSender(caller, account string) error {
	if caller == account || a.routers.Has(RouterKey{Account: account, Router: caller}) {
		return nil
	}
	return fmt.Errorf("%s acting for %s: %w", caller, account, errs.ErrInvalidSender)
}

// Routers returns every approval, for snapshots.
func (a *Access) Routers() []RouterKey {
	out := make([]RouterKey, 0, a.routers.Len())
	a.routers.Range(func(k RouterKey, _ bool) bool {
		out = append(out, k)
		return true
	})
	return out
}

// Liquidators returns every registered liquidator, sorted.
func (a *Access) Liquidators() []string { return state.StringKeys(a.liquidators) }

func (a *Access) Begin() {
	a.routers.Begin()
	a.liquidators.Begin()
}

func (a *Access) Commit() {
	a.routers.Commit()
	a.liquidators.Commit()
}

func (a *Access) Rollback() {
	a.routers.Rollback()
	a.liquidators.Rollback()
}

// Touched returns the approvals and liquidators written in the open
// transaction, deleted ones included.
func (a *Access) Touched() ([]RouterKey, []string) {
	return a.routers.Touched(), a.liquidators.Touched()
}

// IsApproved reports whether account approved router.
func (a *Access) IsApproved(account, router string) bool {
	return a.routers.Has(RouterKey{Account: account, Router: router})
}

// CanonicalBytes encodes an approval for state digests.
func (k RouterKey) CanonicalBytes(approved bool) []byte {
	buf := make([]byte, 0, 64)
	buf = state.AppendString(buf, k.Account)
	buf = state.AppendString(buf, k.Router)
	return state.AppendBool(buf, approved)
}
