package ledger

import "fmt"

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	// External accounts are the boundary of the system. They have no tracked
	// balance: moving tokens out of one mints supply, moving tokens in burns it.
	AccountScopeExternal
)

// System account owners.
const (
	SystemVault = "vault"
)

// ShareAsset is the liquidity-share token minted by the liquidity manager.
const ShareAsset = "AMXLP"

// AccountKey identifies a token balance: one owner, one asset.
type AccountKey struct {
	Scope AccountScope
	Owner string
	Asset string
}

// UserAccount is an account-holder's wallet balance of asset.
func UserAccount(owner, asset string) AccountKey {
	return AccountKey{Scope: AccountScopeUser, Owner: owner, Asset: asset}
}

// SystemAccount is a balance held by the engine itself, e.g. the vault.
func SystemAccount(name, asset string) AccountKey {
	return AccountKey{Scope: AccountScopeSystem, Owner: name, Asset: asset}
}

// ExternalAccount is the outside world for asset.
func ExternalAccount(asset string) AccountKey {
	return AccountKey{Scope: AccountScopeExternal, Asset: asset}
}

func (k AccountKey) IsExternal() bool { return k.Scope == AccountScopeExternal }

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s", k.Owner, k.Asset)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.Owner, k.Asset)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s", k.Asset)
	}
	return "unknown"
}

// Compare orders keys by scope, owner, then asset.
func Compare(a, b AccountKey) int {
	switch {
	case a.Scope != b.Scope:
		return int(a.Scope) - int(b.Scope)
	case a.Owner != b.Owner:
		if a.Owner < b.Owner {
			return -1
		}
		return 1
	case a.Asset != b.Asset:
		if a.Asset < b.Asset {
			return -1
		}
		return 1
	}
	return 0
}
