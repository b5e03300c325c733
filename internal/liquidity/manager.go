// Package liquidity prices the pool share token and mints or burns it
// against vault deposits and redemptions.
package liquidity

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/ledger"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
	"github.com/omxlabs/amx-sub001/internal/shorts"
	"github.com/omxlabs/amx-sub001/internal/state"
	"github.com/omxlabs/amx-sub001/internal/vault"
)

const (
	MaxCooldown     = 48 * 3600
	DefaultCooldown = 15 * 60
)

// SenderValidator authorizes a caller to act for an account.
type SenderValidator interface {
	ValidateSender(caller, account string) error
}

// Manager is the LiquidityManager.
type Manager struct {
	vault    *vault.Vault
	shorts   *shorts.Tracker
	tokens   *ledger.BalanceTracker
	access   SenderValidator
	lastAdd  *state.Table[string, int64]
	cooldown *state.Cell[int64]
}

func NewManager(v *vault.Vault, s *shorts.Tracker, tokens *ledger.BalanceTracker, access SenderValidator, cooldown int64) *Manager {
	return &Manager{
		vault:    v,
		shorts:   s,
		tokens:   tokens,
		access:   access,
		lastAdd:  state.NewTable[string, int64]("last_added_at"),
		cooldown: state.NewCell(cooldown),
	}
}

// AddResult describes an applied AddLiquidity.
type AddResult struct {
	Account    string
	Token      string
	AmountIn   uint256.Int
	UsdIn      uint256.Int // after the mint fee
	Shares     uint256.Int
	AumBefore  uint256.Int
	SupplyPost uint256.Int
}

// RemoveResult describes an applied RemoveLiquidity.
type RemoveResult struct {
	Account    string
	Token      string
	Shares     uint256.Int
	UsdOut     uint256.Int
	AmountOut  uint256.Int
	AumBefore  uint256.Int
	SupplyPost uint256.Int
}

// GetAum values the pool: stable pools at price, non-stable pools at
// guaranteed USD plus unreserved tokens, net of aggregate short PnL.
// maximize selects the upper price of every asset.
func (m *Manager) GetAum(maximize bool, now int64) (uint256.Int, error) {
	var aum, shortProfits uint256.Int
	for _, token := range m.vault.Tokens() {
		a, err := m.vault.Asset(token)
		if err != nil {
			return uint256.Int{}, err
		}
		gs := m.shorts.Get(token)
		if a.PoolAmount.IsZero() && a.GuaranteedUsd.IsZero() && gs.Size.IsZero() {
			continue
		}

		var price uint256.Int
		if maximize {
			price, err = m.vault.GetMaxPrice(token, now)
		} else {
			price, err = m.vault.GetMinPrice(token, now)
		}
		if err != nil {
			return uint256.Int{}, err
		}

		if a.IsStable {
			usd, err := fpmath.TokenToUsd(a.PoolAmount, price, a.Decimals)
			if err != nil {
				return uint256.Int{}, err
			}
			if aum, err = fpmath.Add(aum, usd); err != nil {
				return uint256.Int{}, err
			}
			continue
		}

		shortsProfit, delta, err := m.shorts.GetGlobalShortDelta(token, price)
		if err != nil {
			return uint256.Int{}, err
		}
		if shortsProfit {
			shortProfits, err = fpmath.Add(shortProfits, delta)
		} else {
			aum, err = fpmath.Add(aum, delta)
		}
		if err != nil {
			return uint256.Int{}, err
		}

		if aum, err = fpmath.Add(aum, a.GuaranteedUsd); err != nil {
			return uint256.Int{}, err
		}
		unreserved, err := fpmath.Sub(a.PoolAmount, a.ReservedAmount)
		if err != nil {
			return uint256.Int{}, fmt.Errorf("%w: %s reserved above pool", errs.ErrInvariantViolation, token)
		}
		usd, err := fpmath.TokenToUsd(unreserved, price, a.Decimals)
		if err != nil {
			return uint256.Int{}, err
		}
		if aum, err = fpmath.Add(aum, usd); err != nil {
			return uint256.Int{}, err
		}
	}

	if shortProfits.Gt(&aum) {
		return uint256.Int{}, nil
	}
	return fpmath.Sub(aum, shortProfits)
}

// Supply is the outstanding share supply.
func (m *Manager) Supply() uint256.Int { return m.tokens.Supply(ledger.ShareAsset) }

// SharePrice is the USD value of one whole share. Zero supply prices at 1 USD.
func (m *Manager) SharePrice(maximize bool, now int64) (uint256.Int, error) {
	supply := m.Supply()
	if supply.IsZero() {
		return fpmath.OneUSD, nil
	}
	aum, err := m.GetAum(maximize, now)
	if err != nil {
		return uint256.Int{}, err
	}
	return fpmath.MulDiv(aum, fpmath.Pow10(fpmath.ShareDecimals), supply)
}

// AddLiquidity moves amount of token from account into the pool and mints
// shares at the pre-deposit AUM.
func (m *Manager) AddLiquidity(caller, account, token string, amount, minUsd, minShares uint256.Int, now int64) (AddResult, error) {
	if err := m.access.ValidateSender(caller, account); err != nil {
		return AddResult{}, err
	}
	if amount.IsZero() {
		return AddResult{}, fmt.Errorf("add liquidity: %w", errs.ErrInvalidAmount)
	}

	aum, err := m.GetAum(true, now)
	if err != nil {
		return AddResult{}, err
	}
	supply := m.Supply()

	if err := m.tokens.Transfer(ledger.UserAccount(account, token), vault.Custody(token), amount, ledger.JournalTypeLiquidityIn); err != nil {
		return AddResult{}, err
	}
	usd, _, err := m.vault.Deposit(token, now)
	if err != nil {
		return AddResult{}, err
	}
	if usd.Lt(&minUsd) {
		return AddResult{}, fmt.Errorf("deposit worth %s below %s: %w",
			fpmath.FormatUSD(usd), fpmath.FormatUSD(minUsd), errs.ErrInsufficientOutput)
	}

	var shares uint256.Int
	if supply.IsZero() || aum.IsZero() {
		// one share per USD
		shares, err = fpmath.Div(usd, fpmath.Pow10(fpmath.PriceDecimals-fpmath.ShareDecimals))
	} else {
		shares, err = fpmath.MulDiv(usd, supply, aum)
	}
	if err != nil {
		return AddResult{}, err
	}
	if shares.IsZero() || shares.Lt(&minShares) {
		return AddResult{}, fmt.Errorf("minted %s shares, want %s: %w", shares.Dec(), minShares.Dec(), errs.ErrInsufficientOutput)
	}

	if err := m.tokens.Mint(ledger.UserAccount(account, ledger.ShareAsset), shares, ledger.JournalTypeShareMint); err != nil {
		return AddResult{}, err
	}
	m.lastAdd.Put(account, now)

	return AddResult{
		Account:    account,
		Token:      token,
		AmountIn:   amount,
		UsdIn:      usd,
		Shares:     shares,
		AumBefore:  aum,
		SupplyPost: m.Supply(),
	}, nil
}

// RemoveLiquidity burns shares of account and pays their value in tokenOut
// to receiver, once the cooldown since the account's last add has elapsed.
func (m *Manager) RemoveLiquidity(caller, account, tokenOut string, shares, minOut uint256.Int, receiver string, now int64) (RemoveResult, error) {
	if err := m.access.ValidateSender(caller, account); err != nil {
		return RemoveResult{}, err
	}
	if shares.IsZero() {
		return RemoveResult{}, fmt.Errorf("remove liquidity: %w", errs.ErrInvalidAmount)
	}
	if last, ok := m.lastAdd.Get(account); ok {
		if until := last + m.cooldown.Get(); now < until {
			return RemoveResult{}, fmt.Errorf("account %s locked until %d: %w", account, until, errs.ErrCooldownActive)
		}
	}

	aum, err := m.GetAum(false, now)
	if err != nil {
		return RemoveResult{}, err
	}
	supply := m.Supply()
	if supply.IsZero() {
		return RemoveResult{}, fmt.Errorf("no shares outstanding: %w", errs.ErrInsufficientBalance)
	}
	usdOut, err := fpmath.MulDiv(shares, aum, supply)
	if err != nil {
		return RemoveResult{}, err
	}

	if err := m.tokens.Burn(ledger.UserAccount(account, ledger.ShareAsset), shares, ledger.JournalTypeShareBurn); err != nil {
		return RemoveResult{}, err
	}
	out, err := m.vault.Redeem(tokenOut, usdOut, receiver, now)
	if err != nil {
		return RemoveResult{}, err
	}
	if out.Lt(&minOut) {
		return RemoveResult{}, fmt.Errorf("redeemed %s %s, want %s: %w", out.Dec(), tokenOut, minOut.Dec(), errs.ErrInsufficientOutput)
	}

	return RemoveResult{
		Account:    account,
		Token:      tokenOut,
		Shares:     shares,
		UsdOut:     usdOut,
		AmountOut:  out,
		AumBefore:  aum,
		SupplyPost: m.Supply(),
	}, nil
}

func (m *Manager) Cooldown() int64 { return m.cooldown.Get() }

func (m *Manager) SetCooldown(seconds int64) error {
	if seconds < 0 || seconds > MaxCooldown {
		return fmt.Errorf("cooldown %d: %w", seconds, errs.ErrInvalidParameter)
	}
	m.cooldown.Set(seconds)
	return nil
}

// LastAddedAt returns when account last added liquidity.
func (m *Manager) LastAddedAt(account string) (int64, bool) { return m.lastAdd.Get(account) }

func (m *Manager) Accounts() []string { return state.StringKeys(m.lastAdd) }

func (m *Manager) Touched() []string { return m.lastAdd.Touched() }

func (m *Manager) Begin() {
	m.lastAdd.Begin()
	m.cooldown.Begin()
}

func (m *Manager) Commit() {
	m.lastAdd.Commit()
	m.cooldown.Commit()
}

func (m *Manager) Rollback() {
	m.lastAdd.Rollback()
	m.cooldown.Rollback()
}

// Restore loads an account's last add time outside any transaction.
func (m *Manager) Restore(account string, at int64) { m.lastAdd.Put(account, at) }

// RestoreCooldown loads the cooldown outside any transaction.
func (m *Manager) RestoreCooldown(seconds int64) { m.cooldown.Set(seconds) }

// CanonicalBytes encodes an account's last add time for state digests.
func CanonicalBytes(account string, at int64) []byte {
	buf := state.AppendString(make([]byte, 0, 32), account)
	return state.AppendInt64LE(buf, at)
}
