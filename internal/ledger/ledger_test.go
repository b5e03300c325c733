package ledger_test

import (
	"errors"
	"testing"

	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/ledger"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_Paths(t *testing.T) {
	cases := []struct {
		key  ledger.AccountKey
		want string
	}{
		{ledger.UserAccount("alice", "USDC"), "user:alice:USDC"},
		{ledger.SystemAccount(ledger.SystemVault, "ETH"), "system:vault:ETH"},
		{ledger.ExternalAccount("BTC"), "external:BTC"},
	}
	for _, c := range cases {
		if got := c.key.AccountPath(); got != c.want {
			t.Errorf("got %q, want %q", got, c.want)
		}
	}
}

func TestAccountKey_Compare(t *testing.T) {
	a := ledger.UserAccount("alice", "ETH")
	b := ledger.UserAccount("bob", "ETH")
	if ledger.Compare(a, b) >= 0 {
		t.Error("alice should sort before bob")
	}
	if ledger.Compare(a, a) != 0 {
		t.Error("key should equal itself")
	}
	if ledger.Compare(ledger.SystemAccount("vault", "ETH"), a) <= 0 {
		t.Error("system scope should sort after user scope")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_MintTransferBurn(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	alice := ledger.UserAccount("alice", "USDC")
	vault := ledger.SystemAccount(ledger.SystemVault, "USDC")

	if err := bt.Mint(alice, fpmath.U64(100), ledger.JournalTypeDeposit); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := bt.Transfer(alice, vault, fpmath.U64(40), ledger.JournalTypeCollateralIn); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := bt.Burn(alice, fpmath.U64(10), ledger.JournalTypeWithdrawal); err != nil {
		t.Fatalf("burn: %v", err)
	}

	if got := bt.GetBalance(alice); got != fpmath.U64(50) {
		t.Errorf("alice balance = %s, want 50", got.Dec())
	}
	if got := bt.GetBalance(vault); got != fpmath.U64(40) {
		t.Errorf("vault balance = %s, want 40", got.Dec())
	}
	if got := bt.Supply("USDC"); got != fpmath.U64(90) {
		t.Errorf("supply = %s, want 90", got.Dec())
	}
	if n := len(bt.Journals()); n != 3 {
		t.Errorf("expected 3 journals, got %d", n)
	}

	if err := ledger.NewInvariantValidator(bt).ValidateSupply(); err != nil {
		t.Errorf("supply invariant: %v", err)
	}
}

func TestBalanceTracker_InsufficientBalance(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	alice := ledger.UserAccount("alice", "USDC")
	vault := ledger.SystemAccount(ledger.SystemVault, "USDC")

	err := bt.Transfer(alice, vault, fpmath.U64(1), ledger.JournalTypeCollateralIn)
	if !errors.Is(err, errs.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestBalanceTracker_MixedAssetsRejected(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	err := bt.Transfer(ledger.UserAccount("a", "ETH"), ledger.UserAccount("b", "USDC"), fpmath.U64(1), ledger.JournalTypeSwapIn)
	if !errors.Is(err, errs.ErrInvalidTokenPair) {
		t.Fatalf("expected ErrInvalidTokenPair, got %v", err)
	}
}

func TestBalanceTracker_RollbackDiscardsTransfersAndJournals(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	alice := ledger.UserAccount("alice", "ETH")
	_ = bt.Mint(alice, fpmath.U64(5), ledger.JournalTypeDeposit)

	bt.Begin()
	_ = bt.Mint(alice, fpmath.U64(7), ledger.JournalTypeDeposit)
	if len(bt.Journals()) != 1 {
		t.Fatalf("expected one journal in transaction")
	}
	bt.Rollback()

	if got := bt.GetBalance(alice); got != fpmath.U64(5) {
		t.Errorf("balance after rollback = %s, want 5", got.Dec())
	}
	if got := bt.Supply("ETH"); got != fpmath.U64(5) {
		t.Errorf("supply after rollback = %s, want 5", got.Dec())
	}
	if len(bt.Journals()) != 0 {
		t.Error("rollback should discard pending journals")
	}
}

// ============================================================================
// Test: Batch
// ============================================================================

func TestBatch_DeterministicIDs(t *testing.T) {
	j := ledger.Journal{
		DebitAccount:  ledger.UserAccount("alice", "ETH"),
		CreditAccount: ledger.ExternalAccount("ETH"),
		Asset:         "ETH",
		Amount:        fpmath.U64(1),
		JournalType:   ledger.JournalTypeDeposit,
	}
	b1 := ledger.NewBatch("cmd-1", 7, 1000, []ledger.Journal{j})
	b2 := ledger.NewBatch("cmd-1", 7, 1000, []ledger.Journal{j})

	if b1.BatchID != b2.BatchID || b1.Journals[0].JournalID != b2.Journals[0].JournalID {
		t.Error("replaying the same command must yield identical journal IDs")
	}
	if err := b1.Validate(); err != nil {
		t.Errorf("valid batch rejected: %v", err)
	}
}

func TestBatch_RejectsEmptyAndZero(t *testing.T) {
	if err := ledger.NewBatch("x", 1, 0, nil).Validate(); err == nil {
		t.Error("empty batch should be rejected")
	}
	zero := ledger.Journal{
		DebitAccount:  ledger.UserAccount("alice", "ETH"),
		CreditAccount: ledger.ExternalAccount("ETH"),
		Asset:         "ETH",
	}
	if err := ledger.NewBatch("x", 1, 0, []ledger.Journal{zero}).Validate(); err == nil {
		t.Error("zero-amount journal should be rejected")
	}
}
