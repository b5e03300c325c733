package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeCollateralIn
	JournalTypeCollateralOut
	JournalTypeSwapIn
	JournalTypeSwapOut
	JournalTypeLiquidityIn
	JournalTypeLiquidityOut
	JournalTypeShareMint
	JournalTypeShareBurn
	JournalTypeLiquidationFee
	JournalTypeFeeWithdrawal
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeCollateralIn:
		return "collateral_in"
	case JournalTypeCollateralOut:
		return "collateral_out"
	case JournalTypeSwapIn:
		return "swap_in"
	case JournalTypeSwapOut:
		return "swap_out"
	case JournalTypeLiquidityIn:
		return "liquidity_in"
	case JournalTypeLiquidityOut:
		return "liquidity_out"
	case JournalTypeShareMint:
		return "share_mint"
	case JournalTypeShareBurn:
		return "share_burn"
	case JournalTypeLiquidationFee:
		return "liquidation_fee"
	case JournalTypeFeeWithdrawal:
		return "fee_withdrawal"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string     // Idempotency key of source event
	Sequence      int64      // Global event sequence
	DebitAccount  AccountKey // Balance increases
	CreditAccount AccountKey // Balance decreases
	Asset         string
	Amount        uint256.Int // ALWAYS positive
	JournalType   JournalType
	Timestamp     int64 // Versioned input timestamp (epoch microseconds)
}

// Batch is every journal produced by one command.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// NewBatch stamps journals with IDs derived from the event reference, so a
// replay of the same command yields byte-identical journals.
func NewBatch(eventRef string, sequence, timestamp int64, journals []Journal) *Batch {
	batchID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("batch/%s/%d", eventRef, sequence)))
	b := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, len(journals)),
	}
	for i, j := range journals {
		j.JournalID = uuid.NewSHA1(batchID, []byte(fmt.Sprintf("%d", i)))
		j.BatchID = batchID
		j.EventRef = eventRef
		j.Sequence = sequence
		j.Timestamp = timestamp
		b.Journals[i] = j
	}
	return b
}

// Validate ensures the batch is well-formed. Each journal is a single positive
// amount moved between two accounts of the same asset, so every entry is
// balanced on its own.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount.IsZero() {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.Asset != j.Asset || j.CreditAccount.Asset != j.Asset {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
