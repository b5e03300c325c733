package ledger

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/omxlabs/amx-sub001/internal/errs"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateSupply verifies that for every asset the balances held inside the
// system add up to its supply: tokens are only created or destroyed at the
// external boundary.
func (v *InvariantValidator) ValidateSupply() error {
	totals := make(map[string]uint256.Int)
	for key, bal := range v.tracker.Snapshot() {
		sum, err := fpmath.Add(totals[key.Asset], bal)
		if err != nil {
			return err
		}
		totals[key.Asset] = sum
	}

	var mismatch error
	v.tracker.supply.Range(func(asset string, supply uint256.Int) bool {
		total := totals[asset]
		if !total.Eq(&supply) {
			mismatch = fmt.Errorf("%w: %s balances sum to %s, supply is %s",
				errs.ErrInvariantViolation, asset, total.Dec(), supply.Dec())
			return false
		}
		delete(totals, asset)
		return true
	})
	if mismatch != nil {
		return mismatch
	}
	for asset, total := range totals {
		if !total.IsZero() {
			return fmt.Errorf("%w: %s has balances but no supply", errs.ErrInvariantViolation, asset)
		}
	}
	return nil
}
