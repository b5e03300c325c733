package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	fpmath "github.com/omxlabs/amx-sub001/internal/math"
)

func TestClassification(t *testing.T) {
	wrapped := fmt.Errorf("price for ETH: %w", ErrPriceTooOld)
	assert.Equal(t, KindOracle, KindOf(wrapped))
	assert.Equal(t, "PriceTooOld", Code(wrapped))

	_, err := fpmath.Sub(fpmath.U64(1), fpmath.U64(2))
	assert.Equal(t, KindArithmetic, KindOf(fmt.Errorf("reduce collateral: %w", err)))

	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, "Internal", Code(errors.New("boom")))
	assert.Equal(t, "", Code(nil))
}

func TestCodesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, e := range table {
		assert.False(t, seen[e.code], "duplicate code %s", e.code)
		seen[e.code] = true
	}
}
