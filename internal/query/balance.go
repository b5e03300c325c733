package query

import (
	"context"

	"github.com/omxlabs/amx-sub001/internal/core"
	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/ledger"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
)

// GetBalance returns the ledger balance of account in token. The share
// token is reported with its 18 decimals.
func (qs *QueryService) GetBalance(ctx context.Context, account, token string) (*BalanceResponse, error) {
	if account == "" {
		return nil, errs.ErrInvalidParameter
	}
	var resp *BalanceResponse
	err := qs.read(ctx, "balance", func(v *core.View) error {
		decimals := int32(fpmath.ShareDecimals)
		if token != ledger.ShareAsset {
			a, err := v.Asset(token)
			if err != nil {
				return err
			}
			decimals = int32(a.Decimals)
		}
		bal := v.Balance(ledger.AccountKey{Scope: ledger.AccountScopeUser, Owner: account, Asset: token})
		resp = &BalanceResponse{
			Account:   account,
			Token:     token,
			Balance:   fpmath.ToDecimal(bal, decimals).String(),
			Freshness: freshness(v),
		}
		return nil
	})
	return resp, err
}
