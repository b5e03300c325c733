package position

import (
	"github.com/omxlabs/amx-sub001/internal/funding"
	"github.com/omxlabs/amx-sub001/internal/shorts"
	"github.com/omxlabs/amx-sub001/internal/state"
	"github.com/omxlabs/amx-sub001/internal/vault"
)

// engineDeps is what every position engine reads and writes.
type engineDeps struct {
	ledger  *Ledger
	access  *Access
	utils   *Utils
	vault   *vault.Vault
	funding *funding.Engine
	shorts  *shorts.Tracker
}

// Positions wires the ledger, the shared utilities and the three engines.
type Positions struct {
	Ledger      *Ledger
	Access      *Access
	Utils       *Utils
	Increase    *IncreaseEngine
	Decrease    *DecreaseEngine
	Liquidation *LiquidationEngine

	params *state.Cell[Params]
}

func New(v *vault.Vault, f *funding.Engine, s *shorts.Tracker, params Params) *Positions {
	cell := state.NewCell(params)
	deps := &engineDeps{
		ledger:  NewLedger(),
		access:  NewAccess(),
		utils:   &Utils{vault: v, funding: f, params: cell},
		vault:   v,
		funding: f,
		shorts:  s,
	}
	return &Positions{
		Ledger:      deps.ledger,
		Access:      deps.access,
		Utils:       deps.utils,
		Increase:    &IncreaseEngine{deps},
		Decrease:    &DecreaseEngine{deps},
		Liquidation: &LiquidationEngine{deps},
		params:      cell,
	}
}

func (p *Positions) Params() Params { return p.params.Get() }

// SetParams replaces leverage and profit-time limits.
func (p *Positions) SetParams(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	p.params.Set(params)
	return nil
}

// RestoreParams loads limits outside any transaction.
func (p *Positions) RestoreParams(params Params) { p.params.Set(params) }

func (p *Positions) Begin() {
	p.Ledger.Begin()
	p.Access.Begin()
	p.params.Begin()
}

func (p *Positions) Commit() {
	p.Ledger.Commit()
	p.Access.Commit()
	p.params.Commit()
}

func (p *Positions) Rollback() {
	p.Ledger.Rollback()
	p.Access.Rollback()
	p.params.Rollback()
}
