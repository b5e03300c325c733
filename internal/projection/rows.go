package projection

import (
	"github.com/omxlabs/amx-sub001/internal/core"
)

// PositionRow is a row of projections.positions. Amounts are decimal
// strings of the raw fixed-point values.
type PositionRow struct {
	Account           string
	CollateralToken   string
	IndexToken        string
	IsLong            bool
	Size              string
	Collateral        string
	AveragePrice      string
	EntryFundingRate  string
	ReserveAmount     string
	RealisedPnl       string
	LastIncreasedTime int64
	IsOpen            bool
}

type AssetRow struct {
	Token                 string
	Decimals              uint8
	Weight                uint64
	IsStable              bool
	IsShortable           bool
	PoolAmount            string
	ReservedAmount        string
	GuaranteedUsd         string
	FeeReserve            string
	CumulativeFundingRate string
	LastFundingTime       int64
}

type ShortRow struct {
	IndexToken   string
	Size         string
	AveragePrice string
}

// FundingRow is one accrual in projections.funding_history.
type FundingRow struct {
	Asset          string
	FundingTime    int64
	Intervals      uint64
	Increment      string
	CumulativeRate string
	PoolAmount     string
	ReservedAmount string
}

type PriceRow struct {
	FeedID      string
	Price       int64
	Confidence  uint64
	Exponent    int32
	PublishTime int64
}

type AumRow struct {
	Max         string
	Min         string
	ShareSupply string
	At          int64
}

// Rows is everything one command changes in the projection tables.
type Rows struct {
	Sequence  int64
	EventType string
	Positions []PositionRow
	Assets    []AssetRow
	Shorts    []ShortRow
	Funding   []FundingRow
	Prices    []PriceRow
	Aum       *AumRow
}

// Empty reports whether the command left the projections untouched.
func (r Rows) Empty() bool {
	return len(r.Positions) == 0 && len(r.Assets) == 0 && len(r.Shorts) == 0 &&
		len(r.Funding) == 0 && len(r.Prices) == 0 && r.Aum == nil
}

// RowsFromOutput flattens the typed changes of a core output.
func RowsFromOutput(out core.CoreOutput) Rows {
	rows := Rows{
		Sequence:  out.Envelope.Sequence,
		EventType: out.Envelope.EventType.String(),
	}
	ch := out.Changes
	if ch == nil {
		return rows
	}

	for _, pc := range ch.Positions {
		p := pc.Position
		rows.Positions = append(rows.Positions, PositionRow{
			Account:           pc.Key.Account,
			CollateralToken:   pc.Key.CollateralToken,
			IndexToken:        pc.Key.IndexToken,
			IsLong:            pc.Key.IsLong,
			Size:              p.Size.Dec(),
			Collateral:        p.Collateral.Dec(),
			AveragePrice:      p.AveragePrice.Dec(),
			EntryFundingRate:  p.EntryFundingRate.Dec(),
			ReserveAmount:     p.ReserveAmount.Dec(),
			RealisedPnl:       p.RealisedPnl.String(),
			LastIncreasedTime: p.LastIncreasedTime,
			IsOpen:            p.IsOpen(),
		})
	}

	for _, ac := range ch.Assets {
		a := ac.Asset
		rows.Assets = append(rows.Assets, AssetRow{
			Token:                 ac.Token,
			Decimals:              a.Decimals,
			Weight:                a.Weight,
			IsStable:              a.IsStable,
			IsShortable:           a.IsShortable,
			PoolAmount:            a.PoolAmount.Dec(),
			ReservedAmount:        a.ReservedAmount.Dec(),
			GuaranteedUsd:         a.GuaranteedUsd.Dec(),
			FeeReserve:            a.FeeReserve.Dec(),
			CumulativeFundingRate: ac.CumulativeFundingRate.Dec(),
			LastFundingTime:       ac.LastFundingTime,
		})
	}

	for _, sc := range ch.Shorts {
		rows.Shorts = append(rows.Shorts, ShortRow{
			IndexToken:   sc.Index,
			Size:         sc.Short.Size.Dec(),
			AveragePrice: sc.Short.AveragePrice.Dec(),
		})
	}

	for _, acc := range ch.Accruals {
		rows.Funding = append(rows.Funding, FundingRow{
			Asset:          acc.Asset,
			FundingTime:    acc.FundingTime,
			Intervals:      acc.Intervals,
			Increment:      acc.Increment.Dec(),
			CumulativeRate: acc.CumulativeRate.Dec(),
			PoolAmount:     acc.PoolAmount.Dec(),
			ReservedAmount: acc.ReservedAmount.Dec(),
		})
	}

	for _, qc := range ch.Quotes {
		rows.Prices = append(rows.Prices, PriceRow{
			FeedID:      qc.FeedID,
			Price:       qc.Quote.Price,
			Confidence:  qc.Quote.Confidence,
			Exponent:    qc.Quote.Exponent,
			PublishTime: qc.Quote.PublishTime,
		})
	}

	if ch.Aum != nil {
		rows.Aum = &AumRow{
			Max:         ch.Aum.Max.Dec(),
			Min:         ch.Aum.Min.Dec(),
			ShareSupply: ch.Aum.ShareSupply.Dec(),
			At:          ch.Aum.At,
		}
	}
	return rows
}
