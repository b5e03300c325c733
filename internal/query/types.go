package query

// Amounts in responses are decimal strings: USD values and prices in
// dollars, token amounts in whole tokens, funding rates as fractions.

// Freshness is attached to every live response.
type Freshness struct {
	AsOfSequence  int64  `json:"as_of_sequence"`
	AsOfTimestamp int64  `json:"as_of_timestamp"`
	StateHash     string `json:"state_hash"`
}

type PriceResponse struct {
	Asset string `json:"asset"`
	Max   string `json:"max"`
	Min   string `json:"min"`
	Freshness
}

type AumResponse struct {
	AumMax        string `json:"aum_max"`
	AumMin        string `json:"aum_min"`
	ShareSupply   string `json:"share_supply"`
	SharePriceMax string `json:"share_price_max"`
	SharePriceMin string `json:"share_price_min"`
	Freshness
}

type FundingResponse struct {
	Asset                 string `json:"asset"`
	CumulativeFundingRate string `json:"cumulative_funding_rate"`
	NextFundingRate       string `json:"next_funding_rate"`
	Freshness
}

type AssetResponse struct {
	Token          string `json:"token"`
	Decimals       uint8  `json:"decimals"`
	Weight         uint64 `json:"weight"`
	IsStable       bool   `json:"is_stable"`
	IsShortable    bool   `json:"is_shortable"`
	MaxUsdAmount   string `json:"max_usd_amount"`
	PoolAmount     string `json:"pool_amount"`
	ReservedAmount string `json:"reserved_amount"`
	GuaranteedUsd  string `json:"guaranteed_usd"`
	FeeReserve     string `json:"fee_reserve"`
	GlobalShort    string `json:"global_short_size"`
	GlobalShortAvg string `json:"global_short_average_price"`
	Freshness
}

type PositionResponse struct {
	Account          string `json:"account"`
	CollateralToken  string `json:"collateral_token"`
	IndexToken       string `json:"index_token"`
	Side             string `json:"side"`
	Open             bool   `json:"open"`
	Size             string `json:"size"`
	Collateral       string `json:"collateral"`
	AveragePrice     string `json:"average_price"`
	EntryFundingRate string `json:"entry_funding_rate"`
	ReserveAmount    string `json:"reserve_amount"`
	RealisedPnl      string `json:"realised_pnl"`
	LastIncreased    int64  `json:"last_increased_time"`
	// Derived at query time for open positions.
	UnrealisedPnl    string `json:"unrealised_pnl,omitempty"`
	LiquidationState string `json:"liquidation_state,omitempty"`
	Freshness
}

type BalanceResponse struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Balance string `json:"balance"`
	Freshness
}

// FundingHistoryEntry is one accrual read from the projection.
type FundingHistoryEntry struct {
	Asset          string `json:"asset"`
	FundingTime    int64  `json:"funding_time"`
	Intervals      uint64 `json:"intervals"`
	Increment      string `json:"increment"`
	CumulativeRate string `json:"cumulative_rate"`
}

// JournalHistoryEntry is a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"` // base units
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	// LoggedHead is the state hash of the newest persisted event; it lags
	// LiveHead only while the persistence worker catches up.
	LoggedSequence int64  `json:"logged_sequence"`
	LoggedHead     string `json:"logged_head"`
	LiveSequence   int64  `json:"live_sequence"`
	LiveHead       string `json:"live_head"`
}
