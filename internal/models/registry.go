package models

import "time"

// Exchange is a registered venue. Priority orders venue preference when the
// same symbol trades on several exchanges; lower wins.
type Exchange struct {
	ID       int64  `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	APIURI   string `json:"apiUri" db:"api_uri"`
	Priority int    `json:"priority" db:"priority"`
	Disabled bool   `json:"disabled" db:"disabled"`
}

// Symbol is a canonical trading pair in BASE/QUOTE form, e.g. "BTC/USDT".
type Symbol struct {
	ID       int64  `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Disabled bool   `json:"disabled" db:"disabled"`
}

// Market binds a symbol to an exchange under the venue's own spelling
// (the synonym), e.g. "BTC-USDT" on OKX for symbol "BTC/USDT".
type Market struct {
	SymbolID   int64  `json:"symbolId" db:"symbol_id"`
	ExchangeID int64  `json:"exchangeId" db:"exchange_id"`
	Synonym    string `json:"synonym" db:"synonym"`
	Disabled   bool   `json:"disabled" db:"disabled"`
}

// TopCoin is one entry of the externally ranked coin universe used to drive
// the minute-candle loop.
type TopCoin struct {
	Coin      string    `json:"coin" db:"coin"`
	Rank      int       `json:"rank" db:"rank"`
	Cost24    float64   `json:"cost24" db:"cost24"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ATHL is the price statistics row derived from one venue's daily candle
// series: distance from the all-time extremes plus Fibonacci quantiles of the
// daily closes. One row per (symbol, exchange).
type ATHL struct {
	SymbolID   int64     `json:"symbolId" db:"symbol_id"`
	ExchangeID int64     `json:"exchangeId" db:"exchange_id"`
	Symbol     string    `json:"symbol" db:"symbol"`
	High       float64   `json:"high" db:"high"`
	HighTime   time.Time `json:"highTime" db:"high_time"`
	Low        float64   `json:"low" db:"low"`
	LowTime    time.Time `json:"lowTime" db:"low_time"`
	Start      float64   `json:"start" db:"start"`
	StartTime  time.Time `json:"startTime" db:"start_time"`
	Close      float64   `json:"close" db:"close"`
	CloseTime  time.Time `json:"closeTime" db:"close_time"`
	Index      float64   `json:"index" db:"idx"`
	Position   float64   `json:"position" db:"position"`
	ATH        float64   `json:"ath" db:"ath"`
	Q236       float64   `json:"q236" db:"q236"`
	Q382       float64   `json:"q382" db:"q382"`
	Q500       float64   `json:"q500" db:"q500"`
	Q618       float64   `json:"q618" db:"q618"`
	Q786       float64   `json:"q786" db:"q786"`
	Updated    time.Time `json:"updated" db:"updated"`
}
