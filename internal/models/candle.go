// Package models holds the core data structures of the collector: candles,
// registry records for exchanges, symbols and markets, top-coin snapshots and
// per-symbol price statistics.
package models

import (
	"fmt"
	"time"
)

// Candle is one OHLCV bucket. Time is the bucket open time, always UTC and
// aligned to the owning timeframe. Prices and volume are parsed from the
// venue's decimal strings at the adapter boundary.
type Candle struct {
	Time   time.Time `json:"time" db:"time"`
	Open   float64   `json:"open" db:"open"`
	High   float64   `json:"high" db:"high"`
	Low    float64   `json:"low" db:"low"`
	Close  float64   `json:"close" db:"close"`
	Volume float64   `json:"volume" db:"volume"`
	Trades int64     `json:"trades" db:"trades"`
}

// ValidationError reports a candle field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate checks structural sanity of the candle. Venues occasionally return
// zero-volume or flat candles, so only relationships that indicate corrupt
// data are rejected.
func (c *Candle) Validate() error {
	if c.Time.IsZero() {
		return &ValidationError{Field: "time", Message: "time cannot be zero"}
	}
	if c.Open < 0 || c.High < 0 || c.Low < 0 || c.Close < 0 {
		return &ValidationError{Field: "price", Message: "prices cannot be negative"}
	}
	if c.Volume < 0 {
		return &ValidationError{Field: "volume", Message: "volume cannot be negative"}
	}
	if c.High < c.Low {
		return &ValidationError{Field: "high", Message: fmt.Sprintf("high (%g) below low (%g)", c.High, c.Low)}
	}
	if c.Trades < 0 {
		return &ValidationError{Field: "trades", Message: "trade count cannot be negative"}
	}
	return nil
}

func (c *Candle) String() string {
	return fmt.Sprintf("Candle{%s O:%g H:%g L:%g C:%g V:%g T:%d}",
		c.Time.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume, c.Trades)
}
