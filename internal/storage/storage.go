// Package storage persists the collector's registry, candle series, derived
// statistics and scheduling markers. The production backend is DuckDB; an
// in-memory implementation backs tests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Angry-Robot-Deals/candle-collector/internal/models"
	"github.com/Angry-Robot-Deals/candle-collector/internal/timeframe"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("storage: not found")

// StorageError wraps a backend failure with the operation and table involved.
type StorageError struct {
	Op    string
	Table string
	Err   error
}

func (e *StorageError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func newStorageError(op, table string, err error) *StorageError {
	return &StorageError{Op: op, Table: table, Err: err}
}

// MarketInfo is a market joined with its symbol name, as the ingestion loops
// consume it.
type MarketInfo struct {
	models.Market
	Symbol string
}

// DailyGroup is one (symbol, exchange) group of the daily series with its
// row count and price extremes.
type DailyGroup struct {
	SymbolID   int64
	ExchangeID int64
	Count      int64
	MinLow     float64
	MaxHigh    float64
}

// Edge is the open or close of a series boundary candle with its time.
type Edge struct {
	Price float64
	Time  time.Time
}

// TopTradedCoin is one row of the turnover ranking derived from the last
// complete daily candles.
type TopTradedCoin struct {
	Symbol   string
	Exchange string
	Time     time.Time
	Close    float64
	Volume   float64
	Cost     float64
	Trades   int64
}

// CandleStore reads and writes candle series keyed by exchange, symbol and
// timeframe.
type CandleStore interface {
	// ReplaceCandles deletes any stored buckets with the same open times and
	// inserts the new rows, so refetching a window is idempotent. Returns the
	// number of rows written.
	ReplaceCandles(ctx context.Context, exchangeID, symbolID int64, tf timeframe.Timeframe, candles []models.Candle) (int, error)

	// LatestCandleTime returns the newest stored bucket open time, or a zero
	// time when the series is empty.
	LatestCandleTime(ctx context.Context, exchangeID, symbolID int64, tf timeframe.Timeframe) (time.Time, error)

	// Candles returns the stored series inside [since, till] ascending.
	Candles(ctx context.Context, exchangeID, symbolID int64, tf timeframe.Timeframe, since, till time.Time) ([]models.Candle, error)
}

// RegistryStore maintains exchanges, symbols and markets.
type RegistryStore interface {
	UpsertExchange(ctx context.Context, ex models.Exchange) (models.Exchange, error)
	Exchanges(ctx context.Context) ([]models.Exchange, error)
	ExchangeByName(ctx context.Context, name string) (models.Exchange, error)

	// EnsureSymbol returns the symbol with the given canonical name, creating
	// it first if needed. Names failing validation are created disabled.
	EnsureSymbol(ctx context.Context, name string) (models.Symbol, error)
	SymbolByName(ctx context.Context, name string) (models.Symbol, error)
	SymbolByID(ctx context.Context, id int64) (models.Symbol, error)

	UpsertMarket(ctx context.Context, m models.Market) error
	// EnabledMarkets lists an exchange's enabled markets with their symbol
	// names, ordered by synonym.
	EnabledMarkets(ctx context.Context, exchangeID int64) ([]MarketInfo, error)
	Synonym(ctx context.Context, exchangeID, symbolID int64) (string, error)
	// DisableMarket permanently switches a market off. There is no enable
	// counterpart; recovery is manual.
	DisableMarket(ctx context.Context, exchangeID, symbolID int64) error
}

// StatsStore feeds the statistics aggregator from the daily series and
// persists its results.
type StatsStore interface {
	DailyGroups(ctx context.Context) ([]DailyGroup, error)
	// ExtremeTimes returns the bucket times where the series touched the
	// given extreme prices.
	ExtremeTimes(ctx context.Context, exchangeID, symbolID int64, minLow, maxHigh float64) (lowTime, highTime time.Time, err error)
	FirstOpen(ctx context.Context, exchangeID, symbolID int64) (Edge, error)
	LastClose(ctx context.Context, exchangeID, symbolID int64) (Edge, error)
	// DailyCloseQuantiles computes interpolated quantiles of the daily close
	// distribution at the given levels.
	DailyCloseQuantiles(ctx context.Context, exchangeID, symbolID int64, levels []float64) ([]float64, error)
	UpsertATHL(ctx context.Context, row models.ATHL) error
	ATHLs(ctx context.Context) ([]models.ATHL, error)
}

// TopCoinStore holds the externally ranked coin universe.
type TopCoinStore interface {
	UpsertTopCoin(ctx context.Context, coin models.TopCoin) error
	// TopCoins lists the universe with stablecoins excluded, ordered by
	// 24h turnover descending.
	TopCoins(ctx context.Context) ([]models.TopCoin, error)
	// TopTraded ranks symbols by turnover of their last complete daily
	// candle, keeping rows above minTurnover.
	TopTraded(ctx context.Context, minTurnover float64) ([]TopTradedCoin, error)
}

// MarkerStore persists named scalar markers with their update time, used to
// gate loop passes across restarts.
type MarkerStore interface {
	SetMarker(ctx context.Context, id string, val float64) error
	// Marker returns the value and update time; ok is false when the marker
	// was never set.
	Marker(ctx context.Context, id string) (val float64, at time.Time, ok bool, err error)
}

// Store is the full persistence surface of the collector.
type Store interface {
	CandleStore
	RegistryStore
	StatsStore
	TopCoinStore
	MarkerStore

	Init(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Close() error
}
