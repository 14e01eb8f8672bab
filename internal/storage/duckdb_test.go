package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Angry-Robot-Deals/candle-collector/internal/models"
	"github.com/Angry-Robot-Deals/candle-collector/internal/timeframe"
)

func newTestDuckDB(t *testing.T) *DuckDBStore {
	t.Helper()

	store, err := NewDuckDBStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Init(context.Background()))
	return store
}

func TestDuckDBInitIdempotent(t *testing.T) {
	store := newTestDuckDB(t)
	require.NoError(t, store.Init(context.Background()))
	require.NoError(t, store.HealthCheck(context.Background()))
}

func TestDuckDBRegistryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestDuckDB(t)

	ex, err := store.UpsertExchange(ctx, models.Exchange{Name: "binance", APIURI: "https://api4.binance.com", Priority: 1})
	require.NoError(t, err)
	assert.NotZero(t, ex.ID)

	// Upsert by name keeps the assigned id.
	again, err := store.UpsertExchange(ctx, models.Exchange{Name: "binance", Priority: 2})
	require.NoError(t, err)
	assert.Equal(t, ex.ID, again.ID)
	assert.Equal(t, 2, again.Priority)

	sym, err := store.EnsureSymbol(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.NotZero(t, sym.ID)
	assert.False(t, sym.Disabled)

	bad, err := store.EnsureSymbol(ctx, "not a symbol")
	require.NoError(t, err)
	assert.True(t, bad.Disabled)

	require.NoError(t, store.UpsertMarket(ctx, models.Market{SymbolID: sym.ID, ExchangeID: ex.ID, Synonym: "BTCUSDT"}))

	markets, err := store.EnabledMarkets(ctx, ex.ID)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "BTC/USDT", markets[0].Symbol)

	require.NoError(t, store.DisableMarket(ctx, ex.ID, sym.ID))
	markets, err = store.EnabledMarkets(ctx, ex.ID)
	require.NoError(t, err)
	assert.Empty(t, markets)
}

func TestDuckDBReplaceCandles(t *testing.T) {
	ctx := context.Background()
	store := newTestDuckDB(t)

	ex, err := store.UpsertExchange(ctx, models.Exchange{Name: "okx"})
	require.NoError(t, err)
	sym, err := store.EnsureSymbol(ctx, "ETH/USDT")
	require.NoError(t, err)

	latest, err := store.LatestCandleTime(ctx, ex.ID, sym.ID, timeframe.D1)
	require.NoError(t, err)
	assert.True(t, latest.IsZero())

	n, err := store.ReplaceCandles(ctx, ex.ID, sym.ID, timeframe.D1, []models.Candle{
		dailyCandle(day(2024, 2, 1), 2300, 2400, 2250, 2380, 900),
		dailyCandle(day(2024, 2, 2), 2380, 2500, 2350, 2450, 1100),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Replaying a bucket replaces the stored row instead of violating the
	// primary key.
	n, err = store.ReplaceCandles(ctx, ex.ID, sym.ID, timeframe.D1, []models.Candle{
		dailyCandle(day(2024, 2, 2), 2380, 2520, 2350, 2490, 1200),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Candles(ctx, ex.ID, sym.ID, timeframe.D1, day(2024, 2, 1), day(2024, 2, 28))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2490.0, got[1].Close)
	assert.Equal(t, int64(10), got[1].Trades)

	latest, err = store.LatestCandleTime(ctx, ex.ID, sym.ID, timeframe.D1)
	require.NoError(t, err)
	assert.Equal(t, day(2024, 2, 2), latest.UTC())
}

func TestDuckDBStatsQueries(t *testing.T) {
	ctx := context.Background()
	store := newTestDuckDB(t)

	ex, err := store.UpsertExchange(ctx, models.Exchange{Name: "bybit"})
	require.NoError(t, err)
	sym, err := store.EnsureSymbol(ctx, "SOL/USDT")
	require.NoError(t, err)

	_, err = store.ReplaceCandles(ctx, ex.ID, sym.ID, timeframe.D1, []models.Candle{
		dailyCandle(day(2024, 1, 1), 10, 12, 9, 11, 100),
		dailyCandle(day(2024, 1, 2), 11, 20, 10, 15, 150),
		dailyCandle(day(2024, 1, 3), 15, 18, 8, 12, 120),
	})
	require.NoError(t, err)

	groups, err := store.DailyGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, int64(3), groups[0].Count)
	assert.Equal(t, 8.0, groups[0].MinLow)
	assert.Equal(t, 20.0, groups[0].MaxHigh)

	lowTime, highTime, err := store.ExtremeTimes(ctx, ex.ID, sym.ID, 8, 20)
	require.NoError(t, err)
	assert.Equal(t, day(2024, 1, 3), lowTime.UTC())
	assert.Equal(t, day(2024, 1, 2), highTime.UTC())

	first, err := store.FirstOpen(ctx, ex.ID, sym.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, first.Price)

	last, err := store.LastClose(ctx, ex.ID, sym.ID)
	require.NoError(t, err)
	assert.Equal(t, 12.0, last.Price)

	qs, err := store.DailyCloseQuantiles(ctx, ex.ID, sym.ID, []float64{0.5})
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, 12.0, qs[0])
}

func TestDuckDBATHLAndMarkers(t *testing.T) {
	ctx := context.Background()
	store := newTestDuckDB(t)

	row := models.ATHL{
		SymbolID: 1, ExchangeID: 1, Symbol: "BTC/USDT",
		High: 100, HighTime: day(2024, 1, 2),
		Low: 10, LowTime: day(2024, 1, 3),
		Start: 50, StartTime: day(2024, 1, 1),
		Close: 70, CloseTime: day(2024, 1, 4),
		Index: 0.1, Position: 0.2, ATH: -0.3,
		Q236: 1, Q382: 2, Q500: 3, Q618: 4, Q786: 5,
		Updated: day(2024, 5, 1),
	}
	require.NoError(t, store.UpsertATHL(ctx, row))
	row.ATH = -0.25
	require.NoError(t, store.UpsertATHL(ctx, row))

	// A second venue for the same symbol gets its own row.
	other := row
	other.ExchangeID = 2
	other.ATH = -0.5
	require.NoError(t, store.UpsertATHL(ctx, other))

	rows, err := store.ATHLs(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, -0.25, rows[0].ATH)
	assert.Equal(t, -0.5, rows[1].ATH)
	assert.Equal(t, 4.0, rows[0].Q618)
	assert.Equal(t, day(2024, 1, 1), rows[0].StartTime)
	assert.Equal(t, 70.0, rows[0].Close)
	assert.Equal(t, day(2024, 1, 4), rows[0].CloseTime)

	require.NoError(t, store.SetMarker(ctx, "daily_last_pass", 42))
	val, at, ok, err := store.Marker(ctx, "daily_last_pass")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42.0, val)
	assert.WithinDuration(t, time.Now().UTC(), at, 10*time.Second)

	_, _, ok, err = store.Marker(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDuckDBTopTraded(t *testing.T) {
	ctx := context.Background()
	store := newTestDuckDB(t)

	ex, err := store.UpsertExchange(ctx, models.Exchange{Name: "binance"})
	require.NoError(t, err)
	sym, err := store.EnsureSymbol(ctx, "BTC/USDT")
	require.NoError(t, err)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	_, err = store.ReplaceCandles(ctx, ex.ID, sym.ID, timeframe.D1, []models.Candle{
		dailyCandle(today.AddDate(0, 0, -1), 48000, 49000, 47000, 48500, 90),
		dailyCandle(today, 50000, 51000, 49000, 50000, 100),
	})
	require.NoError(t, err)

	rows, err := store.TopTraded(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	// Only the newest daily candle of the pair is ranked.
	assert.Equal(t, 5000000.0, rows[0].Cost)
	assert.Equal(t, "binance", rows[0].Exchange)
}
