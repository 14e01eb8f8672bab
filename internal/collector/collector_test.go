package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Angry-Robot-Deals/candle-collector/internal/exchange"
	"github.com/Angry-Robot-Deals/candle-collector/internal/models"
	"github.com/Angry-Robot-Deals/candle-collector/internal/registry"
	"github.com/Angry-Robot-Deals/candle-collector/internal/storage"
	"github.com/Angry-Robot-Deals/candle-collector/internal/timeframe"
)

type fakeAdapter struct {
	name      string
	pageLimit int
	requests  []exchange.FetchRequest
	fetch     func(req exchange.FetchRequest) ([]models.Candle, error)
	first     func(synonym string, tf timeframe.Timeframe) (time.Time, error)
}

func (f *fakeAdapter) Name() string   { return f.name }
func (f *fakeAdapter) PageLimit() int { return f.pageLimit }

func (f *fakeAdapter) FetchCandles(ctx context.Context, req exchange.FetchRequest) ([]models.Candle, error) {
	f.requests = append(f.requests, req)
	if f.fetch == nil {
		return nil, nil
	}
	return f.fetch(req)
}

func (f *fakeAdapter) FindFirstCandle(ctx context.Context, synonym string, tf timeframe.Timeframe) (time.Time, error) {
	if f.first == nil {
		return time.Time{}, nil
	}
	return f.first(synonym, tf)
}

type fixture struct {
	store     *storage.MemoryStore
	registry  *registry.Service
	adapter   *fakeAdapter
	collector *Collector
}

func newFixture(t *testing.T, venue string) *fixture {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemoryStore()
	reg := registry.NewService(store, nil)
	require.NoError(t, reg.Seed(ctx))
	_, err := reg.RegisterMarket(ctx, venue, "BTC/USDT")
	require.NoError(t, err)

	adapter := &fakeAdapter{name: venue, pageLimit: 1000}
	c := New(store, exchange.Registry{venue: adapter}, reg, nil, DefaultConfig(), nil)
	return &fixture{store: store, registry: reg, adapter: adapter, collector: c}
}

func (f *fixture) ids(t *testing.T) (int64, int64) {
	t.Helper()
	sym, err := f.store.SymbolByName(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	ex, err := f.store.ExchangeByName(context.Background(), f.adapter.name)
	require.NoError(t, err)
	return ex.ID, sym.ID
}

func page(start time.Time, tf timeframe.Timeframe, n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		t := start.Add(time.Duration(i) * tf.Duration())
		out[i] = models.Candle{Time: t, Open: 100, High: 110, Low: 90, Close: 105, Volume: 10, Trades: 1}
	}
	return out
}

func TestFetchCycleResumesFromLatestBucket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "binance")
	exID, symID := f.ids(t)

	stored := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.store.ReplaceCandles(ctx, exID, symID, timeframe.D1, page(stored, timeframe.D1, 1))
	require.NoError(t, err)

	f.adapter.fetch = func(req exchange.FetchRequest) ([]models.Candle, error) {
		return page(req.Start, timeframe.D1, 10), nil
	}

	saved, err := f.collector.FetchCycle(ctx, "binance", "BTC/USDT", timeframe.D1, time.Time{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, saved)

	// The stored bucket itself is requested again, not the following day.
	require.Len(t, f.adapter.requests, 1)
	assert.Equal(t, stored, f.adapter.requests[0].Start)
	assert.Equal(t, "BTCUSDT", f.adapter.requests[0].Synonym)
}

func TestFetchCycleFindsFirstCandleOnEmptySeries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "binance")

	inception := time.Date(2019, 6, 3, 0, 0, 0, 0, time.UTC)
	f.adapter.first = func(synonym string, tf timeframe.Timeframe) (time.Time, error) {
		return inception, nil
	}
	f.adapter.fetch = func(req exchange.FetchRequest) ([]models.Candle, error) {
		return page(req.Start, timeframe.D1, 100), nil
	}

	saved, err := f.collector.FetchCycle(ctx, "binance", "BTC/USDT", timeframe.D1, time.Time{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, saved)
	assert.Equal(t, inception, f.adapter.requests[0].Start)
}

func TestFetchCycleNoHistoryDoesNotDisable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "binance")

	f.adapter.first = func(synonym string, tf timeframe.Timeframe) (time.Time, error) {
		return time.Time{}, nil
	}

	saved, err := f.collector.FetchCycle(ctx, "binance", "BTC/USDT", timeframe.D1, time.Time{}, 0)
	require.NoError(t, err)
	assert.Zero(t, saved)
	assert.Empty(t, f.adapter.requests)

	// The market stays enabled for the next pass.
	_, err = f.registry.Resolve(ctx, "binance", "BTC/USDT")
	assert.NoError(t, err)
}

func TestFetchCycleDisablesOnInstrumentNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "binance")

	f.adapter.fetch = func(req exchange.FetchRequest) ([]models.Candle, error) {
		return nil, &exchange.Error{
			Venue: "binance", Op: "candles",
			Kind: exchange.KindInstrumentNotFound,
			Err:  assert.AnError,
		}
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	saved, err := f.collector.FetchCycle(ctx, "binance", "BTC/USDT", timeframe.D1, start, 0)
	require.NoError(t, err)
	assert.Zero(t, saved)

	// Disabling is one-way: the next cycle never reaches the adapter.
	f.adapter.requests = nil
	saved, err = f.collector.FetchCycle(ctx, "binance", "BTC/USDT", timeframe.D1, start, 0)
	require.NoError(t, err)
	assert.Zero(t, saved)
	assert.Empty(t, f.adapter.requests)
}

func TestFetchCycleTransientErrorKeepsMarketEnabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "binance")

	f.adapter.fetch = func(req exchange.FetchRequest) ([]models.Candle, error) {
		return nil, &exchange.Error{
			Venue: "binance", Op: "candles",
			Kind: exchange.KindTransient,
			Err:  assert.AnError,
		}
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.collector.FetchCycle(ctx, "binance", "BTC/USDT", timeframe.D1, start, 0)
	require.Error(t, err)

	_, err = f.registry.Resolve(ctx, "binance", "BTC/USDT")
	assert.NoError(t, err)
}

func TestFetchCycleBacksOffAfterTwoConsecutiveShortPages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "binance")

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	f.collector.now = func() time.Time { return now }

	f.adapter.fetch = func(req exchange.FetchRequest) ([]models.Candle, error) {
		return page(req.Start, timeframe.D1, 2), nil
	}

	start := time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC)
	_, err := f.collector.FetchCycle(ctx, "binance", "BTC/USDT", timeframe.D1, start, 0)
	require.NoError(t, err)
	assert.False(t, f.collector.State().Delayed("binance", "BTC/USDT", now), "one short page must not back off")

	_, err = f.collector.FetchCycle(ctx, "binance", "BTC/USDT", timeframe.D1, start, 0)
	require.NoError(t, err)
	assert.True(t, f.collector.State().Delayed("binance", "BTC/USDT", now))

	// The window expires with wall-clock time.
	assert.False(t, f.collector.State().Delayed("binance", "BTC/USDT", now.Add(3*time.Hour)))
}

func TestFetchCycleFullPageResetsShortStreak(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "binance")

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	f.collector.now = func() time.Time { return now }

	sizes := []int{2, 500, 2}
	call := 0
	f.adapter.fetch = func(req exchange.FetchRequest) ([]models.Candle, error) {
		n := sizes[call]
		call++
		return page(req.Start, timeframe.D1, n), nil
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for range sizes {
		_, err := f.collector.FetchCycle(ctx, "binance", "BTC/USDT", timeframe.D1, start, 0)
		require.NoError(t, err)
	}
	assert.False(t, f.collector.State().Delayed("binance", "BTC/USDT", now))
}

func TestFetchCycleAlignsBucketsBeforePersisting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "binance")
	exID, symID := f.ids(t)

	aligned := time.Date(2024, 3, 10, 14, 7, 0, 0, time.UTC)
	f.adapter.fetch = func(req exchange.FetchRequest) ([]models.Candle, error) {
		return []models.Candle{
			// Already aligned for 1m: stored unchanged.
			{Time: aligned, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
			// Mid-bucket instant: truncated to its minute.
			{Time: aligned.Add(time.Minute + 30*time.Second), Open: 1, High: 2, Low: 0.5, Close: 1.6, Volume: 11},
		}, nil
	}

	_, err := f.collector.FetchCycle(ctx, "binance", "BTC/USDT", timeframe.M1, aligned, 0)
	require.NoError(t, err)

	got, err := f.store.Candles(ctx, exID, symID, timeframe.M1, aligned.Add(-time.Hour), aligned.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, aligned, got[0].Time)
	assert.Equal(t, aligned.Add(time.Minute), got[1].Time)
}

func TestFetchCycleHTXResumeShortcut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "htx")
	exID, symID := f.ids(t)

	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	f.collector.now = func() time.Time { return now }

	// The newest stored daily bucket is yesterday, so the series is current
	// and only the open bucket needs refreshing.
	yesterday := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)
	_, err := f.store.ReplaceCandles(ctx, exID, symID, timeframe.D1, page(yesterday, timeframe.D1, 1))
	require.NoError(t, err)

	f.adapter.fetch = func(req exchange.FetchRequest) ([]models.Candle, error) {
		return page(req.Start, timeframe.D1, 1), nil
	}

	_, err = f.collector.FetchCycle(ctx, "htx", "BTC/USDT", timeframe.D1, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, f.adapter.requests, 1)
	assert.Equal(t, 1, f.adapter.requests[0].Limit)
}

func TestFetchCycleUnresolvedMarksBadSymbol(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "binance")

	saved, err := f.collector.FetchCycle(ctx, "binance", "XX!!/USDT", timeframe.D1, time.Time{}, 0)
	require.NoError(t, err)
	assert.Zero(t, saved)
	assert.True(t, f.collector.State().BadSymbol("binance", "XX!!/USDT"))
	assert.Empty(t, f.adapter.requests)
}

func TestPersistIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "binance")
	exID, symID := f.ids(t)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.adapter.fetch = func(req exchange.FetchRequest) ([]models.Candle, error) {
		return page(start, timeframe.D1, 5), nil
	}

	for i := 0; i < 2; i++ {
		_, err := f.collector.FetchCycle(ctx, "binance", "BTC/USDT", timeframe.D1, start, 0)
		require.NoError(t, err)
	}

	got, err := f.store.Candles(ctx, exID, symID, timeframe.D1, start, start.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Len(t, got, 5)
}
