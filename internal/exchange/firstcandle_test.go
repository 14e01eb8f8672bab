package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Angry-Robot-Deals/candle-collector/internal/models"
	"github.com/Angry-Robot-Deals/candle-collector/internal/timeframe"
)

func TestWalkFirstCandleFindsOldest(t *testing.T) {
	listed := time.Now().UTC().AddDate(0, -2, 0)
	listedBucket := timeframe.BucketStart(timeframe.D1, listed)

	var probes []time.Time
	fetcher := func(ctx context.Context, req FetchRequest) ([]models.Candle, error) {
		probes = append(probes, req.Start)
		if req.Start.Add(time.Duration(req.Limit) * timeframe.D1.Duration()).Before(listedBucket) {
			return nil, nil
		}
		// Page with the listing candle plus a later one, newest first.
		return []models.Candle{
			{Time: listedBucket.AddDate(0, 0, 1), Open: 2, High: 2, Low: 2, Close: 2},
			{Time: listedBucket, Open: 1, High: 1, Low: 1, Close: 1},
		}, nil
	}

	got, err := walkFirstCandle(context.Background(), fetcher, "BTCUSDT", timeframe.D1,
		time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC), 1000)
	require.NoError(t, err)
	assert.Equal(t, listedBucket, got)
	assert.NotEmpty(t, probes)
	assert.Equal(t, time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC), probes[0])
}

func TestWalkFirstCandleExhaustsToZero(t *testing.T) {
	fetcher := func(ctx context.Context, req FetchRequest) ([]models.Candle, error) {
		return nil, nil
	}

	// Narrow span: one probe window covers it.
	floor := time.Now().UTC().Add(-2 * time.Hour)
	got, err := walkFirstCandle(context.Background(), fetcher, "X", timeframe.H1, floor, 1000)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestWalkFirstCandlePropagatesErrors(t *testing.T) {
	want := classifyMsg(NameOKX, "fetch_candles", "Instrument ID does not exist")
	fetcher := func(ctx context.Context, req FetchRequest) ([]models.Candle, error) {
		return nil, want
	}

	_, err := walkFirstCandle(context.Background(), fetcher, "X", timeframe.D1,
		time.Now().UTC().AddDate(0, 0, -10), 100)
	assert.True(t, IsInstrumentNotFound(err))
}

func TestWalkFirstCandleHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	fetcher := func(ctx context.Context, req FetchRequest) ([]models.Candle, error) {
		calls++
		cancel()
		return nil, nil
	}

	_, err := walkFirstCandle(ctx, fetcher, "X", timeframe.M1,
		time.Now().UTC().Add(-time.Hour), 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
