package exchange

import (
	"context"
	"time"

	"github.com/Angry-Robot-Deals/candle-collector/internal/models"
	"github.com/Angry-Robot-Deals/candle-collector/internal/timeframe"
)

// fetchFunc is the page fetcher shared by the first-candle walk.
type fetchFunc func(ctx context.Context, req FetchRequest) ([]models.Candle, error)

// walkFirstCandle probes forward from floor in page-sized windows until the
// venue returns data, then answers with the oldest open time of that page.
// Returns a zero time and nil error when the walk reaches the present without
// finding a candle. Errors from the fetcher pass through unchanged so the
// caller sees instrument-not-found responses.
func walkFirstCandle(ctx context.Context, fetch fetchFunc, synonym string, tf timeframe.Timeframe, floor time.Time, pageLimit int) (time.Time, error) {
	window := time.Duration(pageLimit) * tf.Duration()
	now := time.Now().UTC()

	for start := timeframe.BucketStart(tf, floor); start.Before(now); start = start.Add(window) {
		candles, err := fetch(ctx, FetchRequest{
			Synonym:   synonym,
			Timeframe: tf,
			Start:     start,
			Limit:     pageLimit,
		})
		if err != nil {
			return time.Time{}, err
		}
		if len(candles) > 0 {
			return oldest(candles), nil
		}
		if err := pause(ctx, interRequestDelay); err != nil {
			return time.Time{}, err
		}
	}
	return time.Time{}, nil
}

func oldest(candles []models.Candle) time.Time {
	min := candles[0].Time
	for _, c := range candles[1:] {
		if c.Time.Before(min) {
			min = c.Time
		}
	}
	return min
}
