package exchange

import (
	"time"

	"github.com/Angry-Robot-Deals/candle-collector/internal/timeframe"
)

// Epochs are the earliest times a first-candle search probes per granularity.
// Finer series are capped younger because venues prune minute history
// aggressively and the walk would otherwise burn thousands of requests.
var Epochs = map[timeframe.Timeframe]time.Time{
	timeframe.M1:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	timeframe.M5:  time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
	timeframe.M15: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
	timeframe.H1:  time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
	timeframe.D1:  time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
}

// Epoch returns the search floor for a granularity, defaulting to the daily
// floor for granularities without an explicit entry.
func Epoch(tf timeframe.Timeframe) time.Time {
	if t, ok := Epochs[tf]; ok {
		return t
	}
	return Epochs[timeframe.D1]
}
