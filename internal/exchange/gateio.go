package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Angry-Robot-Deals/candle-collector/internal/fetch"
	"github.com/Angry-Robot-Deals/candle-collector/internal/models"
	"github.com/Angry-Robot-Deals/candle-collector/internal/timeframe"
)

const (
	gateioBaseURL   = "https://api.gateio.ws"
	gateioPageLimit = 500

	// Depth limit of Gate's candlestick history per granularity. When the
	// venue rejects a window as too old, the first-candle walk restarts just
	// inside this horizon.
	gateioMaxShift = 9998
)

var gateioIntervals = map[timeframe.Timeframe]string{
	timeframe.M1:  "1m",
	timeframe.M5:  "5m",
	timeframe.M15: "15m",
	timeframe.M30: "30m",
	timeframe.H1:  "1h",
	timeframe.H4:  "4h",
	timeframe.H8:  "8h",
	timeframe.D1:  "1d",
	timeframe.W1:  "7d",
	timeframe.MN1: "30d",
}

// GateIO takes second-resolution from/to bounds and answers transposed rows:
// quote volume at index 1, then close, high, low, open, base volume.
type GateIO struct {
	client  *fetch.Client
	logger  *slog.Logger
	baseURL string
}

func NewGateIO(client *fetch.Client, logger *slog.Logger) *GateIO {
	return &GateIO{client: client, logger: logger, baseURL: gateioBaseURL}
}

func (g *GateIO) Name() string   { return NameGateIO }
func (g *GateIO) PageLimit() int { return gateioPageLimit }

func (g *GateIO) FetchCandles(ctx context.Context, req FetchRequest) ([]models.Candle, error) {
	interval, ok := gateioIntervals[req.Timeframe]
	if !ok {
		return nil, classify(NameGateIO, "fetch_candles", fmt.Errorf("unsupported timeframe %s", req.Timeframe))
	}
	limit := req.Limit
	if limit <= 0 || limit > gateioPageLimit {
		limit = gateioPageLimit
	}

	start := req.Start.Unix()
	end := minInt64(
		start+int64(limit)*req.Timeframe.Seconds(),
		timeframe.BucketStart(req.Timeframe, time.Now().UTC()).Unix(),
	)
	if start >= end {
		return nil, nil
	}

	q := url.Values{}
	q.Set("currency_pair", Native(Underscore, req.Synonym))
	q.Set("interval", interval)
	q.Set("from", strconv.FormatInt(start, 10))
	q.Set("to", strconv.FormatInt(end, 10))

	var rows [][]any
	if err := g.client.GetJSON(ctx, g.baseURL+"/api/v4/spot/candlesticks?"+q.Encode(), &rows); err != nil {
		return nil, classify(NameGateIO, "fetch_candles", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := gateioRowToCandle(row)
		if err != nil {
			return nil, classify(NameGateIO, "fetch_candles", err)
		}
		candles = append(candles, c)
	}
	return ascending(candles), nil
}

// FindFirstCandle walks forward from the epoch. Gate rejects windows beyond
// its retention with a "Candlestick too long ago" error; on that answer the
// walk restarts at the oldest reachable bucket instead of giving up.
func (g *GateIO) FindFirstCandle(ctx context.Context, synonym string, tf timeframe.Timeframe) (time.Time, error) {
	window := time.Duration(gateioPageLimit) * tf.Duration()
	now := time.Now().UTC()

	start := timeframe.BucketStart(tf, Epoch(tf))
	clamped := false
	for start.Before(now) {
		candles, err := g.FetchCandles(ctx, FetchRequest{
			Synonym:   synonym,
			Timeframe: tf,
			Start:     start,
			Limit:     gateioPageLimit,
		})
		if err != nil {
			if isTooLongAgo(err) && !clamped {
				clamped = true
				start = timeframe.Shift(tf, now, gateioMaxShift)
				continue
			}
			return time.Time{}, err
		}
		if len(candles) > 0 {
			return oldest(candles), nil
		}
		start = start.Add(window)
		if err := pause(ctx, interRequestDelay); err != nil {
			return time.Time{}, err
		}
	}
	return time.Time{}, nil
}

func isTooLongAgo(err error) bool {
	var serr *fetch.StatusError
	if errors.As(err, &serr) {
		return strings.Contains(strings.ToLower(serr.Body), "candlestick too long ago")
	}
	return strings.Contains(strings.ToLower(err.Error()), "candlestick too long ago")
}

func gateioRowToCandle(row []any) (models.Candle, error) {
	if len(row) < 7 {
		return models.Candle{}, fmt.Errorf("candle row has %d fields", len(row))
	}
	ts, err := rowSeconds(row[0])
	if err != nil {
		return models.Candle{}, err
	}
	var c models.Candle
	c.Time = ts
	if c.Close, err = rowPrice(row[2]); err != nil {
		return models.Candle{}, err
	}
	if c.High, err = rowPrice(row[3]); err != nil {
		return models.Candle{}, err
	}
	if c.Low, err = rowPrice(row[4]); err != nil {
		return models.Candle{}, err
	}
	if c.Open, err = rowPrice(row[5]); err != nil {
		return models.Candle{}, err
	}
	if c.Volume, err = rowPrice(row[6]); err != nil {
		return models.Candle{}, err
	}
	return c, nil
}
