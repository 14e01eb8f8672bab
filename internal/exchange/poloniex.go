package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/Angry-Robot-Deals/candle-collector/internal/fetch"
	"github.com/Angry-Robot-Deals/candle-collector/internal/models"
	"github.com/Angry-Robot-Deals/candle-collector/internal/timeframe"
)

const (
	poloniexBaseURL   = "https://api.poloniex.com"
	poloniexPageLimit = 500
)

var poloniexIntervals = map[timeframe.Timeframe]string{
	timeframe.M1:  "MINUTE_1",
	timeframe.M5:  "MINUTE_5",
	timeframe.M15: "MINUTE_15",
	timeframe.M30: "MINUTE_30",
	timeframe.H1:  "HOUR_1",
	timeframe.H2:  "HOUR_2",
	timeframe.H4:  "HOUR_4",
	timeframe.H6:  "HOUR_6",
	timeframe.H12: "HOUR_12",
	timeframe.D1:  "DAY_1",
	timeframe.D3:  "DAY_3",
	timeframe.W1:  "WEEK_1",
	timeframe.MN1: "MONTH_1",
}

// Poloniex returns rows in a transposed field order: low and high lead, the
// bucket open time sits at index 12, and numeric fields mix strings with bare
// numbers.
type Poloniex struct {
	client  *fetch.Client
	logger  *slog.Logger
	baseURL string
}

func NewPoloniex(client *fetch.Client, logger *slog.Logger) *Poloniex {
	return &Poloniex{client: client, logger: logger, baseURL: poloniexBaseURL}
}

func (p *Poloniex) Name() string   { return NamePoloniex }
func (p *Poloniex) PageLimit() int { return poloniexPageLimit }

func (p *Poloniex) FetchCandles(ctx context.Context, req FetchRequest) ([]models.Candle, error) {
	interval, ok := poloniexIntervals[req.Timeframe]
	if !ok {
		return nil, classify(NamePoloniex, "fetch_candles", fmt.Errorf("unsupported timeframe %s", req.Timeframe))
	}
	limit := req.Limit
	if limit <= 0 || limit > poloniexPageLimit {
		limit = poloniexPageLimit
	}

	startMs := req.Start.UnixMilli()
	endMs := minInt64(
		startMs+int64(limit)*req.Timeframe.Seconds()*1000,
		timeframe.BucketStart(req.Timeframe, time.Now().UTC()).UnixMilli(),
	)
	if startMs >= endMs {
		return nil, nil
	}

	q := url.Values{}
	q.Set("interval", interval)
	q.Set("startTime", strconv.FormatInt(startMs, 10))
	q.Set("endTime", strconv.FormatInt(endMs, 10))
	q.Set("limit", strconv.Itoa(limit))

	symbol := Native(Underscore, req.Synonym)
	var rows [][]any
	if err := p.client.GetJSON(ctx, p.baseURL+"/markets/"+url.PathEscape(symbol)+"/candles?"+q.Encode(), &rows); err != nil {
		return nil, classify(NamePoloniex, "fetch_candles", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := poloniexRowToCandle(row)
		if err != nil {
			return nil, classify(NamePoloniex, "fetch_candles", err)
		}
		candles = append(candles, c)
	}
	return ascending(candles), nil
}

func (p *Poloniex) FindFirstCandle(ctx context.Context, synonym string, tf timeframe.Timeframe) (time.Time, error) {
	return walkFirstCandle(ctx, p.FetchCandles, synonym, tf, Epoch(tf), poloniexPageLimit)
}

// Row layout: [low, high, open, close, amount, quantity, buyTakerAmount,
// buyTakerQuantity, tradeCount, ts, weightedAverage, interval, startTime,
// closeTime]. Volume is the base-coin quantity at index 5.
func poloniexRowToCandle(row []any) (models.Candle, error) {
	if len(row) < 14 {
		return models.Candle{}, fmt.Errorf("candle row has %d fields", len(row))
	}
	ts, err := rowMillis(row[12])
	if err != nil {
		return models.Candle{}, err
	}
	var c models.Candle
	c.Time = ts
	if c.Low, err = rowPrice(row[0]); err != nil {
		return models.Candle{}, err
	}
	if c.High, err = rowPrice(row[1]); err != nil {
		return models.Candle{}, err
	}
	if c.Open, err = rowPrice(row[2]); err != nil {
		return models.Candle{}, err
	}
	if c.Close, err = rowPrice(row[3]); err != nil {
		return models.Candle{}, err
	}
	if c.Volume, err = rowPrice(row[5]); err != nil {
		return models.Candle{}, err
	}
	if c.Trades, err = rowCount(row[8]); err != nil {
		return models.Candle{}, err
	}
	return c, nil
}
