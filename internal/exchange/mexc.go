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
	mexcBaseURL   = "https://api.mexc.com"
	mexcPageLimit = 999
)

var mexcIntervals = map[timeframe.Timeframe]string{
	timeframe.M1:  "1m",
	timeframe.M5:  "5m",
	timeframe.M15: "15m",
	timeframe.M30: "30m",
	timeframe.H1:  "60m",
	timeframe.H4:  "4h",
	timeframe.D1:  "1d",
	timeframe.W1:  "1W",
	timeframe.MN1: "1M",
}

// MEXC mirrors the Binance kline array but with a shorter row and no trade
// counter. The hour interval is spelled 60m rather than 1h.
type MEXC struct {
	client  *fetch.Client
	logger  *slog.Logger
	baseURL string
}

func NewMEXC(client *fetch.Client, logger *slog.Logger) *MEXC {
	return &MEXC{client: client, logger: logger, baseURL: mexcBaseURL}
}

func (m *MEXC) Name() string   { return NameMEXC }
func (m *MEXC) PageLimit() int { return mexcPageLimit }

func (m *MEXC) FetchCandles(ctx context.Context, req FetchRequest) ([]models.Candle, error) {
	interval, ok := mexcIntervals[req.Timeframe]
	if !ok {
		return nil, classify(NameMEXC, "fetch_candles", fmt.Errorf("unsupported timeframe %s", req.Timeframe))
	}
	limit := req.Limit
	if limit <= 0 || limit > mexcPageLimit {
		limit = mexcPageLimit
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
	q.Set("symbol", Native(NoSeparator, req.Synonym))
	q.Set("interval", interval)
	q.Set("startTime", strconv.FormatInt(startMs, 10))
	q.Set("endTime", strconv.FormatInt(endMs, 10))
	q.Set("limit", strconv.Itoa(limit))

	var rows [][]any
	if err := m.client.GetJSON(ctx, m.baseURL+"/api/v3/klines?"+q.Encode(), &rows); err != nil {
		return nil, classify(NameMEXC, "fetch_candles", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := mexcRowToCandle(row)
		if err != nil {
			return nil, classify(NameMEXC, "fetch_candles", err)
		}
		candles = append(candles, c)
	}
	return ascending(candles), nil
}

func (m *MEXC) FindFirstCandle(ctx context.Context, synonym string, tf timeframe.Timeframe) (time.Time, error) {
	return walkFirstCandle(ctx, m.FetchCandles, synonym, tf, Epoch(tf), mexcPageLimit)
}

func mexcRowToCandle(row []any) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("kline row has %d fields", len(row))
	}
	ts, err := rowMillis(row[0])
	if err != nil {
		return models.Candle{}, err
	}
	var c models.Candle
	c.Time = ts
	if c.Open, err = rowPrice(row[1]); err != nil {
		return models.Candle{}, err
	}
	if c.High, err = rowPrice(row[2]); err != nil {
		return models.Candle{}, err
	}
	if c.Low, err = rowPrice(row[3]); err != nil {
		return models.Candle{}, err
	}
	if c.Close, err = rowPrice(row[4]); err != nil {
		return models.Candle{}, err
	}
	if c.Volume, err = rowPrice(row[5]); err != nil {
		return models.Candle{}, err
	}
	return c, nil
}
