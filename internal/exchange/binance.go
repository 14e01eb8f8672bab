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
	binanceBaseURL   = "https://api4.binance.com"
	binancePageLimit = 1000
)

// Binance serves spot klines through the uiKlines endpoint. Interval notation
// matches the internal timeframe strings exactly, rows arrive oldest first as
// [openTime, open, high, low, close, volume, closeTime, quoteVolume, trades, ...].
type Binance struct {
	client  *fetch.Client
	logger  *slog.Logger
	baseURL string
}

func NewBinance(client *fetch.Client, logger *slog.Logger) *Binance {
	return &Binance{client: client, logger: logger, baseURL: binanceBaseURL}
}

func (b *Binance) Name() string   { return NameBinance }
func (b *Binance) PageLimit() int { return binancePageLimit }

func (b *Binance) FetchCandles(ctx context.Context, req FetchRequest) ([]models.Candle, error) {
	symbol := Native(NoSeparator, req.Synonym)
	limit := req.Limit
	if limit <= 0 || limit > binancePageLimit {
		limit = binancePageLimit
	}
	startMs := req.Start.UnixMilli()
	if startMs <= 0 {
		startMs = 1
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", string(req.Timeframe))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("startTime", strconv.FormatInt(startMs, 10))

	var rows [][]any
	if err := b.client.GetJSON(ctx, b.baseURL+"/api/v3/uiKlines?"+q.Encode(), &rows); err != nil {
		return nil, classify(NameBinance, "fetch_candles", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := binanceRowToCandle(row)
		if err != nil {
			return nil, classify(NameBinance, "fetch_candles", err)
		}
		candles = append(candles, c)
	}
	return ascending(candles), nil
}

func (b *Binance) FindFirstCandle(ctx context.Context, synonym string, tf timeframe.Timeframe) (time.Time, error) {
	return walkFirstCandle(ctx, b.FetchCandles, synonym, tf, Epoch(tf), binancePageLimit)
}

func binanceRowToCandle(row []any) (models.Candle, error) {
	if len(row) < 9 {
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
	if c.Trades, err = rowCount(row[8]); err != nil {
		return models.Candle{}, err
	}
	return c, nil
}
