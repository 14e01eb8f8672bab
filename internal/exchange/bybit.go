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
	bybitBaseURL   = "https://api.bybit.com"
	bybitPageLimit = 999
)

var bybitIntervals = map[timeframe.Timeframe]string{
	timeframe.M1:  "1",
	timeframe.M3:  "3",
	timeframe.M5:  "5",
	timeframe.M15: "15",
	timeframe.M30: "30",
	timeframe.H1:  "60",
	timeframe.H2:  "120",
	timeframe.H4:  "240",
	timeframe.H6:  "360",
	timeframe.H12: "720",
	timeframe.D1:  "D",
	timeframe.W1:  "W",
	timeframe.MN1: "M",
}

// Bybit serves v5 spot klines. Responses carry an error envelope with retCode
// and a list sorted newest first; no trade counter is exposed.
type Bybit struct {
	client  *fetch.Client
	logger  *slog.Logger
	baseURL string
}

func NewBybit(client *fetch.Client, logger *slog.Logger) *Bybit {
	return &Bybit{client: client, logger: logger, baseURL: bybitBaseURL}
}

func (b *Bybit) Name() string   { return NameBybit }
func (b *Bybit) PageLimit() int { return bybitPageLimit }

type bybitResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string     `json:"category"`
		Symbol   string     `json:"symbol"`
		List     [][]string `json:"list"`
	} `json:"result"`
}

func (b *Bybit) FetchCandles(ctx context.Context, req FetchRequest) ([]models.Candle, error) {
	interval, ok := bybitIntervals[req.Timeframe]
	if !ok {
		return nil, classify(NameBybit, "fetch_candles", fmt.Errorf("unsupported timeframe %s", req.Timeframe))
	}
	limit := req.Limit
	if limit <= 0 || limit > bybitPageLimit {
		limit = bybitPageLimit
	}

	q := url.Values{}
	q.Set("category", "spot")
	q.Set("symbol", Native(NoSeparator, req.Synonym))
	q.Set("interval", interval)
	q.Set("start", strconv.FormatInt(req.Start.UnixMilli(), 10))
	q.Set("limit", strconv.Itoa(limit))

	var resp bybitResponse
	if err := b.client.GetJSON(ctx, b.baseURL+"/v5/market/kline?"+q.Encode(), &resp); err != nil {
		return nil, classify(NameBybit, "fetch_candles", err)
	}
	if resp.RetCode != 0 {
		return nil, classifyMsg(NameBybit, "fetch_candles", fmt.Sprintf("retCode=%d retMsg=%s", resp.RetCode, resp.RetMsg))
	}

	candles := make([]models.Candle, 0, len(resp.Result.List))
	for _, row := range resp.Result.List {
		c, err := bybitRowToCandle(row)
		if err != nil {
			return nil, classify(NameBybit, "fetch_candles", err)
		}
		candles = append(candles, c)
	}
	return ascending(candles), nil
}

func (b *Bybit) FindFirstCandle(ctx context.Context, synonym string, tf timeframe.Timeframe) (time.Time, error) {
	return walkFirstCandle(ctx, b.FetchCandles, synonym, tf, Epoch(tf), bybitPageLimit)
}

func bybitRowToCandle(row []string) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("kline row has %d fields", len(row))
	}
	ms, err := count(row[0])
	if err != nil {
		return models.Candle{}, err
	}
	var c models.Candle
	c.Time = time.UnixMilli(ms).UTC()
	if c.Open, err = price(row[1]); err != nil {
		return models.Candle{}, err
	}
	if c.High, err = price(row[2]); err != nil {
		return models.Candle{}, err
	}
	if c.Low, err = price(row[3]); err != nil {
		return models.Candle{}, err
	}
	if c.Close, err = price(row[4]); err != nil {
		return models.Candle{}, err
	}
	if c.Volume, err = price(row[5]); err != nil {
		return models.Candle{}, err
	}
	return c, nil
}
