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
	okxBaseURL   = "https://www.okx.com"
	okxPageLimit = 64
)

// okxBars maps timeframes to OKX bar notation. Day and coarser bars use the
// utc suffix so buckets align with UTC midnight instead of HK time.
var okxBars = map[timeframe.Timeframe]string{
	timeframe.M1:  "1m",
	timeframe.M3:  "3m",
	timeframe.M5:  "5m",
	timeframe.M15: "15m",
	timeframe.M30: "30m",
	timeframe.H1:  "1H",
	timeframe.H2:  "2H",
	timeframe.H4:  "4H",
	timeframe.D1:  "1Dutc",
	timeframe.W1:  "1Wutc",
	timeframe.MN1: "1Mutc",
}

// OKX serves history-candles with exclusive after/before bounds, so both are
// widened by one millisecond to keep the window inclusive. Pages are small
// and arrive newest first.
type OKX struct {
	client  *fetch.Client
	logger  *slog.Logger
	baseURL string
}

func NewOKX(client *fetch.Client, logger *slog.Logger) *OKX {
	return &OKX{client: client, logger: logger, baseURL: okxBaseURL}
}

func (o *OKX) Name() string   { return NameOKX }
func (o *OKX) PageLimit() int { return okxPageLimit }

type okxResponse struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}

func (o *OKX) FetchCandles(ctx context.Context, req FetchRequest) ([]models.Candle, error) {
	bar, ok := okxBars[req.Timeframe]
	if !ok {
		return nil, classify(NameOKX, "fetch_candles", fmt.Errorf("unsupported timeframe %s", req.Timeframe))
	}
	limit := req.Limit
	if limit <= 0 || limit > okxPageLimit {
		limit = okxPageLimit
	}

	startMs := req.Start.UnixMilli()
	endMs := minInt64(
		startMs+int64(limit)*req.Timeframe.Seconds()*1000,
		timeframe.BucketStart(req.Timeframe, time.Now().UTC()).UnixMilli(),
	)

	q := url.Values{}
	q.Set("instId", Native(Hyphen, req.Synonym))
	q.Set("bar", bar)
	q.Set("after", strconv.FormatInt(startMs-1, 10))
	q.Set("before", strconv.FormatInt(endMs+1, 10))

	var resp okxResponse
	if err := o.client.GetJSON(ctx, o.baseURL+"/api/v5/market/history-candles?"+q.Encode(), &resp); err != nil {
		return nil, classify(NameOKX, "fetch_candles", err)
	}
	if resp.Code != "0" {
		return nil, classifyMsg(NameOKX, "fetch_candles", fmt.Sprintf("code=%s msg=%s", resp.Code, resp.Msg))
	}

	candles := make([]models.Candle, 0, len(resp.Data))
	for _, row := range resp.Data {
		c, err := okxRowToCandle(row)
		if err != nil {
			return nil, classify(NameOKX, "fetch_candles", err)
		}
		candles = append(candles, c)
	}
	return ascending(candles), nil
}

func (o *OKX) FindFirstCandle(ctx context.Context, synonym string, tf timeframe.Timeframe) (time.Time, error) {
	return walkFirstCandle(ctx, o.FetchCandles, synonym, tf, Epoch(tf), okxPageLimit)
}

func okxRowToCandle(row []string) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("candle row has %d fields", len(row))
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

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
