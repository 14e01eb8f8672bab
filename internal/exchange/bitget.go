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
	bitgetBaseURL   = "https://api.bitget.com"
	bitgetPageLimit = 1000

	// Windows starting older than this must use the history-candles
	// endpoint, which caps the page at 200 rows.
	bitgetHistoryThreshold = 90 * 24 * time.Hour
	bitgetHistoryMaxLimit  = 200
)

var bitgetGranularities = map[timeframe.Timeframe]string{
	timeframe.M1:  "1min",
	timeframe.M5:  "5min",
	timeframe.M15: "15min",
	timeframe.M30: "30min",
	timeframe.H1:  "1h",
	timeframe.H4:  "4h",
	timeframe.H6:  "6h",
	timeframe.H12: "12h",
	timeframe.D1:  "1day",
	timeframe.D3:  "3day",
	timeframe.W1:  "1week",
	timeframe.MN1: "1M",
}

// Bitget splits its candle API in two: a recent endpoint and a history one
// for windows older than ninety days, with a smaller page cap.
type Bitget struct {
	client  *fetch.Client
	logger  *slog.Logger
	baseURL string
}

func NewBitget(client *fetch.Client, logger *slog.Logger) *Bitget {
	return &Bitget{client: client, logger: logger, baseURL: bitgetBaseURL}
}

func (b *Bitget) Name() string   { return NameBitget }
func (b *Bitget) PageLimit() int { return bitgetPageLimit }

type bitgetResponse struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}

func (b *Bitget) FetchCandles(ctx context.Context, req FetchRequest) ([]models.Candle, error) {
	granularity, ok := bitgetGranularities[req.Timeframe]
	if !ok {
		return nil, classify(NameBitget, "fetch_candles", fmt.Errorf("unsupported timeframe %s", req.Timeframe))
	}
	limit := req.Limit
	if limit <= 0 || limit > bitgetPageLimit {
		limit = bitgetPageLimit
	}

	endpoint := "candles"
	if req.Start.Before(time.Now().Add(-bitgetHistoryThreshold)) {
		endpoint = "history-candles"
		if limit > bitgetHistoryMaxLimit {
			limit = bitgetHistoryMaxLimit
		}
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
	q.Set("granularity", granularity)
	q.Set("startTime", strconv.FormatInt(startMs, 10))
	q.Set("endTime", strconv.FormatInt(endMs, 10))
	q.Set("limit", strconv.Itoa(limit))

	var resp bitgetResponse
	if err := b.client.GetJSON(ctx, b.baseURL+"/api/v2/spot/market/"+endpoint+"?"+q.Encode(), &resp); err != nil {
		return nil, classify(NameBitget, "fetch_candles", err)
	}
	if resp.Code != "00000" {
		return nil, classifyMsg(NameBitget, "fetch_candles", fmt.Sprintf("code=%s msg=%s", resp.Code, resp.Msg))
	}

	candles := make([]models.Candle, 0, len(resp.Data))
	for _, row := range resp.Data {
		c, err := bitgetRowToCandle(row)
		if err != nil {
			return nil, classify(NameBitget, "fetch_candles", err)
		}
		candles = append(candles, c)
	}
	return ascending(candles), nil
}

func (b *Bitget) FindFirstCandle(ctx context.Context, synonym string, tf timeframe.Timeframe) (time.Time, error) {
	return walkFirstCandle(ctx, b.FetchCandles, synonym, tf, Epoch(tf), bitgetPageLimit)
}

func bitgetRowToCandle(row []string) (models.Candle, error) {
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
