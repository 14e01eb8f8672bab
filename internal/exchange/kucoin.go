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
	kucoinBaseURL   = "https://api.kucoin.com"
	kucoinPageLimit = 1499
)

var kucoinTypes = map[timeframe.Timeframe]string{
	timeframe.M1:  "1min",
	timeframe.M3:  "3min",
	timeframe.M5:  "5min",
	timeframe.M15: "15min",
	timeframe.M30: "30min",
	timeframe.H1:  "1hour",
	timeframe.H2:  "2hour",
	timeframe.H4:  "4hour",
	timeframe.H6:  "6hour",
	timeframe.H8:  "8hour",
	timeframe.H12: "12hour",
	timeframe.D1:  "1day",
	timeframe.W1:  "1week",
	timeframe.MN1: "1month",
}

// KuCoin takes second-resolution startAt/endAt bounds and answers string rows
// ordered newest first with close before high and low: [ts, open, close,
// high, low, volume, turnover].
type KuCoin struct {
	client  *fetch.Client
	logger  *slog.Logger
	baseURL string
}

func NewKuCoin(client *fetch.Client, logger *slog.Logger) *KuCoin {
	return &KuCoin{client: client, logger: logger, baseURL: kucoinBaseURL}
}

func (k *KuCoin) Name() string   { return NameKuCoin }
func (k *KuCoin) PageLimit() int { return kucoinPageLimit }

type kucoinResponse struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}

func (k *KuCoin) FetchCandles(ctx context.Context, req FetchRequest) ([]models.Candle, error) {
	typ, ok := kucoinTypes[req.Timeframe]
	if !ok {
		return nil, classify(NameKuCoin, "fetch_candles", fmt.Errorf("unsupported timeframe %s", req.Timeframe))
	}
	limit := req.Limit
	if limit <= 0 || limit > kucoinPageLimit {
		limit = kucoinPageLimit
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
	q.Set("type", typ)
	q.Set("symbol", Native(Hyphen, req.Synonym))
	q.Set("startAt", strconv.FormatInt(start, 10))
	q.Set("endAt", strconv.FormatInt(end, 10))

	var resp kucoinResponse
	if err := k.client.GetJSON(ctx, k.baseURL+"/api/v1/market/candles?"+q.Encode(), &resp); err != nil {
		return nil, classify(NameKuCoin, "fetch_candles", err)
	}
	if resp.Code != "200000" {
		return nil, classifyMsg(NameKuCoin, "fetch_candles", fmt.Sprintf("code=%s msg=%s", resp.Code, resp.Msg))
	}

	candles := make([]models.Candle, 0, len(resp.Data))
	for _, row := range resp.Data {
		c, err := kucoinRowToCandle(row)
		if err != nil {
			return nil, classify(NameKuCoin, "fetch_candles", err)
		}
		candles = append(candles, c)
	}
	return ascending(candles), nil
}

func (k *KuCoin) FindFirstCandle(ctx context.Context, synonym string, tf timeframe.Timeframe) (time.Time, error) {
	return walkFirstCandle(ctx, k.FetchCandles, synonym, tf, Epoch(tf), kucoinPageLimit)
}

func kucoinRowToCandle(row []string) (models.Candle, error) {
	if len(row) < 7 {
		return models.Candle{}, fmt.Errorf("candle row has %d fields", len(row))
	}
	sec, err := count(row[0])
	if err != nil {
		return models.Candle{}, err
	}
	var c models.Candle
	c.Time = time.Unix(sec, 0).UTC()
	if c.Open, err = price(row[1]); err != nil {
		return models.Candle{}, err
	}
	if c.Close, err = price(row[2]); err != nil {
		return models.Candle{}, err
	}
	if c.High, err = price(row[3]); err != nil {
		return models.Candle{}, err
	}
	if c.Low, err = price(row[4]); err != nil {
		return models.Candle{}, err
	}
	if c.Volume, err = price(row[5]); err != nil {
		return models.Candle{}, err
	}
	if c.Trades, err = count(row[6]); err != nil {
		return models.Candle{}, err
	}
	return c, nil
}
