package exchange

import (
	"context"
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
	htxBaseURL   = "https://api.huobi.pro"
	htxPageLimit = 2000
)

var htxPeriods = map[timeframe.Timeframe]string{
	timeframe.M1:  "1min",
	timeframe.M5:  "5min",
	timeframe.M15: "15min",
	timeframe.M30: "30min",
	timeframe.H1:  "60min",
	timeframe.H4:  "4hour",
	timeframe.D1:  "1day",
	timeframe.W1:  "1week",
	timeframe.MN1: "1mon",
}

// HTX has no start parameter: the kline endpoint only returns the most recent
// size candles, so callers shrink size to 1 once a series is current instead
// of paging. Candle objects carry second timestamps and name volume "amount".
type HTX struct {
	client  *fetch.Client
	logger  *slog.Logger
	baseURL string
}

func NewHTX(client *fetch.Client, logger *slog.Logger) *HTX {
	return &HTX{client: client, logger: logger, baseURL: htxBaseURL}
}

func (h *HTX) Name() string   { return NameHTX }
func (h *HTX) PageLimit() int { return htxPageLimit }

type htxCandle struct {
	ID     int64   `json:"id"`
	Open   float64 `json:"open"`
	Close  float64 `json:"close"`
	Low    float64 `json:"low"`
	High   float64 `json:"high"`
	Amount float64 `json:"amount"`
	Vol    float64 `json:"vol"`
	Count  int64   `json:"count"`
}

type htxResponse struct {
	Status  string      `json:"status"`
	Ch      string      `json:"ch"`
	Data    []htxCandle `json:"data"`
	ErrCode string      `json:"err-code"`
	ErrMsg  string      `json:"err-msg"`
}

func (h *HTX) FetchCandles(ctx context.Context, req FetchRequest) ([]models.Candle, error) {
	period, ok := htxPeriods[req.Timeframe]
	if !ok {
		return nil, classify(NameHTX, "fetch_candles", fmt.Errorf("unsupported timeframe %s", req.Timeframe))
	}
	size := req.Limit
	if size <= 0 || size > htxPageLimit {
		size = htxPageLimit
	}

	q := url.Values{}
	q.Set("period", period)
	q.Set("size", strconv.Itoa(size))
	q.Set("symbol", strings.ToLower(Native(NoSeparator, req.Synonym)))

	var resp htxResponse
	if err := h.client.GetJSON(ctx, h.baseURL+"/market/history/kline?"+q.Encode(), &resp); err != nil {
		return nil, classify(NameHTX, "fetch_candles", err)
	}
	if resp.Status != "ok" {
		return nil, classifyMsg(NameHTX, "fetch_candles", fmt.Sprintf("err-code=%s err-msg=%s", resp.ErrCode, resp.ErrMsg))
	}

	candles := make([]models.Candle, 0, len(resp.Data))
	for _, row := range resp.Data {
		candles = append(candles, models.Candle{
			Time:   time.Unix(row.ID, 0).UTC(),
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.Amount,
			Trades: row.Count,
		})
	}
	return ascending(candles), nil
}

// FindFirstCandle asks for the biggest page the venue allows and takes its
// oldest timestamp; without range parameters there is nothing to walk.
func (h *HTX) FindFirstCandle(ctx context.Context, synonym string, tf timeframe.Timeframe) (time.Time, error) {
	candles, err := h.FetchCandles(ctx, FetchRequest{
		Synonym:   synonym,
		Timeframe: tf,
		Limit:     htxPageLimit,
	})
	if err != nil {
		return time.Time{}, err
	}
	if len(candles) == 0 {
		return time.Time{}, nil
	}
	return oldest(candles), nil
}
