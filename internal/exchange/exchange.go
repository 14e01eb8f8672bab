// Package exchange contains the venue adapters. Each adapter translates one
// exchange's REST candle API into the uniform Candle model: native symbol
// spelling, timestamp units, pagination style and response shape all stay
// behind the Adapter interface.
package exchange

import (
	"context"
	"log/slog"
	"time"

	"github.com/Angry-Robot-Deals/candle-collector/internal/fetch"
	"github.com/Angry-Robot-Deals/candle-collector/internal/models"
	"github.com/Angry-Robot-Deals/candle-collector/internal/timeframe"
)

// interRequestDelay spaces consecutive paged requests to the same venue.
const interRequestDelay = 100 * time.Millisecond

// FetchRequest asks for one page of candles starting at Start. Limit caps the
// page size; adapters clamp it to their own maximum.
type FetchRequest struct {
	Synonym   string
	Timeframe timeframe.Timeframe
	Start     time.Time
	Limit     int
}

// Adapter is one venue's candle API.
//
// FetchCandles returns candles in ascending time order. An empty slice with a
// nil error means the venue has no data for the window. Failures are returned
// as *Error so callers can branch on the kind.
//
// FindFirstCandle locates the open time of the oldest candle the venue has
// for the instrument at the given granularity. A zero time with a nil error
// means the venue reported no data at all.
type Adapter interface {
	Name() string
	PageLimit() int
	FetchCandles(ctx context.Context, req FetchRequest) ([]models.Candle, error)
	FindFirstCandle(ctx context.Context, synonym string, tf timeframe.Timeframe) (time.Time, error)
}

// Registry maps venue names to live adapters.
type Registry map[string]Adapter

// NewRegistry builds adapters for every supported venue, sharing one fetch
// client configuration across them.
func NewRegistry(logger *slog.Logger) Registry {
	mk := func(name string) (*fetch.Client, *slog.Logger) {
		l := logger.With("exchange", name)
		return fetch.NewClient(fetch.WithLogger(l)), l
	}

	reg := Registry{}
	for _, build := range []func() Adapter{
		func() Adapter { c, l := mk(NameBinance); return NewBinance(c, l) },
		func() Adapter { c, l := mk(NameOKX); return NewOKX(c, l) },
		func() Adapter { c, l := mk(NameBybit); return NewBybit(c, l) },
		func() Adapter { c, l := mk(NamePoloniex); return NewPoloniex(c, l) },
		func() Adapter { c, l := mk(NameMEXC); return NewMEXC(c, l) },
		func() Adapter { c, l := mk(NameGateIO); return NewGateIO(c, l) },
		func() Adapter { c, l := mk(NameKuCoin); return NewKuCoin(c, l) },
		func() Adapter { c, l := mk(NameHTX); return NewHTX(c, l) },
		func() Adapter { c, l := mk(NameBitget); return NewBitget(c, l) },
	} {
		a := build()
		reg[a.Name()] = a
	}
	return reg
}

// Venue names as stored in the exchange registry.
const (
	NameBinance  = "binance"
	NameOKX      = "okx"
	NameBybit    = "bybit"
	NamePoloniex = "poloniex"
	NameMEXC     = "mexc"
	NameGateIO   = "gateio"
	NameKuCoin   = "kucoin"
	NameHTX      = "htx"
	NameBitget   = "bitget"
)

// pause sleeps between paged requests, honoring cancellation.
func pause(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
