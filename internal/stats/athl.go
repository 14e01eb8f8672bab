// Package stats computes per-pair price statistics from the daily candle
// series: distance from the all-time extremes and Fibonacci retracement
// quantiles of the close distribution.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Angry-Robot-Deals/candle-collector/internal/metrics"
	"github.com/Angry-Robot-Deals/candle-collector/internal/models"
	"github.com/Angry-Robot-Deals/candle-collector/internal/storage"
)

const (
	// markerID gates aggregation passes across restarts.
	markerID = "athl_last_pass"

	// epsilon guards the range divisions against degenerate series.
	epsilon = 1e-12
)

// FibLevels are the quantile levels stored with every statistics row.
var FibLevels = []float64{0.236, 0.382, 0.5, 0.618, 0.786}

// Config tunes the aggregator cadence and parallelism.
type Config struct {
	// Interval is the minimum time between passes.
	Interval time.Duration
	// Concurrency bounds how many pairs are processed at once.
	Concurrency int
}

func DefaultConfig() Config {
	return Config{Interval: time.Hour, Concurrency: 5}
}

// Aggregator recomputes the ATHL table from the daily series.
type Aggregator struct {
	store   storage.Store
	metrics *metrics.Metrics
	cfg     Config
	logger  *slog.Logger

	now func() time.Time
}

func New(store storage.Store, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	return &Aggregator{
		store:   store,
		metrics: m,
		cfg:     cfg,
		logger:  logger.With("component", "stats"),
		now:     time.Now,
	}
}

// Run loops until ctx is done, running a pass whenever the durable marker is
// older than the configured interval.
func (a *Aggregator) Run(ctx context.Context) {
	for {
		_, at, ok, err := a.store.Marker(ctx, markerID)
		if err != nil {
			a.logger.Error("marker read failed", "error", err)
		} else if !ok || a.now().Sub(at) >= a.cfg.Interval {
			if n, err := a.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("pass failed", "error", err)
			} else if err == nil {
				if serr := a.store.SetMarker(ctx, markerID, 1); serr != nil {
					a.logger.Error("marker write failed", "error", serr)
				}
				a.logger.Info("pass complete", "pairs", n)
			}
		}

		t := time.NewTimer(a.cfg.Interval / 10)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// RunOnce computes and upserts statistics for every (symbol, exchange) pair
// present in the daily series. Returns the number of pairs processed.
func (a *Aggregator) RunOnce(ctx context.Context) (int, error) {
	groups, err := a.store.DailyGroups(ctx)
	if err != nil {
		return 0, fmt.Errorf("stats pass: %w", err)
	}

	sem := make(chan struct{}, a.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	processed := 0

	for _, g := range groups {
		if ctx.Err() != nil {
			break
		}
		// Degenerate series produce division artifacts downstream.
		if g.MaxHigh <= epsilon || g.MinLow <= epsilon {
			continue
		}

		g := g
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if err := a.processGroup(ctx, g); err != nil {
				a.logger.Warn("pair skipped",
					"symbol_id", g.SymbolID, "exchange_id", g.ExchangeID, "error", err)
				return
			}
			mu.Lock()
			processed++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if a.metrics != nil {
		a.metrics.StatsPairs.Set(float64(processed))
	}
	return processed, ctx.Err()
}

func (a *Aggregator) processGroup(ctx context.Context, g storage.DailyGroup) error {
	lowTime, highTime, err := a.store.ExtremeTimes(ctx, g.ExchangeID, g.SymbolID, g.MinLow, g.MaxHigh)
	if err != nil {
		return err
	}

	first, err := a.store.FirstOpen(ctx, g.ExchangeID, g.SymbolID)
	if err != nil {
		return err
	}
	last, err := a.store.LastClose(ctx, g.ExchangeID, g.SymbolID)
	if err != nil {
		return err
	}

	quantiles, err := a.store.DailyCloseQuantiles(ctx, g.ExchangeID, g.SymbolID, FibLevels)
	if err != nil {
		return err
	}
	if len(quantiles) != len(FibLevels) {
		return fmt.Errorf("expected %d quantiles, got %d", len(FibLevels), len(quantiles))
	}

	symbolName := ""
	if sym, err := a.store.SymbolByID(ctx, g.SymbolID); err == nil {
		symbolName = sym.Name
	}

	row := derive(g, first, last, lowTime, highTime)
	row.Symbol = symbolName
	row.Q236, row.Q382, row.Q500, row.Q618, row.Q786 =
		quantiles[0], quantiles[1], quantiles[2], quantiles[3], quantiles[4]
	row.Updated = a.now().UTC()

	return a.store.UpsertATHL(ctx, row)
}

// derive computes the scalar statistics from the group extremes and the
// series boundary candles.
func derive(g storage.DailyGroup, first, last storage.Edge, lowTime, highTime time.Time) models.ATHL {
	highRange := g.MaxHigh - first.Price
	zeroRange := first.Price
	if zeroRange == 0 {
		zeroRange = g.MaxHigh / 2
	}
	fullRange := g.MaxHigh - g.MinLow

	var index, position float64
	switch {
	case last.Price > first.Price && highRange != 0:
		index = (last.Price - first.Price) / highRange
	case last.Price < first.Price && zeroRange != 0:
		index = -last.Price / zeroRange
	}
	if last.Price != first.Price && fullRange != 0 {
		position = (last.Price - first.Price) / fullRange
	}

	return models.ATHL{
		SymbolID:   g.SymbolID,
		ExchangeID: g.ExchangeID,
		High:       g.MaxHigh,
		HighTime:   highTime,
		Low:        g.MinLow,
		LowTime:    lowTime,
		Start:      first.Price,
		StartTime:  first.Time,
		Close:      last.Price,
		CloseTime:  last.Time,
		Index:      index,
		Position:   position,
		ATH:        last.Price/g.MaxHigh - 1,
	}
}
