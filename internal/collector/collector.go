// Package collector runs the ingestion loops: it resolves markets, decides
// resume points, calls the venue adapters, persists pages and maintains the
// in-memory half of the rate-limit circuit breaker.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Angry-Robot-Deals/candle-collector/internal/exchange"
	"github.com/Angry-Robot-Deals/candle-collector/internal/metrics"
	"github.com/Angry-Robot-Deals/candle-collector/internal/models"
	"github.com/Angry-Robot-Deals/candle-collector/internal/registry"
	"github.com/Angry-Robot-Deals/candle-collector/internal/storage"
	"github.com/Angry-Robot-Deals/candle-collector/internal/timeframe"
)

// Config tunes the orchestrator's resilience behavior.
type Config struct {
	// FetchDelay is the backoff window applied after two consecutive short
	// pages.
	FetchDelay time.Duration
	// ShortPageThreshold is the page size at or below which a page counts as
	// short.
	ShortPageThreshold int
	// InterRequestDelay spaces consecutive per-market requests on one venue.
	InterRequestDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		FetchDelay:         2 * time.Hour,
		ShortPageThreshold: 3,
		InterRequestDelay:  100 * time.Millisecond,
	}
}

// Collector drives fetch cycles against the adapter registry.
type Collector struct {
	store    storage.Store
	adapters exchange.Registry
	registry *registry.Service
	state    *State
	metrics  *metrics.Metrics
	cfg      Config
	logger   *slog.Logger

	now func() time.Time
}

func New(store storage.Store, adapters exchange.Registry, reg *registry.Service, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FetchDelay <= 0 {
		cfg.FetchDelay = DefaultConfig().FetchDelay
	}
	if cfg.ShortPageThreshold <= 0 {
		cfg.ShortPageThreshold = DefaultConfig().ShortPageThreshold
	}
	if cfg.InterRequestDelay <= 0 {
		cfg.InterRequestDelay = DefaultConfig().InterRequestDelay
	}
	return &Collector{
		store:    store,
		adapters: adapters,
		registry: reg,
		state:    NewState(),
		metrics:  m,
		cfg:      cfg,
		logger:   logger.With("component", "collector"),
		now:      time.Now,
	}
}

// State exposes the resilience maps to the scheduling loops.
func (c *Collector) State() *State { return c.state }

// FetchCycle runs one resolve -> resume -> fetch -> persist cycle for a
// market. A zero start means "resume from the store or find the first
// candle"; limit <= 0 means the venue's full page. Returns the number of
// candles persisted. Unresolvable markets and not-found instruments return
// (0, nil) after updating the relevant durable or in-memory state.
func (c *Collector) FetchCycle(ctx context.Context, exchangeName, symbolName string, tf timeframe.Timeframe, start time.Time, limit int) (int, error) {
	if !c.state.TryAcquire(exchangeName, symbolName, tf) {
		return 0, nil
	}
	defer c.state.Release(exchangeName, symbolName, tf)

	log := c.logger.With(
		"cycle", uuid.NewString(),
		"exchange", exchangeName,
		"symbol", symbolName,
		"timeframe", string(tf),
	)

	adapter, ok := c.adapters[exchangeName]
	if !ok {
		log.Error("no adapter for exchange")
		return 0, nil
	}

	res, err := c.registry.Resolve(ctx, exchangeName, symbolName)
	if err != nil {
		if errors.Is(err, registry.ErrUnresolved) {
			c.state.MarkBadSymbol(exchangeName, symbolName)
			log.Warn("market unresolved", "error", err)
			return 0, nil
		}
		return 0, fmt.Errorf("fetch cycle: %w", err)
	}

	if limit <= 0 || limit > adapter.PageLimit() {
		limit = adapter.PageLimit()
	}

	if start.IsZero() {
		start, limit, err = c.resumePoint(ctx, log, adapter, res, tf, limit)
		if err != nil {
			return 0, err
		}
		if start.IsZero() {
			// No stored history and no first candle found: the market simply
			// has nothing yet.
			return 0, nil
		}
	} else {
		start = timeframe.BucketStart(tf, start)
	}

	candles, err := adapter.FetchCandles(ctx, exchange.FetchRequest{
		Synonym:   res.Synonym,
		Timeframe: tf,
		Start:     start,
		Limit:     limit,
	})
	if err != nil {
		return 0, c.handleFetchError(ctx, log, res, err)
	}

	saved, err := c.persist(ctx, res, tf, candles)
	if err != nil {
		return 0, err
	}

	if len(candles) <= c.cfg.ShortPageThreshold {
		if c.state.RecordShortPage(exchangeName, symbolName) {
			until := c.now().Add(c.cfg.FetchDelay)
			c.state.Delay(exchangeName, symbolName, until)
			if c.metrics != nil {
				c.metrics.BackoffsApplied.WithLabelValues(exchangeName).Inc()
			}
			log.Info("market backed off after consecutive short pages", "until", until)
		}
	} else {
		c.state.RecordFullPage(exchangeName, symbolName)
	}

	log.Debug("cycle complete", "start", start, "fetched", len(candles), "saved", saved)
	return saved, nil
}

// resumePoint picks where the next page starts. The newest stored bucket is
// re-fetched on purpose: it may have been open when stored. HTX cannot
// window by start time, so once its series is current it gets a single-row
// page instead.
func (c *Collector) resumePoint(ctx context.Context, log *slog.Logger, adapter exchange.Adapter, res registry.Resolution, tf timeframe.Timeframe, limit int) (time.Time, int, error) {
	latest, err := c.store.LatestCandleTime(ctx, res.Exchange.ID, res.Symbol.ID, tf)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("resume point: %w", err)
	}
	if !latest.IsZero() {
		start := timeframe.BucketStart(tf, latest)
		if res.Exchange.Name == exchange.NameHTX {
			current := timeframe.BucketStart(tf, c.now())
			previous := timeframe.Shift(tf, current, 1)
			if start.Equal(current) || start.Equal(previous) {
				limit = 1
			}
		}
		return start, limit, nil
	}

	first, err := adapter.FindFirstCandle(ctx, res.Synonym, tf)
	if err != nil {
		return time.Time{}, 0, c.handleFetchError(ctx, log, res, err)
	}
	if first.IsZero() {
		log.Info("no history found on venue")
		return time.Time{}, 0, nil
	}
	return timeframe.BucketStart(tf, first), limit, nil
}

// handleFetchError maps adapter failures onto circuit-breaker state. Only
// instrument-not-found responses disable the market; everything else is left
// for the next scheduled pass.
func (c *Collector) handleFetchError(ctx context.Context, log *slog.Logger, res registry.Resolution, err error) error {
	kind := "transient"
	switch {
	case exchange.IsInstrumentNotFound(err):
		kind = "instrument_not_found"
		if derr := c.registry.Disable(ctx, res.Exchange.ID, res.Symbol.ID); derr != nil {
			log.Error("failed to disable market", "error", derr)
		} else {
			log.Warn("market disabled", "error", err)
		}
		if c.metrics != nil {
			c.metrics.MarketsDisabled.WithLabelValues(res.Exchange.Name).Inc()
			c.metrics.FetchErrors.WithLabelValues(res.Exchange.Name, kind).Inc()
		}
		return nil
	case exchange.IsRateLimited(err):
		kind = "rate_limited"
	}

	if c.metrics != nil {
		c.metrics.FetchErrors.WithLabelValues(res.Exchange.Name, kind).Inc()
	}
	log.Warn("fetch failed", "kind", kind, "error", err)
	return err
}

// persist bucket-aligns the page and replaces the intersecting stored rows.
func (c *Collector) persist(ctx context.Context, res registry.Resolution, tf timeframe.Timeframe, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	rows := make([]models.Candle, 0, len(candles))
	for _, cd := range candles {
		cd.Time = timeframe.BucketStart(tf, cd.Time)
		if err := cd.Validate(); err != nil {
			c.logger.Warn("dropping malformed candle",
				"exchange", res.Exchange.Name, "symbol", res.Symbol.Name, "error", err)
			continue
		}
		rows = append(rows, cd)
	}

	saved, err := c.store.ReplaceCandles(ctx, res.Exchange.ID, res.Symbol.ID, tf, rows)
	if err != nil {
		return 0, fmt.Errorf("persist page: %w", err)
	}
	if c.metrics != nil && saved > 0 {
		c.metrics.CandlesSaved.WithLabelValues(res.Exchange.Name, string(tf)).Add(float64(saved))
	}
	return saved, nil
}
