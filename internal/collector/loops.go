package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/Angry-Robot-Deals/candle-collector/internal/exchange"
	"github.com/Angry-Robot-Deals/candle-collector/internal/storage"
	"github.com/Angry-Robot-Deals/candle-collector/internal/timeframe"
	"github.com/Angry-Robot-Deals/candle-collector/internal/topcoins"
)

// LoopsConfig selects which scheduling loops run and how often.
type LoopsConfig struct {
	// TopCoinInterval is the pause between passes of the 1-minute loop.
	TopCoinInterval time.Duration
	// CoarseTimeframes are the granularities of the all-markets loops. Empty
	// means no coarse loops run.
	CoarseTimeframes []timeframe.Timeframe
	// CoarseExchanges restricts the all-markets loops to these venues; empty
	// means every venue with an adapter.
	CoarseExchanges []string
	// PassInterval is the minimum time between full passes per granularity,
	// enforced through the durable marker store.
	PassInterval map[timeframe.Timeframe]time.Duration
	// RescheduleJitter is the maximum random extra sleep added after each
	// coarse pass so venues are not hit in synchronized bursts.
	RescheduleJitter time.Duration
}

func DefaultLoopsConfig() LoopsConfig {
	return LoopsConfig{
		TopCoinInterval:  time.Minute,
		CoarseTimeframes: []timeframe.Timeframe{timeframe.M15, timeframe.H1, timeframe.D1, timeframe.MN1},
		PassInterval: map[timeframe.Timeframe]time.Duration{
			timeframe.M15: 15 * time.Minute,
			timeframe.H1:  time.Hour,
			timeframe.D1:  20 * time.Hour,
			timeframe.MN1: 20 * time.Hour,
		},
		RescheduleJitter: time.Hour,
	}
}

// Runner owns the long-lived scheduling loops. Each loop is an explicit
// for/select with sleeps rather than a timer chain, so shutdown is just
// context cancellation.
type Runner struct {
	collector *Collector
	provider  *topcoins.StoreProvider
	cfg       LoopsConfig
	logger    *slog.Logger
	rng       *rand.Rand
}

func NewRunner(c *Collector, provider *topcoins.StoreProvider, cfg LoopsConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultLoopsConfig()
	if cfg.TopCoinInterval <= 0 {
		cfg.TopCoinInterval = def.TopCoinInterval
	}
	if cfg.PassInterval == nil {
		cfg.PassInterval = def.PassInterval
	}
	if cfg.RescheduleJitter <= 0 {
		cfg.RescheduleJitter = def.RescheduleJitter
	}
	return &Runner{
		collector: c,
		provider:  provider,
		cfg:       cfg,
		logger:    logger.With("component", "loops"),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run starts every loop and blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup

	if r.provider != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runTopCoinLoop(ctx)
		}()
	}

	for _, tf := range r.cfg.CoarseTimeframes {
		tf := tf
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runCoarseLoop(ctx, tf)
		}()
	}

	wg.Wait()
}

// runTopCoinLoop refreshes the newest minute candles for the ranked coin
// universe, each coin on its preferred venue. Coins without a resolvable
// USDT market are skipped silently.
func (r *Runner) runTopCoinLoop(ctx context.Context) {
	log := r.logger.With("loop", "topcoin")
	for {
		if err := r.topCoinPass(ctx, log); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("pass failed", "error", err)
		}
		if r.collector.metrics != nil {
			r.collector.metrics.LastPass.WithLabelValues("topcoin").SetToCurrentTime()
		}
		if !sleep(ctx, r.cfg.TopCoinInterval) {
			return
		}
	}
}

func (r *Runner) topCoinPass(ctx context.Context, log *slog.Logger) error {
	coins, err := r.provider.Coins(ctx)
	if err != nil {
		return fmt.Errorf("top coin pass: %w", err)
	}

	now := r.collector.now()
	for _, coin := range coins {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		cm, err := r.provider.PreferredMarket(ctx, coin.Coin)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("top coin pass: %w", err)
		}

		if r.collector.state.BadSymbol(cm.Exchange.Name, cm.Symbol.Name) ||
			r.collector.state.Delayed(cm.Exchange.Name, cm.Symbol.Name, now) {
			continue
		}

		if _, err := r.collector.FetchCycle(ctx, cm.Exchange.Name, cm.Symbol.Name, timeframe.M1, time.Time{}, 0); err != nil {
			log.Warn("coin fetch failed", "coin", coin.Coin, "error", err)
		}
		if !sleep(ctx, r.collector.cfg.InterRequestDelay) {
			return ctx.Err()
		}
	}
	return nil
}

// runCoarseLoop walks every enabled market of every allowed exchange at one
// granularity. Exchanges run concurrently; markets within an exchange run
// sequentially with a fixed delay.
func (r *Runner) runCoarseLoop(ctx context.Context, tf timeframe.Timeframe) {
	log := r.logger.With("loop", string(tf))
	for {
		var wg sync.WaitGroup
		for _, name := range r.loopExchanges() {
			name := name
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := r.exchangePass(ctx, log, name, tf); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("exchange pass failed", "exchange", name, "error", err)
				}
			}()
		}
		wg.Wait()

		if r.collector.metrics != nil {
			r.collector.metrics.LastPass.WithLabelValues(string(tf)).SetToCurrentTime()
		}

		pause := r.passInterval(tf)/4 + r.jitter()
		if !sleep(ctx, pause) {
			return
		}
	}
}

// exchangePass runs one full market sweep on one venue, gated by the durable
// last-pass marker so restarts do not hot-loop.
func (r *Runner) exchangePass(ctx context.Context, log *slog.Logger, exchangeName string, tf timeframe.Timeframe) error {
	// HTX monthly rides inside the daily sweep; a standalone monthly pass
	// would fetch the same series twice.
	if exchangeName == exchange.NameHTX && tf == timeframe.MN1 {
		return nil
	}

	marker := passMarker(tf, exchangeName)
	_, at, ok, err := r.collector.store.Marker(ctx, marker)
	if err != nil {
		return err
	}
	if ok && r.collector.now().Sub(at) < r.passInterval(tf) {
		return nil
	}

	ex, err := r.collector.store.ExchangeByName(ctx, exchangeName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn("exchange not seeded", "exchange", exchangeName)
			return nil
		}
		return err
	}

	markets, err := r.collector.store.EnabledMarkets(ctx, ex.ID)
	if err != nil {
		return err
	}

	now := r.collector.now()
	for _, m := range markets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if r.collector.state.BadSymbol(exchangeName, m.Symbol) ||
			r.collector.state.Delayed(exchangeName, m.Symbol, now) {
			continue
		}

		if _, err := r.collector.FetchCycle(ctx, exchangeName, m.Symbol, tf, time.Time{}, 0); err != nil {
			log.Warn("market fetch failed", "exchange", exchangeName, "symbol", m.Symbol, "error", err)
		}

		// HTX carries the monthly series inside the daily sweep: monthly
		// pages are cheap there and the venue has no windowed fetch to give
		// the series its own loop.
		if exchangeName == exchange.NameHTX && tf == timeframe.D1 {
			if _, err := r.collector.FetchCycle(ctx, exchangeName, m.Symbol, timeframe.MN1, time.Time{}, 0); err != nil {
				log.Warn("monthly fetch failed", "exchange", exchangeName, "symbol", m.Symbol, "error", err)
			}
		}

		if !sleep(ctx, r.collector.cfg.InterRequestDelay) {
			return ctx.Err()
		}
	}

	if err := r.collector.store.SetMarker(ctx, marker, 1); err != nil {
		return err
	}
	log.Info("pass complete", "exchange", exchangeName, "markets", len(markets))
	return nil
}

func (r *Runner) loopExchanges() []string {
	if len(r.cfg.CoarseExchanges) == 0 {
		names := make([]string, 0, len(r.collector.adapters))
		for name := range r.collector.adapters {
			names = append(names, name)
		}
		return names
	}
	var names []string
	for _, name := range r.cfg.CoarseExchanges {
		if _, ok := r.collector.adapters[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

func (r *Runner) passInterval(tf timeframe.Timeframe) time.Duration {
	if d, ok := r.cfg.PassInterval[tf]; ok && d > 0 {
		return d
	}
	return tf.Duration()
}

func (r *Runner) jitter() time.Duration {
	if r.cfg.RescheduleJitter <= 0 {
		return 0
	}
	return time.Duration(r.rng.Int63n(int64(r.cfg.RescheduleJitter)))
}

func passMarker(tf timeframe.Timeframe, exchangeName string) string {
	return fmt.Sprintf("pass:%s:%s", tf, exchangeName)
}

// sleep waits for d or ctx, reporting false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
