// The collector daemon ingests OHLCV candles from the configured exchanges,
// maintains per-pair statistics, and serves Prometheus metrics.
//
// Usage:
//
//	collector -config config.json -pairs BTC/USDT,ETH/USDT
//
// Configuration comes from defaults, the optional JSON file, and environment
// variables (a .env file is honored).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Angry-Robot-Deals/candle-collector/internal/collector"
	"github.com/Angry-Robot-Deals/candle-collector/internal/config"
	"github.com/Angry-Robot-Deals/candle-collector/internal/exchange"
	"github.com/Angry-Robot-Deals/candle-collector/internal/logger"
	"github.com/Angry-Robot-Deals/candle-collector/internal/metrics"
	"github.com/Angry-Robot-Deals/candle-collector/internal/registry"
	"github.com/Angry-Robot-Deals/candle-collector/internal/stats"
	"github.com/Angry-Robot-Deals/candle-collector/internal/storage"
	"github.com/Angry-Robot-Deals/candle-collector/internal/timeframe"
	"github.com/Angry-Robot-Deals/candle-collector/internal/topcoins"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "collector:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to JSON configuration file")
	pairs := flag.String("pairs", "", "comma-separated symbols to register on every venue, e.g. BTC/USDT,ETH/USDT")
	flag.Parse()

	// A missing .env is fine; explicit env vars still apply.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath, nil)
	if err != nil {
		return err
	}

	logm, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logm.Close()
	log := logm.Logger()
	mainLog := logm.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg.Storage, log)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return err
	}

	reg := registry.NewService(store, log)
	if err := reg.Seed(ctx); err != nil {
		return err
	}

	adapters := exchange.NewRegistry(log)

	if *pairs != "" {
		registerPairs(ctx, mainLog, reg, adapters, *pairs)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	provider := topcoins.NewStoreProvider(store, store, log)

	coll := collector.New(store, adapters, reg, m, collector.Config{
		FetchDelay:         cfg.Ingest.FetchDelayDuration(),
		ShortPageThreshold: cfg.Ingest.ShortPageThreshold,
		InterRequestDelay:  cfg.Ingest.InterRequestDelayDuration(),
	}, log)

	var wg sync.WaitGroup

	if cfg.Ingest.EnableTopCoinLoop || cfg.Ingest.EnableCoarseLoops {
		loops := collector.LoopsConfig{
			TopCoinInterval:  cfg.Ingest.TopCoinIntervalDuration(),
			CoarseExchanges:  cfg.Ingest.CoarseExchanges,
			CoarseTimeframes: parseTimeframes(mainLog, cfg.Ingest.CoarseTimeframes),
		}
		if !cfg.Ingest.EnableCoarseLoops {
			loops.CoarseTimeframes = nil
		}
		var loopProvider *topcoins.StoreProvider
		if cfg.Ingest.EnableTopCoinLoop {
			loopProvider = provider
		}
		runner := collector.NewRunner(coll, loopProvider, loops, log)

		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()
	}

	if cfg.Ingest.EnableTopCoinLoop {
		wg.Add(1)
		go func() {
			defer wg.Done()
			refreshTopCoins(ctx, mainLog, provider, cfg.Ingest.MinTurnover)
		}()
	}

	if cfg.Stats.Enabled {
		agg := stats.New(store, m, stats.Config{
			Interval:    cfg.Stats.IntervalDuration(),
			Concurrency: cfg.Stats.Concurrency,
		}, log)

		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.Run(ctx)
		}()
	}

	var srv *http.Server
	if m != nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, m.Handler())
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			mainLog.Info("metrics server listening", "addr", srv.Addr, "path", cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				mainLog.Error("metrics server failed", "error", err)
			}
		}()
	}

	mainLog.Info("collector started", "app", cfg.AppName)
	<-ctx.Done()
	mainLog.Info("shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}

	wg.Wait()
	return nil
}

func openStore(cfg config.StorageConfig, log *slog.Logger) (storage.Store, error) {
	switch cfg.Type {
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return storage.NewDuckDBStore(cfg.Path, log)
	}
}

// registerPairs upserts a market for every (venue, pair) combination so the
// coarse loops have something to sweep on first start.
func registerPairs(ctx context.Context, log *slog.Logger, reg *registry.Service, adapters exchange.Registry, list string) {
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		for venue := range adapters {
			if _, err := reg.RegisterMarket(ctx, venue, name); err != nil {
				log.Warn("market registration failed", "exchange", venue, "symbol", name, "error", err)
			}
		}
	}
}

// refreshTopCoins rebuilds the coin universe from recent daily turnover once
// an hour, so the 1-minute loop tracks what is actually trading.
func refreshTopCoins(ctx context.Context, log *slog.Logger, provider *topcoins.StoreProvider, minTurnover float64) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		if _, err := provider.RefreshFromTurnover(ctx, minTurnover); err != nil {
			log.Error("top coin refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func parseTimeframes(log *slog.Logger, names []string) []timeframe.Timeframe {
	var out []timeframe.Timeframe
	for _, name := range names {
		tf, err := timeframe.Parse(name)
		if err != nil {
			log.Warn("skipping unknown timeframe", "timeframe", name)
			continue
		}
		out = append(out, tf)
	}
	return out
}
