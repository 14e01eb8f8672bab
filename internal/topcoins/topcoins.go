// Package topcoins exposes the ranked coin universe that drives the
// minute-candle loop. The universe itself is opaque: it lives in the store
// and can be refreshed from the turnover of recently ingested daily candles.
package topcoins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Angry-Robot-Deals/candle-collector/internal/models"
	"github.com/Angry-Robot-Deals/candle-collector/internal/storage"
)

// Provider yields the current coin universe, best first.
type Provider interface {
	Coins(ctx context.Context) ([]models.TopCoin, error)
}

// CoinMarket is a coin resolved to its preferred venue, the highest-priority
// exchange carrying an enabled COIN/USDT market.
type CoinMarket struct {
	Coin     string
	Exchange models.Exchange
	Symbol   models.Symbol
	Synonym  string
}

// StoreProvider reads the universe from the store and resolves preferred
// markets against the registry tables.
type StoreProvider struct {
	coins    storage.TopCoinStore
	registry storage.RegistryStore
	logger   *slog.Logger
}

func NewStoreProvider(coins storage.TopCoinStore, registry storage.RegistryStore, logger *slog.Logger) *StoreProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreProvider{coins: coins, registry: registry, logger: logger.With("component", "topcoins")}
}

// Coins implements Provider. Stablecoins are already excluded and order is
// 24h turnover descending.
func (p *StoreProvider) Coins(ctx context.Context) ([]models.TopCoin, error) {
	return p.coins.TopCoins(ctx)
}

// PreferredMarket resolves one coin to its preferred venue market. Returns
// storage.ErrNotFound when no exchange carries an enabled COIN/USDT market.
func (p *StoreProvider) PreferredMarket(ctx context.Context, coin string) (CoinMarket, error) {
	if models.IsStable(coin) {
		return CoinMarket{}, storage.ErrNotFound
	}

	symbolName := coin + "/USDT"
	sym, err := p.registry.SymbolByName(ctx, symbolName)
	if err != nil {
		return CoinMarket{}, err
	}
	if sym.Disabled {
		return CoinMarket{}, storage.ErrNotFound
	}

	exchanges, err := p.registry.Exchanges(ctx)
	if err != nil {
		return CoinMarket{}, err
	}

	// Exchanges come ordered by priority; first enabled market wins.
	for _, ex := range exchanges {
		if ex.Disabled {
			continue
		}
		synonym, err := p.registry.Synonym(ctx, ex.ID, sym.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return CoinMarket{}, err
		}
		return CoinMarket{Coin: coin, Exchange: ex, Symbol: sym, Synonym: synonym}, nil
	}
	return CoinMarket{}, storage.ErrNotFound
}

// RefreshFromTurnover rebuilds the universe from the turnover ranking of the
// last complete daily candles. Rank follows the ranking order.
func (p *StoreProvider) RefreshFromTurnover(ctx context.Context, minTurnover float64) (int, error) {
	rows, err := p.coins.TopTraded(ctx, minTurnover)
	if err != nil {
		return 0, fmt.Errorf("refresh top coins: %w", err)
	}

	now := time.Now().UTC()
	seen := make(map[string]bool, len(rows))
	rank := 0
	for _, row := range rows {
		base, _, ok := models.SplitSymbolName(row.Symbol)
		if !ok || models.IsStable(base) || seen[base] {
			continue
		}
		seen[base] = true
		rank++
		coin := models.TopCoin{Coin: base, Rank: rank, Cost24: row.Cost, UpdatedAt: now}
		if err := p.coins.UpsertTopCoin(ctx, coin); err != nil {
			return rank - 1, fmt.Errorf("refresh top coins: %w", err)
		}
	}

	p.logger.Info("top coin universe refreshed", "coins", rank, "candidates", len(rows))
	return rank, nil
}
