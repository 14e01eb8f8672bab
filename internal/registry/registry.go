// Package registry resolves exchanges, symbols and markets and owns the
// venue seed list. Symbols are created lazily on first sight; markets that
// turn out not to exist on a venue are disabled permanently.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Angry-Robot-Deals/candle-collector/internal/exchange"
	"github.com/Angry-Robot-Deals/candle-collector/internal/models"
	"github.com/Angry-Robot-Deals/candle-collector/internal/storage"
)

// ErrUnresolved is returned when a market cannot be resolved to an enabled
// exchange, symbol and synonym triple.
var ErrUnresolved = errors.New("registry: market unresolved")

// seedExchanges is the venue universe with API documentation URIs. Priority
// follows list order; lower is preferred when a symbol trades on several
// venues.
var seedExchanges = []models.Exchange{
	{Name: "binance", APIURI: "https://binance-docs.github.io/apidocs/spot/en/#kline-candlestick-data", Priority: 1},
	{Name: "bitmart", APIURI: "https://developer-pro.bitmart.com/en/spot/#get-history-k-line-v3", Priority: 2},
	{Name: "bybit", APIURI: "https://bybit-exchange.github.io/docs/v5/market/kline", Priority: 3},
	{Name: "poloniex", APIURI: "https://docs.poloniex.com/#public-endpoints-market-data-candles", Priority: 4},
	{Name: "htx", APIURI: "https://huobiapi.github.io/docs/spot/v1/en/#get-klines-candles", Priority: 5},
	{Name: "kucoin", APIURI: "https://www.kucoin.com/docs/rest/spot-trading/market-data/get-klines", Priority: 6},
	{Name: "mexc", APIURI: "https://mexcdevelop.github.io/apidocs/spot_v3_en/#kline-candlestick-data", Priority: 7},
	{Name: "gateio", APIURI: "https://www.gate.io/docs/developers/apiv4/en/#market-candlesticks", Priority: 8},
	{Name: "okx", APIURI: "https://www.okx.com/docs-v5/en/#order-book-trading-market-data-get-candlesticks", Priority: 9},
	{Name: "bitget", APIURI: "https://bitgetlimited.github.io/apidoc/en/spot/#get-candlestick-data", Priority: 10},
	{Name: "coinbasepro", APIURI: "", Priority: 11},
}

// Resolution is a fully resolved market ready for fetching.
type Resolution struct {
	Exchange models.Exchange
	Symbol   models.Symbol
	Synonym  string
}

// Service wraps the registry store with resolution and seeding logic.
type Service struct {
	store  storage.RegistryStore
	logger *slog.Logger
}

func NewService(store storage.RegistryStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger.With("component", "registry")}
}

// Seed upserts the venue universe. Safe to run on every start.
func (s *Service) Seed(ctx context.Context) error {
	for _, ex := range seedExchanges {
		if _, err := s.store.UpsertExchange(ctx, ex); err != nil {
			return fmt.Errorf("seed exchange %s: %w", ex.Name, err)
		}
	}
	s.logger.Info("exchange universe seeded", "count", len(seedExchanges))
	return nil
}

// RegisterMarket creates the symbol if needed, derives the venue synonym and
// upserts the market. Symbols failing validation and names the venue cannot
// spell produce a disabled market.
func (s *Service) RegisterMarket(ctx context.Context, exchangeName, symbolName string) (models.Market, error) {
	ex, err := s.store.ExchangeByName(ctx, exchangeName)
	if err != nil {
		return models.Market{}, fmt.Errorf("register market %s on %s: %w", symbolName, exchangeName, err)
	}

	sym, err := s.store.EnsureSymbol(ctx, symbolName)
	if err != nil {
		return models.Market{}, fmt.Errorf("register market %s on %s: %w", symbolName, exchangeName, err)
	}

	synonym, ok := exchange.Synonym(exchangeName, symbolName)
	m := models.Market{
		SymbolID:   sym.ID,
		ExchangeID: ex.ID,
		Synonym:    synonym,
		Disabled:   sym.Disabled || !ok,
	}
	if err := s.store.UpsertMarket(ctx, m); err != nil {
		return models.Market{}, fmt.Errorf("register market %s on %s: %w", symbolName, exchangeName, err)
	}
	if m.Disabled {
		s.logger.Warn("market registered disabled", "exchange", exchangeName, "symbol", symbolName)
	}
	return m, nil
}

// Resolve returns the enabled market for (exchange, symbol) or ErrUnresolved.
func (s *Service) Resolve(ctx context.Context, exchangeName, symbolName string) (Resolution, error) {
	ex, err := s.store.ExchangeByName(ctx, exchangeName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Resolution{}, fmt.Errorf("%w: unknown exchange %s", ErrUnresolved, exchangeName)
		}
		return Resolution{}, err
	}
	if ex.Disabled {
		return Resolution{}, fmt.Errorf("%w: exchange %s disabled", ErrUnresolved, exchangeName)
	}

	sym, err := s.store.SymbolByName(ctx, symbolName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Resolution{}, fmt.Errorf("%w: unknown symbol %s", ErrUnresolved, symbolName)
		}
		return Resolution{}, err
	}
	if sym.Disabled {
		return Resolution{}, fmt.Errorf("%w: symbol %s disabled", ErrUnresolved, symbolName)
	}

	synonym, err := s.store.Synonym(ctx, ex.ID, sym.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Resolution{}, fmt.Errorf("%w: no market for %s on %s", ErrUnresolved, symbolName, exchangeName)
		}
		return Resolution{}, err
	}

	return Resolution{Exchange: ex, Symbol: sym, Synonym: synonym}, nil
}

// Disable switches a market off for good.
func (s *Service) Disable(ctx context.Context, exchangeID, symbolID int64) error {
	return s.store.DisableMarket(ctx, exchangeID, symbolID)
}

// EnabledMarkets lists the exchange's active markets ordered by synonym.
func (s *Service) EnabledMarkets(ctx context.Context, exchangeID int64) ([]storage.MarketInfo, error) {
	return s.store.EnabledMarkets(ctx, exchangeID)
}
