package storage

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Angry-Robot-Deals/candle-collector/internal/models"
	"github.com/Angry-Robot-Deals/candle-collector/internal/timeframe"
)

type seriesKey struct {
	exchangeID int64
	symbolID   int64
	tf         timeframe.Timeframe
}

type marketKey struct {
	symbolID   int64
	exchangeID int64
}

type markerVal struct {
	val float64
	at  time.Time
}

// MemoryStore is an in-memory Store used by tests and dry runs. All maps are
// guarded by a single mutex; the workloads here are small.
type MemoryStore struct {
	mu sync.RWMutex

	series    map[seriesKey]map[int64]models.Candle
	exchanges map[string]models.Exchange
	symbols   map[string]models.Symbol
	markets   map[marketKey]models.Market
	topCoins  map[string]models.TopCoin
	athl      map[marketKey]models.ATHL
	markers   map[string]markerVal

	nextExchangeID int64
	nextSymbolID   int64
	closed         bool
}

// NewMemoryStore returns an empty ready-to-use store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		series:    make(map[seriesKey]map[int64]models.Candle),
		exchanges: make(map[string]models.Exchange),
		symbols:   make(map[string]models.Symbol),
		markets:   make(map[marketKey]models.Market),
		topCoins:  make(map[string]models.TopCoin),
		athl:      make(map[marketKey]models.ATHL),
		markers:   make(map[string]markerVal),
	}
}

func (m *MemoryStore) Init(ctx context.Context) error        { return nil }
func (m *MemoryStore) HealthCheck(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStore) ReplaceCandles(ctx context.Context, exchangeID, symbolID int64, tf timeframe.Timeframe, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	rows := dedupeByTime(candles)

	m.mu.Lock()
	defer m.mu.Unlock()

	key := seriesKey{exchangeID, symbolID, tf}
	bucket := m.series[key]
	if bucket == nil {
		bucket = make(map[int64]models.Candle)
		m.series[key] = bucket
	}
	for _, c := range rows {
		c.Time = c.Time.UTC()
		bucket[c.Time.Unix()] = c
	}
	return len(rows), nil
}

func (m *MemoryStore) LatestCandleTime(ctx context.Context, exchangeID, symbolID int64, tf timeframe.Timeframe) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest time.Time
	for _, c := range m.series[seriesKey{exchangeID, symbolID, tf}] {
		if c.Time.After(latest) {
			latest = c.Time
		}
	}
	return latest, nil
}

func (m *MemoryStore) Candles(ctx context.Context, exchangeID, symbolID int64, tf timeframe.Timeframe, since, till time.Time) ([]models.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Candle
	for _, c := range m.series[seriesKey{exchangeID, symbolID, tf}] {
		if c.Time.Before(since) || c.Time.After(till) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (m *MemoryStore) UpsertExchange(ctx context.Context, ex models.Exchange) (models.Exchange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.exchanges[ex.Name]; ok {
		ex.ID = existing.ID
	} else {
		m.nextExchangeID++
		ex.ID = m.nextExchangeID
	}
	m.exchanges[ex.Name] = ex
	return ex, nil
}

func (m *MemoryStore) Exchanges(ctx context.Context) ([]models.Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Exchange, 0, len(m.exchanges))
	for _, ex := range m.exchanges {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryStore) ExchangeByName(ctx context.Context, name string) (models.Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ex, ok := m.exchanges[name]
	if !ok {
		return models.Exchange{}, ErrNotFound
	}
	return ex, nil
}

func (m *MemoryStore) EnsureSymbol(ctx context.Context, name string) (models.Symbol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sym, ok := m.symbols[name]; ok {
		return sym, nil
	}
	m.nextSymbolID++
	sym := models.Symbol{ID: m.nextSymbolID, Name: name, Disabled: !models.ValidSymbolName(name)}
	m.symbols[name] = sym
	return sym, nil
}

func (m *MemoryStore) SymbolByName(ctx context.Context, name string) (models.Symbol, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sym, ok := m.symbols[name]
	if !ok {
		return models.Symbol{}, ErrNotFound
	}
	return sym, nil
}

func (m *MemoryStore) SymbolByID(ctx context.Context, id int64) (models.Symbol, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sym := range m.symbols {
		if sym.ID == id {
			return sym, nil
		}
	}
	return models.Symbol{}, ErrNotFound
}

func (m *MemoryStore) UpsertMarket(ctx context.Context, mk models.Market) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markets[marketKey{mk.SymbolID, mk.ExchangeID}] = mk
	return nil
}

func (m *MemoryStore) EnabledMarkets(ctx context.Context, exchangeID int64) ([]MarketInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	symbolNames := make(map[int64]models.Symbol, len(m.symbols))
	for _, s := range m.symbols {
		symbolNames[s.ID] = s
	}

	var out []MarketInfo
	for _, mk := range m.markets {
		if mk.ExchangeID != exchangeID || mk.Disabled {
			continue
		}
		sym, ok := symbolNames[mk.SymbolID]
		if !ok || sym.Disabled {
			continue
		}
		out = append(out, MarketInfo{Market: mk, Symbol: sym.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Synonym < out[j].Synonym })
	return out, nil
}

func (m *MemoryStore) Synonym(ctx context.Context, exchangeID, symbolID int64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mk, ok := m.markets[marketKey{symbolID, exchangeID}]
	if !ok || mk.Disabled {
		return "", ErrNotFound
	}
	return mk.Synonym, nil
}

func (m *MemoryStore) DisableMarket(ctx context.Context, exchangeID, symbolID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := marketKey{symbolID, exchangeID}
	if mk, ok := m.markets[key]; ok {
		mk.Disabled = true
		m.markets[key] = mk
	}
	return nil
}

func (m *MemoryStore) DailyGroups(ctx context.Context) ([]DailyGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []DailyGroup
	for key, bucket := range m.series {
		if key.tf != timeframe.D1 || len(bucket) == 0 {
			continue
		}
		g := DailyGroup{SymbolID: key.symbolID, ExchangeID: key.exchangeID, MinLow: math.MaxFloat64}
		for _, c := range bucket {
			g.Count++
			if c.Low < g.MinLow {
				g.MinLow = c.Low
			}
			if c.High > g.MaxHigh {
				g.MaxHigh = c.High
			}
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SymbolID != out[j].SymbolID {
			return out[i].SymbolID < out[j].SymbolID
		}
		return out[i].ExchangeID < out[j].ExchangeID
	})
	return out, nil
}

func (m *MemoryStore) ExtremeTimes(ctx context.Context, exchangeID, symbolID int64, minLow, maxHigh float64) (time.Time, time.Time, error) {
	candles, err := m.dailySeries(exchangeID, symbolID)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	var lowTime, highTime time.Time
	for _, c := range candles {
		if c.Low == minLow && lowTime.IsZero() {
			lowTime = c.Time
		}
		if c.High == maxHigh && highTime.IsZero() {
			highTime = c.Time
		}
	}
	return lowTime, highTime, nil
}

func (m *MemoryStore) FirstOpen(ctx context.Context, exchangeID, symbolID int64) (Edge, error) {
	candles, err := m.dailySeries(exchangeID, symbolID)
	if err != nil || len(candles) == 0 {
		return Edge{}, ErrNotFound
	}
	return Edge{Price: candles[0].Open, Time: candles[0].Time}, nil
}

func (m *MemoryStore) LastClose(ctx context.Context, exchangeID, symbolID int64) (Edge, error) {
	candles, err := m.dailySeries(exchangeID, symbolID)
	if err != nil || len(candles) == 0 {
		return Edge{}, ErrNotFound
	}
	last := candles[len(candles)-1]
	return Edge{Price: last.Close, Time: last.Time}, nil
}

// DailyCloseQuantiles uses linear interpolation between closest ranks, the
// same method as DuckDB's quantile_cont.
func (m *MemoryStore) DailyCloseQuantiles(ctx context.Context, exchangeID, symbolID int64, levels []float64) ([]float64, error) {
	candles, err := m.dailySeries(exchangeID, symbolID)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, ErrNotFound
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	sort.Float64s(closes)

	out := make([]float64, len(levels))
	for i, lv := range levels {
		pos := lv * float64(len(closes)-1)
		lo := int(math.Floor(pos))
		hi := int(math.Ceil(pos))
		if lo == hi {
			out[i] = closes[lo]
			continue
		}
		frac := pos - float64(lo)
		out[i] = closes[lo] + frac*(closes[hi]-closes[lo])
	}
	return out, nil
}

func (m *MemoryStore) dailySeries(exchangeID, symbolID int64) ([]models.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Candle
	for _, c := range m.series[seriesKey{exchangeID, symbolID, timeframe.D1}] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (m *MemoryStore) UpsertATHL(ctx context.Context, row models.ATHL) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.athl[marketKey{row.SymbolID, row.ExchangeID}] = row
	return nil
}

func (m *MemoryStore) ATHLs(ctx context.Context) ([]models.ATHL, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ATHL, 0, len(m.athl))
	for _, r := range m.athl {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].ExchangeID < out[j].ExchangeID
	})
	return out, nil
}

func (m *MemoryStore) UpsertTopCoin(ctx context.Context, coin models.TopCoin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topCoins[coin.Coin] = coin
	return nil
}

func (m *MemoryStore) TopCoins(ctx context.Context) ([]models.TopCoin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.TopCoin, 0, len(m.topCoins))
	for _, c := range m.topCoins {
		if models.IsStable(c.Coin) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cost24 > out[j].Cost24 })
	return out, nil
}

func (m *MemoryStore) TopTraded(ctx context.Context, minTurnover float64) ([]TopTradedCoin, error) {
	if minTurnover <= 0 {
		minTurnover = 500000
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	symbolsByID := make(map[int64]models.Symbol, len(m.symbols))
	for _, s := range m.symbols {
		symbolsByID[s.ID] = s
	}
	exchangesByID := make(map[int64]models.Exchange, len(m.exchanges))
	for _, ex := range m.exchanges {
		exchangesByID[ex.ID] = ex
	}

	since := time.Now().UTC().AddDate(0, 0, -3)
	var out []TopTradedCoin
	for key, bucket := range m.series {
		if key.tf != timeframe.D1 {
			continue
		}
		var last models.Candle
		for _, c := range bucket {
			if c.Time.Before(since) {
				continue
			}
			if c.Time.After(last.Time) {
				last = c
			}
		}
		if last.Time.IsZero() {
			continue
		}
		sym, ok := symbolsByID[key.symbolID]
		if !ok || !quoteTracked(sym.Name) {
			continue
		}
		cost := last.Close * last.Volume
		if cost <= minTurnover {
			continue
		}
		exName := ""
		if ex, ok := exchangesByID[key.exchangeID]; ok {
			exName = ex.Name
		}
		out = append(out, TopTradedCoin{
			Symbol:   sym.Name,
			Exchange: exName,
			Time:     last.Time,
			Close:    last.Close,
			Volume:   last.Volume,
			Cost:     cost,
			Trades:   last.Trades,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cost > out[j].Cost })
	return out, nil
}

func quoteTracked(name string) bool {
	for _, suffix := range []string{"/USDT", "/USDC", "/DAI", "/TUSD"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) SetMarker(ctx context.Context, id string, val float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[id] = markerVal{val: val, at: time.Now().UTC()}
	return nil
}

func (m *MemoryStore) Marker(ctx context.Context, id string) (float64, time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mv, ok := m.markers[id]
	if !ok {
		return 0, time.Time{}, false, nil
	}
	return mv.val, mv.at, true, nil
}
