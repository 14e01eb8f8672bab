package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/Angry-Robot-Deals/candle-collector/internal/models"
	"github.com/Angry-Robot-Deals/candle-collector/internal/timeframe"
)

// DuckDBStore implements Store on an embedded DuckDB database.
type DuckDBStore struct {
	db     *sql.DB
	logger *slog.Logger
	path   string
}

// NewDuckDBStore opens (or creates) the database at path. Use ":memory:" for
// an ephemeral database. Call Init before first use.
func NewDuckDBStore(path string, logger *slog.Logger) (*DuckDBStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, newStorageError("open", "", err)
	}

	// DuckDB is embedded; a single connection avoids writer contention and
	// keeps the appender bound to the same session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBStore{db: db, logger: logger, path: path}, nil
}

// Init creates the schema if it does not exist.
func (s *DuckDBStore) Init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return newStorageError("ping", "", err)
	}

	stmts := []string{
		`CREATE SEQUENCE IF NOT EXISTS seq_exchange_id START 1`,
		`CREATE SEQUENCE IF NOT EXISTS seq_symbol_id START 1`,
		`CREATE TABLE IF NOT EXISTS exchanges (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_exchange_id'),
			name VARCHAR NOT NULL UNIQUE,
			api_uri VARCHAR NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 0,
			disabled BOOLEAN NOT NULL DEFAULT false
		)`,
		`CREATE TABLE IF NOT EXISTS symbols (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_symbol_id'),
			name VARCHAR NOT NULL UNIQUE,
			disabled BOOLEAN NOT NULL DEFAULT false
		)`,
		`CREATE TABLE IF NOT EXISTS markets (
			symbol_id BIGINT NOT NULL,
			exchange_id BIGINT NOT NULL,
			synonym VARCHAR NOT NULL,
			disabled BOOLEAN NOT NULL DEFAULT false,
			PRIMARY KEY (symbol_id, exchange_id)
		)`,
		`CREATE TABLE IF NOT EXISTS candles (
			exchange_id BIGINT NOT NULL,
			symbol_id BIGINT NOT NULL,
			tf VARCHAR NOT NULL,
			bucket TIMESTAMP NOT NULL,
			open DOUBLE NOT NULL CHECK (open >= 0),
			high DOUBLE NOT NULL CHECK (high >= 0),
			low DOUBLE NOT NULL CHECK (low >= 0),
			close DOUBLE NOT NULL CHECK (close >= 0),
			volume DOUBLE NOT NULL CHECK (volume >= 0),
			trades BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (exchange_id, symbol_id, tf, bucket)
		)`,
		`CREATE TABLE IF NOT EXISTS top_coins (
			coin VARCHAR PRIMARY KEY,
			rank INTEGER NOT NULL DEFAULT 0,
			cost24 DOUBLE NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS athl (
			symbol_id BIGINT NOT NULL,
			exchange_id BIGINT NOT NULL,
			symbol VARCHAR NOT NULL,
			high DOUBLE NOT NULL,
			high_time TIMESTAMP NOT NULL,
			low DOUBLE NOT NULL,
			low_time TIMESTAMP NOT NULL,
			start DOUBLE NOT NULL,
			start_time TIMESTAMP NOT NULL,
			close DOUBLE NOT NULL,
			close_time TIMESTAMP NOT NULL,
			idx DOUBLE NOT NULL,
			position DOUBLE NOT NULL,
			ath DOUBLE NOT NULL,
			q236 DOUBLE NOT NULL DEFAULT 0,
			q382 DOUBLE NOT NULL DEFAULT 0,
			q500 DOUBLE NOT NULL DEFAULT 0,
			q618 DOUBLE NOT NULL DEFAULT 0,
			q786 DOUBLE NOT NULL DEFAULT 0,
			updated TIMESTAMP NOT NULL,
			PRIMARY KEY (symbol_id, exchange_id)
		)`,
		`CREATE TABLE IF NOT EXISTS global_vars (
			id VARCHAR PRIMARY KEY,
			val DOUBLE NOT NULL,
			time TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candles_series ON candles (symbol_id, exchange_id, tf, bucket)`,
		`CREATE INDEX IF NOT EXISTS idx_markets_exchange ON markets (exchange_id, synonym)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return newStorageError("init", "", fmt.Errorf("%w (statement: %s)", err, firstLine(stmt)))
		}
	}

	s.logger.Info("storage initialized", "backend", "duckdb", "path", s.path)
	return nil
}

func (s *DuckDBStore) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return newStorageError("health_check", "", err)
	}
	return nil
}

func (s *DuckDBStore) Close() error {
	return s.db.Close()
}

// ReplaceCandles implements CandleStore. Rows sharing a bucket open time are
// deduplicated keeping the last, then the stored buckets are deleted and the
// batch is written through the DuckDB appender.
func (s *DuckDBStore) ReplaceCandles(ctx context.Context, exchangeID, symbolID int64, tf timeframe.Timeframe, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	rows := dedupeByTime(candles)

	placeholders := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)+3)
	args = append(args, exchangeID, symbolID, string(tf))
	for i, c := range rows {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+4))
		args = append(args, c.Time.UTC())
	}

	delStmt := fmt.Sprintf(
		`DELETE FROM candles WHERE exchange_id = $1 AND symbol_id = $2 AND tf = $3 AND bucket IN (%s)`,
		strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, delStmt, args...); err != nil {
		return 0, newStorageError("replace_delete", "candles", err)
	}

	if err := s.appendCandles(ctx, exchangeID, symbolID, tf, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// appendCandles bulk-inserts through duckdb.Appender, which is far faster
// than row-at-a-time INSERT for large backfill pages.
func (s *DuckDBStore) appendCandles(ctx context.Context, exchangeID, symbolID int64, tf timeframe.Timeframe, candles []models.Candle) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return newStorageError("append", "candles", err)
	}
	defer conn.Close()

	return conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return newStorageError("append", "candles", fmt.Errorf("unexpected driver connection type %T", driverConn))
		}

		appender, err := duckdb.NewAppenderFromConn(dc, "", "candles")
		if err != nil {
			return newStorageError("append", "candles", err)
		}
		defer appender.Close()

		for _, c := range candles {
			if err := appender.AppendRow(
				exchangeID,
				symbolID,
				string(tf),
				c.Time.UTC(),
				c.Open,
				c.High,
				c.Low,
				c.Close,
				c.Volume,
				c.Trades,
			); err != nil {
				return newStorageError("append", "candles", err)
			}
		}
		if err := appender.Flush(); err != nil {
			return newStorageError("append_flush", "candles", err)
		}
		return nil
	})
}

func (s *DuckDBStore) LatestCandleTime(ctx context.Context, exchangeID, symbolID int64, tf timeframe.Timeframe) (time.Time, error) {
	const q = `SELECT bucket FROM candles
		WHERE exchange_id = $1 AND symbol_id = $2 AND tf = $3
		ORDER BY bucket DESC LIMIT 1`

	var t time.Time
	err := s.db.QueryRowContext(ctx, q, exchangeID, symbolID, string(tf)).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, newStorageError("latest_candle", "candles", err)
	}
	return t.UTC(), nil
}

func (s *DuckDBStore) Candles(ctx context.Context, exchangeID, symbolID int64, tf timeframe.Timeframe, since, till time.Time) ([]models.Candle, error) {
	const q = `SELECT bucket, open, high, low, close, volume, trades FROM candles
		WHERE exchange_id = $1 AND symbol_id = $2 AND tf = $3 AND bucket >= $4 AND bucket <= $5
		ORDER BY bucket ASC`

	rows, err := s.db.QueryContext(ctx, q, exchangeID, symbolID, string(tf), since.UTC(), till.UTC())
	if err != nil {
		return nil, newStorageError("query", "candles", err)
	}
	defer rows.Close()

	var out []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Trades); err != nil {
			return nil, newStorageError("scan", "candles", err)
		}
		c.Time = c.Time.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, newStorageError("query", "candles", err)
	}
	return out, nil
}

func (s *DuckDBStore) UpsertExchange(ctx context.Context, ex models.Exchange) (models.Exchange, error) {
	const upd = `UPDATE exchanges SET api_uri = $2, priority = $3, disabled = $4 WHERE name = $1`
	res, err := s.db.ExecContext(ctx, upd, ex.Name, ex.APIURI, ex.Priority, ex.Disabled)
	if err != nil {
		return models.Exchange{}, newStorageError("upsert", "exchanges", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		const ins = `INSERT INTO exchanges (name, api_uri, priority, disabled) VALUES ($1, $2, $3, $4)`
		if _, err := s.db.ExecContext(ctx, ins, ex.Name, ex.APIURI, ex.Priority, ex.Disabled); err != nil {
			return models.Exchange{}, newStorageError("upsert", "exchanges", err)
		}
	}
	return s.ExchangeByName(ctx, ex.Name)
}

func (s *DuckDBStore) Exchanges(ctx context.Context) ([]models.Exchange, error) {
	const q = `SELECT id, name, api_uri, priority, disabled FROM exchanges ORDER BY priority ASC, name ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, newStorageError("query", "exchanges", err)
	}
	defer rows.Close()

	var out []models.Exchange
	for rows.Next() {
		var ex models.Exchange
		if err := rows.Scan(&ex.ID, &ex.Name, &ex.APIURI, &ex.Priority, &ex.Disabled); err != nil {
			return nil, newStorageError("scan", "exchanges", err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

func (s *DuckDBStore) ExchangeByName(ctx context.Context, name string) (models.Exchange, error) {
	const q = `SELECT id, name, api_uri, priority, disabled FROM exchanges WHERE name = $1`
	var ex models.Exchange
	err := s.db.QueryRowContext(ctx, q, name).Scan(&ex.ID, &ex.Name, &ex.APIURI, &ex.Priority, &ex.Disabled)
	if err == sql.ErrNoRows {
		return models.Exchange{}, ErrNotFound
	}
	if err != nil {
		return models.Exchange{}, newStorageError("query", "exchanges", err)
	}
	return ex, nil
}

func (s *DuckDBStore) EnsureSymbol(ctx context.Context, name string) (models.Symbol, error) {
	sym, err := s.SymbolByName(ctx, name)
	if err == nil {
		return sym, nil
	}
	if err != ErrNotFound {
		return models.Symbol{}, err
	}

	disabled := !models.ValidSymbolName(name)
	const ins = `INSERT INTO symbols (name, disabled) VALUES ($1, $2)`
	if _, err := s.db.ExecContext(ctx, ins, name, disabled); err != nil {
		return models.Symbol{}, newStorageError("insert", "symbols", err)
	}
	return s.SymbolByName(ctx, name)
}

func (s *DuckDBStore) SymbolByName(ctx context.Context, name string) (models.Symbol, error) {
	const q = `SELECT id, name, disabled FROM symbols WHERE name = $1`
	var sym models.Symbol
	err := s.db.QueryRowContext(ctx, q, name).Scan(&sym.ID, &sym.Name, &sym.Disabled)
	if err == sql.ErrNoRows {
		return models.Symbol{}, ErrNotFound
	}
	if err != nil {
		return models.Symbol{}, newStorageError("query", "symbols", err)
	}
	return sym, nil
}

func (s *DuckDBStore) SymbolByID(ctx context.Context, id int64) (models.Symbol, error) {
	const q = `SELECT id, name, disabled FROM symbols WHERE id = $1`
	var sym models.Symbol
	err := s.db.QueryRowContext(ctx, q, id).Scan(&sym.ID, &sym.Name, &sym.Disabled)
	if err == sql.ErrNoRows {
		return models.Symbol{}, ErrNotFound
	}
	if err != nil {
		return models.Symbol{}, newStorageError("query", "symbols", err)
	}
	return sym, nil
}

func (s *DuckDBStore) UpsertMarket(ctx context.Context, m models.Market) error {
	const upd = `UPDATE markets SET synonym = $3, disabled = $4 WHERE symbol_id = $1 AND exchange_id = $2`
	res, err := s.db.ExecContext(ctx, upd, m.SymbolID, m.ExchangeID, m.Synonym, m.Disabled)
	if err != nil {
		return newStorageError("upsert", "markets", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		const ins = `INSERT INTO markets (symbol_id, exchange_id, synonym, disabled) VALUES ($1, $2, $3, $4)`
		if _, err := s.db.ExecContext(ctx, ins, m.SymbolID, m.ExchangeID, m.Synonym, m.Disabled); err != nil {
			return newStorageError("upsert", "markets", err)
		}
	}
	return nil
}

func (s *DuckDBStore) EnabledMarkets(ctx context.Context, exchangeID int64) ([]MarketInfo, error) {
	const q = `SELECT m.symbol_id, m.exchange_id, m.synonym, m.disabled, s.name
		FROM markets m JOIN symbols s ON s.id = m.symbol_id
		WHERE m.exchange_id = $1 AND m.disabled = false AND s.disabled = false
		ORDER BY m.synonym ASC`

	rows, err := s.db.QueryContext(ctx, q, exchangeID)
	if err != nil {
		return nil, newStorageError("query", "markets", err)
	}
	defer rows.Close()

	var out []MarketInfo
	for rows.Next() {
		var mi MarketInfo
		if err := rows.Scan(&mi.SymbolID, &mi.ExchangeID, &mi.Synonym, &mi.Disabled, &mi.Symbol); err != nil {
			return nil, newStorageError("scan", "markets", err)
		}
		out = append(out, mi)
	}
	return out, rows.Err()
}

func (s *DuckDBStore) Synonym(ctx context.Context, exchangeID, symbolID int64) (string, error) {
	const q = `SELECT synonym FROM markets WHERE exchange_id = $1 AND symbol_id = $2 AND disabled = false`
	var syn string
	err := s.db.QueryRowContext(ctx, q, exchangeID, symbolID).Scan(&syn)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", newStorageError("query", "markets", err)
	}
	return syn, nil
}

func (s *DuckDBStore) DisableMarket(ctx context.Context, exchangeID, symbolID int64) error {
	const q = `UPDATE markets SET disabled = true WHERE exchange_id = $1 AND symbol_id = $2`
	if _, err := s.db.ExecContext(ctx, q, exchangeID, symbolID); err != nil {
		return newStorageError("update", "markets", err)
	}
	return nil
}

func (s *DuckDBStore) DailyGroups(ctx context.Context) ([]DailyGroup, error) {
	const q = `SELECT symbol_id, exchange_id, COUNT(*), MIN(low), MAX(high)
		FROM candles WHERE tf = $1
		GROUP BY symbol_id, exchange_id`

	rows, err := s.db.QueryContext(ctx, q, string(timeframe.D1))
	if err != nil {
		return nil, newStorageError("query", "candles", err)
	}
	defer rows.Close()

	var out []DailyGroup
	for rows.Next() {
		var g DailyGroup
		if err := rows.Scan(&g.SymbolID, &g.ExchangeID, &g.Count, &g.MinLow, &g.MaxHigh); err != nil {
			return nil, newStorageError("scan", "candles", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *DuckDBStore) ExtremeTimes(ctx context.Context, exchangeID, symbolID int64, minLow, maxHigh float64) (time.Time, time.Time, error) {
	const lowQ = `SELECT bucket FROM candles
		WHERE exchange_id = $1 AND symbol_id = $2 AND tf = $3 AND low = $4
		ORDER BY bucket ASC LIMIT 1`
	const highQ = `SELECT bucket FROM candles
		WHERE exchange_id = $1 AND symbol_id = $2 AND tf = $3 AND high = $4
		ORDER BY bucket ASC LIMIT 1`

	var lowTime, highTime time.Time
	err := s.db.QueryRowContext(ctx, lowQ, exchangeID, symbolID, string(timeframe.D1), minLow).Scan(&lowTime)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, time.Time{}, newStorageError("query", "candles", err)
	}
	err = s.db.QueryRowContext(ctx, highQ, exchangeID, symbolID, string(timeframe.D1), maxHigh).Scan(&highTime)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, time.Time{}, newStorageError("query", "candles", err)
	}
	return lowTime.UTC(), highTime.UTC(), nil
}

func (s *DuckDBStore) FirstOpen(ctx context.Context, exchangeID, symbolID int64) (Edge, error) {
	const q = `SELECT open, bucket FROM candles
		WHERE exchange_id = $1 AND symbol_id = $2 AND tf = $3
		ORDER BY bucket ASC LIMIT 1`
	return s.edge(ctx, q, exchangeID, symbolID)
}

func (s *DuckDBStore) LastClose(ctx context.Context, exchangeID, symbolID int64) (Edge, error) {
	const q = `SELECT close, bucket FROM candles
		WHERE exchange_id = $1 AND symbol_id = $2 AND tf = $3
		ORDER BY bucket DESC LIMIT 1`
	return s.edge(ctx, q, exchangeID, symbolID)
}

func (s *DuckDBStore) edge(ctx context.Context, q string, exchangeID, symbolID int64) (Edge, error) {
	var e Edge
	err := s.db.QueryRowContext(ctx, q, exchangeID, symbolID, string(timeframe.D1)).Scan(&e.Price, &e.Time)
	if err == sql.ErrNoRows {
		return Edge{}, ErrNotFound
	}
	if err != nil {
		return Edge{}, newStorageError("query", "candles", err)
	}
	e.Time = e.Time.UTC()
	return e, nil
}

func (s *DuckDBStore) DailyCloseQuantiles(ctx context.Context, exchangeID, symbolID int64, levels []float64) ([]float64, error) {
	if len(levels) == 0 {
		return nil, nil
	}

	cols := make([]string, len(levels))
	for i, lv := range levels {
		cols[i] = fmt.Sprintf("quantile_cont(close, %g)", lv)
	}
	q := fmt.Sprintf(`SELECT %s FROM candles WHERE exchange_id = $1 AND symbol_id = $2 AND tf = $3`,
		strings.Join(cols, ", "))

	// The aggregate row always exists; an empty series yields NULLs.
	vals := make([]sql.NullFloat64, len(levels))
	ptrs := make([]any, len(levels))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	err := s.db.QueryRowContext(ctx, q, exchangeID, symbolID, string(timeframe.D1)).Scan(ptrs...)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, newStorageError("query", "candles", err)
	}

	dest := make([]float64, len(levels))
	for i, v := range vals {
		if !v.Valid {
			return nil, ErrNotFound
		}
		dest[i] = v.Float64
	}
	return dest, nil
}

func (s *DuckDBStore) UpsertATHL(ctx context.Context, row models.ATHL) error {
	const upd = `UPDATE athl SET symbol = $3, high = $4, high_time = $5, low = $6, low_time = $7,
		start = $8, start_time = $9, close = $10, close_time = $11,
		idx = $12, position = $13, ath = $14,
		q236 = $15, q382 = $16, q500 = $17, q618 = $18, q786 = $19, updated = $20
		WHERE symbol_id = $1 AND exchange_id = $2`
	args := []any{
		row.SymbolID, row.ExchangeID, row.Symbol,
		row.High, row.HighTime.UTC(), row.Low, row.LowTime.UTC(),
		row.Start, row.StartTime.UTC(), row.Close, row.CloseTime.UTC(),
		row.Index, row.Position, row.ATH,
		row.Q236, row.Q382, row.Q500, row.Q618, row.Q786, row.Updated.UTC(),
	}
	res, err := s.db.ExecContext(ctx, upd, args...)
	if err != nil {
		return newStorageError("upsert", "athl", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		const ins = `INSERT INTO athl (symbol_id, exchange_id, symbol, high, high_time, low, low_time,
			start, start_time, close, close_time, idx, position, ath,
			q236, q382, q500, q618, q786, updated)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
				$11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
		if _, err := s.db.ExecContext(ctx, ins, args...); err != nil {
			return newStorageError("upsert", "athl", err)
		}
	}
	return nil
}

func (s *DuckDBStore) ATHLs(ctx context.Context) ([]models.ATHL, error) {
	const q = `SELECT symbol_id, exchange_id, symbol, high, high_time, low, low_time,
		start, start_time, close, close_time, idx, position, ath,
		q236, q382, q500, q618, q786, updated
		FROM athl ORDER BY symbol ASC, exchange_id ASC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, newStorageError("query", "athl", err)
	}
	defer rows.Close()

	var out []models.ATHL
	for rows.Next() {
		var r models.ATHL
		if err := rows.Scan(&r.SymbolID, &r.ExchangeID, &r.Symbol,
			&r.High, &r.HighTime, &r.Low, &r.LowTime,
			&r.Start, &r.StartTime, &r.Close, &r.CloseTime,
			&r.Index, &r.Position, &r.ATH,
			&r.Q236, &r.Q382, &r.Q500, &r.Q618, &r.Q786, &r.Updated); err != nil {
			return nil, newStorageError("scan", "athl", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *DuckDBStore) UpsertTopCoin(ctx context.Context, coin models.TopCoin) error {
	const upd = `UPDATE top_coins SET rank = $2, cost24 = $3, updated_at = $4 WHERE coin = $1`
	res, err := s.db.ExecContext(ctx, upd, coin.Coin, coin.Rank, coin.Cost24, coin.UpdatedAt.UTC())
	if err != nil {
		return newStorageError("upsert", "top_coins", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		const ins = `INSERT INTO top_coins (coin, rank, cost24, updated_at) VALUES ($1, $2, $3, $4)`
		if _, err := s.db.ExecContext(ctx, ins, coin.Coin, coin.Rank, coin.Cost24, coin.UpdatedAt.UTC()); err != nil {
			return newStorageError("upsert", "top_coins", err)
		}
	}
	return nil
}

func (s *DuckDBStore) TopCoins(ctx context.Context) ([]models.TopCoin, error) {
	q := fmt.Sprintf(`SELECT coin, rank, cost24, updated_at FROM top_coins
		WHERE coin NOT IN (%s) ORDER BY cost24 DESC`, stableList())

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, newStorageError("query", "top_coins", err)
	}
	defer rows.Close()

	var out []models.TopCoin
	for rows.Next() {
		var c models.TopCoin
		if err := rows.Scan(&c.Coin, &c.Rank, &c.Cost24, &c.UpdatedAt); err != nil {
			return nil, newStorageError("scan", "top_coins", err)
		}
		c.UpdatedAt = c.UpdatedAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// TopTraded ranks each (symbol, exchange) pair by the turnover of its newest
// daily candle inside the last three days. One row per pair, ordered by
// turnover descending.
func (s *DuckDBStore) TopTraded(ctx context.Context, minTurnover float64) ([]TopTradedCoin, error) {
	if minTurnover <= 0 {
		minTurnover = 500000
	}

	const q = `WITH latest AS (
			SELECT c.symbol_id, c.exchange_id, c.bucket, c.close, c.volume, c.trades,
				ROW_NUMBER() OVER (PARTITION BY c.symbol_id, c.exchange_id ORDER BY c.bucket DESC) AS rn
			FROM candles c
			WHERE c.tf = $1 AND c.bucket >= $2
		)
		SELECT s.name, e.name, l.bucket, l.close, l.volume, l.close * l.volume AS cost, l.trades
		FROM latest l
		JOIN symbols s ON s.id = l.symbol_id
		JOIN exchanges e ON e.id = l.exchange_id
		WHERE l.rn = 1
			AND (s.name LIKE '%/USDT' OR s.name LIKE '%/USDC' OR s.name LIKE '%/DAI' OR s.name LIKE '%/TUSD')
			AND l.close * l.volume > $3
		ORDER BY cost DESC`

	since := time.Now().UTC().AddDate(0, 0, -3)
	rows, err := s.db.QueryContext(ctx, q, string(timeframe.D1), since, minTurnover)
	if err != nil {
		return nil, newStorageError("query", "candles", err)
	}
	defer rows.Close()

	var out []TopTradedCoin
	for rows.Next() {
		var r TopTradedCoin
		if err := rows.Scan(&r.Symbol, &r.Exchange, &r.Time, &r.Close, &r.Volume, &r.Cost, &r.Trades); err != nil {
			return nil, newStorageError("scan", "candles", err)
		}
		r.Time = r.Time.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *DuckDBStore) SetMarker(ctx context.Context, id string, val float64) error {
	now := time.Now().UTC()
	const upd = `UPDATE global_vars SET val = $2, time = $3 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, upd, id, val, now)
	if err != nil {
		return newStorageError("upsert", "global_vars", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		const ins = `INSERT INTO global_vars (id, val, time) VALUES ($1, $2, $3)`
		if _, err := s.db.ExecContext(ctx, ins, id, val, now); err != nil {
			return newStorageError("upsert", "global_vars", err)
		}
	}
	return nil
}

func (s *DuckDBStore) Marker(ctx context.Context, id string) (float64, time.Time, bool, error) {
	const q = `SELECT val, time FROM global_vars WHERE id = $1`
	var val float64
	var at time.Time
	err := s.db.QueryRowContext(ctx, q, id).Scan(&val, &at)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, newStorageError("query", "global_vars", err)
	}
	return val, at.UTC(), true, nil
}

// dedupeByTime keeps the last candle seen for each open time and returns the
// result sorted ascending.
func dedupeByTime(candles []models.Candle) []models.Candle {
	seen := make(map[int64]models.Candle, len(candles))
	for _, c := range candles {
		seen[c.Time.UTC().Unix()] = c
	}
	out := make([]models.Candle, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func stableList() string {
	quoted := make([]string, len(models.Stables))
	for i, s := range models.Stables {
		quoted[i] = "'" + s + "'"
	}
	return strings.Join(quoted, ", ")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
