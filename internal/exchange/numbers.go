package exchange

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Angry-Robot-Deals/candle-collector/internal/models"
)

// price parses a venue decimal string. Venues emit scientific notation and
// long fractions; going through decimal avoids strconv's rejection of some of
// those forms and keeps parsing uniform across adapters.
func price(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}

// count parses an integer trade counter, tolerating decimal formatting.
func count(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %q: %w", s, err)
	}
	return d.IntPart(), nil
}

// rowPrice reads a price or volume field from a mixed-type kline row. Venues
// emit these as decimal strings or bare numbers depending on the endpoint.
func rowPrice(v any) (float64, error) {
	switch x := v.(type) {
	case string:
		return price(x)
	case float64:
		return x, nil
	default:
		return 0, fmt.Errorf("unexpected price field type %T", v)
	}
}

// rowCount reads an integer counter from a mixed-type kline row.
func rowCount(v any) (int64, error) {
	switch x := v.(type) {
	case string:
		return count(x)
	case float64:
		return int64(x), nil
	default:
		return 0, fmt.Errorf("unexpected count field type %T", v)
	}
}

// rowMillis reads a millisecond timestamp field and converts it to UTC.
func rowMillis(v any) (time.Time, error) {
	n, err := rowCount(v)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(n).UTC(), nil
}

// rowSeconds reads a second-resolution timestamp field and converts it to UTC.
func rowSeconds(v any) (time.Time, error) {
	n, err := rowCount(v)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(n, 0).UTC(), nil
}

// ascending orders candles oldest first. Venues that paginate backwards
// return newest first; the orchestrator expects ascending everywhere.
func ascending(candles []models.Candle) []models.Candle {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Time.Before(candles[j].Time)
	})
	return candles
}
