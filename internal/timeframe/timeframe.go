// Package timeframe provides pure bucket arithmetic for candle granularities.
//
// Every instant belongs to exactly one bucket per granularity; BucketStart maps
// the instant to the start of that bucket. All truncation is pinned to UTC so
// bucket boundaries do not depend on the deployment timezone.
package timeframe

import (
	"fmt"
	"time"
)

// Timeframe identifies a candle granularity by its conventional short name.
type Timeframe string

const (
	M1  Timeframe = "1m"
	M3  Timeframe = "3m"
	M5  Timeframe = "5m"
	M15 Timeframe = "15m"
	M30 Timeframe = "30m"
	H1  Timeframe = "1h"
	H2  Timeframe = "2h"
	H4  Timeframe = "4h"
	H6  Timeframe = "6h"
	H8  Timeframe = "8h"
	H12 Timeframe = "12h"
	D1  Timeframe = "1d"
	D3  Timeframe = "3d"
	W1  Timeframe = "1w"
	MN1 Timeframe = "1M"
)

// All lists the supported granularities in ascending duration order.
var All = []Timeframe{M1, M3, M5, M15, M30, H1, H2, H4, H6, H8, H12, D1, D3, W1, MN1}

// Parse validates a granularity short name.
func Parse(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Valid reports whether tf is one of the supported granularities.
func (tf Timeframe) Valid() bool {
	switch tf {
	case M1, M3, M5, M15, M30, H1, H2, H4, H6, H8, H12, D1, D3, W1, MN1:
		return true
	}
	return false
}

// Seconds returns the nominal bucket span in seconds. A month is counted as
// 30 days; calendar-aware arithmetic belongs to BucketStart, not here.
func (tf Timeframe) Seconds() int64 {
	switch tf {
	case M1:
		return 60
	case M3:
		return 180
	case M5:
		return 300
	case M15:
		return 900
	case M30:
		return 1800
	case H1:
		return 3600
	case H2:
		return 7200
	case H4:
		return 14400
	case H6:
		return 21600
	case H8:
		return 28800
	case H12:
		return 43200
	case D1:
		return 86400
	case D3:
		return 259200
	case W1:
		return 604800
	case MN1:
		return 2592000
	}
	return 0
}

// Minutes returns the nominal bucket span in minutes.
func (tf Timeframe) Minutes() int {
	return int(tf.Seconds() / 60)
}

// Duration returns the nominal bucket span.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Seconds()) * time.Second
}

// BucketStart returns the start of the bucket enclosing t for the given
// granularity. Minute and hour multiples truncate to the lower multiple within
// the day; 3-day and weekly buckets truncate the day-of-month to the lower
// multiple (floored at 1, so the first of the month starts a bucket); monthly
// buckets start on the first of the month.
func BucketStart(tf Timeframe, t time.Time) time.Time {
	u := t.UTC()
	year, month, day := u.Date()
	hour, minute := u.Hour(), u.Minute()

	switch tf {
	case M1:
		return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
	case M3, M5, M15, M30:
		step := tf.Minutes()
		return time.Date(year, month, day, hour, minute-minute%step, 0, 0, time.UTC)
	case H1, H2, H4, H6, H8, H12:
		step := int(tf.Seconds() / 3600)
		return time.Date(year, month, day, hour-hour%step, 0, 0, 0, time.UTC)
	case D1:
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	case D3:
		return time.Date(year, month, dayMultiple(day, 3), 0, 0, 0, 0, time.UTC)
	case W1:
		return time.Date(year, month, dayMultiple(day, 7), 0, 0, 0, 0, time.UTC)
	case MN1:
		return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	}
	// Unknown granularity is a programming error; fall back to 5-minute
	// truncation rather than panicking inside a scheduling loop.
	return time.Date(year, month, day, hour, minute-minute%5, 0, 0, time.UTC)
}

// dayMultiple floors a day-of-month to the lower multiple of step, clamped to
// the first of the month so the result is always a valid day.
func dayMultiple(day, step int) int {
	day -= day % step
	if day < 1 {
		return 1
	}
	return day
}

// Shift returns the bucket start n full buckets before t (negative n shifts
// forward). The result is re-aligned, so calendar granularities land on real
// bucket boundaries.
func Shift(tf Timeframe, t time.Time, n int) time.Time {
	start := BucketStart(tf, t)
	shifted := start.Add(-time.Duration(n) * tf.Duration())
	return BucketStart(tf, shifted)
}

// Buckets enumerates bucket starts from till down to since, descending and
// inclusive on both ends.
func Buckets(tf Timeframe, since, till time.Time) []time.Time {
	first := BucketStart(tf, since)
	cur := BucketStart(tf, till)

	var out []time.Time
	for !cur.Before(first) {
		out = append(out, cur)
		next := BucketStart(tf, cur.Add(-tf.Duration()))
		if !next.Before(cur) {
			break
		}
		cur = next
	}
	return out
}
