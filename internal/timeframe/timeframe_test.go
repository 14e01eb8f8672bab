package timeframe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tf, err := Parse("15m")
	require.NoError(t, err)
	assert.Equal(t, M15, tf)

	_, err = Parse("7m")
	assert.Error(t, err)
}

func TestBucketStartAlignment(t *testing.T) {
	instant := time.Date(2024, 3, 17, 14, 38, 27, 123456789, time.UTC)

	tests := []struct {
		tf   Timeframe
		want time.Time
	}{
		{M1, time.Date(2024, 3, 17, 14, 38, 0, 0, time.UTC)},
		{M3, time.Date(2024, 3, 17, 14, 36, 0, 0, time.UTC)},
		{M5, time.Date(2024, 3, 17, 14, 35, 0, 0, time.UTC)},
		{M15, time.Date(2024, 3, 17, 14, 30, 0, 0, time.UTC)},
		{M30, time.Date(2024, 3, 17, 14, 30, 0, 0, time.UTC)},
		{H1, time.Date(2024, 3, 17, 14, 0, 0, 0, time.UTC)},
		{H2, time.Date(2024, 3, 17, 14, 0, 0, 0, time.UTC)},
		{H4, time.Date(2024, 3, 17, 12, 0, 0, 0, time.UTC)},
		{H6, time.Date(2024, 3, 17, 12, 0, 0, 0, time.UTC)},
		{H8, time.Date(2024, 3, 17, 8, 0, 0, 0, time.UTC)},
		{H12, time.Date(2024, 3, 17, 12, 0, 0, 0, time.UTC)},
		{D1, time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC)},
		{D3, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{W1, time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)},
		{MN1, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(string(tt.tf), func(t *testing.T) {
			assert.Equal(t, tt.want, BucketStart(tt.tf, instant))
		})
	}
}

func TestBucketStartUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	local := time.Date(2024, 3, 18, 3, 0, 0, 0, loc) // 2024-03-17T18:00Z

	got := BucketStart(D1, local)
	assert.Equal(t, time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC), got)
}

func TestBucketStartIdempotent(t *testing.T) {
	instants := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 2, 29, 12, 1, 0, 0, time.UTC),
		time.Date(2023, 12, 31, 6, 7, 8, 0, time.UTC),
		time.Date(2021, 7, 31, 23, 0, 0, 0, time.UTC),
	}

	for _, tf := range All {
		for _, instant := range instants {
			once := BucketStart(tf, instant)
			twice := BucketStart(tf, once)
			assert.Equal(t, once, twice, "tf=%s instant=%s", tf, instant)
		}
	}
}

func TestBucketStartBounds(t *testing.T) {
	instants := []time.Time{
		time.Date(2024, 3, 17, 14, 38, 27, 0, time.UTC),
		time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2022, 6, 8, 0, 0, 1, 0, time.UTC),
	}

	for _, tf := range All {
		// Calendar months vary in length; the nominal-duration bound only
		// holds for fixed-width granularities.
		if tf == MN1 || tf == D3 || tf == W1 {
			continue
		}
		for _, instant := range instants {
			start := BucketStart(tf, instant)
			assert.False(t, start.After(instant), "tf=%s", tf)
			assert.Less(t, instant.Sub(start), tf.Duration(), "tf=%s", tf)
		}
	}
}

func TestShift(t *testing.T) {
	base := time.Date(2024, 3, 17, 14, 38, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 3, 17, 14, 37, 0, 0, time.UTC), Shift(M1, base, 1))
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), Shift(D1, base, 1))
	assert.Equal(t, time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC), Shift(D1, base, -1))
	assert.Equal(t, BucketStart(D1, base), Shift(D1, base, 0))
}

func TestBuckets(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	till := time.Date(2024, 1, 4, 10, 0, 0, 0, time.UTC)

	got := Buckets(D1, since, till)
	require.Len(t, got, 4)
	// Descending, inclusive on both ends.
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), got[0])
	assert.Equal(t, since, got[3])
}

func TestBucketsSingle(t *testing.T) {
	at := time.Date(2024, 5, 5, 5, 5, 0, 0, time.UTC)
	got := Buckets(H1, at, at)
	require.Len(t, got, 1)
	assert.Equal(t, BucketStart(H1, at), got[0])
}

func TestSecondsAndMinutes(t *testing.T) {
	assert.Equal(t, int64(86400), D1.Seconds())
	assert.Equal(t, 1440, D1.Minutes())
	assert.Equal(t, 43200, MN1.Minutes())
	assert.Equal(t, time.Minute, M1.Duration())
}
