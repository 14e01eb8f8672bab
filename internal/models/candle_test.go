package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validCandle() Candle {
	return Candle{
		Time:   time.Date(2024, 3, 17, 14, 0, 0, 0, time.UTC),
		Open:   100.5,
		High:   101.0,
		Low:    100.0,
		Close:  100.75,
		Volume: 1000.5,
		Trades: 42,
	}
}

func TestCandleValidate(t *testing.T) {
	c := validCandle()
	assert.NoError(t, c.Validate())
}

func TestCandleValidateZeroTime(t *testing.T) {
	c := validCandle()
	c.Time = time.Time{}

	err := c.Validate()
	assert.Error(t, err)

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "time", verr.Field)
}

func TestCandleValidateHighBelowLow(t *testing.T) {
	c := validCandle()
	c.High = 99.0

	err := c.Validate()
	assert.Error(t, err)

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "high", verr.Field)
}

func TestCandleValidateNegativeVolume(t *testing.T) {
	c := validCandle()
	c.Volume = -1

	assert.Error(t, c.Validate())
}

func TestCandleValidateZeroVolumeAllowed(t *testing.T) {
	// Illiquid pairs legitimately report empty buckets.
	c := validCandle()
	c.Volume = 0
	c.Trades = 0

	assert.NoError(t, c.Validate())
}

func TestCandleString(t *testing.T) {
	c := validCandle()
	s := c.String()
	assert.Contains(t, s, "2024-03-17T14:00:00Z")
	assert.Contains(t, s, "O:100.5")
}
