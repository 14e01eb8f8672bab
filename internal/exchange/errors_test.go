package exchange

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Angry-Robot-Deals/candle-collector/internal/fetch"
)

func TestClassifyStatusErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			"server error",
			&fetch.StatusError{URL: "u", Code: 502, Body: "bad gateway"},
			KindTransient,
		},
		{
			"throttled",
			&fetch.StatusError{URL: "u", Code: 429, Body: "too many requests"},
			KindRateLimited,
		},
		{
			"unknown client error",
			&fetch.StatusError{URL: "u", Code: 400, Body: "parameter error"},
			KindUnknown,
		},
		{
			"binance invalid symbol",
			&fetch.StatusError{URL: "u", Code: 400, Body: `{"code":-1121,"msg":"Invalid symbol."}`},
			KindInstrumentNotFound,
		},
		{
			"gateio invalid currency pair",
			&fetch.StatusError{URL: "u", Code: 400, Body: `{"label":"INVALID_CURRENCY_PAIR","message":"..."}`},
			KindInstrumentNotFound,
		},
		{
			"decode failure",
			&fetch.DecodeError{URL: "u", Err: errors.New("unexpected token")},
			KindTransient,
		},
		{
			"empty body",
			fetch.ErrEmptyBody,
			KindTransient,
		},
		{
			"network failure",
			errors.New("dial tcp: connection refused"),
			KindTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := classify("binance", "fetch_candles", tt.err)
			assert.Equal(t, tt.want, e.Kind)
			assert.Equal(t, "binance", e.Venue)
			assert.ErrorIs(t, e, tt.err)
		})
	}
}

func TestClassifyMsgEnvelopes(t *testing.T) {
	e := classifyMsg("okx", "fetch_candles", "code=51001 msg=Instrument ID does not exist")
	assert.Equal(t, KindInstrumentNotFound, e.Kind)

	e = classifyMsg("htx", "fetch_candles", "err-code=invalid-parameter err-msg=could not get the candlesticks for symbol btcfake")
	assert.Equal(t, KindInstrumentNotFound, e.Kind)

	e = classifyMsg("bybit", "fetch_candles", "retCode=10006 retMsg=rate limit")
	assert.Equal(t, KindTransient, e.Kind)
}

func TestIsInstrumentNotFound(t *testing.T) {
	inner := classifyMsg("okx", "op", "Instrument ID does not exist")
	wrapped := fmt.Errorf("fetch cycle: %w", inner)

	assert.True(t, IsInstrumentNotFound(wrapped))
	assert.False(t, IsInstrumentNotFound(errors.New("boom")))
}

func TestIsRateLimited(t *testing.T) {
	err := classify("mexc", "op", &fetch.StatusError{URL: "u", Code: 429})
	assert.True(t, IsRateLimited(err))
	assert.False(t, IsInstrumentNotFound(err))
}
