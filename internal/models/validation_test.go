package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidSymbolName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"BTC/USDT", true},
		{"ETH/BTC", true},
		{"1INCH/USDT", true},
		{"PEPE2/USDT", true},
		{"BTCUSDT", false},          // no separator
		{"btc/USDT", false},         // lowercase leg
		{"BTC/US DT", false},        // whitespace
		{"BTC-PERP/USDT", false},    // punctuation in leg
		{"VERYLONGTOKEN/USDT", false}, // base leg over ten characters
		{"BTC/", false},
		{"/USDT", false},
		{"USDT/USDC", false}, // stable base
		{"DAI/USDT", false},  // stable base
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidSymbolName(tt.name))
		})
	}
}

func TestIsStable(t *testing.T) {
	assert.True(t, IsStable("USDT"))
	assert.True(t, IsStable("FDUSD"))
	assert.False(t, IsStable("BTC"))
	assert.False(t, IsStable("usdt")) // case sensitive by design
}

func TestSplitSymbolName(t *testing.T) {
	base, quote, ok := SplitSymbolName("BTC/USDT")
	assert.True(t, ok)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USDT", quote)

	_, _, ok = SplitSymbolName("BTCUSDT")
	assert.False(t, ok)
}
