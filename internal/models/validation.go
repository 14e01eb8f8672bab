package models

import "strings"

// maxLegLen bounds either side of a pair name. Anything longer is almost
// always a leveraged token or a venue artifact we do not want to track.
const maxLegLen = 10

// Stables are quote-style assets that are excluded from the top-coin universe
// and disabled as base legs.
var Stables = []string{
	"USDT", "USDC", "DAI", "TUSD", "BUSD", "USDD", "PYUSD", "FDUSD",
	"USDE", "USDP", "GUSD", "FRAX", "LUSD", "EURT", "EURS", "USTC",
}

// IsStable reports whether the coin is a known stablecoin.
func IsStable(coin string) bool {
	for _, s := range Stables {
		if coin == s {
			return true
		}
	}
	return false
}

// ValidSymbolName reports whether a canonical BASE/QUOTE name is tradable:
// exactly two non-empty legs, each at most ten characters of [A-Z0-9], and a
// base leg that is not a stablecoin.
func ValidSymbolName(name string) bool {
	base, quote, ok := strings.Cut(name, "/")
	if !ok {
		return false
	}
	if !validLeg(base) || !validLeg(quote) {
		return false
	}
	return !IsStable(base)
}

// SplitSymbolName splits a canonical name into its base and quote legs.
// The second return is false when the name is not in BASE/QUOTE form.
func SplitSymbolName(name string) (base, quote string, ok bool) {
	return strings.Cut(name, "/")
}

func validLeg(leg string) bool {
	if leg == "" || len(leg) > maxLegLen {
		return false
	}
	for i := 0; i < len(leg); i++ {
		c := leg[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
