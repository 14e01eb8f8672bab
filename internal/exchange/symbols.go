package exchange

import "strings"

// SymbolFormat renders a canonical BASE/QUOTE pair in a venue's native
// spelling.
type SymbolFormat func(base, quote string) string

// NoSeparator joins the legs directly: BTCUSDT.
func NoSeparator(base, quote string) string { return base + quote }

// Hyphen joins with a hyphen: BTC-USDT.
func Hyphen(base, quote string) string { return base + "-" + quote }

// Underscore joins with an underscore: BTC_USDT.
func Underscore(base, quote string) string { return base + "_" + quote }

// LowerNoSeparator joins directly and lowercases: btcusdt.
func LowerNoSeparator(base, quote string) string {
	return strings.ToLower(base + quote)
}

// Formats maps venue names to their native symbol spelling.
var Formats = map[string]SymbolFormat{
	NameBinance:  NoSeparator,
	NameOKX:      Hyphen,
	NameBybit:    NoSeparator,
	NamePoloniex: Underscore,
	NameMEXC:     NoSeparator,
	NameGateIO:   Underscore,
	NameKuCoin:   Hyphen,
	NameHTX:      LowerNoSeparator,
	NameBitget:   NoSeparator,
}

// Native renders s with the venue's format when s is still in canonical
// BASE/QUOTE form. Synonyms already in native spelling pass through.
func Native(format SymbolFormat, s string) string {
	base, quote, ok := strings.Cut(s, "/")
	if !ok {
		return s
	}
	return format(base, quote)
}

// Synonym renders a canonical symbol name for a venue. The second return is
// false when the name is not BASE/QUOTE or the venue is unknown.
func Synonym(venue, name string) (string, bool) {
	format, ok := Formats[venue]
	if !ok {
		return "", false
	}
	base, quote, ok := strings.Cut(name, "/")
	if !ok {
		return "", false
	}
	return format(base, quote), true
}
