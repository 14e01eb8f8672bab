package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Angry-Robot-Deals/candle-collector/internal/fetch"
)

// Kind classifies an adapter failure. The orchestrator disables a market only
// on KindInstrumentNotFound; every other kind is retried on a later pass.
type Kind int

const (
	KindTransient Kind = iota
	KindRateLimited
	KindInstrumentNotFound
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindInstrumentNotFound:
		return "instrument_not_found"
	default:
		return "unknown"
	}
}

// Error is the only error type adapters return.
type Error struct {
	Venue string
	Op    string
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s: %v", e.Venue, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsInstrumentNotFound reports whether err marks a permanently invalid
// instrument.
func IsInstrumentNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindInstrumentNotFound
}

// IsRateLimited reports whether err marks venue-side throttling.
func IsRateLimited(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindRateLimited
}

// notFoundMarkers are the substrings venues embed in error payloads when an
// instrument does not exist. Matched case-insensitively.
var notFoundMarkers = []string{
	"instrument id does not exist",
	"invalid symbol",
	"invalid_currency_pair",
	"invalid_currency",
	"could not get the candlesticks for symbol",
	"symbol not exist",
	"symbol does not exist",
}

// classify wraps err as an *Error for the venue, deriving the kind from the
// transport error type and the venue's error text.
func classify(venue, op string, err error) *Error {
	return &Error{Venue: venue, Op: op, Kind: kindOf(err, ""), Err: err}
}

// classifyMsg is classify for venues that return HTTP 200 with an error
// envelope; msg is the venue's error text.
func classifyMsg(venue, op, msg string) *Error {
	err := fmt.Errorf("api error: %s", msg)
	return &Error{Venue: venue, Op: op, Kind: kindOf(err, msg), Err: err}
}

func kindOf(err error, msg string) Kind {
	if matchesNotFound(msg) {
		return KindInstrumentNotFound
	}

	var serr *fetch.StatusError
	if errors.As(err, &serr) {
		if matchesNotFound(serr.Body) {
			return KindInstrumentNotFound
		}
		if serr.Code == 429 {
			return KindRateLimited
		}
		if serr.Code >= 500 {
			return KindTransient
		}
		return KindUnknown
	}

	var derr *fetch.DecodeError
	if errors.As(err, &derr) || errors.Is(err, fetch.ErrEmptyBody) {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if matchesNotFound(err.Error()) {
		return KindInstrumentNotFound
	}
	return KindTransient
}

func matchesNotFound(s string) bool {
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	for _, marker := range notFoundMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
