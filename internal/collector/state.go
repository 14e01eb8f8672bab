package collector

import (
	"fmt"
	"sync"
	"time"

	"github.com/Angry-Robot-Deals/candle-collector/internal/timeframe"
)

// marketRef identifies one (exchange, symbol) pair in the resilience maps.
type marketRef struct {
	Exchange string
	Symbol   string
}

func (r marketRef) String() string { return r.Exchange + ":" + r.Symbol }

// State is the in-memory half of the circuit breaker. It tracks timed
// backoffs, consecutive short pages, unresolvable symbols and in-flight fetch
// cycles. All state is per-process and lost on restart.
type State struct {
	mu         sync.Mutex
	delayUntil map[marketRef]time.Time
	shortPages map[marketRef]int
	badSymbols map[marketRef]struct{}
	inFlight   map[string]struct{}
}

func NewState() *State {
	return &State{
		delayUntil: make(map[marketRef]time.Time),
		shortPages: make(map[marketRef]int),
		badSymbols: make(map[marketRef]struct{}),
		inFlight:   make(map[string]struct{}),
	}
}

// Delayed reports whether the pair is inside a backoff window.
func (s *State) Delayed(exchange, symbol string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.delayUntil[marketRef{exchange, symbol}]
	if !ok {
		return false
	}
	if now.Before(until) {
		return true
	}
	delete(s.delayUntil, marketRef{exchange, symbol})
	return false
}

// Delay records a backoff window for the pair.
func (s *State) Delay(exchange, symbol string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delayUntil[marketRef{exchange, symbol}] = until
}

// RecordShortPage counts a page at or below the short-page threshold.
// Returns true when this is the second consecutive short page; the counter
// resets on that transition.
func (s *State) RecordShortPage(exchange, symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := marketRef{exchange, symbol}
	s.shortPages[ref]++
	if s.shortPages[ref] >= 2 {
		delete(s.shortPages, ref)
		return true
	}
	return false
}

// RecordFullPage resets the consecutive short-page counter.
func (s *State) RecordFullPage(exchange, symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shortPages, marketRef{exchange, symbol})
}

// MarkBadSymbol remembers a symbol that failed to resolve on an exchange for
// the remainder of the process lifetime.
func (s *State) MarkBadSymbol(exchange, symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.badSymbols[marketRef{exchange, symbol}] = struct{}{}
}

func (s *State) BadSymbol(exchange, symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.badSymbols[marketRef{exchange, symbol}]
	return ok
}

// TryAcquire guards one (exchange, symbol, timeframe) key against concurrent
// fetch cycles. Returns false when a cycle for the key is already running.
func (s *State) TryAcquire(exchange, symbol string, tf timeframe.Timeframe) bool {
	key := cycleKey(exchange, symbol, tf)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *State) Release(exchange, symbol string, tf timeframe.Timeframe) {
	key := cycleKey(exchange, symbol, tf)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}

func cycleKey(exchange, symbol string, tf timeframe.Timeframe) string {
	return fmt.Sprintf("%s:%s:%s", exchange, symbol, tf)
}
