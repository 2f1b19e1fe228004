// Package session implements the per-batch, per-exchange setup state: margin
// and leverage dedup caches, pre-warmed WebSocket streams, and circuit
// breaker state for the WS transport.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/veloxtrade/execengine/exchange"
)

// SymbolLeverage pairs a symbol with the leverage it should trade at, used
// only during Init to drive dedup'd SetLeverage calls.
type SymbolLeverage struct {
	Symbol   string
	Leverage int
}

// Spec is what the router hands to Init: every distinct symbol that needs a
// margin mode, every distinct (symbol, leverage) pair, and whether any
// maker-style order on this exchange needs a pre-warmed order-book stream.
type Spec struct {
	Symbols       []string
	Leverages     []SymbolLeverage
	NeedsWSSymbols []string // symbols needing watch_order_book pre-warm
}

// Session is per-batch, per-exchange. It must never be reused across
// batches: a fresh Session is created at the start of every batch, and the
// call site that creates one calls Close() on each of its exit paths.
type Session struct {
	exchangeID string
	adapter    exchange.Adapter

	mu            sync.RWMutex
	marginSet     map[string]struct{}
	leverageSet   map[string]int // symbol -> leverage actually set
	activeStreams map[string]context.CancelFunc

	circuitMu sync.RWMutex
	circuit   CircuitState
}

// CircuitState is the WS transport circuit breaker state for this
// exchange's session. Distinct from the risk package's loss-based circuit
// breaker (see risk.Breaker) — this one trips on reconnect failures.
type CircuitState struct {
	ConsecutiveFailures int
	Open                bool
}

// New creates a fresh, empty Session bound to adapter. Callers must call
// Close() once they are done with it.
func New(adapter exchange.Adapter) *Session {
	return &Session{
		exchangeID:    adapter.ID(),
		adapter:       adapter,
		marginSet:     make(map[string]struct{}),
		leverageSet:   make(map[string]int),
		activeStreams: make(map[string]context.CancelFunc),
	}
}

func (s *Session) ExchangeID() string      { return s.exchangeID }
func (s *Session) Adapter() exchange.Adapter { return s.adapter }

// Init calls SetMarginMode once per distinct symbol and SetLeverage once
// per distinct (symbol, leverage) pair, then pre-warms a WatchOrderBook
// stream for every symbol that needs one before any limit order is placed
// on it.
func (s *Session) Init(ctx context.Context, spec Spec) error {
	for _, symbol := range dedupStrings(spec.Symbols) {
		if err := s.setMarginModeOnce(ctx, symbol); err != nil {
			return fmt.Errorf("set margin mode %s/%s: %w", s.exchangeID, symbol, err)
		}
	}

	for _, sl := range dedupLeverage(spec.Leverages) {
		if err := s.setLeverageOnce(ctx, sl.Symbol, sl.Leverage); err != nil {
			return fmt.Errorf("set leverage %s/%s: %w", s.exchangeID, sl.Symbol, err)
		}
	}

	if s.adapter.SupportsWebSocket() {
		for _, symbol := range dedupStrings(spec.NeedsWSSymbols) {
			if err := s.prewarmOrderBook(ctx, symbol); err != nil {
				return fmt.Errorf("prewarm order book %s/%s: %w", s.exchangeID, symbol, err)
			}
		}
	}

	return nil
}

func (s *Session) setMarginModeOnce(ctx context.Context, symbol string) error {
	s.mu.Lock()
	if _, done := s.marginSet[symbol]; done {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.adapter.SetMarginMode(ctx, symbol); err != nil {
		return err
	}

	s.mu.Lock()
	s.marginSet[symbol] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *Session) setLeverageOnce(ctx context.Context, symbol string, leverage int) error {
	s.mu.Lock()
	if set, done := s.leverageSet[symbol]; done && set == leverage {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.adapter.SetLeverage(ctx, symbol, leverage); err != nil {
		return err
	}

	s.mu.Lock()
	s.leverageSet[symbol] = leverage
	s.mu.Unlock()
	return nil
}

// prewarmOrderBook starts a WatchOrderBook stream and discards it — this is
// purely to prime the connection before the first CreateLimitOrder; the
// executor opens its own stream for the actual reprice decisions.
func (s *Session) prewarmOrderBook(ctx context.Context, symbol string) error {
	s.mu.RLock()
	_, already := s.activeStreams[symbol]
	s.mu.RUnlock()
	if already {
		return nil
	}

	streamCtx, cancel := context.WithCancel(ctx)
	if _, err := s.adapter.WatchOrderBook(streamCtx, symbol); err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	s.activeStreams[symbol] = cancel
	s.mu.Unlock()
	return nil
}

// MarginSetCount returns how many distinct symbols had SetMarginMode
// called — used by tests asserting the dedup invariant.
func (s *Session) MarginSetCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.marginSet)
}

// LeverageSetCount returns how many distinct symbols had SetLeverage
// called.
func (s *Session) LeverageSetCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.leverageSet)
}

// Circuit returns a copy of the current WS circuit state.
func (s *Session) Circuit() CircuitState {
	s.circuitMu.RLock()
	defer s.circuitMu.RUnlock()
	return s.circuit
}

// RecordWSFailure increments the consecutive-failure counter and trips the
// circuit once maxAttempts is reached. Guarded single-writer: only the WS
// connection supervisor goroutine for this exchange should call it.
func (s *Session) RecordWSFailure(maxAttempts int) (opened bool) {
	s.circuitMu.Lock()
	defer s.circuitMu.Unlock()
	if s.circuit.Open {
		return false
	}
	s.circuit.ConsecutiveFailures++
	if s.circuit.ConsecutiveFailures >= maxAttempts {
		s.circuit.Open = true
		return true
	}
	return false
}

// RecordWSSuccess resets the consecutive-failure counter.
func (s *Session) RecordWSSuccess() {
	s.circuitMu.Lock()
	defer s.circuitMu.Unlock()
	s.circuit.ConsecutiveFailures = 0
}

// Close cancels every pre-warmed stream and releases resources. Safe to
// call multiple times.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for symbol, cancel := range s.activeStreams {
		cancel()
		delete(s.activeStreams, symbol)
	}
	log.Debug().Str("exchange_id", s.exchangeID).Msg("session closed")
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func dedupLeverage(in []SymbolLeverage) []SymbolLeverage {
	seen := make(map[SymbolLeverage]struct{}, len(in))
	out := make([]SymbolLeverage, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
