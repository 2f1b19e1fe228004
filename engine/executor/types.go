// Package executor implements the shared order state machine and its two
// transports: a poll-based REST executor and an event-driven WebSocket
// executor with backoff, circuit breaker, REST fallback, and staleness
// detection.
package executor

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/veloxtrade/execengine/engine/reprice"
	"github.com/veloxtrade/execengine/exchange"
)

// OrderType distinguishes a resting (maker) order from one meant to cross
// the spread immediately (taker).
type OrderType string

const (
	TypeMaker OrderType = "maker"
	TypeTaker OrderType = "taker"
)

// Request is the caller-supplied, immutable description of a desired order.
type Request struct {
	Symbol      string
	Side        exchange.Side
	Amount      decimal.Decimal
	Type        OrderType
	ExchangeID  string
	Leverage    int
	MarginMode  string
	ExtraParams map[string]any
}

// Validate enforces the fail-fast invariants checked before any I/O:
// amount must be positive and exchange_id non-empty.
func (r Request) Validate() error {
	if r.Amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	if r.ExchangeID == "" {
		return ErrEmptyExchangeID
	}
	return nil
}

// State is the order's position in the shared state machine.
type State string

const (
	StatePending         State = "pending"
	StateSubmitted       State = "submitted"
	StateMonitoring      State = "monitoring"
	StatePartiallyFilled State = "partially_filled"
	StateFilled          State = "filled"
	StateCancelled       State = "cancelled"
	StateTimedOut        State = "timed_out"
	StateRejected        State = "rejected"
	StateFailed          State = "failed"
)

// terminal reports whether a state has no further transitions.
func (s State) terminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateTimedOut, StateRejected, StateFailed:
		return true
	default:
		return false
	}
}

// OpenOrder tracks a live order's mutable fields while it is being
// monitored. It is owned by exactly one executor goroutine.
type OpenOrder struct {
	OrderID         string
	Request         Request
	SubmitTs        time.Time
	CurrentPrice    decimal.Decimal
	FilledAmount    decimal.Decimal
	RemainingAmount decimal.Decimal
	State           State
	LastEventTs     time.Time
}

// Config holds the tunables for one executor instance, shared by both the
// REST and WS variants.
type Config struct {
	Strategy         Strategy
	MaxSpreadPct     decimal.Decimal
	TimeoutDuration  time.Duration
	SpreadWaitBudget time.Duration

	WsReconnectBaseDelay time.Duration
	WsReconnectCap       time.Duration
	WsMaxReconnectAttempts int
	WsStalenessWindow    time.Duration

	Reprice reprice.Config
}

// Strategy selects the pre-submit execution policy.
type Strategy string

const (
	StrategyFast      Strategy = "FAST"
	StrategyBestPrice Strategy = "BEST_PRICE"
)

// DefaultConfig mirrors the defaults named throughout SPEC_FULL.md §6.
func DefaultConfig() Config {
	return Config{
		Strategy:               StrategyFast,
		MaxSpreadPct:           decimal.NewFromFloat(0.005),
		TimeoutDuration:        5 * time.Minute,
		SpreadWaitBudget:       30 * time.Second,
		WsReconnectBaseDelay:   100 * time.Millisecond,
		WsReconnectCap:         30 * time.Second,
		WsMaxReconnectAttempts: 3,
		WsStalenessWindow:      10 * time.Second,
		Reprice: reprice.Config{
			MinRepriceThresholdPct: decimal.Zero,
		},
	}
}
