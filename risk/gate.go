// Package risk implements the pre-submit exposure gate the router consults
// once per order, plus the loss-streak circuit breaker that can veto an
// entire exchange for the remainder of a batch. This is deliberately
// separate from the WS transport circuit breaker tracked on session.Session:
// that one trips on connection failures, this one trips on filled-order
// outcomes.
package risk

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Request is the minimal exposure shape the gate needs to approve or reject
// an order. It is intentionally independent of executor.Request so this
// package never imports the executor.
type Request struct {
	ExchangeID string
	Symbol     string
	Notional   decimal.Decimal
}

// Config holds the gate's exposure limits.
type Config struct {
	MaxOpenOrdersPerExchange int
	MaxNotionalPerSymbol     decimal.Decimal
	MaxConsecutiveLosses     int
	CircuitCooldown          time.Duration
}

// ConfigFromEnv reads gate limits from the environment, falling back to
// conservative defaults when unset.
func ConfigFromEnv() Config {
	maxOpenOrders := 10
	if v := os.Getenv("RISK_MAX_OPEN_ORDERS_PER_EXCHANGE"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			maxOpenOrders = val
		}
	}

	maxNotional := decimal.NewFromInt(50000)
	if v := os.Getenv("RISK_MAX_NOTIONAL_PER_SYMBOL"); v != "" {
		if val, err := decimal.NewFromString(v); err == nil {
			maxNotional = val
		}
	}

	maxConsecLosses := 3
	if v := os.Getenv("RISK_MAX_CONSECUTIVE_LOSSES"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			maxConsecLosses = val
		}
	}

	cooldown := 30 * time.Second
	if v := os.Getenv("RISK_CIRCUIT_COOLDOWN_SEC"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			cooldown = time.Duration(val) * time.Second
		}
	}

	return Config{
		MaxOpenOrdersPerExchange: maxOpenOrders,
		MaxNotionalPerSymbol:     maxNotional,
		MaxConsecutiveLosses:     maxConsecLosses,
		CircuitCooldown:          cooldown,
	}
}

// Gate is the centralized pre-submit approval point. One Gate is shared
// across an entire batch (all exchanges, all orders).
type Gate struct {
	mu sync.Mutex

	cfg Config

	openOrders       map[string]int             // exchange_id -> count
	notionalBySymbol map[string]decimal.Decimal // symbol -> cumulative notional this batch

	breakers map[string]*Breaker // exchange_id -> loss-streak breaker
}

// NewGate builds a Gate with cfg.
func NewGate(cfg Config) *Gate {
	return &Gate{
		cfg:              cfg,
		openOrders:       make(map[string]int),
		notionalBySymbol: make(map[string]decimal.Decimal),
		breakers:         make(map[string]*Breaker),
	}
}

// breakerFor returns (creating if needed) the loss-streak breaker for an
// exchange.
func (g *Gate) breakerFor(exchangeID string) *Breaker {
	b, ok := g.breakers[exchangeID]
	if !ok {
		b = NewBreaker(g.cfg.MaxConsecutiveLosses, g.cfg.CircuitCooldown)
		g.breakers[exchangeID] = b
	}
	return b
}

// Approve checks req against every exposure rule in order, returning the
// first violated rule's reason. An approved request is counted immediately
// so subsequent Approve calls in the same batch see it.
func (g *Gate) Approve(req Request) (approved bool, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.breakerFor(req.ExchangeID).IsTripped() {
		log.Warn().Str("exchange_id", req.ExchangeID).Msg("risk gate: exchange circuit open")
		return false, "risk_gate_circuit_open"
	}

	if g.openOrders[req.ExchangeID] >= g.cfg.MaxOpenOrdersPerExchange {
		log.Warn().Str("exchange_id", req.ExchangeID).Int("open", g.openOrders[req.ExchangeID]).Msg("risk gate: max open orders reached")
		return false, "risk_gate_max_open_orders"
	}

	projected := g.notionalBySymbol[req.Symbol].Add(req.Notional)
	if projected.GreaterThan(g.cfg.MaxNotionalPerSymbol) {
		log.Warn().Str("symbol", req.Symbol).Str("projected", projected.String()).Msg("risk gate: max notional per symbol exceeded")
		return false, "risk_gate_max_notional"
	}

	g.openOrders[req.ExchangeID]++
	g.notionalBySymbol[req.Symbol] = projected
	return true, ""
}

// Release returns one open-order slot to exchangeID. The router calls this
// once an order reaches a terminal state, so a long batch doesn't starve on
// its own earlier orders.
func (g *Gate) Release(exchangeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.openOrders[exchangeID] > 0 {
		g.openOrders[exchangeID]--
	}
}

// RecordResult feeds an order's terminal outcome into the exchange's
// loss-streak breaker. filled orders reset the streak; anything else
// (rejected, failed, timed_out, cancelled) counts as a loss.
func (g *Gate) RecordResult(exchangeID string, filled bool) {
	g.mu.Lock()
	b := g.breakerFor(exchangeID)
	g.mu.Unlock()

	if filled {
		b.RecordWin()
	} else {
		b.RecordLoss()
	}
}
