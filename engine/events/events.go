// Package events defines the structured lifecycle events the execution core
// emits and the bus that fans them out to subscribers.
package events

import "time"

// Name identifies a canonical lifecycle event.
type Name string

const (
	OrderSubmitted          Name = "order_submitted"
	OrderRepriced           Name = "order_repriced"
	OrderRepriceSuppressed  Name = "order_reprice_suppressed"
	OrderSpreadBlocked      Name = "order_spread_blocked"
	OrderFillPartial        Name = "order_fill_partial"
	OrderFillComplete       Name = "order_fill_complete"
	OrderTimedOut           Name = "order_timed_out"
	OrderCancelled          Name = "order_cancelled"
	OrderRejected           Name = "order_rejected"
	MakerTimeoutTakerFallback Name = "maker_timeout_taker_fallback"
	WsReconnectAttempt      Name = "ws_reconnect_attempt"
	WsCircuitOpen           Name = "ws_circuit_open"
	WsRestFallback          Name = "ws_rest_fallback"
	WsStalenessFallback     Name = "ws_staleness_fallback"
	ExchangeNotFound        Name = "exchange_not_found"

	// OrderRiskBlocked is a domain-stack addition (risk gate veto), layered
	// alongside the core's exhaustive set rather than replacing any of it.
	OrderRiskBlocked Name = "order_risk_blocked"
)

// Event is a single structured lifecycle event. Every event carries the four
// correlation fields regardless of which transport (REST or WS) produced it.
type Event struct {
	Name        Name
	OrderID     string
	Symbol      string
	ExchangeID  string
	TimestampMs int64
	Payload     map[string]any
}

// New builds an Event stamped with the current time.
func New(name Name, orderID, symbol, exchangeID string, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		Name:        name,
		OrderID:     orderID,
		Symbol:      symbol,
		ExchangeID:  exchangeID,
		TimestampMs: time.Now().UnixMilli(),
		Payload:     payload,
	}
}
