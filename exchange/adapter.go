// Package exchange defines the uniform adapter surface every venue
// implements and a registry that maps exchange_id to a concrete adapter.
// The adapters themselves (margin/leverage/order/cancel/fetch/watch
// primitives) are the execution core's external collaborators; this package
// only specifies and registers them.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// BookTop is the best bid/ask for a symbol.
type BookTop struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
}

// Spread returns (ask-bid)/bid as a fraction, or zero if bid is zero.
func (b BookTop) Spread() decimal.Decimal {
	if b.Bid.IsZero() {
		return decimal.Zero
	}
	return b.Ask.Sub(b.Bid).Div(b.Bid)
}

// Mid returns the midpoint of bid/ask.
func (b BookTop) Mid() decimal.Decimal {
	return b.Bid.Add(b.Ask).Div(decimal.NewFromInt(2))
}

// OrderState mirrors the exchange's own view of an order's lifecycle.
type OrderState string

const (
	ExchangeOrderOpen      OrderState = "open"
	ExchangeOrderPartial   OrderState = "partially_filled"
	ExchangeOrderFilled    OrderState = "filled"
	ExchangeOrderCancelled OrderState = "cancelled"
	ExchangeOrderRejected  OrderState = "rejected"
)

// OrderStatus is a point-in-time snapshot of an order as reported by the
// exchange, via either FetchOrder or a WatchOrders stream event.
type OrderStatus struct {
	OrderID        string
	Symbol         string
	State          OrderState
	FilledAmount   decimal.Decimal
	RemainingAmount decimal.Decimal
	AvgPrice       decimal.Decimal
	RejectReason   string
}

// Adapter is the uniform interface every venue exposes. Implementations are
// assumed to be safe for concurrent use by multiple in-flight orders on the
// same symbol.
type Adapter interface {
	// ID returns the exchange_id this adapter answers for.
	ID() string
	// SupportsWebSocket reports whether WatchOrderBook/WatchOrders are usable.
	SupportsWebSocket() bool

	SetMarginMode(ctx context.Context, symbol string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	CreateLimitOrder(ctx context.Context, symbol string, side Side, amount, price decimal.Decimal, params map[string]any) (orderID string, err error)
	CreateMarketOrder(ctx context.Context, symbol string, side Side, amount decimal.Decimal, params map[string]any) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID, symbol string) error

	FetchOrder(ctx context.Context, orderID, symbol string) (OrderStatus, error)
	FetchOrderBook(ctx context.Context, symbol string) (BookTop, error)

	// WatchOrderBook and WatchOrders return a channel of updates. The
	// channel is closed when ctx is cancelled or the stream ends; adapters
	// must not leak goroutines past ctx cancellation.
	WatchOrderBook(ctx context.Context, symbol string) (<-chan BookTop, error)
	WatchOrders(ctx context.Context, symbol string) (<-chan OrderStatus, error)
}
