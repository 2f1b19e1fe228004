package router

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxtrade/execengine/engine/events"
	"github.com/veloxtrade/execengine/engine/executor"
	"github.com/veloxtrade/execengine/exchange"
	"github.com/veloxtrade/execengine/risk"
)

// fakeAdapter fills every market order immediately at a fixed price and
// never supports WebSocket, so tests only exercise the REST transport. It
// is called from multiple goroutines once the router dispatches orders on
// one exchange concurrently, so its mutable state is mutex-protected.
type fakeAdapter struct {
	id    string
	price decimal.Decimal

	mu       sync.Mutex
	nextID   int
	statuses map[string]exchange.OrderStatus

	// delay, when set, is slept inside CreateMarketOrder before filling —
	// used to prove orders on one exchange run concurrently.
	delay time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeAdapter(id string, price decimal.Decimal) *fakeAdapter {
	return &fakeAdapter{id: id, price: price, statuses: make(map[string]exchange.OrderStatus)}
}

func (f *fakeAdapter) ID() string                { return f.id }
func (f *fakeAdapter) SupportsWebSocket() bool    { return false }
func (f *fakeAdapter) SetMarginMode(ctx context.Context, symbol string) error      { return nil }
func (f *fakeAdapter) SetLeverage(ctx context.Context, symbol string, lev int) error { return nil }

func (f *fakeAdapter) CreateLimitOrder(ctx context.Context, symbol string, side exchange.Side, amount, price decimal.Decimal, params map[string]any) (string, error) {
	return f.createFilled(symbol, amount, price)
}

func (f *fakeAdapter) CreateMarketOrder(ctx context.Context, symbol string, side exchange.Side, amount decimal.Decimal, params map[string]any) (string, error) {
	if f.delay > 0 {
		cur := f.inFlight.Add(1)
		for {
			prev := f.maxInFlight.Load()
			if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(f.delay)
		f.inFlight.Add(-1)
	}
	return f.createFilled(symbol, amount, f.price)
}

func (f *fakeAdapter) createFilled(symbol string, amount, price decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("%s-%d", f.id, f.nextID)
	f.statuses[id] = exchange.OrderStatus{
		OrderID:      id,
		Symbol:       symbol,
		State:        exchange.ExchangeOrderFilled,
		FilledAmount: amount,
		AvgPrice:     price,
	}
	return id, nil
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, orderID, symbol string) error { return nil }

func (f *fakeAdapter) FetchOrder(ctx context.Context, orderID, symbol string) (exchange.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[orderID], nil
}

func (f *fakeAdapter) FetchOrderBook(ctx context.Context, symbol string) (exchange.BookTop, error) {
	return exchange.BookTop{Symbol: symbol, Bid: f.price, Ask: f.price}, nil
}

func (f *fakeAdapter) WatchOrderBook(ctx context.Context, symbol string) (<-chan exchange.BookTop, error) {
	return nil, fmt.Errorf("no websocket support")
}

func (f *fakeAdapter) WatchOrders(ctx context.Context, symbol string) (<-chan exchange.OrderStatus, error) {
	return nil, fmt.Errorf("no websocket support")
}

func testGate() *risk.Gate {
	return risk.NewGate(risk.Config{
		MaxOpenOrdersPerExchange: 10,
		MaxNotionalPerSymbol:     decimal.NewFromInt(100000),
		MaxConsecutiveLosses:     3,
		CircuitCooldown:          time.Minute,
	})
}

func TestExecuteOrdersFillsTakerOrder(t *testing.T) {
	adapter := newFakeAdapter("binance", decimal.NewFromInt(50000))
	registry := exchange.NewRegistry(adapter)
	bus := events.NewBus()

	result := ExecuteOrders(context.Background(), registry, testGate(), bus, nil, "test-batch", executor.DefaultConfig(), []executor.Request{
		{Symbol: "BTCUSDT", Side: exchange.SideBuy, Amount: decimal.NewFromInt(1), Type: executor.TypeTaker, ExchangeID: "binance"},
	})

	require.Len(t, result.Reports, 1)
	assert.True(t, result.Reports[0].IsFilled())
	assert.Contains(t, result.AlertText, "1/1 filled")
}

func TestExecuteOrdersMarksUnknownExchangeOrphaned(t *testing.T) {
	adapter := newFakeAdapter("binance", decimal.NewFromInt(50000))
	registry := exchange.NewRegistry(adapter)
	bus := events.NewBus()

	result := ExecuteOrders(context.Background(), registry, testGate(), bus, nil, "test-batch", executor.DefaultConfig(), []executor.Request{
		{Symbol: "BTCUSDT", Side: exchange.SideBuy, Amount: decimal.NewFromInt(1), Type: executor.TypeTaker, ExchangeID: "does-not-exist"},
	})

	require.Len(t, result.Reports, 1)
	assert.False(t, result.Reports[0].IsFilled())
	assert.Equal(t, "exchange_not_found", result.Reports[0].FailureReason())
	assert.Contains(t, result.AlertText, "exchange not found")
}

func TestExecuteOrdersPreservesInputOrder(t *testing.T) {
	adapter := newFakeAdapter("binance", decimal.NewFromInt(50000))
	registry := exchange.NewRegistry(adapter)
	bus := events.NewBus()

	batch := []executor.Request{
		{Symbol: "BTCUSDT", Side: exchange.SideBuy, Amount: decimal.NewFromInt(1), Type: executor.TypeTaker, ExchangeID: "binance"},
		{Symbol: "ETHUSDT", Side: exchange.SideSell, Amount: decimal.NewFromInt(2), Type: executor.TypeTaker, ExchangeID: "binance"},
		{Symbol: "SOLUSDT", Side: exchange.SideBuy, Amount: decimal.NewFromInt(3), Type: executor.TypeTaker, ExchangeID: "missing"},
	}

	result := ExecuteOrders(context.Background(), registry, testGate(), bus, nil, "test-batch", executor.DefaultConfig(), batch)

	require.Len(t, result.Reports, 3)
	assert.Equal(t, "BTCUSDT", result.Reports[0].Symbol())
	assert.Equal(t, "ETHUSDT", result.Reports[1].Symbol())
	assert.Equal(t, "SOLUSDT", result.Reports[2].Symbol())
	assert.False(t, result.Reports[2].IsFilled())
}

func TestExecuteOrdersRiskGateVetoesExcessNotional(t *testing.T) {
	adapter := newFakeAdapter("binance", decimal.NewFromInt(50000))
	registry := exchange.NewRegistry(adapter)
	bus := events.NewBus()
	gate := risk.NewGate(risk.Config{
		MaxOpenOrdersPerExchange: 10,
		MaxNotionalPerSymbol:     decimal.NewFromInt(5),
		MaxConsecutiveLosses:     3,
		CircuitCooldown:          time.Minute,
	})

	result := ExecuteOrders(context.Background(), registry, gate, bus, nil, "test-batch", executor.DefaultConfig(), []executor.Request{
		{Symbol: "BTCUSDT", Side: exchange.SideBuy, Amount: decimal.NewFromInt(100), Type: executor.TypeTaker, ExchangeID: "binance"},
	})

	require.Len(t, result.Reports, 1)
	assert.False(t, result.Reports[0].IsFilled())
	assert.Equal(t, "risk_gate_max_notional", result.Reports[0].FailureReason())
}

func TestExecuteOrdersRunsOrdersOnOneExchangeConcurrently(t *testing.T) {
	adapter := newFakeAdapter("binance", decimal.NewFromInt(50000))
	adapter.delay = 100 * time.Millisecond
	registry := exchange.NewRegistry(adapter)
	bus := events.NewBus()

	batch := []executor.Request{
		{Symbol: "BTCUSDT", Side: exchange.SideBuy, Amount: decimal.NewFromInt(1), Type: executor.TypeTaker, ExchangeID: "binance"},
		{Symbol: "ETHUSDT", Side: exchange.SideSell, Amount: decimal.NewFromInt(1), Type: executor.TypeTaker, ExchangeID: "binance"},
		{Symbol: "SOLUSDT", Side: exchange.SideBuy, Amount: decimal.NewFromInt(1), Type: executor.TypeTaker, ExchangeID: "binance"},
	}

	start := time.Now()
	result := ExecuteOrders(context.Background(), registry, testGate(), bus, nil, "test-batch", executor.DefaultConfig(), batch)
	elapsed := time.Since(start)

	require.Len(t, result.Reports, 3)
	for _, r := range result.Reports {
		assert.True(t, r.IsFilled())
	}
	// Sequential dispatch would take >= 300ms (3 * 100ms); concurrent
	// dispatch finishes in roughly one delay period.
	assert.Less(t, elapsed, 250*time.Millisecond)
	assert.Greater(t, adapter.maxInFlight.Load(), int32(1))
}
