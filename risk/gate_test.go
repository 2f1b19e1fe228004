package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		MaxOpenOrdersPerExchange: 2,
		MaxNotionalPerSymbol:     decimal.NewFromInt(1000),
		MaxConsecutiveLosses:     3,
		CircuitCooldown:          50 * time.Millisecond,
	}
}

func TestGateApproveWithinLimits(t *testing.T) {
	g := NewGate(testConfig())

	approved, reason := g.Approve(Request{ExchangeID: "binance", Symbol: "BTCUSDT", Notional: decimal.NewFromInt(400)})
	require.True(t, approved)
	assert.Empty(t, reason)
}

func TestGateRejectsMaxOpenOrders(t *testing.T) {
	g := NewGate(testConfig())

	for i := 0; i < 2; i++ {
		approved, _ := g.Approve(Request{ExchangeID: "binance", Symbol: "BTCUSDT", Notional: decimal.NewFromInt(10)})
		require.True(t, approved)
	}

	approved, reason := g.Approve(Request{ExchangeID: "binance", Symbol: "ETHUSDT", Notional: decimal.NewFromInt(10)})
	assert.False(t, approved)
	assert.Equal(t, "risk_gate_max_open_orders", reason)
}

func TestGateRejectsMaxNotionalPerSymbol(t *testing.T) {
	g := NewGate(testConfig())

	approved, _ := g.Approve(Request{ExchangeID: "binance", Symbol: "BTCUSDT", Notional: decimal.NewFromInt(900)})
	require.True(t, approved)

	approved, reason := g.Approve(Request{ExchangeID: "binance", Symbol: "BTCUSDT", Notional: decimal.NewFromInt(200)})
	assert.False(t, approved)
	assert.Equal(t, "risk_gate_max_notional", reason)
}

func TestGateReleaseFreesOpenOrderSlot(t *testing.T) {
	g := NewGate(testConfig())

	for i := 0; i < 2; i++ {
		approved, _ := g.Approve(Request{ExchangeID: "binance", Symbol: "BTCUSDT", Notional: decimal.NewFromInt(10)})
		require.True(t, approved)
	}
	g.Release("binance")

	approved, reason := g.Approve(Request{ExchangeID: "binance", Symbol: "ETHUSDT", Notional: decimal.NewFromInt(10)})
	assert.True(t, approved)
	assert.Empty(t, reason)
}

func TestGateCircuitOpensAfterConsecutiveLosses(t *testing.T) {
	g := NewGate(testConfig())

	for i := 0; i < 3; i++ {
		g.RecordResult("binance", false)
	}

	approved, reason := g.Approve(Request{ExchangeID: "binance", Symbol: "BTCUSDT", Notional: decimal.NewFromInt(1)})
	assert.False(t, approved)
	assert.Equal(t, "risk_gate_circuit_open", reason)
}

func TestGateCircuitResetsOnFill(t *testing.T) {
	g := NewGate(testConfig())

	g.RecordResult("binance", false)
	g.RecordResult("binance", false)
	g.RecordResult("binance", true) // resets streak before tripping

	approved, _ := g.Approve(Request{ExchangeID: "binance", Symbol: "BTCUSDT", Notional: decimal.NewFromInt(1)})
	assert.True(t, approved)
}

func TestGateCircuitRecoversAfterCooldown(t *testing.T) {
	g := NewGate(testConfig())

	for i := 0; i < 3; i++ {
		g.RecordResult("binance", false)
	}
	approved, _ := g.Approve(Request{ExchangeID: "binance", Symbol: "BTCUSDT", Notional: decimal.NewFromInt(1)})
	require.False(t, approved)

	time.Sleep(60 * time.Millisecond)

	approved, reason := g.Approve(Request{ExchangeID: "binance", Symbol: "BTCUSDT", Notional: decimal.NewFromInt(1)})
	assert.True(t, approved)
	assert.Empty(t, reason)
}

func TestGateExchangesAreIndependent(t *testing.T) {
	g := NewGate(testConfig())

	for i := 0; i < 3; i++ {
		g.RecordResult("binance", false)
	}

	approved, _ := g.Approve(Request{ExchangeID: "onchain", Symbol: "BTCUSDT", Notional: decimal.NewFromInt(1)})
	assert.True(t, approved)
}
