// Package report defines the immutable ExecutionReport produced exactly
// once per order and the builder used to construct it.
package report

import (
	"time"

	"github.com/shopspring/decimal"
)

// FinalState is the terminal state an order ended in.
type FinalState string

const (
	StateFilled    FinalState = "filled"
	StateCancelled FinalState = "cancelled"
	StateTimedOut  FinalState = "timed_out"
	StateRejected  FinalState = "rejected"
	StateFailed    FinalState = "failed"
)

// Report is immutable after construction: every field is unexported and
// reached only through accessors, and there is no exported mutator. A
// "mutation attempt" in this design is simply "no such method exists" —
// enforced at compile time, not by convention.
type Report struct {
	orderID       string
	exchangeID    string
	symbol        string
	finalState    FinalState
	filledAmount  decimal.Decimal
	avgPrice      decimal.Decimal
	fillLatencyMs int64
	submitTs      time.Time
	closeTs       time.Time
	failureReason string
}

func (r Report) OrderID() string             { return r.orderID }
func (r Report) ExchangeID() string          { return r.exchangeID }
func (r Report) Symbol() string              { return r.symbol }
func (r Report) FinalState() FinalState      { return r.finalState }
func (r Report) FilledAmount() decimal.Decimal { return r.filledAmount }
func (r Report) AvgPrice() decimal.Decimal   { return r.avgPrice }
func (r Report) FillLatencyMs() int64        { return r.fillLatencyMs }
func (r Report) SubmitTs() time.Time         { return r.submitTs }
func (r Report) CloseTs() time.Time          { return r.closeTs }
func (r Report) FailureReason() string       { return r.failureReason }
func (r Report) IsFilled() bool              { return r.finalState == StateFilled }

// Builder accumulates fields before closing them into an immutable Report.
type Builder struct {
	r Report
}

// NewBuilder starts a report for the given order, exchange and symbol. Both
// must be non-empty: exchange_id is a hard invariant of every report, even
// failure reports, since the operator needs to know which venue it concerns.
func NewBuilder(orderID, exchangeID, symbol string) *Builder {
	return &Builder{r: Report{
		orderID:    orderID,
		exchangeID: exchangeID,
		symbol:     symbol,
	}}
}

func (b *Builder) SubmitTs(t time.Time) *Builder {
	b.r.submitTs = t
	return b
}

func (b *Builder) CloseTs(t time.Time) *Builder {
	b.r.closeTs = t
	return b
}

func (b *Builder) Filled(amount, avgPrice decimal.Decimal) *Builder {
	b.r.finalState = StateFilled
	b.r.filledAmount = amount
	b.r.avgPrice = avgPrice
	return b
}

func (b *Builder) Failed(state FinalState, reason string) *Builder {
	b.r.finalState = state
	b.r.failureReason = reason
	return b
}

// Build closes the value, computing fill_latency_ms from submit/close
// timestamps. close_ts defaults to now if never set.
func (b *Builder) Build() Report {
	if b.r.closeTs.IsZero() {
		b.r.closeTs = time.Now()
	}
	if !b.r.submitTs.IsZero() {
		b.r.fillLatencyMs = b.r.closeTs.Sub(b.r.submitTs).Milliseconds()
	}
	if b.r.fillLatencyMs < 0 {
		b.r.fillLatencyMs = 0
	}
	return b.r
}
