package executor

import (
	"context"
	"time"

	"github.com/veloxtrade/execengine/engine/events"
	"github.com/veloxtrade/execengine/engine/report"
	"github.com/veloxtrade/execengine/engine/session"
	"github.com/veloxtrade/execengine/exchange"
)

// pollInterval is the bounded cadence for fetch_order / fetch_order_book
// polling, per SPEC_FULL.md §4.4.a ("~1 s").
const pollInterval = time.Second

// REST is the poll-based monitoring variant. It shares submit / spread-gate
// / timeout / taker-fallback logic with WS through base.
type REST struct {
	base
}

// NewREST builds a REST executor bound to adapter/session/bus with cfg.
func NewREST(adapter exchange.Adapter, sess *session.Session, bus *events.Bus, cfg Config) *REST {
	return &REST{base: newBase(adapter, sess, bus, cfg)}
}

// Execute runs req to completion and returns exactly one immutable report.
// It never returns a Go error; every failure mode is captured as a report.
func (e *REST) Execute(ctx context.Context, req Request) report.Report {
	if err := req.Validate(); err != nil {
		return report.NewBuilder("", req.ExchangeID, req.Symbol).
			Failed(report.StateFailed, err.Error()).
			Build()
	}

	open, err := e.submit(ctx, req)
	if err != nil {
		return report.NewBuilder("", req.ExchangeID, req.Symbol).
			Failed(report.StateFailed, err.Error()).
			Build()
	}

	if req.Type == TypeTaker {
		// Taker orders settle immediately; poll once for final status.
		status, err := e.adapter.FetchOrder(ctx, open.OrderID, req.Symbol)
		if err != nil {
			return e.failedReport(open, err.Error())
		}
		e.applyFill(open, status)
		return report.NewBuilder(open.OrderID, req.ExchangeID, req.Symbol).
			SubmitTs(open.SubmitTs).
			Filled(status.FilledAmount, status.AvgPrice).
			Build()
	}

	open.State = StateMonitoring
	deadline := time.NewTimer(e.cfg.TimeoutDuration)
	defer deadline.Stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.failedReport(open, ctx.Err().Error())

		case <-deadline.C:
			return e.timeoutTakerFallback(ctx, open)

		case <-ticker.C:
			status, err := e.adapter.FetchOrder(ctx, open.OrderID, req.Symbol)
			if err != nil {
				continue // transient adapter error; retry next tick
			}

			switch status.State {
			case exchange.ExchangeOrderFilled:
				e.applyFill(open, status)
				return report.NewBuilder(open.OrderID, req.ExchangeID, req.Symbol).
					SubmitTs(open.SubmitTs).
					Filled(status.FilledAmount, status.AvgPrice).
					Build()

			case exchange.ExchangeOrderPartial:
				e.applyFill(open, status)

			case exchange.ExchangeOrderRejected:
				e.emit(events.OrderRejected, open.OrderID, req.Symbol, map[string]any{"reason": status.RejectReason})
				return e.failedReport(open, status.RejectReason)

			case exchange.ExchangeOrderCancelled:
				e.emit(events.OrderCancelled, open.OrderID, req.Symbol, nil)
				return report.NewBuilder(open.OrderID, req.ExchangeID, req.Symbol).
					SubmitTs(open.SubmitTs).
					Failed(report.StateCancelled, "cancelled").
					Build()
			}

			top, err := e.adapter.FetchOrderBook(ctx, req.Symbol)
			if err != nil {
				continue
			}
			best := bestPriceFor(top, req.Side)
			if err := e.applyReprice(ctx, open, best); err != nil {
				continue // transient; keep monitoring at current price
			}
		}
	}
}
