package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/veloxtrade/execengine/engine/events"
	"github.com/veloxtrade/execengine/engine/report"
	"github.com/veloxtrade/execengine/engine/reprice"
	"github.com/veloxtrade/execengine/engine/session"
	"github.com/veloxtrade/execengine/exchange"
)

// base holds the submit / spread-gate / timeout / taker-fallback logic
// shared by both the REST and WS executors. Both variants embed a base by
// value rather than via inheritance-style dispatch.
type base struct {
	adapter exchange.Adapter
	sess    *session.Session
	bus     *events.Bus
	cfg     Config
}

func newBase(adapter exchange.Adapter, sess *session.Session, bus *events.Bus, cfg Config) base {
	return base{adapter: adapter, sess: sess, bus: bus, cfg: cfg}
}

func (b base) emit(name events.Name, orderID, symbol string, payload map[string]any) {
	b.bus.Emit(events.New(name, orderID, symbol, b.adapter.ID(), payload))
}

// waitForSpread blocks until the spread on symbol narrows below
// MaxSpreadPct, or returns ErrSpreadTooWide once SpreadWaitBudget elapses.
// Only consulted when cfg.Strategy == StrategyBestPrice. Per Open Question
// (2) (SPEC_FULL.md §4.4, §10), this is a firm decision: periodic
// order_spread_blocked events, then a hard failure.
func (b base) waitForSpread(ctx context.Context, req Request, orderID string) (exchange.BookTop, error) {
	start := time.Now()
	deadline := start.Add(b.cfg.SpreadWaitBudget)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		top, err := b.adapter.FetchOrderBook(ctx, req.Symbol)
		if err != nil {
			return exchange.BookTop{}, fmt.Errorf("fetch order book: %w", err)
		}

		spread := top.Spread()
		if spread.LessThanOrEqual(b.cfg.MaxSpreadPct) {
			return top, nil
		}

		b.emit(events.OrderSpreadBlocked, orderID, req.Symbol, map[string]any{
			"spread":     spread.String(),
			"max_spread": b.cfg.MaxSpreadPct.String(),
			"elapsed_ms": time.Since(start).Milliseconds(),
		})

		if time.Now().After(deadline) {
			return exchange.BookTop{}, ErrSpreadTooWide
		}

		select {
		case <-ctx.Done():
			return exchange.BookTop{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// submit places the initial order for req: a resting limit for maker-type
// requests (at the current best price), or an immediate market order for
// taker-type requests. It returns the freshly opened order.
func (b base) submit(ctx context.Context, req Request) (*OpenOrder, error) {
	var top exchange.BookTop
	var err error

	if b.cfg.Strategy == StrategyBestPrice {
		top, err = b.waitForSpread(ctx, req, "")
		if err != nil {
			return nil, err
		}
	} else {
		top, err = b.adapter.FetchOrderBook(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("fetch order book: %w", err)
		}
	}

	price := bestPriceFor(top, req.Side)
	now := time.Now()

	var orderID string
	if req.Type == TypeTaker {
		orderID, err = b.adapter.CreateMarketOrder(ctx, req.Symbol, req.Side, req.Amount, req.ExtraParams)
	} else {
		orderID, err = b.adapter.CreateLimitOrder(ctx, req.Symbol, req.Side, req.Amount, price, req.ExtraParams)
	}
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	open := &OpenOrder{
		OrderID:         orderID,
		Request:         req,
		SubmitTs:        now,
		CurrentPrice:    price,
		FilledAmount:    decimal.Zero,
		RemainingAmount: req.Amount,
		State:           StateSubmitted,
		LastEventTs:     now,
	}

	b.emit(events.OrderSubmitted, orderID, req.Symbol, map[string]any{
		"side": string(req.Side), "price": price.String(), "amount": req.Amount.String(),
	})

	return open, nil
}

func bestPriceFor(top exchange.BookTop, side exchange.Side) decimal.Decimal {
	if side == exchange.SideBuy {
		return top.Bid
	}
	return top.Ask
}

// applyReprice runs the shared reprice policy against open's resting price
// and the latest best price, cancelling and replacing the order when the
// policy says to.
func (b base) applyReprice(ctx context.Context, open *OpenOrder, best decimal.Decimal) error {
	elapsed := time.Since(open.SubmitTs)
	decision := reprice.Decide(open.CurrentPrice, best, elapsed, b.cfg.Reprice)

	switch decision.Kind {
	case reprice.KindSuppress:
		b.emit(events.OrderRepriceSuppressed, open.OrderID, open.Request.Symbol, map[string]any{
			"actual":    decision.ChangePct.String(),
			"threshold": b.cfg.Reprice.MinRepriceThresholdPct.String(),
		})
		return nil

	case reprice.KindReprice, reprice.KindElapsedOverride:
		if err := b.adapter.CancelOrder(ctx, open.OrderID, open.Request.Symbol); err != nil {
			return fmt.Errorf("cancel for reprice: %w", err)
		}
		newID, err := b.adapter.CreateLimitOrder(ctx, open.Request.Symbol, open.Request.Side, open.RemainingAmount, decision.NewPrice, open.Request.ExtraParams)
		if err != nil {
			return fmt.Errorf("replace order: %w", err)
		}

		prev := open.CurrentPrice
		oldID := open.OrderID
		open.OrderID = newID
		open.CurrentPrice = decision.NewPrice

		b.emit(events.OrderRepriced, newID, open.Request.Symbol, map[string]any{
			"prev_order_id": oldID,
			"prev":          prev.String(),
			"new":           decision.NewPrice.String(),
		})
		return nil
	}
	return nil
}

// applyFill folds a fill observation (from REST poll or WS event) into
// open, emitting the matching partial/complete event. It returns true once
// the order is fully filled.
func (b base) applyFill(open *OpenOrder, status exchange.OrderStatus) (complete bool) {
	open.FilledAmount = status.FilledAmount
	open.RemainingAmount = status.RemainingAmount
	open.LastEventTs = time.Now()

	if status.State == exchange.ExchangeOrderFilled {
		open.State = StateFilled
		b.emit(events.OrderFillComplete, open.OrderID, open.Request.Symbol, map[string]any{
			"filled_amount": status.FilledAmount.String(),
			"avg_price":     status.AvgPrice.String(),
		})
		return true
	}

	if status.State == exchange.ExchangeOrderPartial {
		open.State = StatePartiallyFilled
		b.emit(events.OrderFillPartial, open.OrderID, open.Request.Symbol, map[string]any{
			"filled":    status.FilledAmount.String(),
			"remaining": status.RemainingAmount.String(),
		})
	}
	return false
}

// timeoutTakerFallback cancels the resting limit order and submits a
// market order for the remaining amount, producing the final report either
// way. It never returns a Go error to the caller — every outcome becomes a
// report, per the never-throw-past-Execute contract.
func (b base) timeoutTakerFallback(ctx context.Context, open *OpenOrder) report.Report {
	makerOpenDuration := time.Since(open.SubmitTs)

	if err := b.adapter.CancelOrder(ctx, open.OrderID, open.Request.Symbol); err != nil {
		b.emit(events.OrderTimedOut, open.OrderID, open.Request.Symbol, nil)
		return b.failedReport(open, fmt.Sprintf("cancel before taker fallback failed: %v", err))
	}
	b.emit(events.OrderTimedOut, open.OrderID, open.Request.Symbol, map[string]any{
		"maker_open_duration_ms": makerOpenDuration.Milliseconds(),
	})

	marketID, err := b.adapter.CreateMarketOrder(ctx, open.Request.Symbol, open.Request.Side, open.RemainingAmount, open.Request.ExtraParams)
	if err != nil {
		b.emit(events.OrderRejected, open.OrderID, open.Request.Symbol, map[string]any{"reason": err.Error()})
		return b.failedReport(open, fmt.Sprintf("taker fallback rejected: %v", err))
	}

	status, err := b.adapter.FetchOrder(ctx, marketID, open.Request.Symbol)
	if err != nil || status.State != exchange.ExchangeOrderFilled {
		reason := "taker fallback order did not fill"
		if err != nil {
			reason = err.Error()
		}
		b.emit(events.OrderRejected, marketID, open.Request.Symbol, map[string]any{"reason": reason})
		return b.failedReport(open, reason)
	}

	b.emit(events.MakerTimeoutTakerFallback, marketID, open.Request.Symbol, map[string]any{
		"maker_open_duration_ms": makerOpenDuration.Milliseconds(),
	})

	totalFilled := open.FilledAmount.Add(status.FilledAmount)
	return report.NewBuilder(marketID, open.Request.ExchangeID, open.Request.Symbol).
		SubmitTs(open.SubmitTs).
		Filled(totalFilled, status.AvgPrice).
		Build()
}

func (b base) failedReport(open *OpenOrder, reason string) report.Report {
	return report.NewBuilder(open.OrderID, open.Request.ExchangeID, open.Request.Symbol).
		SubmitTs(open.SubmitTs).
		Failed(report.StateFailed, reason).
		Build()
}
