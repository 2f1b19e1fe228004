package executor

import (
	"context"
	"time"

	"github.com/veloxtrade/execengine/engine/events"
	"github.com/veloxtrade/execengine/engine/report"
	"github.com/veloxtrade/execengine/engine/session"
	"github.com/veloxtrade/execengine/exchange"
)

// restFallbackPollInterval is the bounded cadence used once an exchange's
// WS circuit has opened and monitoring has fallen back to REST.
const restFallbackPollInterval = time.Second

// WS is the event-driven monitoring variant: order-book and order-status
// updates arrive over two independent streams and drive reprice/fill
// handling without any timed polling. It shares submit / spread-gate /
// timeout / taker-fallback logic with REST through base.
type WS struct {
	base
}

// NewWS builds a WS executor bound to adapter/session/bus with cfg.
func NewWS(adapter exchange.Adapter, sess *session.Session, bus *events.Bus, cfg Config) *WS {
	return &WS{base: newBase(adapter, sess, bus, cfg)}
}

// Execute runs req to completion and returns exactly one immutable report.
// Every goroutine it starts is cancelled before Execute returns, on every
// exit path.
func (e *WS) Execute(ctx context.Context, req Request) report.Report {
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
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel() // guarantees no goroutine attached to this order outlives Execute

	return e.monitor(streamCtx, open)
}

// monitor runs the event-driven select loop. It transparently falls back to
// REST polling once the exchange's WS circuit is open, and always returns
// exactly one report.
func (e *WS) monitor(ctx context.Context, open *OpenOrder) report.Report {
	if e.sess.Circuit().Open {
		return e.monitorRestFallback(ctx, open)
	}

	bookCh, ordersCh, ok := e.connectStreams(ctx, open)
	if !ok {
		return e.monitorRestFallback(ctx, open)
	}

	deadline := time.NewTimer(e.cfg.TimeoutDuration)
	defer deadline.Stop()

	staleness := time.NewTimer(e.cfg.WsStalenessWindow)
	defer staleness.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.failedReport(open, ctx.Err().Error())

		case <-deadline.C:
			return e.timeoutTakerFallback(ctx, open)

		case <-staleness.C:
			rep, terminal := e.checkStaleness(ctx, open)
			if terminal {
				return rep
			}
			resetTimer(staleness, e.cfg.WsStalenessWindow)

		case top, chOK := <-bookCh:
			if !chOK {
				bookCh = nil
				if ordersCh == nil {
					return e.onStreamLoss(ctx, open)
				}
				continue
			}
			resetTimer(staleness, e.cfg.WsStalenessWindow)
			best := bestPriceFor(top, open.Request.Side)
			_ = e.applyReprice(ctx, open, best) // transient errors: keep monitoring at current price

		case status, chOK := <-ordersCh:
			if !chOK {
				ordersCh = nil
				if bookCh == nil {
					return e.onStreamLoss(ctx, open)
				}
				continue
			}
			resetTimer(staleness, e.cfg.WsStalenessWindow)

			switch status.State {
			case exchange.ExchangeOrderFilled:
				e.applyFill(open, status)
				return report.NewBuilder(open.OrderID, open.Request.ExchangeID, open.Request.Symbol).
					SubmitTs(open.SubmitTs).
					Filled(status.FilledAmount, status.AvgPrice).
					Build()

			case exchange.ExchangeOrderPartial:
				e.applyFill(open, status)

			case exchange.ExchangeOrderRejected:
				e.emit(events.OrderRejected, open.OrderID, open.Request.Symbol, map[string]any{"reason": status.RejectReason})
				return e.failedReport(open, status.RejectReason)

			case exchange.ExchangeOrderCancelled:
				e.emit(events.OrderCancelled, open.OrderID, open.Request.Symbol, nil)
				return report.NewBuilder(open.OrderID, open.Request.ExchangeID, open.Request.Symbol).
					SubmitTs(open.SubmitTs).
					Failed(report.StateCancelled, "cancelled").
					Build()
			}
		}
	}
}

// checkStaleness issues exactly one REST fetch_order. It never cancels the
// order: if still open it just lets monitoring continue.
func (e *WS) checkStaleness(ctx context.Context, open *OpenOrder) (report.Report, bool) {
	elapsed := time.Since(open.LastEventTs)
	e.emit(events.WsStalenessFallback, open.OrderID, open.Request.Symbol, map[string]any{
		"elapsed_ms": elapsed.Milliseconds(),
	})

	status, err := e.adapter.FetchOrder(ctx, open.OrderID, open.Request.Symbol)
	if err != nil {
		return report.Report{}, false
	}
	if status.State == exchange.ExchangeOrderFilled {
		e.applyFill(open, status)
		return report.NewBuilder(open.OrderID, open.Request.ExchangeID, open.Request.Symbol).
			SubmitTs(open.SubmitTs).
			Filled(status.FilledAmount, status.AvgPrice).
			Build(), true
	}
	return report.Report{}, false
}

// onStreamLoss is reached when both WS streams have closed (disconnect).
// It attempts reconnect-with-backoff; once the circuit opens it falls back
// to REST monitoring for the remainder of this order and every other open
// order on this exchange for the rest of the batch.
func (e *WS) onStreamLoss(ctx context.Context, open *OpenOrder) report.Report {
	if e.reconnectWithBackoff(ctx, open.Request.Symbol) {
		return e.monitor(ctx, open) // re-enter: circuit still closed, streams fresh
	}
	return e.monitorRestFallback(ctx, open)
}

// connectStreams opens the order-book and order-status streams for symbol.
// On failure it runs the backoff/circuit-breaker sequence; ok is false if
// the circuit opened (caller must fall back to REST).
func (e *WS) connectStreams(ctx context.Context, open *OpenOrder) (<-chan exchange.BookTop, <-chan exchange.OrderStatus, bool) {
	book, err := e.adapter.WatchOrderBook(ctx, open.Request.Symbol)
	if err == nil {
		var orders <-chan exchange.OrderStatus
		orders, err = e.adapter.WatchOrders(ctx, open.Request.Symbol)
		if err == nil {
			e.sess.RecordWSSuccess()
			return book, orders, true
		}
	}
	ok := e.reconnectWithBackoff(ctx, open.Request.Symbol)
	if !ok {
		return nil, nil, false
	}
	return e.connectStreams(ctx, open)
}

// reconnectWithBackoff runs one exponential-backoff reconnect attempt
// sequence against the session's shared circuit-breaker state. It returns
// false once the circuit has opened (no further WS attempts should be
// made for this exchange this batch).
func (e *WS) reconnectWithBackoff(ctx context.Context, symbol string) bool {
	attempt := e.sess.Circuit().ConsecutiveFailures + 1
	delay := backoffDelay(attempt, e.cfg.WsReconnectBaseDelay, e.cfg.WsReconnectCap)

	e.emit(events.WsReconnectAttempt, "", symbol, map[string]any{
		"attempt_number": attempt,
		"delay_ms":       delay.Milliseconds(),
	})

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
	}

	opened := e.sess.RecordWSFailure(e.cfg.WsMaxReconnectAttempts)
	if opened {
		e.emit(events.WsCircuitOpen, "", symbol, map[string]any{"exchange_id": e.adapter.ID()})
		return false
	}
	return true
}

// monitorRestFallback polls fetch_order at a bounded cadence once the WS
// circuit is open for this exchange. No further WS connection attempts are
// made.
func (e *WS) monitorRestFallback(ctx context.Context, open *OpenOrder) report.Report {
	e.emit(events.WsRestFallback, open.OrderID, open.Request.Symbol, nil)

	deadline := time.NewTimer(time.Until(open.SubmitTs.Add(e.cfg.TimeoutDuration)))
	defer deadline.Stop()

	ticker := time.NewTicker(restFallbackPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.failedReport(open, ctx.Err().Error())

		case <-deadline.C:
			return e.timeoutTakerFallback(ctx, open)

		case <-ticker.C:
			status, err := e.adapter.FetchOrder(ctx, open.OrderID, open.Request.Symbol)
			if err != nil {
				continue
			}
			switch status.State {
			case exchange.ExchangeOrderFilled:
				e.applyFill(open, status)
				return report.NewBuilder(open.OrderID, open.Request.ExchangeID, open.Request.Symbol).
					SubmitTs(open.SubmitTs).
					Filled(status.FilledAmount, status.AvgPrice).
					Build()
			case exchange.ExchangeOrderPartial:
				e.applyFill(open, status)
			case exchange.ExchangeOrderRejected:
				e.emit(events.OrderRejected, open.OrderID, open.Request.Symbol, map[string]any{"reason": status.RejectReason})
				return e.failedReport(open, status.RejectReason)
			case exchange.ExchangeOrderCancelled:
				e.emit(events.OrderCancelled, open.OrderID, open.Request.Symbol, nil)
				return report.NewBuilder(open.OrderID, open.Request.ExchangeID, open.Request.Symbol).
					SubmitTs(open.SubmitTs).
					Failed(report.StateCancelled, "cancelled").
					Build()
			}

			top, err := e.adapter.FetchOrderBook(ctx, open.Request.Symbol)
			if err == nil {
				best := bestPriceFor(top, open.Request.Side)
				_ = e.applyReprice(ctx, open, best)
			}
		}
	}
}

// backoffDelay computes the exponential-doubling delay for attempt n
// (1-indexed): min(base * 2^(n-1), capDelay).
func backoffDelay(attempt int, base, capDelay time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= capDelay {
			return capDelay
		}
	}
	if d > capDelay {
		return capDelay
	}
	return d
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
