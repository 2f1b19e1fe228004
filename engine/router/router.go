// Package router is the core's single public entry point: it fans a batch
// of order requests out across exchanges, running each order through the
// risk gate and the matching executor transport, and collects one report
// per order plus a human-readable batch alert.
package router

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/veloxtrade/execengine/bot"
	"github.com/veloxtrade/execengine/engine/events"
	"github.com/veloxtrade/execengine/engine/executor"
	"github.com/veloxtrade/execengine/engine/report"
	"github.com/veloxtrade/execengine/engine/session"
	"github.com/veloxtrade/execengine/exchange"
	"github.com/veloxtrade/execengine/risk"
	"github.com/veloxtrade/execengine/storage"
)

// Result is everything a caller needs after a batch: the reports in request
// order, and the formatted alert text ready to hand to a bot.AlertSink.
type Result struct {
	Reports   []report.Report
	AlertText string
}

// ExecuteOrders runs every request in batch to completion, grouped by
// exchange, and returns one report per request in the original order. Orders
// sharing an exchange run concurrently, each owning its own executor
// goroutine; batch-level cancellation via ctx cancels every still in-flight
// Execute call. store may be nil, in which case no submission/report rows
// are persisted (used by tests that don't exercise reconciliation).
func ExecuteOrders(ctx context.Context, registry *exchange.Registry, gate *risk.Gate, bus *events.Bus, store *storage.Store, batchID string, cfg executor.Config, batch []executor.Request) Result {
	reports := make([]report.Report, len(batch))

	byExchange := make(map[string][]int) // exchange_id -> indices into batch
	for i, req := range batch {
		if _, ok := registry.Get(req.ExchangeID); !ok {
			bus.Emit(events.New(events.ExchangeNotFound, "", req.Symbol, req.ExchangeID, nil))
			reports[i] = report.NewBuilder("", req.ExchangeID, req.Symbol).
				Failed(report.StateFailed, "exchange_not_found").
				Build()
			continue
		}
		byExchange[req.ExchangeID] = append(byExchange[req.ExchangeID], i)
	}

	for exchangeID, indices := range byExchange {
		adapter, _ := registry.Get(exchangeID)
		sess := session.New(adapter)

		spec := buildSessionSpec(batch, indices)
		if err := sess.Init(ctx, spec); err != nil {
			for _, i := range indices {
				reports[i] = report.NewBuilder("", exchangeID, batch[i].Symbol).
					Failed(report.StateFailed, "session init failed: "+err.Error()).
					Build()
			}
			sess.Close()
			continue
		}

		rest := executor.NewREST(adapter, sess, bus, cfg)
		ws := executor.NewWS(adapter, sess, bus, cfg)

		// Every order on this exchange owns its own executor goroutine so
		// a slow maker order (up to the full timeout duration) never blocks
		// the rest of the batch, and the risk gate's per-exchange open-order
		// count reflects orders that are actually concurrently in flight.
		var wg sync.WaitGroup
		for _, i := range indices {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				reports[i] = executeOne(ctx, gate, bus, store, batchID, adapter, rest, ws, batch[i])
			}(i)
		}
		wg.Wait()

		sess.Close()
	}

	formatted := bot.AlertFormatter{}.FormatBatchAlert(reports)
	return Result{Reports: reports, AlertText: formatted}
}

// executeOne consults the risk gate, records the pre-submission BatchRecord
// for an approved order, runs the matching executor transport, persists the
// terminal report, and feeds the outcome back into the gate. A vetoed order
// gets a failed report and no BatchRecord.
func executeOne(ctx context.Context, gate *risk.Gate, bus *events.Bus, store *storage.Store, batchID string, adapter exchange.Adapter, rest *executor.REST, ws *executor.WS, req executor.Request) report.Report {
	notional := estimateNotional(req)

	approved, reason := gate.Approve(risk.Request{ExchangeID: req.ExchangeID, Symbol: req.Symbol, Notional: notional})
	if !approved {
		bus.Emit(events.New(events.OrderRiskBlocked, "", req.Symbol, req.ExchangeID, map[string]any{"reason": reason}))
		return report.NewBuilder("", req.ExchangeID, req.Symbol).
			Failed(report.StateFailed, reason).
			Build()
	}
	defer gate.Release(req.ExchangeID)

	clientOrderID := uuid.NewString()
	persistSubmission(store, batchID, clientOrderID, req)

	var rep report.Report
	if req.Type == executor.TypeMaker && adapter.SupportsWebSocket() {
		rep = ws.Execute(ctx, req)
	} else {
		rep = rest.Execute(ctx, req)
	}

	persistReport(store, batchID, clientOrderID, rep)
	gate.RecordResult(req.ExchangeID, rep.IsFilled())
	return rep
}

// persistSubmission writes a BatchRecord before the order reaches the
// adapter, keyed by a client-generated order ID rather than the adapter's
// own order ID (which doesn't exist yet at submission time). No-op when
// store is nil.
func persistSubmission(store *storage.Store, batchID, clientOrderID string, req executor.Request) {
	if store == nil {
		return
	}
	err := store.RecordSubmission(storage.BatchRecord{
		BatchID:     batchID,
		OrderID:     clientOrderID,
		ExchangeID:  req.ExchangeID,
		Symbol:      req.Symbol,
		Side:        string(req.Side),
		Amount:      req.Amount,
		Type:        string(req.Type),
		SubmittedAt: time.Now(),
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", clientOrderID).Msg("failed to persist batch record")
	}
}

// persistReport writes the terminal PersistedReport under the same
// clientOrderID used by persistSubmission, so reconcile can join the two.
// No-op when store is nil.
func persistReport(store *storage.Store, batchID, clientOrderID string, rep report.Report) {
	if store == nil {
		return
	}
	err := store.RecordReport(storage.PersistedReport{
		BatchID:       batchID,
		OrderID:       clientOrderID,
		ExchangeID:    rep.ExchangeID(),
		Symbol:        rep.Symbol(),
		FinalState:    string(rep.FinalState()),
		FilledAmount:  rep.FilledAmount(),
		AvgPrice:      rep.AvgPrice(),
		FillLatencyMs: rep.FillLatencyMs(),
		FailureReason: rep.FailureReason(),
		SubmitTs:      rep.SubmitTs(),
		CloseTs:       rep.CloseTs(),
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", clientOrderID).Msg("failed to persist execution report")
	}
}

// estimateNotional approximates the order's value for the per-symbol
// exposure check. It deliberately doesn't fetch a live price: the gate
// only needs a stable, monotonic proxy for size, and Amount already is one
// for same-symbol comparisons within a batch.
func estimateNotional(req executor.Request) decimal.Decimal {
	return req.Amount
}

func buildSessionSpec(batch []executor.Request, indices []int) session.Spec {
	spec := session.Spec{}
	for _, i := range indices {
		req := batch[i]
		spec.Symbols = append(spec.Symbols, req.Symbol)
		if req.Leverage > 0 {
			spec.Leverages = append(spec.Leverages, session.SymbolLeverage{Symbol: req.Symbol, Leverage: req.Leverage})
		}
		if req.Type == executor.TypeMaker {
			spec.NeedsWSSymbols = append(spec.NeedsWSSymbols, req.Symbol)
		}
	}
	return spec
}
