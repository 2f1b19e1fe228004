// Package reconcile recovers state left behind by a process restart. It
// runs exactly once, before the first batch of a new process, never
// mid-batch: an in-flight order's WS/REST monitoring goroutine cannot be
// resumed across a restart, so recovery means writing a terminal record for
// anything still open and rehydrating each exchange's risk breaker.
package reconcile

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/veloxtrade/execengine/risk"
	"github.com/veloxtrade/execengine/storage"
)

// Result summarizes what Recover found and did.
type Result struct {
	OrphanedOrders  int
	BreakerStates   []storage.CircuitBreakerState
}

// Recover loads every exchange's persisted circuit-breaker snapshot and
// closes out any BatchRecord left without a terminal PersistedReport,
// writing a "failed" report with reason "orphaned_by_restart" for each. The
// set of in-flight batch IDs is discovered from the store itself, so the
// caller never has to track which batches were running when the process
// stopped.
func Recover(store *storage.Store) (Result, error) {
	states, err := store.LoadCircuitBreakerStates()
	if err != nil {
		return Result{}, err
	}
	if len(states) > 0 {
		log.Warn().Int("count", len(states)).Msg("reconcile: found persisted circuit breaker state")
	}

	batchIDs, err := store.DistinctOpenBatchIDs()
	if err != nil {
		return Result{}, err
	}

	orphaned := 0
	for _, batchID := range batchIDs {
		open, err := store.OpenBatchRecords(batchID)
		if err != nil {
			return Result{}, err
		}
		for _, rec := range open {
			log.Warn().
				Str("batch_id", rec.BatchID).
				Str("order_id", rec.OrderID).
				Str("exchange_id", rec.ExchangeID).
				Msg("reconcile: orphaned order from previous process, marking failed")

			err := store.RecordReport(storage.PersistedReport{
				BatchID:       rec.BatchID,
				OrderID:       rec.OrderID,
				ExchangeID:    rec.ExchangeID,
				Symbol:        rec.Symbol,
				FinalState:    "failed",
				FailureReason: "orphaned_by_restart",
				SubmitTs:      rec.SubmittedAt,
				CloseTs:       time.Now(),
			})
			if err != nil {
				return Result{}, err
			}
			orphaned++
		}
	}

	return Result{OrphanedOrders: orphaned, BreakerStates: states}, nil
}

// RehydrateGate replays persisted breaker snapshots into a fresh risk.Gate
// so a restart doesn't forget an exchange's cooldown in progress. Gate has
// no import of storage, so this conversion lives here.
func RehydrateGate(gate *risk.Gate, states []storage.CircuitBreakerState) {
	for _, s := range states {
		if !s.Tripped {
			continue
		}
		for i := 0; i < s.ConsecutiveLosses; i++ {
			gate.RecordResult(s.ExchangeID, false)
		}
	}
}
