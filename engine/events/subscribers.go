package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// RunLogSubscriber drains a subscriber and writes one structured log line
// per event, at the level the event warrants. It returns once the
// subscriber's channel is closed by StopAll, so callers should run it in its
// own goroutine.
func RunLogSubscriber(sub *Subscriber) {
	for ev := range sub.C() {
		logEvent(ev)
	}
}

func logEvent(ev Event) {
	base := log.With().
		Str("event", string(ev.Name)).
		Str("order_id", ev.OrderID).
		Str("symbol", ev.Symbol).
		Str("exchange_id", ev.ExchangeID).
		Int64("ts_ms", ev.TimestampMs).
		Fields(ev.Payload).
		Logger()

	switch ev.Name {
	case OrderRejected, ExchangeNotFound:
		base.Error().Msg("order lifecycle event")
	case WsCircuitOpen, WsReconnectAttempt, WsRestFallback, WsStalenessFallback,
		OrderTimedOut, MakerTimeoutTakerFallback, OrderSpreadBlocked, OrderRiskBlocked:
		base.Warn().Msg("order lifecycle event")
	default:
		base.Info().Msg("order lifecycle event")
	}
}

// Metrics is an in-process counter snapshot keyed by canonical event name.
// No external metrics dependency is pulled in for this — see DESIGN.md.
type Metrics struct {
	mu     sync.Mutex
	counts map[Name]int
}

// NewMetrics creates an empty counter set.
func NewMetrics() *Metrics {
	return &Metrics{counts: make(map[Name]int)}
}

// RunMetricsSubscriber drains a subscriber into the counter set until its
// channel is closed.
func (m *Metrics) RunMetricsSubscriber(sub *Subscriber) {
	for ev := range sub.C() {
		m.mu.Lock()
		m.counts[ev.Name]++
		m.mu.Unlock()
	}
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() map[Name]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Name]int, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}

// StopAll closes every subscriber's channel so their drain goroutines exit.
// Must only be called after the batch has finished emitting.
func (b *Bus) StopAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subscribers {
		close(s.ch)
	}
}
