// Package bot formats and delivers the end-of-batch alert. The formatting
// contract is the stable surface; no concrete chat backend ships here —
// only a Noop and a logging sink, so the output contract can be exercised
// without ever reaching an external network in this build.
package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/veloxtrade/execengine/engine/report"
)

// AlertSink delivers a formatted alert somewhere. Real chat delivery
// (Telegram, Slack, …) is out of scope here; this interface exists so the
// router never depends on a concrete transport.
type AlertSink interface {
	Send(ctx context.Context, text string) error
}

// NoopSink discards every alert. Useful for tests and for runs where
// alerting isn't wired up.
type NoopSink struct{}

func (NoopSink) Send(ctx context.Context, text string) error { return nil }

// LoggingSink writes the alert to the structured logger at info level,
// instead of delivering it anywhere external.
type LoggingSink struct{}

func (LoggingSink) Send(ctx context.Context, text string) error {
	log.Info().Str("alert", text).Msg("batch alert")
	return nil
}

// AlertFormatter turns a batch's reports into the end-of-run human-readable
// summary. Its one exported method is the stable formatting contract.
type AlertFormatter struct{}

// FormatBatchAlert renders reports into plain text: a header with the fill
// count, one line per filled/failed/orphaned order. It never falls back to
// a raw struct dump — every field is read through report's accessors and
// formatted explicitly.
func (AlertFormatter) FormatBatchAlert(reports []report.Report) string {
	var filled, timedOut, rejected int
	for _, r := range reports {
		switch {
		case r.IsFilled():
			filled++
		case r.FinalState() == report.StateTimedOut:
			timedOut++
		case r.FinalState() == report.StateRejected:
			rejected++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 *BATCH COMPLETE* — %d/%d filled", filled, len(reports))
	if timedOut > 0 || rejected > 0 {
		fmt.Fprintf(&b, " (%d timed out, %d rejected)", timedOut, rejected)
	}
	b.WriteString("\n")

	for _, r := range reports {
		switch {
		case r.FailureReason() == "exchange_not_found":
			fmt.Fprintf(&b, "⚠️ %s@%s — exchange not found, order not placed\n", r.Symbol(), r.ExchangeID())

		case r.IsFilled():
			fmt.Fprintf(&b, "✅ %s@%s %s %dms\n", r.Symbol(), r.ExchangeID(), r.AvgPrice().StringFixed(4), r.FillLatencyMs())

		case r.FinalState() == report.StateTimedOut:
			fmt.Fprintf(&b, "⏱️ %s@%s timeout: %s\n", r.Symbol(), r.ExchangeID(), r.FailureReason())

		case r.FinalState() == report.StateRejected:
			fmt.Fprintf(&b, "🚫 %s@%s rejected: %s\n", r.Symbol(), r.ExchangeID(), r.FailureReason())

		case r.FinalState() == report.StateCancelled:
			fmt.Fprintf(&b, "✋ %s@%s cancelled\n", r.Symbol(), r.ExchangeID())

		default:
			fmt.Fprintf(&b, "❌ %s@%s failed: %s\n", r.Symbol(), r.ExchangeID(), r.FailureReason())
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
