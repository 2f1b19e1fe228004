// Package reprice implements the pure decision function used by both the
// REST and WebSocket executors to decide whether a resting limit order
// should be repriced.
package reprice

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the tunables for a reprice decision. Zero value is valid:
// threshold 0.0 means "always reprice on any change", preserving legacy
// behavior.
type Config struct {
	MinRepriceThresholdPct decimal.Decimal
	ElapsedOverride        *time.Duration
}

// Kind tags which decision Decide returned.
type Kind int

const (
	KindSuppress Kind = iota
	KindReprice
	KindElapsedOverride
)

// Decision is the result of evaluating the policy once.
type Decision struct {
	Kind       Kind
	NewPrice   decimal.Decimal
	ChangePct  decimal.Decimal
}

func (d Decision) IsSuppress() bool         { return d.Kind == KindSuppress }
func (d Decision) IsReprice() bool          { return d.Kind == KindReprice }
func (d Decision) IsElapsedOverride() bool  { return d.Kind == KindElapsedOverride }

// Decide evaluates the reprice rules in order against the current resting
// price, the latest best price, and how long the order has been resting.
func Decide(current, best decimal.Decimal, elapsed time.Duration, cfg Config) Decision {
	if current.Equal(best) {
		return Decision{Kind: KindSuppress, ChangePct: decimal.Zero}
	}

	changePct := best.Sub(current).Abs().Div(current)

	if cfg.ElapsedOverride != nil && elapsed >= *cfg.ElapsedOverride {
		return Decision{Kind: KindElapsedOverride, NewPrice: best, ChangePct: changePct}
	}

	if changePct.LessThan(cfg.MinRepriceThresholdPct) {
		return Decision{Kind: KindSuppress, ChangePct: changePct}
	}

	return Decision{Kind: KindReprice, NewPrice: best, ChangePct: changePct}
}
