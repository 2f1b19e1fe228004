package reprice

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDecideSuppressesBelowThreshold(t *testing.T) {
	cfg := Config{MinRepriceThresholdPct: decimal.NewFromFloat(0.001)}
	current := decimal.NewFromFloat(43200.00)
	best := decimal.NewFromFloat(43200.20)

	d := Decide(current, best, 0, cfg)

	assert.True(t, d.IsSuppress())
	assert.True(t, d.ChangePct.LessThan(cfg.MinRepriceThresholdPct))
}

func TestDecideRepricesAboveThreshold(t *testing.T) {
	cfg := Config{MinRepriceThresholdPct: decimal.NewFromFloat(0.001)}
	current := decimal.NewFromFloat(43200.00)
	best := decimal.NewFromFloat(43140.00)

	d := Decide(current, best, 0, cfg)

	assert.True(t, d.IsReprice())
	assert.True(t, d.NewPrice.Equal(best))
	assert.True(t, d.ChangePct.GreaterThanOrEqual(cfg.MinRepriceThresholdPct))
}

func TestDecideNoChangeAlwaysSuppresses(t *testing.T) {
	cfg := Config{MinRepriceThresholdPct: decimal.Zero}
	current := decimal.NewFromFloat(43200.00)

	d := Decide(current, current, time.Hour, cfg)

	assert.True(t, d.IsSuppress())
	assert.True(t, d.ChangePct.IsZero())
}

func TestDecideElapsedOverrideBypassesThreshold(t *testing.T) {
	override := 500 * time.Millisecond
	cfg := Config{MinRepriceThresholdPct: decimal.NewFromFloat(0.5), ElapsedOverride: &override}
	current := decimal.NewFromFloat(43200.00)
	best := decimal.NewFromFloat(43200.20) // well below the 50% threshold

	d := Decide(current, best, time.Second, cfg)

	assert.True(t, d.IsElapsedOverride())
	assert.True(t, d.NewPrice.Equal(best))
}

func TestDecideElapsedOverrideDoesNotFireEarly(t *testing.T) {
	override := 500 * time.Millisecond
	cfg := Config{MinRepriceThresholdPct: decimal.NewFromFloat(0.5), ElapsedOverride: &override}
	current := decimal.NewFromFloat(43200.00)
	best := decimal.NewFromFloat(43200.20)

	d := Decide(current, best, 100*time.Millisecond, cfg)

	assert.True(t, d.IsSuppress())
}
