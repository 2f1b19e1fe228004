package bot

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/veloxtrade/execengine/engine/report"
)

func TestFormatBatchAlertFilledAndFailed(t *testing.T) {
	filled := report.NewBuilder("o1", "binance", "BTCUSDT").
		Filled(decimal.NewFromInt(1), decimal.NewFromInt(50000)).
		Build()

	rejected := report.NewBuilder("o2", "binance", "ETHUSDT").
		Failed(report.StateRejected, "insufficient margin").
		Build()

	orphaned := report.NewBuilder("", "unknown-exchange", "SOLUSDT").
		Failed(report.StateFailed, "exchange_not_found").
		Build()

	text := AlertFormatter{}.FormatBatchAlert([]report.Report{filled, rejected, orphaned})

	assert.Contains(t, text, "1/3 filled")
	assert.Contains(t, text, "BTCUSDT@binance")
	assert.Contains(t, text, "ETHUSDT@binance rejected: insufficient margin")
	assert.Contains(t, text, "SOLUSDT@unknown-exchange — exchange not found")
	assert.NotContains(t, text, "%+v")
	assert.NotContains(t, text, "report.Report{")
}

func TestNoopSinkNeverErrors(t *testing.T) {
	err := NoopSink{}.Send(context.Background(), "anything")
	assert.NoError(t, err)
}

func TestLoggingSinkNeverErrors(t *testing.T) {
	err := LoggingSink{}.Send(context.Background(), "anything")
	assert.NoError(t, err)
}
