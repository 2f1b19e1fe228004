// Command execengine demonstrates wiring a batch through the router: load
// config, build the exchange registry, and execute one sample batch.
package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/veloxtrade/execengine/bot"
	"github.com/veloxtrade/execengine/config"
	"github.com/veloxtrade/execengine/engine/events"
	"github.com/veloxtrade/execengine/engine/executor"
	"github.com/veloxtrade/execengine/engine/router"
	"github.com/veloxtrade/execengine/exchange"
	"github.com/veloxtrade/execengine/exchange/binanceusdm"
	"github.com/veloxtrade/execengine/exchange/onchainsettled"
	"github.com/veloxtrade/execengine/reconcile"
	"github.com/veloxtrade/execengine/risk"
	"github.com/veloxtrade/execengine/storage"
)

const version = "1.0.0"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Str("version", version).Msg("execengine starting")

	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}

	gate := risk.NewGate(cfg.Risk)

	result, err := reconcile.Recover(store)
	if err != nil {
		log.Error().Err(err).Msg("reconciliation failed, continuing without recovered state")
	} else {
		reconcile.RehydrateGate(gate, result.BreakerStates)
		if result.OrphanedOrders > 0 {
			log.Warn().Int("count", result.OrphanedOrders).Msg("recovered orphaned orders from previous process")
		}
	}

	registry := buildRegistry(cfg)

	bus := events.NewBus()
	logSub := bus.Subscribe()
	metricsSub := bus.Subscribe()
	metrics := events.NewMetrics()
	go events.RunLogSubscriber(logSub)
	go metrics.RunMetricsSubscriber(metricsSub)

	batch := []executor.Request{
		{
			Symbol:     "BTCUSDT",
			Side:       exchange.SideBuy,
			Amount:     decimal.NewFromFloat(0.01),
			Type:       executor.TypeTaker,
			ExchangeID: "binance-usdm",
		},
	}

	batchID := uuid.NewString()
	res := router.ExecuteOrders(context.Background(), registry, gate, bus, store, batchID, cfg.Executor, batch)
	bus.StopAll()

	sink := bot.LoggingSink{}
	if err := sink.Send(context.Background(), res.AlertText); err != nil {
		log.Error().Err(err).Msg("failed to deliver batch alert")
	}

	log.Info().Interface("event_counts", metrics.Snapshot()).Msg("batch complete")
}

// buildRegistry wires every concrete adapter this build ships. Adapters
// missing required credentials are skipped rather than failing startup —
// a batch that never targets them still runs.
func buildRegistry(cfg *config.Config) *exchange.Registry {
	var adapters []exchange.Adapter

	if cfg.BinanceAPIKey != "" && cfg.BinanceAPISecret != "" {
		adapters = append(adapters, binanceusdm.New(binanceusdm.Config{
			ExchangeID: "binance-usdm",
			APIKey:     cfg.BinanceAPIKey,
			APISecret:  cfg.BinanceAPISecret,
			RestURL:    cfg.BinanceRestURL,
			WsURL:      cfg.BinanceWsURL,
		}))
	} else {
		log.Warn().Msg("BINANCE_API_KEY/BINANCE_API_SECRET unset, skipping binance-usdm adapter")
	}

	if cfg.OnChainPrivateKeyHex != "" && cfg.OnChainContractAddress != "" {
		client, err := onchainsettled.New(onchainsettled.Config{
			ExchangeID:      "onchain-settled",
			ContractAddress: cfg.OnChainContractAddress,
			ChainID:         cfg.OnChainChainID,
			PrivateKeyHex:   cfg.OnChainPrivateKeyHex,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize onchain-settled adapter")
		} else {
			adapters = append(adapters, client)
		}
	} else {
		log.Warn().Msg("ONCHAIN_PRIVATE_KEY/ONCHAIN_CONTRACT_ADDRESS unset, skipping onchain-settled adapter")
	}

	return exchange.NewRegistry(adapters...)
}
