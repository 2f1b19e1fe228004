// Package config loads the runtime configuration for the execution engine
// from the environment (optionally seeded by a .env file), the way the
// teacher's internal/config package does.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/veloxtrade/execengine/engine/executor"
	"github.com/veloxtrade/execengine/engine/reprice"
	"github.com/veloxtrade/execengine/risk"
)

// Config is the fully resolved runtime configuration: executor tunables,
// per-adapter credentials, persistence DSN, and risk limits.
type Config struct {
	Debug bool

	// Persistence
	DatabaseURL string // postgres:// URL, or a sqlite file path when unset

	// Executor tunables applied to every order in a batch
	Executor executor.Config

	// Risk gate
	Risk risk.Config

	// Binance USD-M adapter
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceRestURL   string
	BinanceWsURL     string

	// On-chain settled adapter
	OnChainContractAddress string
	OnChainChainID         int64
	OnChainPrivateKeyHex   string
}

// Load resolves Config from the environment. Callers are expected to have
// already called godotenv.Load() (see cmd/execengine) so .env values are
// visible to os.Getenv.
func Load() (*Config, error) {
	cfg := &Config{
		Debug:       getEnvBool("DEBUG", false),
		DatabaseURL: getEnv("DATABASE_URL", getEnv("DB_PATH", "data/execengine.db")),

		Executor: executor.Config{
			Strategy:               executor.Strategy(getEnv("EXEC_STRATEGY", string(executor.StrategyFast))),
			MaxSpreadPct:           getEnvDecimal("EXEC_MAX_SPREAD_PCT", decimal.NewFromFloat(0.005)),
			TimeoutDuration:        getEnvDuration("EXEC_TIMEOUT", 5*time.Minute),
			SpreadWaitBudget:       getEnvDuration("EXEC_SPREAD_WAIT_BUDGET", 30*time.Second),
			WsReconnectBaseDelay:   getEnvDuration("EXEC_WS_RECONNECT_BASE_DELAY", 100*time.Millisecond),
			WsReconnectCap:         getEnvDuration("EXEC_WS_RECONNECT_CAP", 30*time.Second),
			WsMaxReconnectAttempts: getEnvInt("EXEC_WS_MAX_RECONNECT_ATTEMPTS", 3),
			WsStalenessWindow:      getEnvDuration("EXEC_WS_STALENESS_WINDOW", 10*time.Second),
			Reprice: reprice.Config{
				MinRepriceThresholdPct: getEnvDecimal("EXEC_REPRICE_THRESHOLD_PCT", decimal.Zero),
			},
		},

		Risk: risk.ConfigFromEnv(),

		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret: os.Getenv("BINANCE_API_SECRET"),
		BinanceRestURL:   getEnv("BINANCE_REST_URL", ""),
		BinanceWsURL:     getEnv("BINANCE_WS_URL", ""),

		OnChainContractAddress: getEnv("ONCHAIN_CONTRACT_ADDRESS", ""),
		OnChainChainID:         int64(getEnvInt("ONCHAIN_CHAIN_ID", 1)),
		OnChainPrivateKeyHex:   os.Getenv("ONCHAIN_PRIVATE_KEY"),
	}

	if v := os.Getenv("EXEC_REPRICE_ELAPSED_OVERRIDE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid EXEC_REPRICE_ELAPSED_OVERRIDE: %w", err)
		}
		cfg.Executor.Reprice.ElapsedOverride = &d
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1" || v == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return defaultValue
}
