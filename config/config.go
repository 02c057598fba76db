package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG - process-wide settings loaded from the environment
// ═══════════════════════════════════════════════════════════════════════════════
//
// Per-component thresholds (risk.Config, strategy.Config,
// execution.ExecutorConfig) load themselves from the environment via
// their own DefaultConfig constructors. This package owns everything
// that doesn't belong to one component: which assets to trade, exchange
// and wallet credentials, the operator-notification transport, and the
// persistence paths.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Config struct {
	Assets []string

	DryRun bool
	Debug  bool

	PolymarketAPIURL  string
	PolymarketCLOBURL string

	CLOBApiKey     string
	CLOBApiSecret  string
	CLOBPassphrase string

	WalletPrivateKey string
	SignerAddress    string
	FunderAddress    string
	SignatureType    int

	TelegramToken  string
	TelegramChatID int64

	Bankroll     decimal.Decimal
	DatabasePath string
	AuditLogPath string
}

// Load reads every setting from the environment, falling back to sane
// defaults. It does not validate live-mode requirements -- call Validate
// separately once the per-component configs are also loaded.
func Load() (*Config, error) {
	cfg := &Config{
		Assets: splitAssets(getEnv("TRADING_ASSETS", "BTC,ETH,SOL")),

		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		PolymarketAPIURL:  getEnv("POLYMARKET_API_URL", "https://gamma-api.polymarket.com"),
		PolymarketCLOBURL: getEnv("POLYMARKET_CLOB_URL", "https://clob.polymarket.com"),

		CLOBApiKey:     os.Getenv("CLOB_API_KEY"),
		CLOBApiSecret:  os.Getenv("CLOB_API_SECRET"),
		CLOBPassphrase: os.Getenv("CLOB_PASSPHRASE"),

		WalletPrivateKey: os.Getenv("ETH_PRIVATE_KEY"),
		SignerAddress:    os.Getenv("SIGNER_ADDRESS"),
		FunderAddress:    os.Getenv("FUNDER_ADDRESS"),
		SignatureType:    getEnvInt("SIGNATURE_TYPE", 0),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		Bankroll:     getEnvDecimal("BANKROLL", decimal.NewFromInt(1000)),
		DatabasePath: getEnv("DATABASE_PATH", "data/polyarb.db"),
		AuditLogPath: getEnv("AUDIT_LOG_PATH", "data/trades.ndjson"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	return cfg, nil
}

func splitAssets(raw string) []string {
	var assets []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if tok := raw[start:i]; tok != "" {
				assets = append(assets, tok)
			}
			start = i + 1
		}
	}
	return assets
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

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return defaultValue
}
