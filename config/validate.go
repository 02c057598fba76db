package config

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/execution"
	"github.com/web3guy0/polyarb/strategy"
)

// ═══════════════════════════════════════════════════════════════════════════════
// VALIDATION - live-mode sanity checks, exit non-zero on failure
// ═══════════════════════════════════════════════════════════════════════════════

// Validate checks cfg against the per-component configs cmd/engine/main.go
// is about to wire, returning the first violation found. Callers should
// treat a non-nil error as fatal before any feed is started.
func Validate(cfg *Config, strat strategy.Config, exec execution.ExecutorConfig) error {
	if !cfg.DryRun {
		if cfg.WalletPrivateKey == "" {
			return fmt.Errorf("ETH_PRIVATE_KEY is required when DRY_RUN is disabled")
		}
		if cfg.CLOBApiKey == "" || cfg.CLOBApiSecret == "" || cfg.CLOBPassphrase == "" {
			return fmt.Errorf("CLOB_API_KEY, CLOB_API_SECRET, and CLOB_PASSPHRASE are all required when DRY_RUN is disabled")
		}
	}

	if len(cfg.Assets) == 0 {
		return fmt.Errorf("TRADING_ASSETS must name at least one asset")
	}

	tenPct := decimal.NewFromFloat(0.10)
	if strat.Risk.MaxBetFraction.GreaterThan(tenPct) {
		return fmt.Errorf("RISK_MAX_BET_FRACTION %s exceeds the 10%% safety ceiling", strat.Risk.MaxBetFraction)
	}

	costFloor := strat.Risk.SlippageBps.Add(strat.Risk.FeeBps).Div(decimal.NewFromInt(10000))
	if strat.LatencyArbThreshold.LessThanOrEqual(costFloor) {
		return fmt.Errorf("STRAT_LATENCY_EDGE_THRESHOLD %s does not clear the slippage+fee floor %s", strat.LatencyArbThreshold, costFloor)
	}
	if strat.CertaintyThreshold.LessThanOrEqual(costFloor) {
		return fmt.Errorf("STRAT_CERTAINTY_THRESHOLD %s does not clear the slippage+fee floor %s", strat.CertaintyThreshold, costFloor)
	}

	if err := inUnitInterval("EXEC_PROFIT_TARGET_PCT", exec.ProfitTargetPct); err != nil {
		return err
	}
	if err := inUnitInterval("EXEC_STOP_LOSS_PCT", exec.StopLossPct); err != nil {
		return err
	}

	return nil
}

func inUnitInterval(name string, v decimal.Decimal) error {
	if v.LessThanOrEqual(decimal.Zero) || v.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be in (0, 1), got %s", name, v)
	}
	return nil
}
