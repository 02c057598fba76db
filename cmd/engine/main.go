package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/config"
	"github.com/web3guy0/polyarb/core"
	"github.com/web3guy0/polyarb/execution"
	"github.com/web3guy0/polyarb/feeds"
	"github.com/web3guy0/polyarb/notify"
	"github.com/web3guy0/polyarb/risk"
	"github.com/web3guy0/polyarb/signer"
	"github.com/web3guy0/polyarb/storage"
	"github.com/web3guy0/polyarb/strategy"
)

// oracleDivergenceThreshold is how far the Chainlink-aligned oracle price
// can drift from the Binance spot price before it gets flagged -- a wide
// gap usually means one feed is stale rather than a real market move.
var oracleDivergenceThreshold = decimal.RequireFromString("0.01")

const oracleCheckInterval = 30 * time.Second

func main() {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msg("                POLYARB - LATENCY/CERTAINTY ARB ENGINE")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	// ═══════════════════════════════════════════════════════════════════════════════
	// LOAD + VALIDATE CONFIG
	// ═══════════════════════════════════════════════════════════════════════════════

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	riskCfg := risk.DefaultConfig()
	stratCfg := strategy.DefaultConfig()
	execCfg := execution.DefaultExecutorConfig()
	execCfg.DryRun = cfg.DryRun

	if err := config.Validate(cfg, stratCfg, execCfg); err != nil {
		log.Fatal().Err(err).Msg("Config validation failed")
	}
	log.Info().Msg("✅ Config loaded and validated")

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. Storage
	gormStore, err := storage.NewGormStore(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage layer")
	}
	log.Info().Msg("✅ Storage layer initialized")

	auditLog, err := storage.NewAuditLog(cfg.AuditLogPath, gormStore)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audit log")
	}
	log.Info().Msg("✅ Audit log initialized")

	// 2. Signer (skipped entirely in dry-run if no key is configured)
	var sgnr *signer.Signer
	if cfg.WalletPrivateKey != "" {
		sgnr, err = signer.FromHex(cfg.WalletPrivateKey, common.HexToAddress(cfg.FunderAddress), cfg.SignatureType)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load signing key")
		}
		log.Info().Msg("✅ Signer initialized")
	} else {
		log.Warn().Msg("No ETH_PRIVATE_KEY set, running without a signer (dry-run only)")
	}

	// 3. CLOB order client
	contractClient := feeds.NewContractClient(sgnr, cfg.CLOBApiKey, cfg.CLOBApiSecret, cfg.CLOBPassphrase, cfg.DryRun)
	log.Info().Msg("✅ Contract client initialized")

	// 4. Binance spot feed
	binanceFeed := feeds.NewBinanceFeed()
	binanceFeed.Start()
	log.Info().Msg("✅ Binance price feed initialized")

	// 4b. Chainlink-aligned oracle feed, used only as a cross-check on the
	// Binance spot price that drives strike capture.
	chainlinkFeed := feeds.NewChainlinkFeed(os.Getenv("CMC_API_KEY"))
	chainlinkFeed.SetBinanceFallback(binanceFeed)
	chainlinkFeed.Start()
	log.Info().Msg("✅ Chainlink oracle feed initialized")

	// 5. Window scanner (market discovery + rotation)
	windowScanner := feeds.NewWindowScanner(binanceFeed)
	windowScanner.Start()
	log.Info().Msg("✅ Window scanner initialized")

	// 6. Contract order-book feed
	contractFeed := feeds.NewContractFeed()
	contractFeed.Start()
	log.Info().Msg("✅ Contract order-book feed initialized")

	// 7. Risk manager
	riskMgr := risk.NewManager(riskCfg, cfg.Bankroll)
	log.Info().Msg("✅ Risk layer initialized")

	// 8. Notifier (Telegram if configured, log-only otherwise)
	statsProvider := &engineStatsProvider{risk: riskMgr, store: gormStore}
	var notifier execution.Notifier
	var telegram *notify.TelegramNotifier
	if cfg.TelegramToken != "" {
		telegram, err = notify.NewTelegramNotifier(statsProvider)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram notifier disabled, continuing without it")
		} else {
			telegram.Start()
			notifier = telegram
			log.Info().Msg("✅ Telegram notifier initialized")
		}
	}
	if notifier == nil {
		notifier = logOnlyNotifier{}
	}

	// 9. Executor
	executor := execution.NewExecutor(execCfg, contractClient, riskMgr, notifier)
	log.Info().Msg("✅ Execution layer initialized")
	statsProvider.exec = executor

	// 10. Core engine
	engine := core.NewEngine(riskMgr, executor, windowScanner, contractFeed, gormStore)
	log.Info().Msg("✅ Core engine initialized")

	// 11. Register the already-discovered market slots before relying on
	// the rotation stream; handleRotation only updates strategies that
	// were already added here.
	time.Sleep(2 * time.Second) // let the first window-scanner poll land
	for _, w := range windowScanner.GetActiveSlots() {
		registerMarket(engine, riskMgr, stratCfg, binanceFeed, contractFeed, w)
	}
	log.Info().Int("count", len(windowScanner.GetActiveSlots())).Msg("✅ Markets registered")

	// 12. Status server
	statusServer := core.NewStatusServer(engine, statusAddr())

	// ═══════════════════════════════════════════════════════════════════════════════
	// PRINT CONFIG
	// ═══════════════════════════════════════════════════════════════════════════════

	log.Info().Msg("")
	log.Info().Msg("╔══════════════════════════════════════════════════════════════╗")
	log.Info().Msg("║                  POLYARB - RUNTIME CONFIG                    ║")
	log.Info().Msg("╠══════════════════════════════════════════════════════════════╣")
	log.Info().Msgf("║  Mode: %-55s ║", modeLabel(cfg.DryRun))
	log.Info().Msgf("║  Assets: %-53s ║", joinAssets(cfg.Assets))
	log.Info().Msgf("║  Bankroll: %-51s ║", cfg.Bankroll.String())
	log.Info().Msg("╚══════════════════════════════════════════════════════════════╝")
	log.Info().Msg("")

	// ═══════════════════════════════════════════════════════════════════════════════
	// START
	// ═══════════════════════════════════════════════════════════════════════════════

	stopCh := make(chan struct{})

	go engine.Start()
	go auditLog.Run(executor.Events(), stopCh)
	if telegram != nil {
		go telegram.Run(executor.Events(), stopCh)
	}
	go func() {
		if err := statusServer.Start(); err != nil {
			log.Error().Err(err).Msg("status server stopped")
		}
	}()
	go oracleSanityLoop(chainlinkFeed, binanceFeed, cfg.Assets, notifier, stopCh)

	if telegram != nil {
		telegram.NotifyStartup(modeLabel(cfg.DryRun))
	}
	log.Info().Msg("🚀 All systems running...")

	// ═══════════════════════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════════════════════

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("🛑 Shutting down...")
	close(stopCh)

	engine.Stop()
	binanceFeed.Stop()
	chainlinkFeed.Stop()
	windowScanner.Stop()
	contractFeed.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("status server shutdown error")
	}

	if telegram != nil {
		telegram.Stop()
	}
	if err := auditLog.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close audit log")
	}
	if err := gormStore.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close storage layer")
	}

	log.Info().Msg("👋 Goodbye!")
}

// registerMarket builds a per-window Strategy and wires it into the
// engine, mirroring handleRotation's SetMarket/AddMarket sequence for
// markets that are already live at startup.
func registerMarket(engine *core.Engine, riskMgr *risk.Manager, stratCfg strategy.Config, binanceFeed *feeds.BinanceFeed, contractFeed *feeds.ContractFeed, w *feeds.Window) {
	strat := strategy.NewStrategy(w.Label, stratCfg, riskMgr.Bankroll)
	strat.SetMarket(w.YesTokenID, w.NoTokenID, w.EndTime)

	contractFeed.Subscribe(w.YesTokenID)
	contractFeed.Subscribe(w.NoTokenID)

	engine.AddMarket(w.WindowKey, w.Asset, strat, binanceFeed.AssetFeed(w.Asset), w.YesTokenID, w.NoTokenID, w.Label, w.EndTime)
}

// oracleSanityLoop periodically cross-checks the Binance spot price each
// strategy trades against the Chainlink-aligned oracle price. A wide,
// sustained divergence usually means the Binance feed is stale or has
// lost its connection, not that the market actually moved.
func oracleSanityLoop(chainlinkFeed *feeds.ChainlinkFeed, binanceFeed *feeds.BinanceFeed, assets []string, notifier execution.Notifier, stopCh <-chan struct{}) {
	ticker := time.NewTicker(oracleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			for _, asset := range assets {
				divergence := chainlinkFeed.OracleDivergence(binanceFeed, asset)
				if divergence.GreaterThan(oracleDivergenceThreshold) {
					msg := fmt.Sprintf("oracle divergence on %s: %s vs threshold %s", asset, divergence.StringFixed(4), oracleDivergenceThreshold.StringFixed(4))
					log.Warn().Str("asset", asset).Str("divergence", divergence.StringFixed(4)).Msg("spot feed diverging from oracle")
					notifier.Alert(msg)
				}
			}
		}
	}
}

func modeLabel(dryRun bool) string {
	if dryRun {
		return "PAPER TRADING"
	}
	return "LIVE TRADING"
}

func joinAssets(assets []string) string {
	out := ""
	for i, a := range assets {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}

func statusAddr() string {
	if v := os.Getenv("STATUS_ADDR"); v != "" {
		return v
	}
	return ":8090"
}

type logOnlyNotifier struct{}

func (logOnlyNotifier) Alert(msg string) {
	log.Info().Str("alert", msg).Msg("📣 notifier (log-only)")
}

// engineStatsProvider adapts risk/execution/storage state to
// notify.StatsProvider so the Telegram command surface can answer
// /status, /balance, /stats, /trades, and /positions.
type engineStatsProvider struct {
	risk  *risk.Manager
	exec  *execution.Executor
	store *storage.GormStore
}

func (p *engineStatsProvider) GetStats() (trades, wins, losses int, pnl, equity decimal.Decimal) {
	metrics := p.exec.GetMetrics()
	winRate := p.exec.Last20WinRate()
	trades = int(metrics.ClosedTrades)
	wins = int(decimal.NewFromInt(metrics.ClosedTrades).Mul(winRate).IntPart())
	losses = trades - wins
	pnl = metrics.TotalPnl
	equity = p.risk.Bankroll()
	return
}

func (p *engineStatsProvider) GetBalance() (decimal.Decimal, error) {
	return p.risk.Bankroll(), nil
}

func (p *engineStatsProvider) GetRecentTrades(limit int) ([]storage.TradeRecord, error) {
	return p.store.RecentTrades(limit)
}

func (p *engineStatsProvider) GetOpenPositions() ([]execution.TradeSnapshot, error) {
	return p.exec.GetOpenSnapshot(), nil
}
