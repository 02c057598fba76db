package core

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polyarb/execution"
	"github.com/web3guy0/polyarb/strategy"
	"github.com/web3guy0/polyarb/storage"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - central orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow: spot feed -> Strategy -> evaluate; contract book -> Router ->
// Strategy -> evaluate -> (signal) -> per-market stacking check ->
// Risk.CanTrade -> Executor.Execute -> monitor loop (owned by Executor)
// -> exit -> Risk accounting. Market-discovery rotation mutates the
// router's tokenId -> Strategy map and instructs the Executor to cancel
// only the expiring market's open orders.
//
// ═══════════════════════════════════════════════════════════════════════════════

type engineSnapshot struct {
	OpenTrades []execution.TradeSnapshot `json:"openTrades"`
	SavedAt    time.Time                 `json:"savedAt"`
}

type Engine struct {
	mu sync.RWMutex

	router   *Router
	registry *MarketRegistry

	risk     RiskAccountant
	executor TradeExecutor

	discovery    MarketDiscovery
	contractFeed ContractFeed
	stateStore   storage.StateStore

	spotFeeds       map[string]strategy.SpotFeed   // asset -> feed, deduplicated
	assetStrategies map[string][]*strategy.Strategy // asset -> strategies subscribed to that feed
	strategies      map[string]*strategy.Strategy   // windowKey -> strategy, for rotation lookup

	running bool
	stopCh  chan struct{}
}

// NewEngine wires the router, market registry, and the Risk/Executor
// boundaries into a single orchestrator. stateStore may be nil, in which
// case shutdown snapshot persistence is skipped.
func NewEngine(riskMgr RiskAccountant, executor TradeExecutor, discovery MarketDiscovery, contractFeed ContractFeed, stateStore storage.StateStore) *Engine {
	return &Engine{
		router:          NewRouter(),
		registry:        NewMarketRegistry(),
		risk:            riskMgr,
		executor:        executor,
		discovery:       discovery,
		contractFeed:    contractFeed,
		stateStore:      stateStore,
		spotFeeds:       make(map[string]strategy.SpotFeed),
		assetStrategies: make(map[string][]*strategy.Strategy),
		strategies:      make(map[string]*strategy.Strategy),
	}
}

// AddMarket registers a (asset, window) slot before Start. spotFeed is
// deduplicated by asset: the first AddMarket call for a given asset wins
// the shared feed, later calls for the same asset reuse it.
func (e *Engine) AddMarket(windowKey, asset string, strat *strategy.Strategy, spotFeed strategy.SpotFeed, tokenIDYes, tokenIDNo, label string, endDate time.Time) {
	e.mu.Lock()
	if _, exists := e.spotFeeds[asset]; !exists {
		e.spotFeeds[asset] = spotFeed
	}
	e.assetStrategies[asset] = append(e.assetStrategies[asset], strat)
	e.strategies[windowKey] = strat
	e.mu.Unlock()

	e.router.Bind(tokenIDYes, tokenIDNo, strat)
	e.registry.Set(&MarketBinding{
		WindowKey:  windowKey,
		Asset:      asset,
		Label:      label,
		TokenIDYes: tokenIDYes,
		TokenIDNo:  tokenIDNo,
		EndDate:    endDate,
	})
	e.contractFeed.Subscribe(tokenIDYes)
	e.contractFeed.Subscribe(tokenIDNo)

	log.Info().Str("window", windowKey).Str("asset", asset).Str("label", label).Msg("🗺️ market registered")
}

// Start launches the spot, contract, and rotation fan-in loops.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	feeds := make(map[string]strategy.SpotFeed, len(e.spotFeeds))
	for asset, feed := range e.spotFeeds {
		feeds[asset] = feed
	}
	e.mu.Unlock()

	for asset, feed := range feeds {
		go e.spotLoop(asset, feed)
	}
	go e.contractLoop()
	go e.rotationLoop()

	log.Info().Int("assets", len(feeds)).Int("windows", len(e.strategies)).Msg("⚡ engine started")
}

// Stop halts the fan-in loops, cancels every open order at the exchange,
// and persists a shutdown snapshot for crash recovery.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.executor.CancelAllOrders()
	e.persistSnapshot()

	log.Info().Msg("engine stopped")
}

func (e *Engine) persistSnapshot() {
	if e.stateStore == nil {
		return
	}
	snap := engineSnapshot{
		OpenTrades: e.executor.GetOpenSnapshot(),
		SavedAt:    time.Now(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal shutdown snapshot")
		return
	}
	if err := e.stateStore.SaveState(data); err != nil {
		log.Warn().Err(err).Msg("⚠️ state save failed, continuing shutdown")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// FAN-IN LOOPS
// ═══════════════════════════════════════════════════════════════════════════════

func (e *Engine) spotLoop(asset string, feed strategy.SpotFeed) {
	ch := feed.Subscribe()
	for {
		select {
		case <-e.stopCh:
			return
		case u, ok := <-ch:
			if !ok {
				return
			}
			e.dispatchSpot(asset, u)
		}
	}
}

func (e *Engine) dispatchSpot(asset string, u strategy.SpotUpdate) {
	e.mu.RLock()
	strats := append([]*strategy.Strategy(nil), e.assetStrategies[asset]...)
	e.mu.RUnlock()

	for _, strat := range strats {
		if sig := strat.OnSpotUpdate(u); sig != nil {
			e.handleSignal(sig)
		}
	}
}

func (e *Engine) contractLoop() {
	ch := e.contractFeed.Updates()
	for {
		select {
		case <-e.stopCh:
			return
		case u, ok := <-ch:
			if !ok {
				return
			}
			if sig := e.router.Route(u); sig != nil {
				e.handleSignal(sig)
			}
		}
	}
}

func (e *Engine) rotationLoop() {
	ch := e.discovery.Subscribe()
	for {
		select {
		case <-e.stopCh:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			e.handleRotation(ev)
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNAL HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

// handleSignal applies the per-market stacking check (S6) before
// deferring to Risk's gate; this check lives here rather than in Risk
// because Risk is market-agnostic.
func (e *Engine) handleSignal(sig *strategy.Signal) {
	if e.executor.HasOpenTradeForLabel(sig.Label) {
		log.Debug().Str("label", sig.Label).Str("reason", "already open for market").Msg("signal rejected")
		return
	}

	decision := e.risk.CanTrade(sig)
	if !decision.Allowed {
		log.Debug().Str("label", sig.Label).Strs("reasons", decision.Reasons).Msg("signal rejected")
		return
	}

	trade, err := e.executor.Execute(sig)
	if err != nil {
		log.Error().Err(err).Str("label", sig.Label).Msg("❌ unhandled execution error")
		e.risk.NoteUnhandledRejection()
		return
	}
	if trade == nil {
		// entry order placed but never confirmed a fill; Executor already
		// accounted for this in its own fill-rate stats.
		return
	}
}

// handleRotation mutates the router's tokenId->Strategy binding
// atomically (I5), rebinds the contract feed subscriptions, and cancels
// only the expiring market's open orders.
func (e *Engine) handleRotation(ev RotationEvent) {
	e.mu.RLock()
	strat, ok := e.strategies[ev.WindowKey]
	e.mu.RUnlock()
	if !ok {
		log.Warn().Str("window", ev.WindowKey).Msg("⚠️ rotation event for unknown window, ignoring")
		return
	}

	oldYes, oldNo := strat.TokenIDs()
	oldLabel := strat.Label()

	strat.SetMarket(ev.TokenIDYes, ev.TokenIDNo, ev.EndDate)
	e.router.Rebind(oldYes, oldNo, ev.TokenIDYes, ev.TokenIDNo, strat)
	e.registry.Set(&MarketBinding{
		WindowKey:  ev.WindowKey,
		Asset:      ev.Asset,
		Label:      ev.Label,
		TokenIDYes: ev.TokenIDYes,
		TokenIDNo:  ev.TokenIDNo,
		EndDate:    ev.EndDate,
	})

	e.contractFeed.Subscribe(ev.TokenIDYes)
	e.contractFeed.Subscribe(ev.TokenIDNo)
	e.contractFeed.Unsubscribe(oldYes)
	e.contractFeed.Unsubscribe(oldNo)

	e.executor.CancelOrdersForLabel(oldLabel)

	log.Info().
		Str("window", ev.WindowKey).
		Str("old_label", oldLabel).
		Str("new_label", ev.Label).
		Msg("🔄 market rotated")
}

// ═══════════════════════════════════════════════════════════════════════════════
// STATUS
// ═══════════════════════════════════════════════════════════════════════════════

// GetStatus returns a read-only snapshot for the HTTP status endpoint.
func (e *Engine) GetStatus() StatusSnapshot {
	openTrades := e.executor.OpenTrades()
	stats := e.risk.GetStats()

	return StatusSnapshot{
		OpenOrders:          len(openTrades),
		OpenTrades:          openTrades,
		FillRate:            e.executor.FillRate(),
		AvgExecutionLatency: e.executor.AvgExecutionLatency(),
		PnlStats:            e.executor.GetMetrics(),
		Last20WinRate:       e.executor.Last20WinRate(),
		RecentTrades:        e.executor.RecentTrades(20),
		Bankroll:            stats.Bankroll,
		Killed:              stats.Killed,
		KilledReason:        stats.KilledReason,
	}
}
