package execution

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/numerics"
	"github.com/web3guy0/polyarb/risk"
	"github.com/web3guy0/polyarb/strategy"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTOR - order lifecycle state machine
// ═══════════════════════════════════════════════════════════════════════════════
//
// Owns openOrders and tradeHistory. Every exchange call goes through the
// injected ContractBookClient; every accounting mutation goes through the
// injected RiskAccountant. The source system cooperatively schedules this
// on one thread; here it is genuinely concurrent, so all Trade field
// mutation happens under e.mu and the CLOSING status + finalizeClose's
// idempotence guard are what keep the monitor/safety-timer race (R1/R2)
// single-commit.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	fillTimeoutMs      = 5000
	fillPollMs         = 250
	monitorIntervalMs  = 2000
	maxHoldMs          = 300_000
	safetyBufferMs     = 5000
	restoreStalenessMs = maxHoldMs + 60_000

)

var (
	edgeCollapseThreshold = decimal.RequireFromString("0.02")
	exhaustionEpsilon     = decimal.RequireFromString("0.00000001")
)

type ExecutorConfig struct {
	DryRun          bool
	ProfitTargetPct decimal.Decimal
	StopLossPct     decimal.Decimal
}

func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DryRun:          os.Getenv("DRY_RUN") == "true",
		ProfitTargetPct: envDecimalExec("EXEC_PROFIT_TARGET_PCT", "0.03"),
		StopLossPct:     envDecimalExec("EXEC_STOP_LOSS_PCT", "0.02"),
	}
}

type fillRateStats struct {
	mu        sync.Mutex
	Attempted int
	Filled    int
	Partial   int
	Cancelled int
	Failed    int
}

func (s *fillRateStats) snapshot() fillRateStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fillRateStats{
		Attempted: s.Attempted,
		Filled:    s.Filled,
		Partial:   s.Partial,
		Cancelled: s.Cancelled,
		Failed:    s.Failed,
	}
}

type Metrics struct {
	Attempted       int
	Filled          int
	Partial         int
	Cancelled       int
	Failed          int
	TotalPnl        decimal.Decimal
	ClosedTrades    int64
	FillProbability decimal.Decimal
	FillSamples     int
}

// Executor orchestrates order entry, fill confirmation, position
// monitoring, exit, and close bookkeeping for a single account.
type Executor struct {
	mu  sync.Mutex
	cfg ExecutorConfig

	client   ContractBookClient
	risk     RiskAccountant
	notifier Notifier
	entry    EntryPolicy

	openOrders   map[string]*Trade
	tradeHistory []*Trade

	fillStats   fillRateStats
	fillTracker *risk.FillTracker
	pnlStats    *numerics.RunningStats

	latMu      sync.Mutex
	executionLatencies []time.Duration

	events chan TradeEvent

	idSeq uint64
}

func NewExecutor(cfg ExecutorConfig, client ContractBookClient, accountant RiskAccountant, notifier Notifier) *Executor {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	mode := "LIVE"
	if cfg.DryRun {
		mode = "DRY RUN"
	}
	log.Info().Str("mode", mode).Msg("⚙️ Executor initialized")
	return &Executor{
		cfg:         cfg,
		client:      client,
		risk:        accountant,
		notifier:    notifier,
		entry:       TakeOnlyPolicy{},
		openOrders:  make(map[string]*Trade),
		fillTracker: risk.NewFillTracker(),
		pnlStats:    numerics.NewRunningStats(),
		events:      make(chan TradeEvent, 256),
	}
}

// SetEntryPolicy overrides the default take-only entry pricing. Callers
// must set this before the first Execute call; it is not safe to change
// once orders are in flight.
func (e *Executor) SetEntryPolicy(p EntryPolicy) {
	e.entry = p
}

func (e *Executor) Events() <-chan TradeEvent {
	return e.events
}

func (e *Executor) emit(ev TradeEvent) {
	select {
	case e.events <- ev:
	default:
		log.Warn().Str("type", ev.Type).Msg("📪 trade event dropped, events channel full")
	}
}

func (e *Executor) nextTradeID() string {
	e.mu.Lock()
	e.idSeq++
	seq := e.idSeq
	e.mu.Unlock()
	return fmt.Sprintf("trade-%d-%d", time.Now().UnixNano(), seq)
}

func (e *Executor) recordLatency(d time.Duration) {
	e.latMu.Lock()
	defer e.latMu.Unlock()
	e.executionLatencies = append(e.executionLatencies, d)
	if len(e.executionLatencies) > 100 {
		e.executionLatencies = e.executionLatencies[len(e.executionLatencies)-100:]
	}
}

func (e *Executor) GetMetrics() Metrics {
	fs := e.fillStats.snapshot()
	return Metrics{
		Attempted:       fs.Attempted,
		Filled:          fs.Filled,
		Partial:         fs.Partial,
		Cancelled:       fs.Cancelled,
		Failed:          fs.Failed,
		TotalPnl:        e.pnlStats.Sum(),
		ClosedTrades:    e.pnlStats.N(),
		FillProbability: e.fillTracker.OverallFillProbability(),
		FillSamples:     e.fillTracker.Samples(),
	}
}

// FillProbability exposes the bucketed (spread, depth) fill-rate estimate
// for a candidate signal, so a Strategy can weigh it before sizing.
func (e *Executor) FillProbability(signal *strategy.Signal) decimal.Decimal {
	return e.fillTracker.FillProbability(signal)
}

func (e *Executor) OpenPositionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.openOrders)
}

// HasOpenTradeForLabel implements the per-market stacking check the
// router consults before calling Execute.
func (e *Executor) HasOpenTradeForLabel(label string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.openOrders {
		if t.Signal != nil && t.Signal.Label == label {
			return true
		}
	}
	return false
}

// FillRate returns filled/attempted over the process lifetime, zero when
// nothing has been attempted yet.
func (e *Executor) FillRate() decimal.Decimal {
	fs := e.fillStats.snapshot()
	if fs.Attempted == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(fs.Filled)).Div(decimal.NewFromInt(int64(fs.Attempted)))
}

// AvgExecutionLatency returns the mean of the last 100 recorded
// entry-order latencies, zero if none have been recorded.
func (e *Executor) AvgExecutionLatency() time.Duration {
	e.latMu.Lock()
	defer e.latMu.Unlock()
	if len(e.executionLatencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range e.executionLatencies {
		sum += d
	}
	return sum / time.Duration(len(e.executionLatencies))
}

// OpenTrades returns a snapshot of every currently open trade, for status
// reporting (not to be confused with GetOpenSnapshot's crash-recovery view).
func (e *Executor) OpenTrades() []TradeSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TradeSnapshot, 0, len(e.openOrders))
	for _, t := range e.openOrders {
		out = append(out, t.snapshot())
	}
	return out
}

// RecentTrades returns up to n of the most recently closed trades, newest
// last.
func (e *Executor) RecentTrades(n int) []TradeSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n > len(e.tradeHistory) {
		n = len(e.tradeHistory)
	}
	tail := e.tradeHistory[len(e.tradeHistory)-n:]
	out := make([]TradeSnapshot, len(tail))
	for i, t := range tail {
		out[i] = t.snapshot()
	}
	return out
}

// Last20WinRate returns the win fraction among the most recent 20 closed
// trades (or fewer if history is shorter), zero if none are closed yet.
func (e *Executor) Last20WinRate() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 20
	if n > len(e.tradeHistory) {
		n = len(e.tradeHistory)
	}
	if n == 0 {
		return decimal.Zero
	}
	tail := e.tradeHistory[len(e.tradeHistory)-n:]
	wins := 0
	for _, t := range tail {
		if t.RealizedPnl.IsPositive() {
			wins++
		}
	}
	return decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(n)))
}

// ═══════════════════════════════════════════════════════════════════════════════
// FILL CONFIRMATION
// ═══════════════════════════════════════════════════════════════════════════════

func parseFilledQty(order Order, requestedQty decimal.Decimal) decimal.Decimal {
	var filled decimal.Decimal
	switch {
	case !order.Size.IsZero():
		filled = order.Size.Sub(order.RemainingSize)
	case !order.MakerAmount.IsZero():
		filled = order.MakerAmount
	default:
		filled = decimal.Zero
	}
	return clampDecimal(filled, decimal.Zero, requestedQty)
}

func (e *Executor) waitForFill(orderID string, requestedQty decimal.Decimal, timeout time.Duration) FillResult {
	if e.cfg.DryRun {
		return FillResult{Status: FillMatched, FilledQty: requestedQty}
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(fillPollMs * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		<-ticker.C
		order, err := e.client.GetOrder(orderID)
		if err != nil {
			continue // transient, deadline is authoritative
		}
		if res, done := classifyFill(order, requestedQty); done {
			return res
		}
	}

	// one final fetch at the deadline
	order, err := e.client.GetOrder(orderID)
	if err != nil {
		return FillResult{Status: FillTimeout}
	}
	filled := parseFilledQty(order, requestedQty)
	if filled.IsPositive() {
		return FillResult{Status: FillPartial, FilledQty: filled, AvgPrice: order.AvgPrice}
	}
	return FillResult{Status: FillTimeout}
}

func classifyFill(order Order, requestedQty decimal.Decimal) (FillResult, bool) {
	switch order.Status {
	case OrderMatched, OrderFilled:
		filled := parseFilledQty(order, requestedQty)
		if filled.IsZero() {
			filled = requestedQty
		}
		return FillResult{Status: FillMatched, FilledQty: clampDecimal(filled, decimal.Zero, requestedQty), AvgPrice: order.AvgPrice}, true
	case OrderCancelled:
		filled := parseFilledQty(order, requestedQty)
		if filled.IsPositive() {
			return FillResult{Status: FillPartial, FilledQty: filled, AvgPrice: order.AvgPrice}, true
		}
		return FillResult{Status: FillCancelled}, true
	default: // OPEN or unknown: keep polling
		return FillResult{}, false
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// ENTRY
// ═══════════════════════════════════════════════════════════════════════════════

// Execute places and confirms the entry order for signal, opens the
// Risk position, and starts the position monitor. Returns nil, nil when
// the order never acquired a fill (no error, nothing to track).
func (e *Executor) Execute(signal *strategy.Signal) (*Trade, error) {
	e.fillStats.mu.Lock()
	e.fillStats.Attempted++
	e.fillStats.mu.Unlock()

	entryPrice := e.entry.EntryPrice(signal)
	requestedQty := signal.Size.Div(signal.EntryPrice)

	start := time.Now()
	order, err := e.client.PlaceOrder(signal.TokenID, SideBuy, entryPrice, requestedQty)
	e.recordLatency(time.Since(start))
	if err != nil {
		e.fillStats.mu.Lock()
		e.fillStats.Failed++
		e.fillStats.mu.Unlock()
		return nil, fmt.Errorf("execution: place entry order: %w", err)
	}

	var fill FillResult
	if order.Status == OrderSimulated {
		fill = FillResult{Status: FillMatched, FilledQty: requestedQty}
	} else {
		fill = e.waitForFill(order.ID, requestedQty, fillTimeoutMs*time.Millisecond)
	}

	e.fillTracker.Record(signal, risk.FillStatus(fill.Status))

	var actualEntryPrice, actualTokenQty decimal.Decimal
	switch fill.Status {
	case FillMatched:
		actualEntryPrice = fill.AvgPrice
		if actualEntryPrice.IsZero() {
			actualEntryPrice = entryPrice
		}
		actualTokenQty = fill.FilledQty
		e.fillStats.mu.Lock()
		e.fillStats.Filled++
		e.fillStats.mu.Unlock()
	case FillPartial:
		if !fill.FilledQty.IsPositive() {
			_ = e.client.CancelOrder(order.ID)
			e.fillStats.mu.Lock()
			e.fillStats.Cancelled++
			e.fillStats.mu.Unlock()
			return nil, nil
		}
		_ = e.client.CancelOrder(order.ID) // cancel the unfilled remainder, best effort
		actualEntryPrice = fill.AvgPrice
		if actualEntryPrice.IsZero() {
			actualEntryPrice = entryPrice
		}
		actualTokenQty = fill.FilledQty
		e.fillStats.mu.Lock()
		e.fillStats.Partial++
		e.fillStats.mu.Unlock()
	default: // TIMEOUT or CANCELLED with zero fills
		_ = e.client.CancelOrder(order.ID)
		e.fillStats.mu.Lock()
		e.fillStats.Cancelled++
		e.fillStats.mu.Unlock()
		return nil, nil
	}

	size := actualTokenQty.Mul(actualEntryPrice)
	trade := &Trade{
		ID:          e.nextTradeID(),
		Signal:      signal,
		Status:      TradeOpen,
		Side:        signal.Direction,
		OrderID:     order.ID,
		OrderStatus: order.Status,
		EntryPrice:  actualEntryPrice,
		TokenQty:    actualTokenQty,
		Size:        size,
		InitialSize: size,
		OpenTime:    time.Now(),
		doneCh:      make(chan struct{}),
	}

	e.mu.Lock()
	e.openOrders[trade.ID] = trade
	e.mu.Unlock()

	if err := e.risk.OpenPosition(risk.Position{ID: trade.ID, Side: trade.Side, Size: trade.Size, EntryPrice: trade.EntryPrice}); err != nil {
		log.Error().Err(err).Str("trade_id", trade.ID).Msg("❌ risk.OpenPosition rejected a confirmed fill")
	}

	e.emit(TradeEvent{Type: "open", Trade: trade.snapshot()})
	e.startMonitor(trade)

	return trade, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// MONITOR
// ═══════════════════════════════════════════════════════════════════════════════

func (e *Executor) startMonitor(trade *Trade) {
	go e.periodicMonitor(trade)
	go e.safetyTimeout(trade)
}

func (e *Executor) periodicMonitor(trade *Trade) {
	ticker := time.NewTicker(monitorIntervalMs * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-trade.doneCh:
			return
		case <-ticker.C:
			e.monitorTick(trade)
		}
	}
}

func (e *Executor) monitorTick(trade *Trade) {
	e.mu.Lock()
	_, tracked := e.openOrders[trade.ID]
	closing := trade.Status == TradeClosing
	e.mu.Unlock()
	if !tracked || closing {
		return
	}

	book, ok := e.client.FetchOrderbook(trade.Signal.TokenID)
	if !ok || !book.Valid() {
		return
	}

	e.mu.Lock()
	currentMid := book.Mid
	trade.CurrentMid = currentMid
	trade.UnrealizedPnl = currentMid.Sub(trade.EntryPrice).Mul(trade.TokenQty)
	var pnlPct decimal.Decimal
	if trade.Size.IsPositive() {
		pnlPct = trade.UnrealizedPnl.Div(trade.Size)
	}
	age := time.Since(trade.OpenTime)
	midMove := currentMid.Sub(trade.EntryPrice)
	for _, threshold := range checkpointThresholds {
		if age >= time.Duration(threshold)*time.Second {
			trade.recordCheckpoint(threshold, currentMid, midMove, pnlPct)
		}
	}
	reason, shouldExit := e.determineExit(trade, age, pnlPct, currentMid)
	e.mu.Unlock()

	if shouldExit {
		e.exitPosition(trade, reason, currentMid)
	}
}

func (e *Executor) determineExit(trade *Trade, age time.Duration, pnlPct, currentMid decimal.Decimal) (ExitReason, bool) {
	if age >= maxHoldMs*time.Millisecond {
		return ExitMaxHold, true
	}
	if pnlPct.GreaterThanOrEqual(e.cfg.ProfitTargetPct) {
		return ExitProfitTarget, true
	}
	if pnlPct.LessThanOrEqual(e.cfg.StopLossPct.Neg()) {
		return ExitStopLoss, true
	}

	edgeTarget := trade.Signal.ModelProb
	if trade.Side == numerics.BuyNo {
		edgeTarget = decimal.NewFromInt(1).Sub(trade.Signal.ModelProb)
	}
	if currentMid.Sub(edgeTarget).Abs().LessThan(edgeCollapseThreshold) {
		return ExitEdgeCollapsed, true
	}

	if trade.Signal.IsCertainty && !time.Now().Before(trade.Signal.ExpiresAt) {
		return ExitCertaintyExpiry, true
	}

	return "", false
}

func (e *Executor) safetyTimeout(trade *Trade) {
	timer := time.NewTimer((maxHoldMs + safetyBufferMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-trade.doneCh:
		return
	case <-timer.C:
	}

	e.mu.Lock()
	status := trade.Status
	currentMid := trade.CurrentMid
	entryPrice := trade.EntryPrice
	tokenQty := trade.TokenQty
	e.mu.Unlock()
	if status == TradeClosed {
		return
	}
	if currentMid.IsZero() {
		currentMid = entryPrice
	}

	if e.exitPosition(trade, ExitForce, currentMid) {
		return
	}

	e.mu.Lock()
	alreadyClosed := trade.Status == TradeClosed
	// exitPosition may have committed a partial close and shrunk TokenQty
	// before falling through to the unconfirmed path. Re-read everything
	// so the estimated mark-to-market only covers the remaining quantity.
	entryPrice = trade.EntryPrice
	tokenQty = trade.TokenQty
	if !trade.CurrentMid.IsZero() {
		currentMid = trade.CurrentMid
	}
	e.mu.Unlock()
	if alreadyClosed {
		return
	}

	pnl := currentMid.Sub(entryPrice).Mul(tokenQty)
	e.notifier.Alert(fmt.Sprintf("exchange position may still be open — verify: trade %s", trade.ID))
	e.finalizeClose(trade, ExitForceUnconfirmed, currentMid, pnl, true)
}

// ═══════════════════════════════════════════════════════════════════════════════
// EXIT
// ═══════════════════════════════════════════════════════════════════════════════

func (e *Executor) exitPosition(trade *Trade, reason ExitReason, markPrice decimal.Decimal) bool {
	e.mu.Lock()
	if _, tracked := e.openOrders[trade.ID]; !tracked || trade.Status == TradeClosing || trade.Status == TradeClosed {
		e.mu.Unlock()
		return false
	}
	trade.Status = TradeClosing
	entryPrice := trade.EntryPrice
	tokenQty := trade.TokenQty
	e.mu.Unlock()

	if e.cfg.DryRun {
		pnl := markPrice.Sub(entryPrice).Mul(tokenQty)
		return e.finalizeClose(trade, reason, markPrice, pnl, false)
	}

	order, err := e.client.PlaceOrder(trade.Signal.TokenID, SideSell, markPrice, tokenQty)
	if err != nil {
		log.Error().Err(err).Str("trade_id", trade.ID).Msg("❌ exit order placement failed")
		e.notifier.Alert(fmt.Sprintf("exit order placement failed for trade %s: %v", trade.ID, err))
		e.mu.Lock()
		trade.Status = TradeOpen
		e.mu.Unlock()
		return false
	}

	fill := e.waitForFill(order.ID, tokenQty, fillTimeoutMs*time.Millisecond)
	e.fillTracker.Record(trade.Signal, risk.FillStatus(fill.Status))

	switch fill.Status {
	case FillPartial:
		if !fill.FilledQty.IsPositive() {
			_ = e.client.CancelOrder(order.ID)
			e.mu.Lock()
			trade.Status = TradeOpen
			e.mu.Unlock()
			return false
		}
		filledQty := decimal.Min(fill.FilledQty, tokenQty)
		exitPx := fill.AvgPrice
		if exitPx.IsZero() {
			exitPx = markPrice
		}
		realizedPnl := exitPx.Sub(entryPrice).Mul(filledQty)
		realizedNotional := filledQty.Mul(entryPrice)

		e.mu.Lock()
		trade.RealizedPnl = trade.RealizedPnl.Add(realizedPnl)
		trade.TokenQty = trade.TokenQty.Sub(filledQty)
		trade.Size = trade.Size.Sub(realizedNotional)
		remainingQty := trade.TokenQty
		remainingSize := trade.Size
		e.mu.Unlock()

		e.risk.ApplyPartialClose(trade.ID, risk.PartialClose{RealizedNotional: realizedNotional, RealizedPnl: realizedPnl})
		e.emit(TradeEvent{Type: "partial_close", Trade: trade.snapshot()})

		if remainingQty.LessThanOrEqual(exhaustionEpsilon) || remainingSize.LessThanOrEqual(exhaustionEpsilon) {
			return e.finalizeClose(trade, exhaustedReason(reason), exitPx, decimal.Zero, false)
		}

		_ = e.client.CancelOrder(order.ID) // best effort on the resting remainder
		e.mu.Lock()
		trade.Status = TradeOpen
		e.mu.Unlock()
		return false

	case FillMatched:
		actualExitPrice := fill.AvgPrice
		if actualExitPrice.IsZero() {
			actualExitPrice = markPrice
		}
		pnl := actualExitPrice.Sub(entryPrice).Mul(tokenQty)
		return e.finalizeClose(trade, reason, actualExitPrice, pnl, false)

	default: // TIMEOUT or CANCELLED with zero fills
		_ = e.client.CancelOrder(order.ID)
		e.mu.Lock()
		trade.Status = TradeOpen
		e.mu.Unlock()
		return false
	}
}

func exhaustedReason(reason ExitReason) ExitReason {
	return ExitReason(string(reason) + "_PARTIAL_EXHAUSTED")
}

// ═══════════════════════════════════════════════════════════════════════════════
// CLOSE BOOKKEEPING
// ═══════════════════════════════════════════════════════════════════════════════

func (e *Executor) finalizeClose(trade *Trade, reason ExitReason, exitPrice, pnl decimal.Decimal, estimated bool) bool {
	e.mu.Lock()
	if trade.Status == TradeClosed {
		e.mu.Unlock()
		return false
	}

	totalPnl := trade.RealizedPnl.Add(pnl)
	trade.RealizedPnl = totalPnl
	trade.Status = TradeClosed
	trade.ExitPrice = exitPrice
	trade.ExitTime = time.Now()
	trade.ExitReason = reason
	trade.HoldTime = trade.ExitTime.Sub(trade.OpenTime)
	trade.EstimatedExit = estimated
	delete(e.openOrders, trade.ID)

	e.tradeHistory = append(e.tradeHistory, trade)
	if len(e.tradeHistory) > 500 {
		e.tradeHistory = e.tradeHistory[len(e.tradeHistory)-500:]
	}

	if !trade.doneClosed {
		trade.doneClosed = true
		close(trade.doneCh)
	}
	e.mu.Unlock()

	e.risk.ClosePosition(trade.ID, pnl)
	e.pnlStats.Push(totalPnl)
	e.emit(TradeEvent{Type: "close", Trade: trade.snapshot(), Extra: map[string]any{
		"reason":    reason,
		"pnl":       totalPnl.String(),
		"estimated": estimated,
	}})

	return true
}

// ═══════════════════════════════════════════════════════════════════════════════
// EMERGENCY / ROTATION
// ═══════════════════════════════════════════════════════════════════════════════

func (e *Executor) CancelAllOrders() {
	if err := e.client.CancelAll(); err != nil {
		log.Warn().Err(err).Msg("⚠️ cancelAll returned an error, continuing with local finalize")
	}

	e.mu.Lock()
	trades := make([]*Trade, 0, len(e.openOrders))
	for _, t := range e.openOrders {
		trades = append(trades, t)
	}
	e.mu.Unlock()

	for _, trade := range trades {
		e.finalizeAtMark(trade, ExitShutdown)
	}
}

func (e *Executor) CancelOrdersForLabel(label string) {
	e.mu.Lock()
	trades := make([]*Trade, 0)
	for _, t := range e.openOrders {
		if t.Signal != nil && t.Signal.Label == label {
			trades = append(trades, t)
		}
	}
	e.mu.Unlock()

	for _, trade := range trades {
		_ = e.client.CancelOrder(trade.OrderID)
		e.finalizeAtMark(trade, ExitRotationCancel)
	}
}

func (e *Executor) finalizeAtMark(trade *Trade, reason ExitReason) {
	e.mu.Lock()
	mark := trade.CurrentMid
	entry := trade.EntryPrice
	qty := trade.TokenQty
	e.mu.Unlock()
	if mark.IsZero() {
		mark = entry
	}
	pnl := mark.Sub(entry).Mul(qty)
	e.finalizeClose(trade, reason, mark, pnl, true)
}

// ═══════════════════════════════════════════════════════════════════════════════
// CRASH RECOVERY
// ═══════════════════════════════════════════════════════════════════════════════

func (e *Executor) GetOpenSnapshot() []TradeSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TradeSnapshot, 0, len(e.openOrders))
	for _, t := range e.openOrders {
		out = append(out, t.snapshot())
	}
	return out
}

// RestorePositions reconstructs in-flight trades from a prior session's
// snapshot. Risk state must already have been restored separately before
// this runs -- it never calls risk.OpenPosition.
func (e *Executor) RestorePositions(snapshots []TradeSnapshot) {
	for _, snap := range snapshots {
		age := time.Since(snap.OpenTime)
		if age > restoreStalenessMs*time.Millisecond {
			e.risk.ClosePosition(snap.ID, decimal.Zero)
			continue
		}

		tokenQty := snap.TokenQty
		if tokenQty.IsZero() && snap.EntryPrice.IsPositive() {
			tokenQty = snap.Size.Div(snap.EntryPrice)
		}

		trade := &Trade{
			ID:          snap.ID,
			Signal:      snap.Signal,
			Status:      TradeOpen,
			OrderID:     snap.OrderID,
			OrderStatus: snap.OrderStatus,
			EntryPrice:  snap.EntryPrice,
			TokenQty:    tokenQty,
			Size:        snap.Size,
			InitialSize: snap.Size,
			OpenTime:    snap.OpenTime,
			doneCh:      make(chan struct{}),
		}
		if snap.Signal != nil {
			trade.Side = snap.Signal.Direction
		}

		e.mu.Lock()
		e.openOrders[trade.ID] = trade
		e.mu.Unlock()

		e.startMonitor(trade)
	}
}

func envDecimalExec(key, def string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	d, _ := decimal.NewFromString(def)
	return d
}
