package execution

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/risk"
	"github.com/web3guy0/polyarb/strategy"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ═══════════════════════════════════════════════════════════════════════════════
// FAKES
// ═══════════════════════════════════════════════════════════════════════════════

type fakeClient struct {
	mu sync.Mutex

	placeOrderFn func(tokenID string, side OrderSide, price, size decimal.Decimal) (Order, error)
	getOrderFn   func(orderID string) (Order, error)
	cancelFn     func(orderID string) error
	cancelAllFn  func() error
	bookFn       func(tokenID string) (Book, bool)

	cancelled []string
}

func (f *fakeClient) PlaceOrder(tokenID string, side OrderSide, price, size decimal.Decimal) (Order, error) {
	if f.placeOrderFn != nil {
		return f.placeOrderFn(tokenID, side, price, size)
	}
	return Order{ID: "order-1", Status: OrderSimulated}, nil
}

func (f *fakeClient) GetOrder(orderID string) (Order, error) {
	if f.getOrderFn != nil {
		return f.getOrderFn(orderID)
	}
	return Order{ID: orderID, Status: OrderMatched}, nil
}

func (f *fakeClient) CancelOrder(orderID string) error {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, orderID)
	f.mu.Unlock()
	if f.cancelFn != nil {
		return f.cancelFn(orderID)
	}
	return nil
}

func (f *fakeClient) CancelAll() error {
	if f.cancelAllFn != nil {
		return f.cancelAllFn()
	}
	return nil
}

func (f *fakeClient) FetchOrderbook(tokenID string) (Book, bool) {
	if f.bookFn != nil {
		return f.bookFn(tokenID)
	}
	return Book{}, false
}

type fakeRisk struct {
	mu          sync.Mutex
	opened      []risk.Position
	partials    []risk.PartialClose
	closedIDs   []string
	closedPnls  []decimal.Decimal
	rejections  int
	openErr     error
}

func (f *fakeRisk) OpenPosition(p risk.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = append(f.opened, p)
	return nil
}

func (f *fakeRisk) ApplyPartialClose(id string, pc risk.PartialClose) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partials = append(f.partials, pc)
}

func (f *fakeRisk) ClosePosition(id string, pnl decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedIDs = append(f.closedIDs, id)
	f.closedPnls = append(f.closedPnls, pnl)
}

func (f *fakeRisk) NoteUnhandledRejection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejections++
}

func baseTestSignal() *strategy.Signal {
	return strategy.NewSignal().
		TokenID("tok-yes").
		Label("BTC/5m").
		Direction(strategy.BuyYes).
		EntryPrice(dec("0.60")).
		Size(dec("60")).
		Edge(dec("0.1")).
		ModelProb(dec("0.70")).
		ContractPrice(dec("0.60")).
		AvailableLiquidity(dec("1000")).
		HoursToExpiry(dec("1")).
		Build()
}

func newTestExecutor(client ContractBookClient, acct RiskAccountant) *Executor {
	cfg := ExecutorConfig{DryRun: false, ProfitTargetPct: dec("0.05"), StopLossPct: dec("0.05")}
	return NewExecutor(cfg, client, acct, nil)
}

// ═══════════════════════════════════════════════════════════════════════════════
// ENTRY / FILL CONFIRMATION
// ═══════════════════════════════════════════════════════════════════════════════

func TestExecuteMatchedFillOpensTradeAndRiskPosition(t *testing.T) {
	client := &fakeClient{
		placeOrderFn: func(tokenID string, side OrderSide, price, size decimal.Decimal) (Order, error) {
			return Order{ID: "o1", Status: OrderOpen}, nil
		},
		getOrderFn: func(orderID string) (Order, error) {
			return Order{ID: orderID, Status: OrderMatched, Size: dec("100"), RemainingSize: dec("0"), AvgPrice: dec("0.60")}, nil
		},
	}
	fr := &fakeRisk{}
	e := newTestExecutor(client, fr)

	signal := baseTestSignal() // size=60, entryPrice=0.6 -> requestedQty=100
	trade, err := e.Execute(signal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade == nil {
		t.Fatal("expected a trade")
	}
	if !trade.TokenQty.Equal(dec("100")) {
		t.Fatalf("tokenQty = %v, want 100", trade.TokenQty)
	}
	if !trade.Size.Equal(dec("60")) {
		t.Fatalf("size = %v, want 60", trade.Size)
	}
	if trade.Status != TradeOpen {
		t.Fatalf("status = %v, want OPEN", trade.Status)
	}
	fr.mu.Lock()
	if len(fr.opened) != 1 || !fr.opened[0].Size.Equal(dec("60")) {
		t.Fatalf("expected risk.OpenPosition called with size 60, got %v", fr.opened)
	}
	fr.mu.Unlock()

	// stop the background monitor goroutines cleanly.
	e.finalizeClose(trade, ExitShutdown, dec("0.60"), decimal.Zero, true)
}

func TestExecuteZeroFillReturnsNilTradeNoError(t *testing.T) {
	client := &fakeClient{
		placeOrderFn: func(tokenID string, side OrderSide, price, size decimal.Decimal) (Order, error) {
			return Order{ID: "o2", Status: OrderOpen}, nil
		},
		getOrderFn: func(orderID string) (Order, error) {
			return Order{ID: orderID, Status: OrderCancelled, Size: dec("0"), RemainingSize: dec("0")}, nil
		},
	}
	fr := &fakeRisk{}
	e := newTestExecutor(client, fr)
	e.cfg.DryRun = false

	trade, err := e.Execute(baseTestSignal())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade != nil {
		t.Fatalf("expected nil trade on a zero-fill cancel, got %+v", trade)
	}
	fr.mu.Lock()
	if len(fr.opened) != 0 {
		t.Fatalf("risk state must not be touched on a zero-fill entry")
	}
	fr.mu.Unlock()
}

func TestExecutePlacementErrorReturnsError(t *testing.T) {
	wantErr := errors.New("exchange unreachable")
	client := &fakeClient{
		placeOrderFn: func(tokenID string, side OrderSide, price, size decimal.Decimal) (Order, error) {
			return Order{}, wantErr
		},
	}
	e := newTestExecutor(client, &fakeRisk{})
	trade, err := e.Execute(baseTestSignal())
	if trade != nil {
		t.Fatalf("expected nil trade on placement error")
	}
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestClassifyFillMatchedClampsToRequested(t *testing.T) {
	order := Order{Status: OrderMatched, Size: dec("150"), RemainingSize: dec("0"), AvgPrice: dec("0.61")}
	res, done := classifyFill(order, dec("100"))
	if !done {
		t.Fatal("expected classifyFill to terminate polling on MATCHED")
	}
	if res.Status != FillMatched || !res.FilledQty.Equal(dec("100")) {
		t.Fatalf("got %+v, want MATCHED filledQty=100 (clamped)", res)
	}
}

func TestClassifyFillCancelledWithPartialFillsIsPartial(t *testing.T) {
	order := Order{Status: OrderCancelled, Size: dec("100"), RemainingSize: dec("40")}
	res, done := classifyFill(order, dec("100"))
	if !done || res.Status != FillPartial || !res.FilledQty.Equal(dec("60")) {
		t.Fatalf("got %+v, done=%v, want PARTIAL filledQty=60", res, done)
	}
}

func TestClassifyFillOpenKeepsPolling(t *testing.T) {
	order := Order{Status: OrderOpen}
	_, done := classifyFill(order, dec("100"))
	if done {
		t.Fatal("OPEN status must keep polling")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// S1 -- partial entry fill
// ═══════════════════════════════════════════════════════════════════════════════

func TestExecutePartialEntryFillUsesFilledPortionOnly(t *testing.T) {
	client := &fakeClient{
		placeOrderFn: func(tokenID string, side OrderSide, price, size decimal.Decimal) (Order, error) {
			return Order{ID: "o3", Status: OrderOpen}, nil
		},
		getOrderFn: func(orderID string) (Order, error) {
			return Order{ID: orderID, Status: OrderCancelled, Size: dec("100"), RemainingSize: dec("40"), AvgPrice: dec("0.60")}, nil
		},
	}
	fr := &fakeRisk{}
	e := newTestExecutor(client, fr)

	trade, err := e.Execute(baseTestSignal())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade == nil {
		t.Fatal("expected a trade from a partial fill")
	}
	if !trade.TokenQty.Equal(dec("60")) {
		t.Fatalf("tokenQty = %v, want 60 (filled portion only)", trade.TokenQty)
	}
	if !trade.Size.Equal(dec("36")) { // 60 * 0.60
		t.Fatalf("size = %v, want 36", trade.Size)
	}
	e.finalizeClose(trade, ExitShutdown, dec("0.60"), decimal.Zero, true)
}

// ═══════════════════════════════════════════════════════════════════════════════
// EXIT / CLOSE BOOKKEEPING
// ═══════════════════════════════════════════════════════════════════════════════

func openTrade(e *Executor, id string, entryPrice, tokenQty decimal.Decimal, signal *strategy.Signal) *Trade {
	trade := &Trade{
		ID:          id,
		Signal:      signal,
		Status:      TradeOpen,
		Side:        signal.Direction,
		OrderID:     "entry-" + id,
		EntryPrice:  entryPrice,
		TokenQty:    tokenQty,
		Size:        entryPrice.Mul(tokenQty),
		InitialSize: entryPrice.Mul(tokenQty),
		OpenTime:    time.Now(),
		doneCh:      make(chan struct{}),
	}
	e.mu.Lock()
	e.openOrders[id] = trade
	e.mu.Unlock()
	return trade
}

func TestExitPositionMatchedFinalizesWithPnl(t *testing.T) {
	client := &fakeClient{
		placeOrderFn: func(tokenID string, side OrderSide, price, size decimal.Decimal) (Order, error) {
			return Order{ID: "exit-1", Status: OrderOpen}, nil
		},
		getOrderFn: func(orderID string) (Order, error) {
			return Order{ID: orderID, Status: OrderMatched, Size: dec("100"), RemainingSize: dec("0"), AvgPrice: dec("0.70")}, nil
		},
	}
	fr := &fakeRisk{}
	e := newTestExecutor(client, fr)
	signal := baseTestSignal()
	trade := openTrade(e, "t1", dec("0.60"), dec("100"), signal)

	ok := e.exitPosition(trade, ExitProfitTarget, dec("0.70"))
	if !ok {
		t.Fatal("expected exitPosition to commit a close on MATCHED")
	}
	if trade.Status != TradeClosed {
		t.Fatalf("status = %v, want CLOSED", trade.Status)
	}
	wantPnl := dec("10") // (0.70-0.60)*100
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if len(fr.closedPnls) != 1 || !fr.closedPnls[0].Equal(wantPnl) {
		t.Fatalf("closed pnl = %v, want %v", fr.closedPnls, wantPnl)
	}
}

func TestExitPositionPlacementErrorRevertsToOpen(t *testing.T) {
	client := &fakeClient{
		placeOrderFn: func(tokenID string, side OrderSide, price, size decimal.Decimal) (Order, error) {
			return Order{}, errors.New("rate limited")
		},
	}
	fr := &fakeRisk{}
	e := newTestExecutor(client, fr)
	signal := baseTestSignal()
	trade := openTrade(e, "t2", dec("0.60"), dec("100"), signal)

	ok := e.exitPosition(trade, ExitStopLoss, dec("0.55"))
	if ok {
		t.Fatal("expected exitPosition to fail on placement error")
	}
	if trade.Status != TradeOpen {
		t.Fatalf("status = %v, want reverted to OPEN", trade.Status)
	}
}

func TestExitPositionIsIdempotentOnAlreadyClosing(t *testing.T) {
	client := &fakeClient{}
	e := newTestExecutor(client, &fakeRisk{})
	signal := baseTestSignal()
	trade := openTrade(e, "t3", dec("0.60"), dec("100"), signal)
	trade.Status = TradeClosing

	if e.exitPosition(trade, ExitForce, dec("0.60")) {
		t.Fatal("exitPosition must return false when a trade is already CLOSING")
	}
}

// S2 -- partial-then-full close with cumulative P&L.
func TestExitPositionPartialThenFullCloseAccumulatesPnl(t *testing.T) {
	call := 0
	client := &fakeClient{
		placeOrderFn: func(tokenID string, side OrderSide, price, size decimal.Decimal) (Order, error) {
			call++
			return Order{ID: "exit-seq", Status: OrderOpen}, nil
		},
		getOrderFn: func(orderID string) (Order, error) {
			if call == 1 {
				// first exit attempt: exchange only fills half.
				return Order{ID: orderID, Status: OrderCancelled, Size: dec("100"), RemainingSize: dec("50"), AvgPrice: dec("0.65")}, nil
			}
			return Order{ID: orderID, Status: OrderMatched, Size: dec("50"), RemainingSize: dec("0"), AvgPrice: dec("0.66")}, nil
		},
	}
	fr := &fakeRisk{}
	e := newTestExecutor(client, fr)
	signal := baseTestSignal()
	trade := openTrade(e, "t4", dec("0.60"), dec("100"), signal)

	// First attempt: PARTIAL (50 filled, 50 remains) -- does not finalize.
	if e.exitPosition(trade, ExitProfitTarget, dec("0.65")) {
		t.Fatal("a partial fill leaving tokenQty > 0 must not commit a close")
	}
	if trade.Status != TradeOpen {
		t.Fatalf("status after a partial exit = %v, want reverted to OPEN", trade.Status)
	}
	if !trade.TokenQty.Equal(dec("50")) {
		t.Fatalf("tokenQty after partial = %v, want 50", trade.TokenQty)
	}

	// Second attempt (monitor retries): the remainder fills completely.
	if !e.exitPosition(trade, ExitProfitTarget, dec("0.66")) {
		t.Fatal("expected the retry to fully close the trade")
	}
	if trade.Status != TradeClosed {
		t.Fatalf("status = %v, want CLOSED", trade.Status)
	}

	fr.mu.Lock()
	defer fr.mu.Unlock()
	if len(fr.partials) != 1 {
		t.Fatalf("expected exactly one ApplyPartialClose call, got %d", len(fr.partials))
	}
	wantPartialPnl := dec("2.5") // (0.65-0.60)*50
	if !fr.partials[0].RealizedPnl.Equal(wantPartialPnl) {
		t.Fatalf("partial realized pnl = %v, want %v", fr.partials[0].RealizedPnl, wantPartialPnl)
	}
	if len(fr.closedPnls) != 1 {
		t.Fatalf("expected exactly one ClosePosition call, got %d", len(fr.closedPnls))
	}
	wantFinalPnl := dec("3") // (0.66-0.60)*50
	if !fr.closedPnls[0].Equal(wantFinalPnl) {
		t.Fatalf("final segment pnl = %v, want %v (only the final segment, partial already committed separately)", fr.closedPnls[0], wantFinalPnl)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// FINALIZE CLOSE IDEMPOTENCE (I4)
// ═══════════════════════════════════════════════════════════════════════════════

func TestFinalizeCloseCommitsExactlyOnce(t *testing.T) {
	fr := &fakeRisk{}
	e := newTestExecutor(&fakeClient{}, fr)
	signal := baseTestSignal()
	trade := openTrade(e, "t5", dec("0.60"), dec("100"), signal)

	first := e.finalizeClose(trade, ExitMaxHold, dec("0.62"), dec("2"), false)
	second := e.finalizeClose(trade, ExitForceUnconfirmed, dec("0.62"), dec("99"), true)

	if !first {
		t.Fatal("first finalizeClose must commit")
	}
	if second {
		t.Fatal("second finalizeClose on an already-closed trade must be a no-op (I4)")
	}
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if len(fr.closedPnls) != 1 {
		t.Fatalf("risk.ClosePosition must be called exactly once, got %d calls", len(fr.closedPnls))
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// S3 -- force-exit unconfirmed (safety path), exercised directly without
// waiting out the real MAX_HOLD_MS + SAFETY_BUFFER_MS timer.
// ═══════════════════════════════════════════════════════════════════════════════

func TestSafetyPathForceClosesAtMarkWhenExitCannotConfirm(t *testing.T) {
	client := &fakeClient{
		placeOrderFn: func(tokenID string, side OrderSide, price, size decimal.Decimal) (Order, error) {
			return Order{ID: "exit-stuck", Status: OrderOpen}, nil
		},
		getOrderFn: func(orderID string) (Order, error) {
			// never confirms: stays OPEN until the poll deadline, then TIMEOUT.
			return Order{ID: orderID, Status: OrderOpen}, nil
		},
	}
	fr := &fakeRisk{}
	e := newTestExecutor(client, fr)
	signal := baseTestSignal()
	trade := openTrade(e, "t6", dec("0.55"), dec("10"), signal)
	trade.CurrentMid = dec("0.62")

	// Mirrors what safetyTimeout does, without the real timer.
	closed := e.exitPosition(trade, ExitForce, trade.CurrentMid)
	if closed {
		t.Fatal("an unconfirmed exit must not report success")
	}
	if trade.Status == TradeClosed {
		t.Fatal("trade must still be open after an unconfirmed exit attempt")
	}

	pnl := trade.CurrentMid.Sub(trade.EntryPrice).Mul(trade.TokenQty)
	if !e.finalizeClose(trade, ExitForceUnconfirmed, trade.CurrentMid, pnl, true) {
		t.Fatal("the safety fallback finalize must commit")
	}
	if !trade.EstimatedExit {
		t.Fatal("expected EstimatedExit=true on a force-unconfirmed close")
	}
	wantPnl := dec("0.70") // (0.62-0.55)*10
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if len(fr.closedPnls) != 1 || !fr.closedPnls[0].Equal(wantPnl) {
		t.Fatalf("closed pnl = %v, want %v", fr.closedPnls, wantPnl)
	}
}

func TestSafetyPathPartialExitMarksOnlyRemainingQty(t *testing.T) {
	// The force-exit SELL fills half, exitPosition commits that segment to
	// risk and reverts the trade to OPEN with a shrunk TokenQty, then
	// reports false so the caller falls through to the unconfirmed path.
	client := &fakeClient{
		placeOrderFn: func(tokenID string, side OrderSide, price, size decimal.Decimal) (Order, error) {
			return Order{ID: "exit-stuck", Status: OrderOpen}, nil
		},
		getOrderFn: func(orderID string) (Order, error) {
			return Order{ID: orderID, Status: OrderCancelled, Size: dec("10"), RemainingSize: dec("5"), AvgPrice: dec("0.62")}, nil
		},
	}
	fr := &fakeRisk{}
	e := newTestExecutor(client, fr)
	signal := baseTestSignal()
	trade := openTrade(e, "t6b", dec("0.55"), dec("10"), signal)
	trade.CurrentMid = dec("0.62")

	// Stale values a caller would have captured before the exit attempt.
	staleTokenQty := trade.TokenQty

	if e.exitPosition(trade, ExitForce, trade.CurrentMid) {
		t.Fatal("a partial fill leaving tokenQty > 0 must not report success")
	}
	if !trade.TokenQty.Equal(dec("5")) {
		t.Fatalf("tokenQty after the partial force-exit = %v, want 5", trade.TokenQty)
	}
	if staleTokenQty.Equal(trade.TokenQty) {
		t.Fatal("test setup invalid: exitPosition did not actually shrink TokenQty")
	}

	// safetyTimeout's fallback re-reads TokenQty after the failed attempt
	// (the fix under test) rather than using the stale pre-exit quantity.
	e.mu.Lock()
	remainingQty := trade.TokenQty
	entryPrice := trade.EntryPrice
	e.mu.Unlock()

	gotPnl := trade.CurrentMid.Sub(entryPrice).Mul(remainingQty)
	wantPnl := dec("0.35") // (0.62-0.55)*5, only the surviving 5 tokens
	if !gotPnl.Equal(wantPnl) {
		t.Fatalf("estimated pnl = %v, want %v (must cover only the remaining quantity)", gotPnl, wantPnl)
	}

	badPnl := trade.CurrentMid.Sub(entryPrice).Mul(staleTokenQty)
	if gotPnl.Equal(badPnl) {
		t.Fatal("estimated pnl must not match the stale pre-exit quantity")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// EMERGENCY / ROTATION
// ═══════════════════════════════════════════════════════════════════════════════

func TestCancelOrdersForLabelOnlyTouchesMatchingMarket(t *testing.T) {
	client := &fakeClient{}
	fr := &fakeRisk{}
	e := newTestExecutor(client, fr)

	sigA := baseTestSignal()
	sigB := strategy.NewSignal().TokenID("tok-b").Label("ETH/5m").Direction(strategy.BuyYes).
		EntryPrice(dec("0.5")).Size(dec("50")).Edge(dec("0.1")).ModelProb(dec("0.6")).
		ContractPrice(dec("0.5")).AvailableLiquidity(dec("500")).HoursToExpiry(dec("1")).Build()

	tradeA := openTrade(e, "a1", dec("0.60"), dec("100"), sigA)
	tradeA.CurrentMid = dec("0.60")
	tradeB := openTrade(e, "b1", dec("0.50"), dec("100"), sigB)
	tradeB.CurrentMid = dec("0.50")

	e.CancelOrdersForLabel("BTC/5m")

	if tradeA.Status != TradeClosed {
		t.Fatalf("expected BTC/5m trade finalized with ROTATION_CANCEL, status=%v", tradeA.Status)
	}
	if tradeA.ExitReason != ExitRotationCancel {
		t.Fatalf("exit reason = %v, want ROTATION_CANCEL", tradeA.ExitReason)
	}
	if tradeB.Status == TradeClosed {
		t.Fatal("ETH/5m trade must be untouched by a BTC/5m rotation cancel")
	}

	e.finalizeClose(tradeB, ExitShutdown, dec("0.50"), decimal.Zero, true)
}

func TestCancelAllOrdersClosesEverythingAtMark(t *testing.T) {
	client := &fakeClient{}
	fr := &fakeRisk{}
	e := newTestExecutor(client, fr)
	signal := baseTestSignal()
	trade := openTrade(e, "s1", dec("0.60"), dec("100"), signal)
	trade.CurrentMid = dec("0.63")

	e.CancelAllOrders()

	if trade.Status != TradeClosed || trade.ExitReason != ExitShutdown {
		t.Fatalf("expected SHUTDOWN finalize, got status=%v reason=%v", trade.Status, trade.ExitReason)
	}
	if !trade.EstimatedExit {
		t.Fatal("shutdown closes are always estimated (no confirmed exchange fill)")
	}
	if e.OpenPositionCount() != 0 {
		t.Fatalf("expected no open trades after cancelAllOrders")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// CRASH RECOVERY
// ═══════════════════════════════════════════════════════════════════════════════

func TestGetOpenSnapshotRestorePositionsRoundTrip(t *testing.T) {
	client := &fakeClient{}
	fr := &fakeRisk{}
	e := newTestExecutor(client, fr)
	signal := baseTestSignal()
	trade := openTrade(e, "r1", dec("0.60"), dec("100"), signal)

	snaps := e.GetOpenSnapshot()
	if len(snaps) != 1 || snaps[0].ID != "r1" {
		t.Fatalf("unexpected snapshot: %+v", snaps)
	}

	e2 := newTestExecutor(client, fr)
	e2.RestorePositions(snaps)
	restored := e2.GetOpenSnapshot()
	if len(restored) != 1 {
		t.Fatalf("expected one restored trade, got %d", len(restored))
	}
	if !restored[0].TokenQty.Equal(trade.TokenQty) || !restored[0].Size.Equal(trade.Size) {
		t.Fatalf("restored snapshot mismatch: %+v vs original %+v", restored[0], trade)
	}

	fr.mu.Lock()
	if len(fr.opened) != 0 {
		t.Fatal("restorePositions must never call risk.OpenPosition")
	}
	fr.mu.Unlock()

	e2.finalizeClose(e2.openOrders["r1"], ExitShutdown, dec("0.60"), decimal.Zero, true)
}

func TestRestorePositionsDropsStaleTradesAndReconcilesRisk(t *testing.T) {
	client := &fakeClient{}
	fr := &fakeRisk{}
	e := newTestExecutor(client, fr)

	stale := TradeSnapshot{
		ID:         "stale-1",
		EntryPrice: dec("0.60"),
		TokenQty:   dec("10"),
		Size:       dec("6"),
		OpenTime:   time.Now().Add(-(restoreStalenessMs + 1000) * time.Millisecond),
		Signal:     baseTestSignal(),
		OrderID:    "old-order",
	}
	e.RestorePositions([]TradeSnapshot{stale})

	if e.OpenPositionCount() != 0 {
		t.Fatal("a stale snapshot must not be reinserted into openOrders")
	}
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if len(fr.closedIDs) != 1 || fr.closedIDs[0] != "stale-1" || !fr.closedPnls[0].IsZero() {
		t.Fatalf("expected risk.ClosePosition(stale-1, 0) to reconcile the stale entry, got %v %v", fr.closedIDs, fr.closedPnls)
	}
}

func TestRestorePositionsDerivesTokenQtyBackCompat(t *testing.T) {
	client := &fakeClient{}
	fr := &fakeRisk{}
	e := newTestExecutor(client, fr)

	snap := TradeSnapshot{
		ID:         "legacy-1",
		EntryPrice: dec("0.50"),
		TokenQty:   decimal.Zero, // missing in the old format
		Size:       dec("50"),
		OpenTime:   time.Now(),
		Signal:     baseTestSignal(),
		OrderID:    "legacy-order",
	}
	e.RestorePositions([]TradeSnapshot{snap})

	restored := e.GetOpenSnapshot()
	if len(restored) != 1 {
		t.Fatalf("expected one restored trade, got %d", len(restored))
	}
	if !restored[0].TokenQty.Equal(dec("100")) { // 50 / 0.50
		t.Fatalf("derived tokenQty = %v, want 100", restored[0].TokenQty)
	}

	e.finalizeClose(e.openOrders["legacy-1"], ExitShutdown, dec("0.50"), decimal.Zero, true)
}

// ═══════════════════════════════════════════════════════════════════════════════
// EXIT DETERMINATION
// ═══════════════════════════════════════════════════════════════════════════════

func TestDetermineExitFirstMatchWins(t *testing.T) {
	e := newTestExecutor(&fakeClient{}, &fakeRisk{})
	signal := baseTestSignal() // modelProb=0.70, BuyYes
	trade := &Trade{Signal: signal, Side: strategy.BuyYes, EntryPrice: dec("0.60"), Size: dec("60"), TokenQty: dec("100")}

	// age already past MAX_HOLD_MS and also profitable -- MAX_HOLD_TIME wins (checked first).
	reason, exit := e.determineExit(trade, maxHoldMs*time.Millisecond, dec("0.10"), dec("0.70"))
	if !exit || reason != ExitMaxHold {
		t.Fatalf("got reason=%v exit=%v, want MAX_HOLD_TIME", reason, exit)
	}
}

func TestDetermineExitEdgeCollapse(t *testing.T) {
	e := newTestExecutor(&fakeClient{}, &fakeRisk{})
	signal := baseTestSignal() // modelProb = 0.70
	trade := &Trade{Signal: signal, Side: strategy.BuyYes, EntryPrice: dec("0.60"), Size: dec("60"), TokenQty: dec("100")}

	reason, exit := e.determineExit(trade, time.Second, dec("0"), dec("0.705"))
	if !exit || reason != ExitEdgeCollapsed {
		t.Fatalf("got reason=%v exit=%v, want EDGE_COLLAPSED", reason, exit)
	}
}

func TestDetermineExitNoneWhenNothingTriggers(t *testing.T) {
	e := newTestExecutor(&fakeClient{}, &fakeRisk{})
	signal := baseTestSignal()
	trade := &Trade{Signal: signal, Side: strategy.BuyYes, EntryPrice: dec("0.60"), Size: dec("60"), TokenQty: dec("100")}

	_, exit := e.determineExit(trade, 10*time.Second, dec("0.01"), dec("0.61"))
	if exit {
		t.Fatal("expected no exit condition to trigger")
	}
}
