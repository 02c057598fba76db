package core

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/execution"
	"github.com/web3guy0/polyarb/risk"
	"github.com/web3guy0/polyarb/strategy"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONSUMED / BOUNDARY INTERFACES
// ═══════════════════════════════════════════════════════════════════════════════

// RotationEvent is emitted by MarketDiscovery some seconds before the
// previous (asset, window) market expires. WindowKey identifies which
// already-registered Strategy instance owns this rotation; it is stable
// across rotations even though Label and the token ids change each time.
type RotationEvent struct {
	WindowKey   string
	Asset       string
	TokenIDYes  string
	TokenIDNo   string
	EndDate     time.Time
	Label       string
}

// MarketDiscovery is the consumed per-(asset,window) rotation event
// source.
type MarketDiscovery interface {
	Subscribe() <-chan RotationEvent
}

// ContractFeed is the consumed contract-book market-data stream, separate
// from execution.ContractBookClient's order-management boundary. A
// NO-token update must already be normalized to YES-equivalent mid by
// the implementation before it reaches Updates().
type ContractFeed interface {
	Subscribe(tokenID string)
	Unsubscribe(tokenID string)
	Updates() <-chan strategy.BookUpdate
}

// RiskAccountant is the subset of risk.Manager the Engine calls directly
// (CanTrade's gate, the live bankroll getter, unhandled-rejection
// reporting). Defined narrowly so tests can supply a fake; risk.Manager
// satisfies it structurally.
type RiskAccountant interface {
	CanTrade(signal *strategy.Signal) risk.Decision
	Bankroll() decimal.Decimal
	NoteUnhandledRejection()
	GetStats() risk.Stats
}

// TradeExecutor is the subset of execution.Executor the Engine calls.
// execution.Executor satisfies it structurally.
type TradeExecutor interface {
	Execute(signal *strategy.Signal) (*execution.Trade, error)
	HasOpenTradeForLabel(label string) bool
	CancelOrdersForLabel(label string)
	CancelAllOrders()
	GetOpenSnapshot() []execution.TradeSnapshot
	GetMetrics() execution.Metrics
	FillRate() decimal.Decimal
	AvgExecutionLatency() time.Duration
	OpenTrades() []execution.TradeSnapshot
	RecentTrades(n int) []execution.TradeSnapshot
	Last20WinRate() decimal.Decimal
}

// ═══════════════════════════════════════════════════════════════════════════════
// EXPOSED STATUS SNAPSHOT
// ═══════════════════════════════════════════════════════════════════════════════

// StatusSnapshot is the read-only view returned by Engine.GetStatus, the
// Go realization of distilled §6's getStatus().
type StatusSnapshot struct {
	OpenOrders          int
	OpenTrades          []execution.TradeSnapshot
	FillRate            decimal.Decimal
	AvgExecutionLatency time.Duration
	PnlStats            execution.Metrics
	Last20WinRate       decimal.Decimal
	RecentTrades        []execution.TradeSnapshot
	Bankroll            decimal.Decimal
	Killed              bool
	KilledReason        risk.KillReason
}
