package execution

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/strategy"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER LIFECYCLE TYPES
// ═══════════════════════════════════════════════════════════════════════════════

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus is the exchange-reported status of a placed order. SIMULATED
// is dry-run-only and short-circuits fill polling.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "OPEN"
	OrderMatched   OrderStatus = "MATCHED"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderSimulated OrderStatus = "SIMULATED"
)

type FillStatus string

const (
	FillMatched   FillStatus = "MATCHED"
	FillPartial   FillStatus = "PARTIAL"
	FillCancelled FillStatus = "CANCELLED"
	FillTimeout   FillStatus = "TIMEOUT"
)

// FillResult is what _waitForFill returns: avgPrice is the zero Decimal
// when the exchange reported no price.
type FillResult struct {
	Status    FillStatus
	AvgPrice  decimal.Decimal
	FilledQty decimal.Decimal
}

// Order is the exchange's view of a placed order, as returned by PlaceOrder
// and re-fetched by GetOrder. All numeric fields may arrive as strings on
// the wire; ContractBookClient implementations are responsible for that
// parsing, core code only ever sees decimal.Decimal here.
type Order struct {
	ID            string
	Status        OrderStatus
	Size          decimal.Decimal
	RemainingSize decimal.Decimal
	MakerAmount   decimal.Decimal
	AvgPrice      decimal.Decimal
}

// Book is a point-in-time snapshot of one token's order book, as returned
// by FetchOrderbook. A book is invalid when bid=0 and ask=1 (no real
// two-sided market yet) or when both sides are empty.
type Book struct {
	BestBid  decimal.Decimal
	BestAsk  decimal.Decimal
	BidDepth decimal.Decimal
	AskDepth decimal.Decimal
	Mid      decimal.Decimal
}

func (b Book) Valid() bool {
	if b.BestBid.IsZero() && b.BestAsk.Equal(decimal.NewFromInt(1)) {
		return false
	}
	if b.BestBid.IsZero() && b.BestAsk.IsZero() {
		return false
	}
	return true
}

// TradeStatus tracks a Trade through its lifecycle. CLOSING guards against
// the monitor/safety-timer double-exit race (R1/R2).
type TradeStatus string

const (
	TradeOpen    TradeStatus = "OPEN"
	TradeClosing TradeStatus = "CLOSING"
	TradeClosed  TradeStatus = "CLOSED"
)

type ExitReason string

const (
	ExitMaxHold          ExitReason = "MAX_HOLD_TIME"
	ExitProfitTarget     ExitReason = "PROFIT_TARGET"
	ExitStopLoss         ExitReason = "STOP_LOSS"
	ExitEdgeCollapsed    ExitReason = "EDGE_COLLAPSED"
	ExitCertaintyExpiry  ExitReason = "CERTAINTY_EXPIRY"
	ExitForce            ExitReason = "FORCE_EXIT"
	ExitForceUnconfirmed ExitReason = "FORCE_EXIT_UNCONFIRMED"
	ExitShutdown         ExitReason = "SHUTDOWN"
	ExitRotationCancel   ExitReason = "ROTATION_CANCEL"
)

// AdverseCheckpoint is one of the 5/15/30s post-entry snapshots recorded
// for later adverse-selection analysis.
type AdverseCheckpoint struct {
	AgeSeconds int
	Mid        decimal.Decimal
	MidMove    decimal.Decimal
	PnlPct     decimal.Decimal
}

// Trade is the execution-owned half of a position: Risk owns the
// accounting half (risk.Position) linked by the same id. tokenQty and
// size are mutable and shrink on partial exits; initialSize is frozen at
// open for %-of-original reporting.
type Trade struct {
	ID       string
	Signal   *strategy.Signal
	Status   TradeStatus
	Side     strategy.Direction
	OrderID  string
	OrderStatus OrderStatus

	EntryPrice  decimal.Decimal
	TokenQty    decimal.Decimal
	Size        decimal.Decimal
	InitialSize decimal.Decimal

	OpenTime time.Time

	CurrentMid    decimal.Decimal
	UnrealizedPnl decimal.Decimal
	RealizedPnl   decimal.Decimal

	ExitPrice  decimal.Decimal
	ExitTime   time.Time
	ExitReason ExitReason
	HoldTime   time.Duration

	EstimatedExit bool

	checkpointsSeen map[int]bool
	Checkpoints     []AdverseCheckpoint

	doneCh     chan struct{}
	doneClosed bool
}

// TradeSnapshot is the serializable view returned by getOpenSnapshot and
// consumed by restorePositions / the state store.
type TradeSnapshot struct {
	ID          string          `json:"id"`
	EntryPrice  decimal.Decimal `json:"entryPrice"`
	TokenQty    decimal.Decimal `json:"tokenQty,omitempty"`
	Size        decimal.Decimal `json:"size"`
	OpenTime    time.Time       `json:"openTime"`
	Signal      *strategy.Signal `json:"signal"`
	OrderID     string          `json:"orderId"`
	OrderStatus OrderStatus     `json:"orderStatus"`
}

// TradeEvent is the exposed stream consumed by audit logging / dashboards.
type TradeEvent struct {
	Type  string `json:"type"` // "open" | "close" | "partial_close" | "rotation_cancel"
	Trade TradeSnapshot `json:"trade"`
	Extra map[string]any `json:"extra,omitempty"`
}
