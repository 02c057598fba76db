package execution

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/risk"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONSUMED INTERFACES
// ═══════════════════════════════════════════════════════════════════════════════
//
// The Executor depends on these boundaries, never on a concrete exchange
// client or a concrete *risk.Manager field -- the feeds and signer
// packages supply a ContractBookClient implementation, and risk.Manager
// satisfies RiskAccountant structurally.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ContractBookClient is the exchange boundary: order placement/cancellation
// and order-book/order-status polling. Implementations own retry and
// timeout behavior; every call here is expected to honor its own deadline.
type ContractBookClient interface {
	PlaceOrder(tokenID string, side OrderSide, price, size decimal.Decimal) (Order, error)
	GetOrder(orderID string) (Order, error)
	CancelOrder(orderID string) error
	CancelAll() error
	FetchOrderbook(tokenID string) (Book, bool)
}

// RiskAccountant is the subset of risk.Manager the Executor calls.
// Defined as an interface rather than a direct *risk.Manager field so
// tests can supply a fake; risk.Manager satisfies it structurally, no
// adapter wrapper required.
type RiskAccountant interface {
	OpenPosition(p risk.Position) error
	ApplyPartialClose(id string, pc risk.PartialClose)
	ClosePosition(id string, pnl decimal.Decimal)
	NoteUnhandledRejection()
}

// Notifier is the operator-alert boundary (Telegram in production, a
// log-only stub in dry-run / tests).
type Notifier interface {
	Alert(msg string)
}

type noopNotifier struct{}

func (noopNotifier) Alert(string) {}
