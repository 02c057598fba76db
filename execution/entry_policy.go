package execution

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/strategy"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENTRY POLICY - how the Executor prices the entry order
// ═══════════════════════════════════════════════════════════════════════════════
//
// Entry ships take-only in this codebase's first cut: signal.EntryPrice is
// the model's computed edge price and the taker policy submits at exactly
// that price. EntryPolicy exists so a maker/reprice strategy can be slotted
// in later without touching Execute's fill-handling state machine.
//
// ═══════════════════════════════════════════════════════════════════════════════

// EntryPolicy decides the limit price Execute submits the entry order at.
type EntryPolicy interface {
	EntryPrice(signal *strategy.Signal) decimal.Decimal
}

// TakeOnlyPolicy submits at the signal's own computed edge price, crossing
// the spread to guarantee a fill. This is the default.
type TakeOnlyPolicy struct{}

func (TakeOnlyPolicy) EntryPrice(signal *strategy.Signal) decimal.Decimal {
	return signal.EntryPrice
}

// MakerRepricePolicy undercuts the taker price by a fixed offset, aiming to
// rest on the book instead of crossing the spread. Unimplemented beyond the
// price calculation: Execute's waitForFill timeout already cancels an
// unfilled resting order, so this policy trades fill probability for a
// better average entry without any executor-side changes.
type MakerRepricePolicy struct {
	// Offset is subtracted from the taker price for a buy entry.
	Offset decimal.Decimal
}

func (p MakerRepricePolicy) EntryPrice(signal *strategy.Signal) decimal.Decimal {
	price := signal.EntryPrice.Sub(p.Offset)
	if price.IsNegative() {
		return decimal.Zero
	}
	return price
}
