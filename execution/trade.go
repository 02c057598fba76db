package execution

import (
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRADE HELPERS
// ═══════════════════════════════════════════════════════════════════════════════
//
// All mutation of Trade fields happens while the Executor holds its own
// mutex (see executor.go) -- Trade itself carries no lock, only a doneCh
// used to stop its monitor goroutines promptly on close.
//
// ═══════════════════════════════════════════════════════════════════════════════

// recordCheckpoint stores one adverse-selection snapshot per age bucket
// (5s/15s/30s), at most once each.
func (t *Trade) recordCheckpoint(ageSeconds int, mid, midMove, pnlPct decimal.Decimal) {
	if t.checkpointsSeen == nil {
		t.checkpointsSeen = make(map[int]bool)
	}
	if t.checkpointsSeen[ageSeconds] {
		return
	}
	t.checkpointsSeen[ageSeconds] = true
	t.Checkpoints = append(t.Checkpoints, AdverseCheckpoint{
		AgeSeconds: ageSeconds,
		Mid:        mid,
		MidMove:    midMove,
		PnlPct:     pnlPct,
	})
}

func (t *Trade) snapshot() TradeSnapshot {
	return TradeSnapshot{
		ID:          t.ID,
		EntryPrice:  t.EntryPrice,
		TokenQty:    t.TokenQty,
		Size:        t.Size,
		OpenTime:    t.OpenTime,
		Signal:      t.Signal,
		OrderID:     t.OrderID,
		OrderStatus: t.OrderStatus,
	}
}

func clampDecimal(d, lo, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}

var checkpointThresholds = []int{5, 15, 30}
