package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/strategy"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func baseSignal() *strategy.Signal {
	return strategy.NewSignal().
		TokenID("tok1").
		Label("BTC/5m").
		Direction(strategy.BuyYes).
		EntryPrice(dec("0.6")).
		Size(dec("10")).
		Edge(dec("0.2")).
		ModelProb(dec("0.8")).
		ContractPrice(dec("0.6")).
		AvailableLiquidity(dec("1000")).
		HoursToExpiry(dec("1")).
		Build()
}

func TestCanTradeAllowsAndStampsCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownMs = 1000
	m := NewManager(cfg, dec("1000"))

	d := m.CanTrade(baseSignal())
	if !d.Allowed {
		t.Fatalf("expected first trade to be allowed, got reasons %v", d.Reasons)
	}
}

func TestCanTradeCooldownRace(t *testing.T) {
	// S5: two calls within 1ms, cooldown=1000ms. First allowed and
	// reserves lastTradeTime; second rejected with "cooldown" and
	// lastTradeTime unchanged.
	cfg := DefaultConfig()
	cfg.CooldownMs = 1000
	m := NewManager(cfg, dec("1000"))

	first := m.CanTrade(baseSignal())
	if !first.Allowed {
		t.Fatalf("expected first call allowed, got %v", first.Reasons)
	}
	stamped := m.lastTradeTime

	second := m.CanTrade(baseSignal())
	if second.Allowed {
		t.Fatalf("expected second call within cooldown to be rejected")
	}
	found := false
	for _, r := range second.Reasons {
		if r == "cooldown" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected cooldown reason, got %v", second.Reasons)
	}
	if !m.lastTradeTime.Equal(stamped) {
		t.Fatalf("lastTradeTime must not move on a rejected call")
	}
}

func TestCanTradeQ8OnlyStampsOnAllow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOpenPositions = 0 // force every call to reject
	m := NewManager(cfg, dec("1000"))

	before := m.lastTradeTime
	d := m.CanTrade(baseSignal())
	if d.Allowed {
		t.Fatalf("expected rejection with zero max open positions")
	}
	if !m.lastTradeTime.Equal(before) {
		t.Fatalf("lastTradeTime must stay zero-value when not allowed")
	}
}

func TestDrawdownKillSwitchIsSticky(t *testing.T) {
	// S4: bankroll 1000 -> peak 1000; after losses bankroll 740 (26% dd).
	cfg := DefaultConfig()
	cfg.MaxDrawdownPct = dec("0.25")
	m := NewManager(cfg, dec("1000"))
	m.bankroll = dec("740")

	d := m.CanTrade(baseSignal())
	if d.Allowed {
		t.Fatalf("expected drawdown kill to reject the trade")
	}
	killed, reason := m.Killed()
	if !killed || reason != "max drawdown" {
		t.Fatalf("expected killed=true reason=max drawdown, got %v %v", killed, reason)
	}

	// Q7: once killed, subsequent calls are always rejected, even if the
	// bankroll recovers.
	m.bankroll = dec("1000")
	d2 := m.CanTrade(baseSignal())
	if d2.Allowed {
		t.Fatalf("expected canTrade to stay false forever once killed")
	}
}

func TestOpenApplyPartialAndClosePosition(t *testing.T) {
	// S2-style accounting check on the Risk side alone.
	m := NewManager(DefaultConfig(), dec("1000"))

	if err := m.OpenPosition(Position{ID: "t1", Size: dec("5.5"), EntryPrice: dec("0.55")}); err != nil {
		t.Fatalf("unexpected error opening position: %v", err)
	}
	if !m.Bankroll().Equal(dec("994.5")) {
		t.Fatalf("bankroll after open = %v, want 994.5", m.Bankroll())
	}

	m.ApplyPartialClose("t1", PartialClose{RealizedNotional: dec("2.2"), RealizedPnl: dec("0.28")})
	if !m.Bankroll().Equal(dec("996.98")) {
		t.Fatalf("bankroll after partial close = %v, want 996.98", m.Bankroll())
	}

	m.ClosePosition("t1", dec("0.30"))
	if m.OpenPositionCount() != 0 {
		t.Fatalf("expected position removed after close")
	}
}

func TestClosePositionNoOpOnMissingID(t *testing.T) {
	m := NewManager(DefaultConfig(), dec("1000"))
	before := m.Bankroll()
	m.ClosePosition("does-not-exist", dec("50"))
	if !m.Bankroll().Equal(before) {
		t.Fatalf("closing an absent position must be a no-op, bankroll changed from %v to %v", before, m.Bankroll())
	}
}

func TestNoteUnhandledRejectionTripsAfterFive(t *testing.T) {
	m := NewManager(DefaultConfig(), dec("1000"))
	for i := 0; i < 4; i++ {
		m.NoteUnhandledRejection()
	}
	if killed, _ := m.Killed(); killed {
		t.Fatalf("should not be killed after only 4 rejections")
	}
	m.NoteUnhandledRejection()
	killed, reason := m.Killed()
	if !killed || reason != "rejection storm" {
		t.Fatalf("expected rejection storm kill after 5th, got %v %v", killed, reason)
	}
}

func TestNoteUnhandledRejectionWindowExpires(t *testing.T) {
	m := NewManager(DefaultConfig(), dec("1000"))
	old := time.Now().Add(-2 * time.Minute)
	m.rejections = []time.Time{old, old, old, old}
	m.NoteUnhandledRejection()
	if killed, _ := m.Killed(); killed {
		t.Fatalf("stale rejections outside the 60s window must not count toward the trip")
	}
}
