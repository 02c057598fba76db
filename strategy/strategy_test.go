package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/numerics"
)

func fixedBankroll(amount string) BankrollGetter {
	d, _ := decimal.NewFromString(amount)
	return func() decimal.Decimal { return d }
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WindowDuration = 5 * time.Minute
	cfg.MinFeedLagMs = 1000
	cfg.MaxFeedLagMs = 5000
	// halflife=1 makes each EMA track its latest input exactly, so tests
	// don't need to warm up several ticks to reach a deterministic value.
	cfg.VolEmaHalfLifeSamples = 1
	cfg.SpotEmaHalfLifeSamples = 1
	cfg.EdgeEmaHalfLifeSamples = 1
	return cfg
}

func TestStartupSuppressionAtMarketSetCountOne(t *testing.T) {
	s := NewStrategy("BTC/5m", testConfig(), fixedBankroll("10000"))
	end := time.Now().Add(4 * time.Minute)
	s.SetMarket("yes1", "no1", end) // marketSetCount becomes 1

	windowStart := end.Add(-testConfig().WindowDuration)
	sig := s.OnSpotUpdate(SpotUpdate{Mid: decimal.NewFromFloat(100), Timestamp: windowStart.Add(time.Second)})
	if sig != nil {
		t.Fatalf("expected no signal during startup window (marketSetCount=1), got %+v", sig)
	}
}

func TestLatencyArbEmitsOnSufficientEdgeAndLag(t *testing.T) {
	cfg := testConfig()
	s := NewStrategy("BTC/5m", cfg, fixedBankroll("10000"))

	end := time.Now().Add(5*time.Minute + 30*time.Second)
	s.SetMarket("yes1", "no1", end) // count 1
	s.SetMarket("yes1", "no1", end) // count 2, clears P2

	windowStart := end.Add(-cfg.WindowDuration)
	now := windowStart.Add(time.Second)

	// capture strike at 100
	s.OnSpotUpdate(SpotUpdate{Mid: decimal.NewFromFloat(100), Timestamp: now})

	// spot drifts up slightly; contract hasn't repriced yet (the "lag")
	now = now.Add(2 * time.Second)
	sig := s.OnSpotUpdate(SpotUpdate{
		Mid:         decimal.NewFromFloat(100.1),
		Delta:       decimal.NewFromFloat(0.1),
		RealizedVol: decimal.NewFromFloat(0.03),
		Timestamp:   now,
	})
	_ = sig // first evaluate has no contract data yet (P1 fails)

	bookTime := now.Add(2 * time.Second) // feed lag > 1000ms
	sig = s.OnContractUpdate(BookUpdate{
		TokenID:   "yes1",
		BestBid:   decimal.NewFromFloat(0.59),
		BestAsk:   decimal.NewFromFloat(0.61),
		BidDepth:  decimal.NewFromFloat(500),
		AskDepth:  decimal.NewFromFloat(500),
		Mid:       decimal.NewFromFloat(0.60),
		Timestamp: bookTime,
	})

	if sig == nil {
		t.Fatalf("expected a latency-arb signal given a large model/contract edge and feed lag")
	}
	if sig.Direction != numerics.BuyYes {
		t.Fatalf("expected BUY_YES given model probability above contract price, got %v", sig.Direction)
	}
	if sig.IsCertainty {
		t.Fatalf("should not be flagged certainty this far from expiry")
	}
}

func TestCertaintyArbWindowRejectsSmallSidePrice(t *testing.T) {
	cfg := testConfig()
	s := NewStrategy("BTC/5m", cfg, fixedBankroll("10000"))

	end := time.Now().Add(30 * time.Second) // inside certainty window
	s.SetMarket("yes1", "no1", end) // count 1
	s.SetMarket("yes1", "no1", end) // count 2, clears P2

	windowStart := end.Add(-cfg.WindowDuration)
	now := windowStart.Add(time.Second)
	s.OnSpotUpdate(SpotUpdate{Mid: decimal.NewFromFloat(100), Timestamp: now})

	s.contractBestBid = decimal.NewFromFloat(0.02)
	s.contractBestAsk = decimal.NewFromFloat(0.04)
	sig := s.OnContractUpdate(BookUpdate{
		BestBid: decimal.NewFromFloat(0.02), BestAsk: decimal.NewFromFloat(0.04),
		BidDepth: decimal.NewFromFloat(10), AskDepth: decimal.NewFromFloat(10),
		Mid: decimal.NewFromFloat(0.03), Timestamp: time.Now(),
	})
	if sig != nil {
		t.Fatalf("expected rejection when the side we'd buy is priced below the phantom-edge floor, got %+v", sig)
	}
}
