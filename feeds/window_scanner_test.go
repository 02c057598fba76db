package feeds

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/core"
)

func TestExtractWindowMinutes(t *testing.T) {
	cases := map[string]int{
		"BTC above $105,000 in 15 minutes":  15,
		"ETH above $3,500 in 5 minutes":     5,
		"SOL above $200 in 60 minutes":      60,
		"BTC above $105,000 by tomorrow":    0,
		"":                                  0,
	}
	for question, want := range cases {
		if got := extractWindowMinutes(question); got != want {
			t.Fatalf("extractWindowMinutes(%q) = %d, want %d", question, got, want)
		}
	}
}

func TestExtractPriceFromQuestion(t *testing.T) {
	price := extractPriceFromQuestion("BTC above $105,000 in 15 minutes")
	if !price.Equal(decimal.NewFromInt(105000)) {
		t.Fatalf("expected 105000, got %s", price.String())
	}
	if !extractPriceFromQuestion("no dollar sign here").IsZero() {
		t.Fatalf("expected zero when there is no $ amount")
	}
}

func TestUpdateWindowEmitsRotationOnSlotReplace(t *testing.T) {
	s := NewWindowScanner(nil)
	sub := s.Subscribe()

	first := &Window{ID: "market-1", WindowKey: "BTC-15m", Label: "BTC/15m", Asset: "BTC", YesTokenID: "y1", NoTokenID: "n1", EndTime: time.Now().Add(15 * time.Minute)}
	s.updateWindow(first)

	select {
	case ev := <-sub:
		t.Fatalf("expected no rotation event for the first window in a slot, got %+v", ev)
	default:
	}

	second := &Window{ID: "market-2", WindowKey: "BTC-15m", Label: "BTC/15m", Asset: "BTC", YesTokenID: "y2", NoTokenID: "n2", EndTime: time.Now().Add(15 * time.Minute)}
	s.updateWindow(second)

	select {
	case ev := <-sub:
		if ev.WindowKey != "BTC-15m" || ev.TokenIDYes != "y2" || ev.TokenIDNo != "n2" {
			t.Fatalf("unexpected rotation event: %+v", ev)
		}
	default:
		t.Fatalf("expected a rotation event when the slot's market id changed")
	}
}

func TestUpdateWindowSameMarketIDDoesNotRotate(t *testing.T) {
	s := NewWindowScanner(nil)
	sub := s.Subscribe()

	w := &Window{ID: "market-1", WindowKey: "BTC-15m", Label: "BTC/15m", Asset: "BTC", YesTokenID: "y1", NoTokenID: "n1", EndTime: time.Now().Add(15 * time.Minute)}
	s.updateWindow(w)
	s.updateWindow(w)

	select {
	case ev := <-sub:
		t.Fatalf("expected no rotation event for a same-market price refresh, got %+v", ev)
	default:
	}
}

func TestGetActiveSlotsReturnsCurrentPerWindowKey(t *testing.T) {
	s := NewWindowScanner(nil)
	s.updateWindow(&Window{ID: "m1", WindowKey: "BTC-15m", Asset: "BTC", EndTime: time.Now().Add(time.Minute)})
	s.updateWindow(&Window{ID: "m2", WindowKey: "ETH-15m", Asset: "ETH", EndTime: time.Now().Add(time.Minute)})

	slots := s.GetActiveSlots()
	if len(slots) != 2 {
		t.Fatalf("expected 2 active slots, got %d", len(slots))
	}
}

var _ core.MarketDiscovery = (*WindowScanner)(nil)
