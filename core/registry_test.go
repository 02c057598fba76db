package core

import (
	"testing"
	"time"
)

func TestMarketRegistrySetGet(t *testing.T) {
	reg := NewMarketRegistry()
	end := time.Now().Add(5 * time.Minute)

	reg.Set(&MarketBinding{WindowKey: "BTC-5m", Asset: "BTC", Label: "BTC/5m", TokenIDYes: "y", TokenIDNo: "n", EndDate: end})

	got, ok := reg.Get("BTC-5m")
	if !ok {
		t.Fatalf("expected a binding to be present after Set")
	}
	if got.Label != "BTC/5m" || got.TokenIDYes != "y" || got.TokenIDNo != "n" {
		t.Fatalf("unexpected binding contents: %+v", got)
	}

	if _, ok := reg.Get("unknown"); ok {
		t.Fatalf("expected no binding for an unregistered window key")
	}
}

func TestMarketRegistrySetReplacesOnRotation(t *testing.T) {
	reg := NewMarketRegistry()
	reg.Set(&MarketBinding{WindowKey: "BTC-5m", Label: "BTC/5m-v1"})
	reg.Set(&MarketBinding{WindowKey: "BTC-5m", Label: "BTC/5m-v2"})

	got, _ := reg.Get("BTC-5m")
	if got.Label != "BTC/5m-v2" {
		t.Fatalf("expected the latest binding to replace the former one, got label %q", got.Label)
	}
	if len(reg.All()) != 1 {
		t.Fatalf("expected exactly one binding after replacement, got %d", len(reg.All()))
	}
}
