package notify

import (
	"testing"

	"github.com/web3guy0/polyarb/execution"
	"github.com/web3guy0/polyarb/strategy"
)

func TestSignalLabelFallsBackWhenSignalIsNil(t *testing.T) {
	if got := signalLabel(execution.TradeSnapshot{}); got != "unknown market" {
		t.Fatalf("expected fallback label, got %q", got)
	}
}

func TestSignalLabelUsesSignalLabel(t *testing.T) {
	snap := execution.TradeSnapshot{Signal: &strategy.Signal{Label: "BTC/15m"}}
	if got := signalLabel(snap); got != "BTC/15m" {
		t.Fatalf("expected BTC/15m, got %q", got)
	}
}

func TestPnlIsNegative(t *testing.T) {
	cases := map[string]bool{
		"-1.50": true,
		"1.50":  false,
		"0":     false,
		"":      false,
		"junk":  false,
	}
	for in, want := range cases {
		if got := pnlIsNegative(in); got != want {
			t.Fatalf("pnlIsNegative(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewTelegramNotifierRequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "123")

	if _, err := NewTelegramNotifier(nil); err == nil {
		t.Fatalf("expected an error when TELEGRAM_BOT_TOKEN is unset")
	}
}

func TestNewTelegramNotifierRequiresChatID(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "dummy-token")
	t.Setenv("TELEGRAM_CHAT_ID", "")

	if _, err := NewTelegramNotifier(nil); err == nil {
		t.Fatalf("expected an error when TELEGRAM_CHAT_ID is unset")
	}
}

func TestNewTelegramNotifierRejectsNonNumericChatID(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "dummy-token")
	t.Setenv("TELEGRAM_CHAT_ID", "not-a-number")

	if _, err := NewTelegramNotifier(nil); err == nil {
		t.Fatalf("expected an error for a non-numeric chat id")
	}
}
