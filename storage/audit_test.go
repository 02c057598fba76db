package storage

import (
	"bufio"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/execution"
)

func newTestAuditLog(t *testing.T) (*AuditLog, string) {
	t.Helper()
	path := t.TempDir() + "/trades.ndjson"
	a, err := NewAuditLog(path, nil)
	if err != nil {
		t.Fatalf("unexpected error opening audit log: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, path
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("unexpected error opening %s: %v", path, err)
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

func TestAppendWritesOneLinePerEvent(t *testing.T) {
	a, path := newTestAuditLog(t)

	a.Append(execution.TradeEvent{Type: "open", Trade: execution.TradeSnapshot{ID: "t1"}})
	a.Append(execution.TradeEvent{Type: "close", Trade: execution.TradeSnapshot{ID: "t1"}})

	if got := countLines(t, path); got != 2 {
		t.Fatalf("expected 2 lines, got %d", got)
	}
}

func TestAppendIndexesCloseEventsWhenIndexIsWired(t *testing.T) {
	idx := newTestStore(t)
	path := t.TempDir() + "/trades.ndjson"
	a, err := NewAuditLog(path, idx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Close()

	a.Append(execution.TradeEvent{
		Type:  "close",
		Trade: execution.TradeSnapshot{ID: "t1", EntryPrice: decimal.NewFromFloat(0.55)},
		Extra: map[string]any{"pnl": "1.20", "reason": execution.ExitProfitTarget},
	})

	recs, err := idx.RecentTrades(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected the close event to be indexed, got %d rows", len(recs))
	}
	if recs[0].ExitReason != "PROFIT_TARGET" {
		t.Fatalf("expected exit reason PROFIT_TARGET, got %q", recs[0].ExitReason)
	}
}

func TestAppendDoesNotIndexOpenEvents(t *testing.T) {
	idx := newTestStore(t)
	path := t.TempDir() + "/trades.ndjson"
	a, err := NewAuditLog(path, idx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Close()

	a.Append(execution.TradeEvent{Type: "open", Trade: execution.TradeSnapshot{ID: "t1"}})

	recs, err := idx.RecentTrades(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected open events to not be indexed, got %d rows", len(recs))
	}
}

func TestRunDrainsEventsUntilChannelCloses(t *testing.T) {
	a, path := newTestAuditLog(t)

	events := make(chan execution.TradeEvent, 4)
	events <- execution.TradeEvent{Type: "open", Trade: execution.TradeSnapshot{ID: "t1"}}
	events <- execution.TradeEvent{Type: "close", Trade: execution.TradeSnapshot{ID: "t1"}}
	close(events)

	done := make(chan struct{})
	go func() {
		a.Run(events, nil)
		close(done)
	}()
	<-done

	if got := countLines(t, path); got != 2 {
		t.Fatalf("expected 2 lines after draining, got %d", got)
	}
}
