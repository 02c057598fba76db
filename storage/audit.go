package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polyarb/execution"
)

// ═══════════════════════════════════════════════════════════════════════════════
// AUDIT LOG - append-only NDJSON trade history
// ═══════════════════════════════════════════════════════════════════════════════
//
// One line per TradeEvent, opened/grown/closed trades and rotation cancels
// alike. A separate IndexTrade call into the GormStore (when wired) gives
// closed trades a queryable row; this file is the durable raw record.
//
// ═══════════════════════════════════════════════════════════════════════════════

type AuditLog struct {
	mu    sync.Mutex
	file  *os.File
	index *GormStore // optional, may be nil
}

// NewAuditLog opens (creating if necessary) the NDJSON file at path in
// append mode. index, if non-nil, also receives a structured row for every
// closed trade.
func NewAuditLog(path string, index *GormStore) (*AuditLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	return &AuditLog{file: f, index: index}, nil
}

// Append writes one TradeEvent as a single NDJSON line and, for close
// events, indexes the trade into the optional structured store.
func (a *AuditLog) Append(ev execution.TradeEvent) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	a.mu.Lock()
	_, err = a.file.Write(line)
	a.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Msg("failed to append trade audit record")
		return err
	}

	if ev.Type == "close" && a.index != nil {
		if err := a.index.IndexTrade(toTradeRecord(ev)); err != nil {
			log.Error().Err(err).Str("id", ev.Trade.ID).Msg("failed to index closed trade")
		}
	}
	return nil
}

// Run drains events off the executor's stream until the channel closes or
// stop fires, appending each one. Intended to run in its own goroutine.
func (a *AuditLog) Run(events <-chan execution.TradeEvent, stop <-chan struct{}) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = a.Append(ev)
		case <-stop:
			return
		}
	}
}

func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

func toTradeRecord(ev execution.TradeEvent) TradeRecord {
	label := ""
	if ev.Trade.Signal != nil {
		label = ev.Trade.Signal.Label
	}

	rec := TradeRecord{
		ID:          ev.Trade.ID,
		MarketLabel: label,
		EntryPrice:  ev.Trade.EntryPrice.String(),
		Size:        ev.Trade.Size.String(),
		OpenedAt:    ev.Trade.OpenTime,
		ClosedAt:    time.Now(),
	}

	if pnl, ok := ev.Extra["pnl"]; ok {
		if s, ok := pnl.(string); ok {
			rec.PnL = s
		}
	}
	if reason, ok := ev.Extra["reason"]; ok {
		rec.ExitReason = toString(reason)
	}

	return rec
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if st, ok := v.(fmt.Stringer); ok {
		return st.String()
	}
	return fmt.Sprintf("%v", v)
}
