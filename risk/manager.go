package risk

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/strategy"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK MANAGER - single source of truth for bankroll, open positions, and
// the kill switches that can end a session for good
// ═══════════════════════════════════════════════════════════════════════════════
//
// Consolidates what used to be four separate gatekeepers (a bankroll/
// cooldown manager, a stacking/size-adjustment gate, a circuit breaker,
// and a take-profit/stop-loss classifier) into the single writer canTrade
// routes through. Every mutation to bankroll, openPositions, dailyPnl, or
// killed goes through this type's methods and its mutex.
//
// ═══════════════════════════════════════════════════════════════════════════════

// KillReason describes why the process-wide kill switch tripped.
type KillReason string

// Position is Risk's accounting-owned half of a trade: just enough to
// reserve capital and reconcile on close. Execution state (status,
// currentMid, exit bookkeeping) lives in execution.Trade instead — see
// the split-ownership note this consolidation follows.
type Position struct {
	ID         string
	Side       strategy.Direction
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
}

// PartialClose is the input to ApplyPartialClose.
type PartialClose struct {
	RealizedNotional decimal.Decimal
	RealizedPnl      decimal.Decimal
}

// Config carries every threshold canTrade enforces.
type Config struct {
	CooldownMs        int64
	DailyLossLimit    decimal.Decimal // absolute USD, not a %
	MaxDrawdownPct    decimal.Decimal
	MaxOpenPositions  int
	SlippageBps       decimal.Decimal
	FeeBps            decimal.Decimal
	MinMarginEdge     decimal.Decimal
	RejectionWindow   time.Duration // 60s sliding window
	RejectionLimit    int           // 5
}

// DefaultConfig loads Risk's thresholds from the environment, matching
// this codebase's per-file env-helper convention.
func DefaultConfig() Config {
	return Config{
		CooldownMs:       int64(envIntRM("RISK_COOLDOWN_MS", 1000)),
		DailyLossLimit:   envDecimalRM("RISK_DAILY_LOSS_LIMIT_USD", 100),
		MaxDrawdownPct:   envDecimalRM("RISK_MAX_DRAWDOWN_PCT", 0.25),
		MaxOpenPositions: envIntRM("RISK_MAX_OPEN_POSITIONS", 5),
		SlippageBps:      envDecimalRM("RISK_SLIPPAGE_BPS", 50),
		FeeBps:           envDecimalRM("RISK_FEE_BPS", 20),
		MinMarginEdge:    envDecimalRM("RISK_MIN_MARGIN_EDGE", 0.01),
		RejectionWindow:  60 * time.Second,
		RejectionLimit:   5,
	}
}

// Decision is canTrade's verdict.
type Decision struct {
	Allowed bool
	Reasons []string
}

// Manager is the single writer for bankroll, the open-position ledger,
// and the kill switches.
type Manager struct {
	mu sync.Mutex

	cfg Config

	bankroll     decimal.Decimal
	peakBankroll decimal.Decimal // session-local; never restored from disk
	dailyPnl     decimal.Decimal
	dailyResetAt time.Time

	openPositions map[string]*Position

	killed       bool
	killedReason KillReason

	lastTradeTime time.Time

	rejections []time.Time // sliding-window unhandled-rejection deque
}

// NewManager constructs a Risk Manager with the given starting bankroll.
// peakBankroll is always initialized to the current bankroll at process
// start and is never loaded from persisted state.
func NewManager(cfg Config, startingBankroll decimal.Decimal) *Manager {
	m := &Manager{
		cfg:           cfg,
		bankroll:      startingBankroll,
		peakBankroll:  startingBankroll,
		openPositions: make(map[string]*Position),
		dailyResetAt:  utcMidnight(time.Now()),
	}
	log.Info().
		Str("bankroll", startingBankroll.StringFixed(2)).
		Int("max_open_positions", cfg.MaxOpenPositions).
		Str("max_drawdown", cfg.MaxDrawdownPct.Mul(decimal.NewFromInt(100)).String()+"%").
		Msg("🛡️ risk manager initialized")
	return m
}

// CanTrade runs every check in spec order, accumulating reasons. If the
// process is already killed, it returns immediately. Only on an
// all-clear does it atomically stamp lastTradeTime before returning
// allowed=true (invariant I7).
func (m *Manager) CanTrade(signal *strategy.Signal) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkDayReset()

	if m.killed {
		return Decision{Allowed: false, Reasons: []string{string(m.killedReason)}}
	}

	var reasons []string

	now := time.Now()

	// (b) cooldown
	if !m.lastTradeTime.IsZero() {
		elapsedMs := now.Sub(m.lastTradeTime).Milliseconds()
		if elapsedMs < m.cfg.CooldownMs {
			reasons = append(reasons, "cooldown")
		}
	}

	// (c) daily loss limit
	if m.dailyPnl.LessThanOrEqual(m.cfg.DailyLossLimit.Neg()) {
		reasons = append(reasons, "daily loss limit")
	}

	// (d) drawdown -- sets killed
	if m.peakBankroll.IsPositive() {
		drawdown := m.peakBankroll.Sub(m.bankroll).Div(m.peakBankroll)
		if drawdown.GreaterThan(m.cfg.MaxDrawdownPct) {
			reasons = append(reasons, "max drawdown")
			m.setKilled("max drawdown")
		}
	}

	// (e) max open positions
	if len(m.openPositions) >= m.cfg.MaxOpenPositions {
		reasons = append(reasons, "max open positions")
	}

	// (f) liquidity rule
	liquidityMultiple := decimal.NewFromInt(2)
	if signal.IsCertainty {
		liquidityMultiple = decimal.NewFromInt(1)
	}
	if signal.AvailableLiquidity.LessThan(liquidityMultiple.Mul(signal.Size)) {
		reasons = append(reasons, "insufficient liquidity")
	}

	// (g) edge vs cost
	costFloor := m.cfg.SlippageBps.Div(decimal.NewFromInt(10000)).
		Add(m.cfg.FeeBps.Div(decimal.NewFromInt(10000))).
		Add(m.cfg.MinMarginEdge)
	if signal.Edge.LessThanOrEqual(costFloor) {
		reasons = append(reasons, "edge below cost floor")
	}

	if len(reasons) > 0 {
		return Decision{Allowed: false, Reasons: reasons}
	}

	m.lastTradeTime = now
	return Decision{Allowed: true}
}

// OpenPosition debits the bankroll and inserts the position. Requires
// bankroll >= size.
func (m *Manager) OpenPosition(p Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bankroll.LessThan(p.Size) {
		return errInsufficientBankroll
	}
	m.bankroll = m.bankroll.Sub(p.Size)
	pCopy := p
	m.openPositions[p.ID] = &pCopy
	return nil
}

// ApplyPartialClose is the sole channel through which a partial exit
// touches risk state.
func (m *Manager) ApplyPartialClose(id string, pc PartialClose) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.openPositions[id]
	if !ok {
		return
	}
	pos.Size = pos.Size.Sub(pc.RealizedNotional)
	if pos.Size.IsNegative() {
		pos.Size = decimal.Zero
	}
	m.bankroll = m.bankroll.Add(pc.RealizedNotional).Add(pc.RealizedPnl)
	m.dailyPnl = m.dailyPnl.Add(pc.RealizedPnl)
	m.bumpPeak()
}

// ClosePosition credits the final segment's pnl back to bankroll and
// removes the ledger entry. No-op if id is not present, which keeps
// restore-skip paths (dropped stale snapshots) safe to call blindly.
func (m *Manager) ClosePosition(id string, pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.openPositions[id]
	if !ok {
		return
	}
	m.bankroll = m.bankroll.Add(pos.Size).Add(pnl)
	m.dailyPnl = m.dailyPnl.Add(pnl)
	m.bumpPeak()
	delete(m.openPositions, id)
}

// NoteUnhandledRejection appends now to a sliding window deque; 5 in 60s
// trips a sticky kill.
func (m *Manager) NoteUnhandledRejection() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.rejections = append(m.rejections, now)

	cutoff := now.Add(-m.cfg.RejectionWindow)
	kept := m.rejections[:0]
	for _, t := range m.rejections {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.rejections = kept

	if len(m.rejections) >= m.cfg.RejectionLimit {
		m.setKilled("rejection storm")
	}
}

// Bankroll returns the live bankroll. Strategy sizing must always read
// through a getter closing over this method, never a cached snapshot.
func (m *Manager) Bankroll() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bankroll
}

// Killed reports whether the process-wide kill switch has tripped and why.
func (m *Manager) Killed() (bool, KillReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killed, m.killedReason
}

// OpenPositionCount returns the number of currently open ledger entries.
func (m *Manager) OpenPositionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.openPositions)
}

// Stats is a read-only snapshot for dashboards/status endpoints.
type Stats struct {
	Bankroll      decimal.Decimal
	PeakBankroll  decimal.Decimal
	DailyPnl      decimal.Decimal
	OpenPositions int
	Killed        bool
	KilledReason  KillReason
}

func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Bankroll:      m.bankroll,
		PeakBankroll:  m.peakBankroll,
		DailyPnl:      m.dailyPnl,
		OpenPositions: len(m.openPositions),
		Killed:        m.killed,
		KilledReason:  m.killedReason,
	}
}

func (m *Manager) setKilled(reason KillReason) {
	if m.killed {
		return
	}
	m.killed = true
	m.killedReason = reason
	log.Error().Str("reason", string(reason)).Msg("🚨 risk kill switch tripped")
}

func (m *Manager) bumpPeak() {
	if m.bankroll.GreaterThan(m.peakBankroll) {
		m.peakBankroll = m.bankroll
	}
}

// checkDayReset resets dailyPnl at UTC midnight. It does NOT touch
// killed/peakBankroll -- a kill switch is process-sticky (I6), and peak
// is session-local regardless of day boundaries.
func (m *Manager) checkDayReset() {
	now := time.Now()
	mid := utcMidnight(now)
	if mid.After(m.dailyResetAt) {
		m.dailyPnl = decimal.Zero
		m.dailyResetAt = mid
		log.Info().Msg("📅 daily risk stats reset")
	}
}

func utcMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// ═══════════════════════════════════════════════════════════════════════════════
// ENV HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func envDecimalRM(key string, fallback float64) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	return decimal.NewFromFloat(fallback)
}

func envIntRM(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}
