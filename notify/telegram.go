package notify

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/execution"
	"github.com/web3guy0/polyarb/storage"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM NOTIFIER - operator alerts + bot control
// ═══════════════════════════════════════════════════════════════════════════════
//
// Satisfies execution.Notifier (Alert) directly; NotifyTradeEvent and
// NotifyKillSwitch give the executor's and risk's event streams a
// concrete transport. Every alert here carries the trade id and market
// label wherever the source event has one.
//
// ═══════════════════════════════════════════════════════════════════════════════

// StatsProvider answers the questions the command surface below asks.
type StatsProvider interface {
	GetStats() (trades, wins, losses int, pnl, equity decimal.Decimal)
	GetBalance() (decimal.Decimal, error)
	GetRecentTrades(limit int) ([]storage.TradeRecord, error)
	GetOpenPositions() ([]execution.TradeSnapshot, error)
}

type TelegramNotifier struct {
	mu      sync.RWMutex
	api     *tgbotapi.BotAPI
	chatID  int64
	running bool
	stopCh  chan struct{}

	statsProvider StatsProvider

	onPause  func()
	onResume func()
}

// NewTelegramNotifier reads TELEGRAM_BOT_TOKEN / TELEGRAM_CHAT_ID from the
// environment. statsProvider may be nil, in which case the stats-backed
// commands degrade to "not available" responses.
func NewTelegramNotifier(statsProvider StatsProvider) (*TelegramNotifier, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN not set")
	}

	chatIDStr := os.Getenv("TELEGRAM_CHAT_ID")
	if chatIDStr == "" {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID not set")
	}

	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 telegram notifier initialized")

	return &TelegramNotifier{
		api:           api,
		chatID:        chatID,
		stopCh:        make(chan struct{}),
		statsProvider: statsProvider,
	}, nil
}

// SetControlCallbacks wires /pause and /resume to engine-level handlers.
func (n *TelegramNotifier) SetControlCallbacks(onPause, onResume func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onPause = onPause
	n.onResume = onResume
}

// Start begins listening for operator commands.
func (n *TelegramNotifier) Start() {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return
	}
	n.running = true
	n.mu.Unlock()

	go n.commandLoop()
	log.Info().Msg("📱 telegram notifier started")
}

func (n *TelegramNotifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return
	}
	n.running = false
	close(n.stopCh)
}

// Run drains the executor's TradeEvent stream until it closes or stop
// fires, announcing every open/close/partial_close/rotation_cancel.
func (n *TelegramNotifier) Run(events <-chan execution.TradeEvent, stop <-chan struct{}) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			n.NotifyTradeEvent(ev)
		case <-stop:
			return
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// Alert satisfies execution.Notifier.
func (n *TelegramNotifier) Alert(msg string) {
	n.sendMarkdown(fmt.Sprintf("⚠️ *ALERT*\n\n%s", msg))
}

// NotifyTradeEvent renders an executor TradeEvent as an operator message.
func (n *TelegramNotifier) NotifyTradeEvent(ev execution.TradeEvent) {
	switch ev.Type {
	case "open":
		n.notifyOpen(ev)
	case "close":
		n.notifyClose(ev)
	case "partial_close":
		n.notifyPartialClose(ev)
	case "rotation_cancel":
		n.notifyRotationCancel(ev)
	}
}

func (n *TelegramNotifier) notifyOpen(ev execution.TradeEvent) {
	label := signalLabel(ev.Trade)
	msg := fmt.Sprintf(`✅ *TRADE OPENED*

📊 %s
💵 Entry: *%s¢*
📦 Size: *$%s*
🆔 %s`,
		label,
		ev.Trade.EntryPrice.Mul(decimal.NewFromInt(100)).StringFixed(1),
		ev.Trade.Size.StringFixed(2),
		ev.Trade.ID,
	)
	n.sendMarkdown(msg)
}

func (n *TelegramNotifier) notifyClose(ev execution.TradeEvent) {
	label := signalLabel(ev.Trade)
	pnl, _ := ev.Extra["pnl"].(string)
	reason := fmt.Sprintf("%v", ev.Extra["reason"])

	emoji := "📈"
	if pnlIsNegative(pnl) {
		emoji = "📉"
	}

	msg := fmt.Sprintf(`%s *TRADE CLOSED*

📊 %s
💵 P&L: *$%s*
📝 Reason: %s
🆔 %s`,
		emoji, label, pnl, reason, ev.Trade.ID,
	)
	n.sendMarkdown(msg)
}

func (n *TelegramNotifier) notifyPartialClose(ev execution.TradeEvent) {
	label := signalLabel(ev.Trade)
	msg := fmt.Sprintf(`📊 *PARTIAL FILL ON EXIT*

%s
🆔 %s
Remaining size: *$%s*`, label, ev.Trade.ID, ev.Trade.Size.StringFixed(2))
	n.sendMarkdown(msg)
}

func (n *TelegramNotifier) notifyRotationCancel(ev execution.TradeEvent) {
	label := signalLabel(ev.Trade)
	msg := fmt.Sprintf("🔁 *MARKET ROTATED* — cancelled resting orders for %s (trade %s)", label, ev.Trade.ID)
	n.sendMarkdown(msg)
}

// NotifyKillSwitch announces a risk circuit-breaker trip.
func (n *TelegramNotifier) NotifyKillSwitch(reason string) {
	n.sendMarkdown(fmt.Sprintf("🛑 *KILL SWITCH TRIPPED*\n\nReason: `%s`\n\nTrading halted until restart.", reason))
}

// NotifyStartup announces process start.
func (n *TelegramNotifier) NotifyStartup(mode string) {
	balanceStr := "N/A"
	if n.statsProvider != nil {
		if bal, err := n.statsProvider.GetBalance(); err == nil {
			balanceStr = "$" + bal.StringFixed(2)
		}
	}

	msg := fmt.Sprintf(`🚀 *ENGINE STARTED*
━━━━━━━━━━━━━━━━━━━━

📊 Mode: *%s*
💰 Balance: *%s*

Use /help for commands`, mode, balanceStr)

	n.sendMarkdown(msg)
}

// NotifyDailySummary sends end-of-day stats.
func (n *TelegramNotifier) NotifyDailySummary() {
	if n.statsProvider == nil {
		return
	}

	trades, wins, losses, pnl, equity := n.statsProvider.GetStats()
	winRate := float64(0)
	if trades > 0 {
		winRate = float64(wins) / float64(trades) * 100
	}

	emoji := "📈"
	if pnl.IsNegative() {
		emoji = "📉"
	}

	msg := fmt.Sprintf(`%s *DAILY SUMMARY*
━━━━━━━━━━━━━━━━━━━━

📊 Trades: *%d*
✅ Wins: *%d*
❌ Losses: *%d*
📈 Win Rate: *%.1f%%*

━━━━━━━━━━━━━━━━━━━━
💵 P&L: *$%s*
💰 Equity: *$%s*`,
		emoji, trades, wins, losses, winRate,
		pnl.StringFixed(2), equity.StringFixed(2),
	)

	n.sendMarkdown(msg)
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func signalLabel(t execution.TradeSnapshot) string {
	if t.Signal != nil {
		return t.Signal.Label
	}
	return "unknown market"
}

func pnlIsNegative(s string) bool {
	d, err := decimal.NewFromString(s)
	return err == nil && d.IsNegative()
}

func (n *TelegramNotifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("failed to send telegram message")
	}
}

func (n *TelegramNotifier) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := n.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("failed to send telegram message")
	}
}
