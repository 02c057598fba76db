package notify

import (
	"fmt"
	"os"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (n *TelegramNotifier) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := n.api.GetUpdatesChan(u)

	for {
		select {
		case <-n.stopCh:
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Chat.ID != n.chatID {
				continue
			}
			n.handleCommand(update.Message)
		}
	}
}

func (n *TelegramNotifier) handleCommand(msg *tgbotapi.Message) {
	switch strings.ToLower(msg.Command()) {
	case "start", "help":
		n.cmdHelp()
	case "status":
		n.cmdStatus()
	case "balance":
		n.cmdBalance()
	case "stats":
		n.cmdStats()
	case "trades":
		n.cmdTrades()
	case "positions":
		n.cmdPositions()
	case "pause":
		n.cmdPause()
	case "resume":
		n.cmdResume()
	case "ping":
		n.send("🏓 Pong!")
	default:
		n.send("❓ Unknown command. Use /help")
	}
}

func (n *TelegramNotifier) cmdHelp() {
	n.sendMarkdown(`🤖 *ENGINE COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — Engine status
💰 /balance — Account balance
📈 /stats — Trading statistics
📜 /trades — Last 10 trades
💼 /positions — Open positions
⏸️ /pause — Pause trading
▶️ /resume — Resume trading
🏓 /ping — Test connection`)
}

func (n *TelegramNotifier) cmdStatus() {
	mode := "LIVE"
	if os.Getenv("DRY_RUN") == "true" {
		mode = "PAPER"
	}

	balanceStr := "N/A"
	if n.statsProvider != nil {
		if bal, err := n.statsProvider.GetBalance(); err == nil {
			balanceStr = "$" + bal.StringFixed(2)
		}
	}

	n.sendMarkdown(fmt.Sprintf(`📊 *ENGINE STATUS*
━━━━━━━━━━━━━━━━━━━━

🟢 RUNNING
📊 Mode: *%s*
💰 Balance: *%s*`, mode, balanceStr))
}

func (n *TelegramNotifier) cmdStats() {
	if n.statsProvider == nil {
		n.send("❌ Stats not available")
		return
	}

	trades, wins, losses, pnl, equity := n.statsProvider.GetStats()
	winRate := float64(0)
	if trades > 0 {
		winRate = float64(wins) / float64(trades) * 100
	}

	n.sendMarkdown(fmt.Sprintf(`📈 *TRADING STATS*
━━━━━━━━━━━━━━━━━━━━

📊 Total Trades: *%d*
✅ Wins: *%d*
❌ Losses: *%d*
📈 Win Rate: *%.1f%%*

━━━━━━━━━━━━━━━━━━━━
💵 Total P&L: *$%s*
💰 Equity: *$%s*`, trades, wins, losses, winRate, pnl.StringFixed(2), equity.StringFixed(2)))
}

func (n *TelegramNotifier) cmdPositions() {
	if n.statsProvider == nil {
		n.send("❌ Positions not available")
		return
	}

	positions, err := n.statsProvider.GetOpenPositions()
	if err != nil {
		n.send("❌ Failed to fetch positions")
		return
	}
	if len(positions) == 0 {
		n.send("📭 No open positions")
		return
	}

	msg := "💼 *OPEN POSITIONS*\n━━━━━━━━━━━━━━━━━━━━\n\n"
	for i, p := range positions {
		label := signalLabel(p)
		duration := time.Since(p.OpenTime).Round(time.Second)
		msg += fmt.Sprintf("📊 *%s*\n💵 Entry: %s¢ | Size: $%s\n⏱️ Duration: %v\n🆔 %s\n\n",
			label, p.EntryPrice.Mul(decimal.NewFromInt(100)).StringFixed(1), p.Size.StringFixed(2), duration, p.ID)

		if i >= 4 {
			msg += fmt.Sprintf("_... and %d more_", len(positions)-5)
			break
		}
	}
	n.sendMarkdown(msg)
}

func (n *TelegramNotifier) cmdBalance() {
	if n.statsProvider == nil {
		n.send("❌ Balance not available")
		return
	}

	balance, err := n.statsProvider.GetBalance()
	if err != nil {
		n.send("❌ Failed to fetch balance")
		return
	}

	n.sendMarkdown(fmt.Sprintf("💰 *ACCOUNT BALANCE*\n━━━━━━━━━━━━━━━━━━━━\n\n💵 Available: *$%s*", balance.StringFixed(2)))
}

func (n *TelegramNotifier) cmdTrades() {
	if n.statsProvider == nil {
		n.send("❌ Trades not available")
		return
	}

	trades, err := n.statsProvider.GetRecentTrades(10)
	if err != nil {
		n.send("❌ Failed to fetch trades")
		return
	}
	if len(trades) == 0 {
		n.send("📭 No trade history yet")
		return
	}

	msg := "📜 *LAST 10 TRADES*\n━━━━━━━━━━━━━━━━━━━━\n\n"
	for _, t := range trades {
		emoji := "📌"
		if !pnlIsNegative(t.PnL) && t.PnL != "" {
			emoji = "💰"
		} else if pnlIsNegative(t.PnL) {
			emoji = "🛑"
		}

		msg += fmt.Sprintf("%s %s — P&L: $%s\n   _%s_\n\n", emoji, t.MarketLabel, t.PnL, t.ClosedAt.Format("Jan 2 15:04"))
	}
	n.sendMarkdown(msg)
}

func (n *TelegramNotifier) cmdPause() {
	n.mu.RLock()
	cb := n.onPause
	n.mu.RUnlock()

	if cb != nil {
		cb()
	}
	n.send("⏸️ Trading paused")
	log.Info().Msg("trading paused via telegram")
}

func (n *TelegramNotifier) cmdResume() {
	n.mu.RLock()
	cb := n.onResume
	n.mu.RUnlock()

	if cb != nil {
		cb()
	}
	n.send("▶️ Trading resumed")
	log.Info().Msg("trading resumed via telegram")
}
