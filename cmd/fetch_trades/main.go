package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/storage"
)

// fetch_trades reads the closed-trade index and prints the same
// win/loss/stop-loss breakdown the original ad-hoc trade analyzer did,
// now sourced from the gorm trade index instead of a live CLOB fetch.
func main() {
	godotenv.Load()

	path := os.Getenv("DATABASE_PATH")
	if path == "" {
		path = "data/polyarb.db"
	}

	store, err := storage.NewGormStore(path)
	if err != nil {
		fmt.Println("Error opening storage:", err)
		os.Exit(1)
	}
	defer store.Close()

	limit := 500
	trades, err := store.RecentTrades(limit)
	if err != nil {
		fmt.Println("Error fetching trades:", err)
		os.Exit(1)
	}

	fmt.Printf("📊 TRADE ANALYSIS - Total Trades: %d\n\n", len(trades))

	var totalPnL decimal.Decimal
	wins, losses, slHits := 0, 0, 0

	fmt.Println("═══════════════════════════════════════════════════════════════════════")
	fmt.Println("│ MARKET            │ SIDE │ ENTRY  │ EXIT   │ PNL      │ REASON")
	fmt.Println("═══════════════════════════════════════════════════════════════════════")

	for _, t := range trades {
		pnl, _ := decimal.NewFromString(t.PnL)
		totalPnL = totalPnL.Add(pnl)

		notes := "❌ LOSS"
		if pnl.GreaterThan(decimal.Zero) {
			wins++
			notes = "✅ WIN"
		} else {
			losses++
		}
		if t.ExitReason == "STOP_LOSS" {
			slHits++
			notes = "🛑 SL HIT"
		}

		fmt.Printf("│ %-17s │ %-4s │ %6s │ %6s │ %+8s │ %s\n",
			t.MarketLabel, t.Side, t.EntryPrice, t.ExitPrice, pnl.StringFixed(4), notes)
	}

	fmt.Println("═══════════════════════════════════════════════════════════════════════")
	fmt.Printf("\n📈 SUMMARY:\n")
	if wins+losses > 0 {
		fmt.Printf("   Wins: %d | Losses: %d | Win Rate: %.1f%%\n", wins, losses, float64(wins)/float64(wins+losses)*100)
	}
	fmt.Printf("   Stop-Loss Hits: %d\n", slHits)
	fmt.Printf("   Total P&L: %+s\n", totalPnL.StringFixed(4))
}
