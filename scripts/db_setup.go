package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/web3guy0/polyarb/storage"
)

// db_setup inspects (and, with RESET_DB=true, wipes) the gorm-backed
// state/trade-index tables. NewGormStore already runs AutoMigrate on
// connect, so the normal path here is read-only: list tables, count
// rows, done.
func main() {
	godotenv.Load()

	path := os.Getenv("DATABASE_PATH")
	if path == "" {
		path = "data/polyarb.db"
	}

	store, err := storage.NewGormStore(path)
	if err != nil {
		fmt.Printf("❌ Connection error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	fmt.Println("✅ Storage layer connected")

	tables, err := store.TableNames()
	if err != nil {
		fmt.Printf("❌ Failed to list tables: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n📋 Current tables:")
	if len(tables) == 0 {
		fmt.Println("  (no tables found)")
	}
	for _, t := range tables {
		fmt.Printf("  - %s\n", t)
	}

	fmt.Println("\n📊 Row counts:")
	for _, t := range tables {
		count, err := store.RowCount(t)
		if err != nil {
			fmt.Printf("  - %s: error (%v)\n", t, err)
			continue
		}
		fmt.Printf("  - %s: %d rows\n", t, count)
	}

	if os.Getenv("RESET_DB") != "true" {
		fmt.Println("\nSet RESET_DB=true to drop and recreate all tables.")
		return
	}

	fmt.Println("\n🧹 RESET_DB=true: dropping and recreating all tables...")
	if err := store.ResetSchema(); err != nil {
		fmt.Printf("❌ Reset failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✅ Schema reset")
}
