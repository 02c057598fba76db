package feeds

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/strategy"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BINANCE PRICE FEED - Real-time BTC/ETH/SOL prices
// ═══════════════════════════════════════════════════════════════════════════════
//
// Used for:
//   - Calculating price movement from "price to beat"
//   - Confirming direction for sniper entries
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	binanceAPIURL   = "https://api.binance.com/api/v3/ticker/price"
	binanceInterval = 200 * time.Millisecond // 200ms for fast detection
)

// BinanceFeed provides real-time crypto prices
type BinanceFeed struct {
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}

	// Current prices
	prices map[string]decimal.Decimal // "BTCUSDT" -> price

	// per-asset strategy.SpotFeed subscribers, keyed by bare asset symbol
	// ("BTC", not "BTCUSDT")
	assetSubscribers map[string][]chan strategy.SpotUpdate
}

// NewBinanceFeed creates a new Binance feed
func NewBinanceFeed() *BinanceFeed {
	return &BinanceFeed{
		stopCh:           make(chan struct{}),
		prices:           make(map[string]decimal.Decimal),
		assetSubscribers: make(map[string][]chan strategy.SpotUpdate),
	}
}

// AssetFeed returns a strategy.SpotFeed view of this feed scoped to a
// single bare asset symbol (e.g. "BTC"). The underlying poller and its
// subscriber list are shared across every asset; AssetFeed only narrows
// what a given caller sees.
func (f *BinanceFeed) AssetFeed(asset string) strategy.SpotFeed {
	return &binanceAssetFeed{parent: f, asset: asset}
}

type binanceAssetFeed struct {
	parent *BinanceFeed
	asset  string
}

func (a *binanceAssetFeed) Asset() string { return a.asset }

func (a *binanceAssetFeed) Subscribe() <-chan strategy.SpotUpdate {
	a.parent.mu.Lock()
	defer a.parent.mu.Unlock()

	ch := make(chan strategy.SpotUpdate, 100)
	a.parent.assetSubscribers[a.asset] = append(a.parent.assetSubscribers[a.asset], ch)
	return ch
}

// Start begins polling Binance for prices
func (f *BinanceFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.pollLoop()
	log.Info().Dur("interval", binanceInterval).Msg("📈 Binance feed started")
}

// Stop stops the feed
func (f *BinanceFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}

	f.running = false
	close(f.stopCh)
	log.Info().Msg("Binance feed stopped")
}

// GetPrice returns the current price for a symbol
func (f *BinanceFeed) GetPrice(symbol string) decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.prices[symbol]
}

// pollLoop continuously fetches prices
func (f *BinanceFeed) pollLoop() {
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}

	ticker := time.NewTicker(binanceInterval)
	defer ticker.Stop()

	// Initial fetch
	f.fetchPrices(symbols)

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.fetchPrices(symbols)
		}
	}
}

// fetchPrices gets current prices from Binance
func (f *BinanceFeed) fetchPrices(symbols []string) {
	for _, symbol := range symbols {
		price, err := f.fetchPrice(symbol)
		if err != nil {
			continue
		}

		f.mu.Lock()
		oldPrice := f.prices[symbol]
		f.prices[symbol] = price
		f.mu.Unlock()

		// Only broadcast if price changed
		if !price.Equal(oldPrice) {
			now := time.Now()

			delta := decimal.Zero
			if !oldPrice.IsZero() {
				delta = price.Sub(oldPrice)
			}
			f.broadcastAsset(baseAsset(symbol), strategy.SpotUpdate{
				Mid:       price,
				Delta:     delta,
				Timestamp: now,
			})
		}
	}
}

// baseAsset strips Binance's "USDT" quote suffix, e.g. "BTCUSDT" -> "BTC".
func baseAsset(symbol string) string {
	return strings.TrimSuffix(symbol, "USDT")
}

// broadcastAsset sends a spot update to every subscriber of a single asset.
func (f *BinanceFeed) broadcastAsset(asset string, update strategy.SpotUpdate) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, ch := range f.assetSubscribers[asset] {
		select {
		case ch <- update:
		default:
		}
	}
}

// fetchPrice gets a single price from Binance
func (f *BinanceFeed) fetchPrice(symbol string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s?symbol=%s", binanceAPIURL, symbol)

	resp, err := http.Get(url)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, err
	}

	var result struct {
		Price string `json:"price"`
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return decimal.Zero, err
	}

	return decimal.NewFromString(result.Price)
}
