package feeds

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/core"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WINDOW SCANNER - Tracks active 15-minute crypto windows
// ═══════════════════════════════════════════════════════════════════════════════
//
// Scans Polymarket for:
//   - BTC Above $X in 15 minutes?
//   - ETH Above $X in 15 minutes?
//   - SOL Above $X in 15 minutes?
//
// Tracks:
//   - Window end time (for "time remaining" calculation)
//   - Price to beat (for % move calculation)
//   - Current odds (YES/NO)
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	polymarketAPI  = "https://gamma-api.polymarket.com"
	windowScanFreq = 10 * time.Second
)

// Window represents an active crypto-above/below binary market window.
type Window struct {
	ID            string          // Market/condition ID
	WindowKey     string          // stable (asset, duration) slot key, e.g. "BTC-15m"
	Label         string          // human label, e.g. "BTC/15m"
	Asset         string          // "BTC", "ETH", "SOL"
	DurationMin   int             // window length in minutes, parsed from the question
	PriceToBeat   decimal.Decimal // e.g., 105000 for "BTC > $105,000"
	EndTime       time.Time       // When the window closes
	YesTokenID    string          // Token ID for YES outcome
	NoTokenID     string          // Token ID for NO outcome
	YesPrice      decimal.Decimal // Current YES odds
	NoPrice       decimal.Decimal // Current NO odds
	Question      string          // Full question text
	StartPrice    decimal.Decimal // Binance price at window start (cached)
	LastUpdated   time.Time
}

// TimeRemaining returns duration until window closes
func (w *Window) TimeRemaining() time.Duration {
	return time.Until(w.EndTime)
}

// IsExpired returns true if window has ended
func (w *Window) IsExpired() bool {
	return time.Now().After(w.EndTime)
}

// WindowScanner manages window discovery and tracking
type WindowScanner struct {
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}

	// Active windows by market ID
	windows map[string]*Window

	// Current window per (asset, duration) slot, for rotation detection
	slots map[string]*Window

	// Binance feed for start prices
	binanceFeed *BinanceFeed

	// Subscribers to rotation events (core.MarketDiscovery)
	rotationSubs []chan core.RotationEvent
}

// NewWindowScanner creates a new scanner
func NewWindowScanner(binanceFeed *BinanceFeed) *WindowScanner {
	return &WindowScanner{
		stopCh:      make(chan struct{}),
		windows:     make(map[string]*Window),
		slots:       make(map[string]*Window),
		binanceFeed: binanceFeed,
	}
}

// Start begins scanning for windows
func (s *WindowScanner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.scanLoop()
	log.Info().Msg("🔍 Window scanner started")
}

// Stop stops the scanner
func (s *WindowScanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	close(s.stopCh)
	log.Info().Msg("Window scanner stopped")
}

// Subscribe satisfies core.MarketDiscovery: it emits a RotationEvent only
// when a (asset, duration) slot's market id changes, i.e. the old window
// closed and a new one took its place.
func (s *WindowScanner) Subscribe() <-chan core.RotationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan core.RotationEvent, 50)
	s.rotationSubs = append(s.rotationSubs, ch)
	return ch
}

// GetActiveSlots returns the current window for every tracked (asset,
// duration) slot, for the bootstrap's initial Engine.AddMarket calls.
func (s *WindowScanner) GetActiveSlots() []*Window {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Window, 0, len(s.slots))
	for _, w := range s.slots {
		out = append(out, w)
	}
	return out
}

// scanLoop periodically fetches active windows
func (s *WindowScanner) scanLoop() {
	ticker := time.NewTicker(windowScanFreq)
	defer ticker.Stop()

	// Initial scan
	s.fetchWindows()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.fetchWindows()
			s.cleanupExpired()
		}
	}
}

// fetchWindows gets active 15-minute crypto windows from Polymarket
func (s *WindowScanner) fetchWindows() {
	// Search for active crypto price windows
	// Look for markets with "BTC", "ETH", "SOL" and "15 minutes" or "minute" timeframe
	assets := []string{"BTC", "ETH", "SOL"}

	for _, asset := range assets {
		s.fetchAssetWindows(asset)
	}
}

// fetchAssetWindows fetches windows for a specific asset
func (s *WindowScanner) fetchAssetWindows(asset string) {
	// Query Polymarket for active markets
	url := fmt.Sprintf("%s/markets?active=true&closed=false", polymarketAPI)

	resp, err := http.Get(url)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to fetch markets")
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}

	var markets []struct {
		ID             string    `json:"id"`
		ConditionID    string    `json:"condition_id"`
		Question       string    `json:"question"`
		EndDate        time.Time `json:"end_date_iso"`
		Tokens         []struct {
			TokenID string `json:"token_id"`
			Outcome string `json:"outcome"`
		} `json:"tokens"`
		OutcomePrices string `json:"outcomePrices"` // JSON string "[0.55, 0.45]"
	}

	if err := json.Unmarshal(body, &markets); err != nil {
		log.Debug().Err(err).Msg("Failed to parse markets")
		return
	}

	// Filter for relevant windows
	for _, m := range markets {
		// Must be a short-dated above/below window for the asset
		if !strings.Contains(strings.ToUpper(m.Question), asset) {
			continue
		}
		if !strings.Contains(m.Question, "minute") {
			continue
		}
		if !strings.Contains(m.Question, "above") && !strings.Contains(m.Question, "Above") {
			continue
		}

		durationMin := extractWindowMinutes(m.Question)
		if durationMin <= 0 {
			continue
		}

		// Parse the question for price to beat
		priceToBeat := extractPriceFromQuestion(m.Question)
		if priceToBeat.IsZero() {
			continue
		}

		// Parse outcome prices
		var prices []float64
		if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err != nil || len(prices) < 2 {
			continue
		}

		// Find YES/NO token IDs
		var yesTokenID, noTokenID string
		for _, t := range m.Tokens {
			if t.Outcome == "Yes" {
				yesTokenID = t.TokenID
			} else if t.Outcome == "No" {
				noTokenID = t.TokenID
			}
		}

		// Get start price from Binance
		symbol := asset + "USDT"
		startPrice := s.binanceFeed.GetPrice(symbol)

		windowKey := fmt.Sprintf("%s-%dm", asset, durationMin)
		window := &Window{
			ID:          m.ConditionID,
			WindowKey:   windowKey,
			Label:       fmt.Sprintf("%s/%dm", asset, durationMin),
			Asset:       asset,
			DurationMin: durationMin,
			PriceToBeat: priceToBeat,
			EndTime:     m.EndDate,
			YesTokenID:  yesTokenID,
			NoTokenID:   noTokenID,
			YesPrice:    decimal.NewFromFloat(prices[0]),
			NoPrice:     decimal.NewFromFloat(prices[1]),
			Question:    m.Question,
			StartPrice:  startPrice,
			LastUpdated: time.Now(),
		}

		s.updateWindow(window)
	}
}

// updateWindow adds or updates a window and, if it replaces a different
// market id in the same (asset, duration) slot, emits a rotation event.
func (s *WindowScanner) updateWindow(window *Window) {
	s.mu.Lock()
	_, exists := s.windows[window.ID]
	if !exists {
		s.windows[window.ID] = window
		log.Info().
			Str("asset", window.Asset).
			Str("target", window.PriceToBeat.StringFixed(0)).
			Dur("remaining", window.TimeRemaining()).
			Msg("🎯 new window detected")
	} else {
		existing := s.windows[window.ID]
		existing.YesPrice = window.YesPrice
		existing.NoPrice = window.NoPrice
		existing.LastUpdated = time.Now()
	}

	prevSlot, hadSlot := s.slots[window.WindowKey]
	s.slots[window.WindowKey] = window
	rotated := hadSlot && prevSlot.ID != window.ID
	s.mu.Unlock()

	if rotated {
		s.broadcastRotation(core.RotationEvent{
			WindowKey:  window.WindowKey,
			Asset:      window.Asset,
			TokenIDYes: window.YesTokenID,
			TokenIDNo:  window.NoTokenID,
			EndDate:    window.EndTime,
			Label:      window.Label,
		})
		log.Info().Str("window_key", window.WindowKey).Str("label", window.Label).Msg("🔄 market window rotated")
	}
}

// broadcastRotation sends a rotation event to all MarketDiscovery subscribers.
func (s *WindowScanner) broadcastRotation(ev core.RotationEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.rotationSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// cleanupExpired removes expired windows
func (s *WindowScanner) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range s.windows {
		if w.IsExpired() {
			delete(s.windows, id)
			log.Debug().Str("id", id).Msg("Window expired, removed")
		}
	}
}

// extractPriceFromQuestion parses "BTC above $105,000" -> 105000
func extractPriceFromQuestion(question string) decimal.Decimal {
	// Look for $ followed by numbers
	// Examples:
	//   "BTC above $105,000 in 15 minutes"
	//   "ETH above $3,500 in 15 minutes"

	parts := strings.Split(question, "$")
	if len(parts) < 2 {
		return decimal.Zero
	}

	// Get the price part after $
	pricePart := parts[1]

	// Extract digits and commas
	var priceStr strings.Builder
	for _, c := range pricePart {
		if c >= '0' && c <= '9' {
			priceStr.WriteRune(c)
		} else if c == ',' {
			continue // Skip commas
		} else if c == '.' {
			priceStr.WriteRune(c)
		} else {
			break // Stop at first non-digit
		}
	}

	price, err := decimal.NewFromString(priceStr.String())
	if err != nil {
		return decimal.Zero
	}
	return price
}

// extractWindowMinutes parses the window duration out of a question like
// "BTC above $105,000 in 15 minutes" -> 15. Returns 0 if no digit run
// immediately precedes "minute".
func extractWindowMinutes(question string) int {
	idx := strings.Index(question, "minute")
	if idx < 0 {
		return 0
	}

	// Walk backwards from idx over whitespace, then over digits.
	end := idx
	for end > 0 && question[end-1] == ' ' {
		end--
	}
	start := end
	for start > 0 && question[start-1] >= '0' && question[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0
	}

	minutes, err := strconv.Atoi(question[start:end])
	if err != nil {
		return 0
	}
	return minutes
}
