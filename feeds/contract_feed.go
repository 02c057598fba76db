package feeds

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/strategy"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONTRACT FEED - streaming order book updates over the CLOB websocket
// ═══════════════════════════════════════════════════════════════════════════════
//
// Satisfies core.ContractFeed. Subscriptions are keyed by token id rather
// than by market, so YES and NO token streams for the same market are
// independent. Maintains an in-memory Orderbook per subscribed token and
// emits normalized strategy.BookUpdate ticks.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	clobWSURL          = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	feedReconnectDelay = 5 * time.Second
	feedPingInterval   = 30 * time.Second
)

// ContractFeed manages the websocket connection and per-token book state.
type ContractFeed struct {
	mu sync.RWMutex

	wsURL     string
	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}

	tokens map[string]bool // subscribed token ids

	orderbooks map[string]*Orderbook // tokenID -> book

	out chan strategy.BookUpdate
}

// NewContractFeed builds an unconnected feed; call Start to dial.
func NewContractFeed() *ContractFeed {
	return &ContractFeed{
		wsURL:      clobWSURL,
		stopCh:     make(chan struct{}),
		tokens:     make(map[string]bool),
		orderbooks: make(map[string]*Orderbook),
		out:        make(chan strategy.BookUpdate, 1000),
	}
}

// Start connects and begins processing messages.
func (f *ContractFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.connectionLoop()
	log.Info().Msg("📡 contract feed started")
}

// Stop tears down the connection.
func (f *ContractFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
	if f.conn != nil {
		f.conn.Close()
	}
	log.Info().Msg("contract feed stopped")
}

// Subscribe adds a token id to the active subscription set and, if
// connected, sends the subscribe message immediately.
func (f *ContractFeed) Subscribe(tokenID string) {
	f.mu.Lock()
	f.tokens[tokenID] = true
	conn := f.conn
	f.mu.Unlock()

	if conn != nil {
		f.sendSubscribe(conn)
	}
}

// Unsubscribe removes a token id from the active subscription set and
// drops its cached book. The websocket subscription itself is refreshed
// wholesale on the next reconnect / explicit resubscribe.
func (f *ContractFeed) Unsubscribe(tokenID string) {
	f.mu.Lock()
	delete(f.tokens, tokenID)
	delete(f.orderbooks, tokenID)
	conn := f.conn
	f.mu.Unlock()

	if conn != nil {
		f.sendSubscribe(conn)
	}
}

// Updates returns the stream of normalized book ticks.
func (f *ContractFeed) Updates() <-chan strategy.BookUpdate {
	return f.out
}

func (f *ContractFeed) connectionLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		if err := f.connect(); err != nil {
			log.Error().Err(err).Msg("contract feed connect failed, retrying")
			time.Sleep(feedReconnectDelay)
			continue
		}

		f.readLoop()
		time.Sleep(feedReconnectDelay)
	}
}

func (f *ContractFeed) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	f.mu.Unlock()

	log.Info().Msg("🔌 contract feed websocket connected")
	f.sendSubscribe(conn)
	go f.pingLoop(conn)
	return nil
}

// sendSubscribe re-sends the full current token set. The CLOB subscribe
// message takes the complete assets_ids list, so resubscribing after any
// Subscribe/Unsubscribe or reconnect is always a full replace, never a diff.
func (f *ContractFeed) sendSubscribe(conn *websocket.Conn) {
	f.mu.RLock()
	ids := make([]string, 0, len(f.tokens))
	for id := range f.tokens {
		ids = append(ids, id)
	}
	f.mu.RUnlock()

	if len(ids) == 0 {
		return
	}

	msg := map[string]interface{}{
		"type":       "subscribe",
		"assets_ids": ids,
		"channel":    "market",
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Warn().Err(err).Msg("failed to send subscribe message")
	}
}

func (f *ContractFeed) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.mu.RLock()
			connected := f.connected && f.conn == conn
			f.mu.RUnlock()
			if connected {
				conn.WriteMessage(websocket.PingMessage, nil)
			} else {
				return
			}
		}
	}
}

func (f *ContractFeed) readLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("contract feed read error")
			f.mu.Lock()
			f.connected = false
			f.mu.Unlock()
			return
		}
		f.processMessage(message)
	}
}

type wsBookMessage struct {
	EventType string          `json:"event_type"`
	Asset     string          `json:"asset_id"`
	Price     string          `json:"price"`
	Bids      [][]interface{} `json:"bids"`
	Asks      [][]interface{} `json:"asks"`
}

func (f *ContractFeed) processMessage(data []byte) {
	var msgs []wsBookMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		var msg wsBookMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		msgs = []wsBookMessage{msg}
	}

	for _, msg := range msgs {
		switch msg.EventType {
		case "book":
			f.handleBookUpdate(msg)
		case "price_change", "last_trade_price":
			f.handlePriceOnly(msg)
		}
	}
}

func (f *ContractFeed) handleBookUpdate(msg wsBookMessage) {
	f.mu.Lock()
	if !f.tokens[msg.Asset] {
		f.mu.Unlock()
		return
	}
	ob, exists := f.orderbooks[msg.Asset]
	if !exists {
		ob = NewOrderbook()
		f.orderbooks[msg.Asset] = ob
	}
	f.mu.Unlock()

	ob.UpdateFromWS(msg.Bids, msg.Asks)
	bidDepth, askDepth := ob.Depth(3)

	update := strategy.BookUpdate{
		TokenID:   msg.Asset,
		BestBid:   ob.BestBid(),
		BestAsk:   ob.BestAsk(),
		BidDepth:  bidDepth,
		AskDepth:  askDepth,
		Mid:       ob.Mid(),
		Timestamp: time.Now(),
	}
	f.emit(update)
}

func (f *ContractFeed) handlePriceOnly(msg wsBookMessage) {
	f.mu.RLock()
	subscribed := f.tokens[msg.Asset]
	f.mu.RUnlock()
	if !subscribed {
		return
	}

	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return
	}

	f.emit(strategy.BookUpdate{
		TokenID:   msg.Asset,
		Mid:       price,
		Timestamp: time.Now(),
	})
}

func (f *ContractFeed) emit(update strategy.BookUpdate) {
	select {
	case f.out <- update:
	default:
		// consumer backed up, drop the tick rather than block the read loop.
	}
}
