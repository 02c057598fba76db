package feeds

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/core"
)

func TestSubscribeUnsubscribeTrackTokenSet(t *testing.T) {
	f := NewContractFeed()
	f.Subscribe("tok-yes")
	f.Subscribe("tok-no")

	if !f.tokens["tok-yes"] || !f.tokens["tok-no"] {
		t.Fatalf("expected both tokens to be tracked as subscribed")
	}

	f.Unsubscribe("tok-yes")
	if f.tokens["tok-yes"] {
		t.Fatalf("expected tok-yes to be removed from the subscription set")
	}
	if _, ok := f.orderbooks["tok-yes"]; ok {
		t.Fatalf("expected tok-yes's cached orderbook to be dropped on unsubscribe")
	}
}

func TestHandleBookUpdateIgnoresUnsubscribedTokens(t *testing.T) {
	f := NewContractFeed()
	f.Subscribe("tok-yes")

	f.handleBookUpdate(wsBookMessage{
		EventType: "book",
		Asset:     "tok-other",
		Bids:      [][]interface{}{{"0.5", "10"}},
		Asks:      [][]interface{}{{"0.6", "10"}},
	})

	select {
	case u := <-f.Updates():
		t.Fatalf("expected no update for an unsubscribed token, got %+v", u)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandleBookUpdateEmitsNormalizedTick(t *testing.T) {
	f := NewContractFeed()
	f.Subscribe("tok-yes")

	f.handleBookUpdate(wsBookMessage{
		EventType: "book",
		Asset:     "tok-yes",
		Bids:      [][]interface{}{{"0.50", "10"}},
		Asks:      [][]interface{}{{"0.52", "10"}},
	})

	select {
	case u := <-f.Updates():
		if u.TokenID != "tok-yes" {
			t.Fatalf("expected token id tok-yes, got %s", u.TokenID)
		}
		if !u.BestBid.Equal(decimal.NewFromFloat(0.50)) || !u.BestAsk.Equal(decimal.NewFromFloat(0.52)) {
			t.Fatalf("unexpected bid/ask: %s/%s", u.BestBid, u.BestAsk)
		}
		if !u.Mid.Equal(decimal.NewFromFloat(0.51)) {
			t.Fatalf("expected mid 0.51, got %s", u.Mid)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a book update to be emitted")
	}
}

var _ core.ContractFeed = (*ContractFeed)(nil)
