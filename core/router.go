package core

import (
	"sync"

	"github.com/web3guy0/polyarb/strategy"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ROUTER - tokenId -> Strategy binding and contract-book fan-in
// ═══════════════════════════════════════════════════════════════════════════════
//
// Invariant I5: for any tokenId, at most one Strategy is bound at any
// instant. Rebind replaces both the old and new bindings under a single
// lock acquisition so rotation is atomic from a reader's perspective.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Router struct {
	mu   sync.RWMutex
	byID map[string]*strategy.Strategy
}

func NewRouter() *Router {
	return &Router{byID: make(map[string]*strategy.Strategy)}
}

// Bind registers a Strategy's YES/NO token ids at startup or after a
// rotation's new pair is known.
func (r *Router) Bind(tokenIDYes, tokenIDNo string, strat *strategy.Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindLocked(tokenIDYes, tokenIDNo, strat)
}

func (r *Router) bindLocked(tokenIDYes, tokenIDNo string, strat *strategy.Strategy) {
	if tokenIDYes != "" {
		r.byID[tokenIDYes] = strat
	}
	if tokenIDNo != "" {
		r.byID[tokenIDNo] = strat
	}
}

// Rebind atomically removes the old token ids and installs the new pair
// for the same Strategy instance (I5).
func (r *Router) Rebind(oldYes, oldNo, newYes, newNo string, strat *strategy.Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, oldYes)
	delete(r.byID, oldNo)
	r.bindLocked(newYes, newNo, strat)
}

// Lookup returns the Strategy currently bound to tokenID, if any.
func (r *Router) Lookup(tokenID string) (*strategy.Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	strat, ok := r.byID[tokenID]
	return strat, ok
}

// Route forwards a contract book update to whichever Strategy currently
// owns that tokenID and returns any signal it produces.
func (r *Router) Route(update strategy.BookUpdate) *strategy.Signal {
	strat, ok := r.Lookup(update.TokenID)
	if !ok {
		return nil
	}
	return strat.OnContractUpdate(update)
}
