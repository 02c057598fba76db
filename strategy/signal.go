package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/numerics"
)

// Direction mirrors numerics.Direction so callers outside this package
// don't need to import numerics just to read a signal's side.
type Direction = numerics.Direction

const (
	BuyYes = numerics.BuyYes
	BuyNo  = numerics.BuyNo
)

// Signal is the value object a Strategy emits on an evaluation that
// clears every gate. It is created, consumed, and discarded within a
// single evaluation — nothing downstream retains a pointer to it past
// the trade's immutable snapshot.
type Signal struct {
	TokenID             string
	Direction           Direction
	EntryPrice          decimal.Decimal
	Size                decimal.Decimal
	Edge                decimal.Decimal
	ModelProb           decimal.Decimal
	ContractPrice       decimal.Decimal
	SpotPrice           decimal.Decimal
	StrikePrice         decimal.Decimal
	FeedLagMs           int64
	AvailableLiquidity  decimal.Decimal
	HoursToExpiry       decimal.Decimal
	Label               string
	IsCertainty         bool
	ExpiresAt           time.Time
}

// Validate reports whether a signal is well-formed enough to reach Risk.
func (s *Signal) Validate() bool {
	if s.TokenID == "" || s.Label == "" {
		return false
	}
	if !s.EntryPrice.IsPositive() || s.EntryPrice.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return false
	}
	if !s.Size.IsPositive() {
		return false
	}
	if s.HoursToExpiry.LessThanOrEqual(decimal.Zero) {
		return false
	}
	return true
}

// SignalBuilder constructs a Signal field by field, matching the
// builder idiom used elsewhere in this codebase for value objects
// assembled from several independent inputs.
type SignalBuilder struct {
	s *Signal
}

func NewSignal() *SignalBuilder {
	return &SignalBuilder{s: &Signal{}}
}

func (b *SignalBuilder) TokenID(id string) *SignalBuilder          { b.s.TokenID = id; return b }
func (b *SignalBuilder) Direction(d Direction) *SignalBuilder      { b.s.Direction = d; return b }
func (b *SignalBuilder) EntryPrice(p decimal.Decimal) *SignalBuilder {
	b.s.EntryPrice = p
	return b
}
func (b *SignalBuilder) Size(sz decimal.Decimal) *SignalBuilder { b.s.Size = sz; return b }
func (b *SignalBuilder) Edge(e decimal.Decimal) *SignalBuilder  { b.s.Edge = e; return b }
func (b *SignalBuilder) ModelProb(p decimal.Decimal) *SignalBuilder {
	b.s.ModelProb = p
	return b
}
func (b *SignalBuilder) ContractPrice(p decimal.Decimal) *SignalBuilder {
	b.s.ContractPrice = p
	return b
}
func (b *SignalBuilder) SpotPrice(p decimal.Decimal) *SignalBuilder {
	b.s.SpotPrice = p
	return b
}
func (b *SignalBuilder) StrikePrice(p decimal.Decimal) *SignalBuilder {
	b.s.StrikePrice = p
	return b
}
func (b *SignalBuilder) FeedLagMs(ms int64) *SignalBuilder { b.s.FeedLagMs = ms; return b }
func (b *SignalBuilder) AvailableLiquidity(l decimal.Decimal) *SignalBuilder {
	b.s.AvailableLiquidity = l
	return b
}
func (b *SignalBuilder) HoursToExpiry(h decimal.Decimal) *SignalBuilder {
	b.s.HoursToExpiry = h
	return b
}
func (b *SignalBuilder) Label(l string) *SignalBuilder { b.s.Label = l; return b }
func (b *SignalBuilder) Certainty(expiresAt time.Time) *SignalBuilder {
	b.s.IsCertainty = true
	b.s.ExpiresAt = expiresAt
	return b
}
func (b *SignalBuilder) Build() *Signal { return b.s }
