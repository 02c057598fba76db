package numerics

import (
	"sync"

	"github.com/shopspring/decimal"
)

// EMA is an exponential moving average with a half-life expressed in
// samples. The smoothing multiplier follows the standard period-based
// form: 2 / (period + 1).
type EMA struct {
	mu          sync.RWMutex
	multiplier  decimal.Decimal
	value       decimal.Decimal
	initialized bool
}

// NewEMA builds an EMA whose multiplier targets the given half-life in
// samples.
func NewEMA(halfLifeSamples int) *EMA {
	if halfLifeSamples < 1 {
		halfLifeSamples = 1
	}
	mult := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(halfLifeSamples + 1)))
	return &EMA{multiplier: mult}
}

// Update folds x into the running average and returns the new smoothed
// value. The first call seeds the average with x.
func (e *EMA) Update(x decimal.Decimal) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		e.value = x
		e.initialized = true
		return e.value
	}
	e.value = x.Sub(e.value).Mul(e.multiplier).Add(e.value)
	return e.value
}

// Value returns the last smoothed value without mutating state.
func (e *EMA) Value() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.value
}

// Initialized reports whether Update has been called at least once.
func (e *EMA) Initialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}
