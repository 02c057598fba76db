package numerics

import (
	"sync"

	"github.com/shopspring/decimal"
)

// RunningStats is a Welford online mean/variance accumulator. It avoids
// the catastrophic-cancellation that a naive sum-of-squares computation
// suffers under long-running decimal accumulation.
type RunningStats struct {
	mu    sync.RWMutex
	n     int64
	mean  decimal.Decimal
	m2    decimal.Decimal // sum of squared deviations from the running mean
	total decimal.Decimal
}

// NewRunningStats returns an empty accumulator.
func NewRunningStats() *RunningStats {
	return &RunningStats{}
}

// Push folds a new observation into the running mean/variance.
func (r *RunningStats) Push(x decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.n++
	r.total = r.total.Add(x)
	delta := x.Sub(r.mean)
	r.mean = r.mean.Add(delta.Div(decimal.NewFromInt(r.n)))
	delta2 := x.Sub(r.mean)
	r.m2 = r.m2.Add(delta.Mul(delta2))
}

// N returns the number of observations pushed so far.
func (r *RunningStats) N() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}

// Mean returns the running mean. Zero when N == 0.
func (r *RunningStats) Mean() decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mean
}

// Sum returns the running sum of all observations.
func (r *RunningStats) Sum() decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Variance returns the population variance. Zero when N < 2.
func (r *RunningStats) Variance() decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.n < 2 {
		return decimal.Zero
	}
	return r.m2.Div(decimal.NewFromInt(r.n))
}

// Stdev returns the population standard deviation. Zero when N < 2.
func (r *RunningStats) Stdev() decimal.Decimal {
	return sqrtDecimal(r.Variance())
}

// Sharpe returns mean/stdev. Only defined (non-zero, ok=true) when N >= 2
// and stdev > 0.
func (r *RunningStats) Sharpe() (decimal.Decimal, bool) {
	r.mu.RLock()
	n := r.n
	mean := r.mean
	r.mu.RUnlock()

	if n < 2 {
		return decimal.Zero, false
	}
	sd := r.Stdev()
	if !sd.IsPositive() {
		return decimal.Zero, false
	}
	return mean.Div(sd), true
}

// sqrtDecimal computes a square root via Newton's method, matching the
// precision the rest of this codebase's decimal stats use.
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() || d.IsNegative() {
		return decimal.Zero
	}
	x := d
	for i := 0; i < 24; i++ {
		x = x.Add(d.Div(x)).Div(decimal.NewFromInt(2))
	}
	return x
}
