package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/strategy"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FILL TRACKER - historical fill-rate buckets keyed by (spread, depth)
// ═══════════════════════════════════════════════════════════════════════════════
//
// A companion component to the Risk Manager: exposed for observability
// and as an optional pre-trade gate, not wired into canTrade by default.
//
// ═══════════════════════════════════════════════════════════════════════════════

type spreadBucket string
type depthBucket string

const (
	spreadNarrow spreadBucket = "narrow" // < 2c
	spreadMedium spreadBucket = "medium" // <= 5c
	spreadWide   spreadBucket = "wide"   // > 5c

	depthThin depthBucket = "thin" // < 20
	depthOK   depthBucket = "ok"   // <= 100
	depthDeep depthBucket = "deep" // > 100
)

type fillCounts struct {
	total  int
	filled int
}

// FillTracker buckets historical fill outcomes by spread and depth so
// the engine can estimate how likely an order at similar book
// conditions is to actually fill.
type FillTracker struct {
	mu      sync.Mutex
	buckets map[string]*fillCounts
}

func NewFillTracker() *FillTracker {
	return &FillTracker{buckets: make(map[string]*fillCounts)}
}

// FillStatus mirrors execution.FillStatus without importing the
// execution package -- FillTracker only needs to know MATCHED/PARTIAL
// count as "filled" for the purposes of this bucket store.
type FillStatus string

const (
	FillMatched   FillStatus = "MATCHED"
	FillPartial   FillStatus = "PARTIAL"
	FillCancelled FillStatus = "CANCELLED"
	FillTimeout   FillStatus = "TIMEOUT"
)

// Record increments the bucket's total, and its filled count when status
// indicates any fill occurred.
func (ft *FillTracker) Record(signal *strategy.Signal, status FillStatus) {
	key := bucketKey(signal)

	ft.mu.Lock()
	defer ft.mu.Unlock()

	c, ok := ft.buckets[key]
	if !ok {
		c = &fillCounts{}
		ft.buckets[key] = c
	}
	c.total++
	if status == FillMatched || status == FillPartial {
		c.filled++
	}
}

// FillProbability returns 1.0 when the bucket has fewer than 10 samples
// (insufficient data to estimate), else the observed filled/total ratio.
func (ft *FillTracker) FillProbability(signal *strategy.Signal) decimal.Decimal {
	key := bucketKey(signal)

	ft.mu.Lock()
	defer ft.mu.Unlock()

	c, ok := ft.buckets[key]
	if !ok || c.total < 10 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(int64(c.filled)).Div(decimal.NewFromInt(int64(c.total)))
}

// Samples returns the total number of outcomes recorded across every
// bucket, for dashboards that want to show how much history backs the
// probability below.
func (ft *FillTracker) Samples() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	total := 0
	for _, c := range ft.buckets {
		total += c.total
	}
	return total
}

// OverallFillProbability aggregates filled/total across every bucket,
// for a single process-wide number to surface alongside FillRate. Like
// FillProbability, it defaults to 1.0 until enough history exists.
func (ft *FillTracker) OverallFillProbability() decimal.Decimal {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	var total, filled int
	for _, c := range ft.buckets {
		total += c.total
		filled += c.filled
	}
	if total < 10 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(int64(filled)).Div(decimal.NewFromInt(int64(total)))
}

func bucketKey(signal *strategy.Signal) string {
	return string(classifySpread(signal)) + "/" + string(classifyDepth(signal))
}

func classifySpread(signal *strategy.Signal) spreadBucket {
	// entryPrice - contractPrice approximates the half-spread crossed;
	// scale to cents for the bucket thresholds.
	spreadCents := signal.EntryPrice.Sub(signal.ContractPrice).Abs().Mul(decimal.NewFromInt(100))
	switch {
	case spreadCents.LessThan(decimal.NewFromInt(2)):
		return spreadNarrow
	case spreadCents.LessThanOrEqual(decimal.NewFromInt(5)):
		return spreadMedium
	default:
		return spreadWide
	}
}

func classifyDepth(signal *strategy.Signal) depthBucket {
	switch {
	case signal.AvailableLiquidity.LessThan(decimal.NewFromInt(20)):
		return depthThin
	case signal.AvailableLiquidity.LessThanOrEqual(decimal.NewFromInt(100)):
		return depthOK
	default:
		return depthDeep
	}
}
