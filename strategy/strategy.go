package strategy

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/numerics"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STRATEGY - per-market latency-arb / certainty-arb signal generation
// ═══════════════════════════════════════════════════════════════════════════════

// SpotUpdate is a single tick from the consumed SpotFeed interface.
type SpotUpdate struct {
	Mid         decimal.Decimal
	Delta       decimal.Decimal
	RealizedVol decimal.Decimal // optional, per-day; zero means "not supplied"
	Timestamp   time.Time
}

// BookUpdate is a single tick from the consumed ContractBookClient event
// stream, already normalized to YES-equivalent mid by the upstream client.
type BookUpdate struct {
	TokenID   string
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	BidDepth  decimal.Decimal
	AskDepth  decimal.Decimal
	Mid       decimal.Decimal
	Timestamp time.Time
}

// BankrollGetter returns the live Risk bankroll. Sizing must always read
// through this injected getter, never a cached snapshot.
type BankrollGetter func() decimal.Decimal

// SpotFeed is the consumed per-asset spot price stream. Implementations
// own reconnect/gap handling; the router dedups subscriptions by asset.
type SpotFeed interface {
	Subscribe() <-chan SpotUpdate
	Asset() string
}

// Config holds the per-market thresholds a Strategy evaluates against.
// Loaded from environment in NewStrategy, matching this codebase's
// per-file env-helper convention rather than a single shared loader.
type Config struct {
	LatencyArbThreshold     decimal.Decimal // e.g. 0.05 for 5min windows
	CertaintyThreshold      decimal.Decimal // e.g. 0.15
	CertaintyMaxFraction    decimal.Decimal // e.g. 0.02 of bankroll
	ModelSaturationCap      decimal.Decimal // 0.90
	MinFeedLagMs            int64           // 1000
	MaxFeedLagMs            int64           // 5000
	CertaintyWindowSeconds  float64         // 90
	CertaintyMinSidePrice   decimal.Decimal // 0.15
	CertaintyExpiryBuffer   time.Duration   // small buffer before endDate
	WindowDuration          time.Duration   // e.g. 5 or 15 minutes
	VolEmaHalfLifeSamples   int
	SpotEmaHalfLifeSamples  int
	EdgeEmaHalfLifeSamples  int
	Risk                    numerics.RiskConfig
}

// DefaultConfig loads thresholds from the environment, falling back to
// sane defaults when unset.
func DefaultConfig() Config {
	return Config{
		LatencyArbThreshold:    envDecimal("STRAT_LATENCY_EDGE_THRESHOLD", 0.05),
		CertaintyThreshold:     envDecimal("STRAT_CERTAINTY_THRESHOLD", 0.15),
		CertaintyMaxFraction:   envDecimal("STRAT_CERTAINTY_MAX_FRACTION", 0.02),
		ModelSaturationCap:     envDecimal("STRAT_MODEL_SATURATION_CAP", 0.90),
		MinFeedLagMs:           int64(envInt("STRAT_MIN_FEED_LAG_MS", 1000)),
		MaxFeedLagMs:           int64(envInt("STRAT_MAX_FEED_LAG_MS", 5000)),
		CertaintyWindowSeconds: envFloat("STRAT_CERTAINTY_WINDOW_SEC", 90),
		CertaintyMinSidePrice:  envDecimal("STRAT_CERTAINTY_MIN_SIDE_PRICE", 0.15),
		CertaintyExpiryBuffer: time.Duration(envInt("STRAT_CERTAINTY_EXPIRY_BUFFER_SEC", 3)) * time.Second,
		WindowDuration:        time.Duration(envInt("STRAT_WINDOW_DURATION_SEC", 300)) * time.Second,
		VolEmaHalfLifeSamples:  envInt("STRAT_VOL_EMA_HALFLIFE", 20),
		SpotEmaHalfLifeSamples: envInt("STRAT_SPOT_EMA_HALFLIFE", 20),
		EdgeEmaHalfLifeSamples: envInt("STRAT_EDGE_EMA_HALFLIFE", 10),
		Risk: numerics.RiskConfig{
			MaxBetFraction: envDecimal("RISK_MAX_BET_FRACTION", 0.05),
			MaxPositionUSD: envDecimal("RISK_MAX_POSITION_USD", 500),
			SlippageBps:    envDecimal("RISK_SLIPPAGE_BPS", 50),
			FeeBps:         envDecimal("RISK_FEE_BPS", 20),
		},
	}
}

// Strategy holds the per-market rolling state described in spec §4.4: vol
// EMA, spot EMA, smoothed edge EMA, dynamic strike capture, and the
// signal-generation protocol dispatched by seconds-to-expiry.
type Strategy struct {
	mu sync.Mutex

	cfg      Config
	bankroll BankrollGetter
	label    string

	tokenIDYes string
	tokenIDNo  string

	spotPrice       decimal.Decimal
	spotDelta       decimal.Decimal
	lastSpotUpdate  time.Time

	contractMid       decimal.Decimal
	contractBestBid   decimal.Decimal
	contractBestAsk   decimal.Decimal
	contractBidDepth  decimal.Decimal
	contractAskDepth  decimal.Decimal
	lastContractUpdate time.Time

	volEma   *numerics.EMA
	spotEma  *numerics.EMA
	edgeEma  *numerics.EMA

	marketEndDate     time.Time
	marketWindowStart time.Time
	marketOpenStrike  decimal.Decimal
	strikeCaptured    bool
	marketSetCount    int

	signalCount int
	edgeStats   *numerics.RunningStats
	lagStats    *numerics.RunningStats
}

// NewStrategy constructs a Strategy for a single (asset, window) market,
// with sizing wired to a live bankroll getter injected by the Engine.
func NewStrategy(label string, cfg Config, bankroll BankrollGetter) *Strategy {
	return &Strategy{
		cfg:       cfg,
		bankroll:  bankroll,
		label:     label,
		volEma:    numerics.NewEMA(cfg.VolEmaHalfLifeSamples),
		spotEma:   numerics.NewEMA(cfg.SpotEmaHalfLifeSamples),
		edgeEma:   numerics.NewEMA(cfg.EdgeEmaHalfLifeSamples),
		edgeStats: numerics.NewRunningStats(),
		lagStats:  numerics.NewRunningStats(),
	}
}

// SetMarket rotates the strategy onto a new contract pair. The strike is
// reset and will be (re)captured on the next in-window spot tick.
func (s *Strategy) SetMarket(tokenIDYes, tokenIDNo string, endDate time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokenIDYes = tokenIDYes
	s.tokenIDNo = tokenIDNo
	s.marketEndDate = endDate
	s.marketWindowStart = endDate.Add(-s.cfg.WindowDuration)
	s.marketOpenStrike = decimal.Zero
	s.strikeCaptured = false
	s.marketSetCount++

	log.Info().
		Str("label", s.label).
		Str("token_yes", tokenIDYes).
		Time("window_start", s.marketWindowStart).
		Time("end_date", endDate).
		Msg("🔄 strategy rotated to new market")
}

// Label returns the market label this strategy is currently bound to.
func (s *Strategy) Label() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.label
}

// TokenIDs returns the YES/NO token ids currently bound.
func (s *Strategy) TokenIDs() (yes, no string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenIDYes, s.tokenIDNo
}

// OnSpotUpdate folds a spot tick into state and re-evaluates for a signal.
func (s *Strategy) OnSpotUpdate(u SpotUpdate) *Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spotPrice = u.Mid
	s.spotDelta = u.Delta
	s.lastSpotUpdate = u.Timestamp

	if !s.strikeCaptured && !s.marketWindowStart.IsZero() && !u.Timestamp.Before(s.marketWindowStart) {
		s.marketOpenStrike = u.Mid
		s.strikeCaptured = true
		log.Debug().Str("label", s.label).Str("strike", u.Mid.String()).Msg("strike captured")
	}

	vol := u.RealizedVol
	if !vol.IsPositive() {
		// fallback: derive a day-normalized vol estimate from the tick
		// delta, assuming roughly one tick per second.
		ticksPerDay := decimal.NewFromInt(86400)
		vol = u.Delta.Abs().Mul(sqrtDecimalApprox(ticksPerDay))
	}
	s.volEma.Update(vol)
	s.spotEma.Update(u.Mid)

	return s.evaluate(u.Timestamp)
}

// OnContractUpdate folds a contract book tick into state and re-evaluates.
func (s *Strategy) OnContractUpdate(b BookUpdate) *Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contractMid = b.Mid
	s.contractBestBid = b.BestBid
	s.contractBestAsk = b.BestAsk
	s.contractBidDepth = b.BidDepth
	s.contractAskDepth = b.AskDepth
	s.lastContractUpdate = b.Timestamp

	if !s.lastSpotUpdate.IsZero() {
		lagMs := b.Timestamp.Sub(s.lastSpotUpdate).Abs().Milliseconds()
		s.lagStats.Push(decimal.NewFromInt(lagMs))
	}

	return s.evaluate(b.Timestamp)
}

// evaluate runs the signal-generation protocol. Preconditions P1-P5 from
// spec §4.4 gate every path; any failure yields no signal.
func (s *Strategy) evaluate(now time.Time) *Signal {
	if !s.spotPrice.IsPositive() || !s.contractMid.IsPositive() { // P1
		return nil
	}
	if s.marketSetCount <= 1 { // P2 startup suppression
		return nil
	}
	if s.marketWindowStart.IsZero() || now.Before(s.marketWindowStart) { // P3
		return nil
	}
	if !s.strikeCaptured || !s.marketOpenStrike.IsPositive() { // P4
		return nil
	}

	secondsToExpiry := s.marketEndDate.Sub(now).Seconds()
	if secondsToExpiry < 5 { // P5 (hoursToExpiry >= 5s)
		return nil
	}
	hoursToExpiry := decimal.NewFromFloat(secondsToExpiry / 3600.0)

	vol := s.volEma.Value()
	if !vol.IsPositive() {
		vol = decimal.NewFromFloat(0.01)
	}

	modelProb := numerics.ImpliedProbability(s.spotPrice, s.marketOpenStrike, vol, hoursToExpiry)
	edge := numerics.CalculateEdge(modelProb, s.contractMid)
	smoothedEdge := s.edgeEma.Update(edge.Absolute)
	s.edgeStats.Push(edge.Absolute)

	feedLagMs := int64(0)
	if !s.lastSpotUpdate.IsZero() {
		feedLagMs = now.Sub(s.lastSpotUpdate).Abs().Milliseconds()
	}

	if secondsToExpiry > s.cfg.CertaintyWindowSeconds {
		return s.evaluateLatencyArb(modelProb, edge, smoothedEdge, feedLagMs, hoursToExpiry)
	}
	return s.evaluateCertaintyArb(modelProb, edge, hoursToExpiry, now)
}

func (s *Strategy) evaluateLatencyArb(modelProb decimal.Decimal, edge numerics.Edge, smoothedEdge decimal.Decimal, feedLagMs int64, hoursToExpiry decimal.Decimal) *Signal {
	if smoothedEdge.LessThan(s.cfg.LatencyArbThreshold) {
		return nil
	}
	if edge.Absolute.LessThan(s.cfg.LatencyArbThreshold) {
		return nil
	}
	if feedLagMs <= s.cfg.MinFeedLagMs {
		return nil
	}
	if feedLagMs > s.cfg.MaxFeedLagMs {
		return nil
	}
	if modelProb.GreaterThan(s.cfg.ModelSaturationCap) {
		return nil
	}

	return s.buildSignal(modelProb, edge, hoursToExpiry, feedLagMs, false, time.Time{})
}

func (s *Strategy) evaluateCertaintyArb(modelProb decimal.Decimal, edge numerics.Edge, hoursToExpiry decimal.Decimal, now time.Time) *Signal {
	if edge.Absolute.LessThan(s.cfg.CertaintyThreshold) {
		return nil
	}

	sidePrice := s.contractMid
	if edge.Direction == numerics.BuyNo {
		sidePrice = decimal.NewFromInt(1).Sub(s.contractMid)
	}
	if sidePrice.LessThan(s.cfg.CertaintyMinSidePrice) {
		return nil
	}

	expiresAt := s.marketEndDate.Add(-s.cfg.CertaintyExpiryBuffer)
	return s.buildSignal(modelProb, edge, hoursToExpiry, 0, true, expiresAt)
}

func (s *Strategy) buildSignal(modelProb decimal.Decimal, edge numerics.Edge, hoursToExpiry decimal.Decimal, feedLagMs int64, isCertainty bool, expiresAt time.Time) *Signal {
	bankroll := s.bankroll()

	riskCfg := s.cfg.Risk
	if isCertainty {
		riskCfg.MaxBetFraction = s.cfg.CertaintyMaxFraction
	}

	sizing, ok := numerics.CalculatePositionSize(bankroll, edge, s.contractMid, riskCfg)
	if !ok {
		return nil
	}

	entryPrice, liquidity, tokenID := s.entryPriceAndLiquidity(edge.Direction)
	if !entryPrice.IsPositive() {
		return nil
	}

	b := NewSignal().
		TokenID(tokenID).
		Direction(edge.Direction).
		EntryPrice(entryPrice).
		Size(sizing.NetSize).
		Edge(edge.Absolute).
		ModelProb(modelProb).
		ContractPrice(s.contractMid).
		SpotPrice(s.spotPrice).
		StrikePrice(s.marketOpenStrike).
		FeedLagMs(feedLagMs).
		AvailableLiquidity(liquidity).
		HoursToExpiry(hoursToExpiry).
		Label(s.label)

	if isCertainty {
		b = b.Certainty(expiresAt)
	}

	s.signalCount++
	return b.Build()
}

// entryPriceAndLiquidity computes the entry price and the resting
// liquidity we'd cross, per direction: BUY_YES crosses bestAsk,
// BUY_NO crosses (1 - bestBid) on the YES book.
func (s *Strategy) entryPriceAndLiquidity(dir numerics.Direction) (price, liquidity decimal.Decimal, tokenID string) {
	switch dir {
	case numerics.BuyYes:
		price = s.contractBestAsk
		if !price.IsPositive() {
			halfSpread := s.contractBestAsk.Sub(s.contractBestBid).Div(decimal.NewFromInt(2))
			price = s.contractMid.Add(halfSpread)
		}
		return price, s.contractAskDepth, s.tokenIDYes
	default: // BuyNo
		if s.contractBestBid.IsPositive() {
			price = decimal.NewFromInt(1).Sub(s.contractBestBid)
		} else {
			halfSpread := s.contractBestAsk.Sub(s.contractBestBid).Div(decimal.NewFromInt(2))
			price = decimal.NewFromInt(1).Sub(s.contractMid.Sub(halfSpread))
		}
		return price, s.contractBidDepth, s.tokenIDNo
	}
}

// SignalCount returns how many signals this strategy has emitted.
func (s *Strategy) SignalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signalCount
}

// sqrtDecimalApprox is a cheap Newton's-method sqrt for the vol fallback
// estimate, matching the decimal sqrt idiom used throughout this codebase.
func sqrtDecimalApprox(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() || d.IsNegative() {
		return decimal.Zero
	}
	x := d
	for i := 0; i < 16; i++ {
		x = x.Add(d.Div(x)).Div(decimal.NewFromInt(2))
	}
	return x
}

// ═══════════════════════════════════════════════════════════════════════════════
// ENV HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func envDecimal(key string, fallback float64) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	return decimal.NewFromFloat(fallback)
}

func envInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}
