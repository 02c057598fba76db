package risk

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/numerics"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SIZER - alternate sizing mode using observed track record
// ═══════════════════════════════════════════════════════════════════════════════
//
// numerics.CalculatePositionSize is the spec-mandated model-probability
// Kelly formula. Once a strategy has enough trade history, a track-record
// Kelly estimate (win rate / avg win-loss ratio observed so far) can be a
// better-calibrated alternative; this type offers that as an opt-in mode,
// never as the default.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Sizer struct {
	cfg numerics.RiskConfig
}

func NewSizer(cfg numerics.RiskConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// CalculateWithTrackRecord sizes from observed winRate/avgWinLoss when
// there's enough history (avgWinLoss > 0); otherwise it falls back to
// the model-probability Kelly formula via numerics.CalculatePositionSize.
func (s *Sizer) CalculateWithTrackRecord(bankroll decimal.Decimal, edge numerics.Edge, contractPrice, winRate, avgWinLoss decimal.Decimal) (numerics.PositionSize, bool) {
	if !avgWinLoss.IsPositive() {
		return numerics.CalculatePositionSize(bankroll, edge, contractPrice, s.cfg)
	}

	one := decimal.NewFromInt(1)
	kellyPct := winRate.Sub(one.Sub(winRate).Div(avgWinLoss))
	halfKelly := kellyPct.Div(decimal.NewFromInt(2))
	if halfKelly.GreaterThan(s.cfg.MaxBetFraction) {
		halfKelly = s.cfg.MaxBetFraction
	}
	if halfKelly.IsNegative() {
		return numerics.PositionSize{}, false
	}

	rawSize := bankroll.Mul(halfKelly)
	if s.cfg.MaxPositionUSD.IsPositive() && rawSize.GreaterThan(s.cfg.MaxPositionUSD) {
		rawSize = s.cfg.MaxPositionUSD
	}

	bps := decimal.NewFromInt(10000)
	slippage := rawSize.Mul(s.cfg.SlippageBps).Div(bps)
	fee := rawSize.Mul(s.cfg.FeeBps).Div(bps)
	netSize := rawSize.Sub(slippage).Sub(fee)
	if !netSize.IsPositive() {
		return numerics.PositionSize{}, false
	}

	return numerics.PositionSize{
		NetSize:  netSize,
		RawSize:  rawSize,
		Kelly:    kellyPct,
		Slippage: slippage,
		Fee:      fee,
	}, true
}
