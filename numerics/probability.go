package numerics

import (
	"math"

	"github.com/shopspring/decimal"
)

// Direction is the side a signal or trade would take in the underlying
// YES-token space.
type Direction string

const (
	BuyYes Direction = "BUY_YES"
	BuyNo  Direction = "BUY_NO"
)

// minHoursToExpiry is the floor applied to hoursToExpiry before it is fed
// into the d2 computation, so a contract seconds from expiry never drives
// sigma*sqrt(T) to zero and blows up d2.
const minHoursToExpiry = 30.0 / 3600.0 // 30 seconds, expressed in hours

// normalCDF is the Abramowitz & Stegun rational approximation to the
// standard normal CDF (formula 26.2.17). Accurate to ~7.5e-8, which is
// more than enough precision for a probability feeding a sizing decision.
// Not exported: implied_probability is the only caller.
func normalCDF(x float64) float64 {
	if x < 0 {
		return 1 - normalCDF(-x)
	}
	const (
		a1 = 0.319381530
		a2 = -0.356563782
		a3 = 1.781477937
		a4 = -1.821255978
		a5 = 1.330274429
		p  = 0.2316419
	)
	t := 1 / (1 + p*x)
	poly := t * (a1 + t*(a2+t*(a3+t*(a4+t*a5))))
	phi := math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
	return 1 - phi*poly
}

// ImpliedProbability is the textbook binary-option N(d2) calculation: the
// risk-neutral probability that a log-normal spot finishes above strike
// at expiry. sigmaDaily is the annualized-to-daily volatility estimate;
// hoursToExpiry is clamped to a 30s floor so the computation never
// divides by an effectively-zero sigma*sqrt(T).
func ImpliedProbability(spot, strike, sigmaDaily, hoursToExpiry decimal.Decimal) decimal.Decimal {
	if !spot.IsPositive() || !strike.IsPositive() {
		return decimal.NewFromFloat(0.5)
	}

	hours, _ := hoursToExpiry.Float64()
	if hours < minHoursToExpiry {
		hours = minHoursToExpiry
	}
	days := hours / 24.0

	sigma, _ := sigmaDaily.Float64()
	if sigma <= 0 {
		sigma = 1e-6
	}

	sqrtT := math.Sqrt(days)
	sigmaSqrtT := sigma * sqrtT
	if sigmaSqrtT <= 0 {
		sigmaSqrtT = 1e-9
	}

	spotF, _ := spot.Float64()
	strikeF, _ := strike.Float64()

	d2 := (math.Log(spotF/strikeF) - 0.5*sigma*sigma*days) / sigmaSqrtT
	if math.IsNaN(d2) || math.IsInf(d2, 0) {
		return decimal.NewFromFloat(0.5)
	}

	p := normalCDF(d2)
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return decimal.NewFromFloat(p)
}

// Edge is the result of calculate_edge: a direction and a magnitude in
// probability units.
type Edge struct {
	Absolute  decimal.Decimal
	Direction Direction
}

// CalculateEdge compares the model probability to the observed contract
// price (both in YES space) and returns the signed opportunity.
func CalculateEdge(modelProb, contractPrice decimal.Decimal) Edge {
	if modelProb.GreaterThan(contractPrice) {
		return Edge{Absolute: modelProb.Sub(contractPrice), Direction: BuyYes}
	}
	return Edge{Absolute: contractPrice.Sub(modelProb), Direction: BuyNo}
}

// KellyFraction computes f* = (p(b+1) - 1) / b, clamped to >= 0. prob is
// the win probability, odds is the decimal payout multiple b (profit per
// unit staked on a win).
func KellyFraction(prob, odds decimal.Decimal) decimal.Decimal {
	if !odds.IsPositive() {
		return decimal.Zero
	}
	one := decimal.NewFromInt(1)
	numerator := prob.Mul(odds.Add(one)).Sub(one)
	f := numerator.Div(odds)
	if f.IsNegative() {
		return decimal.Zero
	}
	return f
}

// RiskConfig carries the sizing limits and cost assumptions that
// calculate_position_size enforces.
type RiskConfig struct {
	MaxBetFraction decimal.Decimal // fraction of bankroll, e.g. 0.05
	MaxPositionUSD decimal.Decimal
	SlippageBps    decimal.Decimal
	FeeBps         decimal.Decimal
}

// PositionSize is the result of calculate_position_size.
type PositionSize struct {
	NetSize  decimal.Decimal
	RawSize  decimal.Decimal
	Kelly    decimal.Decimal
	Odds     decimal.Decimal
	Slippage decimal.Decimal
	Fee      decimal.Decimal
}

// CalculatePositionSize computes half-Kelly sizing against a contract
// price, caps it by the configured bankroll fraction and absolute USD
// ceiling, and deducts modeled fee+slippage. Returns ok=false when the
// resulting net size is <= 0.
func CalculatePositionSize(bankroll decimal.Decimal, edge Edge, contractPrice decimal.Decimal, cfg RiskConfig) (PositionSize, bool) {
	price := contractPrice
	if edge.Direction == BuyNo {
		price = decimal.NewFromInt(1).Sub(contractPrice)
	}
	if !price.IsPositive() {
		return PositionSize{}, false
	}

	// odds b: profit per unit staked if the bet resolves in our favor,
	// i.e. (1 - price) / price for a binary contract priced in [0,1].
	odds := decimal.NewFromInt(1).Sub(price).Div(price)
	prob := price.Add(edge.Absolute)
	if prob.GreaterThan(decimal.NewFromInt(1)) {
		prob = decimal.NewFromInt(1)
	}

	kelly := KellyFraction(prob, odds)
	halfKelly := kelly.Div(decimal.NewFromInt(2))

	rawSize := bankroll.Mul(halfKelly)

	maxByFraction := bankroll.Mul(cfg.MaxBetFraction)
	if rawSize.GreaterThan(maxByFraction) {
		rawSize = maxByFraction
	}
	if cfg.MaxPositionUSD.IsPositive() && rawSize.GreaterThan(cfg.MaxPositionUSD) {
		rawSize = cfg.MaxPositionUSD
	}

	bps := decimal.NewFromInt(10000)
	slippage := rawSize.Mul(cfg.SlippageBps).Div(bps)
	fee := rawSize.Mul(cfg.FeeBps).Div(bps)

	netSize := rawSize.Sub(slippage).Sub(fee)
	if !netSize.IsPositive() {
		return PositionSize{}, false
	}

	return PositionSize{
		NetSize:  netSize,
		RawSize:  rawSize,
		Kelly:    kelly,
		Odds:     odds,
		Slippage: slippage,
		Fee:      fee,
	}, true
}
