// Package evaluator computes the profit/risk outcome of one triangular
// path against a set of order-book snapshots. Evaluate is a pure
// function: no I/O, no side effects, deterministic for identical inputs.
package evaluator

import (
	"fmt"
	"time"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/config"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/exchange/common"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/orderbook"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/paths"
)

type RiskFactor string

const (
	RiskSlippage  RiskFactor = "slippage_risk"
	RiskHighFees  RiskFactor = "high_fees"
	RiskLiquidity RiskFactor = "liquidity_risk"
)

type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	default:
		return "HIGH"
	}
}

type Recommendation string

const (
	RecommendExecute  Recommendation = "EXECUTE"
	RecommendCautious Recommendation = "CAUTIOUS"
	RecommendAvoid    Recommendation = "AVOID"
	RecommendError    Recommendation = "ERROR"
)

// InvalidAmountError rejects a start amount outside the configured order
// size bounds before any evaluation happens.
type InvalidAmountError struct {
	Amount, Min, Max float64
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("start amount %.2f outside allowed range %.2f..%.2f", e.Amount, e.Min, e.Max)
}

// MissingOrderBookError means the snapshot map lacks a pair the path needs.
type MissingOrderBookError struct {
	Pair string
}

func (e *MissingOrderBookError) Error() string { return fmt.Sprintf("no order book for %s", e.Pair) }

// NoLiquidityError means the book has no levels on the side a leg trades.
type NoLiquidityError struct {
	Pair string
	Side common.Side
}

func (e *NoLiquidityError) Error() string {
	return fmt.Sprintf("empty %s side on %s", e.Side, e.Pair)
}

// LegQuote is the per-leg breakdown inside an Opportunity.
type LegQuote struct {
	Pair               string      `json:"pair"`
	Side               common.Side `json:"side"`
	Price              float64     `json:"price"`
	InAmount           float64     `json:"in_amount"`
	OutAmount          float64     `json:"out_amount"`
	FeePercent         float64     `json:"fee_percent"`
	SlippagePercent    float64     `json:"slippage_percent"`
	LevelsUsed         int         `json:"levels_used"`
	PriceImpactPercent float64     `json:"price_impact_percent"`
}

// Opportunity is the immutable evaluation result for one path at one
// point in time.
type Opportunity struct {
	PathID               string         `json:"path_id"`
	StartCurrency        string         `json:"start_currency"`
	StartAmount          float64        `json:"start_amount"`
	EndAmount            float64        `json:"end_amount"`
	GrossProfit          float64        `json:"gross_profit"`
	NetProfit            float64        `json:"net_profit"`
	NetProfitPercent     float64        `json:"net_profit_percent"`
	Profitable           bool           `json:"profitable"`
	Legs                 []LegQuote     `json:"legs"`
	TotalFeesPercent     float64        `json:"total_fees_percent"`
	TotalSlippagePercent float64        `json:"total_slippage_percent"`
	RiskFactors          []RiskFactor   `json:"risk_factors"`
	RiskLevel            RiskLevel      `json:"risk_level"`
	Recommendation       Recommendation `json:"recommendation"`
	Err                  string         `json:"error,omitempty"`
	Timestamp            time.Time      `json:"timestamp"`
}

// ErrorOpportunity builds the ERROR-recommendation record used when a
// path cannot be evaluated; a batch scan over many paths must not abort
// because one path's book was missing or malformed.
func ErrorOpportunity(path paths.Path, startAmount float64, err error) Opportunity {
	return Opportunity{
		PathID:         path.ID,
		StartCurrency:  path.StartCurrency,
		StartAmount:    startAmount,
		Recommendation: RecommendError,
		Err:            err.Error(),
		Timestamp:      time.Now().UTC(),
	}
}

// Evaluate walks the three legs sequentially, each leg's output feeding
// the next leg's input. Fees and slippage haircuts are embedded per leg,
// so NetProfit is exactly EndAmount-StartAmount with no further
// deduction. Only an out-of-bounds start amount returns an error; every
// per-leg problem is folded into an ERROR-recommendation Opportunity.
func Evaluate(path paths.Path, books map[string]orderbook.Snapshot, startAmount float64, cfg config.EvalConfig) (Opportunity, error) {
	if startAmount < cfg.MinOrderSize || startAmount > cfg.MaxOrderSize {
		return Opportunity{}, &InvalidAmountError{Amount: startAmount, Min: cfg.MinOrderSize, Max: cfg.MaxOrderSize}
	}

	feeRate := cfg.TakerFeePercent / 100
	slipRate := cfg.SlippageBufferPercent / 100

	amount := startAmount
	legs := make([]LegQuote, 0, 3)
	var slippageTripped, liquidityTripped bool
	var totalFeesPct, totalSlipPct float64

	for _, leg := range path.Legs {
		book, ok := books[leg.Pair]
		if !ok {
			return ErrorOpportunity(path, startAmount, &MissingOrderBookError{Pair: leg.Pair}), nil
		}

		var levels []orderbook.Level
		if leg.Side == common.Buy {
			levels = book.Asks
		} else {
			levels = book.Bids
		}
		if len(levels) == 0 {
			return ErrorOpportunity(path, startAmount, &NoLiquidityError{Pair: leg.Pair, Side: leg.Side}), nil
		}
		best := levels[0].Price
		if best <= 0 {
			return ErrorOpportunity(path, startAmount, fmt.Errorf("malformed book for %s: non-positive best price", leg.Pair)), nil
		}

		var out, requiredQty float64
		if leg.Side == common.Buy {
			// fee comes off the amount paid before dividing by price
			out = amount * (1 - feeRate) / best
			requiredQty = amount / best
		} else {
			out = amount * best * (1 - feeRate)
			requiredQty = amount
		}

		fill := orderbook.Consume(levels, requiredQty)
		var impactPct float64
		if fill.VWAP > 0 {
			if leg.Side == common.Buy {
				impactPct = (fill.VWAP - best) / best * 100
			} else {
				impactPct = (best - fill.VWAP) / best * 100
			}
		}

		legSlip := impactPct > cfg.MaxPriceImpactPercent
		legLiq := fill.LevelsUsed > 1 || !fill.Covered

		lq := LegQuote{
			Pair:               leg.Pair,
			Side:               leg.Side,
			Price:              best,
			InAmount:           amount,
			FeePercent:         cfg.TakerFeePercent,
			LevelsUsed:         fill.LevelsUsed,
			PriceImpactPercent: impactPct,
		}
		if legSlip || legLiq {
			lq.SlippagePercent = cfg.SlippageBufferPercent
			out *= 1 - slipRate
			totalSlipPct += cfg.SlippageBufferPercent
		}
		if legSlip {
			slippageTripped = true
		}
		if legLiq {
			liquidityTripped = true
		}
		lq.OutAmount = out
		legs = append(legs, lq)

		totalFeesPct += cfg.TakerFeePercent
		amount = out
	}

	endAmount := amount
	gross := endAmount - startAmount
	net := gross // fees and slippage already embedded per leg
	netPct := net / startAmount * 100

	var factors []RiskFactor
	if slippageTripped {
		factors = append(factors, RiskSlippage)
	}
	if totalFeesPct > cfg.HighFeePercent {
		factors = append(factors, RiskHighFees)
	}
	if liquidityTripped {
		factors = append(factors, RiskLiquidity)
	}

	level := RiskLow
	switch {
	case len(factors) >= 2:
		level = RiskHigh
	case len(factors) == 1:
		level = RiskMedium
	}

	profitable := net > startAmount*cfg.MinProfitPercent/100

	rec := RecommendAvoid
	if profitable && level == RiskLow {
		rec = RecommendExecute
	} else if profitable && level == RiskMedium {
		rec = RecommendCautious
	}

	return Opportunity{
		PathID:               path.ID,
		StartCurrency:        path.StartCurrency,
		StartAmount:          startAmount,
		EndAmount:            endAmount,
		GrossProfit:          gross,
		NetProfit:            net,
		NetProfitPercent:     netPct,
		Profitable:           profitable,
		Legs:                 legs,
		TotalFeesPercent:     totalFeesPct,
		TotalSlippagePercent: totalSlipPct,
		RiskFactors:          factors,
		RiskLevel:            level,
		Recommendation:       rec,
		Timestamp:            time.Now().UTC(),
	}, nil
}
