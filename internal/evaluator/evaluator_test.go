package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/config"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/orderbook"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/paths"
)

func linkPath(t *testing.T) paths.Path {
	t.Helper()
	cfg := config.Load()
	cat, err := paths.NewCatalog(cfg.Arbitrage.Pairs, cfg.Arbitrage.PathSets)
	require.NoError(t, err)
	p, err := cat.PathByID("ZAR_LINK_USDT_ZAR")
	require.NoError(t, err)
	return p
}

func evalCfg() config.EvalConfig {
	return config.Load().Arbitrage.Eval
}

// deepBooks gives the ZAR->LINK->USDT->ZAR cycle a ~1.2% gross edge with
// plenty of depth at every best level.
func deepBooks() map[string]orderbook.Snapshot {
	return map[string]orderbook.Snapshot{
		"LINKZAR": {
			Pair: "LINKZAR",
			Bids: []orderbook.Level{{Price: 179.5, Qty: 500}, {Price: 179.0, Qty: 500}},
			Asks: []orderbook.Level{{Price: 180.0, Qty: 500}, {Price: 180.5, Qty: 500}},
		},
		"LINKUSDT": {
			Pair: "LINKUSDT",
			Bids: []orderbook.Level{{Price: 10.12, Qty: 400}, {Price: 10.10, Qty: 400}},
			Asks: []orderbook.Level{{Price: 10.14, Qty: 400}, {Price: 10.16, Qty: 400}},
		},
		"USDTZAR": {
			Pair: "USDTZAR",
			Bids: []orderbook.Level{{Price: 18.0, Qty: 5000}, {Price: 17.95, Qty: 5000}},
			Asks: []orderbook.Level{{Price: 18.05, Qty: 5000}, {Price: 18.10, Qty: 5000}},
		},
	}
}

func TestEvaluateProfitableLowRisk(t *testing.T) {
	opp, err := Evaluate(linkPath(t), deepBooks(), 1000, evalCfg())
	require.NoError(t, err)

	assert.True(t, opp.Profitable)
	assert.Equal(t, RiskLow, opp.RiskLevel)
	assert.Empty(t, opp.RiskFactors)
	assert.Equal(t, RecommendExecute, opp.Recommendation)
	// ~1.2% gross edge less ~0.3% fees
	assert.InDelta(t, 0.9, opp.NetProfitPercent, 0.15)
	assert.InDelta(t, 0.3, opp.TotalFeesPercent, 1e-9)
	require.Len(t, opp.Legs, 3)
	for _, lq := range opp.Legs {
		assert.Equal(t, 1, lq.LevelsUsed)
		assert.Zero(t, lq.SlippagePercent)
	}
}

func TestNetProfitIsEndMinusStartExactly(t *testing.T) {
	opp, err := Evaluate(linkPath(t), deepBooks(), 1000, evalCfg())
	require.NoError(t, err)
	assert.Equal(t, opp.EndAmount-opp.StartAmount, opp.NetProfit)
	assert.Equal(t, opp.GrossProfit, opp.NetProfit)
}

func TestProfitableImpliesThreshold(t *testing.T) {
	cfg := evalCfg()
	opp, err := Evaluate(linkPath(t), deepBooks(), 1000, cfg)
	require.NoError(t, err)
	if opp.Profitable {
		assert.Greater(t, opp.NetProfit, opp.StartAmount*cfg.MinProfitPercent/100)
	}
}

func TestEvaluateIsPure(t *testing.T) {
	books := deepBooks()
	a, err := Evaluate(linkPath(t), books, 1000, evalCfg())
	require.NoError(t, err)
	b, err := Evaluate(linkPath(t), books, 1000, evalCfg())
	require.NoError(t, err)
	a.Timestamp, b.Timestamp = time.Time{}, time.Time{}
	assert.Equal(t, a, b)
}

func TestThinBookFlagsLiquidityRisk(t *testing.T) {
	books := deepBooks()
	// best bid covers only ~10% of the ~5.5 LINK being sold on leg 2;
	// the rest fills 2% lower
	books["LINKUSDT"] = orderbook.Snapshot{
		Pair: "LINKUSDT",
		Bids: []orderbook.Level{{Price: 10.12, Qty: 0.6}, {Price: 9.9176, Qty: 400}},
		Asks: []orderbook.Level{{Price: 10.14, Qty: 400}},
	}
	opp, err := Evaluate(linkPath(t), books, 1000, evalCfg())
	require.NoError(t, err)

	assert.Contains(t, opp.RiskFactors, RiskLiquidity)
	assert.GreaterOrEqual(t, int(opp.RiskLevel), int(RiskMedium))
	assert.Greater(t, opp.Legs[1].LevelsUsed, 1)
	assert.Greater(t, opp.Legs[1].SlippagePercent, 0.0)
	assert.Less(t, opp.EndAmount, 1012.0, "haircut must reduce the leg output")
}

func TestAmountBelowMinimumRejected(t *testing.T) {
	_, err := Evaluate(linkPath(t), deepBooks(), 10, evalCfg())
	var invalid *InvalidAmountError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 10.0, invalid.Amount)
}

func TestAmountAboveMaximumRejected(t *testing.T) {
	_, err := Evaluate(linkPath(t), deepBooks(), 50000, evalCfg())
	var invalid *InvalidAmountError
	require.ErrorAs(t, err, &invalid)
}

func TestMissingBookYieldsErrorRecord(t *testing.T) {
	books := deepBooks()
	delete(books, "USDTZAR")
	opp, err := Evaluate(linkPath(t), books, 1000, evalCfg())
	require.NoError(t, err, "per-leg problems must not abort the batch")
	assert.Equal(t, RecommendError, opp.Recommendation)
	assert.Contains(t, opp.Err, "USDTZAR")
}

func TestEmptySideYieldsErrorRecord(t *testing.T) {
	books := deepBooks()
	books["LINKZAR"] = orderbook.Snapshot{Pair: "LINKZAR", Bids: books["LINKZAR"].Bids}
	opp, err := Evaluate(linkPath(t), books, 1000, evalCfg())
	require.NoError(t, err)
	assert.Equal(t, RecommendError, opp.Recommendation)
	assert.Contains(t, opp.Err, "LINKZAR")
}

func TestHighFeesFlagged(t *testing.T) {
	cfg := evalCfg()
	cfg.TakerFeePercent = 0.25 // 0.75% over three legs
	opp, err := Evaluate(linkPath(t), deepBooks(), 1000, cfg)
	require.NoError(t, err)
	assert.Contains(t, opp.RiskFactors, RiskHighFees)
	assert.GreaterOrEqual(t, int(opp.RiskLevel), int(RiskMedium))
}

func TestRiskLevelString(t *testing.T) {
	assert.Equal(t, "LOW", RiskLow.String())
	assert.Equal(t, "MEDIUM", RiskMedium.String())
	assert.Equal(t, "HIGH", RiskHigh.String())
}
