package executor

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/config"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/evaluator"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/exchange/common"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/exchange/sim"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/orderbook"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/paths"
)

func testEvalConfig() config.EvalConfig {
	return config.EvalConfig{
		MinOrderSize:          50,
		MaxOrderSize:          10000,
		TakerFeePercent:       0.1,
		SlippageBufferPercent: 0.1,
		MaxPriceImpactPercent: 1.0,
		MinProfitPercent:      0.8,
		HighFeePercent:        0.5,
	}
}

func testExecConfig() config.ExecConfig {
	return config.ExecConfig{
		BalanceBufferPercent: 5.0,
		MaxSlippagePercent:   0.5,
		LegTimeoutMs:         2000,
		PollIntervalMs:       5,
	}
}

// ZAR -> LINK -> USDT -> ZAR with roughly a 1.2% gross edge, deep books
// so a single level covers every leg.
func testPath(t *testing.T) (paths.Path, map[string]orderbook.Snapshot) {
	t.Helper()
	pairs := []config.Pair{
		{Symbol: "LINKZAR", Base: "LINK", Quote: "ZAR"},
		{Symbol: "LINKUSDT", Base: "LINK", Quote: "USDT"},
		{Symbol: "USDTZAR", Base: "USDT", Quote: "ZAR"},
	}
	sets := map[string][]config.Path{
		"TEST": {{ID: "ZAR_LINK_USDT_ZAR", Legs: []config.PathLeg{
			{Pair: "LINKZAR", Side: "buy"},
			{Pair: "LINKUSDT", Side: "sell"},
			{Pair: "USDTZAR", Side: "sell"},
		}}},
	}
	cat, err := paths.NewCatalog(pairs, sets)
	require.NoError(t, err)
	p, err := cat.PathByID("ZAR_LINK_USDT_ZAR")
	require.NoError(t, err)

	books := map[string]orderbook.Snapshot{
		"LINKZAR": {Pair: "LINKZAR",
			Bids: []orderbook.Level{{Price: 179.0, Qty: 1000}},
			Asks: []orderbook.Level{{Price: 180.0, Qty: 1000}}},
		"LINKUSDT": {Pair: "LINKUSDT",
			Bids: []orderbook.Level{{Price: 10.12, Qty: 1000}},
			Asks: []orderbook.Level{{Price: 10.14, Qty: 1000}}},
		"USDTZAR": {Pair: "USDTZAR",
			Bids: []orderbook.Level{{Price: 18.0, Qty: 1000}},
			Asks: []orderbook.Level{{Price: 18.05, Qty: 1000}}},
	}
	return p, books
}

func testOpportunity(t *testing.T, p paths.Path, books map[string]orderbook.Snapshot, amount float64) evaluator.Opportunity {
	t.Helper()
	opp, err := evaluator.Evaluate(p, books, amount, testEvalConfig())
	require.NoError(t, err)
	require.Equal(t, evaluator.RecommendExecute, opp.Recommendation)
	return opp
}

func TestRunAllLegsFill(t *testing.T) {
	p, books := testPath(t)
	opp := testOpportunity(t, p, books, 1000)

	gw := sim.New(sim.Options{
		Books:      books,
		Balances:   map[string]float64{"ZAR": 2000},
		FeePercent: 0.1,
	})
	x := New(testExecConfig(), zerolog.Nop())

	res := x.Run(context.Background(), p, opp, gw, true)

	require.True(t, res.Success, "execution failed: %s", res.Err)
	require.Len(t, res.Legs, 3)
	assert.Empty(t, res.Rollbacks)
	for _, leg := range res.Legs {
		assert.True(t, leg.Success)
		assert.NotEmpty(t, leg.OrderID)
	}
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "ZAR_LINK_USDT_ZAR", res.PathID)
	assert.Equal(t, "ZAR", res.StartCurrency)

	// the sim fills at best price with the same fee model the evaluator
	// assumes, so the realized amount tracks the prediction closely
	assert.InDelta(t, opp.EndAmount, res.EndAmount, 0.01)
	assert.InDelta(t, opp.NetProfitPercent, res.NetProfitPercent, 0.05)
	assert.InDelta(t, res.EndAmount-res.StartAmount, res.NetProfit, 1e-9)
}

func TestRunLegChaining(t *testing.T) {
	p, books := testPath(t)
	opp := testOpportunity(t, p, books, 1000)

	gw := sim.New(sim.Options{Books: books, Balances: map[string]float64{"ZAR": 2000}, FeePercent: 0.1})
	x := New(testExecConfig(), zerolog.Nop())

	res := x.Run(context.Background(), p, opp, gw, true)
	require.True(t, res.Success)

	// each leg trades what the previous leg actually produced
	assert.Equal(t, res.StartAmount, res.Legs[0].InputAmount)
	assert.Equal(t, res.Legs[0].OutputAmount, res.Legs[1].InputAmount)
	assert.Equal(t, res.Legs[1].OutputAmount, res.Legs[2].InputAmount)
	assert.Equal(t, res.Legs[2].OutputAmount, res.EndAmount)
}

func TestRunInsufficientBalance(t *testing.T) {
	p, books := testPath(t)
	opp := testOpportunity(t, p, books, 1000)

	gw := sim.New(sim.Options{Books: books, Balances: map[string]float64{"ZAR": 500}, FeePercent: 0.1})
	x := New(testExecConfig(), zerolog.Nop())

	res := x.Run(context.Background(), p, opp, gw, false)

	assert.False(t, res.Success)
	assert.Empty(t, res.Legs)
	assert.Empty(t, res.Rollbacks)
	assert.Contains(t, res.Err, "insufficient ZAR balance")
	assert.Zero(t, gw.Orders(), "no order may be placed on a rejected execution")
}

func TestRunBalanceBufferApplied(t *testing.T) {
	p, books := testPath(t)
	opp := testOpportunity(t, p, books, 1000)

	// covers the start amount but not the 5% buffer
	gw := sim.New(sim.Options{Books: books, Balances: map[string]float64{"ZAR": 1020}, FeePercent: 0.1})
	x := New(testExecConfig(), zerolog.Nop())

	res := x.Run(context.Background(), p, opp, gw, false)
	assert.False(t, res.Success)
	assert.Empty(t, res.Legs)
}

func TestRunSecondLegDriftRollsBackFirst(t *testing.T) {
	p, books := testPath(t)
	opp := testOpportunity(t, p, books, 1000)

	gw := sim.New(sim.Options{Books: books, Balances: map[string]float64{"ZAR": 2000}, FeePercent: 0.1})
	// LINKUSDT bid moves 0.8% against us between scan and execution
	gw.TickerShift = map[string]float64{"LINKUSDT": -0.8}
	x := New(testExecConfig(), zerolog.Nop())

	res := x.Run(context.Background(), p, opp, gw, false)

	require.False(t, res.Success)
	require.Len(t, res.Legs, 2)
	assert.True(t, res.Legs[0].Success)
	assert.False(t, res.Legs[1].Success)
	assert.Empty(t, res.Legs[1].OrderID, "no order may be placed after the drift check fails")
	assert.Contains(t, res.Err, "deviates")

	require.Len(t, res.Rollbacks, 1)
	rb := res.Rollbacks[0]
	assert.True(t, rb.Success)
	assert.Equal(t, 1, rb.LegIndex)
	assert.Equal(t, "LINKZAR", rb.Pair)
	assert.Equal(t, common.Sell, rb.Side)
	assert.Equal(t, res.Legs[0].OutputAmount, rb.Qty)

	// leg 1 buy plus its compensating sell
	assert.Equal(t, 2, gw.Orders())
}

func TestRunThirdLegFailureUnwindsInReverse(t *testing.T) {
	p, books := testPath(t)
	opp := testOpportunity(t, p, books, 1000)

	// small LINK float covers the fee lost re-buying during the unwind
	gw := sim.New(sim.Options{Books: books, Balances: map[string]float64{"ZAR": 2000, "LINK": 1}, FeePercent: 0.1})
	gw.StateOverrides = []common.OrderState{common.OrderFilled, common.OrderFilled, common.OrderCancelled}
	x := New(testExecConfig(), zerolog.Nop())

	res := x.Run(context.Background(), p, opp, gw, false)

	require.False(t, res.Success)
	require.Len(t, res.Legs, 3)
	assert.False(t, res.Legs[2].Success)

	// n-1 rollbacks for a failure on leg n, newest first
	require.Len(t, res.Rollbacks, 2)
	assert.Equal(t, 2, res.Rollbacks[0].LegIndex)
	assert.Equal(t, "LINKUSDT", res.Rollbacks[0].Pair)
	assert.Equal(t, common.Buy, res.Rollbacks[0].Side)
	assert.Equal(t, 1, res.Rollbacks[1].LegIndex)
	assert.Equal(t, "LINKZAR", res.Rollbacks[1].Pair)
	assert.Equal(t, common.Sell, res.Rollbacks[1].Side)
	for _, rb := range res.Rollbacks {
		assert.True(t, rb.Success)
	}
}

func TestRunRejectsErrorOpportunity(t *testing.T) {
	p, books := testPath(t)
	opp := evaluator.ErrorOpportunity(p, 1000, assert.AnError)

	gw := sim.New(sim.Options{Books: books, Balances: map[string]float64{"ZAR": 2000}, FeePercent: 0.1})
	x := New(testExecConfig(), zerolog.Nop())

	res := x.Run(context.Background(), p, opp, gw, false)
	assert.False(t, res.Success)
	assert.Empty(t, res.Legs)
	assert.Zero(t, gw.Orders())
	assert.Contains(t, res.Err, "not executable")
}

func TestRunWaitsThroughPendingPolls(t *testing.T) {
	p, books := testPath(t)
	opp := testOpportunity(t, p, books, 1000)

	gw := sim.New(sim.Options{Books: books, Balances: map[string]float64{"ZAR": 2000}, FeePercent: 0.1})
	gw.PendingPolls = 2
	x := New(testExecConfig(), zerolog.Nop())

	res := x.Run(context.Background(), p, opp, gw, true)
	require.True(t, res.Success, "execution failed: %s", res.Err)
	require.Len(t, res.Legs, 3)
}

func TestRunNeverSucceedsWithFailedLeg(t *testing.T) {
	p, books := testPath(t)
	opp := testOpportunity(t, p, books, 1000)

	for _, overrides := range [][]common.OrderState{
		{common.OrderCancelled},
		{common.OrderFilled, common.OrderFailed},
		{common.OrderFilled, common.OrderFilled, common.OrderCancelled},
	} {
		gw := sim.New(sim.Options{Books: books, Balances: map[string]float64{"ZAR": 2000, "LINK": 1}, FeePercent: 0.1})
		gw.StateOverrides = overrides
		x := New(testExecConfig(), zerolog.Nop())

		res := x.Run(context.Background(), p, opp, gw, false)
		assert.False(t, res.Success)
		failedAt := len(overrides)
		assert.Len(t, res.Legs, failedAt)
		assert.Len(t, res.Rollbacks, failedAt-1)
	}
}
