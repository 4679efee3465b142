package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/api/rest"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/config"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/exchange/common"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/exchange/sim"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/executor"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/feed"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/guard"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/ledger"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/orderbook"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/paths"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/scanner"
)

// The full operator flow: scan a set, pick the top opportunity, execute
// it on the same (simulated) exchange, and check that the realized
// profit tracks the scan's prediction.
func TestScanThenExecuteFlow(t *testing.T) {
	cfg := config.Load()
	eval := cfg.Arbitrage.Eval
	exec := cfg.Arbitrage.Exec
	exec.PollIntervalMs = 5

	pairs := []config.Pair{
		{Symbol: "LINKZAR", Base: "LINK", Quote: "ZAR"},
		{Symbol: "LINKUSDT", Base: "LINK", Quote: "USDT"},
		{Symbol: "USDTZAR", Base: "USDT", Quote: "ZAR"},
	}
	sets := map[string][]config.Path{
		"ZAR_FOCUS": {{ID: "ZAR_LINK_USDT_ZAR", Legs: []config.PathLeg{
			{Pair: "LINKZAR", Side: "buy"},
			{Pair: "LINKUSDT", Side: "sell"},
			{Pair: "USDTZAR", Side: "sell"},
		}}},
	}
	catalog, err := paths.NewCatalog(pairs, sets)
	require.NoError(t, err)

	deep := func(bid, ask float64) orderbook.Snapshot {
		return orderbook.Snapshot{
			Bids: []orderbook.Level{{Price: bid, Qty: 10000}},
			Asks: []orderbook.Level{{Price: ask, Qty: 10000}},
		}
	}
	gw := sim.New(sim.Options{
		Books: map[string]orderbook.Snapshot{
			"LINKZAR":  deep(179.0, 180.0),
			"LINKUSDT": deep(10.12, 10.14),
			"USDTZAR":  deep(18.0, 18.05),
		},
		Balances:   map[string]float64{"ZAR": 5000},
		FeePercent: eval.TakerFeePercent,
	})

	logger := zerolog.Nop()
	api := rest.New(rest.Deps{
		Catalog:         catalog,
		Scanner:         scanner.New(catalog, eval, 4, logger),
		Executor:        executor.New(exec, logger),
		Guard:           guard.New(),
		Ledger:          ledger.Noop{},
		Feed:            feed.Noop{},
		Gateways:        map[string]common.Gateway{"sim": gw},
		DefaultExchange: "sim",
		Eval:            eval,
		Exec:            exec,
		Logger:          logger,
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	// scan
	scanBody, _ := json.Marshal(map[string]any{"set": "ZAR_FOCUS", "start_amount": 1000})
	resp, err := http.Post(srv.URL+"/api/v1/scan", "application/json", bytes.NewReader(scanBody))
	require.NoError(t, err)
	var scanRes scanner.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&scanRes))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, scanRes.Opportunities)

	top := scanRes.Opportunities[0]
	require.True(t, top.Profitable)

	// execute the top opportunity live against the sim exchange
	execBody, _ := json.Marshal(map[string]any{"path_id": top.PathID, "start_amount": 1000.0})
	resp, err = http.Post(srv.URL+"/api/v1/execute", "application/json", bytes.NewReader(execBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply struct {
		Execution executor.ExecutionResult `json:"execution"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	require.True(t, reply.Execution.Success, "execution failed: %s", reply.Execution.Err)
	require.Len(t, reply.Execution.Legs, 3)
	assert.Empty(t, reply.Execution.Rollbacks)
	assert.InDelta(t, top.NetProfitPercent, reply.Execution.NetProfitPercent, 0.05,
		"realized profit must track the scanned prediction on a quiet book")

	// the account ends up richer in ZAR than it started
	assert.Greater(t, gw.Balance("ZAR"), 5000-1000+999.0)
}
