// Package backtest replays recorded top-of-book quotes through the
// evaluator to gauge how often a path would have been profitable.
package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/config"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/evaluator"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/infra/metrics"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/orderbook"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/paths"
)

// syntheticDepth makes a one-level book deep enough that the replay
// never trips the liquidity heuristics; a top-of-book recording carries
// no depth to judge.
const syntheticDepth = 1e9

// RunCSV replays a top-of-book CSV through one path. Row format:
// ts,leg1_bid,leg1_ask,leg2_bid,leg2_ask,leg3_bid,leg3_ask in path leg
// order. Env var: ARB4ME_BACKTEST_CSV=/path/to/file.csv; a missing env
// var is a no-op so the daemon can always call this at startup.
func RunCSV(path paths.Path, eval config.EvalConfig, startAmount float64) error {
	file := os.Getenv("ARB4ME_BACKTEST_CSV")
	if file == "" {
		return nil
	}
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	var rows, profitable int
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if len(rec) < 7 {
			continue
		}
		rows++

		books := make(map[string]orderbook.Snapshot, 3)
		for i, leg := range path.Legs {
			bid := parseF(rec[1+i*2])
			ask := parseF(rec[2+i*2])
			books[leg.Pair] = orderbook.Snapshot{
				Pair: leg.Pair,
				Bids: []orderbook.Level{{Price: bid, Qty: syntheticDepth}},
				Asks: []orderbook.Level{{Price: ask, Qty: syntheticDepth}},
			}
		}

		opp, err := evaluator.Evaluate(path, books, startAmount, eval)
		if err != nil {
			return err
		}
		if opp.Recommendation == evaluator.RecommendError {
			continue
		}
		metrics.NetProfitPercent.Observe(opp.NetProfitPercent)
		if opp.Profitable {
			profitable++
		}
	}
	ratio := 0.0
	if rows > 0 {
		ratio = float64(profitable) / float64(rows)
	}
	fmt.Printf("backtest path=%s rows=%d profitable=%d ratio=%.4f at %s\n",
		path.ID, rows, profitable, ratio, time.Now().Format(time.RFC3339))
	return nil
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
