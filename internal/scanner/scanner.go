// Package scanner turns a path-set selection and a starting amount into
// a ranked list of opportunities with one order-book fetch per unique
// pair.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/config"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/evaluator"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/exchange/common"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/infra/metrics"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/orderbook"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/paths"
)

// GatewayUnavailableError means connectivity was broken for every pair,
// not just some, so no path could be evaluated at all.
type GatewayUnavailableError struct {
	Exchange string
	Err      error
}

func (e *GatewayUnavailableError) Error() string {
	return fmt.Sprintf("%s: gateway unavailable: %v", e.Exchange, e.Err)
}
func (e *GatewayUnavailableError) Unwrap() error { return e.Err }

// Summary is the derived statistics block of one scan.
type Summary struct {
	Paths               int            `json:"paths"`
	Profitable          int            `json:"profitable"`
	ByRecommendation    map[string]int `json:"by_recommendation"`
	AvgNetProfitPercent float64        `json:"avg_net_profit_percent"`
	FailedPairs         []string       `json:"failed_pairs,omitempty"`
}

// Result is the full ranked output of one scan.
type Result struct {
	Set           string                  `json:"set"`
	Exchange      string                  `json:"exchange"`
	StartAmount   float64                 `json:"start_amount"`
	Opportunities []evaluator.Opportunity `json:"opportunities"`
	Summary       Summary                 `json:"summary"`
	Elapsed       time.Duration           `json:"elapsed_ns"`
	Timestamp     time.Time               `json:"timestamp"`
}

type Scanner struct {
	catalog     *paths.Catalog
	eval        config.EvalConfig
	concurrency int
	logger      zerolog.Logger
}

func New(catalog *paths.Catalog, eval config.EvalConfig, concurrency int, logger zerolog.Logger) *Scanner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scanner{catalog: catalog, eval: eval, concurrency: concurrency, logger: logger}
}

// Scan resolves the set, fetches one snapshot per unique pair with
// bounded fan-out, evaluates every path off the shared snapshot map and
// ranks the results. Individual pair failures degrade only the paths
// that reference them; the scan as a whole fails only on an unknown set,
// an out-of-bounds amount, or a gateway that is down for every pair.
func (s *Scanner) Scan(ctx context.Context, set string, startAmount float64, gw common.Gateway) (Result, error) {
	started := time.Now()

	if startAmount < s.eval.MinOrderSize || startAmount > s.eval.MaxOrderSize {
		return Result{}, &evaluator.InvalidAmountError{Amount: startAmount, Min: s.eval.MinOrderSize, Max: s.eval.MaxOrderSize}
	}
	pathList, err := s.catalog.GetPaths(set)
	if err != nil {
		return Result{}, err
	}
	pairs := paths.AllPairs(pathList)

	books, fetchErrs := s.fetchBooks(ctx, pairs, gw)
	if len(pairs) > 0 && len(fetchErrs) == len(pairs) {
		// every single fetch failed: DNS down, exchange down, etc.
		var first error
		for _, e := range fetchErrs {
			first = e
			break
		}
		return Result{}, &GatewayUnavailableError{Exchange: gw.Name(), Err: first}
	}

	opps := make([]evaluator.Opportunity, 0, len(pathList))
	for _, p := range pathList {
		metrics.PathsEvaluatedTotal.Inc()
		if ferr := firstLegFetchError(p, fetchErrs); ferr != nil {
			opps = append(opps, evaluator.ErrorOpportunity(p, startAmount, ferr))
			metrics.PathErrorsTotal.Inc()
			continue
		}
		opp, err := evaluator.Evaluate(p, books, startAmount, s.eval)
		if err != nil {
			return Result{}, err
		}
		if opp.Recommendation == evaluator.RecommendError {
			metrics.PathErrorsTotal.Inc()
		} else {
			metrics.NetProfitPercent.Observe(opp.NetProfitPercent)
			if opp.Profitable {
				metrics.OpportunitiesFound.Inc()
			}
		}
		opps = append(opps, opp)
	}

	rank(opps)

	res := Result{
		Set:           set,
		Exchange:      gw.Name(),
		StartAmount:   startAmount,
		Opportunities: opps,
		Summary:       summarize(opps, fetchErrs),
		Elapsed:       time.Since(started),
		Timestamp:     started.UTC(),
	}
	metrics.ScansTotal.Inc()
	metrics.ScanDurationSeconds.Observe(res.Elapsed.Seconds())
	s.logger.Info().
		Str("set", set).
		Str("exchange", gw.Name()).
		Int("paths", res.Summary.Paths).
		Int("profitable", res.Summary.Profitable).
		Dur("elapsed", res.Elapsed).
		Msg("scan complete")
	return res, nil
}

// EvaluatePath fetches fresh books for one path and evaluates it; used
// by the execute flow for pre-trade re-evaluation.
func (s *Scanner) EvaluatePath(ctx context.Context, path paths.Path, startAmount float64, gw common.Gateway) (evaluator.Opportunity, map[string]orderbook.Snapshot, error) {
	if startAmount < s.eval.MinOrderSize || startAmount > s.eval.MaxOrderSize {
		return evaluator.Opportunity{}, nil, &evaluator.InvalidAmountError{Amount: startAmount, Min: s.eval.MinOrderSize, Max: s.eval.MaxOrderSize}
	}
	pairs := paths.AllPairs([]paths.Path{path})
	books, fetchErrs := s.fetchBooks(ctx, pairs, gw)
	if ferr := firstLegFetchError(path, fetchErrs); ferr != nil {
		return evaluator.Opportunity{}, nil, ferr
	}
	opp, err := evaluator.Evaluate(path, books, startAmount, s.eval)
	if err != nil {
		return evaluator.Opportunity{}, nil, err
	}
	return opp, books, nil
}

func (s *Scanner) fetchBooks(ctx context.Context, pairs []string, gw common.Gateway) (map[string]orderbook.Snapshot, map[string]error) {
	var mu sync.Mutex
	books := make(map[string]orderbook.Snapshot, len(pairs))
	fetchErrs := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, pair := range pairs {
		pair := pair
		g.Go(func() error {
			metrics.BookFetchesTotal.Inc()
			snap, err := gw.GetOrderBook(gctx, pair)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fetchErrs[pair] = err
				metrics.BookFetchErrorsTotal.WithLabelValues(pair).Inc()
				s.logger.Warn().Err(err).Str("pair", pair).Msg("order book fetch failed")
				return nil // partial failure degrades paths, not the scan
			}
			books[pair] = snap
			return nil
		})
	}
	_ = g.Wait()
	return books, fetchErrs
}

func firstLegFetchError(p paths.Path, fetchErrs map[string]error) error {
	for _, leg := range p.Legs {
		if err, ok := fetchErrs[leg.Pair]; ok {
			return fmt.Errorf("order book unavailable for %s: %w", leg.Pair, err)
		}
	}
	return nil
}

// rank sorts profitable before non-profitable, higher net percent first
// within profitable, ties broken by lower risk.
func rank(opps []evaluator.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.Profitable != b.Profitable {
			return a.Profitable
		}
		if a.NetProfitPercent != b.NetProfitPercent {
			return a.NetProfitPercent > b.NetProfitPercent
		}
		return a.RiskLevel < b.RiskLevel
	})
}

func summarize(opps []evaluator.Opportunity, fetchErrs map[string]error) Summary {
	sum := Summary{Paths: len(opps), ByRecommendation: make(map[string]int)}
	var profitSum float64
	for _, o := range opps {
		sum.ByRecommendation[string(o.Recommendation)]++
		if o.Profitable {
			sum.Profitable++
			profitSum += o.NetProfitPercent
		}
	}
	if sum.Profitable > 0 {
		sum.AvgNetProfitPercent = profitSum / float64(sum.Profitable)
	}
	for pair := range fetchErrs {
		sum.FailedPairs = append(sum.FailedPairs, pair)
	}
	sort.Strings(sum.FailedPairs)
	return sum
}
