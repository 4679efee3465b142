// Package rest exposes the scan and execute operations over HTTP.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/config"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/evaluator"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/exchange/common"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/exchange/sim"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/executor"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/feed"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/guard"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/infra/metrics"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/ledger"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/paths"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/scanner"
)

// Deps carries everything the API needs; main wires it once at startup.
type Deps struct {
	Catalog         *paths.Catalog
	Scanner         *scanner.Scanner
	Executor        *executor.Executor
	Guard           *guard.Guard
	Ledger          ledger.Ledger
	Feed            feed.Publisher
	Gateways        map[string]common.Gateway
	DefaultExchange string
	Eval            config.EvalConfig
	Exec            config.ExecConfig
	Logger          zerolog.Logger
}

type Server struct {
	deps Deps
	mux  *http.ServeMux
}

func New(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /api/v1/scan", s.handleScan)
	s.mux.HandleFunc("POST /api/v1/execute", s.handleExecute)
	s.mux.HandleFunc("GET /api/v1/paths", s.handlePaths)
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

type scanRequest struct {
	Set         string  `json:"set"`
	StartAmount float64 `json:"start_amount"`
	Exchange    string  `json:"exchange,omitempty"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Set == "" {
		req.Set = paths.SetAll
	}
	gw, ok := s.gateway(req.Exchange)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown exchange: "+req.Exchange)
		return
	}

	res, err := s.deps.Scanner.Scan(r.Context(), req.Set, req.StartAmount, gw)
	if err != nil {
		var invalid *evaluator.InvalidAmountError
		var unknown *paths.UnknownSetError
		var unavailable *scanner.GatewayUnavailableError
		switch {
		case errors.As(err, &invalid), errors.As(err, &unknown):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &unavailable):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.deps.Feed.PublishOpportunities(r.Context(), gw.Name(), res.Opportunities)
	writeJSON(w, http.StatusOK, res)
}

type executeRequest struct {
	PathID      string  `json:"path_id"`
	StartAmount float64 `json:"start_amount"`
	Exchange    string  `json:"exchange,omitempty"`
	DryRun      bool    `json:"dry_run"`
}

type executeReply struct {
	Evaluation evaluator.Opportunity    `json:"evaluation"`
	Execution  executor.ExecutionResult `json:"execution"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	path, err := s.deps.Catalog.PathByID(req.PathID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	gw, ok := s.gateway(req.Exchange)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown exchange: "+req.Exchange)
		return
	}

	// always a fresh evaluation; an opportunity from a previous scan is
	// stale the moment it is displayed
	opp, books, err := s.deps.Scanner.EvaluatePath(r.Context(), path, req.StartAmount, gw)
	if err != nil {
		var invalid *evaluator.InvalidAmountError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if opp.Recommendation != evaluator.RecommendExecute && opp.Recommendation != evaluator.RecommendCautious {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "path is not executable right now: " + string(opp.Recommendation),
			"evaluation": opp,
		})
		return
	}

	if req.DryRun {
		// dry runs execute against a simulator seeded with the books and
		// fee model the evaluation just used
		simGW := sim.New(sim.Options{
			Books:      books,
			Balances:   map[string]float64{path.StartCurrency: req.StartAmount * 2},
			FeePercent: s.deps.Eval.TakerFeePercent,
		})
		res := s.deps.Executor.Run(r.Context(), path, opp, simGW, true)
		writeJSON(w, http.StatusOK, executeReply{Evaluation: opp, Execution: res})
		return
	}

	release, err := s.deps.Guard.Acquire(gw.Name())
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	defer release()

	res := s.deps.Executor.Run(r.Context(), path, opp, gw, false)
	s.record(res)
	writeJSON(w, http.StatusOK, executeReply{Evaluation: opp, Execution: res})
}

// record writes the result to the trade ledger off the request path; a
// ledger outage must not turn a completed execution into an API error.
func (s *Server) record(res executor.ExecutionResult) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.deps.Ledger.Record(ctx, res); err != nil {
			metrics.LedgerErrorsTotal.Inc()
			s.deps.Logger.Error().Err(err).Str("execution", res.ID).Msg("ledger record failed")
		}
	}()
}

type pathInfo struct {
	ID            string        `json:"id"`
	StartCurrency string        `json:"start_currency"`
	Legs          []pathLegInfo `json:"legs"`
}

type pathLegInfo struct {
	Pair string `json:"pair"`
	Side string `json:"side"`
}

func (s *Server) handlePaths(w http.ResponseWriter, r *http.Request) {
	set := r.URL.Query().Get("set")
	if set == "" {
		set = paths.SetAll
	}
	list, err := s.deps.Catalog.GetPaths(set)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out := make([]pathInfo, 0, len(list))
	for _, p := range list {
		info := pathInfo{ID: p.ID, StartCurrency: p.StartCurrency}
		for _, leg := range p.Legs {
			info.Legs = append(info.Legs, pathLegInfo{Pair: leg.Pair, Side: string(leg.Side)})
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"set": set, "paths": out})
}

func (s *Server) gateway(name string) (common.Gateway, bool) {
	if name == "" {
		name = s.deps.DefaultExchange
	}
	gw, ok := s.deps.Gateways[name]
	return gw, ok
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
