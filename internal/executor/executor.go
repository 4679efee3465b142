// Package executor runs one chosen opportunity's three legs against an
// exchange gateway, strictly in order, and unwinds completed legs with
// compensating orders when a later leg fails.
package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/config"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/evaluator"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/exchange/common"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/infra/metrics"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/paths"
)

// InsufficientBalanceError aborts an execution before any order is
// placed: the account cannot cover the start amount plus drift buffer.
type InsufficientBalanceError struct {
	Currency  string
	Required  float64
	Available float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: need %.2f, have %.2f", e.Currency, e.Required, e.Available)
}

// ExcessiveSlippageError is the pre-trade abort of a leg whose live
// price has drifted too far from the evaluation price. No order is
// placed for the leg.
type ExcessiveSlippageError struct {
	Pair             string
	EvalPrice        float64
	LivePrice        float64
	DeviationPercent float64
	MaxPercent       float64
}

func (e *ExcessiveSlippageError) Error() string {
	return fmt.Sprintf("%s: live price %.6f deviates %.2f%% from evaluation price %.6f (max %.2f%%)",
		e.Pair, e.LivePrice, e.DeviationPercent, e.EvalPrice, e.MaxPercent)
}

// LegResult is the trace of one leg attempt, recorded whether or not the
// order filled.
type LegResult struct {
	Index        int           `json:"index"`
	Pair         string        `json:"pair"`
	Side         common.Side   `json:"side"`
	InputAmount  float64       `json:"input_amount"`
	OutputAmount float64       `json:"output_amount"`
	Price        float64       `json:"price"`
	Fee          float64       `json:"fee"`
	OrderID      string        `json:"order_id,omitempty"`
	Success      bool          `json:"success"`
	Err          string        `json:"error,omitempty"`
	Elapsed      time.Duration `json:"elapsed_ns"`
}

// RollbackResult is the trace of one compensating order.
type RollbackResult struct {
	LegIndex int         `json:"leg_index"`
	Pair     string      `json:"pair"`
	Side     common.Side `json:"side"`
	Qty      float64     `json:"qty"`
	OrderID  string      `json:"order_id,omitempty"`
	Success  bool        `json:"success"`
	Err      string      `json:"error,omitempty"`
}

// ExecutionResult is the immutable outcome of one execution attempt.
// Success is true only when all three legs filled.
type ExecutionResult struct {
	ID               string           `json:"id"`
	PathID           string           `json:"path_id"`
	Exchange         string           `json:"exchange"`
	DryRun           bool             `json:"dry_run"`
	StartCurrency    string           `json:"start_currency"`
	StartAmount      float64          `json:"start_amount"`
	EndAmount        float64          `json:"end_amount"`
	NetProfit        float64          `json:"net_profit"`
	NetProfitPercent float64          `json:"net_profit_percent"`
	Success          bool             `json:"success"`
	Legs             []LegResult      `json:"legs"`
	Rollbacks        []RollbackResult `json:"rollbacks,omitempty"`
	Err              string           `json:"error,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	Elapsed          time.Duration    `json:"elapsed_ns"`
}

type Executor struct {
	cfg    config.ExecConfig
	logger zerolog.Logger
}

func New(cfg config.ExecConfig, logger zerolog.Logger) *Executor {
	return &Executor{cfg: cfg, logger: logger}
}

// Run executes the opportunity's three legs in path order. The returned
// result is always structured, never just an error: the caller can see
// exactly which legs filled, which failed, and what was unwound. The
// executor itself does not persist anything; recording the result is the
// trade ledger's job, invoked by the caller.
func (x *Executor) Run(ctx context.Context, path paths.Path, opp evaluator.Opportunity, gw common.Gateway, dryRun bool) ExecutionResult {
	res := ExecutionResult{
		ID:            uuid.NewString(),
		PathID:        path.ID,
		Exchange:      gw.Name(),
		DryRun:        dryRun,
		StartCurrency: path.StartCurrency,
		StartAmount:   opp.StartAmount,
		StartedAt:     time.Now().UTC(),
	}
	defer func() {
		res.Elapsed = time.Since(res.StartedAt)
		metrics.ExecutionDurationSeconds.Observe(res.Elapsed.Seconds())
		outcome := "failed"
		if res.Success {
			outcome = "succeeded"
		} else if len(res.Legs) == 0 {
			outcome = "rejected"
		}
		metrics.ExecutionsTotal.WithLabelValues(outcome).Inc()
	}()

	if opp.Recommendation == evaluator.RecommendError || len(opp.Legs) != 3 {
		res.Err = "opportunity is not executable: " + string(opp.Recommendation)
		return res
	}

	// Validating: the balance must cover the start amount plus a buffer
	// for fee and price drift between scan and execution.
	balances, err := gw.GetBalances(ctx)
	if err != nil {
		res.Err = fmt.Sprintf("balance check failed: %v", err)
		return res
	}
	required := opp.StartAmount * (1 + x.cfg.BalanceBufferPercent/100)
	if have := balances[path.StartCurrency]; have < required {
		res.Err = (&InsufficientBalanceError{Currency: path.StartCurrency, Required: required, Available: have}).Error()
		x.logger.Warn().Str("execution", res.ID).Str("currency", path.StartCurrency).
			Float64("required", required).Float64("available", have).Msg("execution rejected pre-flight")
		return res
	}

	// ExecutingLeg(1..3): strictly sequential; leg n+1's quantity is leg
	// n's actual fill, not the pre-trade estimate.
	amount := opp.StartAmount
	for i, leg := range path.Legs {
		lr := x.runLeg(ctx, gw, i+1, leg, opp.Legs[i].Price, amount)
		res.Legs = append(res.Legs, lr)
		metrics.LegsExecutedTotal.Inc()
		if !lr.Success {
			res.Err = lr.Err
			x.logger.Error().Str("execution", res.ID).Int("leg", lr.Index).Str("pair", lr.Pair).
				Str("reason", lr.Err).Msg("leg failed")
			if i > 0 {
				res.Rollbacks = x.rollback(ctx, gw, res.ID, res.Legs[:i])
			}
			return res
		}
		amount = lr.OutputAmount
	}

	res.EndAmount = amount
	res.NetProfit = amount - opp.StartAmount
	res.NetProfitPercent = res.NetProfit / opp.StartAmount * 100
	res.Success = true
	x.logger.Info().Str("execution", res.ID).Str("path", path.ID).Bool("dry_run", dryRun).
		Float64("net_profit", res.NetProfit).Float64("net_profit_percent", res.NetProfitPercent).
		Msg("execution succeeded")
	return res
}

func (x *Executor) runLeg(ctx context.Context, gw common.Gateway, index int, leg paths.Leg, evalPrice, amount float64) LegResult {
	started := time.Now()
	lr := LegResult{Index: index, Pair: leg.Pair, Side: leg.Side, InputAmount: amount}
	fail := func(reason string, err error) LegResult {
		lr.Err = err.Error()
		lr.Elapsed = time.Since(started)
		metrics.LegFailuresTotal.WithLabelValues(reason).Inc()
		return lr
	}

	// pre-trade drift check against the price evaluation used
	ticker, err := gw.GetTicker(ctx, leg.Pair)
	if err != nil {
		return fail("price_check", fmt.Errorf("price check failed for %s: %w", leg.Pair, err))
	}
	live := ticker.Ask
	if leg.Side == common.Sell {
		live = ticker.Bid
	}
	if live <= 0 || evalPrice <= 0 {
		return fail("price_check", fmt.Errorf("no live price for %s", leg.Pair))
	}
	deviation := math.Abs(live-evalPrice) / evalPrice * 100
	if deviation > x.cfg.MaxSlippagePercent {
		return fail("excessive_slippage", &ExcessiveSlippageError{
			Pair: leg.Pair, EvalPrice: evalPrice, LivePrice: live,
			DeviationPercent: deviation, MaxPercent: x.cfg.MaxSlippagePercent,
		})
	}

	handle, err := gw.PlaceOrder(ctx, common.OrderRequest{Pair: leg.Pair, Side: leg.Side, Kind: common.Market, Qty: amount})
	if err != nil {
		return fail("place_rejected", fmt.Errorf("place order on %s: %w", leg.Pair, err))
	}
	lr.OrderID = handle.ID

	st, err := x.waitTerminal(ctx, gw, handle)
	if err != nil {
		return fail("terminal_wait", fmt.Errorf("order %s on %s: %w", handle.ID, leg.Pair, err))
	}
	if st.State != common.OrderFilled {
		return fail("not_filled", fmt.Errorf("order %s on %s ended %s", handle.ID, leg.Pair, st.State))
	}

	lr.Price = st.AvgPrice
	lr.Fee = st.FeeAmount
	if leg.Side == common.Buy {
		lr.OutputAmount = st.FilledQty
	} else {
		lr.OutputAmount = st.FilledQty*st.AvgPrice - st.FeeAmount
	}
	lr.Success = true
	lr.Elapsed = time.Since(started)
	return lr
}

// waitTerminal polls order status until a terminal state, the leg
// timeout, or cancellation. A cancelled wait still makes one final
// status check on a detached context: an in-flight order may have filled
// even though the caller stopped waiting.
func (x *Executor) waitTerminal(ctx context.Context, gw common.Gateway, h common.OrderHandle) (common.OrderStatus, error) {
	timeout := time.Duration(x.cfg.LegTimeoutMs) * time.Millisecond
	interval := time.Duration(x.cfg.PollIntervalMs) * time.Millisecond
	deadline := time.Now().Add(timeout)

	for {
		st, err := gw.GetOrderStatus(ctx, h)
		if err == nil && st.State.Terminal() {
			return st, nil
		}
		if err != nil && ctx.Err() == nil {
			x.logger.Debug().Err(err).Str("order", h.ID).Msg("order status poll failed")
		}
		if time.Now().After(deadline) {
			return common.OrderStatus{}, fmt.Errorf("no terminal state within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return x.finalStatus(gw, h, ctx.Err())
		case <-time.After(interval):
		}
	}
}

func (x *Executor) finalStatus(gw common.Gateway, h common.OrderHandle, cause error) (common.OrderStatus, error) {
	fctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if st, err := gw.GetOrderStatus(fctx, h); err == nil && st.State.Terminal() {
		return st, nil
	}
	return common.OrderStatus{}, fmt.Errorf("wait cancelled: %w", cause)
}

// rollback unwinds the completed legs in reverse order with one market
// order each, sized at the leg's produced amount. Failures are recorded,
// never retried: a failed compensating order is real unhedged exposure
// that a human must reconcile, so it is surfaced loudly and left alone.
func (x *Executor) rollback(ctx context.Context, gw common.Gateway, execID string, completed []LegResult) []RollbackResult {
	// detached from the caller's cancellation: an abandoned request must
	// not leave filled legs un-unwound
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(x.cfg.LegTimeoutMs)*time.Millisecond)
	defer cancel()

	out := make([]RollbackResult, 0, len(completed))
	for i := len(completed) - 1; i >= 0; i-- {
		leg := completed[i]
		rb := RollbackResult{
			LegIndex: leg.Index,
			Pair:     leg.Pair,
			Side:     leg.Side.Opposite(),
			Qty:      leg.OutputAmount,
		}
		metrics.RollbacksTotal.Inc()
		handle, err := gw.PlaceOrder(rctx, common.OrderRequest{Pair: rb.Pair, Side: rb.Side, Kind: common.Market, Qty: rb.Qty})
		if err != nil {
			rb.Err = err.Error()
			metrics.RollbackFailuresTotal.Inc()
			x.logger.Error().Str("execution", execID).Int("leg", rb.LegIndex).Str("pair", rb.Pair).
				Err(err).Msg("ROLLBACK ORDER FAILED: unhedged exposure, manual reconciliation required")
			out = append(out, rb)
			continue
		}
		rb.OrderID = handle.ID
		st, err := x.waitTerminal(rctx, gw, handle)
		if err != nil || st.State != common.OrderFilled {
			if err != nil {
				rb.Err = err.Error()
			} else {
				rb.Err = fmt.Sprintf("rollback order ended %s", st.State)
			}
			metrics.RollbackFailuresTotal.Inc()
			x.logger.Error().Str("execution", execID).Int("leg", rb.LegIndex).Str("pair", rb.Pair).
				Str("reason", rb.Err).Msg("ROLLBACK ORDER FAILED: unhedged exposure, manual reconciliation required")
			out = append(out, rb)
			continue
		}
		rb.Success = true
		x.logger.Warn().Str("execution", execID).Int("leg", rb.LegIndex).Str("pair", rb.Pair).
			Float64("qty", rb.Qty).Msg("leg unwound")
		out = append(out, rb)
	}
	return out
}
