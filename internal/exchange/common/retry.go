package common

import (
	"context"
	"time"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/infra/network"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/orderbook"
)

// RetryPolicy is the single outbound-call policy applied at the gateway
// boundary: bounded attempts with linear backoff, gated by a cooperative
// token bucket so bursts of retries respect exchange rate limits.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Bucket      *network.TokenBucket // optional
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 250 * time.Millisecond}
}

// WithRetry wraps a gateway so that read calls are retried on transport
// errors. Order placement is deliberately attempted once: a lost ack is
// resolved by the status poll, not by re-sending the order.
func WithRetry(gw Gateway, p RetryPolicy) Gateway {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return &retryGateway{gw: gw, p: p}
}

type retryGateway struct {
	gw Gateway
	p  RetryPolicy
}

func (r *retryGateway) Name() string { return r.gw.Name() }

func (r *retryGateway) do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= r.p.MaxAttempts; attempt++ {
		if r.p.Bucket != nil {
			for !r.p.Bucket.Allow(time.Now()) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(50 * time.Millisecond):
				}
			}
		}
		if err = fn(); err == nil || !Retryable(err) {
			return err
		}
		if attempt == r.p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.p.Backoff * time.Duration(attempt)):
		}
	}
	return err
}

func (r *retryGateway) GetBalances(ctx context.Context) (map[string]float64, error) {
	var out map[string]float64
	err := r.do(ctx, func() error {
		var e error
		out, e = r.gw.GetBalances(ctx)
		return e
	})
	return out, err
}

func (r *retryGateway) GetTicker(ctx context.Context, pair string) (Ticker, error) {
	var out Ticker
	err := r.do(ctx, func() error {
		var e error
		out, e = r.gw.GetTicker(ctx, pair)
		return e
	})
	return out, err
}

func (r *retryGateway) GetOrderBook(ctx context.Context, pair string) (orderbook.Snapshot, error) {
	var out orderbook.Snapshot
	err := r.do(ctx, func() error {
		var e error
		out, e = r.gw.GetOrderBook(ctx, pair)
		return e
	})
	return out, err
}

func (r *retryGateway) PlaceOrder(ctx context.Context, req OrderRequest) (OrderHandle, error) {
	// single attempt on purpose, see WithRetry doc
	return r.gw.PlaceOrder(ctx, req)
}

func (r *retryGateway) GetOrderStatus(ctx context.Context, h OrderHandle) (OrderStatus, error) {
	var out OrderStatus
	err := r.do(ctx, func() error {
		var e error
		out, e = r.gw.GetOrderStatus(ctx, h)
		return e
	})
	return out, err
}
