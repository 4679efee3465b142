package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/orderbook"
)

type flakyGateway struct {
	tickerCalls int
	failFirst   int
	placeCalls  int
	err         error
}

func (f *flakyGateway) Name() string { return "flaky" }
func (f *flakyGateway) GetBalances(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{"ZAR": 1000}, nil
}
func (f *flakyGateway) GetTicker(ctx context.Context, pair string) (Ticker, error) {
	f.tickerCalls++
	if f.tickerCalls <= f.failFirst {
		return Ticker{}, f.err
	}
	return Ticker{Bid: 99, Ask: 101}, nil
}
func (f *flakyGateway) GetOrderBook(ctx context.Context, pair string) (orderbook.Snapshot, error) {
	return orderbook.Snapshot{Pair: pair}, nil
}
func (f *flakyGateway) PlaceOrder(ctx context.Context, req OrderRequest) (OrderHandle, error) {
	f.placeCalls++
	return OrderHandle{}, &NetworkError{Op: "place", Err: errors.New("conn reset")}
}
func (f *flakyGateway) GetOrderStatus(ctx context.Context, h OrderHandle) (OrderStatus, error) {
	return OrderStatus{State: OrderFilled}, nil
}

func TestRetryRecoversFromTransportError(t *testing.T) {
	gw := &flakyGateway{failFirst: 2, err: &NetworkError{Op: "ticker", Err: errors.New("timeout")}}
	wrapped := WithRetry(gw, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond})

	tk, err := wrapped.GetTicker(context.Background(), "LINKZAR")
	require.NoError(t, err)
	assert.Equal(t, 3, gw.tickerCalls)
	assert.Equal(t, 101.0, tk.Ask)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	gw := &flakyGateway{failFirst: 10, err: &NetworkError{Op: "ticker", Err: errors.New("timeout")}}
	wrapped := WithRetry(gw, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond})

	_, err := wrapped.GetTicker(context.Background(), "LINKZAR")
	require.Error(t, err)
	assert.Equal(t, 3, gw.tickerCalls)
	var ne *NetworkError
	assert.True(t, errors.As(err, &ne))
}

func TestRetrySkipsBusinessErrors(t *testing.T) {
	gw := &flakyGateway{failFirst: 10, err: &AuthError{Exchange: "valr", Err: errors.New("bad key")}}
	wrapped := WithRetry(gw, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond})

	_, err := wrapped.GetTicker(context.Background(), "LINKZAR")
	require.Error(t, err)
	assert.Equal(t, 1, gw.tickerCalls, "auth errors must not be retried")
}

func TestPlaceOrderNeverRetried(t *testing.T) {
	gw := &flakyGateway{}
	wrapped := WithRetry(gw, RetryPolicy{MaxAttempts: 5, Backoff: time.Millisecond})

	_, err := wrapped.PlaceOrder(context.Background(), OrderRequest{Pair: "LINKZAR", Side: Buy, Kind: Market, Qty: 100})
	require.Error(t, err)
	assert.Equal(t, 1, gw.placeCalls)
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
}
