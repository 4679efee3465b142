// Package common defines the uniform gateway contract every exchange
// adapter implements. The arbitrage engine depends only on this shape and
// never branches on exchange identity.
package common

import (
	"context"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/orderbook"
)

type Ticker struct{ Bid, Ask float64 }

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the side that unwinds this one.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderKind string

const (
	Market OrderKind = "market"
	Limit  OrderKind = "limit"
)

// OrderRequest is the exchange-agnostic order shape. Qty is denominated
// in the input currency of the trade: quote currency for buys, base
// currency for sells. Adapters translate to their wire convention.
type OrderRequest struct {
	Pair       string
	Side       Side
	Kind       OrderKind
	Qty        float64
	LimitPrice *float64 // nil for market orders
}

// OrderHandle identifies a placed order for status polling.
type OrderHandle struct {
	ID   string
	Pair string
}

type OrderState string

const (
	OrderPending   OrderState = "pending"
	OrderFilled    OrderState = "filled"
	OrderCancelled OrderState = "cancelled"
	OrderFailed    OrderState = "failed"
)

// Terminal reports whether the state can no longer change.
func (s OrderState) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderFailed
}

// OrderStatus is the polled state of a placed order. FilledQty is base
// quantity; FeeAmount is in the quote currency when the exchange reports
// it there.
type OrderStatus struct {
	State     OrderState
	FilledQty float64
	AvgPrice  float64
	FeeAmount float64
}

// Gateway is the uniform interface over one exchange's REST API. All
// methods are safe for concurrent use; every call blocks on network I/O
// and honors context cancellation.
type Gateway interface {
	Name() string
	GetBalances(ctx context.Context) (map[string]float64, error)
	GetTicker(ctx context.Context, pair string) (Ticker, error)
	GetOrderBook(ctx context.Context, pair string) (orderbook.Snapshot, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderHandle, error)
	GetOrderStatus(ctx context.Context, h OrderHandle) (OrderStatus, error)
}
