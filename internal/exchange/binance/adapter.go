// Package binance is the Binance REST adapter. Market buys use
// quoteOrderQty so the gateway's input-currency quantity maps straight
// through; sells use quantity (base), also straight through.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/config"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/exchange/common"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/infra/metrics"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/infra/network"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/orderbook"
)

type Adapter struct {
	creds config.ExchangeCreds
	http  *http.Client
}

func New(creds config.ExchangeCreds) *Adapter {
	return &Adapter{creds: creds, http: network.NewHTTPClient()}
}

func (a *Adapter) Name() string { return "binance" }

func (a *Adapter) GetBalances(ctx context.Context) (map[string]float64, error) {
	var body struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := a.call(ctx, http.MethodGet, "/api/v3/account", url.Values{}, true, &body); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(body.Balances))
	for _, b := range body.Balances {
		out[b.Asset] = parseF(b.Free)
	}
	return out, nil
}

func (a *Adapter) GetTicker(ctx context.Context, pair string) (common.Ticker, error) {
	q := url.Values{"symbol": {pair}}
	var body struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := a.call(ctx, http.MethodGet, "/api/v3/ticker/bookTicker", q, false, &body); err != nil {
		return common.Ticker{}, err
	}
	return common.Ticker{Bid: parseF(body.BidPrice), Ask: parseF(body.AskPrice)}, nil
}

func (a *Adapter) GetOrderBook(ctx context.Context, pair string) (orderbook.Snapshot, error) {
	q := url.Values{"symbol": {pair}, "limit": {"20"}}
	var body struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	if err := a.call(ctx, http.MethodGet, "/api/v3/depth", q, false, &body); err != nil {
		return orderbook.Snapshot{}, err
	}
	snap := orderbook.Snapshot{Pair: pair, FetchedAt: time.Now()}
	for _, l := range body.Bids {
		snap.Bids = append(snap.Bids, orderbook.Level{Price: parseF(l[0]), Qty: parseF(l[1])})
	}
	for _, l := range body.Asks {
		snap.Asks = append(snap.Asks, orderbook.Level{Price: parseF(l[0]), Qty: parseF(l[1])})
	}
	return snap, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderHandle, error) {
	if req.Kind != common.Market {
		return common.OrderHandle{}, &common.InvalidOrderError{Reason: "binance adapter places market orders only"}
	}
	q := url.Values{
		"symbol": {req.Pair},
		"side":   {sideWord(req.Side)},
		"type":   {"MARKET"},
	}
	amount := strconv.FormatFloat(req.Qty, 'f', 8, 64)
	if req.Side == common.Buy {
		q.Set("quoteOrderQty", amount)
	} else {
		q.Set("quantity", amount)
	}
	var body struct {
		OrderID int64 `json:"orderId"`
	}
	if err := a.call(ctx, http.MethodPost, "/api/v3/order", q, true, &body); err != nil {
		return common.OrderHandle{}, err
	}
	return common.OrderHandle{ID: strconv.FormatInt(body.OrderID, 10), Pair: req.Pair}, nil
}

func (a *Adapter) GetOrderStatus(ctx context.Context, h common.OrderHandle) (common.OrderStatus, error) {
	q := url.Values{"symbol": {h.Pair}, "orderId": {h.ID}}
	var body struct {
		Status              string `json:"status"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	}
	if err := a.call(ctx, http.MethodGet, "/api/v3/order", q, true, &body); err != nil {
		return common.OrderStatus{}, err
	}
	st := common.OrderStatus{FilledQty: parseF(body.ExecutedQty)}
	if st.FilledQty > 0 {
		st.AvgPrice = parseF(body.CummulativeQuoteQty) / st.FilledQty
	}
	switch body.Status {
	case "FILLED":
		st.State = common.OrderFilled
	case "CANCELED", "EXPIRED", "EXPIRED_IN_MATCH":
		st.State = common.OrderCancelled
	case "REJECTED":
		st.State = common.OrderFailed
	default:
		st.State = common.OrderPending
	}
	return st, nil
}

func (a *Adapter) call(ctx context.Context, verb, path string, q url.Values, signed bool, out any) error {
	if signed {
		q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		mac := hmac.New(sha256.New, []byte(a.creds.Secret))
		mac.Write([]byte(q.Encode()))
		q.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	}
	u := a.creds.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, verb, u, nil)
	if err != nil {
		return err
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", a.creds.APIKey)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		metrics.APIErrorsTotal.WithLabelValues("binance", path).Inc()
		return &common.NetworkError{Op: verb + " " + path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		metrics.APIErrorsTotal.WithLabelValues("binance", path).Inc()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &common.AuthError{Exchange: "binance", Err: fmt.Errorf("%s", msg)}
		case http.StatusBadRequest:
			return &common.InvalidOrderError{Reason: string(msg)}
		default:
			return &common.NetworkError{Op: verb + " " + path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, msg)}
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &common.NetworkError{Op: verb + " " + path, Err: err}
	}
	return nil
}

func sideWord(s common.Side) string {
	if s == common.Buy {
		return "BUY"
	}
	return "SELL"
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
