// Package valr is the VALR REST adapter, the reference live gateway.
// VALR's market order endpoint takes the amount in the input currency
// directly (quoteAmount for buys, baseAmount for sells), which is the
// gateway convention, so no translation is needed.
package valr

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
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

func (a *Adapter) Name() string { return "valr" }

func (a *Adapter) GetBalances(ctx context.Context) (map[string]float64, error) {
	var rows []struct {
		Currency  string `json:"currency"`
		Available string `json:"available"`
	}
	if err := a.call(ctx, http.MethodGet, "/v1/account/balances", nil, true, &rows); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.Currency] = parseF(r.Available)
	}
	return out, nil
}

func (a *Adapter) GetTicker(ctx context.Context, pair string) (common.Ticker, error) {
	var body struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	path := fmt.Sprintf("/v1/public/%s/marketsummary", pair)
	if err := a.call(ctx, http.MethodGet, path, nil, false, &body); err != nil {
		return common.Ticker{}, err
	}
	return common.Ticker{Bid: parseF(body.BidPrice), Ask: parseF(body.AskPrice)}, nil
}

func (a *Adapter) GetOrderBook(ctx context.Context, pair string) (orderbook.Snapshot, error) {
	var body struct {
		Asks []struct {
			Price    string `json:"price"`
			Quantity string `json:"quantity"`
		} `json:"Asks"`
		Bids []struct {
			Price    string `json:"price"`
			Quantity string `json:"quantity"`
		} `json:"Bids"`
	}
	path := fmt.Sprintf("/v1/public/%s/orderbook", pair)
	if err := a.call(ctx, http.MethodGet, path, nil, false, &body); err != nil {
		return orderbook.Snapshot{}, err
	}
	snap := orderbook.Snapshot{Pair: pair, FetchedAt: time.Now()}
	for _, l := range body.Bids {
		snap.Bids = append(snap.Bids, orderbook.Level{Price: parseF(l.Price), Qty: parseF(l.Quantity)})
	}
	for _, l := range body.Asks {
		snap.Asks = append(snap.Asks, orderbook.Level{Price: parseF(l.Price), Qty: parseF(l.Quantity)})
	}
	return snap, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderHandle, error) {
	if req.Kind != common.Market {
		return common.OrderHandle{}, &common.InvalidOrderError{Reason: "valr adapter places market orders only"}
	}
	payload := map[string]string{
		"pair": req.Pair,
		"side": sideWord(req.Side),
	}
	amount := strconv.FormatFloat(req.Qty, 'f', 8, 64)
	if req.Side == common.Buy {
		payload["quoteAmount"] = amount
	} else {
		payload["baseAmount"] = amount
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := a.call(ctx, http.MethodPost, "/v1/orders/market", payload, true, &body); err != nil {
		return common.OrderHandle{}, err
	}
	return common.OrderHandle{ID: body.ID, Pair: req.Pair}, nil
}

func (a *Adapter) GetOrderStatus(ctx context.Context, h common.OrderHandle) (common.OrderStatus, error) {
	var body struct {
		OrderStatusType   string `json:"orderStatusType"`
		OriginalQuantity  string `json:"originalQuantity"`
		RemainingQuantity string `json:"remainingQuantity"`
		AveragePrice      string `json:"averagePrice"`
		TotalFee          string `json:"totalFee"`
	}
	path := fmt.Sprintf("/v1/orders/%s/orderid/%s", h.Pair, h.ID)
	if err := a.call(ctx, http.MethodGet, path, nil, true, &body); err != nil {
		return common.OrderStatus{}, err
	}
	st := common.OrderStatus{
		FilledQty: parseF(body.OriginalQuantity) - parseF(body.RemainingQuantity),
		AvgPrice:  parseF(body.AveragePrice),
		FeeAmount: parseF(body.TotalFee),
	}
	switch body.OrderStatusType {
	case "Filled":
		st.State = common.OrderFilled
	case "Cancelled", "Expired":
		st.State = common.OrderCancelled
	case "Failed":
		st.State = common.OrderFailed
	default:
		st.State = common.OrderPending
	}
	return st, nil
}

func (a *Adapter) call(ctx context.Context, verb, path string, payload any, signed bool, out any) error {
	var body []byte
	if payload != nil {
		body, _ = json.Marshal(payload)
	}
	req, err := http.NewRequestWithContext(ctx, verb, a.creds.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-VALR-API-KEY", a.creds.APIKey)
		req.Header.Set("X-VALR-TIMESTAMP", ts)
		req.Header.Set("X-VALR-SIGNATURE", a.sign(ts, verb, path, body))
	}
	resp, err := a.http.Do(req)
	if err != nil {
		metrics.APIErrorsTotal.WithLabelValues("valr", path).Inc()
		return &common.NetworkError{Op: verb + " " + path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		metrics.APIErrorsTotal.WithLabelValues("valr", path).Inc()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &common.AuthError{Exchange: "valr", Err: fmt.Errorf("%s", msg)}
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

// sign computes HMAC-SHA512 over timestamp+verb+path+body per the VALR
// authentication scheme.
func (a *Adapter) sign(ts, verb, path string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(a.creds.Secret))
	mac.Write([]byte(ts))
	mac.Write([]byte(verb))
	mac.Write([]byte(path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
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
