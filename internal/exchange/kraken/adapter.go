// Package kraken is the Kraken REST adapter. Kraken's AddOrder takes
// volume in base currency only, so market buys convert the gateway's
// quote-denominated quantity at the live ask before placing.
package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
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

func (a *Adapter) Name() string { return "kraken" }

func (a *Adapter) GetBalances(ctx context.Context) (map[string]float64, error) {
	var result map[string]string
	if err := a.private(ctx, "/0/private/Balance", url.Values{}, &result); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(result))
	for asset, v := range result {
		out[asset] = parseF(v)
	}
	return out, nil
}

func (a *Adapter) GetTicker(ctx context.Context, pair string) (common.Ticker, error) {
	var result map[string]struct {
		Ask []json.Number `json:"a"`
		Bid []json.Number `json:"b"`
	}
	if err := a.public(ctx, "/0/public/Ticker", url.Values{"pair": {pair}}, &result); err != nil {
		return common.Ticker{}, err
	}
	for _, t := range result { // keyed by Kraken's canonical pair name
		var out common.Ticker
		if len(t.Bid) > 0 {
			out.Bid, _ = t.Bid[0].Float64()
		}
		if len(t.Ask) > 0 {
			out.Ask, _ = t.Ask[0].Float64()
		}
		return out, nil
	}
	return common.Ticker{}, &common.UnknownPairError{Pair: pair}
}

func (a *Adapter) GetOrderBook(ctx context.Context, pair string) (orderbook.Snapshot, error) {
	var result map[string]struct {
		Asks [][]json.Number `json:"asks"`
		Bids [][]json.Number `json:"bids"`
	}
	q := url.Values{"pair": {pair}, "count": {"20"}}
	if err := a.public(ctx, "/0/public/Depth", q, &result); err != nil {
		return orderbook.Snapshot{}, err
	}
	for _, book := range result {
		snap := orderbook.Snapshot{Pair: pair, FetchedAt: time.Now()}
		for _, l := range book.Bids {
			if len(l) >= 2 {
				p, _ := l[0].Float64()
				v, _ := l[1].Float64()
				snap.Bids = append(snap.Bids, orderbook.Level{Price: p, Qty: v})
			}
		}
		for _, l := range book.Asks {
			if len(l) >= 2 {
				p, _ := l[0].Float64()
				v, _ := l[1].Float64()
				snap.Asks = append(snap.Asks, orderbook.Level{Price: p, Qty: v})
			}
		}
		return snap, nil
	}
	return orderbook.Snapshot{}, &common.UnknownPairError{Pair: pair}
}

func (a *Adapter) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderHandle, error) {
	if req.Kind != common.Market {
		return common.OrderHandle{}, &common.InvalidOrderError{Reason: "kraken adapter places market orders only"}
	}
	volume := req.Qty
	if req.Side == common.Buy {
		ticker, err := a.GetTicker(ctx, req.Pair)
		if err != nil {
			return common.OrderHandle{}, err
		}
		if ticker.Ask <= 0 {
			return common.OrderHandle{}, &common.InvalidOrderError{Reason: "no ask price for " + req.Pair}
		}
		volume = req.Qty / ticker.Ask
	}
	form := url.Values{
		"pair":      {req.Pair},
		"type":      {string(req.Side)},
		"ordertype": {"market"},
		"volume":    {strconv.FormatFloat(volume, 'f', 8, 64)},
	}
	var result struct {
		TxID []string `json:"txid"`
	}
	if err := a.private(ctx, "/0/private/AddOrder", form, &result); err != nil {
		return common.OrderHandle{}, err
	}
	if len(result.TxID) == 0 {
		return common.OrderHandle{}, &common.NetworkError{Op: "AddOrder", Err: fmt.Errorf("no txid in response")}
	}
	return common.OrderHandle{ID: result.TxID[0], Pair: req.Pair}, nil
}

func (a *Adapter) GetOrderStatus(ctx context.Context, h common.OrderHandle) (common.OrderStatus, error) {
	var result map[string]struct {
		Status  string `json:"status"`
		VolExec string `json:"vol_exec"`
		Price   string `json:"price"`
		Fee     string `json:"fee"`
	}
	if err := a.private(ctx, "/0/private/QueryOrders", url.Values{"txid": {h.ID}}, &result); err != nil {
		return common.OrderStatus{}, err
	}
	ord, ok := result[h.ID]
	if !ok {
		return common.OrderStatus{}, &common.InvalidOrderError{Reason: "unknown order " + h.ID}
	}
	st := common.OrderStatus{
		FilledQty: parseF(ord.VolExec),
		AvgPrice:  parseF(ord.Price),
		FeeAmount: parseF(ord.Fee),
	}
	switch ord.Status {
	case "closed":
		st.State = common.OrderFilled
	case "canceled", "expired":
		st.State = common.OrderCancelled
	default:
		st.State = common.OrderPending
	}
	return st, nil
}

func (a *Adapter) public(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.creds.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	return a.do(req, path, out)
}

func (a *Adapter) private(ctx context.Context, path string, form url.Values, out any) error {
	form.Set("nonce", strconv.FormatInt(time.Now().UnixNano(), 10))
	body := form.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.creds.BaseURL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", a.creds.APIKey)
	sig, err := a.sign(path, form.Get("nonce"), body)
	if err != nil {
		return &common.AuthError{Exchange: "kraken", Err: err}
	}
	req.Header.Set("API-Sign", sig)
	return a.do(req, path, out)
}

// sign implements Kraken's scheme: HMAC-SHA512 over path plus
// SHA256(nonce+postdata), keyed with the base64-decoded secret.
func (a *Adapter) sign(path, nonce, body string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(a.creds.Secret)
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}
	inner := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (a *Adapter) do(req *http.Request, path string, out any) error {
	resp, err := a.http.Do(req)
	if err != nil {
		metrics.APIErrorsTotal.WithLabelValues("kraken", path).Inc()
		return &common.NetworkError{Op: req.Method + " " + path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope struct {
		Error  []string        `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		metrics.APIErrorsTotal.WithLabelValues("kraken", path).Inc()
		return &common.NetworkError{Op: req.Method + " " + path, Err: err}
	}
	if len(envelope.Error) > 0 {
		metrics.APIErrorsTotal.WithLabelValues("kraken", path).Inc()
		msg := strings.Join(envelope.Error, "; ")
		switch {
		case strings.Contains(msg, "Permission denied"), strings.Contains(msg, "Invalid key"), strings.Contains(msg, "Invalid signature"):
			return &common.AuthError{Exchange: "kraken", Err: fmt.Errorf("%s", msg)}
		case strings.Contains(msg, "Insufficient funds"):
			return &common.InsufficientFundsError{Currency: ""}
		case strings.Contains(msg, "Unknown asset pair"):
			return &common.UnknownPairError{Pair: path}
		default:
			return &common.NetworkError{Op: req.Method + " " + path, Err: fmt.Errorf("%s", msg)}
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return &common.NetworkError{Op: req.Method + " " + path, Err: err}
	}
	return nil
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
