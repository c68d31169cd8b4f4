// Package binance implements core.ExchangeGateway against the Binance
// spot REST and user-data-stream WebSocket APIs.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"gridbot/internal/apperrors"
	"gridbot/internal/clocksync"
	"gridbot/internal/core"
	"gridbot/internal/exchange/httpclient"
	"gridbot/internal/exchange/symbolcache"
	"gridbot/internal/proxypool"
	"gridbot/internal/transport/wsclient"

	"github.com/shopspring/decimal"
)

// Adapter is one user's bound session against one venue: it carries that
// user's signed credentials, a dedicated rate limiter, and the shared
// clock-offset and symbol-metadata singletons (§4.1).
type Adapter struct {
	restBase string
	wsBase   string

	httpMu sync.RWMutex
	http   *httpclient.Client

	signer      httpclient.Signer
	callTimeout time.Duration

	proxyPool     *proxypool.Pool
	userID        string
	proxyEndpoint string
	onProxyRebind func()

	limits  *limiterSet
	clock   *clocksync.Sync
	symbols *symbolcache.Cache

	logger core.Logger

	listenKey string
}

// Config configures one Adapter instance.
type Config struct {
	RESTBaseURL string
	WSBaseURL   string
	APIKey      string
	APISecret   string
	CallTimeout time.Duration
	// ProxyURL, if set, routes this user's session through one sticky
	// proxy endpoint leased from internal/proxypool (§4.7).
	ProxyURL string
	// ProxyPool, if set along with UserID, lets the Adapter report a
	// REGION_BLOCK/connectivity failure itself and rebind to a freshly
	// acquired proxy rather than staying bound to a failing one forever.
	ProxyPool *proxypool.Pool
	UserID    string
	// OnProxyRebind, if set, is called once whenever this Adapter rebinds
	// to a different proxy after a reported failure, so the process's
	// adapter cache can drop its memoized entry and rebuild fresh next
	// time (§4.1, §4.7).
	OnProxyRebind func()
}

// New builds an Adapter bound to one user's credentials. clock is the
// venue-wide (not per-user) clock offset singleton; symbols is the
// venue-wide symbol metadata cache.
func New(cfg Config, clock *clocksync.Sync, symbols *symbolcache.Cache, logger core.Logger) *Adapter {
	signer := newSigner(cfg.APIKey, cfg.APISecret)
	logger = logger.With("component", "binance_adapter")

	proxyEndpoint := cfg.ProxyURL
	httpC, err := httpclient.NewWithProxy(cfg.CallTimeout, signer, cfg.ProxyURL)
	if err != nil {
		logger.Warn("proxy configuration rejected, falling back to direct connection", "error", err)
		httpC = httpclient.New(cfg.CallTimeout, signer)
		proxyEndpoint = ""
	}

	a := &Adapter{
		restBase:      cfg.RESTBaseURL,
		wsBase:        cfg.WSBaseURL,
		http:          httpC,
		signer:        signer,
		callTimeout:   cfg.CallTimeout,
		proxyPool:     cfg.ProxyPool,
		userID:        cfg.UserID,
		proxyEndpoint: proxyEndpoint,
		onProxyRebind: cfg.OnProxyRebind,
		limits:        newLimiterSet(),
		clock:         clock,
		logger:        logger,
	}
	if symbols == nil {
		symbols = symbolcache.New(time.Hour, a.fetchSymbolInfo)
	}
	a.symbols = symbols
	return a
}

func (a *Adapter) signedQuery(extra url.Values) url.Values {
	q := url.Values{}
	for k, v := range extra {
		q[k] = v
	}
	q.Set("timestamp", strconv.FormatInt(a.clock.Now().UnixMilli(), 10))
	q.Set("recvWindow", strconv.FormatInt(clocksync.RecvWindow.Milliseconds(), 10))
	return q
}

func (a *Adapter) get(ctx context.Context, class weightClass, path string, query url.Values, signed bool) ([]byte, error) {
	if err := a.limits.wait(ctx, class); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrRateLimit, err)
	}

	return a.execute(ctx, func() (*http.Request, error) {
		q := query
		if signed {
			q = a.signedQuery(query)
		}
		u := a.restBase + path
		if len(q) > 0 {
			u += "?" + q.Encode()
		}
		return httpclient.NewRequest(ctx, http.MethodGet, u)
	})
}

func (a *Adapter) postOrDelete(ctx context.Context, method string, class weightClass, path string, query url.Values) ([]byte, error) {
	if err := a.limits.wait(ctx, class); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrRateLimit, err)
	}

	return a.execute(ctx, func() (*http.Request, error) {
		q := a.signedQuery(query)
		u := a.restBase + path
		req, err := httpclient.NewRequest(ctx, method, u)
		if err != nil {
			return nil, err
		}
		req.URL.RawQuery = q.Encode()
		return req, nil
	})
}

// currentHTTP returns the Client currently bound to this Adapter, safe
// against a concurrent rebind from reportAndRebindProxy (the same user's
// bots run on independent single-writer lanes and can call the gateway
// concurrently, §5).
func (a *Adapter) currentHTTP() *httpclient.Client {
	a.httpMu.RLock()
	defer a.httpMu.RUnlock()
	return a.http
}

// execute builds a request with rebuild, sends it, and recovers from the
// two failure classes the venue adapter must self-heal from (§4.1,
// §7): a REGION_BLOCK/connectivity failure reports and rebinds the bound
// proxy and retries once on the fresh one; a TIMESTAMP_SKEW response
// forces a synchronous clock resync and retries once with a refreshed
// timestamp. rebuild is called again for each retry so a signed request
// picks up the new clock offset.
func (a *Adapter) execute(ctx context.Context, rebuild func() (*http.Request, error)) ([]byte, error) {
	req, err := rebuild()
	if err != nil {
		return nil, err
	}

	body, status, err := a.currentHTTP().Do(req)
	if err == nil {
		return body, nil
	}

	if kind, ok := classifyConnectivityFailure(status, err); ok && a.proxyPool != nil {
		return a.retryAfterProxyFailure(ctx, rebuild, kind, status, body, err)
	}

	translated := a.translateError(status, body, err)
	if errors.Is(translated, apperrors.ErrTimestampSkew) {
		return a.retryAfterTimestampSkew(ctx, rebuild, translated)
	}
	return nil, translated
}

// classifyConnectivityFailure maps a raw (pre-translation) status/error
// pair onto the Proxy Pool's failure taxonomy (§4.7). Only the failure
// classes the spec attributes to a bad proxy - a region block, or no HTTP
// response at all - are proxy-reportable; ordinary venue rejections
// (4xx business errors) are left to translateError.
func classifyConnectivityFailure(status int, err error) (proxypool.FailureKind, bool) {
	if status == http.StatusForbidden {
		return proxypool.FailureRegionBlock, true
	}
	if status != 0 {
		return "", false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return proxypool.FailureTimeout, true
	}
	return proxypool.FailureConnectRefused, true
}

func (a *Adapter) retryAfterProxyFailure(ctx context.Context, rebuild func() (*http.Request, error), kind proxypool.FailureKind, status int, body []byte, origErr error) ([]byte, error) {
	a.reportAndRebindProxy(ctx, kind)

	req, err := rebuild()
	if err != nil {
		return nil, a.translateError(status, body, origErr)
	}
	retryBody, retryStatus, retryErr := a.currentHTTP().Do(req)
	if retryErr == nil {
		return retryBody, nil
	}
	return nil, a.translateError(retryStatus, retryBody, retryErr)
}

// reportAndRebindProxy reports the currently-bound proxy as failed (§4.7
// RegionBlock/ProxyFailure), then acquires a fresh one and rebuilds the
// HTTP client against it, falling back to a direct connection if no
// healthy proxy remains. onProxyRebind lets the process's adapter cache
// drop this Adapter so the next lookup for this user builds a new one
// against the rebound config.
func (a *Adapter) reportAndRebindProxy(ctx context.Context, kind proxypool.FailureKind) {
	a.httpMu.RLock()
	failedEndpoint := a.proxyEndpoint
	a.httpMu.RUnlock()

	a.proxyPool.Report(ctx, a.userID, failedEndpoint, kind)
	if a.onProxyRebind != nil {
		a.onProxyRebind()
	}

	endpoint, err := a.proxyPool.Acquire(ctx, a.userID)
	var httpC *httpclient.Client
	if err != nil {
		a.logger.Warn("no healthy proxy available after reported failure, continuing direct", "user_id", a.userID, "error", err)
		httpC = httpclient.New(a.callTimeout, a.signer)
		endpoint = ""
	} else if httpC, err = httpclient.NewWithProxy(a.callTimeout, a.signer, endpoint); err != nil {
		a.logger.Warn("proxy rebind configuration rejected, falling back to direct", "endpoint", endpoint, "error", err)
		httpC = httpclient.New(a.callTimeout, a.signer)
		endpoint = ""
	}

	a.httpMu.Lock()
	a.http = httpC
	a.proxyEndpoint = endpoint
	a.httpMu.Unlock()

	a.logger.Info("rebound to a fresh proxy after reported failure", "kind", kind, "endpoint", endpoint)
}

// retryAfterTimestampSkew implements §4.1/§7's "a TIMESTAMP_SKEW error
// triggers a synchronous resync and one automatic retry": any failure on
// that single retry - the resync itself, or the retried call - degrades
// to ErrVenueTransient rather than surfacing a second TIMESTAMP_SKEW, so
// callers see "try again later" instead of looping on a clock that just
// got corrected.
func (a *Adapter) retryAfterTimestampSkew(ctx context.Context, rebuild func() (*http.Request, error), origErr error) ([]byte, error) {
	if err := a.clock.Resync(ctx); err != nil {
		a.logger.Warn("clock resync after TIMESTAMP_SKEW failed", "error", err)
		return nil, fmt.Errorf("%w: resync after %v failed: %v", apperrors.ErrVenueTransient, origErr, err)
	}

	req, err := rebuild()
	if err != nil {
		return nil, fmt.Errorf("%w: rebuild request after resync failed: %v", apperrors.ErrVenueTransient, err)
	}
	body, status, err := a.currentHTTP().Do(req)
	if err == nil {
		return body, nil
	}
	return nil, fmt.Errorf("%w: retry after resync still failed: %v", apperrors.ErrVenueTransient, a.translateError(status, body, err))
}

// binanceError is Binance's standard {"code":-1234,"msg":"..."} error body.
type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// translateError maps a Binance error code onto the apperrors taxonomy
// (§7). Without a recognized code it returns ErrVenueTransient for a 5xx
// status or no response (status 0), ErrRegionBlock for 403, and
// ErrVenueFatal for any other status.
func (a *Adapter) translateError(status int, body []byte, transportErr error) error {
	return translateStatus(status, body, transportErr)
}

// translateStatus maps a Binance error code onto the apperrors taxonomy
// (§7). Without a recognized code it returns ErrVenueTransient for a 5xx
// status or no response (status 0), ErrRegionBlock for 403, and
// ErrVenueFatal for any other status. It needs no bound
// Adapter so the bootstrap helpers (FetchSymbolInfo, FetchServerTime) can
// share it.
func translateStatus(status int, body []byte, transportErr error) error {
	var be binanceError
	if len(body) > 0 {
		_ = json.Unmarshal(body, &be)
	}

	switch be.Code {
	case -2015, -2014:
		return fmt.Errorf("%w: %s", apperrors.ErrVenueFatal, be.Msg)
	case -1013, -1111:
		return fmt.Errorf("%w: %s", apperrors.ErrLotSize, be.Msg)
	case -2010:
		return fmt.Errorf("%w: %s", apperrors.ErrInsufficientFunds, be.Msg)
	case -2011:
		return fmt.Errorf("%w: %s", apperrors.ErrNotFound, be.Msg)
	case -1003:
		return fmt.Errorf("%w: %s", apperrors.ErrRateLimit, be.Msg)
	case -1021:
		return fmt.Errorf("%w: %s", apperrors.ErrTimestampSkew, be.Msg)
	}

	if status >= 500 || status == 0 {
		return fmt.Errorf("%w: %v", apperrors.ErrVenueTransient, transportErr)
	}
	if status == 403 {
		return fmt.Errorf("%w: %s", apperrors.ErrRegionBlock, be.Msg)
	}
	return fmt.Errorf("%w: %s", apperrors.ErrVenueFatal, transportErr)
}

// SymbolInfo returns cached (or freshly fetched) symbol metadata.
func (a *Adapter) SymbolInfo(ctx context.Context, symbol string) (core.SymbolInfo, error) {
	return a.symbols.Get(ctx, symbol)
}

func (a *Adapter) fetchSymbolInfo(ctx context.Context, symbol string) (core.SymbolInfo, error) {
	body, err := a.get(ctx, weightMarketData, "/api/v3/exchangeInfo", url.Values{"symbol": {symbol}}, false)
	if err != nil {
		return core.SymbolInfo{}, err
	}
	return decodeExchangeInfo(body)
}

// FetchSymbolInfo performs the unsigned exchangeInfo lookup directly
// against an httpclient.Client, with no bound Adapter required. It backs
// the symbolcache.FetchFunc the process wires up before any per-user
// Adapter exists, since the cache is a venue-wide singleton built ahead
// of any one user's credentials.
func FetchSymbolInfo(ctx context.Context, c *httpclient.Client, restBaseURL, symbol string) (core.SymbolInfo, error) {
	req, err := httpclient.NewRequest(ctx, http.MethodGet, restBaseURL+"/api/v3/exchangeInfo?symbol="+symbol)
	if err != nil {
		return core.SymbolInfo{}, err
	}
	body, status, err := c.Do(req)
	if err != nil {
		return core.SymbolInfo{}, translateStatus(status, body, err)
	}
	return decodeExchangeInfo(body)
}

// FetchServerTime performs the unsigned server-time lookup directly
// against an httpclient.Client, the clocksync.ServerTimeFunc used before
// any per-user Adapter exists.
func FetchServerTime(ctx context.Context, c *httpclient.Client, restBaseURL string) (time.Time, error) {
	req, err := httpclient.NewRequest(ctx, http.MethodGet, restBaseURL+"/api/v3/time")
	if err != nil {
		return time.Time{}, err
	}
	body, status, err := c.Do(req)
	if err != nil {
		return time.Time{}, translateStatus(status, body, err)
	}
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("decode server time: %w", err)
	}
	return time.UnixMilli(resp.ServerTime), nil
}

func decodeExchangeInfo(body []byte) (core.SymbolInfo, error) {
	var resp struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Filters    []struct {
				FilterType  string `json:"filterType"`
				TickSize    string `json:"tickSize"`
				StepSize    string `json:"stepSize"`
				MinQty      string `json:"minQty"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.SymbolInfo{}, fmt.Errorf("decode exchangeInfo: %w", err)
	}
	if len(resp.Symbols) == 0 {
		return core.SymbolInfo{}, apperrors.ErrSymbolUnknown
	}

	s := resp.Symbols[0]
	info := core.SymbolInfo{Symbol: s.Symbol, BaseAsset: s.BaseAsset, QuoteAsset: s.QuoteAsset}
	for _, f := range s.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			info.TickSize = decimalOrZero(f.TickSize)
		case "LOT_SIZE":
			info.StepSize = decimalOrZero(f.StepSize)
			info.MinQty = decimalOrZero(f.MinQty)
		case "MIN_NOTIONAL", "NOTIONAL":
			info.MinNotional = decimalOrZero(f.MinNotional)
		}
	}
	return info, nil
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Price returns the latest trade price for symbol.
func (a *Adapter) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	body, err := a.get(ctx, weightMarketData, "/api/v3/ticker/price", url.Values{"symbol": {symbol}}, false)
	if err != nil {
		return decimal.Zero, err
	}
	var resp struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("decode ticker price: %w", err)
	}
	return decimal.NewFromString(resp.Price)
}

// Klines returns the most recent limit candles for symbol at interval.
func (a *Adapter) Klines(ctx context.Context, symbol, interval string, limit int) ([]core.Kline, error) {
	q := url.Values{"symbol": {symbol}, "interval": {interval}, "limit": {strconv.Itoa(limit)}}
	body, err := a.get(ctx, weightMarketData, "/api/v3/klines", q, false)
	if err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	klines := make([]core.Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 5 {
			continue
		}
		openMillis, _ := row[0].(float64)
		open, _ := decimal.NewFromString(fmt.Sprint(row[1]))
		high, _ := decimal.NewFromString(fmt.Sprint(row[2]))
		low, _ := decimal.NewFromString(fmt.Sprint(row[3]))
		closeP, _ := decimal.NewFromString(fmt.Sprint(row[4]))
		var volume decimal.Decimal
		if len(row) > 5 {
			volume, _ = decimal.NewFromString(fmt.Sprint(row[5]))
		}
		klines = append(klines, core.Kline{
			OpenTime: time.UnixMilli(int64(openMillis)),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closeP,
			Volume:   volume,
		})
	}
	return klines, nil
}

// AccountInfo returns the signed user's balances.
func (a *Adapter) AccountInfo(ctx context.Context) (core.AccountInfo, error) {
	body, err := a.get(ctx, weightQuery, "/api/v3/account", nil, true)
	if err != nil {
		return core.AccountInfo{}, err
	}

	var resp struct {
		CanTrade bool `json:"canTrade"`
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.AccountInfo{}, fmt.Errorf("decode account: %w", err)
	}

	out := core.AccountInfo{CanTrade: resp.CanTrade}
	for _, b := range resp.Balances {
		out.Balances = append(out.Balances, core.Balance{
			Asset:  b.Asset,
			Free:   decimalOrZero(b.Free),
			Locked: decimalOrZero(b.Locked),
		})
	}
	return out, nil
}

// PlaceLimit places a GTC limit order and returns the venue order id.
func (a *Adapter) PlaceLimit(ctx context.Context, symbol string, side core.OrderSide, price, qty decimal.Decimal) (string, error) {
	q := url.Values{
		"symbol":      {symbol},
		"side":        {string(side)},
		"type":        {"LIMIT"},
		"timeInForce": {"GTC"},
		"quantity":    {qty.String()},
		"price":       {price.String()},
	}
	body, err := a.postOrDelete(ctx, http.MethodPost, weightOrder, "/api/v3/order", q)
	if err != nil {
		if isLotOrPriceRejection(err) {
			a.symbols.Invalidate(symbol)
		}
		return "", err
	}

	var resp struct {
		OrderId int64 `json:"orderId"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode place order response: %w", err)
	}
	return strconv.FormatInt(resp.OrderId, 10), nil
}

func isLotOrPriceRejection(err error) bool {
	return err != nil && (errors.Is(err, apperrors.ErrLotSize) || errors.Is(err, apperrors.ErrPriceFilter))
}

// Cancel cancels an open order.
func (a *Adapter) Cancel(ctx context.Context, symbol, venueOrderID string) error {
	q := url.Values{"symbol": {symbol}, "orderId": {venueOrderID}}
	_, err := a.postOrDelete(ctx, http.MethodDelete, weightOrder, "/api/v3/order", q)
	return err
}

// QueryOrder fetches the current state of one order.
func (a *Adapter) QueryOrder(ctx context.Context, symbol, venueOrderID string) (core.OrderUpdate, error) {
	q := url.Values{"symbol": {symbol}, "orderId": {venueOrderID}}
	body, err := a.get(ctx, weightQuery, "/api/v3/order", q, true)
	if err != nil {
		return core.OrderUpdate{}, err
	}
	return decodeOrderResponse(symbol, body)
}

// OpenOrders lists a symbol's currently open orders.
func (a *Adapter) OpenOrders(ctx context.Context, symbol string) ([]core.OrderUpdate, error) {
	q := url.Values{"symbol": {symbol}}
	body, err := a.get(ctx, weightQuery, "/api/v3/openOrders", q, true)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}

	out := make([]core.OrderUpdate, 0, len(raw))
	for _, r := range raw {
		u, err := decodeOrderResponse(symbol, r)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func decodeOrderResponse(symbol string, body []byte) (core.OrderUpdate, error) {
	var resp struct {
		OrderId             int64  `json:"orderId"`
		ClientOrderId       string `json:"clientOrderId"`
		Status              string `json:"status"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.OrderUpdate{}, fmt.Errorf("decode order: %w", err)
	}

	executedQty := decimalOrZero(resp.ExecutedQty)
	var executedPrice decimal.Decimal
	if !executedQty.IsZero() {
		executedPrice = decimalOrZero(resp.CummulativeQuoteQty).Div(executedQty)
	}

	return core.OrderUpdate{
		Symbol:        symbol,
		VenueOrderID:  strconv.FormatInt(resp.OrderId, 10),
		ClientOrderID: resp.ClientOrderId,
		Status:        core.OrderStatus(resp.Status),
		ExecutedQty:   executedQty,
		ExecutedPrice: executedPrice,
		EventTime:     time.Now(),
	}, nil
}

// ServerTime is a clocksync.ServerTimeFunc backed by Binance's unsigned
// server-time endpoint.
func (a *Adapter) ServerTime(ctx context.Context) (time.Time, error) {
	body, err := a.get(ctx, weightMarketData, "/api/v3/time", nil, false)
	if err != nil {
		return time.Time{}, err
	}
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(resp.ServerTime), nil
}

// UserDataStream fetches a listen key, opens the push stream, keeps the
// key alive on a 30-minute ticker, and invokes handler for every execution
// report until ctx is cancelled. It is restartable: callers may call it
// again after the stream drops.
func (a *Adapter) UserDataStream(ctx context.Context, handler func(core.OrderUpdate)) error {
	listenKey, err := a.getListenKey(ctx)
	if err != nil {
		return fmt.Errorf("get listen key: %w", err)
	}
	a.listenKey = listenKey

	keepAliveCtx, cancelKeepAlive := context.WithCancel(ctx)
	defer cancelKeepAlive()
	go a.keepAliveListenKey(keepAliveCtx, listenKey)

	wsURL := a.wsBase + "/" + listenKey
	client := wsclient.NewClient(wsURL, func(message []byte) {
		update, ok := parseExecutionReport(message)
		if ok {
			handler(update)
		}
	}, a.logger)
	client.Start()

	<-ctx.Done()
	client.Stop()
	return nil
}

func (a *Adapter) getListenKey(ctx context.Context) (string, error) {
	body, err := a.postOrDelete(ctx, http.MethodPost, weightQuery, "/api/v3/userDataStream", url.Values{})
	if err != nil {
		return "", err
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	return resp.ListenKey, nil
}

func (a *Adapter) keepAliveListenKey(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q := url.Values{"listenKey": {listenKey}}
			if _, err := a.postOrDelete(ctx, http.MethodPut, weightQuery, "/api/v3/userDataStream", q); err != nil {
				a.logger.Warn("listen key keepalive failed", "error", err)
			}
		}
	}
}

// executionReport is the subset of Binance's userDataStream executionReport
// event this adapter cares about.
type executionReport struct {
	EventType           string `json:"e"`
	Symbol              string `json:"s"`
	ClientOrderId       string `json:"c"`
	OrderStatus         string `json:"X"`
	OrderId             int64  `json:"i"`
	LastExecutedQty     string `json:"l"`
	CumulativeFilledQty string `json:"z"`
	LastExecutedPrice   string `json:"L"`
	CommissionAmount    string `json:"n"`
	CommissionAsset     string `json:"N"`
	EventTime           int64  `json:"E"`
}

func parseExecutionReport(message []byte) (core.OrderUpdate, bool) {
	var e executionReport
	if err := json.Unmarshal(message, &e); err != nil || e.EventType != "executionReport" {
		return core.OrderUpdate{}, false
	}

	return core.OrderUpdate{
		Symbol:          e.Symbol,
		VenueOrderID:    strconv.FormatInt(e.OrderId, 10),
		ClientOrderID:   e.ClientOrderId,
		Status:          core.OrderStatus(e.OrderStatus),
		ExecutedQty:     decimalOrZero(e.CumulativeFilledQty),
		ExecutedPrice:   decimalOrZero(e.LastExecutedPrice),
		Commission:      decimalOrZero(e.CommissionAmount),
		CommissionAsset: e.CommissionAsset,
		EventTime:       time.UnixMilli(e.EventTime),
	}, true
}
