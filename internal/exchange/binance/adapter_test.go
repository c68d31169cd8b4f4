package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gridbot/internal/apperrors"
	"gridbot/internal/clocksync"
	"gridbot/internal/exchange/httpclient"
	"gridbot/internal/logging"
	"gridbot/internal/proxypool"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignerAddsSignatureAndHeader(t *testing.T) {
	s := newSigner("key123", "secret456")

	req, err := http.NewRequest(http.MethodGet, "https://api.binance.com/api/v3/account?symbol=BTCUSDT&timestamp=1000", nil)
	require.NoError(t, err)

	require.NoError(t, s.SignRequest(req))

	assert.Equal(t, "key123", req.Header.Get("X-MBX-APIKEY"))
	assert.NotEmpty(t, req.URL.Query().Get("signature"))
}

func TestSignerIsDeterministic(t *testing.T) {
	s := newSigner("key", "secret")
	req1, _ := http.NewRequest(http.MethodGet, "https://x/?a=1&b=2", nil)
	req2, _ := http.NewRequest(http.MethodGet, "https://x/?a=1&b=2", nil)

	require.NoError(t, s.SignRequest(req1))
	require.NoError(t, s.SignRequest(req2))

	assert.Equal(t, req1.URL.Query().Get("signature"), req2.URL.Query().Get("signature"))
}

func TestTranslateErrorMapsBinanceCodes(t *testing.T) {
	a := &Adapter{}

	cases := []struct {
		name string
		body string
		want error
	}{
		{"auth failure", `{"code":-2015,"msg":"invalid api key"}`, apperrors.ErrVenueFatal},
		{"lot size", `{"code":-1013,"msg":"bad lot"}`, apperrors.ErrLotSize},
		{"insufficient funds", `{"code":-2010,"msg":"no balance"}`, apperrors.ErrInsufficientFunds},
		{"unknown order", `{"code":-2011,"msg":"unknown order"}`, apperrors.ErrNotFound},
		{"rate limit", `{"code":-1003,"msg":"too many requests"}`, apperrors.ErrRateLimit},
		{"timestamp skew", `{"code":-1021,"msg":"outside recvWindow"}`, apperrors.ErrTimestampSkew},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := a.translateError(400, []byte(c.body), nil)
			assert.True(t, errors.Is(got, c.want))
		})
	}
}

func TestTranslateErrorFallsBackToTransientOn5xx(t *testing.T) {
	a := &Adapter{}
	got := a.translateError(503, nil, errors.New("boom"))
	assert.True(t, errors.Is(got, apperrors.ErrVenueTransient))
}

func TestParseExecutionReportIgnoresOtherEventTypes(t *testing.T) {
	_, ok := parseExecutionReport([]byte(`{"e":"outboundAccountPosition"}`))
	assert.False(t, ok)
}

func TestParseExecutionReportDecodesFill(t *testing.T) {
	msg := []byte(`{"e":"executionReport","s":"BTCUSDT","c":"client1","X":"FILLED","i":555,"z":"0.01","L":"50000.00","n":"0.00001","N":"BNB","E":1690000000000}`)
	update, ok := parseExecutionReport(msg)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", update.Symbol)
	assert.Equal(t, "555", update.VenueOrderID)
	assert.True(t, update.ExecutedQty.Equal(decimal.RequireFromString("0.01")))
}

func TestFetchServerTimeDecodesUnsignedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/time", r.URL.Path)
		_, _ = w.Write([]byte(`{"serverTime":1700000000000}`))
	}))
	defer server.Close()

	c := httpclient.New(5*time.Second, nil)
	got, err := FetchServerTime(context.Background(), c, server.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), got.UnixMilli())
}

func TestFetchSymbolInfoDecodesFiltersUnbound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","baseAsset":"BTC","quoteAsset":"USDT","filters":[
			{"filterType":"PRICE_FILTER","tickSize":"0.01"},
			{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001"},
			{"filterType":"MIN_NOTIONAL","minNotional":"10"}
		]}]}`))
	}))
	defer server.Close()

	c := httpclient.New(5*time.Second, nil)
	info, err := FetchSymbolInfo(context.Background(), c, server.URL, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", info.Symbol)
	assert.True(t, info.TickSize.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, info.StepSize.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, info.MinNotional.Equal(decimal.RequireFromString("10")))
}

func TestClassifyConnectivityFailureMapsRegionBlockAnd5xxGap(t *testing.T) {
	kind, ok := classifyConnectivityFailure(http.StatusForbidden, nil)
	assert.True(t, ok)
	assert.Equal(t, proxypool.FailureRegionBlock, kind)

	kind, ok = classifyConnectivityFailure(0, context.DeadlineExceeded)
	assert.True(t, ok)
	assert.Equal(t, proxypool.FailureTimeout, kind)

	kind, ok = classifyConnectivityFailure(0, errors.New("dial tcp: connect: connection refused"))
	assert.True(t, ok)
	assert.Equal(t, proxypool.FailureConnectRefused, kind)

	_, ok = classifyConnectivityFailure(503, errors.New("boom"))
	assert.False(t, ok, "a 5xx with an actual HTTP response is not proxy-attributable")

	_, ok = classifyConnectivityFailure(400, errors.New("bad request"))
	assert.False(t, ok)
}

func TestGetResyncsAndRetriesOnceAfterTimestampSkew(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1021,"msg":"outside recvWindow"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	clock := clocksync.New("test", func(ctx context.Context) (time.Time, error) {
		return time.Now(), nil
	}, logging.Global(), nil)

	a := &Adapter{
		restBase: server.URL,
		http:     httpclient.New(5*time.Second, nil),
		limits:   newLimiterSet(),
		clock:    clock,
		logger:   logging.Global(),
	}

	body, err := a.get(context.Background(), weightQuery, "/api/v3/account", nil, true)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "expected exactly one retry after TIMESTAMP_SKEW")
}

func TestGetDegradesToVenueTransientWhenRetryAfterTimestampSkewAlsoFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1021,"msg":"outside recvWindow"}`))
	}))
	defer server.Close()

	clock := clocksync.New("test", func(ctx context.Context) (time.Time, error) {
		return time.Now(), nil
	}, logging.Global(), nil)

	a := &Adapter{
		restBase: server.URL,
		http:     httpclient.New(5*time.Second, nil),
		limits:   newLimiterSet(),
		clock:    clock,
		logger:   logging.Global(),
	}

	_, err := a.get(context.Background(), weightQuery, "/api/v3/account", nil, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrVenueTransient))
	assert.False(t, errors.Is(err, apperrors.ErrTimestampSkew), "a second TIMESTAMP_SKEW should degrade, not surface again")
}

func TestReportAndRebindProxySwitchesAwayFromFailedEndpoint(t *testing.T) {
	pool := proxypool.New([]string{"http://proxy-a.invalid:1", "http://proxy-b.invalid:1"}, time.Minute, time.Hour, nil, logging.Global(), nil)

	evicted := false
	a := &Adapter{
		proxyPool:     pool,
		userID:        "user-1",
		proxyEndpoint: "http://proxy-a.invalid:1",
		http:          httpclient.New(time.Second, nil),
		signer:        newSigner("key", "secret"),
		callTimeout:   time.Second,
		logger:        logging.Global(),
		onProxyRebind: func() { evicted = true },
	}

	a.reportAndRebindProxy(context.Background(), proxypool.FailureRegionBlock)

	assert.NotEqual(t, "http://proxy-a.invalid:1", a.proxyEndpoint)
	assert.True(t, evicted, "expected onProxyRebind to fire so the process cache drops the stale entry")

	for _, snap := range pool.Snapshot() {
		if snap.Endpoint == "http://proxy-a.invalid:1" {
			assert.True(t, snap.Cooling, "expected the reported proxy to be cooling")
		}
	}
}

func TestFetchSymbolInfoUnknownSymbol(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbols":[]}`))
	}))
	defer server.Close()

	c := httpclient.New(5*time.Second, nil)
	_, err := FetchSymbolInfo(context.Background(), c, server.URL, "NOPE")
	assert.True(t, errors.Is(err, apperrors.ErrSymbolUnknown))
}
