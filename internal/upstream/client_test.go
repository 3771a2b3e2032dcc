package upstream_test

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-monitor/internal/errors"
	"spread-monitor/internal/models"
	"spread-monitor/internal/upstream"
)

func newTestClient(srv *httptest.Server) *upstream.Client {
	cfg := upstream.DefaultClientConfig()
	cfg.BaseURL = srv.URL
	cfg.RatePerSec = 0
	return upstream.NewClient(cfg, zerolog.Nop())
}

func jsonHandler(t *testing.T, path, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, path, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

func TestFetchChain_Success(t *testing.T) {
	data, err := os.ReadFile("testdata/option_chain.json")
	require.NoError(t, err)

	srv := httptest.NewServer(jsonHandler(t, "/api/optionchain", string(data)))
	defer srv.Close()

	quotes, err := newTestClient(srv).FetchChain(context.Background())
	require.NoError(t, err)
	require.Len(t, quotes, 2, "envelope with a bad strike is dropped")

	ce := quotes[0]
	assert.Equal(t, "NIFTY24DEC24000CE", ce.Symbol)
	assert.Equal(t, models.OptionCall, ce.OptionType)
	assert.Equal(t, "2024-12-26", ce.Expiry)
	assert.InDelta(t, 24000, ce.Strike, 0.001)
	require.Len(t, ce.Bids, 3)
	assert.InDelta(t, 101.0, ce.Bids[1].Price, 0.001)
	assert.True(t, math.IsNaN(ce.Bids[2].Price))
	assert.InDelta(t, 101.75, ce.LTP, 0.001)

	pe := quotes[1]
	assert.Equal(t, models.OptionPut, pe.OptionType)
	assert.InDelta(t, 24000, pe.Strike, 0.001)
}

func TestFetchChain_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).FetchChain(context.Background())
	require.Error(t, err)

	var fe *errors.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)
	assert.Equal(t, "option_chain", fe.Endpoint)
}

func TestFetchStrategies(t *testing.T) {
	body := `[
		{"id": 7, "name": "iron fly", "biddingLegId": "b", "legs": [
			{"id": "a", "symbol": "NIFTY", "strike": 24000, "expiry": "2024-12-26", "optionType": "CE", "side": "SELL", "quantity": 50},
			{"id": "b", "symbol": "NIFTY", "strike": "24100", "expiry": "2024-12-26", "optionType": "CE", "side": "buy", "quantity": 50,
			 "pricing": {"method": "depth", "depthIndex": 3}},
			{"symbol": "NIFTY", "strike": 23900, "expiry": "2024-12-26", "optionType": "PE", "side": "BUY", "quantity": 2.5}
		]},
		{"name": "no id"}
	]`
	srv := httptest.NewServer(jsonHandler(t, "/api/strategies", body))
	defer srv.Close()

	specs, err := newTestClient(srv).FetchStrategies(context.Background())
	require.NoError(t, err)
	require.Len(t, specs, 1)

	s := specs[0]
	assert.Equal(t, "7", s.ID)
	assert.Equal(t, "b", s.BiddingLegID)
	require.Len(t, s.Legs, 3)
	assert.Equal(t, models.DefaultPricingConfig(), s.Legs[0].Pricing)
	assert.Equal(t, models.OrderSideBuy, s.Legs[1].Side)
	assert.Equal(t, models.PricingDepth, s.Legs[1].Pricing.Method)
	assert.Equal(t, 3, s.Legs[1].Pricing.DepthIndex)
	assert.Equal(t, "2", s.Legs[2].ID)
	assert.Equal(t, 0, s.Legs[2].Quantity, "fractional quantity is unusable")
}

func TestFetchOrders_UsesAliases(t *testing.T) {
	body := `[
		{"order_id": "o1", "legId": "a", "tradingsymbol": "NIFTY24DEC24000CE", "strikePrice": 24000,
		 "expiry_date": "2024-12-26", "option_type": "CE", "transactionType": "SELL", "filledQuantity": 50,
		 "averagePrice": 100.5, "isEntered": true, "isExited": "false", "orderStatus": "complete",
		 "orderDetailsKey": "k1", "pricing": {"method": "average", "averageDepth": 3}},
		{"id": 42, "side": "BUY", "qty": "25", "price": "12.25", "entered": 1, "exited": true, "status": "COMPLETE"}
	]`
	srv := httptest.NewServer(jsonHandler(t, "/api/strategies/s1/orders", body))
	defer srv.Close()

	orders, err := newTestClient(srv).FetchOrders(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, orders, 2)

	o := orders[0]
	assert.Equal(t, "o1", o.OrderID)
	assert.Equal(t, "s1", o.StrategyID)
	assert.Equal(t, "NIFTY24DEC24000CE", o.Symbol)
	assert.Equal(t, models.OrderSideSell, o.Side)
	assert.Equal(t, 50, o.Quantity)
	assert.InDelta(t, 100.5, o.EntryPrice, 0.001)
	assert.True(t, o.Entered)
	assert.False(t, o.Exited)
	assert.Equal(t, "k1", o.ExitRecordKey)
	require.NotNil(t, o.Pricing)
	assert.Equal(t, 3, o.Pricing.AverageDepth)

	o2 := orders[1]
	assert.Equal(t, "42", o2.OrderID)
	assert.Equal(t, 25, o2.Quantity)
	assert.InDelta(t, 12.25, o2.EntryPrice, 0.001)
	assert.True(t, o2.Entered)
	assert.True(t, o2.Exited)
	assert.Nil(t, o2.Pricing)
}

func TestFetchExitFill(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/orderdetails/k1/exit":
			w.Write([]byte(`{"exitPrice": 95.5, "quantity": 50}`))
		case "/api/orderdetails/k2/exit":
			w.Write([]byte(`[{"averagePrice": "80"}]`))
		case "/api/orderdetails/k3/exit":
			w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	client := newTestClient(srv)
	ctx := context.Background()

	fill, ok, err := client.FetchExitFill(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 95.5, fill.Price, 0.001)
	assert.Equal(t, 50, fill.Quantity)
	assert.Equal(t, "k1", fill.Key)

	fill, ok, err = client.FetchExitFill(ctx, "k2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 80, fill.Price, 0.001)

	_, ok, err = client.FetchExitFill(ctx, "k3")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = client.FetchExitFill(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCircuitBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := upstream.DefaultClientConfig()
	cfg.BaseURL = srv.URL
	cfg.Breaker.MinRequests = 2
	cfg.Breaker.FailureRatio = 0.5
	cfg.Breaker.Timeout = time.Minute
	client := upstream.NewClient(cfg, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.FetchChain(ctx)
		require.Error(t, err)
	}
	_, err := client.FetchChain(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUpstreamUnavailable))
	assert.Equal(t, int32(2), hits.Load())
}

func TestExitFillNotFoundDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := upstream.DefaultClientConfig()
	cfg.BaseURL = srv.URL
	cfg.Breaker.MinRequests = 1
	cfg.Breaker.FailureRatio = 0.1
	client := upstream.NewClient(cfg, zerolog.Nop())

	for i := 0; i < 5; i++ {
		_, ok, err := client.FetchExitFill(context.Background(), "gone")
		require.NoError(t, err)
		assert.False(t, ok)
	}
}
