package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rexbrahh/amm-arb/api/http/cache"
	apitypes "github.com/rexbrahh/amm-arb/api/http/types"
	"github.com/rexbrahh/amm-arb/events"
	"github.com/rexbrahh/amm-arb/pool"
)

const testPool = "58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2"

func newTestServer(t *testing.T, enabled bool) (*Server, *cache.Cache) {
	t.Helper()
	cfg := cache.Config{Enabled: false, TTL: time.Minute}
	if enabled {
		mr := miniredis.RunT(t)
		cfg = cache.Config{Enabled: true, Addr: mr.Addr(), TTL: time.Minute}
	}
	cacheClient, err := cache.New(cfg)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { _ = cacheClient.Close() })

	return NewServer(cacheClient, nil, prometheus.NewRegistry()), cacheClient
}

func serve(srv *Server, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthzHandler(t *testing.T) {
	srv, _ := newTestServer(t, true)

	rr := serve(srv, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp apitypes.HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" || resp.Cache != "ok" {
		t.Fatalf("unexpected status: %+v", resp)
	}
}

func TestOpportunitiesHandler(t *testing.T) {
	srv, c := newTestServer(t, true)
	scannedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv.now = func() time.Time { return scannedAt.Add(1500 * time.Millisecond) }

	t.Run("empty cache", func(t *testing.T) {
		if rr := serve(srv, "/v1/opportunities"); rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}
	})

	scan := events.Scan{
		ScannedAt: scannedAt,
		Routes: 4,
		Opportunities: []events.Opportunity{
			{RouteKey: "a>b", NetProfit: 30, ScannedAt: scannedAt},
			{RouteKey: "a>c", NetProfit: 20, ScannedAt: scannedAt},
			{RouteKey: "a>b>c", NetProfit: 10, ScannedAt: scannedAt},
		},
	}
	if err := c.SetScan(context.Background(), scan); err != nil {
		t.Fatalf("SetScan() error = %v", err)
	}

	t.Run("limited", func(t *testing.T) {
		rr := serve(srv, "/v1/opportunities?limit=2")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp apitypes.OpportunitiesResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Count != 2 || resp.Opportunities[0].RouteKey != "a>b" {
			t.Fatalf("unexpected response %+v", resp)
		}
		if resp.Age != "1.5s" {
			t.Fatalf("unexpected age %s", resp.Age)
		}
	})

	t.Run("invalid limit", func(t *testing.T) {
		if rr := serve(srv, "/v1/opportunities?limit=-3"); rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestPoolHandler(t *testing.T) {
	srv, c := newTestServer(t, true)

	t.Run("invalid address", func(t *testing.T) {
		if rr := serve(srv, "/v1/pool/not-a-key"); rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("unknown pool", func(t *testing.T) {
		if rr := serve(srv, "/v1/pool/"+testPool); rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}
	})

	snap := events.FromState(pool.State{
		Address:   pool.MustParseAddress(testPool),
		Venue:     pool.VenueRaydiumAMM,
		ReserveA:  1_500_000_000,
		ReserveB:  250_000_000,
		DecimalsA: 9,
		DecimalsB: 6,
		Slot:      77,
	})
	if err := c.SetPool(context.Background(), snap); err != nil {
		t.Fatalf("SetPool() error = %v", err)
	}

	rr := serve(srv, "/v1/pool/"+testPool)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp apitypes.PoolResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Address != testPool || resp.Slot != 77 {
		t.Fatalf("unexpected snapshot %+v", resp)
	}
	if resp.ReserveADisplay != "1.5" || resp.ReserveBDisplay != "250" {
		t.Fatalf("unexpected display reserves %s / %s", resp.ReserveADisplay, resp.ReserveBDisplay)
	}
}

func TestDisabledCache(t *testing.T) {
	srv, _ := newTestServer(t, false)

	if rr := serve(srv, "/v1/opportunities"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	rr := serve(srv, "/healthz")
	var resp apitypes.HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Cache != "disabled" {
		t.Fatalf("unexpected cache status %s", resp.Cache)
	}
}

func TestRequestMetrics(t *testing.T) {
	srv, _ := newTestServer(t, true)

	serve(srv, "/healthz")
	serve(srv, "/v1/pool/"+testPool)
	serve(srv, "/v1/pool/"+testPool)

	if got := testutil.ToFloat64(srv.requests.WithLabelValues("/v1/pool/{id}", "404")); got != 2 {
		t.Fatalf("expected 2 pool requests, got %v", got)
	}
	if got := testutil.ToFloat64(srv.requests.WithLabelValues("/healthz", "200")); got != 1 {
		t.Fatalf("expected 1 health request, got %v", got)
	}

	rr := serve(srv, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}
