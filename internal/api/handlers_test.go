package api

import (
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/H2Oxford/h2ox-api/internal/service"
	"github.com/H2Oxford/h2ox-api/internal/timeseries"
	"github.com/H2Oxford/h2ox-api/internal/warehouse"
)

// mockService implements DataService with canned responses and call counts.
type mockService struct {
	predictionCalls int
	historicCalls   int
	precipCalls     int
	reservoirCalls  int

	lastReservoir string
	err           error
}

func sampleSeries(reservoir string) timeseries.Timeseries[timeseries.Level] {
	ref := timeseries.NewDate(time.Date(2022, 1, 10, 0, 0, 0, 0, time.UTC))
	return timeseries.Timeseries[timeseries.Level]{
		Reservoir: reservoir,
		RefDate:   ref,
		Timeseries: []timeseries.Level{
			{Date: ref, Value: 1000},
		},
	}
}

func (m *mockService) Prediction(_ context.Context, reservoir string) (timeseries.Timeseries[timeseries.Level], error) {
	m.predictionCalls++
	m.lastReservoir = reservoir
	if m.err != nil {
		return timeseries.Timeseries[timeseries.Level]{}, m.err
	}
	return sampleSeries(reservoir), nil
}

func (m *mockService) Historic(_ context.Context, reservoir string) (timeseries.Timeseries[timeseries.Level], error) {
	m.historicCalls++
	m.lastReservoir = reservoir
	if m.err != nil {
		return timeseries.Timeseries[timeseries.Level]{}, m.err
	}
	return sampleSeries(reservoir), nil
}

func (m *mockService) Precipitation(_ context.Context, reservoir string) (timeseries.Timeseries[timeseries.Precip], error) {
	m.precipCalls++
	m.lastReservoir = reservoir
	if m.err != nil {
		return timeseries.Timeseries[timeseries.Precip]{}, m.err
	}
	ref := timeseries.NewDate(time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC))
	return timeseries.Timeseries[timeseries.Precip]{
		Reservoir:  reservoir,
		RefDate:    ref,
		Timeseries: []timeseries.Precip{{Date: ref, Value: 3, Cumulative: 3, CumulativeBaseline: 1.5}},
	}, nil
}

func (m *mockService) Reservoirs(context.Context) (timeseries.ReservoirList, error) {
	m.reservoirCalls++
	if m.err != nil {
		return timeseries.ReservoirList{}, m.err
	}
	return timeseries.ReservoirList{
		Reservoirs: []timeseries.Reservoir{
			{Name: "harangi", FullLevel: 8500},
		},
	}, nil
}

type mockPinger struct{ err error }

func (p *mockPinger) Ping(context.Context) error { return p.err }

func newTestServer(svc DataService) http.Handler {
	s := NewServer(svc, slog.Default(), Options{
		Username:    "apiuser",
		Password:    "apipass",
		AllowOrigin: "https://h2ox.org",
	})
	return s.httpServer.Handler
}

func authedRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.SetBasicAuth("apiuser", "apipass")
	return req
}

func TestListReservoirs(t *testing.T) {
	svc := &mockService{}
	handler := newTestServer(svc)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/reservoirs"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if svc.reservoirCalls != 1 {
		t.Errorf("reservoirCalls = %d, want 1", svc.reservoirCalls)
	}

	var list timeseries.ReservoirList
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Reservoirs) != 1 || list.Reservoirs[0].Name != "harangi" {
		t.Errorf("unexpected body: %+v", list)
	}
}

func TestGetPrediction_PathParam(t *testing.T) {
	svc := &mockService{}
	handler := newTestServer(svc)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/reservoirs/kabini/prediction"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.lastReservoir != "kabini" {
		t.Errorf("reservoir passed to service = %q, want kabini", svc.lastReservoir)
	}
}

func TestDataRoutes_RequireAuth(t *testing.T) {
	tests := []struct {
		name string
		req  func() *http.Request
	}{
		{
			name: "no credentials",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/api/v1/reservoirs", nil)
			},
		},
		{
			name: "wrong password",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/api/v1/reservoirs", nil)
				r.SetBasicAuth("apiuser", "wrong")
				return r
			},
		},
		{
			name: "wrong user",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/api/v1/reservoirs/kabini/historic", nil)
				r.SetBasicAuth("other", "apipass")
				return r
			},
		},
	}

	svc := &mockService{}
	handler := newTestServer(svc)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, tt.req())

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}

	if svc.reservoirCalls != 0 || svc.historicCalls != 0 {
		t.Error("rejected requests must not reach the service")
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "invalid parameter",
			err:        &service.InvalidParameterError{Param: "reservoir", Reason: "must be a non-empty string"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown reservoir",
			err:        fmt.Errorf("forecast: %w", &warehouse.QueryError{Query: warehouse.QueryLatestForecast, Err: sql.ErrNoRows}),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "warehouse failure",
			err:        fmt.Errorf("forecast: %w", &warehouse.QueryError{Query: warehouse.QueryLatestForecast, Err: errors.New("connection refused")}),
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "assembly failure",
			err:        fmt.Errorf("forecast: %w", &timeseries.AssemblyError{Stage: "forecast", Reason: "empty series"}),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "unclassified failure",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestServer(&mockService{err: tt.err})

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/reservoirs/harangi/prediction"))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			var apiErr apiError
			if err := json.NewDecoder(rec.Body).Decode(&apiErr); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if apiErr.Code != tt.wantStatus {
				t.Errorf("body code = %d, want %d", apiErr.Code, tt.wantStatus)
			}
			if tt.wantStatus >= 500 && strings.Contains(apiErr.Error, "boom") {
				t.Error("5xx body must not echo internal error text")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	svc := &mockService{}
	s := NewServer(svc, slog.Default(), Options{Username: "apiuser", Password: "apipass"})
	s.SetVersion("1.2.3")
	s.SetComponentInfo("duckdb", &mockPinger{}, &mockPinger{})

	// Health is open; no credentials on purpose.
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Status    string `json:"status"`
		Version   string `json:"version"`
		Warehouse struct {
			Driver string `json:"driver"`
			Status string `json:"status"`
		} `json:"warehouse"`
		Cache struct {
			Status string `json:"status"`
		} `json:"cache"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", resp.Version)
	}
	if resp.Warehouse.Driver != "duckdb" || resp.Warehouse.Status != "ok" {
		t.Errorf("warehouse = %+v", resp.Warehouse)
	}
}

func TestHealth_DegradedWarehouse(t *testing.T) {
	s := NewServer(&mockService{}, slog.Default(), Options{Username: "apiuser", Password: "apipass"})
	s.SetComponentInfo("postgres", &mockPinger{err: errors.New("down")}, &mockPinger{})

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	var resp struct {
		Status    string `json:"status"`
		Warehouse struct {
			Status string `json:"status"`
		} `json:"warehouse"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Warehouse.Status != "unreachable" {
		t.Errorf("warehouse status = %q, want unreachable", resp.Warehouse.Status)
	}
}

func TestHealth_DeadCacheStaysHealthy(t *testing.T) {
	s := NewServer(&mockService{}, slog.Default(), Options{Username: "apiuser", Password: "apipass"})
	s.SetComponentInfo("duckdb", &mockPinger{}, &mockPinger{err: errors.New("down")})

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	var resp struct {
		Status string `json:"status"`
		Cache  struct {
			Status string `json:"status"`
		} `json:"cache"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy; a dead cache only degrades to miss-then-fetch", resp.Status)
	}
	if resp.Cache.Status != "unreachable" {
		t.Errorf("cache status = %q, want unreachable", resp.Cache.Status)
	}
}

func TestGzipNegotiation(t *testing.T) {
	handler := newTestServer(&mockService{})

	t.Run("client accepts gzip", func(t *testing.T) {
		req := authedRequest(http.MethodGet, "/api/v1/reservoirs")
		req.Header.Set("Accept-Encoding", "gzip")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if enc := rec.Header().Get("Content-Encoding"); enc != "gzip" {
			t.Fatalf("Content-Encoding = %q, want gzip", enc)
		}

		gz, err := gzip.NewReader(rec.Body)
		if err != nil {
			t.Fatalf("gzip reader: %v", err)
		}
		body, err := io.ReadAll(gz)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var list timeseries.ReservoirList
		if err := json.Unmarshal(body, &list); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(list.Reservoirs) != 1 {
			t.Errorf("unexpected body: %+v", list)
		}
	})

	t.Run("client does not accept gzip", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/reservoirs"))

		if enc := rec.Header().Get("Content-Encoding"); enc != "" {
			t.Errorf("Content-Encoding = %q, want empty", enc)
		}
	})
}

func TestCORSPreflight(t *testing.T) {
	handler := newTestServer(&mockService{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/reservoirs", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "https://h2ox.org" {
		t.Errorf("Access-Control-Allow-Origin = %q", origin)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Error("preflight must allow the Authorization header")
	}
}

func TestSecurityAndRequestIDHeaders(t *testing.T) {
	handler := newTestServer(&mockService{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/reservoirs"))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options header")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestMetricsRoute(t *testing.T) {
	handler := newTestServer(&mockService{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); strings.Contains(ct, "application/json") {
		t.Errorf("metrics must not be forced to JSON, got %q", ct)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "0m"},
		{5 * time.Minute, "5m"},
		{90 * time.Minute, "1h 30m"},
		{26*time.Hour + 5*time.Minute, "1d 2h 5m"},
	}

	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
