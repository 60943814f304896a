package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/H2Oxford/h2ox-api/internal/service"
	"github.com/H2Oxford/h2ox-api/internal/timeseries"
	"github.com/H2Oxford/h2ox-api/internal/warehouse"
)

// DataService is the query-service surface the API consumes.
type DataService interface {
	Prediction(ctx context.Context, reservoir string) (timeseries.Timeseries[timeseries.Level], error)
	Historic(ctx context.Context, reservoir string) (timeseries.Timeseries[timeseries.Level], error)
	Precipitation(ctx context.Context, reservoir string) (timeseries.Timeseries[timeseries.Precip], error)
	Reservoirs(ctx context.Context) (timeseries.ReservoirList, error)
}

// Pinger is the liveness check exposed by the warehouse and cache clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Service         DataService
	Logger          *slog.Logger
	StartTime       time.Time
	Version         string
	WarehouseDriver string
	Warehouse       Pinger
	Cache           Pinger
}

// apiError is a JSON error response.
type apiError struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg, Code: status})
}

// writeServiceError maps service failures to HTTP statuses. Parameter
// problems are the caller's fault; everything else is server-side, and 5xx
// responses never echo internal error text.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ipe *service.InvalidParameterError
	if errors.As(err, &ipe) {
		writeError(w, http.StatusBadRequest, ipe.Error())
		return
	}

	h.Logger.Error("request failed", "path", r.URL.Path, "error", err)

	if warehouse.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "no data for this reservoir")
		return
	}
	var qe *warehouse.QueryError
	if errors.As(err, &qe) {
		writeError(w, http.StatusBadGateway, "warehouse query failed")
		return
	}
	var ae *timeseries.AssemblyError
	if errors.As(err, &ae) {
		writeError(w, http.StatusInternalServerError, "failed to assemble result")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// ListReservoirs handles GET /api/v1/reservoirs
func (h *Handlers) ListReservoirs(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.Reservoirs(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetPrediction handles GET /api/v1/reservoirs/{reservoir}/prediction
func (h *Handlers) GetPrediction(w http.ResponseWriter, r *http.Request) {
	ts, err := h.Service.Prediction(r.Context(), r.PathValue("reservoir"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

// GetHistoric handles GET /api/v1/reservoirs/{reservoir}/historic
func (h *Handlers) GetHistoric(w http.ResponseWriter, r *http.Request) {
	ts, err := h.Service.Historic(r.Context(), r.PathValue("reservoir"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

// GetPrecipitation handles GET /api/v1/reservoirs/{reservoir}/precipitation
func (h *Handlers) GetPrecipitation(w http.ResponseWriter, r *http.Request) {
	ts, err := h.Service.Precipitation(r.Context(), r.PathValue("reservoir"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	type componentHealth struct {
		Driver string `json:"driver,omitempty"`
		Status string `json:"status"`
	}
	type healthResponse struct {
		Status    string          `json:"status"`
		Version   string          `json:"version"`
		Uptime    string          `json:"uptime"`
		Warehouse componentHealth `json:"warehouse"`
		Cache     componentHealth `json:"cache"`
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "healthy",
		Version:   h.Version,
		Uptime:    formatUptime(time.Since(h.StartTime)),
		Warehouse: componentHealth{Driver: h.WarehouseDriver, Status: "ok"},
		Cache:     componentHealth{Status: "ok"},
	}

	if h.Warehouse != nil {
		if err := h.Warehouse.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Warehouse.Status = "unreachable"
		}
	}
	// A dead cache degrades to miss-then-fetch, so it never fails health.
	if h.Cache != nil {
		if err := h.Cache.Ping(ctx); err != nil {
			resp.Cache.Status = "unreachable"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
