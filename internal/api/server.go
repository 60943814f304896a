package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the REST API server.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
}

// Options carries the pieces of configuration the API surface owns.
type Options struct {
	Username    string
	Password    string
	AllowOrigin string
}

// NewServer creates a new API server with all routes registered. The data
// routes sit behind basic auth; health and metrics do not.
func NewServer(svc DataService, logger *slog.Logger, opts Options) *Server {
	h := &Handlers{
		Service:   svc,
		Logger:    logger,
		StartTime: time.Now(),
	}

	auth := BasicAuth(opts.Username, opts.Password)

	apiMux := http.NewServeMux()
	apiMux.Handle("GET /api/v1/reservoirs", auth(http.HandlerFunc(h.ListReservoirs)))
	apiMux.Handle("GET /api/v1/reservoirs/{reservoir}/prediction", auth(http.HandlerFunc(h.GetPrediction)))
	apiMux.Handle("GET /api/v1/reservoirs/{reservoir}/historic", auth(http.HandlerFunc(h.GetHistoric)))
	apiMux.Handle("GET /api/v1/reservoirs/{reservoir}/precipitation", auth(http.HandlerFunc(h.GetPrecipitation)))
	apiMux.HandleFunc("GET /api/v1/health", h.Health)

	// Prometheus negotiates its own encoding, so it stays outside the
	// gzip and content-type wrappers.
	var apiHandler http.Handler = apiMux
	apiHandler = ContentType(apiHandler)
	apiHandler = Gzip(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Apply middleware (outermost runs first).
	var handler http.Handler = mux
	handler = SecurityHeaders(handler)
	handler = CORS(opts.AllowOrigin)(handler)
	handler = Logger(handler)
	handler = RequestID(handler)
	handler = Recovery(handler)

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, handlers: h}
}

// ListenAndServe starts the HTTP server. Blocks until context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer.Addr = addr
	slog.Info("api server starting", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// SetVersion sets the version string for the health endpoint.
func (s *Server) SetVersion(v string) { s.handlers.Version = v }

// SetComponentInfo wires the health endpoint's component checks.
func (s *Server) SetComponentInfo(warehouseDriver string, warehouse, cache Pinger) {
	s.handlers.WarehouseDriver = warehouseDriver
	s.handlers.Warehouse = warehouse
	s.handlers.Cache = cache
}
