package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/H2Oxford/h2ox-api/internal/cache"
	"github.com/H2Oxford/h2ox-api/internal/timeseries"
	"github.com/H2Oxford/h2ox-api/internal/warehouse"
)

// Operation names. These are also the cache key prefixes, so changing one
// invalidates every cached result for that operation.
const (
	OpForecast   = "forecast"
	OpHistoric   = "historic"
	OpPrecip     = "precipitation"
	OpReservoirs = "levels"
)

// historyWindowDays bounds historic and precipitation series to the year
// leading up to the warehouse's latest observation.
const historyWindowDays = 365

// InvalidParameterError means a caller-supplied parameter failed validation.
// It is raised before any cache or warehouse access.
type InvalidParameterError struct {
	Param  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Param, e.Reason)
}

// Service is the set of named query operations, each wrapped by a
// cache-aside fetcher over the warehouse client.
type Service struct {
	wh warehouse.Client

	prediction *cache.Fetcher[timeseries.Timeseries[timeseries.Level]]
	historic   *cache.Fetcher[timeseries.Timeseries[timeseries.Level]]
	precip     *cache.Fetcher[timeseries.Timeseries[timeseries.Precip]]
	reservoirs *cache.Fetcher[timeseries.ReservoirList]
}

// New wires the query operations. The warehouse client and cache store are
// constructed once at process start and passed in by the caller, so tests
// can swap in fakes.
func New(wh warehouse.Client, store cache.Store, ttl time.Duration, bypass bool) *Service {
	s := &Service{wh: wh}
	s.prediction = cache.NewFetcher(store, OpForecast, ttl, bypass, s.fetchPrediction)
	s.historic = cache.NewFetcher(store, OpHistoric, ttl, bypass, s.fetchHistoric)
	s.precip = cache.NewFetcher(store, OpPrecip, ttl, bypass, s.fetchPrecip)
	s.reservoirs = cache.NewFetcher(store, OpReservoirs, ttl, bypass, s.fetchReservoirs)
	return s
}

// Prediction returns the latest forecast series for a reservoir.
func (s *Service) Prediction(ctx context.Context, reservoir string) (timeseries.Timeseries[timeseries.Level], error) {
	if err := validateReservoir(reservoir); err != nil {
		return timeseries.Timeseries[timeseries.Level]{}, err
	}
	v, err := s.prediction.Fetch(ctx, reservoir)
	if err != nil {
		return timeseries.Timeseries[timeseries.Level]{}, opErr(OpForecast, err)
	}
	return v, nil
}

// Historic returns observed levels with day-of-year baselines for the year
// up to the warehouse's latest date.
func (s *Service) Historic(ctx context.Context, reservoir string) (timeseries.Timeseries[timeseries.Level], error) {
	if err := validateReservoir(reservoir); err != nil {
		return timeseries.Timeseries[timeseries.Level]{}, err
	}
	v, err := s.historic.Fetch(ctx, reservoir)
	if err != nil {
		return timeseries.Timeseries[timeseries.Level]{}, opErr(OpHistoric, err)
	}
	return v, nil
}

// Precipitation returns the precipitation series with cumulative totals and
// climatological cumulative baselines.
func (s *Service) Precipitation(ctx context.Context, reservoir string) (timeseries.Timeseries[timeseries.Precip], error) {
	if err := validateReservoir(reservoir); err != nil {
		return timeseries.Timeseries[timeseries.Precip]{}, err
	}
	v, err := s.precip.Fetch(ctx, reservoir)
	if err != nil {
		return timeseries.Timeseries[timeseries.Precip]{}, opErr(OpPrecip, err)
	}
	return v, nil
}

// Reservoirs returns the catalog of reservoirs with their latest levels.
func (s *Service) Reservoirs(ctx context.Context) (timeseries.ReservoirList, error) {
	v, err := s.reservoirs.Fetch(ctx, "")
	if err != nil {
		return timeseries.ReservoirList{}, opErr(OpReservoirs, err)
	}
	return v, nil
}

func (s *Service) fetchPrediction(ctx context.Context, reservoir string) (timeseries.Timeseries[timeseries.Level], error) {
	row, err := s.wh.LatestForecast(ctx, reservoir)
	if err != nil {
		return timeseries.Timeseries[timeseries.Level]{}, err
	}
	return timeseries.AssembleForecast(row)
}

func (s *Service) fetchHistoric(ctx context.Context, reservoir string) (timeseries.Timeseries[timeseries.Level], error) {
	var zero timeseries.Timeseries[timeseries.Level]

	latest, err := s.wh.LatestDate(ctx)
	if err != nil {
		return zero, err
	}
	start := latest.AddDate(0, 0, -historyWindowDays)
	end := latest.AddDate(0, 0, 1)

	rows, err := s.wh.HistoricLevels(ctx, reservoir, start, end)
	if err != nil {
		return zero, err
	}
	baseline, err := s.wh.DayOfYearBaseline(ctx, reservoir)
	if err != nil {
		return zero, err
	}
	return timeseries.AssembleHistoric(reservoir, rows, baseline)
}

func (s *Service) fetchPrecip(ctx context.Context, reservoir string) (timeseries.Timeseries[timeseries.Precip], error) {
	var zero timeseries.Timeseries[timeseries.Precip]

	// The cumulative baseline needs every observed year, so fetch the full
	// history and trim to the serving window after assembly.
	rows, err := s.wh.Precip(ctx, reservoir, time.Time{}, time.Time{})
	if err != nil {
		return zero, err
	}
	ts, err := timeseries.AssemblePrecip(reservoir, rows)
	if err != nil {
		return zero, err
	}
	cutoff := ts.RefDate.AddDays(-historyWindowDays)
	return timeseries.TrimBefore(ts, cutoff, func(p timeseries.Precip) timeseries.Date { return p.Date }), nil
}

func (s *Service) fetchReservoirs(ctx context.Context, _ string) (timeseries.ReservoirList, error) {
	rows, err := s.wh.Catalog(ctx)
	if err != nil {
		return timeseries.ReservoirList{}, err
	}
	return timeseries.AssembleCatalog(rows)
}

func validateReservoir(reservoir string) error {
	if strings.TrimSpace(reservoir) == "" {
		return &InvalidParameterError{Param: "reservoir", Reason: "must be a non-empty string"}
	}
	return nil
}

// opErr attaches the operation name once, at the service boundary.
func opErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
