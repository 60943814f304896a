package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Logical query names. These appear in QueryError, logs, and metric labels.
const (
	QueryLatestForecast    = "latest-forecast"
	QueryHistoricLevels    = "historic-levels"
	QueryDayOfYearBaseline = "day-of-year-baseline"
	QueryPrecip            = "precipitation"
	QueryCatalog           = "reservoir-catalog"
	QueryLatestDate        = "latest-date"
)

// ForecastRow is the most recent forecast issuance for a reservoir.
// Values are ordered by horizon day; index 0 is the issuance day.
type ForecastRow struct {
	Reservoir string
	Issued    time.Time
	Values    []float64
}

// LevelRow is a single (date, volume) observation.
type LevelRow struct {
	Date   time.Time
	Volume float64
}

// PrecipRow is a single (date, precipitation) observation.
type PrecipRow struct {
	Date  time.Time
	Value float64
}

// CatalogRow joins a reservoir's latest level with its capacity and
// geometry. Geometry is nil when the warehouse has none for the reservoir.
type CatalogRow struct {
	Name       string
	Date       time.Time
	Volume     float64
	FullVolume float64
	Geometry   []byte
}

// Client executes the named logical queries against the warehouse. All
// reservoir and date parameters are bound, never interpolated into query
// text. Implementations perform no retries; retry policy belongs to callers.
type Client interface {
	// LatestForecast returns the most recent forecast issuance for a
	// reservoir. Horizon days must be contiguous from zero; a missing
	// offset is a malformed result, not a gap to fill.
	LatestForecast(ctx context.Context, reservoir string) (ForecastRow, error)

	// HistoricLevels returns observed levels in [start, end), ascending.
	HistoricLevels(ctx context.Context, reservoir string, start, end time.Time) ([]LevelRow, error)

	// DayOfYearBaseline returns the climatological mean volume keyed by
	// day-of-year (1-366) across all observed years.
	DayOfYearBaseline(ctx context.Context, reservoir string) (map[int]float64, error)

	// Precip returns precipitation observations in [start, end), ascending.
	// Zero-valued bounds are unbounded.
	Precip(ctx context.Context, reservoir string, start, end time.Time) ([]PrecipRow, error)

	// Catalog returns one row per reservoir with its latest level,
	// capacity, and optional geometry.
	Catalog(ctx context.Context) ([]CatalogRow, error)

	// LatestDate returns the most recent observation date across the
	// warehouse. Derived per call, never a compile-time constant.
	LatestDate(ctx context.Context) (time.Time, error)

	Ping(ctx context.Context) error
	Close() error
}

// QueryError wraps a warehouse failure with the logical query that caused it.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("warehouse query %s: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func queryErr(query string, err error) error {
	return &QueryError{Query: query, Err: err}
}

// IsNotFound reports whether err is a query failure caused by an empty
// result where one row was required (e.g. an unknown reservoir).
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
