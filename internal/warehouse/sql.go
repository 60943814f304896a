package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/H2Oxford/h2ox-api/internal/metrics"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb"
)

const (
	dialectDuckDB   = "duckdb"
	dialectPostgres = "postgres"
)

// SQLClient implements Client over database/sql. The same implementation
// serves both drivers; only placeholders and the day-of-year expression
// differ by dialect.
type SQLClient struct {
	db      *sql.DB
	dialect string
}

// OpenDuckDB opens (creating if needed) an embedded DuckDB warehouse file.
func OpenDuckDB(path string) (*SQLClient, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating warehouse directory: %w", err)
		}
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging duckdb: %w", err)
	}
	return &SQLClient{db: db, dialect: dialectDuckDB}, nil
}

// OpenPostgres connects to a hosted Postgres warehouse.
func OpenPostgres(dsn string) (*SQLClient, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &SQLClient{db: db, dialect: dialectPostgres}, nil
}

// DB returns the underlying connection for ingest tooling.
func (c *SQLClient) DB() *sql.DB { return c.db }

// Dialect returns the driver dialect ("duckdb" or "postgres").
func (c *SQLClient) Dialect() string { return c.dialect }

func (c *SQLClient) doyExpr() string {
	if c.dialect == dialectPostgres {
		return "CAST(EXTRACT(DOY FROM date) AS INTEGER)"
	}
	return "dayofyear(date)"
}

// observe wraps a query execution with duration and status metrics.
func observe(query string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.WarehouseQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.WarehouseQueriesTotal.WithLabelValues(query, status).Inc()
	return err
}

func (c *SQLClient) LatestForecast(ctx context.Context, reservoir string) (ForecastRow, error) {
	var fr ForecastRow
	err := observe(QueryLatestForecast, func() error {
		rows, err := c.db.QueryContext(ctx, rebind(c.dialect, latestForecastSQL), reservoir, reservoir)
		if err != nil {
			return err
		}
		defer rows.Close() //nolint:errcheck

		var (
			issued   time.Time
			horizons []int
			values   []float64
		)
		for rows.Next() {
			var h int
			var v float64
			if err := rows.Scan(&issued, &h, &v); err != nil {
				return fmt.Errorf("scanning forecast row: %w", err)
			}
			horizons = append(horizons, h)
			values = append(values, v)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(horizons) == 0 {
			return sql.ErrNoRows
		}
		vals, err := collectForecast(horizons, values)
		if err != nil {
			return err
		}
		fr = ForecastRow{Reservoir: reservoir, Issued: issued, Values: vals}
		return nil
	})
	if err != nil {
		return ForecastRow{}, queryErr(QueryLatestForecast, err)
	}
	return fr, nil
}

func (c *SQLClient) HistoricLevels(ctx context.Context, reservoir string, start, end time.Time) ([]LevelRow, error) {
	var out []LevelRow
	err := observe(QueryHistoricLevels, func() error {
		rows, err := c.db.QueryContext(ctx, rebind(c.dialect, historicLevelsSQL), reservoir, start, end)
		if err != nil {
			return err
		}
		defer rows.Close() //nolint:errcheck

		for rows.Next() {
			var lr LevelRow
			if err := rows.Scan(&lr.Date, &lr.Volume); err != nil {
				return fmt.Errorf("scanning level row: %w", err)
			}
			out = append(out, lr)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, queryErr(QueryHistoricLevels, err)
	}
	return out, nil
}

func (c *SQLClient) DayOfYearBaseline(ctx context.Context, reservoir string) (map[int]float64, error) {
	baseline := make(map[int]float64)
	err := observe(QueryDayOfYearBaseline, func() error {
		q := fmt.Sprintf(baselineSQL, c.doyExpr())
		rows, err := c.db.QueryContext(ctx, rebind(c.dialect, q), reservoir)
		if err != nil {
			return err
		}
		defer rows.Close() //nolint:errcheck

		for rows.Next() {
			var doy int
			var avg float64
			if err := rows.Scan(&doy, &avg); err != nil {
				return fmt.Errorf("scanning baseline row: %w", err)
			}
			baseline[doy] = avg
		}
		return rows.Err()
	})
	if err != nil {
		return nil, queryErr(QueryDayOfYearBaseline, err)
	}
	return baseline, nil
}

func (c *SQLClient) Precip(ctx context.Context, reservoir string, start, end time.Time) ([]PrecipRow, error) {
	var out []PrecipRow
	err := observe(QueryPrecip, func() error {
		q, args := precipQuery(reservoir, start, end)
		rows, err := c.db.QueryContext(ctx, rebind(c.dialect, q), args...)
		if err != nil {
			return err
		}
		defer rows.Close() //nolint:errcheck

		for rows.Next() {
			var pr PrecipRow
			if err := rows.Scan(&pr.Date, &pr.Value); err != nil {
				return fmt.Errorf("scanning precipitation row: %w", err)
			}
			out = append(out, pr)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, queryErr(QueryPrecip, err)
	}
	return out, nil
}

func (c *SQLClient) Catalog(ctx context.Context) ([]CatalogRow, error) {
	var out []CatalogRow
	err := observe(QueryCatalog, func() error {
		rows, err := c.db.QueryContext(ctx, rebind(c.dialect, catalogSQL))
		if err != nil {
			return err
		}
		defer rows.Close() //nolint:errcheck

		for rows.Next() {
			var cr CatalogRow
			var geom sql.NullString
			if err := rows.Scan(&cr.Name, &cr.Date, &cr.Volume, &cr.FullVolume, &geom); err != nil {
				return fmt.Errorf("scanning catalog row: %w", err)
			}
			if geom.Valid {
				cr.Geometry = []byte(geom.String)
			}
			out = append(out, cr)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, queryErr(QueryCatalog, err)
	}
	return out, nil
}

func (c *SQLClient) LatestDate(ctx context.Context) (time.Time, error) {
	var latest time.Time
	err := observe(QueryLatestDate, func() error {
		var t sql.NullTime
		if err := c.db.QueryRowContext(ctx, latestDateSQL).Scan(&t); err != nil {
			return err
		}
		if !t.Valid {
			return sql.ErrNoRows
		}
		latest = t.Time
		return nil
	})
	if err != nil {
		return time.Time{}, queryErr(QueryLatestDate, err)
	}
	return latest, nil
}

func (c *SQLClient) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *SQLClient) Close() error {
	return c.db.Close()
}
