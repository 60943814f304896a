package warehouse

import (
	"context"
	"fmt"
)

// Ingest loads CSV snapshots into the embedded DuckDB warehouse. The hosted
// Postgres warehouse is populated by external pipelines, so ingest refuses
// to run against it.

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS levels (
		reservoir VARCHAR NOT NULL,
		date DATE NOT NULL,
		volume DOUBLE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS precipitation (
		reservoir VARCHAR NOT NULL,
		date DATE NOT NULL,
		value DOUBLE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS forecasts (
		reservoir VARCHAR NOT NULL,
		issued DATE NOT NULL,
		horizon INTEGER NOT NULL,
		value DOUBLE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reservoirs (
		name VARCHAR NOT NULL,
		full_volume DOUBLE,
		geometry VARCHAR
	)`,
}

// CSV kinds accepted by LoadCSV.
const (
	KindLevels     = "levels"
	KindPrecip     = "precipitation"
	KindForecasts  = "forecasts"
	KindReservoirs = "reservoirs"
)

// EnsureSchema creates the warehouse tables if they do not exist.
func (c *SQLClient) EnsureSchema(ctx context.Context) error {
	if c.dialect != dialectDuckDB {
		return fmt.Errorf("schema management is only supported for the duckdb driver")
	}
	for _, ddl := range schemaDDL {
		if _, err := c.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

// LoadCSV appends rows from a CSV snapshot into the named table. The
// reservoir identifier is bound, not read from the file, except for the
// reservoirs catalog which carries its own names.
func (c *SQLClient) LoadCSV(ctx context.Context, kind, reservoir, path string) (int64, error) {
	if c.dialect != dialectDuckDB {
		return 0, fmt.Errorf("csv ingest is only supported for the duckdb driver")
	}

	var stmt string
	args := []any{reservoir, path}
	switch kind {
	case KindLevels:
		stmt = `INSERT INTO levels (reservoir, date, volume)
			SELECT ?, date, volume FROM read_csv_auto(?)`
	case KindPrecip:
		stmt = `INSERT INTO precipitation (reservoir, date, value)
			SELECT ?, date, value FROM read_csv_auto(?)`
	case KindForecasts:
		stmt = `INSERT INTO forecasts (reservoir, issued, horizon, value)
			SELECT ?, issued, horizon, value FROM read_csv_auto(?)`
	case KindReservoirs:
		stmt = `INSERT INTO reservoirs (name, full_volume, geometry)
			SELECT name, full_volume, geometry FROM read_csv_auto(?)`
		args = []any{path}
	default:
		return 0, fmt.Errorf("unknown csv kind %q", kind)
	}

	res, err := c.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("loading %s from %s: %w", kind, path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr // row count is informational only
	}
	return n, nil
}
