package warehouse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Query text is written with ? placeholders and rebound per driver. The
// day-of-year expression is the only dialect-specific fragment.
const (
	latestForecastSQL = `
		SELECT issued, horizon, value
		FROM forecasts
		WHERE reservoir = ?
		  AND issued = (SELECT MAX(issued) FROM forecasts WHERE reservoir = ?)
		ORDER BY horizon`

	historicLevelsSQL = `
		SELECT date, volume
		FROM levels
		WHERE reservoir = ? AND date >= ? AND date < ?
		ORDER BY date`

	baselineSQL = `
		SELECT %s AS doy, AVG(volume)
		FROM levels
		WHERE reservoir = ?
		GROUP BY doy`

	catalogSQL = `
		SELECT l.reservoir, l.date, l.volume, COALESCE(r.full_volume, 0), r.geometry
		FROM levels l
		JOIN (
			SELECT reservoir, MAX(date) AS max_date
			FROM levels
			GROUP BY reservoir
		) m ON l.reservoir = m.reservoir AND l.date = m.max_date
		LEFT JOIN reservoirs r ON r.name = l.reservoir
		ORDER BY l.reservoir`

	latestDateSQL = `SELECT MAX(date) FROM levels`
)

// precipQuery builds the precipitation query, adding date bounds only when
// they are set so callers can ask for the full history.
func precipQuery(reservoir string, start, end time.Time) (string, []any) {
	var b strings.Builder
	b.WriteString(`
		SELECT date, value
		FROM precipitation
		WHERE reservoir = ?`)
	args := []any{reservoir}
	if !start.IsZero() {
		b.WriteString(` AND date >= ?`)
		args = append(args, start)
	}
	if !end.IsZero() {
		b.WriteString(` AND date < ?`)
		args = append(args, end)
	}
	b.WriteString(`
		ORDER BY date`)
	return b.String(), args
}

// rebind rewrites ? placeholders to the driver's native style. DuckDB
// accepts ? as-is; Postgres needs $1..$n.
func rebind(dialect, query string) string {
	if dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// collectForecast folds (horizon, value) rows into an ordered value slice,
// requiring horizons to be contiguous from zero. A missing or repeated
// offset means the stored forecast is malformed.
func collectForecast(horizons []int, values []float64) ([]float64, error) {
	if len(horizons) != len(values) {
		return nil, fmt.Errorf("ragged forecast: %d horizons, %d values", len(horizons), len(values))
	}
	if len(horizons) == 0 {
		return nil, fmt.Errorf("empty forecast")
	}
	out := make([]float64, 0, len(values))
	for i, h := range horizons {
		if h != i {
			return nil, fmt.Errorf("forecast horizon %d at position %d, want %d", h, i, i)
		}
		out = append(out, values[i])
	}
	return out, nil
}
