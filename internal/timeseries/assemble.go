package timeseries

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/H2Oxford/h2ox-api/internal/warehouse"
)

// unitFactor converts warehouse volumes (billion m³) to the million m³
// served by the API.
const unitFactor = 1000

// AssemblyError means raw warehouse rows could not be normalized into the
// domain model. The assembler never substitutes placeholder values, with
// the single documented exception of the zero baseline on forecasts.
type AssemblyError struct {
	Stage  string
	Reason string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assembling %s: %s", e.Stage, e.Reason)
}

func assemblyErr(stage, format string, args ...any) error {
	return &AssemblyError{Stage: stage, Reason: fmt.Sprintf(format, args...)}
}

// AssembleForecast turns a forecast issuance into a Level series. Entry i
// falls on issuance+i days; forecasts carry no climatological baseline.
func AssembleForecast(row warehouse.ForecastRow) (Timeseries[Level], error) {
	if len(row.Values) == 0 {
		return Timeseries[Level]{}, assemblyErr("forecast", "no forecast values for %q", row.Reservoir)
	}

	issued := NewDate(row.Issued)
	entries := make([]Level, 0, len(row.Values))
	for i, v := range row.Values {
		entries = append(entries, Level{
			Date:     issued.AddDays(i),
			Value:    v * unitFactor,
			Baseline: 0,
		})
	}

	return Timeseries[Level]{
		Reservoir:  row.Reservoir,
		RefDate:    issued,
		Timeseries: entries,
	}, nil
}

// AssembleHistoric joins observed levels with the day-of-year baseline and
// emits an ascending Level series anchored to its most recent date.
func AssembleHistoric(reservoir string, rows []warehouse.LevelRow, baseline map[int]float64) (Timeseries[Level], error) {
	if len(rows) == 0 {
		return Timeseries[Level]{}, assemblyErr("historic", "no level rows for %q", reservoir)
	}

	entries := make([]Level, 0, len(rows))
	var prev Date
	for i, r := range rows {
		d := NewDate(r.Date)
		if i > 0 && !d.After(prev.Time) {
			return Timeseries[Level]{}, assemblyErr("historic", "rows not strictly ascending at %s", d)
		}
		b, ok := baseline[d.YearDay()]
		if !ok {
			return Timeseries[Level]{}, assemblyErr("historic", "no baseline for day-of-year %d", d.YearDay())
		}
		entries = append(entries, Level{
			Date:     d,
			Value:    r.Volume * unitFactor,
			Baseline: b * unitFactor,
		})
		prev = d
	}

	return Timeseries[Level]{
		Reservoir:  reservoir,
		RefDate:    entries[len(entries)-1].Date,
		Timeseries: entries,
	}, nil
}

// AssemblePrecip computes the running cumulative total, reset at each
// calendar-year boundary, and the day-of-year climatological mean of that
// cumulative across all observed years. The baseline is rounded to three
// decimals here so cached payloads are byte-stable across re-derivations.
func AssemblePrecip(reservoir string, rows []warehouse.PrecipRow) (Timeseries[Precip], error) {
	if len(rows) == 0 {
		return Timeseries[Precip]{}, assemblyErr("precipitation", "no precipitation rows for %q", reservoir)
	}

	entries := make([]Precip, 0, len(rows))
	var (
		prev        Date
		cumulative  float64
		currentYear int
	)
	doySums := make(map[int]float64)
	doyCounts := make(map[int]int)

	for i, r := range rows {
		d := NewDate(r.Date)
		if i > 0 && !d.After(prev.Time) {
			return Timeseries[Precip]{}, assemblyErr("precipitation", "rows not strictly ascending at %s", d)
		}
		if d.Year() != currentYear {
			cumulative = 0
			currentYear = d.Year()
		}
		cumulative += r.Value

		doy := d.YearDay()
		doySums[doy] += cumulative
		doyCounts[doy]++

		entries = append(entries, Precip{
			Date:       d,
			Value:      r.Value,
			Cumulative: cumulative,
		})
		prev = d
	}

	for i := range entries {
		doy := entries[i].Date.YearDay()
		entries[i].CumulativeBaseline = round3(doySums[doy] / float64(doyCounts[doy]))
	}

	return Timeseries[Precip]{
		Reservoir:  reservoir,
		RefDate:    entries[len(entries)-1].Date,
		Timeseries: entries,
	}, nil
}

// AssembleCatalog builds Reservoir records from catalog rows. A reservoir
// without geometry gets a null geom rather than failing the whole catalog.
func AssembleCatalog(rows []warehouse.CatalogRow) (ReservoirList, error) {
	if len(rows) == 0 {
		return ReservoirList{}, assemblyErr("catalog", "no catalog rows")
	}

	reservoirs := make([]Reservoir, 0, len(rows))
	for _, r := range rows {
		if r.Name == "" {
			return ReservoirList{}, assemblyErr("catalog", "row with empty reservoir name")
		}
		var geom json.RawMessage
		if len(r.Geometry) > 0 {
			if !json.Valid(r.Geometry) {
				return ReservoirList{}, assemblyErr("catalog", "invalid geometry for %q", r.Name)
			}
			geom = json.RawMessage(r.Geometry)
		}
		reservoirs = append(reservoirs, Reservoir{
			Name: r.Name,
			Level: Level{
				Date:  NewDate(r.Date),
				Value: r.Volume * unitFactor,
			},
			FullLevel: r.FullVolume * unitFactor,
			Geom:      geom,
		})
	}

	return ReservoirList{Reservoirs: reservoirs}, nil
}

// TrimBefore drops entries dated before cutoff, re-anchoring nothing: the
// reference date of a historic series is its last entry, which survives.
func TrimBefore[E any](ts Timeseries[E], cutoff Date, dateOf func(E) Date) Timeseries[E] {
	trimmed := ts.Timeseries
	for len(trimmed) > 0 && dateOf(trimmed[0]).Before(cutoff.Time) {
		trimmed = trimmed[1:]
	}
	ts.Timeseries = trimmed
	return ts
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
