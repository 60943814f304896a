package timeseries

import (
	"encoding/json"
	"fmt"
	"time"
)

// Date is a calendar date. It marshals as "YYYY-MM-DD" so cached payloads
// stay byte-stable regardless of the time-of-day carried by warehouse rows.
type Date struct {
	time.Time
}

// NewDate builds a Date from a time.Time, truncating to midnight UTC.
func NewDate(t time.Time) Date {
	return Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// AddDays returns the date n days later.
func (d Date) AddDays(n int) Date {
	return Date{d.AddDate(0, 0, n)}
}

func (d Date) String() string {
	return d.Format(time.DateOnly)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(time.DateOnly) + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parsing date: %w", err)
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return fmt.Errorf("parsing date %q: %w", s, err)
	}
	d.Time = t
	return nil
}

// Level is a water-volume observation with a day-of-year climatological
// baseline for comparison. Forecast levels carry a zero baseline.
type Level struct {
	Date     Date    `json:"date"`
	Value    float64 `json:"value"`
	Baseline float64 `json:"baseline"`
}

// Precip is a precipitation observation with a running total that resets at
// each calendar-year boundary and a climatological running total.
type Precip struct {
	Date               Date    `json:"date"`
	Value              float64 `json:"value"`
	Cumulative         float64 `json:"cumulative"`
	CumulativeBaseline float64 `json:"cumulative_baseline"`
}

// Timeseries is a series of entries anchored to a reservoir and a reference
// date: the issuance date for forecasts, the most recent date for
// historic and precipitation series. Entries are chronological ascending.
type Timeseries[E any] struct {
	Reservoir  string `json:"reservoir"`
	RefDate    Date   `json:"ref_date"`
	Timeseries []E    `json:"timeseries"`
}

// Reservoir is a catalog entry: the latest level, full capacity, and an
// optional geometry passed through opaquely from the warehouse.
type Reservoir struct {
	Name      string          `json:"name"`
	Level     Level           `json:"level"`
	FullLevel float64         `json:"full_level"`
	Geom      json.RawMessage `json:"geom"`
}

// ReservoirList is the catalog of known reservoirs. Order is insignificant.
type ReservoirList struct {
	Reservoirs []Reservoir `json:"reservoirs"`
}
