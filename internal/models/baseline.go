package models

import "time"

// BaselineSlot holds expected performance for an endpoint during one
// (hour-of-day, day-of-week) bucket. A slot only exists once enough samples
// accumulated; lookups for missing slots report insufficient data rather
// than a zero-valued slot.
type BaselineSlot struct {
	Endpoint       string  `json:"endpoint"`
	HourOfDay      int     `json:"hour_of_day"`  // 0-23
	DayOfWeek      int     `json:"day_of_week"`  // 0=Sunday, 6=Saturday (time.Weekday)
	MeanLatencyMS  float64 `json:"mean_latency_ms"`
	P95LatencyMS   float64 `json:"p95_latency_ms"`
	MeanQueryCount float64 `json:"mean_query_count"`
	StddevLatency  float64 `json:"stddev_latency_ms"`
	SampleCount    int     `json:"sample_count"`
}

// BaselineHealth reports how fresh the derived slot table is.
type BaselineHealth struct {
	LastComputedAt time.Time `json:"last_computed_at"`
	SlotCount      int       `json:"slot_count"`
	Endpoints      int       `json:"endpoints"`
}
