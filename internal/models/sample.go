package models

import "time"

// Sample is one observed request. The ingestion middleware builds one of
// these per request; it is immutable once recorded.
type Sample struct {
	Timestamp    time.Time `json:"timestamp"`
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method,omitempty"`
	StatusCode   int       `json:"status_code"`
	LatencyMS    float64   `json:"latency_ms"`
	QueryCount   int       `json:"db_query_count"`
	QueryTimeMS  float64   `json:"db_query_time_ms,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	MemoryMB     float64   `json:"memory_mb,omitempty"`
	CommitSHA    string    `json:"commit_sha,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Aggregate summarises samples for one endpoint over a trailing window.
type Aggregate struct {
	MeanLatencyMS  float64
	P95LatencyMS   float64
	MeanQueryCount float64
	Count          int
}
