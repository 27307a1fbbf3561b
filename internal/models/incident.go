package models

import "time"

// TriggerMetric names the signal that tripped the detector.
type TriggerMetric string

const (
	TriggerLatency    TriggerMetric = "latency"
	TriggerQueryCount TriggerMetric = "query_count"
)

// IncidentStatus tracks an incident through its lifecycle.
type IncidentStatus string

const (
	StatusOpen          IncidentStatus = "open"
	StatusInvestigating IncidentStatus = "investigating"
	StatusResolved      IncidentStatus = "resolved"
	StatusDismissed     IncidentStatus = "dismissed"
)

// Active reports whether the status counts against the one-active-incident
// per endpoint invariant.
func (s IncidentStatus) Active() bool {
	return s == StatusOpen || s == StatusInvestigating
}

// Incident is a confirmed regression emitted by the detector. The detector
// never mutates an incident after emitting it; the orchestrator owns it.
type Incident struct {
	ID            string         `json:"id"`
	Endpoint      string         `json:"endpoint"`
	OpenedAt      time.Time      `json:"opened_at"`
	TriggerMetric TriggerMetric  `json:"trigger_metric"`
	AnomalyScore  float64        `json:"anomaly_score"`
	Status        IncidentStatus `json:"status"`

	// Observed vs expected at confirmation time, for the investigation.
	ObservedLatencyMS  float64  `json:"observed_latency_ms"`
	BaselineLatencyMS  float64  `json:"baseline_latency_ms"`
	ObservedQueryCount float64  `json:"observed_query_count"`
	BaselineQueryCount float64  `json:"baseline_query_count"`
	CommitSHA          string   `json:"commit_sha,omitempty"`
	AffectedUserIDs    []string `json:"affected_user_ids,omitempty"`

	StatusReason string     `json:"status_reason,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}
