package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/argusstack/argus/internal/baseline"
	"github.com/argusstack/argus/internal/detector"
	"github.com/argusstack/argus/internal/metrics"
	"github.com/argusstack/argus/internal/models"
	"github.com/argusstack/argus/internal/utils"
)

// Ingestion rejection reasons, used as metric labels.
const (
	rejectBadPayload  = "bad_payload"
	rejectNoEndpoint  = "missing_endpoint"
	rejectNoTimestamp = "missing_timestamp"
	rejectBadLatency  = "negative_latency"
	rejectStale       = "stale_timestamp"
	rejectFutureStamp = "future_timestamp"
)

// allowed clock skew for incoming timestamps
const maxFutureSkew = time.Minute

// SampleStore is the write side of the two-tier store the ingest handler
// feeds: the recent window for detection, the archive for baselines.
type SampleStore interface {
	Record(sample models.Sample)
	Retention() time.Duration
	Len() int
}

// Archiver persists samples durably.
type Archiver interface {
	Append(sample models.Sample) error
}

// IncidentReader serves the operational incident surface.
type IncidentReader interface {
	Get(id string) (models.Incident, bool)
	List() []models.Incident
}

// HealthReporter exposes component health snapshots.
type HealthReporter interface {
	Health() detector.Health
}

// Handlers implements the HTTP surface: sample ingestion, incident lookup,
// and the health endpoint.
type Handlers struct {
	window    SampleStore
	archive   Archiver
	incidents IncidentReader
	detector  HealthReporter
	baseline  *baseline.Engine
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandlers wires the HTTP handlers to their backing components.
func NewHandlers(window SampleStore, archive Archiver, incidents IncidentReader, det HealthReporter, engine *baseline.Engine, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		window:    window,
		archive:   archive,
		incidents: incidents,
		detector:  det,
		baseline:  engine,
		logger:    logger,
		now:       time.Now,
	}
}

// Routes mounts all handlers on a router.
func (h *Handlers) Routes(r chi.Router) {
	r.Post("/api/v1/ingest", h.handleIngest)
	r.Get("/api/v1/incidents", h.handleListIncidents)
	r.Get("/api/v1/incidents/{id}", h.handleGetIncident)
	r.Get("/healthz", h.handleHealth)
}

type rejection struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func (h *Handlers) handleIngest(w http.ResponseWriter, r *http.Request) {
	var sample models.Sample
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&sample); err != nil {
		h.reject(w, http.StatusBadRequest, rejectBadPayload, "invalid JSON body")
		return
	}

	now := h.now()
	switch {
	case sample.Endpoint == "":
		h.reject(w, http.StatusBadRequest, rejectNoEndpoint, "endpoint is required")
		return
	case sample.Timestamp.IsZero():
		h.reject(w, http.StatusBadRequest, rejectNoTimestamp, "timestamp is required")
		return
	case sample.LatencyMS < 0:
		h.reject(w, http.StatusBadRequest, rejectBadLatency, "latency_ms must be non-negative")
		return
	case sample.Timestamp.Before(now.Add(-h.window.Retention())):
		// Too old for the recent window; accepting it would only skew
		// aggregates it can no longer belong to.
		h.reject(w, http.StatusUnprocessableEntity, rejectStale, "timestamp older than retention window")
		return
	case sample.Timestamp.After(now.Add(maxFutureSkew)):
		h.reject(w, http.StatusUnprocessableEntity, rejectFutureStamp, "timestamp is in the future")
		return
	}

	h.window.Record(sample)
	if err := h.archive.Append(sample); err != nil {
		// Archive loss degrades future baselines, not live detection. Accept
		// the sample and log loudly.
		h.logger.Error("archive append failed",
			slog.String("endpoint", sample.Endpoint), slog.Any("error", err))
	}
	metrics.ObserveIngest()

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) reject(w http.ResponseWriter, status int, reason, msg string) {
	metrics.ObserveIngestRejected(reason)
	writeJSON(w, status, rejection{Error: msg, Reason: reason})
}

func (h *Handlers) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	list := h.incidents.List()

	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := utils.ParseRFC3339(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, rejection{Error: "since must be RFC3339"})
			return
		}
		filtered := list[:0]
		for _, incident := range list {
			if !incident.OpenedAt.Before(since) {
				filtered = append(filtered, incident)
			}
		}
		list = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": list,
		"count":     len(list),
	})
}

func (h *Handlers) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	incident, ok := h.incidents.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, rejection{Error: "incident not found"})
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

type healthResponse struct {
	Status   string                `json:"status"`
	Samples  int                   `json:"retained_samples"`
	Detector detector.Health       `json:"detector"`
	Baseline models.BaselineHealth `json:"baseline"`
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Samples:  h.window.Len(),
		Detector: h.detector.Health(),
		Baseline: h.baseline.Health(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
