package detector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/argusstack/argus/internal/metrics"
	"github.com/argusstack/argus/internal/models"
	"github.com/argusstack/argus/internal/storage"
)

// WindowReader is the live-metrics view the detector polls.
type WindowReader interface {
	Aggregate(endpoint string, window time.Duration) (models.Aggregate, error)
	Endpoints() []string
	AffectedUsers(endpoint string, since time.Time, thresholdMS float64, limit int) []string
	RecentCommitSHAs(endpoint string) []string
}

// BaselineReader serves expected performance for scoring.
type BaselineReader interface {
	Lookup(endpoint string, ts time.Time) (models.BaselineSlot, bool)
}

// Config tunes the poll loop and the strike rule.
type Config struct {
	Interval         time.Duration
	ShortWindow      time.Duration
	AnomalyThreshold float64
	Strikes          int
	QueueSize        int
}

// affectedUserCap bounds how many user IDs ride along on an incident.
const affectedUserCap = 50

// endpointState is the volatile per-endpoint strike machine. Each endpoint
// has its own lock so slow scoring on one endpoint never serialises the
// others.
type endpointState struct {
	mu             sync.Mutex
	strikes        int
	lastCheckedAt  time.Time
	activeIncident bool
}

// Health is a snapshot of the detector's last poll for the ops surface.
type Health struct {
	LastPollAt    time.Time `json:"last_poll_at"`
	LastPollError string    `json:"last_poll_error,omitempty"`
}

// Detector polls the recent window against the baseline and emits confirmed
// incidents. One anomalous reading is a strike; a clean reading clears the
// slate; reaching the strike threshold emits exactly one incident.
type Detector struct {
	cfg      Config
	window   WindowReader
	baseline BaselineReader
	logger   *slog.Logger

	incidents chan models.Incident

	mu     sync.Mutex
	states map[string]*endpointState

	healthMu sync.Mutex
	health   Health

	now func() time.Time
}

// New constructs a detector. Confirmed incidents are delivered on Incidents().
func New(cfg Config, window WindowReader, baseline BaselineReader, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.ShortWindow <= 0 {
		cfg.ShortWindow = 3 * time.Minute
	}
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = 3.0
	}
	if cfg.Strikes <= 0 {
		cfg.Strikes = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	return &Detector{
		cfg:       cfg,
		window:    window,
		baseline:  baseline,
		logger:    logger,
		incidents: make(chan models.Incident, cfg.QueueSize),
		states:    make(map[string]*endpointState),
		now:       time.Now,
	}
}

// Incidents is the hand-off channel consumed by investigation workers.
func (d *Detector) Incidents() <-chan models.Incident {
	return d.incidents
}

// Run executes the poll loop until the context is cancelled. The in-flight
// tick finishes before Run returns.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.logger.Info("detector started", slog.Duration("interval", d.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("detector stopped")
			return
		case <-ticker.C:
			d.Tick()
		}
	}
}

// Tick checks every known endpoint once. Exported for tests and for a
// forced check after deploy verification.
func (d *Detector) Tick() {
	now := d.now()
	var pollErr string
	for _, endpoint := range d.window.Endpoints() {
		incident, err := d.checkEndpoint(endpoint, now)
		if err != nil && pollErr == "" {
			pollErr = err.Error()
		}
		if incident != nil {
			d.dispatch(*incident)
		}
	}
	metrics.ObserveDetectorTick()

	d.healthMu.Lock()
	d.health = Health{LastPollAt: now, LastPollError: pollErr}
	d.healthMu.Unlock()
}

// checkEndpoint scores one endpoint under its strike lock and returns the
// confirmed incident, if any, for the caller to dispatch after the lock is
// released. A slow investigation must never stall the poll loop.
func (d *Detector) checkEndpoint(endpoint string, now time.Time) (*models.Incident, error) {
	state := d.state(endpoint)
	state.mu.Lock()
	defer state.mu.Unlock()

	state.lastCheckedAt = now

	// An endpoint under investigation is left alone until the incident
	// reaches a terminal status; a second firing would be a duplicate.
	if state.activeIncident {
		return nil, nil
	}

	current, err := d.window.Aggregate(endpoint, d.cfg.ShortWindow)
	if errors.Is(err, storage.ErrNoData) {
		// Silence is not evidence: no strike, no reset.
		return nil, nil
	}
	if err != nil {
		d.logger.Warn("aggregate failed", slog.String("endpoint", endpoint), slog.Any("error", err))
		return nil, err
	}

	slot, ok := d.baseline.Lookup(endpoint, now)
	if !ok {
		// Cold slot. Skip scoring rather than comparing against zero.
		return nil, nil
	}

	latencyScore := ratioScore(current.MeanLatencyMS, slot.MeanLatencyMS)
	queryScore := ratioScore(current.MeanQueryCount, slot.MeanQueryCount)

	score, trigger := latencyScore, models.TriggerLatency
	if queryScore > latencyScore {
		score, trigger = queryScore, models.TriggerQueryCount
	}

	if score < d.cfg.AnomalyThreshold {
		if state.strikes > 0 {
			d.logger.Info("endpoint back to normal", slog.String("endpoint", endpoint))
		}
		state.strikes = 0
		return nil, nil
	}

	state.strikes++
	d.logger.Warn("anomalous reading",
		slog.String("endpoint", endpoint),
		slog.Float64("score", score),
		slog.Int("strike", state.strikes),
		slog.Int("needed", d.cfg.Strikes))

	if state.strikes < d.cfg.Strikes {
		return nil, nil
	}

	state.strikes = 0
	state.activeIncident = true

	incident := d.buildIncident(endpoint, now, trigger, score, current, slot)
	metrics.ObserveIncidentOpened(string(trigger))
	d.logger.Error("regression confirmed",
		slog.String("endpoint", endpoint),
		slog.String("incident_id", incident.ID),
		slog.String("trigger", string(trigger)),
		slog.Float64("score", score))

	return &incident, nil
}

// dispatch hands a confirmed incident to the investigation workers without
// blocking the poll loop. On a full queue the incident is dropped and the
// endpoint re-enabled, so the regression fires again on a later tick once
// the backlog drains.
func (d *Detector) dispatch(incident models.Incident) {
	select {
	case d.incidents <- incident:
	default:
		d.logger.Error("incident queue full, dropping",
			slog.String("endpoint", incident.Endpoint),
			slog.String("incident_id", incident.ID))
		d.MarkResolved(incident.Endpoint)
	}
}

func (d *Detector) buildIncident(endpoint string, now time.Time, trigger models.TriggerMetric, score float64, current models.Aggregate, slot models.BaselineSlot) models.Incident {
	var commitSHA string
	if shas := d.window.RecentCommitSHAs(endpoint); len(shas) > 0 {
		commitSHA = shas[0]
	}

	users := d.window.AffectedUsers(endpoint, now.Add(-5*time.Minute), slot.MeanLatencyMS*2, affectedUserCap)

	return models.Incident{
		ID:                 uuid.NewString(),
		Endpoint:           endpoint,
		OpenedAt:           now,
		TriggerMetric:      trigger,
		AnomalyScore:       score,
		Status:             models.StatusOpen,
		ObservedLatencyMS:  current.MeanLatencyMS,
		BaselineLatencyMS:  slot.MeanLatencyMS,
		ObservedQueryCount: current.MeanQueryCount,
		BaselineQueryCount: slot.MeanQueryCount,
		CommitSHA:          commitSHA,
		AffectedUserIDs:    users,
	}
}

// MarkResolved re-enables detection for an endpoint once its incident
// reached a terminal status.
func (d *Detector) MarkResolved(endpoint string) {
	state := d.state(endpoint)
	state.mu.Lock()
	state.activeIncident = false
	state.strikes = 0
	state.mu.Unlock()
	d.logger.Info("detection re-enabled", slog.String("endpoint", endpoint))
}

// Strikes reports the current strike count for an endpoint.
func (d *Detector) Strikes(endpoint string) int {
	state := d.state(endpoint)
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.strikes
}

// Health returns the last poll snapshot.
func (d *Detector) Health() Health {
	d.healthMu.Lock()
	defer d.healthMu.Unlock()
	return d.health
}

func (d *Detector) state(endpoint string) *endpointState {
	d.mu.Lock()
	defer d.mu.Unlock()
	state, ok := d.states[endpoint]
	if !ok {
		state = &endpointState{}
		d.states[endpoint] = state
	}
	return state
}

// ratioScore is the anomaly score: how many times worse than expected. A
// zero baseline yields zero, never a division blow-up.
func ratioScore(current, baseline float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return current / baseline
}
