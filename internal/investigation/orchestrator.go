package investigation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/argusstack/argus/internal/actions"
	"github.com/argusstack/argus/internal/metrics"
	"github.com/argusstack/argus/internal/models"
	"github.com/argusstack/argus/internal/reasoning"
	"github.com/argusstack/argus/internal/utils"
)

// WindowReader is the live-metrics view the data-collection stages query.
type WindowReader interface {
	Aggregate(endpoint string, window time.Duration) (models.Aggregate, error)
	StatsExcludingCommit(endpoint, commitSHA string) (models.Aggregate, error)
	Endpoints() []string
}

// KnowledgeBase archives finished investigations and serves similar past ones.
type KnowledgeBase interface {
	Similar(ctx context.Context, endpoint, description string, tags []string, topK int) ([]models.KnowledgeEntry, error)
	Store(entry models.KnowledgeEntry) error
}

// Resolver re-enables detection for an endpoint once its incident closes.
type Resolver interface {
	MarkResolved(endpoint string)
}

// Router executes the remediation path for a finished investigation.
type Router interface {
	Route(ctx context.Context, incident models.Incident, record *models.InvestigationRecord) actions.RouteResult
}

// DiffProvider fetches the diff for a suspect commit. Optional; evidence
// degrades gracefully without one.
type DiffProvider interface {
	Diff(ctx context.Context, commitSHA string) (string, error)
}

// Config tunes the investigation worker pool and confidence gate.
type Config struct {
	Workers      int
	StageTimeout time.Duration
	RetryBackoff time.Duration
	ProposeFloor float64
	ShortWindow  time.Duration
	TopK         int
}

// Orchestrator consumes confirmed incidents and walks each one through the
// five-stage pipeline: characterize, hypothesize, gather evidence, confirm,
// fix. Stages run strictly in order; each consumes only earlier outputs. A
// single investigation is sequential, but the pool handles several incidents
// concurrently.
type Orchestrator struct {
	cfg      Config
	window   WindowReader
	kb       KnowledgeBase
	reasoner reasoning.Client
	router   Router
	resolver Resolver
	registry *Registry
	diffs    DiffProvider
	logger   *slog.Logger
	tracker  *utils.LatencyTracker
}

// New constructs an orchestrator.
func New(cfg Config, window WindowReader, kb KnowledgeBase, reasoner reasoning.Client, router Router, resolver Resolver, registry *Registry, diffs DiffProvider, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 60 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Second
	}
	if cfg.ShortWindow <= 0 {
		cfg.ShortWindow = 3 * time.Minute
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Orchestrator{
		cfg:      cfg,
		window:   window,
		kb:       kb,
		reasoner: reasoner,
		router:   router,
		resolver: resolver,
		registry: registry,
		diffs:    diffs,
		logger:   logger,
		tracker:  utils.NewLatencyTracker(256),
	}
}

// Run consumes incidents until the channel closes or the context is
// cancelled. In-flight investigations finish before Run returns.
func (o *Orchestrator) Run(ctx context.Context, incidents <-chan models.Incident) {
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case incident, ok := <-incidents:
					if !ok {
						return
					}
					o.Investigate(ctx, incident)
				}
			}
		}()
	}
	wg.Wait()
}

// Investigate runs the full pipeline for one incident, routes the outcome,
// and archives the investigation. Exported for tests.
func (o *Orchestrator) Investigate(ctx context.Context, incident models.Incident) {
	started := time.Now()
	logger := o.logger.With(
		slog.String("incident_id", incident.ID),
		slog.String("endpoint", incident.Endpoint))
	logger.Info("investigation started",
		slog.String("trigger", string(incident.TriggerMetric)),
		slog.Float64("score", incident.AnomalyScore))

	incident.Status = models.StatusInvestigating
	o.registry.Put(incident)

	record := &models.InvestigationRecord{
		IncidentID: incident.ID,
		Endpoint:   incident.Endpoint,
		StartedAt:  started.UTC(),
	}

	outcome := o.runStages(ctx, incident, record, logger)
	record.FinishedAt = time.Now().UTC()

	var result actions.RouteResult
	if record.RootCause != nil {
		// Routing happens whenever confirm produced a verdict, even when the
		// fix stage was skipped below the propose floor: a dismissal still
		// notifies a human.
		result = o.router.Route(ctx, incident, record)
	}

	status, reason := o.finalStatus(outcome, record, result)
	o.registry.SetStatus(incident.ID, status, reason)
	o.resolver.MarkResolved(incident.Endpoint)

	o.archive(incident, record, result)

	elapsed := time.Since(started)
	metrics.ObserveInvestigation(elapsed, outcome)
	o.tracker.Observe(elapsed)
	if o.tracker.Count()%20 == 0 {
		logger.Info("investigation latency",
			slog.Duration("p95", o.tracker.Percentile(95)),
			slog.Int("samples", o.tracker.Count()))
	}

	logger.Info("investigation finished",
		slog.String("outcome", outcome),
		slog.String("status", string(status)),
		slog.String("action", result.ActionTaken),
		slog.Duration("elapsed", elapsed))
}

// runStages walks the pipeline in order and returns the metrics outcome
// label. Stage outputs accumulate on record; a failed stage stops the walk.
func (o *Orchestrator) runStages(ctx context.Context, incident models.Incident, record *models.InvestigationRecord, logger *slog.Logger) string {
	type stage struct {
		name string
		run  func(context.Context, models.Incident, *models.InvestigationRecord) error
	}
	stages := []stage{
		{models.StageCharacterize, o.characterize},
		{models.StageHypothesize, o.hypothesize},
		{models.StageGatherEvidence, o.gatherEvidence},
		{models.StageConfirm, o.confirm},
		{models.StageFix, o.fix},
	}

	for _, st := range stages {
		if st.name == models.StageFix {
			if confidence := record.Confidence(); confidence < o.cfg.ProposeFloor {
				logger.Info("fix stage skipped",
					slog.Float64("confidence", confidence),
					slog.Float64("floor", o.cfg.ProposeFloor))
				return metrics.OutcomeDismissed
			}
		}

		if err := st.run(ctx, incident, record); err != nil {
			record.FailureReason = err.Error()
			logger.Error("stage failed",
				slog.String("stage", st.name), slog.Any("error", err))
			if reasoning.IsFailure(err) {
				return metrics.OutcomeDismissed
			}
			return metrics.OutcomeFailed
		}
		record.CompletedStages = append(record.CompletedStages, st.name)
		logger.Debug("stage completed", slog.String("stage", st.name))
	}
	return metrics.OutcomeResolved
}

func (o *Orchestrator) finalStatus(outcome string, record *models.InvestigationRecord, result actions.RouteResult) (models.IncidentStatus, string) {
	switch outcome {
	case metrics.OutcomeResolved:
		if result.ActionTaken == actions.ActionAutoDeployed && result.ActionSucceeded {
			return models.StatusResolved, "fix deployed and verified"
		}
		return models.StatusResolved, "pending manual action"
	case metrics.OutcomeDismissed:
		if record.FailureReason != "" {
			return models.StatusDismissed, record.FailureReason
		}
		return models.StatusDismissed, "confidence below propose floor"
	default:
		return models.StatusDismissed, record.FailureReason
	}
}

func (o *Orchestrator) archive(incident models.Incident, record *models.InvestigationRecord, result actions.RouteResult) {
	final, ok := o.registry.Get(incident.ID)
	if !ok {
		final = incident
	}

	if result.ActionTaken == "" {
		result.ActionTaken = actions.ActionNone
	}

	entry := models.KnowledgeEntry{
		ID:              uuid.NewString(),
		Incident:        final,
		Record:          *record,
		Tags:            []string{string(incident.TriggerMetric)},
		ActionTaken:     result.ActionTaken,
		ActionSucceeded: result.ActionSucceeded,
		CreatedAt:       time.Now().UTC(),
	}
	if record.RootCause != nil {
		entry.Tags = append(entry.Tags, "confirmed")
	}

	if err := o.kb.Store(entry); err != nil {
		o.logger.Error("knowledge archive failed",
			slog.String("incident_id", incident.ID), slog.Any("error", err))
	}
}
