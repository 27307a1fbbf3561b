package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/argusstack/argus/internal/models"
	"github.com/argusstack/argus/internal/storage"
)

// WindowReader supplies live aggregates for post-deploy verification.
type WindowReader interface {
	Aggregate(endpoint string, window time.Duration) (models.Aggregate, error)
}

// BaselineReader supplies expected performance for the recovery check.
type BaselineReader interface {
	Lookup(endpoint string, ts time.Time) (models.BaselineSlot, bool)
}

// Config tunes the confidence gates and verification behaviour.
type Config struct {
	AutoMergeConfidence float64
	ProposeFloor        float64
	ShortWindow         time.Duration
	VerifySettle        time.Duration
	VerifyTimeout       time.Duration
	VerifyPoll          time.Duration
	RecoveryFactor      float64
}

// Router maps a finished investigation to exactly one remediation path based
// on the confirm stage's confidence score:
//
//	confidence >= AutoMergeConfidence  auto-merge PR, deploy, verify recovery
//	confidence >= ProposeFloor         PR for human review plus notification
//	otherwise                          notification only
//
// Confidence alone never earns unattended deployment: the fix must also be
// low risk with no declared side effects, or the incident degrades to the
// review-PR path. Notifications are fire-and-forget on every path; a dead
// notify hook never fails a remediation.
type Router struct {
	cfg      Config
	notifier Notifier
	prs      PRClient
	deployer Deployer
	window   WindowReader
	baseline BaselineReader
	logger   *slog.Logger
}

// NewRouter constructs a router. notifier, prs, and deployer may be nil when
// the corresponding webhook is not configured; affected paths degrade to
// lower-privilege actions.
func NewRouter(cfg Config, notifier Notifier, prs PRClient, deployer Deployer, window WindowReader, baseline BaselineReader, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RecoveryFactor <= 0 {
		cfg.RecoveryFactor = 1.3
	}
	if cfg.VerifyPoll <= 0 {
		cfg.VerifyPoll = 10 * time.Second
	}
	return &Router{
		cfg:      cfg,
		notifier: notifier,
		prs:      prs,
		deployer: deployer,
		window:   window,
		baseline: baseline,
		logger:   logger,
	}
}

// Route executes the remediation path for the investigation and returns what
// happened. Route blocks until the path completes, including post-deploy
// verification on the auto-merge path.
func (r *Router) Route(ctx context.Context, incident models.Incident, record *models.InvestigationRecord) RouteResult {
	confidence := record.Confidence()

	result := RouteResult{ActionTaken: ActionNone}
	switch {
	case record.Fix != nil && confidence >= r.cfg.AutoMergeConfidence && deployable(record.Fix):
		result = r.autoDeploy(ctx, incident, record)
	case record.Fix != nil && confidence >= r.cfg.AutoMergeConfidence:
		r.logger.Info("auto-deploy blocked, routing to review",
			slog.String("incident_id", incident.ID),
			slog.String("risk_level", record.Fix.RiskLevel),
			slog.Int("side_effects", len(record.Fix.SideEffects)))
		result = r.proposePR(ctx, incident, record, false)
	case record.Fix != nil && confidence >= r.cfg.ProposeFloor:
		result = r.proposePR(ctx, incident, record, false)
	default:
		result.ActionTaken = ActionNotifyOnly
		result.ActionSucceeded = true
	}

	r.notify(ctx, incident, record, result)
	return result
}

// deployable gates unattended deployment. Only a fix the reasoning backend
// itself rated low risk and free of side effects may skip human review.
func deployable(fix *models.FixProposal) bool {
	return fix.RiskLevel == "low" && len(fix.SideEffects) == 0
}

func (r *Router) proposePR(ctx context.Context, incident models.Incident, record *models.InvestigationRecord, autoMerge bool) RouteResult {
	result := RouteResult{ActionTaken: ActionPRProposed}
	if r.prs == nil {
		result.Detail = "remediation service not configured"
		return result
	}

	fix := record.Fix
	prID, err := r.prs.OpenPR(ctx, PRRequest{
		IncidentID:  incident.ID,
		Title:       fix.PRTitle,
		Description: fix.PRDescription,
		FilePath:    fix.FilePath,
		FixedCode:   fix.FixedCode,
		RiskLevel:   fix.RiskLevel,
		SideEffects: fix.SideEffects,
		AutoMerge:   autoMerge,
	})
	if err != nil {
		r.logger.Error("open PR failed",
			slog.String("incident_id", incident.ID), slog.Any("error", err))
		result.Detail = err.Error()
		return result
	}

	result.PRID = prID
	result.ActionSucceeded = true
	r.logger.Info("PR opened",
		slog.String("incident_id", incident.ID),
		slog.String("pr_id", prID),
		slog.Bool("auto_merge", autoMerge))
	return result
}

func (r *Router) autoDeploy(ctx context.Context, incident models.Incident, record *models.InvestigationRecord) RouteResult {
	result := r.proposePR(ctx, incident, record, true)
	if !result.ActionSucceeded {
		return result
	}
	result.ActionTaken = ActionAutoDeployed
	result.ActionSucceeded = false

	if r.deployer == nil {
		result.Detail = "deployer not configured"
		return result
	}

	deploymentID, err := r.deployer.Deploy(ctx, result.PRID)
	if err != nil {
		r.logger.Error("deploy failed",
			slog.String("incident_id", incident.ID),
			slog.String("pr_id", result.PRID),
			slog.Any("error", err))
		result.Detail = err.Error()
		return result
	}
	result.DeploymentID = deploymentID

	verification := r.verify(ctx, incident)
	result.Verification = &verification
	result.ActionSucceeded = verification.Healthy
	if !verification.Healthy {
		result.Detail = verification.Detail
	}
	return result
}

// verify waits for traffic on the new deployment to settle, then polls the
// live window until latency drops back within the recovery factor of baseline
// or the verification deadline passes.
func (r *Router) verify(ctx context.Context, incident models.Incident) Verification {
	expected := incident.BaselineLatencyMS
	if slot, ok := r.baseline.Lookup(incident.Endpoint, time.Now()); ok {
		expected = slot.MeanLatencyMS
	}
	limit := expected * r.cfg.RecoveryFactor

	select {
	case <-ctx.Done():
		return Verification{CheckedAt: time.Now().UTC(), Detail: "verification cancelled"}
	case <-time.After(r.cfg.VerifySettle):
	}

	deadline := time.Now().Add(r.cfg.VerifyTimeout)
	var last models.Aggregate
	for {
		agg, err := r.window.Aggregate(incident.Endpoint, r.cfg.ShortWindow)
		if err == nil {
			last = agg
			if agg.MeanLatencyMS <= limit {
				r.logger.Info("deployment verified",
					slog.String("endpoint", incident.Endpoint),
					slog.Float64("latency_ms", agg.MeanLatencyMS),
					slog.Float64("limit_ms", limit))
				return Verification{
					Healthy:           true,
					ObservedLatencyMS: agg.MeanLatencyMS,
					BaselineLatencyMS: expected,
					CheckedAt:         time.Now().UTC(),
				}
			}
		} else if !errors.Is(err, storage.ErrNoData) {
			r.logger.Warn("verification aggregate failed",
				slog.String("endpoint", incident.Endpoint), slog.Any("error", err))
		}

		if time.Now().After(deadline) {
			return Verification{
				ObservedLatencyMS: last.MeanLatencyMS,
				BaselineLatencyMS: expected,
				CheckedAt:         time.Now().UTC(),
				Detail:            fmt.Sprintf("latency %.1fms still above %.1fms after %s", last.MeanLatencyMS, limit, r.cfg.VerifyTimeout),
			}
		}
		select {
		case <-ctx.Done():
			return Verification{CheckedAt: time.Now().UTC(), Detail: "verification cancelled"}
		case <-time.After(r.cfg.VerifyPoll):
		}
	}
}

func (r *Router) notify(ctx context.Context, incident models.Incident, record *models.InvestigationRecord, result RouteResult) {
	if r.notifier == nil {
		return
	}

	n := Notification{
		IncidentID:   incident.ID,
		Endpoint:     incident.Endpoint,
		Trigger:      string(incident.TriggerMetric),
		AnomalyScore: incident.AnomalyScore,
		Confidence:   record.Confidence(),
		ActionTaken:  result.ActionTaken,
		PRID:         result.PRID,
		Fix:          record.Fix,
	}
	if record.RootCause != nil {
		n.RootCause = record.RootCause.ConfirmedHypothesisTitle
	}

	if err := r.notifier.Notify(ctx, n); err != nil {
		r.logger.Warn("notification delivery failed",
			slog.String("incident_id", incident.ID), slog.Any("error", err))
	}
}
