package investigation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/argusstack/argus/internal/models"
	"github.com/argusstack/argus/internal/reasoning"
)

// characterize is pure data collection: build the factual picture before
// asking why. No reasoning call happens here.
func (o *Orchestrator) characterize(ctx context.Context, incident models.Incident, record *models.InvestigationRecord) error {
	endpoint := incident.Endpoint

	before, err := o.window.StatsExcludingCommit(endpoint, incident.CommitSHA)
	if err != nil {
		// No pre-commit traffic retained; fall back to the baseline the
		// detector scored against.
		before = models.Aggregate{
			MeanLatencyMS:  incident.BaselineLatencyMS,
			MeanQueryCount: incident.BaselineQueryCount,
		}
	}

	current, err := o.window.Aggregate(endpoint, o.cfg.ShortWindow)
	if err != nil {
		current = models.Aggregate{
			MeanLatencyMS:  incident.ObservedLatencyMS,
			MeanQueryCount: incident.ObservedQueryCount,
		}
	}

	// Other endpoints also slow suggests infrastructure; only this one
	// suggests a code change.
	othersAffected := false
	for _, other := range o.window.Endpoints() {
		if other == endpoint {
			continue
		}
		recent, err := o.window.Aggregate(other, o.cfg.ShortWindow)
		if err != nil {
			continue
		}
		wider, err := o.window.Aggregate(other, o.cfg.ShortWindow*6)
		if err != nil || wider.MeanLatencyMS <= 0 {
			continue
		}
		if recent.MeanLatencyMS/wider.MeanLatencyMS > 2.0 {
			othersAffected = true
			break
		}
	}

	record.Characterization = &models.Characterization{
		Endpoint:             endpoint,
		AllEndpointsAffected: othersAffected,
		AffectedUserIDs:      incident.AffectedUserIDs,
		RegressionStart:      incident.OpenedAt,
		CommitSHA:            incident.CommitSHA,
		LatencyBeforeMS:      before.MeanLatencyMS,
		LatencyAfterMS:       current.MeanLatencyMS,
		LatencyMultiplier:    roundMultiplier(current.MeanLatencyMS, before.MeanLatencyMS),
		QueryCountBefore:     before.MeanQueryCount,
		QueryCountAfter:      current.MeanQueryCount,
		QueryMultiplier:      roundMultiplier(current.MeanQueryCount, before.MeanQueryCount),
	}
	return nil
}

type hypothesizeInput struct {
	Characterization models.Characterization `json:"characterization"`
	PastIncidents    []pastIncident          `json:"past_incidents"`
}

type pastIncident struct {
	ID              string  `json:"id"`
	RootCause       string  `json:"root_cause"`
	ActionTaken     string  `json:"action_taken"`
	ActionSucceeded bool    `json:"action_succeeded"`
	Confidence      float64 `json:"confidence"`
}

type hypothesesOutput struct {
	Hypotheses []models.Hypothesis `json:"hypotheses"`
}

// hypothesize is the first reasoning call: characterization plus similar
// past incidents in, ranked root-cause hypotheses out.
func (o *Orchestrator) hypothesize(ctx context.Context, incident models.Incident, record *models.InvestigationRecord) error {
	input := hypothesizeInput{Characterization: *record.Characterization}

	similar, err := o.kb.Similar(ctx, incident.Endpoint, string(incident.TriggerMetric), nil, o.cfg.TopK)
	if err != nil {
		o.logger.Warn("similar incident lookup failed", slog.Any("error", err))
	}
	for _, entry := range similar {
		past := pastIncident{
			ID:              entry.ID,
			ActionTaken:     entry.ActionTaken,
			ActionSucceeded: entry.ActionSucceeded,
		}
		if entry.Record.RootCause != nil {
			past.RootCause = entry.Record.RootCause.ConfirmedHypothesisTitle
			past.Confidence = entry.Record.RootCause.Confidence
		}
		input.PastIncidents = append(input.PastIncidents, past)
	}

	var out hypothesesOutput
	if err := o.infer(ctx, models.StageHypothesize, input, &out); err != nil {
		return err
	}
	record.Hypotheses = out.Hypotheses
	return nil
}

// gatherEvidence is data collection again: concrete support for each
// hypothesis from the suspect commit's diff and the query-count signal.
func (o *Orchestrator) gatherEvidence(ctx context.Context, incident models.Incident, record *models.InvestigationRecord) error {
	var diff string
	if o.diffs != nil && incident.CommitSHA != "" {
		var err error
		diff, err = o.diffs.Diff(ctx, incident.CommitSHA)
		if err != nil {
			o.logger.Warn("commit diff unavailable",
				slog.String("commit", incident.CommitSHA), slog.Any("error", err))
			diff = fmt.Sprintf("diff unavailable for %s", incident.CommitSHA)
		}
	}

	char := record.Characterization
	queryPatterns := fmt.Sprintf("queries/request %.1f -> %.1f (%.1fx)",
		char.QueryCountBefore, char.QueryCountAfter, char.QueryMultiplier)

	for _, hyp := range record.Hypotheses {
		evidence := models.Evidence{
			HypothesisRank: hyp.Rank,
			CommitDiff:     diff,
			QueryPatterns:  queryPatterns,
		}
		if char.QueryMultiplier >= 10 {
			evidence.Findings = append(evidence.Findings,
				"query count grew proportionally to data size, consistent with a per-row query loop")
		} else if char.QueryMultiplier > 1.5 {
			evidence.Findings = append(evidence.Findings, "moderate query count increase")
		}
		if char.AllEndpointsAffected {
			evidence.Findings = append(evidence.Findings,
				"multiple endpoints degraded at once, pointing at shared infrastructure")
		}
		record.Evidence = append(record.Evidence, evidence)
	}
	return nil
}

type confirmInput struct {
	Hypotheses []models.Hypothesis `json:"hypotheses"`
	Evidence   []models.Evidence   `json:"evidence"`
}

// confirm is the second reasoning call and the only producer of the
// confidence score.
func (o *Orchestrator) confirm(ctx context.Context, _ models.Incident, record *models.InvestigationRecord) error {
	input := confirmInput{Hypotheses: record.Hypotheses, Evidence: record.Evidence}

	var out models.RootCause
	if err := o.infer(ctx, models.StageConfirm, input, &out); err != nil {
		return err
	}
	record.RootCause = &out
	return nil
}

type fixInput struct {
	RootCause        models.RootCause        `json:"root_cause"`
	Characterization models.Characterization `json:"characterization"`
}

// fix is the final reasoning call; it only runs at or above the propose floor.
func (o *Orchestrator) fix(ctx context.Context, _ models.Incident, record *models.InvestigationRecord) error {
	input := fixInput{RootCause: *record.RootCause, Characterization: *record.Characterization}

	var out models.FixProposal
	if err := o.infer(ctx, models.StageFix, input, &out); err != nil {
		return err
	}
	record.Fix = &out
	return nil
}

// infer calls the reasoning backend with the stage timeout, retrying once
// with backoff before giving up. The decoded output is schema-validated.
func (o *Orchestrator) infer(ctx context.Context, stage string, input, out any) error {
	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
		defer cancel()

		raw, err := o.reasoner.Infer(callCtx, stage, input)
		if err != nil {
			return err
		}
		return reasoning.Decode(stage, raw, out)
	}

	err := attempt()
	if err == nil {
		return nil
	}
	o.logger.Warn("reasoning attempt failed, retrying",
		slog.String("stage", stage), slog.Any("error", err))

	select {
	case <-ctx.Done():
		return err
	case <-time.After(o.cfg.RetryBackoff):
	}
	return attempt()
}

func roundMultiplier(after, before float64) float64 {
	if before <= 0 {
		return 1.0
	}
	return math.Round(after/before*10) / 10
}
