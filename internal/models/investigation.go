package models

import "time"

// Stage names, in pipeline order.
const (
	StageCharacterize   = "characterize"
	StageHypothesize    = "hypothesize"
	StageGatherEvidence = "gather_evidence"
	StageConfirm        = "confirm"
	StageFix            = "fix"
)

// StageOrder is the fixed sequence the orchestrator walks.
var StageOrder = []string{
	StageCharacterize,
	StageHypothesize,
	StageGatherEvidence,
	StageConfirm,
	StageFix,
}

// Characterization is the factual picture of a regression assembled from
// store queries alone, before any reasoning call.
type Characterization struct {
	Endpoint             string    `json:"endpoint"`
	AllEndpointsAffected bool      `json:"all_endpoints_affected"`
	AffectedUserIDs      []string  `json:"affected_user_ids"`
	RegressionStart      time.Time `json:"regression_start"`
	CommitSHA            string    `json:"commit_sha"`

	LatencyBeforeMS   float64 `json:"latency_before_ms"`
	LatencyAfterMS    float64 `json:"latency_after_ms"`
	LatencyMultiplier float64 `json:"latency_multiplier"`

	QueryCountBefore float64 `json:"query_count_before"`
	QueryCountAfter  float64 `json:"query_count_after"`
	QueryMultiplier  float64 `json:"query_multiplier"`
}

// Hypothesis is one candidate root cause proposed by the reasoning backend.
type Hypothesis struct {
	Rank              int      `json:"rank"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Confidence        float64  `json:"confidence_score"`
	SupportingSignals []string `json:"supporting_signals"`
	EvidenceNeeded    []string `json:"evidence_needed"`
	SimilarIncidentID string   `json:"similar_past_incident_id,omitempty"`
}

// Evidence bundles what was gathered for one hypothesis.
type Evidence struct {
	HypothesisRank int      `json:"hypothesis_rank"`
	CommitDiff     string   `json:"commit_diff,omitempty"`
	QueryPatterns  string   `json:"query_patterns,omitempty"`
	Findings       []string `json:"findings,omitempty"`
}

// RootCause is the confirm stage's determination. Confidence is the only
// confidence score the pipeline produces.
type RootCause struct {
	ConfirmedHypothesisTitle string   `json:"confirmed_hypothesis_title"`
	Confidence               float64  `json:"confidence_score"`
	EvidenceChain            []string `json:"evidence_chain"`
	AffectedCodeLocation     string   `json:"affected_code_location"`
	AffectedCodeSnippet      string   `json:"affected_code_snippet,omitempty"`
}

// FixProposal is the fix stage's structured artifact.
type FixProposal struct {
	PRTitle       string   `json:"pr_title"`
	PRDescription string   `json:"pr_description"`
	OriginalCode  string   `json:"original_code"`
	FixedCode     string   `json:"fixed_code"`
	FilePath      string   `json:"file_path"`
	RiskLevel     string   `json:"risk_level"` // low, medium, high
	SideEffects   []string `json:"side_effects"`
}

// InvestigationRecord is the append-only log of stage outputs for one
// incident. Earlier stage outputs are immutable inputs to later stages.
type InvestigationRecord struct {
	IncidentID       string            `json:"incident_id"`
	Endpoint         string            `json:"endpoint"`
	StartedAt        time.Time         `json:"started_at"`
	Characterization *Characterization `json:"characterization,omitempty"`
	Hypotheses       []Hypothesis      `json:"hypotheses,omitempty"`
	Evidence         []Evidence        `json:"evidence,omitempty"`
	RootCause        *RootCause        `json:"root_cause,omitempty"`
	Fix              *FixProposal      `json:"fix,omitempty"`
	CompletedStages  []string          `json:"completed_stages,omitempty"`
	FailureReason    string            `json:"failure_reason,omitempty"`
	FinishedAt       time.Time         `json:"finished_at,omitempty"`
}

// Confidence returns the confirm stage's score, or zero before confirm ran.
func (r *InvestigationRecord) Confidence() float64 {
	if r.RootCause == nil {
		return 0
	}
	return r.RootCause.Confidence
}

// KnowledgeEntry is an archived investigation plus its real-world outcome.
// Read-only after creation.
type KnowledgeEntry struct {
	ID              string              `json:"id"`
	Incident        Incident            `json:"incident"`
	Record          InvestigationRecord `json:"record"`
	Tags            []string            `json:"tags,omitempty"`
	ActionTaken     string              `json:"action_taken,omitempty"`
	ActionSucceeded bool                `json:"action_succeeded"`
	CreatedAt       time.Time           `json:"created_at"`
}
