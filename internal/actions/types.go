package actions

import (
	"context"
	"time"

	"github.com/argusstack/argus/internal/models"
)

// ActionTaken names what the router did with a finished investigation.
const (
	ActionNone         = "none"
	ActionNotifyOnly   = "notify_only"
	ActionPRProposed   = "pr_proposed"
	ActionAutoDeployed = "auto_deployed"
)

// Notification is the human-facing alert payload. Notifications fire on every
// routed investigation regardless of which remediation path was taken.
type Notification struct {
	IncidentID   string             `json:"incident_id"`
	Endpoint     string             `json:"endpoint"`
	Trigger      string             `json:"trigger"`
	AnomalyScore float64            `json:"anomaly_score"`
	Confidence   float64            `json:"confidence"`
	RootCause    string             `json:"root_cause,omitempty"`
	ActionTaken  string             `json:"action_taken"`
	PRID         string             `json:"pr_id,omitempty"`
	Fix          *models.FixProposal `json:"fix,omitempty"`
}

// PRRequest asks the remediation service to open a pull request.
type PRRequest struct {
	IncidentID  string   `json:"incident_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	FilePath    string   `json:"file_path"`
	FixedCode   string   `json:"fixed_code"`
	RiskLevel   string   `json:"risk_level"`
	SideEffects []string `json:"side_effects,omitempty"`
	AutoMerge   bool     `json:"auto_merge"`
}

// Verification is the post-deploy health check outcome.
type Verification struct {
	Healthy           bool      `json:"healthy"`
	ObservedLatencyMS float64   `json:"observed_latency_ms"`
	BaselineLatencyMS float64   `json:"baseline_latency_ms"`
	CheckedAt         time.Time `json:"checked_at"`
	Detail            string    `json:"detail,omitempty"`
}

// RouteResult summarises everything the router did for one investigation.
type RouteResult struct {
	ActionTaken     string        `json:"action_taken"`
	ActionSucceeded bool          `json:"action_succeeded"`
	PRID            string        `json:"pr_id,omitempty"`
	DeploymentID    string        `json:"deployment_id,omitempty"`
	Verification    *Verification `json:"verification,omitempty"`
	Detail          string        `json:"detail,omitempty"`
}

// Notifier delivers notifications. Delivery failures never block or fail an
// investigation.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// PRClient opens pull requests against the monitored service's repository.
type PRClient interface {
	OpenPR(ctx context.Context, req PRRequest) (string, error)
}

// Deployer triggers a deployment of a merged PR and reports its identifier.
type Deployer interface {
	Deploy(ctx context.Context, prID string) (string, error)
}
