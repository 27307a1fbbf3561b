package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebhookClient talks to the notify and remediation webhooks. Both are plain
// JSON-over-HTTP endpoints; the remediation service exposes /v1/prs and
// /v1/deployments, the notify hook accepts any JSON body.
type WebhookClient struct {
	notifyURL      string
	remediationURL string
	httpClient     *http.Client
}

// NewWebhookClient builds a client for the given endpoints. Empty URLs
// disable the corresponding capability.
func NewWebhookClient(notifyURL, remediationURL string, timeout time.Duration) *WebhookClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookClient{
		notifyURL:      strings.TrimRight(notifyURL, "/"),
		remediationURL: strings.TrimRight(remediationURL, "/"),
		httpClient:     &http.Client{Timeout: timeout},
	}
}

// Notify posts the notification to the notify webhook.
func (c *WebhookClient) Notify(ctx context.Context, n Notification) error {
	if c.notifyURL == "" {
		return fmt.Errorf("notify webhook not configured")
	}
	return c.post(ctx, c.notifyURL, n, nil)
}

type prResponse struct {
	ID string `json:"id"`
}

// OpenPR asks the remediation service for a pull request and returns its ID.
func (c *WebhookClient) OpenPR(ctx context.Context, req PRRequest) (string, error) {
	if c.remediationURL == "" {
		return "", fmt.Errorf("remediation webhook not configured")
	}
	var resp prResponse
	if err := c.post(ctx, c.remediationURL+"/v1/prs", req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("remediation service returned no PR id")
	}
	return resp.ID, nil
}

type deployRequest struct {
	PRID string `json:"pr_id"`
}

type deployResponse struct {
	ID string `json:"id"`
}

// Deploy triggers a deployment of the given PR.
func (c *WebhookClient) Deploy(ctx context.Context, prID string) (string, error) {
	if c.remediationURL == "" {
		return "", fmt.Errorf("remediation webhook not configured")
	}
	var resp deployResponse
	if err := c.post(ctx, c.remediationURL+"/v1/deployments", deployRequest{PRID: prID}, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("remediation service returned no deployment id")
	}
	return resp.ID, nil
}

// Diff fetches the unified diff for a commit from the remediation service,
// which fronts the monitored repository.
func (c *WebhookClient) Diff(ctx context.Context, commitSHA string) (string, error) {
	if c.remediationURL == "" {
		return "", fmt.Errorf("remediation webhook not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.remediationURL+"/v1/commits/"+commitSHA+"/diff", nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch diff: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read diff: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch diff: status %d", resp.StatusCode)
	}
	return string(data), nil
}

func (c *WebhookClient) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
