package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is the external reasoning capability. Implementations turn a
// stage-specific structured input into free-form text that the caller must
// parse and validate before trusting.
type Client interface {
	Infer(ctx context.Context, stage string, input any) (string, error)
}

// FailureReason classifies why a reasoning call failed.
type FailureReason string

const (
	ReasonTimeout     FailureReason = "timeout"
	ReasonUnreachable FailureReason = "unreachable"
	ReasonMalformed   FailureReason = "malformed"
	ReasonSchema      FailureReason = "schema"
)

// Failure is the error type for reasoning-boundary problems. A Failure is
// terminal for the stage, never for the process.
type Failure struct {
	Stage  string
	Reason FailureReason
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("reasoning %s failed (%s): %v", f.Stage, f.Reason, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// IsFailure reports whether err is a reasoning Failure.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}

// HTTPClient calls a reasoning backend over HTTP. The request body carries
// the stage name and structured input; the response body is the backend's
// raw text output.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient constructs a reasoning client with a per-call timeout.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type inferRequest struct {
	Stage string `json:"stage"`
	Input any    `json:"input"`
}

// Infer posts the stage input and returns the backend's raw text.
func (c *HTTPClient) Infer(ctx context.Context, stage string, input any) (string, error) {
	if c.baseURL == "" {
		return "", &Failure{Stage: stage, Reason: ReasonUnreachable, Err: errors.New("reasoning backend not configured")}
	}

	body, err := json.Marshal(inferRequest{Stage: stage, Input: input})
	if err != nil {
		return "", &Failure{Stage: stage, Reason: ReasonMalformed, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/infer", bytes.NewReader(body))
	if err != nil {
		return "", &Failure{Stage: stage, Reason: ReasonUnreachable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		reason := ReasonUnreachable
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			reason = ReasonTimeout
		}
		return "", &Failure{Stage: stage, Reason: reason, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &Failure{Stage: stage, Reason: ReasonUnreachable, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Failure{
			Stage:  stage,
			Reason: ReasonUnreachable,
			Err:    fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
		}
	}
	return string(data), nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
