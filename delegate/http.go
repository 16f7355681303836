package delegate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxResponseSize limits how much of a delegate response is read.
const maxResponseSize = 10 * 1024 * 1024

// Endpoint describes where a role is served.
type Endpoint struct {
	URL          string
	Model        string
	SystemPrompt string
}

// Options configures a gateway.
type Options struct {
	Endpoints map[Role]Endpoint
	APIKey    string
	Timeout   time.Duration
	Retry     RetryConfig
}

// Option configures optional gateway dependencies.
type Option func(*gatewayDeps)

type gatewayDeps struct {
	logger     *slog.Logger
	httpClient *http.Client
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *gatewayDeps) {
		d.logger = l
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *gatewayDeps) {
		d.httpClient = c
	}
}

func buildDeps(opts []Option) gatewayDeps {
	d := gatewayDeps{
		logger:     slog.Default(),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

type delegateRequest struct {
	SessionID string `json:"session_id"`
	Role      Role   `json:"role"`
	Prompt    string `json:"prompt"`
}

type delegateResponse struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// HTTPGateway posts prompts as JSON to one endpoint per role.
//
// Request body: {"session_id", "role", "prompt"}. A 200 response must carry
// {"output": "..."}; any other status is classified as transient or fatal.
type HTTPGateway struct {
	opts Options
	gatewayDeps
}

// NewHTTPGateway creates a gateway for the configured endpoints.
func NewHTTPGateway(o Options, opts ...Option) *HTTPGateway {
	return &HTTPGateway{opts: o, gatewayDeps: buildDeps(opts)}
}

// Delegate sends prompt to role's endpoint.
func (g *HTTPGateway) Delegate(ctx context.Context, role Role, prompt, sessionID string) (string, error) {
	ep, ok := g.opts.Endpoints[role]
	if !ok || ep.URL == "" {
		return "", &Error{Kind: KindProtocol, Role: role, Err: fmt.Errorf("no endpoint configured for role %q", role)}
	}

	body, err := json.Marshal(delegateRequest{SessionID: sessionID, Role: role, Prompt: prompt})
	if err != nil {
		return "", &Error{Kind: KindProtocol, Role: role, Err: fmt.Errorf("encode request: %w", err)}
	}

	return withRetry(ctx, g.logger, g.opts.Retry, g.opts.Timeout, role, sessionID, func(ctx context.Context) (string, error) {
		return g.doRequest(ctx, ep.URL, body)
	})
}

// doRequest executes a single HTTP request to a delegate endpoint.
func (g *HTTPGateway) doRequest(ctx context.Context, url string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if g.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.opts.APIKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		// Network errors are transient
		return "", NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTPError(resp.StatusCode, respBody)
	}

	var out delegateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", NewFatalError(fmt.Errorf("decode response: %w", err))
	}
	if out.Error != "" {
		return "", NewFatalError(fmt.Errorf("delegate error: %s", out.Error))
	}
	if strings.TrimSpace(out.Output) == "" {
		return "", NewFatalError(fmt.Errorf("delegate returned empty output"))
	}
	return out.Output, nil
}

// classifyHTTPError determines if an HTTP error is transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("delegate API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		// Rate limiting is transient
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	default:
		// Auth, bad request and unknown codes are fatal
		return NewFatalError(err)
	}
}
