package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"agentkit/internal/domain"
	"agentkit/internal/infra/config"
	"agentkit/internal/security"
)

const (
	defaultWebTimeout     = 30 * time.Second
	defaultWebMaxBodySize = 1 << 20
	maxWebRedirects       = 5
)

// WebTool fetches URLs on the model's behalf. Every request, including each
// redirect hop, passes the SSRF checks; an optional allowlist narrows
// fetches to specific hosts.
type WebTool struct {
	client       *http.Client
	maxBodySize  int64
	allowedHosts map[string]bool
	logger       *slog.Logger
}

func NewWebTool(cfg config.ToolsConfig, logger *slog.Logger) *WebTool {
	timeout := cfg.WebTimeout
	if timeout <= 0 {
		timeout = defaultWebTimeout
	}
	maxBody := cfg.WebMaxBodySize
	if maxBody <= 0 {
		maxBody = defaultWebMaxBodySize
	}

	var allowed map[string]bool
	if len(cfg.WebAllowedHosts) > 0 {
		allowed = make(map[string]bool, len(cfg.WebAllowedHosts))
		for _, h := range cfg.WebAllowedHosts {
			allowed[strings.ToLower(h)] = true
		}
	}

	return &WebTool{
		client:       newSSRFSafeClient(timeout),
		maxBodySize:  int64(maxBody),
		allowedHosts: allowed,
		logger:       logger,
	}
}

// newSSRFSafeClient validates addresses at dial time (which also covers DNS
// rebinding) and re-checks every redirect target.
func newSSRFSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: security.NewSSRFSafeTransport(),
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxWebRedirects {
				return fmt.Errorf("too many redirects")
			}
			return security.ValidateURL(req.URL.String())
		},
	}
}

func (t *WebTool) Name() string        { return "web_fetch" }
func (t *WebTool) Description() string { return "Fetch content from a URL (SSRF protected)" }

func (t *WebTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "The URL to fetch"},
				"method": {"type": "string", "enum": ["GET", "HEAD"], "description": "HTTP method (default: GET)"},
				"headers": {"type": "object", "additionalProperties": {"type": "string"}, "description": "Additional HTTP headers"}
			},
			"required": ["url"]
		}`),
	}
}

type webParams struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (t *WebTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.web_fetch", t.logger, params,
		func(ctx context.Context, _ trace.Span, p webParams) (any, error) {
			return t.fetch(ctx, p)
		},
	)
}

func (t *WebTool) fetch(ctx context.Context, p webParams) (string, error) {
	if err := security.ValidateURL(p.URL); err != nil {
		return "", err
	}
	if err := t.checkAllowedHost(p.URL); err != nil {
		return "", err
	}

	req, err := t.buildRequest(ctx, p)
	if err != nil {
		return "", err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodySize))
	if err != nil {
		return "", fmt.Errorf("read body: %v", err)
	}

	t.logger.Debug("web fetch completed", "url", p.URL, "status", resp.StatusCode, "size", len(body))
	return fmt.Sprintf("HTTP %d\n\n%s", resp.StatusCode, string(body)), nil
}

func (t *WebTool) buildRequest(ctx context.Context, p webParams) (*http.Request, error) {
	method := p.Method
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodHead {
		return nil, fmt.Errorf("invalid HTTP method: %q (only GET and HEAD allowed)", method)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %v", err)
	}

	// CRLF in a name or value would let the model inject extra headers.
	for k, v := range p.Headers {
		if strings.ContainsAny(k, "\r\n") || strings.ContainsAny(v, "\r\n") {
			return nil, fmt.Errorf("invalid header: CRLF characters not allowed")
		}
		req.Header.Set(k, v)
	}
	return req, nil
}

// checkAllowedHost enforces the configured allowlist. No allowlist means any
// public host is permitted.
func (t *WebTool) checkAllowedHost(rawURL string) error {
	if t.allowedHosts == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	host := strings.ToLower(u.Hostname())
	if !t.allowedHosts[host] {
		return fmt.Errorf("host %q is not in the allowed hosts list", host)
	}
	return nil
}
