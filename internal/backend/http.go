package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/shipyard/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	BaseURL         string
	Token           string
	MaxResponseBody int64
	Timeout         time.Duration
	Transport       http.RoundTripper
}

// HTTPClient talks to the deployment service over JSON/HTTP.
type HTTPClient struct {
	base   *url.URL
	token  string
	limit  int64
	client *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the service at cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	u, err := url.ParseRequestURI(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "backend: invalid base url %q", cfg.BaseURL)
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	return &HTTPClient{
		base:   u,
		token:  cfg.Token,
		limit:  cfg.MaxResponseBody,
		client: &http.Client{Transport: transport, Timeout: cfg.Timeout},
	}, nil
}

func (c *HTTPClient) DryRun(ctx context.Context, doc *schema.Document) error {
	status, body, err := c.do(ctx, http.MethodPost, "/api/v1/applications/dry-run", doc)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return schema.NewError(schema.ErrCodeDryRunRejected, serviceMessage(body, status)).
			WithDetails(map[string]any{"status_code": status})
	}
	return nil
}

func (c *HTTPClient) SaveApplication(ctx context.Context, doc *schema.Document) (*SaveResult, error) {
	var out SaveResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/applications", doc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ListWorkflows(ctx context.Context, appID string) ([]schema.Workflow, error) {
	var out []schema.Workflow
	path := "/api/v1/applications/" + url.PathEscape(appID) + "/workflows"
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []schema.Workflow{}
	}
	return out, nil
}

func (c *HTTPClient) PublishWorkflow(ctx context.Context, appID, workflowID string) (string, error) {
	var out struct {
		TaskID string `json:"taskId"`
	}
	path := "/api/v1/applications/" + url.PathEscape(appID) + "/workflows/" + url.PathEscape(workflowID) + "/exec"
	if err := c.call(ctx, http.MethodPost, path, nil, &out); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		return "", schema.NewError(schema.ErrCodeBackend, "backend: publish returned no task id")
	}
	return out.TaskID, nil
}

func (c *HTTPClient) TaskStatus(ctx context.Context, taskID string) (*schema.TaskStatus, error) {
	var out schema.TaskStatus
	if err := c.call(ctx, http.MethodGet, "/api/v1/workflow/tasks/"+url.PathEscape(taskID)+"/status", nil, &out); err != nil {
		return nil, err
	}
	if out.TaskID == "" {
		out.TaskID = taskID
	}
	return &out, nil
}

func (c *HTTPClient) CancelTask(ctx context.Context, taskID string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/workflow/tasks/"+url.PathEscape(taskID)+"/cancel", nil, nil)
}

// call performs a request and decodes a 2xx JSON body into out (when non-nil).
func (c *HTTPClient) call(ctx context.Context, method, path string, in, out any) error {
	status, body, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return schema.NewErrorf(schema.ErrCodeBackend, "backend: %s %s returned %d: %s",
			method, path, status, serviceMessage(body, status)).
			WithDetails(map[string]any{"status_code": status})
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeBackend, "backend: decode %s response", path).WithCause(err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in any) (int, []byte, error) {
	var bodyReader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, schema.NewErrorf(schema.ErrCodeBackend, "backend: marshal request body").WithCause(err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, bodyReader)
	if err != nil {
		return 0, nil, schema.NewErrorf(schema.ErrCodeBackend, "backend: create request").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, schema.NewErrorf(schema.ErrCodeBackend, "backend: %s %s: %v", method, path, err).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.limit))
	if err != nil {
		return 0, nil, schema.NewErrorf(schema.ErrCodeBackend, "backend: read response body").WithCause(err)
	}
	return resp.StatusCode, body, nil
}

// serviceMessage extracts the human readable message of an error response.
func serviceMessage(body []byte, status int) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return fmt.Sprintf("%d %s", status, http.StatusText(status))
}
