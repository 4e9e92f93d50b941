// Package sandbox manages one ephemeral remote compute sandbox per task
// run: provisioning, command execution, file writes, and teardown. Every
// higher-level operation funnels through the single Exec primitive so the
// provider contract stays small.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/sandboxd/internal/config"
)

// Handle identifies exactly one live sandbox. A handle is bound to a
// single task run and never reused after release.
type Handle struct {
	ID string `json:"id"`
}

// IsZero reports whether the handle identifies nothing.
func (h Handle) IsZero() bool { return h.ID == "" }

// CreateRequest provisions a new sandbox.
type CreateRequest struct {
	// Runtime hints the base image, e.g. "python3" or "node".
	Runtime string `json:"runtime,omitempty"`

	// TimeoutSeconds is the fixed upper-bound lifetime of the sandbox.
	// The provider kills the sandbox and everything in it when it lapses.
	TimeoutSeconds int `json:"timeout_seconds"`

	// Metadata is attached to the sandbox for operator inspection.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ExecRequest runs one command inside the sandbox.
type ExecRequest struct {
	Command  string            `json:"command"`
	Args     []string          `json:"args,omitempty"`
	Cwd      string            `json:"cwd,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Elevated bool              `json:"elevated,omitempty"`
}

// ExecResult is the outcome of one command. A non-zero exit code is a
// result, not an error: Success is false and callers branch on it.
type ExecResult struct {
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`

	// Error carries provider-side failure detail such as a command
	// timeout. It never maps to a Go error from Exec.
	Error string `json:"error,omitempty"`
}

// File is one file to write into the sandbox filesystem.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FileError records a single failed write.
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// WriteResult reports per-file outcomes. Writes are best-effort: files
// written before a failure stay written.
type WriteResult struct {
	Written []string    `json:"written"`
	Failed  []FileError `json:"failed,omitempty"`
}

// Client is the transport boundary to the sandbox provider.
type Client interface {
	// Create provisions a sandbox bound to the request's fixed timeout.
	Create(ctx context.Context, req CreateRequest) (Handle, error)

	// Exec runs a command. Non-zero exits and command timeouts are
	// returned in the ExecResult; the error return is reserved for
	// transport and provider faults.
	Exec(ctx context.Context, h Handle, req ExecRequest) (ExecResult, error)

	// WriteFiles writes files, creating parent directories as needed.
	WriteFiles(ctx context.Context, h Handle, files []File) (WriteResult, error)

	// Stop tears the sandbox down. Stopping an unknown or already-dead
	// sandbox is not an error.
	Stop(ctx context.Context, h Handle) error
}

// ClientConfig configures the HTTP provider client.
type ClientConfig struct {
	// BaseURL is the provider API root, e.g. "https://api.sandbox.example".
	BaseURL string `koanf:"base_url"`

	// APIKey authenticates provider calls.
	APIKey config.Secret `koanf:"api_key"`

	// RequestTimeout bounds each individual API call.
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// NewClient returns a Client speaking the provider's JSON/HTTP API.
func NewClient(cfg ClientConfig) Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &httpClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type httpClient struct {
	baseURL string
	apiKey  config.Secret
	http    *http.Client
}

func (c *httpClient) Create(ctx context.Context, req CreateRequest) (Handle, error) {
	var h Handle
	if err := c.do(ctx, http.MethodPost, "/v1/sandboxes", req, &h); err != nil {
		return Handle{}, fmt.Errorf("creating sandbox: %w", err)
	}
	if h.IsZero() {
		return Handle{}, fmt.Errorf("provider returned an empty sandbox id")
	}
	return h, nil
}

func (c *httpClient) Exec(ctx context.Context, h Handle, req ExecRequest) (ExecResult, error) {
	var res ExecResult
	path := fmt.Sprintf("/v1/sandboxes/%s/exec", h.ID)
	if err := c.do(ctx, http.MethodPost, path, req, &res); err != nil {
		return ExecResult{}, fmt.Errorf("executing command: %w", err)
	}
	return res, nil
}

func (c *httpClient) WriteFiles(ctx context.Context, h Handle, files []File) (WriteResult, error) {
	var res WriteResult
	path := fmt.Sprintf("/v1/sandboxes/%s/files", h.ID)
	body := struct {
		Files []File `json:"files"`
	}{Files: files}
	if err := c.do(ctx, http.MethodPost, path, body, &res); err != nil {
		return WriteResult{}, fmt.Errorf("writing files: %w", err)
	}
	return res, nil
}

func (c *httpClient) Stop(ctx context.Context, h Handle) error {
	path := fmt.Sprintf("/v1/sandboxes/%s", h.ID)
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		// A sandbox that is already gone counts as stopped.
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("stopping sandbox: %w", err)
	}
	return nil
}

// statusError carries a non-2xx provider response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.code, e.body)
}

func (c *httpClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey.IsSet() {
		req.Header.Set("Authorization", "Bearer "+c.apiKey.Value())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, body: string(data)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
