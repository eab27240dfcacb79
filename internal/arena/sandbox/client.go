package sandbox

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

const (
	defaultTimeLimit      = time.Second
	defaultTransportGrace = 2 * time.Second
	defaultMaxOutputBytes = 64 << 10
	errorBodySnippet      = 512
)

// Status is the execution status reported by the sandbox service.
type Status string

const (
	StatusOK             Status = "ok"
	StatusTimeout        Status = "timeout"
	StatusRuntimeError   Status = "runtime_error"
	StatusTransportError Status = "transport_error"
)

// Request is one program run.
type Request struct {
	Code      string
	Stdin     string
	TimeLimit time.Duration
}

// Result is a successful program run.
type Result struct {
	Stdout string
	Stderr string
	Status Status
}

// Failure is returned for every run that did not finish with StatusOK.
type Failure struct {
	Status Status
	Stdout string
	Stderr string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("sandbox %s: %v", f.Status, f.Err)
	}
	return fmt.Sprintf("sandbox %s", f.Status)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Client executes code in the sandbox service.
type Client interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Config configures the HTTP sandbox client.
type Config struct {
	BaseURL        string        `yaml:"baseURL"`
	TimeLimit      time.Duration `yaml:"timeLimit"`
	TransportGrace time.Duration `yaml:"transportGrace"`
	MaxOutputBytes int           `yaml:"maxOutputBytes"`
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.TimeLimit <= 0 {
		c.TimeLimit = defaultTimeLimit
	}
	if c.TransportGrace <= 0 {
		c.TransportGrace = defaultTransportGrace
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = defaultMaxOutputBytes
	}
}

type runRequest struct {
	Code      string  `json:"code"`
	Stdin     string  `json:"stdin"`
	TimeLimit float64 `json:"time_limit"`
}

type runResponse struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Status Status `json:"status"`
}

// HTTPClient talks JSON to POST {BaseURL}/run.
type HTTPClient struct {
	cfg  Config
	http *http.Client
}

// NewHTTPClient creates a sandbox client. A nil httpClient uses a fresh http.Client;
// per-call deadlines come from the request context.
func NewHTTPClient(cfg Config, httpClient *http.Client) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("sandbox baseURL is required")
	}
	cfg.ApplyDefaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPClient{cfg: cfg, http: httpClient}, nil
}

// TimeLimit returns the configured per-run ceiling.
func (c *HTTPClient) TimeLimit() time.Duration {
	return c.cfg.TimeLimit
}

// Execute runs req.Code with req.Stdin. Any outcome other than StatusOK is a *Failure.
func (c *HTTPClient) Execute(ctx context.Context, req Request) (Result, error) {
	limit := req.TimeLimit
	if limit <= 0 {
		limit = c.cfg.TimeLimit
	}
	callCtx, cancel := context.WithTimeout(ctx, limit+c.cfg.TransportGrace)
	defer cancel()

	body, err := json.Marshal(runRequest{Code: req.Code, Stdin: req.Stdin, TimeLimit: limit.Seconds()})
	if err != nil {
		return Result{}, &Failure{Status: StatusTransportError, Err: fmt.Errorf("marshal run request failed: %w", err)}
	}
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.BaseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return Result{}, &Failure{Status: StatusTransportError, Err: fmt.Errorf("build request failed: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Result{}, &Failure{Status: StatusTimeout, Err: err}
		}
		return Result{}, &Failure{Status: StatusTransportError, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	// Bound the read to both outputs plus JSON overhead.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, int64(4*c.cfg.MaxOutputBytes+errorBodySnippet)))
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Result{}, &Failure{Status: StatusTimeout, Err: err}
		}
		return Result{}, &Failure{Status: StatusTransportError, Err: fmt.Errorf("read response body failed: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &Failure{
			Status: StatusTransportError,
			Err:    fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(raw), errorBodySnippet)),
		}
	}

	var out runResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, &Failure{Status: StatusTransportError, Err: fmt.Errorf("decode run response failed: %w", err)}
	}
	result := Result{
		Stdout: truncate(out.Stdout, c.cfg.MaxOutputBytes),
		Stderr: truncate(out.Stderr, c.cfg.MaxOutputBytes),
		Status: out.Status,
	}
	if result.Status != StatusOK {
		if result.Status == "" {
			result.Status = StatusRuntimeError
		}
		return Result{}, &Failure{Status: result.Status, Stdout: result.Stdout, Stderr: result.Stderr}
	}
	return result, nil
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return strings.ToValidUTF8(s[:max], "")
}

var _ Client = (*HTTPClient)(nil)
