// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

// Package portia is an HTTP client for the Portia agent-planning API:
// submit a plan run, poll its state, and read the nested output structure
// of the finished run. One client is configured per LLM backend (google,
// mistralai, openai), so each backend appears as its own provider in the
// fallback chain.
package portia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ADML003/Nexus-AgentHack/agent"
)

const (
	// DefaultBaseURL is the Portia cloud API endpoint.
	DefaultBaseURL = "https://api.portialabs.ai"

	// DefaultPollInterval is the fixed wait between run-state polls.
	DefaultPollInterval = 2 * time.Second

	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 120 * time.Second
)

// Backend identifiers accepted by the plan-run API.
const (
	BackendGoogle    = "google"
	BackendMistralAI = "mistralai"
	BackendOpenAI    = "openai"
)

// Default models per backend, mirroring the hosted defaults.
const (
	DefaultGoogleModel  = "gemini-1.5-pro"
	DefaultMistralModel = "mistralai/mistral-small-latest"
	DefaultOpenAIModel  = "openai/gpt-4o-mini"
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for a Portia client.
type Config struct {
	APIKey        string        // Optional: Portia cloud API key (cloud tools + storage)
	Backend       string        // Required: LLM backend ("google", "mistralai", "openai")
	BackendAPIKey string        // Required: API key for the LLM backend
	Model         string        // Optional: backend default model
	BaseURL       string        // Optional: API base URL
	PollInterval  time.Duration // Optional: run-state poll interval (default 2s)
	Timeout       time.Duration // Optional: HTTP timeout (default 120s)
	HTTPClient    HTTPClient    // Optional: injected transport for tests
}

// Client talks to the Portia plan-run API for a single backend.
type Client struct {
	apiKey        string
	backend       string
	backendAPIKey string
	model         string
	baseURL       string
	pollInterval  time.Duration
	client        HTTPClient
}

// NewClient creates a Client. The backend API key gates construction:
// without it the provider is never initialized and must stay absent from
// the registry.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Backend == "" {
		return nil, fmt.Errorf("portia: backend is required")
	}
	if cfg.BackendAPIKey == "" {
		return nil, fmt.Errorf("portia: %s API key is required", cfg.Backend)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel(cfg.Backend)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		apiKey:        cfg.APIKey,
		backend:       cfg.Backend,
		backendAPIKey: cfg.BackendAPIKey,
		model:         cfg.Model,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		pollInterval:  cfg.PollInterval,
		client:        cfg.HTTPClient,
	}, nil
}

func defaultModel(backend string) string {
	switch backend {
	case BackendGoogle:
		return DefaultGoogleModel
	case BackendMistralAI:
		return DefaultMistralModel
	case BackendOpenAI:
		return DefaultOpenAIModel
	default:
		return ""
	}
}

// Backend returns the configured LLM backend identifier.
func (c *Client) Backend() string {
	return c.backend
}

// Model returns the configured default model.
func (c *Client) Model() string {
	return c.model
}

// APIError represents an error response from the Portia API.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("portia API error (status %d): %s", e.StatusCode, e.Message)
}

// HTTPStatus returns the HTTP status code for error classification.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// IsRetryable reports whether the request can be retried.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= 500
}

type createRunRequest struct {
	Query       string `json:"query"`
	LLMProvider string `json:"llm_provider"`
	Model       string `json:"default_model,omitempty"`
}

// CreateRun submits a new plan run for the query and returns its initial
// payload (id and state).
func (c *Client) CreateRun(ctx context.Context, query string) (*agent.PlanRunPayload, error) {
	body := createRunRequest{
		Query:       query,
		LLMProvider: c.backend,
		Model:       c.model,
	}

	var payload agent.PlanRunPayload
	if err := c.do(ctx, http.MethodPost, "/api/v0/plan-runs/", body, &payload); err != nil {
		return nil, err
	}
	if payload.RunID == "" {
		return nil, fmt.Errorf("portia: create run response carried no run id")
	}
	return &payload, nil
}

// GetRun fetches the current payload of a plan run.
func (c *Client) GetRun(ctx context.Context, runID string) (*agent.PlanRunPayload, error) {
	var payload agent.PlanRunPayload
	path := "/api/v0/plan-runs/" + runID + "/"
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Tool describes one entry of the remote tool registry.
type Tool struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListTools enumerates the tools available to this client's registry.
// Requires a Portia cloud API key; without one only the caller's built-in
// catalog applies.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("portia: cloud API key required to list tools")
	}
	var resp struct {
		Tools []Tool `json:"tools"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v0/tools/", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("portia: marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("portia: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Backend-Api-Key", c.backendAPIKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Api-Key "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("portia: request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("portia: decoding response: %w", err)
	}
	return nil
}

// errorMessage pulls a human-readable detail out of an error body,
// falling back to the raw text.
func errorMessage(body []byte) string {
	var parsed struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, candidate := range []string{parsed.Detail, parsed.Message, parsed.Error} {
			if candidate != "" {
				return candidate
			}
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		text = "no error detail"
	}
	return text
}
