// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

// Package mistral implements a direct single-turn chat-completion provider
// against the Mistral API. It is the final element of the auto fallback
// chain: no agent planning, no tools, just one synchronous completion
// behind the same provider interface the orchestrator already speaks.
package mistral

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ADML003/Nexus-AgentHack/agent"
)

const (
	// DefaultBaseURL is the Mistral API endpoint.
	DefaultBaseURL = "https://api.mistral.ai"

	// DefaultModel is the chat model used for fallback completions.
	DefaultModel = "mistral-small-latest"

	// DefaultTimeout is the HTTP timeout for a completion call.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens bounds fallback completions.
	DefaultMaxTokens = 1024

	// DefaultTemperature for fallback completions.
	DefaultTemperature = 0.7
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the direct Mistral provider.
type Config struct {
	APIKey     string        // Required: Mistral API key
	Model      string        // Optional: chat model (default mistral-small-latest)
	BaseURL    string        // Optional: API base URL
	Timeout    time.Duration // Optional: HTTP timeout (default 120s)
	HTTPClient HTTPClient    // Optional: injected transport for tests
}

// Provider is the direct chat-completion provider. Submit launches the
// completion in the background and hands back a synthetic run handle;
// AwaitCompletion collects the result, so the two-phase provider contract
// holds even though the upstream call is a single round trip.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  HTTPClient

	mu   sync.Mutex
	runs map[string]chan runResult
}

type runResult struct {
	outcome *agent.RunOutcome
	err     error
}

var _ agent.Provider = (*Provider)(nil)

// NewProvider creates the provider. A missing API key fails construction,
// keeping the provider out of the registry.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("mistral: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Provider{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: cfg.BaseURL,
		client:  cfg.HTTPClient,
		runs:    make(map[string]chan runResult),
	}, nil
}

// Name returns the provider's registry name.
func (p *Provider) Name() string {
	return "mistral-direct"
}

// Submit starts the completion call in the background.
func (p *Provider) Submit(ctx context.Context, query string) (agent.RunHandle, error) {
	handle := agent.RunHandle{ID: "direct-" + uuid.NewString()}
	ch := make(chan runResult, 1)

	p.mu.Lock()
	p.runs[handle.ID] = ch
	p.mu.Unlock()

	// The call must outlive Submit's caller frame but still honor the
	// request context for cancellation.
	go func() {
		outcome, err := p.complete(ctx, handle.ID, query)
		ch <- runResult{outcome: outcome, err: err}
	}()

	return handle, nil
}

// AwaitCompletion waits for the background completion to finish.
func (p *Provider) AwaitCompletion(ctx context.Context, handle agent.RunHandle, timeout time.Duration) (*agent.RunOutcome, error) {
	p.mu.Lock()
	ch, ok := p.runs[handle.ID]
	delete(p.runs, handle.ID)
	p.mu.Unlock()

	if !ok {
		return nil, agent.NewError(p.Name(), agent.KindPermanent,
			fmt.Sprintf("unknown run handle %s", handle.ID))
	}
	if timeout <= 0 {
		timeout = agent.DefaultAwaitTimeout
	}

	select {
	case res := <-ch:
		return res.outcome, res.err
	case <-time.After(timeout):
		return nil, agent.NewError(p.Name(), agent.KindTimeout,
			fmt.Sprintf("completion did not finish within %s", timeout))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) complete(ctx context.Context, runID, query string) (*agent.RunOutcome, error) {
	body, err := json.Marshal(chatRequest{
		Model:       p.model,
		Messages:    []chatMessage{{Role: "user", Content: query}},
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("mistral: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mistral: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mistral: request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &apiError{statusCode: resp.StatusCode, body: string(data)}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("mistral: decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("mistral: response carried no choices")
	}

	payload := &agent.PlanRunPayload{
		RunID:  runID,
		State:  agent.StateComplete,
		Result: parsed.Choices[0].Message.Content,
	}
	return &agent.RunOutcome{State: agent.StateComplete, Payload: payload}, nil
}

// apiError carries the HTTP status for error classification.
type apiError struct {
	statusCode int
	body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("mistral API error (status %d): %s", e.statusCode, e.body)
}

func (e *apiError) HTTPStatus() int {
	return e.statusCode
}
