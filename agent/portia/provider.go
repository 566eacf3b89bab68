// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

package portia

import (
	"context"
	"fmt"
	"time"

	"github.com/ADML003/Nexus-AgentHack/agent"
)

// Provider adapts a Portia client to the agent.Provider interface. Each
// instance drives plan runs on one LLM backend.
type Provider struct {
	name   string
	client *Client
}

var _ agent.Provider = (*Provider)(nil)

// NewProvider creates a named provider over the given client config.
// Construction fails when the backend API key is missing, which keeps the
// provider out of the registry for the process lifetime.
func NewProvider(name string, cfg Config) (*Provider, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Provider{name: name, client: client}, nil
}

// Name returns the provider's registry name.
func (p *Provider) Name() string {
	return p.name
}

// Client returns the underlying Portia client, for tool-registry access.
func (p *Provider) Client() *Client {
	return p.client
}

// Submit starts a plan run for the query.
func (p *Provider) Submit(ctx context.Context, query string) (agent.RunHandle, error) {
	payload, err := p.client.CreateRun(ctx, query)
	if err != nil {
		return agent.RunHandle{}, fmt.Errorf("%s: submitting run: %w", p.name, err)
	}
	return agent.RunHandle{ID: payload.RunID}, nil
}

// AwaitCompletion polls the run at the client's fixed interval until it
// reaches a terminal state or timeout elapses.
func (p *Provider) AwaitCompletion(ctx context.Context, handle agent.RunHandle, timeout time.Duration) (*agent.RunOutcome, error) {
	if timeout <= 0 {
		timeout = agent.DefaultAwaitTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		payload, err := p.client.GetRun(ctx, handle.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: polling run %s: %w", p.name, handle.ID, err)
		}

		if payload.State.Terminal() {
			return &agent.RunOutcome{State: payload.State, Payload: payload}, nil
		}

		if time.Now().Add(p.client.pollInterval).After(deadline) {
			return nil, agent.NewError(p.name, agent.KindTimeout,
				fmt.Sprintf("run %s did not reach a terminal state within %s", handle.ID, timeout))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.client.pollInterval):
		}
	}
}
