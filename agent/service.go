// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"strings"
	"time"
)

// QueryOutcome is the stable response shape handed to the HTTP layer.
// Soft failures (empty query, extraction failure, clarification) are
// reported here with Success=false rather than as transport errors.
type QueryOutcome struct {
	Success        bool            `json:"success"`
	Result         string          `json:"result,omitempty"`
	ToolsUsed      []string        `json:"tools_used,omitempty"`
	ProviderUsed   string          `json:"provider_used,omitempty"`
	PlanRunID      string          `json:"plan_run_id,omitempty"`
	Clarifications []Clarification `json:"clarifications,omitempty"`
	ExecutionTime  float64         `json:"execution_time_seconds"`
	Error          string          `json:"error,omitempty"`
	ErrorKind      ErrorKind       `json:"error_kind,omitempty"`
	Raw            *PlanRunPayload `json:"raw,omitempty"`
}

// Service is the externally consumed entry point: preference narrowing,
// input validation, orchestration, and extraction behind one call.
type Service struct {
	registry     *Registry
	orchestrator *Orchestrator
}

// NewService creates a Service over the given provider registry.
func NewService(registry *Registry, orchestrator *Orchestrator) *Service {
	if orchestrator == nil {
		orchestrator = NewOrchestrator()
	}
	return &Service{registry: registry, orchestrator: orchestrator}
}

// Registry exposes the provider registry for status endpoints.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Handle executes one query. preference is either a provider name, "auto",
// or empty. An empty or whitespace-only query fails fast without
// contacting any provider.
func (s *Service) Handle(ctx context.Context, requestID, query, preference string) *QueryOutcome {
	start := time.Now()

	if strings.TrimSpace(query) == "" {
		return &QueryOutcome{
			Success:       false,
			Error:         "query must not be empty",
			ErrorKind:     KindEmptyQuery,
			ExecutionTime: time.Since(start).Seconds(),
		}
	}

	candidates, err := s.registry.Candidates(preference)
	if err != nil {
		return &QueryOutcome{
			Success:       false,
			Error:         err.Error(),
			ErrorKind:     KindUnavailable,
			ExecutionTime: time.Since(start).Seconds(),
		}
	}

	result := s.orchestrator.Execute(ctx, requestID, query, candidates)
	outcome := &QueryOutcome{
		ProviderUsed:  result.Provider,
		ExecutionTime: time.Since(start).Seconds(),
	}
	if result.Outcome != nil && result.Outcome.Payload != nil {
		outcome.PlanRunID = result.Outcome.Payload.RunID
		outcome.Clarifications = result.Outcome.Payload.Clarifications
		outcome.Raw = result.Outcome.Payload
	}

	if result.Err != nil {
		outcome.Error = result.Err.Message
		outcome.ErrorKind = result.Err.Kind
		return outcome
	}

	outcome.Success = true
	outcome.Result = result.Extracted.Text
	outcome.ToolsUsed = result.Extracted.ToolsUsed
	if outcome.PlanRunID == "" && result.Extracted.Raw != nil {
		outcome.PlanRunID = result.Extracted.Raw.RunID
	}
	return outcome
}
