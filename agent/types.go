// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the multi-provider query orchestration core of
// the Nexus backend: a uniform provider interface over agent-SDK-backed and
// direct-chat LLM runners, a fallback orchestrator with retry and backoff,
// and a result extractor for the nested run payloads the agent SDK returns.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RunState is the lifecycle state of a provider-side run.
type RunState string

const (
	// StatePending indicates the run has been accepted but not started.
	StatePending RunState = "PENDING"

	// StateRunning indicates the run is executing.
	StateRunning RunState = "RUNNING"

	// StateClarification indicates the run paused to ask the user for
	// additional input. Terminal for this attempt; resuming is a
	// caller-level follow-up.
	StateClarification RunState = "NEED_CLARIFICATION"

	// StateComplete indicates the run finished successfully.
	StateComplete RunState = "COMPLETE"

	// StateFailed indicates the run finished with an error.
	StateFailed RunState = "FAILED"

	// StateCancelled indicates the run was cancelled upstream.
	StateCancelled RunState = "CANCELLED"
)

// UnmarshalJSON normalizes provider wire spellings (IN_PROGRESS,
// NOT_STARTED, ...) into the canonical states.
func (s *RunState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseRunState(raw)
	return nil
}

// Terminal reports whether the state ends the run (or this attempt at it).
func (s RunState) Terminal() bool {
	switch s {
	case StateComplete, StateFailed, StateCancelled, StateClarification:
		return true
	default:
		return false
	}
}

// ParseRunState normalizes a state string from a provider API.
// Unknown values map to StateRunning so polling continues until the
// provider reports something terminal.
func ParseRunState(s string) RunState {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	if normalized == "" {
		return ""
	}
	switch normalized {
	case "PENDING", "NOT_STARTED", "QUEUED":
		return StatePending
	case "RUNNING", "IN_PROGRESS", "READY_TO_RESUME":
		return StateRunning
	case "NEED_CLARIFICATION", "NEEDS_CLARIFICATION":
		return StateClarification
	case "COMPLETE", "COMPLETED", "SUCCEEDED":
		return StateComplete
	case "FAILED", "ERROR":
		return StateFailed
	case "CANCELLED", "CANCELED":
		return StateCancelled
	default:
		return StateRunning
	}
}

// RunHandle identifies a submitted run. The handle is opaque to the
// orchestrator; only the owning provider can resolve it.
type RunHandle struct {
	ID string `json:"id"`
}

// RunOutcome is the terminal result of awaiting a run.
type RunOutcome struct {
	State   RunState        `json:"state"`
	Payload *PlanRunPayload `json:"payload,omitempty"`
}

// FinalResultKey is the distinguished step-output key that holds the
// run's final answer. Every other key names a tool invocation.
const FinalResultKey = "$result"

// StepOutput is one output slot of a run: a raw value plus an optional
// model-written summary.
type StepOutput struct {
	Value   any    `json:"value,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Text returns the best user-facing text for the output: the summary when
// present, otherwise the value rendered as a string.
func (o StepOutput) Text() string {
	if strings.TrimSpace(o.Summary) != "" {
		return o.Summary
	}
	return valueString(o.Value)
}

func valueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}

// StepEntry is a single named entry of a run's step outputs.
type StepEntry struct {
	Key    string
	Output StepOutput
}

// StepOutputs is the ordered step-output mapping of a run. Order follows
// the JSON document order of the provider response, which the provider
// SDK contract guarantees to be insertion order; tool usage is derived
// from it, so a plain map would lose information.
type StepOutputs []StepEntry

// UnmarshalJSON decodes a JSON object while preserving key order.
func (s *StepOutputs) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("step_outputs: expected JSON object, got %v", tok)
	}

	var entries StepOutputs
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("step_outputs: non-string key %v", keyTok)
		}

		var out StepOutput
		if err := dec.Decode(&out); err != nil {
			return fmt.Errorf("step_outputs: decoding %q: %w", key, err)
		}
		entries = append(entries, StepEntry{Key: key, Output: out})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*s = entries
	return nil
}

// MarshalJSON encodes the entries as a JSON object in order.
func (s StepOutputs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(entry.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(entry.Output)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Lookup returns the output stored under key.
func (s StepOutputs) Lookup(key string) (StepOutput, bool) {
	for _, entry := range s {
		if entry.Key == key {
			return entry.Output, true
		}
	}
	return StepOutput{}, false
}

// Clarification is a mid-run request for additional user input.
type Clarification struct {
	Category string `json:"category,omitempty"`
	Guidance string `json:"guidance,omitempty"`
}

// PlanRunPayload is the nested, optional-field-laden structure a plan run
// resolves to. All fields except the identifiers may be absent depending
// on the provider and how the run ended.
type PlanRunPayload struct {
	RunID          string          `json:"plan_run_id,omitempty"`
	PlanID         string          `json:"plan_id,omitempty"`
	State          RunState        `json:"state,omitempty"`
	Result         string          `json:"result,omitempty"`
	FinalOutput    *StepOutput     `json:"final_output,omitempty"`
	StepOutputs    StepOutputs     `json:"step_outputs,omitempty"`
	Clarifications []Clarification `json:"clarifications,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// ExtractedResult is the normalized, user-facing view of a completed run.
// Derived per request, never persisted.
type ExtractedResult struct {
	Text      string          `json:"text"`
	ToolsUsed []string        `json:"tools_used"`
	Raw       *PlanRunPayload `json:"-"`
}

// ErrorKind classifies a failure for retry and fallback decisions.
type ErrorKind string

const (
	// KindRateLimited marks quota/429-class errors. Retried with backoff
	// against the same provider before advancing.
	KindRateLimited ErrorKind = "rate_limited"

	// KindTransient marks network and server-side errors worth a limited
	// retry before advancing.
	KindTransient ErrorKind = "transient"

	// KindPermanent marks explicit provider errors. Advance immediately.
	KindPermanent ErrorKind = "permanent"

	// KindTimeout marks runs that never reached a terminal state.
	KindTimeout ErrorKind = "timeout"

	// KindUnavailable marks providers that were never initialized
	// (missing credentials). Not retried.
	KindUnavailable ErrorKind = "unavailable"

	// KindExtraction marks runs that completed without extractable text.
	// A soft failure reported to the caller, never retried.
	KindExtraction ErrorKind = "extraction_failure"

	// KindClarification marks runs paused on a clarification request.
	// A soft failure requiring caller-level follow-up.
	KindClarification ErrorKind = "needs_clarification"

	// KindEmptyQuery marks input validation failures. No provider is
	// contacted.
	KindEmptyQuery ErrorKind = "empty_query"

	// KindExhausted marks the aggregate failure after every candidate
	// provider has been tried.
	KindExhausted ErrorKind = "all_providers_exhausted"
)

// Error is the structured error type for all agent operations.
type Error struct {
	Provider string    `json:"provider,omitempty"`
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	Cause    error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error.
func NewError(provider string, kind ErrorKind, message string) *Error {
	return &Error{Provider: provider, Kind: kind, Message: message}
}

// WrapError creates an Error around a cause.
func WrapError(provider string, kind ErrorKind, cause error) *Error {
	return &Error{Provider: provider, Kind: kind, Message: cause.Error(), Cause: cause}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var agentErr *Error
	return errors.As(err, &agentErr) && agentErr.Kind == kind
}

// statusCoder is implemented by provider API errors that carry an HTTP
// status code.
type statusCoder interface {
	HTTPStatus() int
}

var rateLimitPatterns = []string{
	"429",
	"rate limit",
	"rate-limit",
	"quota",
	"capacity exceeded",
	"too many requests",
}

// Classify maps an arbitrary provider error to an ErrorKind. Already
// classified errors keep their kind; API errors are classified by status
// code, everything else by the rate-limit/timeout text patterns the
// providers are known to emit.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var agentErr *Error
	if errors.As(err, &agentErr) && agentErr.Kind != "" {
		return agentErr.Kind
	}

	var coder statusCoder
	if errors.As(err, &coder) {
		switch status := coder.HTTPStatus(); {
		case status == 429:
			return KindRateLimited
		case status == 408:
			return KindTimeout
		case status >= 500:
			return KindTransient
		default:
			return KindPermanent
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	text := strings.ToLower(err.Error())
	for _, pattern := range rateLimitPatterns {
		if strings.Contains(text, pattern) {
			return KindRateLimited
		}
	}
	if strings.Contains(text, "timeout") || strings.Contains(text, "timed out") {
		return KindTimeout
	}
	if strings.Contains(text, "connection refused") || strings.Contains(text, "connection reset") ||
		strings.Contains(text, "temporarily unavailable") {
		return KindTransient
	}

	return KindPermanent
}

// AttemptOutcome records one provider attempt for logging and metrics.
type AttemptOutcome struct {
	Provider string        `json:"provider"`
	Success  bool          `json:"success"`
	Kind     ErrorKind     `json:"error_kind,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	Err      error         `json:"-"`
}
