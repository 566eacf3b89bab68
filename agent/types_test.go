// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRunState(t *testing.T) {
	tests := []struct {
		input string
		want  RunState
	}{
		{"COMPLETE", StateComplete},
		{"complete", StateComplete},
		{"COMPLETED", StateComplete},
		{"SUCCEEDED", StateComplete},
		{"IN_PROGRESS", StateRunning},
		{"RUNNING", StateRunning},
		{"NOT_STARTED", StatePending},
		{"QUEUED", StatePending},
		{"NEED_CLARIFICATION", StateClarification},
		{"NEEDS_CLARIFICATION", StateClarification},
		{"FAILED", StateFailed},
		{"ERROR", StateFailed},
		{"CANCELLED", StateCancelled},
		{"CANCELED", StateCancelled},
		{"  failed  ", StateFailed},
		{"", RunState("")},
		{"SOMETHING_NEW", StateRunning},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRunState(tt.input))
		})
	}
}

func TestRunStateTerminal(t *testing.T) {
	assert.True(t, StateComplete.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.True(t, StateClarification.Terminal())
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateRunning.Terminal())
}

func TestRunStateUnmarshalNormalizes(t *testing.T) {
	var payload PlanRunPayload
	err := json.Unmarshal([]byte(`{"plan_run_id":"r1","state":"IN_PROGRESS"}`), &payload)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, payload.State)
}

func TestStepOutputsPreservesOrder(t *testing.T) {
	raw := `{
		"search_tool": {"value": "found it", "summary": "searched the web"},
		"calculator_tool": {"value": 42},
		"$result": {"value": "final answer", "summary": "the summary"}
	}`

	var outputs StepOutputs
	require.NoError(t, json.Unmarshal([]byte(raw), &outputs))
	require.Len(t, outputs, 3)

	assert.Equal(t, "search_tool", outputs[0].Key)
	assert.Equal(t, "calculator_tool", outputs[1].Key)
	assert.Equal(t, FinalResultKey, outputs[2].Key)

	out, ok := outputs.Lookup("calculator_tool")
	require.True(t, ok)
	assert.Equal(t, float64(42), out.Value)

	_, ok = outputs.Lookup("missing")
	assert.False(t, ok)
}

func TestStepOutputsRoundTrip(t *testing.T) {
	outputs := StepOutputs{
		{Key: "b_tool", Output: StepOutput{Value: "second"}},
		{Key: "a_tool", Output: StepOutput{Value: "first"}},
	}

	data, err := json.Marshal(outputs)
	require.NoError(t, err)

	var decoded StepOutputs
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "b_tool", decoded[0].Key)
	assert.Equal(t, "a_tool", decoded[1].Key)
}

func TestStepOutputsRejectsNonObject(t *testing.T) {
	var outputs StepOutputs
	assert.Error(t, json.Unmarshal([]byte(`["not","an","object"]`), &outputs))
}

func TestStepOutputText(t *testing.T) {
	tests := []struct {
		name   string
		output StepOutput
		want   string
	}{
		{"summary wins", StepOutput{Value: "raw", Summary: "summarized"}, "summarized"},
		{"string value", StepOutput{Value: "plain"}, "plain"},
		{"numeric value", StepOutput{Value: float64(3.5)}, "3.5"},
		{"integer-valued float", StepOutput{Value: float64(7)}, "7"},
		{"bool value", StepOutput{Value: true}, "true"},
		{"nil value", StepOutput{}, ""},
		{"structured value", StepOutput{Value: map[string]any{"k": "v"}}, `{"k":"v"}`},
		{"blank summary falls through", StepOutput{Value: "raw", Summary: "   "}, "raw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.output.Text())
		})
	}
}

type statusErr struct{ code int }

func (e *statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) HTTPStatus() int { return e.code }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ErrorKind("")},
		{"already classified", NewError("gemini", KindTimeout, "slow"), KindTimeout},
		{"wrapped classified", fmt.Errorf("outer: %w", NewError("", KindRateLimited, "quota")), KindRateLimited},
		{"status 429", &statusErr{429}, KindRateLimited},
		{"status 408", &statusErr{408}, KindTimeout},
		{"status 503", &statusErr{503}, KindTransient},
		{"status 401", &statusErr{401}, KindPermanent},
		{"text 429", errors.New("upstream said 429"), KindRateLimited},
		{"text rate limit", errors.New("Rate limit exceeded"), KindRateLimited},
		{"text quota", errors.New("quota exhausted for project"), KindRateLimited},
		{"text capacity", errors.New("capacity exceeded, try later"), KindRateLimited},
		{"text timeout", errors.New("request timed out"), KindTimeout},
		{"connection refused", errors.New("dial tcp: connection refused"), KindTransient},
		{"plain failure", errors.New("invalid API key"), KindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	err := NewError("gemini", KindRateLimited, "too many requests")
	assert.Equal(t, "gemini: rate_limited: too many requests", err.Error())

	bare := NewError("", KindExhausted, "nothing left")
	assert.Equal(t, "all_providers_exhausted: nothing left", bare.Error())

	cause := errors.New("root cause")
	wrapped := WrapError("openai", KindTransient, cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.True(t, IsKind(wrapped, KindTransient))
	assert.False(t, IsKind(wrapped, KindTimeout))
}
