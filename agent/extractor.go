// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

package agent

import "strings"

// Extract pulls the user-facing text and the list of invoked tool names
// out of a completed run. The text source is resolved in strict priority
// order, first match wins:
//
//  1. the top-level result field,
//  2. the final output (summary preferred over value),
//  3. the $result entry of the step outputs (same preference).
//
// When none yields text, Extract returns a KindExtraction error: the run
// itself succeeded but produced nothing usable, which callers must report
// distinctly from a provider failure.
//
// Pure function: the same outcome always yields the same result.
func Extract(outcome *RunOutcome) (*ExtractedResult, error) {
	if outcome == nil || outcome.Payload == nil {
		return nil, NewError("", KindExtraction, "run outcome carries no payload")
	}

	payload := outcome.Payload
	result := &ExtractedResult{
		ToolsUsed: toolsUsed(payload.StepOutputs),
		Raw:       payload,
	}

	if text := strings.TrimSpace(payload.Result); text != "" {
		result.Text = payload.Result
		return result, nil
	}

	if payload.FinalOutput != nil {
		if text := payload.FinalOutput.Text(); strings.TrimSpace(text) != "" {
			result.Text = text
			return result, nil
		}
	}

	if out, ok := payload.StepOutputs.Lookup(FinalResultKey); ok {
		if text := out.Text(); strings.TrimSpace(text) != "" {
			result.Text = text
			return result, nil
		}
	}

	return nil, NewError("", KindExtraction, "run completed but no result text was found")
}

// toolsUsed lists every step-output key except the distinguished result
// key, in insertion order.
func toolsUsed(outputs StepOutputs) []string {
	tools := make([]string, 0, len(outputs))
	for _, entry := range outputs {
		if entry.Key == FinalResultKey {
			continue
		}
		tools = append(tools, entry.Key)
	}
	return tools
}
