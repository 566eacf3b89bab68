// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

package portia

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ADML003/Nexus-AgentHack/agent"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	provider, err := NewProvider("gemini", Config{
		Backend:       BackendGoogle,
		BackendAPIKey: "backend-key",
		BaseURL:       srv.URL,
		PollInterval:  5 * time.Millisecond,
	})
	require.NoError(t, err)
	return provider
}

func TestProviderName(t *testing.T) {
	provider, err := NewProvider("gemini", Config{Backend: BackendGoogle, BackendAPIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", provider.Name())
}

func TestProviderConstructionFailsWithoutKey(t *testing.T) {
	_, err := NewProvider("gemini", Config{Backend: BackendGoogle})
	assert.Error(t, err)
}

func TestAwaitCompletionPollsUntilTerminal(t *testing.T) {
	var polls atomic.Int32
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"plan_run_id":"run-1","state":"NOT_STARTED"}`))
			return
		}

		n := polls.Add(1)
		state := "IN_PROGRESS"
		extra := ""
		if n >= 3 {
			state = "COMPLETE"
			extra = `,"final_output":{"summary":"done"}`
		}
		_, _ = fmt.Fprintf(w, `{"plan_run_id":"run-1","state":%q%s}`, state, extra)
	})

	handle, err := provider.Submit(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, "run-1", handle.ID)

	outcome, err := provider.AwaitCompletion(context.Background(), handle, time.Second)
	require.NoError(t, err)
	assert.Equal(t, agent.StateComplete, outcome.State)
	assert.Equal(t, "done", outcome.Payload.FinalOutput.Summary)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestAwaitCompletionTimeout(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"plan_run_id":"run-1","state":"IN_PROGRESS"}`))
	})

	_, err := provider.AwaitCompletion(context.Background(),
		agent.RunHandle{ID: "run-1"}, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, agent.IsKind(err, agent.KindTimeout))
}

func TestAwaitCompletionContextCancelled(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"plan_run_id":"run-1","state":"IN_PROGRESS"}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := provider.AwaitCompletion(ctx, agent.RunHandle{ID: "run-1"}, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAwaitCompletionClarificationIsTerminal(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"plan_run_id": "run-1",
			"state": "NEED_CLARIFICATION",
			"clarifications": [{"category":"Input","guidance":"which one?"}]
		}`))
	})

	outcome, err := provider.AwaitCompletion(context.Background(),
		agent.RunHandle{ID: "run-1"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, agent.StateClarification, outcome.State)
	require.Len(t, outcome.Payload.Clarifications, 1)
}
