// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Provider is the uniform interface over one LLM-backed query runner.
// Implementations may drive a multi-step agent-SDK plan or a direct
// single-turn chat call; the orchestrator treats both the same.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the unique identifier used for routing and labels.
	Name() string

	// Submit starts a run for the query and returns its handle.
	Submit(ctx context.Context, query string) (RunHandle, error)

	// AwaitCompletion blocks, polling at a fixed interval, until the run
	// reaches a terminal state or timeout elapses. A run that never
	// terminates yields a KindTimeout error.
	AwaitCompletion(ctx context.Context, handle RunHandle, timeout time.Duration) (*RunOutcome, error)
}

// Descriptor binds a provider to its position in the fallback chain.
type Descriptor struct {
	Name     string
	Priority int
	Client   Provider
}

// Registry holds the process-wide, priority-ordered provider list.
// It is built once at startup and only read afterwards, so concurrent
// unsynchronized reads are safe.
type Registry struct {
	descriptors []Descriptor
}

// NewRegistry creates a Registry from the given descriptors, ordered by
// ascending priority.
func NewRegistry(descriptors ...Descriptor) *Registry {
	ordered := make([]Descriptor, len(descriptors))
	copy(ordered, descriptors)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})
	return &Registry{descriptors: ordered}
}

// Descriptors returns a copy of the ordered provider list.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Names returns the ordered provider names.
func (r *Registry) Names() []string {
	names := make([]string, len(r.descriptors))
	for i, d := range r.descriptors {
		names[i] = d.Name
	}
	return names
}

// Len returns the number of configured providers.
func (r *Registry) Len() int {
	return len(r.descriptors)
}

// Has reports whether a provider with the given name is configured.
func (r *Registry) Has(name string) bool {
	for _, d := range r.descriptors {
		if d.Name == name {
			return true
		}
	}
	return false
}

// PreferenceAuto selects the full priority-ordered provider list.
const PreferenceAuto = "auto"

// Candidates resolves a model preference into the candidate list for one
// query. An empty or "auto" preference yields every provider in priority
// order. A specific name narrows the list to that provider alone, with
// no silent substitution: when the named provider is not configured the
// result is a KindUnavailable error.
func (r *Registry) Candidates(preference string) ([]Descriptor, error) {
	preference = strings.ToLower(strings.TrimSpace(preference))
	if preference == "" || preference == PreferenceAuto {
		if len(r.descriptors) == 0 {
			return nil, NewError("", KindUnavailable, "no providers configured")
		}
		return r.Descriptors(), nil
	}

	for _, d := range r.descriptors {
		if d.Name == preference {
			return []Descriptor{d}, nil
		}
	}

	return nil, NewError(preference, KindUnavailable,
		fmt.Sprintf("provider %q is not configured (available: %s)",
			preference, strings.Join(r.Names(), ", ")))
}
