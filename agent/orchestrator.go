// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ADML003/Nexus-AgentHack/shared/logger"
)

const (
	// DefaultMaxRetries is how many times a rate-limited provider is
	// attempted before the orchestrator advances to the next one.
	DefaultMaxRetries = 2

	// DefaultBaseDelay is the starting backoff delay; attempt n waits
	// DefaultBaseDelay * 2^n.
	DefaultBaseDelay = time.Second

	// DefaultAwaitTimeout bounds a single run's poll-wait.
	DefaultAwaitTimeout = 60 * time.Second
)

// Orchestrator drives an ordered list of providers for one query at a
// time: retry with exponential backoff on rate-limit class errors, advance
// to the next provider on exhaustion or permanent failure, stop on the
// first run that completes. It never mutates the provider list.
type Orchestrator struct {
	maxRetries   int
	baseDelay    time.Duration
	awaitTimeout time.Duration
	log          *logger.Logger
	onAttempt    func(AttemptOutcome)

	// sleep is swapped out in tests to observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxRetries sets the per-provider attempt budget for retryable
// failures.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithBaseDelay sets the starting backoff delay.
func WithBaseDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.baseDelay = d
		}
	}
}

// WithAwaitTimeout bounds each provider's poll-wait.
func WithAwaitTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.awaitTimeout = d
		}
	}
}

// WithAttemptObserver registers a callback invoked after every provider
// attempt, successful or not. Used for metrics.
func WithAttemptObserver(fn func(AttemptOutcome)) Option {
	return func(o *Orchestrator) {
		o.onAttempt = fn
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) {
		o.log = l
	}
}

// NewOrchestrator creates an Orchestrator with the given options.
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		maxRetries:   DefaultMaxRetries,
		baseDelay:    DefaultBaseDelay,
		awaitTimeout: DefaultAwaitTimeout,
		log:          logger.New("agent"),
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunResult is the outcome of one orchestrated query.
type RunResult struct {
	// Extracted is set on success.
	Extracted *ExtractedResult

	// Provider labels who satisfied (or last touched) the request. When a
	// later provider succeeded after earlier ones failed the label chains
	// them: "gemini->mistral".
	Provider string

	// Outcome is the terminal run outcome of the last attempted provider,
	// kept for diagnostics and clarification payloads.
	Outcome *RunOutcome

	// Err is nil on success. Soft failures (extraction, clarification)
	// and the aggregate exhausted error are reported here.
	Err *Error

	// Attempts records every provider attempt in order.
	Attempts []AttemptOutcome
}

// Execute runs the query against the candidates in order. Candidates come
// from Registry.Candidates, so preference narrowing has already happened.
func (o *Orchestrator) Execute(ctx context.Context, requestID, query string, candidates []Descriptor) *RunResult {
	result := &RunResult{}
	var attempted []string
	var lastErr error

	for _, d := range candidates {
		attempted = append(attempted, d.Name)

		outcome, attempts, err := o.tryProvider(ctx, requestID, d, query)
		result.Attempts = append(result.Attempts, attempts...)

		if err != nil {
			// A dead request context would fail every remaining provider
			// too; stop here and report the cancellation itself.
			if ctxErr := ctx.Err(); ctxErr != nil {
				result.Provider = strings.Join(attempted, "->")
				result.Err = WrapError(d.Name, Classify(ctxErr), ctxErr)
				return result
			}
			lastErr = err
			o.log.Warn(requestID, "provider failed, advancing", map[string]any{
				"provider": d.Name,
				"kind":     string(Classify(err)),
				"error":    err.Error(),
			})
			continue
		}

		label := strings.Join(attempted, "->")
		result.Provider = label
		result.Outcome = outcome

		switch outcome.State {
		case StateClarification:
			// The run did not fail; falling back would discard the
			// provider's question. Surface it to the caller instead.
			result.Err = NewError(d.Name, KindClarification,
				"run paused waiting for user clarification")
			return result

		default: // StateComplete
			extracted, exErr := Extract(outcome)
			if exErr != nil {
				// Soft failure: the run succeeded but yielded no text.
				// Never advance silently past a successful run.
				result.Err = NewError(d.Name, KindExtraction, exErr.Error())
				return result
			}
			o.log.Info(requestID, "query satisfied", map[string]any{
				"provider":   label,
				"tools_used": extracted.ToolsUsed,
			})
			result.Extracted = extracted
			return result
		}
	}

	detail := "no providers available"
	if lastErr != nil {
		detail = lastErr.Error()
	}
	result.Provider = strings.Join(attempted, "->")
	result.Err = &Error{
		Kind: KindExhausted,
		Message: fmt.Sprintf("all providers failed (%s); last error: %s",
			strings.Join(attempted, ", "), detail),
		Cause: lastErr,
	}
	return result
}

// tryProvider submits and awaits one provider, retrying rate-limited and
// transient failures with exponential backoff. It returns a nil error only
// for COMPLETE or NEED_CLARIFICATION terminal states.
func (o *Orchestrator) tryProvider(ctx context.Context, requestID string, d Descriptor, query string) (*RunOutcome, []AttemptOutcome, error) {
	var attempts []AttemptOutcome
	var lastErr error

	for attempt := 0; attempt < o.maxRetries; attempt++ {
		start := time.Now()
		outcome, err := o.runOnce(ctx, d, query)
		elapsed := time.Since(start)

		if err == nil {
			switch outcome.State {
			case StateComplete, StateClarification:
				record := AttemptOutcome{Provider: d.Name, Success: true, Elapsed: elapsed}
				attempts = append(attempts, record)
				o.observe(record)
				return outcome, attempts, nil
			case StateCancelled:
				err = NewError(d.Name, KindPermanent, "run was cancelled")
			default: // StateFailed
				err = runError(d.Name, outcome)
			}
		}

		kind := Classify(err)
		record := AttemptOutcome{Provider: d.Name, Kind: kind, Elapsed: elapsed, Err: err}
		attempts = append(attempts, record)
		o.observe(record)
		lastErr = err

		if kind != KindRateLimited && kind != KindTransient {
			break
		}
		if attempt == o.maxRetries-1 {
			break
		}

		delay := o.baseDelay << attempt
		o.log.Info(requestID, "retrying after backoff", map[string]any{
			"provider": d.Name,
			"attempt":  attempt + 1,
			"delay_ms": delay.Milliseconds(),
			"kind":     string(kind),
		})
		if sleepErr := o.sleep(ctx, delay); sleepErr != nil {
			return nil, attempts, sleepErr
		}
	}

	return nil, attempts, lastErr
}

func (o *Orchestrator) runOnce(ctx context.Context, d Descriptor, query string) (*RunOutcome, error) {
	handle, err := d.Client.Submit(ctx, query)
	if err != nil {
		return nil, err
	}
	return d.Client.AwaitCompletion(ctx, handle, o.awaitTimeout)
}

func (o *Orchestrator) observe(a AttemptOutcome) {
	if o.onAttempt != nil {
		o.onAttempt(a)
	}
}

// runError builds the error for a terminally FAILED run from whatever
// detail the payload carries.
func runError(provider string, outcome *RunOutcome) error {
	message := "run ended in FAILED state"
	if outcome.Payload != nil && outcome.Payload.Error != "" {
		message = outcome.Payload.Error
	}
	return &Error{Provider: provider, Kind: Classify(fmt.Errorf("%s", message)), Message: message}
}
