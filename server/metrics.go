// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ADML003/Nexus-AgentHack/agent"
)

// Prometheus metrics
var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_queries_total",
			Help: "Total number of queries processed",
		},
		[]string{"status", "provider"},
	)

	queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexus_query_duration_seconds",
			Help:    "End-to-end query latency in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	providerAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_provider_attempts_total",
			Help: "Provider attempts by outcome, including retries",
		},
		[]string{"provider", "outcome"},
	)

	providerAttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexus_provider_attempt_duration_seconds",
			Help:    "Single provider attempt latency in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(queriesTotal)
	prometheus.MustRegister(queryDuration)
	prometheus.MustRegister(providerAttemptsTotal)
	prometheus.MustRegister(providerAttemptDuration)
}

// observeAttempt is the orchestrator's attempt hook.
func observeAttempt(a agent.AttemptOutcome) {
	outcome := "success"
	if !a.Success {
		outcome = string(a.Kind)
	}
	providerAttemptsTotal.WithLabelValues(a.Provider, outcome).Inc()
	providerAttemptDuration.WithLabelValues(a.Provider).Observe(a.Elapsed.Seconds())
}

// counters keeps a process-local tally for the JSON metrics endpoint,
// alongside the Prometheus registry.
type counters struct {
	mu         sync.Mutex
	total      int64
	succeeded  int64
	failed     int64
	byProvider map[string]int64
	byKind     map[string]int64
}

func newCounters() *counters {
	return &counters{
		byProvider: make(map[string]int64),
		byKind:     make(map[string]int64),
	}
}

func (c *counters) record(outcome *agent.QueryOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	if outcome.Success {
		c.succeeded++
		if outcome.ProviderUsed != "" {
			c.byProvider[outcome.ProviderUsed]++
		}
		return
	}
	c.failed++
	if outcome.ErrorKind != "" {
		c.byKind[string(outcome.ErrorKind)]++
	}
}

// metricsSnapshot is the JSON metrics payload.
type metricsSnapshot struct {
	TotalQueries      int64            `json:"total_queries"`
	Succeeded         int64            `json:"succeeded"`
	Failed            int64            `json:"failed"`
	QueriesByProvider map[string]int64 `json:"queries_by_provider"`
	FailuresByKind    map[string]int64 `json:"failures_by_kind"`
	UptimeSeconds     float64          `json:"uptime_seconds"`
}

func (c *counters) snapshot() metricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := metricsSnapshot{
		TotalQueries:      c.total,
		Succeeded:         c.succeeded,
		Failed:            c.failed,
		QueriesByProvider: make(map[string]int64, len(c.byProvider)),
		FailuresByKind:    make(map[string]int64, len(c.byKind)),
	}
	for k, v := range c.byProvider {
		snap.QueriesByProvider[k] = v
	}
	for k, v := range c.byKind {
		snap.FailuresByKind[k] = v
	}
	return snap
}
