// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes Prometheus instrumentation for job execution and
// the HTTP surface.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsSubmitted counts accepted job submissions by execution mode.
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weaver",
		Name:      "jobs_submitted_total",
		Help:      "Accepted job submissions by execution mode.",
	}, []string{"mode"})

	// JobsCompleted counts terminal job transitions by final status.
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weaver",
		Name:      "jobs_completed_total",
		Help:      "Jobs reaching a terminal status.",
	}, []string{"status"})

	// JobDuration observes wall-clock job duration by final status.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "weaver",
		Name:      "job_duration_seconds",
		Help:      "Wall-clock job duration.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
	}, []string{"status"})

	// QueueDepth tracks tasks waiting for a worker.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "weaver",
		Name:      "task_queue_depth",
		Help:      "Tasks waiting for a worker.",
	})

	// RemoteDispatches counts remote executions by dispatcher protocol.
	RemoteDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weaver",
		Name:      "remote_dispatches_total",
		Help:      "Remote executions by dispatcher protocol.",
	}, []string{"protocol"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
