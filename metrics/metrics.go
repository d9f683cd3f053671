// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package metrics tracks per-node cumulative counters and rolling
// averages, and exposes them both via the GetMetrics wire operation (§6,
// §4.8) and as Prometheus counters/gauges on a /metrics endpoint.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is the content of a GetMetrics response (§6).
type Snapshot struct {
	ProcessID         string  `json:"process_id"`
	Role              string  `json:"role"`
	Team              string  `json:"team"`
	ActiveRequests    int64   `json:"active_requests"`
	QueueSize         int64   `json:"queue_size"`
	AvgProcessingMs   float64 `json:"avg_processing_time_ms"`
	DataFilesLoaded   int64   `json:"data_files_loaded"`
	IsHealthy         bool    `json:"is_healthy"`
}

// Tracker holds one node's counters. Cumulative counts use atomic
// increments (§9: "atomic integers for counters"); the rolling averages
// use a short mutex, matching §4.8's "best-effort lock-free where
// possible" guidance.
type Tracker struct {
	processID string
	role      string
	team      string

	admitted  atomic.Int64
	rejected  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	active    atomic.Int64
	files     atomic.Int64

	mu          sync.Mutex
	scanSamples int64
	scanTotalMs float64
	e2eSamples  int64
	e2eTotalMs  float64

	admittedCounter  prometheus.Counter
	rejectedCounter  prometheus.Counter
	completedCounter prometheus.Counter
	failedCounter    prometheus.Counter
	activeGauge      prometheus.Gauge
}

// New creates a Tracker for one node and registers its Prometheus
// collectors against reg. A nil registry disables Prometheus registration
// (used by tests that do not want to share the default registry).
func New(processID, role, team string, reg prometheus.Registerer) *Tracker {
	labels := prometheus.Labels{"process_id": processID}
	t := &Tracker{
		processID: processID,
		role:      role,
		team:      team,
		admittedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlay_queries_admitted_total", Help: "Admitted queries.", ConstLabels: labels,
		}),
		rejectedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlay_queries_rejected_total", Help: "Rejected (capacity exhausted) queries.", ConstLabels: labels,
		}),
		completedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlay_queries_completed_total", Help: "Queries published successfully.", ConstLabels: labels,
		}),
		failedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlay_queries_failed_total", Help: "Queries that failed at this node.", ConstLabels: labels,
		}),
		activeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overlay_queries_active", Help: "Currently in-flight queries.", ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(t.admittedCounter, t.rejectedCounter, t.completedCounter, t.failedCounter, t.activeGauge)
	}
	return t
}

func (t *Tracker) Admitted() {
	t.admitted.Add(1)
	t.active.Add(1)
	t.admittedCounter.Inc()
	t.activeGauge.Inc()
}

func (t *Tracker) Rejected() {
	t.rejected.Add(1)
	t.rejectedCounter.Inc()
}

// Released must run on every exit path once a query that was admitted
// leaves the node, whether it completed or failed (§4.1 "release").
func (t *Tracker) Released(success bool) {
	t.active.Add(-1)
	t.activeGauge.Dec()
	if success {
		t.completed.Add(1)
		t.completedCounter.Inc()
	} else {
		t.failed.Add(1)
		t.failedCounter.Inc()
	}
}

func (t *Tracker) ObserveScan(d time.Duration) {
	t.mu.Lock()
	t.scanSamples++
	t.scanTotalMs += float64(d.Microseconds()) / 1000.0
	t.mu.Unlock()
}

func (t *Tracker) ObserveEndToEnd(d time.Duration) {
	t.mu.Lock()
	t.e2eSamples++
	t.e2eTotalMs += float64(d.Microseconds()) / 1000.0
	t.mu.Unlock()
}

func (t *Tracker) SetFilesLoaded(n int) { t.files.Store(int64(n)) }

// avgProcessingMs is the rolling average end-to-end duration in
// milliseconds, per §4.8.
func (t *Tracker) avgProcessingMs() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.e2eSamples == 0 {
		return 0
	}
	return t.e2eTotalMs / float64(t.e2eSamples)
}

// AvgScanMs is the rolling average local-scan duration in milliseconds.
func (t *Tracker) AvgScanMs() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scanSamples == 0 {
		return 0
	}
	return t.scanTotalMs / float64(t.scanSamples)
}

// Snapshot returns the current GetMetrics payload (§6).
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		ProcessID:       t.processID,
		Role:            t.role,
		Team:            t.team,
		ActiveRequests:  t.active.Load(),
		QueueSize:       0, // always 0 in this design, per §6
		AvgProcessingMs: t.avgProcessingMs(),
		DataFilesLoaded: t.files.Load(),
		IsHealthy:       true,
	}
}

// LoadFactor returns active_requests/max_capacity for this node. The
// capacity forwarding strategy does not call it: it sorts neighbors by the
// active_requests each one reports through GetMetrics (see
// orchestrator/loadhints.go).
func (t *Tracker) LoadFactor(maxCapacity int64) float64 {
	if maxCapacity <= 0 {
		return 0
	}
	return float64(t.active.Load()) / float64(maxCapacity)
}
