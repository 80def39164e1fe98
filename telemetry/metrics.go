// Copyright 2025-2026 The livecap Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry provides the Prometheus metrics of the recorder
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// ActiveSessions current number of active capture sessions per kind
	ActiveSessions *prometheus.GaugeVec
	// SegmentsCut number of finalized media segments per kind
	SegmentsCut prometheus.Counter
	// CaptureFailures number of capture sessions ending in a fatal error
	CaptureFailures *prometheus.CounterVec
	// CaptureRestarts number of supervisor-driven capture restarts
	CaptureRestarts prometheus.Counter
	// CoordinationMessages number of coordination messages handled, per action
	// and direction
	CoordinationMessages *prometheus.CounterVec
	// EventsDropped number of comment events dropped on a full queue
	EventsDropped prometheus.Counter
	// StopWaitOutcomes number of cross-replica stop waits, per outcome
	StopWaitOutcomes *prometheus.CounterVec
)

// Init registers metrics (idempotent)
func Init() {
	once.Do(func() {
		ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livecap_active_sessions",
			Help: "Current number of active capture sessions",
		}, []string{"kind"})
		SegmentsCut = promauto.NewCounter(prometheus.CounterOpts{
			Name: "livecap_segments_cut_total",
			Help: "Number of finalized media segments",
		})
		CaptureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "livecap_capture_failures_total",
			Help: "Number of capture sessions ending in a fatal error",
		}, []string{"kind"})
		CaptureRestarts = promauto.NewCounter(prometheus.CounterOpts{
			Name: "livecap_capture_restarts_total",
			Help: "Number of capture loop restarts after a transport disconnect",
		})
		CoordinationMessages = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "livecap_coordination_messages_total",
			Help: "Number of coordination messages handled",
		}, []string{"action", "direction"})
		EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
			Name: "livecap_events_dropped_total",
			Help: "Number of comment events dropped on a full queue",
		})
		StopWaitOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "livecap_stop_wait_outcomes_total",
			Help: "Number of cross-replica stop waits by outcome",
		}, []string{"outcome"})
	})
}

// SetActiveSessions records the current session count of one kind
func SetActiveSessions(kind string, count int) {
	if ActiveSessions != nil {
		ActiveSessions.WithLabelValues(kind).Set(float64(count))
	}
}

// RecordCoordinationMessage counts one handled coordination message
func RecordCoordinationMessage(action, direction string) {
	if CoordinationMessages != nil {
		CoordinationMessages.WithLabelValues(action, direction).Inc()
	}
}

// RecordCaptureFailure counts one capture session ending in a fatal error
func RecordCaptureFailure(kind string) {
	if CaptureFailures != nil {
		CaptureFailures.WithLabelValues(kind).Inc()
	}
}

// RecordCaptureRestart counts one supervisor-driven capture restart
func RecordCaptureRestart() {
	if CaptureRestarts != nil {
		CaptureRestarts.Inc()
	}
}

// RecordStopWaitOutcome counts one cross-replica stop wait outcome
func RecordStopWaitOutcome(outcome string) {
	if StopWaitOutcomes != nil {
		StopWaitOutcomes.WithLabelValues(outcome).Inc()
	}
}
