/*
Copyright 2017 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics registers and exposes the Prometheus collectors the
// engine updates over a reconciliation pass's lifetime.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// ProviderStatus mirrors the connected/disconnected/error tri-state
// dns_reconciler_provider_status reports.
type ProviderStatus float64

const (
	ProviderStatusDisconnected ProviderStatus = 0
	ProviderStatusConnected    ProviderStatus = 1
	ProviderStatusError        ProviderStatus = 2
)

// Metrics holds every collector the reconciler, sweeper, cache, and
// tracker update, registered once at construction.
type Metrics struct {
	PassDuration    *prometheus.HistogramVec
	MutationsTotal  *prometheus.CounterVec
	ProviderErrors  *prometheus.CounterVec
	CacheAge        *prometheus.GaugeVec
	TrackedRecords  *prometheus.GaugeVec
	OrphanedRecords *prometheus.GaugeVec
	ProviderStatus  *prometheus.GaugeVec
	EventsDropped   prometheus.Gauge
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PassDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dns_reconciler_pass_duration_seconds",
			Help:    "Duration of a reconciliation pass, by result.",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
		MutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dns_reconciler_mutations_total",
			Help: "Count of provider mutations attempted, by provider, kind, and result.",
		}, []string{"provider", "kind", "result"}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dns_reconciler_provider_errors_total",
			Help: "Count of provider errors, by provider and error kind.",
		}, []string{"provider", "kind"}),
		CacheAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dns_reconciler_cache_age_seconds",
			Help: "Seconds since the record cache was last refreshed, by provider and zone.",
		}, []string{"provider", "zone"}),
		TrackedRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dns_reconciler_tracked_records",
			Help: "Count of fingerprints currently tracked, by provider.",
		}, []string{"provider"}),
		OrphanedRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dns_reconciler_orphaned_records",
			Help: "Count of tracked fingerprints currently orphaned, by provider.",
		}, []string{"provider"}),
		ProviderStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dns_reconciler_provider_status",
			Help: "Provider connectivity status: 0 disconnected, 1 connected, 2 error.",
		}, []string{"provider"}),
		EventsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dns_reconciler_events_dropped_total",
			Help: "Cumulative count of events dropped by the event bus because a subscriber's buffer was full.",
		}),
	}

	reg.MustRegister(
		m.PassDuration,
		m.MutationsTotal,
		m.ProviderErrors,
		m.CacheAge,
		m.TrackedRecords,
		m.OrphanedRecords,
		m.ProviderStatus,
		m.EventsDropped,
	)
	return m
}

// ObservePass records a pass's duration under the given result label
// ("ok" or "error").
func (m *Metrics) ObservePass(seconds float64, result string) {
	m.PassDuration.WithLabelValues(result).Observe(seconds)
}

// RecordMutation increments the mutation counter for one create/update/
// delete attempt.
func (m *Metrics) RecordMutation(provider, kind, result string) {
	m.MutationsTotal.WithLabelValues(provider, kind, result).Inc()
}

// RecordProviderError increments the provider error counter for one
// classified failure.
func (m *Metrics) RecordProviderError(provider, kind string) {
	m.ProviderErrors.WithLabelValues(provider, kind).Inc()
}

// SetCacheAge reports the current cache staleness for provider/zone.
func (m *Metrics) SetCacheAge(provider, zone string, seconds float64) {
	m.CacheAge.WithLabelValues(provider, zone).Set(seconds)
}

// SetTrackedRecords reports the current tracked-fingerprint count.
func (m *Metrics) SetTrackedRecords(provider string, count float64) {
	m.TrackedRecords.WithLabelValues(provider).Set(count)
}

// SetOrphanedRecords reports the current orphaned-fingerprint count.
func (m *Metrics) SetOrphanedRecords(provider string, count float64) {
	m.OrphanedRecords.WithLabelValues(provider).Set(count)
}

// SetProviderStatus reports the provider's current connectivity tri-state.
func (m *Metrics) SetProviderStatus(provider string, status ProviderStatus) {
	m.ProviderStatus.WithLabelValues(provider).Set(float64(status))
}

// SetEventsDropped syncs the exported gauge to the event bus's live
// dropped-event counter.
func (m *Metrics) SetEventsDropped(total float64) {
	m.EventsDropped.Set(total)
}
