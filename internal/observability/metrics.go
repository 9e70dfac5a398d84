// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Call kinds recorded by the plugin runtime.
const (
	KindFunction = "function"
	KindCallback = "callback"
	KindDrop     = "drop"
	KindHost     = "host"
	KindLoad     = "load"
)

// Metrics holds the plugin runtime's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	CallsTotal        *prometheus.CounterVec
	CallDuration      *prometheus.HistogramVec
	Instances         prometheus.Gauge
	LiveCallbacks     prometheus.Gauge
	CapabilityDenials *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nvimwasm_calls_total",
				Help: "Total number of plugin boundary calls by kind and status",
			},
			[]string{"kind", "status"},
		),
		CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nvimwasm_call_duration_seconds",
				Help:    "Duration of plugin boundary calls by kind",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"kind"},
		),
		Instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nvimwasm_instances",
			Help: "Number of loaded plugin instances",
		}),
		LiveCallbacks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nvimwasm_callback_handles",
			Help: "Number of live callback handle registrations",
		}),
		CapabilityDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nvimwasm_capability_denials_total",
				Help: "Host function calls refused for lack of a capability grant",
			},
			[]string{"function"},
		),
	}

	reg.MustRegister(m.CallsTotal, m.CallDuration, m.Instances, m.LiveCallbacks, m.CapabilityDenials)
	return m
}

// ObserveCall records one call outcome.
func (m *Metrics) ObserveCall(kind string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CallsTotal.WithLabelValues(kind, status).Inc()
	m.CallDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// SetInstances records the number of loaded instances.
func (m *Metrics) SetInstances(n int) {
	if m == nil {
		return
	}
	m.Instances.Set(float64(n))
}

// SetLiveCallbacks records the number of live callback registrations.
func (m *Metrics) SetLiveCallbacks(n int64) {
	if m == nil {
		return
	}
	m.LiveCallbacks.Set(float64(n))
}

// RecordDenial counts a refused host function call.
func (m *Metrics) RecordDenial(function string) {
	if m == nil {
		return
	}
	m.CapabilityDenials.WithLabelValues(function).Inc()
}
