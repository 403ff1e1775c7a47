// HeartLink Core
// Copyright (c) 2025 The HeartLink Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of HeartLink Core.
//
// HeartLink Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// HeartLink Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with HeartLink Core.  If not, see <http://www.gnu.org/licenses/>.

// Package metrics exposes relay counters in the Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "heartlink"

// Metrics owns its registry so several instances can coexist in tests. All
// methods are no-ops on a nil receiver.
type Metrics struct {
	registry          *prometheus.Registry
	readingsTotal     prometheus.Counter
	malformedTotal    prometheus.Counter
	heartRateRejected prometheus.Counter
	throttledTotal    prometheus.Counter
	droppedTotal      prometheus.Counter
	subscribers       prometheus.Gauge
	lastHeartRate     prometheus.Gauge
	linkState         *prometheus.GaugeVec
	connectFailures   prometheus.Counter
	linkErrors        prometheus.Counter
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	publishErrors     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		readingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Readings accepted from the serial link.",
		}),
		malformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_lines_total",
			Help:      "Serial lines dropped because they could not be parsed.",
		}),
		heartRateRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heart_rate_rejected_total",
			Help:      "Heart rate values outside the plausible range.",
		}),
		throttledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_throttled_total",
			Help:      "Readings stored but not broadcast because of the throttle interval.",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_dropped_events_total",
			Help:      "Events discarded from full subscriber queues.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Live stream subscribers.",
		}),
		lastHeartRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heart_rate_bpm",
			Help:      "Last accepted heart rate.",
		}),
		linkState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_state",
			Help:      "Serial link state, 1 for the current state and 0 otherwise.",
		}, []string{"state"}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_connect_failures_total",
			Help:      "Connect cycles that exhausted every attempt.",
		}),
		linkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_errors_total",
			Help:      "Serial link drops after a successful connect.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed publishes to external sinks.",
		}, []string{"sink"}),
	}

	m.registry.MustRegister(
		m.readingsTotal,
		m.malformedTotal,
		m.heartRateRejected,
		m.throttledTotal,
		m.droppedTotal,
		m.subscribers,
		m.lastHeartRate,
		m.linkState,
		m.connectFailures,
		m.linkErrors,
		m.httpRequestsTotal,
		m.httpDuration,
		m.publishErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler records request counts and durations for route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) ReadingAccepted(heartRate float64) {
	if m == nil {
		return
	}
	m.readingsTotal.Inc()
	if heartRate > 0 {
		m.lastHeartRate.Set(heartRate)
	}
}

func (m *Metrics) MalformedLine() {
	if m == nil {
		return
	}
	m.malformedTotal.Inc()
}

func (m *Metrics) HeartRateRejected() {
	if m == nil {
		return
	}
	m.heartRateRejected.Inc()
}

func (m *Metrics) Throttled() {
	if m == nil {
		return
	}
	m.throttledTotal.Inc()
}

func (m *Metrics) EventsDropped(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.droppedTotal.Add(float64(n))
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

// SetLinkState marks current as the active state out of all.
func (m *Metrics) SetLinkState(current string, all ...string) {
	if m == nil {
		return
	}
	for _, s := range all {
		m.linkState.WithLabelValues(s).Set(0)
	}
	m.linkState.WithLabelValues(current).Set(1)
}

func (m *Metrics) ConnectFailed() {
	if m == nil {
		return
	}
	m.connectFailures.Inc()
}

func (m *Metrics) LinkError() {
	if m == nil {
		return
	}
	m.linkErrors.Inc()
}

func (m *Metrics) PublishError(sink string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(sink).Inc()
}
