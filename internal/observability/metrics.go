// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keyward/keyward/internal/auth"
)

// Metrics holds the keyward Prometheus collectors and implements
// auth.Recorder so the auth services can report into them.
type Metrics struct {
	LoginsTotal            *prometheus.CounterVec
	RegistrationsTotal     *prometheus.CounterVec
	SessionOperationsTotal *prometheus.CounterVec
	PasswordHashSeconds    *prometheus.HistogramVec
}

// NewMetrics creates the keyward metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyward_logins_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		RegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyward_registrations_total",
				Help: "Registration attempts by outcome",
			},
			[]string{"outcome"},
		),
		SessionOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyward_session_operations_total",
				Help: "Session manager operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		PasswordHashSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "keyward_password_hash_seconds",
				Help: "Time spent deriving password hashes, including semaphore wait",
				// 5ms .. ~10s
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"operation"},
		),
	}

	reg.MustRegister(
		m.LoginsTotal,
		m.RegistrationsTotal,
		m.SessionOperationsTotal,
		m.PasswordHashSeconds,
	)
	return m
}

// RecordLogin implements auth.Recorder.
func (m *Metrics) RecordLogin(outcome string) {
	m.LoginsTotal.WithLabelValues(outcome).Inc()
}

// RecordRegistration implements auth.Recorder.
func (m *Metrics) RecordRegistration(outcome string) {
	m.RegistrationsTotal.WithLabelValues(outcome).Inc()
}

// RecordSessionOperation implements auth.Recorder.
func (m *Metrics) RecordSessionOperation(operation, outcome string) {
	m.SessionOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObservePasswordHash implements auth.Recorder.
func (m *Metrics) ObservePasswordHash(operation string, d time.Duration) {
	m.PasswordHashSeconds.WithLabelValues(operation).Observe(d.Seconds())
}

var _ auth.Recorder = (*Metrics)(nil)
