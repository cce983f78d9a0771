// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package prometheus

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/canonical/membership-service/internal/logging"
	"github.com/canonical/membership-service/internal/monitoring"
)

var _ monitoring.MonitorInterface = (*Monitor)(nil)

type Monitor struct {
	service string

	responseTime *prometheus.HistogramVec
	dependencies *prometheus.GaugeVec
	counters     map[string]*prometheus.CounterVec

	logger logging.LoggerInterface
}

func (m *Monitor) GetService() string {
	return m.service
}

func (m *Monitor) SetResponseTimeMetric(tags map[string]string, value float64) error {
	if m.responseTime == nil {
		return fmt.Errorf("metric not instantiated")
	}

	m.responseTime.With(tags).Observe(value)

	return nil
}

func (m *Monitor) SetDependencyAvailability(tags map[string]string, value float64) error {
	if m.dependencies == nil {
		return fmt.Errorf("metric not instantiated")
	}

	m.dependencies.With(tags).Set(value)

	return nil
}

func (m *Monitor) IncCounter(name string, tags map[string]string) error {
	c, ok := m.counters[name]
	if !ok {
		return fmt.Errorf("counter %q not registered", name)
	}

	c.With(tags).Inc()

	return nil
}

func (m *Monitor) registerHistograms() {
	m.responseTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "http_response_time_seconds",
			Help:        "http_response_time_seconds",
			ConstLabels: prometheus.Labels{"service": m.service},
		},
		[]string{"route", "status"},
	)

	m.responseTime = register(m, m.responseTime)
}

func (m *Monitor) registerGauges() {
	m.dependencies = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "dependency_available",
			Help:        "dependency_available",
			ConstLabels: prometheus.Labels{"service": m.service},
		},
		[]string{"component"},
	)

	m.dependencies = register(m, m.dependencies)
}

func (m *Monitor) registerCounters() {
	m.counters = map[string]*prometheus.CounterVec{
		"membership_conflict_retries_total": prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "membership_conflict_retries_total",
				Help:        "optimistic concurrency retries on organization updates",
				ConstLabels: prometheus.Labels{"service": m.service},
			},
			[]string{"operation"},
		),
		"invite_cleanup_failures_total": prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "invite_cleanup_failures_total",
				Help:        "invites left behind during organization deletion",
				ConstLabels: prometheus.Labels{"service": m.service},
			},
			[]string{},
		),
		"notifications_dropped_total": prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "notifications_dropped_total",
				Help:        "notifications that could not be handed off",
				ConstLabels: prometheus.Labels{"service": m.service},
			},
			[]string{"kind"},
		),
	}

	for name, c := range m.counters {
		m.counters[name] = register(m, c)
	}
}

// register returns the collector already known to the default registry when there is one.
func register[T prometheus.Collector](m *Monitor, c T) T {
	err := prometheus.Register(c)
	if err == nil {
		return c
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}

	m.logger.Errorf("failed to register metric: %v", err)
	return c
}

func NewMonitor(service string, logger logging.LoggerInterface) *Monitor {
	m := new(Monitor)

	m.service = service
	m.logger = logger

	m.registerHistograms()
	m.registerGauges()
	m.registerCounters()

	return m
}
