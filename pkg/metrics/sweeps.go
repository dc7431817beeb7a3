package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SweepJobMetrics records duration and outcome counters for reconciliation
// sweeps.
type SweepJobMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
	reaped   *prometheus.CounterVec
}

// NewSweepJobMetrics registers the sweep metrics on the provided registerer.
func NewSweepJobMetrics(reg prometheus.Registerer) *SweepJobMetrics {
	if reg == nil {
		return &SweepJobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sweep_duration_seconds",
		Help:    "Duration of reconciliation sweeps in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"sweep"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_success",
		Help: "Successful sweep executions.",
	}, []string{"sweep"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_failure",
		Help: "Failed sweep executions.",
	}, []string{"sweep"})
	reaped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_pools_reaped",
		Help: "License pools zeroed because the vendor dropped their identifiers.",
	}, []string{"sweep"})
	reg.MustRegister(duration, success, failure, reaped)
	return &SweepJobMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
		reaped:   reaped,
	}
}

// ObserveDuration records the duration for the named sweep.
func (s *SweepJobMetrics) ObserveDuration(sweep string, duration time.Duration) {
	if s == nil || s.duration == nil {
		return
	}
	s.duration.WithLabelValues(normalizeLabel(sweep)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named sweep.
func (s *SweepJobMetrics) IncSuccess(sweep string) {
	if s == nil || s.success == nil {
		return
	}
	s.success.WithLabelValues(normalizeLabel(sweep)).Inc()
}

// IncFailure increments the failure counter for the named sweep.
func (s *SweepJobMetrics) IncFailure(sweep string) {
	if s == nil || s.failure == nil {
		return
	}
	s.failure.WithLabelValues(normalizeLabel(sweep)).Inc()
}

// AddReaped counts pools zeroed by a reaping sweep.
func (s *SweepJobMetrics) AddReaped(sweep string, count int64) {
	if s == nil || s.reaped == nil || count <= 0 {
		return
	}
	s.reaped.WithLabelValues(normalizeLabel(sweep)).Add(float64(count))
}

func normalizeLabel(sweep string) string {
	if sweep == "" {
		return "unknown"
	}
	return sweep
}
