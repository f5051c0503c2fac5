// Package atmetrics exposes the Prometheus collectors ActionTrace registers
// for its own operation: ingestion throughput, store occupancy, sampling
// decisions, and persistence health.
package atmetrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	EventsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actiontrace_events_recorded_total",
			Help: "Total number of events accepted into the store",
		},
		[]string{"event_type"},
	)

	EventsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actiontrace_events_rejected_total",
			Help: "Total number of events rejected before recording",
		},
		[]string{"event_type", "reason"}, // reason: filtered|importance|quarantined
	)

	EventsMergedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actiontrace_events_merged_total",
			Help: "Total number of events merged into an existing event",
		},
		[]string{"event_type"},
	)

	EventsEvictedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actiontrace_events_evicted_total",
			Help: "Total number of events evicted from the ring buffer",
		},
		[]string{"event_type"},
	)

	EventsDehydratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actiontrace_events_dehydrated_total",
			Help: "Total number of events demoted from hot to cold storage",
		},
		[]string{"event_type"},
	)

	StoreOccupancy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "actiontrace_store_occupancy",
			Help: "Current number of events held by the store",
		},
		[]string{"tier"}, // hot|cold
	)

	StoreMemoryBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "actiontrace_store_memory_bytes_estimated",
		Help: "Estimated in-memory footprint of the event store",
	})

	StoreQuarantined = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "actiontrace_store_quarantined",
		Help: "1 if the store is in quarantine (read-only) mode, 0 otherwise",
	})

	SamplingDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actiontrace_sampling_decisions_total",
			Help: "Sampling middleware decisions",
		},
		[]string{"mode", "decision"}, // decision: pass|suppress|coalesced|cap_evicted_recorded|cap_evicted_dropped|flushed
	)

	SamplingPendingSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "actiontrace_sampling_pending_size",
		Help: "Current number of entries held by the sampling pending map",
	})

	FilterDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actiontrace_filter_decisions_total",
			Help: "Filter rule evaluation outcomes",
		},
		[]string{"action"}, // allow|block
	)

	CapturePointHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "actiontrace_capture_point_health",
			Help: "Capture point health (1 = healthy, 0 = failed init/shutdown)",
		},
		[]string{"capture_point"},
	)

	CaptureEventsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actiontrace_capture_events_emitted_total",
			Help: "Total events emitted by each capture point",
		},
		[]string{"capture_point"},
	)

	PersistenceSaveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "actiontrace_persistence_save_duration_seconds",
		Help:    "Time spent writing a snapshot to disk",
		Buckets: prometheus.DefBuckets,
	})

	PersistenceSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actiontrace_persistence_saves_total",
			Help: "Total snapshot save attempts",
		},
		[]string{"status"}, // success|failure
	)

	PersistenceLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actiontrace_persistence_loads_total",
			Help: "Total snapshot load attempts",
		},
		[]string{"status"}, // success|failure|migrated
	)

	SchedulerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "actiontrace_scheduler_job_duration_seconds",
			Help:    "Time spent executing a scheduled job",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"job"},
	)

	ProbeInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actiontrace_probe_invocations_total",
			Help: "Total bounded-subprocess probe invocations",
		},
		[]string{"probe", "status"}, // status: ok|timeout|error|circuit_open
	)

	ProbeCircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "actiontrace_probe_circuit_state",
			Help: "Circuit breaker state per probe (0=closed, 1=half-open, 2=open)",
		},
		[]string{"probe"},
	)
)

// Server exposes the /metrics and /healthz endpoints on a dedicated listener,
// mirroring the teacher's metrics server shape.
type Server struct {
	server    *http.Server
	logger    *logrus.Logger
	startOnce sync.Once
}

// NewServer builds a metrics HTTP server. Collectors above are registered
// via promauto at package init; each Server's startOnce only guards its
// own listener.
func NewServer(addr string, logger *logrus.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &Server{
		server: &http.Server{Addr: addr, Handler: mux},
		logger: logger,
	}
}

// Start launches the listener in a background goroutine. Safe to call once
// per Server; a second call is a no-op.
func (s *Server) Start() {
	s.startOnce.Do(func() {
		go func() {
			if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.WithError(err).Error("metrics server exited")
			}
		}()
	})
}

// Stop gracefully closes the listener.
func (s *Server) Stop() error {
	s.logger.Info("stopping metrics server")
	return s.server.Close()
}

// RecordSchedulerJob is a small helper mirroring the teacher's
// RecordProcessingDuration pattern.
func RecordSchedulerJob(job string, d time.Duration) {
	SchedulerJobDuration.WithLabelValues(job).Observe(d.Seconds())
}
