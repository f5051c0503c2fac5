// Package capture defines the CapturePoint contract that a capture
// source implements and the priority-ordered registry that owns their
// lifecycle, adapted from the teacher's Monitor interface
// (Start/Stop/IsHealthy) down to the init/shutdown/stats shape this
// domain needs.
package capture

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// CapturePoint is one source of events feeding the store (a file watcher,
// an editor hook, a polling probe). Initialize/Shutdown bracket its
// lifecycle; a capture point records its own statistics so the registry
// can aggregate them without reaching into implementation details.
type CapturePoint interface {
	ID() string
	Description() string
	InitializationPriority() int
	Enabled() bool
	Initialize(ctx context.Context) error
	Shutdown() error
	Stats() Stats
}

// Stats mirrors the per-point counters spec.md calls out: how many
// events this point produced, how many were filtered or sampled away
// before reaching the store, how long captures took, and how many
// errors the point itself reported.
type Stats struct {
	TotalCaptured      int64
	Filtered           int64
	Sampled            int64
	TotalCaptureTimeMs int64
	ErrorCount         int64
}

// Registry owns a set of CapturePoints, initializing them in descending
// priority order and shutting them down in the reverse order. A failure
// initializing or shutting down one point is logged and isolated — it
// never prevents the remaining points from starting or stopping.
type Registry struct {
	logger *logrus.Logger

	mu     sync.Mutex
	points []CapturePoint
	active []CapturePoint // points that initialized successfully, in start order
}

// NewRegistry returns an empty Registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{logger: logger}
}

// Register adds p to the registry. Points are re-sorted by descending
// InitializationPriority (ties broken by ascending ID) on every call so
// registration order never matters, only declared priority.
func (r *Registry) Register(p CapturePoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, p)
	sort.SliceStable(r.points, func(i, j int) bool {
		pi, pj := r.points[i].InitializationPriority(), r.points[j].InitializationPriority()
		if pi != pj {
			return pi > pj
		}
		return r.points[i].ID() < r.points[j].ID()
	})
}

// InitializeAll initializes every enabled point in priority order.
// Disabled points are skipped entirely (no Initialize call, no
// statistics). A point whose Initialize returns an error is logged and
// excluded from the active set; subsequent points still run.
func (r *Registry) InitializeAll(ctx context.Context) {
	r.mu.Lock()
	points := append([]CapturePoint(nil), r.points...)
	r.mu.Unlock()

	var active []CapturePoint
	for _, p := range points {
		if !p.Enabled() {
			r.logger.WithField("capture_point", p.ID()).Debug("capture point disabled, skipping")
			continue
		}
		start := time.Now()
		if err := p.Initialize(ctx); err != nil {
			r.logger.WithError(err).WithField("capture_point", p.ID()).Error("capture point failed to initialize")
			continue
		}
		r.logger.WithFields(logrus.Fields{
			"capture_point": p.ID(),
			"priority":      p.InitializationPriority(),
			"elapsed_ms":    time.Since(start).Milliseconds(),
		}).Info("capture point initialized")
		active = append(active, p)
	}

	r.mu.Lock()
	r.active = active
	r.mu.Unlock()
}

// ShutdownAll shuts down every successfully initialized point in reverse
// start order. Errors are logged and isolated per point.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	active := append([]CapturePoint(nil), r.active...)
	r.active = nil
	r.mu.Unlock()

	for i := len(active) - 1; i >= 0; i-- {
		p := active[i]
		if err := p.Shutdown(); err != nil {
			r.logger.WithError(err).WithField("capture_point", p.ID()).Error("capture point failed to shut down cleanly")
		}
	}
}

// AggregateStats returns each registered point's Stats, keyed by ID.
func (r *Registry) AggregateStats() map[string]Stats {
	r.mu.Lock()
	points := append([]CapturePoint(nil), r.points...)
	r.mu.Unlock()

	out := make(map[string]Stats, len(points))
	for _, p := range points {
		out[p.ID()] = p.Stats()
	}
	return out
}

// Summary renders a one-line-per-point human-readable report, stable
// ordering by descending priority then ID.
func (r *Registry) Summary() string {
	r.mu.Lock()
	points := append([]CapturePoint(nil), r.points...)
	r.mu.Unlock()

	out := ""
	for _, p := range points {
		s := p.Stats()
		out += fmt.Sprintf("%-24s priority=%-4d enabled=%-5v captured=%-6d filtered=%-6d sampled=%-6d errors=%-4d\n",
			p.ID(), p.InitializationPriority(), p.Enabled(), s.TotalCaptured, s.Filtered, s.Sampled, s.ErrorCount)
	}
	return out
}
