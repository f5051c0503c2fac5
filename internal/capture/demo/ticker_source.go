// Package demo provides one illustrative in-process capture point used
// only by the demo binary and integration tests. It stands in for an
// external editor's hierarchy/property/selection hooks, which this
// module never has access to directly.
package demo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"actiontrace/internal/capture"
	"actiontrace/internal/filter"
	"actiontrace/internal/sampling"
	"actiontrace/pkg/types"

	"github.com/sirupsen/logrus"
)

// eventTypes cycles through a few representative event types so a
// demo run exercises every sampling strategy's default mapping.
var eventTypes = []string{"HierarchyChanged", "SelectionChanged", "PropertyModified"}

// Recorder is the subset of the store a capture point writes to.
type Recorder interface {
	Record(event types.Event) int64
}

// TickerSource synthesizes events on a fixed interval to exercise the
// filter, sampling, and store pipeline end to end without a real editor
// attached. It is not meant to represent any specific external tool.
type TickerSource struct {
	interval time.Duration
	filter   *filter.Engine
	sampling *sampling.Middleware
	recorder Recorder
	logger   *logrus.Logger

	enabled bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	counter        int64
	captured       int64
	filteredCount  int64
	sampledCount   int64
	captureTimeNs  int64
	errorCount     int64
}

// NewTickerSource builds a demo capture point ticking at interval,
// routing admitted events through f and m before recorder.Record.
func NewTickerSource(interval time.Duration, f *filter.Engine, m *sampling.Middleware, recorder Recorder, logger *logrus.Logger) *TickerSource {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TickerSource{
		interval: interval,
		filter:   f,
		sampling: m,
		recorder: recorder,
		logger:   logger,
		enabled:  true,
	}
}

func (t *TickerSource) ID() string                 { return "demo.ticker" }
func (t *TickerSource) Description() string         { return "synthetic event generator for demo/integration runs" }
func (t *TickerSource) InitializationPriority() int { return 0 }
func (t *TickerSource) Enabled() bool               { return t.enabled }

// Initialize starts the background ticker goroutine.
func (t *TickerSource) Initialize(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go t.run(runCtx)
	return nil
}

// Shutdown stops the ticker and waits for the goroutine to exit.
func (t *TickerSource) Shutdown() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	return nil
}

func (t *TickerSource) run(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.emit(now)
		}
	}
}

func (t *TickerSource) emit(now time.Time) {
	start := time.Now()
	n := atomic.AddInt64(&t.counter, 1)
	eventType := eventTypes[int(n)%len(eventTypes)]
	targetID := fmt.Sprintf("Demo/Object%d", n%5)

	decision := t.filter.Evaluate(targetID)
	if !decision.Allowed {
		atomic.AddInt64(&t.filteredCount, 1)
		return
	}

	event, warnings := types.NewEvent(eventType, targetID, now.UnixMilli(), map[string]interface{}{
		"tick": n,
	})
	for _, w := range warnings {
		t.logger.WithField("warning", w).Debug("demo event payload sanitized")
	}

	if t.sampling != nil && !t.sampling.Admit(event) {
		atomic.AddInt64(&t.sampledCount, 1)
		return
	}

	if t.recorder.Record(event) < 0 {
		atomic.AddInt64(&t.errorCount, 1)
		return
	}

	atomic.AddInt64(&t.captured, 1)
	atomic.AddInt64(&t.captureTimeNs, time.Since(start).Nanoseconds())
}

// Stats implements capture.CapturePoint.
func (t *TickerSource) Stats() capture.Stats {
	return capture.Stats{
		TotalCaptured:      atomic.LoadInt64(&t.captured),
		Filtered:           atomic.LoadInt64(&t.filteredCount),
		Sampled:            atomic.LoadInt64(&t.sampledCount),
		TotalCaptureTimeMs: atomic.LoadInt64(&t.captureTimeNs) / int64(time.Millisecond),
		ErrorCount:         atomic.LoadInt64(&t.errorCount),
	}
}
