package capture

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakePoint struct {
	id          string
	priority    int
	enabled     bool
	initErr     error
	shutdownErr error

	initialized int32
	shutdown    int32
	stats       Stats
}

func (f *fakePoint) ID() string                     { return f.id }
func (f *fakePoint) Description() string             { return f.id + " description" }
func (f *fakePoint) InitializationPriority() int     { return f.priority }
func (f *fakePoint) Enabled() bool                   { return f.enabled }
func (f *fakePoint) Stats() Stats                    { return f.stats }

func (f *fakePoint) Initialize(ctx context.Context) error {
	atomic.AddInt32(&f.initialized, 1)
	return f.initErr
}

func (f *fakePoint) Shutdown() error {
	atomic.AddInt32(&f.shutdown, 1)
	return f.shutdownErr
}

func TestRegistry_InitializesInDescendingPriorityOrder(t *testing.T) {
	var order []string
	mk := func(id string, priority int) *fakePoint {
		return &fakePoint{id: id, priority: priority, enabled: true}
	}
	low := mk("low", 1)
	high := mk("high", 10)
	mid := mk("mid", 5)

	r := NewRegistry(newTestLogger())
	r.Register(low)
	r.Register(high)
	r.Register(mid)

	r.InitializeAll(context.Background())

	active := r.active
	require.Len(t, active, 3)
	for _, p := range active {
		order = append(order, p.(*fakePoint).id)
	}
	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestRegistry_SkipsDisabledPoints(t *testing.T) {
	r := NewRegistry(newTestLogger())
	disabled := &fakePoint{id: "disabled", priority: 5, enabled: false}
	r.Register(disabled)

	r.InitializeAll(context.Background())

	assert.Equal(t, int32(0), atomic.LoadInt32(&disabled.initialized))
	assert.Empty(t, r.active)
}

func TestRegistry_IsolatesInitFailures(t *testing.T) {
	r := NewRegistry(newTestLogger())
	bad := &fakePoint{id: "bad", priority: 10, enabled: true, initErr: errors.New("boom")}
	good := &fakePoint{id: "good", priority: 1, enabled: true}
	r.Register(bad)
	r.Register(good)

	r.InitializeAll(context.Background())

	require.Len(t, r.active, 1)
	assert.Equal(t, "good", r.active[0].(*fakePoint).id)
}

func TestRegistry_ShutdownReachesEveryPointAndIsolatesErrors(t *testing.T) {
	a := &fakePoint{id: "a", priority: 10, enabled: true}
	b := &fakePoint{id: "b", priority: 5, enabled: true, shutdownErr: errors.New("fail")}
	c := &fakePoint{id: "c", priority: 1, enabled: true}

	r := NewRegistry(newTestLogger())
	r.Register(a)
	r.Register(b)
	r.Register(c)
	r.InitializeAll(context.Background())

	r.ShutdownAll()

	for _, p := range []*fakePoint{a, b, c} {
		assert.Equal(t, int32(1), atomic.LoadInt32(&p.shutdown))
	}
	assert.Empty(t, r.active)
}

func TestRegistry_AggregateStats(t *testing.T) {
	a := &fakePoint{id: "a", priority: 1, enabled: true, stats: Stats{TotalCaptured: 5, ErrorCount: 1}}
	r := NewRegistry(newTestLogger())
	r.Register(a)

	stats := r.AggregateStats()
	assert.Equal(t, Stats{TotalCaptured: 5, ErrorCount: 1}, stats["a"])
}

func TestRegistry_SummaryIncludesEachPoint(t *testing.T) {
	a := &fakePoint{id: "a", priority: 1, enabled: true}
	r := NewRegistry(newTestLogger())
	r.Register(a)

	summary := r.Summary()
	assert.Contains(t, summary, "a")
}
