package app

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"actiontrace/internal/capture/demo"
	"actiontrace/internal/query"
	"actiontrace/pkg/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestApp_NewWithoutSnapshotOrSettingsPath(t *testing.T) {
	a, err := New(Config{Logger: testLogger()})
	require.NoError(t, err)
	require.NotNil(t, a)

	a.Start(context.Background())
	defer a.Stop()

	assert.Equal(t, 0, a.Store().Count())
}

func TestApp_RecordsWithCapturePointRegistered(t *testing.T) {
	a, err := New(Config{Logger: testLogger()})
	require.NoError(t, err)

	a.Settings().ApplyPreset("DebugAll")
	source := demo.NewTickerSource(10*time.Millisecond, a.Filter(), a.Sampling(), a.Store(), a.cfgLogger())
	a.Registry().Register(source)

	a.Start(context.Background())
	defer a.Stop()

	seq := a.Store().Record(types.Event{Type: "ComponentAdded", TargetID: "X", TimestampMs: 0})
	assert.Greater(t, seq, int64(0))
}

func TestApp_QueryProjectsStoredEvents(t *testing.T) {
	a, err := New(Config{Logger: testLogger()})
	require.NoError(t, err)
	a.Settings().ApplyPreset("DebugAll")

	a.Store().Record(types.Event{Type: "BuildFailed", TargetID: "Build", TimestampMs: 0})

	items := a.Query(query.Options{Limit: 10, Sort: types.SortByTimeDesc})
	require.Len(t, items, 1)
	assert.Equal(t, types.CategoryBuild, items[0].Category)
}

func TestApp_AtomicOperationsGroupsSharedToolCall(t *testing.T) {
	a, err := New(Config{Logger: testLogger()})
	require.NoError(t, err)
	a.Settings().ApplyPreset("DebugAll")

	s1 := a.Store().Record(types.Event{Type: "ComponentAdded", TargetID: "X", TimestampMs: 0})
	s2 := a.Store().Record(types.Event{Type: "ComponentAdded", TargetID: "Y", TimestampMs: 30})
	a.Store().AddContextMapping(types.ContextMapping{EventSequence: s1, ContextID: "ctx1", Attributes: map[string]string{"tool_call_id": "T1"}})
	a.Store().AddContextMapping(types.ContextMapping{EventSequence: s2, ContextID: "ctx2", Attributes: map[string]string{"tool_call_id": "T1"}})

	ops := a.AtomicOperations(10)
	require.Len(t, ops, 1)
	assert.Equal(t, 2, ops[0].EventCount)
	require.NotNil(t, ops[0].ToolCallID)
	assert.Equal(t, "T1", *ops[0].ToolCallID)
}

func TestApp_SnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	snapshotPath := filepath.Join(dir, "snapshot.json")

	a, err := New(Config{Logger: testLogger(), SnapshotPath: snapshotPath})
	require.NoError(t, err)
	a.Settings().ApplyPreset("DebugAll")
	a.Store().Record(types.Event{Type: "AssetCreated", TargetID: "Asset:a.png", TimestampMs: 0})
	a.Stop()

	b, err := New(Config{Logger: testLogger(), SnapshotPath: snapshotPath})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Store().Count())
}

// cfgLogger exposes the app's logger to tests that need to hand it to a
// capture point constructed outside the app package.
func (a *App) cfgLogger() *logrus.Logger { return a.logger }

// TestApp_StopLeavesNoGoroutinesRunning guards against the scheduler,
// sampling middleware or settings watcher leaking a goroutine past Stop —
// the same check the teacher runs across its monitors and dispatcher.
func TestApp_StopLeavesNoGoroutinesRunning(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("github.com/sirupsen/logrus.*"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)

	a, err := New(Config{Logger: testLogger()})
	require.NoError(t, err)

	a.Settings().ApplyPreset("DebugAll")
	a.Start(context.Background())

	a.Store().Record(types.Event{Type: "ComponentAdded", TargetID: "X", TimestampMs: 0})
	time.Sleep(20 * time.Millisecond)

	a.Stop()
}
