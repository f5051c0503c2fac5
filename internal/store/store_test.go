package store

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"actiontrace/internal/semantic"
	"actiontrace/pkg/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testSettings(maxEvents, hotEventCount int, enableMerging bool, mergeWindowMs int64) func() types.Settings {
	return func() types.Settings {
		return types.Settings{
			Filtering: types.FilteringSettings{BypassImportanceFilter: true},
			Merging: types.MergingSettings{
				EnableEventMerging: enableMerging,
				MergeWindowMs:      mergeWindowMs,
			},
			Storage: types.StorageSettings{
				MaxEvents:     maxEvents,
				HotEventCount: hotEventCount,
			},
		}
	}
}

func newTestStore(settings func() types.Settings) *Store {
	return New(Config{
		Settings:   settings,
		Scorer:     semantic.NewScorer(),
		Summarizer: semantic.NewSummarizer(),
		Logger:     newTestLogger(),
	})
}

func evt(eventType, target string, ts int64) types.Event {
	return types.Event{Type: eventType, TargetID: target, TimestampMs: ts}
}

// Scenario 3 (§8): merging collapses a burst within the window into one
// stored event carrying the last timestamp.
func TestStore_MergingCollapsesBurst(t *testing.T) {
	s := newTestStore(testSettings(800, 150, true, 100))

	seq0 := s.Record(evt("ComponentAdded", "X", 0))
	seq1 := s.Record(evt("ComponentAdded", "X", 50))
	seq2 := s.Record(evt("ComponentAdded", "X", 80))

	assert.Equal(t, seq0, seq1)
	assert.Equal(t, seq0, seq2)
	require.Equal(t, 1, s.Count())

	all := s.QueryAll()
	require.Len(t, all, 1)
	assert.Equal(t, int64(80), all[0].TimestampMs)
}

func TestStore_RecordInvokesOnDirtyHook(t *testing.T) {
	var calls int32
	s := New(Config{
		Settings:   testSettings(800, 150, true, 100),
		Scorer:     semantic.NewScorer(),
		Summarizer: semantic.NewSummarizer(),
		OnDirty:    func() { atomic.AddInt32(&calls, 1) },
		Logger:     newTestLogger(),
	})

	s.Record(evt("ComponentAdded", "X", 0))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a fresh append must schedule a deferred save")

	s.Record(evt("ComponentAdded", "X", 10)) // merges with the previous record
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "a merge still dirties the store and must schedule a save too")
}

func TestStore_MergeRequiresSameTypeAndTarget(t *testing.T) {
	s := newTestStore(testSettings(800, 150, true, 1000))

	s.Record(evt("ComponentAdded", "X", 0))
	s.Record(evt("ComponentAdded", "Y", 10))
	s.Record(evt("ComponentRemoved", "X", 20))

	assert.Equal(t, 3, s.Count())
}

func TestStore_MergeRespectsWindow(t *testing.T) {
	s := newTestStore(testSettings(800, 150, true, 50))

	s.Record(evt("ComponentAdded", "X", 0))
	s.Record(evt("ComponentAdded", "X", 200)) // outside window

	assert.Equal(t, 2, s.Count())
}

// Scenario 4 (§8): dehydration walks the oldest prefix once hot_event_count
// is exceeded, leaving the newest hot_event_count events hydrated.
func TestStore_DehydratesOldestPrefix(t *testing.T) {
	s := newTestStore(testSettings(800, 150, false, 0))

	for i := 0; i < 200; i++ {
		s.Record(evt("SelectionChanged", "obj", int64(i)))
	}

	all := s.QueryAll() // newest first
	require.Len(t, all, 200)

	// Index 0..49 in insertion order (oldest 50) must be dehydrated; that's
	// the last 50 entries of the newest-first QueryAll result.
	for i := 0; i < 50; i++ {
		e := all[len(all)-1-i]
		assert.Nil(t, e.Payload)
		assert.True(t, e.IsDehydrated)
		assert.NotEmpty(t, e.PrecomputedSummary)
	}
	for i := 0; i < 150; i++ {
		e := all[i]
		assert.False(t, e.IsDehydrated)
	}
}

type fakeColdArchiver struct {
	puts map[int64]map[string]types.Value
}

func newFakeColdArchiver() *fakeColdArchiver {
	return &fakeColdArchiver{puts: make(map[int64]map[string]types.Value)}
}

func (f *fakeColdArchiver) Put(sequence int64, payload map[string]types.Value) error {
	f.puts[sequence] = payload
	return nil
}

func TestStore_DehydrationArchivesPayloadToColdStore(t *testing.T) {
	cold := newFakeColdArchiver()
	s := New(Config{
		Settings:   testSettings(800, 150, false, 0),
		Scorer:     semantic.NewScorer(),
		Summarizer: semantic.NewSummarizer(),
		ColdStore:  cold,
		Logger:     newTestLogger(),
	})

	for i := 0; i < 200; i++ {
		e := evt("SelectionChanged", "obj", int64(i))
		e.Payload = map[string]types.Value{"index": types.Number(float64(i))}
		s.Record(e)
	}

	require.Len(t, cold.puts, 50, "only the dehydrated oldest prefix should be archived")
	_, archived := cold.puts[1]
	assert.True(t, archived, "sequence 1 (the oldest) should have been archived before dehydration")
}

func TestStore_DehydrationIdempotent(t *testing.T) {
	e := evt("AssetCreated", "a.txt", 0)
	e.Payload = map[string]types.Value{"path": types.String("a.txt")}

	once := e.Dehydrate("summary")
	twice := once.Dehydrate("summary")
	assert.Equal(t, once, twice)
}

// Scenario 5 (§8): eviction at the hard cap drops exactly the oldest
// surplus and cascade-deletes mappings referencing dropped sequences.
func TestStore_EvictionCascadesContextMappings(t *testing.T) {
	s := newTestStore(testSettings(100, 1000, false, 0))

	var firstSeq int64
	for i := 0; i < 101; i++ {
		seq := s.Record(evt("PropertyModified", "x", int64(i)))
		if i == 0 {
			firstSeq = seq
			s.AddContextMapping(types.ContextMapping{EventSequence: firstSeq, ContextID: "ctx-1"})
		}
	}

	require.Equal(t, 100, s.Count())

	all := s.QueryAll()
	for _, e := range all {
		assert.NotEqual(t, firstSeq, e.Sequence)
	}
	assert.Equal(t, 0, s.ContextMappingCount())
}

func TestStore_RecordAtCapDropsExactlyOne(t *testing.T) {
	s := newTestStore(testSettings(100, 1000, false, 0))
	for i := 0; i < 100; i++ {
		s.Record(evt("PropertyModified", "x", int64(i)))
	}
	seqBefore := s.CurrentSequence()

	s.Record(evt("PropertyModified", "x", 100))

	assert.Equal(t, 100, s.Count())
	assert.Equal(t, seqBefore+1, s.CurrentSequence())
}

func TestStore_SequencesStrictlyIncreasing(t *testing.T) {
	s := newTestStore(testSettings(5000, 1000, false, 0))
	seen := map[int64]bool{}
	var last int64
	for i := 0; i < 500; i++ {
		seq := s.Record(evt("PropertyModified", "x", int64(i)))
		require.False(t, seen[seq])
		seen[seq] = true
		require.Greater(t, seq, last)
		last = seq
	}
}

func TestStore_QueryMonotonicity(t *testing.T) {
	s := newTestStore(testSettings(5000, 1000, false, 0))
	for i := 0; i < 50; i++ {
		s.Record(evt("PropertyModified", "x", int64(i)))
	}

	since := s.CurrentSequence() - 10
	sinceMinusOne := since - 1

	a := s.Query(100, &since)
	b := s.Query(100, &sinceMinusOne)

	aSeqs := map[int64]bool{}
	for _, e := range a {
		aSeqs[e.Sequence] = true
	}
	for _, e := range a {
		found := false
		for _, e2 := range b {
			if e2.Sequence == e.Sequence {
				found = true
				break
			}
		}
		assert.True(t, found, "Query(limit, since) must be a subset of Query(limit, since-1)")
	}
}

func TestStore_ContextMappingIdempotentDuplicate(t *testing.T) {
	s := newTestStore(testSettings(800, 150, false, 0))
	seq := s.Record(evt("ToolInvocationBegin", "tool", 0))

	ok1 := s.AddContextMapping(types.ContextMapping{EventSequence: seq, ContextID: "c1"})
	ok2 := s.AddContextMapping(types.ContextMapping{EventSequence: seq, ContextID: "c1"})

	assert.True(t, ok1)
	assert.False(t, ok2)
	assert.Equal(t, 1, s.ContextMappingCount())
}

func TestStore_QueryWithContextYieldsPairPerMapping(t *testing.T) {
	s := newTestStore(testSettings(800, 150, false, 0))
	seq := s.Record(evt("ToolInvocationBegin", "tool", 0))
	s.AddContextMapping(types.ContextMapping{EventSequence: seq, ContextID: "c1"})
	s.AddContextMapping(types.ContextMapping{EventSequence: seq, ContextID: "c2"})

	pairs := s.QueryWithContext(10, nil)
	require.Len(t, pairs, 2)
	for _, p := range pairs {
		require.NotNil(t, p.Context)
	}
}

func TestStore_QueryWithContextNilForUnmapped(t *testing.T) {
	s := newTestStore(testSettings(800, 150, false, 0))
	s.Record(evt("ToolInvocationBegin", "tool", 0))

	pairs := s.QueryWithContext(10, nil)
	require.Len(t, pairs, 1)
	assert.Nil(t, pairs[0].Context)
}

func TestStore_ImportanceGateRejectsBelowThreshold(t *testing.T) {
	s := New(Config{
		Settings: func() types.Settings {
			return types.Settings{
				Filtering: types.FilteringSettings{
					BypassImportanceFilter:   false,
					MinImportanceForRecording: 0.9,
				},
				Storage: types.StorageSettings{MaxEvents: 800, HotEventCount: 150},
			}
		},
		Scorer: semantic.NewScorer(),
		Logger: newTestLogger(),
	})

	seq := s.Record(evt("SelectionChanged", "x", 0)) // low baseline importance
	assert.Equal(t, int64(-1), seq)
	assert.Equal(t, 0, s.Count())
}

func TestStore_DisabledTypeRejected(t *testing.T) {
	s := New(Config{
		Settings: func() types.Settings {
			return types.Settings{
				Filtering: types.FilteringSettings{
					BypassImportanceFilter: true,
					DisabledEventTypes:     map[string]bool{"Blocked": true},
				},
				Storage: types.StorageSettings{MaxEvents: 800, HotEventCount: 150},
			}
		},
		Logger: newTestLogger(),
	})

	seq := s.Record(evt("Blocked", "x", 0))
	assert.Equal(t, int64(-1), seq)
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore(testSettings(800, 150, false, 0))
	seq := s.Record(evt("ToolInvocationBegin", "tool", 0))
	s.AddContextMapping(types.ContextMapping{EventSequence: seq, ContextID: "c1"})

	s.Clear()

	assert.Equal(t, 0, s.Count())
	assert.Equal(t, int64(0), s.CurrentSequence())
	assert.Equal(t, 0, s.ContextMappingCount())
}

// Round-trip law (§8): save then load yields an equal sequence counter,
// event list, and context mappings.
func TestStore_SnapshotRoundTrip(t *testing.T) {
	s := newTestStore(testSettings(800, 150, false, 0))
	for i := 0; i < 10; i++ {
		s.Record(evt("PropertyModified", "x", int64(i)))
	}
	seq := s.CurrentSequence()
	s.AddContextMapping(types.ContextMapping{EventSequence: seq, ContextID: "c1"})

	snap := s.TakeSnapshot()

	loaded := newTestStore(testSettings(800, 150, false, 0))
	loaded.LoadSnapshot(snap)

	assert.Equal(t, seq, loaded.CurrentSequence())
	assert.Equal(t, s.QueryAll(), loaded.QueryAll())
	assert.Equal(t, s.ContextMappingCount(), loaded.ContextMappingCount())
}

func TestStore_PostLoadTrimUsesSofterThreshold(t *testing.T) {
	s := newTestStore(testSettings(100, 50, false, 0))
	var events []types.Event
	for i := 0; i < 150; i++ { // exactly 1.5x max_events: under the 2x trim trigger
		events = append(events, types.Event{Sequence: int64(i + 1), Type: "X", TargetID: "x", TimestampMs: int64(i)})
	}

	s.LoadSnapshot(Snapshot{SequenceCounter: 150, Events: events})
	assert.Equal(t, 150, s.Count(), "below 2x max_events must not trim")

	s.LoadSnapshot(Snapshot{SequenceCounter: 150, Events: append(events, events...)}) // 300, over 2x
	assert.Equal(t, 100, s.Count(), "above 2x max_events trims down to max_events")
}

func TestStore_QuarantineBlocksWritesNotReads(t *testing.T) {
	s := newTestStore(testSettings(800, 150, false, 0))
	s.Record(evt("PropertyModified", "x", 0))

	s.mu.Lock()
	s.quarantined = true
	s.mu.Unlock()

	seq := s.Record(evt("PropertyModified", "x", 1))
	assert.Equal(t, int64(-1), seq)
	assert.Len(t, s.QueryAll(), 1)
}

func TestStore_NotificationsDeliveredInOrder(t *testing.T) {
	s := newTestStore(testSettings(800, 150, false, 0))

	var received []int64
	s.Subscribe(func(e types.Event) { received = append(received, e.Sequence) })

	var want []int64
	for i := 0; i < 20; i++ {
		seq := s.Record(evt("PropertyModified", "x", int64(i)))
		want = append(want, seq)
	}
	s.DrainNotifications()

	assert.Equal(t, want, received)
}

func TestStore_MemoryDiagnosticsFormatsReport(t *testing.T) {
	s := newTestStore(testSettings(800, 150, false, 0))
	s.Record(evt("PropertyModified", "x", 0))

	report := s.MemoryDiagnostics()
	assert.Contains(t, report, "ActionTrace store diagnostics")
	assert.Contains(t, report, "hot events:")
}

func TestStore_SummaryStableAcrossDehydration(t *testing.T) {
	summarizer := semantic.NewSummarizer()
	s := New(Config{
		Settings:   testSettings(800, 1, false, 0),
		Summarizer: summarizer,
		Logger:     newTestLogger(),
	})

	e := evt("AssetCreated", "a.txt", 0)
	e.Payload = map[string]types.Value{"path": types.String("a.txt")}
	wantSummary := summarizer.Summarize(e)

	s.Record(e)
	s.Record(evt("AssetCreated", "b.txt", 1)) // pushes the first out of the hot window

	all := s.QueryAll()
	var dehydrated types.Event
	for _, ev := range all {
		if ev.TargetID == "a.txt" {
			dehydrated = ev
		}
	}
	require.True(t, dehydrated.IsDehydrated)
	assert.Equal(t, wantSummary, dehydrated.PrecomputedSummary)
}

func TestStore_RecordReturnsMinusOneOnSequenceOverflow(t *testing.T) {
	s := newTestStore(testSettings(800, 150, false, 0))
	s.mu.Lock()
	s.sequence = int64(^uint64(0) >> 1) // max int64
	s.mu.Unlock()

	seq := s.Record(evt("PropertyModified", "x", 0))
	assert.Equal(t, int64(-1), seq)
	assert.True(t, s.Quarantined())
}

func TestStore_ConcurrentRecordIsRace_Free(t *testing.T) {
	s := newTestStore(testSettings(5000, 1000, false, 0))
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			for j := 0; j < 50; j++ {
				s.Record(evt("PropertyModified", "x", int64(n*1000+j)))
			}
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, 400, s.Count())
	_ = time.Now()
}
