package persistence

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"actiontrace/internal/semantic"
	"actiontrace/internal/store"
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

func newTestStore() *store.Store {
	return store.New(store.Config{
		Settings: func() types.Settings {
			return types.Settings{
				Filtering: types.FilteringSettings{BypassImportanceFilter: true},
				Storage:   types.StorageSettings{MaxEvents: 800, HotEventCount: 150},
			}
		},
		Scorer:     semantic.NewScorer(),
		Summarizer: semantic.NewSummarizer(),
		Logger:     newTestLogger(),
	})
}

func TestManager_SaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")

	s := newTestStore()
	for i := 0; i < 10; i++ {
		s.Record(types.Event{Type: "PropertyModified", TargetID: "x", TimestampMs: int64(i)})
	}
	seq := s.CurrentSequence()
	s.AddContextMapping(types.ContextMapping{EventSequence: seq, ContextID: "c1"})

	m := NewManager(path, newTestLogger())
	require.NoError(t, m.Save(s))
	assert.False(t, s.IsDirty())

	loaded := newTestStore()
	require.NoError(t, m.Load(loaded))

	assert.Equal(t, s.CurrentSequence(), loaded.CurrentSequence())
	assert.Equal(t, s.QueryAll(), loaded.QueryAll())
	assert.Equal(t, s.ContextMappingCount(), loaded.ContextMappingCount())
}

func TestManager_LoadMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "missing.json"), newTestLogger())

	s := newTestStore()
	err := m.Load(s)

	assert.NoError(t, err)
	assert.Equal(t, 0, s.Count())
}

func TestManager_SaveWritesCurrentSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")

	s := newTestStore()
	s.Record(types.Event{Type: "PropertyModified", TargetID: "x", TimestampMs: 0})

	m := NewManager(path, newTestLogger())
	require.NoError(t, m.Save(s))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, CurrentSchemaVersion, doc.SchemaVersion)
}

func TestManager_LoadOlderSchemaVersionIsBestEffort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")

	doc := document{
		SchemaVersion:   CurrentSchemaVersion - 1,
		SequenceCounter: 1,
		Events: []types.Event{
			{Sequence: 1, Type: "X", TargetID: "x", TimestampMs: 0},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	m := NewManager(path, newTestLogger())
	s := newTestStore()
	require.NoError(t, m.Load(s))

	assert.Equal(t, 1, s.Count())
	assert.Equal(t, int64(1), s.CurrentSequence())
}

func TestManager_LoadNewerSchemaVersionWarnsAndLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")

	doc := document{SchemaVersion: CurrentSchemaVersion + 1, SequenceCounter: 0}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	m := NewManager(path, newTestLogger())
	s := newTestStore()
	assert.NoError(t, m.Load(s))
}
