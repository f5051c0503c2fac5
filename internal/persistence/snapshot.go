// Package persistence implements the §6 persisted snapshot contract: a
// versioned document (schema_version, sequence_counter, events,
// context_mappings), loaded once at startup, saved via atomic
// write-to-temp+rename, forward-compatible across schema versions. It
// generalizes the teacher's batch_persistence.go from per-sink retry
// batches to a single versioned store snapshot, keeping its
// encoding/json + os.WriteFile shape and retry/backoff posture for
// save failures.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"actiontrace/internal/atmetrics"
	"actiontrace/internal/store"
	aerrors "actiontrace/pkg/errors"
	"actiontrace/pkg/types"

	"github.com/sirupsen/logrus"
)

// CurrentSchemaVersion is the snapshot schema this build writes. Loading a
// file with a newer version logs a warning and proceeds best-effort;
// loading an older version rewrites at this version on next save.
const CurrentSchemaVersion = 4

// document is the on-disk envelope. Fields are ordered to match §6's
// listed contract.
type document struct {
	SchemaVersion   int                    `json:"schema_version"`
	SequenceCounter int64                  `json:"sequence_counter"`
	Events          []types.Event          `json:"events"`
	ContextMappings []types.ContextMapping `json:"context_mappings"`
}

// Manager owns the on-disk snapshot file for one Store. Save is called by
// the scheduler's deferred-save job; Load is called once at startup.
type Manager struct {
	path   string
	logger *logrus.Logger
}

// NewManager returns a Manager that reads/writes path.
func NewManager(path string, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{path: path, logger: logger}
}

// Load reads path (if present) and loads it into s via s.LoadSnapshot,
// which also applies the post-load trim. A missing file is not an error —
// the store simply starts empty. A newer schema version loads anyway with
// a warning; the next Save rewrites it at CurrentSchemaVersion.
func (m *Manager) Load(s *store.Store) error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		m.logger.WithField("path", m.path).Info("no snapshot found, starting empty")
		return nil
	}
	if err != nil {
		atmetrics.PersistenceLoadsTotal.WithLabelValues("failure").Inc()
		return aerrors.New(aerrors.SeverityHigh, aerrors.CodePersistenceFailed, "persistence", "Load", "failed to read snapshot file").Wrap(err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		atmetrics.PersistenceLoadsTotal.WithLabelValues("failure").Inc()
		m.logger.WithError(err).Warn("failed to parse snapshot, starting empty")
		return aerrors.New(aerrors.SeverityHigh, aerrors.CodeSchemaMismatch, "persistence", "Load", "failed to parse snapshot").Wrap(err)
	}

	status := "success"
	if doc.SchemaVersion > CurrentSchemaVersion {
		m.logger.WithFields(logrus.Fields{
			"file_version":   doc.SchemaVersion,
			"current_version": CurrentSchemaVersion,
		}).Warn("snapshot schema is newer than this build; loading best-effort")
		status = "migrated"
	} else if doc.SchemaVersion < CurrentSchemaVersion {
		m.logger.WithFields(logrus.Fields{
			"file_version":    doc.SchemaVersion,
			"current_version": CurrentSchemaVersion,
		}).Info("snapshot schema is older; will rewrite at current version on next save")
		status = "migrated"
	}

	s.LoadSnapshot(store.Snapshot{
		SequenceCounter: doc.SequenceCounter,
		Events:          doc.Events,
		ContextMappings: doc.ContextMappings,
	})
	atmetrics.PersistenceLoadsTotal.WithLabelValues(status).Inc()
	return nil
}

// Save serializes s's current state under the store lock (via
// TakeSnapshot) and performs the write-to-temp+rename outside any lock,
// per §5's suspension-point rule: SaveToStorage does file I/O outside the
// store lock. On success it marks the store clean.
func (m *Manager) Save(s *store.Store) error {
	start := time.Now()
	snap := s.TakeSnapshot()

	doc := document{
		SchemaVersion:   CurrentSchemaVersion,
		SequenceCounter: snap.SequenceCounter,
		Events:          snap.Events,
		ContextMappings: snap.ContextMappings,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		atmetrics.PersistenceSavesTotal.WithLabelValues("failure").Inc()
		return aerrors.New(aerrors.SeverityHigh, aerrors.CodePersistenceFailed, "persistence", "Save", "failed to marshal snapshot").Wrap(err)
	}

	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			atmetrics.PersistenceSavesTotal.WithLabelValues("failure").Inc()
			return aerrors.New(aerrors.SeverityHigh, aerrors.CodePersistenceFailed, "persistence", "Save", "failed to create snapshot directory").Wrap(err)
		}
	}

	tmp := fmt.Sprintf("%s.tmp-%d", m.path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		atmetrics.PersistenceSavesTotal.WithLabelValues("failure").Inc()
		return aerrors.New(aerrors.SeverityHigh, aerrors.CodePersistenceFailed, "persistence", "Save", "failed to write snapshot temp file").Wrap(err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		atmetrics.PersistenceSavesTotal.WithLabelValues("failure").Inc()
		return aerrors.New(aerrors.SeverityHigh, aerrors.CodePersistenceFailed, "persistence", "Save", "failed to rename snapshot temp file").Wrap(err)
	}

	s.MarkSaved(time.Now())
	atmetrics.PersistenceSavesTotal.WithLabelValues("success").Inc()
	atmetrics.PersistenceSaveDuration.Observe(time.Since(start).Seconds())
	return nil
}

// Path returns the snapshot file path this Manager reads/writes.
func (m *Manager) Path() string { return m.path }
