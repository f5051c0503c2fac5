package store

import (
	"time"

	"actiontrace/pkg/types"
)

// Snapshot is the in-memory shape the persistence layer serializes. It
// carries no schema version of its own — that's the persistence package's
// envelope concern — just the data the store owns.
type Snapshot struct {
	SequenceCounter int64
	Events          []types.Event
	ContextMappings []types.ContextMapping
}

// TakeSnapshot copies out the current state for persistence, under the
// store lock, so the caller can perform file I/O outside the lock per §5's
// suspension-point rule.
func (s *Store) TakeSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SequenceCounter: s.sequence,
		Events:          append([]types.Event(nil), s.events...),
		ContextMappings: append([]types.ContextMapping(nil), s.contextMappings...),
	}
}

// LoadSnapshot replaces the store's state with snap, then applies the
// softer post-load trim policy (§4.1.3): only trim when count exceeds
// 2*maxEvents, then reduce to maxEvents.
func (s *Store) LoadSnapshot(snap Snapshot) {
	cfg := s.settings()

	s.mu.Lock()
	s.sequence = snap.SequenceCounter
	s.events = append([]types.Event(nil), snap.Events...)
	s.contextMappings = append([]types.ContextMapping(nil), snap.ContextMappings...)
	s.lastDehydrateAt = 0
	s.lastRecorded = nil
	if len(s.events) > 0 {
		last := s.events[len(s.events)-1]
		s.lastRecorded = &last
	}
	s.trimAfterLoadLocked(cfg.Storage.MaxEvents)
	s.dirty = false
	s.mu.Unlock()

	s.logger.WithField("events", len(snap.Events)).Info("event store loaded from snapshot")
}

// IsDirty reports whether state has changed since the last successful save.
func (s *Store) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// MarkSaved clears the dirty flag and records the save time, called by the
// scheduler's deferred-save job after a successful write.
func (s *Store) MarkSaved(when time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
	s.lastSaveAt = when
}
