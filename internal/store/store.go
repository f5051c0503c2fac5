// Package store implements the single-writer/many-reader Event Store: an
// append-only, sequence-ordered ring of events plus a parallel ordered list
// of context mappings. It owns merging, dehydration, eviction, the dirty
// flag consumed by the scheduler's deferred-save job, and the batched
// EventRecorded notification path.
package store

import (
	"sort"
	"sync"
	"time"

	"actiontrace/internal/atmetrics"
	aerrors "actiontrace/pkg/errors"
	"actiontrace/pkg/types"

	"github.com/sirupsen/logrus"
)

// Summarizer is the subset of the semantic layer the store needs to
// precompute a summary at dehydration time when one hasn't been cached yet.
type Summarizer interface {
	Summarize(event types.Event) string
}

// Scorer is the subset of the semantic layer the store needs to gate
// Record against the importance-filter settings.
type Scorer interface {
	Score(event types.Event) float64
}

// MergePolicy decides whether an incoming event should be folded into the
// last recorded event, and how. It defaults to "same type, same target,
// within window: replace payload, bump timestamp" (§4.1.1's baseline);
// callers may install a stricter per-type hook via Config.Merge.
type MergePolicy func(last, incoming types.Event) (merged types.Event, ok bool)

// ColdArchiver is the subset of persistence.ColdStore the Event Store needs:
// a place to spill a payload before dehydration nulls it out. Optional — a
// Store with none configured dehydrates exactly as §4.1.2 describes, payload
// dropped for good.
type ColdArchiver interface {
	Put(sequence int64, payload map[string]types.Value) error
}

// DefaultMergePolicy implements the store's baseline merge eligibility rule.
func DefaultMergePolicy(last, incoming types.Event) (types.Event, bool) {
	if last.Type != incoming.Type || last.TargetID != incoming.TargetID {
		return types.Event{}, false
	}
	merged := last
	merged.TimestampMs = incoming.TimestampMs
	merged.Payload = incoming.Payload
	merged.PrecomputedSummary = ""
	merged.IsDehydrated = false
	return merged, true
}

// maxPendingNotifications bounds the EventRecorded notification queue per
// §5's ordering guarantees; a full queue forces an immediate drain.
const maxPendingNotifications = 256

// maxContextMappingsFactor caps context mappings at 2x max_events.
const maxContextMappingsFactor = 2

// Listener receives newly recorded events, one call per event, in
// insertion order, on the batched notification drain.
type Listener func(event types.Event)

// Store is the Event Store. All mutation of events/mappings/sequence goes
// through mu; the notification queue has its own lock per §5's
// shared-resource policy.
type Store struct {
	mu sync.Mutex

	events           []types.Event // ordered by Sequence ascending
	contextMappings  []types.ContextMapping
	sequence         int64
	dirty            bool
	quarantined      bool
	lastDehydrateAt  int // event-count marker; avoids re-walking when unchanged
	lastRecorded     *types.Event
	lastRecordedTime time.Time

	settings func() types.Settings // returns a snapshot of current settings
	scorer   Scorer
	summar   Summarizer
	merge    MergePolicy
	cold     ColdArchiver
	onDirty  func()
	logger   *logrus.Logger

	notifyMu  sync.Mutex
	listeners []Listener
	pending   []types.Event

	lastSaveAt time.Time
}

// Config bundles the collaborators Store needs at construction time.
type Config struct {
	Settings   func() types.Settings
	Scorer     Scorer
	Summarizer Summarizer
	Merge      MergePolicy // nil uses DefaultMergePolicy
	ColdStore  ColdArchiver // nil disables cold archiving; dehydration just drops the payload
	OnDirty    func()       // called after every successful Record; nil is a no-op
	Logger     *logrus.Logger
}

// New builds an empty Store.
func New(cfg Config) *Store {
	if cfg.Merge == nil {
		cfg.Merge = DefaultMergePolicy
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Store{
		settings: cfg.Settings,
		scorer:   cfg.Scorer,
		summar:   cfg.Summarizer,
		merge:    cfg.Merge,
		cold:     cfg.ColdStore,
		onDirty:  cfg.OnDirty,
		logger:   cfg.Logger,
	}
}

// SetOnDirty attaches the deferred-save hook after construction — needed
// because the scheduler that owns RequestSave is itself built from the
// already-constructed Store (app.New wires this right after building both).
// Safe to call at most once before the store starts receiving Records.
func (s *Store) SetOnDirty(f func()) {
	s.onDirty = f
}

// requestSave invokes the onDirty hook, if configured, signaling the
// scheduler that a deferred save is now due per §4.1's "schedules a
// deferred save" contract. Safe to call with the store's mutex already
// released — it never blocks.
func (s *Store) requestSave() {
	if s.onDirty != nil {
		s.onDirty()
	}
}

// Subscribe registers l to receive EventRecorded notifications. Not safe to
// call from inside a Listener callback (reentrancy rule, §4.9 design notes).
func (s *Store) Subscribe(l Listener) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Record assigns a sequence to event and appends it, merging with the last
// recorded event when eligible. It returns the assigned/merged sequence, or
// -1 if the event was rejected by the hard filter, the importance gate, or
// the store is quarantined.
func (s *Store) Record(event types.Event) int64 {
	cfg := s.settings()

	if s.isQuarantined() {
		atmetrics.EventsRejectedTotal.WithLabelValues(event.Type, "quarantined").Inc()
		return -1
	}
	if cfg.Filtering.DisabledEventTypes[event.Type] {
		atmetrics.EventsRejectedTotal.WithLabelValues(event.Type, "filtered").Inc()
		return -1
	}
	if !cfg.Filtering.BypassImportanceFilter && s.scorer != nil {
		if s.scorer.Score(event) <= cfg.Filtering.MinImportanceForRecording {
			atmetrics.EventsRejectedTotal.WithLabelValues(event.Type, "importance").Inc()
			return -1
		}
	}

	s.mu.Lock()

	if cfg.Merging.EnableEventMerging {
		if merged, ok := s.tryMergeLocked(event, cfg.Merging.MergeWindowMs); ok {
			seq := merged.Sequence
			s.dirty = true
			s.mu.Unlock()
			atmetrics.EventsMergedTotal.WithLabelValues(event.Type).Inc()
			s.requestSave()
			return seq
		}
	}

	s.sequence++
	if s.sequence <= 0 {
		// Overflow: a fatal invariant violation per §7. Quarantine rather
		// than silently wrapping into a duplicate sequence.
		s.sequence--
		s.quarantined = true
		s.mu.Unlock()
		atmetrics.StoreQuarantined.Set(1)
		err := aerrors.New(aerrors.SeverityFatal, aerrors.CodeSequenceOverflow, "store", "Record", "sequence counter overflow")
		s.logger.WithFields(err.ToFields()).Error("store entering quarantine")
		return -1
	}
	event.Sequence = s.sequence
	s.events = append(s.events, event)

	// The "last" reference is updated only after the append completes, so a
	// self-merge (an event merging with itself) is structurally impossible.
	last := event
	s.lastRecorded = &last
	s.lastRecordedTime = time.Now()

	s.dehydrateLocked(cfg.Storage.HotEventCount)
	s.evictLocked(cfg.Storage.MaxEvents)

	s.dirty = true
	seq := event.Sequence
	s.mu.Unlock()

	atmetrics.EventsRecordedTotal.WithLabelValues(event.Type).Inc()
	s.enqueueNotification(event)
	s.requestSave()
	return seq
}

// tryMergeLocked attempts to fold incoming into the last recorded event.
// Caller must hold s.mu. Merging happens before any append of incoming, so
// the last-recorded reference used here always predates this call.
func (s *Store) tryMergeLocked(incoming types.Event, windowMs int64) (types.Event, bool) {
	if s.lastRecorded == nil || len(s.events) == 0 {
		return types.Event{}, false
	}
	last := *s.lastRecorded
	delta := incoming.TimestampMs - last.TimestampMs
	if delta < 0 {
		delta = -delta
	}
	if delta > windowMs {
		return types.Event{}, false
	}
	merged, ok := s.merge(last, incoming)
	if !ok {
		return types.Event{}, false
	}

	idx := len(s.events) - 1
	if s.events[idx].Sequence != last.Sequence {
		// Last event was already trimmed/evicted between assignment and
		// merge attempt; refuse rather than merge into the wrong slot.
		return types.Event{}, false
	}
	s.events[idx] = merged
	s.lastRecorded = &merged
	s.lastRecordedTime = time.Now()
	return merged, true
}

// dehydrateLocked implements §4.1.2. Caller must hold s.mu.
func (s *Store) dehydrateLocked(hotEventCount int) {
	n := len(s.events)
	if n <= hotEventCount {
		return
	}
	if s.lastDehydrateAt == n {
		return // marker optimization: nothing changed since last walk
	}

	cutoff := n - hotEventCount
	dehydratedCount := 0
	for i := 0; i < cutoff; i++ {
		e := s.events[i]
		if e.Payload == nil && e.IsDehydrated {
			continue
		}
		if s.cold != nil && e.Payload != nil {
			if err := s.cold.Put(e.Sequence, e.Payload); err != nil {
				s.logger.WithError(err).WithField("sequence", e.Sequence).Warn("cold archive failed, dehydrating anyway")
			}
		}
		summary := e.PrecomputedSummary
		if summary == "" && s.summar != nil {
			summary = s.summar.Summarize(e)
		}
		s.events[i] = e.Dehydrate(summary)
		dehydratedCount++
	}
	if dehydratedCount > 0 {
		atmetrics.EventsDehydratedTotal.WithLabelValues("*").Add(float64(dehydratedCount))
	}
	s.lastDehydrateAt = n
}

// evictLocked implements §4.1.3's hard-limit rule: drop the oldest
// count-maxEvents events and cascade-delete their context mappings. Caller
// must hold s.mu.
func (s *Store) evictLocked(maxEvents int) {
	n := len(s.events)
	if n <= maxEvents {
		return
	}
	surplus := n - maxEvents
	dropped := make(map[int64]bool, surplus)
	for i := 0; i < surplus; i++ {
		dropped[s.events[i].Sequence] = true
	}
	s.events = append([]types.Event(nil), s.events[surplus:]...)
	s.cascadeDeleteLocked(dropped)
	s.lastDehydrateAt = 0 // event indices shifted; force a re-walk next time
	atmetrics.EventsEvictedTotal.WithLabelValues("*").Add(float64(surplus))
}

// trimAfterLoadLocked implements the softer post-load policy (§4.1.3): only
// trim when count > 2*maxEvents, then reduce to maxEvents. Caller must hold
// s.mu.
func (s *Store) trimAfterLoadLocked(maxEvents int) {
	n := len(s.events)
	if n <= maxEvents*maxContextMappingsFactor {
		return
	}
	surplus := n - maxEvents
	dropped := make(map[int64]bool, surplus)
	for i := 0; i < surplus; i++ {
		dropped[s.events[i].Sequence] = true
	}
	s.events = append([]types.Event(nil), s.events[surplus:]...)
	s.cascadeDeleteLocked(dropped)
}

func (s *Store) cascadeDeleteLocked(droppedSequences map[int64]bool) {
	if len(s.contextMappings) == 0 {
		return
	}
	kept := s.contextMappings[:0]
	for _, m := range s.contextMappings {
		if !droppedSequences[m.EventSequence] {
			kept = append(kept, m)
		}
	}
	s.contextMappings = append([]types.ContextMapping(nil), kept...)
}

func (s *Store) isQuarantined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quarantined
}

// Quarantined reports whether the store is in the read-only quarantine
// state described in §7 (fatal invariant violations flip this).
func (s *Store) Quarantined() bool { return s.isQuarantined() }

// enqueueNotification appends event to the pending notification queue,
// forcing an immediate drain if the queue is at capacity.
func (s *Store) enqueueNotification(event types.Event) {
	s.notifyMu.Lock()
	s.pending = append(s.pending, event)
	forceDrain := len(s.pending) >= maxPendingNotifications
	s.notifyMu.Unlock()

	if forceDrain {
		s.DrainNotifications()
	}
}

// DrainNotifications delivers all queued events to subscribers, in
// insertion order, on the caller's goroutine — the scheduler calls this
// from its single main-thread-equivalent drain job so subscribers never
// race each other or the ingest path.
func (s *Store) DrainNotifications() {
	s.notifyMu.Lock()
	batch := s.pending
	s.pending = nil
	listeners := append([]Listener(nil), s.listeners...)
	s.notifyMu.Unlock()

	for _, event := range batch {
		for _, l := range listeners {
			l(event)
		}
	}
}

// Query returns up to limit events newest-first. If sinceSequence is
// non-nil, only events with Sequence > *sinceSequence are returned. The
// implementation takes a tail window sized to cover limit plus slack,
// extending backward only if sinceSequence falls outside that window.
func (s *Store) Query(limit int, sinceSequence *int64) []types.Event {
	const slack = 16

	s.mu.Lock()
	n := len(s.events)
	windowSize := limit + slack
	if windowSize > n {
		windowSize = n
	}
	start := n - windowSize
	if sinceSequence != nil && start > 0 && n > 0 && s.events[start].Sequence > *sinceSequence+1 {
		// The requested since-sequence falls further back than our initial
		// window; extend to the full store rather than miss events.
		start = 0
	}
	snapshot := append([]types.Event(nil), s.events[start:]...)
	s.mu.Unlock()

	var filtered []types.Event
	for _, e := range snapshot {
		if sinceSequence != nil && e.Sequence <= *sinceSequence {
			continue
		}
		filtered = append(filtered, e)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Sequence > filtered[j].Sequence })
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

// QueryAll returns a full snapshot, newest first.
func (s *Store) QueryAll() []types.Event {
	s.mu.Lock()
	snapshot := append([]types.Event(nil), s.events...)
	s.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Sequence > snapshot[j].Sequence })
	return snapshot
}

// EventContextPair is one row of a QueryWithContext result: an event paired
// with one of its context mappings, or a nil mapping if it has none.
type EventContextPair struct {
	Event   types.Event
	Context *types.ContextMapping
}

// QueryWithContext joins Query's result against the context-mapping side
// table. An event with k mappings yields k pairs; an event with none
// yields one pair with a nil Context. All projection happens outside the
// store lock, on the snapshot taken by Query/QueryAll.
func (s *Store) QueryWithContext(limit int, sinceSequence *int64) []EventContextPair {
	events := s.Query(limit, sinceSequence)

	s.mu.Lock()
	mappings := append([]types.ContextMapping(nil), s.contextMappings...)
	s.mu.Unlock()

	byEvent := make(map[int64][]types.ContextMapping)
	for _, m := range mappings {
		byEvent[m.EventSequence] = append(byEvent[m.EventSequence], m)
	}

	var pairs []EventContextPair
	for _, e := range events {
		ms := byEvent[e.Sequence]
		if len(ms) == 0 {
			pairs = append(pairs, EventContextPair{Event: e})
			continue
		}
		for i := range ms {
			pairs = append(pairs, EventContextPair{Event: e, Context: &ms[i]})
		}
	}
	return pairs
}

// AddContextMapping inserts m, rejecting duplicates by (EventSequence,
// ContextID) and trimming the oldest mapping if the 2*max_events cap would
// otherwise be exceeded.
func (s *Store) AddContextMapping(m types.ContextMapping) bool {
	cfg := s.settings()
	cap := cfg.Storage.MaxEvents * maxContextMappingsFactor

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.contextMappings {
		if existing.Key() == m.Key() {
			return false
		}
	}
	if len(s.contextMappings) >= cap && cap > 0 {
		s.contextMappings = s.contextMappings[1:]
	}
	s.contextMappings = append(s.contextMappings, m)
	s.dirty = true
	return true
}

// RemoveContextMappings deletes every mapping referencing contextID.
func (s *Store) RemoveContextMappings(contextID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.contextMappings[:0]
	removed := 0
	for _, m := range s.contextMappings {
		if m.ContextID == contextID {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	s.contextMappings = append([]types.ContextMapping(nil), kept...)
	if removed > 0 {
		s.dirty = true
	}
	return removed
}

// Clear atomically wipes events, mappings, the sequence counter, merge
// state, and pending notifications.
func (s *Store) Clear() {
	s.mu.Lock()
	s.events = nil
	s.contextMappings = nil
	s.sequence = 0
	s.lastDehydrateAt = 0
	s.lastRecorded = nil
	s.quarantined = false
	s.dirty = true
	s.mu.Unlock()

	s.notifyMu.Lock()
	s.pending = nil
	s.notifyMu.Unlock()

	s.logger.Info("event store cleared")
}

// Count returns the current number of stored events.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// CurrentSequence returns the most recently assigned sequence number.
func (s *Store) CurrentSequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

// ContextMappingCount returns the current number of stored context mappings.
func (s *Store) ContextMappingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contextMappings)
}

// MemoryDiagnostics formats a human-readable memory report: hot/cold
// counts, the estimated byte footprint from the §4.9 formula, quarantine
// state, and last-save time.
func (s *Store) MemoryDiagnostics() string {
	s.mu.Lock()
	hot, cold := 0, 0
	for _, e := range s.events {
		if e.Hydrated() {
			hot++
		} else {
			cold++
		}
	}
	quarantined := s.quarantined
	lastSave := s.lastSaveAt
	s.mu.Unlock()

	estBytes := types.EstimatedMemoryBytes(hot, cold)
	atmetrics.StoreOccupancy.WithLabelValues("hot").Set(float64(hot))
	atmetrics.StoreOccupancy.WithLabelValues("cold").Set(float64(cold))
	atmetrics.StoreMemoryBytes.Set(float64(estBytes))
	if quarantined {
		atmetrics.StoreQuarantined.Set(1)
	} else {
		atmetrics.StoreQuarantined.Set(0)
	}

	lastSaveStr := "never"
	if !lastSave.IsZero() {
		lastSaveStr = lastSave.Format(time.RFC3339)
	}

	return fmtDiagnostics(hot, cold, estBytes, quarantined, lastSaveStr)
}
