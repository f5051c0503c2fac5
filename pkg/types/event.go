package types

import "fmt"

// Event is the immutable record that flows through the whole pipeline.
// Equality is defined by (Sequence, TimestampMs, Type, TargetID) — the
// payload and summary are derived state, not identity.
type Event struct {
	Sequence           int64
	TimestampMs        int64
	Type               string
	TargetID           string
	Payload            map[string]Value // nil once dehydrated
	PrecomputedSummary string            // empty until computed
	IsDehydrated       bool
}

// NewEvent sanitizes a raw payload and returns an Event with Sequence left at
// zero (the store assigns it atomically at Record time). Warnings from
// sanitization are returned for the caller to log; they never block
// ingestion.
func NewEvent(eventType, targetID string, timestampMs int64, rawPayload interface{}) (Event, []SanitizeWarning) {
	payload, warnings := Sanitize(rawPayload)
	return Event{
		TimestampMs: timestampMs,
		Type:        eventType,
		TargetID:    targetID,
		Payload:     payload,
	}, warnings
}

// Equal implements the equality law from the data model.
func (e Event) Equal(other Event) bool {
	return e.Sequence == other.Sequence &&
		e.TimestampMs == other.TimestampMs &&
		e.Type == other.Type &&
		e.TargetID == other.TargetID
}

// Hydrated reports whether the event still carries its payload.
func (e Event) Hydrated() bool {
	return !e.IsDehydrated && e.Payload != nil
}

// Dehydrate returns a copy of e with its payload dropped and the given
// summary retained. It is idempotent: dehydrating an already-dehydrated
// event with the same summary returns an equal value.
func (e Event) Dehydrate(summary string) Event {
	if e.IsDehydrated {
		return e
	}
	dehydrated := e
	dehydrated.Payload = nil
	dehydrated.PrecomputedSummary = summary
	dehydrated.IsDehydrated = true
	return dehydrated
}

// Key returns the event's type + target identity as "type:target". The
// store's merge policy and the sampling middleware build their own keys
// and do not call it.
func (e Event) Key() string {
	return fmt.Sprintf("%s:%s", e.Type, e.TargetID)
}

// ContextMapping links an event to a higher-level operational context such
// as a tool invocation, a session, or an agent identity. Multiple mappings
// per event are allowed; duplicates by (EventSequence, ContextID) are
// idempotent inserts.
type ContextMapping struct {
	EventSequence int64
	ContextID     string
	Attributes    map[string]string
}

// Key returns the idempotency key for this mapping.
func (m ContextMapping) Key() string {
	return fmt.Sprintf("%d:%s", m.EventSequence, m.ContextID)
}

// AtomicOperation is a derived (never stored) aggregation of a contiguous
// event range produced by the transaction aggregator.
type AtomicOperation struct {
	StartSequence   int64
	EndSequence     int64
	Summary         string
	EventCount      int
	DurationMs      int64
	ToolCallID      *string
	TriggeredByTool *string
}
