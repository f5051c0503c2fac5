package semantic

import (
	"fmt"
	"time"

	"actiontrace/pkg/types"
)

// defaultTransactionWindowMs is used when the caller passes zero, matching
// the settings default.
const defaultTransactionWindowMs = 2000

// Aggregator splits a flat ordered sequence of events into atomic
// operations, grouping a run of events that share a tool-call boundary or
// fall within the transaction time window.
type Aggregator struct {
	summarizer Summarizer
}

// NewAggregator returns an Aggregator that uses the given Summarizer.
func NewAggregator(summarizer Summarizer) Aggregator {
	return Aggregator{summarizer: summarizer}
}

// Aggregate splits events (already ordered by sequence/time) into atomic
// operations. Boundaries are checked in priority order: a different
// tool_call_id, then a different triggered_by_tool, then elapsed time from
// the run's first event exceeding transactionWindowMs.
func (a Aggregator) Aggregate(events []types.Event, toolCallID, triggeredByTool func(types.Event) *string, transactionWindowMs int64) []types.AtomicOperation {
	if len(events) == 0 {
		return nil
	}
	if transactionWindowMs <= 0 {
		transactionWindowMs = defaultTransactionWindowMs
	}

	var ops []types.AtomicOperation
	batchStart := 0

	flush := func(end int) {
		batch := events[batchStart:end]
		ops = append(ops, a.buildOperation(batch, toolCallID, triggeredByTool))
	}

	for i := 1; i <= len(events); i++ {
		if i == len(events) {
			flush(i)
			break
		}

		prev := events[i-1]
		cur := events[i]
		first := events[batchStart]

		sameTool := equalStringPtr(toolCallID(prev), toolCallID(cur))
		sameTrigger := equalStringPtr(triggeredByTool(prev), triggeredByTool(cur))
		withinWindow := cur.TimestampMs-first.TimestampMs <= transactionWindowMs

		if !sameTool || !sameTrigger || !withinWindow {
			flush(i)
			batchStart = i
		}
	}

	return ops
}

func (a Aggregator) buildOperation(batch []types.Event, toolCallID, triggeredByTool func(types.Event) *string) types.AtomicOperation {
	first := batch[0]
	last := batch[len(batch)-1]

	op := types.AtomicOperation{
		StartSequence:   first.Sequence,
		EndSequence:     last.Sequence,
		EventCount:      len(batch),
		DurationMs:      last.TimestampMs - first.TimestampMs,
		ToolCallID:      toolCallID(first),
		TriggeredByTool: triggeredByTool(first),
	}
	op.Summary = a.summarize(batch, op)
	return op
}

func (a Aggregator) summarize(batch []types.Event, op types.AtomicOperation) string {
	if len(batch) == 1 {
		return a.summarizer.Summarize(batch[0])
	}
	if op.ToolCallID != nil {
		return fmt.Sprintf("%s: %d events in %s", *op.ToolCallID, op.EventCount, formatDuration(op.DurationMs))
	}
	return fmt.Sprintf("%s + %d related events", a.summarizer.Summarize(batch[0]), op.EventCount-1)
}

func formatDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return d.Round(time.Millisecond).String()
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
