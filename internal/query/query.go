// Package query builds the view items the AI/UI consumer actually reads:
// it projects stored events and their context mappings into
// ActionTraceViewItem values, applies text search and importance
// thresholds, and orders the result per §4.8. Grounded on the teacher's
// dispatcher.GetStats-style projection helpers, which take a raw internal
// snapshot and shape it into a consumer-facing view without touching the
// store's lock.
package query

import (
	"sort"
	"strings"

	"actiontrace/internal/identity"
	"actiontrace/internal/semantic"
	"actiontrace/internal/store"
	"actiontrace/pkg/types"
)

// ViewItem is the projected, consumer-facing shape of a stored event.
type ViewItem struct {
	Sequence           int64
	DisplayTime        int64
	DisplaySummary     string
	Importance         float64
	ImportanceCategory types.ImportanceCategory
	Category           types.Category
	EventType          string
	Context            *types.ContextMapping
	TargetName         string
	TargetInstanceID   *int64
	InferredIntent     string
}

// Scorer and Summarizer mirror the subset of the semantic layer the
// projection needs; satisfied by semantic.Scorer/semantic.Summarizer.
type Scorer interface {
	Score(event types.Event) float64
}

type Summarizer interface {
	Summarize(event types.Event) string
}

type Categorizer interface {
	Categorize(event types.Event) types.Category
}

// IdentityResolver resolves a target id's instance id (when the identity
// is in Instance: form) to a display name, per §4.6's pre-death will.
type IdentityResolver interface {
	DisplayName(instanceID int64) string
}

// Projector turns Store snapshots into ViewItems. It is stateless apart
// from the semantic helpers and identity resolver it wraps; all store
// access happens through Store's own Query/QueryWithContext, which take
// their own lock and hand back a snapshot the projector reads outside
// any lock, per §5's "project outside the lock" rule.
type Projector struct {
	scorer      Scorer
	summarizer  Summarizer
	categorizer Categorizer
	identity    IdentityResolver
}

// NewProjector wires the default semantic helpers. Pass a nil identity
// resolver to skip target-name enrichment (e.g. in tests with no tracker).
func NewProjector(identity IdentityResolver) Projector {
	return Projector{
		scorer:      semantic.NewScorer(),
		summarizer:  semantic.NewSummarizer(),
		categorizer: semantic.NewCategorizer(),
		identity:    identity,
	}
}

// Options controls a Query call's filtering and ordering.
type Options struct {
	Limit int
	Since *int64

	// Search is an optional case-insensitive substring filter over
	// summary/target/event-type, per §4.8; empty means no filtering.
	Search string

	// ImportanceThreshold is only applied in SortAIFiltered mode, per
	// §4.8. Use UseSettingsDefault to fall back to the caller-supplied
	// defaultThreshold instead of an explicit value.
	ImportanceThreshold    float64
	UseSettingsDefault     bool
	DefaultThreshold       float64

	Sort types.SortMode
}

// Run projects, filters and sorts a window of the store into ViewItems.
func (p Projector) Run(s *store.Store, opts Options) []ViewItem {
	pairs := s.QueryWithContext(opts.Limit, opts.Since)

	items := make([]ViewItem, 0, len(pairs))
	for _, pair := range pairs {
		items = append(items, p.project(pair))
	}

	items = p.filterSearch(items, opts.Search)

	threshold := opts.ImportanceThreshold
	if opts.UseSettingsDefault {
		threshold = opts.DefaultThreshold
	}

	switch opts.Sort {
	case types.SortAIFiltered:
		items = filterImportance(items, threshold)
		sortAIFiltered(items)
	default:
		sortByTimeDesc(items)
	}

	return items
}

func (p Projector) project(pair store.EventContextPair) ViewItem {
	event := pair.Event

	summary := event.PrecomputedSummary
	if summary == "" {
		summary = p.summarizer.Summarize(event)
	}

	score := p.scorer.Score(event)

	item := ViewItem{
		Sequence:           event.Sequence,
		DisplayTime:        event.TimestampMs,
		DisplaySummary:     summary,
		Importance:         score,
		ImportanceCategory: types.CategoryForImportance(score),
		Category:           p.categorizer.Categorize(event),
		EventType:          event.Type,
		Context:            pair.Context,
	}

	item.TargetName, item.TargetInstanceID = p.resolveTarget(event.TargetID)
	item.InferredIntent = inferIntent(item.Category, pair.Context)

	return item
}

// resolveTarget extracts an Instance: form target id's numeric instance and
// resolves its display name via the identity tracker's will cache; any
// other identity grammar form is returned as its own display name verbatim,
// since it's already stable and human-legible.
func (p Projector) resolveTarget(targetID string) (name string, instanceID *int64) {
	if id, ok := parseInstanceID(targetID); ok {
		instanceID = &id
		if p.identity != nil {
			name = p.identity.DisplayName(id)
			return name, instanceID
		}
		return targetID, instanceID
	}
	return targetID, nil
}

func parseInstanceID(targetID string) (int64, bool) {
	const prefix = "Instance:"
	if !strings.HasPrefix(targetID, prefix) {
		return 0, false
	}
	var n int64
	rest := targetID[len(prefix):]
	if rest == "" {
		return 0, false
	}
	neg := false
	if rest[0] == '-' {
		neg = true
		rest = rest[1:]
	}
	for _, c := range rest {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n, true
}

// inferIntent gives a coarse, best-effort guess at why the event happened,
// derived purely from its category and context — never from free text
// beyond what's already in the context attributes.
func inferIntent(category types.Category, ctx *types.ContextMapping) string {
	if ctx != nil {
		if intent, ok := ctx.Attributes["intent"]; ok && intent != "" {
			return intent
		}
		if ctx.ContextID != "" {
			return "tool-driven change"
		}
	}
	switch category {
	case types.CategoryUser:
		return "manual edit"
	case types.CategoryBuild, types.CategoryCompilation:
		return "build pipeline"
	default:
		return ""
	}
}

func (p Projector) filterSearch(items []ViewItem, search string) []ViewItem {
	if search == "" {
		return items
	}
	needle := strings.ToLower(search)
	filtered := items[:0:0]
	for _, item := range items {
		haystack := strings.ToLower(item.DisplaySummary + " " + item.TargetName + " " + item.EventType)
		if strings.Contains(haystack, needle) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

func filterImportance(items []ViewItem, threshold float64) []ViewItem {
	filtered := items[:0:0]
	for _, item := range items {
		if item.Importance > threshold {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

// sortByTimeDesc is pure reverse chronological, per §4.8.
func sortByTimeDesc(items []ViewItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].DisplayTime > items[j].DisplayTime
	})
}

// sortAIFiltered orders time desc then, within equal time, importance desc.
func sortAIFiltered(items []ViewItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].DisplayTime != items[j].DisplayTime {
			return items[i].DisplayTime > items[j].DisplayTime
		}
		return items[i].Importance > items[j].Importance
	})
}

// IdentityAdapter narrows an *identity.Tracker to the IdentityResolver
// interface so callers don't have to import internal/identity to use
// NewProjector in tests with a fake.
func IdentityAdapter(t *identity.Tracker) IdentityResolver { return t }
