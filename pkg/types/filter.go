package types

// RuleType enumerates the ways a FilterRule's Pattern is interpreted.
type RuleType string

const (
	RulePathPrefix    RuleType = "path_prefix"
	RuleFileExtension RuleType = "file_extension"
	RuleRegex         RuleType = "regex"
	RuleEntityName    RuleType = "entity_name"
)

// RuleAction is the outcome a matching FilterRule produces.
type RuleAction string

const (
	ActionBlock RuleAction = "block"
	ActionAllow RuleAction = "allow"
)

// FilterRule is a single blacklist/allowlist rule. It is pure data; the
// compiled-pattern cache that backs Regex rules lives in the filter package
// and is invalidated whenever a rule's Pattern or Type changes.
type FilterRule struct {
	Name     string
	Enabled  bool
	Type     RuleType
	Pattern  string
	Action   RuleAction
	Priority int
}

// SamplingMode enumerates the four sampling strategies a per-event-type
// SamplingStrategy may select.
type SamplingMode string

const (
	SampleNone           SamplingMode = "none"
	SampleThrottle       SamplingMode = "throttle"
	SampleDebounce       SamplingMode = "debounce"
	SampleDebounceByKey  SamplingMode = "debounce_by_key"
)

// SamplingStrategy configures how a single event type is sampled.
type SamplingStrategy struct {
	Mode     SamplingMode
	WindowMs int64
}
