// Package filter evaluates blacklist/allowlist rules against captured
// events before they reach the sampling middleware.
package filter

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	aerrors "actiontrace/pkg/errors"
	"actiontrace/pkg/types"
)

// minEntityNameLen rejects entity-name rules that would match almost
// anything, mirroring the data model's minimum-name-length edge case.
const minEntityNameLen = 2

// metaSuffix and resourcesSegment special-case Unity-style `.meta` sidecar
// files and files under a Resources/ folder: files under Resources/ are
// never blocked by a file_extension or path_prefix rule regardless of other
// configuration, and a `.meta` sidecar is admitted only when it decorates a
// scene or prefab asset — a `.meta` next to any other asset type still goes
// through normal rule evaluation.
const metaSuffix = ".meta"
const resourcesSegment = "/Resources/"

// sceneOrPrefabExtensions are the asset extensions whose `.meta` sidecar is
// always admitted per §4.3.
var sceneOrPrefabExtensions = []string{".unity", ".prefab"}

// Engine evaluates an ordered set of FilterRule against an event's target
// path/name. Regex rules are compiled lazily and cached; the cache is
// invalidated whenever rules are replaced.
type Engine struct {
	mu    sync.RWMutex
	rules []types.FilterRule

	cacheMu sync.Mutex
	cache   map[string]*regexp.Regexp
}

// NewEngine builds an Engine from an initial rule set, sorted by priority.
func NewEngine(rules []types.FilterRule) *Engine {
	e := &Engine{cache: make(map[string]*regexp.Regexp)}
	e.SetRules(rules)
	return e
}

// SetRules replaces the active rule set and invalidates the compiled-regex
// cache, since a rule previously at index N may now carry a different
// pattern.
func (e *Engine) SetRules(rules []types.FilterRule) {
	sorted := make([]types.FilterRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	e.mu.Lock()
	e.rules = sorted
	e.mu.Unlock()

	e.cacheMu.Lock()
	e.cache = make(map[string]*regexp.Regexp)
	e.cacheMu.Unlock()
}

// Decision is the outcome of evaluating an event against the rule set.
type Decision struct {
	Allowed     bool
	MatchedRule string // empty if no rule matched (default allow)
}

// Evaluate walks the rules in priority order and returns the first match.
// If no enabled rule matches, the event is allowed by default.
func (e *Engine) Evaluate(targetID string) Decision {
	if strings.Contains(targetID, resourcesSegment) || isSceneOrPrefabMeta(targetID) {
		return Decision{Allowed: true}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}
		if rule.Type == types.RuleEntityName && len(rule.Pattern) < minEntityNameLen {
			continue
		}
		if e.matches(rule, targetID) {
			return Decision{
				Allowed:     rule.Action == types.ActionAllow,
				MatchedRule: rule.Name,
			}
		}
	}
	return Decision{Allowed: true}
}

// isSceneOrPrefabMeta reports whether targetID is a `.meta` sidecar
// decorating a scene or prefab asset, the only `.meta` files §4.3 admits
// unconditionally.
func isSceneOrPrefabMeta(targetID string) bool {
	if !strings.HasSuffix(targetID, metaSuffix) {
		return false
	}
	decorated := strings.TrimSuffix(targetID, metaSuffix)
	for _, ext := range sceneOrPrefabExtensions {
		if strings.EqualFold(filepath.Ext(decorated), ext) {
			return true
		}
	}
	return false
}

func (e *Engine) matches(rule types.FilterRule, targetID string) bool {
	switch rule.Type {
	case types.RulePathPrefix:
		return strings.HasPrefix(targetID, rule.Pattern)
	case types.RuleFileExtension:
		return strings.EqualFold(filepath.Ext(targetID), rule.Pattern)
	case types.RuleEntityName:
		base := filepath.Base(targetID)
		return strings.EqualFold(base, rule.Pattern) || strings.Contains(strings.ToLower(base), strings.ToLower(rule.Pattern))
	case types.RuleRegex:
		re := e.compiled(rule)
		return re != nil && re.MatchString(targetID)
	default:
		return false
	}
}

// compiled returns the cached *regexp.Regexp for rule, compiling and
// caching it on first use under its own mutex, independent of the rules
// lock Evaluate already holds.
func (e *Engine) compiled(rule types.FilterRule) *regexp.Regexp {
	key := rule.Name + "\x00" + rule.Pattern

	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	if re, ok := e.cache[key]; ok {
		return re
	}
	re, err := regexp.Compile(rule.Pattern)
	if err != nil {
		re = nil
	}
	e.cache[key] = re
	return re
}

// ValidateRule reports a configuration error for a rule that could never
// match or that would be rejected by the registry (e.g. an unparseable
// regex), without mutating engine state.
func ValidateRule(rule types.FilterRule) error {
	if rule.Name == "" {
		return aerrors.New(aerrors.SeverityRejected, aerrors.CodeSettingsInvalid, "filter", "validate_rule", "rule name must not be empty")
	}
	if rule.Type == types.RuleRegex {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return aerrors.New(aerrors.SeverityRejected, aerrors.CodeSettingsInvalid, "filter", "validate_rule", "invalid regex pattern").Wrap(err)
		}
	}
	if rule.Type == types.RuleEntityName && len(rule.Pattern) < minEntityNameLen {
		return aerrors.New(aerrors.SeverityRejected, aerrors.CodeSettingsInvalid, "filter", "validate_rule", "entity_name pattern too short")
	}
	return nil
}
