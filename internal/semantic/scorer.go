// Package semantic derives meaning from raw events: an importance score, a
// coarse category, a human-readable summary, and — for an ordered run of
// events — a grouping into atomic operations.
package semantic

import (
	"strings"

	"actiontrace/pkg/types"
)

// baseWeight is the importance score assigned to an event type absent any
// other signal. Scores are deterministic and pure: same event in, same
// score out, no side effects.
const baseWeight = 0.35

// typeWeights gives each known event type a baseline importance before
// payload-derived adjustments are applied.
var typeWeights = map[string]float64{
	"AssetCreated":              0.55,
	"AssetMoved":                0.4,
	"AssetDeleted":              0.6,
	"AssetModified":             0.3,
	"GameObjectCreated":         0.45,
	"GameObjectDestroyed":       0.5,
	"ComponentAdded":            0.4,
	"ComponentRemoved":          0.45,
	"HierarchyChanged":          0.2,
	"SelectionChanged":          0.1,
	"SceneOpened":               0.7,
	"SceneSaved":                0.65,
	"SceneLoaded":               0.6,
	"SceneUnloaded":             0.5,
	"SceneNew":                  0.6,
	"PlayModeChanged":           0.55,
	"ScriptCompiled":            0.45,
	"ScriptCompilationFailed":   0.9,
	"BuildStarted":              0.75,
	"BuildCompleted":            0.85,
	"BuildFailed":               0.95,
	"PropertyModified":          0.2,
	"ToolInvocationBegin":       0.5,
	"ToolInvocationEnd":         0.5,
}

// errorHints nudge the score upward when the payload or type mentions a
// failure, mirroring the pattern-score idea of weighting error language
// higher than routine activity.
var errorHints = []string{"fail", "error", "exception", "crash"}

// Scorer maps an event to an importance score in [0,1].
type Scorer struct{}

// NewScorer returns the default, stateless Scorer.
func NewScorer() Scorer { return Scorer{} }

// Score is deterministic and pure: it reads only event, never mutates it,
// and never touches shared state.
func (Scorer) Score(event types.Event) float64 {
	score := baseWeight
	if w, ok := typeWeights[event.Type]; ok {
		score = w
	}

	lowerType := strings.ToLower(event.Type)
	for _, hint := range errorHints {
		if strings.Contains(lowerType, hint) {
			score += 0.15
			break
		}
	}

	if event.Payload != nil {
		if v, ok := event.Payload["success"]; ok {
			if b, isBool := v.AsBool(); isBool && !b {
				score += 0.2
			}
		}
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}
