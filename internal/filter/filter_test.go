package filter

import (
	"testing"

	"actiontrace/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_DefaultAllowsWithNoRules(t *testing.T) {
	e := NewEngine(nil)
	d := e.Evaluate("Assets/Scripts/Player.cs")
	assert.True(t, d.Allowed)
	assert.Empty(t, d.MatchedRule)
}

func TestEngine_PathPrefixBlocks(t *testing.T) {
	e := NewEngine([]types.FilterRule{
		{Name: "block-library", Enabled: true, Type: types.RulePathPrefix, Pattern: "Library/", Action: types.ActionBlock, Priority: 10},
	})

	d := e.Evaluate("Library/ShaderCache/foo.bin")
	assert.False(t, d.Allowed)
	assert.Equal(t, "block-library", d.MatchedRule)

	d2 := e.Evaluate("Assets/foo.cs")
	assert.True(t, d2.Allowed)
}

func TestEngine_SceneOrPrefabMetaSidecarAlwaysAllowed(t *testing.T) {
	e := NewEngine([]types.FilterRule{
		{Name: "block-unity", Enabled: true, Type: types.RuleFileExtension, Pattern: ".unity", Action: types.ActionBlock, Priority: 10},
		{Name: "block-prefab", Enabled: true, Type: types.RuleFileExtension, Pattern: ".prefab", Action: types.ActionBlock, Priority: 10},
	})

	d := e.Evaluate("Assets/Scenes/Main.unity.meta")
	assert.True(t, d.Allowed)

	d2 := e.Evaluate("Assets/Prefabs/Goblin.prefab.meta")
	assert.True(t, d2.Allowed)
}

func TestEngine_NonSceneMetaSidecarStillEvaluated(t *testing.T) {
	e := NewEngine([]types.FilterRule{
		{Name: "block-cs", Enabled: true, Type: types.RuleFileExtension, Pattern: ".meta", Action: types.ActionBlock, Priority: 10},
	})

	// Player.cs.meta decorates a .cs file, not a scene/prefab, so it is not
	// blanket-admitted and falls through to normal rule evaluation.
	d := e.Evaluate("Assets/Scripts/Player.cs.meta")
	assert.False(t, d.Allowed)
	assert.Equal(t, "block-cs", d.MatchedRule)
}

func TestEngine_ResourcesFolderAlwaysAllowed(t *testing.T) {
	e := NewEngine([]types.FilterRule{
		{Name: "block-prefab", Enabled: true, Type: types.RuleFileExtension, Pattern: ".prefab", Action: types.ActionBlock, Priority: 10},
	})
	d := e.Evaluate("Assets/Resources/Enemies/Goblin.prefab")
	assert.True(t, d.Allowed)
}

func TestEngine_PriorityOrderFirstMatchWins(t *testing.T) {
	e := NewEngine([]types.FilterRule{
		{Name: "low-priority-allow", Enabled: true, Type: types.RulePathPrefix, Pattern: "Assets/", Action: types.ActionAllow, Priority: 1},
		{Name: "high-priority-block", Enabled: true, Type: types.RulePathPrefix, Pattern: "Assets/Generated/", Action: types.ActionBlock, Priority: 10},
	})
	d := e.Evaluate("Assets/Generated/Thing.cs")
	assert.False(t, d.Allowed)
	assert.Equal(t, "high-priority-block", d.MatchedRule)
}

func TestEngine_DisabledRuleSkipped(t *testing.T) {
	e := NewEngine([]types.FilterRule{
		{Name: "block-all-assets", Enabled: false, Type: types.RulePathPrefix, Pattern: "Assets/", Action: types.ActionBlock, Priority: 10},
	})
	d := e.Evaluate("Assets/Scripts/Player.cs")
	assert.True(t, d.Allowed)
}

func TestEngine_RegexRuleCachedAcrossCalls(t *testing.T) {
	e := NewEngine([]types.FilterRule{
		{Name: "block-generated", Enabled: true, Type: types.RuleRegex, Pattern: `.*\.generated\.cs$`, Action: types.ActionBlock, Priority: 10},
	})

	d1 := e.Evaluate("Assets/Foo.generated.cs")
	assert.False(t, d1.Allowed)

	d2 := e.Evaluate("Assets/Foo.generated.cs")
	assert.False(t, d2.Allowed)

	e.cacheMu.Lock()
	cacheSize := len(e.cache)
	e.cacheMu.Unlock()
	assert.Equal(t, 1, cacheSize)
}

func TestEngine_SetRulesInvalidatesCache(t *testing.T) {
	e := NewEngine([]types.FilterRule{
		{Name: "r", Enabled: true, Type: types.RuleRegex, Pattern: `.*\.cs$`, Action: types.ActionBlock, Priority: 1},
	})
	e.Evaluate("Foo.cs")

	e.SetRules([]types.FilterRule{
		{Name: "r", Enabled: true, Type: types.RuleRegex, Pattern: `.*\.txt$`, Action: types.ActionBlock, Priority: 1},
	})

	d := e.Evaluate("Foo.cs")
	assert.True(t, d.Allowed)
}

func TestEngine_EntityNameMinLengthIgnored(t *testing.T) {
	e := NewEngine([]types.FilterRule{
		{Name: "too-short", Enabled: true, Type: types.RuleEntityName, Pattern: "a", Action: types.ActionBlock, Priority: 10},
	})
	d := e.Evaluate("Assets/a.cs")
	assert.True(t, d.Allowed)
}

func TestValidateRule(t *testing.T) {
	require.NoError(t, ValidateRule(types.FilterRule{Name: "ok", Type: types.RulePathPrefix, Pattern: "Assets/"}))
	require.Error(t, ValidateRule(types.FilterRule{Name: "", Type: types.RulePathPrefix, Pattern: "Assets/"}))
	require.Error(t, ValidateRule(types.FilterRule{Name: "bad-regex", Type: types.RuleRegex, Pattern: "(["}))
	require.Error(t, ValidateRule(types.FilterRule{Name: "short", Type: types.RuleEntityName, Pattern: "a"}))
}
