package semantic

import "actiontrace/pkg/types"

// categoryByType maps each well-known event type to its coarse category.
// Types absent from the table categorize as CategoryUnknown.
var categoryByType = map[string]types.Category{
	"AssetCreated":            types.CategoryAsset,
	"AssetMoved":              types.CategoryAsset,
	"AssetDeleted":            types.CategoryAsset,
	"AssetModified":           types.CategoryAsset,
	"GameObjectCreated":       types.CategoryGameObject,
	"GameObjectDestroyed":     types.CategoryGameObject,
	"ComponentAdded":          types.CategoryComponent,
	"ComponentRemoved":        types.CategoryComponent,
	"HierarchyChanged":        types.CategoryGameObject,
	"SelectionChanged":        types.CategoryUser,
	"SceneOpened":             types.CategoryScene,
	"SceneSaved":              types.CategoryScene,
	"SceneLoaded":             types.CategoryScene,
	"SceneUnloaded":           types.CategoryScene,
	"SceneNew":                types.CategoryScene,
	"PlayModeChanged":         types.CategoryUser,
	"ScriptCompiled":          types.CategoryCompilation,
	"ScriptCompilationFailed": types.CategoryCompilation,
	"BuildStarted":            types.CategoryBuild,
	"BuildCompleted":          types.CategoryBuild,
	"BuildFailed":             types.CategoryBuild,
	"PropertyModified":        types.CategoryProperty,
	"ToolInvocationBegin":     types.CategoryTool,
	"ToolInvocationEnd":       types.CategoryTool,
}

// Categorizer maps an event type to its coarse category.
type Categorizer struct{}

// NewCategorizer returns the default, stateless Categorizer.
func NewCategorizer() Categorizer { return Categorizer{} }

func (Categorizer) Categorize(event types.Event) types.Category {
	if c, ok := categoryByType[event.Type]; ok {
		return c
	}
	return types.CategoryUnknown
}
