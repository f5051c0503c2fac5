package semantic

import (
	"fmt"
	"strings"

	"actiontrace/pkg/types"
)

// summaryTemplates maps event type to a template string. Placeholders of
// the form {field} are substituted from the event's payload; a placeholder
// whose field is absent renders as an empty string rather than failing.
var summaryTemplates = map[string]string{
	"AssetCreated":            "Created asset {path}",
	"AssetMoved":              "Moved asset {from} to {to}",
	"AssetDeleted":            "Deleted asset {path}",
	"AssetModified":           "Modified asset {path}",
	"GameObjectCreated":       "Created GameObject {name}",
	"GameObjectDestroyed":     "Destroyed GameObject {name}",
	"ComponentAdded":          "Added {component} to {target}",
	"ComponentRemoved":        "Removed {component} from {target}",
	"HierarchyChanged":        "Hierarchy changed under {target}",
	"SelectionChanged":        "Selection changed to {target}",
	"SceneOpened":             "Opened scene {scene}",
	"SceneSaved":              "Saved scene {scene}",
	"SceneLoaded":             "Loaded scene {scene}",
	"SceneUnloaded":           "Unloaded scene {scene}",
	"SceneNew":                "Created new scene {scene}",
	"PlayModeChanged":         "Play mode changed to {mode}",
	"ScriptCompiled":          "Scripts compiled",
	"ScriptCompilationFailed": "Script compilation failed: {error}",
	"BuildStarted":            "Build started ({platform})",
	"BuildCompleted":          "Build completed ({platform}) in {duration}",
	"BuildFailed":             "Build failed ({platform}): {error}",
	"PropertyModified":        "{property} changed on {target} to {value}",
	"ToolInvocationBegin":     "Tool {tool} started",
	"ToolInvocationEnd":       "Tool {tool} finished",
}

// Summarizer maps an event to a short, human-readable summary string.
type Summarizer struct{}

// NewSummarizer returns the default, stateless Summarizer.
func NewSummarizer() Summarizer { return Summarizer{} }

// Summarize is tolerant of missing payload fields: any {field} with no
// corresponding payload entry is simply dropped from the rendered string.
func (Summarizer) Summarize(event types.Event) string {
	template, ok := summaryTemplates[event.Type]
	if !ok {
		return fmt.Sprintf("%s on %s", event.Type, event.TargetID)
	}
	return render(template, event)
}

func render(template string, event types.Event) string {
	var b strings.Builder
	i := 0
	for i < len(template) {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			b.WriteString(template[i:])
			break
		}
		b.WriteString(template[i : i+open])
		i += open

		closeIdx := strings.IndexByte(template[i:], '}')
		if closeIdx < 0 {
			b.WriteString(template[i:])
			break
		}
		field := template[i+1 : i+closeIdx]
		i += closeIdx + 1

		b.WriteString(fieldValue(field, event))
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func fieldValue(field string, event types.Event) string {
	if field == "target" {
		return event.TargetID
	}
	if event.Payload == nil {
		return ""
	}
	v, ok := event.Payload[field]
	if !ok {
		return ""
	}
	if s, isString := v.AsString(); isString {
		return s
	}
	if n, isNumber := v.AsNumber(); isNumber {
		return fmt.Sprintf("%g", n)
	}
	if b, isBool := v.AsBool(); isBool {
		return fmt.Sprintf("%t", b)
	}
	return ""
}
