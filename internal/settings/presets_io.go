package settings

import (
	aerrors "actiontrace/pkg/errors"
	"actiontrace/pkg/types"

	yamlv3 "gopkg.in/yaml.v3"
)

// presetDocument is the nested, inline-struct shape used specifically for
// preset import/export. Presets are nested triples (filtering/merging/
// storage) like the main settings asset, but carry a name instead of
// current_preset, and yaml.v3 marshals nested inline structs and map ordering more predictably
// than v2 for this shape.
type presetDocument struct {
	Name      string `yaml:"name"`
	Filtering struct {
		MinImportanceForRecording float64  `yaml:"min_importance_for_recording"`
		BypassImportanceFilter    bool     `yaml:"bypass_importance_filter"`
		DisabledEventTypes        []string `yaml:"disabled_event_types,omitempty"`
	} `yaml:"filtering"`
	Merging struct {
		EnableEventMerging  bool  `yaml:"enable_event_merging"`
		MergeWindowMs       int64 `yaml:"merge_window_ms"`
		TransactionWindowMs int64 `yaml:"transaction_window_ms"`
	} `yaml:"merging"`
	Storage struct {
		MaxEvents     int `yaml:"max_events"`
		HotEventCount int `yaml:"hot_event_count"`
	} `yaml:"storage"`
}

func toPresetDocument(name string, s types.Settings) presetDocument {
	var d presetDocument
	d.Name = name
	d.Filtering.MinImportanceForRecording = s.Filtering.MinImportanceForRecording
	d.Filtering.BypassImportanceFilter = s.Filtering.BypassImportanceFilter
	for t := range s.Filtering.DisabledEventTypes {
		d.Filtering.DisabledEventTypes = append(d.Filtering.DisabledEventTypes, t)
	}
	d.Merging.EnableEventMerging = s.Merging.EnableEventMerging
	d.Merging.MergeWindowMs = s.Merging.MergeWindowMs
	d.Merging.TransactionWindowMs = s.Merging.TransactionWindowMs
	d.Storage.MaxEvents = s.Storage.MaxEvents
	d.Storage.HotEventCount = s.Storage.HotEventCount
	return d
}

func fromPresetDocument(d presetDocument) types.Settings {
	disabled := make(map[string]bool, len(d.Filtering.DisabledEventTypes))
	for _, t := range d.Filtering.DisabledEventTypes {
		disabled[t] = true
	}
	return types.Settings{
		CurrentPreset: d.Name,
		Filtering: types.FilteringSettings{
			MinImportanceForRecording: d.Filtering.MinImportanceForRecording,
			BypassImportanceFilter:    d.Filtering.BypassImportanceFilter,
			DisabledEventTypes:        disabled,
		},
		Merging: types.MergingSettings{
			EnableEventMerging:  d.Merging.EnableEventMerging,
			MergeWindowMs:       d.Merging.MergeWindowMs,
			TransactionWindowMs: d.Merging.TransactionWindowMs,
		},
		Storage: types.StorageSettings{
			MaxEvents:     d.Storage.MaxEvents,
			HotEventCount: d.Storage.HotEventCount,
		},
	}
}

// ExportPresetsYAML renders every named preset as a YAML document list, so
// a host can review or diff the canned configurations offline.
func ExportPresetsYAML() ([]byte, error) {
	presets := Presets()
	docs := make([]presetDocument, 0, len(presets))
	for name, s := range presets {
		docs = append(docs, toPresetDocument(name, s))
	}
	data, err := yamlv3.Marshal(docs)
	if err != nil {
		return nil, aerrors.New(aerrors.SeverityLow, aerrors.CodeSettingsInvalid, "settings", "ExportPresetsYAML", "failed to marshal presets").Wrap(err)
	}
	return data, nil
}

// ImportCustomPreset parses a single preset document — e.g. a host-authored
// variant a team keeps alongside the six built-ins — and returns the
// Settings it describes plus its declared name.
func ImportCustomPreset(data []byte) (string, types.Settings, error) {
	var d presetDocument
	if err := yamlv3.Unmarshal(data, &d); err != nil {
		return "", types.Settings{}, aerrors.New(aerrors.SeverityRejected, aerrors.CodeSettingsInvalid, "settings", "ImportCustomPreset", "failed to parse preset document").Wrap(err)
	}
	s := fromPresetDocument(d)
	if issues := s.Validate(); len(issues) > 0 {
		return "", types.Settings{}, aerrors.New(aerrors.SeverityRejected, aerrors.CodeSettingsInvalid, "settings", "ImportCustomPreset", "invalid custom preset")
	}
	return d.Name, s, nil
}
