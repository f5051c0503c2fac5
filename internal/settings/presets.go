// Package settings owns the Settings singleton: the three configuration
// groups (filtering, merging, storage) from the data model, the six named
// presets that populate them, YAML-backed loading/validation in the
// teacher's config.go shape, and an optional fsnotify watcher that
// hot-reloads the settings asset when a host rewrites it externally.
package settings

import "actiontrace/pkg/types"

// Preset names. DebugAll records everything at full fidelity; Standard is
// the default balance; Lean minimizes memory for constrained hosts;
// AIFocused biases toward events useful to an assistant consumer; Realtime
// favors low latency over completeness; Performance is the most aggressive
// sampling/merging configuration for high-churn editors.
const (
	PresetDebugAll    = "DebugAll"
	PresetStandard    = "Standard"
	PresetLean        = "Lean"
	PresetAIFocused   = "AIFocused"
	PresetRealtime    = "Realtime"
	PresetPerformance = "Performance"
)

// Presets returns the canned (filtering, merging, storage) triples, keyed
// by name. Each call returns fresh values so callers can't mutate the
// shared defaults by reference.
func Presets() map[string]types.Settings {
	return map[string]types.Settings{
		PresetDebugAll: {
			CurrentPreset: PresetDebugAll,
			Filtering: types.FilteringSettings{
				MinImportanceForRecording: 0,
				BypassImportanceFilter:    true,
				DisabledEventTypes:        map[string]bool{},
			},
			Merging: types.MergingSettings{
				EnableEventMerging:  false,
				MergeWindowMs:       0,
				TransactionWindowMs: 2000,
			},
			Storage: types.StorageSettings{MaxEvents: 5000, HotEventCount: 1000},
		},
		PresetStandard: {
			CurrentPreset: PresetStandard,
			Filtering: types.FilteringSettings{
				MinImportanceForRecording: 0.1,
				BypassImportanceFilter:    false,
				DisabledEventTypes:        map[string]bool{},
			},
			Merging: types.MergingSettings{
				EnableEventMerging:  true,
				MergeWindowMs:       250,
				TransactionWindowMs: 2000,
			},
			Storage: types.StorageSettings{MaxEvents: 1500, HotEventCount: 300},
		},
		PresetLean: {
			CurrentPreset: PresetLean,
			Filtering: types.FilteringSettings{
				MinImportanceForRecording: 0.3,
				BypassImportanceFilter:    false,
				DisabledEventTypes:        map[string]bool{"SelectionChanged": true},
			},
			Merging: types.MergingSettings{
				EnableEventMerging:  true,
				MergeWindowMs:       500,
				TransactionWindowMs: 1500,
			},
			Storage: types.StorageSettings{MaxEvents: 500, HotEventCount: 100},
		},
		PresetAIFocused: {
			CurrentPreset: PresetAIFocused,
			Filtering: types.FilteringSettings{
				MinImportanceForRecording: 0.25,
				BypassImportanceFilter:    false,
				DisabledEventTypes:        map[string]bool{"SelectionChanged": true, "HierarchyChanged": true},
			},
			Merging: types.MergingSettings{
				EnableEventMerging:  true,
				MergeWindowMs:       200,
				TransactionWindowMs: 2500,
			},
			Storage: types.StorageSettings{MaxEvents: 2000, HotEventCount: 400},
		},
		PresetRealtime: {
			CurrentPreset: PresetRealtime,
			Filtering: types.FilteringSettings{
				MinImportanceForRecording: 0,
				BypassImportanceFilter:    true,
				DisabledEventTypes:        map[string]bool{},
			},
			Merging: types.MergingSettings{
				EnableEventMerging:  false,
				MergeWindowMs:       0,
				TransactionWindowMs: 500,
			},
			Storage: types.StorageSettings{MaxEvents: 800, HotEventCount: 800},
		},
		PresetPerformance: {
			CurrentPreset: PresetPerformance,
			Filtering: types.FilteringSettings{
				MinImportanceForRecording: 0.4,
				BypassImportanceFilter:    false,
				DisabledEventTypes:        map[string]bool{"SelectionChanged": true},
			},
			Merging: types.MergingSettings{
				EnableEventMerging:  true,
				MergeWindowMs:       1000,
				TransactionWindowMs: 3000,
			},
			Storage: types.StorageSettings{MaxEvents: 200, HotEventCount: 10},
		},
	}
}

// Preset looks up a single named preset. The bool is false for an unknown
// name, in which case the caller's current settings should be left alone.
func Preset(name string) (types.Settings, bool) {
	p, ok := Presets()[name]
	return p, ok
}
