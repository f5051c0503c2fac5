package settings

import (
	"fmt"
	"os"
	"sync"

	aerrors "actiontrace/pkg/errors"
	"actiontrace/pkg/types"

	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

// asset is the YAML-on-disk shape of the Settings singleton, mirroring the
// teacher's LoadConfig/types.Config pattern: plain yaml.v2 tags, loaded
// once at startup and optionally hot-reloaded.
type asset struct {
	CurrentPreset string `yaml:"current_preset"`
	Filtering     struct {
		MinImportanceForRecording float64  `yaml:"min_importance_for_recording"`
		BypassImportanceFilter    bool     `yaml:"bypass_importance_filter"`
		DisabledEventTypes        []string `yaml:"disabled_event_types"`
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

func toAsset(s types.Settings) asset {
	var a asset
	a.CurrentPreset = s.CurrentPreset
	a.Filtering.MinImportanceForRecording = s.Filtering.MinImportanceForRecording
	a.Filtering.BypassImportanceFilter = s.Filtering.BypassImportanceFilter
	for t := range s.Filtering.DisabledEventTypes {
		a.Filtering.DisabledEventTypes = append(a.Filtering.DisabledEventTypes, t)
	}
	a.Merging.EnableEventMerging = s.Merging.EnableEventMerging
	a.Merging.MergeWindowMs = s.Merging.MergeWindowMs
	a.Merging.TransactionWindowMs = s.Merging.TransactionWindowMs
	a.Storage.MaxEvents = s.Storage.MaxEvents
	a.Storage.HotEventCount = s.Storage.HotEventCount
	return a
}

func fromAsset(a asset) types.Settings {
	disabled := make(map[string]bool, len(a.Filtering.DisabledEventTypes))
	for _, t := range a.Filtering.DisabledEventTypes {
		disabled[t] = true
	}
	return types.Settings{
		CurrentPreset: a.CurrentPreset,
		Filtering: types.FilteringSettings{
			MinImportanceForRecording: a.Filtering.MinImportanceForRecording,
			BypassImportanceFilter:    a.Filtering.BypassImportanceFilter,
			DisabledEventTypes:        disabled,
		},
		Merging: types.MergingSettings{
			EnableEventMerging:  a.Merging.EnableEventMerging,
			MergeWindowMs:       a.Merging.MergeWindowMs,
			TransactionWindowMs: a.Merging.TransactionWindowMs,
		},
		Storage: types.StorageSettings{
			MaxEvents:     a.Storage.MaxEvents,
			HotEventCount: a.Storage.HotEventCount,
		},
	}
}

// Manager owns the live Settings singleton threaded through the
// application context (§9's "singletons become process-wide service
// values"). All reads/writes go through Manager so the store and sampling
// config always observe a consistent snapshot.
type Manager struct {
	mu       sync.RWMutex
	current  types.Settings
	dirty    bool
	path     string
	logger   *logrus.Logger
}

// NewManager builds a Manager seeded with the Standard preset. Call
// LoadFile to override from disk.
func NewManager(logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	standard, _ := Preset(PresetStandard)
	return &Manager{current: standard, logger: logger}
}

// Get returns a copy of the current settings snapshot.
func (m *Manager) Get() types.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// ApplyPreset replaces the three groups with the named preset's, stamps
// CurrentPreset, and marks dirty. It does not write the settings file;
// nothing in this package saves automatically, and the change reaches disk
// only when a caller invokes SaveFile.
func (m *Manager) ApplyPreset(name string) error {
	preset, ok := Preset(name)
	if !ok {
		return aerrors.New(aerrors.SeverityRejected, aerrors.CodeSettingsInvalid, "settings", "ApplyPreset", "unknown preset: "+name)
	}
	m.mu.Lock()
	m.current = preset
	m.dirty = true
	m.mu.Unlock()
	m.logger.WithField("preset", name).Info("applied settings preset")
	return nil
}

// Set replaces the live settings wholesale, validating first. Invalid
// settings are rejected without mutating state.
func (m *Manager) Set(s types.Settings) error {
	if issues := s.Validate(); len(issues) > 0 {
		return aerrors.New(aerrors.SeverityRejected, aerrors.CodeSettingsInvalid, "settings", "Set", fmt.Sprintf("invalid settings: %v", issues))
	}
	m.mu.Lock()
	m.current = s
	m.dirty = true
	m.mu.Unlock()
	return nil
}

// IsDirty reports whether settings have changed since the last save.
func (m *Manager) IsDirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirty
}

// LoadFile loads settings from a YAML file at path, applying validation;
// a missing file is not an error (defaults/preset stand), mirroring the
// teacher's tolerant LoadConfig behavior. Failures to parse an existing
// file ARE logged but still fall back to the Manager's current settings
// (best-effort load, per §7's schema-mismatch handling).
func (m *Manager) LoadFile(path string) error {
	m.mu.Lock()
	m.path = path
	m.mu.Unlock()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		m.logger.WithField("path", path).Info("no settings file found, using defaults")
		return nil
	}
	if err != nil {
		return aerrors.New(aerrors.SeverityHigh, aerrors.CodeSettingsInvalid, "settings", "LoadFile", "failed to read settings file").Wrap(err)
	}

	var a asset
	if err := yaml.Unmarshal(data, &a); err != nil {
		m.logger.WithError(err).Warn("failed to parse settings file, keeping current settings")
		return aerrors.New(aerrors.SeverityHigh, aerrors.CodeSettingsInvalid, "settings", "LoadFile", "failed to parse settings file").Wrap(err)
	}

	loaded := fromAsset(a)
	if issues := loaded.Validate(); len(issues) > 0 {
		m.logger.WithField("issues", issues).Warn("loaded settings failed validation, keeping current settings")
		return aerrors.New(aerrors.SeverityHigh, aerrors.CodeSettingsInvalid, "settings", "LoadFile", fmt.Sprintf("validation failed: %v", issues))
	}

	m.mu.Lock()
	m.current = loaded
	m.dirty = false
	m.mu.Unlock()
	m.logger.WithField("path", path).Info("loaded settings from file")
	return nil
}

// SaveFile serializes the current settings to path using an atomic
// write-to-temp+rename, the same durability shape the persistence package
// uses for event snapshots.
func (m *Manager) SaveFile(path string) error {
	m.mu.RLock()
	a := toAsset(m.current)
	m.mu.RUnlock()

	data, err := yaml.Marshal(a)
	if err != nil {
		return aerrors.New(aerrors.SeverityHigh, aerrors.CodeSettingsInvalid, "settings", "SaveFile", "failed to marshal settings").Wrap(err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return aerrors.New(aerrors.SeverityHigh, aerrors.CodePersistenceFailed, "settings", "SaveFile", "failed to write settings temp file").Wrap(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return aerrors.New(aerrors.SeverityHigh, aerrors.CodePersistenceFailed, "settings", "SaveFile", "failed to rename settings temp file").Wrap(err)
	}

	m.mu.Lock()
	m.dirty = false
	m.mu.Unlock()
	return nil
}

// Path returns the file path settings were last loaded from, or "" if
// never loaded (used by the fsnotify watcher to know what to watch).
func (m *Manager) Path() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.path
}
