// Package app wires the ActionTrace subsystem together the way the
// teacher's internal/app.App wires its monitors, dispatcher and sinks:
// one struct owning every long-lived collaborator, a New constructor that
// performs fallible setup, and Start/Stop bracketing the process
// lifecycle. Where the teacher's App drives a log pipeline, this App
// drives the event store, its capture registry, sampling middleware,
// scheduler and settings manager.
package app

import (
	"context"
	"fmt"

	"actiontrace/internal/atmetrics"
	"actiontrace/internal/capture"
	"actiontrace/internal/filter"
	"actiontrace/internal/identity"
	"actiontrace/internal/persistence"
	"actiontrace/internal/query"
	"actiontrace/internal/sampling"
	"actiontrace/internal/scheduler"
	"actiontrace/internal/semantic"
	"actiontrace/internal/settings"
	"actiontrace/internal/store"
	"actiontrace/pkg/types"

	"github.com/sirupsen/logrus"
)

// Config bundles the paths and toggles a host supplies at startup,
// mirroring the teacher's types.Config load-from-flags shape but scoped
// to what ActionTrace actually needs.
type Config struct {
	SettingsPath  string
	SnapshotPath  string
	ColdStorePath string // empty disables cold archiving of dehydrated payloads
	MetricsAddr   string // empty disables the metrics server
	WatchSettings bool
	Logger        *logrus.Logger
}

// App owns every long-lived ActionTrace collaborator: the Settings
// manager, the Event Store, the filter engine, the sampling middleware,
// the capture registry, the scheduler driving the two periodic jobs, the
// identity tracker, and the query projector. Construct with New, call
// Start to bring the pipeline up, Stop to tear it down in reverse order.
type App struct {
	cfg Config

	logger   *logrus.Logger
	settings *settings.Manager
	watcher  *settings.Watcher

	store      *store.Store
	filter     *filter.Engine
	sampling   *sampling.Middleware
	registry   *capture.Registry
	scheduler  *scheduler.Scheduler
	persist    *persistence.Manager
	coldStore  *persistence.BadgerColdStore
	identity   *identity.Tracker
	aggregator semantic.Aggregator
	projector  query.Projector

	metricsServer *atmetrics.Server
}

// New performs all fallible setup — loading settings, loading the
// persisted snapshot — and returns a ready-to-Start App. Per §9's "explicit
// init(), failing fast on persistence errors rather than swallowing them,"
// a load failure here is returned to the caller instead of silently
// falling back; only *runtime* persistence failures (after Start) are
// logged and swallowed per §7.
func New(cfg Config) (*App, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	mgr := settings.NewManager(cfg.Logger)
	if cfg.SettingsPath != "" {
		if err := mgr.LoadFile(cfg.SettingsPath); err != nil {
			return nil, fmt.Errorf("app: loading settings: %w", err)
		}
	}

	scorer := semantic.NewScorer()
	summarizer := semantic.NewSummarizer()

	var coldStore *persistence.BadgerColdStore
	if cfg.ColdStorePath != "" {
		cs, err := persistence.NewBadgerColdStore(cfg.ColdStorePath)
		if err != nil {
			return nil, fmt.Errorf("app: opening cold store: %w", err)
		}
		coldStore = cs
	}

	st := store.New(store.Config{
		Settings:   mgr.Get,
		Scorer:     scorer,
		Summarizer: summarizer,
		ColdStore:  coldStoreOrNil(coldStore),
		Logger:     cfg.Logger,
	})

	persist := persistence.NewManager(cfg.SnapshotPath, cfg.Logger)
	if cfg.SnapshotPath != "" {
		if err := persist.Load(st); err != nil {
			return nil, fmt.Errorf("app: loading snapshot: %w", err)
		}
	}

	filterEngine := filter.NewEngine(defaultFilterRules())
	samplingMw := sampling.New(sampling.NewConfig(), st, cfg.Logger)
	registry := capture.NewRegistry(cfg.Logger)
	tracker := identity.NewTracker()

	sched := scheduler.New(samplingMw, cfg.Logger).WithSave(st, persist).WithNotifications(st)
	st.SetOnDirty(sched.RequestSave)

	a := &App{
		cfg:        cfg,
		logger:     cfg.Logger,
		settings:   mgr,
		store:      st,
		filter:     filterEngine,
		sampling:   samplingMw,
		registry:   registry,
		scheduler:  sched,
		persist:    persist,
		coldStore:  coldStore,
		identity:   tracker,
		aggregator: semantic.NewAggregator(summarizer),
		projector:  query.NewProjector(query.IdentityAdapter(tracker)),
	}

	if cfg.WatchSettings && cfg.SettingsPath != "" {
		watcher, err := settings.NewWatcher(mgr, cfg.Logger, a.onSettingsReload)
		if err != nil {
			return nil, fmt.Errorf("app: building settings watcher: %w", err)
		}
		a.watcher = watcher
	}

	if cfg.MetricsAddr != "" {
		a.metricsServer = atmetrics.NewServer(cfg.MetricsAddr, cfg.Logger)
	}

	return a, nil
}

// coldStoreOrNil returns a nil store.ColdArchiver when cs itself is nil,
// rather than an interface wrapping a typed nil pointer — Go's classic
// nil-interface trap, which here would make Store.dehydrateLocked believe a
// cold store is configured and panic on the first dehydration.
func coldStoreOrNil(cs *persistence.BadgerColdStore) store.ColdArchiver {
	if cs == nil {
		return nil
	}
	return cs
}

// onSettingsReload reacts to the fsnotify watcher detecting a rewritten
// settings file. Nothing beyond logging is required: the store reads
// settings through mgr.Get on every call, so a hot-reload takes effect on
// the very next Record.
func (a *App) onSettingsReload(err error) {
	if err != nil {
		a.logger.WithError(err).Warn("settings hot-reload failed, keeping previous settings")
		return
	}
	a.logger.Info("settings hot-reloaded")
}

// Start registers no capture points of its own — a host (or the demo
// binary) registers its own CapturePoints on App.Registry() before
// calling Start — then brings up the scheduler (which also drives the
// sampling middleware's flush), the settings watcher and the metrics
// server, and finally initializes the capture registry.
func (a *App) Start(ctx context.Context) {
	a.scheduler.Start()

	if a.watcher != nil {
		if err := a.watcher.Start(); err != nil {
			a.logger.WithError(err).Warn("settings watcher failed to start, continuing without hot-reload")
		}
	}

	if a.metricsServer != nil {
		a.metricsServer.Start()
	}

	a.registry.InitializeAll(ctx)
	a.logger.Info("actiontrace app started")
}

// Stop shuts down every component in the reverse of Start's order, logging
// and isolating failures per component rather than aborting partway
// through — mirroring the capture registry's own per-point isolation.
func (a *App) Stop() {
	a.registry.ShutdownAll()

	if a.metricsServer != nil {
		if err := a.metricsServer.Stop(); err != nil {
			a.logger.WithError(err).Warn("metrics server failed to stop cleanly")
		}
	}

	if a.watcher != nil {
		a.watcher.Stop()
	}

	a.scheduler.Stop()
	a.sampling.Stop()

	if a.cfg.SnapshotPath != "" {
		if err := a.persist.Save(a.store); err != nil {
			a.logger.WithError(err).Error("final snapshot save failed")
		}
	}

	if a.coldStore != nil {
		if err := a.coldStore.Close(); err != nil {
			a.logger.WithError(err).Warn("cold store failed to close cleanly")
		}
	}

	a.logger.Info("actiontrace app stopped")
}

// Store exposes the Event Store for capture points and query callers.
func (a *App) Store() *store.Store { return a.store }

// Filter exposes the blacklist/allowlist engine for capture points.
func (a *App) Filter() *filter.Engine { return a.filter }

// Sampling exposes the sampling middleware for capture points.
func (a *App) Sampling() *sampling.Middleware { return a.sampling }

// Registry exposes the capture registry so a host can register its own
// CapturePoints before Start.
func (a *App) Registry() *capture.Registry { return a.registry }

// Identity exposes the identity tracker so capture points can Observe and
// Destroy entities as the host reports them.
func (a *App) Identity() *identity.Tracker { return a.identity }

// Settings exposes the settings manager for hosts that want to apply a
// preset or mutate configuration at runtime.
func (a *App) Settings() *settings.Manager { return a.settings }

// Query runs the projection layer over the store with the given options,
// per §4.8 and §6's egress contract.
func (a *App) Query(opts query.Options) []query.ViewItem {
	return a.projector.Run(a.store, opts)
}

// AtomicOperations aggregates a window of the most recent events into
// atomic operations, per §4.7's Transaction Aggregator.
func (a *App) AtomicOperations(limit int) []types.AtomicOperation {
	pairs := a.store.QueryWithContext(limit, nil) // newest first

	attrsBySequence := make(map[int64]map[string]string, len(pairs))
	events := make([]types.Event, 0, len(pairs))
	seen := make(map[int64]bool, len(pairs))
	for _, p := range pairs {
		if !seen[p.Event.Sequence] {
			seen[p.Event.Sequence] = true
			events = append(events, p.Event)
		}
		if p.Context != nil {
			attrsBySequence[p.Event.Sequence] = p.Context.Attributes
		}
	}

	// The aggregator expects chronological order; QueryWithContext hands
	// back newest-first, so reverse before splitting into transactions.
	chrono := make([]types.Event, len(events))
	for i, e := range events {
		chrono[len(events)-1-i] = e
	}

	attrPtr := func(e types.Event, key string) *string {
		attrs, ok := attrsBySequence[e.Sequence]
		if !ok {
			return nil
		}
		v, ok := attrs[key]
		if !ok {
			return nil
		}
		return &v
	}
	toolCallID := func(e types.Event) *string { return attrPtr(e, "tool_call_id") }
	triggeredBy := func(e types.Event) *string { return attrPtr(e, "triggered_by_tool") }

	return a.aggregator.Aggregate(chrono, toolCallID, triggeredBy, a.settings.Get().Merging.TransactionWindowMs)
}

// RequestSave asks the scheduler to persist the store on its next
// coalesced drain, the way a capture point or settings change signals
// that new dirty state exists.
func (a *App) RequestSave() { a.scheduler.RequestSave() }

// defaultFilterRules seeds the filter engine with no active rules; a host
// supplies its own via Filter().SetRules. An empty rule set allows
// everything by default per §4.3's "no match → accept."
func defaultFilterRules() []types.FilterRule { return nil }
