// Package identity produces cross-session-stable identifiers for host
// entities and resolves them back to a display name even after the entity
// has been destroyed, by caching a "pre-death will" while it was alive.
package identity

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Kind tags which grammar form an identifier takes.
type Kind int

const (
	KindGOID Kind = iota
	KindScene
	KindAsset
	KindInstance
)

// GOID formats a host-native globally unique identifier, the preferred form.
func GOID(id string) string { return "GOID:" + id }

// Scene formats a scene-relative hierarchy identifier for entities without
// a native global id.
func Scene(scenePath, hierarchyPath string) string {
	return fmt.Sprintf("Scene:%s@%s", scenePath, hierarchyPath)
}

// Asset formats an asset-backed identifier.
func Asset(assetPath string) string { return "Asset:" + assetPath }

// Instance formats a last-resort identifier that is NOT cross-session
// stable; callers should prefer any other form when available.
func Instance(numericID int64) string { return fmt.Sprintf("Instance:%d", numericID) }

// will is the cached pair kept alive for an instance while it's tracked, so
// that events emitted after destruction still carry a stable identity and
// display name.
type will struct {
	name     string
	globalID string
}

// Tracker maintains, for the lifetime of observed host entities, two caches
// keyed by transient instance id: a name cache and a global-id cache. On
// destruction it moves the cached pair into a separate destroyed set rather
// than erasing it, so identity resolution for already-in-flight events
// keeps working.
type Tracker struct {
	mu        sync.RWMutex
	alive     map[int64]will
	destroyed map[int64]will
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		alive:     make(map[int64]will),
		destroyed: make(map[int64]will),
	}
}

// Observe records or updates the (name, globalID) pair for a live instance.
// Call this whenever the host reports the entity so the cache stays fresh
// right up to the moment of destruction. When the host has no native global
// id to report, pass an empty globalID: the Tracker mints a synthetic one
// (a UUID under the GOID grammar) on first Observe and keeps reusing it, so
// the identifier stays stable across the instance's lifetime even without
// host support for one.
func (t *Tracker) Observe(instanceID int64, name, globalID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if globalID == "" {
		globalID = t.existingGlobalIDLocked(instanceID)
	}
	if globalID == "" {
		globalID = GOID(uuid.NewString())
	}
	t.alive[instanceID] = will{name: name, globalID: globalID}
}

func (t *Tracker) existingGlobalIDLocked(instanceID int64) string {
	if w, ok := t.alive[instanceID]; ok {
		return w.globalID
	}
	if w, ok := t.destroyed[instanceID]; ok {
		return w.globalID
	}
	return ""
}

// Destroy marks an instance destroyed, moving its cached will from the
// alive set to the destroyed set. Safe to call more than once; a second
// call on an already-destroyed instance is a no-op.
func (t *Tracker) Destroy(instanceID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.alive[instanceID]
	if !ok {
		return
	}
	delete(t.alive, instanceID)
	t.destroyed[instanceID] = w
}

// GlobalID resolves an instance id to its stable global id, checking the
// alive set first and falling back to the destroyed will. Returns ("", false)
// if the instance was never observed.
func (t *Tracker) GlobalID(instanceID int64) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if w, ok := t.alive[instanceID]; ok {
		return w.globalID, true
	}
	if w, ok := t.destroyed[instanceID]; ok {
		return w.globalID, true
	}
	return "", false
}

// DisplayName resolves an instance id to its cached display name, alive or
// destroyed. Returns "Unknown" if the instance was never observed — this is
// the one case where the will cache can't help.
func (t *Tracker) DisplayName(instanceID int64) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if w, ok := t.alive[instanceID]; ok {
		return w.name
	}
	if w, ok := t.destroyed[instanceID]; ok {
		return w.name
	}
	return "Unknown"
}

// IsDestroyed reports whether the instance has a recorded destruction.
func (t *Tracker) IsDestroyed(instanceID int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.destroyed[instanceID]
	return ok
}

// Forget permanently drops an instance from both caches. Used to bound
// memory for long-running sessions with high entity churn; callers should
// only forget instances they're certain no in-flight event still
// references.
func (t *Tracker) Forget(instanceID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.alive, instanceID)
	delete(t.destroyed, instanceID)
}

// Stats reports cache occupancy for diagnostics.
type Stats struct {
	Alive     int
	Destroyed int
}

func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Stats{Alive: len(t.alive), Destroyed: len(t.destroyed)}
}
