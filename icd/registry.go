package icd

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
)

// Registry holds every successfully loaded driver for the process, in
// canonical discovery order, plus the primary selection used by single-ICD
// mode. The canonical order is never filtered: selection policy applies
// filters at selection time only, so AvailableICDs indices always line up
// with the indices the rest of the system uses.
type Registry struct {
	logger *slog.Logger

	mu             sync.RWMutex
	icds           []*ICD
	primary        int
	initialized    bool
	preferredIndex int
	preferredPath  string
}

// NewRegistry returns an empty registry. Call SetPreferredIndex or
// SetPreferredPath before Initialize to steer primary selection.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, primary: -1, preferredIndex: -1}
}

// NewStaticRegistry wraps drivers that were loaded (or fabricated) outside
// discovery, applying the normal selection policy. Embedders that manage
// discovery themselves and the cross-package test harnesses use it.
func NewStaticRegistry(logger *slog.Logger, drivers []*ICD) *Registry {
	registry := NewRegistry(logger)
	registry.icds = append(registry.icds, drivers...)
	for i, driver := range registry.icds {
		driver.Index = i
	}
	registry.primary = registry.selectPrimaryLocked()
	registry.initialized = true
	return registry
}

// InitializeRegistry discovers, loads, and selects in one call.
func InitializeRegistry(logger *slog.Logger) (*Registry, error) {
	registry := NewRegistry(logger)
	if err := registry.Initialize(); err != nil {
		return nil, err
	}
	return registry, nil
}

// SetPreferredIndex requests the driver at the given discovery index as
// primary. Calling after initialization has no effect on already-bound
// handles: a native instance is permanently bound to the ICD that created
// it, so the call is logged and ignored.
func (r *Registry) SetPreferredIndex(index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		r.logger.Warn("SetPreferredIndex after initialization is ignored", slog.Int("index", index))
		return
	}
	r.preferredIndex = index
	r.preferredPath = ""
}

// SetPreferredPath requests the driver whose library or manifest path
// matches as primary. Same post-initialization semantics as
// SetPreferredIndex.
func (r *Registry) SetPreferredPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		r.logger.Warn("SetPreferredPath after initialization is ignored", slog.String("path", path))
		return
	}
	r.preferredPath = path
	r.preferredIndex = -1
}

// Initialize runs discovery, loads every candidate, and selects the
// primary. A driver that fails to load is logged and skipped; Initialize
// fails only when nothing loads.
func (r *Registry) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return nil
	}

	candidates := Discover(r.logger)
	if len(candidates) == 0 {
		return ErrManifestNotFound
	}

	for _, candidate := range candidates {
		driver, err := Load(r.logger, candidate)
		if err != nil {
			r.logger.Warn("skipping ICD",
				slog.String("manifest", candidate.Manifest.Path),
				slog.Any("error", err))
			continue
		}
		driver.Index = len(r.icds)
		r.icds = append(r.icds, driver)
	}
	if len(r.icds) == 0 {
		return errors.Wrapf(ErrNoICDLoaded, "%d candidate(s) discovered", len(candidates))
	}

	r.primary = r.selectPrimaryLocked()
	r.initialized = true
	r.logger.Info("ICD registry initialized",
		slog.Int("loaded", len(r.icds)),
		slog.Int("primary", r.primary),
		slog.String("primary_library", r.icds[r.primary].LibraryPath))
	return nil
}

// selectPrimaryLocked applies the selection policy: explicit preference,
// then best hardware driver, then best software driver. "Best" is highest
// advertised API version with discovery order breaking ties.
func (r *Registry) selectPrimaryLocked() int {
	if r.preferredIndex >= 0 && r.preferredIndex < len(r.icds) {
		return r.preferredIndex
	}
	if r.preferredPath != "" {
		for i, driver := range r.icds {
			if driver.LibraryPath == r.preferredPath || driver.ManifestPath == r.preferredPath {
				return i
			}
		}
		r.logger.Warn("preferred ICD not loaded, falling back to policy",
			slog.String("path", r.preferredPath))
	}

	hardwareOnly := PreferHardware()
	best := -1
	for i, driver := range r.icds {
		if hardwareOnly && driver.Software {
			continue
		}
		if best < 0 || driver.APIVersion > r.icds[best].APIVersion {
			best = i
		}
	}
	if best >= 0 {
		return best
	}
	// Only software drivers loaded; take the best of those.
	for i, driver := range r.icds {
		if best < 0 || driver.APIVersion > r.icds[best].APIVersion {
			best = i
		}
	}
	return best
}

// AvailableICDs returns an immutable snapshot of every loaded driver in
// canonical order, software drivers included.
func (r *Registry) AvailableICDs() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, len(r.icds))
	for i, driver := range r.icds {
		infos[i] = driver.Info
	}
	return infos
}

// ICDs returns the loaded drivers in canonical order.
func (r *Registry) ICDs() []*ICD {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ICD, len(r.icds))
	copy(out, r.icds)
	return out
}

// Count returns the number of loaded drivers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.icds)
}

// Primary returns the selected primary driver, or nil before
// initialization.
func (r *Registry) Primary() *ICD {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.primary < 0 || r.primary >= len(r.icds) {
		return nil
	}
	return r.icds[r.primary]
}
