package configstore

import (
	"sort"

	"github.com/odac-run/odac/internal/model"
)

// AppsAccessor is the typed mutation surface for the apps module. Every
// method that changes state marks the module dirty; nothing outside this
// file reaches into doc.Apps directly.
type AppsAccessor struct{ s *Store }

// Apps returns the accessor for the apps module.
func (s *Store) Apps() AppsAccessor { return AppsAccessor{s: s} }

// Get returns a copy of the named app, if present.
func (a AppsAccessor) Get(name string) (model.App, bool) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	app, ok := a.s.doc.Apps[name]
	if !ok {
		return model.App{}, false
	}
	return *app, true
}

// List returns every app, sorted by ID for stable iteration (e.g. the
// watchdog tick and the Control API's app.list action).
func (a AppsAccessor) List() []model.App {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	out := make([]model.App, 0, len(a.s.doc.Apps))
	for _, app := range a.s.doc.Apps {
		out = append(out, *app)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextID returns max(id)+1 across all apps, per the spec's monotonic ID
// invariant.
func (a AppsAccessor) NextID() int {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	max := 0
	for _, app := range a.s.doc.Apps {
		if app.ID > max {
			max = app.ID
		}
	}
	return max + 1
}

// Put inserts or replaces an app by name and marks the module dirty.
func (a AppsAccessor) Put(app model.App) {
	a.s.mu.Lock()
	a.s.doc.Apps[app.Name] = &app
	a.s.mu.Unlock()
	a.s.markDirty(ModuleApps)
}

// Delete removes an app by name and marks the module dirty. Returns false
// if no such app existed.
func (a AppsAccessor) Delete(name string) bool {
	a.s.mu.Lock()
	_, existed := a.s.doc.Apps[name]
	delete(a.s.doc.Apps, name)
	a.s.mu.Unlock()
	if existed {
		a.s.markDirty(ModuleApps)
	}
	return existed
}

// Mutate applies fn to the named app under the write lock and marks the
// module dirty, so callers don't need to re-implement the read-modify-Put
// cycle for every field update (status transitions, port discovery, IP
// caching).
func (a AppsAccessor) Mutate(name string, fn func(*model.App) bool) bool {
	a.s.mu.Lock()
	app, ok := a.s.doc.Apps[name]
	if !ok {
		a.s.mu.Unlock()
		return false
	}
	changed := fn(app)
	a.s.mu.Unlock()
	if changed {
		a.s.markDirty(ModuleApps)
	}
	return ok
}
