package configstore

import "github.com/odac-run/odac/internal/model"

// DomainsAccessor is the typed mutation surface for the domains module.
type DomainsAccessor struct{ s *Store }

// Domains returns the accessor for the domains module.
func (s *Store) Domains() DomainsAccessor { return DomainsAccessor{s: s} }

// Get returns a copy of the domain keyed by fqdn, if present.
func (a DomainsAccessor) Get(fqdn string) (model.Domain, bool) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	d, ok := a.s.doc.Domains[fqdn]
	if !ok {
		return model.Domain{}, false
	}
	cp := *d
	cp.FQDN = fqdn
	return cp, true
}

// List returns every domain record.
func (a DomainsAccessor) List() []model.Domain {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	out := make([]model.Domain, 0, len(a.s.doc.Domains))
	for fqdn, d := range a.s.doc.Domains {
		cp := *d
		cp.FQDN = fqdn
		out = append(out, cp)
	}
	return out
}

// ByApp returns every domain owned by the given app name.
func (a DomainsAccessor) ByApp(appName string) []model.Domain {
	all := a.List()
	out := all[:0]
	for _, d := range all {
		if d.AppID == appName {
			out = append(out, d)
		}
	}
	return out
}

// Put inserts or replaces a domain and marks the module dirty.
func (a DomainsAccessor) Put(fqdn string, d model.Domain) {
	a.s.mu.Lock()
	d.FQDN = ""
	a.s.doc.Domains[fqdn] = &d
	a.s.mu.Unlock()
	a.s.markDirty(ModuleDomains)
}

// Delete removes a domain by fqdn and marks the module dirty.
func (a DomainsAccessor) Delete(fqdn string) bool {
	a.s.mu.Lock()
	_, existed := a.s.doc.Domains[fqdn]
	delete(a.s.doc.Domains, fqdn)
	a.s.mu.Unlock()
	if existed {
		a.s.markDirty(ModuleDomains)
	}
	return existed
}

// Mutate applies fn to the named domain under the write lock.
func (a DomainsAccessor) Mutate(fqdn string, fn func(*model.Domain) bool) bool {
	a.s.mu.Lock()
	d, ok := a.s.doc.Domains[fqdn]
	if !ok {
		a.s.mu.Unlock()
		return false
	}
	changed := fn(d)
	a.s.mu.Unlock()
	if changed {
		a.s.markDirty(ModuleDomains)
	}
	return ok
}
