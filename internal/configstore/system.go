package configstore

import "github.com/odac-run/odac/internal/model"

// SSLAccessor is the typed mutation surface for the system self-signed
// fallback certificate.
type SSLAccessor struct{ s *Store }

// SSL returns the accessor for the ssl module.
func (s *Store) SSL() SSLAccessor { return SSLAccessor{s: s} }

// Get returns the current system fallback certificate.
func (a SSLAccessor) Get() model.SSLMaterial {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	return a.s.doc.SSL
}

// Put replaces the system fallback certificate.
func (a SSLAccessor) Put(m model.SSLMaterial) {
	a.s.mu.Lock()
	a.s.doc.SSL = m
	a.s.mu.Unlock()
	a.s.markDirty(ModuleSSL)
}

// ServerAccessor is the typed mutation surface for the singleton server record.
type ServerAccessor struct{ s *Store }

// Server returns the accessor for the server module.
func (s *Store) Server() ServerAccessor { return ServerAccessor{s: s} }

// Get returns the current server record.
func (a ServerAccessor) Get() model.Server {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	return a.s.doc.Server
}

// Put replaces the server record.
func (a ServerAccessor) Put(sv model.Server) {
	a.s.mu.Lock()
	a.s.doc.Server = sv
	a.s.mu.Unlock()
	a.s.markDirty(ModuleServer)
}

// Touch updates only the watchdog heartbeat timestamp.
func (a ServerAccessor) Touch(ts model.Server) {
	a.s.mu.Lock()
	a.s.doc.Server.Watchdog = ts.Watchdog
	a.s.mu.Unlock()
	a.s.markDirty(ModuleServer)
}

// FirewallAccessor is the typed mutation surface for firewall policy.
type FirewallAccessor struct{ s *Store }

// Firewall returns the accessor for the firewall module.
func (s *Store) Firewall() FirewallAccessor { return FirewallAccessor{s: s} }

// Get returns the current firewall policy.
func (a FirewallAccessor) Get() model.Firewall {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	return a.s.doc.Firewall
}

// Put replaces the firewall policy.
func (a FirewallAccessor) Put(fw model.Firewall) {
	a.s.mu.Lock()
	a.s.doc.Firewall = fw
	a.s.mu.Unlock()
	a.s.markDirty(ModuleFirewall)
}

// APIAccessor is the typed mutation surface for the root API auth record.
type APIAccessor struct{ s *Store }

// API returns the accessor for the api module.
func (s *Store) API() APIAccessor { return APIAccessor{s: s} }

// Get returns the current API auth record.
func (a APIAccessor) Get() model.APIAuth {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	return a.s.doc.API
}

// Put replaces the API auth record.
func (a APIAccessor) Put(auth model.APIAuth) {
	a.s.mu.Lock()
	a.s.doc.API = auth
	a.s.mu.Unlock()
	a.s.markDirty(ModuleAPI)
}

// ServicesAccessor is the typed mutation surface for third-party managed
// container services.
type ServicesAccessor struct{ s *Store }

// Services returns the accessor for the services module.
func (s *Store) Services() ServicesAccessor { return ServicesAccessor{s: s} }

// List returns every service.
func (a ServicesAccessor) List() []model.Service {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	out := make([]model.Service, 0, len(a.s.doc.Services))
	for _, svc := range a.s.doc.Services {
		out = append(out, *svc)
	}
	return out
}

// Put inserts or replaces a service by name.
func (a ServicesAccessor) Put(svc model.Service) {
	a.s.mu.Lock()
	a.s.doc.Services[svc.Name] = &svc
	a.s.mu.Unlock()
	a.s.markDirty(ModuleServices)
}

// Delete removes a service by name.
func (a ServicesAccessor) Delete(name string) bool {
	a.s.mu.Lock()
	_, existed := a.s.doc.Services[name]
	delete(a.s.doc.Services, name)
	a.s.mu.Unlock()
	if existed {
		a.s.markDirty(ModuleServices)
	}
	return existed
}

// MailAccessor is the typed mutation surface for managed mailbox accounts.
type MailAccessor struct{ s *Store }

// Mail returns the accessor for the mail module.
func (s *Store) Mail() MailAccessor { return MailAccessor{s: s} }

// Get returns an account by address.
func (a MailAccessor) Get(address string) (model.MailAccount, bool) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	acc, ok := a.s.doc.Mail[address]
	if !ok {
		return model.MailAccount{}, false
	}
	return *acc, true
}

// List returns every mail account.
func (a MailAccessor) List() []model.MailAccount {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	out := make([]model.MailAccount, 0, len(a.s.doc.Mail))
	for _, acc := range a.s.doc.Mail {
		out = append(out, *acc)
	}
	return out
}

// Put inserts or replaces an account by address.
func (a MailAccessor) Put(acc model.MailAccount) {
	a.s.mu.Lock()
	a.s.doc.Mail[acc.Address] = &acc
	a.s.mu.Unlock()
	a.s.markDirty(ModuleMail)
}

// Delete removes an account by address.
func (a MailAccessor) Delete(address string) bool {
	a.s.mu.Lock()
	_, existed := a.s.doc.Mail[address]
	delete(a.s.doc.Mail, address)
	a.s.mu.Unlock()
	if existed {
		a.s.markDirty(ModuleMail)
	}
	return existed
}
