package configstore

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odac-run/odac/internal/model"
)

// DNSAccessor is the typed mutation surface for the dns (zones) module.
type DNSAccessor struct{ s *Store }

// DNS returns the accessor for the dns module.
func (s *Store) DNS() DNSAccessor { return DNSAccessor{s: s} }

// Zone returns a copy of the zone keyed by apex, if present.
func (a DNSAccessor) Zone(apex string) (model.Zone, bool) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	z, ok := a.s.doc.Zones[apex]
	if !ok {
		return model.Zone{}, false
	}
	cp := *z
	cp.Apex = apex
	return cp, true
}

// Zones returns every zone.
func (a DNSAccessor) Zones() []model.Zone {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	out := make([]model.Zone, 0, len(a.s.doc.Zones))
	for apex, z := range a.s.doc.Zones {
		cp := *z
		cp.Apex = apex
		out = append(out, cp)
	}
	return out
}

// EnsureZone creates a zone with a fresh SOA if apex doesn't exist yet.
func (a DNSAccessor) EnsureZone(apex, primary, email string) model.Zone {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if z, ok := a.s.doc.Zones[apex]; ok {
		cp := *z
		cp.Apex = apex
		return cp
	}
	z := &model.Zone{
		SOA: model.SOA{
			Primary: primary,
			Email:   email,
			Serial:  nextSerial(""),
			Refresh: 7200,
			Retry:   3600,
			Expire:  1209600,
			Minimum: 300,
			TTL:     300,
		},
	}
	a.s.doc.Zones[apex] = z
	a.s.markDirtyLocked(ModuleDNS)
	cp := *z
	cp.Apex = apex
	return cp
}

// AddRecord appends or replaces a record in the named zone, bumping the
// zone's SOA serial. When unique is true, any existing record of the same
// (type, name) is replaced; when false, the record is appended alongside
// any others.
func (a DNSAccessor) AddRecord(apex string, rec model.Record) (model.Record, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	z, ok := a.s.doc.Zones[apex]
	if !ok {
		return model.Record{}, fmt.Errorf("zone %q not found", apex)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Unique {
		kept := z.Records[:0]
		for _, existing := range z.Records {
			if existing.Type == rec.Type && existing.Name == rec.Name {
				continue
			}
			kept = append(kept, existing)
		}
		z.Records = append(kept, rec)
	} else {
		z.Records = append(z.Records, rec)
	}
	z.SOA.Serial = nextSerial(z.SOA.Serial)
	a.s.markDirtyLocked(ModuleDNS)
	return rec, nil
}

// DeleteRecords removes records matching (type, name, optional value) from
// the named zone and bumps its SOA serial. A zone whose records collection
// empties keeps its SOA rather than being removed.
func (a DNSAccessor) DeleteRecords(apex string, rrType model.RRType, name string, value string) int {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	z, ok := a.s.doc.Zones[apex]
	if !ok {
		return 0
	}
	kept := z.Records[:0]
	removed := 0
	for _, existing := range z.Records {
		if existing.Type == rrType && existing.Name == name && (value == "" || existing.Value == value) {
			removed++
			continue
		}
		kept = append(kept, existing)
	}
	z.Records = kept
	if removed > 0 {
		z.SOA.Serial = nextSerial(z.SOA.Serial)
		a.s.markDirtyLocked(ModuleDNS)
	}
	return removed
}

// markDirtyLocked marks a module dirty while the caller already holds s.mu.
// It takes the separate dirtyMu, which is safe to acquire while mu is held
// because flush() never acquires mu while holding dirtyMu.
func (s *Store) markDirtyLocked(module string) {
	s.dirtyMu.Lock()
	s.dirty[module] = true
	s.dirtyMu.Unlock()
}

// nextSerial computes the next SOA serial: YYYYMMDD + two-digit counter,
// incrementing the counter on same-day changes and resetting to 01 on a
// new day.
func nextSerial(prev string) string {
	today := time.Now().UTC().Format("20060102")
	if len(prev) == 10 && prev[:8] == today {
		var counter int
		fmt.Sscanf(prev[8:], "%d", &counter)
		return fmt.Sprintf("%s%02d", today, counter+1)
	}
	return today + "01"
}
