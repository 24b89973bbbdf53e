package domains

import (
	"context"
	"testing"
	"time"

	"github.com/odac-run/odac/internal/clock"
	"github.com/odac-run/odac/internal/configstore"
	"github.com/odac-run/odac/internal/events"
	"github.com/odac-run/odac/internal/logging"
	"github.com/odac-run/odac/internal/model"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time                        { return c.t }
func (c fixedClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }
func (c fixedClock) Since(t time.Time) time.Duration       { return c.t.Sub(t) }

// fakeDNS stands in for the DNS Authority: it records zone/record calls
// without any real resolver behind it.
type fakeDNS struct {
	zones   map[string]model.Zone
	records map[string][]model.Record // apex -> records
	deletes []string                  // "apex:type:name:value"
	v4, v6  string
}

func newFakeDNS() *fakeDNS {
	return &fakeDNS{zones: map[string]model.Zone{}, records: map[string][]model.Record{}, v4: "203.0.113.9", v6: "2001:db8::1"}
}

func (f *fakeDNS) EnsureZone(apex, primaryNS, hostmaster string) model.Zone {
	if z, ok := f.zones[apex]; ok {
		return z
	}
	z := model.Zone{Apex: apex, SOA: model.SOA{Primary: primaryNS, Email: hostmaster, Serial: "2026073101"}}
	f.zones[apex] = z
	return z
}

func (f *fakeDNS) Record(apex string, rec model.Record) (model.Record, error) {
	if rec.Unique {
		kept := f.records[apex][:0]
		for _, existing := range f.records[apex] {
			if existing.Type == rec.Type && existing.Name == rec.Name {
				continue
			}
			kept = append(kept, existing)
		}
		f.records[apex] = append(kept, rec)
	} else {
		f.records[apex] = append(f.records[apex], rec)
	}
	return rec, nil
}

func (f *fakeDNS) Delete(apex string, rrType model.RRType, name, value string) int {
	kept := f.records[apex][:0]
	removed := 0
	for _, existing := range f.records[apex] {
		if existing.Type == rrType && existing.Name == name && (value == "" || existing.Value == value) {
			removed++
			f.deletes = append(f.deletes, apex+":"+string(rrType)+":"+name)
			continue
		}
		kept = append(kept, existing)
	}
	f.records[apex] = kept
	return removed
}

func (f *fakeDNS) PublicIPs() (string, string) { return f.v4, f.v6 }

type fakeSSL struct{ renewed []string }

func (f *fakeSSL) RequestRenewal(ctx context.Context, domain string) { f.renewed = append(f.renewed, domain) }

type fakeProxy struct{ triggers []string }

func (f *fakeProxy) Trigger(reason string) { f.triggers = append(f.triggers, reason) }

func testManager(t *testing.T) (*Manager, *fakeDNS, *fakeSSL, *fakeProxy) {
	t.Helper()
	cs, err := configstore.Open(t.TempDir(), logging.New(false), clock.Real{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	cs.Apps().Put(model.App{Name: "blog", Active: true, Status: model.StatusRunning})

	dns := newFakeDNS()
	ssl := &fakeSSL{}
	proxy := &fakeProxy{}
	cfg := Config{PrimaryNS: "ns1.odac.run", Hostmaster: "hostmaster.odac.run", DefaultTTL: 300}
	mgr := New(cfg, cs, dns, ssl, proxy, events.New(), logging.New(false), fixedClock{t: time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)})
	return mgr, dns, ssl, proxy
}

func TestAddTopLevelDomainCreatesFullRecordSet(t *testing.T) {
	mgr, dns, ssl, proxy := testManager(t)

	dom, err := mgr.Add(context.Background(), "https://www.Example.com/", "blog")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if dom.FQDN != "example.com" {
		t.Errorf("FQDN = %q, want normalized example.com", dom.FQDN)
	}

	recs := dns.records["example.com"]
	wantTypes := map[model.RRType]int{
		model.RRTypeA: 1, model.RRTypeAAAA: 1, model.RRTypeCNAME: 1, model.RRTypeMX: 1, model.RRTypeTXT: 2,
	}
	got := map[model.RRType]int{}
	for _, r := range recs {
		got[r.Type]++
	}
	for rrType, want := range wantTypes {
		if got[rrType] != want {
			t.Errorf("record count for %s = %d, want %d", rrType, got[rrType], want)
		}
	}

	var spf string
	for _, r := range recs {
		if r.Type == model.RRTypeTXT && r.Name == "@" {
			spf = r.Value
		}
	}
	if spf != "v=spf1 a mx ip4:203.0.113.9 ip6:2001:db8::1 ~all" {
		t.Errorf("spf record = %q", spf)
	}

	if len(ssl.renewed) != 1 || ssl.renewed[0] != "example.com" {
		t.Errorf("ssl renewal = %v, want [example.com]", ssl.renewed)
	}
	if len(proxy.triggers) != 1 {
		t.Errorf("proxy triggers = %v, want exactly one", proxy.triggers)
	}
}

func TestAddRejectsInvalidDomains(t *testing.T) {
	mgr, _, _, _ := testManager(t)
	cases := []string{"ab", "has a/slash.com", "../etc.com", "nodot"}
	for _, c := range cases {
		if _, err := mgr.Add(context.Background(), c, "blog"); err == nil {
			t.Errorf("Add(%q) = nil error, want rejection", c)
		}
	}
}

func TestAddRejectsUnknownApp(t *testing.T) {
	mgr, _, _, _ := testManager(t)
	if _, err := mgr.Add(context.Background(), "example.com", "ghost"); err == nil {
		t.Error("expected rejection for unknown app")
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	mgr, _, _, _ := testManager(t)
	if _, err := mgr.Add(context.Background(), "example.com", "blog"); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if _, err := mgr.Add(context.Background(), "example.com", "blog"); err == nil {
		t.Error("expected rejection of duplicate domain")
	}
}

func TestAddFoldsSubdomainUnderSameAppOwnedParent(t *testing.T) {
	mgr, dns, ssl, proxy := testManager(t)
	if _, err := mgr.Add(context.Background(), "example.com", "blog"); err != nil {
		t.Fatalf("parent Add: %v", err)
	}
	ssl.renewed = nil
	proxy.triggers = nil

	dom, err := mgr.Add(context.Background(), "api.example.com", "blog")
	if err != nil {
		t.Fatalf("subdomain Add: %v", err)
	}
	if dom.FQDN != "example.com" || len(dom.Subdomain) != 1 || dom.Subdomain[0] != "api" {
		t.Errorf("subdomain not folded correctly: %+v", dom)
	}

	var foundCNAME bool
	for _, r := range dns.records["example.com"] {
		if r.Type == model.RRTypeCNAME && r.Name == "api" && r.Value == "example.com" {
			foundCNAME = true
		}
	}
	if !foundCNAME {
		t.Error("expected a CNAME record for the folded subdomain")
	}
	if len(ssl.renewed) != 1 || ssl.renewed[0] != "example.com" {
		t.Errorf("expected parent renewal, got %v", ssl.renewed)
	}
	if len(proxy.triggers) != 1 {
		t.Error("expected exactly one proxy trigger for the fold")
	}

	// Still no separate Domain record for the subdomain itself.
	if _, ok := mgr.store.Domains().Get("api.example.com"); ok {
		t.Error("subdomain should not be stored as its own Domain")
	}
}

func TestAddSubdomainOfOtherAppsDomainCreatesSeparateDomain(t *testing.T) {
	mgr, _, _, _ := testManager(t)
	mgr.store.Apps().Put(model.App{Name: "shop", Active: true, Status: model.StatusRunning})
	if _, err := mgr.Add(context.Background(), "example.com", "blog"); err != nil {
		t.Fatalf("parent Add: %v", err)
	}

	dom, err := mgr.Add(context.Background(), "shop.example.com", "shop")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if dom.FQDN != "shop.example.com" {
		t.Errorf("expected a standalone domain for a different app's subdomain, got %+v", dom)
	}
}

func TestDeleteTopLevelDomainRemovesAllRecords(t *testing.T) {
	mgr, dns, _, proxy := testManager(t)
	if _, err := mgr.Add(context.Background(), "example.com", "blog"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	proxy.triggers = nil

	if err := mgr.Delete(context.Background(), "example.com"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(dns.records["example.com"]) != 0 {
		t.Errorf("expected all records removed, got %v", dns.records["example.com"])
	}
	if _, ok := mgr.store.Domains().Get("example.com"); ok {
		t.Error("expected Domain record to be removed")
	}
	if len(proxy.triggers) != 1 {
		t.Error("expected exactly one proxy trigger for the delete")
	}
}

func TestDeleteSubdomainUnfoldsAndRenewsParent(t *testing.T) {
	mgr, dns, ssl, _ := testManager(t)
	if _, err := mgr.Add(context.Background(), "example.com", "blog"); err != nil {
		t.Fatalf("parent Add: %v", err)
	}
	if _, err := mgr.Add(context.Background(), "api.example.com", "blog"); err != nil {
		t.Fatalf("subdomain Add: %v", err)
	}
	ssl.renewed = nil

	if err := mgr.Delete(context.Background(), "api.example.com"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	parent, _ := mgr.store.Domains().Get("example.com")
	if len(parent.Subdomain) != 0 {
		t.Errorf("expected subdomain label removed, got %v", parent.Subdomain)
	}
	for _, r := range dns.records["example.com"] {
		if r.Type == model.RRTypeCNAME && r.Name == "api" {
			t.Error("expected CNAME for removed subdomain to be deleted")
		}
	}
	if len(ssl.renewed) != 1 || ssl.renewed[0] != "example.com" {
		t.Errorf("expected parent re-renewal, got %v", ssl.renewed)
	}
}

func TestDeleteByAppCascades(t *testing.T) {
	mgr, _, _, _ := testManager(t)
	if _, err := mgr.Add(context.Background(), "example.com", "blog"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := mgr.Add(context.Background(), "blog-two.net", "blog"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := mgr.DeleteByApp(context.Background(), "blog"); err != nil {
		t.Fatalf("DeleteByApp: %v", err)
	}
	if len(mgr.store.Domains().ByApp("blog")) != 0 {
		t.Error("expected all of the app's domains removed")
	}
}
