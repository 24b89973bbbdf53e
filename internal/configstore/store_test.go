package configstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/odac-run/odac/internal/clock"
	"github.com/odac-run/odac/internal/logging"
	"github.com/odac-run/odac/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, logging.New(false), clock.Real{})
	if err != nil {
		t.Fatalf("Open(%q): %v", dir, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppsPutGetDelete(t *testing.T) {
	s := testStore(t)

	s.Apps().Put(model.App{ID: 1, Name: "blog", Type: model.AppTypeGit, Status: model.StatusStarting})

	app, ok := s.Apps().Get("blog")
	if !ok {
		t.Fatal("expected app to exist")
	}
	if app.ID != 1 || app.Status != model.StatusStarting {
		t.Errorf("got %+v", app)
	}

	if !s.Apps().Delete("blog") {
		t.Error("expected delete to report existing app")
	}
	if _, ok := s.Apps().Get("blog"); ok {
		t.Error("expected app to be gone")
	}
}

func TestAppsNextIDMonotonic(t *testing.T) {
	s := testStore(t)
	if got := s.Apps().NextID(); got != 1 {
		t.Fatalf("NextID on empty store = %d, want 1", got)
	}
	s.Apps().Put(model.App{ID: 1, Name: "a"})
	s.Apps().Put(model.App{ID: 5, Name: "b"})
	if got := s.Apps().NextID(); got != 6 {
		t.Errorf("NextID = %d, want 6", got)
	}
}

func TestAppsMutate(t *testing.T) {
	s := testStore(t)
	s.Apps().Put(model.App{ID: 1, Name: "a", Status: model.StatusStarting})

	ok := s.Apps().Mutate("a", func(app *model.App) bool {
		app.Status = model.StatusRunning
		return true
	})
	if !ok {
		t.Fatal("expected Mutate to find app")
	}
	app, _ := s.Apps().Get("a")
	if app.Status != model.StatusRunning {
		t.Errorf("status = %s, want running", app.Status)
	}

	if s.Apps().Mutate("missing", func(*model.App) bool { return true }) {
		t.Error("expected Mutate on missing app to return false")
	}
}

func TestDomainsFoldedSubdomain(t *testing.T) {
	s := testStore(t)
	s.Domains().Put("example.com", model.Domain{AppID: "blog"})

	ok := s.Domains().Mutate("example.com", func(d *model.Domain) bool {
		d.Subdomain = append(d.Subdomain, "www")
		return true
	})
	if !ok {
		t.Fatal("expected mutate to find domain")
	}

	d, _ := s.Domains().Get("example.com")
	if len(d.Subdomain) != 1 || d.Subdomain[0] != "www" {
		t.Errorf("got subdomains %+v", d.Subdomain)
	}
}

func TestDomainsByApp(t *testing.T) {
	s := testStore(t)
	s.Domains().Put("a.com", model.Domain{AppID: "blog"})
	s.Domains().Put("b.com", model.Domain{AppID: "shop"})
	s.Domains().Put("c.com", model.Domain{AppID: "blog"})

	got := s.Domains().ByApp("blog")
	if len(got) != 2 {
		t.Errorf("ByApp(blog) = %d domains, want 2", len(got))
	}
}

func TestDNSZoneSerialIncrementsSameDay(t *testing.T) {
	s := testStore(t)
	z := s.DNS().EnsureZone("example.com", "ns1.example.com", "hostmaster@example.com")
	first := z.SOA.Serial

	if _, err := s.DNS().AddRecord("example.com", model.Record{Type: model.RRTypeA, Name: "@", Value: "1.2.3.4", TTL: 300, Unique: true}); err != nil {
		t.Fatal(err)
	}
	z2, _ := s.DNS().Zone("example.com")
	if z2.SOA.Serial == first {
		t.Errorf("expected serial to bump, stayed at %s", first)
	}
	if len(z2.Records) != 1 {
		t.Errorf("expected 1 record, got %d", len(z2.Records))
	}
}

func TestDNSAddRecordUniqueReplaces(t *testing.T) {
	s := testStore(t)
	s.DNS().EnsureZone("example.com", "ns1.example.com", "hostmaster@example.com")

	rec := model.Record{Type: model.RRTypeA, Name: "@", Value: "1.1.1.1", TTL: 300, Unique: true}
	if _, err := s.DNS().AddRecord("example.com", rec); err != nil {
		t.Fatal(err)
	}
	rec.Value = "2.2.2.2"
	if _, err := s.DNS().AddRecord("example.com", rec); err != nil {
		t.Fatal(err)
	}

	z, _ := s.DNS().Zone("example.com")
	if len(z.Records) != 1 || z.Records[0].Value != "2.2.2.2" {
		t.Errorf("expected single replaced record, got %+v", z.Records)
	}
}

func TestDNSAddRecordNonUniqueAppends(t *testing.T) {
	s := testStore(t)
	s.DNS().EnsureZone("example.com", "ns1.example.com", "hostmaster@example.com")

	for _, v := range []string{"1.1.1.1", "2.2.2.2"} {
		rec := model.Record{Type: model.RRTypeA, Name: "@", Value: v, TTL: 300, Unique: false}
		if _, err := s.DNS().AddRecord("example.com", rec); err != nil {
			t.Fatal(err)
		}
	}
	z, _ := s.DNS().Zone("example.com")
	if len(z.Records) != 2 {
		t.Errorf("expected 2 records, got %d", len(z.Records))
	}
}

func TestDNSDeleteRecordsKeepsZone(t *testing.T) {
	s := testStore(t)
	s.DNS().EnsureZone("example.com", "ns1.example.com", "hostmaster@example.com")
	s.DNS().AddRecord("example.com", model.Record{Type: model.RRTypeA, Name: "@", Value: "1.1.1.1", TTL: 300, Unique: true})

	removed := s.DNS().DeleteRecords("example.com", model.RRTypeA, "@", "")
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	z, ok := s.DNS().Zone("example.com")
	if !ok {
		t.Fatal("expected zone to still exist after emptying records")
	}
	if len(z.Records) != 0 {
		t.Errorf("expected empty records, got %d", len(z.Records))
	}
}

func TestWriteModuleAtomicAndRecoverable(t *testing.T) {
	s := testStore(t)
	s.Apps().Put(model.App{ID: 1, Name: "a"})
	s.Force()

	path := s.modulePath(ModuleApps)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected module file to exist: %v", err)
	}

	// Corrupt the main file; a fresh Open should fall back to .bak once one
	// exists, and otherwise quarantine and default.
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(s.dir, logging.New(false), clock.Real{})
	if err != nil {
		t.Fatalf("Open after corruption: %v", err)
	}
	defer s2.Close()

	if _, err := os.Stat(filepath.Join(s.dir, ModuleApps+".json.corrupted")); err != nil {
		t.Errorf("expected corrupted file to be quarantined: %v", err)
	}
}

func TestForceFlushesImmediately(t *testing.T) {
	s := testStore(t)
	s.Server().Put(model.Server{PID: 123, Started: time.Now()})
	s.Force()

	data, err := os.ReadFile(s.modulePath(ModuleServer))
	if err != nil {
		t.Fatalf("expected server module on disk after Force: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty server module file")
	}
}
