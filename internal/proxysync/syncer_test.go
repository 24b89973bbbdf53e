package proxysync

import (
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/odac-run/odac/internal/logging"
	"github.com/odac-run/odac/internal/model"
)

// mockClock's After returns immediately so retry backoffs don't actually
// sleep under test.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time { c.mu.Lock(); defer c.mu.Unlock(); return c.now }
func (c *mockClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}
func (c *mockClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(t)
}

// recordingDataPlane is a minimal unix-socket HTTP server standing in for
// the real odac-proxy binary: it just records every document it receives.
type recordingDataPlane struct {
	mu    sync.Mutex
	docs  []Document
	ln    net.Listener
	srv   *http.Server
}

func startRecordingDataPlane(t *testing.T, socketPath string) *recordingDataPlane {
	t.Helper()
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen unix: %v", err)
	}
	d := &recordingDataPlane{ln: ln}
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		var doc Document
		_ = json.NewDecoder(r.Body).Decode(&doc)
		d.mu.Lock()
		d.docs = append(d.docs, doc)
		d.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	d.srv = &http.Server{Handler: mux}
	go d.srv.Serve(ln)
	t.Cleanup(func() { d.srv.Close() })
	return d
}

func (d *recordingDataPlane) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.docs)
}

func TestSyncerPostsDocumentOverUnixSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "proxy.sock")
	dp := startRecordingDataPlane(t, socketPath)

	cs := testStore(t)
	cs.Apps().Put(model.App{Name: "blog", Ports: []model.PortMapping{{Host: 80, Container: 3000}}})
	cs.Domains().Put("example.com", model.Domain{AppID: "blog"})

	s := New(Config{SocketPath: socketPath, DefaultPort: 3000}, cs, &fakeDocker{}, logging.New(false), &mockClock{now: time.Now()})
	s.Trigger("test")

	waitFor(t, func() bool { return dp.count() >= 1 })
}

func TestSyncerCoalescesConcurrentTriggers(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "proxy.sock")
	dp := startRecordingDataPlane(t, socketPath)
	cs := testStore(t)

	s := New(Config{SocketPath: socketPath, DefaultPort: 3000}, cs, &fakeDocker{}, logging.New(false), &mockClock{now: time.Now()})
	for i := 0; i < 10; i++ {
		s.Trigger("burst")
	}

	waitFor(t, func() bool { return dp.count() >= 1 })
	// Give the coalesced run loop a moment to settle; it should not have
	// queued ten independent pushes for ten near-simultaneous triggers.
	time.Sleep(50 * time.Millisecond)
	if dp.count() > 2 {
		t.Errorf("expected triggers to coalesce, got %d syncs for 10 triggers", dp.count())
	}
}

func TestSyncerRetriesOnConnectionRefused(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "proxy.sock")
	// Nothing listens here: every attempt should hit ENOENT/ECONNREFUSED.
	cs := testStore(t)
	clk := &mockClock{now: time.Now()}
	s := New(Config{SocketPath: socketPath, DefaultPort: 3000}, cs, &fakeDocker{}, logging.New(false), clk)

	err := s.postWithRetry(Document{Domains: map[string]Entry{}})
	if err == nil {
		t.Fatal("expected an error when nothing is listening")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition was not met in time")
}
