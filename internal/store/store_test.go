package store

import (
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "odac.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestACMEAccountRoundTrip(t *testing.T) {
	s := testStore(t)

	if _, ok, err := s.GetACMEAccount(); err != nil || ok {
		t.Fatalf("expected no account initially, ok=%v err=%v", ok, err)
	}

	acct := ACMEAccount{Email: "ops@example.com", KeyPEM: []byte("pem-bytes")}
	if err := s.SaveACMEAccount(acct); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.GetACMEAccount()
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got.Email != acct.Email {
		t.Errorf("Email = %q, want %q", got.Email, acct.Email)
	}
}

func TestSSLStateRoundTrip(t *testing.T) {
	s := testStore(t)

	st := DomainSSLState{Domain: "app.example.com", Phase: "requested", Failures: 2, NextAttempt: time.Now()}
	if err := s.SaveSSLState(st); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.GetSSLState("app.example.com")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got.Phase != "requested" || got.Failures != 2 {
		t.Errorf("got %+v", got)
	}

	if _, ok, err := s.GetSSLState("other.example.com"); err != nil || ok {
		t.Fatalf("expected no state for unknown domain, ok=%v err=%v", ok, err)
	}
}

func TestBuildLogsOrderedNewestFirst(t *testing.T) {
	s := testStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		entry := BuildLogSummary{
			App:       "blog",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			Outcome:   "success",
		}
		if err := s.AppendBuildLog(entry); err != nil {
			t.Fatal(err)
		}
	}
	// unrelated app must not leak into blog's listing
	if err := s.AppendBuildLog(BuildLogSummary{App: "other", StartedAt: base}); err != nil {
		t.Fatal(err)
	}

	logs, err := s.ListBuildLogs("blog", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if !logs[0].StartedAt.After(logs[1].StartedAt) {
		t.Errorf("expected newest first, got %v then %v", logs[0].StartedAt, logs[1].StartedAt)
	}
}

func TestRateLimitSnapshotRoundTrip(t *testing.T) {
	s := testStore(t)

	snap := RateLimitSnapshot{SavedAt: time.Now(), Buckets: map[string]int{"203.0.113.5": 3}}
	if err := s.SaveRateLimitSnapshot(snap); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.LoadRateLimitSnapshot()
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got.Buckets["203.0.113.5"] != 3 {
		t.Errorf("got %+v", got)
	}
}
