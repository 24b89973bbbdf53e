// Package store persists runtime-observed operational state that does not
// belong in the declarative Config Store: ACME account keys, per-domain
// certificate backoff counters, build-log indexes, and rate-limiter
// snapshots. It mirrors the teacher's bucket-per-concern BoltDB layout,
// repurposed for this system's own operational records.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketACMEAccount = []byte("acme_account")
	bucketSSLState    = []byte("ssl_state")
	bucketBuildLogs   = []byte("build_logs")
	bucketRateLimits  = []byte("rate_limits")
)

// Store wraps a BoltDB database for operational state.
type Store struct {
	db *bolt.DB
}

// Open creates or opens a BoltDB database at path and ensures every bucket
// this package uses exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketACMEAccount, bucketSSLState, bucketBuildLogs, bucketRateLimits} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

func putJSON(db *bolt.DB, bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, data)
	})
}

func getJSON(db *bolt.DB, bucket, key []byte, v any) (bool, error) {
	var data []byte
	err := db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucket).Get(key)
		if raw != nil {
			data = make([]byte, len(raw))
			copy(data, raw)
		}
		return nil
	})
	if err != nil || data == nil {
		return false, err
	}
	return true, json.Unmarshal(data, v)
}

// ACMEAccount is the ACME account key material, one per installation.
type ACMEAccount struct {
	Email        string `json:"email"`
	KeyPEM       []byte `json:"keyPem"`
	Registration []byte `json:"registration,omitempty"`
}

var acmeAccountKey = []byte("default")

// GetACMEAccount returns the persisted ACME account, if any.
func (s *Store) GetACMEAccount() (ACMEAccount, bool, error) {
	var acct ACMEAccount
	ok, err := getJSON(s.db, bucketACMEAccount, acmeAccountKey, &acct)
	return acct, ok, err
}

// SaveACMEAccount persists the ACME account.
func (s *Store) SaveACMEAccount(acct ACMEAccount) error {
	return putJSON(s.db, bucketACMEAccount, acmeAccountKey, acct)
}

// DomainSSLState is the per-domain certificate state machine position and
// backoff counter, surviving restarts so a crash mid-backoff doesn't reset
// to an immediate retry storm.
type DomainSSLState struct {
	Domain      string    `json:"domain"`
	Phase       string    `json:"phase"` // fresh, requested, issued, saved
	Failures    int       `json:"failures"`
	NextAttempt time.Time `json:"nextAttempt"`
	LastError   string    `json:"lastError,omitempty"`
}

// GetSSLState returns the persisted state for domain, if any.
func (s *Store) GetSSLState(domain string) (DomainSSLState, bool, error) {
	var st DomainSSLState
	ok, err := getJSON(s.db, bucketSSLState, []byte(domain), &st)
	return st, ok, err
}

// SaveSSLState persists the state for a domain.
func (s *Store) SaveSSLState(st DomainSSLState) error {
	return putJSON(s.db, bucketSSLState, []byte(st.Domain), st)
}

// BuildLogSummary indexes a single git-deploy build for later retrieval; the
// full line-by-line log lives on disk under the app's build-log directory,
// rotated independently.
type BuildLogSummary struct {
	App       string    `json:"app"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	Outcome   string    `json:"outcome"` // success, failed
	LogPath   string    `json:"logPath"`
}

// AppendBuildLog indexes a completed build under its app name and start
// time so the most recent N can be listed without scanning the filesystem.
func (s *Store) AppendBuildLog(entry BuildLogSummary) error {
	key := []byte(fmt.Sprintf("%s::%s", entry.App, entry.StartedAt.UTC().Format(time.RFC3339Nano)))
	return putJSON(s.db, bucketBuildLogs, key, entry)
}

// ListBuildLogs returns up to limit most recent build summaries for an app,
// newest first.
func (s *Store) ListBuildLogs(app string, limit int) ([]BuildLogSummary, error) {
	prefix := []byte(app + "::")
	var out []BuildLogSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBuildLogs).Cursor()
		var raws [][]byte
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			cp := make([]byte, len(v))
			copy(cp, v)
			raws = append(raws, cp)
		}
		for i := len(raws) - 1; i >= 0 && len(out) < limit; i-- {
			var e BuildLogSummary
			if err := json.Unmarshal(raws[i], &e); err == nil {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// RateLimitSnapshot is the DNS Authority's rate-limiter bucket state,
// persisted so a process restart doesn't hand every source a fresh window.
type RateLimitSnapshot struct {
	SavedAt time.Time         `json:"savedAt"`
	Buckets map[string]int    `json:"buckets"`
	Windows map[string]string `json:"windows"` // ip -> RFC3339 window-end
}

var rateLimitKey = []byte("dns")

// SaveRateLimitSnapshot persists the current rate-limiter state.
func (s *Store) SaveRateLimitSnapshot(snap RateLimitSnapshot) error {
	return putJSON(s.db, bucketRateLimits, rateLimitKey, snap)
}

// LoadRateLimitSnapshot returns the persisted rate-limiter state, if any.
func (s *Store) LoadRateLimitSnapshot() (RateLimitSnapshot, bool, error) {
	var snap RateLimitSnapshot
	ok, err := getJSON(s.db, bucketRateLimits, rateLimitKey, &snap)
	return snap, ok, err
}
