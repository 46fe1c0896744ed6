/*
Copyright 2017 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tracker persists the set of DNS records this instance owns
// across restarts, plus the preservation list and per-record orphan
// state. It is the only component in the engine that owns on-disk state.
package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
)

const schema = `
CREATE TABLE IF NOT EXISTS dns_tracked_records (
	fingerprint     TEXT PRIMARY KEY,
	provider        TEXT NOT NULL,
	zone            TEXT NOT NULL,
	type            TEXT NOT NULL,
	name            TEXT NOT NULL,
	content_hash    TEXT NOT NULL,
	source          TEXT NOT NULL,
	first_seen      TIMESTAMP NOT NULL,
	last_confirmed  TIMESTAMP NOT NULL,
	is_orphaned     INTEGER NOT NULL DEFAULT 0,
	orphaned_since  TIMESTAMP,
	metadata_json   TEXT
);

CREATE TABLE IF NOT EXISTS orphaned_records_history (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	type            TEXT NOT NULL,
	name            TEXT NOT NULL,
	deleted_at      TIMESTAMP NOT NULL,
	deletion_reason TEXT
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const (
	settingsKeyPreserved = "preservedHostnames"
	settingsKeyManaged   = "managedHostnames"
)

// Entry mirrors one row of dns_tracked_records.
type Entry struct {
	Fingerprint   endpoint.Fingerprint
	Source        endpoint.SourceKind
	FirstSeen     time.Time
	LastConfirmed time.Time
	IsOrphaned    bool
	OrphanedSince *time.Time
	Metadata      map[string]string
}

// Tracker is the persistent fingerprint ownership set (C3).
type Tracker struct {
	db *sql.DB

	mu        sync.RWMutex
	preserved []string
	managed   []string
}

// Open opens (creating if absent) the SQLite database at path and runs the
// embedded schema migration, then hydrates the preservation list.
func Open(ctx context.Context, path string) (*Tracker, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tracker: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite has no internal connection pool story

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracker: migrate schema: %w", err)
	}

	t := &Tracker{db: db}
	if err := t.hydrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tracker) Close() error { return t.db.Close() }

func (t *Tracker) hydrate(ctx context.Context) error {
	preserved, err := t.loadSetting(ctx, settingsKeyPreserved)
	if err != nil {
		return err
	}
	managed, err := t.loadSetting(ctx, settingsKeyManaged)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.preserved = preserved
	t.managed = managed
	t.mu.Unlock()
	return nil
}

func (t *Tracker) loadSetting(ctx context.Context, key string) ([]string, error) {
	var raw string
	err := t.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tracker: load setting %s: %w", key, err)
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("tracker: decode setting %s: %w", key, err)
	}
	return list, nil
}

func (t *Tracker) saveSetting(ctx context.Context, key string, list []string) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	_, err = t.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, string(raw))
	return err
}

// IsTracked reports whether fp has a live row (tracked, not deleted).
func (t *Tracker) IsTracked(ctx context.Context, fp endpoint.Fingerprint) (bool, error) {
	var n int
	err := t.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM dns_tracked_records WHERE fingerprint = ?`, fp.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("tracker: isTracked: %w", err)
	}
	return n > 0, nil
}

// Track inserts or refreshes the tracked row for fp, bumping
// last_confirmed and clearing any orphan state (a re-demanded record is no
// longer orphaned).
func (t *Tracker) Track(ctx context.Context, fp endpoint.Fingerprint, source endpoint.SourceKind) error {
	now := time.Now().UTC()
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO dns_tracked_records
			(fingerprint, provider, zone, type, name, content_hash, source, first_seen, last_confirmed, is_orphaned, orphaned_since)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL)
		ON CONFLICT(fingerprint) DO UPDATE SET
			last_confirmed = excluded.last_confirmed,
			source = excluded.source,
			is_orphaned = 0,
			orphaned_since = NULL`,
		fp.String(), fp.Provider, fp.Zone, fp.Type, fp.Name, fp.Content, string(source), now, now)
	if err != nil {
		return fmt.Errorf("tracker: track %s: %w", fp, err)
	}
	return nil
}

// Untrack permanently removes fp's row (called after a successful
// deletion).
func (t *Tracker) Untrack(ctx context.Context, fp endpoint.Fingerprint) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM dns_tracked_records WHERE fingerprint = ?`, fp.String())
	if err != nil {
		return fmt.Errorf("tracker: untrack %s: %w", fp, err)
	}
	return nil
}

// ConfirmPresent bumps last_confirmed without altering orphan state, for a
// tracked record that was present but neither created nor updated this
// pass (a no-op match).
func (t *Tracker) ConfirmPresent(ctx context.Context, fp endpoint.Fingerprint) error {
	_, err := t.db.ExecContext(ctx, `UPDATE dns_tracked_records SET last_confirmed = ? WHERE fingerprint = ?`, time.Now().UTC(), fp.String())
	if err != nil {
		return fmt.Errorf("tracker: confirm %s: %w", fp, err)
	}
	return nil
}

// IsOrphaned reports the current is_orphaned flag for fp.
func (t *Tracker) IsOrphaned(ctx context.Context, fp endpoint.Fingerprint) (bool, error) {
	var orphaned bool
	err := t.db.QueryRowContext(ctx, `SELECT is_orphaned FROM dns_tracked_records WHERE fingerprint = ?`, fp.String()).Scan(&orphaned)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("tracker: isOrphaned %s: %w", fp, err)
	}
	return orphaned, nil
}

// MarkOrphan sets is_orphaned=1 and orphaned_since=ts, but only the first
// time: a record already orphaned keeps its original orphaned_since
// (orphan monotonicity within a silence window).
func (t *Tracker) MarkOrphan(ctx context.Context, fp endpoint.Fingerprint, ts time.Time) error {
	_, err := t.db.ExecContext(ctx, `
		UPDATE dns_tracked_records SET is_orphaned = 1, orphaned_since = ?
		WHERE fingerprint = ? AND is_orphaned = 0`, ts.UTC(), fp.String())
	if err != nil {
		return fmt.Errorf("tracker: markOrphan %s: %w", fp, err)
	}
	return nil
}

// ClearOrphan clears is_orphaned/orphaned_since (a record reappeared in
// the desired set before its grace period elapsed).
func (t *Tracker) ClearOrphan(ctx context.Context, fp endpoint.Fingerprint) error {
	_, err := t.db.ExecContext(ctx, `UPDATE dns_tracked_records SET is_orphaned = 0, orphaned_since = NULL WHERE fingerprint = ?`, fp.String())
	if err != nil {
		return fmt.Errorf("tracker: clearOrphan %s: %w", fp, err)
	}
	return nil
}

// GetOrphanedSince returns the orphaned_since timestamp for fp, or nil if
// fp is not currently orphaned (or not tracked at all).
func (t *Tracker) GetOrphanedSince(ctx context.Context, fp endpoint.Fingerprint) (*time.Time, error) {
	var orphaned bool
	var since sql.NullTime
	err := t.db.QueryRowContext(ctx, `SELECT is_orphaned, orphaned_since FROM dns_tracked_records WHERE fingerprint = ?`, fp.String()).Scan(&orphaned, &since)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tracker: getOrphanedSince %s: %w", fp, err)
	}
	if !orphaned || !since.Valid {
		return nil, nil
	}
	ts := since.Time
	return &ts, nil
}

// ListOrphaned returns every currently orphaned entry, for the sweeper.
func (t *Tracker) ListOrphaned(ctx context.Context) ([]Entry, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT fingerprint, provider, zone, type, name, content_hash, source, first_seen, last_confirmed, orphaned_since
		FROM dns_tracked_records WHERE is_orphaned = 1`)
	if err != nil {
		return nil, fmt.Errorf("tracker: listOrphaned: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var fpStr string
		var e Entry
		var since sql.NullTime
		var source string
		if err := rows.Scan(&fpStr, &e.Fingerprint.Provider, &e.Fingerprint.Zone, &e.Fingerprint.Type,
			&e.Fingerprint.Name, &e.Fingerprint.Content, &source, &e.FirstSeen, &e.LastConfirmed, &since); err != nil {
			return nil, fmt.Errorf("tracker: scan orphaned row: %w", err)
		}
		e.Source = endpoint.SourceKind(source)
		e.IsOrphaned = true
		if since.Valid {
			ts := since.Time
			e.OrphanedSince = &ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordDeletion appends a row to orphaned_records_history. Called only
// after a successful delete.
func (t *Tracker) RecordDeletion(ctx context.Context, recordType, name, reason string) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO orphaned_records_history (type, name, deleted_at, deletion_reason) VALUES (?, ?, ?, ?)`,
		recordType, name, time.Now().UTC(), reason)
	if err != nil {
		return fmt.Errorf("tracker: recordDeletion: %w", err)
	}
	return nil
}

// ListPreserved returns the current preservation-list patterns.
func (t *Tracker) ListPreserved() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.preserved))
	copy(out, t.preserved)
	return out
}

// AddPreserved appends pattern to the preservation list, if not already
// present, and persists the list.
func (t *Tracker) AddPreserved(ctx context.Context, pattern string) error {
	pattern = strings.ToLower(pattern)
	t.mu.Lock()
	for _, p := range t.preserved {
		if p == pattern {
			t.mu.Unlock()
			return nil
		}
	}
	t.preserved = append(t.preserved, pattern)
	list := append([]string(nil), t.preserved...)
	t.mu.Unlock()
	return t.saveSetting(ctx, settingsKeyPreserved, list)
}

// RemovePreserved removes pattern from the preservation list, if present.
func (t *Tracker) RemovePreserved(ctx context.Context, pattern string) error {
	pattern = strings.ToLower(pattern)
	t.mu.Lock()
	out := t.preserved[:0:0]
	for _, p := range t.preserved {
		if p != pattern {
			out = append(out, p)
		}
	}
	t.preserved = out
	list := append([]string(nil), t.preserved...)
	t.mu.Unlock()
	return t.saveSetting(ctx, settingsKeyPreserved, list)
}

// MatchesPreserved reports whether hostname matches a preservation
// pattern: an exact literal FQDN, or a "*.suffix" wildcard, both
// case-insensitive.
func (t *Tracker) MatchesPreserved(hostname string) bool {
	hostname = strings.ToLower(strings.TrimSuffix(hostname, "."))
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.preserved {
		if matchesPattern(hostname, p) {
			return true
		}
	}
	return false
}

// ListManaged returns the managedHostnames setting list (the manual
// source extractor's input).
func (t *Tracker) ListManaged() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.managed))
	copy(out, t.managed)
	return out
}

// AddManaged appends hostname to the managedHostnames list.
func (t *Tracker) AddManaged(ctx context.Context, hostname string) error {
	hostname = strings.ToLower(strings.TrimSuffix(hostname, "."))
	t.mu.Lock()
	for _, h := range t.managed {
		if h == hostname {
			t.mu.Unlock()
			return nil
		}
	}
	t.managed = append(t.managed, hostname)
	list := append([]string(nil), t.managed...)
	t.mu.Unlock()
	return t.saveSetting(ctx, settingsKeyManaged, list)
}

// RemoveManaged removes hostname from the managedHostnames list.
func (t *Tracker) RemoveManaged(ctx context.Context, hostname string) error {
	hostname = strings.ToLower(strings.TrimSuffix(hostname, "."))
	t.mu.Lock()
	out := t.managed[:0:0]
	for _, h := range t.managed {
		if h != hostname {
			out = append(out, h)
		}
	}
	t.managed = out
	list := append([]string(nil), t.managed...)
	t.mu.Unlock()
	return t.saveSetting(ctx, settingsKeyManaged, list)
}

func matchesPattern(hostname, pattern string) bool {
	if !strings.HasPrefix(pattern, "*.") {
		return hostname == pattern
	}
	suffix := pattern[1:] // ".suffix"
	return strings.HasSuffix(hostname, suffix) && hostname != strings.TrimPrefix(suffix, ".")
}
