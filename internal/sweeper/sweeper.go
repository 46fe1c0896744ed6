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

// Package sweeper implements the orphan sweeper (C6): records the
// reconciler no longer desires are deleted only after sitting orphaned for
// a grace period, unless preserved or protected by the cleanupOrphaned
// kill-switch.
package sweeper

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/netgrove/dns-reconciler/internal/cache"
	"github.com/netgrove/dns-reconciler/internal/endpoint"
	"github.com/netgrove/dns-reconciler/internal/events"
	"github.com/netgrove/dns-reconciler/internal/provider"
	"github.com/netgrove/dns-reconciler/internal/tracker"
)

// DefaultGracePeriod matches cleanupGracePeriod's default.
const DefaultGracePeriod = 15 * time.Minute

// Config configures a Sweeper.
type Config struct {
	GracePeriod time.Duration
	// CleanupOrphaned is the global kill-switch; when false the sweeper
	// only tracks orphan state and never issues a delete.
	CleanupOrphaned bool
}

func (c Config) withDefaults() Config {
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	return c
}

// Sweeper applies the orphan lifecycle to the undesired set a reconciler
// pass produces.
type Sweeper struct {
	adapter provider.Adapter
	cache   *cache.Cache
	tracker *tracker.Tracker
	bus     *events.Bus
	cfg     Config
}

func New(adapter provider.Adapter, c *cache.Cache, t *tracker.Tracker, bus *events.Bus, cfg Config) *Sweeper {
	return &Sweeper{adapter: adapter, cache: c, tracker: t, bus: bus, cfg: cfg.withDefaults()}
}

// Summary reports what one sweep did.
type Summary struct {
	Preserved     int
	FirstSighting int
	Deleted       int
	StillWaiting  int
	Failed        int
	Errors        []error
}

// Sweep runs the §4.6 algorithm over undesired, the set the reconciler's
// last Plan identified as tracked-but-no-longer-desired.
func (s *Sweeper) Sweep(ctx context.Context, undesired []endpoint.Fingerprint) Summary {
	summary := Summary{}
	now := time.Now()

	for _, fp := range undesired {
		if s.tracker.MatchesPreserved(fp.Name) {
			if err := s.demotePreserved(ctx, fp); err != nil {
				summary.Failed++
				summary.Errors = append(summary.Errors, err)
				continue
			}
			summary.Preserved++
			s.bus.Publish(events.Event{Type: events.TypeRecordPreserved, Entity: fp.Name})
			continue
		}

		since, err := s.tracker.GetOrphanedSince(ctx, fp)
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, err)
			continue
		}
		if since == nil {
			if err := s.tracker.MarkOrphan(ctx, fp, now); err != nil {
				summary.Failed++
				summary.Errors = append(summary.Errors, err)
				continue
			}
			summary.FirstSighting++
			s.bus.Publish(events.Event{Type: events.TypeRecordOrphaned, Entity: fp.Name})
			continue
		}

		elapsed := now.Sub(*since)
		if !s.cfg.CleanupOrphaned || elapsed < s.cfg.GracePeriod {
			summary.StillWaiting++
			continue
		}

		if err := s.deleteOrphan(ctx, fp); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, err)
			log.WithError(err).WithField("fingerprint", fp.String()).Warn("orphan delete failed, retrying next pass")
			continue
		}
		summary.Deleted++
	}

	s.bus.Publish(events.Event{Type: events.TypeSweeperRan, After: summary})
	return summary
}

// demotePreserved removes fp from the tracked/orphaned set without
// deleting the underlying record: a preserved hostname is tracked no
// longer, but it stays in the zone.
func (s *Sweeper) demotePreserved(ctx context.Context, fp endpoint.Fingerprint) error {
	if err := s.tracker.ClearOrphan(ctx, fp); err != nil {
		return err
	}
	return s.tracker.Untrack(ctx, fp)
}

// deleteOrphan issues the provider delete, then untracks and writes the
// deletion history row — history is written only on success, per §4.6.
func (s *Sweeper) deleteOrphan(ctx context.Context, fp endpoint.Fingerprint) error {
	id, ok := s.findRecordID(fp)
	if !ok {
		// the record already vanished from the provider's view; treat the
		// tracked entry itself as stale and drop it.
		return s.tracker.Untrack(ctx, fp)
	}

	if err := s.adapter.DeleteRecord(ctx, id); err != nil {
		return err
	}

	rec, found := s.findRecord(fp)
	if found {
		s.cache.Write(cache.WriteRemove, rec)
	}
	if err := s.tracker.Untrack(ctx, fp); err != nil {
		return err
	}
	s.bus.Publish(events.Event{Type: events.TypeRecordDeleted, Entity: fp.Name})
	return s.tracker.RecordDeletion(ctx, fp.Type, fp.Name, "orphaned past grace period")
}

func (s *Sweeper) findRecord(fp endpoint.Fingerprint) (endpoint.Record, bool) {
	for _, rec := range s.cache.Get(cache.Filters{}) {
		if endpoint.FingerprintOf(s.adapter.Name(), rec) == fp {
			return rec, true
		}
	}
	return endpoint.Record{}, false
}

func (s *Sweeper) findRecordID(fp endpoint.Fingerprint) (string, bool) {
	rec, ok := s.findRecord(fp)
	if !ok {
		return "", false
	}
	return rec.ID, true
}
