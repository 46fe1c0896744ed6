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

// Package cache holds the in-memory mirror of a provider's zone, serving
// reconciler and external reads without hammering the provider on every
// call.
package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
	"github.com/netgrove/dns-reconciler/internal/provider"
)

const refreshKey = "refresh"

// Filters narrows a Get to a subset of the current snapshot.
type Filters struct {
	Type          string
	NameSubstring string
	// ManagedOnly is not applied by Get: the cache holds no reference to
	// the tracker, so a non-nil value returns the same records as nil and
	// results are not narrowed by tracked state.
	ManagedOnly *bool
}

// snapshot is the atomically-swapped, immutable point-in-time view.
type snapshot struct {
	records     []endpoint.Record
	byID        map[string]endpoint.Record
	refreshedAt time.Time
}

func newSnapshot(records []endpoint.Record, at time.Time) *snapshot {
	byID := make(map[string]endpoint.Record, len(records))
	for _, r := range records {
		if r.ID != "" {
			byID[r.ID] = r
		}
	}
	return &snapshot{records: records, byID: byID, refreshedAt: at}
}

// Cache is the record cache (C2): an atomic-pointer-swap snapshot of a
// provider's zone, coalesced refresh via singleflight, and write-through
// on mutation.
type Cache struct {
	adapter         provider.Adapter
	refreshInterval time.Duration

	current atomic.Pointer[snapshot]
	group   singleflight.Group

	stop   chan struct{}
	ticker *time.Ticker
}

// New constructs a Cache with an empty initial snapshot. Call Refresh (or
// wait for the background timer, started by Start) to populate it.
func New(adapter provider.Adapter, refreshInterval time.Duration) *Cache {
	if refreshInterval <= 0 {
		refreshInterval = time.Hour
	}
	c := &Cache{
		adapter:         adapter,
		refreshInterval: refreshInterval,
		stop:            make(chan struct{}),
	}
	c.current.Store(newSnapshot(nil, time.Time{}))
	return c
}

// Start runs the background refresh timer until ctx is done or Stop is
// called. Call once per Cache.
func (c *Cache) Start(ctx context.Context) {
	c.ticker = time.NewTicker(c.refreshInterval)
	go func() {
		defer c.ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-c.ticker.C:
				if _, err := c.Refresh(ctx, false); err != nil {
					log.WithError(err).WithField("provider", c.adapter.Name()).
						Warn("background cache refresh failed")
				}
			}
		}
	}()
}

// Stop halts the background refresh timer.
func (c *Cache) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

// Get returns the current snapshot, optionally narrowed by filters. It
// never blocks on the provider.
func (c *Cache) Get(filters Filters) []endpoint.Record {
	snap := c.current.Load()
	if filters == (Filters{}) {
		out := make([]endpoint.Record, len(snap.records))
		copy(out, snap.records)
		return out
	}

	out := make([]endpoint.Record, 0, len(snap.records))
	for _, r := range snap.records {
		if filters.Type != "" && !strings.EqualFold(r.Type, filters.Type) {
			continue
		}
		if filters.NameSubstring != "" && !strings.Contains(strings.ToLower(r.Name), strings.ToLower(filters.NameSubstring)) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Age reports how long ago the current snapshot was refreshed.
func (c *Cache) Age() time.Duration {
	snap := c.current.Load()
	if snap.refreshedAt.IsZero() {
		return c.refreshInterval
	}
	return time.Since(snap.refreshedAt)
}

// Refresh re-fetches the zone from the provider if force is set or the
// current snapshot is older than refreshInterval; otherwise it returns the
// existing snapshot. Concurrent callers that land in the same refresh
// window share one in-flight ListZoneRecords call via singleflight.
func (c *Cache) Refresh(ctx context.Context, force bool) ([]endpoint.Record, error) {
	if !force && c.Age() < c.refreshInterval {
		return c.Get(Filters{}), nil
	}

	v, err, _ := c.group.Do(refreshKey, func() (any, error) {
		records, err := c.adapter.ListZoneRecords(ctx)
		if err != nil {
			return nil, err
		}
		c.current.Store(newSnapshot(records, time.Now()))
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]endpoint.Record), nil
}

// WriteOp identifies the kind of mutation Write applies to the snapshot.
type WriteOp string

const (
	WriteInsert  WriteOp = "insert"
	WriteReplace WriteOp = "replace"
	WriteRemove  WriteOp = "remove"
)

// Write applies a successful provider mutation to the snapshot atomically:
// it never mutates the slice readers may be holding, instead building the
// next snapshot and swapping the pointer. A caller observing the cache
// afterward (from the same goroutine or any other) sees the change without
// waiting for a background refresh.
func (c *Cache) Write(op WriteOp, record endpoint.Record) {
	prev := c.current.Load()
	next := make([]endpoint.Record, 0, len(prev.records)+1)

	replaced := false
	for _, r := range prev.records {
		if r.ID == record.ID && record.ID != "" {
			if op == WriteRemove {
				replaced = true
				continue
			}
			next = append(next, record)
			replaced = true
			continue
		}
		next = append(next, r)
	}
	if !replaced && op != WriteRemove {
		next = append(next, record)
	}

	c.current.Store(newSnapshot(next, prev.refreshedAt))
}
