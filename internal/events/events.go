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

// Package events is an in-process, bounded-channel event bus external
// observers (a REST/WS layer, an activity log) subscribe to for DNS
// lifecycle notifications.
package events

import (
	"sync"
	"time"
)

// Type enumerates the event kinds the reconciler and sweeper emit.
type Type string

const (
	TypeRecordCreated     Type = "record.created"
	TypeRecordUpdated     Type = "record.updated"
	TypeRecordDeleted     Type = "record.deleted"
	TypeRecordOrphaned    Type = "record.orphaned"
	TypeRecordPreserved   Type = "record.preserved"
	TypeSweeperRan        Type = "sweeper.ran"
	TypeReconcileStarted  Type = "reconcile.started"
	TypeReconcileFinished Type = "reconcile.finished"
)

// Event is one notification published onto the bus.
type Event struct {
	Type   Type
	Entity string
	Before any
	After  any
	At     time.Time
}

// defaultBufferSize is the per-subscriber channel capacity; once it is
// full, Publish drops that subscriber's oldest buffered event.
const defaultBufferSize = 256

// Bus is a bounded, multi-subscriber event channel. Publish never blocks:
// once a subscriber's buffer is full, the oldest buffered event for that
// subscriber is dropped and Dropped is incremented.
type Bus struct {
	bufferSize int

	mu   sync.Mutex
	subs map[int]chan Event
	next int

	Dropped *Counter
}

// Counter is a minimal thread-safe counter, avoiding a hard dependency
// from this package on the metrics package's Prometheus types.
type Counter struct {
	mu sync.Mutex
	n  uint64
}

func (c *Counter) Add(n uint64) {
	c.mu.Lock()
	c.n += n
	c.mu.Unlock()
}

func (c *Counter) Value() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// NewBus constructs a Bus with the given per-subscriber buffer size (0
// uses defaultBufferSize).
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Bus{
		bufferSize: bufferSize,
		subs:       make(map[int]chan Event),
		Dropped:    &Counter{},
	}
}

// Subscribe registers a new receive-only channel. Call the returned func
// to unsubscribe and release the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, b.bufferSize)
	b.subs[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish fans ev out to every subscriber without blocking the caller. A
// subscriber whose buffer is full has its oldest event dropped to make
// room, so a slow consumer never stalls a reconciliation pass.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
				b.Dropped.Add(1)
			default:
			}
			select {
			case ch <- ev:
			default:
				b.Dropped.Add(1)
			}
		}
	}
}

// SubscriberCount reports the current number of active subscribers, for
// diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
