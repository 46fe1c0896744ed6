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

// Package reconciler computes and applies the diff between the desired DNS
// state (from the source extractors) and the current provider state (from
// the cache), one atomic pass at a time.
package reconciler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"

	"github.com/netgrove/dns-reconciler/internal/cache"
	"github.com/netgrove/dns-reconciler/internal/endpoint"
	"github.com/netgrove/dns-reconciler/internal/events"
	"github.com/netgrove/dns-reconciler/internal/provider"
	"github.com/netgrove/dns-reconciler/internal/tracker"
)

// Kind identifies the action a MutationIntent carries out. The reconciler
// only ever plans Create and Update. executeOne also handles Delete, but
// the orphan sweeper does not go through it: it calls the adapter's
// DeleteRecord directly after the grace period.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// MutationIntent is one planned change against the provider.
type MutationIntent struct {
	Kind Kind
	Spec endpoint.DesiredSpec
	// Current is the matching cache record for Update/Delete, nil for Create.
	Current *endpoint.Record
}

// sortKey orders intents deterministically: (type, name) within the same
// Kind, and Create before Update before Delete across kinds.
func (m MutationIntent) sortKey() (int, string, string) {
	order := map[Kind]int{KindCreate: 0, KindUpdate: 1, KindDelete: 2}
	return order[m.Kind], m.Spec.Type, m.Spec.Hostname
}

// PassSummary reports what one reconciliation pass did.
type PassSummary struct {
	Created   int
	Updated   int
	Failed    int
	Undesired []endpoint.Fingerprint
	Errors    []error
	Duration  time.Duration
}

// Config configures a Reconciler.
type Config struct {
	// Concurrency bounds how many mutations run in flight at once.
	Concurrency int
	// MaxCallsPerSecond throttles outbound provider calls independent of
	// Concurrency, so a burst of small mutations does not trip the
	// provider's own rate limiting.
	MaxCallsPerSecond int
	// RetryBase/RetryCap/RetryMaxAttempts parameterize the exponential
	// backoff applied to retryable provider errors.
	RetryBase        time.Duration
	RetryCap         time.Duration
	RetryMaxAttempts uint
}

const (
	DefaultConcurrency       = 4
	DefaultMaxCallsPerSecond = 10
	DefaultRetryBase         = time.Second
	DefaultRetryCap          = 30 * time.Second
	DefaultRetryMaxAttempts  = 5
)

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxCallsPerSecond <= 0 {
		c.MaxCallsPerSecond = DefaultMaxCallsPerSecond
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.RetryCap <= 0 {
		c.RetryCap = DefaultRetryCap
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	return c
}

// Reconciler owns the plan/execute pass (C5).
type Reconciler struct {
	adapter provider.Adapter
	cache   *cache.Cache
	tracker *tracker.Tracker
	bus     *events.Bus
	cfg     Config
	limiter ratelimit.Limiter
}

func New(adapter provider.Adapter, c *cache.Cache, t *tracker.Tracker, bus *events.Bus, cfg Config) *Reconciler {
	cfg = cfg.withDefaults()
	return &Reconciler{
		adapter: adapter,
		cache:   c,
		tracker: t,
		bus:     bus,
		cfg:     cfg,
		limiter: ratelimit.New(cfg.MaxCallsPerSecond),
	}
}

// Plan computes the intents for one pass from the desired set and the
// current cache snapshot, plus the undesired-tracked fingerprints that feed
// the orphan sweeper. desired must already be deduplicated by (type,
// hostname) — see source.Union.
func (r *Reconciler) Plan(ctx context.Context, desired []endpoint.DesiredSpec) ([]MutationIntent, []endpoint.Fingerprint, error) {
	caps := r.adapter.Capabilities()
	current := r.cache.Get(cache.Filters{})

	byFingerprint := make(map[endpoint.Fingerprint]endpoint.Record, len(current))
	for _, rec := range current {
		byFingerprint[endpoint.FingerprintOf(r.adapter.Name(), rec)] = rec
	}

	var intents []MutationIntent
	desiredFPs := make(map[endpoint.Fingerprint]bool, len(desired))

	for _, spec := range desired {
		normalized := provider.Normalize(spec, caps)
		candidateFP, matched := matchingFingerprint(r.adapter.Name(), normalized, byFingerprint)
		if matched {
			desiredFPs[candidateFP] = true
			// The spec re-demands this fingerprint this pass, whether or not
			// its fields still match: clear any orphan state and bump
			// last_confirmed unconditionally, not only when a mutation is
			// planned, so a record orphaned at t0 and re-demanded unchanged
			// at t1 doesn't still look orphaned to the sweeper.
			if err := r.tracker.ClearOrphan(ctx, candidateFP); err != nil {
				return nil, nil, err
			}
			if err := r.tracker.ConfirmPresent(ctx, candidateFP); err != nil {
				return nil, nil, err
			}
			existing := byFingerprint[candidateFP]
			if normalized.Managed && !effectivelyEqual(normalized, existing, caps) {
				existing := existing
				intents = append(intents, MutationIntent{Kind: KindUpdate, Spec: normalized, Current: &existing})
			}
			continue
		}
		if !normalized.Managed {
			// managed=false: track what exists, never create it.
			continue
		}
		intents = append(intents, MutationIntent{Kind: KindCreate, Spec: normalized})
	}

	tracked, err := r.trackedFingerprints(ctx)
	if err != nil {
		return nil, nil, err
	}
	var undesired []endpoint.Fingerprint
	for fp := range tracked {
		if !desiredFPs[fp] {
			undesired = append(undesired, fp)
		}
	}

	sort.Slice(intents, func(i, j int) bool {
		oi, ti, ni := intents[i].sortKey()
		oj, tj, nj := intents[j].sortKey()
		if oi != oj {
			return oi < oj
		}
		if ti != tj {
			return ti < tj
		}
		return ni < nj
	})

	return intents, undesired, nil
}

// trackedFingerprints lists every fingerprint the tracker currently owns,
// orphaned or not, by walking the cache and checking IsTracked — the
// tracker has no bulk list of non-orphaned entries, only ListOrphaned.
func (r *Reconciler) trackedFingerprints(ctx context.Context) (map[endpoint.Fingerprint]bool, error) {
	out := make(map[endpoint.Fingerprint]bool)
	for _, rec := range r.cache.Get(cache.Filters{}) {
		fp := endpoint.FingerprintOf(r.adapter.Name(), rec)
		tracked, err := r.tracker.IsTracked(ctx, fp)
		if err != nil {
			return nil, err
		}
		if tracked {
			out[fp] = true
		}
	}
	orphaned, err := r.tracker.ListOrphaned(ctx)
	if err != nil {
		return nil, err
	}
	for _, entry := range orphaned {
		out[entry.Fingerprint] = true
	}
	return out, nil
}

// matchingFingerprint finds the cache record matching spec by (zone
// implicit, type, name, content-discriminator), independent of any
// provider-rotated id.
func matchingFingerprint(providerName string, spec endpoint.DesiredSpec, byFingerprint map[endpoint.Fingerprint]endpoint.Record) (endpoint.Fingerprint, bool) {
	content := ""
	if spec.Content != nil {
		content = *spec.Content
	}
	probe := endpoint.Record{
		Type:     spec.Type,
		Name:     spec.Hostname,
		Content:  content,
		Priority: valueOr(spec.Priority, 0),
		Weight:   valueOr(spec.Weight, 0),
		Port:     valueOr(spec.Port, 0),
		Flags:    valueOrU8(spec.Flags, 0),
		Tag:      valueOrStr(spec.Tag, ""),
	}
	fp := endpoint.FingerprintOf(providerName, probe)
	_, ok := byFingerprint[fp]
	return fp, ok
}

func valueOr(p *uint16, def uint16) uint16 {
	if p == nil {
		return def
	}
	return *p
}

func valueOrU8(p *uint8, def uint8) uint8 {
	if p == nil {
		return def
	}
	return *p
}

func valueOrStr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

// effectivelyEqual implements the "effective fields differ" semantics: the
// spec's TTL after clamping it to the provider floor (the current record's
// TTL is compared as stored), and proxied only when the provider supports
// it. Content is not compared here: the caller already matched the record
// by fingerprint, which includes ContentDiscriminator.
func effectivelyEqual(spec endpoint.DesiredSpec, current endpoint.Record, caps provider.Features) bool {
	ttl := spec.TTL
	if ttl < caps.TTLFloor {
		ttl = caps.TTLFloor
	}
	if ttl != 0 && ttl != current.TTL {
		return false
	}
	if caps.SupportsProxied && spec.Proxied != nil && *spec.Proxied != current.Proxied {
		return false
	}
	return true
}

// Execute applies intents against the provider with bounded concurrency and
// retry, write-through to the cache and tracker on success. It returns a
// PassSummary even when some mutations failed — callers decide whether that
// is fatal.
func (r *Reconciler) Execute(ctx context.Context, intents []MutationIntent) PassSummary {
	start := time.Now()
	summary := PassSummary{}

	sem := make(chan struct{}, r.cfg.Concurrency)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, intent := range intents {
		wg.Add(1)
		sem <- struct{}{}
		go func(intent MutationIntent) {
			defer wg.Done()
			defer func() { <-sem }()

			rec, err := r.executeOne(ctx, intent)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				summary.Errors = append(summary.Errors, err)
				log.WithError(err).
					WithField("kind", intent.Kind).
					WithField("hostname", intent.Spec.Hostname).
					WithField("type", intent.Spec.Type).
					Error("mutation failed")
				return
			}
			switch intent.Kind {
			case KindCreate:
				summary.Created++
				r.bus.Publish(events.Event{Type: events.TypeRecordCreated, Entity: rec.Name, After: rec})
			case KindUpdate:
				summary.Updated++
				r.bus.Publish(events.Event{Type: events.TypeRecordUpdated, Entity: rec.Name, Before: intent.Current, After: rec})
			}
		}(intent)
	}
	wg.Wait()

	summary.Duration = time.Since(start)
	return summary
}

// executeOne issues the provider call for intent, retrying retryable errors
// with exponential backoff, and write-through updates the cache and
// tracker on success.
func (r *Reconciler) executeOne(ctx context.Context, intent MutationIntent) (endpoint.Record, error) {
	r.limiter.Take()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.RetryBase
	b.MaxInterval = r.cfg.RetryCap

	// rateLimitHonored tracks whether the Retry-After special case already
	// fired once for this call; a second RateLimited error falls through to
	// the normal transient backoff schedule instead of honoring the header
	// again.
	rateLimitHonored := false

	rec, err := backoff.Retry(ctx, func() (endpoint.Record, error) {
		rec, err := r.call(ctx, intent)
		if err == nil {
			return rec, nil
		}

		pe, ok := provider.AsError(err)
		if ok && pe.Kind == provider.KindRateLimited && !rateLimitHonored {
			rateLimitHonored = true
			return r.retryAfterRateLimit(ctx, intent, pe)
		}
		if ok && !pe.Kind.Retryable() {
			return endpoint.Record{}, backoff.Permanent(err)
		}
		return endpoint.Record{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.cfg.RetryMaxAttempts))
	if err != nil {
		return endpoint.Record{}, err
	}

	fp := endpoint.FingerprintOf(r.adapter.Name(), rec)
	switch intent.Kind {
	case KindCreate:
		r.cache.Write(cache.WriteInsert, rec)
		if err := r.tracker.Track(ctx, fp, intent.Spec.Source); err != nil {
			return rec, err
		}
	case KindUpdate:
		r.cache.Write(cache.WriteReplace, rec)
		if err := r.tracker.ConfirmPresent(ctx, fp); err != nil {
			return rec, err
		}
	case KindDelete:
		r.cache.Write(cache.WriteRemove, rec)
	}
	return rec, nil
}

// retryAfterRateLimit implements the RateLimited policy: sleep for the
// provider's Retry-After header (capped at 30s, or the cap itself when the
// provider sent none), retry exactly once, then hand the result back to the
// normal backoff.Retry loop either way.
func (r *Reconciler) retryAfterRateLimit(ctx context.Context, intent MutationIntent, pe *provider.Error) (endpoint.Record, error) {
	wait := time.Duration(pe.RetryAfterSeconds) * time.Second
	if wait <= 0 || wait > 30*time.Second {
		wait = 30 * time.Second
	}

	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return endpoint.Record{}, backoff.Permanent(ctx.Err())
	}

	rec, err := r.call(ctx, intent)
	if err == nil {
		return rec, nil
	}
	if pe2, ok := provider.AsError(err); ok && !pe2.Kind.Retryable() {
		return endpoint.Record{}, backoff.Permanent(err)
	}
	return endpoint.Record{}, err
}

func (r *Reconciler) call(ctx context.Context, intent MutationIntent) (endpoint.Record, error) {
	switch intent.Kind {
	case KindCreate:
		return r.adapter.CreateRecord(ctx, intent.Spec)
	case KindUpdate:
		return r.adapter.UpdateRecord(ctx, intent.Current.ID, intent.Spec)
	case KindDelete:
		if intent.Current == nil {
			return endpoint.Record{}, errors.New("reconciler: delete intent missing current record")
		}
		rec := *intent.Current
		return rec, r.adapter.DeleteRecord(ctx, intent.Current.ID)
	default:
		return endpoint.Record{}, errors.New("reconciler: unknown mutation kind")
	}
}

// RunPass computes and executes one full pass: plan, execute, report. It
// does not run the orphan sweeper — that is a separate call the engine's
// runPass makes with the returned undesired set.
func (r *Reconciler) RunPass(ctx context.Context, desired []endpoint.DesiredSpec) (PassSummary, []endpoint.Fingerprint, error) {
	r.bus.Publish(events.Event{Type: events.TypeReconcileStarted})
	intents, undesired, err := r.Plan(ctx, desired)
	if err != nil {
		return PassSummary{}, nil, err
	}
	summary := r.Execute(ctx, intents)
	summary.Undesired = undesired
	r.bus.Publish(events.Event{Type: events.TypeReconcileFinished, After: summary})
	return summary, undesired, nil
}
