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

// Package ipresolver resolves the host's current public IPv4/IPv6
// addresses on its own timer, for use as implicit A/AAAA record content.
package ipresolver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultRefreshInterval matches dnsreconciler's ipRefreshInterval default.
const DefaultRefreshInterval = time.Hour

// maxFailureStreak is how many consecutive lookup failures for one family
// are tolerated before that family is reported unresolvable.
const maxFailureStreak = 3

// Config configures a Resolver.
type Config struct {
	RefreshInterval time.Duration
	// Endpoints are tried in order for each family; the first that
	// returns a syntactically valid address wins. A nil slice uses
	// DefaultV4Endpoints/DefaultV6Endpoints.
	V4Endpoints []string
	V6Endpoints []string
}

// DefaultV4Endpoints are well-known plain-text "what's my IP" services.
var DefaultV4Endpoints = []string{"https://api.ipify.org", "https://ifconfig.me/ip"}

// DefaultV6Endpoints mirror DefaultV4Endpoints for the v6-only family.
var DefaultV6Endpoints = []string{"https://api6.ipify.org", "https://v6.ifconfig.me/ip"}

// Resolver holds the most recently resolved public IPv4/IPv6 addresses.
type Resolver struct {
	cfg    Config
	client *http.Client

	mu            sync.RWMutex
	v4, v6        string
	haveV4, haveV6 bool
	failStreak4   int
	failStreak6   int

	stop chan struct{}
}

// New constructs a Resolver. Call Start to begin the background timer, or
// RefreshNow for a one-shot synchronous resolution.
func New(cfg Config) *Resolver {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.V4Endpoints == nil {
		cfg.V4Endpoints = DefaultV4Endpoints
	}
	if cfg.V6Endpoints == nil {
		cfg.V6Endpoints = DefaultV6Endpoints
	}
	return &Resolver{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
		stop:   make(chan struct{}),
	}
}

// Start runs the background refresh timer until ctx is done or Stop is
// called.
func (r *Resolver) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	go func() {
		defer ticker.Stop()
		r.RefreshNow(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.RefreshNow(ctx)
			}
		}
	}()
}

// Stop halts the background refresh timer.
func (r *Resolver) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}

// RefreshNow resolves both families synchronously, updating the cached
// values and failure streaks.
func (r *Resolver) RefreshNow(ctx context.Context) {
	v4, err4 := r.resolve(ctx, r.cfg.V4Endpoints, false)
	r.applyResult(true, v4, err4)

	v6, err6 := r.resolve(ctx, r.cfg.V6Endpoints, true)
	r.applyResult(false, v6, err6)
}

func (r *Resolver) applyResult(isV4 bool, addr string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	family := "v6"
	streak := &r.failStreak6
	if isV4 {
		family = "v4"
		streak = &r.failStreak4
	}

	if err != nil {
		*streak++
		if *streak == maxFailureStreak {
			log.WithField("family", family).WithError(err).
				Warn("public IP resolution failing; treating family as unresolvable")
		}
		return
	}

	*streak = 0
	if isV4 {
		r.v4, r.haveV4 = addr, true
	} else {
		r.v6, r.haveV6 = addr, true
	}
}

func (r *Resolver) resolve(ctx context.Context, endpoints []string, wantV6 bool) (string, error) {
	var lastErr error
	for _, ep := range endpoints {
		addr, err := r.fetch(ctx, ep)
		if err != nil {
			lastErr = err
			continue
		}
		ip := net.ParseIP(addr)
		if ip == nil {
			lastErr = fmt.Errorf("ipresolver: %s returned non-IP body %q", ep, addr)
			continue
		}
		isV6 := ip.To4() == nil
		if isV6 != wantV6 {
			lastErr = fmt.Errorf("ipresolver: %s returned wrong address family", ep)
			continue
		}
		return ip.String(), nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("ipresolver: no endpoints configured")
	}
	return "", lastErr
}

func (r *Resolver) fetch(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ipresolver: %s returned status %d", endpoint, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// PublicIPv4 returns the most recently resolved public IPv4 address, and
// false when the v4 family is currently unresolvable: the last
// maxFailureStreak lookups all failed (whether or not an earlier lookup
// succeeded), or no lookup has succeeded yet.
func (r *Resolver) PublicIPv4() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failStreak4 >= maxFailureStreak {
		return "", false
	}
	return r.v4, r.haveV4
}

// PublicIPv6 mirrors PublicIPv4 for the v6 family.
func (r *Resolver) PublicIPv6() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failStreak6 >= maxFailureStreak {
		return "", false
	}
	return r.v6, r.haveV6
}
