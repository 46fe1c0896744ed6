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

// Package engine is the composition root (C9): it owns every collaborator
// — the provider adapter, cache, tracker, source extractors, reconciler,
// sweeper, scheduler, and IP resolver — constructs them once, and wires
// their lifecycles together.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/netgrove/dns-reconciler/internal/cache"
	"github.com/netgrove/dns-reconciler/internal/config"
	"github.com/netgrove/dns-reconciler/internal/endpoint"
	"github.com/netgrove/dns-reconciler/internal/events"
	"github.com/netgrove/dns-reconciler/internal/ipresolver"
	"github.com/netgrove/dns-reconciler/internal/metrics"
	"github.com/netgrove/dns-reconciler/internal/provider"
	"github.com/netgrove/dns-reconciler/internal/provider/cloudflare"
	"github.com/netgrove/dns-reconciler/internal/provider/digitalocean"
	"github.com/netgrove/dns-reconciler/internal/provider/route53"
	"github.com/netgrove/dns-reconciler/internal/reconciler"
	"github.com/netgrove/dns-reconciler/internal/scheduler"
	"github.com/netgrove/dns-reconciler/internal/source"
	"github.com/netgrove/dns-reconciler/internal/source/containerlabel"
	"github.com/netgrove/dns-reconciler/internal/source/manual"
	"github.com/netgrove/dns-reconciler/internal/source/router"
	"github.com/netgrove/dns-reconciler/internal/sweeper"
	"github.com/netgrove/dns-reconciler/internal/tracker"
)

// Engine is the composition root. Nothing here is package-level global
// state: every collaborator is constructed in New and passed down
// explicitly.
type Engine struct {
	cfg *config.Config

	adapter   provider.Adapter
	cache     *cache.Cache
	tracker   *tracker.Tracker
	ip        *ipresolver.Resolver
	bus       *events.Bus
	metrics   *metrics.Metrics
	recon     *reconciler.Reconciler
	sweep     *sweeper.Sweeper
	loop      *scheduler.Loop
	extractor source.Extractor
}

// New builds every collaborator from cfg. trackerPath is the SQLite file
// the tracker persists to. reg receives every Prometheus collector.
func New(ctx context.Context, cfg *config.Config, trackerPath string, reg prometheus.Registerer) (*Engine, error) {
	adapter, err := buildProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("engine: build provider: %w", err)
	}

	tr, err := tracker.Open(ctx, trackerPath)
	if err != nil {
		return nil, fmt.Errorf("engine: open tracker: %w", err)
	}
	for _, h := range cfg.PreservedHostnames {
		if err := tr.AddPreserved(ctx, h); err != nil {
			return nil, fmt.Errorf("engine: seed preserved hostname %q: %w", h, err)
		}
	}
	for _, h := range cfg.ManagedHostnames {
		if err := tr.AddManaged(ctx, h); err != nil {
			return nil, fmt.Errorf("engine: seed managed hostname %q: %w", h, err)
		}
	}

	c := cache.New(adapter, cfg.CacheRefreshInterval)

	ip := ipresolver.New(ipresolver.Config{RefreshInterval: cfg.IPRefreshInterval})

	bus := events.NewBus(0)
	m := metrics.New(reg)

	extractor, dockerClient, err := buildExtractor(cfg, ip, tr)
	if err != nil {
		return nil, fmt.Errorf("engine: build source extractor: %w", err)
	}

	recon := reconciler.New(adapter, c, tr, bus, reconciler.Config{})
	sw := sweeper.New(adapter, c, tr, bus, sweeper.Config{
		GracePeriod:     cfg.CleanupGracePeriod,
		CleanupOrphaned: cfg.CleanupOrphaned,
	})

	e := &Engine{
		cfg:       cfg,
		adapter:   adapter,
		cache:     c,
		tracker:   tr,
		ip:        ip,
		bus:       bus,
		metrics:   m,
		recon:     recon,
		sweep:     sw,
		extractor: extractor,
	}

	e.loop = scheduler.New(scheduler.Config{
		PollInterval:      cfg.PollInterval,
		WatchDockerEvents: cfg.WatchDockerEvents,
	}, e.runPass, dockerClient)

	return e, nil
}

// Run starts every background collaborator (cache refresh timer, IP
// resolver, scheduler loop) and blocks until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	e.cache.Start(ctx)
	e.ip.Start(ctx)
	e.loop.Run(ctx)
}

// Cache exposes the record cache to external (e.g. REST/WS) collaborators.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Tracker exposes the record tracker to external collaborators.
func (e *Engine) Tracker() *tracker.Tracker { return e.tracker }

// Events exposes the event bus to external collaborators.
func (e *Engine) Events() *events.Bus { return e.bus }

// Pause suspends the scheduler's periodic timer and drops all triggers
// until Resume.
func (e *Engine) Pause() { e.loop.Pause() }

// Resume lifts a prior Pause. It does not run a catch-up pass.
func (e *Engine) Resume() { e.loop.Resume() }

// KickNow requests an out-of-band reconciliation pass.
func (e *Engine) KickNow() { e.loop.KickNow() }

// Shutdown stops the scheduler loop, letting any in-flight pass finish its
// current mutations, then stops the cache and IP resolver timers.
func (e *Engine) Shutdown() {
	e.loop.Stop()
	e.cache.Stop()
	e.ip.Stop()
}

// runPass is the scheduler.PassFunc: build the desired set, run one
// reconciler pass, then sweep whatever it found undesired.
func (e *Engine) runPass(ctx context.Context) {
	start := time.Now()
	defer func() { e.metrics.SetEventsDropped(float64(e.bus.Dropped.Value())) }()

	desired, err := e.extractor.Extract(ctx)
	if err != nil {
		log.WithError(err).Error("source extraction failed, skipping pass")
		e.metrics.ObservePass(time.Since(start).Seconds(), "error")
		return
	}

	summary, undesired, err := e.recon.RunPass(ctx, desired)
	if err != nil {
		log.WithError(err).Error("reconciliation pass failed")
		e.metrics.ObservePass(time.Since(start).Seconds(), "error")
		return
	}
	for _, mutErr := range summary.Errors {
		kind := provider.KindOf(mutErr)
		e.metrics.RecordProviderError(e.adapter.Name(), string(kind))
	}
	for i := 0; i < summary.Created; i++ {
		e.metrics.RecordMutation(e.adapter.Name(), "create", "ok")
	}
	for i := 0; i < summary.Updated; i++ {
		e.metrics.RecordMutation(e.adapter.Name(), "update", "ok")
	}
	e.metrics.SetCacheAge(e.adapter.Name(), "", e.cache.Age().Seconds())

	sweepSummary := e.sweep.Sweep(ctx, undesired)
	for i := 0; i < sweepSummary.Deleted; i++ {
		e.metrics.RecordMutation(e.adapter.Name(), "delete", "ok")
	}

	e.metrics.ObservePass(time.Since(start).Seconds(), "ok")
}

// buildProvider selects and constructs the one configured provider.Adapter.
func buildProvider(ctx context.Context, cfg *config.Config) (provider.Adapter, error) {
	switch cfg.DNSProvider {
	case "cloudflare":
		return cloudflare.New(cloudflare.Config{
			APIToken:       cfg.CloudflareAPIToken,
			ZoneID:         cfg.CloudflareZoneID,
			DefaultProxied: cfg.DNSDefaultProxied,
			DefaultTTL:     cfg.DNSDefaultTTL,
		})
	case "digitalocean":
		return digitalocean.New(digitalocean.Config{
			APIToken:   cfg.DigitalOceanAPIToken,
			Domain:     cfg.DigitalOceanDomain,
			DefaultTTL: cfg.DNSDefaultTTL,
		})
	case "route53":
		return route53.New(ctx, route53.Config{
			HostedZoneID: cfg.Route53HostedZoneID,
			ZoneName:     cfg.Route53ZoneName,
			Profile:      cfg.AWSProfile,
			Region:       cfg.AWSRegion,
			DefaultTTL:   cfg.DNSDefaultTTL,
		})
	default:
		return nil, fmt.Errorf("unrecognized dns-provider %q", cfg.DNSProvider)
	}
}

// buildExtractor assembles the union of source extractors per
// operationMode, router before container-label so the more specific
// container label always wins a conflicting key (source.Union's
// later-wins rule). It also returns the Docker client the scheduler's
// event watch subscribes on, shared with the container-label extractor's
// own client only in spirit — each needs its own handle since the SDK
// client is not safe to hand between two owners with different lifetimes.
func buildExtractor(cfg *config.Config, ip *ipresolver.Resolver, tr *tracker.Tracker) (source.Extractor, scheduler.DockerEventsClient, error) {
	var extractors []source.Extractor

	if cfg.OperationMode == config.OperationModeRouter || cfg.OperationMode == config.OperationModeBoth {
		extractors = append(extractors, router.New(router.Config{
			ConfigPath: cfg.RouterConfigPath,
			DefaultTTL: cfg.DNSDefaultTTL,
		}))
	}

	if cfg.OperationMode == config.OperationModeDirect || cfg.OperationMode == config.OperationModeBoth {
		cl, err := containerlabel.New(containerlabel.Config{
			LabelPrefix:    cfg.GenericLabelPrefix,
			DefaultTTL:     cfg.DNSDefaultTTL,
			DefaultProxied: cfg.DNSDefaultProxied,
		}, ip)
		if err != nil {
			return nil, nil, err
		}
		extractors = append(extractors, cl)
	}

	extractors = append(extractors, manual.New(manual.Config{DefaultTTL: cfg.DNSDefaultTTL}, tr, ip))

	var dockerClient *client.Client
	if cfg.WatchDockerEvents {
		cl, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, nil, fmt.Errorf("docker client for event watch: %w", err)
		}
		dockerClient = cl
	}

	return unionExtractor{extractors: extractors}, dockerClient, nil
}

// unionExtractor adapts source.Union (a free function over an explicit
// extractor list) to the single source.Extractor the engine holds.
type unionExtractor struct {
	extractors []source.Extractor
}

func (u unionExtractor) Name() string { return "union" }

func (u unionExtractor) Extract(ctx context.Context) ([]endpoint.DesiredSpec, error) {
	return source.Union(ctx, u.extractors...)
}
