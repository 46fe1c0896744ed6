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

// Package config is the operator-facing config resolver (C8): flags and
// environment variables, layered over hard-coded defaults, read once at
// startup into a single Config struct.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
)

// OperationMode selects which source extractors run.
type OperationMode string

const (
	OperationModeRouter    OperationMode = "router"
	OperationModeDirect    OperationMode = "direct"
	OperationModeBoth      OperationMode = "both"
	defaultOperationMode                 = OperationModeBoth
)

// Config is the closed set of recognized operator options from §4.8,
// resolved once at startup. Provider-capability defaults (TTL floor, etc)
// are layered in afterward by the engine, not here — this struct only
// holds what the operator can set.
type Config struct {
	DNSProvider string

	PollInterval      time.Duration
	WatchDockerEvents bool

	CleanupOrphaned    bool
	CleanupGracePeriod time.Duration

	DNSDefaultTTL      endpoint.TTL
	DNSDefaultProxied  bool
	DNSDefaultType     string
	CacheRefreshInterval time.Duration
	IPRefreshInterval    time.Duration

	GenericLabelPrefix string
	PreservedHostnames []string
	ManagedHostnames   []string

	APITimeout time.Duration

	OperationMode OperationMode

	RouterConfigPath string

	LogLevel string

	// Provider credentials, one set used depending on DNSProvider.
	CloudflareAPIToken string
	CloudflareZoneID   string

	DigitalOceanAPIToken string
	DigitalOceanDomain   string

	Route53HostedZoneID string
	Route53ZoneName     string
	AWSProfile          string
	AWSRegion           string
}

func defaults() Config {
	return Config{
		DNSProvider:          "",
		PollInterval:         60 * time.Second,
		WatchDockerEvents:    true,
		CleanupOrphaned:      false,
		CleanupGracePeriod:   15 * time.Minute,
		DNSDefaultTTL:        300,
		DNSDefaultProxied:    false,
		DNSDefaultType:       endpoint.RecordTypeA,
		CacheRefreshInterval: 5 * time.Minute,
		IPRefreshInterval:    time.Hour,
		GenericLabelPrefix:   "dns.",
		APITimeout:           10 * time.Second,
		OperationMode:        defaultOperationMode,
		LogLevel:             "info",
	}
}

// ParseFlags resolves Config from (1) hard-coded defaults, (2) the
// DNS_-prefixed environment variable each flag declares via Envar, then
// (3) command-line flags — flags always win over environment, which wins
// over the code default. Provider-capability and per-source-label layers
// are applied later by the engine, not here.
func ParseFlags(args []string) (*Config, error) {
	cfg := defaults()

	a := kingpin.New("dns-reconciler", "Continuous DNS reconciler for container labels and router config.")
	a.HelpFlag.Short('h')

	a.Flag("dns-provider", "DNS backend to reconcile against: cloudflare, digitalocean, or route53.").
		Envar("DNS_PROVIDER").Required().StringVar(&cfg.DNSProvider)

	a.Flag("poll-interval", "How often the periodic reconciliation trigger fires.").
		Envar("DNS_POLL_INTERVAL").Default(cfg.PollInterval.String()).DurationVar(&cfg.PollInterval)

	a.Flag("watch-docker-events", "Subscribe to the Docker event stream as an additional reconciliation trigger.").
		Envar("DNS_WATCH_DOCKER_EVENTS").Default(boolStr(cfg.WatchDockerEvents)).BoolVar(&cfg.WatchDockerEvents)

	a.Flag("cleanup-orphaned", "Allow the orphan sweeper to actually delete records past their grace period.").
		Envar("DNS_CLEANUP_ORPHANED").Default(boolStr(cfg.CleanupOrphaned)).BoolVar(&cfg.CleanupOrphaned)

	a.Flag("cleanup-grace-period", "How long a record must sit orphaned before cleanup-orphaned is allowed to delete it.").
		Envar("DNS_CLEANUP_GRACE_PERIOD").Default(cfg.CleanupGracePeriod.String()).DurationVar(&cfg.CleanupGracePeriod)

	a.Flag("default-ttl", "Default TTL, in seconds, applied when a source spec omits one.").
		Envar("DNS_DEFAULT_TTL").Default(fmt.Sprintf("%d", cfg.DNSDefaultTTL)).Int64Var((*int64)(&cfg.DNSDefaultTTL))

	a.Flag("default-proxied", "Default Cloudflare proxied flag applied when a source spec omits one.").
		Envar("DNS_DEFAULT_PROXIED").Default(boolStr(cfg.DNSDefaultProxied)).BoolVar(&cfg.DNSDefaultProxied)

	a.Flag("default-type", "Record type checked at startup; the source extractors do not read it (they default to A, or AAAA for container labels when only IPv6 resolves).").
		Envar("DNS_DEFAULT_TYPE").Default(cfg.DNSDefaultType).StringVar(&cfg.DNSDefaultType)

	a.Flag("cache-refresh-interval", "How often the record cache refreshes from the provider in the background; a snapshot younger than this is kept.").
		Envar("DNS_CACHE_REFRESH_INTERVAL").Default(cfg.CacheRefreshInterval.String()).DurationVar(&cfg.CacheRefreshInterval)

	a.Flag("ip-refresh-interval", "How often the public IP resolver re-checks the host's public address.").
		Envar("DNS_IP_REFRESH_INTERVAL").Default(cfg.IPRefreshInterval.String()).DurationVar(&cfg.IPRefreshInterval)

	a.Flag("generic-label-prefix", "Label namespace the container-label extractor recognizes.").
		Envar("DNS_GENERIC_LABEL_PREFIX").Default(cfg.GenericLabelPrefix).StringVar(&cfg.GenericLabelPrefix)

	var preservedHostnamesRaw, managedHostnamesRaw string
	a.Flag("preserved-hostnames", "Comma-separated hostnames (or *.suffix patterns) the sweeper never deletes.").
		Envar("DNS_PRESERVED_HOSTNAMES").StringVar(&preservedHostnamesRaw)

	a.Flag("managed-hostnames", "Comma-separated hostnames reconciled via the manual extractor.").
		Envar("DNS_MANAGED_HOSTNAMES").StringVar(&managedHostnamesRaw)

	a.Flag("api-timeout", "Provider call timeout setting; it is parsed and stored but not passed to the provider adapters, so provider calls are bounded only by the pass context.").
		Envar("DNS_API_TIMEOUT").Default(cfg.APITimeout.String()).DurationVar(&cfg.APITimeout)

	a.Flag("operation-mode", "Which source extractors run: router, direct (container labels only), or both.").
		Envar("DNS_OPERATION_MODE").Default(string(cfg.OperationMode)).
		EnumVar((*string)(&cfg.OperationMode), string(OperationModeRouter), string(OperationModeDirect), string(OperationModeBoth))

	a.Flag("router-config-path", "Path to the Traefik-style dynamic config file the router extractor reads.").
		Envar("DNS_ROUTER_CONFIG_PATH").StringVar(&cfg.RouterConfigPath)

	a.Flag("log-level", "Logging verbosity: debug, info, warn, or error.").
		Envar("DNS_LOG_LEVEL").Default(cfg.LogLevel).EnumVar(&cfg.LogLevel, "debug", "info", "warn", "error")

	a.Flag("cloudflare-api-token", "Cloudflare API token.").Envar("CF_API_TOKEN").StringVar(&cfg.CloudflareAPIToken)
	a.Flag("cloudflare-zone-id", "Cloudflare zone ID.").Envar("CF_ZONE_ID").StringVar(&cfg.CloudflareZoneID)

	a.Flag("digitalocean-api-token", "DigitalOcean API token.").Envar("DO_API_TOKEN").StringVar(&cfg.DigitalOceanAPIToken)
	a.Flag("digitalocean-domain", "DigitalOcean managed domain.").Envar("DO_DOMAIN").StringVar(&cfg.DigitalOceanDomain)

	a.Flag("route53-hosted-zone-id", "Route 53 hosted zone ID.").Envar("AWS_HOSTED_ZONE_ID").StringVar(&cfg.Route53HostedZoneID)
	a.Flag("route53-zone-name", "Route 53 zone name.").Envar("AWS_ZONE_NAME").StringVar(&cfg.Route53ZoneName)
	a.Flag("aws-profile", "AWS shared-config profile name.").Envar("AWS_PROFILE").StringVar(&cfg.AWSProfile)
	a.Flag("aws-region", "AWS region.").Envar("AWS_REGION").StringVar(&cfg.AWSRegion)

	if _, err := a.Parse(args); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.PreservedHostnames = splitCommaList(preservedHostnamesRaw)
	cfg.ManagedHostnames = splitCommaList(managedHostnamesRaw)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the closed set of recognized operator options: an
// unrecognized DNSProvider or a provider selected without its required
// credentials is a startup-time failure, not a silent fallback.
func (c *Config) Validate() error {
	switch strings.ToLower(c.DNSProvider) {
	case "cloudflare":
		if c.CloudflareAPIToken == "" || c.CloudflareZoneID == "" {
			return fmt.Errorf("config: cloudflare provider requires --cloudflare-api-token and --cloudflare-zone-id")
		}
	case "digitalocean":
		if c.DigitalOceanAPIToken == "" || c.DigitalOceanDomain == "" {
			return fmt.Errorf("config: digitalocean provider requires --digitalocean-api-token and --digitalocean-domain")
		}
	case "route53":
		if c.Route53HostedZoneID == "" || c.Route53ZoneName == "" {
			return fmt.Errorf("config: route53 provider requires --route53-hosted-zone-id and --route53-zone-name")
		}
	default:
		return fmt.Errorf("config: unrecognized dns-provider %q", c.DNSProvider)
	}
	if !endpoint.SupportedRecordType(c.DNSDefaultType) {
		return fmt.Errorf("config: unrecognized default-type %q", c.DNSDefaultType)
	}
	return nil
}

// splitCommaList splits a comma-separated flag value into trimmed,
// non-empty entries; an unset flag yields nil, not a one-element slice.
func splitCommaList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Hostname returns the local machine's hostname for use in log fields and
// banners, falling back to "unknown" rather than failing startup over it.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
