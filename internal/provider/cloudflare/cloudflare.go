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

// Package cloudflare implements the provider.Adapter contract against the
// Cloudflare DNS API.
package cloudflare

import (
	"context"
	"errors"
	"strings"

	cf "github.com/cloudflare/cloudflare-go/v5"
	"github.com/cloudflare/cloudflare-go/v5/dns"
	cfoption "github.com/cloudflare/cloudflare-go/v5/option"
	"github.com/cloudflare/cloudflare-go/v5/shared"
	log "github.com/sirupsen/logrus"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
	"github.com/netgrove/dns-reconciler/internal/provider"
)

// Config configures a Cloudflare adapter.
type Config struct {
	APIToken        string
	ZoneID          string
	ZoneName        string
	DefaultProxied  bool
	DefaultTTL      endpoint.TTL
	RequestTimeout  int // seconds; not read by the adapter, calls use the caller's context as is
}

// Adapter implements provider.Adapter against the Cloudflare DNS API.
type Adapter struct {
	client *cf.Client
	cfg    Config
}

var _ provider.Adapter = (*Adapter)(nil)

// New constructs a Cloudflare adapter. Credentials are never logged; any
// error this or later calls return has already been passed through
// redact.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIToken == "" {
		return nil, errors.New("cloudflare: APIToken is required")
	}
	if cfg.ZoneID == "" {
		return nil, errors.New("cloudflare: ZoneID is required")
	}
	client := cf.NewClient(cfoption.WithAPIToken(cfg.APIToken))
	return &Adapter{client: client, cfg: cfg}, nil
}

func (a *Adapter) Name() string { return "cloudflare" }

func (a *Adapter) Capabilities() provider.Features {
	return provider.Features{
		SupportsProxied:     true,
		TTLFloor:            1, // Cloudflare: 1 means "automatic", otherwise floor is 60
		RequiresTrailingDot: false,
		SupportsBatch:       true,
		DefaultTTL:          a.cfg.DefaultTTL,
		Types:               provider.MXCAARecordTypeConfig,
	}
}

func (a *Adapter) ListZoneRecords(ctx context.Context) ([]endpoint.Record, error) {
	var out []endpoint.Record
	page, err := a.client.DNS.Records.List(ctx, dns.RecordListParams{ZoneID: cf.F(a.cfg.ZoneID)})
	if err != nil {
		return nil, a.redact(mapError(err, "list records"))
	}
	for page != nil {
		for _, rec := range page.Result {
			out = append(out, a.toRecord(rec))
		}
		if err := page.GetNextPage(); err != nil {
			return nil, a.redact(mapError(err, "list records (pagination)"))
		}
		if page.Result == nil {
			break
		}
	}
	return out, nil
}

func (a *Adapter) CreateRecord(ctx context.Context, spec endpoint.DesiredSpec) (endpoint.Record, error) {
	spec = provider.Normalize(spec, a.Capabilities())
	params, err := a.toCreateParams(spec)
	if err != nil {
		return endpoint.Record{}, a.redact(provider.Validation(err, "build create params"))
	}

	rec, err := a.client.DNS.Records.New(ctx, params)
	if err != nil {
		if isAlreadyExists(err) {
			existing, findErr := a.findMatching(ctx, spec)
			if findErr == nil {
				log.Debugf("cloudflare: create for %s already exists, adopting existing record", spec.Hostname)
				return existing, nil
			}
			return endpoint.Record{}, a.redact(provider.Conflict(err, "create record"))
		}
		return endpoint.Record{}, a.redact(mapError(err, "create record"))
	}
	return a.toRecord(*rec), nil
}

func (a *Adapter) UpdateRecord(ctx context.Context, id string, spec endpoint.DesiredSpec) (endpoint.Record, error) {
	spec = provider.Normalize(spec, a.Capabilities())
	params, err := a.toUpdateParams(spec)
	if err != nil {
		return endpoint.Record{}, a.redact(provider.Validation(err, "build update params"))
	}

	rec, err := a.client.DNS.Records.Update(ctx, id, params)
	if err != nil {
		if isNotFound(err) {
			log.Debugf("cloudflare: update target %s missing, falling back to create", id)
			return a.CreateRecord(ctx, spec)
		}
		return endpoint.Record{}, a.redact(mapError(err, "update record"))
	}
	return a.toRecord(*rec), nil
}

func (a *Adapter) DeleteRecord(ctx context.Context, id string) error {
	_, err := a.client.DNS.Records.Delete(ctx, id, dns.RecordDeleteParams{ZoneID: cf.F(a.cfg.ZoneID)})
	if err != nil {
		if isNotFound(err) {
			return nil // idempotent delete
		}
		return a.redact(mapError(err, "delete record"))
	}
	return nil
}

func (a *Adapter) findMatching(ctx context.Context, spec endpoint.DesiredSpec) (endpoint.Record, error) {
	records, err := a.ListZoneRecords(ctx)
	if err != nil {
		return endpoint.Record{}, err
	}
	want := endpoint.FingerprintOf(a.Name(), specAsRecord(a.cfg.ZoneID, spec))
	for _, r := range records {
		if endpoint.FingerprintOf(a.Name(), r) == want {
			return r, nil
		}
	}
	return endpoint.Record{}, errors.New("no matching existing record found")
}

func specAsRecord(zone string, spec endpoint.DesiredSpec) endpoint.Record {
	content := ""
	if spec.Content != nil {
		content = *spec.Content
	}
	r := endpoint.Record{Zone: zone, Type: spec.Type, Name: spec.Hostname, Content: content}
	if spec.Priority != nil {
		r.Priority = *spec.Priority
	}
	return r
}

func (a *Adapter) toRecord(rec dns.RecordResponse) endpoint.Record {
	r := endpoint.Record{
		ID:       rec.ID,
		Zone:     a.cfg.ZoneID,
		Type:     strings.ToUpper(string(rec.Type)),
		Name:     strings.ToLower(strings.TrimSuffix(rec.Name, ".")),
		Content:  rec.Content,
		TTL:      endpoint.TTL(rec.TTL),
		Proxied:  bool(rec.Proxied),
		Created:  rec.CreatedOn,
		Modified: rec.ModifiedOn,
	}
	if rec.Priority != 0 {
		r.Priority = uint16(rec.Priority)
	}
	return r
}

func (a *Adapter) toCreateParams(spec endpoint.DesiredSpec) (dns.RecordNewParams, error) {
	body, err := a.bodyFromSpec(spec)
	if err != nil {
		return dns.RecordNewParams{}, err
	}
	return dns.RecordNewParams{ZoneID: cf.F(a.cfg.ZoneID), Record: body}, nil
}

func (a *Adapter) toUpdateParams(spec endpoint.DesiredSpec) (dns.RecordUpdateParams, error) {
	body, err := a.bodyFromSpec(spec)
	if err != nil {
		return dns.RecordUpdateParams{}, err
	}
	return dns.RecordUpdateParams{ZoneID: cf.F(a.cfg.ZoneID), Record: body}, nil
}

// bodyFromSpec builds the shared record body used by both create and
// update params. Cloudflare proxied defaults to the adapter's configured
// default when the spec does not set it explicitly.
func (a *Adapter) bodyFromSpec(spec endpoint.DesiredSpec) (dns.RecordUnionParam, error) {
	if spec.Content == nil {
		return nil, errors.New("cloudflare: record content must be resolved before submission")
	}
	proxied := a.cfg.DefaultProxied
	if spec.Proxied != nil {
		proxied = *spec.Proxied
	}
	ttl := dns.TTL(spec.TTL)
	if spec.TTL == 0 {
		ttl = dns.TTL(a.cfg.DefaultTTL)
	}

	switch strings.ToUpper(spec.Type) {
	case endpoint.RecordTypeA:
		return &dns.ARecordParam{Type: cf.F(dns.ARecordTypeA), Name: cf.F(spec.Hostname), Content: cf.F(*spec.Content), TTL: cf.F(ttl), Proxied: cf.F(proxied)}, nil
	case endpoint.RecordTypeAAAA:
		return &dns.AAAARecordParam{Type: cf.F(dns.AAAARecordTypeAAAA), Name: cf.F(spec.Hostname), Content: cf.F(*spec.Content), TTL: cf.F(ttl), Proxied: cf.F(proxied)}, nil
	case endpoint.RecordTypeCNAME:
		return &dns.CNAMERecordParam{Type: cf.F(dns.CNAMERecordTypeCNAME), Name: cf.F(spec.Hostname), Content: cf.F(*spec.Content), TTL: cf.F(ttl), Proxied: cf.F(proxied)}, nil
	case endpoint.RecordTypeTXT:
		return &dns.TXTRecordParam{Type: cf.F(dns.TXTRecordTypeTXT), Name: cf.F(spec.Hostname), Content: cf.F(*spec.Content), TTL: cf.F(ttl)}, nil
	case endpoint.RecordTypeMX:
		priority := float64(0)
		if spec.Priority != nil {
			priority = float64(*spec.Priority)
		}
		return &dns.MXRecordParam{Type: cf.F(dns.MXRecordTypeMX), Name: cf.F(spec.Hostname), Content: cf.F(*spec.Content), Priority: cf.F(priority), TTL: cf.F(ttl)}, nil
	case endpoint.RecordTypeSRV:
		return &dns.SRVRecordParam{Type: cf.F(dns.SRVRecordTypeSRV), Name: cf.F(spec.Hostname), Data: cf.F(srvDataFromSpec(spec)), TTL: cf.F(ttl)}, nil
	case endpoint.RecordTypeCAA:
		tag := ""
		if spec.Tag != nil {
			tag = *spec.Tag
		}
		flags := float64(0)
		if spec.Flags != nil {
			flags = float64(*spec.Flags)
		}
		return &dns.CAARecordParam{Type: cf.F(dns.CAARecordTypeCAA), Name: cf.F(spec.Hostname), Data: cf.F(dns.CAARecordDataParam{Tag: cf.F(tag), Value: cf.F(*spec.Content), Flags: cf.F(flags)}), TTL: cf.F(ttl)}, nil
	case endpoint.RecordTypeNS:
		return &dns.NSRecordParam{Type: cf.F(dns.NSRecordTypeNS), Name: cf.F(spec.Hostname), Content: cf.F(*spec.Content), TTL: cf.F(ttl)}, nil
	default:
		return nil, errors.New("cloudflare: unsupported record type " + spec.Type)
	}
}

func srvDataFromSpec(spec endpoint.DesiredSpec) dns.SRVRecordDataParam {
	var priority, weight, port float64
	if spec.Priority != nil {
		priority = float64(*spec.Priority)
	}
	if spec.Weight != nil {
		weight = float64(*spec.Weight)
	}
	if spec.Port != nil {
		port = float64(*spec.Port)
	}
	target := ""
	if spec.Content != nil {
		target = *spec.Content
	}
	return dns.SRVRecordDataParam{Priority: cf.F(priority), Weight: cf.F(weight), Port: cf.F(port), Target: cf.F(target)}
}

func mapError(err error, context string) error {
	var apiErr *shared.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return provider.AuthFailure(err, context)
		case apiErr.StatusCode == 404:
			return provider.NotFound(err, context)
		case apiErr.StatusCode == 429:
			return provider.RateLimited(err, context, 0)
		case apiErr.StatusCode >= 500:
			return provider.TransientError(err, context)
		case apiErr.StatusCode >= 400:
			return provider.Validation(err, context)
		}
	}
	return provider.TransientError(err, context)
}

func isNotFound(err error) bool {
	var apiErr *shared.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

func isAlreadyExists(err error) bool {
	var apiErr *shared.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode < 400 || apiErr.StatusCode >= 500 {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Error()), "already exist") ||
		strings.Contains(strings.ToLower(apiErr.Error()), "identical record already exists")
}

// redact scrubs the configured API token from any error message before it
// leaves the adapter, so it never reaches logs or the activity stream.
func (a *Adapter) redact(err error) error {
	if err == nil || a.cfg.APIToken == "" {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), a.cfg.APIToken, "[REDACTED]")
	if msg == err.Error() {
		return err
	}
	if pe, ok := provider.AsError(err); ok && pe.Err != nil {
		return &provider.Error{Kind: pe.Kind, RetryAfterSeconds: pe.RetryAfterSeconds, Err: errors.New(strings.ReplaceAll(pe.Err.Error(), a.cfg.APIToken, "[REDACTED]"))}
	}
	return errors.New(msg)
}
