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

// Package digitalocean implements the provider.Adapter contract against
// the DigitalOcean Networking DNS API.
package digitalocean

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/digitalocean/godo"
	"golang.org/x/oauth2"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
	"github.com/netgrove/dns-reconciler/internal/provider"
)

// Config configures a DigitalOcean adapter.
type Config struct {
	APIToken   string
	Domain     string // the zone, e.g. "example.com"
	PageSize   int
	DefaultTTL endpoint.TTL
}

type tokenSource struct{ token string }

func (t *tokenSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: t.token}, nil
}

// Adapter implements provider.Adapter against DigitalOcean's DNS API.
type Adapter struct {
	client *godo.Client
	cfg    Config
}

var _ provider.Adapter = (*Adapter)(nil)

// New constructs a DigitalOcean adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIToken == "" {
		return nil, errors.New("digitalocean: APIToken is required")
	}
	if cfg.Domain == "" {
		return nil, errors.New("digitalocean: Domain is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	oc := oauth2.NewClient(context.Background(), &tokenSource{token: cfg.APIToken})
	client := godo.NewClient(oc)
	return &Adapter{client: client, cfg: cfg}, nil
}

func (a *Adapter) Name() string { return "digitalocean" }

func (a *Adapter) Capabilities() provider.Features {
	return provider.Features{
		SupportsProxied:     false,
		TTLFloor:            30,
		RequiresTrailingDot: false,
		SupportsBatch:       false,
		DefaultTTL:          a.cfg.DefaultTTL,
		Types:               provider.MXCAARecordTypeConfig,
	}
}

func (a *Adapter) ListZoneRecords(ctx context.Context) ([]endpoint.Record, error) {
	var out []endpoint.Record
	opt := &godo.ListOptions{PerPage: a.cfg.PageSize}
	for {
		records, resp, err := a.client.Domains.Records(ctx, a.cfg.Domain, opt)
		if err != nil {
			return nil, redact(a.cfg.APIToken, mapError(err, "list records"))
		}
		for _, r := range records {
			out = append(out, a.toRecord(r))
		}
		if resp == nil || resp.Links == nil || resp.Links.IsLastPage() {
			break
		}
		page, err := resp.Links.CurrentPage()
		if err != nil {
			break
		}
		opt.Page = page + 1
	}
	return out, nil
}

func (a *Adapter) CreateRecord(ctx context.Context, spec endpoint.DesiredSpec) (endpoint.Record, error) {
	spec = provider.Normalize(spec, a.Capabilities())
	req, err := a.toCreateRequest(spec)
	if err != nil {
		return endpoint.Record{}, redact(a.cfg.APIToken, provider.Validation(err, "build create request"))
	}

	rec, _, err := a.client.Domains.CreateRecord(ctx, a.cfg.Domain, req)
	if err != nil {
		if isAlreadyExists(err) {
			existing, findErr := a.findMatching(ctx, spec)
			if findErr == nil {
				return existing, nil
			}
			return endpoint.Record{}, redact(a.cfg.APIToken, provider.Conflict(err, "create record"))
		}
		return endpoint.Record{}, redact(a.cfg.APIToken, mapError(err, "create record"))
	}
	return a.toRecord(*rec), nil
}

func (a *Adapter) UpdateRecord(ctx context.Context, id string, spec endpoint.DesiredSpec) (endpoint.Record, error) {
	spec = provider.Normalize(spec, a.Capabilities())
	recID, err := strconv.Atoi(id)
	if err != nil {
		return endpoint.Record{}, provider.Internal(err, "parse digitalocean record id")
	}
	req, err := a.toEditRequest(spec)
	if err != nil {
		return endpoint.Record{}, redact(a.cfg.APIToken, provider.Validation(err, "build update request"))
	}

	rec, _, err := a.client.Domains.EditRecord(ctx, a.cfg.Domain, recID, req)
	if err != nil {
		if isNotFound(err) {
			return a.CreateRecord(ctx, spec)
		}
		return endpoint.Record{}, redact(a.cfg.APIToken, mapError(err, "update record"))
	}
	return a.toRecord(*rec), nil
}

func (a *Adapter) DeleteRecord(ctx context.Context, id string) error {
	recID, err := strconv.Atoi(id)
	if err != nil {
		return provider.Internal(err, "parse digitalocean record id")
	}
	_, err = a.client.Domains.DeleteRecord(ctx, a.cfg.Domain, recID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return redact(a.cfg.APIToken, mapError(err, "delete record"))
	}
	return nil
}

func (a *Adapter) findMatching(ctx context.Context, spec endpoint.DesiredSpec) (endpoint.Record, error) {
	records, err := a.ListZoneRecords(ctx)
	if err != nil {
		return endpoint.Record{}, err
	}
	want := endpoint.FingerprintOf(a.Name(), specAsRecord(a.cfg.Domain, spec))
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

// relativeName strips the zone suffix: DigitalOcean stores record names
// relative to the domain ("app" not "app.example.com").
func (a *Adapter) relativeName(fqdn string) string {
	suffix := "." + a.cfg.Domain
	if strings.HasSuffix(fqdn, suffix) {
		return strings.TrimSuffix(fqdn, suffix)
	}
	if fqdn == a.cfg.Domain {
		return "@"
	}
	return fqdn
}

func (a *Adapter) absoluteName(name string) string {
	if name == "@" || name == "" {
		return a.cfg.Domain
	}
	return name + "." + a.cfg.Domain
}

func (a *Adapter) toRecord(r godo.DomainRecord) endpoint.Record {
	rec := endpoint.Record{
		ID:      strconv.Itoa(r.ID),
		Zone:    a.cfg.Domain,
		Type:    strings.ToUpper(r.Type),
		Name:    strings.ToLower(a.absoluteName(r.Name)),
		Content: r.Data,
		TTL:     endpoint.TTL(r.TTL),
	}
	if r.Priority > 0 {
		rec.Priority = uint16(r.Priority)
	}
	if r.Weight > 0 {
		rec.Weight = uint16(r.Weight)
	}
	if r.Port > 0 {
		rec.Port = uint16(r.Port)
	}
	if r.Flags > 0 {
		rec.Flags = uint8(r.Flags)
	}
	rec.Tag = r.Tag
	return rec
}

func (a *Adapter) toCreateRequest(spec endpoint.DesiredSpec) (*godo.DomainRecordEditRequest, error) {
	if spec.Content == nil {
		return nil, errors.New("digitalocean: record content must be resolved before submission")
	}
	req := &godo.DomainRecordEditRequest{
		Type: strings.ToUpper(spec.Type),
		Name: a.relativeName(spec.Hostname),
		Data: *spec.Content,
		TTL:  int(spec.TTL),
	}
	if spec.Priority != nil {
		req.Priority = int(*spec.Priority)
	}
	if spec.Weight != nil {
		req.Weight = int(*spec.Weight)
	}
	if spec.Port != nil {
		req.Port = int(*spec.Port)
	}
	if spec.Flags != nil {
		req.Flags = int(*spec.Flags)
	}
	if spec.Tag != nil {
		req.Tag = *spec.Tag
	}
	return req, nil
}

func (a *Adapter) toEditRequest(spec endpoint.DesiredSpec) (*godo.DomainRecordEditRequest, error) {
	return a.toCreateRequest(spec)
}

func mapError(err error, context string) error {
	var apiErr *godo.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		switch code := apiErr.Response.StatusCode; {
		case code == 401 || code == 403:
			return provider.AuthFailure(err, context)
		case code == 404:
			return provider.NotFound(err, context)
		case code == 429:
			return provider.RateLimited(err, context, retryAfterSeconds(apiErr))
		case code >= 500:
			return provider.TransientError(err, context)
		case code >= 400:
			return provider.Validation(err, context)
		}
	}
	return provider.TransientError(err, context)
}

func retryAfterSeconds(apiErr *godo.ErrorResponse) int {
	if apiErr.Response == nil {
		return 0
	}
	v := apiErr.Response.Header.Get("Retry-After")
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func isNotFound(err error) bool {
	var apiErr *godo.ErrorResponse
	return errors.As(err, &apiErr) && apiErr.Response != nil && apiErr.Response.StatusCode == 404
}

func isAlreadyExists(err error) bool {
	var apiErr *godo.ErrorResponse
	if !errors.As(err, &apiErr) || apiErr.Response == nil {
		return false
	}
	code := apiErr.Response.StatusCode
	if code < 400 || code >= 500 {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "already exists")
}

func redact(token string, err error) error {
	if err == nil || token == "" {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), token, "[REDACTED]")
	if msg == err.Error() {
		return err
	}
	if pe, ok := provider.AsError(err); ok && pe.Err != nil {
		return &provider.Error{Kind: pe.Kind, RetryAfterSeconds: pe.RetryAfterSeconds, Err: errors.New(strings.ReplaceAll(pe.Err.Error(), token, "[REDACTED]"))}
	}
	return fmt.Errorf("%s", msg)
}
