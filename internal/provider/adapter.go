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

// Package provider defines the uniform Adapter contract every DNS backend
// (Cloudflare, DigitalOcean, Route 53) implements, plus the shared error
// taxonomy and normalization helpers used by all three.
package provider

import (
	"context"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
)

// Features enumerates what an adapter's backend supports, so the
// reconciler and normalization layer can make provider-agnostic decisions
// without a type switch on the concrete adapter.
type Features struct {
	// SupportsProxied is true only for Cloudflare.
	SupportsProxied bool
	// TTLFloor is the minimum TTL the provider accepts; outbound
	// create/update calls must clamp to at least this value.
	TTLFloor endpoint.TTL
	// RequiresTrailingDot is true when the provider's wire format wants a
	// trailing dot on names/targets for types that reference another name
	// (CNAME, MX, NS, SRV).
	RequiresTrailingDot bool
	// SupportsBatch is true when the provider has a batch-apply endpoint
	// the adapter can use instead of one call per mutation.
	SupportsBatch bool
	DefaultTTL    endpoint.TTL
	// Types is the set of record types this backend accepts.
	Types RecordTypeConfig
}

// Adapter is the uniform interface every DNS provider backend implements.
// All methods return a *provider.Error (see errors.go) on failure so the
// reconciler can apply the error-kind policy uniformly.
type Adapter interface {
	// Name identifies the adapter for metrics, logs, and fingerprints
	// (e.g. "cloudflare", "digitalocean", "route53").
	Name() string

	// Capabilities reports this adapter's Features.
	Capabilities() Features

	// ListZoneRecords returns every record currently in the configured
	// zone. Callers should prefer the Cache (C2) over calling this
	// directly.
	ListZoneRecords(ctx context.Context) ([]endpoint.Record, error)

	// CreateRecord creates a record from spec. If the provider reports
	// "already exists" (a 4xx conflict) and the adapter can locate the
	// existing record with matching content, it returns that record
	// instead of an error (idempotent create).
	CreateRecord(ctx context.Context, spec endpoint.DesiredSpec) (endpoint.Record, error)

	// UpdateRecord updates the record identified by id to match spec. If
	// the provider reports 404, the adapter falls back to CreateRecord.
	UpdateRecord(ctx context.Context, id string, spec endpoint.DesiredSpec) (endpoint.Record, error)

	// DeleteRecord deletes the record identified by id. A 404 is treated
	// as success (idempotent delete).
	DeleteRecord(ctx context.Context, id string) error
}

// ZoneInfo identifies the zone an adapter is configured against.
type ZoneInfo struct {
	ID   string
	Name string
}
