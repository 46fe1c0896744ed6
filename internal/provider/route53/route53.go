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

// Package route53 implements the provider.Adapter contract against AWS
// Route 53, using the hosted-zone change-batch API for mutations.
package route53

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/smithy-go"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
	"github.com/netgrove/dns-reconciler/internal/provider"
)

// Config configures a Route 53 adapter. Credentials are resolved through
// the default AWS SDK chain (env vars, shared config, instance role)
// unless Profile is set.
type Config struct {
	HostedZoneID string
	ZoneName     string
	Profile      string
	Region       string
	DefaultTTL   endpoint.TTL
}

// Adapter implements provider.Adapter against AWS Route 53.
type Adapter struct {
	client *route53.Client
	cfg    Config
}

var _ provider.Adapter = (*Adapter)(nil)

// New constructs a Route 53 adapter, resolving AWS credentials through the
// standard SDK chain.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.HostedZoneID == "" {
		return nil, errors.New("route53: HostedZoneID is required")
	}
	if cfg.ZoneName == "" {
		return nil, errors.New("route53: ZoneName is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awscfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("route53: load AWS config: %w", err)
	}

	return &Adapter{client: route53.NewFromConfig(awscfg), cfg: cfg}, nil
}

func (a *Adapter) Name() string { return "route53" }

func (a *Adapter) Capabilities() provider.Features {
	return provider.Features{
		SupportsProxied:     false,
		TTLFloor:            0,
		RequiresTrailingDot: true,
		SupportsBatch:       true,
		DefaultTTL:          a.cfg.DefaultTTL,
		Types:               provider.MXCAARoute53RecordTypeConfig,
	}
}

func (a *Adapter) ListZoneRecords(ctx context.Context) ([]endpoint.Record, error) {
	var out []endpoint.Record
	var startName *string
	var startType types.RRType

	for {
		resp, err := a.client.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
			HostedZoneId:    aws.String(a.cfg.HostedZoneID),
			StartRecordName: startName,
			StartRecordType: startType,
		})
		if err != nil {
			return nil, mapError(err, "list records")
		}
		for _, rrs := range resp.ResourceRecordSets {
			out = append(out, a.toRecords(rrs)...)
		}
		if !resp.IsTruncated {
			break
		}
		startName = resp.NextRecordName
		startType = resp.NextRecordType
	}
	return out, nil
}

func (a *Adapter) CreateRecord(ctx context.Context, spec endpoint.DesiredSpec) (endpoint.Record, error) {
	return a.upsert(ctx, spec, types.ChangeActionCreate)
}

// UpdateRecord in Route 53 is an UPSERT keyed on (name, type): there is no
// id-addressed update call, so id is accepted for interface conformance
// but not otherwise used.
func (a *Adapter) UpdateRecord(ctx context.Context, _ string, spec endpoint.DesiredSpec) (endpoint.Record, error) {
	return a.upsert(ctx, spec, types.ChangeActionUpsert)
}

func (a *Adapter) upsert(ctx context.Context, spec endpoint.DesiredSpec, action types.ChangeAction) (endpoint.Record, error) {
	spec = provider.Normalize(spec, a.Capabilities())
	rrs, err := a.toResourceRecordSet(spec)
	if err != nil {
		return endpoint.Record{}, provider.Validation(err, "build resource record set")
	}

	_, err = a.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(a.cfg.HostedZoneID),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{{Action: action, ResourceRecordSet: rrs}},
		},
	})
	if err != nil {
		if action == types.ChangeActionCreate && isAlreadyExists(err) {
			existing, findErr := a.findMatching(ctx, spec)
			if findErr == nil {
				return existing, nil
			}
			return endpoint.Record{}, provider.Conflict(err, "create record")
		}
		return endpoint.Record{}, mapError(err, string(action))
	}

	out := endpoint.Record{
		Zone:     a.cfg.ZoneName,
		Type:     string(rrs.Type),
		Name:     strings.ToLower(strings.TrimSuffix(aws.ToString(rrs.Name), ".")),
		Content:  *spec.Content,
		TTL:      ttlOf(rrs.TTL),
		Priority: derefUint16(spec.Priority),
		Weight:   derefUint16(spec.Weight),
		Port:     derefUint16(spec.Port),
	}
	out.ID = endpoint.FingerprintOf(a.Name(), out).String()
	return out, nil
}

// DeleteRecord expects id to be the fingerprint string
// (provider|zone|type|name|content) that ListZoneRecords and CreateRecord
// assign as the record ID, since Route 53 deletion requires the exact
// resource record set content, not just a name.
func (a *Adapter) DeleteRecord(ctx context.Context, id string) error {
	rec, err := a.recordFromID(ctx, id)
	if err != nil {
		if errors.Is(err, errRecordGone) {
			return nil
		}
		return err
	}

	rrs := a.rrsFromRecord(rec)
	_, err = a.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(a.cfg.HostedZoneID),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{{Action: types.ChangeActionDelete, ResourceRecordSet: rrs}},
		},
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return mapError(err, "delete record")
	}
	return nil
}

var errRecordGone = errors.New("route53: record no longer present")

func (a *Adapter) recordFromID(ctx context.Context, id string) (endpoint.Record, error) {
	records, err := a.ListZoneRecords(ctx)
	if err != nil {
		return endpoint.Record{}, err
	}
	for _, r := range records {
		if endpoint.FingerprintOf(a.Name(), r).String() == id {
			return r, nil
		}
	}
	return endpoint.Record{}, errRecordGone
}

func (a *Adapter) findMatching(ctx context.Context, spec endpoint.DesiredSpec) (endpoint.Record, error) {
	records, err := a.ListZoneRecords(ctx)
	if err != nil {
		return endpoint.Record{}, err
	}
	content := ""
	if spec.Content != nil {
		content = *spec.Content
	}
	want := endpoint.FingerprintOf(a.Name(), endpoint.Record{Zone: a.cfg.ZoneName, Type: spec.Type, Name: spec.Hostname, Content: content})
	for _, r := range records {
		if endpoint.FingerprintOf(a.Name(), r) == want {
			return r, nil
		}
	}
	return endpoint.Record{}, errors.New("no matching existing record found")
}

func (a *Adapter) toRecords(rrs types.ResourceRecordSet) []endpoint.Record {
	name := strings.ToLower(strings.TrimSuffix(aws.ToString(rrs.Name), "."))
	typ := string(rrs.Type)
	ttl := ttlOf(rrs.TTL)

	var out []endpoint.Record
	for _, rr := range rrs.ResourceRecords {
		rec := endpoint.Record{
			Zone:    a.cfg.ZoneName,
			Type:    typ,
			Name:    name,
			Content: aws.ToString(rr.Value),
			TTL:     ttl,
		}
		if typ == endpoint.RecordTypeMX || typ == endpoint.RecordTypeSRV {
			splitPriorityPrefix(&rec)
		}
		rec.ID = endpoint.FingerprintOf(a.Name(), rec).String()
		out = append(out, rec)
	}
	return out
}

// splitPriorityPrefix peels the leading numeric field(s) Route 53 stores
// inline in MX/SRV record values ("10 mail.example.com." / "10 5 5060
// sip.example.com.") into the canonical Record fields.
func splitPriorityPrefix(rec *endpoint.Record) {
	fields := strings.Fields(rec.Content)
	switch rec.Type {
	case endpoint.RecordTypeMX:
		if len(fields) == 2 {
			if p, err := strconv.ParseUint(fields[0], 10, 16); err == nil {
				rec.Priority = uint16(p)
				rec.Content = fields[1]
			}
		}
	case endpoint.RecordTypeSRV:
		if len(fields) == 4 {
			p, _ := strconv.ParseUint(fields[0], 10, 16)
			w, _ := strconv.ParseUint(fields[1], 10, 16)
			port, _ := strconv.ParseUint(fields[2], 10, 16)
			rec.Priority, rec.Weight, rec.Port = uint16(p), uint16(w), uint16(port)
			rec.Content = fields[3]
		}
	}
}

func (a *Adapter) toResourceRecordSet(spec endpoint.DesiredSpec) (*types.ResourceRecordSet, error) {
	if spec.Content == nil {
		return nil, errors.New("route53: record content must be resolved before submission")
	}
	name := spec.Hostname
	if !strings.HasSuffix(name, ".") {
		name += "."
	}

	value := *spec.Content
	switch spec.Type {
	case endpoint.RecordTypeMX:
		value = fmt.Sprintf("%d %s", derefUint16(spec.Priority), value)
	case endpoint.RecordTypeSRV:
		value = fmt.Sprintf("%d %d %d %s", derefUint16(spec.Priority), derefUint16(spec.Weight), derefUint16(spec.Port), value)
	}

	return &types.ResourceRecordSet{
		Name:            aws.String(name),
		Type:            types.RRType(spec.Type),
		TTL:             aws.Int64(int64(spec.TTL)),
		ResourceRecords: []types.ResourceRecord{{Value: aws.String(value)}},
	}, nil
}

func (a *Adapter) rrsFromRecord(rec endpoint.Record) *types.ResourceRecordSet {
	name := rec.Name
	if !strings.HasSuffix(name, ".") {
		name += "."
	}
	value := rec.Content
	switch rec.Type {
	case endpoint.RecordTypeMX:
		value = fmt.Sprintf("%d %s", rec.Priority, value)
	case endpoint.RecordTypeSRV:
		value = fmt.Sprintf("%d %d %d %s", rec.Priority, rec.Weight, rec.Port, value)
	}
	return &types.ResourceRecordSet{
		Name:            aws.String(name),
		Type:            types.RRType(rec.Type),
		TTL:             aws.Int64(int64(rec.TTL)),
		ResourceRecords: []types.ResourceRecord{{Value: aws.String(value)}},
	}
}

func recordsFromRRS(rrs types.ResourceRecordSet) []string {
	out := make([]string, 0, len(rrs.ResourceRecords))
	for _, rr := range rrs.ResourceRecords {
		out = append(out, aws.ToString(rr.Value))
	}
	return out
}

func firstOr(s []string, def string) string {
	if len(s) == 0 {
		return def
	}
	return s[0]
}

func ttlOf(v *int64) endpoint.TTL {
	if v == nil {
		return 0
	}
	return endpoint.TTL(*v)
}

func derefUint16(v *uint16) uint16 {
	if v == nil {
		return 0
	}
	return *v
}

func mapError(err error, context string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AuthFailure", "InvalidClientTokenId":
			return provider.AuthFailure(err, context)
		case "NoSuchHostedZone", "NoSuchHealthCheck":
			return provider.NotFound(err, context)
		case "Throttling", "ThrottlingException":
			return provider.RateLimited(err, context, 0)
		case "InvalidChangeBatch", "InvalidInput":
			return provider.Validation(err, context)
		case "PriorRequestNotComplete":
			return provider.TransientError(err, context)
		}
	}
	return provider.TransientError(err, context)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidChangeBatch" && strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "not found")
}

func isAlreadyExists(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "InvalidChangeBatch" {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "already exists")
}
