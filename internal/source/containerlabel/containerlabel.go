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

// Package containerlabel extracts DesiredSpecs from the labels of running
// containers on the local Docker-compatible runtime.
package containerlabel

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	log "github.com/sirupsen/logrus"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
	"github.com/netgrove/dns-reconciler/internal/provider"
)

// PublicIPResolver supplies the host's current public IP addresses for
// specs that omit an explicit content value.
type PublicIPResolver interface {
	PublicIPv4() (string, bool)
	PublicIPv6() (string, bool)
}

// Config configures the extractor.
type Config struct {
	// LabelPrefix is the label namespace recognized, e.g. "dns." or
	// "traefik.". Suffixes are appended directly: "<prefix>hostname".
	LabelPrefix string
	DefaultTTL  endpoint.TTL
	DefaultProxied bool
}

// Extractor reads labels off running containers via the Docker client.
type Extractor struct {
	docker *client.Client
	cfg    Config
	ip     PublicIPResolver
}

// New constructs an Extractor using the Docker client resolved from the
// environment (DOCKER_HOST, DOCKER_API_VERSION, etc).
func New(cfg Config, ip PublicIPResolver) (*Extractor, error) {
	if cfg.LabelPrefix == "" {
		cfg.LabelPrefix = "dns."
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("containerlabel: create docker client: %w", err)
	}
	return &Extractor{docker: cli, cfg: cfg, ip: ip}, nil
}

func (e *Extractor) Name() string { return "container-label" }

func (e *Extractor) Close() error { return e.docker.Close() }

// recordIndexKey matches "<prefix><suffix>" or "<prefix><suffix>.<index>",
// where index selects which of a container's multiple records a label
// applies to (bare form is index 0).
var recordIndexKey = regexp.MustCompile(`^(.+?)(?:\.(\d+))?$`)

func (e *Extractor) Extract(ctx context.Context) ([]endpoint.DesiredSpec, error) {
	containers, err := e.docker.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("containerlabel: list containers: %w", err)
	}

	var out []endpoint.DesiredSpec
	for _, c := range containers {
		specs, err := e.specsForContainer(c.Labels)
		if err != nil {
			log.WithError(err).WithField("container", strings.Join(c.Names, ",")).
				Warn("skipping container with invalid dns labels")
			continue
		}
		out = append(out, specs...)
	}
	return out, nil
}

type recordBuilder struct {
	hostname string
	typ      string
	content  string
	hasType  bool
	hasContent bool
	ttl      endpoint.TTL
	proxied  *bool
	managed  *bool
	priority *uint16
	weight   *uint16
	port     *uint16
	flags    *uint8
	tag      *string
}

func (e *Extractor) specsForContainer(labels map[string]string) ([]endpoint.DesiredSpec, error) {
	prefix := e.cfg.LabelPrefix

	if strings.EqualFold(labels[prefix+"skip"], "true") {
		return nil, nil
	}

	byIndex := map[string]*recordBuilder{}
	var indexOrder []string

	for key, value := range labels {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if rest == "skip" {
			continue
		}

		suffix, index := splitIndex(rest)
		b, ok := byIndex[index]
		if !ok {
			b = &recordBuilder{}
			byIndex[index] = b
			indexOrder = append(indexOrder, index)
		}

		if err := applyLabel(b, suffix, value); err != nil {
			return nil, fmt.Errorf("label %s: %w", key, err)
		}
	}

	sort.Strings(indexOrder)

	var out []endpoint.DesiredSpec
	for _, idx := range indexOrder {
		b := byIndex[idx]
		if b.hostname == "" {
			continue
		}
		spec, err := e.buildSpec(b)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

func splitIndex(rest string) (suffix, index string) {
	m := recordIndexKey.FindStringSubmatch(rest)
	if m == nil {
		return rest, "0"
	}
	if m[2] == "" {
		return m[1], "0"
	}
	return m[1], m[2]
}

func applyLabel(b *recordBuilder, suffix, value string) error {
	switch suffix {
	case "hostname":
		b.hostname = value
	case "type":
		b.typ = strings.ToUpper(value)
		b.hasType = true
	case "content":
		b.content = value
		b.hasContent = true
	case "ttl":
		ttl := provider.ParseUint16(value, 0, "ttl")
		b.ttl = endpoint.TTL(ttl)
	case "proxied":
		v, err := provider.ParseBoolStrict(value)
		if err != nil {
			return err
		}
		b.proxied = &v
	case "manage":
		v, err := provider.ParseBoolStrict(value)
		if err != nil {
			return err
		}
		b.managed = &v
	case "priority":
		v := provider.ParseUint16(value, 0, "priority")
		b.priority = &v
	case "weight":
		v := provider.ParseUint16(value, 0, "weight")
		b.weight = &v
	case "port":
		v := provider.ParseUint16(value, 0, "port")
		b.port = &v
	case "flags":
		v := provider.ParseUint8(value, 0, "flags")
		b.flags = &v
	case "tag":
		b.tag = &value
	default:
		// unrecognized suffix under our prefix: ignore rather than fail,
		// since operators may share the prefix with unrelated tooling.
	}
	return nil
}

func (e *Extractor) buildSpec(b *recordBuilder) (endpoint.DesiredSpec, error) {
	typ := b.typ
	if !b.hasType {
		typ = endpoint.RecordTypeA
		if _, ok := e.ip.PublicIPv4(); !ok {
			if _, ok := e.ip.PublicIPv6(); ok {
				typ = endpoint.RecordTypeAAAA
			}
		}
	}

	spec := endpoint.DesiredSpec{
		Hostname: b.hostname,
		Type:     typ,
		TTL:      e.cfg.DefaultTTL,
		Source:   endpoint.SourceContainer,
		Managed:  true,
	}
	if b.ttl != 0 {
		spec.TTL = b.ttl
	}
	if b.proxied != nil {
		spec.Proxied = b.proxied
	} else if e.cfg.DefaultProxied {
		v := true
		spec.Proxied = &v
	}
	if b.managed != nil {
		spec.Managed = *b.managed
	}
	spec.Priority = b.priority
	spec.Weight = b.weight
	spec.Port = b.port
	spec.Flags = b.flags
	spec.Tag = b.tag

	if b.hasContent {
		spec.Content = &b.content
	} else if typ == endpoint.RecordTypeA || typ == endpoint.RecordTypeAAAA {
		content, ok := e.resolveImplicitContent(typ)
		if !ok {
			return endpoint.DesiredSpec{}, fmt.Errorf("no public IP available to populate implicit %s content for %s", typ, b.hostname)
		}
		spec.Content = &content
	}

	return spec, nil
}

func (e *Extractor) resolveImplicitContent(typ string) (string, bool) {
	if typ == endpoint.RecordTypeAAAA {
		return e.ip.PublicIPv6()
	}
	return e.ip.PublicIPv4()
}
