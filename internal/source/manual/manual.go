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

// Package manual turns the tracker's managedHostnames setting into
// DesiredSpecs, for hostnames an operator wants reconciled without any
// container or router backing them.
package manual

import (
	"context"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
)

// HostnameLister supplies the current managedHostnames list. *tracker.Tracker
// satisfies this.
type HostnameLister interface {
	ListManaged() []string
}

// PublicIPResolver supplies the host's current public IP addresses for the
// implicit A record content.
type PublicIPResolver interface {
	PublicIPv4() (string, bool)
}

// Config configures the extractor.
type Config struct {
	DefaultTTL endpoint.TTL
}

// Extractor turns managedHostnames entries into implicit-A-record specs.
type Extractor struct {
	cfg      Config
	lister   HostnameLister
	resolver PublicIPResolver
}

func New(cfg Config, lister HostnameLister, resolver PublicIPResolver) *Extractor {
	return &Extractor{cfg: cfg, lister: lister, resolver: resolver}
}

func (e *Extractor) Name() string { return "manual" }

func (e *Extractor) Extract(ctx context.Context) ([]endpoint.DesiredSpec, error) {
	hostnames := e.lister.ListManaged()
	if len(hostnames) == 0 {
		return nil, nil
	}

	var content *string
	if ip, ok := e.resolver.PublicIPv4(); ok {
		content = &ip
	}

	out := make([]endpoint.DesiredSpec, 0, len(hostnames))
	for _, h := range hostnames {
		out = append(out, endpoint.DesiredSpec{
			Hostname: h,
			Type:     endpoint.RecordTypeA,
			Content:  content,
			TTL:      e.cfg.DefaultTTL,
			Source:   endpoint.SourceManual,
			Managed:  true,
		})
	}
	return out, nil
}
