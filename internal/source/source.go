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

// Package source defines the Extractor contract shared by the
// container-label, router, and manual desired-state producers, and the
// union combinator the reconciler uses to merge them into one desired set.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/miekg/dns"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
)

// ErrSourceNotFound reports that a named source is not registered. No
// function in this module returns it.
var ErrSourceNotFound = errors.New("source not found")

// Extractor produces the DesiredSpecs visible right now. Implementations
// must not block longer than ctx allows and must return a nil slice (not
// an error) when there is simply nothing to report.
type Extractor interface {
	// Name identifies the extractor for logs and the Origin field of
	// specs it did not already stamp.
	Name() string
	Extract(ctx context.Context) ([]endpoint.DesiredSpec, error)
}

// Union runs every extractor and merges their output into one set keyed
// by (type, hostname). Extractors are applied in the order given; a later
// extractor's explicit fields win over an earlier extractor's on a
// conflicting key, per MergeOverride. Callers wanting "container-label
// wins over router" order router before container-label.
func Union(ctx context.Context, extractors ...Extractor) ([]endpoint.DesiredSpec, error) {
	merged := make(map[string]endpoint.DesiredSpec)
	order := make([]string, 0)

	for _, ex := range extractors {
		specs, err := ex.Extract(ctx)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", ex.Name(), err)
		}
		for _, spec := range specs {
			normalized, ok := NormalizeHostname(spec.Hostname)
			if !ok {
				continue
			}
			spec.Hostname = normalized
			if spec.Origin == "" {
				spec.Origin = ex.Name()
			}

			key := spec.Key()
			if existing, found := merged[key]; found {
				merged[key] = endpoint.MergeOverride(existing, spec)
			} else {
				merged[key] = spec
				order = append(order, key)
			}
		}
	}

	out := make([]endpoint.DesiredSpec, 0, len(order))
	for _, key := range order {
		out = append(out, merged[key])
	}
	return out, nil
}

// NormalizeHostname lower-cases h, strips a trailing dot, and rejects it
// if the result is not a syntactically valid domain name. The second
// return value is false when h should be dropped rather than used.
func NormalizeHostname(h string) (string, bool) {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimSuffix(h, ".")
	if h == "" {
		return "", false
	}
	if _, ok := dns.IsDomainName(h); !ok {
		return "", false
	}
	return h, true
}
