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

package endpoint

// SourceKind identifies which extractor produced a DesiredSpec.
type SourceKind string

const (
	SourceContainer SourceKind = "container"
	SourceRouter    SourceKind = "router"
	SourceManual    SourceKind = "manual"
)

// DesiredSpec is produced by a source extractor (C4): one hostname the
// engine should ensure a record exists for, plus the fields needed to
// create or compare against one.
type DesiredSpec struct {
	Hostname string
	Type     string

	// Content is nil when the spec wants "the host's current public IP for
	// A/AAAA" rather than an explicit value.
	Content *string

	TTL      TTL
	Proxied  *bool
	Priority *uint16
	Weight   *uint16
	Port     *uint16
	Flags    *uint8
	Tag      *string

	Source  SourceKind
	Managed bool

	// Origin names the concrete thing that produced this spec (a container
	// name, a router name) for diagnostics and conflict-resolution logs.
	Origin string
}

// Key returns the (hostname, type) pair used to detect conflicting specs
// across extractors, before a Zone/provider is known.
func (d DesiredSpec) Key() string {
	return d.Type + "/" + d.Hostname
}

// MergeOverride applies the explicit fields of override onto base,
// following the "later source wins, but only on explicit fields" rule from
// the source-union algorithm. base and override must share the same Key().
func MergeOverride(base, override DesiredSpec) DesiredSpec {
	merged := base
	if override.Content != nil {
		merged.Content = override.Content
	}
	if override.TTL != 0 {
		merged.TTL = override.TTL
	}
	if override.Proxied != nil {
		merged.Proxied = override.Proxied
	}
	if override.Priority != nil {
		merged.Priority = override.Priority
	}
	if override.Weight != nil {
		merged.Weight = override.Weight
	}
	if override.Port != nil {
		merged.Port = override.Port
	}
	if override.Flags != nil {
		merged.Flags = override.Flags
	}
	if override.Tag != nil {
		merged.Tag = override.Tag
	}
	// managed=false from any source demotes the merged spec to
	// preservation-only; it is never re-promoted by a later source.
	if !override.Managed {
		merged.Managed = false
	}
	merged.Source = override.Source
	merged.Origin = override.Origin
	return merged
}
