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

package provider

import (
	"strings"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
)

// txtChunkSize is the maximum octet length of a single quoted TXT string on
// the wire (RFC 1035 character-string limit).
const txtChunkSize = 255

// referencesAnotherName reports whether t's content is itself a DNS name
// (as opposed to an IP literal or opaque text), which is the set of types
// RequiresTrailingDot applies to.
func referencesAnotherName(t string) bool {
	switch strings.ToUpper(t) {
	case endpoint.RecordTypeCNAME, endpoint.RecordTypeMX, endpoint.RecordTypeNS, endpoint.RecordTypeSRV:
		return true
	}
	return false
}

// Normalize rewrites spec the way an adapter must before issuing any
// outbound call: upper-cases Type, clamps TTL to the provider floor, adds a
// trailing dot to Content when required and applicable, and splits TXT
// content into provider-correct quoted chunks.
func Normalize(spec endpoint.DesiredSpec, f Features) endpoint.DesiredSpec {
	spec.Type = strings.ToUpper(spec.Type)

	if spec.TTL < f.TTLFloor {
		spec.TTL = f.TTLFloor
	}

	if !f.SupportsProxied {
		spec.Proxied = nil
	}

	if spec.Content != nil {
		content := *spec.Content
		if f.RequiresTrailingDot && referencesAnotherName(spec.Type) && !strings.HasSuffix(content, ".") {
			content += "."
		}
		if spec.Type == endpoint.RecordTypeTXT {
			content = QuoteTXT(UnquoteTXT(content))
		}
		spec.Content = &content
	}

	return spec
}

// QuoteTXT renders a logical TXT value as one or more RFC-1035
// character-strings, splitting at txtChunkSize octets exactly as Route 53
// requires for multi-string TXT records. Single-string providers simply get
// one quoted chunk.
func QuoteTXT(value string) string {
	if value == "" {
		return `""`
	}
	var chunks []string
	b := []byte(value)
	for len(b) > 0 {
		n := txtChunkSize
		if n > len(b) {
			n = len(b)
		}
		chunks = append(chunks, `"`+escapeTXT(string(b[:n]))+`"`)
		b = b[n:]
	}
	return strings.Join(chunks, " ")
}

// UnquoteTXT reassembles a wire-form TXT value (one or more quoted,
// possibly escaped, character-strings) back into its logical value.
func UnquoteTXT(raw string) string {
	return endpoint.Record{Type: endpoint.RecordTypeTXT, Content: raw}.ContentDiscriminator()
}

func escapeTXT(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
