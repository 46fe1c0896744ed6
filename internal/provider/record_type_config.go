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

import "github.com/netgrove/dns-reconciler/internal/endpoint"

// RecordTypeConfig provides a configuration-based approach for specifying
// which DNS record types a provider supports. This reduces boilerplate
// across adapters that would otherwise each need a near-identical
// SupportedRecordType method.
type RecordTypeConfig struct {
	// Additional contains record types supported beyond the base types.
	// Base types (A, AAAA, CNAME, TXT, SRV, NS) are always included.
	Additional []string
}

// NewRecordTypeConfig creates a new RecordTypeConfig with the specified
// additional record types beyond the base types.
func NewRecordTypeConfig(additional ...string) RecordTypeConfig {
	return RecordTypeConfig{Additional: additional}
}

// Supports returns true if the given record type is supported. Base types
// are always supported; additional types can be configured per provider.
func (c RecordTypeConfig) Supports(recordType string) bool {
	if isBaseRecordType(recordType) {
		return true
	}
	for _, t := range c.Additional {
		if t == recordType {
			return true
		}
	}
	return false
}

func isBaseRecordType(t string) bool {
	switch t {
	case endpoint.RecordTypeA, endpoint.RecordTypeAAAA, endpoint.RecordTypeCNAME,
		endpoint.RecordTypeTXT, endpoint.RecordTypeSRV, endpoint.RecordTypeNS:
		return true
	}
	return false
}

// DefaultRecordTypeConfig is the default configuration with no additional
// types beyond the base set.
var DefaultRecordTypeConfig = RecordTypeConfig{}

// MXCAARecordTypeConfig adds MX and CAA support (Cloudflare, DigitalOcean).
var MXCAARecordTypeConfig = NewRecordTypeConfig(endpoint.RecordTypeMX, endpoint.RecordTypeCAA)

// MXCAARoute53RecordTypeConfig adds MX and CAA support for Route 53, which
// also accepts the base set plus these two without any provider quirks.
var MXCAARoute53RecordTypeConfig = NewRecordTypeConfig(endpoint.RecordTypeMX, endpoint.RecordTypeCAA)
