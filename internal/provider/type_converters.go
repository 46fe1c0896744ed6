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
	"strconv"

	log "github.com/sirupsen/logrus"
)

// This file contains safe type conversion utilities that handle errors
// gracefully by logging and returning a default value. This reduces
// boilerplate across adapters that parse label/annotation strings into
// typed record fields (priority, weight, port, flags).

// ParseUint16 safely parses a string to uint16, returning defaultVal on
// error. Logs a warning with the provided context if parsing fails.
func ParseUint16(value string, defaultVal uint16, context string) uint16 {
	val, err := strconv.ParseUint(value, 10, 16)
	if err != nil {
		log.Warnf("Failed parsing %s: %q: %v; using default %d", context, value, err, defaultVal)
		return defaultVal
	}
	return uint16(val)
}

// ParseUint8 safely parses a string to uint8, returning defaultVal on
// error. Logs a warning with the provided context if parsing fails.
func ParseUint8(value string, defaultVal uint8, context string) uint8 {
	val, err := strconv.ParseUint(value, 10, 8)
	if err != nil {
		log.Warnf("Failed parsing %s: %q: %v; using default %d", context, value, err, defaultVal)
		return defaultVal
	}
	return uint8(val)
}

// ParseInt64 safely parses a string to int64, returning defaultVal on
// error. Logs a warning with the provided context if parsing fails.
func ParseInt64(value string, defaultVal int64, context string) int64 {
	val, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Warnf("Failed parsing %s: %q: %v; using default %d", context, value, err, defaultVal)
		return defaultVal
	}
	return val
}

// ParseBool safely parses a string to bool, returning defaultVal on error.
// Logs a warning with the provided context if parsing fails.
func ParseBool(value string, defaultVal bool, context string) bool {
	val, err := strconv.ParseBool(value)
	if err != nil {
		log.Warnf("Failed parsing %s: %q: %v; using default %t", context, value, err, defaultVal)
		return defaultVal
	}
	return val
}

// ParseBoolStrict parses a string to bool without a default, used where an
// ambiguous value must surface as a ValidationError rather than silently
// coerce (see the managed/preserved flag resolution in DESIGN.md).
func ParseBoolStrict(value string) (bool, error) {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, Validation(err, "parse boolean")
	}
	return v, nil
}
