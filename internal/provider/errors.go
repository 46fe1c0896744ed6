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
	"errors"
	"fmt"
)

// Kind is the closed error taxonomy every adapter must map its
// provider-specific errors onto. See the error handling table in the
// reconciliation spec.
type Kind string

const (
	KindTransientNetwork Kind = "TransientNetworkError"
	KindAuth             Kind = "AuthError"
	KindNotFound         Kind = "NotFoundError"
	KindConflict         Kind = "ConflictError"
	KindValidation       Kind = "ValidationError"
	KindRateLimited      Kind = "RateLimited"
	KindInternal         Kind = "InternalError"
)

// Retryable reports whether errors of this kind should go through the
// reconciler's exponential-backoff retry path.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransientNetwork, KindRateLimited:
		return true
	default:
		return false
	}
}

// Error is the typed error every adapter returns instead of a raw
// provider/HTTP error, so the reconciler can apply the policy in the error
// handling table uniformly across Cloudflare, DigitalOcean, and Route 53.
type Error struct {
	Kind Kind
	// RetryAfterSeconds is set only for KindRateLimited when the provider sent a
	// Retry-After header; the reconciler caps its honor of this at 30s.
	RetryAfterSeconds int
	Err               error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with the given Kind, formatting a message the way
// fmt.Errorf would (supports %w).
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// AsError extracts a *Error from err, if any is present in its chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it (or something it wraps) is a
// *Error, or KindInternal otherwise — unrecognized errors are never
// silently retried forever.
func KindOf(err error) Kind {
	if pe, ok := AsError(err); ok {
		return pe.Kind
	}
	return KindInternal
}

// This file contains standardized error-construction helpers for DNS
// providers. Using these functions keeps error messages and wrapping
// consistent across all three adapters.

// TransientError wraps a transient network/5xx failure. A 429 is wrapped
// with RateLimited instead, with or without a Retry-After header.
func TransientError(err error, context string) error {
	return NewError(KindTransientNetwork, "%s: %w", context, err)
}

// AuthFailure wraps a 401/403 failure.
func AuthFailure(err error, context string) error {
	return NewError(KindAuth, "%s: %w", context, err)
}

// NotFound wraps a 404 on update/delete.
func NotFound(err error, context string) error {
	return NewError(KindNotFound, "%s: %w", context, err)
}

// Conflict wraps a 4xx "already exists" the adapter could not resolve by
// fetching the existing record.
func Conflict(err error, context string) error {
	return NewError(KindConflict, "%s: %w", context, err)
}

// Validation wraps a payload rejected by the provider. Callers must ensure
// err does not embed unredacted credentials.
func Validation(err error, context string) error {
	return NewError(KindValidation, "%s: %w", context, err)
}

// RateLimited wraps a 429. retryAfterSeconds is 0 when the provider sent no
// Retry-After header.
func RateLimited(err error, context string, retryAfterSeconds int) error {
	return &Error{Kind: KindRateLimited, RetryAfterSeconds: retryAfterSeconds, Err: fmt.Errorf("%s: %w", context, err)}
}

// Internal wraps a bug/invariant violation inside the adapter itself.
func Internal(err error, context string) error {
	return NewError(KindInternal, "%s: %w", context, err)
}
