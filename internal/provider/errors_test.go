package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindRetryable(t *testing.T) {
	assert.True(t, KindTransientNetwork.Retryable())
	assert.True(t, KindRateLimited.Retryable())
	assert.False(t, KindAuth.Retryable())
	assert.False(t, KindConflict.Retryable())
	assert.False(t, KindValidation.Retryable())
	assert.False(t, KindNotFound.Retryable())
	assert.False(t, KindInternal.Retryable())
}

func TestErrorWrapping(t *testing.T) {
	base := errors.New("boom")
	err := TransientError(base, "list records")

	assert.Equal(t, KindTransientNetwork, KindOf(err))
	assert.True(t, errors.Is(err, base))

	pe, ok := AsError(err)
	if assert.True(t, ok) {
		assert.Equal(t, KindTransientNetwork, pe.Kind)
	}
}

func TestKindOfUnrecognizedErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("unrelated failure")))
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	err := RateLimited(errors.New("too many requests"), "create record", 12)
	pe, ok := AsError(err)
	if assert.True(t, ok) {
		assert.Equal(t, 12, pe.RetryAfterSeconds)
	}
}
