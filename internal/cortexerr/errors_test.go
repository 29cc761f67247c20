package cortexerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindIsRetryable(t *testing.T) {
	assert.True(t, Retryable.IsRetryable())
	for _, k := range []Kind{InputValidation, NonRetryable, ToolArgumentError, OversizedAtom, CompressionFallback, Timeout, Cancelled} {
		assert.False(t, k.IsRetryable(), "kind %s must not be retryable", k)
	}
}

func TestKindShouldFailover(t *testing.T) {
	assert.True(t, Retryable.ShouldFailover())
	assert.True(t, NonRetryable.ShouldFailover())
	for _, k := range []Kind{InputValidation, ToolArgumentError, OversizedAtom, CompressionFallback, Timeout, Cancelled} {
		assert.False(t, k.ShouldFailover(), "kind %s must not trigger failover", k)
	}
}

func TestErrorMessageFormatting(t *testing.T) {
	cause := errors.New("rate limited")

	onlyKind := New(Retryable, cause)
	assert.Equal(t, "[retryable] rate limited", onlyKind.Error())

	withModel := New(Retryable, cause).WithModel("gpt-4o")
	assert.Equal(t, "[retryable] model=gpt-4o: rate limited", withModel.Error())

	withBoth := New(Retryable, cause).WithPathway("summarize").WithModel("gpt-4o")
	assert.Equal(t, "[retryable] pathway=summarize model=gpt-4o: rate limited", withBoth.Error())
}

func TestErrorWithEndpointDoesNotAffectMessage(t *testing.T) {
	e := New(NonRetryable, errors.New("auth failed")).WithEndpoint("east-1")
	assert.Equal(t, "east-1", e.Endpoint)
	assert.Equal(t, "[non_retryable] auth failed", e.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := New(Timeout, cause)
	assert.ErrorIs(t, e, cause)
	assert.Equal(t, cause, errors.Unwrap(e))
}

func TestAsExtractsError(t *testing.T) {
	e := New(Retryable, errors.New("boom"))
	wrapped := fmt.Errorf("context: %w", e)

	got, ok := As(wrapped)
	require := assert.New(t)
	require.True(ok)
	require.Equal(Retryable, got.Kind)

	_, ok = As(errors.New("plain"))
	require.False(ok)
}

func TestKindOfDefaultsToNonRetryableForUnclassifiedErrors(t *testing.T) {
	assert.Equal(t, NonRetryable, KindOf(errors.New("opaque failure")))
}

func TestKindOfReturnsClassifiedKind(t *testing.T) {
	e := New(ToolArgumentError, errors.New("bad json"))
	assert.Equal(t, ToolArgumentError, KindOf(e))
}
