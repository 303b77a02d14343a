package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/forgecore/forge/internal/core"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want ErrorType
	}{
		{"rate limit", "429 Too Many Requests: rate limit exceeded", ErrorTypeRateLimit},
		{"context overflow", "context_length_exceeded: too many tokens", ErrorTypeContextOverflow},
		{"max tokens", "max_tokens: 8192 > 4096 allowed", ErrorTypeMaxTokens},
		{"auth", "invalid x-api-key provided", ErrorTypeAuth},
		{"unknown", "something unexpected happened", ErrorTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.msg))
		})
	}
}

func TestParseMaxTokensLimit(t *testing.T) {
	ok, n := ParseMaxTokensLimit("max_tokens: 8192 > 4096 allowed")
	assert.True(t, ok)
	assert.Equal(t, 4096, n)

	ok, _ = ParseMaxTokensLimit("totally unrelated message")
	assert.False(t, ok)
}

func TestIsFailoverError(t *testing.T) {
	assert.True(t, IsFailoverError(ErrorTypeRateLimit))
	assert.True(t, IsFailoverError(ErrorTypeBilling))
	assert.False(t, IsFailoverError(ErrorTypeFormat))
}

func TestToErrorKind(t *testing.T) {
	assert.Equal(t, core.ErrRateLimited, ToErrorKind(ErrorTypeRateLimit))
	assert.Equal(t, core.ErrUnauthorized, ToErrorKind(ErrorTypeAuth))
	assert.Equal(t, core.ErrCompactionFailed, ToErrorKind(ErrorTypeContextOverflow))
}
