package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivist/engine/pkg/domain"
)

func TestRateLimiterForNilWhenUnconfigured(t *testing.T) {
	assert.Nil(t, rateLimiterFor(domain.SourceConfig{}))
}

func TestRateLimiterForBuildsLimiterWhenConfigured(t *testing.T) {
	limiter := rateLimiterFor(domain.SourceConfig{RateLimitPerSecond: 5, RateLimitBurst: 10})
	require.NotNil(t, limiter)
	assert.Equal(t, 10, limiter.Burst())
}

func TestRateLimiterForDefaultsBurstToOne(t *testing.T) {
	limiter := rateLimiterFor(domain.SourceConfig{RateLimitPerSecond: 2})
	require.NotNil(t, limiter)
	assert.Equal(t, 1, limiter.Burst())
}
