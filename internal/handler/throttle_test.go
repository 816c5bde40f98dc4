package handler

import (
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingate/ingate/internal/domain"
	"github.com/ingate/ingate/internal/errors"
)

func newThrottledExchange(remoteAddr string) *domain.Exchange {
	request := httptest.NewRequest("GET", "/", nil)
	request.RemoteAddr = remoteAddr
	exchange := domain.NewExchange()
	exchange.PutAttachment(domain.RequestKey, request)
	return exchange
}

func TestThrottleValidation(t *testing.T) {
	t.Parallel()

	_, err := NewThrottle(ThrottleConfig{}, nil, nil, newTestLogger())
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestThrottleRejectsOverBurst(t *testing.T) {
	t.Parallel()

	downstream := &recordingHandler{}
	throttle, err := NewThrottle(ThrottleConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		BurstSize:         2,
	}, downstream, nil, newTestLogger())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		exchange := newThrottledExchange("10.0.0.1:1234")
		require.NoError(t, throttle.Process(exchange))
		assert.Equal(t, 200, exchange.ResponseCode())
	}
	assert.Equal(t, 2, downstream.count())

	rejected := newThrottledExchange("10.0.0.1:1234")
	require.NoError(t, throttle.Process(rejected))
	assert.Equal(t, 429, rejected.ResponseCode())
	assert.True(t, rejected.Completed())
	assert.Equal(t, 2, downstream.count(), "rejected exchange must not reach downstream")

	// A different client has its own limiter.
	other := newThrottledExchange("10.0.0.2:1234")
	require.NoError(t, throttle.Process(other))
	assert.Equal(t, 3, downstream.count())

	stats := throttle.GetStats()
	assert.Equal(t, 2, stats["active_clients"])
}

func TestThrottleLimiterCacheBounded(t *testing.T) {
	t.Parallel()

	downstream := &recordingHandler{}
	throttle, err := NewThrottle(ThrottleConfig{
		Enabled:           true,
		RequestsPerSecond: 100,
		BurstSize:         10,
	}, downstream, nil, newTestLogger())
	require.NoError(t, err)

	for i := 0; i < maxTrackedClients; i++ {
		throttle.getLimiter(fmt.Sprintf("10.%d.%d.%d:1234", i>>16&0xFF, i>>8&0xFF, i&0xFF))
	}
	assert.Equal(t, maxTrackedClients, throttle.GetStats()["active_clients"])

	// The next unseen client trips the reset instead of growing the
	// cache without bound.
	exchange := newThrottledExchange("192.168.0.1:1234")
	require.NoError(t, throttle.Process(exchange))
	assert.Equal(t, 1, downstream.count())
	assert.Equal(t, 1, throttle.GetStats()["active_clients"])
}

func TestThrottleWithoutRequestView(t *testing.T) {
	t.Parallel()

	downstream := &recordingHandler{}
	throttle, err := NewThrottle(ThrottleConfig{
		Enabled:           true,
		RequestsPerSecond: 100,
		BurstSize:         10,
	}, downstream, nil, newTestLogger())
	require.NoError(t, err)

	// No attached request: the exchange is still processed, bucketed
	// under the unknown client.
	exchange := domain.NewExchange()
	require.NoError(t, throttle.Process(exchange))
	assert.Equal(t, 1, downstream.count())
}
