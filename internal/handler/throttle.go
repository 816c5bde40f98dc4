package handler

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ingate/ingate/internal/domain"
	"github.com/ingate/ingate/internal/errors"
	"github.com/ingate/ingate/internal/service"
	"github.com/ingate/ingate/pkg/logger"
)

// ThrottleConfig configures the per-client throttle handler
type ThrottleConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// maxTrackedClients caps the limiter cache. Once the map grows past
// this many distinct client addresses it is reset wholesale; idle
// limiters carry no state worth preserving, so a reset only costs the
// active clients one refilled burst.
const maxTrackedClients = 10000

// Throttle is a chainable handler that rate-limits exchanges per client
// address before they reach admission control. Unlike the admission
// controller it rejects immediately rather than queueing.
type Throttle struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
	next     domain.Handler
	metrics  *service.Metrics
	logger   *logger.Logger
}

// NewThrottle creates a throttle handler in front of next
func NewThrottle(config ThrottleConfig, next domain.Handler, metrics *service.Metrics, log *logger.Logger) (*Throttle, error) {
	if next == nil {
		return nil, errors.NewNilNextHandlerError("throttle")
	}
	return &Throttle{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(config.RequestsPerSecond),
		burst:    config.BurstSize,
		next:     next,
		metrics:  metrics,
		logger:   log.HandlerLogger("throttle"),
	}, nil
}

// getLimiter gets or creates a rate limiter for a client address
func (t *Throttle) getLimiter(addr string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	limiter, exists := t.limiters[addr]
	if !exists {
		if len(t.limiters) >= maxTrackedClients {
			t.limiters = make(map[string]*rate.Limiter)
			t.logger.WithField("evicted", maxTrackedClients).Info("Cleaned up rate limiter cache")
		}
		limiter = rate.NewLimiter(t.rate, t.burst)
		t.limiters[addr] = limiter
	}

	return limiter
}

// Process implements domain.Handler
func (t *Throttle) Process(exchange *domain.Exchange) error {
	clientAddr := clientAddress(exchange)

	if !t.getLimiter(clientAddr).Allow() {
		t.logger.WithField("client_addr", clientAddr).Warn("Rate limit exceeded")
		t.metrics.IncrementThrottled()
		exchange.SetResponseCode(429)
		exchange.Complete()
		return nil
	}

	return t.next.Process(exchange)
}

// clientAddress extracts the client address from the exchange's
// attached request view
func clientAddress(exchange *domain.Exchange) string {
	request, ok := exchange.Attachment(domain.RequestKey).(*http.Request)
	if !ok || request == nil {
		return "unknown"
	}

	if xff := request.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := request.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return request.RemoteAddr
}

// GetStats returns throttle statistics
func (t *Throttle) GetStats() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return map[string]interface{}{
		"rate_limit":     float64(t.rate),
		"burst_size":     t.burst,
		"active_clients": len(t.limiters),
	}
}
