package transport

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ingate/ingate/internal/domain"
	"github.com/ingate/ingate/internal/errors"
	"github.com/ingate/ingate/internal/service"
	"github.com/ingate/ingate/pkg/logger"
)

// HTTPBridge adapts net/http to the exchange/handler chain. It owns the
// transport-side concerns the core deliberately leaves out: building
// the exchange, attaching the request/response views, holding the
// connection open while a parked exchange waits for dispatch, and
// committing the response status once the exchange completes.
type HTTPBridge struct {
	chain     domain.Handler
	metrics   *service.Metrics
	logger    *logger.Logger
	requestID int64
}

// NewHTTPBridge creates a bridge delivering requests into chain
func NewHTTPBridge(chain domain.Handler, metrics *service.Metrics, log *logger.Logger) (*HTTPBridge, error) {
	if chain == nil {
		return nil, errors.NewNilNextHandlerError("transport")
	}
	return &HTTPBridge{
		chain:   chain,
		metrics: metrics,
		logger:  log.TransportLogger(),
	}, nil
}

// ServeHTTP implements http.Handler
func (b *HTTPBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := fmt.Sprintf("%s-%d", start.Format("20060102150405"), atomic.AddInt64(&b.requestID, 1))

	exchange := domain.NewExchange()
	writer := &exchangeResponseWriter{ResponseWriter: w, exchange: exchange}
	exchange.PutAttachment(domain.RequestKey, r)
	exchange.PutAttachment(domain.ResponseKey, writer)

	// The bridge's listener is registered first so it observes
	// completion before the chain's own bookkeeping runs.
	done := make(chan struct{})
	exchange.AddCompletionListener(domain.CompletionListenerFunc(func(ex *domain.Exchange, next domain.NextListener) {
		b.metrics.IncrementCompleted()
		close(done)
		next.Proceed()
	}))

	requestLogger := b.logger.RequestLogger(requestID, r.Method, r.URL.Path, r.RemoteAddr)
	requestLogger.Debug("Request started")

	if err := b.chain.Process(exchange); err != nil {
		requestLogger.WithError(err).Error("Request processing failed")
		exchange.SetResponseCode(500)
		exchange.Complete()
	}

	// A parked exchange resumes on a dispatcher goroutine; the
	// connection goroutine waits here until processing finishes.
	<-done

	if !exchange.ResponseStarted() {
		code := exchange.ResponseCode()
		writer.WriteHeader(code)
		if code >= 400 {
			fmt.Fprintln(writer, http.StatusText(code))
		}
	}

	duration := time.Since(start)
	logEntry := requestLogger.WithFields(map[string]interface{}{
		"status_code": exchange.ResponseCode(),
		"duration_ms": duration.Milliseconds(),
	})

	switch {
	case exchange.ResponseCode() >= 500:
		logEntry.Error("Request completed with error")
	case exchange.ResponseCode() >= 400:
		logEntry.Warn("Request completed with warning")
	default:
		logEntry.Info("Request completed")
	}
}

// exchangeResponseWriter wraps http.ResponseWriter to keep the exchange
// response state in step with what actually went out on the wire
type exchangeResponseWriter struct {
	http.ResponseWriter
	exchange *domain.Exchange
	size     int64
}

// WriteHeader commits the status to the exchange, then the wire
func (w *exchangeResponseWriter) WriteHeader(code int) {
	if w.exchange.ResponseStarted() {
		return
	}
	w.exchange.SetResponseCode(code)
	w.exchange.StartResponse()
	w.ResponseWriter.WriteHeader(code)
}

// Write starts the response implicitly with the exchange's current
// status
func (w *exchangeResponseWriter) Write(b []byte) (int, error) {
	if !w.exchange.ResponseStarted() {
		w.WriteHeader(w.exchange.ResponseCode())
	}
	size, err := w.ResponseWriter.Write(b)
	w.size += int64(size)
	return size, err
}
