package handler

import (
	"net/http"
	"time"

	"github.com/ingate/ingate/internal/domain"
	"github.com/ingate/ingate/internal/errors"
	"github.com/ingate/ingate/internal/service"
	"github.com/ingate/ingate/pkg/logger"
)

// UnitInvoker is the terminal handler that dispatches an exchange to a
// managed unit and drives the unit's availability state machine.
// Unavailability failures are translated into response outcomes here
// and never escape Process; any other invocation failure propagates to
// the caller, which then owns completing the exchange.
type UnitInvoker struct {
	unit    *service.ManagedUnit
	metrics *service.Metrics
	logger  *logger.Logger
}

// NewUnitInvoker creates an invoker for the given managed unit
func NewUnitInvoker(unit *service.ManagedUnit, metrics *service.Metrics, log *logger.Logger) (*UnitInvoker, error) {
	if unit == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "invoker", "managed unit must not be nil")
	}
	return &UnitInvoker{
		unit:    unit,
		metrics: metrics,
		logger:  log.UnitLogger(unit.Name()),
	}, nil
}

// Unit returns the managed unit this invoker dispatches to
func (h *UnitInvoker) Unit() *service.ManagedUnit {
	return h.unit
}

// Process implements domain.Handler
func (h *UnitInvoker) Process(exchange *domain.Exchange) error {
	// Cheapest refusal first: a retired unit is never invoked again.
	if h.unit.IsPermanentlyUnavailable() {
		h.logger.Debug("Returning 404 due to permanent unavailability")
		h.metrics.RecordUnavailable(h.unit.Name())
		exchange.SetResponseCode(404)
		exchange.Complete()
		return nil
	}

	if until := h.unit.UnavailableUntil(); until != 0 {
		if time.Now().UnixMilli() < until {
			h.logger.Debug("Returning 503 due to temporary unavailability")
			h.metrics.RecordUnavailable(h.unit.Name())
			exchange.SetResponseCode(503)
			exchange.Complete()
			return nil
		}
		// Deadline expired; one racer clears it, losers invoke anyway.
		h.unit.ClearUnavailableDeadline(until)
	}

	if !h.unit.AsyncSupported() {
		exchange.PutAttachment(domain.AsyncSupportedKey, false)
	}

	request, _ := exchange.Attachment(domain.RequestKey).(*http.Request)
	response, _ := exchange.Attachment(domain.ResponseKey).(http.ResponseWriter)

	handle, err := h.unit.Acquire()
	if err != nil {
		exchange.SetResponseCode(500)
		return errors.WrapError(err, errors.ErrCodeInstanceAcquire, "invoker", "failed to acquire unit instance")
	}
	defer handle.Release()

	start := time.Now()
	err = handle.Instance().Serve(response, request)
	h.metrics.RecordInvocation(h.unit.Name(), time.Since(start))

	if err == nil {
		exchange.Complete()
		return nil
	}

	if unavailable, ok := errors.AsUnavailable(err); ok {
		h.metrics.RecordUnavailable(h.unit.Name())
		if unavailable.Permanent {
			h.logger.WithError(err).Warn("Stopping unit due to permanent unavailability")
			h.unit.MarkPermanentlyUnavailable()
			exchange.SetResponseCode(404)
		} else {
			h.logger.WithError(err).Warn("Unit entering backoff due to temporary unavailability")
			h.unit.SetUnavailableFor(unavailable.RetryAfter)
			exchange.SetResponseCode(503)
		}
		exchange.Complete()
		return nil
	}

	// Unclassified failure: not this core's concern, hand it upstream.
	h.metrics.RecordFailure(h.unit.Name())
	return err
}
