package handler

import (
	"math"
	"sync/atomic"

	"github.com/ingate/ingate/internal/domain"
	"github.com/ingate/ingate/internal/errors"
	"github.com/ingate/ingate/internal/service"
	"github.com/ingate/ingate/pkg/logger"
)

// Packed admission state: the concurrency ceiling lives in the high 32
// bits, the in-flight count in the low 31. Both fields are only ever
// mutated together through CAS on the single word, so a reader can
// never observe a torn pair.
const (
	maskCurrent = uint64(0x7FFFFFFF)
	maxShift    = 32
)

// AdmissionController bounds the number of exchanges processing
// downstream of it. An exchange that arrives while the ceiling is
// reached is parked on an unbounded FIFO wait queue and the calling
// goroutine returns immediately; when a running exchange completes, its
// slot is handed directly to the head of the queue via the Dispatcher.
//
// Once queued, an exchange cannot be cancelled; it is dispatched
// eventually. Queue growth is bounded only by the transport layer's own
// connection limits.
type AdmissionController struct {
	state      atomic.Uint64
	next       atomic.Pointer[nextHolder]
	queue      *waitQueue
	dispatcher domain.Dispatcher
	metrics    *service.Metrics
	logger     *logger.Logger
}

// nextHolder wraps the downstream handler so that handlers of differing
// concrete types can be swapped through one atomic pointer
type nextHolder struct {
	handler domain.Handler
}

// queuedRequest pairs a parked exchange with its continuation into the
// chain
type queuedRequest struct {
	controller *AdmissionController
	exchange   *domain.Exchange
}

func (t *queuedRequest) run() {
	t.controller.metrics.IncrementDispatched()
	if err := t.controller.nextHandler().Process(t.exchange); err != nil {
		t.controller.logger.WithError(err).Error("Queued exchange failed downstream")
		t.exchange.SetResponseCode(500)
		t.exchange.Complete()
	}
}

// NewAdmissionController creates an admission controller with the given
// concurrency ceiling and downstream handler. The ceiling must be at
// least one and fit the 32-bit field of the packed state word, and the
// next handler must not be nil.
func NewAdmissionController(maximumConcurrentRequests int, next domain.Handler, dispatcher domain.Dispatcher, metrics *service.Metrics, log *logger.Logger) (*AdmissionController, error) {
	if maximumConcurrentRequests < 1 || maximumConcurrentRequests > math.MaxInt32 {
		return nil, errors.NewInvalidMaximumError(maximumConcurrentRequests)
	}
	if next == nil {
		return nil, errors.NewNilNextHandlerError("admission")
	}
	if dispatcher == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "admission", "dispatcher must not be nil")
	}

	a := &AdmissionController{
		queue:      newWaitQueue(),
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     log.AdmissionLogger(),
	}
	a.state.Store(uint64(maximumConcurrentRequests) << maxShift)
	a.next.Store(&nextHolder{handler: next})
	return a, nil
}

// Process implements domain.Handler. It registers the completion hook
// unconditionally, then either admits the exchange downstream or parks
// it. The caller is never blocked; parking simply returns.
func (a *AdmissionController) Process(exchange *domain.Exchange) error {
	exchange.AddCompletionListener(domain.CompletionListenerFunc(a.onExchangeComplete))

	for {
		oldVal := a.state.Load()
		current := oldVal & maskCurrent
		max := oldVal >> maxShift
		if current >= max {
			a.queue.push(&queuedRequest{controller: a, exchange: exchange})
			a.metrics.IncrementQueued()
			a.logger.WithField("current", current).Debug("Exchange queued at admission ceiling")
			return nil
		}
		if a.state.CompareAndSwap(oldVal, oldVal+1) {
			break
		}
	}

	a.metrics.IncrementAdmitted()
	return a.nextHandler().Process(exchange)
}

// onExchangeComplete frees the completing exchange's slot. If the wait
// queue is non-empty the slot is handed to the head entry without
// touching the in-flight count: a decrement-then-increment round trip
// would let a concurrent admitter steal the slot ahead of the request
// that has waited longest.
func (a *AdmissionController) onExchangeComplete(exchange *domain.Exchange, next domain.NextListener) {
	defer next.Proceed()

	if task := a.queue.pop(); task != nil {
		a.dispatcher.Submit(task.run)
		return
	}
	a.state.Add(^uint64(0))
}

// SetMaximum updates the concurrency ceiling and drains queued
// exchanges into the newly opened slots. The drain is best-effort:
// completions racing with it may transiently push the in-flight count
// above the new ceiling, which is tolerated. Returns the previous
// ceiling.
func (a *AdmissionController) SetMaximum(newMax int) (int, error) {
	if newMax < 1 || newMax > math.MaxInt32 {
		return 0, errors.NewInvalidMaximumError(newMax)
	}

	var current, oldMax int
	for {
		oldVal := a.state.Load()
		current = int(oldVal & maskCurrent)
		oldMax = int(oldVal >> maxShift)
		newVal := uint64(current) | uint64(newMax)<<maxShift
		if a.state.CompareAndSwap(oldVal, newVal) {
			break
		}
	}

	for current < newMax {
		task := a.queue.pop()
		if task == nil {
			break
		}
		current = int(a.state.Add(1) & maskCurrent)
		a.dispatcher.Submit(task.run)
	}

	a.logger.WithField("old_max", oldMax).WithField("new_max", newMax).Info("Admission ceiling changed")
	return oldMax, nil
}

// GetMaximum returns the current concurrency ceiling
func (a *AdmissionController) GetMaximum() int {
	return int(a.state.Load() >> maxShift)
}

// GetCurrent returns the number of exchanges currently admitted
// downstream
func (a *AdmissionController) GetCurrent() int {
	return int(a.state.Load() & maskCurrent)
}

// SetNext atomically swaps the downstream handler and returns the
// previous one. A nil handler is rejected.
func (a *AdmissionController) SetNext(next domain.Handler) (domain.Handler, error) {
	if next == nil {
		return nil, errors.NewNilNextHandlerError("admission")
	}
	old := a.next.Swap(&nextHolder{handler: next})
	return old.handler, nil
}

// GetNext returns the downstream handler
func (a *AdmissionController) GetNext() domain.Handler {
	return a.nextHandler()
}

func (a *AdmissionController) nextHandler() domain.Handler {
	return a.next.Load().handler
}
