package handler

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingate/ingate/internal/domain"
	"github.com/ingate/ingate/internal/errors"
	"github.com/ingate/ingate/pkg/logger"
)

// newTestLogger creates a quiet logger for handler tests
func newTestLogger() *logger.Logger {
	log, _ := logger.New(logger.Config{
		Level:  "error",
		Format: "text",
		Output: "stderr",
	})
	return log
}

// serialDispatcher runs submitted tasks one at a time in submission
// order, off the submitting goroutine
type serialDispatcher struct {
	tasks chan func()
	done  chan struct{}
}

func newSerialDispatcher() *serialDispatcher {
	d := &serialDispatcher{
		tasks: make(chan func(), 1024),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(d.done)
		for task := range d.tasks {
			task()
		}
	}()
	return d
}

func (d *serialDispatcher) Submit(task func()) {
	d.tasks <- task
}

func (d *serialDispatcher) stop() {
	close(d.tasks)
	<-d.done
}

// recordingHandler is a downstream handler that records the exchanges
// it sees and completes them
type recordingHandler struct {
	mu        sync.Mutex
	exchanges []*domain.Exchange
	inFlight  atomic.Int64
	maxSeen   atomic.Int64
	block     chan struct{} // if non-nil, Process waits here first
}

func (h *recordingHandler) Process(exchange *domain.Exchange) error {
	current := h.inFlight.Add(1)
	for {
		max := h.maxSeen.Load()
		if current <= max || h.maxSeen.CompareAndSwap(max, current) {
			break
		}
	}
	if h.block != nil {
		<-h.block
	}

	h.mu.Lock()
	h.exchanges = append(h.exchanges, exchange)
	h.mu.Unlock()

	h.inFlight.Add(-1)
	exchange.Complete()
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.exchanges)
}

func (h *recordingHandler) seen() []*domain.Exchange {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*domain.Exchange, len(h.exchanges))
	copy(out, h.exchanges)
	return out
}

func TestAdmissionControllerValidation(t *testing.T) {
	t.Parallel()

	log := newTestLogger()
	downstream := &recordingHandler{}
	dispatcher := newSerialDispatcher()
	defer dispatcher.stop()

	_, err := NewAdmissionController(0, downstream, dispatcher, nil, log)
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))

	_, err = NewAdmissionController(1, nil, dispatcher, nil, log)
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))

	a, err := NewAdmissionController(1, downstream, dispatcher, nil, log)
	require.NoError(t, err)

	_, err = a.SetMaximum(0)
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
	assert.Equal(t, 1, a.GetMaximum(), "failed resize must not change the ceiling")

	_, err = a.SetNext(nil)
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
	assert.Same(t, domain.Handler(downstream), a.GetNext())
}

func TestAdmissionCeilingUpperBound(t *testing.T) {
	t.Parallel()

	log := newTestLogger()
	downstream := &recordingHandler{}
	dispatcher := newSerialDispatcher()
	defer dispatcher.stop()

	oversized := int(int64(math.MaxInt32) + 1)

	_, err := NewAdmissionController(oversized, downstream, dispatcher, nil, log)
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))

	a, err := NewAdmissionController(2, downstream, dispatcher, nil, log)
	require.NoError(t, err)

	// A ceiling past the 32-bit field would wrap to zero in the packed
	// state word and park every later exchange. The resize must be
	// rejected and leave the ceiling untouched.
	_, err = a.SetMaximum(oversized)
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
	assert.Equal(t, 2, a.GetMaximum(), "failed resize must not change the ceiling")

	exchange := domain.NewExchange()
	require.NoError(t, a.Process(exchange))
	assert.Equal(t, 1, downstream.count(), "exchange must still be admitted after a rejected resize")
	assert.True(t, exchange.Completed())

	_, err = a.SetMaximum(math.MaxInt32)
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt32, a.GetMaximum())
}

func TestAdmissionImmediateForward(t *testing.T) {
	t.Parallel()

	log := newTestLogger()
	downstream := &recordingHandler{}
	dispatcher := newSerialDispatcher()
	defer dispatcher.stop()

	a, err := NewAdmissionController(4, downstream, dispatcher, nil, log)
	require.NoError(t, err)

	exchange := domain.NewExchange()
	require.NoError(t, a.Process(exchange))

	assert.Equal(t, 1, downstream.count())
	assert.True(t, exchange.Completed())
	assert.Equal(t, 0, a.GetCurrent(), "completed exchange must free its slot")
	assert.Equal(t, 4, a.GetMaximum())
}

func TestAdmissionBoundedConcurrency(t *testing.T) {
	t.Parallel()

	const maxConcurrent = 4
	const requests = 100

	log := newTestLogger()
	downstream := &recordingHandler{}
	dispatcher := newSerialDispatcher()
	defer dispatcher.stop()

	a, err := NewAdmissionController(maxConcurrent, downstream, dispatcher, nil, log)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, a.Process(domain.NewExchange()))
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return downstream.count() == requests
	}, 5*time.Second, 5*time.Millisecond, "every request must eventually reach the downstream handler")

	assert.LessOrEqual(t, downstream.maxSeen.Load(), int64(maxConcurrent))
	assert.Equal(t, 0, a.GetCurrent())
}

func TestAdmissionSaturationFIFONoLoss(t *testing.T) {
	t.Parallel()

	const requests = 100

	log := newTestLogger()
	release := make(chan struct{})
	downstream := &recordingHandler{block: release}
	dispatcher := newSerialDispatcher()
	defer dispatcher.stop()

	a, err := NewAdmissionController(1, downstream, dispatcher, nil, log)
	require.NoError(t, err)

	exchanges := make([]*domain.Exchange, requests)
	for i := range exchanges {
		exchanges[i] = domain.NewExchange()
	}

	// The first exchange occupies the only slot and blocks downstream;
	// deliver it from its own goroutine so this test can keep going.
	started := make(chan struct{})
	go func() {
		close(started)
		_ = a.Process(exchanges[0])
	}()
	<-started
	require.Eventually(t, func() bool { return a.GetCurrent() == 1 }, time.Second, time.Millisecond)

	// The other 99 arrive in order and must all park.
	for i := 1; i < requests; i++ {
		require.NoError(t, a.Process(exchanges[i]))
	}
	assert.Equal(t, 1, a.GetCurrent())
	assert.Equal(t, 0, downstream.count())

	close(release)

	require.Eventually(t, func() bool {
		return downstream.count() == requests
	}, 5*time.Second, 5*time.Millisecond)

	seen := downstream.seen()
	for i, exchange := range exchanges {
		assert.Same(t, exchange, seen[i], "exchange %d dispatched out of arrival order", i)
	}
	assert.Equal(t, 0, a.GetCurrent())
}

// blockEachHandler blocks every exchange until told to finish one
type blockEachHandler struct {
	recordingHandler
	proceed chan struct{}
}

func (h *blockEachHandler) Process(exchange *domain.Exchange) error {
	h.inFlight.Add(1)
	<-h.proceed
	h.mu.Lock()
	h.exchanges = append(h.exchanges, exchange)
	h.mu.Unlock()
	h.inFlight.Add(-1)
	exchange.Complete()
	return nil
}

func TestAdmissionDirectSlotHandoff(t *testing.T) {
	t.Parallel()

	log := newTestLogger()
	downstream := &blockEachHandler{proceed: make(chan struct{})}
	dispatcher := newSerialDispatcher()
	defer dispatcher.stop()

	a, err := NewAdmissionController(1, downstream, dispatcher, nil, log)
	require.NoError(t, err)

	go func() { _ = a.Process(domain.NewExchange()) }()
	require.Eventually(t, func() bool { return downstream.inFlight.Load() == 1 }, time.Second, time.Millisecond)

	queued := domain.NewExchange()
	require.NoError(t, a.Process(queued))
	require.Equal(t, 1, a.GetCurrent())

	// Finish the first exchange; its slot must transfer directly to the
	// queued one without the in-flight count ever dipping to zero.
	downstream.proceed <- struct{}{}
	require.Eventually(t, func() bool { return downstream.inFlight.Load() == 1 && downstream.count() == 1 },
		time.Second, time.Millisecond)
	assert.Equal(t, 1, a.GetCurrent(), "hand-off must transfer the slot, not free it")

	downstream.proceed <- struct{}{}
	require.Eventually(t, func() bool { return queued.Completed() }, time.Second, time.Millisecond)
	assert.Equal(t, 0, a.GetCurrent())
}

func TestSetMaximumDrainsQueueInOrder(t *testing.T) {
	t.Parallel()

	log := newTestLogger()
	release := make(chan struct{})
	blocked := &recordingHandler{block: release}
	dispatcher := newSerialDispatcher()
	defer dispatcher.stop()

	a, err := NewAdmissionController(1, blocked, dispatcher, nil, log)
	require.NoError(t, err)

	go func() { _ = a.Process(domain.NewExchange()) }()
	require.Eventually(t, func() bool { return a.GetCurrent() == 1 }, time.Second, time.Millisecond)

	queued := make([]*domain.Exchange, 4)
	for i := range queued {
		queued[i] = domain.NewExchange()
		require.NoError(t, a.Process(queued[i]))
	}
	assert.Equal(t, 0, blocked.count())

	previous, err := a.SetMaximum(5)
	require.NoError(t, err)
	assert.Equal(t, 1, previous)
	assert.Equal(t, 5, a.GetMaximum())

	// The four parked exchanges now hold slots even though the first
	// request is still blocking its own.
	require.Eventually(t, func() bool { return a.GetCurrent() == 5 }, time.Second, time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return blocked.count() == 5 }, 5*time.Second, 5*time.Millisecond)

	// The drained exchanges were dispatched in arrival order. The
	// originally running exchange interleaves with them arbitrarily.
	var drained []*domain.Exchange
	for _, exchange := range blocked.seen() {
		for _, q := range queued {
			if exchange == q {
				drained = append(drained, exchange)
			}
		}
	}
	require.Len(t, drained, 4)
	for i := range queued {
		assert.Same(t, queued[i], drained[i], "queued exchange %d drained out of order", i)
	}
}

func TestSetNextSwapsDownstream(t *testing.T) {
	t.Parallel()

	log := newTestLogger()
	first := &recordingHandler{}
	second := &recordingHandler{}
	dispatcher := newSerialDispatcher()
	defer dispatcher.stop()

	a, err := NewAdmissionController(2, first, dispatcher, nil, log)
	require.NoError(t, err)

	old, err := a.SetNext(second)
	require.NoError(t, err)
	assert.Same(t, domain.Handler(first), old)

	require.NoError(t, a.Process(domain.NewExchange()))
	assert.Equal(t, 0, first.count())
	assert.Equal(t, 1, second.count())
}
