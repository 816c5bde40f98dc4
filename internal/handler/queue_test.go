package handler

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingate/ingate/internal/domain"
)

func TestWaitQueueFIFO(t *testing.T) {
	t.Parallel()

	q := newWaitQueue()
	assert.Nil(t, q.pop())

	entries := make([]*queuedRequest, 10)
	for i := range entries {
		entries[i] = &queuedRequest{exchange: domain.NewExchange()}
		q.push(entries[i])
	}

	for i := range entries {
		got := q.pop()
		require.NotNil(t, got)
		assert.Same(t, entries[i], got, "entry %d out of order", i)
	}
	assert.Nil(t, q.pop())
}

func TestWaitQueueConcurrentPush(t *testing.T) {
	t.Parallel()

	const producers = 8
	const perProducer = 500

	q := newWaitQueue()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.push(&queuedRequest{exchange: domain.NewExchange()})
			}
		}()
	}
	wg.Wait()

	seen := make(map[*queuedRequest]bool)
	for entry := q.pop(); entry != nil; entry = q.pop() {
		require.False(t, seen[entry], "entry popped twice")
		seen[entry] = true
	}
	assert.Len(t, seen, producers*perProducer)
}

func TestWaitQueueConcurrentPushPop(t *testing.T) {
	t.Parallel()

	const total = 4000

	q := newWaitQueue()
	var pushed, popped atomic.Int64

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pushed.Add(1) <= total {
				q.push(&queuedRequest{exchange: domain.NewExchange()})
			}
		}()
	}
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for popped.Load() < total {
				if q.pop() != nil {
					popped.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Nil(t, q.pop(), "queue should be empty once every pushed entry was popped")
}
