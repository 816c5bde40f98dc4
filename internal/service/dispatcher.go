package service

import (
	"sync"

	"github.com/ingate/ingate/pkg/logger"
)

// WorkerPool is a Dispatcher backed by a fixed set of worker
// goroutines. Submit never blocks and never runs a task inline on the
// calling goroutine: a completion thread draining the wait queue must
// not grow its own call stack, so when all workers are busy the task is
// run on a fresh goroutine instead.
type WorkerPool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	logger *logger.Logger

	mu      sync.Mutex
	stopped bool
}

// NewWorkerPool creates a pool with the given number of workers. The
// pool is running on return.
func NewWorkerPool(workers int, log *logger.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}

	p := &WorkerPool{
		tasks:  make(chan func(), workers*4),
		logger: log.DispatcherLogger(),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	p.logger.WithField("workers", workers).Debug("Worker pool started")
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.runTask(task)
	}
}

func (p *WorkerPool) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("Panic recovered in dispatched task")
		}
	}()
	task()
}

// Submit implements domain.Dispatcher
func (p *WorkerPool) Submit(task func()) {
	p.mu.Lock()
	if !p.stopped {
		select {
		case p.tasks <- task:
			p.mu.Unlock()
			return
		default:
			// All workers busy and the buffer full; fall through and
			// overflow to a fresh goroutine rather than block the
			// completion path.
		}
	}
	p.mu.Unlock()

	go p.runTask(task)
}

// Stop shuts the pool down and waits for in-flight tasks to finish.
// Tasks submitted after Stop still run, on overflow goroutines.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.tasks)
	p.wg.Wait()
	p.logger.Debug("Worker pool stopped")
}
