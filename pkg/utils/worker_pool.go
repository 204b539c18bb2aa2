package utils

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/srand/jolt/taskflow/pkg/log"
)

// A function executed by a pool worker.
// The argument is the index of the worker running the function,
// in the range [0, Size()).
type WorkerFunc func(worker int)

// A fixed-size pool of worker goroutines.
//
// Every worker has a stable index which callers can use to look up
// per-worker resources. The pool never grows after construction.
type WorkerPool struct {
	workerCount int
	tasks       chan WorkerFunc
	done        chan struct{}
	stopOnce    sync.Once
	pending     sync.WaitGroup
	workers     sync.WaitGroup
}

// Creates a pool with the given number of workers.
// A non-positive count selects one worker per available CPU.
func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = runtime.GOMAXPROCS(0)
	}
	return &WorkerPool{
		workerCount: workerCount,
		tasks:       make(chan WorkerFunc),
		done:        make(chan struct{}),
	}
}

// Returns the number of workers in the pool.
func (wp *WorkerPool) Size() int {
	return wp.workerCount
}

func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workerCount; i++ {
		wp.workers.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.workers.Done()

	for {
		select {
		case task := <-wp.tasks:
			wp.run(id, task)
		case <-wp.done:
			return
		}
	}
}

func (wp *WorkerPool) run(id int, task WorkerFunc) {
	defer wp.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("worker %d recovered panic: %v\n%s", id, r, debug.Stack())
		}
	}()
	task(id)
}

// Hand a function to the next idle worker, blocking until one accepts it.
// Returns false if the pool has been stopped.
func (wp *WorkerPool) Submit(task WorkerFunc) bool {
	wp.pending.Add(1)
	select {
	case wp.tasks <- task:
		return true
	case <-wp.done:
		wp.pending.Done()
		return false
	}
}

// Stop the workers. Functions already accepted by a worker run to completion.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		close(wp.done)
	})
	wp.workers.Wait()
}

// Wait for all accepted functions to complete.
func (wp *WorkerPool) Wait() {
	wp.pending.Wait()
}
