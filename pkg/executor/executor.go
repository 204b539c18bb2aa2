// Package executor schedules kernel tasks onto a fixed pool of workers.
//
// Each worker owns one device stream for its whole life. Before a task
// runs, its estimated memory need is checked against the free device
// memory; tasks that do not fit wait until a running task finishes.
// Tasks whose kernel reports transient resource exhaustion are queued
// again under the same identifier until they succeed or reach the
// configured attempts limit.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/srand/jolt/taskflow/pkg/cache"
	"github.com/srand/jolt/taskflow/pkg/device"
	"github.com/srand/jolt/taskflow/pkg/log"
	"github.com/srand/jolt/taskflow/pkg/utils"
)

// Executor statistics
type Stats struct {
	// Executor instance identifier
	ID string `json:"id"`

	// Identifier of the host the executor runs on
	MachineID string `json:"machine_id,omitempty"`

	// Number of worker slots
	Workers int `json:"workers"`

	// Number of tasks waiting to be dispatched
	QueuedTasks int `json:"queued_tasks"`

	// Number of tasks currently running
	ActiveTasks int64 `json:"active_tasks"`

	// Total number of tasks submitted, not counting retries
	SubmittedTasks uint64 `json:"submitted_tasks"`

	// Total number of successful tasks
	CompletedTasks uint64 `json:"completed_tasks"`

	// Total number of retried attempts
	RetriedTasks uint64 `json:"retried_tasks"`

	// Total number of fatally failed tasks
	FailedTasks uint64 `json:"failed_tasks"`

	// Device memory budget and usage
	MemoryLimit uint64 `json:"memory_limit"`
	MemoryUsed  uint64 `json:"memory_used"`
}

type Executor struct {
	id        string
	machineID string
	config    Config
	memory    device.MemoryResource
	streams   *device.StreamPool
	pool      *utils.WorkerPool
	queue     *utils.Deque[*Task]
	gate      *admissionGate
	events    *utils.Broadcast[Event]
	metrics   *metrics
	workers   []*log.Logger

	// Stream and lock for tasks run on the caller's goroutine.
	inline   *device.Stream
	inlineMu sync.Mutex

	taskIDs   atomic.Uint64
	submitted atomic.Uint64
	completed atomic.Uint64
	retried   atomic.Uint64
	failed    atomic.Uint64

	mu       sync.Mutex
	closed   bool
	running  bool
	shutdown atomic.Bool
	loops    sync.WaitGroup
	err      error
}

// Create an executor with config.Threads workers, each bound to its own
// stream created from factory. Admission is checked against memory.
func New(config Config, factory device.StreamFactory, memory device.MemoryResource) (*Executor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	streams, err := device.NewStreamPool(factory, config.Threads)
	if err != nil {
		return nil, err
	}

	inline, err := factory.NewStream()
	if err != nil {
		streams.Close()
		return nil, fmt.Errorf("create inline stream: %w", err)
	}

	e := &Executor{
		id:      uuid.NewString(),
		config:  config,
		memory:  memory,
		streams: streams,
		inline:  inline,
		pool:    utils.NewWorkerPool(config.Threads),
		queue:   utils.NewDeque[*Task](),
		gate:    newAdmissionGate(memory),
		events:  utils.NewBroadcast[Event](config.EventBuffer),
	}

	if id, err := machineid.ProtectedID("taskflow"); err == nil {
		e.machineID = id
	}

	for i := 0; i < config.Threads; i++ {
		e.workers = append(e.workers, log.WithPrefix("worker %d", i))
	}

	e.metrics = newMetrics(e)
	e.pool.Start()
	return e, nil
}

func (e *Executor) ID() string {
	return e.id
}

func (e *Executor) Config() Config {
	return e.config
}

// Registry with the executor's prometheus collectors.
func (e *Executor) Registry() *prometheus.Registry {
	return e.metrics.registry
}

// Submit a new task and return its identifier.
// If processName is empty, the kernel's name is used.
func (e *Executor) AddTask(inputs []cache.CacheData, output *cache.CacheMachine, kernel Kernel, processName string) (uint64, error) {
	id := e.taskIDs.Add(1) - 1

	kernel.AddTask(id)

	task := NewTask(id, inputs, output, kernel, e.config.AttemptsLimit, processName, 0)
	if err := e.Enqueue(task); err != nil {
		return id, err
	}

	e.submitted.Add(1)
	e.metrics.submitted.Inc()
	return id, nil
}

// Submit the successor of a task that failed with a retryable error.
// The identifier and attempt count are carried over and the kernel is
// not notified again.
func (e *Executor) AddRetryTask(inputs []cache.CacheData, output *cache.CacheMachine, kernel Kernel, attempts int, id uint64, processName string) error {
	task := NewTask(id, inputs, output, kernel, e.config.AttemptsLimit, processName, attempts)
	return e.Enqueue(task)
}

// Queue a task as is.
func (e *Executor) Enqueue(task *Task) error {
	if err := e.queue.PushBack(task); err != nil {
		return fmt.Errorf("enqueue task %d: %w", task.ID(), err)
	}
	e.events.Send(newEvent(EventQueued, task, -1))
	return nil
}

// Take the most recently queued task out of the queue without running it.
func (e *Executor) RemoveTaskFromBack() (*Task, bool) {
	return e.queue.PopBack()
}

// Run a task on the calling goroutine, typically one obtained from
// RemoveTaskFromBack. The task goes through the same admission check
// as tasks run by the workers.
func (e *Executor) RunInline(ctx context.Context, task *Task) error {
	e.inlineMu.Lock()
	defer e.inlineMu.Unlock()
	return e.runTask(ctx, -1, e.inline, log.WithPrefix("inline"), task)
}

// Run the dispatch loop until ctx is cancelled or the executor is closed.
// Only one dispatch loop may run at a time; ErrAlreadyRunning is returned
// while another one is active.
func (e *Executor) Execute(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return utils.ErrClosed
	}
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("dispatch loop of executor %s: %w", e.id, utils.ErrAlreadyRunning)
	}
	e.running = true
	e.loops.Add(1)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		e.loops.Done()
	}()

	log.Infof("Executor %s dispatching to %d workers", e.id, e.pool.Size())

	for !e.shutdown.Load() {
		task, err := e.queue.PopFrontOrWait(ctx)
		if err != nil {
			if errors.Is(err, utils.ErrClosed) || ctx.Err() != nil {
				break
			}
			return err
		}

		if e.shutdown.Load() {
			e.discard(task)
			break
		}

		submitted := e.pool.Submit(func(worker int) {
			e.runTask(ctx, worker, e.streams.Get(worker), e.workers[worker], task)
		})
		if !submitted {
			e.discard(task)
			break
		}
	}

	log.Debugf("Executor %s dispatch loop terminated", e.id)
	return nil
}

func (e *Executor) runTask(ctx context.Context, worker int, stream *device.Stream, logger *log.Logger, task *Task) error {
	need := task.MemoryNeeded()
	attempts := task.Attempts()

	admitted := e.gate.admit(need)
	e.metrics.admissionWait.Observe(admitted.Waited.Seconds())
	logger.Tracef("Admitted task %d (%s) needing %d bytes with %d available after %s",
		task.ID(), task.ProcessName(), need, admitted.Available, admitted.Waited)

	event := newEvent(EventAdmitted, task, worker)
	event.MemoryNeeded = need
	event.Waited = admitted.Waited
	e.events.Send(event)

	err := e.runAdmitted(ctx, stream, task)

	kernel := task.Kernel().Name()

	switch {
	case err != nil:
		e.fail(task, worker, err)

	case task.Attempts() > attempts:
		e.retried.Add(1)
		e.metrics.retried.WithLabelValues(kernel).Inc()
		logger.Debugf("Task %d (%s) requeued after attempt %d", task.ID(), task.ProcessName(), task.Attempts())
		e.events.Send(newEvent(EventRequeued, task, worker))

	default:
		e.completed.Add(1)
		e.metrics.completed.WithLabelValues(kernel).Inc()
		e.events.Send(newEvent(EventCompleted, task, worker))
	}

	return err
}

// Run an admitted task and give its admission back, even if the kernel's
// bookkeeping panics outside of Process.
func (e *Executor) runAdmitted(ctx context.Context, stream *device.Stream, task *Task) (err error) {
	defer e.gate.release()
	defer func() {
		if r := recover(); r != nil {
			err = task.error(fmt.Errorf("task panic: %v\n%s", r, debug.Stack()))
		}
	}()
	return task.Run(ctx, stream, e)
}

func (e *Executor) fail(task *Task, worker int, err error) {
	var taskErr *TaskError
	if !errors.As(err, &taskErr) {
		taskErr = task.error(err)
	}

	if errors.Is(err, utils.ErrRetriesExhausted) {
		e.retried.Add(1)
		e.metrics.retried.WithLabelValues(taskErr.Kernel).Inc()
	}

	e.failed.Add(1)
	e.metrics.failed.WithLabelValues(taskErr.Kernel).Inc()

	e.mu.Lock()
	if e.err == nil {
		e.err = taskErr
	}
	e.mu.Unlock()

	event := newEvent(EventFailed, task, worker)
	event.Err = taskErr
	e.events.Send(event)

	if e.config.OnFailure != nil {
		e.config.OnFailure(taskErr)
	} else {
		log.Error(taskErr)
		log.DebugError(taskErr)
	}

	task.Discard()
}

func (e *Executor) discard(task *Task) {
	log.Debugf("Discarding task %d (%s)", task.ID(), task.ProcessName())
	task.Discard()
}

// Returns the first fatal task failure, if any.
func (e *Executor) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Wake tasks waiting for admission after device memory was released
// outside of a task, e.g. when a consumer freed a batch.
func (e *Executor) NotifyMemoryReleased() {
	e.gate.wake()
}

// Subscribe to task lifecycle events.
// The consumer must be closed when no longer used.
func (e *Executor) Subscribe() *utils.BroadcastConsumer[Event] {
	return e.events.NewConsumer()
}

// Returns a snapshot of the queued tasks, oldest first.
func (e *Executor) QueuedTasks() []TaskInfo {
	tasks := []TaskInfo{}
	e.queue.Each(func(task *Task) bool {
		tasks = append(tasks, newTaskInfo(task))
		return true
	})
	return tasks
}

// Returns a snapshot of the queued task with the given identifier.
func (e *Executor) QueuedTask(id uint64) (TaskInfo, error) {
	var info TaskInfo
	found := false

	e.queue.Each(func(task *Task) bool {
		if task.ID() != id {
			return true
		}
		info = newTaskInfo(task)
		found = true
		return false
	})

	if !found {
		return info, fmt.Errorf("%w: task %d is not queued", utils.ErrNotFound, id)
	}
	return info, nil
}

func (e *Executor) Stats() Stats {
	return Stats{
		ID:             e.id,
		MachineID:      e.machineID,
		Workers:        e.pool.Size(),
		QueuedTasks:    e.queue.Len(),
		ActiveTasks:    e.gate.Active(),
		SubmittedTasks: e.submitted.Load(),
		CompletedTasks: e.completed.Load(),
		RetriedTasks:   e.retried.Load(),
		FailedTasks:    e.failed.Load(),
		MemoryLimit:    e.memory.MemoryLimit(),
		MemoryUsed:     e.memory.MemoryUsed(),
	}
}

// Stop accepting tasks and shut down.
//
// The dispatch loop exits at its next iteration and tasks already handed
// to a worker run to completion. Tasks still queued are discarded and
// their inputs released. Streams are destroyed last.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.shutdown.Store(true)
	e.mu.Unlock()

	e.queue.Close()
	e.loops.Wait()
	e.pool.Wait()
	e.pool.Stop()

	dropped := 0
	for {
		task, ok := e.queue.PopFront()
		if !ok {
			break
		}
		e.discard(task)
		dropped++
	}
	if dropped > 0 {
		log.Warnf("Executor %s discarded %d queued tasks", e.id, dropped)
	}

	e.streams.Close()
	e.inline.Destroy()
	e.events.Close()
}
