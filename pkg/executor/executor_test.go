package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srand/jolt/taskflow/pkg/cache"
	"github.com/srand/jolt/taskflow/pkg/device"
	"github.com/srand/jolt/taskflow/pkg/log"
	"github.com/srand/jolt/taskflow/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(threads, attempts int) Config {
	config := DefaultConfig()
	config.Threads = threads
	config.AttemptsLimit = attempts
	config.EventBuffer = 100
	return config
}

func newExecutor(t *testing.T, config Config, dev *device.Device) *Executor {
	log.SetLevel(log.DebugLevel)

	e, err := New(config, dev, dev)
	require.NoError(t, err)
	return e
}

func startExecutor(t *testing.T, config Config, dev *device.Device) *Executor {
	e := newExecutor(t, config, dev)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Execute(ctx)
	}()

	t.Cleanup(func() {
		e.Close()
		cancel()
		if err := <-done; err != nil {
			assert.ErrorIs(t, err, utils.ErrClosed)
		}
	})
	return e
}

func waitFor[E any](t *testing.T, ch chan E) E {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	var zero E
	return zero
}

func TestExecutorAdmissionLimitsConcurrency(t *testing.T) {
	dev := device.NewDevice(0, 25)
	e := startExecutor(t, testConfig(3, 3), dev)

	started := make(chan string, 3)
	release := map[string]chan struct{}{
		"t0": make(chan struct{}),
		"t1": make(chan struct{}),
		"t2": make(chan struct{}),
	}

	var running, maxRunning atomic.Int64

	kernel := newTestKernel("hash_join", func(ctx context.Context, _ []cache.CacheData, _ *cache.CacheMachine, stream *device.Stream, name string) Result {
		allocation, err := stream.Allocate(10)
		if err != nil {
			return ResultFromError(err)
		}
		defer allocation.Free()

		n := running.Add(1)
		for {
			peak := maxRunning.Load()
			if n <= peak || maxRunning.CompareAndSwap(peak, n) {
				break
			}
		}

		started <- name
		<-release[name]
		running.Add(-1)
		return Ok()
	})
	kernel.output = 10

	_, err := e.AddTask(nil, nil, kernel, "t0")
	require.NoError(t, err)
	assert.Equal(t, "t0", waitFor(t, started))

	_, err = e.AddTask(nil, nil, kernel, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", waitFor(t, started))

	_, err = e.AddTask(nil, nil, kernel, "t2")
	require.NoError(t, err)

	select {
	case name := <-started:
		t.Fatalf("%s admitted with only %d bytes available", name, device.MemoryAvailable(dev))
	case <-time.After(100 * time.Millisecond):
	}

	close(release["t0"])
	assert.Equal(t, "t2", waitFor(t, started))

	close(release["t1"])
	close(release["t2"])

	require.Eventually(t, func() bool {
		return len(kernel.Completed()) == 3
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(2), maxRunning.Load())
	assert.Equal(t, uint64(20), dev.PeakMemoryUsed())
	assert.Equal(t, uint64(0), dev.MemoryUsed())
}

func TestExecutorRetryPreservesIdentity(t *testing.T) {
	dev := device.NewDevice(0, 100)
	e := startExecutor(t, testConfig(1, 3), dev)

	consumer := e.Subscribe()
	defer consumer.Close()

	kernel := newTestKernel("aggregate", retryTimes(2))

	// Shift the identifier away from zero.
	_, err := e.AddTask(nil, nil, newTestKernel("noop", nil), "")
	require.NoError(t, err)

	id, err := e.AddTask(nil, nil, kernel, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	var requeued []Event
	for {
		event := waitFor(t, consumer.Chan)
		if event.Kernel != "aggregate" {
			continue
		}
		if event.Type == EventRequeued {
			requeued = append(requeued, event)
		}
		if event.Type == EventCompleted {
			assert.Equal(t, id, event.TaskID)
			assert.Equal(t, 2, event.Attempts)
			break
		}
		require.NotEqual(t, EventFailed, event.Type)
	}

	require.Len(t, requeued, 2)
	for _, event := range requeued {
		assert.Equal(t, id, event.TaskID)
	}

	assert.Equal(t, []uint64{id}, kernel.Added())
	assert.Equal(t, []uint64{id}, kernel.Completed())

	stats := e.Stats()
	assert.Equal(t, uint64(2), stats.SubmittedTasks)
	assert.Equal(t, uint64(2), stats.RetriedTasks)
	assert.NoError(t, e.Err())
}

func TestExecutorRetryLimit(t *testing.T) {
	dev := device.NewDevice(0, 100)

	failures := make(chan *TaskError, 1)
	config := testConfig(2, 3)
	config.OnFailure = func(err *TaskError) {
		failures <- err
	}

	e := startExecutor(t, config, dev)
	kernel := newTestKernel("sort", retryTimes(100))

	id, err := e.AddTask(nil, nil, kernel, "")
	require.NoError(t, err)

	failure := waitFor(t, failures)
	assert.Equal(t, id, failure.TaskID)
	assert.Equal(t, 3, failure.Attempts)
	assert.ErrorIs(t, failure, utils.ErrRetriesExhausted)
	assert.Empty(t, kernel.Completed())

	assert.ErrorIs(t, e.Err(), utils.ErrRetriesExhausted)
	require.Eventually(t, func() bool {
		return e.Stats().FailedTasks == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(3), e.Stats().RetriedTasks)
}

func TestExecutorOversizedTaskRunsAlone(t *testing.T) {
	dev := device.NewDevice(0, 10)
	e := startExecutor(t, testConfig(2, 3), dev)

	kernel := newTestKernel("cross_join", nil)
	kernel.operating = 50

	_, err := e.AddTask(nil, nil, kernel, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(kernel.Completed()) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestExecutorDispatchIsFifo(t *testing.T) {
	dev := device.NewDevice(0, 100)
	e := newExecutor(t, testConfig(1, 3), dev)

	var mu sync.Mutex
	var order []string

	kernel := newTestKernel("project", func(_ context.Context, _ []cache.CacheData, _ *cache.CacheMachine, _ *device.Stream, name string) Result {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, name)
		return Ok()
	})

	for _, name := range []string{"a", "b", "c", "d"} {
		_, err := e.AddTask(nil, nil, kernel, name)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(0), kernel.Added()[0])
	assert.Equal(t, uint64(3), kernel.Added()[3])

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Execute(ctx)

	require.Eventually(t, func() bool {
		return len(kernel.Completed()) == 4
	}, 5*time.Second, 10*time.Millisecond)
	e.Close()

	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestExecutorRemoveTaskFromBack(t *testing.T) {
	dev := device.NewDevice(0, 100)
	e := newExecutor(t, testConfig(1, 3), dev)
	defer e.Close()

	_, ok := e.RemoveTaskFromBack()
	assert.False(t, ok)

	kernel := newTestKernel("union", nil)
	for i := 0; i < 3; i++ {
		_, err := e.AddTask(nil, nil, kernel, "")
		require.NoError(t, err)
	}

	task, ok := e.RemoveTaskFromBack()
	require.True(t, ok)
	assert.Equal(t, uint64(2), task.ID())
	assert.Len(t, e.QueuedTasks(), 2)

	require.NoError(t, e.RunInline(context.Background(), task))
	assert.Equal(t, []uint64{2}, kernel.Completed())
	assert.Equal(t, int64(0), e.Stats().ActiveTasks)
}

func TestExecutorCloseDiscardsQueuedTasks(t *testing.T) {
	dev := device.NewDevice(0, 100)
	e := newExecutor(t, testConfig(2, 3), dev)

	data, err := cache.NewGPUCacheData(dev, cache.NewTable("a", 1, make([]byte, 60)))
	require.NoError(t, err)

	kernel := newTestKernel("filter", nil)
	_, err = e.AddTask([]cache.CacheData{data}, nil, kernel, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(60), dev.MemoryUsed())

	e.Close()
	e.Close()

	assert.Equal(t, uint64(0), dev.MemoryUsed())
	assert.Empty(t, kernel.Completed())
	assert.Equal(t, 1, dev.StreamCount())

	_, err = e.AddTask(nil, nil, kernel, "")
	assert.ErrorIs(t, err, utils.ErrClosed)
	assert.ErrorIs(t, e.Execute(context.Background()), utils.ErrClosed)
}

func TestExecutorExecuteStopsOnCancel(t *testing.T) {
	dev := device.NewDevice(0, 100)
	e := newExecutor(t, testConfig(1, 3), dev)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Execute(ctx)
	}()

	cancel()
	assert.NoError(t, waitFor(t, done))
}

func TestExecutorInvalidConfig(t *testing.T) {
	dev := device.NewDevice(0, 100)

	_, err := New(testConfig(0, 3), dev, dev)
	assert.Error(t, err)

	_, err = New(testConfig(1, 0), dev, dev)
	assert.Error(t, err)
}

func TestExecutorSingleton(t *testing.T) {
	_, err := Instance()
	assert.ErrorIs(t, err, utils.ErrNotInitialized)

	dev := device.NewDevice(0, 100)
	e, err := Init(testConfig(1, 3), dev, dev)
	require.NoError(t, err)

	again, err := Init(testConfig(4, 3), dev, dev)
	require.NoError(t, err)
	assert.Same(t, e, again)

	instance, err := Instance()
	require.NoError(t, err)
	assert.Same(t, e, instance)

	Shutdown()
	_, err = Instance()
	assert.ErrorIs(t, err, utils.ErrNotInitialized)
}

// Kernel whose completion bookkeeping blows up after a successful Process.
type panickingKernel struct {
	*testKernel
}

func (k *panickingKernel) NotifyComplete(id uint64) {
	panic("completion bookkeeping corrupted")
}

func TestExecutorPanicAfterProcessReleasesAdmission(t *testing.T) {
	dev := device.NewDevice(0, 10)

	failures := make(chan *TaskError, 1)
	config := testConfig(2, 3)
	config.OnFailure = func(err *TaskError) {
		failures <- err
	}

	e := startExecutor(t, config, dev)

	id, err := e.AddTask(nil, nil, &panickingKernel{newTestKernel("broken", nil)}, "")
	require.NoError(t, err)

	failure := waitFor(t, failures)
	assert.Equal(t, id, failure.TaskID)
	assert.ErrorContains(t, failure, "completion bookkeeping corrupted")
	assert.Equal(t, int64(0), e.Stats().ActiveTasks)

	// Only admitted if nothing is accounted as running.
	oversized := newTestKernel("cross_join", nil)
	oversized.operating = 50

	_, err = e.AddTask(nil, nil, oversized, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(oversized.Completed()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), e.Stats().FailedTasks)
}

func TestExecutorSingleDispatchLoop(t *testing.T) {
	dev := device.NewDevice(0, 100)
	e := startExecutor(t, testConfig(1, 3), dev)

	kernel := newTestKernel("scan", nil)
	_, err := e.AddTask(nil, nil, kernel, "")
	require.NoError(t, err)

	// The first loop is running once it has dispatched a task.
	require.Eventually(t, func() bool {
		return len(kernel.Completed()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	err = e.Execute(context.Background())
	assert.ErrorIs(t, err, utils.ErrAlreadyRunning)
}

func TestExecutorExecuteRestartsAfterCancel(t *testing.T) {
	dev := device.NewDevice(0, 100)
	e := newExecutor(t, testConfig(1, 3), dev)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Execute(ctx))

	kernel := newTestKernel("scan", nil)
	_, err := e.AddTask(nil, nil, kernel, "")
	require.NoError(t, err)

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	go e.Execute(ctx)

	require.Eventually(t, func() bool {
		return len(kernel.Completed()) == 1
	}, 5*time.Second, 10*time.Millisecond)
}
