package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/srand/jolt/taskflow/pkg/cache"
	"github.com/srand/jolt/taskflow/pkg/device"
	"github.com/srand/jolt/taskflow/pkg/executor"
	"github.com/srand/jolt/taskflow/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) AddTask(inputs []cache.CacheData, output *cache.CacheMachine, kernel executor.Kernel, processName string) (uint64, error) {
	args := m.Called(inputs, output, kernel, processName)
	return uint64(args.Int(0)), args.Error(1)
}

func cpuData(name string, size int) cache.CacheData {
	return cache.NewCPUCacheData(cache.NewTable(name, size, make([]byte, size)))
}

func okProcess(context.Context, []cache.CacheData, *cache.CacheMachine, *device.Stream, string) executor.Result {
	return executor.Ok()
}

func TestBaseTracksOutstandingTasks(t *testing.T) {
	b := NewBase("filter")
	assert.Equal(t, "filter", b.Name())

	b.AddTask(1)
	b.AddTask(2)
	assert.Equal(t, 2, b.Outstanding())

	b.NotifyComplete(1)
	b.NotifyComplete(1)
	b.NotifyComplete(42)
	assert.Equal(t, 1, b.Outstanding())
	assert.Equal(t, uint64(2), b.Added())
	assert.Equal(t, uint64(1), b.Completed())

	done := make(chan error, 1)
	go func() {
		done <- b.WaitForCompletion(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("returned with a task outstanding")
	case <-time.After(50 * time.Millisecond):
	}

	b.NotifyComplete(2)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("did not return after the last task completed")
	}
}

func TestBaseWaitForCompletionCancelled(t *testing.T) {
	b := NewBase("filter")
	b.AddTask(0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, b.WaitForCompletion(ctx), context.DeadlineExceeded)
}

func TestFuncEstimates(t *testing.T) {
	inputs := []cache.CacheData{cpuData("a", 10), cpuData("b", 30)}

	k := NewFunc("project", okProcess)
	assert.Equal(t, uint64(40), k.EstimateOutputBytes(inputs))
	assert.Equal(t, uint64(0), k.EstimateOperatingBytes(inputs))

	k = NewFunc("join", okProcess, WithOutputEstimate(Scaled(0.5)), WithOperatingEstimate(Scaled(2)))
	assert.Equal(t, uint64(20), k.EstimateOutputBytes(inputs))
	assert.Equal(t, uint64(80), k.EstimateOperatingBytes(inputs))

	var _ executor.Kernel = k
	var _ Drainable = k
}

func TestMaterialize(t *testing.T) {
	fs := afero.NewMemMapFs()
	dev := device.NewDevice(0, 100)
	stream, err := dev.NewStream()
	require.NoError(t, err)

	gpu, err := cache.NewGPUCacheData(dev, cache.NewTable("gpu", 3, make([]byte, 50)))
	require.NoError(t, err)
	spilled, err := cache.NewLocalFileCacheData(fs, "/spill", cache.NewTable("file", 4, make([]byte, 20)))
	require.NoError(t, err)

	batch, err := Materialize(stream, []cache.CacheData{gpu, cpuData("cpu", 10), spilled})
	require.NoError(t, err)
	assert.Len(t, batch.Tables, 3)
	assert.Equal(t, 17, batch.Rows())
	assert.Equal(t, uint64(80), dev.MemoryUsed())

	batch.Release()
	assert.Equal(t, uint64(50), dev.MemoryUsed())

	_, err = Materialize(stream, []cache.CacheData{cpuData("a", 30), cpuData("b", 30)})
	assert.ErrorIs(t, err, utils.ErrOutOfMemory)
	assert.Equal(t, uint64(50), dev.MemoryUsed())
}

func TestDriveBatchesInputs(t *testing.T) {
	input := cache.NewCacheMachine("input", cache.CacheMachineConfig{})
	output := cache.NewCacheMachine("output", cache.CacheMachineConfig{})
	for i := 0; i < 5; i++ {
		require.NoError(t, input.AddCacheData(cpuData("t", 1)))
	}
	input.Finish()

	k := NewFunc("filter", okProcess)

	submitter := &MockSubmitter{}
	submitter.On("AddTask", mock.MatchedBy(func(inputs []cache.CacheData) bool { return len(inputs) == 2 }), output, k, "").Return(0, nil).Twice()
	submitter.On("AddTask", mock.MatchedBy(func(inputs []cache.CacheData) bool { return len(inputs) == 1 }), output, k, "").Return(0, nil).Once()

	tasks, err := Drive(context.Background(), submitter, k, input, output, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, tasks)
	submitter.AssertExpectations(t)
}

func TestDriveReleasesInputsOnSubmitFailure(t *testing.T) {
	dev := device.NewDevice(0, 100)
	input := cache.NewCacheMachine("input", cache.CacheMachineConfig{Device: dev})
	require.NoError(t, input.AddToCache(cache.NewTable("t", 1, make([]byte, 10))))
	input.Finish()
	assert.Equal(t, uint64(10), dev.MemoryUsed())

	submitter := &MockSubmitter{}
	submitter.On("AddTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(0, utils.ErrClosed)

	_, err := Drive(context.Background(), submitter, NewFunc("filter", okProcess), input, nil, 4)
	assert.ErrorIs(t, err, utils.ErrClosed)
	assert.Equal(t, uint64(0), dev.MemoryUsed())
}

func TestRunStageOnExecutor(t *testing.T) {
	dev := device.NewDevice(0, 1000)

	config := executor.DefaultConfig()
	config.Threads = 2
	e, err := executor.New(config, dev, dev)
	require.NoError(t, err)
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go e.Execute(ctx)

	input := cache.NewCacheMachine("input", cache.CacheMachineConfig{Device: dev})
	output := cache.NewCacheMachine("output", cache.CacheMachineConfig{Device: dev})
	for i := 0; i < 6; i++ {
		require.NoError(t, input.AddToCache(cache.NewTable("t", 10, make([]byte, 10))))
	}
	input.Finish()

	double := NewFunc("double", func(ctx context.Context, inputs []cache.CacheData, output *cache.CacheMachine, stream *device.Stream, _ string) executor.Result {
		batch, err := Materialize(stream, inputs)
		if err != nil {
			return executor.ResultFromError(err)
		}
		defer batch.Release()

		rows := batch.Rows() * 2
		if err := output.AddToCache(cache.NewTable("doubled", rows, make([]byte, rows))); err != nil {
			return executor.ResultFromError(err)
		}
		for _, input := range inputs {
			input.Release()
		}
		return executor.Ok()
	})

	require.NoError(t, RunStage(ctx, e, double, input, output, 3))
	assert.True(t, output.IsFinished())
	assert.Equal(t, uint64(2), double.Completed())
	assert.Equal(t, 2, output.Len())

	for {
		data, ok := output.TryPullCacheData()
		if !ok {
			break
		}
		table, err := data.Decache()
		require.NoError(t, err)
		assert.Equal(t, 60, table.Rows)
		data.Release()
	}
	assert.Equal(t, uint64(0), dev.MemoryUsed())
}
