package executor

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/srand/jolt/taskflow/pkg/cache"
	"github.com/srand/jolt/taskflow/pkg/device"
	"github.com/srand/jolt/taskflow/pkg/utils"
)

// Accepts the successor of a task that must be attempted again.
type Resubmitter interface {
	AddRetryTask(inputs []cache.CacheData, output *cache.CacheMachine, kernel Kernel, attempts int, id uint64, processName string) error
}

// A failed task.
type TaskError struct {
	TaskID      uint64
	Kernel      string
	ProcessName string
	Attempts    int
	Err         error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d of %s (%s), attempt %d: %v", e.TaskID, e.Kernel, e.ProcessName, e.Attempts, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// One invocation of a kernel over a set of input batches.
//
// A task exclusively owns its inputs until it either completes or hands
// them over to its retry successor.
type Task struct {
	id            uint64
	inputs        []cache.CacheData
	output        *cache.CacheMachine
	kernel        Kernel
	attempts      int
	attemptsLimit int
	processName   string
}

func NewTask(
	id uint64,
	inputs []cache.CacheData,
	output *cache.CacheMachine,
	kernel Kernel,
	attemptsLimit int,
	processName string,
	attempts int,
) *Task {
	if processName == "" {
		processName = kernel.Name()
	}
	return &Task{
		id:            id,
		inputs:        inputs,
		output:        output,
		kernel:        kernel,
		attempts:      attempts,
		attemptsLimit: attemptsLimit,
		processName:   processName,
	}
}

// The task identifier. Stays the same across retries.
func (t *Task) ID() uint64 {
	return t.id
}

func (t *Task) Inputs() []cache.CacheData {
	return t.inputs
}

func (t *Task) Output() *cache.CacheMachine {
	return t.output
}

func (t *Task) Kernel() Kernel {
	return t.kernel
}

// Number of failed attempts so far.
func (t *Task) Attempts() int {
	return t.attempts
}

func (t *Task) AttemptsLimit() int {
	return t.attemptsLimit
}

func (t *Task) ProcessName() string {
	return t.processName
}

// Estimate of the device memory required to run the task.
//
// Inputs in host memory or in local spill files must be brought back to
// the device and count with their full size. Inputs already on the device
// count nothing. Inputs backed by remote files are not estimated and
// count nothing either, which may admit a task optimistically.
func (t *Task) MemoryNeeded() uint64 {
	var decache uint64

	for _, input := range t.inputs {
		switch input.Type() {
		case cache.CPU, cache.LocalFile:
			decache += input.SizeInBytes()
		case cache.IOFile:
			// Unknown until the file has been parsed.
		}
	}

	return decache + t.kernel.EstimateOutputBytes(t.inputs) + t.kernel.EstimateOperatingBytes(t.inputs)
}

// Run the kernel on the given stream.
//
// On success the kernel is notified of completion. On a retryable failure
// the inputs move to a successor task with the same identifier which is
// submitted to executor, and nil is returned. A *TaskError is returned for
// fatal failures and when the attempt limit is reached.
func (t *Task) Run(ctx context.Context, stream *device.Stream, executor Resubmitter) error {
	result := t.process(ctx, stream)

	switch result.Status {
	case StatusOk:
		t.kernel.NotifyComplete(t.id)
		return nil

	case StatusRetry:
		t.attempts++
		if t.attempts >= t.attemptsLimit {
			return t.error(fmt.Errorf("%w: %w", utils.ErrRetriesExhausted, result.Err))
		}

		inputs := t.ReleaseInputs()
		err := executor.AddRetryTask(inputs, t.output, t.kernel, t.attempts, t.id, t.processName)
		if err != nil {
			t.SetInputs(inputs)
			return t.error(fmt.Errorf("resubmit: %w", err))
		}
		return nil

	default:
		return t.error(result.Err)
	}
}

func (t *Task) process(ctx context.Context, stream *device.Stream) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Fatal(fmt.Errorf("kernel panic: %v\n%s", r, debug.Stack()))
		}
	}()
	return t.kernel.Process(ctx, t.inputs, t.output, stream, t.processName)
}

func (t *Task) error(err error) *TaskError {
	return &TaskError{
		TaskID:      t.id,
		Kernel:      t.kernel.Name(),
		ProcessName: t.processName,
		Attempts:    t.attempts,
		Err:         err,
	}
}

// Take ownership of the inputs away from the task.
func (t *Task) ReleaseInputs() []cache.CacheData {
	inputs := t.inputs
	t.inputs = nil
	return inputs
}

func (t *Task) SetInputs(inputs []cache.CacheData) {
	t.inputs = inputs
}

// Release the resources of all inputs still owned by the task.
func (t *Task) Discard() {
	for _, input := range t.ReleaseInputs() {
		input.Release()
	}
}
