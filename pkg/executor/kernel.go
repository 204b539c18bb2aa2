package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/srand/jolt/taskflow/pkg/cache"
	"github.com/srand/jolt/taskflow/pkg/device"
	"github.com/srand/jolt/taskflow/pkg/utils"
)

// A relational operator whose work is scheduled by the executor.
//
// All methods may be called concurrently from any worker.
type Kernel interface {
	// The name of the kernel. Used as the default process name of its tasks.
	Name() string

	// Process a set of input batches into output, using only the given stream.
	// Device allocation failures must be reported with Retry so that the
	// task can be attempted again once memory has been released.
	Process(ctx context.Context, inputs []cache.CacheData, output *cache.CacheMachine, stream *device.Stream, processName string) Result

	// Estimate of the device memory needed to hold the output produced from inputs.
	EstimateOutputBytes(inputs []cache.CacheData) uint64

	// Estimate of the transient device memory needed while processing inputs.
	EstimateOperatingBytes(inputs []cache.CacheData) uint64

	// Called when a task of this kernel has been created.
	AddTask(id uint64)

	// Called when a task of this kernel has completed successfully.
	NotifyComplete(id uint64)
}

type Status int

const (
	StatusOk Status = iota
	StatusRetry
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusRetry:
		return "retry"
	case StatusFatal:
		return "fatal"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Outcome of Kernel.Process.
type Result struct {
	Status Status
	Err    error
}

func Ok() Result {
	return Result{Status: StatusOk}
}

// The kernel failed because of transient resource exhaustion.
func Retry(err error) Result {
	if err == nil {
		err = utils.ErrOutOfMemory
	}
	return Result{Status: StatusRetry, Err: err}
}

// The kernel failed and must not be retried.
func Fatal(err error) Result {
	if err == nil {
		err = errors.New("kernel reported failure")
	}
	return Result{Status: StatusFatal, Err: err}
}

// Classify a plain error returned by kernel code.
// Device allocation failures (utils.ErrOutOfMemory) are retryable,
// everything else is fatal.
func ResultFromError(err error) Result {
	switch {
	case err == nil:
		return Ok()
	case errors.Is(err, utils.ErrOutOfMemory):
		return Retry(err)
	default:
		return Fatal(err)
	}
}
