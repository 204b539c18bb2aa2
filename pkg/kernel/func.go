package kernel

import (
	"context"

	"github.com/srand/jolt/taskflow/pkg/cache"
	"github.com/srand/jolt/taskflow/pkg/device"
	"github.com/srand/jolt/taskflow/pkg/executor"
)

type ProcessFunc func(ctx context.Context, inputs []cache.CacheData, output *cache.CacheMachine, stream *device.Stream, processName string) executor.Result

type EstimateFunc func(inputs []cache.CacheData) uint64

// A kernel built from a process function.
type Func struct {
	*Base
	process   ProcessFunc
	output    EstimateFunc
	operating EstimateFunc
}

type FuncOption func(*Func)

// Override the default output estimate, which is the total input size.
func WithOutputEstimate(fn EstimateFunc) FuncOption {
	return func(f *Func) {
		f.output = fn
	}
}

// Override the default operating estimate, which is zero.
func WithOperatingEstimate(fn EstimateFunc) FuncOption {
	return func(f *Func) {
		f.operating = fn
	}
}

// Scale an estimate by a factor, e.g. for joins that hold a hash table
// twice the size of the build side.
func Scaled(factor float64) EstimateFunc {
	return func(inputs []cache.CacheData) uint64 {
		return uint64(float64(TotalBytes(inputs)) * factor)
	}
}

func NewFunc(name string, process ProcessFunc, opts ...FuncOption) *Func {
	f := &Func{
		Base:    NewBase(name),
		process: process,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Func) Process(ctx context.Context, inputs []cache.CacheData, output *cache.CacheMachine, stream *device.Stream, processName string) executor.Result {
	return f.process(ctx, inputs, output, stream, processName)
}

func (f *Func) EstimateOutputBytes(inputs []cache.CacheData) uint64 {
	if f.output != nil {
		return f.output(inputs)
	}
	return f.Base.EstimateOutputBytes(inputs)
}

func (f *Func) EstimateOperatingBytes(inputs []cache.CacheData) uint64 {
	if f.operating != nil {
		return f.operating(inputs)
	}
	return f.Base.EstimateOperatingBytes(inputs)
}
