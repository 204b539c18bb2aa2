// Package kernel provides building blocks for kernels scheduled by the executor.
package kernel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/srand/jolt/taskflow/pkg/cache"
)

// Bookkeeping shared by all kernels.
//
// Base tracks the tasks created for a kernel that have not yet completed,
// so that a pipeline can wait for a kernel to drain before finishing its
// output. It implements every executor.Kernel method except Process.
type Base struct {
	name        string
	mu          sync.Mutex
	cond        *sync.Cond
	outstanding map[uint64]struct{}
	added       atomic.Uint64
	completed   atomic.Uint64
}

func NewBase(name string) *Base {
	b := &Base{
		name:        name,
		outstanding: map[uint64]struct{}{},
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *Base) Name() string {
	return b.name
}

func (b *Base) AddTask(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outstanding[id] = struct{}{}
	b.added.Add(1)
}

func (b *Base) NotifyComplete(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.outstanding[id]; !ok {
		return
	}
	delete(b.outstanding, id)
	b.completed.Add(1)
	b.cond.Broadcast()
}

// Number of tasks added but not yet completed.
func (b *Base) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.outstanding)
}

func (b *Base) Added() uint64 {
	return b.added.Load()
}

func (b *Base) Completed() uint64 {
	return b.completed.Load()
}

// Block until every added task has completed.
//
// A task that fails fatally never completes, so callers should cancel
// ctx when the executor reports a failure.
func (b *Base) WaitForCompletion(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.cond.Broadcast()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.outstanding) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.cond.Wait()
	}

	return nil
}

// The output is assumed to be as large as the input.
func (b *Base) EstimateOutputBytes(inputs []cache.CacheData) uint64 {
	return TotalBytes(inputs)
}

func (b *Base) EstimateOperatingBytes(inputs []cache.CacheData) uint64 {
	return 0
}

// Sum of the sizes of inputs.
func TotalBytes(inputs []cache.CacheData) uint64 {
	var total uint64
	for _, input := range inputs {
		total += input.SizeInBytes()
	}
	return total
}
