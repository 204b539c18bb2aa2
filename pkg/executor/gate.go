package executor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/srand/jolt/taskflow/pkg/device"
	"github.com/srand/jolt/taskflow/pkg/utils"
)

// Outcome of an admission.
type admission struct {
	// Time spent waiting for admission.
	Waited time.Duration

	// True if no other task was active when the task was admitted.
	Alone bool

	// Free device memory observed at the instant of admission.
	Available uint64
}

// Holds tasks back until their estimated memory need fits in the free
// device memory.
//
// A task is admitted when nothing else is running, or when its need is
// strictly less than the memory currently available. The first condition
// lets a task larger than the whole device run on its own instead of
// waiting forever. Waiters re-evaluate their condition every time an
// active task is released; there is no ordering between them.
type admissionGate struct {
	mu     utils.RWMutex
	cond   *sync.Cond
	memory device.MemoryResource
	active atomic.Int64
}

func newAdmissionGate(memory device.MemoryResource) *admissionGate {
	g := &admissionGate{
		mu:     utils.NewRWMutex(),
		memory: memory,
	}
	g.cond = sync.NewCond(g.mu)
	return g
}

// Block until a task needing the given number of bytes may run,
// then count it as active.
func (g *admissionGate) admit(need uint64) admission {
	start := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		alone := g.active.Load() == 0
		available := device.MemoryAvailable(g.memory)

		if alone || need < available {
			g.active.Add(1)
			return admission{
				Waited:    time.Since(start),
				Alone:     alone,
				Available: available,
			}
		}

		g.cond.Wait()
	}
}

// Count an admitted task as finished and let waiters re-evaluate.
func (g *admissionGate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active.Add(-1)
	g.cond.Broadcast()
}

// Let waiters re-evaluate, e.g. after memory was freed outside of a task.
func (g *admissionGate) wake() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cond.Broadcast()
}

// Number of admitted tasks that have not been released.
func (g *admissionGate) Active() int64 {
	return g.active.Load()
}
