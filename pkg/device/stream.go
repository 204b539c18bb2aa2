package device

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/srand/jolt/taskflow/pkg/utils"
)

// An ordered execution queue on a device.
//
// Work enqueued on the same stream runs in submission order. A stream
// must only be used by one goroutine at a time; the executor guarantees
// this by binding each stream to a single worker slot.
type Stream struct {
	id        int
	device    *Device
	mu        sync.Mutex
	tail      chan struct{}
	pending   sync.WaitGroup
	launched  atomic.Uint64
	destroyed atomic.Bool
}

func (s *Stream) ID() int {
	return s.id
}

func (s *Stream) Device() *Device {
	return s.device
}

func (s *Stream) String() string {
	return fmt.Sprintf("device %d stream %d", s.device.id, s.id)
}

// Allocate memory for use by work on this stream.
func (s *Stream) Allocate(size uint64) (*Allocation, error) {
	if s.destroyed.Load() {
		return nil, fmt.Errorf("%s: %w", s, utils.ErrClosed)
	}
	return s.device.Allocate(size)
}

// Enqueue asynchronous work on the stream.
// Work items run one at a time in the order they were launched.
func (s *Stream) Launch(work func()) error {
	if s.destroyed.Load() {
		return fmt.Errorf("%s: %w", s, utils.ErrClosed)
	}

	s.mu.Lock()
	prev := s.tail
	done := make(chan struct{})
	s.tail = done
	s.pending.Add(1)
	s.launched.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.pending.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		work()
	}()
	return nil
}

// Number of work items launched on the stream since it was created.
func (s *Stream) Launched() uint64 {
	return s.launched.Load()
}

// Block until all launched work has completed.
func (s *Stream) Synchronize() {
	s.pending.Wait()
}

// Synchronize and release the stream. The default stream is never destroyed.
func (s *Stream) Destroy() {
	if s.id == DefaultStreamID {
		return
	}
	if s.destroyed.CompareAndSwap(false, true) {
		s.Synchronize()
		s.device.destroyStream(s)
	}
}

func (s *Stream) Destroyed() bool {
	return s.destroyed.Load()
}
