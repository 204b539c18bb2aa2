package device

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/srand/jolt/taskflow/pkg/utils"
)

// Creates execution streams.
type StreamFactory interface {
	NewStream() (*Stream, error)
}

// A simulated GPU with a fixed memory budget.
type Device struct {
	id    int
	limit uint64
	used  atomic.Uint64
	peak  atomic.Uint64

	streamMu   sync.Mutex
	nextStream int
	streams    map[int]*Stream
}

// Default stream identifier, shared by everything that does not
// create its own stream.
const DefaultStreamID = 0

func NewDevice(id int, limit uint64) *Device {
	d := &Device{
		id:         id,
		limit:      limit,
		nextStream: DefaultStreamID + 1,
		streams:    map[int]*Stream{},
	}
	d.streams[DefaultStreamID] = &Stream{id: DefaultStreamID, device: d}
	return d
}

func (d *Device) ID() int {
	return d.id
}

func (d *Device) MemoryLimit() uint64 {
	return d.limit
}

func (d *Device) MemoryUsed() uint64 {
	return d.used.Load()
}

// Highest number of bytes allocated at any one time.
func (d *Device) PeakMemoryUsed() uint64 {
	return d.peak.Load()
}

// Reserve size bytes of device memory.
// Fails with utils.ErrOutOfMemory if the reservation would exceed the limit.
func (d *Device) Allocate(size uint64) (*Allocation, error) {
	for {
		used := d.used.Load()
		if used+size > d.limit || used+size < used {
			return nil, fmt.Errorf("%w: requested %s with %s of %s in use",
				utils.ErrOutOfMemory,
				humanize.IBytes(size),
				humanize.IBytes(used),
				humanize.IBytes(d.limit))
		}
		if d.used.CompareAndSwap(used, used+size) {
			d.updatePeak(used + size)
			return &Allocation{device: d, size: size}, nil
		}
	}
}

func (d *Device) updatePeak(used uint64) {
	for {
		peak := d.peak.Load()
		if used <= peak || d.peak.CompareAndSwap(peak, used) {
			return
		}
	}
}

func (d *Device) free(size uint64) {
	d.used.Add(^(size - 1))
}

// Create a new execution stream on the device.
func (d *Device) NewStream() (*Stream, error) {
	d.streamMu.Lock()
	defer d.streamMu.Unlock()

	stream := &Stream{id: d.nextStream, device: d}
	d.streams[stream.id] = stream
	d.nextStream++
	return stream, nil
}

// The stream used for work not bound to a worker slot.
func (d *Device) DefaultStream() *Stream {
	d.streamMu.Lock()
	defer d.streamMu.Unlock()
	return d.streams[DefaultStreamID]
}

// Number of live streams, including the default stream.
func (d *Device) StreamCount() int {
	d.streamMu.Lock()
	defer d.streamMu.Unlock()
	return len(d.streams)
}

func (d *Device) destroyStream(s *Stream) {
	d.streamMu.Lock()
	defer d.streamMu.Unlock()
	delete(d.streams, s.id)
}

// A reservation of device memory. Free must be called exactly once.
type Allocation struct {
	device *Device
	size   uint64
	freed  atomic.Bool
}

func (a *Allocation) Size() uint64 {
	return a.size
}

func (a *Allocation) Free() {
	if a == nil || a.size == 0 {
		return
	}
	if a.freed.CompareAndSwap(false, true) {
		a.device.free(a.size)
	}
}
