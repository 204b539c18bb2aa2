package device

import "fmt"

// A fixed set of streams, one per worker slot.
//
// Streams are created once, when the pool is created, and destroyed
// together when the pool is closed. Slot i must only be used by worker i.
type StreamPool struct {
	streams []*Stream
}

func NewStreamPool(factory StreamFactory, size int) (*StreamPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("stream pool size must be positive, got %d", size)
	}

	pool := &StreamPool{streams: make([]*Stream, 0, size)}
	for i := 0; i < size; i++ {
		stream, err := factory.NewStream()
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("create stream %d: %w", i, err)
		}
		pool.streams = append(pool.streams, stream)
	}
	return pool, nil
}

// Returns the stream bound to the given worker slot.
func (p *StreamPool) Get(slot int) *Stream {
	return p.streams[slot]
}

func (p *StreamPool) Len() int {
	return len(p.streams)
}

// Synchronize and destroy all streams.
func (p *StreamPool) Close() {
	for _, stream := range p.streams {
		stream.Destroy()
	}
}
