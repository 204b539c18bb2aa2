package utils

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/srand/jolt/taskflow/pkg/log"
)

type BroadcastConsumer[E any] struct {
	Chan      chan E
	ID        string
	Broadcast *Broadcast[E]
	dropped   atomic.Uint64
}

// Fan-out of events to any number of consumers.
//
// Sending never blocks: a consumer whose channel is full misses the
// event and its drop counter is incremented. Producers are typically
// worker goroutines on a hot path and must not stall on slow readers.
type Broadcast[E any] struct {
	mu        RWMutex
	capacity  int
	consumers map[string]*BroadcastConsumer[E]
}

func NewBroadcast[E any](capacity int) *Broadcast[E] {
	if capacity <= 0 {
		capacity = 100
	}
	return &Broadcast[E]{
		mu:        NewRWMutex(),
		capacity:  capacity,
		consumers: map[string]*BroadcastConsumer[E]{},
	}
}

func (bc *Broadcast[E]) NewConsumer() *BroadcastConsumer[E] {
	consumer := &BroadcastConsumer[E]{
		Chan:      make(chan E, bc.capacity),
		ID:        uuid.NewString(),
		Broadcast: bc,
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.consumers == nil {
		close(consumer.Chan)
		return consumer
	}
	bc.consumers[consumer.ID] = consumer
	return consumer
}

func (bc *Broadcast[E]) HasConsumer() bool {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return len(bc.consumers) > 0
}

// Close all consumer channels. Consumers created after Close
// receive an already closed channel.
func (bc *Broadcast[E]) Close() {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	for _, consumer := range bc.consumers {
		close(consumer.Chan)
	}

	bc.consumers = nil
}

func (bc *Broadcast[E]) Remove(bcc *BroadcastConsumer[E]) bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	_, ok := bc.consumers[bcc.ID]
	delete(bc.consumers, bcc.ID)
	return ok
}

func (bc *Broadcast[E]) Send(data E) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	for _, c := range bc.consumers {
		c.send(data)
	}
}

func (bcc *BroadcastConsumer[E]) Close() {
	if bcc.Broadcast.Remove(bcc) {
		close(bcc.Chan)
	}
}

// Number of events this consumer missed because its channel was full.
func (bcc *BroadcastConsumer[E]) Dropped() uint64 {
	return bcc.dropped.Load()
}

func (bcc *BroadcastConsumer[E]) send(data E) {
	select {
	case bcc.Chan <- data:
	default:
		if bcc.dropped.Add(1) == 1 {
			log.Debugf("Unable to send event to %s, channel full", bcc.ID)
		}
	}
}
