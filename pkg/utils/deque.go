package utils

import (
	"container/list"
	"context"
	"sync"
)

// A blocking double-ended queue.
//
// Items are appended at the back. Consumers normally extract from the
// front, in insertion order, but may also take the most recently added
// item from the back. Both ends share a single lock so the two extraction
// paths never observe the same item.
type Deque[E any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  list.List
	closed bool
}

func NewDeque[E any]() *Deque[E] {
	q := &Deque[E]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Append an item to the back of the queue and wake one waiting consumer.
// Returns ErrClosed if the queue has been closed.
func (q *Deque[E]) PushBack(item E) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	q.items.PushBack(item)
	q.cond.Signal()
	return nil
}

// Remove and return the oldest item, if any.
func (q *Deque[E]) PopFront() (E, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popNoLock(q.items.Front())
}

// Remove and return the most recently added item, if any.
func (q *Deque[E]) PopBack() (E, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popNoLock(q.items.Back())
}

// Wait until an item is available and remove it from the front.
//
// Returns ctx.Err() if the context is cancelled while waiting, or
// ErrClosed once the queue is closed and drained.
func (q *Deque[E]) PopFrontOrWait(ctx context.Context) (E, error) {
	return q.popOrWait(ctx, (*list.List).Front)
}

// Wait until an item is available and remove it from the back.
func (q *Deque[E]) PopBackOrWait(ctx context.Context) (E, error) {
	return q.popOrWait(ctx, (*list.List).Back)
}

func (q *Deque[E]) popOrWait(ctx context.Context, end func(*list.List) *list.Element) (E, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 {
		var zero E

		if q.closed {
			return zero, ErrClosed
		}

		if err := ctx.Err(); err != nil {
			return zero, err
		}

		q.cond.Wait()
	}

	item, _ := q.popNoLock(end(&q.items))
	return item, nil
}

func (q *Deque[E]) popNoLock(elem *list.Element) (E, bool) {
	if elem == nil {
		var zero E
		return zero, false
	}
	q.items.Remove(elem)
	return elem.Value.(E), true
}

// Returns the number of queued items.
func (q *Deque[E]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Call fn for each queued item, front first, until it returns false.
// The queue is locked while fn runs, so no item can be removed
// concurrently. fn must not call back into the queue.
func (q *Deque[E]) Each(fn func(E) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for elem := q.items.Front(); elem != nil; elem = elem.Next() {
		if !fn(elem.Value.(E)) {
			return
		}
	}
}

// Close the queue. Further pushes fail, and waiting consumers return
// ErrClosed once the remaining items have been drained.
func (q *Deque[E]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Returns true if the queue has been closed.
func (q *Deque[E]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
