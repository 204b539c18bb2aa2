package utils

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDequeFrontIsFifo(t *testing.T) {
	q := NewDeque[int]()
	for i := 0; i < 100; i++ {
		require.NoError(t, q.PushBack(i))
	}

	for i := 0; i < 100; i++ {
		item, err := q.PopFrontOrWait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, item)
	}

	_, ok := q.PopFront()
	assert.False(t, ok)
}

func TestDequeBackIsMostRecent(t *testing.T) {
	q := NewDeque[string]()
	q.PushBack("a")
	q.PushBack("b")
	q.PushBack("c")

	item, ok := q.PopBack()
	assert.True(t, ok)
	assert.Equal(t, "c", item)

	item, ok = q.PopFront()
	assert.True(t, ok)
	assert.Equal(t, "a", item)

	item, ok = q.PopBack()
	assert.True(t, ok)
	assert.Equal(t, "b", item)
	assert.Equal(t, 0, q.Len())
}

func TestDequePopBackEmpty(t *testing.T) {
	q := NewDeque[int]()
	_, ok := q.PopBack()
	assert.False(t, ok)
}

func TestDequeWaitWakesOnPush(t *testing.T) {
	q := NewDeque[int]()
	result := make(chan int)

	go func() {
		item, err := q.PopFrontOrWait(context.Background())
		assert.NoError(t, err)
		result <- item
	}()

	time.Sleep(10 * time.Millisecond)
	q.PushBack(7)

	select {
	case item := <-result:
		assert.Equal(t, 7, item)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer was not woken")
	}
}

func TestDequeWaitCancelled(t *testing.T) {
	q := NewDeque[int]()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := q.PopFrontOrWait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDequeClose(t *testing.T) {
	q := NewDeque[int]()
	q.PushBack(1)
	q.Close()

	assert.ErrorIs(t, q.PushBack(2), ErrClosed)

	item, err := q.PopBackOrWait(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, item)

	_, err = q.PopFrontOrWait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDequeConcurrentProducersConsumers(t *testing.T) {
	q := NewDeque[int]()
	producers, perProducer := 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.PushBack(base*perProducer + i)
			}
		}(p)
	}

	seen := make(chan int, producers*perProducer)
	var consumers sync.WaitGroup
	for c := 0; c < 4; c++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				item, err := q.PopFrontOrWait(context.Background())
				if err != nil {
					return
				}
				seen <- item
			}
		}()
	}

	wg.Wait()
	assert.Eventually(t, func() bool { return q.Len() == 0 }, 5*time.Second, time.Millisecond)
	q.Close()
	consumers.Wait()
	close(seen)

	unique := map[int]struct{}{}
	for item := range seen {
		unique[item] = struct{}{}
	}
	assert.Len(t, unique, producers*perProducer)
}

func TestDequeEach(t *testing.T) {
	q := NewDeque[int]()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.PushBack(i))
	}

	var seen []int
	q.Each(func(item int) bool {
		seen = append(seen, item)
		return item < 2
	})
	assert.Equal(t, []int{0, 1, 2}, seen)
	assert.Equal(t, 5, q.Len())
}
