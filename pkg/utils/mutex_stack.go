//go:build mutexdebug

package utils

import (
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"sync"
	"time"
)

var goroutineRe = regexp.MustCompile(`^goroutine (\d+)`)

type mutexHolder struct {
	stack   string
	readers int
	writer  bool
}

// A mutex that tracks the stack of each holder.
type stackMutex struct {
	mu      sync.RWMutex
	infoMu  sync.Mutex
	holders map[int]*mutexHolder
	timeout time.Duration
}

func NewRWMutex() RWMutex {
	return newStackMutex(30 * time.Second)
}

func newStackMutex(timeout time.Duration) *stackMutex {
	return &stackMutex{
		holders: map[int]*mutexHolder{},
		timeout: timeout,
	}
}

func currentStack() string {
	buf := make([]byte, 0x10000)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// The first line of a stack trace has the form "goroutine 1 [running]:".
func goroutineID(stack string) int {
	match := goroutineRe.FindStringSubmatch(stack)
	if len(match) > 1 {
		id, _ := strconv.Atoi(match[1])
		return id
	}
	panic("could not find goroutine ID")
}

func (m *stackMutex) dump(waiter int) {
	m.infoMu.Lock()
	defer m.infoMu.Unlock()

	fmt.Fprintln(os.Stderr, "=====================================================================")
	fmt.Fprintln(os.Stderr, "Mutex waiter:", waiter)
	for id, holder := range m.holders {
		fmt.Fprintf(os.Stderr, "=== holder %d (writer=%v, readers=%d)\n", id, holder.writer, holder.readers)
		fmt.Fprintln(os.Stderr, holder.stack)
	}
	fmt.Fprintln(os.Stderr, "=====================================================================")
}

func (m *stackMutex) acquire(write bool, lock func()) {
	stack := currentStack()
	id := goroutineID(stack)

	m.infoMu.Lock()
	if holder, ok := m.holders[id]; ok {
		if write || holder.writer {
			m.infoMu.Unlock()
			m.dump(id)
			panic("attempted to lock a mutex that is already locked")
		}
		holder.readers++
		m.infoMu.Unlock()
		return
	}
	m.infoMu.Unlock()

	locked := make(chan struct{})
	go func() {
		lock()
		close(locked)
	}()

	select {
	case <-locked:
	case <-time.After(m.timeout):
		m.dump(id)
		panic("deadlock timeout")
	}

	m.infoMu.Lock()
	holder := &mutexHolder{stack: stack, writer: write}
	if !write {
		holder.readers = 1
	}
	m.holders[id] = holder
	m.infoMu.Unlock()
}

func (m *stackMutex) Lock() {
	m.acquire(true, m.mu.Lock)
}

func (m *stackMutex) RLock() {
	m.acquire(false, m.mu.RLock)
}

func (m *stackMutex) Unlock() {
	id := goroutineID(currentStack())
	m.infoMu.Lock()
	delete(m.holders, id)
	m.infoMu.Unlock()
	m.mu.Unlock()
}

func (m *stackMutex) RUnlock() {
	id := goroutineID(currentStack())
	m.infoMu.Lock()
	if holder, ok := m.holders[id]; ok && holder.readers > 1 {
		holder.readers--
		m.infoMu.Unlock()
		return
	}
	delete(m.holders, id)
	m.infoMu.Unlock()
	m.mu.RUnlock()
}

func (m *stackMutex) TryLock() bool {
	stack := currentStack()
	id := goroutineID(stack)

	if !m.mu.TryLock() {
		return false
	}

	m.infoMu.Lock()
	m.holders[id] = &mutexHolder{stack: stack, writer: true}
	m.infoMu.Unlock()
	return true
}
