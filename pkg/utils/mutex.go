package utils

// Mutex used by the shared structures of this module.
//
// Builds with the mutexdebug tag replace the plain implementation with
// one that records the stack of every holder and panics with a dump of
// them when a lock cannot be acquired within a timeout.
type RWMutex interface {
	// Lock locks the mutex.
	Lock()

	// Unlock unlocks the mutex.
	Unlock()

	// RLock locks the mutex for reading.
	RLock()

	// RUnlock unlocks the mutex.
	RUnlock()

	// TryLock tries to lock the mutex.
	TryLock() bool
}
