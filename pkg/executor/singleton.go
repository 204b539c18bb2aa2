package executor

import (
	"sync"

	"github.com/srand/jolt/taskflow/pkg/device"
	"github.com/srand/jolt/taskflow/pkg/utils"
)

var (
	instanceMu sync.Mutex
	instance   *Executor
)

// Create the process wide executor.
// Returns the existing instance if one has already been created.
func Init(config Config, factory device.StreamFactory, memory device.MemoryResource) (*Executor, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		return instance, nil
	}

	e, err := New(config, factory, memory)
	if err != nil {
		return nil, err
	}

	instance = e
	return instance, nil
}

// Returns the process wide executor, or utils.ErrNotInitialized
// if Init has not been called.
func Instance() (*Executor, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance == nil {
		return nil, utils.ErrNotInitialized
	}
	return instance, nil
}

// Close and forget the process wide executor.
func Shutdown() {
	instanceMu.Lock()
	e := instance
	instance = nil
	instanceMu.Unlock()

	if e != nil {
		e.Close()
	}
}
