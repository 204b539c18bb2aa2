package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/spf13/afero"
	"github.com/srand/jolt/taskflow/pkg/device"
	"github.com/srand/jolt/taskflow/pkg/log"
	"github.com/srand/jolt/taskflow/pkg/utils"
)

type CacheMachineConfig struct {
	// Device holding GPU resident batches. When nil, no batch is
	// placed in device memory.
	Device *device.Device

	// Host memory tracker. When nil, host memory is considered unlimited
	// and batches that do not fit on the device are kept in host memory.
	Host device.MemoryResource

	// Filesystem and directory for spilled batches.
	// When Fs is nil, batches are never spilled.
	Fs       afero.Fs
	SpillDir string
}

type CacheMachineStats struct {
	Added   uint64
	Pulled  uint64
	GPU     uint64
	CPU     uint64
	Spilled uint64
}

// A thread-safe FIFO of batches flowing from one kernel to the next.
//
// Producers add batches until they call Finish. Consumers pull batches
// in insertion order and observe utils.ErrClosed once the machine is
// finished and drained.
type CacheMachine struct {
	name   string
	config CacheMachineConfig
	queue  *utils.Deque[CacheData]

	added   atomic.Uint64
	pulled  atomic.Uint64
	gpu     atomic.Uint64
	cpu     atomic.Uint64
	spilled atomic.Uint64
}

func NewCacheMachine(name string, config CacheMachineConfig) *CacheMachine {
	return &CacheMachine{
		name:   name,
		config: config,
		queue:  utils.NewDeque[CacheData](),
	}
}

func (c *CacheMachine) Name() string {
	return c.name
}

// Add a table, placing it in the fastest tier that can hold it:
// device memory, then host memory, then a spill file.
func (c *CacheMachine) AddToCache(table *Table) error {
	data, err := c.place(table)
	if err != nil {
		return err
	}
	return c.AddCacheData(data)
}

func (c *CacheMachine) place(table *Table) (CacheData, error) {
	size := table.SizeInBytes()

	if c.config.Device != nil {
		data, err := NewGPUCacheData(c.config.Device, table)
		if err == nil {
			c.gpu.Add(1)
			return data, nil
		}
		if !errors.Is(err, utils.ErrOutOfMemory) {
			return nil, err
		}
	}

	if c.config.Fs == nil || c.config.Host == nil || size < device.MemoryAvailable(c.config.Host) {
		c.cpu.Add(1)
		return NewCPUCacheData(table), nil
	}

	data, err := NewLocalFileCacheData(c.config.Fs, c.config.SpillDir, table)
	if err != nil {
		return nil, fmt.Errorf("cache %s: %w", c.name, err)
	}
	log.Debugf("Cache %s spilled %s (%d bytes) to %s", c.name, table.Name, size, data.Path())
	c.spilled.Add(1)
	return data, nil
}

// Add a batch as is, without changing its tier.
func (c *CacheMachine) AddCacheData(data CacheData) error {
	if err := c.queue.PushBack(data); err != nil {
		data.Release()
		return fmt.Errorf("cache %s: %w", c.name, err)
	}
	c.added.Add(1)
	return nil
}

// Wait for the next batch.
func (c *CacheMachine) PullCacheData(ctx context.Context) (CacheData, error) {
	data, err := c.queue.PopFrontOrWait(ctx)
	if err != nil {
		return nil, err
	}
	c.pulled.Add(1)
	return data, nil
}

// Take the next batch if one is available.
func (c *CacheMachine) TryPullCacheData() (CacheData, bool) {
	data, ok := c.queue.PopFront()
	if ok {
		c.pulled.Add(1)
	}
	return data, ok
}

// Signal that no more batches will be added.
func (c *CacheMachine) Finish() {
	c.queue.Close()
}

func (c *CacheMachine) IsFinished() bool {
	return c.queue.Closed()
}

// Number of batches waiting to be pulled.
func (c *CacheMachine) Len() int {
	return c.queue.Len()
}

func (c *CacheMachine) Stats() CacheMachineStats {
	return CacheMachineStats{
		Added:   c.added.Load(),
		Pulled:  c.pulled.Load(),
		GPU:     c.gpu.Load(),
		CPU:     c.cpu.Load(),
		Spilled: c.spilled.Load(),
	}
}
