package kernel

import (
	"fmt"

	"github.com/srand/jolt/taskflow/pkg/cache"
	"github.com/srand/jolt/taskflow/pkg/device"
)

// Inputs of a task brought into device memory.
type Batch struct {
	Tables      []*cache.Table
	allocations []*device.Allocation
}

// Decache inputs for processing on stream.
//
// Inputs that are not already resident on the device are allocated on
// the stream's device until the batch is released. Allocation failures
// wrap utils.ErrOutOfMemory and leave nothing allocated.
func Materialize(stream *device.Stream, inputs []cache.CacheData) (*Batch, error) {
	batch := &Batch{}

	for i, input := range inputs {
		if input.Type() != cache.GPU {
			allocation, err := stream.Allocate(input.SizeInBytes())
			if err != nil {
				batch.Release()
				return nil, fmt.Errorf("input %d (%s): %w", i, input.Type(), err)
			}
			batch.allocations = append(batch.allocations, allocation)
		}

		table, err := input.Decache()
		if err != nil {
			batch.Release()
			return nil, fmt.Errorf("input %d (%s): %w", i, input.Type(), err)
		}
		batch.Tables = append(batch.Tables, table)
	}

	return batch, nil
}

// Number of rows across all tables.
func (b *Batch) Rows() int {
	rows := 0
	for _, table := range b.Tables {
		rows += table.Rows
	}
	return rows
}

// Free the device memory held for the batch.
func (b *Batch) Release() {
	for _, allocation := range b.allocations {
		allocation.Free()
	}
	b.allocations = nil
}
