// Package cache holds batches of tabular data between kernels.
//
// A batch lives in one of several tiers: device memory, host memory,
// a compressed spill file on local storage, or a remote file that has
// not been read yet. Consumers see every tier through the CacheData
// interface and call Decache to bring the batch back into memory.
package cache

import "fmt"

type CacheDataType int

const (
	// Resident in device memory.
	GPU CacheDataType = iota
	// Resident in host memory.
	CPU
	// Spilled to a file on local storage.
	LocalFile
	// Backed by a remote or streamed file that has not been read.
	IOFile
)

func (t CacheDataType) String() string {
	switch t {
	case GPU:
		return "gpu"
	case CPU:
		return "cpu"
	case LocalFile:
		return "local_file"
	case IOFile:
		return "io_file"
	}
	return fmt.Sprintf("CacheDataType(%d)", int(t))
}

// An opaque batch of tabular data.
// The executor never looks inside a table; only kernels do.
type Table struct {
	Name string
	Rows int
	Data []byte
}

func NewTable(name string, rows int, data []byte) *Table {
	return &Table{Name: name, Rows: rows, Data: data}
}

func (t *Table) SizeInBytes() uint64 {
	return uint64(len(t.Data))
}

// A handle to a batch in one of the storage tiers.
type CacheData interface {
	// The tier the batch currently resides in.
	Type() CacheDataType

	// Size of the batch once materialized in memory.
	SizeInBytes() uint64

	// Materialize the batch in memory.
	Decache() (*Table, error)

	// Release the resources held by the batch, such as device
	// memory or spill files. The handle must not be used afterwards.
	Release()
}
