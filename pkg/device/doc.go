// Package device models the GPU resources used by the executor:
// the device memory tracker, execution streams, and a fixed pool of
// streams indexed by worker slot.
//
// The module carries no CUDA bindings. Device is a software model that
// accounts allocations against a hard limit and reports allocation
// failures with utils.ErrOutOfMemory, which is what kernels observe
// from a real device allocator under memory pressure.
package device
