package device

// Reports the memory budget of a device and how much of it is in use.
//
// Implementations must be safe for concurrent use and must report
// MemoryUsed() <= MemoryLimit().
type MemoryResource interface {
	MemoryLimit() uint64
	MemoryUsed() uint64
}

// Returns the number of bytes that can still be allocated from the resource.
func MemoryAvailable(mr MemoryResource) uint64 {
	limit, used := mr.MemoryLimit(), mr.MemoryUsed()
	if used >= limit {
		return 0
	}
	return limit - used
}
