package device

import (
	"fmt"

	"github.com/srand/jolt/taskflow/pkg/log"
)

// Tracks host (system) memory.
//
// The limit is a fraction of the physical memory reported by the
// operating system. Usage is sampled on every call.
type HostMemoryResource struct {
	total   uint64
	limit   uint64
	sampler func() (total, free uint64, err error)
}

// Create a host memory tracker whose limit is the given percentage
// of physical memory.
func NewHostMemoryResource(percent int) (*HostMemoryResource, error) {
	if percent <= 0 || percent > 100 {
		return nil, fmt.Errorf("host memory percentage must be in (0, 100], got %d", percent)
	}
	return newHostMemoryResource(percent, hostMemory)
}

func newHostMemoryResource(percent int, sampler func() (uint64, uint64, error)) (*HostMemoryResource, error) {
	total, _, err := sampler()
	if err != nil {
		return nil, fmt.Errorf("query host memory: %w", err)
	}
	return &HostMemoryResource{
		total:   total,
		limit:   total / 100 * uint64(percent),
		sampler: sampler,
	}, nil
}

func (h *HostMemoryResource) MemoryLimit() uint64 {
	return h.limit
}

func (h *HostMemoryResource) MemoryUsed() uint64 {
	total, free, err := h.sampler()
	if err != nil {
		log.Debug("Failed to sample host memory:", err)
		return h.limit
	}
	used := total - min(free, total)
	return min(used, h.limit)
}
