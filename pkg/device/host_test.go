package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostMemoryResource(t *testing.T) {
	free := uint64(600)
	sampler := func() (uint64, uint64, error) {
		return 1000, free, nil
	}

	host, err := newHostMemoryResource(50, sampler)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), host.MemoryLimit())
	assert.Equal(t, uint64(400), host.MemoryUsed())

	free = 100
	assert.Equal(t, uint64(500), host.MemoryUsed())
	assert.Equal(t, uint64(0), MemoryAvailable(host))
}

func TestHostMemoryResourceErrors(t *testing.T) {
	_, err := NewHostMemoryResource(0)
	assert.Error(t, err)

	_, err = newHostMemoryResource(50, func() (uint64, uint64, error) {
		return 0, 0, errors.New("unavailable")
	})
	assert.Error(t, err)
}
