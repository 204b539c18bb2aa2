//go:build !linux

package device

import (
	"fmt"
	"runtime"

	"github.com/srand/jolt/taskflow/pkg/utils"
)

func hostMemory() (total, free uint64, err error) {
	return 0, 0, fmt.Errorf("host memory on %s: %w", runtime.GOOS, utils.ErrNotFound)
}
