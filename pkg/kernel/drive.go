package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/srand/jolt/taskflow/pkg/cache"
	"github.com/srand/jolt/taskflow/pkg/executor"
	"github.com/srand/jolt/taskflow/pkg/log"
	"github.com/srand/jolt/taskflow/pkg/utils"
)

// Accepts new tasks. Implemented by *executor.Executor.
type Submitter interface {
	AddTask(inputs []cache.CacheData, output *cache.CacheMachine, kernel executor.Kernel, processName string) (uint64, error)
}

// A kernel that can wait for all of its tasks to complete.
type Drainable interface {
	executor.Kernel
	WaitForCompletion(ctx context.Context) error
}

// Submit one task per batchSize buffers pulled from input until input is
// finished and drained. Returns the number of submitted tasks.
func Drive(ctx context.Context, submitter Submitter, k executor.Kernel, input, output *cache.CacheMachine, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 1
	}

	logger := log.WithPrefix("%s", k.Name())
	tasks := 0
	batch := make([]cache.CacheData, 0, batchSize)

	submit := func() error {
		if len(batch) == 0 {
			return nil
		}
		id, err := submitter.AddTask(batch, output, k, "")
		if err != nil {
			for _, data := range batch {
				data.Release()
			}
			return fmt.Errorf("submit %s task: %w", k.Name(), err)
		}
		logger.Tracef("Submitted task %d with %d inputs", id, len(batch))
		tasks++
		batch = make([]cache.CacheData, 0, batchSize)
		return nil
	}

	for {
		data, err := input.PullCacheData(ctx)
		if errors.Is(err, utils.ErrClosed) {
			break
		}
		if err != nil {
			for _, data := range batch {
				data.Release()
			}
			return tasks, err
		}

		batch = append(batch, data)
		if len(batch) == batchSize {
			if err := submit(); err != nil {
				return tasks, err
			}
		}
	}

	if err := submit(); err != nil {
		return tasks, err
	}

	logger.Debugf("Submitted %d tasks from %s", tasks, input.Name())
	return tasks, nil
}

// Drive k over input, wait for its tasks to complete and finish output.
// Output is finished even on failure so that downstream stages terminate.
func RunStage(ctx context.Context, submitter Submitter, k Drainable, input, output *cache.CacheMachine, batchSize int) error {
	defer output.Finish()

	if _, err := Drive(ctx, submitter, k, input, output, batchSize); err != nil {
		return err
	}

	return k.WaitForCompletion(ctx)
}
