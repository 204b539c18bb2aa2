package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/srand/jolt/taskflow/pkg/cache"
	"github.com/srand/jolt/taskflow/pkg/device"
	"github.com/srand/jolt/taskflow/pkg/executor"
	"github.com/srand/jolt/taskflow/pkg/kernel"
	"github.com/srand/jolt/taskflow/pkg/log"
	"github.com/srand/jolt/taskflow/pkg/utils"
	"golang.org/x/sync/errgroup"
)

const rowBytes = 8

// Keeps every other row of its inputs.
func newFilterKernel() *kernel.Func {
	return kernel.NewFunc("filter", func(ctx context.Context, inputs []cache.CacheData, output *cache.CacheMachine, stream *device.Stream, processName string) executor.Result {
		batch, err := kernel.Materialize(stream, inputs)
		if err != nil {
			return executor.ResultFromError(err)
		}
		defer batch.Release()

		// Selection mask.
		mask, err := stream.Allocate(uint64(batch.Rows()))
		if err != nil {
			return executor.ResultFromError(err)
		}
		defer mask.Free()

		var data []byte
		for _, table := range batch.Tables {
			for row := 0; row+rowBytes <= len(table.Data); row += 2 * rowBytes {
				data = append(data, table.Data[row:row+rowBytes]...)
			}
		}

		if err := output.AddToCache(cache.NewTable(processName, len(data)/rowBytes, data)); err != nil {
			return executor.Fatal(err)
		}

		for _, input := range inputs {
			input.Release()
		}
		return executor.Ok()
	},
		kernel.WithOutputEstimate(kernel.Scaled(0.5)),
		kernel.WithOperatingEstimate(func(inputs []cache.CacheData) uint64 {
			return kernel.TotalBytes(inputs) / rowBytes
		}),
	)
}

// Sums the rows of its inputs into a single row.
func newAggregateKernel() *kernel.Func {
	return kernel.NewFunc("aggregate", func(ctx context.Context, inputs []cache.CacheData, output *cache.CacheMachine, stream *device.Stream, processName string) executor.Result {
		batch, err := kernel.Materialize(stream, inputs)
		if err != nil {
			return executor.ResultFromError(err)
		}
		defer batch.Release()

		var sum uint64
		for _, table := range batch.Tables {
			for row := 0; row+rowBytes <= len(table.Data); row += rowBytes {
				sum += binary.LittleEndian.Uint64(table.Data[row:])
			}
		}

		data := binary.LittleEndian.AppendUint64(nil, sum)
		if err := output.AddToCache(cache.NewTable(processName, 1, data)); err != nil {
			return executor.Fatal(err)
		}

		for _, input := range inputs {
			input.Release()
		}
		return executor.Ok()
	}, kernel.WithOutputEstimate(func([]cache.CacheData) uint64 {
		return rowBytes
	}))
}

// Produce batches of consecutive integers.
func produce(ctx context.Context, config *Config, output *cache.CacheMachine) error {
	defer output.Finish()

	rows := int(config.BatchSize) / rowBytes
	next := uint64(0)

	for i := 0; i < config.Batches; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		data := make([]byte, 0, rows*rowBytes)
		for row := 0; row < rows; row++ {
			data = binary.LittleEndian.AppendUint64(data, next)
			next++
		}

		if err := output.AddToCache(cache.NewTable(fmt.Sprintf("batch-%d", i), rows, data)); err != nil {
			return err
		}
	}

	return nil
}

// Run source -> filter -> aggregate -> sink on the executor.
func runPipeline(ctx context.Context, config *Config, e *executor.Executor, cacheConfig cache.CacheMachineConfig) error {
	// Source batches are produced into host memory so that they only
	// occupy the device while being processed.
	sourceConfig := cacheConfig
	sourceConfig.Device = nil

	source := cache.NewCacheMachine("source", sourceConfig)
	filtered := cache.NewCacheMachine("filtered", cacheConfig)
	aggregated := cache.NewCacheMachine("aggregated", cacheConfig)

	filter := newFilterKernel()
	aggregate := newAggregateKernel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return produce(gctx, config, source)
	})
	g.Go(func() error {
		return kernel.RunStage(gctx, e, filter, source, filtered, config.TaskInputs)
	})
	g.Go(func() error {
		return kernel.RunStage(gctx, e, aggregate, filtered, aggregated, config.TaskInputs)
	})

	var total uint64
	g.Go(func() error {
		for {
			data, err := aggregated.PullCacheData(gctx)
			if errors.Is(err, utils.ErrClosed) {
				return nil
			}
			if err != nil {
				return err
			}

			table, err := data.Decache()
			data.Release()
			if err != nil {
				return err
			}
			total += binary.LittleEndian.Uint64(table.Data)
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}

	for _, machine := range []*cache.CacheMachine{source, filtered, aggregated} {
		stats := machine.Stats()
		log.Infof("Cache %s: %d batches, %d on device, %d in host memory, %d spilled",
			machine.Name(), stats.Added, stats.GPU, stats.CPU, stats.Spilled)
	}
	log.Infof("Sum of selected rows: %d", total)
	return nil
}
