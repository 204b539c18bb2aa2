package main

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/srand/jolt/taskflow/pkg/cache"
	"github.com/srand/jolt/taskflow/pkg/device"
	"github.com/srand/jolt/taskflow/pkg/executor"
	"github.com/srand/jolt/taskflow/pkg/log"
	"github.com/srand/jolt/taskflow/pkg/utils"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a synthetic filter and aggregate pipeline on a simulated device",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := LoadConfig()
		if err != nil {
			log.Fatal(err)
		}

		if err := config.Validate(); err != nil {
			log.Fatal(err)
		}

		config.Log()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := run(ctx, config); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	runCmd.Flags().IntP("threads", "j", 0, "Number of workers")
	runCmd.Flags().String("memory-limit", "", "Device memory limit, e.g. 256MiB")
	runCmd.Flags().StringSliceP("listen-http", "l", nil, "Addresses to listen on for HTTP connections")
	runCmd.Flags().Int("batches", 0, "Number of batches to produce")
	runCmd.Flags().String("batch-size", "", "Size of each batch, e.g. 4MiB")

	bind := func(key, flag string) {
		viper.BindPFlag(key, runCmd.Flags().Lookup(flag))
	}
	bind("threads", "threads")
	bind("memory_limit", "memory-limit")
	bind("listen_http", "listen-http")
	bind("batches", "batches")
	bind("batch_size", "batch-size")

	rootCmd.AddCommand(runCmd)
}

func run(ctx context.Context, config *Config) error {
	dev := device.NewDevice(0, uint64(config.MemoryLimit))

	var host device.MemoryResource
	if config.HostMemoryPercent > 0 {
		hostMemory, err := device.NewHostMemoryResource(config.HostMemoryPercent)
		if err != nil {
			log.Warn("Host memory is not tracked:", err)
		} else {
			host = hostMemory
		}
	}

	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(config.SpillDir, 0o755); err != nil {
		return err
	}
	spillFs := afero.NewBasePathFs(osFs, config.SpillDir)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	config.OnFailure = func(err *executor.TaskError) {
		log.Error(err)
		log.DebugError(err)
		cancel(err)
	}

	e, err := executor.Init(config.Config, dev, dev)
	if err != nil {
		return err
	}
	defer executor.Shutdown()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.Execute(gctx)
	})

	for _, uri := range config.ListenHttp {
		addr, err := utils.ParseHttpUrl(uri)
		if err != nil {
			return err
		}

		r := echo.New()
		r.HideBanner = true
		r.HidePort = true
		r.Use(utils.HttpLogger)
		r.Add(echo.GET, "/debug/pprof/*", echo.WrapHandler(http.DefaultServeMux))
		executor.NewHttpHandler(e, r)

		server := &http.Server{Addr: addr, Handler: r}
		log.Info("Listening on http", addr)

		g.Go(func() error {
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return server.Shutdown(context.Background())
		})
	}

	g.Go(func() error {
		defer cancel(nil)
		return runPipeline(gctx, config, e, cache.CacheMachineConfig{
			Device:   dev,
			Host:     host,
			Fs:       spillFs,
			SpillDir: "/",
		})
	})

	err = g.Wait()
	if failure := e.Err(); failure != nil {
		return failure
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	stats := e.Stats()
	log.Infof("Completed %d of %d tasks, %d retried, peak device memory %s",
		stats.CompletedTasks, stats.SubmittedTasks, stats.RetriedTasks, utils.ByteSize(dev.PeakMemoryUsed()))
	return nil
}
