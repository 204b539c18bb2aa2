package main

import (
	"errors"

	"github.com/spf13/viper"
	"github.com/srand/jolt/taskflow/pkg/executor"
	"github.com/srand/jolt/taskflow/pkg/log"
	"github.com/srand/jolt/taskflow/pkg/utils"
)

type Config struct {
	executor.Config `mapstructure:",squash"`

	// Memory budget of the simulated device.
	MemoryLimit utils.ByteSize `mapstructure:"memory_limit"`
	// Percentage of physical memory batches may occupy before spilling to disk.
	HostMemoryPercent int `mapstructure:"host_memory_percent"`
	// Directory for spilled batches.
	SpillDir string `mapstructure:"spill_dir"`
	// Addresses to listen on for HTTP.
	ListenHttp []string `mapstructure:"listen_http"`

	// Number of batches produced by the synthetic source.
	Batches int `mapstructure:"batches"`
	// Size of each produced batch.
	BatchSize utils.ByteSize `mapstructure:"batch_size"`
	// Number of input batches per task.
	TaskInputs int `mapstructure:"task_inputs"`
}

func setConfigDefaults() {
	defaults := executor.DefaultConfig()
	viper.SetDefault("threads", defaults.Threads)
	viper.SetDefault("attempts_limit", defaults.AttemptsLimit)
	viper.SetDefault("event_buffer", defaults.EventBuffer)
	viper.SetDefault("memory_limit", "256MiB")
	viper.SetDefault("host_memory_percent", 50)
	viper.SetDefault("spill_dir", "/tmp/taskflow")
	viper.SetDefault("listen_http", []string{})
	viper.SetDefault("batches", 64)
	viper.SetDefault("batch_size", "4MiB")
	viper.SetDefault("task_inputs", 4)
}

func LoadConfig() (*Config, error) {
	config := &Config{}

	if err := utils.UnmarshalConfig(viper.GetViper(), config); err != nil {
		return nil, err
	}

	config.Config.SetDefaults()
	return config, nil
}

// Checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.MemoryLimit == 0 {
		return errors.New("The device memory limit must be greater than zero")
	}
	if c.HostMemoryPercent < 0 || c.HostMemoryPercent > 100 {
		return errors.New("The host memory percentage must be between 0 and 100")
	}
	if c.Batches < 0 {
		return errors.New("The batch count must not be negative")
	}
	if c.TaskInputs <= 0 {
		return errors.New("The number of task inputs must be greater than zero")
	}
	for _, uri := range c.ListenHttp {
		if _, err := utils.ParseHttpUrl(uri); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Log() {
	c.Config.Log()
	log.Info("Pipeline configuration:")
	log.Infof("  memory_limit = %s", c.MemoryLimit)
	log.Infof("  host_memory_percent = %d", c.HostMemoryPercent)
	log.Infof("  spill_dir = %s", c.SpillDir)
	log.Infof("  listen_http = %v", c.ListenHttp)
	log.Infof("  batches = %d", c.Batches)
	log.Infof("  batch_size = %s", c.BatchSize)
	log.Infof("  task_inputs = %d", c.TaskInputs)
}
