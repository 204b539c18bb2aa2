package executor

import (
	"errors"
	"runtime"

	"github.com/srand/jolt/taskflow/pkg/log"
)

const (
	DefaultAttemptsLimit = 10
	DefaultEventBuffer   = 1000
)

type Config struct {
	// Number of workers, and of streams.
	Threads int `mapstructure:"threads"`

	// Number of attempts after which a task failing with transient
	// resource exhaustion is considered failed.
	AttemptsLimit int `mapstructure:"attempts_limit"`

	// Capacity of each event subscriber channel.
	EventBuffer int `mapstructure:"event_buffer"`

	// Called with every fatal task failure.
	// Defaults to logging the failure.
	OnFailure func(*TaskError) `mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		Threads:       runtime.NumCPU(),
		AttemptsLimit: DefaultAttemptsLimit,
		EventBuffer:   DefaultEventBuffer,
	}
}

// Fill in defaults for unset values.
func (c *Config) SetDefaults() {
	if c.Threads == 0 {
		c.Threads = runtime.NumCPU()
	}
	if c.AttemptsLimit == 0 {
		c.AttemptsLimit = DefaultAttemptsLimit
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = DefaultEventBuffer
	}
}

// Checks if the executor configuration is valid.
func (c *Config) Validate() error {
	if c.Threads <= 0 {
		return errors.New("The thread count must be greater than zero")
	}
	if c.AttemptsLimit <= 0 {
		return errors.New("The attempts limit must be greater than zero")
	}
	if c.EventBuffer < 0 {
		return errors.New("The event buffer size must not be negative")
	}
	return nil
}

func (c *Config) Log() {
	log.Info("Executor configuration:")
	log.Infof("  threads = %d", c.Threads)
	log.Infof("  attempts_limit = %d", c.AttemptsLimit)
	log.Infof("  event_buffer = %d", c.EventBuffer)
}
