package scheduler

import (
	"fmt"
	"time"
)

// Config holds the configuration for the task scheduler.
type Config struct {
	// TaskTimeout is the maximum time a single task run is allowed.
	// The run's context is canceled when it is exceeded.
	// Default: 1 minute
	TaskTimeout time.Duration

	// ShutdownTimeout is how long Stop waits for running tasks to return.
	// Default: 10 seconds
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		TaskTimeout:     time.Minute,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("task timeout must be positive, got %v", c.TaskTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %v", c.ShutdownTimeout)
	}
	return nil
}
