package handoff

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds the tunables of the river-backed handoff queue.
type QueueConfig struct {
	// Worker Configuration
	MaxWorkers int `koanf:"max_workers"` // concurrent handoff writers (default: 5)

	// Retry Configuration
	MaxAttempts int           `koanf:"max_attempts"` // attempts per job before river discards it (default: 10)
	JobTimeout  time.Duration `koanf:"job_timeout"`  // bound on a single ticket write (default: 30 seconds)

	// Queue is the river queue tickets are inserted into.
	Queue string `koanf:"queue"`
}

// DefaultQueueConfig returns the default configuration.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxWorkers:  5,
		MaxAttempts: 10,
		JobTimeout:  30 * time.Second,
		Queue:       river.QueueDefault,
	}
}

func (c QueueConfig) withDefaults() QueueConfig {
	def := DefaultQueueConfig()
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = def.MaxWorkers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = def.JobTimeout
	}
	if c.Queue == "" {
		c.Queue = def.Queue
	}
	return c
}

// RiverQueueConfig converts the config to river's queue configuration format.
func (c QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	c = c.withDefaults()
	return map[string]river.QueueConfig{
		c.Queue: {MaxWorkers: c.MaxWorkers},
	}
}
