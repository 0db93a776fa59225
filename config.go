package kue

import "time"

// Config holds queue-level configuration.
type Config struct {
	// PromoteInterval is how often the promoter sweeps the delayed set.
	PromoteInterval time.Duration

	// PromoteLimit bounds how many delayed entries one sweep inspects.
	PromoteLimit int

	// ShutdownTimeout is the maximum time to wait for in-flight handlers
	// during graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PromoteInterval: 5 * time.Second,
		PromoteLimit:    20,
		ShutdownTimeout: 30 * time.Second,
	}
}
