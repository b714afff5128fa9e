package jobqueue

import (
	"time"

	"github.com/ManuelReschke/BundleFox/internal/pkg/env"
)

// Config tunes delivery of queued jobs.
type Config struct {
	Workers           int
	VisibilityTimeout time.Duration
	BatchSize         int
	MaxReads          int
	PollInterval      time.Duration
	// ArchiveLimit caps the archive list per queue.
	ArchiveLimit int64
}

func DefaultConfig() Config {
	return Config{
		Workers:           5,
		VisibilityTimeout: 60 * time.Second,
		BatchSize:         950,
		MaxReads:          5,
		PollInterval:      time.Second,
		ArchiveLimit:      10000,
	}
}

// LoadConfig reads the JOB_QUEUE_* and QUEUE_* settings.
func LoadConfig() Config {
	d := DefaultConfig()
	return Config{
		Workers:           env.GetEnvInt("JOB_QUEUE_WORKERS", d.Workers),
		VisibilityTimeout: env.GetEnvDuration("QUEUE_VISIBILITY_TIMEOUT", d.VisibilityTimeout),
		BatchSize:         env.GetEnvInt("QUEUE_BATCH_SIZE", d.BatchSize),
		MaxReads:          env.GetEnvInt("QUEUE_MAX_READS", d.MaxReads),
		PollInterval:      env.GetEnvDuration("QUEUE_POLL_INTERVAL", d.PollInterval),
		ArchiveLimit:      int64(env.GetEnvInt("QUEUE_ARCHIVE_LIMIT", int(d.ArchiveLimit))),
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = d.VisibilityTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxReads <= 0 {
		c.MaxReads = d.MaxReads
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ArchiveLimit <= 0 {
		c.ArchiveLimit = d.ArchiveLimit
	}
	return c
}
