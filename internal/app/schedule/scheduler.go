package schedule

import (
	"context"
	"time"
)

// Job is one run of a periodic task.
type Job func(ctx context.Context) error

// Scheduler runs named jobs on a fixed interval. Runs of the same job never overlap.
type Scheduler interface {
	Every(name string, interval time.Duration, job Job) error
}
