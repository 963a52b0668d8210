package schedule

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	appschedule "venuebook/internal/app/schedule"
)

var ErrInvalidInterval = errors.New("schedule: interval must be positive")

// Runner runs periodic jobs on a local gocron scheduler. Each run gets a
// context bounded by the job interval and cancelled on Shutdown.
type Runner struct {
	sched  gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

func NewRunner(logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{sched: sched, ctx: ctx, cancel: cancel, logger: logger}, nil
}

// Every registers job. Overlapping runs are rescheduled instead of queued.
func (r *Runner) Every(name string, interval time.Duration, job appschedule.Job) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	j, err := r.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(r.run, name, interval, job),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}
	r.logger.Info("job scheduled", "job", name, "id", j.ID().String(), "interval", interval)
	return nil
}

func (r *Runner) run(name string, interval time.Duration, job appschedule.Job) {
	ctx, cancel := context.WithTimeout(r.ctx, interval)
	defer cancel()
	started := time.Now()
	if err := job(ctx); err != nil {
		r.logger.Error("job failed", "job", name, "error", err, "duration", time.Since(started))
		return
	}
	r.logger.Debug("job finished", "job", name, "duration", time.Since(started))
}

func (r *Runner) Jobs() []string {
	jobs := r.sched.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

func (r *Runner) Start() {
	r.sched.Start()
	r.logger.Info("scheduler started", "jobs", len(r.sched.Jobs()))
}

func (r *Runner) Shutdown() error {
	r.cancel()
	return r.sched.Shutdown()
}

var _ appschedule.Scheduler = (*Runner)(nil)
