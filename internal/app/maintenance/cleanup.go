// Package maintenance runs scheduled housekeeping for the notifications service.
package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/studyhub/internal/monitoring"
	"github.com/charlesng35/studyhub/pkg/logger"
)

// JobNotificationRetention is the job name reported to monitoring.
const JobNotificationRetention = "notification_retention"

const (
	defaultRetention = 30 * 24 * time.Hour
	defaultSchedule  = "@daily"
	defaultTimeout   = time.Minute
)

// Purger deletes read notifications older than a cutoff.
type Purger interface {
	PurgeRead(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cleaner purges read notifications past their retention on a cron schedule.
// Unread notifications are never purged.
type Cleaner struct {
	store     Purger
	jobs      *monitoring.Jobs
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention time.Duration
	schedule  string
	timeout   time.Duration
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used to compute the retention cutoff.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithRetention sets how long read notifications are kept.
func WithRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.retention = d
		}
	}
}

// WithSchedule overrides the cron specification of the retention job.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// WithJobs reports every run to the monitoring job registry.
func WithJobs(jobs *monitoring.Jobs) Option {
	return func(cleaner *Cleaner) {
		cleaner.jobs = jobs
	}
}

// NewCleaner constructs a Cleaner with a 30 day retention run daily.
func NewCleaner(store Purger, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		store:     store,
		now:       time.Now,
		retention: defaultRetention,
		schedule:  defaultSchedule,
		timeout:   defaultTimeout,
		log:       logger.WithModule("maintenance"),
	}
	for _, opt := range opts {
		opt(cleaner)
	}
	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

// Start registers the retention job with the scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.store == nil {
		return errors.New("maintenance: notification store is required")
	}
	if c.jobs != nil {
		c.jobs.Register(JobNotificationRetention)
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.RunOnce(ctx); err != nil {
			c.log.Warn("notification retention failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	c.cron.Start()
	c.log.Info("maintenance scheduled",
		zap.String("job", JobNotificationRetention),
		zap.String("schedule", c.schedule),
		zap.Duration("retention", c.retention))
	return nil
}

// Stop halts the scheduler. The returned context is done once running jobs finish.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce purges read notifications last touched before now minus the retention.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.store == nil {
		return errors.New("maintenance: notification store is required")
	}

	start := time.Now()
	cutoff := c.now().Add(-c.retention)

	var errs error
	purged, err := c.store.PurgeRead(ctx, cutoff)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	if ctx.Err() != nil {
		errs = multierr.Append(errs, ctx.Err())
	}

	if c.jobs != nil {
		c.jobs.RecordRun(JobNotificationRetention, errs, time.Since(start))
	}
	if errs == nil {
		c.log.Debug("read notifications purged", zap.Int64("count", purged), zap.Time("cutoff", cutoff))
	}
	return errs
}
