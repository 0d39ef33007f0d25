package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/pms/pkg/observability"
)

// Purger removes audit events older than a cutoff
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob periodically purges audit events older than the retention
// window on a cron schedule
type RetentionJob struct {
	purger    Purger
	retention time.Duration
	schedule  string
	logger    *observability.Logger
	cron      *cron.Cron
	now       func() time.Time
}

// NewRetentionJob creates a retention job. schedule is a standard five field
// cron expression evaluated in UTC.
func NewRetentionJob(purger Purger, retention time.Duration, schedule string, logger *observability.Logger) (*RetentionJob, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive")
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	job := &RetentionJob{
		purger:    purger,
		retention: retention,
		schedule:  schedule,
		logger:    logger,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		now:       time.Now,
	}
	if _, err := job.cron.AddFunc(schedule, func() {
		if _, err := job.RunOnce(context.Background()); err != nil {
			job.logger.WithError(err).Error("Audit retention purge failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	return job, nil
}

// RunOnce purges expired events immediately
func (j *RetentionJob) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.retention)
	purged, err := j.purger.Purge(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	j.logger.WithFields(map[string]interface{}{
		"purged": purged,
		"cutoff": cutoff.Format(time.RFC3339),
	}).Info("Audit events purged")
	return purged, nil
}

// Start runs the schedule in the background
func (j *RetentionJob) Start() {
	j.cron.Start()
	j.logger.WithFields(map[string]interface{}{
		"schedule":  j.schedule,
		"retention": j.retention.String(),
	}).Info("Audit retention job started")
}

// Stop stops the schedule and waits for a running purge to finish or ctx to
// expire
func (j *RetentionJob) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
