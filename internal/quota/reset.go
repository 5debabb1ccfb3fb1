package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/internal/cron"
	"github.com/parleyhq/parley/internal/store"
)

// ResetJob zeroes every user's daily count at the scheduled time. The
// lazy rollover in Guard covers missed runs; the job keeps the stored
// rows fresh so admin queries see accurate counts.
type ResetJob struct {
	Store        store.QuotaStore
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "0 0 * * *"
}

// Compile-time interface check.
var _ cron.Job = (*ResetJob)(nil)

// Name implements cron.Job.
func (j *ResetJob) Name() string {
	return "quota_reset"
}

// Schedule implements cron.Job.
func (j *ResetJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 0 * * *"
}

// Run resets all daily counts to zero for the current date.
func (j *ResetJob) Run(ctx context.Context) error {
	date := time.Now().Format(DateLayout)
	if err := j.Store.ResetAllQuotas(ctx, date); err != nil {
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("cron: daily quotas reset", "date", date)
	}
	return nil
}
