// Package quota enforces the per-user daily message cap with lazy date
// rollover and a scheduled midnight reset job.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/internal/store"
)

// ErrDailyLimit indicates the user has exhausted today's message quota.
var ErrDailyLimit = errors.New("quota: daily message limit reached")

// DateLayout is the calendar-day format stored in quota rows.
const DateLayout = "2006-01-02"

// Config holds quota tuning knobs.
type Config struct {
	// DailyLimit is the free-tier message cap per calendar day.
	DailyLimit int `yaml:"daily_limit"`

	// ResetSchedule is the cron expression for the nightly counter reset.
	ResetSchedule string `yaml:"reset_schedule"`
}

// Defaults sets default values for unset fields.
func (c *Config) Defaults() {
	if c.DailyLimit == 0 {
		c.DailyLimit = 50
	}
	if c.ResetSchedule == "" {
		c.ResetSchedule = "0 0 * * *"
	}
}

// Validate returns an error if the configuration is malformed.
func (c *Config) Validate() error {
	if c.DailyLimit < 0 {
		return fmt.Errorf("quota: daily_limit must be non-negative, got %d", c.DailyLimit)
	}
	return nil
}

// GuardOption configures optional Guard behavior.
type GuardOption func(*Guard)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// Guard enforces the daily cap. Counts roll over lazily on the first
// check of a new calendar day, so a stale row never blocks a user even
// if the scheduled reset missed (process down at midnight).
type Guard struct {
	store  store.QuotaStore
	limit  int
	logger *slog.Logger
	now    func() time.Time
	locks  *keyedMutex
}

// NewGuard creates a Guard over the given quota store.
func NewGuard(s store.QuotaStore, cfg Config, logger *slog.Logger, opts ...GuardOption) *Guard {
	cfg.Defaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	g := &Guard{
		store:  s,
		limit:  cfg.DailyLimit,
		logger: logger,
		now:    time.Now,
		locks:  newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check verifies the user may send a message today. Exempt users (those
// supplying their own API key) skip the cap but still get their row
// rolled over so their counts stay meaningful.
func (g *Guard) Check(ctx context.Context, userID string, exempt bool) error {
	unlock := g.locks.lock(userID)
	defer unlock()

	q, err := g.rollover(ctx, userID)
	if err != nil {
		return err
	}
	if exempt {
		return nil
	}
	if q.DailyCount >= g.limit {
		return fmt.Errorf("%w: %d/%d", ErrDailyLimit, q.DailyCount, g.limit)
	}
	return nil
}

// RecordSuccess increments the user's daily count. Call it only after the
// assistant reply has been durably persisted; failed turns never consume
// quota.
func (g *Guard) RecordSuccess(ctx context.Context, userID string) error {
	unlock := g.locks.lock(userID)
	defer unlock()

	q, err := g.rollover(ctx, userID)
	if err != nil {
		return err
	}
	q.DailyCount++
	return g.store.SetQuota(ctx, q)
}

// rollover loads the user's quota row, resetting the count when the
// stored date is not today. Absent rows materialise with a zero count.
// Callers must hold the user's lock.
func (g *Guard) rollover(ctx context.Context, userID string) (store.QuotaState, error) {
	today := g.now().Format(DateLayout)

	q, ok, err := g.store.Quota(ctx, userID)
	if err != nil {
		return store.QuotaState{}, err
	}
	if !ok {
		q = store.QuotaState{UserID: userID, LastDate: today}
		if err := g.store.SetQuota(ctx, q); err != nil {
			return store.QuotaState{}, err
		}
		return q, nil
	}

	if q.LastDate != today {
		g.logger.Debug("quota rolled over", "user", userID, "from", q.LastDate, "to", today)
		q.DailyCount = 0
		q.LastDate = today
		if err := g.store.SetQuota(ctx, q); err != nil {
			return store.QuotaState{}, err
		}
	}

	return q, nil
}
