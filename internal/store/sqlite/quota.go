package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/parleyhq/parley/internal/store"
)

// Quota implements store.QuotaStore.
func (s *Store) Quota(ctx context.Context, userID string) (store.QuotaState, bool, error) {
	q := store.QuotaState{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		SELECT daily_message_count, last_message_date
		FROM quotas
		WHERE user_id = ?`,
		userID,
	).Scan(&q.DailyCount, &q.LastDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.QuotaState{UserID: userID}, false, nil
		}
		return store.QuotaState{}, false, fmt.Errorf("sqlite: quota: %w", err)
	}
	return q, true, nil
}

// SetQuota implements store.QuotaStore.
func (s *Store) SetQuota(ctx context.Context, q store.QuotaState) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO quotas (user_id, daily_message_count, last_message_date)
		VALUES (?, ?, ?)`,
		q.UserID, q.DailyCount, q.LastDate,
	); err != nil {
		return fmt.Errorf("sqlite: set quota: %w", err)
	}
	return nil
}

// ResetAllQuotas implements store.QuotaStore.
func (s *Store) ResetAllQuotas(ctx context.Context, date string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE quotas SET daily_message_count = 0, last_message_date = ?`,
		date,
	); err != nil {
		return fmt.Errorf("sqlite: reset quotas: %w", err)
	}
	return nil
}
