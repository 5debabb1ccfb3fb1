package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/provider"
	"github.com/parleyhq/parley/internal/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// EnsureConversation implements store.MessageStore. The lookup and insert
// run in one transaction; with a single pooled connection this makes
// concurrent calls for the same user converge on a single anchor.
func (s *Store) EnsureConversation(ctx context.Context, userID, prompt string, tokens int) (store.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Message{}, fmt.Errorf("sqlite: begin ensure tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, user_id, conversation_id, role, content, tokens, is_summary, created_at
		FROM messages
		WHERE user_id = ? AND role = ? AND is_summary = 0
		ORDER BY created_at ASC, id ASC
		LIMIT 1`,
		userID, string(provider.MessageRoleSystem),
	)

	anchor, err := scanMessage(row)
	switch {
	case err == nil:
		return anchor, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return store.Message{}, err
	}

	anchor = store.Message{
		UserID:         userID,
		ConversationID: store.NewConversationID(),
		Role:           provider.MessageRoleSystem,
		Content:        prompt,
		Tokens:         tokens,
	}
	anchor, err = insertMessage(ctx, tx, anchor)
	if err != nil {
		return store.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return store.Message{}, fmt.Errorf("sqlite: commit ensure tx: %w", err)
	}

	s.logger.Info("conversation created",
		"user", userID,
		"conversation", anchor.ConversationID,
	)
	return anchor, nil
}

// Append implements store.MessageStore.
func (s *Store) Append(ctx context.Context, msg store.Message) (store.Message, error) {
	return insertMessage(ctx, s.db, msg)
}

// History implements store.MessageStore. Messages come back most recent
// first; IDs break ties between same-millisecond timestamps.
func (s *Store) History(ctx context.Context, userID, conversationID string) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, conversation_id, role, content, tokens, is_summary, created_at
		FROM messages
		WHERE user_id = ? AND conversation_id = ?
		ORDER BY created_at DESC, id DESC`,
		userID, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: history rows: %w", err)
	}

	return msgs, nil
}

// CountPairMessages implements store.MessageStore.
func (s *Store) CountPairMessages(ctx context.Context, userID, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE user_id = ? AND conversation_id = ?
		  AND role IN (?, ?) AND is_summary = 0`,
		userID, conversationID,
		string(provider.MessageRoleUser), string(provider.MessageRoleAssistant),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count pair messages: %w", err)
	}
	return count, nil
}

// DeleteMessages implements store.MessageStore.
func (s *Store) DeleteMessages(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE id IN ("+placeholders+")", args...,
	); err != nil {
		return fmt.Errorf("sqlite: delete messages: %w", err)
	}
	return nil
}

// execer abstracts *sql.DB and *sql.Tx for shared insert logic.
type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertMessage(ctx context.Context, db execer, msg store.Message) (store.Message, error) {
	isSummary := 0
	if msg.IsSummary {
		isSummary = 1
	}

	row := db.QueryRowContext(ctx, `
		INSERT INTO messages (user_id, conversation_id, role, content, tokens, is_summary)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id, created_at`,
		msg.UserID, msg.ConversationID, string(msg.Role), msg.Content, msg.Tokens, isSummary,
	)

	var createdAt string
	if err := row.Scan(&msg.ID, &createdAt); err != nil {
		return store.Message{}, fmt.Errorf("sqlite: append message: %w", err)
	}
	msg.CreatedAt = parseTime(createdAt)

	return msg, nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (store.Message, error) {
	var (
		msg       store.Message
		role      string
		isSummary int
		createdAt string
	)

	err := s.Scan(&msg.ID, &msg.UserID, &msg.ConversationID, &role, &msg.Content, &msg.Tokens, &isSummary, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return msg, err
		}
		return msg, fmt.Errorf("sqlite: scan message: %w", err)
	}

	msg.Role = provider.MessageRole(role)
	msg.IsSummary = isSummary != 0
	msg.CreatedAt = parseTime(createdAt)

	return msg, nil
}

// parseTime parses the strftime('%Y-%m-%dT%H:%M:%fZ') format used by the
// schema defaults. A zero time is returned for unparseable values rather
// than failing the whole scan.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
