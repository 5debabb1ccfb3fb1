package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/provider"
)

// Mem is a thread-safe, in-memory implementation of Store.
type Mem struct {
	mu     sync.RWMutex
	nextID int64
	msgs   []Message
	quotas map[string]QuotaState
}

// NewMem creates a new empty in-memory store.
func NewMem() *Mem {
	return &Mem{quotas: make(map[string]QuotaState)}
}

// Compile-time interface check.
var _ Store = (*Mem)(nil)

// EnsureConversation implements MessageStore.
func (m *Mem) EnsureConversation(_ context.Context, userID, prompt string, tokens int) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.msgs {
		if msg.UserID == userID && msg.Role == provider.MessageRoleSystem && !msg.IsSummary {
			return msg, nil
		}
	}

	return m.append(Message{
		UserID:         userID,
		ConversationID: NewConversationID(),
		Role:           provider.MessageRoleSystem,
		Content:        prompt,
		Tokens:         tokens,
	}), nil
}

// Append implements MessageStore.
func (m *Mem) Append(_ context.Context, msg Message) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.append(msg), nil
}

// append assigns ID and timestamp. Caller holds the lock.
func (m *Mem) append(msg Message) Message {
	m.nextID++
	msg.ID = m.nextID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	m.msgs = append(m.msgs, msg)
	return msg
}

// History implements MessageStore.
func (m *Mem) History(_ context.Context, userID, conversationID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Message
	for _, msg := range m.msgs {
		if msg.UserID == userID && msg.ConversationID == conversationID {
			result = append(result, msg)
		}
	}
	// Insertion order is chronological; reverse for most-recent-first.
	slices.Reverse(result)
	return result, nil
}

// CountPairMessages implements MessageStore.
func (m *Mem) CountPairMessages(_ context.Context, userID, conversationID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, msg := range m.msgs {
		if msg.UserID != userID || msg.ConversationID != conversationID || msg.IsSummary {
			continue
		}
		if msg.Role == provider.MessageRoleUser || msg.Role == provider.MessageRoleAssistant {
			count++
		}
	}
	return count, nil
}

// DeleteMessages implements MessageStore.
func (m *Mem) DeleteMessages(_ context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	m.msgs = slices.DeleteFunc(m.msgs, func(msg Message) bool {
		return drop[msg.ID]
	})
	return nil
}

// Quota implements QuotaStore.
func (m *Mem) Quota(_ context.Context, userID string) (QuotaState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotas[userID]
	return q, ok, nil
}

// SetQuota implements QuotaStore.
func (m *Mem) SetQuota(_ context.Context, q QuotaState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotas[q.UserID] = q
	return nil
}

// ResetAllQuotas implements QuotaStore.
func (m *Mem) ResetAllQuotas(_ context.Context, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, q := range m.quotas {
		q.DailyCount = 0
		q.LastDate = date
		m.quotas[id] = q
	}
	return nil
}
