// Package store defines durable conversation and quota storage interfaces
// with an in-memory implementation. The SQLite-backed implementation lives
// in the sqlite subpackage.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/parleyhq/parley/internal/provider"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Message is a single persisted conversation turn. Summary messages carry
// role "system" with IsSummary set; the conversation anchor is the earliest
// non-summary system message for a user.
type Message struct {
	ID             int64
	UserID         string
	ConversationID string
	Role           provider.MessageRole
	Content        string
	Tokens         int
	IsSummary      bool
	CreatedAt      time.Time
}

// QuotaState is a user's daily message accounting row.
type QuotaState struct {
	UserID     string
	DailyCount int
	// LastDate is the calendar day (YYYY-MM-DD) DailyCount refers to.
	LastDate string
}

// MessageStore manages the durable ordered turn log.
// Implementations must be safe for concurrent use.
type MessageStore interface {
	// EnsureConversation returns the user's conversation anchor, creating
	// the initial system prompt message atomically if none exists yet.
	// Concurrent calls for the same user observe a single anchor.
	EnsureConversation(ctx context.Context, userID, prompt string, tokens int) (Message, error)

	// Append persists msg with a server-assigned ID and timestamp and
	// returns the stored message.
	Append(ctx context.Context, msg Message) (Message, error)

	// History returns every message of a conversation, most recent first.
	History(ctx context.Context, userID, conversationID string) ([]Message, error)

	// CountPairMessages counts non-summary user and assistant messages
	// in a conversation.
	CountPairMessages(ctx context.Context, userID, conversationID string) (int, error)

	// DeleteMessages removes messages by ID. Missing IDs are ignored.
	DeleteMessages(ctx context.Context, ids []int64) error
}

// QuotaStore manages per-user daily quota rows.
// Implementations must be safe for concurrent use.
type QuotaStore interface {
	// Quota returns the quota row for a user. ok is false when the user
	// has no row yet.
	Quota(ctx context.Context, userID string) (q QuotaState, ok bool, err error)

	// SetQuota inserts or replaces a user's quota row.
	SetQuota(ctx context.Context, q QuotaState) error

	// ResetAllQuotas zeroes every user's count and stamps the given date.
	ResetAllQuotas(ctx context.Context, date string) error
}

// Store combines message and quota storage over one backing database.
type Store interface {
	MessageStore
	QuotaStore
}

// NewConversationID returns a fresh random conversation identifier.
func NewConversationID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand does not fail on supported platforms
		panic("store: rand.Read: " + err.Error())
	}
	return "conv-" + hex.EncodeToString(buf)
}
