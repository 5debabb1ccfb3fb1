package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/internal/provider"
	"github.com/parleyhq/parley/internal/store"
)

// ErrCompactionFailed indicates that compaction could not produce a summary.
var ErrCompactionFailed = errors.New("engine: compaction failed")

// Compactor folds old conversation turns into a summary message once a
// conversation grows past the pair threshold. The summary is stored as a
// system message flagged is_summary; the most recent turns are kept
// verbatim so the summary never feels abrupt.
type Compactor struct {
	store     store.MessageStore
	estimator TokenEstimator
	config    Config
	logger    *slog.Logger
}

// NewCompactor creates a Compactor over the given message store.
func NewCompactor(s store.MessageStore, estimator TokenEstimator, cfg Config, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Compactor{
		store:     s,
		estimator: estimator,
		config:    cfg.withDefaults(),
		logger:    logger,
	}
}

// ShouldCompact reports whether pairCount non-summary user/assistant
// messages exceed the configured threshold.
func (c *Compactor) ShouldCompact(pairCount int) bool {
	return pairCount > c.config.SummaryPairs*2
}

// Compact asks the backend to summarize the current window, then replaces
// the old non-summary turns with the summary, keeping the RetainRecent
// most recent ones. Returns whether the history changed.
//
// Summarization failure aborts compaction without error: the turn in
// flight proceeds over the unchanged history and a later turn retries.
func (c *Compactor) Compact(ctx context.Context, backend Completer, user User, conversationID string, window []provider.ChatMessage) (bool, error) {
	summary, err := c.summarize(ctx, backend, user.Model, window)
	if err != nil || summary == "" {
		c.logger.Warn("compaction summary failed, keeping history",
			"user", user.ID,
			"conversation", conversationID,
			"error", err,
		)
		return false, nil
	}

	history, err := c.store.History(ctx, user.ID, conversationID)
	if err != nil {
		return false, err
	}

	// history is most recent first: skip the retained tail, delete the rest.
	var (
		ids  []int64
		seen int
	)
	for _, msg := range history {
		if msg.IsSummary || (msg.Role != provider.MessageRoleUser && msg.Role != provider.MessageRoleAssistant) {
			continue
		}
		seen++
		if seen <= c.config.RetainRecent {
			continue
		}
		ids = append(ids, msg.ID)
	}

	if err := c.store.DeleteMessages(ctx, ids); err != nil {
		return false, err
	}

	formatted := formatSummary(summary)
	if _, err := c.store.Append(ctx, store.Message{
		UserID:         user.ID,
		ConversationID: conversationID,
		Role:           provider.MessageRoleSystem,
		Content:        formatted,
		Tokens:         c.estimator.Estimate(formatted),
		IsSummary:      true,
	}); err != nil {
		return false, err
	}

	c.logger.Info("conversation compacted",
		"user", user.ID,
		"conversation", conversationID,
		"deleted", len(ids),
		"retained", c.config.RetainRecent,
	)
	return true, nil
}

// summarize sends the window plus the summary instruction to the backend
// as a throwaway single-shot completion. The user's model override applies
// to the summary just like the main turn.
func (c *Compactor) summarize(ctx context.Context, backend Completer, model string, window []provider.ChatMessage) (string, error) {
	req := provider.CompletionRequest{
		Model: model,
		Messages: append(append([]provider.ChatMessage{}, window...), provider.ChatMessage{
			Role:    provider.MessageRoleUser,
			Content: c.config.SummaryCommand,
		}),
	}

	resp, err := backend.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// formatSummary wraps the raw summary text in a labelled block.
func formatSummary(summary string) string {
	var b strings.Builder
	b.WriteString("[Conversation Summary]\n")
	b.WriteString(summary)
	return b.String()
}
