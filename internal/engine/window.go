package engine

import (
	"slices"

	"github.com/parleyhq/parley/internal/provider"
	"github.com/parleyhq/parley/internal/store"
)

// BuildWindow selects the suffix of a conversation that fits the token
// budget. history must be ordered most recent first (as returned by
// store.MessageStore.History); the result is in chronological order.
//
// Messages are taken newest to oldest, accumulating stored token counts,
// and selection stops before the message that pushes the running total
// over the budget. Older messages are never included once one is skipped,
// so the window is always a contiguous suffix. A single oversized message
// yields an empty window rather than a blown budget.
func BuildWindow(history []store.Message, budget int) []provider.ChatMessage {
	var (
		accumulated int
		selected    []provider.ChatMessage
	)

	for _, msg := range history {
		accumulated += msg.Tokens
		if accumulated > budget {
			break
		}
		selected = append(selected, provider.ChatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	// Restore chronological order.
	slices.Reverse(selected)
	return selected
}
