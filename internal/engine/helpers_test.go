package engine_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/provider"
	"github.com/parleyhq/parley/internal/store"
)

// mockCompleter implements engine.Completer for tests.
type mockCompleter struct {
	mu sync.Mutex

	completeResp provider.CompletionResponse
	completeErr  error
	completeSeen []provider.CompletionRequest

	streamChunks []provider.StreamChunk
	streamErr    error
}

func (m *mockCompleter) Complete(_ context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeSeen = append(m.completeSeen, req)
	return m.completeResp, m.completeErr
}

func (m *mockCompleter) Stream(_ context.Context, _ provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	ch := make(chan provider.StreamChunk, len(m.streamChunks))
	for _, chunk := range m.streamChunks {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func (m *mockCompleter) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completeSeen)
}

// factoryFor wraps a Completer in a BackendFactory that always succeeds.
func factoryFor(c engine.Completer) engine.BackendFactory {
	return func(engine.User) (engine.Completer, error) { return c, nil }
}

// mockQuota implements engine.QuotaGuard and records its invocations.
type mockQuota struct {
	mu       sync.Mutex
	checkErr error
	checked  int
	recorded int
}

func (m *mockQuota) Check(_ context.Context, _ string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checked++
	return m.checkErr
}

func (m *mockQuota) RecordSuccess(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded++
	return nil
}

func (m *mockQuota) recordedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recorded
}

// textChunks converts strings to content stream chunks.
func textChunks(parts ...string) []provider.StreamChunk {
	chunks := make([]provider.StreamChunk, len(parts))
	for i, p := range parts {
		chunks[i] = provider.StreamChunk{Content: p}
	}
	return chunks
}

// seedPairs appends n user/assistant exchanges to the store.
func seedPairs(ctx context.Context, s store.MessageStore, userID, conversationID string, n int) error {
	for i := 0; i < n; i++ {
		for _, role := range []provider.MessageRole{provider.MessageRoleUser, provider.MessageRoleAssistant} {
			if _, err := s.Append(ctx, store.Message{
				UserID:         userID,
				ConversationID: conversationID,
				Role:           role,
				Content:        fmt.Sprintf("%s-%d", role, i),
				Tokens:         3,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
