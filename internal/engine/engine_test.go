package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/provider"
	"github.com/parleyhq/parley/internal/store"
)

func TestEngine_Turn_SingleShot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMem()
	backend := &mockCompleter{
		completeResp: provider.CompletionResponse{Content: "  Hi there!  "},
	}
	quota := &mockQuota{}
	eng := engine.New(mem, quota, factoryFor(backend), engine.Config{}, nil)

	result, err := eng.Turn(ctx, engine.TurnRequest{
		User: engine.User{ID: "alice", Model: "gpt-4o"},
		Text: "Hello",
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}

	if result.Reply != "Hi there!" {
		t.Errorf("reply = %q, want trimmed %q", result.Reply, "Hi there!")
	}
	if result.ConversationID == "" {
		t.Error("conversation ID is empty")
	}
	if result.Compacted {
		t.Error("unexpected compaction on first turn")
	}

	history, err := mem.History(ctx, "alice", result.ConversationID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3 (anchor, user, assistant)", len(history))
	}
	if history[0].Role != provider.MessageRoleAssistant || history[0].Content != "Hi there!" {
		t.Errorf("newest message = %+v, want persisted assistant reply", history[0])
	}
	if history[1].Role != provider.MessageRoleUser || history[1].Content != "Hello" {
		t.Errorf("second message = %+v, want user turn", history[1])
	}
	if history[2].Role != provider.MessageRoleSystem {
		t.Errorf("oldest message role = %q, want system anchor", history[2].Role)
	}

	if got := quota.recordedCount(); got != 1 {
		t.Errorf("quota recorded %d successes, want 1", got)
	}

	if len(backend.completeSeen) != 1 {
		t.Fatalf("backend called %d times, want 1", len(backend.completeSeen))
	}
	if got := backend.completeSeen[0].Model; got != "gpt-4o" {
		t.Errorf("request model = %q, want user override", got)
	}
}

func TestEngine_Turn_ReusesConversation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMem()
	backend := &mockCompleter{completeResp: provider.CompletionResponse{Content: "ok"}}
	eng := engine.New(mem, &mockQuota{}, factoryFor(backend), engine.Config{}, nil)

	first, err := eng.Turn(ctx, engine.TurnRequest{User: engine.User{ID: "alice"}, Text: "one"})
	if err != nil {
		t.Fatalf("first Turn: %v", err)
	}
	second, err := eng.Turn(ctx, engine.TurnRequest{User: engine.User{ID: "alice"}, Text: "two"})
	if err != nil {
		t.Fatalf("second Turn: %v", err)
	}

	if first.ConversationID != second.ConversationID {
		t.Errorf("conversation IDs differ: %q vs %q", first.ConversationID, second.ConversationID)
	}
}

func TestEngine_Turn_EmptyMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace only", "   \n\t "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			backend := &mockCompleter{}
			eng := engine.New(store.NewMem(), &mockQuota{}, factoryFor(backend), engine.Config{}, nil)

			_, err := eng.Turn(context.Background(), engine.TurnRequest{
				User: engine.User{ID: "alice"},
				Text: tt.text,
			})
			if !errors.Is(err, engine.ErrEmptyMessage) {
				t.Errorf("Turn error = %v, want ErrEmptyMessage", err)
			}
			if backend.calls() != 0 {
				t.Error("backend called despite empty message")
			}
		})
	}
}

func TestEngine_Turn_QuotaRejected(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("over the line")
	backend := &mockCompleter{}
	quota := &mockQuota{checkErr: sentinel}
	mem := store.NewMem()
	eng := engine.New(mem, quota, factoryFor(backend), engine.Config{}, nil)

	_, err := eng.Turn(context.Background(), engine.TurnRequest{
		User: engine.User{ID: "alice"},
		Text: "Hello",
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Turn error = %v, want quota error", err)
	}

	// A rejected turn must leave no trace: no backend call, no history.
	if backend.calls() != 0 {
		t.Error("backend called despite quota rejection")
	}
	if count, _ := mem.CountPairMessages(context.Background(), "alice", "any"); count != 0 {
		t.Errorf("pair messages persisted: %d", count)
	}
}

func TestEngine_Turn_BackendResolutionError(t *testing.T) {
	t.Parallel()

	factory := func(engine.User) (engine.Completer, error) {
		return nil, engine.ErrNoAPIKey
	}
	eng := engine.New(store.NewMem(), &mockQuota{}, factory, engine.Config{}, nil)

	_, err := eng.Turn(context.Background(), engine.TurnRequest{
		User: engine.User{ID: "alice"},
		Text: "Hello",
	})
	if !errors.Is(err, engine.ErrNoAPIKey) {
		t.Errorf("Turn error = %v, want ErrNoAPIKey", err)
	}
}

func TestEngine_Turn_Streaming(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMem()
	backend := &mockCompleter{streamChunks: textChunks("Hel", "lo ", "world")}
	quota := &mockQuota{}
	eng := engine.New(mem, quota, factoryFor(backend), engine.Config{}, nil)

	var deltas []string
	result, err := eng.Turn(ctx, engine.TurnRequest{
		User: engine.User{ID: "alice"},
		Text: "Hi",
		OnDelta: func(delta string) error {
			deltas = append(deltas, delta)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}

	if result.Reply != "Hello world" {
		t.Errorf("reply = %q, want accumulated %q", result.Reply, "Hello world")
	}
	if len(deltas) != 3 {
		t.Errorf("received %d deltas, want 3", len(deltas))
	}

	history, err := mem.History(ctx, "alice", result.ConversationID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if history[0].Role != provider.MessageRoleAssistant || history[0].Content != "Hello world" {
		t.Errorf("newest message = %+v, want persisted accumulated reply", history[0])
	}
	if got := quota.recordedCount(); got != 1 {
		t.Errorf("quota recorded %d successes, want 1", got)
	}
}

func TestEngine_Turn_StreamErrorDiscardsPartialReply(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMem()
	streamErr := errors.New("connection reset")
	backend := &mockCompleter{
		streamChunks: []provider.StreamChunk{
			{Content: "partial"},
			{Err: streamErr},
		},
	}
	quota := &mockQuota{}
	eng := engine.New(mem, quota, factoryFor(backend), engine.Config{}, nil)

	_, err := eng.Turn(ctx, engine.TurnRequest{
		User:    engine.User{ID: "alice"},
		Text:    "Hi",
		OnDelta: func(string) error { return nil },
	})
	if !errors.Is(err, streamErr) {
		t.Fatalf("Turn error = %v, want stream error", err)
	}

	// The user message persists but the partial reply must not, and the
	// failed turn consumes no quota.
	anchor, err := mem.EnsureConversation(ctx, "alice", "x", 1)
	if err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}
	history, err := mem.History(ctx, "alice", anchor.ConversationID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	for _, msg := range history {
		if msg.Role == provider.MessageRoleAssistant {
			t.Errorf("partial reply persisted: %+v", msg)
		}
	}
	if got := quota.recordedCount(); got != 0 {
		t.Errorf("quota recorded %d successes, want 0", got)
	}
}

func TestEngine_Turn_DeltaDeliveryFailureAborts(t *testing.T) {
	t.Parallel()

	backend := &mockCompleter{streamChunks: textChunks("a", "b")}
	quota := &mockQuota{}
	eng := engine.New(store.NewMem(), quota, factoryFor(backend), engine.Config{}, nil)

	deliveryErr := errors.New("client gone")
	_, err := eng.Turn(context.Background(), engine.TurnRequest{
		User:    engine.User{ID: "alice"},
		Text:    "Hi",
		OnDelta: func(string) error { return deliveryErr },
	})
	if !errors.Is(err, deliveryErr) {
		t.Fatalf("Turn error = %v, want delivery error", err)
	}
	if got := quota.recordedCount(); got != 0 {
		t.Errorf("quota recorded %d successes, want 0", got)
	}
}

func TestEngine_Turn_EmptyReplyNotPersisted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMem()
	backend := &mockCompleter{completeResp: provider.CompletionResponse{Content: "   "}}
	quota := &mockQuota{}
	eng := engine.New(mem, quota, factoryFor(backend), engine.Config{}, nil)

	result, err := eng.Turn(ctx, engine.TurnRequest{
		User: engine.User{ID: "alice"},
		Text: "Hello",
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if result.Reply != "" {
		t.Errorf("reply = %q, want empty", result.Reply)
	}

	history, err := mem.History(ctx, "alice", result.ConversationID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	for _, msg := range history {
		if msg.Role == provider.MessageRoleAssistant {
			t.Errorf("blank reply persisted: %+v", msg)
		}
	}
	if got := quota.recordedCount(); got != 0 {
		t.Errorf("quota recorded %d successes, want 0", got)
	}
}

func TestEngine_Turn_CompactsLongConversation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMem()
	backend := &mockCompleter{completeResp: provider.CompletionResponse{Content: "reply"}}
	cfg := engine.Config{SummaryPairs: 2, RetainRecent: 2}
	eng := engine.New(mem, &mockQuota{}, factoryFor(backend), cfg, nil)

	anchor, err := mem.EnsureConversation(ctx, "alice", "prompt", 2)
	if err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}
	// Two pairs plus the incoming user message puts the count at 5,
	// past the threshold of 4.
	if err := seedPairs(ctx, mem, "alice", anchor.ConversationID, 2); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := eng.Turn(ctx, engine.TurnRequest{
		User: engine.User{ID: "alice"},
		Text: "one more",
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if !result.Compacted {
		t.Fatal("expected compaction")
	}

	history, err := mem.History(ctx, "alice", result.ConversationID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}

	var summaries int
	for _, msg := range history {
		if msg.IsSummary {
			summaries++
		}
	}
	if summaries != 1 {
		t.Errorf("summary messages = %d, want 1", summaries)
	}

	// The backend saw the summary request plus the turn completion.
	if got := backend.calls(); got != 2 {
		t.Errorf("backend called %d times, want 2 (summary + reply)", got)
	}
}

func TestEngine_Turn_UserPromptSeedsAnchor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMem()
	backend := &mockCompleter{completeResp: provider.CompletionResponse{Content: "ok"}}
	eng := engine.New(mem, &mockQuota{}, factoryFor(backend), engine.Config{}, nil)

	result, err := eng.Turn(ctx, engine.TurnRequest{
		User: engine.User{ID: "alice", Prompt: "Answer in French."},
		Text: "Bonjour",
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}

	history, err := mem.History(ctx, "alice", result.ConversationID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	anchor := history[len(history)-1]
	if anchor.Role != provider.MessageRoleSystem || anchor.Content != "Answer in French." {
		t.Errorf("anchor = %+v, want user prompt", anchor)
	}
}
