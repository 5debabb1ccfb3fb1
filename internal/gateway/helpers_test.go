package gateway

import (
	"context"
	"log/slog"
	"testing"

	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/provider"
	"github.com/parleyhq/parley/internal/quota"
	"github.com/parleyhq/parley/internal/store"
)

// stubCompleter implements engine.Completer for handler tests.
type stubCompleter struct {
	reply  string
	err    error
	chunks []string
}

func (s *stubCompleter) Complete(_ context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
	if s.err != nil {
		return provider.CompletionResponse{}, s.err
	}
	return provider.CompletionResponse{Content: s.reply}, nil
}

func (s *stubCompleter) Stream(_ context.Context, _ provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan provider.StreamChunk, len(s.chunks))
	for _, c := range s.chunks {
		ch <- provider.StreamChunk{Content: c}
	}
	close(ch)
	return ch, nil
}

// newTestGateway wires a Gateway over an in-memory store with the given
// backend and quota limit.
func newTestGateway(t *testing.T, backend engine.Completer, dailyLimit int, accounts ...Account) *Gateway {
	t.Helper()

	mem := store.NewMem()
	guard := quota.NewGuard(mem, quota.Config{DailyLimit: dailyLimit}, nil)
	factory := func(engine.User) (engine.Completer, error) { return backend, nil }
	eng := engine.New(mem, guard, factory, engine.Config{}, nil)

	if len(accounts) == 0 {
		accounts = []Account{{Token: "tok-alice", User: engine.User{ID: "alice"}}}
	}

	cfg := Config{}
	cfg.Defaults()
	return New(cfg, eng, NewRegistry(accounts), slog.New(slog.DiscardHandler))
}
