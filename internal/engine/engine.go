// Package engine orchestrates conversation turns: durable history, token
// budgeting, compaction, quota enforcement, and completion dispatch over
// streaming or single-shot paths.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/parleyhq/parley/internal/provider"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/telemetry"
)

// Sentinel errors for turn processing.
var (
	// ErrEmptyMessage indicates the user submitted only whitespace.
	ErrEmptyMessage = errors.New("engine: empty message")

	// ErrNoAPIKey indicates no API key could be resolved for the user.
	ErrNoAPIKey = errors.New("engine: no API key configured")
)

// User identifies a caller and their backend overrides. Empty override
// fields fall back to server-wide configuration.
type User struct {
	ID        string
	APIKey    string
	BaseURL   string
	Model     string
	Prompt    string
	Unlimited bool
}

// Completer is the slice of provider.Provider the engine dispatches to.
type Completer interface {
	Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error)
	Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error)
}

// BackendFactory resolves the completion backend for a user, applying
// their API key, base URL, and model overrides. It returns ErrNoAPIKey
// when neither the user nor the server carries a key.
type BackendFactory func(User) (Completer, error)

// QuotaGuard enforces the daily message cap. Exempt users bypass the cap
// but are still counted.
type QuotaGuard interface {
	Check(ctx context.Context, userID string, exempt bool) error
	RecordSuccess(ctx context.Context, userID string) error
}

// TurnRequest is one user utterance to process.
type TurnRequest struct {
	User User
	Text string

	// OnDelta, when non-nil, selects the streaming path: it is invoked
	// for every content fragment in arrival order. A non-nil return
	// aborts the turn without persisting the partial reply.
	OnDelta func(delta string) error
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	Reply          string
	ConversationID string
	Compacted      bool
}

// Engine processes conversation turns.
type Engine struct {
	store     store.MessageStore
	quota     QuotaGuard
	backend   BackendFactory
	compactor *Compactor
	estimator TokenEstimator
	config    Config
	logger    *slog.Logger
	locks     *keyedMutex
	tracer    trace.Tracer
}

// New creates an Engine. quota may be nil when no cap applies (tests).
func New(s store.MessageStore, quota QuotaGuard, backend BackendFactory, cfg Config, logger *slog.Logger) *Engine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	estimator := NewCharEstimator(cfg.CharsPerToken)
	return &Engine{
		store:     s,
		quota:     quota,
		backend:   backend,
		compactor: NewCompactor(s, estimator, cfg, logger),
		estimator: estimator,
		config:    cfg,
		logger:    logger,
		locks:     newKeyedMutex(),
		tracer:    otel.Tracer("parley/engine"),
	}
}

// Turn runs the full pipeline for one utterance: quota check, history
// append, window build, compaction, completion, reply persistence. The
// streaming and single-shot paths differ only in how the completion is
// consumed; everything else is shared.
func (e *Engine) Turn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return TurnResult{}, ErrEmptyMessage
	}

	ctx, span := e.tracer.Start(ctx, "chat.turn",
		trace.WithAttributes(attribute.String("user.id", req.User.ID)),
	)
	defer span.End()

	exempt := req.User.APIKey != "" || req.User.Unlimited

	if e.quota != nil {
		if err := e.quota.Check(ctx, req.User.ID, exempt); err != nil {
			span.SetStatus(codes.Error, "quota rejected")
			return TurnResult{}, err
		}
	}

	backend, err := e.backend(req.User)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "backend resolution failed")
		return TurnResult{}, err
	}

	window, conversationID, compacted, err := e.prepareWindow(ctx, backend, req.User, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "window preparation failed")
		return TurnResult{}, err
	}
	span.SetAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.Int("window.messages", len(window)),
		attribute.Bool("compacted", compacted),
	)

	creq := provider.CompletionRequest{
		Model:    req.User.Model,
		Messages: window,
	}

	var reply string
	if req.OnDelta == nil {
		reply, err = e.complete(ctx, backend, creq)
	} else {
		reply, err = e.stream(ctx, backend, creq, req.OnDelta)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return TurnResult{}, err
	}

	if reply != "" {
		if _, err := e.store.Append(ctx, store.Message{
			UserID:         req.User.ID,
			ConversationID: conversationID,
			Role:           provider.MessageRoleAssistant,
			Content:        reply,
			Tokens:         e.estimator.Estimate(reply),
		}); err != nil {
			span.RecordError(err)
			return TurnResult{}, fmt.Errorf("persist reply: %w", err)
		}

		// Count only turns whose reply actually persisted.
		if e.quota != nil {
			if err := e.quota.RecordSuccess(ctx, req.User.ID); err != nil {
				e.logger.Warn("quota increment failed",
					"user", req.User.ID,
					"error", err,
				)
			}
		}
	}

	return TurnResult{
		Reply:          reply,
		ConversationID: conversationID,
		Compacted:      compacted,
	}, nil
}

// prepareWindow persists the user turn and builds the context window,
// compacting first when the conversation is past the pair threshold.
// The store mutation section is serialised per user so concurrent turns
// cannot interleave compaction deletes with appends.
func (e *Engine) prepareWindow(ctx context.Context, backend Completer, user User, text string) (window []provider.ChatMessage, conversationID string, compacted bool, err error) {
	unlock := e.locks.lock(user.ID)
	defer unlock()

	prompt := user.Prompt
	if prompt == "" {
		prompt = e.config.SystemPrompt
	}

	anchor, err := e.store.EnsureConversation(ctx, user.ID, prompt, e.estimator.Estimate(prompt))
	if err != nil {
		return nil, "", false, fmt.Errorf("ensure conversation: %w", err)
	}
	conversationID = anchor.ConversationID

	if _, err := e.store.Append(ctx, store.Message{
		UserID:         user.ID,
		ConversationID: conversationID,
		Role:           provider.MessageRoleUser,
		Content:        text,
		Tokens:         e.estimator.Estimate(text),
	}); err != nil {
		return nil, "", false, fmt.Errorf("persist user message: %w", err)
	}

	window, err = e.currentWindow(ctx, user.ID, conversationID)
	if err != nil {
		return nil, "", false, err
	}

	pairCount, err := e.store.CountPairMessages(ctx, user.ID, conversationID)
	if err != nil {
		return nil, "", false, fmt.Errorf("count pair messages: %w", err)
	}

	if e.compactor.ShouldCompact(pairCount) {
		ctx, span := e.tracer.Start(ctx, "chat.compaction")
		compacted, err = e.compactor.Compact(ctx, backend, user, conversationID, window)
		span.End()
		if err != nil {
			// Compaction is best-effort: the turn proceeds over the
			// unchanged history.
			e.logger.Warn("compaction failed",
				"user", user.ID,
				"conversation", conversationID,
				"error", err,
			)
			compacted = false
		}
		if compacted {
			telemetry.CompactionsTotal.Inc()
			window, err = e.currentWindow(ctx, user.ID, conversationID)
			if err != nil {
				return nil, "", false, err
			}
		}
	}

	return window, conversationID, compacted, nil
}

// currentWindow loads history and applies the token budget.
func (e *Engine) currentWindow(ctx context.Context, userID, conversationID string) ([]provider.ChatMessage, error) {
	history, err := e.store.History(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return BuildWindow(history, e.config.TokenBudget), nil
}

// complete runs the single-shot path.
func (e *Engine) complete(ctx context.Context, backend Completer, req provider.CompletionRequest) (string, error) {
	ctx, span := e.tracer.Start(ctx, "chat.completion")
	defer span.End()

	resp, err := backend.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// stream runs the streaming path, forwarding each fragment to onDelta and
// accumulating the full reply. A mid-stream error or onDelta failure
// aborts the turn; nothing is persisted in that case.
func (e *Engine) stream(ctx context.Context, backend Completer, req provider.CompletionRequest, onDelta func(string) error) (string, error) {
	ctx, span := e.tracer.Start(ctx, "chat.completion.stream")
	defer span.End()

	ch, err := backend.Stream(ctx, req)
	if err != nil {
		return "", err
	}

	var reply strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		if chunk.Content == "" {
			continue
		}
		reply.WriteString(chunk.Content)
		if err := onDelta(chunk.Content); err != nil {
			return "", fmt.Errorf("deliver delta: %w", err)
		}
	}

	return strings.TrimSpace(reply.String()), nil
}
