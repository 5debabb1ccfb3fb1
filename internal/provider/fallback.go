package provider

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
)

// LastResortModel is the substitute used when the backend's default model
// is itself the one the provider rejected.
const LastResortModel = "gpt-3.5-turbo"

// FallbackOption configures optional Fallback behavior.
type FallbackOption func(*Fallback)

// WithLogger injects a structured logger into the Fallback.
// When nil or omitted, all log output is silently discarded (zero cost).
func WithLogger(l *slog.Logger) FallbackOption {
	return func(f *Fallback) { f.logger = l }
}

// WithOnFallback registers a hook invoked once per substitution.
func WithOnFallback(fn func(requested, substitute string)) FallbackOption {
	return func(f *Fallback) { f.onFallback = fn }
}

// Fallback wraps a Provider with a bounded model substitution policy:
// when the backend rejects the requested model as unknown, the request is
// retried exactly once against the backend's default model (or, if the
// default was the model that failed, LastResortModel). Any other error,
// and any error on the retry itself, surfaces unchanged. A visible system
// notice is appended to the retried conversation so the substitution is
// not silent.
type Fallback struct {
	backend    Provider
	lastResort string
	logger     *slog.Logger
	onFallback func(requested, substitute string)
}

// NewFallback wraps backend with the model fallback policy.
func NewFallback(backend Provider, opts ...FallbackOption) *Fallback {
	f := &Fallback{
		backend:    backend,
		lastResort: LastResortModel,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.New(nopHandler{})
	}
	return f
}

// DefaultModel implements Provider.
func (f *Fallback) DefaultModel() string {
	return f.backend.DefaultModel()
}

// Complete implements Provider with one bounded retry on ErrModelNotFound.
func (f *Fallback) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	resp, err := f.backend.Complete(ctx, req)
	if err == nil || !IsModelNotFound(err) {
		return resp, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return CompletionResponse{}, ctxErr
	}
	return f.backend.Complete(ctx, f.substitute(req, err))
}

// Stream implements Provider with one bounded retry on ErrModelNotFound.
// Model rejection surfaces before the first chunk, so the retry decision
// is always made on the synchronous error path.
func (f *Fallback) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	ch, err := f.backend.Stream(ctx, req)
	if err == nil || !IsModelNotFound(err) {
		return ch, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return f.backend.Stream(ctx, f.substitute(req, err))
}

// substitute returns a copy of req retargeted at the fallback model, with
// a visible system notice appended to the conversation.
func (f *Fallback) substitute(req CompletionRequest, cause error) CompletionRequest {
	requested := req.Model
	if requested == "" {
		requested = f.backend.DefaultModel()
	}

	sub := f.backend.DefaultModel()
	if sub == "" || sub == requested {
		sub = f.lastResort
	}

	f.logger.Warn("requested model unavailable, retrying with fallback",
		"requested", requested,
		"fallback", sub,
		"error", cause,
	)
	if f.onFallback != nil {
		f.onFallback(requested, sub)
	}

	retry := req
	retry.Model = sub
	retry.Messages = append(slices.Clone(req.Messages), ChatMessage{
		Role:    MessageRoleSystem,
		Content: fmt.Sprintf("(Notice: the requested model is unavailable, automatically switched to %s)", sub),
	})
	return retry
}

// Compile-time interface assertion.
var _ Provider = (*Fallback)(nil)
