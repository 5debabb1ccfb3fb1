// Package openaicompat implements provider.Provider against any API that
// speaks the OpenAI chat completions protocol (OpenAI itself, Mistral,
// Groq, DeepSeek, vLLM, LiteLLM, etc.) via a configurable base_url.
package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/parleyhq/parley/internal/provider"
)

// Provider is an OpenAI-compatible chat completion backend.
type Provider struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New creates a Provider with its own HTTP client. The client uses a
// response-header timeout instead of a global timeout: a global timeout
// kills long-running SSE streams, while per-request contexts handle
// cancellation.
func New(cfg Config, logger *slog.Logger) *Provider {
	cfg.Defaults()
	return NewWithClient(cfg, &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: cfg.Timeout,
		},
	}, logger)
}

// NewWithClient creates a Provider that reuses the given HTTP client.
// Callers that build one Provider per request share a client this way so
// connections get pooled across requests.
func NewWithClient(cfg Config, client *http.Client, logger *slog.Logger) *Provider {
	cfg.Defaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Provider{config: cfg, client: client, logger: logger}
}

// DefaultModel implements provider.Provider.
func (p *Provider) DefaultModel() string {
	return p.config.Model
}

// Complete implements provider.Provider.
func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	oaiReq := buildRequest(p.config.Model, p.config.MaxTokens, req, false)

	resp, err := p.doRequest(ctx, oaiReq)
	if err != nil {
		return provider.CompletionResponse{}, err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusOK {
		return provider.CompletionResponse{}, handleErrorResponse(resp)
	}

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return provider.CompletionResponse{}, fmt.Errorf("decode response: %w", err)
	}

	return parseResponse(oaiResp), nil
}

// Stream implements provider.Provider.
func (p *Provider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	oaiReq := buildRequest(p.config.Model, p.config.MaxTokens, req, true)

	resp, err := p.doRequest(ctx, oaiReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck // best-effort close
		return nil, handleErrorResponse(resp)
	}

	// Increase scanner buffer to 1 MiB to handle large SSE lines.
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	ch := p.parseSSEStream(ctx, scanner)

	// Wrap to ensure body gets closed when stream ends.
	// Select on ctx.Done() to avoid goroutine leak if consumer abandons the channel.
	out := make(chan provider.StreamChunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close() //nolint:errcheck // best-effort close
		for chunk := range ch {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// HealthCheck probes the /models endpoint to check backend availability.
func (p *Provider) HealthCheck(ctx context.Context) error {
	endpoint := p.config.BaseURL + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	for k, v := range p.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: health check: %w", provider.ErrProviderDown, err)
	}
	defer resp.Body.Close()               //nolint:errcheck // best-effort close
	_, _ = io.Copy(io.Discard, resp.Body) // drain body

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: health check returned HTTP %d", provider.ErrProviderDown, resp.StatusCode)
	}

	return nil
}

// errMissingField returns a validation error for a missing required field.
func errMissingField(field string) error {
	return fmt.Errorf("provider.openai: %s is required", field)
}

// modelFor resolves the effective model for a request.
func modelFor(configModel string, req provider.CompletionRequest) string {
	if m := strings.TrimSpace(req.Model); m != "" {
		return m
	}
	return configModel
}

// Compile-time interface assertion.
var _ provider.Provider = (*Provider)(nil)
