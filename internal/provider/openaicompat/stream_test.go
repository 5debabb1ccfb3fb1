package openaicompat_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/parleyhq/parley/internal/provider"
)

// sseHandler writes the given SSE lines and closes the response.
func sseHandler(t *testing.T, lines ...string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("response writer does not support flushing")
		}
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n\n"))
			flusher.Flush()
		}
	}
}

func collect(t *testing.T, ch <-chan provider.StreamChunk) (content string, chunks []provider.StreamChunk) {
	t.Helper()
	for chunk := range ch {
		chunks = append(chunks, chunk)
		content += chunk.Content
	}
	return content, chunks
}

func TestProvider_Stream(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, sseHandler(t,
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		`data: [DONE]`,
	))

	ch, err := p.Stream(context.Background(), provider.CompletionRequest{
		Messages: []provider.ChatMessage{{Role: provider.MessageRoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	content, chunks := collect(t, ch)
	if content != "Hello" {
		t.Errorf("streamed content = %q, want %q", content, "Hello")
	}

	last := chunks[len(chunks)-1]
	if last.FinishReason != provider.FinishReasonStop {
		t.Errorf("finish reason = %q, want %q", last.FinishReason, provider.FinishReasonStop)
	}
	if last.Usage == nil || last.Usage.TotalTokens != 7 {
		t.Errorf("usage = %+v, want total 7", last.Usage)
	}

	for _, chunk := range chunks {
		if chunk.Err != nil {
			t.Errorf("unexpected chunk error: %v", chunk.Err)
		}
	}
}

func TestProvider_Stream_DataPrefixWithoutSpace(t *testing.T) {
	t.Parallel()

	// Some backends omit the space after "data:".
	p := newTestProvider(t, sseHandler(t,
		`data:{"choices":[{"delta":{"content":"terse"}}]}`,
		`data:[DONE]`,
	))

	ch, err := p.Stream(context.Background(), provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	content, _ := collect(t, ch)
	if content != "terse" {
		t.Errorf("streamed content = %q, want %q", content, "terse")
	}
}

func TestProvider_Stream_IgnoresNonDataLines(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, sseHandler(t,
		`: keep-alive comment`,
		`event: message`,
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		`data: [DONE]`,
	))

	ch, err := p.Stream(context.Background(), provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	content, chunks := collect(t, ch)
	if content != "ok" {
		t.Errorf("streamed content = %q, want %q", content, "ok")
	}
	if len(chunks) != 1 {
		t.Errorf("chunk count = %d, want 1", len(chunks))
	}
}

func TestProvider_Stream_MalformedChunkSurfacesError(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, sseHandler(t,
		`data: {"choices":[{"delta":{"content":"good"}}]}`,
		`data: {not json`,
	))

	ch, err := p.Stream(context.Background(), provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	_, chunks := collect(t, ch)
	last := chunks[len(chunks)-1]
	if last.Err == nil {
		t.Fatal("expected error chunk for malformed data")
	}
}

func TestProvider_Stream_ErrorStatusBeforeStream(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"The model does not exist"}}`))
	})

	_, err := p.Stream(context.Background(), provider.CompletionRequest{Model: "gpt-9"})
	if !provider.IsModelNotFound(err) {
		t.Errorf("Stream error = %v, want model not found", err)
	}
}

func TestProvider_Stream_RequestsUsageStats(t *testing.T) {
	t.Parallel()

	var gotStreamOptions json.RawMessage
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream        bool            `json:"stream"`
			StreamOptions json.RawMessage `json:"stream_options"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("stream flag not set")
		}
		gotStreamOptions = req.StreamOptions
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	})

	ch, err := p.Stream(context.Background(), provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	collect(t, ch)

	var opts struct {
		IncludeUsage bool `json:"include_usage"`
	}
	if err := json.Unmarshal(gotStreamOptions, &opts); err != nil || !opts.IncludeUsage {
		t.Errorf("stream_options = %s, want include_usage true", gotStreamOptions)
	}
}

func TestProvider_Stream_ContextCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"first"}}]}` + "\n\n"))
		flusher.Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := p.Stream(ctx, provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	first := <-ch
	if first.Content != "first" {
		t.Fatalf("first chunk = %+v, want content", first)
	}

	cancel()

	// The channel drains to a cancellation error (or closes), never a
	// provider-down misclassification.
	for chunk := range ch {
		if chunk.Err != nil && !errors.Is(chunk.Err, context.Canceled) {
			t.Errorf("chunk error = %v, want context.Canceled", chunk.Err)
		}
	}
}
