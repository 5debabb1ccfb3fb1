package provider_test

import (
	"context"
	"sync"

	"github.com/parleyhq/parley/internal/provider"
)

// scriptedProvider implements provider.Provider, returning queued errors
// before the final success. It records every request it sees.
type scriptedProvider struct {
	mu sync.Mutex

	defaultModel string
	errs         []error
	resp         provider.CompletionResponse
	chunks       []provider.StreamChunk

	seen []provider.CompletionRequest
}

func (s *scriptedProvider) nextErr() error {
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scriptedProvider) Complete(_ context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, req)
	if err := s.nextErr(); err != nil {
		return provider.CompletionResponse{}, err
	}
	return s.resp, nil
}

func (s *scriptedProvider) Stream(_ context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, req)
	if err := s.nextErr(); err != nil {
		return nil, err
	}
	ch := make(chan provider.StreamChunk, len(s.chunks))
	for _, chunk := range s.chunks {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func (s *scriptedProvider) DefaultModel() string { return s.defaultModel }
