package completion

import (
	"context"
	"sync"
)

// StaticProvider answers every prompt with a fixed reply or error and records
// the prompts it received. It backs offline runs and tests.
type StaticProvider struct {
	Reply string
	Err   error

	mu      sync.Mutex
	prompts []string
}

// Generate implements Provider.
func (s *StaticProvider) Generate(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	if s.Reply == "" {
		return "", ErrEmptyResponse
	}
	return s.Reply, nil
}

// Prompts returns the prompts received so far.
func (s *StaticProvider) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.prompts))
	copy(out, s.prompts)
	return out
}
