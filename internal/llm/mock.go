package llm

import (
	"context"
	"sync"
)

// MockAdapter returns scripted replies; the default reply tells the
// coordinator to leave the session alone.
type MockAdapter struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

// Script queues replies returned in order; the last one repeats.
func (a *MockAdapter) Script(replies ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, replies...)
}

func (a *MockAdapter) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *MockAdapter) Prompts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.prompts))
	copy(out, a.prompts)
	return out
}

func (a *MockAdapter) Complete(ctx context.Context, prompt string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompts = append(a.prompts, prompt)
	if a.err != nil {
		return "", a.err
	}
	if len(a.replies) == 0 {
		return `{"action":"ignore","reasoning":"mock adapter default"}`, nil
	}
	reply := a.replies[0]
	if len(a.replies) > 1 {
		a.replies = a.replies[1:]
	}
	return reply, nil
}
