package agents

import (
	"context"
	"sync"
)

// SentText records one SendText call.
type SentText struct {
	SessionID string
	Text      string
}

// SentKeys records one SendKeys call.
type SentKeys struct {
	SessionID string
	Keys      []string
}

// Mock records every call for assertions and serves canned output.
type Mock struct {
	mu      sync.Mutex
	texts   []SentText
	keys    []SentKeys
	stopped []string
	outputs map[string]string
	err     error
}

func NewMock() *Mock {
	return &Mock{outputs: make(map[string]string)}
}

func (m *Mock) SetOutput(sessionID, output string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[sessionID] = output
}

func (m *Mock) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Mock) SendText(_ context.Context, sessionID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.texts = append(m.texts, SentText{SessionID: sessionID, Text: text})
	return nil
}

func (m *Mock) SendKeys(_ context.Context, sessionID string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	out := make([]string, len(keys))
	copy(out, keys)
	m.keys = append(m.keys, SentKeys{SessionID: sessionID, Keys: out})
	return nil
}

func (m *Mock) Output(_ context.Context, sessionID string, _ int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	return m.outputs[sessionID], nil
}

func (m *Mock) Stop(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.stopped = append(m.stopped, sessionID)
	return nil
}

func (m *Mock) Texts() []SentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentText, len(m.texts))
	copy(out, m.texts)
	return out
}

func (m *Mock) Keys() []SentKeys {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentKeys, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *Mock) Stopped() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.stopped))
	copy(out, m.stopped)
	return out
}
