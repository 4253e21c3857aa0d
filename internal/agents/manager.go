// Package agents defines the boundary to the external session manager: the
// process that owns the pty-backed agent subprocesses. The coordinator only
// ever talks to it through this interface.
package agents

import "context"

// SessionEvent is one event delivered by the session manager.
type SessionEvent struct {
	SessionID string         `json:"sessionId"`
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EventHandler receives session events in arrival order.
type EventHandler func(evt SessionEvent)

// Manager is the control interface over running agent sessions.
type Manager interface {
	// SendText writes literal text to the session's terminal.
	SendText(ctx context.Context, sessionID, text string) error
	// SendKeys writes a named key sequence (e.g. "Enter", "C-c").
	SendKeys(ctx context.Context, sessionID string, keys []string) error
	// Output returns up to lines of recent terminal output.
	Output(ctx context.Context, sessionID string, lines int) (string, error)
	// Stop terminates the session process.
	Stop(ctx context.Context, sessionID string) error
}
