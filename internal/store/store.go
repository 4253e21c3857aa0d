package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("no decisions recorded for session")

// DecisionRecord is one persisted coordination decision.
type DecisionRecord struct {
	SessionID string    `json:"session_id"`
	Event     string    `json:"event"`
	Prompt    string    `json:"prompt"`
	Kind      string    `json:"kind"`
	Response  string    `json:"response,omitempty"`
	Keys      []string  `json:"keys,omitempty"`
	Reasoning string    `json:"reasoning,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is an append-only audit log of decisions. The coordinator works
// fine without one; persistence is best effort.
type Store interface {
	SaveDecision(ctx context.Context, rec DecisionRecord) error
	ListDecisions(ctx context.Context, sessionID string, limit int) ([]DecisionRecord, error)
	Close() error
}

func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
