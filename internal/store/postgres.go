package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initDecisionSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initDecisionSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS coordination_decisions (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			event TEXT NOT NULL,
			prompt TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			response TEXT NOT NULL DEFAULT '',
			keys TEXT[] NOT NULL DEFAULT '{}',
			reasoning TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_coordination_decisions_session_created
			ON coordination_decisions (session_id, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init decision schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveDecision(ctx context.Context, rec DecisionRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO coordination_decisions (
			session_id, event, prompt, kind, response, keys, reasoning, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.SessionID,
		rec.Event,
		rec.Prompt,
		rec.Kind,
		rec.Response,
		rec.Keys,
		rec.Reasoning,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDecisions(ctx context.Context, sessionID string, limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, event, prompt, kind, response, keys, reasoning, created_at
		FROM coordination_decisions
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		strings.TrimSpace(sessionID), limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		if err := rows.Scan(
			&rec.SessionID,
			&rec.Event,
			&rec.Prompt,
			&rec.Kind,
			&rec.Response,
			&rec.Keys,
			&rec.Reasoning,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
