// Package postgres is the durable transcript store: one row per completed
// turn, with the classifier's score vector stored as a pgvector column so
// similar past turns can be retrieved by emotion-profile cosine distance.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/attunehq/attune/internal/history"
	"github.com/attunehq/attune/pkg/emotion"
	"github.com/attunehq/attune/pkg/types"
)

// schema creates the transcript table. The vector dimension equals the size
// of the emotion taxonomy; every stored vector is the classifier's full
// score distribution in canonical label order.
const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS turns (
    id              BIGSERIAL PRIMARY KEY,
    session_id      TEXT        NOT NULL,
    turn_id         TEXT        NOT NULL UNIQUE,
    user_text       TEXT        NOT NULL,
    assistant_text  TEXT        NOT NULL,
    emotion_label   TEXT        NOT NULL,
    confidence      DOUBLE PRECISION NOT NULL,
    response_source TEXT        NOT NULL,
    emotion_vec     vector(%d),
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS turns_session_idx ON turns (session_id, id);
`

// Store implements history.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ history.Store = (*Store)(nil)

// New connects to the database at dsn, registers pgvector types on every
// connection, and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("transcript store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(schema, len(emotion.Labels))); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping probes connectivity, for readiness checks.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// WriteTurn implements history.Store.
func (s *Store) WriteTurn(ctx context.Context, turn history.Turn) error {
	const q = `
		INSERT INTO turns
		    (session_id, turn_id, user_text, assistant_text, emotion_label, confidence, response_source, emotion_vec)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (turn_id) DO NOTHING`

	var vec any
	if turn.Emotion.AllScores != nil {
		vec = pgvector.NewVector(turn.Emotion.Vector())
	}
	_, err := s.pool.Exec(ctx, q,
		turn.SessionID,
		turn.TurnID,
		turn.UserText,
		turn.Assistant,
		string(turn.Emotion.Label),
		turn.Emotion.Confidence,
		string(turn.Source),
		vec,
	)
	if err != nil {
		return fmt.Errorf("transcript store: write turn: %w", err)
	}
	return nil
}

// Recent implements history.Store: the newest limit turns for the session,
// returned oldest first.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]types.Exchange, error) {
	const q = `
		SELECT user_text, assistant_text
		FROM   (SELECT id, user_text, assistant_text
		        FROM   turns
		        WHERE  session_id = $1
		        ORDER  BY id DESC
		        LIMIT  $2) newest
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("transcript store: recent: %w", err)
	}
	defer rows.Close()

	var out []types.Exchange
	for rows.Next() {
		var ex types.Exchange
		if err := rows.Scan(&ex.User, &ex.Assistant); err != nil {
			return nil, fmt.Errorf("transcript store: scan: %w", err)
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript store: rows: %w", err)
	}
	return out, nil
}

// SimilarTurn is one result of an emotion-profile similarity lookup.
type SimilarTurn struct {
	TurnID     string
	UserText   string
	Assistant  string
	Label      emotion.Label
	Similarity float64
}

// SimilarTurns returns up to limit past turns across all sessions whose
// emotion score vector is closest to the given score by cosine distance.
// Turns stored without a full score vector are not considered.
func (s *Store) SimilarTurns(ctx context.Context, score emotion.Score, limit int) ([]SimilarTurn, error) {
	const q = `
		SELECT turn_id, user_text, assistant_text, emotion_label,
		       1 - (emotion_vec <=> $1) AS similarity
		FROM   turns
		WHERE  emotion_vec IS NOT NULL
		ORDER  BY emotion_vec <=> $1
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(score.Vector()), limit)
	if err != nil {
		return nil, fmt.Errorf("transcript store: similar turns: %w", err)
	}
	defer rows.Close()

	var out []SimilarTurn
	for rows.Next() {
		var st SimilarTurn
		var label string
		if err := rows.Scan(&st.TurnID, &st.UserText, &st.Assistant, &label, &st.Similarity); err != nil {
			return nil, fmt.Errorf("transcript store: scan: %w", err)
		}
		st.Label = emotion.Label(label)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript store: rows: %w", err)
	}
	return out, nil
}
